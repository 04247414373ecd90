package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"tileforge.dev/internal/persistence/planlog"
	"tileforge.dev/internal/tiles/rules"
)

// SQLiteIndex is a secondary, queryable index of rules catalogs, bakes and
// served resolutions. Plan files and resolve logs remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropResolve atomic.Uint64
}

type reqKind int

const (
	reqResolve reqKind = iota + 1
)

type req struct {
	kind    reqKind
	resolve planlog.ResolveEntry
}

// BakeRow summarises one bake run.
type BakeRow struct {
	ID          int64
	Grid        string
	GridDigest  string
	RulesDigest string
	Width       int
	Height      int
	Cells       int
	Errors      int
	PlanPath    string
	CreatedAt   string
}

type QueueStats struct {
	QueueDepth       int
	QueueCapacity    int
	DropResolveTotal uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			modes INTEGER NOT NULL,
			block_types INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS bakes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			grid TEXT NOT NULL,
			grid_digest TEXT NOT NULL,
			rules_digest TEXT NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			cells INTEGER NOT NULL,
			errors INTEGER NOT NULL,
			plan_path TEXT,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bakes_grid ON bakes(grid, id);`,
		`CREATE TABLE IF NOT EXISTS placements (
			bake_id INTEGER NOT NULL REFERENCES bakes(id) ON DELETE CASCADE,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			block TEXT NOT NULL,
			mode TEXT,
			variant TEXT,
			state INTEGER NOT NULL,
			rect_x INTEGER,
			rect_y INTEGER,
			rect_w INTEGER,
			rect_h INTEGER,
			code TEXT,
			PRIMARY KEY (bake_id, y, x)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_placements_block ON placements(block, bake_id);`,
		`CREATE TABLE IF NOT EXISTS resolves (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			session TEXT NOT NULL,
			request TEXT,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			block TEXT,
			variant TEXT,
			code TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_resolves_session ON resolves(session, seq);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() QueueStats {
	if s == nil {
		return QueueStats{}
	}
	return QueueStats{
		QueueDepth:       len(s.ch),
		QueueCapacity:    cap(s.ch),
		DropResolveTotal: s.dropResolve.Load(),
	}
}

// RecordResolve queues a served resolution. It never blocks: when the writer
// falls behind the entry is dropped and counted.
func (s *SQLiteIndex) RecordResolve(e planlog.ResolveEntry) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqResolve, resolve: e}:
	default:
		s.dropResolve.Add(1)
	}
}

// UpsertRules stores the canonical rules document under name.
func (s *SQLiteIndex) UpsertRules(ctx context.Context, name string, m *rules.Model, raw []byte) error {
	if s == nil {
		return nil
	}
	if name == "" || len(raw) == 0 {
		return fmt.Errorf("upsert rules: empty name or document")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO catalogs(name,digest,json,modes,block_types,updated_at) VALUES(?,?,?,?,?,?)`,
		name, m.Digest(), string(raw), len(m.Modes()), len(m.BlockTypes()), now,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// CatalogDigest returns the stored digest for a rules catalog.
func (s *SQLiteIndex) CatalogDigest(ctx context.Context, name string) (string, bool, error) {
	var d string
	err := s.db.QueryRowContext(ctx, `SELECT digest FROM catalogs WHERE name=?`, name).Scan(&d)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return d, true, nil
}

// RecordBake stores a bake and its placements in one transaction.
func (s *SQLiteIndex) RecordBake(ctx context.Context, b BakeRow, placements []planlog.Placement) (int64, error) {
	if s == nil {
		return 0, nil
	}
	if b.CreatedAt == "" {
		b.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO bakes(grid,grid_digest,rules_digest,width,height,cells,errors,plan_path,created_at) VALUES(?,?,?,?,?,?,?,?,?)`,
		b.Grid, b.GridDigest, b.RulesDigest, b.Width, b.Height, b.Cells, b.Errors, b.PlanPath, b.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO placements(bake_id,x,y,block,mode,variant,state,rect_x,rect_y,rect_w,rect_h,code) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for _, p := range placements {
		var rx, ry, rw, rh sql.NullInt64
		if p.Rect != nil {
			rx = sql.NullInt64{Int64: int64(p.Rect.X), Valid: true}
			ry = sql.NullInt64{Int64: int64(p.Rect.Y), Valid: true}
			rw = sql.NullInt64{Int64: int64(p.Rect.Width), Valid: true}
			rh = sql.NullInt64{Int64: int64(p.Rect.Height), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, id, p.X, p.Y, p.Block, p.Mode, p.Variant, p.State, rx, ry, rw, rh, p.Code); err != nil {
			return 0, fmt.Errorf("placement (%d,%d): %w", p.X, p.Y, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// LatestBake returns the most recent bake recorded for grid.
func (s *SQLiteIndex) LatestBake(ctx context.Context, grid string) (BakeRow, bool, error) {
	var b BakeRow
	var plan sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id,grid,grid_digest,rules_digest,width,height,cells,errors,plan_path,created_at FROM bakes WHERE grid=? ORDER BY id DESC LIMIT 1`,
		grid,
	).Scan(&b.ID, &b.Grid, &b.GridDigest, &b.RulesDigest, &b.Width, &b.Height, &b.Cells, &b.Errors, &plan, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return BakeRow{}, false, nil
	}
	if err != nil {
		return BakeRow{}, false, err
	}
	b.PlanPath = plan.String
	return b, true, nil
}

// Placements returns a bake's placements in row-major order.
func (s *SQLiteIndex) Placements(ctx context.Context, bakeID int64) ([]planlog.Placement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT x,y,block,mode,variant,state,rect_x,rect_y,rect_w,rect_h,code FROM placements WHERE bake_id=? ORDER BY y,x`,
		bakeID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []planlog.Placement
	for rows.Next() {
		var p planlog.Placement
		var mode, variant, code sql.NullString
		var rx, ry, rw, rh sql.NullInt64
		if err := rows.Scan(&p.X, &p.Y, &p.Block, &mode, &variant, &p.State, &rx, &ry, &rw, &rh, &code); err != nil {
			return nil, err
		}
		p.Mode, p.Variant, p.Code = mode.String, variant.String, code.String
		if rx.Valid {
			p.Rect = &rules.Rect{X: int(rx.Int64), Y: int(ry.Int64), Width: int(rw.Int64), Height: int(rh.Int64)}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountResolves returns how many resolutions were indexed for a session.
func (s *SQLiteIndex) CountResolves(ctx context.Context, session string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM resolves WHERE session=?`, session).Scan(&n)
	return n, err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertResolve, _ := s.db.Prepare(`INSERT INTO resolves(at,session,request,x,y,block,variant,code) VALUES(?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertResolve != nil {
			_ = insertResolve.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		// Commit once the queue drains; synchronous callers share the one connection.
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqResolve:
			e := r.resolve
			if insertResolve == nil {
				break
			}
			at := e.Time
			if at == "" {
				at = time.Now().UTC().Format(time.RFC3339Nano)
			}
			if _, err := tx.Stmt(insertResolve).Exec(at, e.Session, e.Request, e.X, e.Y, e.Block, e.Variant, e.Code); err != nil {
				rollback()
				continue
			}
			opCount++
		}
		flushIfNeeded()
	}

	commit()
}
