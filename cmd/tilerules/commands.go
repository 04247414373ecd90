package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"tileforge.dev/internal/bake"
	"tileforge.dev/internal/persistence/indexdb"
	"tileforge.dev/internal/persistence/planlog"
	"tileforge.dev/internal/persistence/snapshot"
	"tileforge.dev/internal/protocol"
	"tileforge.dev/internal/tiles/grid"
	"tileforge.dev/internal/tiles/resolve"
	"tileforge.dev/internal/tiles/rules"
)

const gridSuffix = ".grid.zst"

type checkReport struct {
	Path       string         `json:"path"`
	Digest     string         `json:"digest"`
	Modes      map[string]int `json:"modes"`
	BlockTypes int            `json:"block_types"`
	Solid      int            `json:"solid_blocks"`
}

// runCheck validates a rules document and optionally records it in the index.
func runCheck(ctx context.Context, out io.Writer, rulesPath, dbPath string) error {
	m, err := rules.Load(rulesPath)
	if err != nil {
		return err
	}
	rep := checkReport{
		Path:       rulesPath,
		Digest:     m.Digest(),
		Modes:      map[string]int{},
		BlockTypes: len(m.BlockTypes()),
		Solid:      len(m.SolidBlocks()),
	}
	for _, name := range m.Modes() {
		mode, _ := m.Mode(name)
		rep.Modes[mode.Kind.String()]++
	}

	if dbPath != "" {
		raw, err := os.ReadFile(rulesPath)
		if err != nil {
			return err
		}
		idx, err := indexdb.OpenSQLite(dbPath)
		if err != nil {
			return err
		}
		defer idx.Close()
		name := strings.TrimSuffix(filepath.Base(rulesPath), filepath.Ext(rulesPath))
		if err := idx.UpsertRules(ctx, name, m, raw); err != nil {
			return fmt.Errorf("index: %w", err)
		}
	}
	return writeJSON(out, rep)
}

// loadGrid reads a grid snapshot (*.grid.zst) or a YAML layout.
func loadGrid(path string) (*grid.Chunked, string, error) {
	if strings.HasSuffix(path, gridSuffix) {
		snap, err := snapshot.ReadSnapshot(path)
		if err != nil {
			return nil, "", err
		}
		g, err := grid.ImportSnapshot(snap)
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		return g, snap.Header.Name, nil
	}
	l, err := grid.LoadLayout(path)
	if err != nil {
		return nil, "", err
	}
	g, err := l.Build()
	if err != nil {
		return nil, "", err
	}
	name := l.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return g, name, nil
}

type resolveReport struct {
	X       int         `json:"x"`
	Y       int         `json:"y"`
	Block   string      `json:"block,omitempty"`
	Mode    string      `json:"mode,omitempty"`
	Kind    string      `json:"kind,omitempty"`
	Variant string      `json:"variant,omitempty"`
	Mask    string      `json:"mask,omitempty"`
	Rect    *rules.Rect `json:"rect,omitempty"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// runResolve resolves one cell. state < 0 uses the state stored in the grid.
func runResolve(out io.Writer, rulesPath, gridPath string, x, y, state int) error {
	m, err := rules.Load(rulesPath)
	if err != nil {
		return err
	}
	g, _, err := loadGrid(gridPath)
	if err != nil {
		return err
	}
	p := grid.Pos{X: x, Y: y}
	if state < 0 {
		state = g.StateAt(p)
	}
	rep := resolveReport{X: x, Y: y}
	res, err := resolve.Describe(m, g, p, state)
	if err != nil {
		rep.Code = protocol.CodeFor(err)
		rep.Error = err.Error()
		if werr := writeJSON(out, rep); werr != nil {
			return werr
		}
		return err
	}
	r := res.Rect
	rep.Block = res.Block
	rep.Mode = res.Mode
	rep.Kind = res.Kind.String()
	rep.Variant = res.Variant
	rep.Mask = fmt.Sprintf("%08b", res.Mask)
	rep.Rect = &r
	return writeJSON(out, rep)
}

// runImport converts a YAML layout to a grid snapshot.
func runImport(out io.Writer, layoutPath, outPath string) error {
	g, name, err := loadGrid(layoutPath)
	if err != nil {
		return err
	}
	if outPath == "" {
		outPath = strings.TrimSuffix(layoutPath, filepath.Ext(layoutPath)) + gridSuffix
	}
	snap := g.ExportSnapshot(name)
	if err := snapshot.WriteSnapshot(outPath, snap); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s name=%s size=%dx%d cells=%d digest=%s\n", outPath, name, g.Width(), g.Height(), g.Count(), snap.Header.Digest)
	return nil
}

type bakeArgs struct {
	Rules   string
	Grid    string
	Out     string
	DB      string
	Workers int
}

// runBake resolves a whole grid to a plan file and optionally indexes it.
func runBake(ctx context.Context, out io.Writer, a bakeArgs, logger *log.Logger) error {
	m, err := rules.Load(a.Rules)
	if err != nil {
		return err
	}
	g, name, err := loadGrid(a.Grid)
	if err != nil {
		return err
	}
	plan, err := bake.Bake(ctx, m, g, name, bake.Options{Workers: a.Workers, Logger: logger})
	if err != nil {
		return err
	}

	outPath := a.Out
	if outPath == "" {
		base := strings.TrimSuffix(a.Grid, gridSuffix)
		base = strings.TrimSuffix(base, filepath.Ext(base))
		outPath = base + ".plan.jsonl.zst"
	}
	if err := planlog.WritePlan(outPath, plan.Header, plan.Placements); err != nil {
		return err
	}

	if a.DB != "" {
		idx, err := indexdb.OpenSQLite(a.DB)
		if err != nil {
			return err
		}
		defer idx.Close()
		id, err := idx.RecordBake(ctx, indexdb.BakeRow{
			Grid:        name,
			GridDigest:  plan.Header.GridDigest,
			RulesDigest: plan.Header.RulesDigest,
			Width:       plan.Header.Width,
			Height:      plan.Header.Height,
			Cells:       plan.Stats.Cells,
			Errors:      plan.Stats.Errors,
			PlanPath:    outPath,
			CreatedAt:   plan.Header.CreatedAt,
		}, plan.Placements)
		if err != nil {
			return fmt.Errorf("index: %w", err)
		}
		logger.Printf("indexed bake id=%d", id)
	}
	fmt.Fprintf(out, "wrote %s cells=%d errors=%d\n", outPath, plan.Stats.Cells, plan.Stats.Errors)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
