package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"

	"tileforge.dev/internal/persistence/indexdb"
	"tileforge.dev/internal/persistence/planlog"
	"tileforge.dev/internal/tiles/resolve"
)

const (
	sampleRules  = "../../configs/tile_rules.json"
	sampleLayout = "../../configs/layouts/garden.yaml"
)

func TestRunCheck(t *testing.T) {
	ctx := context.Background()
	db := filepath.Join(t.TempDir(), "tiles.sqlite")
	var out bytes.Buffer
	if err := runCheck(ctx, &out, sampleRules, db); err != nil {
		t.Fatalf("runCheck: %v", err)
	}
	var rep checkReport
	if err := json.Unmarshal(out.Bytes(), &rep); err != nil {
		t.Fatalf("decode: %v\n%s", err, out.String())
	}
	if rep.Modes["autotile_47"] != 2 || rep.Modes["contextual_all_directions"] != 2 || rep.BlockTypes == 0 {
		t.Fatalf("report=%+v", rep)
	}

	idx, err := indexdb.OpenSQLite(db)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	if d, ok, err := idx.CatalogDigest(ctx, "tile_rules"); err != nil || !ok || d != rep.Digest {
		t.Fatalf("catalog digest=%q,%v,%v want %q", d, ok, err, rep.Digest)
	}

	if err := runCheck(ctx, io.Discard, filepath.Join(t.TempDir(), "missing.json"), ""); err == nil {
		t.Fatalf("expected error for missing rules")
	}
}

func TestRunResolve(t *testing.T) {
	var out bytes.Buffer
	// Vine under dirt with vine below.
	if err := runResolve(&out, sampleRules, sampleLayout, 1, 1, -1); err != nil {
		t.Fatalf("runResolve: %v", err)
	}
	var rep resolveReport
	if err := json.Unmarshal(out.Bytes(), &rep); err != nil {
		t.Fatal(err)
	}
	if rep.Variant != "middle" || rep.Block != "vine" {
		t.Fatalf("report=%+v", rep)
	}

	out.Reset()
	if err := runResolve(&out, sampleRules, sampleLayout, 12, 5, -1); err != nil {
		t.Fatalf("door: %v", err)
	}
	rep = resolveReport{}
	_ = json.Unmarshal(out.Bytes(), &rep)
	if rep.Variant != "3" || rep.Rect == nil || rep.Rect.X != 48 {
		t.Fatalf("door=%+v", rep)
	}

	out.Reset()
	err := runResolve(&out, sampleRules, sampleLayout, 0, 3, -1)
	if !errors.Is(err, resolve.ErrEmptyCell) {
		t.Fatalf("err=%v want ErrEmptyCell", err)
	}
	if !strings.Contains(out.String(), "E_EMPTY_CELL") {
		t.Fatalf("output missing code: %s", out.String())
	}
}

func TestImportThenBake(t *testing.T) {
	dir := t.TempDir()
	gridPath := filepath.Join(dir, "garden.grid.zst")
	if err := runImport(io.Discard, sampleLayout, gridPath); err != nil {
		t.Fatalf("runImport: %v", err)
	}

	var out bytes.Buffer
	db := filepath.Join(dir, "tiles.sqlite")
	err := runBake(context.Background(), &out, bakeArgs{
		Rules:   sampleRules,
		Grid:    gridPath,
		DB:      db,
		Workers: 4,
	}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("runBake: %v", err)
	}
	planPath := filepath.Join(dir, "garden.plan.jsonl.zst")
	if !strings.Contains(out.String(), planPath) {
		t.Fatalf("output=%q", out.String())
	}

	h, placements, err := planlog.ReadPlan(planPath)
	if err != nil {
		t.Fatalf("ReadPlan: %v", err)
	}
	if h.Grid != "garden" || len(placements) == 0 {
		t.Fatalf("header=%+v placements=%d", h, len(placements))
	}
	for _, p := range placements {
		if p.Code != "" {
			t.Fatalf("unexpected failure in sample layout: %+v", p)
		}
	}

	// Baking the layout directly gives the same plan.
	direct := filepath.Join(dir, "direct.plan.jsonl.zst")
	if err := runBake(context.Background(), io.Discard, bakeArgs{Rules: sampleRules, Grid: sampleLayout, Out: direct}, log.New(io.Discard, "", 0)); err != nil {
		t.Fatalf("runBake layout: %v", err)
	}
	h2, again, err := planlog.ReadPlan(direct)
	if err != nil {
		t.Fatal(err)
	}
	if h2.GridDigest != h.GridDigest || len(again) != len(placements) {
		t.Fatalf("layout and snapshot bakes differ")
	}

	idx, err := indexdb.OpenSQLite(db)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	b, ok, err := idx.LatestBake(context.Background(), "garden")
	if err != nil || !ok || b.Cells != len(placements) || b.PlanPath != planPath {
		t.Fatalf("bake=%+v ok=%v err=%v", b, ok, err)
	}
}
