// Package bake resolves every occupied cell of a grid into a placement list.
package bake

import (
	"context"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"tileforge.dev/internal/persistence/planlog"
	"tileforge.dev/internal/protocol"
	"tileforge.dev/internal/tiles/grid"
	"tileforge.dev/internal/tiles/resolve"
	"tileforge.dev/internal/tiles/rules"
)

type Options struct {
	Workers int
	Logger  *log.Logger
}

type Stats struct {
	Cells    int
	Errors   int
	Rows     int
	Duration time.Duration
}

// Plan is the output of a bake. Placements are in row-major order regardless
// of worker count.
type Plan struct {
	Header     planlog.Header
	Placements []planlog.Placement
	Stats      Stats
}

// Source is a grid that can be baked.
type Source interface {
	grid.StateGrid
	Width() int
	Height() int
	Digest() string
}

// Bake resolves g row by row on a pool of workers. Resolution failures become
// placements with an error code; only cancellation aborts the bake.
func Bake(ctx context.Context, m *rules.Model, g Source, name string, opt Options) (Plan, error) {
	workers := opt.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	start := time.Now()

	rows := make([][]planlog.Placement, g.Height())
	jobs := make(chan int, workers)
	var errCount atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for y := range jobs {
				out, failed := bakeRow(m, g, y)
				rows[y] = out
				errCount.Add(int64(failed))
			}
		}()
	}

	var cancelled error
feed:
	for y := 0; y < g.Height(); y++ {
		if err := ctx.Err(); err != nil {
			cancelled = err
			break
		}
		select {
		case jobs <- y:
		case <-ctx.Done():
			cancelled = ctx.Err()
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	if cancelled != nil {
		return Plan{}, cancelled
	}

	n := 0
	for _, r := range rows {
		n += len(r)
	}
	all := make([]planlog.Placement, 0, n)
	for _, r := range rows {
		all = append(all, r...)
	}

	plan := Plan{
		Header: planlog.Header{
			Version:     planlog.Version,
			Grid:        name,
			Width:       g.Width(),
			Height:      g.Height(),
			GridDigest:  g.Digest(),
			RulesDigest: m.Digest(),
			CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		},
		Placements: all,
		Stats: Stats{
			Cells:    n,
			Errors:   int(errCount.Load()),
			Rows:     g.Height(),
			Duration: time.Since(start),
		},
	}
	if opt.Logger != nil {
		opt.Logger.Printf("bake grid=%s cells=%d errors=%d workers=%d took=%s", name, plan.Stats.Cells, plan.Stats.Errors, workers, plan.Stats.Duration)
	}
	return plan, nil
}

func bakeRow(m *rules.Model, g Source, y int) ([]planlog.Placement, int) {
	var out []planlog.Placement
	failed := 0
	for x := 0; x < g.Width(); x++ {
		p := grid.Pos{X: x, Y: y}
		block, ok := g.BlockAt(p)
		if !ok {
			continue
		}
		out = append(out, Placement(m, g, p, block))
		if out[len(out)-1].Code != "" {
			failed++
		}
	}
	return out, failed
}

// Placement resolves one occupied cell into its plan entry.
func Placement(m *rules.Model, g grid.StateGrid, p grid.Pos, block string) planlog.Placement {
	pl := planlog.Placement{X: p.X, Y: p.Y, Block: block, State: g.StateAt(p)}
	res, err := resolve.DescribeCell(m, g, p)
	if err != nil {
		pl.Code = protocol.CodeFor(err)
		return pl
	}
	r := res.Rect
	pl.Mode = res.Mode
	pl.Variant = res.Variant
	pl.Rect = &r
	return pl
}
