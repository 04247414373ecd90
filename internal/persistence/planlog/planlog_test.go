package planlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"tileforge.dev/internal/tiles/rules"
)

func TestPlan_RoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "out", "garden.plan.jsonl.zst")
	in := []Placement{
		{X: 0, Y: 0, Block: "vine", Mode: "vine", Variant: "top", Rect: &rules.Rect{X: 16, Width: 16, Height: 24}},
		{X: 1, Y: 0, Block: "lava", Code: "E_UNKNOWN_BLOCK_TYPE"},
		{X: 2, Y: 0, Block: "lever", Mode: "2state", Variant: "1", State: 1, Rect: &rules.Rect{X: 16, Width: 16, Height: 16}},
	}
	if err := WritePlan(p, Header{Grid: "garden", Width: 3, Height: 1, RulesDigest: "abc"}, in); err != nil {
		t.Fatalf("WritePlan: %v", err)
	}

	h, out, err := ReadPlan(p)
	if err != nil {
		t.Fatalf("ReadPlan: %v", err)
	}
	if h.Version != Version || h.Grid != "garden" || h.RulesDigest != "abc" {
		t.Fatalf("header=%+v", h)
	}
	if len(out) != len(in) {
		t.Fatalf("placements=%d want %d", len(out), len(in))
	}
	if out[1].Rect != nil || out[1].Code != "E_UNKNOWN_BLOCK_TYPE" {
		t.Fatalf("failed placement=%+v", out[1])
	}
	if *out[2].Rect != *in[2].Rect || out[2].State != 1 {
		t.Fatalf("placement=%+v", out[2])
	}

	stop := errors.New("stop")
	n := 0
	_, err = ScanPlan(p, func(Placement) error {
		n++
		return stop
	})
	if !errors.Is(err, stop) || n != 1 {
		t.Fatalf("scan stop: n=%d err=%v", n, err)
	}
}

func TestPlan_RejectsVersion(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x.plan.jsonl.zst")
	if err := WritePlan(p, Header{Version: 99}, nil); err != nil {
		t.Fatalf("WritePlan: %v", err)
	}
	if _, _, err := ReadPlan(p); err == nil {
		t.Fatalf("expected version error")
	}
}

func TestJSONLZstdWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "resolves")
	clock := time.Date(2024, 5, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	if err := w.Write(ResolveEntry{Session: "s1", X: 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	clock = clock.Add(2 * time.Minute)
	if err := w.Write(ResolveEntry{Session: "s1", X: 2}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for hour, x := range map[string]int{"2024-05-01-10": 1, "2024-05-01-11": 2} {
		lines := readLines(t, filepath.Join(dir, "resolves-"+hour+".jsonl.zst"))
		if len(lines) != 1 {
			t.Fatalf("%s: lines=%d", hour, len(lines))
		}
		var e ResolveEntry
		if err := json.Unmarshal([]byte(lines[0]), &e); err != nil {
			t.Fatal(err)
		}
		if e.X != x {
			t.Fatalf("%s: x=%d want %d", hour, e.X, x)
		}
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()
	var out []string
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}
	return out
}
