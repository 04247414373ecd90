package resolve

import (
	"testing"

	"tileforge.dev/internal/tiles/grid"
	"tileforge.dev/internal/tiles/rules"
)

func TestBlobIndex_Total(t *testing.T) {
	seen := map[int]bool{}
	for raw := 0; raw < 256; raw++ {
		idx := BlobIndex(uint8(raw))
		if idx < 0 || idx >= rules.BlobTiles {
			t.Fatalf("mask %08b index %d out of range", raw, idx)
		}
		if idx != BlobIndex(EffectiveMask(uint8(raw))) {
			t.Fatalf("mask %08b index differs from its effective mask", raw)
		}
		seen[idx] = true
	}
	if len(seen) != rules.BlobTiles {
		t.Fatalf("distinct indices=%d want %d", len(seen), rules.BlobTiles)
	}

	prev := -1
	for i := 0; i < rules.BlobTiles; i++ {
		m, ok := BlobMask(i)
		if !ok {
			t.Fatalf("BlobMask(%d) missing", i)
		}
		if EffectiveMask(m) != m {
			t.Fatalf("canonical mask %08b is not effective", m)
		}
		if int(m) <= prev {
			t.Fatalf("masks not ascending at %d", i)
		}
		prev = int(m)
	}
	if _, ok := BlobMask(rules.BlobTiles); ok {
		t.Fatalf("BlobMask(47) should be absent")
	}
}

func TestResolve_AutotileCorners(t *testing.T) {
	m := loadSample(t)
	cases := []struct {
		name string
		rows []string
		mask uint8
		idx  int
	}{
		{"isolated", []string{"...", ".G.", "..."}, 0, 0},
		{"diagonals only", []string{"G.G", ".G.", "G.G"}, 0, 0},
		{"NW without W", []string{"GG.", ".G.", "..."}, BlobN, 1},
		{"NE without N", []string{"..G", ".GG", "..."}, BlobE, 2},
		{"SE without E", []string{"...", ".G.", ".GG"}, BlobS, 5},
		{"SW without S", []string{"...", "GG.", "G.."}, BlobW, 13},
		{"concave NW", []string{".GG", "GGG", "GGG"}, 255 &^ BlobNW, 33},
		{"concave SW", []string{"GGG", "GGG", ".GG"}, 255 &^ BlobSW, 41},
		{"concave SE", []string{"GGG", "GGG", "GG."}, 255 &^ BlobSE, 44},
		{"concave NE", []string{"GG.", "GGG", "GGG"}, 255 &^ BlobNE, 45},
		{"full", []string{"GGG", "GGG", "GGG"}, 255, 46},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := mustGrid(t, tc.rows...)
			res := describe(t, m, g, 1, 1)
			if res.Mask != tc.mask {
				t.Fatalf("mask=%08b want %08b", res.Mask, tc.mask)
			}
			if res.Index != tc.idx {
				t.Fatalf("index=%d want %d", res.Index, tc.idx)
			}
			want := rules.Rect{X: (tc.idx % 7) * 16, Y: (tc.idx / 7) * 16, Width: 16, Height: 16}
			if res.Rect != want {
				t.Fatalf("rect=%v want %v", res.Rect, want)
			}
		})
	}
}

func TestResolve_AutotileSmallPattern(t *testing.T) {
	m := loadSample(t)
	g, err := grid.FromRows(map[string]string{"B": "brick", "T": "stone_brick"},
		"BT",
		"TB",
	)
	if err != nil {
		t.Fatal(err)
	}
	// Every neighbor is in connects_to; 3 neighbors form an L with its diagonal.
	res := describe(t, m, g, 0, 0)
	want := BlobE | BlobSE | BlobS
	if res.Mask != want {
		t.Fatalf("mask=%08b want %08b", res.Mask, want)
	}
	idx := BlobIndex(want)
	if res.Rect != (rules.Rect{X: (idx % 7) * 8, Y: (idx / 7) * 8, Width: 8, Height: 8}) {
		t.Fatalf("rect=%v", res.Rect)
	}
}
