// Package rules holds the tiling-rules configuration model: tile modes, the
// block-type to mode map and the solid set. A Model is immutable once built and
// is safe for concurrent use without locking.
package rules

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Blob sheet geometry for autotile_47 modes.
const (
	BlobTiles   = 47
	BlobColumns = 7
	BlobRows    = (BlobTiles + BlobColumns - 1) / BlobColumns

	DefaultPatternSize = 16
)

// Variant names used by the contextual kinds.
const (
	VariantSingle   = "single"
	VariantTop      = "top"
	VariantMiddle   = "middle"
	VariantBottom   = "bottom"
	VariantLeftEnd  = "left_end"
	VariantRightEnd = "right_end"

	VariantVertical          = "vertical"
	VariantHorizontal        = "horizontal"
	VariantCornerTopLeft     = "corner_top_left"
	VariantCornerTopRight    = "corner_top_right"
	VariantCornerBottomLeft  = "corner_bottom_left"
	VariantCornerBottomRight = "corner_bottom_right"
	VariantTJunctionTop      = "t_junction_top"
	VariantTJunctionBottom   = "t_junction_bottom"
	VariantTJunctionLeft     = "t_junction_left"
	VariantTJunctionRight    = "t_junction_right"
	VariantCross             = "cross"

	// Optional pipe end caps, named for the side the lone neighbor is on.
	VariantEndUp    = "end_up"
	VariantEndDown  = "end_down"
	VariantEndLeft  = "end_left"
	VariantEndRight = "end_right"
)

var requiredVariants = map[Kind][]string{
	KindNone:       {VariantSingle},
	KindVertical:   {VariantSingle, VariantTop, VariantMiddle, VariantBottom},
	KindHorizontal: {VariantSingle, VariantLeftEnd, VariantMiddle, VariantRightEnd},
	KindAllDirections: {
		VariantSingle, VariantVertical, VariantHorizontal,
		VariantCornerTopLeft, VariantCornerTopRight, VariantCornerBottomLeft, VariantCornerBottomRight,
		VariantTJunctionTop, VariantTJunctionBottom, VariantTJunctionLeft, VariantTJunctionRight,
		VariantCross,
	},
}

// RequiredVariants returns the variant names a mode of kind k must declare.
func RequiredVariants(k Kind) []string {
	return append([]string(nil), requiredVariants[k]...)
}

// Mode is a validated tile mode.
type Mode struct {
	Name       string
	Kind       Kind
	ConnectsTo []Rule
	Anchor     Anchor

	// autotile_47 (and sliced multi_state) sheet geometry.
	PatternSize int
	SheetWidth  int
	SheetHeight int

	StateCount int

	variants map[string]Rect
	states   []Rect
	blob     [BlobTiles]Rect
}

// Variant returns the rectangle of a named variant.
func (m *Mode) Variant(name string) (Rect, bool) {
	r, ok := m.variants[name]
	return r, ok
}

// Variants lists the declared variant names in sorted order.
func (m *Mode) Variants() []string {
	out := make([]string, 0, len(m.variants))
	for name := range m.variants {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// State returns the rectangle for a multi_state index.
func (m *Mode) State(i int) (Rect, bool) {
	if i < 0 || i >= len(m.states) {
		return Rect{}, false
	}
	return m.states[i], true
}

// BlobCell returns the rectangle for an autotile_47 tile index.
func (m *Mode) BlobCell(i int) (Rect, bool) {
	if m.Kind != KindAutotile47 || i < 0 || i >= BlobTiles {
		return Rect{}, false
	}
	return m.blob[i], true
}

func (m *Mode) hasRule(k RuleKind) bool {
	for _, r := range m.ConnectsTo {
		if r.Kind == k {
			return true
		}
	}
	return false
}

// Aux carries the asset-import sections of the document untouched.
type Aux struct {
	SpriteDetectionPatterns json.RawMessage
	DirectoryMappings       json.RawMessage
}

// Model is the loaded tiling configuration.
type Model struct {
	modes  map[string]*Mode
	blocks map[string]*Mode
	solid  map[string]struct{}
	aux    Aux
	digest string
}

// ModeOf returns the tile mode assigned to a block type.
func (m *Model) ModeOf(block string) (*Mode, error) {
	mode, ok := m.blocks[block]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBlockType, block)
	}
	return mode, nil
}

func (m *Model) IsSolid(block string) bool {
	_, ok := m.solid[block]
	return ok
}

// Known reports whether block appears in block_types or solid_blocks.
func (m *Model) Known(block string) bool {
	if _, ok := m.blocks[block]; ok {
		return true
	}
	return m.IsSolid(block)
}

// Connects reports whether a neighbor holding other counts toward the context of
// a tile of type self rendered with mode. Unknown neighbor types never connect.
func (m *Model) Connects(mode *Mode, self, other string) bool {
	if other == "" || !m.Known(other) {
		return false
	}
	for _, r := range mode.ConnectsTo {
		switch r.Kind {
		case RuleLiteral:
			if r.Block == other {
				return true
			}
		case RuleSelf:
			if other == self {
				return true
			}
		case RuleSolid:
			if m.IsSolid(other) {
				return true
			}
		}
	}
	return false
}

// Continues reports whether other both connects and shares the tile's mode, i.e.
// it extends the same chain rather than merely supporting it.
func (m *Model) Continues(mode *Mode, self, other string) bool {
	if !m.Connects(mode, self, other) {
		return false
	}
	return m.blocks[other] == mode
}

// Mode returns a tile mode by name.
func (m *Model) Mode(name string) (*Mode, bool) {
	mode, ok := m.modes[name]
	return mode, ok
}

// Modes lists mode names in sorted order.
func (m *Model) Modes() []string {
	return sortedKeys(m.modes)
}

// BlockTypes lists block types in sorted order.
func (m *Model) BlockTypes() []string {
	return sortedKeys(m.blocks)
}

// SolidBlocks lists the solid set in sorted order.
func (m *Model) SolidBlocks() []string {
	return sortedKeys(m.solid)
}

func (m *Model) Aux() Aux { return m.aux }

// Digest is the sha256 hex digest of the source document.
func (m *Model) Digest() string { return m.digest }

func sortedKeys[V any](in map[string]V) []string {
	out := make([]string, 0, len(in))
	for k := range in {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
