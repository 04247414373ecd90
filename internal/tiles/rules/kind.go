package rules

import "fmt"

// Kind is the contextual-rendering strategy of a tile mode.
type Kind uint8

const (
	KindNone Kind = iota
	KindVertical
	KindHorizontal
	KindAllDirections
	KindAutotile47
	KindMultiState
)

var kindNames = [...]string{
	KindNone:          "none",
	KindVertical:      "contextual_vertical",
	KindHorizontal:    "contextual_horizontal",
	KindAllDirections: "contextual_all_directions",
	KindAutotile47:    "autotile_47",
	KindMultiState:    "multi_state",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind maps a document "type" tag to a Kind.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), true
		}
	}
	return 0, false
}

// RuleKind selects how a connects_to entry is evaluated.
type RuleKind uint8

const (
	RuleLiteral RuleKind = iota // a specific block type
	RuleSelf                    // same block type as the tile being resolved
	RuleSolid                   // any member of the solid set
)

const (
	sentinelSelf  = "self"
	sentinelSolid = "solid"
)

// Rule is one parsed connects_to entry.
type Rule struct {
	Kind  RuleKind
	Block string // only for RuleLiteral
}

func parseRule(s string) Rule {
	switch s {
	case sentinelSelf:
		return Rule{Kind: RuleSelf}
	case sentinelSolid:
		return Rule{Kind: RuleSolid}
	default:
		return Rule{Kind: RuleLiteral, Block: s}
	}
}

func (r Rule) String() string {
	switch r.Kind {
	case RuleSelf:
		return sentinelSelf
	case RuleSolid:
		return sentinelSolid
	default:
		return r.Block
	}
}

// Anchor is the side a contextual_vertical chain hangs from or grows out of.
type Anchor uint8

const (
	AnchorAbove Anchor = iota // vines: anchored to the cell above, chain continues downward
	AnchorBelow               // cacti: anchored to the cell below, chain continues upward
)

func (a Anchor) String() string {
	if a == AnchorBelow {
		return "below"
	}
	return "above"
}

// Rect is a pixel rectangle inside a sprite sheet.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Rect) String() string {
	return fmt.Sprintf("(%d,%d %dx%d)", r.X, r.Y, r.Width, r.Height)
}
