package resolve

import "tileforge.dev/internal/tiles/rules"

// Orthogonal neighbor bits used by the contextual kinds.
const (
	DirUp    uint8 = 1 << 0
	DirDown  uint8 = 1 << 1
	DirLeft  uint8 = 1 << 2
	DirRight uint8 = 1 << 3
)

// pipeVariants is indexed by the up/down/left/right mask. Corners are named for
// the two open sides; T-junctions for the one open side.
var pipeVariants = [16]string{
	0:                                  rules.VariantSingle,
	DirUp:                              rules.VariantVertical,
	DirDown:                            rules.VariantVertical,
	DirUp | DirDown:                    rules.VariantVertical,
	DirLeft:                            rules.VariantHorizontal,
	DirUp | DirLeft:                    rules.VariantCornerBottomRight,
	DirDown | DirLeft:                  rules.VariantCornerTopRight,
	DirUp | DirDown | DirLeft:          rules.VariantTJunctionRight,
	DirRight:                           rules.VariantHorizontal,
	DirUp | DirRight:                   rules.VariantCornerBottomLeft,
	DirDown | DirRight:                 rules.VariantCornerTopLeft,
	DirUp | DirDown | DirRight:         rules.VariantTJunctionLeft,
	DirLeft | DirRight:                 rules.VariantHorizontal,
	DirUp | DirLeft | DirRight:         rules.VariantTJunctionBottom,
	DirDown | DirLeft | DirRight:       rules.VariantTJunctionTop,
	DirUp | DirDown | DirLeft | DirRight: rules.VariantCross,
}

var pipeEnds = map[uint8]string{
	DirUp:    rules.VariantEndUp,
	DirDown:  rules.VariantEndDown,
	DirLeft:  rules.VariantEndLeft,
	DirRight: rules.VariantEndRight,
}

// PipeVariant maps a 4-bit neighbor mask to its required variant name.
func PipeVariant(mask uint8) string {
	return pipeVariants[mask&0x0F]
}

func pipeVariant(mode *rules.Mode, mask uint8) string {
	if end, ok := pipeEnds[mask]; ok {
		if _, ok := mode.Variant(end); ok {
			return end
		}
	}
	return PipeVariant(mask)
}

// HorizontalVariant picks the platform/fence variant from its side neighbors.
func HorizontalVariant(left, right bool) string {
	switch {
	case left && right:
		return rules.VariantMiddle
	case right:
		return rules.VariantLeftEnd
	case left:
		return rules.VariantRightEnd
	default:
		return rules.VariantSingle
	}
}

// VerticalVariant picks the variant of a vertical chain tile.
//
// anchorMatch: the cell on the anchor side matches the connection rule.
// anchorChain: that cell also belongs to the same chain (same mode).
// tailChain:   the cell on the far side continues the chain.
//
// The head is the end nearest the anchor (top for vines, bottom for cacti).
func VerticalVariant(anchor rules.Anchor, anchorMatch, anchorChain, tailChain bool) string {
	head, tail := rules.VariantTop, rules.VariantBottom
	if anchor == rules.AnchorBelow {
		head, tail = tail, head
	}
	switch {
	case anchorMatch && tailChain:
		return rules.VariantMiddle
	case tailChain:
		return head
	case anchorChain:
		return tail
	case anchorMatch:
		return head
	default:
		return rules.VariantSingle
	}
}
