// Package resolve selects the sprite variant of a placed tile from its block
// type, its tile mode and the blocks around it.
//
// Every call re-reads the grid; nothing is cached between calls, so a grid may
// change freely between resolutions. All functions are safe for concurrent use
// as long as the grid is not mutated while they run.
package resolve

import (
	"errors"
	"fmt"
	"strconv"

	"tileforge.dev/internal/tiles/grid"
	"tileforge.dev/internal/tiles/rules"
)

var (
	ErrEmptyCell        = errors.New("empty cell")
	ErrUnknownBlockType = rules.ErrUnknownBlockType
	ErrStateOutOfRange  = errors.New("state out of range")
)

// Error describes a failed resolution. All resolve errors are recoverable; the
// caller typically renders a placeholder.
type Error struct {
	Pos   grid.Pos
	Block string
	Err   error
	Msg   string
}

func (e *Error) Error() string {
	s := "resolve " + e.Pos.String()
	if e.Block != "" {
		s += " " + e.Block
	}
	s += ": " + e.Err.Error()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Result is a resolved tile with the context that produced it.
type Result struct {
	Pos     grid.Pos
	Block   string
	Mode    string
	Kind    rules.Kind
	Variant string
	Index   int   // blob tile index or state; -1 for named variants
	Mask    uint8 // DirUp.. bits, or Blob* bits for autotile_47
	Rect    rules.Rect
}

// Resolve returns the sprite rectangle for the tile at p. multi_state tiles
// resolve to state 0.
func Resolve(m *rules.Model, g grid.Grid, p grid.Pos) (rules.Rect, error) {
	res, err := Describe(m, g, p, 0)
	return res.Rect, err
}

// ResolveStateful is Resolve with an explicit multi_state state. For other
// kinds the state is ignored.
func ResolveStateful(m *rules.Model, g grid.Grid, p grid.Pos, state int) (rules.Rect, error) {
	res, err := Describe(m, g, p, state)
	return res.Rect, err
}

// Describe resolves the tile at p and reports how the variant was chosen.
func Describe(m *rules.Model, g grid.Grid, p grid.Pos, state int) (Result, error) {
	block, ok := g.BlockAt(p)
	if !ok {
		return Result{}, &Error{Pos: p, Err: ErrEmptyCell}
	}
	mode, err := m.ModeOf(block)
	if err != nil {
		return Result{}, &Error{Pos: p, Block: block, Err: ErrUnknownBlockType}
	}

	c := cell{model: m, grid: g, pos: p, block: block, mode: mode}
	res := Result{Pos: p, Block: block, Mode: mode.Name, Kind: mode.Kind, Index: -1}

	switch mode.Kind {
	case rules.KindVertical:
		res.Mask, res.Variant = c.vertical()
	case rules.KindHorizontal:
		res.Mask, res.Variant = c.horizontal()
	case rules.KindAllDirections:
		res.Mask = c.orthogonal()
		res.Variant = pipeVariant(mode, res.Mask)
	case rules.KindAutotile47:
		res.Mask = c.blob()
		res.Index = BlobIndex(res.Mask)
		res.Variant = strconv.Itoa(res.Index)
		res.Rect, _ = mode.BlobCell(res.Index)
		return res, nil
	case rules.KindMultiState:
		r, ok := mode.State(state)
		if !ok {
			return Result{}, &Error{Pos: p, Block: block, Err: ErrStateOutOfRange, Msg: fmt.Sprintf("state %d not in [0,%d)", state, mode.StateCount)}
		}
		res.Index = state
		res.Variant = strconv.Itoa(state)
		res.Rect = r
		return res, nil
	default:
		res.Variant = rules.VariantSingle
	}

	r, ok := mode.Variant(res.Variant)
	if !ok {
		// Unreachable for models built by rules.Parse.
		return Result{}, &Error{Pos: p, Block: block, Err: rules.ErrMissingVariant, Msg: res.Variant}
	}
	res.Rect = r
	return res, nil
}

// DescribeCell resolves p using the state the grid stores for it.
func DescribeCell(m *rules.Model, g grid.StateGrid, p grid.Pos) (Result, error) {
	return Describe(m, g, p, g.StateAt(p))
}

type cell struct {
	model *rules.Model
	grid  grid.Grid
	pos   grid.Pos
	block string
	mode  *rules.Mode
}

func (c cell) neighbor(d grid.Pos) (string, bool) {
	return c.grid.BlockAt(c.pos.Add(d))
}

func (c cell) connects(d grid.Pos) bool {
	b, ok := c.neighbor(d)
	return ok && c.model.Connects(c.mode, c.block, b)
}

func (c cell) continues(d grid.Pos) bool {
	b, ok := c.neighbor(d)
	return ok && c.model.Continues(c.mode, c.block, b)
}

func (c cell) vertical() (uint8, string) {
	anchorSide, tailSide := grid.Up, grid.Down
	if c.mode.Anchor == rules.AnchorBelow {
		anchorSide, tailSide = grid.Down, grid.Up
	}
	anchorMatch := c.connects(anchorSide)
	anchorChain := anchorMatch && c.continues(anchorSide)
	tailChain := c.continues(tailSide)

	var mask uint8
	if c.connects(grid.Up) {
		mask |= DirUp
	}
	if c.connects(grid.Down) {
		mask |= DirDown
	}
	return mask, VerticalVariant(c.mode.Anchor, anchorMatch, anchorChain, tailChain)
}

func (c cell) horizontal() (uint8, string) {
	left := c.connects(grid.Left)
	right := c.connects(grid.Right)
	var mask uint8
	if left {
		mask |= DirLeft
	}
	if right {
		mask |= DirRight
	}
	return mask, HorizontalVariant(left, right)
}

func (c cell) orthogonal() uint8 {
	var mask uint8
	if c.connects(grid.Up) {
		mask |= DirUp
	}
	if c.connects(grid.Down) {
		mask |= DirDown
	}
	if c.connects(grid.Left) {
		mask |= DirLeft
	}
	if c.connects(grid.Right) {
		mask |= DirRight
	}
	return mask
}

// blob samples the eight neighbors. Diagonals are only looked at when both
// adjacent orthogonals connect, so the mask is already effective.
func (c cell) blob() uint8 {
	var mask uint8
	n := c.connects(grid.Up)
	e := c.connects(grid.Right)
	s := c.connects(grid.Down)
	w := c.connects(grid.Left)
	if n {
		mask |= BlobN
	}
	if e {
		mask |= BlobE
	}
	if s {
		mask |= BlobS
	}
	if w {
		mask |= BlobW
	}
	if n && e && c.connects(grid.UpRight) {
		mask |= BlobNE
	}
	if s && e && c.connects(grid.DownRight) {
		mask |= BlobSE
	}
	if s && w && c.connects(grid.DownLeft) {
		mask |= BlobSW
	}
	if n && w && c.connects(grid.UpLeft) {
		mask |= BlobNW
	}
	return mask
}
