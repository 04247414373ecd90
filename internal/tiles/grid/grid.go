// Package grid provides tile grids for the resolver. Rows grow downward: the
// cell above (x, y) is (x, y-1).
package grid

import "fmt"

// Pos is a cell coordinate.
type Pos struct {
	X, Y int
}

func (p Pos) Add(d Pos) Pos { return Pos{X: p.X + d.X, Y: p.Y + d.Y} }

func (p Pos) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

// Neighbor offsets.
var (
	Up        = Pos{X: 0, Y: -1}
	Down      = Pos{X: 0, Y: 1}
	Left      = Pos{X: -1, Y: 0}
	Right     = Pos{X: 1, Y: 0}
	UpLeft    = Pos{X: -1, Y: -1}
	UpRight   = Pos{X: 1, Y: -1}
	DownLeft  = Pos{X: -1, Y: 1}
	DownRight = Pos{X: 1, Y: 1}
)

// Grid is the read-only view the resolver needs. Positions outside the grid
// report no block rather than an error.
type Grid interface {
	BlockAt(p Pos) (string, bool)
}

// StateGrid is a Grid that also carries multi_state cell states.
type StateGrid interface {
	Grid
	StateAt(p Pos) int
}
