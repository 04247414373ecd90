package grid

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"

	"tileforge.dev/internal/persistence/snapshot"
)

const chunkSize = 16

type chunkKey struct {
	CX, CY int
}

type chunk struct {
	CX, CY int
	Blocks []uint16 // len = 16*16, palette ids, x fastest

	count int
	dirty bool
	hash  [32]byte
}

func newChunk(cx, cy int) *chunk {
	return &chunk{CX: cx, CY: cy, Blocks: make([]uint16, chunkSize*chunkSize), dirty: true}
}

func (c *chunk) index(x, y int) int {
	return x + y*chunkSize
}

func (c *chunk) get(x, y int) uint16 {
	return c.Blocks[c.index(x, y)]
}

func (c *chunk) set(x, y int, b uint16) {
	i := c.index(x, y)
	if c.Blocks[i] == b {
		return
	}
	switch {
	case c.Blocks[i] == 0:
		c.count++
	case b == 0:
		c.count--
	}
	c.Blocks[i] = b
	c.dirty = true
}

func (c *chunk) digest() [32]byte {
	if c.dirty {
		h := sha256.New()
		var tmp [2]byte
		for _, v := range c.Blocks {
			binary.LittleEndian.PutUint16(tmp[:], v)
			h.Write(tmp[:])
		}
		copy(c.hash[:], h.Sum(nil))
		c.dirty = false
	}
	return c.hash
}

// Chunked is a bounded grid stored as 16x16 chunks of palette ids. Palette id 0
// is the empty cell. It is not safe for concurrent mutation; callers that
// resolve while editing must synchronize or resolve from a Clone.
type Chunked struct {
	width, height int

	palette []string
	index   map[string]uint16
	chunks  map[chunkKey]*chunk
	states  map[Pos]int
}

// NewChunked returns an empty width x height grid.
func NewChunked(width, height int) (*Chunked, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("grid size must be positive: %dx%d", width, height)
	}
	return &Chunked{
		width:   width,
		height:  height,
		palette: []string{""},
		index:   map[string]uint16{"": 0},
		chunks:  map[chunkKey]*chunk{},
		states:  map[Pos]int{},
	}, nil
}

func (g *Chunked) Width() int  { return g.width }
func (g *Chunked) Height() int { return g.height }

func (g *Chunked) InBounds(p Pos) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < g.width && p.Y < g.height
}

func split(p Pos) (chunkKey, int, int) {
	return chunkKey{CX: p.X / chunkSize, CY: p.Y / chunkSize}, p.X % chunkSize, p.Y % chunkSize
}

func (g *Chunked) BlockAt(p Pos) (string, bool) {
	if !g.InBounds(p) {
		return "", false
	}
	k, lx, ly := split(p)
	c := g.chunks[k]
	if c == nil {
		return "", false
	}
	id := c.get(lx, ly)
	if id == 0 {
		return "", false
	}
	return g.palette[id], true
}

// Set places block at p. An empty block clears the cell.
func (g *Chunked) Set(p Pos, block string) error {
	if !g.InBounds(p) {
		return fmt.Errorf("position %s outside %dx%d grid", p, g.width, g.height)
	}
	if block == "" {
		g.Clear(p)
		return nil
	}
	id, ok := g.index[block]
	if !ok {
		if len(g.palette) > 0xFFFF {
			return fmt.Errorf("palette full")
		}
		id = uint16(len(g.palette))
		g.palette = append(g.palette, block)
		g.index[block] = id
	}
	k, lx, ly := split(p)
	c := g.chunks[k]
	if c == nil {
		c = newChunk(k.CX, k.CY)
		g.chunks[k] = c
	}
	c.set(lx, ly, id)
	return nil
}

// Clear empties the cell at p and drops its state.
func (g *Chunked) Clear(p Pos) {
	if !g.InBounds(p) {
		return
	}
	delete(g.states, p)
	k, lx, ly := split(p)
	c := g.chunks[k]
	if c == nil {
		return
	}
	c.set(lx, ly, 0)
	if c.count == 0 {
		delete(g.chunks, k)
	}
}

// SetState records the multi_state value of an occupied cell.
func (g *Chunked) SetState(p Pos, state int) error {
	if _, ok := g.BlockAt(p); !ok {
		return fmt.Errorf("no block at %s", p)
	}
	if state == 0 {
		delete(g.states, p)
		return nil
	}
	g.states[p] = state
	return nil
}

func (g *Chunked) StateAt(p Pos) int {
	return g.states[p]
}

// Count returns the number of occupied cells.
func (g *Chunked) Count() int {
	n := 0
	for _, c := range g.chunks {
		n += c.count
	}
	return n
}

// Each calls fn for every occupied cell in row-major order.
func (g *Chunked) Each(fn func(p Pos, block string)) {
	for y := 0; y < g.height; y++ {
		for x := 0; x < g.width; x++ {
			p := Pos{X: x, Y: y}
			if b, ok := g.BlockAt(p); ok {
				fn(p, b)
			}
		}
	}
}

func (g *Chunked) sortedKeys() []chunkKey {
	keys := make([]chunkKey, 0, len(g.chunks))
	for k := range g.chunks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CY != keys[j].CY {
			return keys[i].CY < keys[j].CY
		}
		return keys[i].CX < keys[j].CX
	})
	return keys
}

// Digest hashes the grid size, palette and chunk contents.
func (g *Chunked) Digest() string {
	h := sha256.New()
	var tmp [8]byte
	binary.LittleEndian.PutUint32(tmp[:4], uint32(g.width))
	binary.LittleEndian.PutUint32(tmp[4:], uint32(g.height))
	h.Write(tmp[:])
	for _, b := range g.palette {
		h.Write([]byte(b))
		h.Write([]byte{0})
	}
	for _, k := range g.sortedKeys() {
		c := g.chunks[k]
		binary.LittleEndian.PutUint32(tmp[:4], uint32(c.CX))
		binary.LittleEndian.PutUint32(tmp[4:], uint32(c.CY))
		h.Write(tmp[:])
		d := c.digest()
		h.Write(d[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Clone returns an independent copy.
func (g *Chunked) Clone() *Chunked {
	out := &Chunked{
		width:   g.width,
		height:  g.height,
		palette: append([]string(nil), g.palette...),
		index:   make(map[string]uint16, len(g.index)),
		chunks:  make(map[chunkKey]*chunk, len(g.chunks)),
		states:  make(map[Pos]int, len(g.states)),
	}
	for k, v := range g.index {
		out.index[k] = v
	}
	for k, c := range g.chunks {
		cc := *c
		cc.Blocks = append([]uint16(nil), c.Blocks...)
		out.chunks[k] = &cc
	}
	for k, v := range g.states {
		out.states[k] = v
	}
	return out
}

// ExportSnapshot converts the grid to its on-disk form.
func (g *Chunked) ExportSnapshot(name string) snapshot.GridV1 {
	snap := snapshot.GridV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			Name:    name,
			Width:   g.width,
			Height:  g.height,
			Digest:  g.Digest(),
		},
		Palette: append([]string(nil), g.palette...),
	}
	for _, k := range g.sortedKeys() {
		c := g.chunks[k]
		snap.Chunks = append(snap.Chunks, snapshot.ChunkV1{
			CX:     c.CX,
			CY:     c.CY,
			Blocks: append([]uint16(nil), c.Blocks...),
		})
	}
	states := make([]Pos, 0, len(g.states))
	for p := range g.states {
		states = append(states, p)
	}
	sort.Slice(states, func(i, j int) bool {
		if states[i].Y != states[j].Y {
			return states[i].Y < states[j].Y
		}
		return states[i].X < states[j].X
	})
	for _, p := range states {
		snap.States = append(snap.States, snapshot.CellStateV1{X: p.X, Y: p.Y, State: g.states[p]})
	}
	return snap
}

// ImportSnapshot rebuilds a grid from its on-disk form.
func ImportSnapshot(snap snapshot.GridV1) (*Chunked, error) {
	g, err := NewChunked(snap.Header.Width, snap.Header.Height)
	if err != nil {
		return nil, err
	}
	if len(snap.Palette) == 0 || snap.Palette[0] != "" {
		return nil, fmt.Errorf("snapshot palette must start with the empty block")
	}
	for _, ch := range snap.Chunks {
		if len(ch.Blocks) != chunkSize*chunkSize {
			return nil, fmt.Errorf("chunk (%d,%d): %d blocks", ch.CX, ch.CY, len(ch.Blocks))
		}
		for i, id := range ch.Blocks {
			if id == 0 {
				continue
			}
			if int(id) >= len(snap.Palette) {
				return nil, fmt.Errorf("chunk (%d,%d): palette id %d out of range", ch.CX, ch.CY, id)
			}
			p := Pos{X: ch.CX*chunkSize + i%chunkSize, Y: ch.CY*chunkSize + i/chunkSize}
			if err := g.Set(p, snap.Palette[id]); err != nil {
				return nil, fmt.Errorf("chunk (%d,%d): %w", ch.CX, ch.CY, err)
			}
		}
	}
	for _, st := range snap.States {
		if err := g.SetState(Pos{X: st.X, Y: st.Y}, st.State); err != nil {
			return nil, fmt.Errorf("state: %w", err)
		}
	}
	return g, nil
}
