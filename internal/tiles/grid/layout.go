package grid

import (
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// Layout is a hand-authored grid: each rune in Rows is looked up in Legend;
// '.' and ' ' are empty unless the legend maps them.
type Layout struct {
	Name   string            `yaml:"name"`
	Rows   []string          `yaml:"rows"`
	Legend map[string]string `yaml:"legend"`
	States []LayoutState     `yaml:"states,omitempty"`
}

type LayoutState struct {
	X     int `yaml:"x"`
	Y     int `yaml:"y"`
	State int `yaml:"state"`
}

func LoadLayout(path string) (Layout, error) {
	var l Layout
	b, err := os.ReadFile(path)
	if err != nil {
		return l, err
	}
	if err := yaml.Unmarshal(b, &l); err != nil {
		return l, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return l, nil
}

// Build converts the layout into a grid sized to its widest row.
func (l Layout) Build() (*Chunked, error) {
	width := 0
	for _, r := range l.Rows {
		if n := utf8.RuneCountInString(r); n > width {
			width = n
		}
	}
	g, err := NewChunked(width, len(l.Rows))
	if err != nil {
		return nil, fmt.Errorf("layout %q: %w", l.Name, err)
	}
	for y, row := range l.Rows {
		x := 0
		for _, r := range row {
			key := string(r)
			block, ok := l.Legend[key]
			switch {
			case ok:
			case r == '.' || r == ' ':
			default:
				return nil, fmt.Errorf("layout %q: row %d col %d: %q not in legend", l.Name, y, x, key)
			}
			if block != "" {
				if err := g.Set(Pos{X: x, Y: y}, block); err != nil {
					return nil, err
				}
			}
			x++
		}
	}
	for _, st := range l.States {
		if err := g.SetState(Pos{X: st.X, Y: st.Y}, st.State); err != nil {
			return nil, fmt.Errorf("layout %q: %w", l.Name, err)
		}
	}
	return g, nil
}

// FromRows is a shorthand for Layout{Rows: rows, Legend: legend}.Build().
func FromRows(legend map[string]string, rows ...string) (*Chunked, error) {
	return Layout{Rows: rows, Legend: legend}.Build()
}
