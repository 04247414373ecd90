package rules

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is the encoding of a rules document.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatFromPath picks a Format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return 0, fmt.Errorf("%s: unsupported rules extension", filepath.Base(path))
	}
}

//go:embed default_rules.json
var defaultRules []byte

type document struct {
	TileModes               map[string]modeDoc `json:"tile_modes"`
	BlockTypes              map[string]string  `json:"block_types"`
	SolidBlocks             []string           `json:"solid_blocks"`
	SpriteDetectionPatterns json.RawMessage    `json:"sprite_detection_patterns,omitempty"`
	DirectoryMappings       json.RawMessage    `json:"directory_mappings,omitempty"`
}

type modeDoc struct {
	Type         string          `json:"type"`
	ConnectsTo   []string        `json:"connects_to"`
	Anchor       string          `json:"anchor,omitempty"`
	PatternSize  int             `json:"pattern_size,omitempty"`
	SheetWidth   int             `json:"sheet_width,omitempty"`
	SheetHeight  int             `json:"sheet_height,omitempty"`
	StateCount   int             `json:"state_count,omitempty"`
	SpriteLayout map[string]Rect `json:"sprite_layout"`
}

// Load reads and validates a rules document from disk.
func Load(path string) (*Model, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := Parse(raw, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return m, nil
}

// Default returns the built-in rules used when no document is available.
func Default() *Model {
	m, err := Parse(defaultRules, FormatJSON)
	if err != nil {
		panic(fmt.Sprintf("rules: built-in defaults: %v", err))
	}
	return m
}

// DefaultDocument returns a copy of the built-in rules document.
func DefaultDocument() []byte {
	return append([]byte(nil), defaultRules...)
}

// Parse decodes and validates a rules document. It either returns a complete
// Model or an error wrapping one of the package sentinels, never a partial model.
func Parse(raw []byte, format Format) (*Model, error) {
	canonical, err := canonicalJSON(raw, format)
	if err != nil {
		return nil, &ConfigError{Msg: err.Error(), Err: ErrMalformed}
	}

	s, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile rules schema: %w", err)
	}
	var generic any
	if err := json.Unmarshal(canonical, &generic); err != nil {
		return nil, &ConfigError{Msg: err.Error(), Err: ErrMalformed}
	}
	if err := s.Validate(generic); err != nil {
		return nil, &ConfigError{Msg: err.Error(), Err: ErrMalformed}
	}

	var doc document
	if err := json.Unmarshal(canonical, &doc); err != nil {
		return nil, &ConfigError{Msg: err.Error(), Err: ErrMalformed}
	}

	m, err := build(doc)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(raw)
	m.digest = hex.EncodeToString(sum[:])
	return m, nil
}

func canonicalJSON(raw []byte, format Format) ([]byte, error) {
	if format == FormatJSON {
		if !json.Valid(raw) {
			var v any
			return nil, json.Unmarshal(raw, &v)
		}
		return raw, nil
	}
	var v any
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(stringKeys(v))
}

// stringKeys rewrites YAML mappings with non-string keys (e.g. multi_state
// layouts keyed 0, 1, ...) so they can be marshalled as JSON objects.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = stringKeys(e)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = stringKeys(e)
		}
		return out
	case []any:
		for i, e := range t {
			t[i] = stringKeys(e)
		}
		return t
	default:
		return v
	}
}

func build(doc document) (*Model, error) {
	m := &Model{
		modes:  make(map[string]*Mode, len(doc.TileModes)),
		blocks: make(map[string]*Mode, len(doc.BlockTypes)),
		solid:  make(map[string]struct{}, len(doc.SolidBlocks)),
		aux: Aux{
			SpriteDetectionPatterns: doc.SpriteDetectionPatterns,
			DirectoryMappings:       doc.DirectoryMappings,
		},
	}
	for _, b := range doc.SolidBlocks {
		m.solid[b] = struct{}{}
	}

	for _, name := range sortedKeys(doc.TileModes) {
		mode, err := buildMode(name, doc.TileModes[name])
		if err != nil {
			return nil, err
		}
		m.modes[name] = mode
	}

	for _, block := range sortedKeys(doc.BlockTypes) {
		modeName := doc.BlockTypes[block]
		mode, ok := m.modes[modeName]
		if !ok {
			return nil, &ConfigError{Block: block, Msg: fmt.Sprintf("mode %q is not declared", modeName), Err: ErrUnknownMode}
		}
		m.blocks[block] = mode
	}

	// connects_to literals must name a block this model knows about.
	for _, name := range m.Modes() {
		for _, r := range m.modes[name].ConnectsTo {
			if r.Kind == RuleLiteral && !m.Known(r.Block) {
				return nil, &ConfigError{Mode: name, Msg: fmt.Sprintf("connects_to %q", r.Block), Err: ErrUnknownBlockType}
			}
		}
	}
	return m, nil
}

func buildMode(name string, d modeDoc) (*Mode, error) {
	kind, ok := ParseKind(d.Type)
	if !ok {
		return nil, &ConfigError{Mode: name, Msg: fmt.Sprintf("type %q", d.Type), Err: ErrUnknownMode}
	}
	mode := &Mode{
		Name:        name,
		Kind:        kind,
		PatternSize: d.PatternSize,
		SheetWidth:  d.SheetWidth,
		SheetHeight: d.SheetHeight,
		StateCount:  d.StateCount,
		variants:    make(map[string]Rect, len(d.SpriteLayout)),
	}
	for _, s := range d.ConnectsTo {
		mode.ConnectsTo = append(mode.ConnectsTo, parseRule(s))
	}

	switch d.Anchor {
	case "above":
		mode.Anchor = AnchorAbove
	case "below":
		mode.Anchor = AnchorBelow
	default:
		if !mode.hasRule(RuleSolid) {
			mode.Anchor = AnchorBelow
		}
	}

	switch kind {
	case KindAutotile47:
		if err := buildBlob(mode, d.SpriteLayout); err != nil {
			return nil, err
		}
		return mode, nil
	case KindMultiState:
		if err := buildStates(mode, d.SpriteLayout); err != nil {
			return nil, err
		}
		return mode, nil
	}

	for k, r := range d.SpriteLayout {
		mode.variants[k] = r
	}
	for _, v := range requiredVariants[kind] {
		if _, ok := mode.variants[v]; !ok {
			return nil, &ConfigError{Mode: name, Variant: v, Err: ErrMissingVariant}
		}
	}
	return mode, nil
}

func buildBlob(mode *Mode, layout map[string]Rect) error {
	if mode.PatternSize == 0 {
		mode.PatternSize = DefaultPatternSize
	}
	ps := mode.PatternSize
	if mode.SheetWidth != BlobColumns*ps {
		return &ConfigError{Mode: mode.Name, Msg: fmt.Sprintf("sheet_width %d must be %d for %dpx patterns", mode.SheetWidth, BlobColumns*ps, ps), Err: ErrMissingVariant}
	}
	if mode.SheetHeight < BlobRows*ps {
		return &ConfigError{Mode: mode.Name, Msg: fmt.Sprintf("sheet_height %d cannot hold %d cells (need %d)", mode.SheetHeight, BlobTiles, BlobRows*ps), Err: ErrMissingVariant}
	}
	for i := 0; i < BlobTiles; i++ {
		mode.blob[i] = Rect{X: (i % BlobColumns) * ps, Y: (i / BlobColumns) * ps, Width: ps, Height: ps}
	}
	for k, r := range layout {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 || i >= BlobTiles {
			return &ConfigError{Mode: mode.Name, Variant: k, Msg: "not a blob tile index", Err: ErrMissingVariant}
		}
		mode.blob[i] = r
	}
	return nil
}

func buildStates(mode *Mode, layout map[string]Rect) error {
	n := mode.StateCount
	if n < 1 {
		return &ConfigError{Mode: mode.Name, Msg: fmt.Sprintf("state_count %d", n), Err: ErrInconsistentStateCount}
	}
	mode.states = make([]Rect, n)

	if len(layout) == 0 {
		// Horizontal strip: each state is an equal-width slice of the sheet.
		if mode.SheetWidth <= 0 || mode.SheetHeight <= 0 || mode.SheetWidth%n != 0 {
			return &ConfigError{Mode: mode.Name, Msg: fmt.Sprintf("no sprite_layout and sheet %dx%d cannot be split into %d states", mode.SheetWidth, mode.SheetHeight, n), Err: ErrInconsistentStateCount}
		}
		w := mode.SheetWidth / n
		for i := range mode.states {
			mode.states[i] = Rect{X: i * w, Y: 0, Width: w, Height: mode.SheetHeight}
		}
		return nil
	}

	seen := make([]bool, n)
	keys := make([]string, 0, len(layout))
	for k := range layout {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 || i >= n {
			return &ConfigError{Mode: mode.Name, Variant: k, Msg: fmt.Sprintf("state_count is %d", n), Err: ErrInconsistentStateCount}
		}
		mode.states[i] = layout[k]
		seen[i] = true
	}
	for i, ok := range seen {
		if !ok {
			return &ConfigError{Mode: mode.Name, Variant: strconv.Itoa(i), Msg: fmt.Sprintf("state_count is %d", n), Err: ErrInconsistentStateCount}
		}
	}
	return nil
}
