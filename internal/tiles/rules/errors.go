package rules

import (
	"errors"
	"strings"
)

var (
	ErrMalformed              = errors.New("malformed document")
	ErrUnknownMode            = errors.New("unknown mode")
	ErrMissingVariant         = errors.New("missing variant")
	ErrInconsistentStateCount = errors.New("inconsistent state count")
	ErrUnknownBlockType       = errors.New("unknown block type")
)

// ConfigError reports why a rules document was rejected. Err is always one of
// the package sentinels so callers can use errors.Is.
type ConfigError struct {
	Mode    string
	Block   string
	Variant string
	Msg     string
	Err     error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	switch {
	case e.Mode != "":
		b.WriteString("tile_modes.")
		b.WriteString(e.Mode)
	case e.Block != "":
		b.WriteString("block_types.")
		b.WriteString(e.Block)
	default:
		b.WriteString("tile rules")
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	if e.Variant != "" {
		b.WriteString(" ")
		b.WriteString(`"` + e.Variant + `"`)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }
