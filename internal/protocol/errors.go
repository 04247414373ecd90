package protocol

import (
	"errors"

	"tileforge.dev/internal/tiles/resolve"
)

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Request layer.
	ErrBadRequest = "E_BAD_REQUEST"
	ErrOutOfGrid  = "E_OUT_OF_GRID"
	ErrInternal   = "E_INTERNAL"

	// Resolution.
	ErrEmptyCell        = "E_EMPTY_CELL"
	ErrUnknownBlockType = "E_UNKNOWN_BLOCK_TYPE"
	ErrStateOutOfRange  = "E_STATE_OUT_OF_RANGE"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:  {},
	ErrBadRequest:       {},
	ErrOutOfGrid:        {},
	ErrInternal:         {},
	ErrEmptyCell:        {},
	ErrUnknownBlockType: {},
	ErrStateOutOfRange:  {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// CodeFor maps a resolve error to its wire code. nil maps to "".
func CodeFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, resolve.ErrEmptyCell):
		return ErrEmptyCell
	case errors.Is(err, resolve.ErrUnknownBlockType):
		return ErrUnknownBlockType
	case errors.Is(err, resolve.ErrStateOutOfRange):
		return ErrStateOutOfRange
	default:
		return ErrInternal
	}
}
