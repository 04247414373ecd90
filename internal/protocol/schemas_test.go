package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"tileforge.dev/internal/protocol"
	"tileforge.dev/internal/tiles/rules"
)

func TestSchemas_ValidateMessages(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		s, err := jsonschema.Compile(filepath.Join("schemas", name))
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}
	validate := func(s *jsonschema.Schema, msg any) {
		t.Helper()
		b, err := json.Marshal(msg)
		if err != nil {
			t.Fatal(err)
		}
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			t.Fatal(err)
		}
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate %s: %v", b, err)
		}
	}

	validate(compile("hello.schema.json"), protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      "editor",
		Grid:            protocol.GridParams{Width: 64, Height: 32},
	})

	validate(compile("set_blocks.schema.json"), protocol.SetBlocksMsg{
		Type:            protocol.TypeSetBlocks,
		ProtocolVersion: protocol.Version,
		ID:              "e1",
		Cells:           []protocol.CellEdit{{X: 1, Y: 2, Block: "vine"}, {X: 3, Y: 2, Block: ""}},
	})

	two := 2
	validate(compile("resolve.schema.json"), protocol.ResolveMsg{
		Type:            protocol.TypeResolve,
		ProtocolVersion: protocol.Version,
		ID:              "r1",
		Targets:         []protocol.Target{{X: 1, Y: 2}, {X: 0, Y: 0, State: &two}},
	})

	validate(compile("resolved.schema.json"), protocol.ResolvedMsg{
		Type:            protocol.TypeResolved,
		ProtocolVersion: protocol.Version,
		ID:              "r1",
		Results: []protocol.ResultRef{
			{X: 1, Y: 2, Block: "vine", Mode: "vine", Variant: "middle", Rect: &rules.Rect{Y: 16, Width: 16, Height: 16}},
			{X: 0, Y: 0, Code: protocol.ErrEmptyCell, Message: "empty cell"},
		},
	})
}

func TestSchemas_RejectBadResolve(t *testing.T) {
	s, err := jsonschema.Compile(filepath.Join("schemas", "resolve.schema.json"))
	if err != nil {
		t.Fatal(err)
	}
	var v any
	_ = json.Unmarshal([]byte(`{"type":"RESOLVE","protocol_version":"1.0","id":"r","targets":[{"x":"1"}]}`), &v)
	if err := s.Validate(v); err == nil {
		t.Fatalf("expected validation error")
	}
}
