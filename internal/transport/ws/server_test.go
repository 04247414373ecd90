package ws

import (
	"encoding/json"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tileforge.dev/internal/persistence/planlog"
	"tileforge.dev/internal/protocol"
	"tileforge.dev/internal/tiles/rules"
)

type memRecorder struct {
	mu      sync.Mutex
	entries []planlog.ResolveEntry
}

func (r *memRecorder) RecordResolve(e planlog.ResolveEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *memRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func newTestServer(t *testing.T, cfg Config) (*Server, *memRecorder, string) {
	t.Helper()
	m, err := rules.Load("../../../configs/tile_rules.json")
	if err != nil {
		t.Fatalf("load rules: %v", err)
	}
	s := NewServer(m, cfg, log.New(io.Discard, "", 0))
	rec := &memRecorder{}
	s.AddRecorder(rec)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, rec, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string, hello protocol.HelloMsg) (*websocket.Conn, protocol.WelcomeMsg) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	send(t, conn, hello)
	var w protocol.WelcomeMsg
	recv(t, conn, &w)
	return conn, w
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func recv(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("unmarshal %s: %v", b, err)
	}
}

func hello() protocol.HelloMsg {
	return protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      "test",
		Grid:            protocol.GridParams{Width: 8, Height: 8},
	}
}

func TestServer_ResolveRoundTrip(t *testing.T) {
	_, rec, url := newTestServer(t, Config{})
	conn, welcome := dial(t, url, hello())

	if welcome.Type != protocol.TypeWelcome || welcome.SessionID == "" || welcome.RulesDigest == "" {
		t.Fatalf("welcome=%+v", welcome)
	}
	if welcome.Grid.Width != 8 || welcome.Grid.Height != 8 {
		t.Fatalf("grid=%+v", welcome.Grid)
	}
	if len(welcome.Modes) == 0 || len(welcome.BlockTypes) == 0 {
		t.Fatalf("welcome missing catalog")
	}

	send(t, conn, protocol.SetBlocksMsg{
		Type:            protocol.TypeSetBlocks,
		ProtocolVersion: protocol.Version,
		ID:              "e1",
		Cells: []protocol.CellEdit{
			{X: 1, Y: 1, Block: "dirt"},
			{X: 1, Y: 2, Block: "vine"},
			{X: 1, Y: 3, Block: "vine"},
			{X: 4, Y: 4, Block: "lever", State: 1},
			{X: 6, Y: 6, Block: "lava"},
		},
	})
	var ack protocol.AckMsg
	recv(t, conn, &ack)
	if !ack.Accepted || ack.Applied != 5 || ack.AckFor != "e1" || ack.GridDigest == "" {
		t.Fatalf("ack=%+v", ack)
	}

	zero := 0
	send(t, conn, protocol.ResolveMsg{
		Type:            protocol.TypeResolve,
		ProtocolVersion: protocol.Version,
		ID:              "r1",
		Targets: []protocol.Target{
			{X: 1, Y: 2},
			{X: 4, Y: 4},
			{X: 4, Y: 4, State: &zero},
			{X: 0, Y: 0},
			{X: 6, Y: 6},
		},
	})
	var res protocol.ResolvedMsg
	recv(t, conn, &res)
	if res.ID != "r1" || len(res.Results) != 5 {
		t.Fatalf("resolved=%+v", res)
	}
	vine := res.Results[0]
	if vine.Variant != rules.VariantMiddle || vine.Rect == nil || *vine.Rect != (rules.Rect{X: 0, Y: 16, Width: 16, Height: 16}) {
		t.Fatalf("vine=%+v", vine)
	}
	if r := res.Results[1]; r.Variant != "1" || r.Rect.X != 16 {
		t.Fatalf("lever stored state=%+v", r)
	}
	if r := res.Results[2]; r.Variant != "0" || r.Rect.X != 0 {
		t.Fatalf("lever explicit state=%+v", r)
	}
	if r := res.Results[3]; r.Code != protocol.ErrEmptyCell || r.Rect != nil {
		t.Fatalf("empty=%+v", r)
	}
	if r := res.Results[4]; r.Code != protocol.ErrUnknownBlockType || r.Block != "lava" {
		t.Fatalf("lava=%+v", r)
	}
	if rec.len() != 5 {
		t.Fatalf("recorded=%d want 5", rec.len())
	}

	send(t, conn, protocol.ResolveMsg{Type: protocol.TypeResolve, ProtocolVersion: protocol.Version, ID: "r2", All: true})
	recv(t, conn, &res)
	if res.ID != "r2" || len(res.Results) != 5 {
		t.Fatalf("resolve all=%+v", res)
	}
}

func TestServer_SetBlocksRejectsOutOfGrid(t *testing.T) {
	_, _, url := newTestServer(t, Config{})
	conn, _ := dial(t, url, hello())

	send(t, conn, protocol.SetBlocksMsg{
		Type:            protocol.TypeSetBlocks,
		ProtocolVersion: protocol.Version,
		ID:              "e1",
		Cells:           []protocol.CellEdit{{X: 0, Y: 0, Block: "dirt"}, {X: 8, Y: 0, Block: "dirt"}},
	})
	var ack protocol.AckMsg
	recv(t, conn, &ack)
	if ack.Accepted || ack.Applied != 0 || ack.Code != protocol.ErrOutOfGrid {
		t.Fatalf("ack=%+v", ack)
	}

	// Nothing from the rejected batch was applied.
	send(t, conn, protocol.ResolveMsg{Type: protocol.TypeResolve, ProtocolVersion: protocol.Version, ID: "r", All: true})
	var res protocol.ResolvedMsg
	recv(t, conn, &res)
	if len(res.Results) != 0 {
		t.Fatalf("results=%+v", res.Results)
	}
}

func TestServer_ProtocolErrors(t *testing.T) {
	_, _, url := newTestServer(t, Config{MaxTargets: 2})
	conn, _ := dial(t, url, hello())

	cases := []struct {
		name string
		msg  string
		code string
	}{
		{"bad json", `{`, protocol.ErrProtoBadRequest},
		{"bad version", `{"type":"RESOLVE","protocol_version":"0.1","id":"x"}`, protocol.ErrProtoBadRequest},
		{"unknown type", `{"type":"PING","protocol_version":"1.0"}`, protocol.ErrProtoBadRequest},
		{"too many targets", `{"type":"RESOLVE","protocol_version":"1.0","id":"x","targets":[{"x":0,"y":0},{"x":1,"y":0},{"x":2,"y":0}]}`, protocol.ErrBadRequest},
	}
	for _, tc := range cases {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(tc.msg)); err != nil {
			t.Fatalf("%s: write: %v", tc.name, err)
		}
		var e protocol.ErrorMsg
		recv(t, conn, &e)
		if e.Type != protocol.TypeError || e.Code != tc.code {
			t.Fatalf("%s: got %+v want code %s", tc.name, e, tc.code)
		}
	}
}

func TestServer_HandshakeRejects(t *testing.T) {
	_, _, url := newTestServer(t, Config{MaxWidth: 16, MaxHeight: 16})

	expectClosed := func(name string, first any) {
		t.Helper()
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("%s: dial: %v", name, err)
		}
		defer conn.Close()
		send(t, conn, first)
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
		}
	}

	bad := hello()
	bad.ProtocolVersion = "0.9"
	expectClosed("version", bad)

	big := hello()
	big.Grid = protocol.GridParams{Width: 32, Height: 4}
	expectClosed("grid", big)

	expectClosed("not hello", protocol.ResolveMsg{Type: protocol.TypeResolve, ProtocolVersion: protocol.Version})

	ok := hello()
	ok.ProtocolVersion = "2.0"
	ok.SupportedVersions = []string{"2.0", protocol.Version}
	_, w := dial(t, url, ok)
	if w.SelectedVersion != protocol.Version {
		t.Fatalf("selected=%q", w.SelectedVersion)
	}
}
