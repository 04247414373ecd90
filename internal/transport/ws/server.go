package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"tileforge.dev/internal/persistence/planlog"
	"tileforge.dev/internal/protocol"
	"tileforge.dev/internal/tiles/grid"
	"tileforge.dev/internal/tiles/resolve"
	"tileforge.dev/internal/tiles/rules"
)

// Recorder receives every served resolution. It must not block.
type Recorder interface {
	RecordResolve(planlog.ResolveEntry)
}

type Config struct {
	DefaultWidth  int
	DefaultHeight int
	MaxWidth      int
	MaxHeight     int
	MaxTargets    int
	MaxQueue      int
	ReadTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultWidth <= 0 {
		c.DefaultWidth = 64
	}
	if c.DefaultHeight <= 0 {
		c.DefaultHeight = 64
	}
	if c.MaxWidth <= 0 {
		c.MaxWidth = 1024
	}
	if c.MaxHeight <= 0 {
		c.MaxHeight = 1024
	}
	if c.MaxTargets <= 0 {
		c.MaxTargets = 4096
	}
	if c.MaxQueue <= 0 {
		c.MaxQueue = 16
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	return c
}

// Server serves the resolve protocol. Each connection owns a private grid.
type Server struct {
	rules *rules.Model
	cfg   Config
	log   *log.Logger

	recorders []Recorder
	resolves  *planlog.ResolveLogger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	sessions atomic.Int64
}

func NewServer(m *rules.Model, cfg Config, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[ws] ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Server{
		rules: m,
		cfg:   cfg.withDefaults(),
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// AddRecorder registers a sink for served resolutions.
func (s *Server) AddRecorder(r Recorder) {
	if r != nil {
		s.recorders = append(s.recorders, r)
	}
}

// SetResolveLog mirrors served resolutions into compressed JSONL files.
func (s *Server) SetResolveLog(l *planlog.ResolveLogger) { s.resolves = l }

// Sessions returns the number of connected sessions.
func (s *Server) Sessions() int { return int(s.sessions.Load()) }

type session struct {
	id   string
	grid *grid.Chunked
	out  chan []byte
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		s.sessions.Add(1)
		defer s.sessions.Add(-1)
		s.log.Printf("session open id=%s grid=%dx%d", sess.id, sess.grid.Width(), sess.grid.Height())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			reply := s.dispatch(sess, msg)
			if reply == nil {
				continue
			}
			b, err := json.Marshal(reply)
			if err != nil {
				s.log.Printf("session %s marshal: %v", sess.id, err)
				continue
			}
			select {
			case sess.out <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
		cancel()
		<-done
		s.log.Printf("session close id=%s", sess.id)
	}
}

func (s *Server) dispatch(sess *session, msg []byte) any {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return errorMsg(protocol.ErrProtoBadRequest, "bad json")
	}
	if base.ProtocolVersion != protocol.Version {
		return errorMsg(protocol.ErrProtoBadRequest, fmt.Sprintf("bad protocol_version %q", base.ProtocolVersion))
	}
	switch base.Type {
	case protocol.TypeSetBlocks:
		var m protocol.SetBlocksMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return errorMsg(protocol.ErrProtoBadRequest, "bad SET_BLOCKS")
		}
		return s.setBlocks(sess, m)
	case protocol.TypeResolve:
		var m protocol.ResolveMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return errorMsg(protocol.ErrProtoBadRequest, "bad RESOLVE")
		}
		return s.resolve(sess, m)
	default:
		return errorMsg(protocol.ErrProtoBadRequest, fmt.Sprintf("unknown type %q", base.Type))
	}
}

func (s *Server) setBlocks(sess *session, m protocol.SetBlocksMsg) protocol.AckMsg {
	ack := protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          m.ID,
	}
	// All edits are checked before any is applied.
	for _, c := range m.Cells {
		p := grid.Pos{X: c.X, Y: c.Y}
		if !sess.grid.InBounds(p) {
			ack.Code = protocol.ErrOutOfGrid
			ack.Message = "cell " + p.String() + " outside grid"
			return ack
		}
		if c.State < 0 {
			ack.Code = protocol.ErrBadRequest
			ack.Message = "negative state at " + p.String()
			return ack
		}
	}
	for _, c := range m.Cells {
		p := grid.Pos{X: c.X, Y: c.Y}
		if c.Block == "" {
			sess.grid.Clear(p)
			ack.Applied++
			continue
		}
		if err := sess.grid.Set(p, c.Block); err != nil {
			ack.Code = protocol.ErrInternal
			ack.Message = err.Error()
			ack.GridDigest = sess.grid.Digest()
			return ack
		}
		_ = sess.grid.SetState(p, c.State)
		ack.Applied++
	}
	ack.Accepted = true
	ack.GridDigest = sess.grid.Digest()
	return ack
}

func (s *Server) resolve(sess *session, m protocol.ResolveMsg) any {
	targets := m.Targets
	if m.All {
		targets = targets[:0:0]
		sess.grid.Each(func(p grid.Pos, _ string) {
			targets = append(targets, protocol.Target{X: p.X, Y: p.Y})
		})
	}
	if len(targets) > s.cfg.MaxTargets {
		return errorMsg(protocol.ErrBadRequest, fmt.Sprintf("%d targets exceeds limit %d", len(targets), s.cfg.MaxTargets))
	}

	out := protocol.ResolvedMsg{
		Type:            protocol.TypeResolved,
		ProtocolVersion: protocol.Version,
		ID:              m.ID,
		Results:         make([]protocol.ResultRef, 0, len(targets)),
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, t := range targets {
		p := grid.Pos{X: t.X, Y: t.Y}
		state := sess.grid.StateAt(p)
		if t.State != nil {
			state = *t.State
		}
		ref := protocol.ResultRef{X: t.X, Y: t.Y}
		res, err := resolve.Describe(s.rules, sess.grid, p, state)
		if err != nil {
			ref.Code = protocol.CodeFor(err)
			ref.Message = err.Error()
			var re *resolve.Error
			if errors.As(err, &re) {
				ref.Block = re.Block
			}
		} else {
			r := res.Rect
			ref.Block = res.Block
			ref.Mode = res.Mode
			ref.Variant = res.Variant
			ref.Rect = &r
		}
		out.Results = append(out.Results, ref)
		s.record(planlog.ResolveEntry{
			Time:    now,
			Session: sess.id,
			Request: m.ID,
			X:       t.X,
			Y:       t.Y,
			Block:   ref.Block,
			Variant: ref.Variant,
			Code:    ref.Code,
		})
	}
	return out
}

func (s *Server) record(e planlog.ResolveEntry) {
	for _, r := range s.recorders {
		r.RecordResolve(e)
	}
	if s.resolves != nil {
		if err := s.resolves.WriteResolve(e); err != nil {
			s.log.Printf("resolve log: %v", err)
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	selected := ""
	if hello.ProtocolVersion == protocol.Version || slices.Contains(hello.SupportedVersions, protocol.Version) {
		selected = protocol.Version
	}
	if selected == "" {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil
	}

	w, h := hello.Grid.Width, hello.Grid.Height
	if w <= 0 {
		w = s.cfg.DefaultWidth
	}
	if h <= 0 {
		h = s.cfg.DefaultHeight
	}
	if w > s.cfg.MaxWidth || h > s.cfg.MaxHeight {
		_ = writeJSON(conn, errorMsg(protocol.ErrBadRequest, fmt.Sprintf("grid %dx%d exceeds %dx%d", w, h, s.cfg.MaxWidth, s.cfg.MaxHeight)))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "grid too large"), time.Now().Add(time.Second))
		return nil
	}
	g, err := grid.NewChunked(w, h)
	if err != nil {
		return nil
	}

	sess := &session{
		id:   fmt.Sprintf("S%d", s.nextID.Add(1)),
		grid: g,
		out:  make(chan []byte, s.cfg.MaxQueue),
	}
	if err := writeJSON(conn, s.welcome(sess, selected)); err != nil {
		return nil
	}
	return sess
}

func (s *Server) welcome(sess *session, selected string) protocol.WelcomeMsg {
	names := s.rules.Modes()
	modes := make([]protocol.ModeRef, 0, len(names))
	for _, name := range names {
		mode, _ := s.rules.Mode(name)
		modes = append(modes, protocol.ModeRef{
			Name:       name,
			Kind:       mode.Kind.String(),
			Variants:   mode.Variants(),
			StateCount: mode.StateCount,
		})
	}
	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SelectedVersion: selected,
		SessionID:       sess.id,
		RulesDigest:     s.rules.Digest(),
		Grid:            protocol.GridParams{Width: sess.grid.Width(), Height: sess.grid.Height()},
		Modes:           modes,
		BlockTypes:      s.rules.BlockTypes(),
		SolidBlocks:     s.rules.SolidBlocks(),
	}
}

func errorMsg(code, message string) protocol.ErrorMsg {
	return protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         message,
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
