package protocol

import "tileforge.dev/internal/tiles/rules"

// HELLO (client -> server)
type HelloMsg struct {
	Type              string     `json:"type"`
	ProtocolVersion   string     `json:"protocol_version"`
	SupportedVersions []string   `json:"supported_versions,omitempty"`
	ClientName        string     `json:"client_name"`
	Grid              GridParams `json:"grid"`
}

// GridParams sizes the session grid. Zero values take the server defaults.
type GridParams struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	SelectedVersion string     `json:"selected_version,omitempty"`
	SessionID       string     `json:"session_id"`
	RulesDigest     string     `json:"rules_digest"`
	Grid            GridParams `json:"grid"`
	Modes           []ModeRef  `json:"modes"`
	BlockTypes      []string   `json:"block_types"`
	SolidBlocks     []string   `json:"solid_blocks,omitempty"`
}

type ModeRef struct {
	Name       string   `json:"name"`
	Kind       string   `json:"kind"`
	Variants   []string `json:"variants,omitempty"`
	StateCount int      `json:"state_count,omitempty"`
}

// SET_BLOCKS (client -> server). An empty block clears the cell.
type SetBlocksMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	ID              string     `json:"id"`
	Cells           []CellEdit `json:"cells"`
}

type CellEdit struct {
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Block string `json:"block"`
	State int    `json:"state,omitempty"`
}

type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Applied         int    `json:"applied"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	GridDigest      string `json:"grid_digest,omitempty"`
}

// RESOLVE (client -> server). With All set, every occupied cell is resolved
// and Targets is ignored.
type ResolveMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	ID              string   `json:"id"`
	All             bool     `json:"all,omitempty"`
	Targets         []Target `json:"targets,omitempty"`
}

// Target names one cell. A nil State uses the state stored in the session grid.
type Target struct {
	X     int  `json:"x"`
	Y     int  `json:"y"`
	State *int `json:"state,omitempty"`
}

// RESOLVED (server -> client)
type ResolvedMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	ID              string      `json:"id"`
	Results         []ResultRef `json:"results"`
}

type ResultRef struct {
	X       int         `json:"x"`
	Y       int         `json:"y"`
	Block   string      `json:"block,omitempty"`
	Mode    string      `json:"mode,omitempty"`
	Variant string      `json:"variant,omitempty"`
	Rect    *rules.Rect `json:"rect,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
