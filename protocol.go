package main

import "encoding/json"

// Viewer -> Server message types
const (
	MsgList     = "list"     // list sessions
	MsgCreate   = "create"   // create session
	MsgJoin     = "join"     // attach to a session as a viewer
	MsgResume   = "resume"   // re-attach with a token from a previous join
	MsgLeave    = "leave"    // detach from the session
	MsgSpawn    = "spawn"    // spawn entities at the viewport center
	MsgClear    = "clear"    // remove all entities
	MsgCursor   = "cursor"   // hit-test point
	MsgViewport = "viewport" // world bounds
	MsgToggle   = "toggle"   // flip a debug flag
	MsgBuilder  = "builder"  // switch BVH construction strategy
)

// Server -> Viewer message types. Snapshots go out as binary msgpack frames.
const (
	MsgSessions = "sessions"
	MsgCreated  = "created"
	MsgJoined   = "joined"
	MsgStatus   = "status" // reply to spawn/clear/toggle/builder
	MsgError    = "error"
)

// Binary viewer input: [0x01, x float32 BE, y float32 BE]
const (
	binCursor    = 0x01
	binCursorLen = 9
)

// Envelope wraps all outgoing JSON messages with a type field
type Envelope struct {
	T    string      `json:"t"`
	Data interface{} `json:"d,omitempty"`
}

// InEnvelope is used for incoming messages; json.RawMessage avoids double-unmarshal
type InEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// CreateMsg asks for a new session, optionally locked with a passphrase
type CreateMsg struct {
	Name string `json:"name"`
	Pass string `json:"pass,omitempty"`
}

// JoinMsg attaches the viewer to a session
type JoinMsg struct {
	SessionID string `json:"sid"`
	Pass      string `json:"pass,omitempty"`
}

// ResumeMsg re-attaches using a token from JoinedMsg
type ResumeMsg struct {
	Token string `json:"token"`
}

// SpawnMsg spawns N entities
type SpawnMsg struct {
	N int `json:"n"`
}

// CursorMsg moves the hit-test point
type CursorMsg struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ViewportMsg resizes the world
type ViewportMsg struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// ToggleMsg flips a debug flag by name: "state", "volume" or "freeze"
type ToggleMsg struct {
	Flag string `json:"flag"`
}

// BuilderMsg selects a construction strategy by name
type BuilderMsg struct {
	Name string `json:"name"`
}

// CreatedMsg confirms a new session
type CreatedMsg struct {
	SID string `json:"sid"`
}

// JoinedMsg confirms a join and carries the resume token
type JoinedMsg struct {
	SID      string   `json:"sid"`
	Viewer   string   `json:"vid"`
	Token    string   `json:"token"`
	Builder  string   `json:"builder"`
	Builders []string `json:"builders"`
}

// StatusMsg reports session controls after a change
type StatusMsg struct {
	Builder  string   `json:"builder"`
	Flags    []string `json:"flags"`
	Entities int      `json:"entities"`
	Spawned  int      `json:"spawned,omitempty"`
}

// SessionInfo is used in the session list
type SessionInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Viewers  int    `json:"viewers"`
	Entities int    `json:"entities"`
	Builder  string `json:"builder"`
	Locked   bool   `json:"locked"`
	// Last frame: tree height, build time and the build error if it failed
	Tick       uint64 `json:"tick"`
	Depth      int    `json:"depth"`
	BuildUS    int64  `json:"build_us"`
	BuildError string `json:"build_error,omitempty"`
}

// ErrorMsg sends error to client
type ErrorMsg struct {
	Msg string `json:"msg"`
}
