package main

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bvh-server/bvh"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 4096
	sendBufSize       = 64
	maxMessagesPerSec = 120 // cursor updates arrive at pointer rate
	maxNameLen        = 30
)

// Client represents a WebSocket connection
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	viewerID   string
	remoteAddr string
	msgCount   int
	msgResetAt time.Time

	mu        sync.Mutex
	sessionID string
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufSize),
		viewerID:   GenerateID(8),
		remoteAddr: remoteAddr,
	}
}

// SessionID returns the attached session, or "" when detached
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) setSession(sid string) {
	c.mu.Lock()
	c.sessionID = sid
	c.mu.Unlock()
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.hub.TrackDisconnect(c.remoteAddr)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debugw("ws read error", "addr", c.remoteAddr, "error", err)
			}
			break
		}

		// Rate limiting
		now := time.Now()
		if now.After(c.msgResetAt) {
			c.msgCount = 0
			c.msgResetAt = now.Add(time.Second)
		}
		c.msgCount++
		if c.msgCount > maxMessagesPerSec {
			c.hub.logger.Warnw("rate limit exceeded, disconnecting", "addr", c.remoteAddr)
			break
		}

		if msgType == websocket.BinaryMessage && len(message) == binCursorLen && message[0] == binCursor {
			c.handleBinaryCursor(message)
		} else {
			c.handleMessage(message)
		}
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// Check for binary marker (0xFF prefix from SendBinary)
			var err error
			if len(message) > 0 && message[0] == 0xFF {
				err = c.conn.WriteMessage(websocket.BinaryMessage, message[1:])
			} else {
				err = c.conn.WriteMessage(websocket.TextMessage, message)
			}
			if err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendJSON sends a JSON message to the client
func (c *Client) SendJSON(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.logger.Warnw("marshal error", "error", err)
		return
	}
	c.SendRaw(data)
}

// SendRaw sends pre-marshaled bytes as a text message to the client
func (c *Client) SendRaw(data []byte) {
	defer func() { recover() }() // send may be closed by the hub
	select {
	case c.send <- data:
	default:
		// Client too slow, drop message
	}
}

// SendBinary sends pre-marshaled bytes as a binary WebSocket message.
// Prefixes with 0xFF marker byte so WritePump can distinguish from text.
func (c *Client) SendBinary(data []byte) {
	defer func() { recover() }()
	msg := make([]byte, len(data)+1)
	msg[0] = 0xFF
	copy(msg[1:], data)
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) sendError(msg string) {
	c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: msg}})
}

// handleMessage routes incoming messages (single-pass decode via InEnvelope)
func (c *Client) handleMessage(raw []byte) {
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.hub.logger.Debugw("unmarshal error", "addr", c.remoteAddr, "error", err)
		return
	}

	switch env.T {
	case MsgList:
		c.handleList()
	case MsgCreate:
		c.handleCreate(env.D)
	case MsgJoin:
		c.handleJoin(env.D)
	case MsgResume:
		c.handleResume(env.D)
	case MsgLeave:
		c.handleLeave()
	case MsgSpawn:
		c.handleSpawn(env.D)
	case MsgClear:
		c.handleClear()
	case MsgCursor:
		c.handleCursor(env.D)
	case MsgViewport:
		c.handleViewport(env.D)
	case MsgToggle:
		c.handleToggle(env.D)
	case MsgBuilder:
		c.handleBuilder(env.D)
	default:
		c.sendError("unknown message type")
	}
}

// session returns the attached session, or nil
func (c *Client) session() *Session {
	sid := c.SessionID()
	if sid == "" {
		return nil
	}
	return c.hub.sessions.GetSession(sid)
}

func (c *Client) sendStatus(sess *Session, spawned int) {
	c.SendJSON(Envelope{T: MsgStatus, Data: StatusMsg{
		Builder:  sess.Sim.BuilderName(),
		Flags:    sess.Sim.Flags().Names(),
		Entities: sess.Sim.EntityCount(),
		Spawned:  spawned,
	}})
}

func (c *Client) handleList() {
	c.SendJSON(Envelope{T: MsgSessions, Data: c.hub.sessions.ListSessions()})
}

func (c *Client) handleCreate(data json.RawMessage) {
	var msg CreateMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("bad create message")
		return
	}
	name := msg.Name
	if name == "" {
		name = "BVH Sandbox"
	}
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}

	sess, err := c.hub.sessions.CreateSession(name, msg.Pass)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.SendJSON(Envelope{T: MsgCreated, Data: CreatedMsg{SID: sess.ID}})
}

func (c *Client) handleJoin(data json.RawMessage) {
	var msg JoinMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("bad join message")
		return
	}
	if sess := c.hub.sessions.GetSession(msg.SessionID); sess != nil && sess.Locked() {
		if !c.hub.auth.checkRate(c.remoteAddr) {
			c.sendError("too many join attempts, try again later")
			return
		}
	}
	c.join(msg.SessionID, msg.Pass, false)
}

func (c *Client) handleResume(data json.RawMessage) {
	var msg ResumeMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("bad resume message")
		return
	}
	claims, err := c.hub.auth.ValidateToken(msg.Token)
	if err != nil {
		c.sendError("invalid token")
		return
	}
	c.join(claims.SessionID, "", true)
}

// join detaches from any current session and attaches to sid
func (c *Client) join(sid, pass string, trusted bool) {
	c.handleLeave()
	sess, err := c.hub.sessions.Join(sid, pass, trusted, c.viewerID, c)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.setSession(sess.ID)

	token, err := c.hub.auth.IssueToken(sess.ID, c.viewerID)
	if err != nil {
		c.hub.logger.Warnw("issue token failed", "session", sess.ID, "error", err)
	}
	c.SendJSON(Envelope{T: MsgJoined, Data: JoinedMsg{
		SID:      sess.ID,
		Viewer:   c.viewerID,
		Token:    token,
		Builder:  sess.Sim.BuilderName(),
		Builders: bvh.Names(),
	}})
}

func (c *Client) handleLeave() {
	sid := c.SessionID()
	if sid == "" {
		return
	}
	c.hub.sessions.RemoveViewer(sid, c.viewerID)
	c.setSession("")
}

func (c *Client) handleSpawn(data json.RawMessage) {
	sess := c.session()
	if sess == nil {
		c.sendError("not in a session")
		return
	}
	var msg SpawnMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("bad spawn message")
		return
	}
	n := msg.N
	if n <= 0 {
		n = 1
	}
	if limit := c.hub.cfg.Sim.MaxSpawn; n > limit {
		n = limit
	}
	c.sendStatus(sess, sess.Sim.Spawn(n))
}

func (c *Client) handleClear() {
	sess := c.session()
	if sess == nil {
		c.sendError("not in a session")
		return
	}
	sess.Sim.Clear()
	c.sendStatus(sess, 0)
}

func (c *Client) handleCursor(data json.RawMessage) {
	var msg CursorMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	c.setCursor(msg.X, msg.Y)
}

// handleBinaryCursor decodes [0x01, x float32 BE, y float32 BE]
func (c *Client) handleBinaryCursor(msg []byte) {
	x := math.Float32frombits(binary.BigEndian.Uint32(msg[1:5]))
	y := math.Float32frombits(binary.BigEndian.Uint32(msg[5:9]))
	c.setCursor(float64(x), float64(y))
}

func (c *Client) setCursor(x, y float64) {
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return
	}
	if sess := c.session(); sess != nil {
		sess.Sim.SetCursor(x, y)
	}
}

func (c *Client) handleViewport(data json.RawMessage) {
	sess := c.session()
	if sess == nil {
		c.sendError("not in a session")
		return
	}
	var msg ViewportMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("bad viewport message")
		return
	}
	if err := sess.Sim.SetViewport(msg.W, msg.H); err != nil {
		c.sendError(err.Error())
	}
}

func (c *Client) handleToggle(data json.RawMessage) {
	sess := c.session()
	if sess == nil {
		c.sendError("not in a session")
		return
	}
	var msg ToggleMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("bad toggle message")
		return
	}
	if _, err := sess.Sim.ToggleFlag(msg.Flag); err != nil {
		c.sendError(err.Error())
		return
	}
	c.sendStatus(sess, 0)
}

func (c *Client) handleBuilder(data json.RawMessage) {
	sess := c.session()
	if sess == nil {
		c.sendError("not in a session")
		return
	}
	var msg BuilderMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("bad builder message")
		return
	}
	if err := sess.Sim.SetBuilder(msg.Name); err != nil {
		c.sendError(err.Error())
		return
	}
	c.sendStatus(sess, 0)
}
