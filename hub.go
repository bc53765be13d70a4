package main

import (
	"sync"

	"go.uber.org/zap"
)

// Hub manages all connected clients and routes them to sessions
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	sessions   *SessionManager
	// Connection limiting (mutex-protected, accessed from HTTP handlers)
	connMu        sync.Mutex
	ipConns       map[string]int
	totalConns    int
	maxConnsPerIP int
	maxTotalConns int

	cfg    Config
	auth   *Auth
	stats  *StatsRecorder
	logger *zap.SugaredLogger
}

// NewHub creates a new Hub. db and stats may be nil.
func NewHub(cfg Config, db *DB, stats *StatsRecorder, logger *zap.SugaredLogger) *Hub {
	auth := NewAuth(db, cfg.Sessions.TokenTTL(), logger)
	var recorder FrameRecorder
	if stats != nil {
		recorder = stats
	}
	return &Hub{
		clients:       make(map[*Client]bool),
		register:      make(chan *Client, 64),
		unregister:    make(chan *Client, 64),
		sessions:      NewSessionManager(cfg, auth, db, recorder, logger),
		ipConns:       make(map[string]int),
		maxConnsPerIP: cfg.Sessions.MaxConnsPerIP,
		maxTotalConns: cfg.Sessions.MaxTotalConns,
		cfg:           cfg,
		auth:          auth,
		stats:         stats,
		logger:        logger,
	}
}

// CanAccept reports whether another connection from ip fits the limits
func (h *Hub) CanAccept(ip string) bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.totalConns >= h.maxTotalConns {
		return false
	}
	if h.ipConns[ip] >= h.maxConnsPerIP {
		return false
	}
	return true
}

func (h *Hub) TrackConnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]++
	h.totalConns++
}

func (h *Hub) TrackDisconnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]--
	if h.ipConns[ip] <= 0 {
		delete(h.ipConns, ip)
	}
	h.totalConns--
}

// Run processes register/unregister events
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			if sid := client.SessionID(); sid != "" {
				h.sessions.RemoveViewer(sid, client.viewerID)
			}
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// TotalConns returns the tracked connection count
func (h *Hub) TotalConns() int {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	return h.totalConns
}
