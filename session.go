package main

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	errTooManySessions = errors.New("too many active sessions")
	errSessionNotFound = errors.New("session not found")
	errSessionFull     = errors.New("session full")
	errBadPassphrase   = errors.New("wrong passphrase")
)

// Session is a named simulation viewers can attach to
type Session struct {
	ID        string
	Name      string
	PassHash  []byte // bcrypt; nil when unlocked
	CreatedAt time.Time
	Sim       *Sim

	idleSince time.Time // zero while viewers are attached
}

// Locked reports whether joining needs a passphrase
func (s *Session) Locked() bool { return len(s.PassHash) > 0 }

// SessionManager handles creation, lookup and reaping of sessions
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	cfg      Config
	auth     *Auth
	db       *DB
	recorder FrameRecorder
	logger   *zap.SugaredLogger
}

// NewSessionManager creates a new SessionManager. db and recorder may be nil.
func NewSessionManager(cfg Config, auth *Auth, db *DB, recorder FrameRecorder, logger *zap.SugaredLogger) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		auth:     auth,
		db:       db,
		recorder: recorder,
		logger:   logger,
	}
}

// CreateSession creates and starts a session. An empty pass leaves it
// unlocked.
func (sm *SessionManager) CreateSession(name, pass string) (*Session, error) {
	var hash []byte
	if pass != "" {
		var err error
		if hash, err = sm.auth.HashPassphrase(pass); err != nil {
			return nil, err
		}
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if len(sm.sessions) >= sm.cfg.Sessions.MaxSessions {
		return nil, errTooManySessions
	}

	id := GenerateUUID()
	sim, err := NewSim(id, sm.cfg, sm.recorder, sm.logger)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	sess := &Session{
		ID:        id,
		Name:      name,
		PassHash:  hash,
		CreatedAt: now,
		Sim:       sim,
		idleSince: now,
	}
	sm.sessions[id] = sess
	go sim.Run()

	if sm.db != nil {
		if err := sm.db.RecordSession(id, name, sess.Locked(), sim.BuilderName()); err != nil {
			sm.logger.Warnw("record session failed", "session", id, "error", err)
		}
	}
	sm.logger.Infow("session created", "session", id, "name", name, "locked", sess.Locked())
	return sess, nil
}

// GetSession returns a session by ID
func (sm *SessionManager) GetSession(id string) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[id]
}

// Join attaches a viewer to a session after checking its passphrase.
// trusted skips the check for viewers holding a valid resume token.
func (sm *SessionManager) Join(sid, pass string, trusted bool, viewerID string, b Broadcaster) (*Session, error) {
	sess := sm.GetSession(sid)
	if sess == nil {
		return nil, errSessionNotFound
	}
	if sess.Locked() && !trusted && !sm.auth.CheckPassphrase(sess.PassHash, pass) {
		return nil, errBadPassphrase
	}
	if err := sm.attach(sess, viewerID, b); err != nil {
		return nil, err
	}
	return sess, nil
}

// attach adds the viewer to sess unless it was reaped after the lookup.
// ReapIdle never removes a session that already has viewers.
func (sm *SessionManager) attach(sess *Session, viewerID string, b Broadcaster) error {
	if !sess.Sim.AddViewer(viewerID, b, sm.cfg.Sessions.MaxViewers) {
		return errSessionFull
	}
	sm.mu.Lock()
	if sm.sessions[sess.ID] != sess {
		sm.mu.Unlock()
		sess.Sim.RemoveViewer(viewerID)
		return errSessionNotFound
	}
	sess.idleSince = time.Time{}
	sm.mu.Unlock()
	return nil
}

// RemoveViewer detaches a viewer; the session is reaped once it has been
// empty for the idle timeout
func (sm *SessionManager) RemoveViewer(sessionID, viewerID string) {
	sess := sm.GetSession(sessionID)
	if sess == nil {
		return
	}
	sess.Sim.RemoveViewer(viewerID)
	if sess.Sim.ViewerCount() == 0 {
		sm.mu.Lock()
		sess.idleSince = time.Now()
		sm.mu.Unlock()
	}
}

// ReapIdle stops and removes sessions that have had no viewers since before
// now - idle timeout. It returns the number removed.
func (sm *SessionManager) ReapIdle(now time.Time) int {
	timeout := sm.cfg.Sessions.IdleTimeout()
	var reaped []*Session

	sm.mu.Lock()
	for id, sess := range sm.sessions {
		if sess.idleSince.IsZero() || now.Sub(sess.idleSince) < timeout {
			continue
		}
		if sess.Sim.ViewerCount() > 0 {
			sess.idleSince = time.Time{}
			continue
		}
		delete(sm.sessions, id)
		reaped = append(reaped, sess)
	}
	sm.mu.Unlock()

	for _, sess := range reaped {
		sess.Sim.Stop()
		if sm.db != nil {
			if err := sm.db.EndSession(sess.ID); err != nil {
				sm.logger.Warnw("end session failed", "session", sess.ID, "error", err)
			}
		}
		sm.logger.Infow("session reaped", "session", sess.ID)
	}
	return len(reaped)
}

// RunReaper calls ReapIdle periodically until stop is closed
func (sm *SessionManager) RunReaper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			sm.ReapIdle(now)
		case <-stop:
			return
		}
	}
}

// StopAll stops every session's tick loop
func (sm *SessionManager) StopAll() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for id, sess := range sm.sessions {
		sess.Sim.Stop()
		delete(sm.sessions, id)
	}
}

// ListSessions returns info about all active sessions, oldest first
func (sm *SessionManager) ListSessions() []SessionInfo {
	sm.mu.RLock()
	sessions := make([]*Session, 0, len(sm.sessions))
	for _, sess := range sm.sessions {
		sessions = append(sessions, sess)
	}
	sm.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	list := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		info := SessionInfo{
			ID:       sess.ID,
			Name:     sess.Name,
			Viewers:  sess.Sim.ViewerCount(),
			Entities: sess.Sim.EntityCount(),
			Builder:  sess.Sim.BuilderName(),
			Locked:   sess.Locked(),
		}
		last, err := sess.Sim.Last()
		info.Tick = last.Tick
		info.Depth = last.Stats.Depth
		info.BuildUS = last.Build.Microseconds()
		if err != nil {
			info.BuildError = err.Error()
		}
		list = append(list, info)
	}
	return list
}

// SessionCount returns the number of active sessions
func (sm *SessionManager) SessionCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}
