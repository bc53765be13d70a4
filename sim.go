package main

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"bvh-server/bvh"
)

// DebugFlags are per-session viewer toggles
type DebugFlags uint8

const (
	FlagEntityState  DebugFlags = 1 << 0 // include velocity/steer in snapshots
	FlagVolumeLabels DebugFlags = 1 << 1 // viewer draws box sizes and depths
	FlagFreeze       DebugFlags = 1 << 2 // stop integrating entities
)

var flagNames = map[string]DebugFlags{
	"state":  FlagEntityState,
	"volume": FlagVolumeLabels,
	"freeze": FlagFreeze,
}

// Has reports whether f is set
func (d DebugFlags) Has(f DebugFlags) bool { return d&f != 0 }

// Names returns the names of the set flags, sorted
func (d DebugFlags) Names() []string {
	names := make([]string, 0, len(flagNames))
	for name, f := range flagNames {
		if d.Has(f) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Broadcaster interface for sending messages to viewers
type Broadcaster interface {
	SendJSON(msg interface{})
	SendBinary(data []byte)
}

// FrameRecorder receives sampled per-frame build statistics
type FrameRecorder interface {
	Record(stat FrameStat)
}

// frame is the scratch state of one tick. Its tree lives until the end of
// the tick.
type frame struct {
	tick    uint64
	time    float64
	builder string
	tree    *bvh.Tree
	build   time.Duration
	hits    int
	stats   bvh.TreeStats
	cursor  mgl64.Vec2
}

// Sim runs the entity simulation of one session and rebuilds its BVH every
// tick
type Sim struct {
	mu        sync.RWMutex
	sessionID string
	cfg       SimConfig
	opts      bvh.Options
	entities  *EntityStore
	builder   bvh.Builder
	viewport  mgl64.Vec2
	cursor    mgl64.Vec2
	flags     DebugFlags
	viewers   map[string]Broadcaster
	recorder  FrameRecorder
	logger    *zap.SugaredLogger

	tick    uint64
	time    float64
	last    FrameSummary
	lastErr error
	stop    chan struct{}
	once    sync.Once
}

// FrameSummary describes the most recent frame
type FrameSummary struct {
	Tick     uint64        `json:"tick"`
	Builder  string        `json:"builder"`
	Entities int           `json:"entities"`
	Build    time.Duration `json:"build_ns"`
	Hits     int           `json:"hits"`
	Stats    bvh.TreeStats `json:"stats"`
}

// NewSim creates a simulation with an empty entity set
func NewSim(sessionID string, cfg Config, recorder FrameRecorder, logger *zap.SugaredLogger) (*Sim, error) {
	opts := cfg.BVHOptions()
	opts.Pool = &bvh.Pool{}
	builder, err := bvh.New(cfg.BVH.Builder, opts)
	if err != nil {
		return nil, err
	}
	return &Sim{
		sessionID: sessionID,
		cfg:       cfg.Sim,
		opts:      opts,
		entities:  NewEntityStore(cfg.Sim, cfg.Sim.Seed),
		builder:   builder,
		viewport:  mgl64.Vec2{cfg.Sim.ViewportW, cfg.Sim.ViewportH},
		cursor:    mgl64.Vec2{-1, -1},
		viewers:   make(map[string]Broadcaster),
		recorder:  recorder,
		logger:    logger.With("session", sessionID),
		stop:      make(chan struct{}),
	}, nil
}

// Run starts the tick loop
func (s *Sim) Run() {
	ticker := time.NewTicker(s.cfg.TickDuration())
	defer ticker.Stop()

	dt := 1.0 / float64(s.cfg.TickRate)
	for {
		select {
		case <-ticker.C:
			s.update(dt)
		case <-s.stop:
			return
		}
	}
}

// Stop terminates the tick loop. It is safe to call more than once.
func (s *Sim) Stop() {
	s.once.Do(func() { close(s.stop) })
}

// AddViewer attaches a broadcaster. Returns false when the session is full.
func (s *Sim) AddViewer(id string, b Broadcaster, max int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.viewers[id]; !ok && max > 0 && len(s.viewers) >= max {
		return false
	}
	s.viewers[id] = b
	return true
}

// RemoveViewer detaches a broadcaster
func (s *Sim) RemoveViewer(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.viewers, id)
}

// ViewerCount returns the number of attached viewers
func (s *Sim) ViewerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.viewers)
}

// EntityCount returns the number of live entities
func (s *Sim) EntityCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entities.Len()
}

// Spawn adds up to n entities and returns how many were added
func (s *Sim) Spawn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entities.Spawn(n, s.time, s.viewport)
}

// Clear removes all entities
func (s *Sim) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities.Clear()
}

// SetCursor moves the hit-test point
func (s *Sim) SetCursor(x, y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = mgl64.Vec2{x, y}
}

// SetViewport resizes the world entities bounce in
func (s *Sim) SetViewport(w, h float64) error {
	if w <= 0 || h <= 0 || w > 1e6 || h > 1e6 {
		return fmt.Errorf("invalid viewport %vx%v", w, h)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewport = mgl64.Vec2{w, h}
	return nil
}

// ToggleFlag flips a debug flag by name and returns the new flag set
func (s *Sim) ToggleFlag(name string) (DebugFlags, error) {
	f, ok := flagNames[name]
	if !ok {
		return 0, fmt.Errorf("unknown flag %q", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags ^= f
	return s.flags, nil
}

// Flags returns the current debug flags
func (s *Sim) Flags() DebugFlags {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags
}

// SetBuilder switches the construction strategy from the next tick on
func (s *Sim) SetBuilder(name string) error {
	b, err := bvh.New(name, s.opts)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builder = b
	return nil
}

// BuilderName returns the active construction strategy
func (s *Sim) BuilderName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.builder.Name()
}

// Last returns a summary of the most recent frame and its build error, if any
func (s *Sim) Last() (FrameSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.lastErr
}

// update runs one tick: integrate, rebuild the tree, hit-test it, publish,
// release it
func (s *Sim) update(dt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tick++
	s.time += dt
	if !s.flags.Has(FlagFreeze) {
		s.entities.Step(s.time, dt, s.viewport)
	}

	start := time.Now()
	tree, err := s.builder.Build(s.entities)
	if err != nil {
		if s.lastErr == nil {
			s.logger.Errorw("bvh build failed", "builder", s.builder.Name(), "entities", s.entities.Len(), "error", err)
		}
		s.lastErr = err
		return
	}
	defer tree.Release()
	s.lastErr = nil

	f := &frame{
		tick:    s.tick,
		time:    s.time,
		builder: s.builder.Name(),
		tree:    tree,
		build:   time.Since(start),
		cursor:  s.cursor,
	}
	f.hits = tree.HitTest(s.cursor)
	f.stats = tree.Stats()

	if s.cfg.Validate {
		if err := tree.Validate(s.entities); err != nil {
			s.logger.Errorw("bvh invariant violated", "builder", f.builder, "tick", f.tick, "error", err)
		}
	}

	s.last = FrameSummary{
		Tick:     f.tick,
		Builder:  f.builder,
		Entities: s.entities.Len(),
		Build:    f.build,
		Hits:     f.hits,
		Stats:    f.stats,
	}

	if s.tick%s.cfg.BroadcastEvery() == 0 && len(s.viewers) > 0 {
		s.broadcastFrame(f)
	}
	if s.recorder != nil && s.cfg.StatsEvery > 0 && s.tick%uint64(s.cfg.StatsEvery) == 0 {
		s.recorder.Record(FrameStat{
			SessionID: s.sessionID,
			Builder:   f.builder,
			Entities:  s.entities.Len(),
			Nodes:     f.stats.Leaves + f.stats.Internal,
			Depth:     f.stats.Depth,
			BuildUS:   f.build.Microseconds(),
			Timestamp: time.Now().UTC(),
		})
	}
}

// broadcastFrame sends the frame as a msgpack snapshot to all viewers
func (s *Sim) broadcastFrame(f *frame) {
	data, err := msgpack.Marshal(newSnapshot(f, s.entities.All(), s.flags))
	if err != nil {
		s.logger.Warnw("snapshot marshal failed", "error", err)
		return
	}
	for _, v := range s.viewers {
		v.SendBinary(data)
	}
}
