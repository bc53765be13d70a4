package main

import (
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"bvh-server/bvh"
)

// mockBroadcaster captures sent messages for testing
type mockBroadcaster struct {
	mu       sync.Mutex
	messages []interface{}
	frames   [][]byte
}

func (m *mockBroadcaster) SendJSON(msg interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}

func (m *mockBroadcaster) SendBinary(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, data)
}

func (m *mockBroadcaster) lastSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.frames) == 0 {
		t.Fatal("no snapshot broadcast")
	}
	var snap Snapshot
	if err := msgpack.Unmarshal(m.frames[len(m.frames)-1], &snap); err != nil {
		t.Fatalf("msgpack unmarshal: %v", err)
	}
	return &snap
}

// mockRecorder captures frame stats
type mockRecorder struct {
	stats []FrameStat
}

func (m *mockRecorder) Record(s FrameStat) { m.stats = append(m.stats, s) }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Sim.Seed = 42
	cfg.Sim.MaxEntities = 50
	return cfg
}

// newTestSim returns a sim that is driven by calling update directly
func newTestSim(t *testing.T, cfg Config, rec FrameRecorder) *Sim {
	t.Helper()
	s, err := NewSim("test", cfg, rec, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("NewSim: %v", err)
	}
	return s
}

func TestSimSpawnRespectsCap(t *testing.T) {
	s := newTestSim(t, testConfig(), nil)
	if n := s.Spawn(30); n != 30 {
		t.Errorf("expected 30 spawned, got %d", n)
	}
	if n := s.Spawn(30); n != 20 {
		t.Errorf("expected 20 spawned at the cap, got %d", n)
	}
	if s.EntityCount() != 50 {
		t.Errorf("expected 50 entities, got %d", s.EntityCount())
	}
	s.Clear()
	if s.EntityCount() != 0 {
		t.Errorf("expected 0 entities after clear, got %d", s.EntityCount())
	}
}

func TestSimUpdateBuildsTree(t *testing.T) {
	s := newTestSim(t, testConfig(), nil)
	s.Spawn(10)
	s.update(1.0 / 60)

	last, err := s.Last()
	if err != nil {
		t.Fatalf("unexpected build error: %v", err)
	}
	if last.Tick != 1 || last.Entities != 10 {
		t.Errorf("unexpected summary %+v", last)
	}
	if last.Stats.Leaves != 10 || last.Stats.Internal != 9 || last.Stats.Bodies != 10 {
		t.Errorf("unexpected tree stats %+v", last.Stats)
	}
}

func TestSimUpdateEmpty(t *testing.T) {
	s := newTestSim(t, testConfig(), nil)
	b := &mockBroadcaster{}
	s.AddViewer("v1", b, 0)
	s.update(1.0 / 60)
	s.update(1.0 / 60)

	snap := b.lastSnapshot(t)
	if snap.Root != bvh.NoNode || len(snap.Nodes) != 0 || len(snap.Entities) != 0 {
		t.Errorf("expected empty snapshot, got %+v", snap)
	}
}

func TestSimBroadcastCadence(t *testing.T) {
	s := newTestSim(t, testConfig(), nil)
	b := &mockBroadcaster{}
	s.AddViewer("v1", b, 0)
	s.Spawn(5)

	// 60 Hz ticks, 30 Hz broadcasts
	for i := 0; i < 6; i++ {
		s.update(1.0 / 60)
	}
	if len(b.frames) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(b.frames))
	}

	snap := b.lastSnapshot(t)
	if snap.Tick != 6 || snap.Builder != bvh.TopDownName {
		t.Errorf("unexpected snapshot header %+v", snap)
	}
	if len(snap.Entities) != 5 || len(snap.Nodes) != 9 {
		t.Errorf("expected 5 entities and 9 nodes, got %d and %d", len(snap.Entities), len(snap.Nodes))
	}
	if snap.Nodes[0].ID != snap.Root || snap.Nodes[0].Depth != 0 || snap.Nodes[0].Count != 5 {
		t.Errorf("first node should be the root, got %+v", snap.Nodes[0])
	}
	// Velocities are only sent with the entity-state flag
	if snap.Entities[0].VX != 0 || snap.Entities[0].VY != 0 {
		t.Errorf("unexpected velocity in snapshot: %+v", snap.Entities[0])
	}
}

func TestSimViewerLimit(t *testing.T) {
	s := newTestSim(t, testConfig(), nil)
	if !s.AddViewer("a", &mockBroadcaster{}, 1) {
		t.Fatal("first viewer should fit")
	}
	if s.AddViewer("b", &mockBroadcaster{}, 1) {
		t.Error("second viewer should be rejected")
	}
	if !s.AddViewer("a", &mockBroadcaster{}, 1) {
		t.Error("re-adding an attached viewer should succeed")
	}
	s.RemoveViewer("a")
	if s.ViewerCount() != 0 {
		t.Errorf("expected 0 viewers, got %d", s.ViewerCount())
	}
}

func TestSimFreeze(t *testing.T) {
	s := newTestSim(t, testConfig(), nil)
	s.Spawn(3)
	if _, err := s.ToggleFlag("freeze"); err != nil {
		t.Fatal(err)
	}
	before := make([]Entity, 0, 3)
	for _, e := range s.entities.All() {
		before = append(before, *e)
	}
	for i := 0; i < 10; i++ {
		s.update(1.0 / 60)
	}
	for i, e := range s.entities.All() {
		if e.Pos != before[i].Pos {
			t.Errorf("entity %d moved while frozen: %v -> %v", i, before[i].Pos, e.Pos)
		}
	}

	flags, _ := s.ToggleFlag("freeze")
	if flags.Has(FlagFreeze) {
		t.Error("freeze should be toggled off")
	}
	s.update(1.0 / 60)
	if s.entities.All()[0].Pos == before[0].Pos {
		t.Error("entity should move once unfrozen")
	}
}

func TestSimToggleUnknownFlag(t *testing.T) {
	s := newTestSim(t, testConfig(), nil)
	if _, err := s.ToggleFlag("wireframe"); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestDebugFlagNames(t *testing.T) {
	f := FlagFreeze | FlagEntityState
	names := f.Names()
	if len(names) != 2 || names[0] != "freeze" || names[1] != "state" {
		t.Errorf("unexpected names %v", names)
	}
	if len(DebugFlags(0).Names()) != 0 {
		t.Error("expected no names for empty flags")
	}
}

func TestSimSetBuilder(t *testing.T) {
	s := newTestSim(t, testConfig(), nil)
	if err := s.SetBuilder("octree"); err == nil {
		t.Error("expected error for unknown builder")
	}
	if s.BuilderName() != bvh.TopDownName {
		t.Errorf("builder should be unchanged, got %s", s.BuilderName())
	}
	if err := s.SetBuilder(bvh.BottomUpName); err != nil {
		t.Fatal(err)
	}
	s.Spawn(6)
	s.update(1.0 / 60)
	last, _ := s.Last()
	if last.Builder != bvh.BottomUpName || last.Stats.Leaves != 6 || last.Stats.Internal != 5 {
		t.Errorf("unexpected summary %+v", last)
	}
}

func TestSimSetViewport(t *testing.T) {
	s := newTestSim(t, testConfig(), nil)
	if err := s.SetViewport(0, 100); err == nil {
		t.Error("expected error for zero width")
	}
	if err := s.SetViewport(200, 100); err != nil {
		t.Fatal(err)
	}
	s.Spawn(1)
	e := s.entities.All()[0]
	if e.Pos[0] != 100 || e.Pos[1] != 50 {
		t.Errorf("expected spawn at new viewport center, got %v", e.Pos)
	}
}

func TestSimCursorHitTest(t *testing.T) {
	s := newTestSim(t, testConfig(), nil)
	s.ToggleFlag("freeze")
	s.Spawn(1)

	s.SetCursor(400, 300)
	s.update(1.0 / 60)
	last, _ := s.Last()
	if last.Hits != 1 {
		t.Errorf("expected the single leaf to be hit, got %d", last.Hits)
	}

	s.SetCursor(0, 0)
	s.update(1.0 / 60)
	last, _ = s.Last()
	if last.Hits != 0 {
		t.Errorf("expected no hits far from the entity, got %d", last.Hits)
	}
}

func TestSimSnapshotHitEntities(t *testing.T) {
	s := newTestSim(t, testConfig(), nil)
	b := &mockBroadcaster{}
	s.AddViewer("v1", b, 0)
	s.ToggleFlag("freeze")
	s.Spawn(3)

	// Frozen entities stay where they spawned, at the viewport center
	s.SetCursor(400, 300)
	s.update(1.0 / 60)
	s.update(1.0 / 60)
	snap := b.lastSnapshot(t)
	got := append([]int(nil), snap.HitEntities...)
	sort.Ints(got)
	if len(got) != 3 || got[0] != 0 || got[1] != 1 || got[2] != 2 {
		t.Errorf("expected entities 0..2 under the cursor, got %v", snap.HitEntities)
	}

	s.SetCursor(0, 0)
	s.update(1.0 / 60)
	s.update(1.0 / 60)
	if snap := b.lastSnapshot(t); len(snap.HitEntities) != 0 {
		t.Errorf("expected no hit entities, got %v", snap.HitEntities)
	}
}

func TestSimBuildErrorReported(t *testing.T) {
	s := newTestSim(t, testConfig(), nil)
	s.Spawn(2)
	s.mu.Lock()
	s.entities.All()[1].Radius = -1
	s.mu.Unlock()

	s.update(1.0 / 60)
	if _, err := s.Last(); !errors.Is(err, bvh.ErrInvalidBody) {
		t.Fatalf("expected ErrInvalidBody, got %v", err)
	}

	s.Clear()
	s.update(1.0 / 60)
	if _, err := s.Last(); err != nil {
		t.Errorf("error should clear after a good frame, got %v", err)
	}
}

func TestSimRecordsStats(t *testing.T) {
	cfg := testConfig()
	cfg.Sim.StatsEvery = 2
	rec := &mockRecorder{}
	s := newTestSim(t, cfg, rec)
	s.Spawn(4)
	for i := 0; i < 4; i++ {
		s.update(1.0 / 60)
	}
	if len(rec.stats) != 2 {
		t.Fatalf("expected 2 sampled frames, got %d", len(rec.stats))
	}
	st := rec.stats[0]
	if st.SessionID != "test" || st.Builder != bvh.TopDownName || st.Entities != 4 || st.Nodes != 7 {
		t.Errorf("unexpected stat %+v", st)
	}
}

func TestSimValidateEveryFrame(t *testing.T) {
	cfg := testConfig()
	cfg.Sim.Validate = true
	s := newTestSim(t, cfg, nil)
	s.Spawn(50)
	for i := 0; i < 30; i++ {
		s.update(1.0 / 60)
	}
	if _, err := s.Last(); err != nil {
		t.Fatal(err)
	}
	tree, err := s.builder.Build(s.entities)
	if err != nil {
		t.Fatal(err)
	}
	defer tree.Release()
	if err := tree.Validate(s.entities); err != nil {
		t.Errorf("tree invalid after simulation: %v", err)
	}
}

func TestSimRunStop(t *testing.T) {
	s := newTestSim(t, testConfig(), nil)
	done := make(chan struct{})
	go func() {
		s.Run()
		close(done)
	}()
	s.Stop()
	<-done
	s.Stop() // second stop is a no-op
}
