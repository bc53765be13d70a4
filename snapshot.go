package main

import (
	"math"

	"bvh-server/bvh"
)

// EntityState is one entity in a snapshot. Velocity and steering are only
// filled when the entity-state debug flag is on.
type EntityState struct {
	X         float64 `json:"x" msgpack:"x"`
	Y         float64 `json:"y" msgpack:"y"`
	R         float64 `json:"r" msgpack:"r"`
	VX        float64 `json:"vx,omitempty" msgpack:"vx,omitempty"`
	VY        float64 `json:"vy,omitempty" msgpack:"vy,omitempty"`
	NextSteer float64 `json:"ns,omitempty" msgpack:"ns,omitempty"`
}

// NodeState is one BVH node in a snapshot, in depth-first order
type NodeState struct {
	ID    int     `json:"id" msgpack:"id"`
	Depth int     `json:"d" msgpack:"d"`
	Leaf  bool    `json:"l" msgpack:"l"`
	Hit   bool    `json:"h" msgpack:"h"`
	MinX  float64 `json:"x0" msgpack:"x0"`
	MinY  float64 `json:"y0" msgpack:"y0"`
	MaxX  float64 `json:"x1" msgpack:"x1"`
	MaxY  float64 `json:"y1" msgpack:"y1"`
	Left  int     `json:"lc" msgpack:"lc"`
	Right int     `json:"rc" msgpack:"rc"`
	Count int     `json:"n" msgpack:"n"`
}

// Snapshot is the per-broadcast frame sent to viewers
type Snapshot struct {
	Tick        uint64        `json:"tick" msgpack:"tick"`
	Time        float64       `json:"time" msgpack:"time"`
	Builder     string        `json:"b" msgpack:"b"`
	Flags       DebugFlags    `json:"f" msgpack:"f"`
	BuildMicros int64         `json:"us" msgpack:"us"`
	Root        int           `json:"root" msgpack:"root"`
	Hits        int           `json:"hits" msgpack:"hits"`
	HitEntities []int         `json:"he,omitempty" msgpack:"he,omitempty"`
	Stats       bvh.TreeStats `json:"st" msgpack:"st"`
	CursorX     float64       `json:"cx" msgpack:"cx"`
	CursorY     float64       `json:"cy" msgpack:"cy"`
	Entities    []EntityState `json:"e" msgpack:"e"`
	Nodes       []NodeState   `json:"n" msgpack:"n"`
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// newSnapshot flattens the frame's tree and entities. It must run before the
// tree is released.
func newSnapshot(f *frame, ents []*Entity, flags DebugFlags) *Snapshot {
	snap := &Snapshot{
		Tick:        f.tick,
		Time:        round2(f.time),
		Builder:     f.builder,
		Flags:       flags,
		BuildMicros: f.build.Microseconds(),
		Root:        bvh.NoNode,
		Hits:        f.hits,
		Stats:       f.stats,
		CursorX:     f.cursor[0],
		CursorY:     f.cursor[1],
		Entities:    make([]EntityState, 0, len(ents)),
	}

	for _, e := range ents {
		es := EntityState{X: round2(e.Pos[0]), Y: round2(e.Pos[1]), R: round2(e.Radius)}
		if flags.Has(FlagEntityState) {
			es.VX = round2(e.Vel[0])
			es.VY = round2(e.Vel[1])
			es.NextSteer = round2(e.NextSteer)
		}
		snap.Entities = append(snap.Entities, es)
	}

	if f.tree.Empty() {
		return snap
	}
	snap.Root = f.tree.Root
	snap.HitEntities = f.tree.HitBodies()
	snap.Nodes = make([]NodeState, 0, len(f.tree.Nodes))
	f.tree.Walk(func(id int, n *bvh.Node, depth int) bool {
		snap.Nodes = append(snap.Nodes, NodeState{
			ID:    id,
			Depth: depth,
			Leaf:  n.IsLeaf(),
			Hit:   n.Hit,
			MinX:  n.Box.Mins[0],
			MinY:  n.Box.Mins[1],
			MaxX:  n.Box.Maxs[0],
			MaxY:  n.Box.Maxs[1],
			Left:  n.Left,
			Right: n.Right,
			Count: n.Count,
		})
		return true
	})
	return snap
}
