package main

import (
	"math/rand/v2"

	"github.com/go-gl/mathgl/mgl64"
)

// Entity is a moving circle
type Entity struct {
	Pos       mgl64.Vec2
	Vel       mgl64.Vec2
	Radius    float64
	NextSteer float64 // sim time of the next random re-steer
}

// EntityStore owns the entities of one simulation. It is the BVH source for
// every frame.
type EntityStore struct {
	cfg  SimConfig
	rng  *rand.Rand
	ents []*Entity
}

// NewEntityStore creates an empty store. A zero seed picks a random one.
func NewEntityStore(cfg SimConfig, seed uint64) *EntityStore {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &EntityStore{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(seed, seed>>1|1)),
	}
}

// Len implements bvh.Source
func (s *EntityStore) Len() int { return len(s.ents) }

// Body implements bvh.Source
func (s *EntityStore) Body(i int) (mgl64.Vec2, float64) {
	e := s.ents[i]
	return e.Pos, e.Radius
}

// All returns the live entities; callers must not keep the slice across ticks
func (s *EntityStore) All() []*Entity { return s.ents }

func (s *EntityStore) randRange(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}

// steer picks a new random heading at full speed and schedules the next one
func (s *EntityStore) steer(e *Entity, now float64) {
	dir := mgl64.Vec2{s.randRange(-1, 1), s.randRange(-1, 1)}
	if dir.Len() == 0 {
		dir = mgl64.Vec2{1, 0}
	}
	e.Vel = dir.Normalize().Mul(s.cfg.Speed)
	e.NextSteer = now + s.randRange(0, s.cfg.SteerInterval)
}

// Spawn adds n entities at the viewport center. It returns how many were
// added, which is less than n once MaxEntities is reached.
func (s *EntityStore) Spawn(n int, now float64, viewport mgl64.Vec2) int {
	added := 0
	for ; added < n && len(s.ents) < s.cfg.MaxEntities; added++ {
		e := &Entity{
			Pos:    viewport.Mul(0.5),
			Radius: s.randRange(s.cfg.RadiusMin, s.cfg.RadiusMax),
		}
		s.steer(e, now)
		s.ents = append(s.ents, e)
	}
	return added
}

// Clear removes every entity
func (s *EntityStore) Clear() {
	s.ents = nil
}

// Step re-steers due entities, integrates positions and bounces them off the
// viewport walls
func (s *EntityStore) Step(now, dt float64, viewport mgl64.Vec2) {
	for _, e := range s.ents {
		if e.NextSteer <= now {
			s.steer(e, now)
		}
		e.Pos = e.Pos.Add(e.Vel.Mul(dt))

		for axis := 0; axis < 2; axis++ {
			lo, hi := e.Radius, viewport[axis]-e.Radius
			if (e.Pos[axis] <= lo && e.Vel[axis] < 0) || (e.Pos[axis] >= hi && e.Vel[axis] > 0) {
				e.Vel[axis] = -e.Vel[axis]
			}
			e.Pos[axis] = Clamp(e.Pos[axis], lo, hi)
		}
	}
}
