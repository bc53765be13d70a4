package bvh

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Source is the set of bodies a tree is built over. Builders only read it.
type Source interface {
	Len() int
	Body(i int) (pos mgl64.Vec2, radius float64)
}

// Body is a circle with a position and a radius.
type Body struct {
	Pos    mgl64.Vec2
	Radius float64
}

// Bodies is a slice-backed Source.
type Bodies []Body

func (b Bodies) Len() int { return len(b) }

func (b Bodies) Body(i int) (mgl64.Vec2, float64) {
	return b[i].Pos, b[i].Radius
}

func bodyBox(src Source, i int) AABB {
	pos, r := src.Body(i)
	return CircleBox(pos, r)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// checkSource rejects inputs a builder cannot turn into a well-formed tree.
func checkSource(src Source, opts Options) error {
	n := src.Len()
	if n > opts.MaxBodies {
		return fmt.Errorf("%w: %d > %d", ErrTooManyBodies, n, opts.MaxBodies)
	}
	for i := 0; i < n; i++ {
		pos, r := src.Body(i)
		if !finite(pos[0]) || !finite(pos[1]) || !finite(r) || r <= 0 {
			return fmt.Errorf("%w: body %d at %v radius %v", ErrInvalidBody, i, pos, r)
		}
	}
	return nil
}
