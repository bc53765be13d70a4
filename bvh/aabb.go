package bvh

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Axis selects a component of a 2D vector.
type Axis int

const (
	AxisX Axis = 0
	AxisY Axis = 1
)

// AABB is an axis-aligned bounding box given by its min and max corners.
type AABB struct {
	Mins mgl64.Vec2
	Maxs mgl64.Vec2
}

// EmptyAABB returns the identity element for Combine. It covers nothing and
// must never be queried.
func EmptyAABB() AABB {
	inf := math.Inf(1)
	return AABB{
		Mins: mgl64.Vec2{inf, inf},
		Maxs: mgl64.Vec2{-inf, -inf},
	}
}

// CircleBox returns the box of a circle: pos expanded by r on both axes.
func CircleBox(pos mgl64.Vec2, r float64) AABB {
	return AABB{
		Mins: mgl64.Vec2{pos[0] - r, pos[1] - r},
		Maxs: mgl64.Vec2{pos[0] + r, pos[1] + r},
	}
}

// Combine returns the smallest box containing both a and b.
func Combine(a, b AABB) AABB {
	return AABB{
		Mins: mgl64.Vec2{math.Min(a.Mins[0], b.Mins[0]), math.Min(a.Mins[1], b.Mins[1])},
		Maxs: mgl64.Vec2{math.Max(a.Maxs[0], b.Maxs[0]), math.Max(a.Maxs[1], b.Maxs[1])},
	}
}

// Center returns the midpoint of the box.
func (b AABB) Center() mgl64.Vec2 {
	return b.Mins.Add(b.Maxs).Mul(0.5)
}

// Size returns maxs - mins.
func (b AABB) Size() mgl64.Vec2 {
	return b.Maxs.Sub(b.Mins)
}

// Valid reports whether mins <= maxs on both axes.
func (b AABB) Valid() bool {
	return b.Mins[0] <= b.Maxs[0] && b.Mins[1] <= b.Maxs[1]
}

// Contains reports whether p lies in the box, bounds included.
func (b AABB) Contains(p mgl64.Vec2) bool {
	return p[0] >= b.Mins[0] && p[0] <= b.Maxs[0] &&
		p[1] >= b.Mins[1] && p[1] <= b.Maxs[1]
}

// ContainsBox reports whether o lies entirely inside b.
func (b AABB) ContainsBox(o AABB) bool {
	return b.Contains(o.Mins) && b.Contains(o.Maxs)
}

// LongestAxis returns the axis the box is longer along. Ties favor X.
func (b AABB) LongestAxis() Axis {
	size := b.Size()
	if size[0] >= size[1] {
		return AxisX
	}
	return AxisY
}
