package picking

import (
	gomath "math"

	"github.com/go-gl/mathgl/mgl32"
)

// AABB represents an axis-aligned bounding box.
type AABB struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

// EmptyAABB returns a box that contains nothing and grows with Extend.
func EmptyAABB() AABB {
	inf := float32(gomath.MaxFloat32)
	return AABB{
		Min: mgl32.Vec3{inf, inf, inf},
		Max: mgl32.Vec3{-inf, -inf, -inf},
	}
}

// NewAABB creates an AABB from two corners, ordering each axis.
func NewAABB(a, b mgl32.Vec3) AABB {
	box := AABB{Min: a, Max: b}
	for i := 0; i < 3; i++ {
		if box.Min[i] > box.Max[i] {
			box.Min[i], box.Max[i] = box.Max[i], box.Min[i]
		}
	}
	return box
}

// BoundsOf returns the box enclosing points.
func BoundsOf(points []mgl32.Vec3) AABB {
	box := EmptyAABB()
	for _, p := range points {
		box = box.ExtendPoint(p)
	}
	return box
}

// IsEmpty reports whether the box encloses no point.
func (b AABB) IsEmpty() bool {
	return b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] || b.Min[2] > b.Max[2]
}

// ExtendPoint returns the box grown to include p.
func (b AABB) ExtendPoint(p mgl32.Vec3) AABB {
	for i := 0; i < 3; i++ {
		if p[i] < b.Min[i] {
			b.Min[i] = p[i]
		}
		if p[i] > b.Max[i] {
			b.Max[i] = p[i]
		}
	}
	return b
}

// Extend returns the union of b and o.
func (b AABB) Extend(o AABB) AABB {
	if o.IsEmpty() {
		return b
	}
	return b.ExtendPoint(o.Min).ExtendPoint(o.Max)
}

// Center returns the box midpoint.
func (b AABB) Center() mgl32.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Size returns the box extent on each axis.
func (b AABB) Size() mgl32.Vec3 {
	if b.IsEmpty() {
		return mgl32.Vec3{}
	}
	return b.Max.Sub(b.Min)
}

// Transform returns the world box enclosing b after applying m.
func (b AABB) Transform(m mgl32.Mat4) AABB {
	if b.IsEmpty() {
		return b
	}
	out := EmptyAABB()
	for i := 0; i < 8; i++ {
		corner := mgl32.Vec3{b.Min[0], b.Min[1], b.Min[2]}
		if i&1 != 0 {
			corner[0] = b.Max[0]
		}
		if i&2 != 0 {
			corner[1] = b.Max[1]
		}
		if i&4 != 0 {
			corner[2] = b.Max[2]
		}
		out = out.ExtendPoint(m.Mul4x1(corner.Vec4(1)).Vec3())
	}
	return out
}

// Pad returns the box grown by amount on every side.
func (b AABB) Pad(amount float32) AABB {
	if b.IsEmpty() {
		return b
	}
	d := mgl32.Vec3{amount, amount, amount}
	return AABB{Min: b.Min.Sub(d), Max: b.Max.Add(d)}
}

// WireframeVertices returns line-list endpoints for the 12 box edges.
func (b AABB) WireframeVertices() []mgl32.Vec3 {
	lo, hi := b.Min, b.Max
	c := func(x, y, z float32) mgl32.Vec3 { return mgl32.Vec3{x, y, z} }
	return []mgl32.Vec3{
		// Bottom face
		c(lo[0], lo[1], lo[2]), c(hi[0], lo[1], lo[2]),
		c(hi[0], lo[1], lo[2]), c(hi[0], lo[1], hi[2]),
		c(hi[0], lo[1], hi[2]), c(lo[0], lo[1], hi[2]),
		c(lo[0], lo[1], hi[2]), c(lo[0], lo[1], lo[2]),
		// Top face
		c(lo[0], hi[1], lo[2]), c(hi[0], hi[1], lo[2]),
		c(hi[0], hi[1], lo[2]), c(hi[0], hi[1], hi[2]),
		c(hi[0], hi[1], hi[2]), c(lo[0], hi[1], hi[2]),
		c(lo[0], hi[1], hi[2]), c(lo[0], hi[1], lo[2]),
		// Vertical edges
		c(lo[0], lo[1], lo[2]), c(lo[0], hi[1], lo[2]),
		c(hi[0], lo[1], lo[2]), c(hi[0], hi[1], lo[2]),
		c(hi[0], lo[1], hi[2]), c(hi[0], hi[1], hi[2]),
		c(lo[0], lo[1], hi[2]), c(lo[0], hi[1], hi[2]),
	}
}
