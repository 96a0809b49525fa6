// Package camera provides orbit control and the camera rig the renderer reads from.
package camera

import (
	gomath "math"

	"github.com/go-gl/mathgl/mgl32"
)

const settleEpsilon = 1e-5

// Orbit orbits around a target point. Input accumulates into pending deltas
// which Update integrates, easing them out when Damping is set.
type Orbit struct {
	// Point to orbit around
	Target mgl32.Vec3

	// Spherical coordinates
	Distance float32 // Distance from target
	Pitch    float32 // Vertical angle (radians)
	Yaw      float32 // Horizontal angle (radians)

	// Constraints
	MinDistance float32
	MaxDistance float32
	MinPitch    float32
	MaxPitch    float32

	// Sensitivity
	DragSensitivity float32
	ZoomSensitivity float32

	// Damping is the fraction of pending motion applied per Update. Zero applies it at once.
	Damping float32

	// Enabled gates all input. Update still settles motion already accepted.
	Enabled bool

	dYaw, dPitch, dZoom float32
}

// NewOrbit creates an orbit control with default settings.
func NewOrbit() *Orbit {
	return &Orbit{
		Distance:        20,
		Pitch:           0.5,
		MinDistance:     0.5,
		MaxDistance:     1000,
		MinPitch:        -1.5,
		MaxPitch:        1.5,
		DragSensitivity: 0.005,
		ZoomSensitivity: 0.1,
		Enabled:         true,
	}
}

// Position returns the camera position in world space.
func (o *Orbit) Position() mgl32.Vec3 {
	cp := float32(gomath.Cos(float64(o.Pitch)))
	x := o.Distance * cp * float32(gomath.Sin(float64(o.Yaw)))
	y := o.Distance * float32(gomath.Sin(float64(o.Pitch)))
	z := o.Distance * cp * float32(gomath.Cos(float64(o.Yaw)))
	return o.Target.Add(mgl32.Vec3{x, y, z})
}

// ViewMatrix returns the view matrix for this camera.
func (o *Orbit) ViewMatrix() mgl32.Mat4 {
	return mgl32.LookAtV(o.Position(), o.Target, mgl32.Vec3{0, 1, 0})
}

// HandleDrag queues rotation from a pointer drag delta in pixels.
func (o *Orbit) HandleDrag(deltaX, deltaY float32) {
	if !o.Enabled {
		return
	}
	o.dYaw -= deltaX * o.DragSensitivity
	o.dPitch += deltaY * o.DragSensitivity
}

// HandleZoom queues a zoom step. Positive delta moves closer.
func (o *Orbit) HandleZoom(delta float32) {
	if !o.Enabled {
		return
	}
	o.dZoom += delta * o.ZoomSensitivity
}

// Update integrates pending motion and reports whether the pose changed.
func (o *Orbit) Update() bool {
	if abs(o.dYaw) < settleEpsilon && abs(o.dPitch) < settleEpsilon && abs(o.dZoom) < settleEpsilon {
		o.Stop()
		return false
	}
	f := o.Damping
	if f <= 0 || f > 1 {
		f = 1
	}

	o.Yaw += o.dYaw * f
	o.Pitch = clamp(o.Pitch+o.dPitch*f, o.MinPitch, o.MaxPitch)
	o.Distance = clamp(o.Distance*(1-o.dZoom*f), o.MinDistance, o.MaxDistance)

	keep := 1 - f
	o.dYaw *= keep
	o.dPitch *= keep
	o.dZoom *= keep
	return true
}

// Stop drops pending motion.
func (o *Orbit) Stop() {
	o.dYaw, o.dPitch, o.dZoom = 0, 0, 0
}

// Moving reports whether motion is still pending.
func (o *Orbit) Moving() bool {
	return o.dYaw != 0 || o.dPitch != 0 || o.dZoom != 0
}

// LookFrom places the camera at eye looking at target.
func (o *Orbit) LookFrom(eye, target mgl32.Vec3) {
	o.Target = target
	d := eye.Sub(target)
	o.Distance = d.Len()
	if o.Distance == 0 {
		o.Pitch, o.Yaw = 0, 0
		return
	}
	o.Pitch = float32(gomath.Asin(float64(d[1] / o.Distance)))
	o.Yaw = float32(gomath.Atan2(float64(d[0]), float64(d[2])))
	o.Stop()
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
