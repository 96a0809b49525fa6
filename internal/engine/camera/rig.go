package camera

import (
	gomath "math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/bimview/internal/engine/picking"
)

// Driver names who owns the rig pose.
type Driver int

const (
	DriverOrbit Driver = iota
	DriverXR
)

func (d Driver) String() string {
	if d == DriverXR {
		return "xr"
	}
	return "orbit"
}

// Projection holds perspective parameters. FovY is in degrees.
type Projection struct {
	FovY   float32
	Aspect float32
	Near   float32
	Far    float32
}

// DefaultProjection returns a 75 degree perspective with a 0.1..1000 depth range.
func DefaultProjection() Projection {
	return Projection{FovY: 75, Aspect: 16.0 / 9.0, Near: 0.1, Far: 1000}
}

// Matrix returns the projection matrix.
func (p Projection) Matrix() mgl32.Mat4 {
	return mgl32.Perspective(mgl32.DegToRad(p.FovY), p.Aspect, p.Near, p.Far)
}

type home struct {
	eye, target mgl32.Vec3
}

// Rig is the camera the renderer reads. Exactly one driver owns its pose:
// the orbit control, or an XR device while a session is active.
type Rig struct {
	Projection Projection

	orbit  *Orbit
	driver Driver

	orbitWasEnabled bool
	xrView          mgl32.Mat4
	xrProjection    mgl32.Mat4
	xrPosition      mgl32.Vec3
	hasXRPose       bool

	home home
}

// NewRig creates an orbit-driven rig.
func NewRig(orbit *Orbit, proj Projection) *Rig {
	if orbit == nil {
		orbit = NewOrbit()
	}
	r := &Rig{Projection: proj, orbit: orbit}
	r.SaveHome()
	return r
}

// Orbit returns the orbit control.
func (r *Rig) Orbit() *Orbit { return r.orbit }

// Driver returns the current pose owner.
func (r *Rig) Driver() Driver { return r.driver }

// AcquireXR hands pose ownership to the XR device and makes orbit input inert.
func (r *Rig) AcquireXR() {
	if r.driver == DriverXR {
		return
	}
	r.orbitWasEnabled = r.orbit.Enabled
	r.orbit.Enabled = false
	r.orbit.Stop()
	r.driver = DriverXR
	r.hasXRPose = false
}

// ReleaseXR returns pose ownership to the orbit control, restoring its enablement.
func (r *Rig) ReleaseXR() {
	if r.driver != DriverXR {
		return
	}
	r.driver = DriverOrbit
	r.orbit.Enabled = r.orbitWasEnabled
	r.hasXRPose = false
}

// SetXRPose sets the device-driven pose. Ignored unless the XR device owns the rig.
func (r *Rig) SetXRPose(view, projection mgl32.Mat4, position mgl32.Vec3) bool {
	if r.driver != DriverXR {
		return false
	}
	r.xrView = view
	r.xrProjection = projection
	r.xrPosition = position
	r.hasXRPose = true
	return true
}

// View returns the view matrix of the current driver.
func (r *Rig) View() mgl32.Mat4 {
	if r.driver == DriverXR && r.hasXRPose {
		return r.xrView
	}
	return r.orbit.ViewMatrix()
}

// ProjectionMatrix returns the projection of the current driver.
func (r *Rig) ProjectionMatrix() mgl32.Mat4 {
	if r.driver == DriverXR && r.hasXRPose {
		return r.xrProjection
	}
	return r.Projection.Matrix()
}

// Position returns the eye position in world space.
func (r *Rig) Position() mgl32.Vec3 {
	if r.driver == DriverXR && r.hasXRPose {
		return r.xrPosition
	}
	return r.orbit.Position()
}

// SetAspect updates the aspect ratio from a surface size.
func (r *Rig) SetAspect(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	r.Projection.Aspect = float32(width) / float32(height)
}

// ScreenRay returns the world ray under a pixel of a width x height surface.
func (r *Rig) ScreenRay(x, y float32, width, height int) picking.Ray {
	inv := r.ProjectionMatrix().Mul4(r.View()).Inv()
	return picking.ScreenToRay(x, y, float32(width), float32(height), inv)
}

// FitToBounds frames box from above one corner: the eye sits at the box
// center offset by the fit distance on every axis. padding scales the
// distance; 1 fits the largest extent exactly.
func (r *Rig) FitToBounds(box picking.AABB, padding float32) {
	if box.IsEmpty() {
		return
	}
	size := box.Size()
	maxDim := max(size[0], size[1], size[2])
	if maxDim == 0 {
		maxDim = 1
	}
	half := float64(mgl32.DegToRad(r.Projection.FovY)) / 2
	d := maxDim / float32(2*gomath.Tan(half)) * padding

	o := r.orbit
	center := box.Center()
	o.LookFrom(center.Add(mgl32.Vec3{d, d, d}), center)
	if o.Distance > o.MaxDistance {
		o.MaxDistance = o.Distance * 2
	}
	o.Distance = max(o.Distance, o.MinDistance)
	if far := o.Distance * 4; r.Projection.Far < far {
		r.Projection.Far = far
	}
}

// SaveHome records the current orbit pose as the reset target.
func (r *Rig) SaveHome() {
	r.home = home{eye: r.orbit.Position(), target: r.orbit.Target}
}

// ResetHome restores the saved orbit pose.
func (r *Rig) ResetHome() {
	r.orbit.LookFrom(r.home.eye, r.home.target)
}
