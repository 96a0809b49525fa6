package xr

import (
	"context"
	"time"

	"github.com/go-gl/mathgl/mgl32"
)

// FrameHandle identifies a pending session frame request.
type FrameHandle uint64

// Frame is one device-driven frame: the viewer pose and projection.
type Frame struct {
	Time       time.Time
	View       mgl32.Mat4
	Projection mgl32.Mat4
	Position   mgl32.Vec3
}

// FrameCallback receives a device frame on the UI thread.
type FrameCallback func(Frame)

// System is the XR runtime.
type System interface {
	IsSessionSupported(ctx context.Context, m Mode) (bool, error)
	RequestSession(ctx context.Context, m Mode, features FeatureSet) (Session, error)
}

// Session is a running XR session.
type Session interface {
	Mode() Mode
	RequestAnimationFrame(cb FrameCallback) FrameHandle
	CancelAnimationFrame(h FrameHandle)
	// End ends the session. Ending an ended session is a no-op.
	End(ctx context.Context) error
	// OnEnd registers fn to run once when the session ends, by End or by the device.
	// fn runs immediately if the session has already ended.
	OnEnd(fn func())
}

// Support is one row of a capability survey.
type Support struct {
	Mode      Mode
	Supported bool
	Err       error
}

// Survey queries every mode in priority order without short-circuiting.
func Survey(ctx context.Context, sys System) []Support {
	out := make([]Support, 0, len(Priority))
	for _, m := range Priority {
		ok, err := sys.IsSessionSupported(ctx, m)
		out = append(out, Support{Mode: m, Supported: ok && err == nil, Err: err})
	}
	return out
}
