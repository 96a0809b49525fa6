package emulator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"github.com/Faultbox/bimview/internal/engine/runloop"
	"github.com/Faultbox/bimview/internal/logger"
	"github.com/Faultbox/bimview/internal/xr"
)

var (
	// ErrRejected is returned for session requests on a profile that rejects them.
	ErrRejected = errors.New("emulator: session request rejected")
	// ErrBusy is returned when a session is already running.
	ErrBusy = errors.New("emulator: session already active")
)

const (
	orbitRadius = 6
	orbitPeriod = 20 * time.Second
)

// Device is an emulated XR runtime. Session frames are pumped from sched.
type Device struct {
	profile Profile
	sched   runloop.Scheduler
	log     *zap.Logger

	mu     sync.Mutex
	active *Session
}

// NewDevice creates a device for profile p.
func NewDevice(p Profile, sched runloop.Scheduler, log *zap.Logger) *Device {
	return &Device{
		profile: p.withDefaults(),
		sched:   sched,
		log:     logger.OrNop(log, "xr-emulator"),
	}
}

// Profile returns the device profile.
func (d *Device) Profile() Profile { return d.profile }

// IsSessionSupported implements xr.System.
func (d *Device) IsSessionSupported(ctx context.Context, m xr.Mode) (bool, error) {
	if d.profile.ProbeLatency > 0 {
		t := time.NewTimer(d.profile.ProbeLatency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return d.profile.Supports(m), nil
}

// RequestSession implements xr.System.
func (d *Device) RequestSession(ctx context.Context, m xr.Mode, features xr.FeatureSet) (xr.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.profile.RejectRequests {
		return nil, ErrRejected
	}
	if !d.profile.Supports(m) {
		return nil, fmt.Errorf("emulator: mode %q not supported by %s", m, d.profile.Name)
	}
	for _, f := range features.Required {
		if !d.profile.Has(f) {
			return nil, fmt.Errorf("emulator: required feature %q not supported by %s", f, d.profile.Name)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active != nil {
		return nil, ErrBusy
	}
	var granted []xr.Feature
	for _, f := range slices.Concat(features.Required, features.Optional) {
		if d.profile.Has(f) {
			granted = append(granted, f)
		}
	}
	s := &Session{dev: d, mode: m, features: granted, start: time.Now()}
	d.active = s
	d.log.Info("session started", zap.String("mode", string(m)), zap.Any("features", granted))
	return s, nil
}

// Active returns the running session, nil when none runs.
func (d *Device) Active() *Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Disconnect ends the running session as if the device went away.
// It reports whether a session was running.
func (d *Device) Disconnect() bool {
	s := d.Active()
	if s == nil {
		return false
	}
	d.log.Info("device disconnected", zap.String("mode", string(s.mode)))
	s.finish()
	return true
}

func (d *Device) release(s *Session) {
	d.mu.Lock()
	if d.active == s {
		d.active = nil
	}
	d.mu.Unlock()
}

// Session is an emulated session. It implements xr.Session.
type Session struct {
	dev      *Device
	mode     xr.Mode
	features []xr.Feature
	start    time.Time

	mu     sync.Mutex
	ended  bool
	onEnd  []func()
	frames uint64
}

// Mode implements xr.Session.
func (s *Session) Mode() xr.Mode { return s.mode }

// Features returns the granted features.
func (s *Session) Features() []xr.Feature { return s.features }

// Frames returns the number of frames delivered.
func (s *Session) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Ended reports whether the session ended.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// RequestAnimationFrame implements xr.Session.
func (s *Session) RequestAnimationFrame(cb xr.FrameCallback) xr.FrameHandle {
	h := s.dev.sched.RequestFrame(func(now time.Time) {
		s.mu.Lock()
		if s.ended {
			s.mu.Unlock()
			return
		}
		s.frames++
		s.mu.Unlock()
		cb(s.frameAt(now))
	})
	return xr.FrameHandle(h)
}

// CancelAnimationFrame implements xr.Session.
func (s *Session) CancelAnimationFrame(h xr.FrameHandle) {
	s.dev.sched.CancelFrame(runloop.Handle(h))
}

// End implements xr.Session.
func (s *Session) End(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.finish()
	return nil
}

// OnEnd implements xr.Session.
func (s *Session) OnEnd(fn func()) {
	s.mu.Lock()
	if !s.ended {
		s.onEnd = append(s.onEnd, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn()
}

func (s *Session) finish() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	handlers := s.onEnd
	s.onEnd = nil
	s.mu.Unlock()

	s.dev.release(s)
	for _, fn := range handlers {
		fn()
	}
}

// frameAt places the viewer on a slow circle around the origin at eye height.
func (s *Session) frameAt(now time.Time) xr.Frame {
	h := s.dev.profile.ViewerHeight
	angle := 2 * math.Pi * now.Sub(s.start).Seconds() / orbitPeriod.Seconds()
	eye := mgl32.Vec3{
		orbitRadius * float32(math.Cos(angle)),
		h,
		orbitRadius * float32(math.Sin(angle)),
	}
	return xr.Frame{
		Time:       now,
		View:       mgl32.LookAtV(eye, mgl32.Vec3{0, h, 0}, mgl32.Vec3{0, 1, 0}),
		Projection: mgl32.Perspective(mgl32.DegToRad(90), 1, 0.05, 1000),
		Position:   eye,
	}
}
