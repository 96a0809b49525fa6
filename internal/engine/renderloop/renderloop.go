// Package renderloop drives rendering: one self-rescheduling frame callback
// while the orbit camera owns the view, device-driven frames while XR does.
package renderloop

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/bimview/internal/engine/camera"
	"github.com/Faultbox/bimview/internal/engine/runloop"
	"github.com/Faultbox/bimview/internal/logger"
	"github.com/Faultbox/bimview/internal/telemetry"
)

// ErrRendererLost is reported after MaxFailures consecutive failed frames.
var ErrRendererLost = errors.New("renderloop: renderer lost")

// DefaultMaxFailures is the consecutive failure count that stops the loop.
const DefaultMaxFailures = 3

// Renderer draws one frame.
type Renderer interface {
	Render() error
}

// Options configures a Loop.
type Options struct {
	MaxFailures int
	// OnFatal receives ErrRendererLost (wrapping the last draw error) once, on the UI thread.
	OnFatal func(error)
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
}

// Loop is the render loop. All methods run on the UI thread.
type Loop struct {
	sched    runloop.Scheduler
	renderer Renderer
	rig      *camera.Rig
	opts     Options
	log      *zap.Logger

	handle    runloop.Handle
	scheduled bool
	running   bool
	paused    bool
	suspended bool
	stopped   bool
	lost      bool
	failures  int
	frames    uint64
}

// New creates a stopped loop.
func New(sched runloop.Scheduler, r Renderer, rig *camera.Rig, opts Options) *Loop {
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = DefaultMaxFailures
	}
	return &Loop{
		sched:    sched,
		renderer: r,
		rig:      rig,
		opts:     opts,
		log:      logger.OrNop(opts.Logger, "renderloop"),
	}
}

// Start begins self-scheduling. It has no effect once stopped.
func (l *Loop) Start() {
	if l.stopped || l.running {
		return
	}
	l.running = true
	l.log.Debug("render loop started")
	l.reschedule()
}

// Pause stops scheduling frames until Resume.
func (l *Loop) Pause() {
	l.paused = true
	l.cancel()
}

// Resume undoes Pause.
func (l *Loop) Resume() {
	if !l.paused {
		return
	}
	l.paused = false
	l.reschedule()
}

// Suspend hands frame scheduling to an XR session.
func (l *Loop) Suspend() {
	l.suspended = true
	l.cancel()
}

// Unsuspend takes frame scheduling back from the XR session.
func (l *Loop) Unsuspend() {
	if !l.suspended {
		return
	}
	l.suspended = false
	l.reschedule()
}

// Stop cancels scheduling for good. Later calls are no-ops.
func (l *Loop) Stop() {
	if l.stopped {
		return
	}
	l.stopped = true
	l.running = false
	l.cancel()
	l.log.Debug("render loop stopped", zap.Uint64("frames", l.frames))
}

// SelfScheduling reports whether the loop is currently rescheduling its own frames.
func (l *Loop) SelfScheduling() bool {
	return l.scheduled
}

// Stopped reports whether Stop ran, including after renderer loss.
func (l *Loop) Stopped() bool { return l.stopped }

// Suspended reports whether an XR session owns frame scheduling.
func (l *Loop) Suspended() bool { return l.suspended }

// Frames returns the number of frames rendered successfully.
func (l *Loop) Frames() uint64 { return l.frames }

func (l *Loop) canSchedule() bool {
	return l.running && !l.paused && !l.suspended && !l.stopped
}

func (l *Loop) reschedule() {
	if l.scheduled || !l.canSchedule() {
		return
	}
	l.handle = l.sched.RequestFrame(l.tick)
	l.scheduled = true
}

func (l *Loop) cancel() {
	if !l.scheduled {
		return
	}
	l.sched.CancelFrame(l.handle)
	l.scheduled = false
}

func (l *Loop) tick(now time.Time) {
	l.scheduled = false
	if !l.canSchedule() {
		return
	}
	if l.rig == nil || l.rig.Driver() == camera.DriverOrbit {
		if l.rig != nil {
			l.rig.Orbit().Update()
		}
		l.renderFrame(now)
	}
	l.reschedule()
}

// RenderXRFrame renders one device-driven frame with the same failure policy.
func (l *Loop) RenderXRFrame() error {
	if l.stopped {
		return ErrRendererLost
	}
	return l.renderFrame(time.Now())
}

func (l *Loop) renderFrame(now time.Time) error {
	start := time.Now()
	err := l.renderer.Render()
	if err == nil {
		l.failures = 0
		l.frames++
		l.opts.Metrics.FrameRendered(time.Since(start))
		return nil
	}

	l.failures++
	l.opts.Metrics.FrameSkipped()
	l.log.Warn("frame skipped",
		zap.Error(err),
		zap.Int("consecutive", l.failures),
		zap.Time("at", now),
	)
	if l.failures < l.opts.MaxFailures {
		return err
	}

	fatal := fmt.Errorf("%w after %d consecutive failures: %v", ErrRendererLost, l.failures, err)
	l.Stop()
	if !l.lost {
		l.lost = true
		l.opts.Metrics.RendererLost()
		l.log.Error("renderer lost", zap.Error(fatal))
		if l.opts.OnFatal != nil {
			l.opts.OnFatal(fatal)
		}
	}
	return fatal
}
