package xr

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Faultbox/bimview/internal/engine/runloop"
	"github.com/Faultbox/bimview/internal/logger"
	"github.com/Faultbox/bimview/internal/telemetry"
)

var (
	// ErrUnavailable reports that no session mode is usable or the request was rejected.
	ErrUnavailable = errors.New("xr: unavailable")
	// ErrInvalidTransition reports an operation not allowed in the current state.
	ErrInvalidTransition = errors.New("xr: invalid transition")
	// ErrClosed reports use of a closed controller.
	ErrClosed = errors.New("xr: controller closed")
)

// Handoff moves camera and frame ownership between the host and a session.
// Every method runs on the UI thread.
type Handoff interface {
	// AcquireXR gives the device the camera pose and suspends self-scheduled rendering.
	AcquireXR(m Mode)
	// XRFrame renders one device frame.
	XRFrame(f Frame) error
	// ReleaseXR restores orbit control and self-scheduled rendering.
	ReleaseXR()
}

// Options configures a Controller.
type Options struct {
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
}

// Controller is the XR session state machine. Probe, Enter, Exit and Close block
// and must not be called on the UI thread; they reach it through the executor.
type Controller struct {
	sys     System
	exec    runloop.Executor
	handoff Handoff
	log     *zap.Logger
	metrics *telemetry.Metrics

	mu         sync.Mutex
	state      State
	probed     bool
	busy       bool
	closed     bool
	session    Session
	frame      FrameHandle
	activation string
	opDone     chan struct{} // closed when the in-flight operation returns
	idle       chan struct{} // closed when an Ending state settles
	subs       []subscriber
	nextSub    int
}

type subscriber struct {
	id int
	fn func(State)
}

// NewController creates a controller in Idle.
func NewController(sys System, exec runloop.Executor, h Handoff, opts Options) *Controller {
	return &Controller{
		sys:     sys,
		exec:    exec,
		handoff: h,
		log:     logger.OrNop(opts.Logger, "xr"),
		metrics: opts.Metrics,
		state:   Idle{},
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Capabilities returns the mode found by the last probe and whether a probe completed.
func (c *Controller) Capabilities() (Mode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.state.(Discovering); ok {
		return d.Mode(), true
	}
	if a, ok := c.state.(Active); ok {
		return a.Mode(), true
	}
	return "", c.probed
}

// Subscribe registers fn for state changes and returns a function removing it.
// Notifications are posted to the UI executor in transition order.
func (c *Controller) Subscribe(fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	id := c.nextSub
	c.subs = append(c.subs, subscriber{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

// setLocked changes state and posts notifications. c.mu must be held.
func (c *Controller) setLocked(s State) {
	prev := c.state
	c.state = s
	c.log.Debug("xr state", zap.Stringer("from", prev), zap.Stringer("to", s), zap.String("activation", c.activation))
	if len(c.subs) == 0 {
		return
	}
	subs := make([]func(State), len(c.subs))
	for i, sub := range c.subs {
		subs[i] = sub.fn
	}
	c.exec.Post(func() {
		for _, fn := range subs {
			fn(s)
		}
	})
}

// begin marks an operation in flight. It fails when closed or another operation runs.
func (c *Controller) begin() error {
	if c.closed {
		return ErrClosed
	}
	if c.busy {
		return fmt.Errorf("%w: operation already in progress", ErrInvalidTransition)
	}
	c.busy = true
	c.opDone = make(chan struct{})
	return nil
}

func (c *Controller) end() {
	c.mu.Lock()
	c.busy = false
	close(c.opDone)
	c.mu.Unlock()
}

// Probe queries modes in priority order and moves to Discovering on the first
// supported one. With none supported it stays Idle and returns ErrUnavailable.
func (c *Controller) Probe(ctx context.Context) (State, error) {
	c.mu.Lock()
	switch c.state.(type) {
	case Idle, Discovering:
	default:
		s := c.state
		c.mu.Unlock()
		return s, fmt.Errorf("%w: probe while %s", ErrInvalidTransition, s)
	}
	if err := c.begin(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()
	defer c.end()

	return c.probe(ctx)
}

func (c *Controller) probe(ctx context.Context) (State, error) {
	var found Mode
	for _, m := range Priority {
		ok, err := c.sys.IsSessionSupported(ctx, m)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return c.State(), ctxErr
		}
		if err != nil {
			c.log.Warn("xr support query failed", zap.String("mode", string(m)), zap.Error(err))
			continue
		}
		if ok {
			found = m
			break
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.probed = true
	if found == "" {
		if _, idle := c.state.(Idle); !idle {
			c.setLocked(Idle{})
		}
		c.log.Info("no xr session mode supported")
		return c.state, ErrUnavailable
	}
	d, _ := NewDiscovering(found)
	if c.state != State(d) {
		c.setLocked(d)
	}
	c.log.Info("xr mode supported", zap.String("mode", string(found)))
	return d, nil
}

// Enter starts a session of the best supported mode, probing first from Idle.
// On success the camera and frame scheduling belong to the session.
func (c *Controller) Enter(ctx context.Context) error {
	c.mu.Lock()
	switch c.state.(type) {
	case Idle, Discovering:
	default:
		s := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: enter while %s", ErrInvalidTransition, s)
	}
	if err := c.begin(); err != nil {
		c.mu.Unlock()
		return err
	}
	state := c.state
	c.mu.Unlock()
	defer c.end()

	if _, idle := state.(Idle); idle {
		var err error
		if state, err = c.probe(ctx); err != nil {
			if errors.Is(err, ErrUnavailable) {
				c.metrics.XRUnavailable()
			}
			return err
		}
	}
	mode := state.(Discovering).Mode()

	sess, err := c.sys.RequestSession(ctx, mode, FeaturesFor(mode))
	if err != nil {
		c.mu.Lock()
		c.setLocked(Idle{})
		c.mu.Unlock()
		c.metrics.XRUnavailable()
		c.log.Warn("xr session request failed", zap.String("mode", string(mode)), zap.Error(err))
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, mode, err)
	}

	if err := c.exec.Do(ctx, func() { c.handoff.AcquireXR(mode) }); err != nil {
		if endErr := sess.End(context.WithoutCancel(ctx)); endErr != nil {
			c.log.Warn("ending abandoned xr session", zap.Error(endErr))
		}
		c.mu.Lock()
		c.setLocked(Idle{})
		c.mu.Unlock()
		return fmt.Errorf("xr: handing camera to session: %w", err)
	}

	active, _ := NewActive(mode)
	c.mu.Lock()
	c.session = sess
	c.activation = uuid.NewString()
	c.setLocked(active)
	c.frame = sess.RequestAnimationFrame(c.onFrame(sess))
	c.mu.Unlock()

	c.metrics.XRSessionStarted(string(mode))
	c.log.Info("xr session started", zap.String("mode", string(mode)))

	// The device may end the session on any goroutine, including the UI thread,
	// so its teardown runs on its own.
	sess.OnEnd(func() {
		go func() {
			if err := c.teardown(context.Background(), sess, false); err != nil {
				c.log.Warn("xr teardown after device end", zap.Error(err))
			}
		}()
	})
	return nil
}

func (c *Controller) onFrame(sess Session) FrameCallback {
	var cb FrameCallback
	cb = func(f Frame) {
		c.mu.Lock()
		if c.session != sess || !IsActive(c.state) {
			c.mu.Unlock()
			return
		}
		c.frame = sess.RequestAnimationFrame(cb)
		c.mu.Unlock()

		if err := c.handoff.XRFrame(f); err != nil {
			c.log.Debug("xr frame failed", zap.Error(err))
		}
	}
	return cb
}

// Exit ends the active session and restores orbit control.
func (c *Controller) Exit(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !IsActive(c.state) {
		s := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: exit while %s", ErrInvalidTransition, s)
	}
	sess := c.session
	c.mu.Unlock()
	return c.teardown(ctx, sess, true)
}

// teardown is the single exit path for user exit, device end and Close.
// Only the caller that moves sess from Active to Ending performs it.
func (c *Controller) teardown(ctx context.Context, sess Session, endSession bool) error {
	c.mu.Lock()
	active, ok := c.state.(Active)
	if !ok || c.session != sess {
		c.mu.Unlock()
		return nil
	}
	ending, _ := NewEnding(active.Mode())
	c.idle = make(chan struct{})
	c.setLocked(ending)
	frame := c.frame
	activation := c.activation
	c.mu.Unlock()

	sess.CancelAnimationFrame(frame)

	var errs []error
	if endSession {
		if err := sess.End(ctx); err != nil {
			errs = append(errs, fmt.Errorf("ending session: %w", err))
		}
	}
	if err := c.exec.Do(context.WithoutCancel(ctx), c.handoff.ReleaseXR); err != nil {
		errs = append(errs, fmt.Errorf("restoring orbit control: %w", err))
	}

	c.mu.Lock()
	c.session = nil
	c.frame = 0
	c.activation = ""
	c.setLocked(Idle{})
	close(c.idle)
	c.idle = nil
	c.mu.Unlock()

	c.metrics.XRSessionEnded()
	c.log.Info("xr session ended",
		zap.String("mode", string(active.Mode())),
		zap.String("activation", activation),
		zap.Bool("by_device", !endSession),
	)
	return errors.Join(errs...)
}

// WaitIdle blocks until no operation or teardown is in flight.
func (c *Controller) WaitIdle(ctx context.Context) error {
	for {
		c.mu.Lock()
		var wait chan struct{}
		switch {
		case c.busy:
			wait = c.opDone
		case c.idle != nil:
			wait = c.idle
		}
		c.mu.Unlock()
		if wait == nil {
			return nil
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close ends any session, waits for in-flight operations and rejects later calls.
// Calling Close again is a no-op.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.WaitIdle(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	var err error
	if sess != nil {
		err = c.teardown(ctx, sess, true)
	}

	c.mu.Lock()
	c.subs = nil
	c.mu.Unlock()
	return err
}
