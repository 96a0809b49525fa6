// Package viewer wires one model viewer instance: scene, render loop, model
// loader, selection overlay and XR controller, owned by a single context
// and torn down in a fixed order.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Faultbox/bimview/internal/assets"
	"github.com/Faultbox/bimview/internal/engine/camera"
	"github.com/Faultbox/bimview/internal/engine/gpu"
	"github.com/Faultbox/bimview/internal/engine/renderloop"
	"github.com/Faultbox/bimview/internal/engine/runloop"
	"github.com/Faultbox/bimview/internal/engine/scene"
	"github.com/Faultbox/bimview/internal/engine/screenshot"
	"github.com/Faultbox/bimview/internal/logger"
	"github.com/Faultbox/bimview/internal/model"
	"github.com/Faultbox/bimview/internal/selection"
	"github.com/Faultbox/bimview/internal/telemetry"
	"github.com/Faultbox/bimview/internal/xr"
)

var (
	// ErrClosed is returned by operations on a closed viewer.
	ErrClosed = errors.New("viewer: closed")
	// ErrEditNotPermitted is returned by UpdateElement when the user may not edit metadata.
	ErrEditNotPermitted = errors.New("viewer: editing not permitted")
	// ErrNotRetryable is returned by Retry unless the last load failed.
	ErrNotRetryable = errors.New("viewer: nothing to retry")
)

// Project describes the model a viewer opens.
type Project struct {
	ID            string
	ModelAssetURL string
	DisplayName   string
	Description   string
}

// Surface reports drawing surface size changes.
type Surface interface {
	OnResize(fn func(width, height int)) (detach func())
}

// Deps are the host-provided collaborators.
type Deps struct {
	Device gpu.Device
	// UI runs work on the UI thread. Frames schedules frame callbacks on it.
	UI     runloop.Executor
	Frames runloop.Scheduler
	Assets assets.Fetcher
	// XR is the device runtime. Nil means the host has none.
	XR      xr.System
	Surface Surface
}

// Options configures a viewer. All callbacks run on the UI thread except
// OnElementUpdated, which runs on the goroutine calling UpdateElement.
type Options struct {
	CanEditMetadata  bool
	OnElementUpdated func(ctx context.Context, elementID string, patch model.Patch) error

	OnSelect         func(*model.ElementRecord)
	OnClear          func()
	OnLoadState      func(LoadState)
	OnXRState        func(xr.State)
	OnXRAvailability func(mode xr.Mode, available bool)
	OnFatal          func(error)

	// Annotations are persisted edits applied to records as they are created.
	Annotations map[string]model.Patch

	ProbeDelay       time.Duration
	DampingFactor    float32
	MaxFrameFailures int
	Scene            *scene.Config
	HighlightColor   mgl32.Vec3
	HighlightOpacity float32

	Logger  *zap.Logger
	Metrics *telemetry.Metrics
}

// Phase is the model loading phase.
type Phase int

const (
	Loading Phase = iota
	Loaded
	Failed
)

func (p Phase) String() string {
	switch p {
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	default:
		return "failed"
	}
}

// LoadState reports the model loading progress. Err is set when Phase is Failed.
type LoadState struct {
	Phase    Phase
	Err      error
	Elements int
}

// Viewer is one open model viewer. Unless noted, methods run on the UI thread.
type Viewer struct {
	id      string
	project Project
	asset   model.Asset
	deps    Deps
	opts    Options
	log     *zap.Logger

	scene   *scene.Manager
	rig     *camera.Rig
	loop    *renderloop.Loop
	loader  *model.Loader
	overlay *selection.Overlay
	xr      *xr.Controller

	ctx    context.Context
	cancel context.CancelFunc

	load       LoadState
	generation int
	fatal      error

	probeTimer   *time.Timer
	unsubscribe  func()
	detachResize func()

	mu        sync.Mutex
	closed    bool
	closeDone chan struct{}
	closeErr  error
}

// Open builds the scene, shows the placeholder, starts rendering and begins
// loading the project model in the background. It must run on the UI thread.
func Open(ctx context.Context, deps Deps, project Project, opts Options) (*Viewer, error) {
	switch {
	case deps.Device == nil:
		return nil, errors.New("viewer: no drawing device")
	case deps.UI == nil || deps.Frames == nil:
		return nil, errors.New("viewer: no UI executor or frame scheduler")
	case deps.Assets == nil:
		return nil, errors.New("viewer: no asset fetcher")
	}
	if deps.XR == nil {
		deps.XR = noXR{}
	}

	id := uuid.NewString()
	log := logger.OrNop(opts.Logger, "viewer").With(
		zap.String("viewer", id),
		zap.String("project", project.ID),
	)
	opts.Logger = log

	cfg := scene.DefaultConfig()
	if opts.Scene != nil {
		cfg = *opts.Scene
	}

	v := &Viewer{
		id:        id,
		project:   project,
		asset:     model.NewAsset(project.ModelAssetURL),
		deps:      deps,
		opts:      opts,
		log:       log,
		closeDone: make(chan struct{}),
	}
	v.ctx, v.cancel = context.WithCancel(context.WithoutCancel(ctx))

	v.scene = scene.NewManager(deps.Device, cfg, log)
	if _, err := v.scene.Build(); err != nil {
		v.cancel()
		return nil, fmt.Errorf("viewer: %w", err)
	}
	v.rig = v.scene.Rig()
	v.rig.Orbit().Damping = opts.DampingFactor

	v.loader = model.NewLoader(deps.Assets, model.Options{Logger: log, Metrics: opts.Metrics})
	v.loader.SeedPatches(opts.Annotations)
	if err := v.scene.Attach(v.loader.Placeholder()); err != nil {
		v.scene.Dispose()
		v.cancel()
		return nil, fmt.Errorf("viewer: placeholder: %w", err)
	}
	v.rig.SaveHome()

	v.overlay = selection.New(v.scene, v.loader, selection.Options{
		Color:    opts.HighlightColor,
		Opacity:  opts.HighlightOpacity,
		OnSelect: opts.OnSelect,
		OnClear:  opts.OnClear,
		Logger:   log,
	})

	v.loop = renderloop.New(deps.Frames, v.scene, v.rig, renderloop.Options{
		MaxFailures: opts.MaxFrameFailures,
		OnFatal:     v.onFatal,
		Logger:      log,
		Metrics:     opts.Metrics,
	})

	v.xr = xr.NewController(deps.XR, deps.UI, handoff{v}, xr.Options{Logger: log, Metrics: opts.Metrics})
	if opts.OnXRState != nil {
		v.unsubscribe = v.xr.Subscribe(opts.OnXRState)
	}

	if deps.Surface != nil {
		v.detachResize = deps.Surface.OnResize(v.Resize)
	}

	v.loop.Start()
	v.startLoad()
	v.probeTimer = time.AfterFunc(opts.ProbeDelay, v.probe)

	log.Info("viewer opened",
		zap.String("name", project.DisplayName),
		zap.String("asset", project.ModelAssetURL),
	)
	return v, nil
}

// ID returns the instance id used in logs.
func (v *Viewer) ID() string { return v.id }

// Project returns the opened project.
func (v *Viewer) Project() Project { return v.project }

// Scene returns the scene manager.
func (v *Viewer) Scene() *scene.Manager { return v.scene }

// Camera returns the camera rig.
func (v *Viewer) Camera() *camera.Rig { return v.rig }

// RenderLoop returns the render loop.
func (v *Viewer) RenderLoop() *renderloop.Loop { return v.loop }

// Loader returns the model loader. Its methods may be called from any goroutine.
func (v *Viewer) Loader() *model.Loader { return v.loader }

func (v *Viewer) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

func (v *Viewer) setLoad(s LoadState) {
	v.load = s
	if v.opts.OnLoadState != nil {
		v.opts.OnLoadState(s)
	}
}

// startLoad fetches and parses the model off the UI thread and installs it on it.
// Results of superseded loads are dropped.
func (v *Viewer) startLoad() {
	v.generation++
	gen := v.generation
	v.setLoad(LoadState{Phase: Loading})

	go func() {
		m, err := v.loader.Load(v.ctx, v.asset)
		v.deps.UI.Post(func() {
			if gen != v.generation || v.isClosed() {
				return
			}
			if err != nil {
				v.log.Warn("model unavailable, showing placeholder", zap.Error(err))
				v.setLoad(LoadState{Phase: Failed, Err: err})
				return
			}
			v.installModel(m)
		})
	}()
}

// installModel swaps the placeholder for m. If m cannot be attached the
// placeholder goes back in and the load is reported failed.
func (v *Viewer) installModel(m *model.Model) {
	v.scene.DetachAll()
	v.overlay.Reset()
	v.loader.Install(m)

	if err := v.scene.Attach(m.Root); err != nil {
		v.loader.Install(nil)
		if perr := v.scene.Attach(v.loader.Placeholder()); perr != nil {
			v.log.Error("reattaching placeholder", zap.Error(perr))
		}
		v.log.Error("attaching model", zap.Error(err))
		v.setLoad(LoadState{Phase: Failed, Err: err})
		return
	}

	v.scene.FitCamera()
	v.log.Info("model installed", zap.Int("elements", m.Index.Len()))
	v.setLoad(LoadState{Phase: Loaded, Elements: m.Index.Len()})
}

// LoadState returns the current loading state.
func (v *Viewer) LoadState() LoadState { return v.load }

// Retry loads the model again after a failure.
func (v *Viewer) Retry() error {
	if v.isClosed() {
		return ErrClosed
	}
	if v.load.Phase != Failed {
		return ErrNotRetryable
	}
	v.log.Info("retrying model load")
	v.startLoad()
	return nil
}

// Reload fetches the model again regardless of the current state.
func (v *Viewer) Reload() error {
	if v.isClosed() {
		return ErrClosed
	}
	v.startLoad()
	return nil
}

func (v *Viewer) onFatal(err error) {
	v.fatal = err
	if v.opts.OnFatal != nil {
		v.opts.OnFatal(err)
	}
}

// Err returns the fatal renderer error, if any. The viewer must then be closed.
func (v *Viewer) Err() error { return v.fatal }

func (v *Viewer) probe() {
	ctx := v.ctx
	if ctx.Err() != nil {
		return
	}
	state, err := v.xr.Probe(ctx)
	if err != nil && !errors.Is(err, xr.ErrUnavailable) {
		v.log.Debug("xr probe", zap.Error(err))
		return
	}
	var mode xr.Mode
	d, available := state.(xr.Discovering)
	if available {
		mode = d.Mode()
	}
	if v.opts.OnXRAvailability != nil {
		v.deps.UI.Post(func() { v.opts.OnXRAvailability(mode, available) })
	}
}

// Resize updates the surface and camera. Zero sizes are ignored.
func (v *Viewer) Resize(width, height int) {
	if v.isClosed() {
		return
	}
	v.scene.Resize(width, height)
}

// PointerDrag orbits the camera. It has no effect while XR owns the camera.
func (v *Viewer) PointerDrag(dx, dy float32) {
	v.rig.Orbit().HandleDrag(dx, dy)
}

// PointerZoom dollies the camera. It has no effect while XR owns the camera.
func (v *Viewer) PointerZoom(delta float32) {
	v.rig.Orbit().HandleZoom(delta)
}

// PointerClick selects the element under a surface pixel, or clears the selection.
// It returns nil with no error on a miss.
func (v *Viewer) PointerClick(x, y float32) (*model.ElementRecord, error) {
	if v.isClosed() {
		return nil, ErrClosed
	}
	if v.rig.Driver() != camera.DriverOrbit {
		return nil, nil
	}
	w, h := v.deps.Device.Size()
	return v.overlay.Select(v.rig.ScreenRay(x, y, w, h))
}

// Select selects an element by id.
func (v *Viewer) Select(id string) (*model.ElementRecord, error) {
	if v.isClosed() {
		return nil, ErrClosed
	}
	return v.overlay.SelectID(id)
}

// ClearSelection drops the selection and its highlight.
func (v *Viewer) ClearSelection() { v.overlay.Clear() }

// Selected returns the record of the selected element, nil when nothing is selected.
func (v *Viewer) Selected() *model.ElementRecord {
	id := v.overlay.Selected()
	if id == "" {
		return nil
	}
	rec, err := v.loader.ElementProperties(id)
	if err != nil {
		return nil
	}
	return rec
}

// UpdateElement hands an edit to the host and, once the host accepted it,
// applies it to the element record. Safe to call from any goroutine.
func (v *Viewer) UpdateElement(ctx context.Context, id string, patch model.Patch) (*model.ElementRecord, error) {
	if v.isClosed() {
		return nil, ErrClosed
	}
	if !v.opts.CanEditMetadata {
		return nil, ErrEditNotPermitted
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	if _, err := v.loader.ElementProperties(id); err != nil {
		return nil, err
	}
	if v.opts.OnElementUpdated != nil {
		if err := v.opts.OnElementUpdated(ctx, id, patch); err != nil {
			return nil, fmt.Errorf("viewer: saving %q: %w", id, err)
		}
	}
	rec, err := v.loader.UpdateElement(id, patch)
	if err != nil {
		return nil, err
	}
	v.log.Info("element updated", zap.String("element", id))
	return rec, nil
}

// EnterXR starts an immersive session of the best supported mode.
// It blocks until the session is active and must not run on the UI thread.
func (v *Viewer) EnterXR(ctx context.Context) error {
	if v.isClosed() {
		return ErrClosed
	}
	return v.xr.Enter(ctx)
}

// ExitXR ends the session and gives the camera back to orbit control.
// It must not run on the UI thread.
func (v *Viewer) ExitXR(ctx context.Context) error {
	if v.isClosed() {
		return ErrClosed
	}
	return v.xr.Exit(ctx)
}

// XRState returns the XR controller state. Safe from any goroutine.
func (v *Viewer) XRState() xr.State { return v.xr.State() }

// XRCapabilities returns the mode found by the last probe and whether a probe completed.
func (v *Viewer) XRCapabilities() (xr.Mode, bool) { return v.xr.Capabilities() }

// ResetView returns the camera to the pose saved when the model was framed.
func (v *Viewer) ResetView() {
	if v.rig.Driver() != camera.DriverOrbit {
		return
	}
	v.rig.ResetHome()
}

// ToggleWireframe flips wireframe drawing of models and returns the new setting.
func (v *Viewer) ToggleWireframe() bool {
	on := !v.scene.Wireframe()
	v.scene.SetWireframe(on)
	return on
}

// Screenshot returns the last rendered frame.
func (v *Viewer) Screenshot() (*image.RGBA, error) {
	if v.isClosed() {
		return nil, ErrClosed
	}
	pix, w, h, err := v.deps.Device.ReadPixels()
	if err != nil {
		return nil, fmt.Errorf("viewer: reading frame: %w", err)
	}
	return screenshot.FromPixels(pix, w, h)
}

// Close tears the viewer down: it ends any XR session, stops the render loop,
// disposes the scene and detaches the resize listener, in that order.
// It must not run on the UI thread. Later calls wait for the first and return ErrClosed.
func (v *Viewer) Close(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		select {
		case <-v.closeDone:
		case <-ctx.Done():
			return ctx.Err()
		}
		return ErrClosed
	}
	v.closed = true
	v.mu.Unlock()
	defer close(v.closeDone)

	v.probeTimer.Stop()
	v.cancel()

	var errs []error
	if err := v.xr.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("ending xr: %w", err))
	}
	if v.unsubscribe != nil {
		v.unsubscribe()
	}

	err := v.deps.UI.Do(ctx, func() {
		v.loop.Stop()
		v.scene.Dispose()
		if v.detachResize != nil {
			v.detachResize()
			v.detachResize = nil
		}
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("releasing scene: %w", err))
	}

	v.closeErr = errors.Join(errs...)
	if v.closeErr != nil {
		v.log.Warn("viewer closed with errors", zap.Error(v.closeErr))
	} else {
		v.log.Info("viewer closed")
	}
	return v.closeErr
}

// handoff moves camera and frame scheduling between orbit control and the XR session.
// Its methods run on the UI thread.
type handoff struct{ v *Viewer }

func (h handoff) AcquireXR(m xr.Mode) {
	h.v.rig.AcquireXR()
	h.v.loop.Suspend()
	h.v.log.Debug("camera handed to xr", zap.String("mode", string(m)))
}

func (h handoff) XRFrame(f xr.Frame) error {
	h.v.rig.SetXRPose(f.View, f.Projection, f.Position)
	return h.v.loop.RenderXRFrame()
}

func (h handoff) ReleaseXR() {
	h.v.rig.ReleaseXR()
	h.v.loop.Unsuspend()
	h.v.log.Debug("camera returned to orbit control")
}

// noXR is the runtime of hosts without XR support.
type noXR struct{}

func (noXR) IsSessionSupported(context.Context, xr.Mode) (bool, error) { return false, nil }

func (noXR) RequestSession(_ context.Context, m xr.Mode, _ xr.FeatureSet) (xr.Session, error) {
	return nil, fmt.Errorf("no xr runtime for %s", m)
}
