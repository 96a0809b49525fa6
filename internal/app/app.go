// Package app implements the desktop host: it owns the window, input and UI
// run loop and drives one viewer instance.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/bimview/internal/annotations"
	"github.com/Faultbox/bimview/internal/assets"
	"github.com/Faultbox/bimview/internal/config"
	"github.com/Faultbox/bimview/internal/engine/gpu"
	"github.com/Faultbox/bimview/internal/engine/gpu/glgpu"
	"github.com/Faultbox/bimview/internal/engine/input"
	"github.com/Faultbox/bimview/internal/engine/runloop"
	"github.com/Faultbox/bimview/internal/engine/scene"
	"github.com/Faultbox/bimview/internal/engine/screenshot"
	"github.com/Faultbox/bimview/internal/engine/window"
	"github.com/Faultbox/bimview/internal/model"
	"github.com/Faultbox/bimview/internal/telemetry"
	"github.com/Faultbox/bimview/internal/viewer"
	"github.com/Faultbox/bimview/internal/xr"
	"github.com/Faultbox/bimview/internal/xr/emulator"
)

const (
	title         = "bimview"
	clickSlop     = 4
	watchDebounce = 250 * time.Millisecond
	closeTimeout  = 10 * time.Second
	maxRemounts   = 1
)

// surface is the drawing surface a viewer mounts on.
type surface interface {
	viewer.Surface
	Size() (width, height int)
	SetTitle(title string)
}

// deviceFactory creates the GPU device of one viewer mount.
type deviceFactory func(width, height int) (gpu.Device, error)

// App is the desktop viewer host.
type App struct {
	cfg     *config.Config
	session config.Session
	log     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	window    *window.Window
	surface   surface
	newDevice deviceFactory
	input     *input.Input
	// device belongs to the mounted viewer; its scene releases it on close.
	device  gpu.Device
	loop    *runloop.Loop
	assets  *assets.Manager
	store   *annotations.Store
	metrics *telemetry.Metrics
	xrdev   *emulator.Device
	shots   *screenshot.Capture
	watcher *assets.Watcher
	viewer  *viewer.Viewer

	clicks   input.Clicks
	running  bool
	closed   bool
	remounts int
	status   hostStatus

	xrBusy atomic.Bool
	ops    sync.WaitGroup
}

// New creates the window, GPU device and collaborators, then opens the viewer.
func New(ctx context.Context, cfg *config.Config, session config.Session, log *zap.Logger) (*App, error) {
	log.Info("initializing viewer host",
		zap.String("project", session.ProjectID),
		zap.String("model", session.ModelURL),
		zap.Int("width", cfg.Graphics.Width),
		zap.Int("height", cfg.Graphics.Height),
	)
	if session.ModelURL == "" {
		return nil, errors.New("no model given: pass --model or a positional URL")
	}

	a := &App{
		cfg:     cfg,
		session: session,
		log:     log,
		loop:    runloop.New(),
		metrics: telemetry.New(),
		shots:   screenshot.NewCapture(cfg.Viewer.ScreenshotDir, title),
		clicks:  input.Clicks{Slop: clickSlop},
	}
	a.ctx, a.cancel = context.WithCancel(ctx)

	var err error
	a.window, err = window.New(window.Config{
		Title:      title,
		Width:      cfg.Graphics.Width,
		Height:     cfg.Graphics.Height,
		Fullscreen: cfg.Graphics.Fullscreen,
		VSync:      cfg.Graphics.VSync,
	}, log.Named("window"))
	if err != nil {
		a.cancel()
		return nil, fmt.Errorf("failed to create window: %w", err)
	}

	a.surface = a.window
	// Devices need the GL context the window created.
	a.newDevice = func(w, h int) (gpu.Device, error) {
		return glgpu.New(w, h, log.Named("gpu"))
	}
	a.input = input.New()

	if err := a.setupAssets(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.setupAnnotations(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.setupXR(); err != nil {
		a.Close()
		return nil, err
	}
	if cfg.Metrics.Listen != "" {
		go func() {
			if err := a.metrics.Serve(a.ctx, cfg.Metrics.Listen, log.Named("metrics")); err != nil {
				log.Error("metrics endpoint", zap.Error(err))
			}
		}()
	}

	if err := a.openViewer(); err != nil {
		a.Close()
		return nil, err
	}
	if cfg.Viewer.WatchModel {
		a.watchModel()
	}

	log.Info("viewer host initialized")
	return a, nil
}

func (a *App) setupAssets() error {
	var err error
	a.assets, err = assets.NewManager(assets.Options{
		CacheEntries: a.cfg.Assets.CacheEntries,
		Logger:       a.log.Named("assets"),
		Metrics:      a.metrics,
	})
	if err != nil {
		return fmt.Errorf("asset manager: %w", err)
	}
	httpSrc := assets.NewHTTPSource(a.cfg.Assets.HTTPTimeout)
	httpSrc.MaxBytes = a.cfg.Assets.MaxBytes
	a.assets.Register("http", httpSrc)
	a.assets.Register("https", httpSrc)

	if strings.HasPrefix(a.session.ModelURL, "s3://") {
		s3src, err := assets.NewS3Source(a.ctx, assets.S3Config{
			Region:    a.cfg.Assets.S3Region,
			Endpoint:  a.cfg.Assets.S3Endpoint,
			PathStyle: a.cfg.Assets.S3PathStyle,
			MaxBytes:  a.cfg.Assets.MaxBytes,
		})
		if err != nil {
			return fmt.Errorf("s3 source: %w", err)
		}
		a.assets.Register("s3", s3src)
	}
	return nil
}

func (a *App) setupAnnotations() error {
	driver := a.cfg.Annotations.Driver
	if driver == "" || driver == annotations.DriverNone {
		a.log.Info("element edits are not persisted")
		return nil
	}
	store, err := annotations.Open(a.ctx, driver, a.cfg.Annotations.DSN, a.log.Named("annotations"))
	if err != nil {
		return err
	}
	a.store = store
	return nil
}

func (a *App) setupXR() error {
	profile, err := emulator.Resolve(a.cfg.XR.Profile, a.cfg.XR.ProfilePath)
	if err != nil {
		return fmt.Errorf("xr profile: %w", err)
	}
	a.xrdev = emulator.NewDevice(profile, a.loop, a.log.Named("xr-device"))
	a.log.Info("emulated xr device", zap.String("profile", profile.Name))
	return nil
}

// openViewer opens a viewer on the current project with a fresh GPU device.
// Runs on the UI thread.
func (a *App) openViewer() error {
	var seeds map[string]model.Patch
	var onUpdated func(context.Context, string, model.Patch) error
	if a.store != nil {
		var err error
		if seeds, err = a.store.Load(a.ctx, a.session.ProjectID); err != nil {
			return fmt.Errorf("loading annotations: %w", err)
		}
		projectID := a.session.ProjectID
		onUpdated = func(ctx context.Context, id string, p model.Patch) error {
			return a.store.Save(ctx, projectID, id, p)
		}
	}

	vc := a.cfg.Viewer
	sceneCfg := scene.DefaultConfig()
	sceneCfg.Background = vc.Background
	sceneCfg.GridSize = vc.GridSize
	sceneCfg.GridDivisions = vc.GridDivisions

	w, h := a.surface.Size()
	dev, err := a.newDevice(w, h)
	if err != nil {
		return fmt.Errorf("failed to create GPU device: %w", err)
	}

	v, err := viewer.Open(a.ctx, viewer.Deps{
		Device:  dev,
		UI:      a.loop,
		Frames:  a.loop,
		Assets:  a.assets,
		XR:      a.xrdev,
		Surface: a.surface,
	}, viewer.Project{
		ID:            a.session.ProjectID,
		ModelAssetURL: a.session.ModelURL,
		DisplayName:   model.NewAsset(a.session.ModelURL).Name(),
	}, viewer.Options{
		CanEditMetadata:  !a.session.Guest,
		OnElementUpdated: onUpdated,
		OnSelect:         a.onSelect,
		OnClear:          a.onClear,
		OnLoadState:      a.onLoadState,
		OnXRState:        a.onXRState,
		OnXRAvailability: a.onXRAvailability,
		OnFatal:          a.onFatal,
		Annotations:      seeds,
		ProbeDelay:       vc.ProbeDelay,
		DampingFactor:    vc.DampingFactor,
		MaxFrameFailures: vc.MaxFrameFailures,
		Scene:            &sceneCfg,
		HighlightColor:   vc.HighlightColor,
		HighlightOpacity: vc.HighlightOpacity,
		Logger:           a.log,
		Metrics:          a.metrics,
	})
	if err != nil {
		dev.Release()
		return fmt.Errorf("opening viewer: %w", err)
	}
	a.viewer = v
	a.device = dev
	a.status = hostStatus{project: a.session.ProjectID}
	a.refreshTitle()
	return nil
}

func (a *App) watchModel() {
	modelURL := a.session.ModelURL
	w, err := assets.WatchFile(modelURL, watchDebounce, func() {
		a.loop.Post(func() {
			a.assets.Invalidate(modelURL)
			if a.viewer != nil {
				a.log.Info("model file changed, reloading")
				if err := a.viewer.Reload(); err != nil {
					a.log.Warn("reload", zap.Error(err))
				}
			}
		})
	}, a.log.Named("watch"))
	if err != nil {
		a.log.Warn("not watching model", zap.Error(err))
		return
	}
	a.watcher = w
}

// Run drives the UI loop until the window closes or the viewer is lost for good.
func (a *App) Run() error {
	a.running = true

	lastTime := time.Now()
	frameCount := 0
	fpsTimer := time.Now()

	a.log.Info("starting main loop")

	for a.running {
		now := time.Now()
		dt := now.Sub(lastTime)
		lastTime = now

		if a.input.Update() || a.ctx.Err() != nil {
			a.running = false
			break
		}
		for _, event := range a.input.Events() {
			a.handle(event)
		}

		a.loop.Step(now)
		a.window.SwapBuffers()

		if err := a.viewer.Err(); err != nil {
			if err := a.remount(err); err != nil {
				return err
			}
		}

		frameCount++
		if time.Since(fpsTimer) >= time.Second {
			a.log.Debug("fps", zap.Int("count", frameCount), zap.Duration("dt", dt))
			frameCount = 0
			fpsTimer = time.Now()
		}
	}

	return nil
}

// remount replaces a viewer whose renderer was lost.
func (a *App) remount(cause error) error {
	if a.remounts >= maxRemounts {
		return fmt.Errorf("viewer lost: %w", cause)
	}
	a.remounts++
	a.log.Error("viewer lost, remounting", zap.Error(cause), zap.Int("attempt", a.remounts))
	a.closeViewer()
	return a.openViewer()
}

func (a *App) handle(e input.Event) {
	switch e.Type {
	case input.EventWindowResize:
		a.window.Resized()
	case input.EventKeyDown:
		if !e.Repeat {
			a.run(commandFor(e.Key))
		}
	case input.EventMouseMove:
		if e.Dragging() {
			a.viewer.PointerDrag(e.DeltaX, e.DeltaY)
		}
	case input.EventMouseWheel:
		a.viewer.PointerZoom(e.DeltaY)
	case input.EventMouseDown, input.EventMouseUp:
		if x, y, ok := a.clicks.Feed(e); ok {
			if _, err := a.viewer.PointerClick(float32(x), float32(y)); err != nil {
				a.log.Warn("selection failed", zap.Error(err))
			}
		}
	}
}

func (a *App) run(cmd command) {
	if cmd == cmdNone {
		return
	}
	a.log.Debug("command", zap.Stringer("cmd", cmd))
	switch cmd {
	case cmdToggleXR:
		a.toggleXR()
	case cmdBack:
		if xr.IsActive(a.viewer.XRState()) {
			a.toggleXR()
		} else {
			a.running = false
		}
	case cmdResetView:
		a.viewer.ResetView()
	case cmdWireframe:
		a.log.Info("wireframe", zap.Bool("on", a.viewer.ToggleWireframe()))
	case cmdScreenshot:
		a.screenshot()
	case cmdCycleStatus:
		a.cycleStatus()
	case cmdDisconnect:
		if a.xrdev.Disconnect() {
			a.log.Info("emulated xr device disconnected")
		}
	case cmdRetry:
		if err := a.viewer.Retry(); err != nil {
			a.log.Info("retry", zap.Error(err))
		}
	}
}

// spawn runs fn off the UI thread. Close waits for it.
func (a *App) spawn(fn func()) {
	a.ops.Add(1)
	go func() {
		defer a.ops.Done()
		fn()
	}()
}

func (a *App) toggleXR() {
	if !a.xrBusy.CompareAndSwap(false, true) {
		return
	}
	v := a.viewer
	active := xr.IsActive(v.XRState())
	a.spawn(func() {
		defer a.xrBusy.Store(false)
		var err error
		if active {
			err = v.ExitXR(a.ctx)
		} else {
			err = v.EnterXR(a.ctx)
		}
		switch {
		case errors.Is(err, xr.ErrUnavailable):
			a.log.Info("xr unavailable on this device", zap.Error(err))
		case err != nil:
			a.log.Warn("xr transition failed", zap.Error(err))
		}
	})
}

func (a *App) screenshot() {
	img, err := a.viewer.Screenshot()
	if err != nil {
		a.log.Warn("screenshot failed", zap.Error(err))
		return
	}
	path, err := a.shots.Save(img)
	if err != nil {
		a.log.Warn("screenshot failed", zap.Error(err))
		return
	}
	a.log.Info("screenshot saved", zap.String("path", path))
}

func (a *App) cycleStatus() {
	rec := a.viewer.Selected()
	if rec == nil {
		return
	}
	next := rec.Status.Next()
	v := a.viewer
	a.spawn(func() {
		updated, err := v.UpdateElement(a.ctx, rec.ElementID, model.Patch{Status: &next})
		if err != nil {
			a.log.Warn("status not updated", zap.String("element", rec.ElementID), zap.Error(err))
			return
		}
		a.loop.Post(func() {
			if a.status.selected != nil && a.status.selected.ElementID == updated.ElementID {
				a.status.selected = updated
				a.refreshTitle()
			}
		})
	})
}

func (a *App) onSelect(rec *model.ElementRecord) {
	a.status.selected = rec
	a.log.Info("element selected",
		zap.String("element", rec.ElementID),
		zap.String("type", rec.ElementType),
		zap.String("status", string(rec.Status)),
		zap.Int("properties", len(rec.Properties)),
	)
	a.refreshTitle()
}

func (a *App) onClear() {
	a.status.selected = nil
	a.refreshTitle()
}

func (a *App) onLoadState(s viewer.LoadState) {
	a.status.load = s
	if s.Phase == viewer.Failed {
		a.log.Warn("model not loaded, press L to retry", zap.Error(s.Err))
	}
	a.refreshTitle()
}

func (a *App) onXRState(s xr.State) {
	a.status.xr = s
	a.refreshTitle()
}

func (a *App) onXRAvailability(mode xr.Mode, available bool) {
	a.status.xrMode, a.status.xrAvailable, a.status.xrProbed = mode, available, true
	a.refreshTitle()
}

func (a *App) onFatal(err error) {
	a.log.Error("renderer lost", zap.Error(err))
}

func (a *App) refreshTitle() {
	if a.surface != nil {
		a.surface.SetTitle(a.status.title())
	}
}

// drain runs fn off the UI thread while stepping the loop until it returns.
func (a *App) drain(fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	for {
		select {
		case err := <-done:
			return err
		default:
		}
		a.loop.Step(time.Now())
		time.Sleep(time.Millisecond)
	}
}

func (a *App) closeViewer() {
	if a.viewer == nil {
		return
	}
	v := a.viewer
	err := a.drain(func() error {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(a.ctx), closeTimeout)
		defer cancel()
		return v.Close(ctx)
	})
	if err != nil && !errors.Is(err, viewer.ErrClosed) {
		a.log.Warn("viewer close", zap.Error(err))
	}
	a.viewer = nil
	a.device = nil
}

// Close ends the viewer and releases every host resource. Later calls are no-ops.
func (a *App) Close() {
	if a.closed {
		return
	}
	a.closed = true
	a.log.Info("closing viewer host")

	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	a.closeViewer()
	_ = a.drain(func() error { a.ops.Wait(); return nil })
	a.cancel()
	a.loop.Stop()

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("closing annotation store", zap.Error(err))
		}
	}
	if a.assets != nil {
		a.assets.Close()
	}
	if a.window != nil {
		a.window.Close()
	}
}
