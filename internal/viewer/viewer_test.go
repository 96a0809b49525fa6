package viewer_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/bimview/internal/assets"
	"github.com/Faultbox/bimview/internal/engine/camera"
	"github.com/Faultbox/bimview/internal/engine/gpu/gputest"
	"github.com/Faultbox/bimview/internal/engine/renderloop"
	"github.com/Faultbox/bimview/internal/engine/runloop"
	"github.com/Faultbox/bimview/internal/model"
	"github.com/Faultbox/bimview/internal/viewer"
	"github.com/Faultbox/bimview/internal/xr"
	"github.com/Faultbox/bimview/internal/xr/emulator"
)

const pumpURL = "https://models.example.com/plant/pump.glb"

// pumpGLB is a single unit cube spanning (0,0,0)-(1,1,1) tagged as element "pump-1".
func pumpGLB(t *testing.T) []byte {
	t.Helper()
	doc := gltf.NewDocument()
	pos := modeler.WritePosition(doc, [][3]float32{
		{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
		{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
	})
	idx := modeler.WriteIndices(doc, []uint32{
		0, 1, 2, 0, 2, 3,
		4, 6, 5, 4, 7, 6,
		0, 4, 5, 0, 5, 1,
		3, 2, 6, 3, 6, 7,
		0, 3, 7, 0, 7, 4,
		1, 5, 6, 1, 6, 2,
	})
	doc.Meshes = append(doc.Meshes, &gltf.Mesh{
		Name: "pump",
		Primitives: []*gltf.Primitive{{
			Indices:    gltf.Index(idx),
			Attributes: map[string]uint32{gltf.POSITION: pos},
		}},
	})
	doc.Nodes = append(doc.Nodes, &gltf.Node{
		Name:   "Pump",
		Mesh:   gltf.Index(0),
		Extras: json.RawMessage(`{"GlobalId":"pump-1","Name":"Feed pump","type":"IfcPump","status":"good","FlowRate":{"value":12.5,"type":"number"}}`),
	})
	doc.Scenes[0].Nodes = []uint32{0}

	var buf bytes.Buffer
	enc := gltf.NewEncoder(&buf)
	enc.AsBinary = true
	require.NoError(t, enc.Encode(doc))
	return buf.Bytes()
}

type fakeFetcher struct {
	mu    sync.Mutex
	files map[string][]byte
	err   error
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.files[rawURL]
	if !ok {
		return nil, assets.ErrNotFound
	}
	return data, nil
}

func (f *fakeFetcher) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fakeSurface struct {
	fn       func(w, h int)
	detached int
}

func (s *fakeSurface) OnResize(fn func(w, h int)) func() {
	s.fn = fn
	return func() {
		s.detached++
		s.fn = nil
	}
}

// events records host callbacks. They all run on the test goroutine.
type events struct {
	loads     []viewer.LoadState
	selected  []*model.ElementRecord
	cleared   int
	fatal     []error
	states    []xr.State
	available []bool
}

type harness struct {
	t       *testing.T
	loop    *runloop.Loop
	dev     *gputest.Device
	fetch   *fakeFetcher
	xrdev   *emulator.Device
	surface *fakeSurface
	ev      *events
	v       *viewer.Viewer
	now     time.Time
}

type setup struct {
	profile string
	opts    viewer.Options
	fail    error
	data    []byte
}

func open(t *testing.T, s setup) *harness {
	t.Helper()
	if s.profile == "" {
		s.profile = "desktop"
	}
	profile, ok := emulator.Builtin(s.profile)
	require.True(t, ok)
	if s.data == nil {
		s.data = pumpGLB(t)
	}

	h := &harness{
		t:       t,
		loop:    runloop.New(),
		dev:     gputest.New(800, 600),
		fetch:   &fakeFetcher{files: map[string][]byte{pumpURL: s.data}, err: s.fail},
		surface: &fakeSurface{},
		ev:      &events{},
		now:     time.Unix(1_700_000_000, 0),
	}
	h.xrdev = emulator.NewDevice(profile, h.loop, nil)

	opts := s.opts
	if opts.ProbeDelay == 0 {
		opts.ProbeDelay = time.Hour
	}
	opts.OnLoadState = func(ls viewer.LoadState) { h.ev.loads = append(h.ev.loads, ls) }
	opts.OnSelect = func(r *model.ElementRecord) { h.ev.selected = append(h.ev.selected, r) }
	opts.OnClear = func() { h.ev.cleared++ }
	opts.OnFatal = func(err error) { h.ev.fatal = append(h.ev.fatal, err) }
	opts.OnXRState = func(st xr.State) { h.ev.states = append(h.ev.states, st) }
	opts.OnXRAvailability = func(_ xr.Mode, ok bool) { h.ev.available = append(h.ev.available, ok) }

	v, err := viewer.Open(context.Background(), viewer.Deps{
		Device:  h.dev,
		UI:      h.loop,
		Frames:  h.loop,
		Assets:  h.fetch,
		XR:      h.xrdev,
		Surface: h.surface,
	}, viewer.Project{ID: "plant-7", ModelAssetURL: pumpURL, DisplayName: "Plant 7"}, opts)
	require.NoError(t, err)
	h.v = v

	t.Cleanup(func() {
		if err := h.await(func() error { return v.Close(context.Background()) }); err != nil && !errors.Is(err, viewer.ErrClosed) {
			t.Errorf("close: %v", err)
		}
	})
	return h
}

func (h *harness) step() {
	h.now = h.now.Add(16 * time.Millisecond)
	h.loop.Step(h.now)
}

// settle steps the loop until cond holds.
func (h *harness) settle(cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			h.t.Fatal("condition not reached")
		}
		h.step()
		time.Sleep(time.Millisecond)
	}
}

// await runs fn off the UI thread while stepping the loop.
func (h *harness) await(fn func() error) error {
	h.t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- fn() }()
	deadline := time.Now().Add(3 * time.Second)
	for {
		select {
		case err := <-errc:
			return err
		default:
		}
		if time.Now().After(deadline) {
			h.t.Fatal("operation did not finish")
		}
		h.step()
		time.Sleep(time.Millisecond)
	}
}

func (h *harness) loaded() {
	h.t.Helper()
	h.settle(func() bool { return h.v.LoadState().Phase != viewer.Loading })
	require.Equal(h.t, viewer.Loaded, h.v.LoadState().Phase, "load error: %v", h.v.LoadState().Err)
}

func modelNames(v *viewer.Viewer) []string {
	var names []string
	for _, m := range v.Scene().Models() {
		names = append(names, m.Name)
	}
	return names
}

func TestOpenShowsPlaceholderUntilLoaded(t *testing.T) {
	h := open(t, setup{})

	assert.Equal(t, []string{"placeholder"}, modelNames(h.v))
	assert.Equal(t, viewer.Loading, h.v.LoadState().Phase)
	assert.True(t, h.v.RenderLoop().SelfScheduling())

	h.loaded()
	assert.Equal(t, []string{"pump.glb"}, modelNames(h.v))
	assert.Equal(t, 1, h.v.LoadState().Elements)
	assert.Equal(t, []viewer.Phase{viewer.Loading, viewer.Loaded}, phases(h.ev.loads))

	target := h.v.Camera().Orbit().Target
	assert.InDelta(t, 0.5, target.X(), 1e-5)
	assert.InDelta(t, 0.5, target.Y(), 1e-5)
	assert.InDelta(t, 0.5, target.Z(), 1e-5)
}

func phases(states []viewer.LoadState) []viewer.Phase {
	var out []viewer.Phase
	for _, s := range states {
		out = append(out, s.Phase)
	}
	return out
}

func TestUnreachableAssetKeepsPlaceholderAndOrbit(t *testing.T) {
	h := open(t, setup{fail: errors.New("dial tcp: connection refused")})

	h.settle(func() bool { return h.v.LoadState().Phase == viewer.Failed })
	assert.ErrorIs(t, h.v.LoadState().Err, model.ErrAssetUnavailable)
	assert.Equal(t, []string{"placeholder"}, modelNames(h.v))

	orbit := h.v.Camera().Orbit()
	require.True(t, orbit.Enabled)
	yaw := orbit.Yaw
	h.v.PointerDrag(120, 0)
	h.step()
	assert.NotEqual(t, yaw, orbit.Yaw)

	frames := h.dev.FrameCount()
	h.step()
	assert.Greater(t, h.dev.FrameCount(), frames)
	assert.True(t, h.v.RenderLoop().SelfScheduling())
}

func TestRetryAfterFailure(t *testing.T) {
	h := open(t, setup{fail: errors.New("timeout")})
	h.settle(func() bool { return h.v.LoadState().Phase == viewer.Failed })

	h.fetch.fail(nil)
	require.NoError(t, h.v.Retry())
	assert.Equal(t, viewer.Loading, h.v.LoadState().Phase)
	h.loaded()

	assert.ErrorIs(t, h.v.Retry(), viewer.ErrNotRetryable)
	assert.Equal(t, []string{"pump.glb"}, modelNames(h.v))
}

func TestParseFailureIsReported(t *testing.T) {
	h := open(t, setup{data: []byte("glTF but not really")})
	h.settle(func() bool { return h.v.LoadState().Phase != viewer.Loading })

	assert.ErrorIs(t, h.v.LoadState().Err, model.ErrParseFailure)
	assert.Equal(t, []string{"placeholder"}, modelNames(h.v))
}

func TestClickSelectsElement(t *testing.T) {
	h := open(t, setup{})
	h.loaded()
	h.v.Camera().Orbit().LookFrom(mgl32.Vec3{0.5, 0.5, 10}, mgl32.Vec3{0.5, 0.5, 0.5})
	h.step()

	rec, err := h.v.PointerClick(413, 291)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "pump-1", rec.ElementID)
	assert.Equal(t, "Feed pump", rec.DisplayName)
	assert.Equal(t, "IfcPump", rec.ElementType)
	require.Len(t, h.ev.selected, 1)
	assert.Equal(t, "pump-1", h.v.Selected().ElementID)

	rec, err = h.v.PointerClick(5, 5)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Nil(t, h.v.Selected())
	assert.Equal(t, 1, h.ev.cleared)
}

func TestAnnotationsSeedRecords(t *testing.T) {
	critical := model.StatusCritical
	notes := "seal leaking"
	h := open(t, setup{opts: viewer.Options{
		Annotations: map[string]model.Patch{"pump-1": {Status: &critical, MaintenanceNotes: &notes}},
	}})
	h.loaded()

	rec, err := h.v.Select("pump-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCritical, rec.Status)
	assert.Equal(t, "seal leaking", rec.MaintenanceNotes)
}

func TestUpdateElement(t *testing.T) {
	warning := model.StatusWarning
	patch := model.Patch{Status: &warning}

	t.Run("not permitted", func(t *testing.T) {
		h := open(t, setup{})
		h.loaded()
		_, err := h.v.UpdateElement(context.Background(), "pump-1", patch)
		assert.ErrorIs(t, err, viewer.ErrEditNotPermitted)
	})

	t.Run("host rejects", func(t *testing.T) {
		h := open(t, setup{opts: viewer.Options{
			CanEditMetadata: true,
			OnElementUpdated: func(context.Context, string, model.Patch) error {
				return errors.New("database is locked")
			},
		}})
		h.loaded()
		_, err := h.v.UpdateElement(context.Background(), "pump-1", patch)
		require.Error(t, err)

		rec, err := h.v.Loader().ElementProperties("pump-1")
		require.NoError(t, err)
		assert.Equal(t, model.StatusGood, rec.Status)
	})

	t.Run("host accepts", func(t *testing.T) {
		var saved []string
		h := open(t, setup{opts: viewer.Options{
			CanEditMetadata: true,
			OnElementUpdated: func(_ context.Context, id string, p model.Patch) error {
				saved = append(saved, id+"="+string(*p.Status))
				return nil
			},
		}})
		h.loaded()
		rec, err := h.v.UpdateElement(context.Background(), "pump-1", patch)
		require.NoError(t, err)
		assert.Equal(t, model.StatusWarning, rec.Status)
		assert.Equal(t, []string{"pump-1=warning"}, saved)
	})

	t.Run("unknown element", func(t *testing.T) {
		called := false
		h := open(t, setup{opts: viewer.Options{
			CanEditMetadata:  true,
			OnElementUpdated: func(context.Context, string, model.Patch) error { called = true; return nil },
		}})
		h.loaded()
		_, err := h.v.UpdateElement(context.Background(), "nope", patch)
		assert.ErrorIs(t, err, model.ErrElementNotFound)
		assert.False(t, called)
	})
}

func TestEnterExitXRRestoresOrbit(t *testing.T) {
	h := open(t, setup{profile: "phone-ar"})
	h.loaded()

	rig := h.v.Camera()
	require.True(t, rig.Orbit().Enabled)
	require.True(t, h.v.RenderLoop().SelfScheduling())

	require.NoError(t, h.await(func() error { return h.v.EnterXR(context.Background()) }))
	active, ok := h.v.XRState().(xr.Active)
	require.True(t, ok, "state %s", h.v.XRState())
	assert.Equal(t, xr.ModeImmersiveAR, active.Mode())
	assert.Equal(t, camera.DriverXR, rig.Driver())
	assert.False(t, rig.Orbit().Enabled)
	assert.False(t, h.v.RenderLoop().SelfScheduling())

	frames := h.dev.FrameCount()
	h.settle(func() bool { return h.dev.FrameCount() >= frames+3 })
	assert.False(t, h.v.RenderLoop().SelfScheduling())

	require.NoError(t, h.await(func() error { return h.v.ExitXR(context.Background()) }))
	assert.Equal(t, xr.Idle{}, h.v.XRState())
	assert.Equal(t, camera.DriverOrbit, rig.Driver())
	assert.True(t, rig.Orbit().Enabled)
	assert.True(t, h.v.RenderLoop().SelfScheduling())
}

func TestEnterXRWithoutSupport(t *testing.T) {
	h := open(t, setup{profile: "desktop"})

	err := h.await(func() error { return h.v.EnterXR(context.Background()) })
	assert.ErrorIs(t, err, xr.ErrUnavailable)
	assert.Equal(t, xr.Idle{}, h.v.XRState())
	assert.True(t, h.v.Camera().Orbit().Enabled)
	assert.True(t, h.v.RenderLoop().SelfScheduling())
}

func TestDeviceEndRestoresOrbit(t *testing.T) {
	h := open(t, setup{profile: "headset-vr"})
	require.NoError(t, h.await(func() error { return h.v.EnterXR(context.Background()) }))
	require.True(t, xr.IsActive(h.v.XRState()))

	require.True(t, h.xrdev.Disconnect())
	h.settle(func() bool {
		_, idle := h.v.XRState().(xr.Idle)
		return idle && h.v.RenderLoop().SelfScheduling()
	})
	assert.Equal(t, camera.DriverOrbit, h.v.Camera().Driver())
	assert.True(t, h.v.Camera().Orbit().Enabled)
}

func TestDelayedProbeReportsAvailability(t *testing.T) {
	tests := []struct {
		profile string
		want    bool
	}{
		{"phone-ar", true},
		{"desktop", false},
	}
	for _, tt := range tests {
		t.Run(tt.profile, func(t *testing.T) {
			h := open(t, setup{profile: tt.profile, opts: viewer.Options{ProbeDelay: time.Millisecond}})
			h.settle(func() bool { return len(h.ev.available) > 0 })
			assert.Equal(t, []bool{tt.want}, h.ev.available)
			_, probed := h.v.XRCapabilities()
			assert.True(t, probed)
		})
	}
}

func TestResizeFromSurface(t *testing.T) {
	h := open(t, setup{})
	require.NotNil(t, h.surface.fn)
	h.surface.fn(1024, 768)
	w, ht := h.dev.Size()
	assert.Equal(t, 1024, w)
	assert.Equal(t, 768, ht)
	assert.InDelta(t, 1024.0/768.0, h.v.Camera().Projection.Aspect, 1e-5)
}

func TestViewControls(t *testing.T) {
	h := open(t, setup{})
	h.loaded()

	orbit := h.v.Camera().Orbit()
	home := orbit.Position()
	h.v.PointerDrag(200, 50)
	h.v.PointerZoom(3)
	h.step()
	require.NotEqual(t, home, orbit.Position())
	h.v.ResetView()
	assert.True(t, orbit.Position().ApproxEqualThreshold(home, 1e-3))

	assert.True(t, h.v.ToggleWireframe())
	assert.True(t, h.v.Scene().Wireframe())
	assert.False(t, h.v.ToggleWireframe())

	img, err := h.v.Screenshot()
	require.NoError(t, err)
	assert.Equal(t, 800, img.Bounds().Dx())
	assert.Equal(t, 600, img.Bounds().Dy())
}

func TestRendererLostIsFatal(t *testing.T) {
	h := open(t, setup{})
	h.dev.Fail(renderloop.DefaultMaxFailures)
	h.settle(func() bool { return len(h.ev.fatal) > 0 })

	assert.ErrorIs(t, h.ev.fatal[0], renderloop.ErrRendererLost)
	assert.ErrorIs(t, h.v.Err(), renderloop.ErrRendererLost)
	assert.True(t, h.v.RenderLoop().Stopped())
	for range 5 {
		h.step()
	}
	assert.Len(t, h.ev.fatal, 1)
}

func TestCloseTearsDownInOrder(t *testing.T) {
	h := open(t, setup{profile: "phone-ar"})
	h.loaded()
	require.NoError(t, h.await(func() error { return h.v.EnterXR(context.Background()) }))

	require.NoError(t, h.await(func() error { return h.v.Close(context.Background()) }))

	assert.Nil(t, h.xrdev.Active())
	assert.Equal(t, camera.DriverOrbit, h.v.Camera().Driver())
	assert.True(t, h.v.RenderLoop().Stopped())
	assert.True(t, h.v.Scene().Disposed())
	assert.Equal(t, 1, h.dev.SurfaceReleases())
	assert.Equal(t, 0, h.dev.Live())
	assert.Equal(t, 1, h.surface.detached)

	err := h.await(func() error { return h.v.Close(context.Background()) })
	assert.ErrorIs(t, err, viewer.ErrClosed)
	assert.Equal(t, 1, h.dev.SurfaceReleases())
	assert.Equal(t, 1, h.surface.detached)

	assert.ErrorIs(t, h.v.EnterXR(context.Background()), viewer.ErrClosed)
	_, err = h.v.Screenshot()
	assert.ErrorIs(t, err, viewer.ErrClosed)
}
