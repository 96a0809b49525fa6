package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Faultbox/bimview/internal/assets"
	"github.com/Faultbox/bimview/internal/config"
	"github.com/Faultbox/bimview/internal/engine/gpu"
	"github.com/Faultbox/bimview/internal/engine/gpu/gputest"
	"github.com/Faultbox/bimview/internal/engine/renderloop"
	"github.com/Faultbox/bimview/internal/engine/runloop"
	"github.com/Faultbox/bimview/internal/viewer"
	"github.com/Faultbox/bimview/internal/xr/emulator"
)

type testSurface struct {
	width, height int
	titles        []string
}

func (s *testSurface) OnResize(func(width, height int)) func() { return func() {} }
func (s *testSurface) Size() (int, int)                        { return s.width, s.height }
func (s *testSurface) SetTitle(title string)                   { s.titles = append(s.titles, title) }

// writeSlab writes a one-triangle GLB and returns its path.
func writeSlab(t *testing.T) string {
	t.Helper()
	doc := gltf.NewDocument()
	pos := modeler.WritePosition(doc, [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 0, 1}})
	doc.Meshes = append(doc.Meshes, &gltf.Mesh{
		Name:       "slab",
		Primitives: []*gltf.Primitive{{Attributes: map[string]uint32{gltf.POSITION: pos}}},
	})
	doc.Nodes = append(doc.Nodes, &gltf.Node{Name: "Slab", Mesh: gltf.Index(0)})
	doc.Scenes[0].Nodes = []uint32{0}

	var buf bytes.Buffer
	require.NoError(t, gltf.NewEncoder(&buf).Encode(doc))
	path := filepath.Join(t.TempDir(), "slab.glb")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func newTestApp(t *testing.T, modelURL string, newDevice deviceFactory) *App {
	t.Helper()
	mgr, err := assets.NewManager(assets.Options{})
	require.NoError(t, err)
	profile, err := emulator.Resolve("desktop", "")
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Viewer.ProbeDelay = time.Hour
	loop := runloop.New()
	a := &App{
		cfg:       cfg,
		session:   config.Session{ProjectID: "plant-7", ModelURL: modelURL},
		log:       zap.NewNop(),
		loop:      loop,
		assets:    mgr,
		xrdev:     emulator.NewDevice(profile, loop, nil),
		surface:   &testSurface{width: 800, height: 600},
		newDevice: newDevice,
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())
	t.Cleanup(a.Close)
	return a
}

// pumpUntil steps the UI loop until cond holds.
func pumpUntil(t *testing.T, a *App, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		a.loop.Step(time.Now())
		time.Sleep(time.Millisecond)
	}
}

func TestRemountUsesFreshDevice(t *testing.T) {
	var devices []*gputest.Device
	a := newTestApp(t, writeSlab(t), func(w, h int) (gpu.Device, error) {
		d := gputest.New(w, h)
		devices = append(devices, d)
		return d, nil
	})

	require.NoError(t, a.openViewer())
	pumpUntil(t, a, func() bool { return a.viewer.LoadState().Phase == viewer.Loaded })
	require.Len(t, devices, 1)

	devices[0].Fail(renderloop.DefaultMaxFailures)
	pumpUntil(t, a, func() bool { return a.viewer.Err() != nil })

	require.NoError(t, a.remount(a.viewer.Err()))
	require.Len(t, devices, 2)
	assert.Equal(t, 1, devices[0].SurfaceReleases())
	assert.Zero(t, devices[0].Live())
	assert.Same(t, devices[1], a.device)

	pumpUntil(t, a, func() bool {
		return a.viewer.LoadState().Phase == viewer.Loaded && devices[1].FrameCount() > 0
	})
	assert.NoError(t, a.viewer.Err())
	assert.Positive(t, devices[1].Live())

	devices[1].Fail(renderloop.DefaultMaxFailures)
	pumpUntil(t, a, func() bool { return a.viewer.Err() != nil })
	err := a.remount(a.viewer.Err())
	assert.ErrorIs(t, err, renderloop.ErrRendererLost)
	assert.Len(t, devices, 2)
}

func TestOpenViewerDeviceFailure(t *testing.T) {
	a := newTestApp(t, writeSlab(t), func(int, int) (gpu.Device, error) {
		return nil, errors.New("no GL context")
	})

	err := a.openViewer()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no GL context")
	assert.Nil(t, a.viewer)
	assert.Nil(t, a.device)
}
