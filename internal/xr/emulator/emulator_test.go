package emulator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/bimview/internal/engine/runloop"
	"github.com/Faultbox/bimview/internal/xr"
)

func TestBuiltinProfiles(t *testing.T) {
	assert.Equal(t, []string{"desktop", "headset-vr", "hololens", "phone-ar"}, BuiltinNames())

	tests := []struct {
		name  string
		modes []xr.Mode
	}{
		{"desktop", nil},
		{"phone-ar", []xr.Mode{xr.ModeImmersiveAR, xr.ModeInline}},
		{"headset-vr", []xr.Mode{xr.ModeImmersiveVR, xr.ModeInline}},
		{"hololens", []xr.Mode{xr.ModeImmersiveAR, xr.ModeImmersiveVR, xr.ModeInline}},
	}
	for _, tt := range tests {
		p, ok := Builtin(tt.name)
		require.True(t, ok, tt.name)
		assert.Equal(t, tt.modes, p.Modes, tt.name)
		assert.Equal(t, float32(DefaultViewerHeight), p.ViewerHeight, tt.name)
	}

	p, _ := Builtin("hololens")
	p.Modes[0] = xr.ModeInline
	again, _ := Builtin("hololens")
	assert.Equal(t, xr.ModeImmersiveAR, again.Modes[0])

	_, ok := Builtin("quest")
	assert.False(t, ok)
}

func TestParseProfile(t *testing.T) {
	p, err := ParseProfile([]byte(`
name: field-tablet
modes: [immersive-ar]
features: [local-floor, hit-test]
viewer_height: 1.2
probe_latency: 150ms
`))
	require.NoError(t, err)
	assert.Equal(t, "field-tablet", p.Name)
	assert.True(t, p.Supports(xr.ModeImmersiveAR))
	assert.False(t, p.Supports(xr.ModeInline))
	assert.True(t, p.Has(xr.FeatureHitTest))
	assert.Equal(t, float32(1.2), p.ViewerHeight)
	assert.Equal(t, 150*time.Millisecond, p.ProbeLatency)
}

func TestParseProfileErrors(t *testing.T) {
	tests := map[string]string{
		"bad yaml":        "modes: [",
		"unknown mode":    "modes: [immersive-xr]",
		"unknown feature": "features: [eye-tracking]",
		"negative height": "viewer_height: -1",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseProfile([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestResolve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: quest\nmodes: [immersive-vr]\n"), 0o644))

	p, err := Resolve("desktop", path)
	require.NoError(t, err)
	assert.Equal(t, "quest", p.Name)

	p, err = Resolve("phone-ar", "")
	require.NoError(t, err)
	assert.Equal(t, "phone-ar", p.Name)

	_, err = Resolve("quest", "")
	assert.Error(t, err)
	_, err = Resolve("", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func newDevice(t *testing.T, name string) (*Device, *runloop.Queue) {
	t.Helper()
	p, ok := Builtin(name)
	require.True(t, ok)
	q := runloop.NewQueue()
	return NewDevice(p, q, nil), q
}

func TestRequestSessionChecks(t *testing.T) {
	ctx := context.Background()
	d, _ := newDevice(t, "headset-vr")

	_, err := d.RequestSession(ctx, xr.ModeImmersiveAR, xr.FeaturesFor(xr.ModeImmersiveAR))
	assert.Error(t, err)

	s, err := d.RequestSession(ctx, xr.ModeImmersiveVR, xr.FeaturesFor(xr.ModeImmersiveVR))
	require.NoError(t, err)
	assert.Equal(t, []xr.Feature{xr.FeatureLocalFloor}, s.(*Session).Features())

	_, err = d.RequestSession(ctx, xr.ModeInline, xr.FeaturesFor(xr.ModeInline))
	assert.ErrorIs(t, err, ErrBusy)

	require.NoError(t, s.End(ctx))
	_, err = d.RequestSession(ctx, xr.ModeInline, xr.FeaturesFor(xr.ModeInline))
	assert.NoError(t, err)
}

func TestRequiredFeatureMissing(t *testing.T) {
	d := NewDevice(Profile{Name: "bare-ar", Modes: []xr.Mode{xr.ModeImmersiveAR}}, runloop.NewQueue(), nil)
	_, err := d.RequestSession(context.Background(), xr.ModeImmersiveAR, xr.FeaturesFor(xr.ModeImmersiveAR))
	assert.ErrorContains(t, err, "local-floor")
	assert.Nil(t, d.Active())
}

func TestSessionFramesAndEnd(t *testing.T) {
	d, q := newDevice(t, "phone-ar")
	sess, err := d.RequestSession(context.Background(), xr.ModeImmersiveAR, xr.FeaturesFor(xr.ModeImmersiveAR))
	require.NoError(t, err)

	var frames []xr.Frame
	sess.RequestAnimationFrame(func(f xr.Frame) { frames = append(frames, f) })
	cancelled := sess.RequestAnimationFrame(func(f xr.Frame) { t.Error("cancelled frame delivered") })
	sess.CancelAnimationFrame(cancelled)

	q.Fire(time.Now())
	require.Len(t, frames, 1)
	assert.InDelta(t, DefaultViewerHeight, frames[0].Position.Y(), 1e-5)
	pos := frames[0].Position
	assert.InDelta(t, orbitRadius, mgl32.Vec2{pos.X(), pos.Z()}.Len(), 1e-4)

	ends := 0
	sess.OnEnd(func() { ends++ })
	sess.RequestAnimationFrame(func(f xr.Frame) { frames = append(frames, f) })
	assert.True(t, d.Disconnect())
	assert.Equal(t, 1, ends)
	assert.False(t, d.Disconnect())

	q.Fire(time.Now())
	assert.Len(t, frames, 1)

	require.NoError(t, sess.End(context.Background()))
	assert.Equal(t, 1, ends)

	late := 0
	sess.OnEnd(func() { late++ })
	assert.Equal(t, 1, late)
}

func TestProbeLatency(t *testing.T) {
	p, _ := Builtin("phone-ar")
	p.ProbeLatency = 20 * time.Millisecond
	d := NewDevice(p, runloop.NewQueue(), nil)

	start := time.Now()
	ok, err := d.IsSessionSupported(context.Background(), xr.ModeImmersiveAR)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.IsSessionSupported(ctx, xr.ModeInline)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRejectingProfile(t *testing.T) {
	d := NewDevice(Profile{Name: "locked", Modes: []xr.Mode{xr.ModeInline}, RejectRequests: true}, runloop.NewQueue(), nil)
	ok, err := d.IsSessionSupported(context.Background(), xr.ModeInline)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = d.RequestSession(context.Background(), xr.ModeInline, xr.FeaturesFor(xr.ModeInline))
	assert.ErrorIs(t, err, ErrRejected)
}
