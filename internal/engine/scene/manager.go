// Package scene owns the viewer scene graph: lighting rig, ground grid, camera
// and the model subtrees attached to it, plus every GPU resource they hold.
package scene

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"github.com/Faultbox/bimview/internal/engine/camera"
	"github.com/Faultbox/bimview/internal/engine/gpu"
	"github.com/Faultbox/bimview/internal/engine/picking"
	"github.com/Faultbox/bimview/internal/logger"
)

var (
	// ErrAlreadyBuilt is returned by a second Build. It signals a programming error.
	ErrAlreadyBuilt = errors.New("scene: already built")
	// ErrDisposed is returned by operations on a disposed manager.
	ErrDisposed = errors.New("scene: disposed")
	// ErrNotBuilt is returned when the scene is used before Build.
	ErrNotBuilt = errors.New("scene: not built")
)

// FitPadding is the distance multiplier used when framing models.
const FitPadding = 1.5

// Config contains scene construction options.
type Config struct {
	Background    [4]float32
	GridSize      float32
	GridDivisions int
	GridColor     mgl32.Vec3
}

// DefaultConfig returns the default scene configuration.
func DefaultConfig() Config {
	return Config{
		Background:    [4]float32{0.94, 0.94, 0.94, 1},
		GridSize:      100,
		GridDivisions: 100,
		GridColor:     HexColor(0x888888),
	}
}

// Manager owns the scene root. Models attached to it become its responsibility to dispose.
// All methods run on the UI thread.
type Manager struct {
	dev gpu.Device
	cfg Config
	log *zap.Logger

	root    *Node
	ambient *Node
	sun     *Node
	grid    *Node
	rig     *camera.Rig
	models  []*Node

	disposers map[*Node]func()
	built     bool
	disposed  bool
	wireframe bool
}

// NewManager creates a manager drawing through dev.
func NewManager(dev gpu.Device, cfg Config, log *zap.Logger) *Manager {
	return &Manager{
		dev:       dev,
		cfg:       cfg,
		log:       logger.OrNop(log, "scene"),
		disposers: make(map[*Node]func()),
	}
}

// Build constructs the root with, in order: ambient light, shadow-casting
// directional light, ground grid, then the camera rig at (10,10,10).
func (m *Manager) Build() (*Node, error) {
	if m.disposed {
		return nil, ErrDisposed
	}
	if m.built {
		return nil, ErrAlreadyBuilt
	}

	root := NewGroup("root")

	m.ambient = NewLight("ambient", Light{Color: HexColor(0x404040), Intensity: 0.6})
	m.sun = NewLight("sun", Light{Color: HexColor(0xffffff), Intensity: 0.8, Directional: true, CastShadow: true})
	m.sun.Translation = mgl32.Vec3{50, 50, 50}

	gridMat := NewMaterial(m.cfg.GridColor)
	gridMat.Unlit = true
	m.grid = NewMesh("grid", GridGeometry(m.cfg.GridSize, m.cfg.GridDivisions), gridMat)
	m.grid.Kind = KindGrid

	for _, n := range []*Node{m.ambient, m.sun, m.grid} {
		if err := m.register(n); err != nil {
			m.unregister(root)
			return nil, fmt.Errorf("build %s: %w", n.Name, err)
		}
		root.Add(n)
	}

	orbit := camera.NewOrbit()
	orbit.LookFrom(mgl32.Vec3{10, 10, 10}, mgl32.Vec3{})
	m.rig = camera.NewRig(orbit, camera.DefaultProjection())
	m.rig.SetAspect(m.dev.Size())

	m.root = root
	m.built = true
	m.log.Debug("scene built", zap.Int("nodes", root.Count()))
	return root, nil
}

// register records a disposer for every node of the subtree, uploading geometry.
// On failure every disposer it registered is run and removed.
func (m *Manager) register(sub *Node) error {
	var done []*Node
	var err error
	sub.Walk(func(n *Node) bool {
		if err != nil {
			return false
		}
		if _, ok := m.disposers[n]; ok {
			err = fmt.Errorf("node %q already registered", n.Name)
			return false
		}
		if n.Geometry != nil {
			if err = n.Geometry.acquire(m.dev); err != nil {
				return false
			}
			geo := n.Geometry
			m.disposers[n] = geo.release
		} else {
			m.disposers[n] = func() {}
		}
		done = append(done, n)
		return true
	})
	if err != nil {
		for _, n := range done {
			m.disposers[n]()
			delete(m.disposers, n)
		}
	}
	return err
}

// unregister runs and removes the disposers of every node in the subtree.
func (m *Manager) unregister(sub *Node) {
	sub.Walk(func(n *Node) bool {
		if d, ok := m.disposers[n]; ok {
			d()
			delete(m.disposers, n)
		}
		return true
	})
}

// Attach registers disposers for the subtree, then inserts it under the root.
func (m *Manager) Attach(node *Node) error {
	switch {
	case m.disposed:
		return ErrDisposed
	case !m.built:
		return ErrNotBuilt
	case node.Parent() != nil:
		return fmt.Errorf("scene: node %q is already attached", node.Name)
	}
	if err := m.register(node); err != nil {
		return fmt.Errorf("attach %q: %w", node.Name, err)
	}
	m.root.Add(node)
	m.models = append(m.models, node)
	m.log.Debug("model attached", zap.String("name", node.Name), zap.Int("nodes", node.Count()))
	return nil
}

// DetachAll removes and disposes every attached model, keeping lights, grid and camera.
func (m *Manager) DetachAll() {
	for _, model := range m.models {
		m.root.Remove(model)
		m.unregister(model)
	}
	if len(m.models) > 0 {
		m.log.Debug("models detached", zap.Int("count", len(m.models)))
	}
	m.models = nil
}

// Dispose releases every GPU resource and the drawing surface. Later calls are no-ops.
func (m *Manager) Dispose() {
	if m.disposed {
		return
	}
	m.disposed = true
	m.DetachAll()
	if m.root != nil {
		m.unregister(m.root)
	}
	m.dev.Release()
	m.log.Info("scene disposed", zap.Int("leaked", len(m.disposers)))
}

// Disposed reports whether Dispose ran.
func (m *Manager) Disposed() bool { return m.disposed }

// Root returns the scene root, nil before Build.
func (m *Manager) Root() *Node { return m.root }

// Rig returns the camera rig, nil before Build.
func (m *Manager) Rig() *camera.Rig { return m.rig }

// Models returns the attached model subtrees.
func (m *Manager) Models() []*Node {
	return append([]*Node(nil), m.models...)
}

// Registered returns how many nodes currently hold a disposer.
func (m *Manager) Registered() int { return len(m.disposers) }

// Bounds returns the world box of all attached models.
func (m *Manager) Bounds() picking.AABB {
	box := picking.EmptyAABB()
	for _, model := range m.models {
		box = box.Extend(model.WorldBounds())
	}
	return box
}

// SetWireframe draws model meshes as wireframe.
func (m *Manager) SetWireframe(on bool) { m.wireframe = on }

// Wireframe reports whether wireframe drawing is on.
func (m *Manager) Wireframe() bool { return m.wireframe }

// FitCamera frames the attached models and makes that the reset pose.
func (m *Manager) FitCamera() {
	if m.rig == nil {
		return
	}
	box := m.Bounds()
	if box.IsEmpty() {
		return
	}
	m.rig.FitToBounds(box, FitPadding)
	m.rig.SaveHome()
}

// Resize updates the surface and the camera aspect ratio.
func (m *Manager) Resize(width, height int) {
	if m.disposed || width <= 0 || height <= 0 {
		return
	}
	m.dev.Resize(width, height)
	if m.rig != nil {
		m.rig.SetAspect(width, height)
	}
}

type drawItem struct {
	node *Node
	p    gpu.DrawParams
}

// Render draws the graph once from the rig's current pose.
// Transparent surfaces are drawn after opaque ones.
func (m *Manager) Render() error {
	switch {
	case m.disposed:
		return ErrDisposed
	case !m.built:
		return ErrNotBuilt
	}

	sunDir := m.sun.Translation.Mul(-1)
	if l := sunDir.Len(); l > 0 {
		sunDir = sunDir.Mul(1 / l)
	}
	frame := gpu.FrameParams{
		View:             m.rig.View(),
		Projection:       m.rig.ProjectionMatrix(),
		Clear:            m.cfg.Background,
		AmbientColor:     m.ambient.Light.Color,
		AmbientIntensity: m.ambient.Light.Intensity,
		LightDir:         sunDir,
		LightColor:       m.sun.Light.Color,
		LightIntensity:   m.sun.Light.Intensity,
	}
	if err := m.dev.BeginFrame(frame); err != nil {
		return fmt.Errorf("begin frame: %w", err)
	}

	var opaque, transparent []drawItem
	m.root.Walk(func(n *Node) bool {
		if !n.Visible {
			return false
		}
		if n.Geometry == nil || n.Material == nil || n.Geometry.refs == 0 {
			return true
		}
		mat := n.Material
		p := gpu.DrawParams{
			Model:       n.WorldMatrix(),
			Color:       mat.Color.Vec4(mat.Opacity),
			Unlit:       mat.Unlit || n.Kind == KindGrid,
			Wireframe:   mat.Wireframe || (m.wireframe && n.Kind == KindMesh),
			Transparent: mat.Transparent || mat.Opacity < 1,
		}
		if p.Transparent {
			transparent = append(transparent, drawItem{n, p})
		} else {
			opaque = append(opaque, drawItem{n, p})
		}
		return true
	})

	var drawErr error
	for _, item := range append(opaque, transparent...) {
		if err := m.dev.Draw(item.node.Geometry.id, item.p); err != nil {
			drawErr = fmt.Errorf("draw %q: %w", item.node.Name, err)
			break
		}
	}
	if err := m.dev.EndFrame(); err != nil {
		return errors.Join(drawErr, fmt.Errorf("end frame: %w", err))
	}
	return drawErr
}
