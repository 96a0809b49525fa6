// Package selection maps pointer rays to model elements and highlights the selection.
package selection

import (
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"github.com/Faultbox/bimview/internal/engine/picking"
	"github.com/Faultbox/bimview/internal/engine/scene"
	"github.com/Faultbox/bimview/internal/logger"
	"github.com/Faultbox/bimview/internal/model"
)

// Highlight material used when the host configures none.
const (
	// DefaultColor is the highlight color as 0xRRGGBB.
	DefaultColor = 0xff6b6b
	// DefaultOpacity is the highlight material opacity.
	DefaultOpacity = 0.8
)

// Models lists the attached model subtrees.
type Models interface {
	Models() []*scene.Node
}

// Records resolves element records.
type Records interface {
	ElementProperties(id string) (*model.ElementRecord, error)
}

// Options configures an Overlay.
type Options struct {
	Color   mgl32.Vec3
	Opacity float32
	// OnSelect receives the record of a newly selected element.
	OnSelect func(*model.ElementRecord)
	// OnClear runs when the selection is dropped.
	OnClear func()
	Logger  *zap.Logger
}

// Overlay owns the selection and highlight state. Its methods run on the UI thread.
type Overlay struct {
	models  Models
	records Records
	opts    Options
	log     *zap.Logger

	highlight   *scene.Material
	originals   map[*scene.Node]*scene.Material
	highlighted string
	selected    string
}

// New creates an overlay over the models of m.
func New(m Models, records Records, opts Options) *Overlay {
	if opts.Opacity == 0 {
		opts.Opacity = DefaultOpacity
	}
	if opts.Color == (mgl32.Vec3{}) {
		opts.Color = scene.HexColor(DefaultColor)
	}
	hl := scene.NewMaterial(opts.Color)
	hl.Name = "highlight"
	hl.Opacity = opts.Opacity
	hl.Transparent = opts.Opacity < 1
	return &Overlay{
		models:    m,
		records:   records,
		opts:      opts,
		log:       logger.OrNop(opts.Logger, "selection"),
		highlight: hl,
		originals: make(map[*scene.Node]*scene.Material),
	}
}

// Pick returns the element of the nearest model surface hit by ray.
// Lights, the grid and untagged models such as the placeholder never match.
func (o *Overlay) Pick(ray picking.Ray) (string, bool) {
	var (
		best    float32
		hitNode *scene.Node
	)
	for _, root := range o.models.Models() {
		root.Walk(func(n *scene.Node) bool {
			if !n.Visible {
				return false
			}
			if n.Geometry == nil || n.Geometry.TriangleCount() == 0 {
				return true
			}
			world := n.WorldMatrix()
			if _, ok := ray.IntersectAABB(n.Geometry.Bounds().Transform(world)); !ok {
				return true
			}
			if d, ok := nearestTriangle(ray, n.Geometry, world); ok && (hitNode == nil || d < best) {
				best, hitNode = d, n
			}
			return true
		})
	}
	if hitNode == nil {
		return "", false
	}
	id := hitNode.ElementOf()
	return id, id != ""
}

// nearestTriangle returns the world distance to the closest triangle of g.
func nearestTriangle(ray picking.Ray, g *scene.Geometry, world mgl32.Mat4) (float32, bool) {
	local := ray.Transform(world.Inv())
	var (
		best  float32
		found bool
	)
	for i := range g.TriangleCount() {
		a, b, c := g.Triangle(i)
		t, ok := local.IntersectTriangle(a, b, c)
		if !ok {
			continue
		}
		hit := world.Mul4x1(local.At(t).Vec4(1)).Vec3()
		d := hit.Sub(ray.Origin).Len()
		if !found || d < best {
			best, found = d, true
		}
	}
	return best, found
}

// SetHighlighted shows the highlight on element id, or on nothing for "".
// The first swap of a node records its material so clearing restores it exactly.
func (o *Overlay) SetHighlighted(id string) {
	if id == o.highlighted {
		return
	}
	for n, orig := range o.originals {
		n.Material = orig
	}
	clear(o.originals)
	o.highlighted = id
	if id == "" {
		return
	}
	for _, n := range o.meshesOf(id) {
		if _, ok := o.originals[n]; !ok {
			o.originals[n] = n.Material
		}
		n.Material = o.highlight
	}
}

// Highlighted returns the highlighted element id.
func (o *Overlay) Highlighted() string { return o.highlighted }

// HighlightMaterial returns the shared highlight material.
func (o *Overlay) HighlightMaterial() *scene.Material { return o.highlight }

// meshesOf returns the drawable nodes belonging to element id.
func (o *Overlay) meshesOf(id string) []*scene.Node {
	var out []*scene.Node
	for _, root := range o.models.Models() {
		root.Walk(func(n *scene.Node) bool {
			if n.Geometry != nil && n.ElementOf() == id {
				out = append(out, n)
			}
			return true
		})
	}
	return out
}

// Select picks along ray and raises the element record. A miss clears the selection.
func (o *Overlay) Select(ray picking.Ray) (*model.ElementRecord, error) {
	id, ok := o.Pick(ray)
	if !ok {
		o.Clear()
		return nil, nil
	}
	return o.SelectID(id)
}

// SelectID selects element id directly.
func (o *Overlay) SelectID(id string) (*model.ElementRecord, error) {
	rec, err := o.records.ElementProperties(id)
	if err != nil {
		return nil, err
	}
	o.SetHighlighted(id)
	o.selected = id
	o.log.Debug("element selected", zap.String("element", id))
	if o.opts.OnSelect != nil {
		o.opts.OnSelect(rec)
	}
	return rec, nil
}

// Clear drops the selection and restores the original materials. Stored records are untouched.
func (o *Overlay) Clear() {
	o.SetHighlighted("")
	if o.selected == "" {
		return
	}
	o.selected = ""
	if o.opts.OnClear != nil {
		o.opts.OnClear()
	}
}

// Reset forgets the selection after the models were replaced. Nodes of the old
// models are not touched.
func (o *Overlay) Reset() {
	clear(o.originals)
	o.highlighted = ""
	if o.selected == "" {
		return
	}
	o.selected = ""
	if o.opts.OnClear != nil {
		o.opts.OnClear()
	}
}

// Selected returns the selected element id, "" when none.
func (o *Overlay) Selected() string { return o.selected }
