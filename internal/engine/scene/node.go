package scene

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/bimview/internal/engine/picking"
)

// Kind classifies scene nodes.
type Kind uint8

const (
	KindGroup Kind = iota
	KindMesh
	KindLight
	KindGrid
)

func (k Kind) String() string {
	switch k {
	case KindMesh:
		return "mesh"
	case KindLight:
		return "light"
	case KindGrid:
		return "grid"
	default:
		return "group"
	}
}

// Material is per-node surface appearance.
type Material struct {
	Name        string
	Color       mgl32.Vec3
	Opacity     float32
	Transparent bool
	Wireframe   bool
	Unlit       bool
}

// NewMaterial returns an opaque material of the given color.
func NewMaterial(color mgl32.Vec3) *Material {
	return &Material{Color: color, Opacity: 1}
}

// Clone returns a copy that can be modified independently.
func (m *Material) Clone() *Material {
	c := *m
	return &c
}

// HexColor converts 0xRRGGBB to a color vector.
func HexColor(hex uint32) mgl32.Vec3 {
	return mgl32.Vec3{
		float32(hex>>16&0xff) / 255,
		float32(hex>>8&0xff) / 255,
		float32(hex&0xff) / 255,
	}
}

// Light describes a light source node.
type Light struct {
	Color       mgl32.Vec3
	Intensity   float32
	Directional bool
	CastShadow  bool
}

// Node is an element of the scene graph. Geometry may be shared between nodes;
// the material belongs to the node unless the caller shares it on purpose.
type Node struct {
	Name      string
	Kind      Kind
	ElementID string

	Translation mgl32.Vec3
	Rotation    mgl32.Quat
	Scale       mgl32.Vec3
	matrix      mgl32.Mat4
	hasMatrix   bool

	Geometry *Geometry
	Material *Material
	Light    *Light
	Visible  bool

	parent   *Node
	children []*Node
}

func newNode(name string, kind Kind) *Node {
	return &Node{
		Name:     name,
		Kind:     kind,
		Rotation: mgl32.QuatIdent(),
		Scale:    mgl32.Vec3{1, 1, 1},
		Visible:  true,
	}
}

// NewGroup creates an empty transform node.
func NewGroup(name string) *Node {
	return newNode(name, KindGroup)
}

// NewMesh creates a node drawing geo with mat.
func NewMesh(name string, geo *Geometry, mat *Material) *Node {
	n := newNode(name, KindMesh)
	n.Geometry = geo
	n.Material = mat
	return n
}

// NewLight creates a light node.
func NewLight(name string, l Light) *Node {
	n := newNode(name, KindLight)
	n.Light = &l
	return n
}

// Add appends child, detaching it from any previous parent.
func (n *Node) Add(child *Node) {
	if child.parent != nil {
		child.parent.Remove(child)
	}
	child.parent = n
	n.children = append(n.children, child)
}

// Remove detaches child and reports whether it was a child of n.
func (n *Node) Remove(child *Node) bool {
	for i, c := range n.children {
		if c == child {
			n.children = append(n.children[:i], n.children[i+1:]...)
			child.parent = nil
			return true
		}
	}
	return false
}

// Children returns the direct children. The slice must not be modified.
func (n *Node) Children() []*Node { return n.children }

// Parent returns the parent node, nil for roots.
func (n *Node) Parent() *Node { return n.parent }

// SetMatrix overrides translation, rotation and scale with an explicit local matrix.
func (n *Node) SetMatrix(m mgl32.Mat4) {
	n.matrix = m
	n.hasMatrix = true
}

// LocalMatrix returns the node transform relative to its parent.
func (n *Node) LocalMatrix() mgl32.Mat4 {
	if n.hasMatrix {
		return n.matrix
	}
	t := mgl32.Translate3D(n.Translation[0], n.Translation[1], n.Translation[2])
	s := mgl32.Scale3D(n.Scale[0], n.Scale[1], n.Scale[2])
	return t.Mul4(n.Rotation.Normalize().Mat4()).Mul4(s)
}

// WorldMatrix returns the node transform relative to the graph root.
func (n *Node) WorldMatrix() mgl32.Mat4 {
	m := n.LocalMatrix()
	for p := n.parent; p != nil; p = p.parent {
		m = p.LocalMatrix().Mul4(m)
	}
	return m
}

// Walk visits n and its descendants depth-first. Returning false skips a node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.children {
		c.Walk(fn)
	}
}

// WorldBounds returns the world box of every geometry in the subtree.
func (n *Node) WorldBounds() picking.AABB {
	box := picking.EmptyAABB()
	n.Walk(func(c *Node) bool {
		if c.Geometry != nil {
			box = box.Extend(c.Geometry.Bounds().Transform(c.WorldMatrix()))
		}
		return true
	})
	return box
}

// FindElement returns the first node in the subtree tagged with id.
func (n *Node) FindElement(id string) *Node {
	var found *Node
	n.Walk(func(c *Node) bool {
		if found != nil {
			return false
		}
		if c.ElementID == id {
			found = c
			return false
		}
		return true
	})
	return found
}

// ElementOf returns the element id of n or its closest tagged ancestor.
func (n *Node) ElementOf() string {
	for c := n; c != nil; c = c.parent {
		if c.ElementID != "" {
			return c.ElementID
		}
	}
	return ""
}

// Count returns the number of nodes in the subtree.
func (n *Node) Count() int {
	total := 0
	n.Walk(func(*Node) bool { total++; return true })
	return total
}
