package model

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"go.uber.org/zap"

	"github.com/Faultbox/bimview/internal/engine/gpu"
	"github.com/Faultbox/bimview/internal/engine/scene"
	"github.com/Faultbox/bimview/internal/props"
)

const (
	glbMagic     = 0x46546C67 // "glTF"
	glbChunkJSON = 0x4E4F534A // "JSON"
	glbHeaderLen = 12
)

// defaultColor is used by primitives without a material.
var defaultColor = scene.HexColor(0xcccccc)

// rawDocument is the part of the glTF JSON read before full decoding.
// Extras stay raw so their key order survives.
type rawDocument struct {
	Nodes []struct {
		Extras json.RawMessage `json:"extras"`
	} `json:"nodes"`
	Buffers []struct {
		URI string `json:"uri"`
	} `json:"buffers"`
}

func isGLB(data []byte) bool {
	return len(data) >= 4 && binary.LittleEndian.Uint32(data) == glbMagic
}

// jsonChunk returns the JSON document of a GLB or glTF payload.
func jsonChunk(data []byte) ([]byte, error) {
	if !isGLB(data) {
		return data, nil
	}
	if len(data) < glbHeaderLen+8 {
		return nil, fmt.Errorf("glb truncated: %d bytes", len(data))
	}
	if v := binary.LittleEndian.Uint32(data[4:]); v != 2 {
		return nil, fmt.Errorf("glb version %d not supported", v)
	}
	n := int(binary.LittleEndian.Uint32(data[glbHeaderLen:]))
	if typ := binary.LittleEndian.Uint32(data[glbHeaderLen+4:]); typ != glbChunkJSON {
		return nil, fmt.Errorf("glb first chunk is %#x, want JSON", typ)
	}
	start := glbHeaderLen + 8
	if n < 0 || start+n > len(data) {
		return nil, fmt.Errorf("glb json chunk length %d out of range", n)
	}
	return data[start : start+n], nil
}

// decodeDocument parses data into a glTF document plus raw node extras.
func decodeDocument(data []byte) (*gltf.Document, []json.RawMessage, error) {
	js, err := jsonChunk(data)
	if err != nil {
		return nil, nil, err
	}
	var raw rawDocument
	if err := json.Unmarshal(js, &raw); err != nil {
		return nil, nil, fmt.Errorf("reading json: %w", err)
	}
	for i, b := range raw.Buffers {
		if b.URI != "" && !strings.HasPrefix(b.URI, "data:") {
			return nil, nil, fmt.Errorf("buffer %d references external resource %q", i, b.URI)
		}
	}

	doc := new(gltf.Document)
	if err := gltf.NewDecoder(bytes.NewReader(data)).Decode(doc); err != nil {
		return nil, nil, err
	}
	extras := make([]json.RawMessage, len(doc.Nodes))
	for i := range raw.Nodes {
		if i < len(extras) {
			extras[i] = raw.Nodes[i].Extras
		}
	}
	return doc, extras, nil
}

type primKey struct{ mesh, prim int }

// builder turns a decoded document into a scene subtree and element index.
type builder struct {
	doc       *gltf.Document
	extras    []json.RawMessage
	log       *zap.Logger
	geometry  map[primKey]*scene.Geometry
	materials map[int]*scene.Material
	visiting  map[int]bool
	ids       map[string]int
	index     *Index
	drawables int
}

func newBuilder(doc *gltf.Document, extras []json.RawMessage, log *zap.Logger) *builder {
	return &builder{
		doc:       doc,
		extras:    extras,
		log:       log,
		geometry:  make(map[primKey]*scene.Geometry),
		materials: make(map[int]*scene.Material),
		visiting:  make(map[int]bool),
		ids:       make(map[string]int),
		index:     newIndex(),
	}
}

// roots returns the node indices of the default scene.
func (b *builder) roots() []int {
	doc := b.doc
	if len(doc.Scenes) > 0 {
		s := 0
		if doc.Scene != nil && int(*doc.Scene) < len(doc.Scenes) {
			s = int(*doc.Scene)
		}
		return indices(doc.Scenes[s].Nodes)
	}
	child := make(map[int]bool)
	for _, n := range doc.Nodes {
		for _, c := range n.Children {
			child[int(c)] = true
		}
	}
	var roots []int
	for i := range doc.Nodes {
		if !child[i] {
			roots = append(roots, i)
		}
	}
	return roots
}

func (b *builder) build(name string) (*scene.Node, error) {
	root := scene.NewGroup(name)
	for _, i := range b.roots() {
		n, err := b.node(i)
		if err != nil {
			return nil, err
		}
		root.Add(n)
	}
	if b.drawables == 0 {
		return nil, fmt.Errorf("no renderable content")
	}
	return root, nil
}

func (b *builder) node(i int) (*scene.Node, error) {
	if i < 0 || i >= len(b.doc.Nodes) {
		return nil, fmt.Errorf("node index %d out of range", i)
	}
	if b.visiting[i] {
		return nil, fmt.Errorf("node %d is part of a cycle", i)
	}
	b.visiting[i] = true
	defer delete(b.visiting, i)

	src := b.doc.Nodes[i]
	name := src.Name
	if name == "" {
		name = "node-" + strconv.Itoa(i)
	}
	n := scene.NewGroup(name)
	setTransform(n, src)

	if src.Mesh != nil {
		if err := b.attachMesh(n, int(*src.Mesh)); err != nil {
			return nil, fmt.Errorf("node %q: %w", name, err)
		}
	}

	bag, err := b.extrasBag(i)
	if err != nil {
		return nil, fmt.Errorf("node %q extras: %w", name, err)
	}
	if bag != nil || src.Mesh != nil {
		b.tag(n, src.Name, i, bag)
	}

	for _, c := range src.Children {
		child, err := b.node(int(c))
		if err != nil {
			return nil, err
		}
		n.Add(child)
	}
	return n, nil
}

func setTransform(n *scene.Node, src *gltf.Node) {
	if src.Matrix != [16]float64{} && src.Matrix != gltf.DefaultMatrix {
		var m mgl32.Mat4
		for k, v := range src.Matrix {
			m[k] = float32(v)
		}
		n.SetMatrix(m)
		return
	}
	t, r, s := src.TranslationOrDefault(), src.RotationOrDefault(), src.ScaleOrDefault()
	n.Translation = mgl32.Vec3{float32(t[0]), float32(t[1]), float32(t[2])}
	n.Rotation = mgl32.Quat{W: float32(r[3]), V: mgl32.Vec3{float32(r[0]), float32(r[1]), float32(r[2])}}
	n.Scale = mgl32.Vec3{float32(s[0]), float32(s[1]), float32(s[2])}
}

func (b *builder) extrasBag(i int) (*props.Bag, error) {
	raw := bytes.TrimSpace(b.extras[i])
	if len(raw) == 0 || raw[0] != '{' {
		return nil, nil
	}
	return props.DecodeJSON(raw)
}

// tag assigns the node its element id: GlobalId, globalId or expressID from
// extras, then the glTF node name, then its position. Repeats get a numeric suffix.
func (b *builder) tag(n *scene.Node, gltfName string, i int, bag *props.Bag) {
	id := ""
	if bag != nil {
		for _, k := range []string{"GlobalId", "globalId", "expressID"} {
			if v, ok := bag.ValueByKeyTry(k); ok && v != nil {
				if s := fmt.Sprint(v); s != "" {
					id = s
					break
				}
			}
		}
	}
	if id == "" {
		id = gltfName
	}
	if id == "" {
		id = "node-" + strconv.Itoa(i)
	}
	cand := id
	for n := 1; b.ids[cand] > 0; {
		n++
		cand = fmt.Sprintf("%s-%d", id, n)
	}
	id = cand
	b.ids[id]++

	n.ElementID = id
	b.index.add(&element{id: id, nodeName: gltfName, extras: bag, node: weakNode(n)})
}

func (b *builder) attachMesh(n *scene.Node, meshIdx int) error {
	if meshIdx < 0 || meshIdx >= len(b.doc.Meshes) {
		return fmt.Errorf("mesh index %d out of range", meshIdx)
	}
	mesh := b.doc.Meshes[meshIdx]
	for pi, prim := range mesh.Primitives {
		geo, err := b.primitive(meshIdx, pi, prim)
		if err != nil {
			return fmt.Errorf("mesh %d primitive %d: %w", meshIdx, pi, err)
		}
		if geo == nil {
			continue
		}
		part := scene.NewMesh(fmt.Sprintf("%s#%d", n.Name, pi), geo, b.material(prim.Material).Clone())
		n.Add(part)
		b.drawables++
	}
	return nil
}

func (b *builder) primitive(meshIdx, pi int, prim *gltf.Primitive) (*scene.Geometry, error) {
	key := primKey{meshIdx, pi}
	if g, ok := b.geometry[key]; ok {
		return g, nil
	}

	var kind gpu.Primitive
	switch prim.Mode {
	case gltf.PrimitiveTriangles:
		kind = gpu.Triangles
	case gltf.PrimitiveLines:
		kind = gpu.Lines
	default:
		b.log.Debug("skipping primitive", zap.Int("mesh", meshIdx), zap.Int("primitive", pi), zap.Any("mode", prim.Mode))
		return nil, nil
	}

	posIdx, ok := prim.Attributes[gltf.POSITION]
	if !ok {
		return nil, nil
	}
	acr, err := b.accessor(int(posIdx))
	if err != nil {
		return nil, err
	}
	pos, err := modeler.ReadPosition(b.doc, acr, nil)
	if err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	data := gpu.MeshData{Positions: toVec3(pos), Primitive: kind}

	if nIdx, ok := prim.Attributes[gltf.NORMAL]; ok {
		acr, err := b.accessor(int(nIdx))
		if err != nil {
			return nil, err
		}
		normals, err := modeler.ReadNormal(b.doc, acr, nil)
		if err != nil {
			return nil, fmt.Errorf("normals: %w", err)
		}
		data.Normals = toVec3(normals)
	}

	if prim.Indices != nil {
		acr, err := b.accessor(int(*prim.Indices))
		if err != nil {
			return nil, err
		}
		idx, err := modeler.ReadIndices(b.doc, acr, nil)
		if err != nil {
			return nil, fmt.Errorf("indices: %w", err)
		}
		for _, v := range idx {
			if int(v) >= len(data.Positions) {
				return nil, fmt.Errorf("index %d out of range of %d vertices", v, len(data.Positions))
			}
		}
		data.Indices = idx
	}

	per := 3
	if kind == gpu.Lines {
		per = 2
	}
	if n := data.VertexCount(); n == 0 || n%per != 0 {
		return nil, fmt.Errorf("%d vertices do not form whole primitives", n)
	}

	g := scene.NewGeometry(data)
	b.geometry[key] = g
	return g, nil
}

func (b *builder) accessor(i int) (*gltf.Accessor, error) {
	if i < 0 || i >= len(b.doc.Accessors) {
		return nil, fmt.Errorf("accessor %d out of range", i)
	}
	return b.doc.Accessors[i], nil
}

// material returns the shared template for a glTF material; nodes clone it.
func (b *builder) material(idx *uint32) *scene.Material {
	key := -1
	if idx != nil {
		key = int(*idx)
	}
	if m, ok := b.materials[key]; ok {
		return m
	}
	m := scene.NewMaterial(defaultColor)
	if key >= 0 && key < len(b.doc.Materials) {
		src := b.doc.Materials[key]
		m.Name = src.Name
		if pbr := src.PBRMetallicRoughness; pbr != nil && pbr.BaseColorFactor != nil {
			c := *pbr.BaseColorFactor
			m.Color = mgl32.Vec3{float32(c[0]), float32(c[1]), float32(c[2])}
			m.Opacity = float32(c[3])
		}
		m.Transparent = src.AlphaMode == gltf.AlphaBlend || m.Opacity < 1
	}
	b.materials[key] = m
	return m
}

// indices widens glTF index lists for range checks against slice lengths.
func indices(in []uint32) []int {
	out := make([]int, len(in))
	for i, v := range in {
		out[i] = int(v)
	}
	return out
}

func toVec3(in [][3]float32) []mgl32.Vec3 {
	out := make([]mgl32.Vec3, len(in))
	for i, v := range in {
		out[i] = mgl32.Vec3(v)
	}
	return out
}
