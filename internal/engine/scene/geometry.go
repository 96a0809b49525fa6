package scene

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/bimview/internal/engine/gpu"
	"github.com/Faultbox/bimview/internal/engine/picking"
)

// Geometry is CPU mesh data plus its reference-counted GPU upload.
// It is read-only once created and may be shared by many nodes.
type Geometry struct {
	data   gpu.MeshData
	bounds picking.AABB

	dev  gpu.Device
	id   gpu.MeshID
	refs int
}

// NewGeometry wraps data. Triangle meshes without normals get smooth normals.
func NewGeometry(data gpu.MeshData) *Geometry {
	if data.Primitive == gpu.Triangles && len(data.Normals) != len(data.Positions) {
		data.Normals = ComputeNormals(data.Positions, data.Indices)
	}
	return &Geometry{data: data, bounds: picking.BoundsOf(data.Positions)}
}

// Data returns the mesh data.
func (g *Geometry) Data() gpu.MeshData { return g.data }

// Bounds returns the local-space bounding box.
func (g *Geometry) Bounds() picking.AABB { return g.bounds }

// Refs returns how many attached nodes hold the upload.
func (g *Geometry) Refs() int { return g.refs }

// TriangleCount returns the number of triangles, zero for line geometry.
func (g *Geometry) TriangleCount() int {
	if g.data.Primitive != gpu.Triangles {
		return 0
	}
	return g.data.VertexCount() / 3
}

// Triangle returns the corners of triangle i.
func (g *Geometry) Triangle(i int) (a, b, c mgl32.Vec3) {
	p := g.data.Positions
	if len(g.data.Indices) > 0 {
		ix := g.data.Indices[i*3 : i*3+3]
		return p[ix[0]], p[ix[1]], p[ix[2]]
	}
	return p[i*3], p[i*3+1], p[i*3+2]
}

func (g *Geometry) acquire(dev gpu.Device) error {
	if g.refs == 0 {
		id, err := dev.UploadMesh(g.data)
		if err != nil {
			return fmt.Errorf("upload geometry: %w", err)
		}
		g.dev, g.id = dev, id
	}
	g.refs++
	return nil
}

func (g *Geometry) release() {
	if g.refs == 0 {
		return
	}
	g.refs--
	if g.refs == 0 {
		g.dev.ReleaseMesh(g.id)
		g.dev, g.id = nil, 0
	}
}

// ComputeNormals returns area-weighted vertex normals.
func ComputeNormals(positions []mgl32.Vec3, indices []uint32) []mgl32.Vec3 {
	normals := make([]mgl32.Vec3, len(positions))
	tri := func(a, b, c uint32) {
		if int(a) >= len(positions) || int(b) >= len(positions) || int(c) >= len(positions) {
			return
		}
		n := positions[b].Sub(positions[a]).Cross(positions[c].Sub(positions[a]))
		normals[a] = normals[a].Add(n)
		normals[b] = normals[b].Add(n)
		normals[c] = normals[c].Add(n)
	}
	if len(indices) > 0 {
		for i := 0; i+2 < len(indices); i += 3 {
			tri(indices[i], indices[i+1], indices[i+2])
		}
	} else {
		for i := 0; i+2 < len(positions); i += 3 {
			tri(uint32(i), uint32(i+1), uint32(i+2))
		}
	}
	for i, n := range normals {
		if l := n.Len(); l > 0 {
			normals[i] = n.Mul(1 / l)
		} else {
			normals[i] = mgl32.Vec3{0, 1, 0}
		}
	}
	return normals
}

// BoxGeometry returns an axis-aligned box centered on the origin with flat faces.
func BoxGeometry(w, h, d float32) *Geometry {
	x, y, z := w/2, h/2, d/2
	faces := []struct {
		n       mgl32.Vec3
		corners [4]mgl32.Vec3
	}{
		{mgl32.Vec3{0, 0, 1}, [4]mgl32.Vec3{{-x, -y, z}, {x, -y, z}, {x, y, z}, {-x, y, z}}},
		{mgl32.Vec3{0, 0, -1}, [4]mgl32.Vec3{{x, -y, -z}, {-x, -y, -z}, {-x, y, -z}, {x, y, -z}}},
		{mgl32.Vec3{1, 0, 0}, [4]mgl32.Vec3{{x, -y, z}, {x, -y, -z}, {x, y, -z}, {x, y, z}}},
		{mgl32.Vec3{-1, 0, 0}, [4]mgl32.Vec3{{-x, -y, -z}, {-x, -y, z}, {-x, y, z}, {-x, y, -z}}},
		{mgl32.Vec3{0, 1, 0}, [4]mgl32.Vec3{{-x, y, z}, {x, y, z}, {x, y, -z}, {-x, y, -z}}},
		{mgl32.Vec3{0, -1, 0}, [4]mgl32.Vec3{{-x, -y, -z}, {x, -y, -z}, {x, -y, z}, {-x, -y, z}}},
	}
	data := gpu.MeshData{Primitive: gpu.Triangles}
	for _, f := range faces {
		base := uint32(len(data.Positions))
		for _, c := range f.corners {
			data.Positions = append(data.Positions, c)
			data.Normals = append(data.Normals, f.n)
		}
		data.Indices = append(data.Indices, base, base+1, base+2, base, base+2, base+3)
	}
	return NewGeometry(data)
}

// GridGeometry returns a square line grid on the XZ plane.
func GridGeometry(size float32, divisions int) *Geometry {
	if divisions < 1 {
		divisions = 1
	}
	half := size / 2
	step := size / float32(divisions)
	data := gpu.MeshData{Primitive: gpu.Lines}
	for i := 0; i <= divisions; i++ {
		k := -half + float32(i)*step
		data.Positions = append(data.Positions,
			mgl32.Vec3{-half, 0, k}, mgl32.Vec3{half, 0, k},
			mgl32.Vec3{k, 0, -half}, mgl32.Vec3{k, 0, half},
		)
	}
	return NewGeometry(data)
}
