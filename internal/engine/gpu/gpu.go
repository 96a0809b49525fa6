// Package gpu defines the drawing device the scene renders through.
package gpu

import (
	"errors"

	"github.com/go-gl/mathgl/mgl32"
)

// ErrUnknownMesh is returned when drawing a mesh that was never uploaded or already released.
var ErrUnknownMesh = errors.New("gpu: unknown mesh")

// MeshID identifies an uploaded mesh.
type MeshID uint32

// Primitive selects how mesh indices are assembled.
type Primitive uint8

const (
	Triangles Primitive = iota
	Lines
)

// MeshData is CPU-side geometry ready for upload.
type MeshData struct {
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3 // optional, same length as Positions
	Indices   []uint32     // optional
	Primitive Primitive
}

// VertexCount returns how many vertices a draw of this mesh submits.
func (m MeshData) VertexCount() int {
	if len(m.Indices) > 0 {
		return len(m.Indices)
	}
	return len(m.Positions)
}

// FrameParams holds per-frame state.
type FrameParams struct {
	View       mgl32.Mat4
	Projection mgl32.Mat4
	Clear      [4]float32

	AmbientColor     mgl32.Vec3
	AmbientIntensity float32
	LightDir         mgl32.Vec3 // direction the light travels
	LightColor       mgl32.Vec3
	LightIntensity   float32
}

// DrawParams holds per-draw state.
type DrawParams struct {
	Model       mgl32.Mat4
	Color       mgl32.Vec4
	Unlit       bool
	Wireframe   bool
	Transparent bool
}

// Device is a drawing surface plus the GPU resources created on it.
// All methods run on the UI thread.
type Device interface {
	UploadMesh(data MeshData) (MeshID, error)
	ReleaseMesh(id MeshID)

	BeginFrame(p FrameParams) error
	Draw(id MeshID, p DrawParams) error
	EndFrame() error

	Resize(width, height int)
	Size() (width, height int)

	// ReadPixels returns the last frame as bottom-up RGBA rows.
	ReadPixels() ([]byte, int, int, error)

	// Release frees the surface. Later calls are no-ops.
	Release()
}
