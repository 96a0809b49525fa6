// Package glgpu implements gpu.Device on OpenGL 4.1 core.
package glgpu

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/go-gl/gl/v4.1-core/gl"
	"go.uber.org/zap"

	"github.com/Faultbox/bimview/internal/engine/gpu"
	"github.com/Faultbox/bimview/internal/logger"
)

type mesh struct {
	vao, vbo, nbo, ebo uint32
	count              int32
	indexed            bool
	mode               uint32
}

// Device draws through the current OpenGL context.
type Device struct {
	log *zap.Logger

	width, height int
	program       uint32
	u             uniforms

	next     gpu.MeshID
	meshes   map[gpu.MeshID]*mesh
	released bool
}

// New creates a device.
// IMPORTANT: Must be called AFTER the OpenGL context is created and made current.
func New(width, height int, log *zap.Logger) (*Device, error) {
	d := &Device{
		log:    logger.OrNop(log, "gpu"),
		width:  width,
		height: height,
		meshes: make(map[gpu.MeshID]*mesh),
	}

	if err := gl.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize OpenGL: %w", err)
	}
	d.log.Info("OpenGL initialized",
		zap.String("version", gl.GoStr(gl.GetString(gl.VERSION))),
		zap.String("renderer", gl.GoStr(gl.GetString(gl.RENDERER))),
	)

	gl.Enable(gl.DEPTH_TEST)
	gl.DepthFunc(gl.LESS)
	gl.BlendFunc(gl.SRC_ALPHA, gl.ONE_MINUS_SRC_ALPHA)

	var err error
	d.program, err = compileProgram(vertexShader, fragmentShader)
	if err != nil {
		return nil, fmt.Errorf("failed to create shader program: %w", err)
	}
	d.u = lookupUniforms(d.program)
	d.log.Debug("shader program created", zap.Uint32("program", d.program))
	return d, nil
}

// UploadMesh implements gpu.Device.
func (d *Device) UploadMesh(data gpu.MeshData) (gpu.MeshID, error) {
	if d.released {
		return 0, errors.New("glgpu: device released")
	}
	if len(data.Positions) == 0 {
		return 0, errors.New("glgpu: empty mesh")
	}

	m := &mesh{mode: gl.TRIANGLES}
	if data.Primitive == gpu.Lines {
		m.mode = gl.LINES
	}

	gl.GenVertexArrays(1, &m.vao)
	gl.BindVertexArray(m.vao)

	gl.GenBuffers(1, &m.vbo)
	gl.BindBuffer(gl.ARRAY_BUFFER, m.vbo)
	gl.BufferData(gl.ARRAY_BUFFER, len(data.Positions)*12, unsafe.Pointer(&data.Positions[0]), gl.STATIC_DRAW)
	gl.VertexAttribPointer(0, 3, gl.FLOAT, false, 12, nil)
	gl.EnableVertexAttribArray(0)

	if len(data.Normals) == len(data.Positions) {
		gl.GenBuffers(1, &m.nbo)
		gl.BindBuffer(gl.ARRAY_BUFFER, m.nbo)
		gl.BufferData(gl.ARRAY_BUFFER, len(data.Normals)*12, unsafe.Pointer(&data.Normals[0]), gl.STATIC_DRAW)
		gl.VertexAttribPointer(1, 3, gl.FLOAT, false, 12, nil)
		gl.EnableVertexAttribArray(1)
	} else {
		gl.DisableVertexAttribArray(1)
		gl.VertexAttrib3f(1, 0, 1, 0)
	}

	if len(data.Indices) > 0 {
		gl.GenBuffers(1, &m.ebo)
		gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, m.ebo)
		gl.BufferData(gl.ELEMENT_ARRAY_BUFFER, len(data.Indices)*4, unsafe.Pointer(&data.Indices[0]), gl.STATIC_DRAW)
		m.indexed = true
	}
	m.count = int32(data.VertexCount())

	gl.BindVertexArray(0)
	gl.BindBuffer(gl.ARRAY_BUFFER, 0)

	if err := glError("upload mesh"); err != nil {
		d.free(m)
		return 0, err
	}

	d.next++
	d.meshes[d.next] = m
	d.log.Debug("mesh uploaded",
		zap.Uint32("id", uint32(d.next)),
		zap.Int("vertices", len(data.Positions)),
		zap.Int32("count", m.count),
	)
	return d.next, nil
}

// ReleaseMesh implements gpu.Device.
func (d *Device) ReleaseMesh(id gpu.MeshID) {
	m, ok := d.meshes[id]
	if !ok {
		return
	}
	delete(d.meshes, id)
	d.free(m)
}

func (d *Device) free(m *mesh) {
	if m.vao != 0 {
		gl.DeleteVertexArrays(1, &m.vao)
	}
	for _, b := range []*uint32{&m.vbo, &m.nbo, &m.ebo} {
		if *b != 0 {
			gl.DeleteBuffers(1, b)
		}
	}
}

// BeginFrame implements gpu.Device.
func (d *Device) BeginFrame(p gpu.FrameParams) error {
	if d.released {
		return errors.New("glgpu: device released")
	}
	gl.Viewport(0, 0, int32(d.width), int32(d.height))
	gl.ClearColor(p.Clear[0], p.Clear[1], p.Clear[2], p.Clear[3])
	gl.Clear(gl.COLOR_BUFFER_BIT | gl.DEPTH_BUFFER_BIT)

	gl.UseProgram(d.program)
	gl.UniformMatrix4fv(d.u.view, 1, false, &p.View[0])
	gl.UniformMatrix4fv(d.u.projection, 1, false, &p.Projection[0])

	amb := p.AmbientColor.Mul(p.AmbientIntensity)
	light := p.LightColor.Mul(p.LightIntensity)
	gl.Uniform3f(d.u.ambient, amb[0], amb[1], amb[2])
	gl.Uniform3f(d.u.lightDir, p.LightDir[0], p.LightDir[1], p.LightDir[2])
	gl.Uniform3f(d.u.light, light[0], light[1], light[2])
	return glError("begin frame")
}

// Draw implements gpu.Device.
func (d *Device) Draw(id gpu.MeshID, p gpu.DrawParams) error {
	m, ok := d.meshes[id]
	if !ok {
		return fmt.Errorf("%w: %d", gpu.ErrUnknownMesh, id)
	}

	gl.UniformMatrix4fv(d.u.model, 1, false, &p.Model[0])
	gl.Uniform4f(d.u.color, p.Color[0], p.Color[1], p.Color[2], p.Color[3])
	unlit := int32(0)
	if p.Unlit || m.mode == gl.LINES {
		unlit = 1
	}
	gl.Uniform1i(d.u.unlit, unlit)

	if p.Transparent {
		gl.Enable(gl.BLEND)
		gl.DepthMask(false)
	}
	if p.Wireframe {
		gl.PolygonMode(gl.FRONT_AND_BACK, gl.LINE)
	}

	gl.BindVertexArray(m.vao)
	if m.indexed {
		gl.DrawElements(m.mode, m.count, gl.UNSIGNED_INT, nil)
	} else {
		gl.DrawArrays(m.mode, 0, m.count)
	}
	gl.BindVertexArray(0)

	if p.Wireframe {
		gl.PolygonMode(gl.FRONT_AND_BACK, gl.FILL)
	}
	if p.Transparent {
		gl.DepthMask(true)
		gl.Disable(gl.BLEND)
	}
	return glError("draw")
}

// EndFrame implements gpu.Device.
func (d *Device) EndFrame() error {
	gl.UseProgram(0)
	return glError("end frame")
}

// Resize implements gpu.Device.
func (d *Device) Resize(width, height int) {
	d.width = width
	d.height = height
	gl.Viewport(0, 0, int32(width), int32(height))
	d.log.Debug("surface resized", zap.Int("width", width), zap.Int("height", height))
}

// Size implements gpu.Device.
func (d *Device) Size() (int, int) {
	return d.width, d.height
}

// ReadPixels implements gpu.Device.
func (d *Device) ReadPixels() ([]byte, int, int, error) {
	if d.released {
		return nil, 0, 0, errors.New("glgpu: device released")
	}
	w, h := d.width, d.height
	pix := make([]byte, w*h*4)
	gl.PixelStorei(gl.PACK_ALIGNMENT, 1)
	gl.ReadPixels(0, 0, int32(w), int32(h), gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(pix))
	if err := glError("read pixels"); err != nil {
		return nil, 0, 0, err
	}
	return pix, w, h, nil
}

// Release implements gpu.Device.
func (d *Device) Release() {
	if d.released {
		return
	}
	d.released = true
	for id, m := range d.meshes {
		d.free(m)
		delete(d.meshes, id)
	}
	if d.program != 0 {
		gl.DeleteProgram(d.program)
		d.program = 0
	}
	d.log.Info("gpu device released")
}

func glError(op string) error {
	if code := gl.GetError(); code != gl.NO_ERROR {
		return fmt.Errorf("glgpu: %s: gl error 0x%04x", op, code)
	}
	return nil
}

var _ gpu.Device = (*Device)(nil)
