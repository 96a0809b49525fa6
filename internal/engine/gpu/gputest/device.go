// Package gputest provides a recording gpu.Device for tests.
package gputest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Faultbox/bimview/internal/engine/gpu"
)

// ErrInjected is the default error returned by injected draw failures.
var ErrInjected = errors.New("gputest: injected draw failure")

// Draw records one Draw call.
type Draw struct {
	Mesh   gpu.MeshID
	Params gpu.DrawParams
}

// Device records calls and can be told to fail.
type Device struct {
	mu sync.Mutex

	next   gpu.MeshID
	meshes map[gpu.MeshID]gpu.MeshData

	width, height int
	released      int

	Uploads      int
	Releases     int
	DoubleFrees  int
	Frames       int // completed EndFrame calls
	Draws        []Draw
	LastFrame    gpu.FrameParams
	FailDraws    int   // number of upcoming Draw calls that fail
	FailUploads  int   // number of upcoming uploads that fail
	DrawErr      error // error used for failing draws, ErrInjected when nil
	failAfter    int
	inFrame      bool
	frameDraws   int
	LastFrameLen int // draws issued in the last completed frame
}

// New returns a device with the given surface size.
func New(width, height int) *Device {
	return &Device{
		meshes: make(map[gpu.MeshID]gpu.MeshData),
		width:  width,
		height: height,
	}
}

// UploadMesh implements gpu.Device.
func (d *Device) UploadMesh(data gpu.MeshData) (gpu.MeshID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failAfter > 0 {
		d.failAfter--
		if d.failAfter == 0 {
			d.FailUploads++
		}
	} else if d.FailUploads > 0 {
		d.FailUploads--
		return 0, errors.New("gputest: injected upload failure")
	}
	if len(data.Positions) == 0 {
		return 0, errors.New("gputest: empty mesh")
	}
	d.next++
	d.meshes[d.next] = data
	d.Uploads++
	return d.next, nil
}

// ReleaseMesh implements gpu.Device.
func (d *Device) ReleaseMesh(id gpu.MeshID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.meshes[id]; !ok {
		d.DoubleFrees++
		return
	}
	delete(d.meshes, id)
	d.Releases++
}

// BeginFrame implements gpu.Device.
func (d *Device) BeginFrame(p gpu.FrameParams) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released > 0 {
		return errors.New("gputest: surface released")
	}
	d.inFrame = true
	d.frameDraws = 0
	d.LastFrame = p
	return nil
}

// Draw implements gpu.Device.
func (d *Device) Draw(id gpu.MeshID, p gpu.DrawParams) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.inFrame {
		return errors.New("gputest: draw outside frame")
	}
	if d.FailDraws > 0 {
		d.FailDraws--
		if d.DrawErr != nil {
			return d.DrawErr
		}
		return ErrInjected
	}
	if _, ok := d.meshes[id]; !ok {
		return fmt.Errorf("%w: %d", gpu.ErrUnknownMesh, id)
	}
	d.Draws = append(d.Draws, Draw{Mesh: id, Params: p})
	d.frameDraws++
	return nil
}

// EndFrame implements gpu.Device.
func (d *Device) EndFrame() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inFrame = false
	d.Frames++
	d.LastFrameLen = d.frameDraws
	return nil
}

// Resize implements gpu.Device.
func (d *Device) Resize(width, height int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.width, d.height = width, height
}

// Size implements gpu.Device.
func (d *Device) Size() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.width, d.height
}

// ReadPixels returns a solid mid-gray frame.
func (d *Device) ReadPixels() ([]byte, int, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released > 0 {
		return nil, 0, 0, errors.New("gputest: surface released")
	}
	pix := make([]byte, d.width*d.height*4)
	for i := range pix {
		pix[i] = 0x80
	}
	return pix, d.width, d.height, nil
}

// Release implements gpu.Device.
func (d *Device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released++
}

// Live returns the number of meshes uploaded and not yet released.
func (d *Device) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.meshes)
}

// SurfaceReleases returns how many times Release was called.
func (d *Device) SurfaceReleases() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

// Mesh returns the data uploaded under id.
func (d *Device) Mesh(id gpu.MeshID) (gpu.MeshData, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.meshes[id]
	return m, ok
}

// Fail makes the next n draws fail.
func (d *Device) Fail(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.FailDraws = n
}

// FailUploadAfter lets the next n uploads succeed and fails the one after.
func (d *Device) FailUploadAfter(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n <= 0 {
		d.FailUploads++
		return
	}
	d.failAfter = n
}

// DrawCount returns the number of successful draws recorded.
func (d *Device) DrawCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Draws)
}

// FrameCount returns the number of completed frames.
func (d *Device) FrameCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Frames
}

var _ gpu.Device = (*Device)(nil)
