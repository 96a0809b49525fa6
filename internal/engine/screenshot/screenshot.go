// Package screenshot turns rendered frames into PNG files.
package screenshot

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"time"
)

// FromPixels builds an image from bottom-up RGBA rows as read back from the GPU.
// The rows are flipped so the result has its origin at the top left.
func FromPixels(pixels []byte, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("screenshot: invalid size %dx%d", width, height)
	}
	if len(pixels) != width*height*4 {
		return nil, fmt.Errorf("screenshot: pixel data size mismatch: expected %d, got %d", width*height*4, len(pixels))
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	rowSize := width * 4
	for y := 0; y < height; y++ {
		src := (height - 1 - y) * rowSize
		dst := y * img.Stride
		copy(img.Pix[dst:dst+rowSize], pixels[src:src+rowSize])
	}
	return img, nil
}

// Encode writes img as PNG.
func Encode(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("screenshot: encoding PNG: %w", err)
	}
	return nil
}

// Capture writes PNG screenshots into a directory.
type Capture struct {
	dir    string
	prefix string
	now    func() time.Time
}

// NewCapture creates a capture writing <prefix>_<timestamp>.png files into dir.
func NewCapture(dir, prefix string) *Capture {
	if prefix == "" {
		prefix = "bimview"
	}
	return &Capture{dir: dir, prefix: prefix, now: time.Now}
}

// Dir returns the output directory.
func (c *Capture) Dir() string { return c.dir }

// Save writes img and returns the file path.
func (c *Capture) Save(img image.Image) (string, error) {
	if c.dir != "" {
		if err := os.MkdirAll(c.dir, 0o755); err != nil {
			return "", fmt.Errorf("screenshot: creating output dir: %w", err)
		}
	}

	name := fmt.Sprintf("%s_%s.png", c.prefix, c.now().Format("2006-01-02_15-04-05.000"))
	path := filepath.Join(c.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("screenshot: creating file: %w", err)
	}
	if err := Encode(f, img); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("screenshot: closing file: %w", err)
	}
	return path, nil
}
