package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// FileSource reads local files from file:// URLs or bare paths.
type FileSource struct{}

// Read implements Source.
func (FileSource) Read(ctx context.Context, u *url.URL) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(LocalPath(u))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return data, err
}

// LocalPath returns the filesystem path of a file URL or bare path.
func LocalPath(u *url.URL) string {
	if u.Scheme == "" {
		return filepath.FromSlash(u.Path)
	}
	p := u.Path
	if u.Host != "" && u.Host != "localhost" {
		p = u.Host + p
	}
	return filepath.FromSlash(p)
}

// DefaultMaxBytes caps remote reads when a source sets no limit.
const DefaultMaxBytes int64 = 512 << 20

// HTTPSource reads http and https URLs.
type HTTPSource struct {
	Client *http.Client
	// MaxBytes caps the body size; zero means DefaultMaxBytes.
	MaxBytes int64
}

// NewHTTPSource returns a source using a client with the given timeout.
func NewHTTPSource(timeout time.Duration) *HTTPSource {
	return &HTTPSource{Client: &http.Client{Timeout: timeout}}
}

// Read implements Source.
func (s *HTTPSource) Read(ctx context.Context, u *url.URL) ([]byte, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, u.Redacted())
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return readLimited(resp.Body, resp.ContentLength, s.MaxBytes)
}

// readLimited reads r up to limit bytes. size is the advertised length, -1 if unknown.
func readLimited(r io.Reader, size, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	if size > limit {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, size, limit)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrTooLarge, limit)
	}
	return data, nil
}
