package assets

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheStatsAndEviction(t *testing.T) {
	c, err := NewCache(2)
	require.NoError(t, err)

	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))
	_, ok := c.Get("a")
	assert.True(t, ok)
	c.Set("c", []byte("3")) // evicts b, the least recently used

	_, ok = c.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())

	hits, misses := c.Stats()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)

	c.Clear()
	hits, misses = c.Stats()
	assert.Zero(t, hits+misses)
	assert.Zero(t, c.Len())
}

func TestFetchFileAndBarePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.glb")
	require.NoError(t, os.WriteFile(path, []byte("glTF"), 0o644))

	m, err := NewManager(Options{})
	require.NoError(t, err)

	for _, raw := range []string{path, "file://" + filepath.ToSlash(path)} {
		data, err := m.Fetch(context.Background(), raw)
		require.NoError(t, err, raw)
		assert.Equal(t, "glTF", string(data))
	}

	_, err = m.Fetch(context.Background(), filepath.Join(t.TempDir(), "missing.glb"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchCachesBytes(t *testing.T) {
	var served atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.glb" {
			http.NotFound(w, r)
			return
		}
		served.Add(1)
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	m, err := NewManager(Options{CacheEntries: 4})
	require.NoError(t, err)
	m.Register("http", NewHTTPSource(time.Second))

	for i := 0; i < 3; i++ {
		data, err := m.Fetch(context.Background(), srv.URL+"/tower.glb")
		require.NoError(t, err)
		assert.Equal(t, "payload", string(data))
	}
	assert.Equal(t, int32(1), served.Load())

	m.Invalidate(srv.URL + "/tower.glb")
	_, err = m.Fetch(context.Background(), srv.URL+"/tower.glb")
	require.NoError(t, err)
	assert.Equal(t, int32(2), served.Load())

	_, err = m.Fetch(context.Background(), srv.URL+"/missing.glb")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHTTPServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	m, err := NewManager(Options{})
	require.NoError(t, err)
	m.Register("http", &HTTPSource{Client: srv.Client()})

	_, err = m.Fetch(context.Background(), srv.URL+"/a.glb")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestHTTPBodyLimit(t *testing.T) {
	body := bytes.Repeat([]byte("x"), 64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/chunked.glb" {
			// no Content-Length: the limit applies while reading
			w.(http.Flusher).Flush()
		}
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	tests := []struct {
		name    string
		path    string
		max     int64
		wantErr error
	}{
		{"under limit", "/a.glb", 64, nil},
		{"advertised over limit", "/a.glb", 16, ErrTooLarge},
		{"streamed over limit", "/chunked.glb", 16, ErrTooLarge},
		{"default limit", "/chunked.glb", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManager(Options{})
			require.NoError(t, err)
			m.Register("http", &HTTPSource{Client: srv.Client(), MaxBytes: tt.max})

			data, err := m.Fetch(context.Background(), srv.URL+tt.path)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Zero(t, m.Cache().Len())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, body, data)
		})
	}
}

func TestUnsupportedScheme(t *testing.T) {
	m, err := NewManager(Options{})
	require.NoError(t, err)
	_, err = m.Fetch(context.Background(), "ftp://example.com/a.glb")
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

type fakeS3 struct {
	objects map[string]string
	gets    int
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.gets++
	body, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader([]byte(body)))}, nil
}

func TestS3ObjectLimit(t *testing.T) {
	api := &fakeS3{objects: map[string]string{"models/big.glb": "0123456789"}}
	src := NewS3SourceWithClient(api)
	src.MaxBytes = 4
	m, err := NewManager(Options{})
	require.NoError(t, err)
	m.Register("s3", src)

	_, err = m.Fetch(context.Background(), "s3://models/big.glb")
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestS3Source(t *testing.T) {
	api := &fakeS3{objects: map[string]string{"models/site/plant.glb": "plant"}}
	m, err := NewManager(Options{})
	require.NoError(t, err)
	m.Register("s3", NewS3SourceWithClient(api))

	data, err := m.Fetch(context.Background(), "s3://models/site/plant.glb")
	require.NoError(t, err)
	assert.Equal(t, "plant", string(data))

	_, err = m.Fetch(context.Background(), "s3://models/site/other.glb")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.Fetch(context.Background(), "s3://models")
	assert.Error(t, err)
}

func TestLocalPath(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"models/a.glb", filepath.FromSlash("models/a.glb")},
		{"file:///srv/a.glb", filepath.FromSlash("/srv/a.glb")},
		{"file://localhost/srv/a.glb", filepath.FromSlash("/srv/a.glb")},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.raw)
		require.NoError(t, err)
		assert.Equal(t, tt.want, LocalPath(u), tt.raw)
	}
}

func TestWatchFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.glb")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	changed := make(chan struct{}, 4)
	w, err := WatchFile(path, 20*time.Millisecond, func() { changed <- struct{}{} }, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported")
	}
}

func TestWatchFileRejectsRemote(t *testing.T) {
	_, err := WatchFile("https://example.com/a.glb", time.Millisecond, func() {}, nil)
	assert.True(t, errors.Is(err, ErrUnsupportedScheme))
}
