// Package assets fetches model assets by URL scheme and caches their bytes.
package assets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Faultbox/bimview/internal/logger"
	"github.com/Faultbox/bimview/internal/telemetry"
)

var (
	// ErrNotFound reports a missing object at a reachable source.
	ErrNotFound = errors.New("assets: not found")
	// ErrUnsupportedScheme reports a URL scheme with no registered source.
	ErrUnsupportedScheme = errors.New("assets: unsupported scheme")
	// ErrTooLarge reports a remote object over the source's size limit.
	ErrTooLarge = errors.New("assets: too large")
)

// Fetcher returns the bytes behind an asset URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Source reads objects for one URL scheme.
type Source interface {
	Read(ctx context.Context, u *url.URL) ([]byte, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, u *url.URL) ([]byte, error)

// Read calls f.
func (f SourceFunc) Read(ctx context.Context, u *url.URL) ([]byte, error) { return f(ctx, u) }

// Options configures a Manager.
type Options struct {
	CacheEntries int
	Logger       *zap.Logger
	Metrics      *telemetry.Metrics
}

// Manager resolves URLs to sources and caches results.
type Manager struct {
	sources map[string]Source
	cache   *Cache
	metrics *telemetry.Metrics
	log     *zap.Logger
	mu      sync.RWMutex
}

// NewManager creates a manager with the file source registered for "file" and bare paths.
func NewManager(opts Options) (*Manager, error) {
	cache, err := NewCache(opts.CacheEntries)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		sources: make(map[string]Source),
		cache:   cache,
		metrics: opts.Metrics,
		log:     logger.OrNop(opts.Logger, "assets"),
	}
	m.Register("file", FileSource{})
	m.Register("", FileSource{})
	return m, nil
}

// Register installs src for scheme, replacing any earlier source.
func (m *Manager) Register(scheme string, src Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[strings.ToLower(scheme)] = src
}

// Fetch returns the asset bytes, from cache when possible.
// Callers must not modify the returned slice.
func (m *Manager) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if data, ok := m.cache.Get(rawURL); ok {
		m.metrics.CacheLookup(true)
		return data, nil
	}
	m.metrics.CacheLookup(false)

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing asset url %q: %w", rawURL, err)
	}
	m.mu.RLock()
	src, ok := m.sources[strings.ToLower(u.Scheme)]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	data, err := src.Read(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	m.cache.Set(rawURL, data)
	m.log.Debug("asset fetched", zap.String("url", rawURL), zap.Int("bytes", len(data)))
	return data, nil
}

// Invalidate drops one URL from the cache.
func (m *Manager) Invalidate(rawURL string) {
	m.cache.Remove(rawURL)
}

// Cache returns the manager's cache.
func (m *Manager) Cache() *Cache { return m.cache }

// Close clears the cache.
func (m *Manager) Close() {
	m.cache.Clear()
}
