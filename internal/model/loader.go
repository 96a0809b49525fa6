package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/bimview/internal/assets"
	"github.com/Faultbox/bimview/internal/engine/scene"
	"github.com/Faultbox/bimview/internal/logger"
	"github.com/Faultbox/bimview/internal/telemetry"
)

// Model is a loaded asset: its scene subtree and element index.
// The loader hands ownership of Root to whoever attaches it.
type Model struct {
	Asset Asset
	Root  *scene.Node
	Index *Index
}

// Options configures a Loader.
type Options struct {
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
}

// Loader fetches and parses models and serves cached element records
// for the installed model. Load may run on any goroutine.
type Loader struct {
	fetch   assets.Fetcher
	log     *zap.Logger
	metrics *telemetry.Metrics

	mu      sync.Mutex
	current *Index
	records map[string]*ElementRecord
	patches map[string]Patch
}

// NewLoader creates a loader reading assets through fetch.
func NewLoader(fetch assets.Fetcher, opts Options) *Loader {
	return &Loader{
		fetch:   fetch,
		log:     logger.OrNop(opts.Logger, "model"),
		metrics: opts.Metrics,
		records: make(map[string]*ElementRecord),
		patches: make(map[string]Patch),
	}
}

// Load fetches and parses asset. Errors wrap ErrAssetUnavailable or ErrParseFailure.
func (l *Loader) Load(ctx context.Context, asset Asset) (*Model, error) {
	start := time.Now()
	m, err := l.load(ctx, asset)
	result := "ok"
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		result = "canceled"
	case errors.Is(err, ErrAssetUnavailable):
		result = "unavailable"
	case err != nil:
		result = "parse_failure"
	}
	l.metrics.ModelLoaded(result, time.Since(start))
	if result == "canceled" {
		l.log.Debug("model load canceled", zap.String("url", asset.SourceURL), zap.Error(err))
		return nil, err
	}
	if err != nil {
		l.log.Warn("model load failed", zap.String("url", asset.SourceURL), zap.Error(err))
		return nil, err
	}
	l.log.Info("model loaded",
		zap.String("url", asset.SourceURL),
		zap.Int("elements", m.Index.Len()),
		zap.Int("nodes", m.Root.Count()),
		zap.Duration("took", time.Since(start)),
	)
	return m, nil
}

func (l *Loader) load(ctx context.Context, asset Asset) (*Model, error) {
	if !asset.Format.Supported() {
		return nil, fmt.Errorf("%w: unsupported format %q", ErrParseFailure, asset.Format)
	}
	data, err := l.fetch.Fetch(ctx, asset.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAssetUnavailable, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Parse(asset, data, l.log)
}

// Parse builds a model from asset bytes.
func Parse(asset Asset, data []byte, log *zap.Logger) (*Model, error) {
	log = logger.OrNop(log, "model")
	if asset.Format == FormatGLB && !isGLB(data) {
		return nil, fmt.Errorf("%w: %s is not a binary glTF", ErrParseFailure, asset.Name())
	}
	doc, extras, err := decodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseFailure, err)
	}
	b := newBuilder(doc, extras, log)
	root, err := b.build(asset.Name())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseFailure, err)
	}
	return &Model{Asset: asset, Root: root, Index: b.index}, nil
}

// Install makes m the model element lookups are served from and drops cached records.
func (l *Loader) Install(m *Model) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = nil
	if m != nil {
		l.current = m.Index
	}
	clear(l.records)
}

// Index returns the installed model's index, nil when none is installed.
func (l *Loader) Index() *Index {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// ElementProperties returns the record for id, creating and caching it on first use.
func (l *Loader) ElementProperties(id string) (*ElementRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, err := l.record(id)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// UpdateElement applies patch to the cached record of id.
// The patch is remembered so the edit survives invalidation.
func (l *Loader) UpdateElement(id string, patch Patch) (*ElementRecord, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, err := l.record(id)
	if err != nil {
		return nil, err
	}
	patch.Apply(rec)
	l.patches[id] = l.patches[id].Merge(patch)
	return rec.Clone(), nil
}

// SeedPatches registers previously persisted edits, applied whenever a record is created.
func (l *Loader) SeedPatches(seeds map[string]Patch) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, p := range seeds {
		if p.Validate() != nil {
			l.log.Warn("ignoring invalid seed patch", zap.String("element", id))
			continue
		}
		l.patches[id] = l.patches[id].Merge(p)
		delete(l.records, id)
	}
}

// Invalidate drops the cached record of id.
func (l *Loader) Invalidate(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, id)
}

// InvalidateAll drops every cached record.
func (l *Loader) InvalidateAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.records)
}

// Placeholder returns the scene shown while no model is loaded.
func (l *Loader) Placeholder() *scene.Node {
	return Placeholder()
}

func (l *Loader) record(id string) (*ElementRecord, error) {
	if rec, ok := l.records[id]; ok {
		return rec, nil
	}
	if l.current == nil {
		return nil, fmt.Errorf("%w: %q (no model installed)", ErrElementNotFound, id)
	}
	el, ok := l.current.elements[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrElementNotFound, id)
	}
	rec := newRecord(el)
	if p, ok := l.patches[id]; ok {
		p.Apply(rec)
	}
	l.records[id] = rec
	return rec, nil
}
