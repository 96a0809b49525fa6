// Package telemetry exposes viewer metrics to Prometheus.
// A nil *Metrics is valid and records nothing.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Faultbox/bimview/internal/logger"
)

const namespace = "bimview"

// Metrics holds the viewer collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	framesRendered prometheus.Counter
	framesSkipped  prometheus.Counter
	frameSeconds   prometheus.Histogram
	rendererLost   prometheus.Counter

	loads       *prometheus.CounterVec
	loadSeconds prometheus.Histogram

	xrSessions    *prometheus.CounterVec
	xrUnavailable prometheus.Counter
	xrActive      prometheus.Gauge

	cacheRequests *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "render", Name: "frames_total",
			Help: "Frames rendered successfully.",
		}),
		framesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "render", Name: "frames_skipped_total",
			Help: "Frames skipped after a draw failure.",
		}),
		frameSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "render", Name: "frame_seconds",
			Help:    "CPU time spent issuing one frame.",
			Buckets: []float64{.001, .002, .004, .008, .016, .033, .066, .1},
		}),
		rendererLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "render", Name: "renderer_lost_total",
			Help: "Viewers stopped by repeated draw failures.",
		}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "model", Name: "loads_total",
			Help: "Model loads by result.",
		}, []string{"result"}),
		loadSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "model", Name: "load_seconds",
			Help:    "Time to fetch and parse a model.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		xrSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "xr", Name: "sessions_total",
			Help: "XR sessions started by mode.",
		}, []string{"mode"}),
		xrUnavailable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "xr", Name: "unavailable_total",
			Help: "XR entry attempts that found no usable session.",
		}),
		xrActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "xr", Name: "active",
			Help: "1 while an XR session owns rendering.",
		}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "assets", Name: "cache_requests_total",
			Help: "Asset cache lookups by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		m.framesRendered, m.framesSkipped, m.frameSeconds, m.rendererLost,
		m.loads, m.loadSeconds,
		m.xrSessions, m.xrUnavailable, m.xrActive,
		m.cacheRequests,
		prometheus.NewGoCollector(),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// FrameRendered records a successful frame.
func (m *Metrics) FrameRendered(d time.Duration) {
	if m == nil {
		return
	}
	m.framesRendered.Inc()
	m.frameSeconds.Observe(d.Seconds())
}

// FrameSkipped records a failed frame.
func (m *Metrics) FrameSkipped() {
	if m == nil {
		return
	}
	m.framesSkipped.Inc()
}

// RendererLost records a fatal renderer loss.
func (m *Metrics) RendererLost() {
	if m == nil {
		return
	}
	m.rendererLost.Inc()
}

// ModelLoaded records a load outcome: ok, unavailable, parse_failure or canceled.
func (m *Metrics) ModelLoaded(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(result).Inc()
	m.loadSeconds.Observe(d.Seconds())
}

// XRSessionStarted records a session start.
func (m *Metrics) XRSessionStarted(mode string) {
	if m == nil {
		return
	}
	m.xrSessions.WithLabelValues(mode).Inc()
	m.xrActive.Set(1)
}

// XRSessionEnded records a session end.
func (m *Metrics) XRSessionEnded() {
	if m == nil {
		return
	}
	m.xrActive.Set(0)
}

// XRUnavailable records a failed entry.
func (m *Metrics) XRUnavailable() {
	if m == nil {
		return
	}
	m.xrUnavailable.Inc()
}

// CacheLookup records an asset cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cacheRequests.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx ends.
func (m *Metrics) Serve(ctx context.Context, addr string, log *zap.Logger) error {
	log = logger.OrNop(log, "telemetry")
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Info("metrics endpoint listening", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
