package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CanvasCollector bundles Prometheus metrics for the routing engine and
// the hub surface, and provides helpers to wire them into HTTP handlers.
type CanvasCollector struct {
	gatherer prometheus.Gatherer

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec

	SnapshotDecisions *prometheus.CounterVec
	Emissions         *prometheus.CounterVec
	Gestures          *prometheus.CounterVec

	CanvasNodes     prometheus.Gauge
	CanvasEdges     prometheus.Gauge
	CanvasWaypoints prometheus.Gauge
	TrackedSplits   prometheus.Gauge
}

// NewCanvasCollector registers canvas Prometheus metrics against the
// provided registerer, defaulting to the global registry when nil.
func NewCanvasCollector(reg prometheus.Registerer) (*CanvasCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_requests_total",
		Help: "Total number of handled hub HTTP requests, labeled by route and status code.",
	}, []string{"route", "code"})
	requests, err := registerCounterVec(reg, requests, "hub_requests_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hub_request_duration_seconds",
		Help:    "Hub HTTP request latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"route"})
	durations, err = registerHistogramVec(reg, durations, "hub_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "snapshot_edges_total",
		Help: "Per-edge arbitration decisions taken while applying external snapshots.",
	}, []string{"decision"})
	decisions, err = registerCounterVec(reg, decisions, "snapshot_edges_total")
	if err != nil {
		return nil, err
	}

	emissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "snapshot_emissions_total",
		Help: "Upward snapshot emissions, labeled by reason (gesture or debounced).",
	}, []string{"reason"})
	emissions, err = registerCounterVec(reg, emissions, "snapshot_emissions_total")
	if err != nil {
		return nil, err
	}

	gestures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "canvas_gestures_total",
		Help: "Completed interactive gestures, labeled by kind.",
	}, []string{"kind"})
	gestures, err = registerCounterVec(reg, gestures, "canvas_gestures_total")
	if err != nil {
		return nil, err
	}

	nodes, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "canvas_nodes",
		Help: "Current number of nodes on the canvas.",
	}), "canvas_nodes")
	if err != nil {
		return nil, err
	}
	edges, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "canvas_edges",
		Help: "Current number of edges on the canvas.",
	}), "canvas_edges")
	if err != nil {
		return nil, err
	}
	waypoints, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "canvas_waypoint_nodes",
		Help: "Current number of waypoint-kind nodes on the canvas.",
	}), "canvas_waypoint_nodes")
	if err != nil {
		return nil, err
	}
	splits, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "canvas_tracked_splits",
		Help: "Logical edge pairs split locally and not yet acknowledged by the authority.",
	}), "canvas_tracked_splits")
	if err != nil {
		return nil, err
	}

	return &CanvasCollector{
		gatherer:          gatherer,
		HTTPRequests:      requests,
		HTTPDurations:     durations,
		SnapshotDecisions: decisions,
		Emissions:         emissions,
		Gestures:          gestures,
		CanvasNodes:       nodes,
		CanvasEdges:       edges,
		CanvasWaypoints:   waypoints,
		TrackedSplits:     splits,
	}, nil
}

// Middleware records request counts and durations for an HTTP route.
func (c *CanvasCollector) Middleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		if c == nil {
			return
		}
		if c.HTTPRequests != nil {
			c.HTTPRequests.WithLabelValues(route, fmt.Sprintf("%d", sw.code)).Inc()
		}
		if c.HTTPDurations != nil {
			c.HTTPDurations.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

// Handler exposes a ready-to-use /metrics handler.
func (c *CanvasCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

//
// ---------- core.SyncMetricsRecorder ----------
//

// RecordSnapshotDecision counts one per-edge arbitration decision.
func (c *CanvasCollector) RecordSnapshotDecision(decision string) {
	if c == nil || c.SnapshotDecisions == nil {
		return
	}
	c.SnapshotDecisions.WithLabelValues(decision).Inc()
}

// RecordEmission counts one upward snapshot emission.
func (c *CanvasCollector) RecordEmission(reason string) {
	if c == nil || c.Emissions == nil {
		return
	}
	c.Emissions.WithLabelValues(reason).Inc()
}

// RecordGesture counts one completed gesture.
func (c *CanvasCollector) RecordGesture(kind string) {
	if c == nil || c.Gestures == nil {
		return
	}
	c.Gestures.WithLabelValues(kind).Inc()
}

// SetCanvasCounts drives the entity gauges directly from the sync
// controller's mutators.
func (c *CanvasCollector) SetCanvasCounts(nodes, edges, waypoints, trackedSplits int) {
	if c == nil {
		return
	}
	if c.CanvasNodes != nil {
		c.CanvasNodes.Set(float64(nodes))
	}
	if c.CanvasEdges != nil {
		c.CanvasEdges.Set(float64(edges))
	}
	if c.CanvasWaypoints != nil {
		c.CanvasWaypoints.Set(float64(waypoints))
	}
	if c.TrackedSplits != nil {
		c.TrackedSplits.Set(float64(trackedSplits))
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.code = code
	sw.ResponseWriter.WriteHeader(code)
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
