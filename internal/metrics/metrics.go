package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cinechat"

// Metrics holds the Prometheus collectors for chat turns and their parts.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// TurnsTotal counts finished turns. Labels: outcome (answered, empty, unresolved, error, cancelled)
	TurnsTotal *prometheus.CounterVec
	// LoopIterations observes reasoning steps per turn.
	LoopIterations prometheus.Histogram
	// ToolCallsTotal counts tool dispatches. Labels: tool, ok
	ToolCallsTotal *prometheus.CounterVec
	// MemorySavesTotal counts reflection outcomes. Labels: saved
	MemorySavesTotal *prometheus.CounterVec
	// HTTPRequestsTotal counts API requests. Labels: route, code
	HTTPRequestsTotal *prometheus.CounterVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Chat turns by outcome",
		}, []string{"outcome"}),
		LoopIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_iterations",
			Help:      "Reasoning steps per turn",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 10},
		}),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool dispatches by tool and result",
		}, []string{"tool", "ok"}),
		MemorySavesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_saves_total",
			Help:      "Reflection results by whether a memory was saved",
		}, []string{"saved"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route pattern and status code",
		}, []string{"route", "code"}),
	}
	reg.MustRegister(
		m.TurnsTotal,
		m.LoopIterations,
		m.ToolCallsTotal,
		m.MemorySavesTotal,
		m.HTTPRequestsTotal,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTurn(outcome string, iterations int) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.LoopIterations.Observe(float64(iterations))
}

func (m *Metrics) ObserveTool(name string, ok bool) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(name, strconv.FormatBool(ok)).Inc()
}

func (m *Metrics) ObserveReflection(saved bool) {
	if m == nil {
		return
	}
	m.MemorySavesTotal.WithLabelValues(strconv.FormatBool(saved)).Inc()
}

func (m *Metrics) ObserveHTTP(route string, code int) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
