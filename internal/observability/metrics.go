package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexus-trading/routeintel/internal/route"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "routeintel"

// Metrics holds the Prometheus collectors of the analysis pipeline.
type Metrics struct {
	registry *prometheus.Registry

	// Analysis
	Analyses         *prometheus.CounterVec
	AnalysisDuration *prometheus.HistogramVec

	// Route outcome
	Routes       *prometheus.CounterVec
	DumpRisk     prometheus.Histogram
	ExitProb     prometheus.Histogram
	Confidence   prometheus.Histogram
	SegmentCount prometheus.Histogram

	// Alerts and bus
	Alerts        *prometheus.CounterVec
	PublishErrors *prometheus.CounterVec

	// Source
	SourceCalls   *prometheus.CounterVec
	SourceLatency *prometheus.HistogramVec

	// Health
	ComponentUp *prometheus.GaugeVec
}

// NewMetrics registers all collectors on a fresh registry. The Go runtime
// and process collectors are included.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	scoreBuckets := []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	unitBuckets := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1}

	return &Metrics{
		registry: reg,

		Analyses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "requests_total",
			Help:      "Analysis requests by outcome",
		}, []string{"outcome"}),
		AnalysisDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "Analysis latency in seconds by outcome",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"outcome"}),

		Routes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routes",
			Name:      "built_total",
			Help:      "Newly built routes by classification",
		}, []string{"route_type"}),
		DumpRisk: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "routes",
			Name:      "dump_risk_score",
			Help:      "Distribution of dump risk scores (0-100)",
			Buckets:   scoreBuckets,
		}),
		ExitProb: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "routes",
			Name:      "exit_probability",
			Help:      "Distribution of exit probabilities",
			Buckets:   unitBuckets,
		}),
		Confidence: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "routes",
			Name:      "confidence",
			Help:      "Distribution of route confidence",
			Buckets:   unitBuckets,
		}),
		SegmentCount: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "routes",
			Name:      "segments",
			Help:      "Resolved segments per route",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34, 50},
		}),

		Alerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "emitted_total",
			Help:      "Alerts emitted by type and severity",
		}, []string{"type", "severity"}),
		PublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "publish_errors_total",
			Help:      "Failed event publishes by topic",
		}, []string{"topic"}),

		SourceCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "calls_total",
			Help:      "Segment source calls by method and status",
		}, []string{"method", "status"}),
		SourceLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "call_latency_seconds",
			Help:      "Segment source call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		ComponentUp: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "component_status",
			Help:      "Component status: 2 healthy, 1 degraded, 0 unhealthy",
		}, []string{"component"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveAnalysis records one finished Analyze call.
func (m *Metrics) ObserveAnalysis(outcome string, d time.Duration) {
	m.Analyses.WithLabelValues(outcome).Inc()
	m.AnalysisDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveRoute records the scores of a newly built route.
func (m *Metrics) ObserveRoute(r *route.EnrichedRoute) {
	if r == nil {
		return
	}
	m.Routes.WithLabelValues(string(r.RouteType)).Inc()
	m.DumpRisk.Observe(r.DumpRiskScore)
	m.ExitProb.Observe(r.ExitProbability)
	m.Confidence.Observe(r.Confidence)
	m.SegmentCount.Observe(float64(r.SegmentCount))
}

// IncAlert counts one emitted alert.
func (m *Metrics) IncAlert(a route.Alert) {
	m.Alerts.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
}

// IncPublishError counts one failed publish.
func (m *Metrics) IncPublishError(topic string) {
	m.PublishErrors.WithLabelValues(topic).Inc()
}

// ObserveSourceCall records a segment source call.
func (m *Metrics) ObserveSourceCall(method string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.SourceCalls.WithLabelValues(method, status).Inc()
	m.SourceLatency.WithLabelValues(method).Observe(d.Seconds())
}

// SetComponentStatus exports a health result as a gauge.
func (m *Metrics) SetComponentStatus(component string, s ComponentStatus) {
	v := 0.0
	switch s {
	case StatusHealthy:
		v = 2
	case StatusDegraded:
		v = 1
	}
	m.ComponentUp.WithLabelValues(component).Set(v)
}
