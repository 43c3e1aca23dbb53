package observability

import (
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moises-m-limon/mangalytics/internal/platform/logger"
)

type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	stageRuns    *prometheus.CounterVec
	stageLatency *prometheus.HistogramVec
	stageItems   *prometheus.CounterVec

	upstreamRequests *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec

	storageConflicts *prometheus.CounterVec
	storageBootstrap *prometheus.CounterVec
	storageMode      *prometheus.GaugeVec
	runsInflight     prometheus.Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	v := strings.TrimSpace(os.Getenv("METRICS_ENABLED"))
	if v == "" {
		return false
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

// Current returns the process-wide metrics, or nil when metrics are disabled.
func Current() *Metrics {
	return instance
}

// Init registers the process-wide metrics once. It returns nil when
// METRICS_ENABLED is off.
func Init(log *logger.Logger) *Metrics {
	initOnce.Do(func() {
		if !Enabled() {
			return
		}
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		instance = New(reg)
		if log != nil {
			log.Info("metrics initialized")
		}
	})
	return instance
}

// New builds a Metrics set registered on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mangalytics_api_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mangalytics_api_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"method", "route"}),
		apiInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mangalytics_api_inflight_requests",
			Help: "HTTP requests currently being served.",
		}),
		stageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mangalytics_pipeline_stage_runs_total",
			Help: "Pipeline stage runs by stage and outcome.",
		}, []string{"stage", "outcome"}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mangalytics_pipeline_stage_duration_seconds",
			Help:    "Pipeline stage duration.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
		stageItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mangalytics_pipeline_items_total",
			Help: "Per-item outcomes inside a stage (documents, figures, panels).",
		}, []string{"stage", "status"}),
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mangalytics_upstream_requests_total",
			Help: "Calls to external services by service, operation and status.",
		}, []string{"service", "operation", "status"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mangalytics_upstream_request_duration_seconds",
			Help:    "Latency of calls to external services.",
			Buckets: prometheus.DefBuckets,
		}, []string{"service", "operation"}),
		storageConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mangalytics_storage_conflicts_total",
			Help: "Uploads that hit an existing object and reused it.",
		}, []string{"bucket"}),
		storageBootstrap: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mangalytics_object_storage_bootstrap_total",
			Help: "Object storage provider bootstrap attempts by mode, outcome and error code.",
		}, []string{"mode", "outcome", "code"}),
		storageMode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mangalytics_object_storage_mode_active",
			Help: "1 for the object storage mode selected at startup.",
		}, []string{"mode"}),
		runsInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mangalytics_pipeline_runs_inflight",
			Help: "Pipeline runs currently admitted.",
		}),
	}
	reg.MustRegister(
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.stageRuns, m.stageLatency, m.stageItems,
		m.upstreamRequests, m.upstreamLatency,
		m.storageConflicts, m.storageBootstrap, m.storageMode,
		m.runsInflight,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route).Observe(dur.Seconds())
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) ObserveStage(stage, outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.stageRuns.WithLabelValues(stage, outcome).Inc()
	m.stageLatency.WithLabelValues(stage).Observe(dur.Seconds())
}

func (m *Metrics) IncStageItem(stage, status string) {
	if m == nil {
		return
	}
	m.stageItems.WithLabelValues(stage, status).Inc()
}

func (m *Metrics) ObserveUpstream(service, operation, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.upstreamRequests.WithLabelValues(service, operation, status).Inc()
	m.upstreamLatency.WithLabelValues(service, operation).Observe(dur.Seconds())
}

func (m *Metrics) IncStorageConflict(bucket string) {
	if m == nil {
		return
	}
	m.storageConflicts.WithLabelValues(bucket).Inc()
}

func (m *Metrics) ObserveStorageBootstrap(mode, outcome, code string) {
	if m == nil {
		return
	}
	m.storageBootstrap.WithLabelValues(mode, outcome, code).Inc()
}

func (m *Metrics) SetStorageModeActive(mode string) {
	if m == nil {
		return
	}
	m.storageMode.Reset()
	m.storageMode.WithLabelValues(mode).Set(1)
}

func (m *Metrics) RunsInflightInc() {
	if m == nil {
		return
	}
	m.runsInflight.Inc()
}

func (m *Metrics) RunsInflightDec() {
	if m == nil {
		return
	}
	m.runsInflight.Dec()
}

// StatusLabel maps an error to a coarse status label for upstream metrics.
func StatusLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}
