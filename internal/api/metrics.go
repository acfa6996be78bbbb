package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wonny/tradeflow/internal/pipeline"
)

// Metrics holds the Prometheus collectors of the service
// ⭐ SSOT: 메트릭 정의는 여기서만
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
	RateLimited    prometheus.Counter
	PipelineSteps  *prometheus.CounterVec
	StepDuration   *prometheus.HistogramVec
	LastPipelineOK *prometheus.GaugeVec
}

// NewMetrics creates the collectors on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeflow_http_requests_total",
				Help: "HTTP requests by route, method and status code",
			},
			[]string{"route", "method", "code"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradeflow_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		RateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tradeflow_http_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
		),
		PipelineSteps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeflow_pipeline_steps_total",
				Help: "Pipeline steps executed by pipeline, step and status",
			},
			[]string{"pipeline", "step", "status"},
		),
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradeflow_pipeline_step_duration_seconds",
				Help:    "Duration of each pipeline step in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"pipeline", "step"},
		),
		LastPipelineOK: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradeflow_pipeline_last_step_success",
				Help: "1 when the latest run of the step succeeded, 0 otherwise",
			},
			[]string{"pipeline", "step"},
		),
	}

	m.registry.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.RateLimited,
		m.PipelineSteps,
		m.StepDuration,
		m.LastPipelineOK,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStep implements pipeline.Observer
func (m *Metrics) ObserveStep(pipelineName, step string, status pipeline.StepStatus, duration time.Duration) {
	m.PipelineSteps.WithLabelValues(pipelineName, step, string(status)).Inc()
	m.StepDuration.WithLabelValues(pipelineName, step).Observe(duration.Seconds())
	ok := 0.0
	if status == pipeline.StatusCompleted {
		ok = 1
	}
	m.LastPipelineOK.WithLabelValues(pipelineName, step).Set(ok)
}

// statusRecorder captures the response code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// metricsMiddleware records request counts and latency by route template
func metricsMiddleware(m *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			m.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
			m.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		})
	}
}
