package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/wonny/tradeflow/internal/api/handlers"
	"github.com/wonny/tradeflow/pkg/logger"
)

// Handlers groups the endpoint handlers; nil handlers leave their routes unregistered
type Handlers struct {
	Engines  *handlers.EngineHandler
	Pipeline *handlers.PipelineHandler
	Backtest *handlers.BacktestHandler
	History  *handlers.HistoryHandler
	Jobs     *handlers.JobsHandler
}

// RouterOptions configures the cross-cutting middleware
type RouterOptions struct {
	Metrics *Metrics      // nil disables /metrics and request metrics
	Limiter *rate.Limiter // nil disables rate limiting
}

// NewRouter creates and configures the HTTP router
// ⭐ SSOT: 라우팅 설정은 이 함수에서만
func NewRouter(h Handlers, opts RouterOptions, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.Nop()
	}
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", healthCheckHandler).Methods("GET")
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler()).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()
	if opts.Limiter != nil {
		api.Use(rateLimitMiddleware(opts.Limiter, opts.Metrics, log))
	}

	if h.Engines != nil {
		api.HandleFunc("/signals", h.Engines.GetSignals).Methods("GET")
		api.HandleFunc("/signals/{symbol}", h.Engines.ExplainSignal).Methods("GET")
		api.HandleFunc("/risk", h.Engines.EvaluateRisk).Methods("POST")
		api.HandleFunc("/risk/{symbol}", h.Engines.ExplainRisk).Methods("POST")
		api.HandleFunc("/rebalance", h.Engines.ProposeRebalance).Methods("POST")
	}

	// 이력 조회는 {name} 라우트보다 먼저 등록
	if h.History != nil {
		api.HandleFunc("/pipeline/runs", h.History.GetPipelineRuns).Methods("GET")
		api.HandleFunc("/rebalance/{date}", h.History.GetRebalance).Methods("GET")
	}
	if h.Pipeline != nil {
		api.HandleFunc("/pipeline/{name}", h.Pipeline.Run).Methods("POST")
	}
	if h.Backtest != nil {
		api.HandleFunc("/backtest", h.Backtest.Run).Methods("POST")
	}
	if h.Jobs != nil {
		api.HandleFunc("/scheduler/jobs", h.Jobs.GetJobs).Methods("GET")
		api.HandleFunc("/scheduler/jobs/{name}/run", h.Jobs.TriggerJob).Methods("POST")
	}

	// Apply middleware
	r.Use(loggingMiddleware(log))
	if opts.Metrics != nil {
		r.Use(metricsMiddleware(opts.Metrics))
	}
	r.Use(recoveryMiddleware(log))

	return r
}

// healthCheckHandler returns server health status
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "tradeflow-api",
	})
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			next.ServeHTTP(w, r)

			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
