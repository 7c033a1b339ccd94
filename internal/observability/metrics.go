package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ttftBuckets are the explicit TTFT histogram buckets (seconds) from spec §4.3.
var ttftBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// MetricsManager manages Prometheus metrics for the proxy pipeline.
type MetricsManager struct {
	logger   *zap.SugaredLogger
	registry *prometheus.Registry

	uptime prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	aiRequestsTotal   *prometheus.CounterVec
	aiTokenUsage      *prometheus.CounterVec
	aiLatencyTTFT     *prometheus.HistogramVec
	aiChaosInjections *prometheus.CounterVec

	chaosInjectionSkipped *prometheus.CounterVec
	chaosErrorCodes       *prometheus.CounterVec
}

// NewMetricsManager creates a new metrics manager.
func NewMetricsManager(logger *zap.SugaredLogger) *MetricsManager {
	registry := prometheus.NewRegistry()

	mm := &MetricsManager{
		logger:   logger,
		registry: registry,
	}

	mm.initMetrics()
	mm.registerMetrics()

	return mm
}

func (mm *MetricsManager) initMetrics() {
	mm.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chaosproxy_uptime_seconds",
		Help: "Time since the proxy process started",
	})

	mm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chaosproxy_http_requests_total",
			Help: "Total number of control-plane HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	mm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chaosproxy_http_request_duration_seconds",
			Help:    "Control-plane HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	mm.aiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of LLM-bound requests observed by the proxy",
		},
		[]string{"model"},
	)

	mm.aiTokenUsage = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_token_usage",
			Help: "Estimated token usage by side (prompt/completion)",
		},
		[]string{"model", "type"},
	)

	mm.aiLatencyTTFT = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_latency_ttft",
			Help:    "Time to first token, seconds",
			Buckets: ttftBuckets,
		},
		[]string{"model"},
	)

	mm.aiChaosInjections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_chaos_injections",
			Help: "Total number of chaos strategies successfully applied",
		},
		[]string{"strategy", "model"},
	)

	mm.chaosInjectionSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chaos_injection_skipped_total",
			Help: "Total number of chaos strategies skipped",
		},
		[]string{"strategy_type", "reason"},
	)

	mm.chaosErrorCodes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chaos_error_codes_total",
			Help: "Total occurrences of structured error codes",
		},
		[]string{"error_code", "strategy"},
	)
}

func (mm *MetricsManager) registerMetrics() {
	mm.registry.MustRegister(
		mm.uptime,
		mm.httpRequests,
		mm.httpDuration,
		mm.aiRequestsTotal,
		mm.aiTokenUsage,
		mm.aiLatencyTTFT,
		mm.aiChaosInjections,
		mm.chaosInjectionSkipped,
		mm.chaosErrorCodes,
	)

	mm.registry.MustRegister(collectors.NewGoCollector())
	mm.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (mm *MetricsManager) Handler() http.Handler {
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// SetUptime sets the uptime metric.
func (mm *MetricsManager) SetUptime(startTime time.Time) {
	mm.uptime.Set(time.Since(startTime).Seconds())
}

// RecordHTTPRequest records a control-plane HTTP request.
func (mm *MetricsManager) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	mm.httpRequests.WithLabelValues(method, path, status).Inc()
	mm.httpDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordAIRequest increments the AI request counter for a model.
func (mm *MetricsManager) RecordAIRequest(model string) {
	mm.aiRequestsTotal.WithLabelValues(model).Inc()
}

// RecordTokenUsage records estimated token counts for prompt or completion sides.
func (mm *MetricsManager) RecordTokenUsage(model, side string, tokens int) {
	mm.aiTokenUsage.WithLabelValues(model, side).Add(float64(tokens))
}

// RecordTTFT observes a time-to-first-token sample.
func (mm *MetricsManager) RecordTTFT(model string, seconds float64) {
	mm.aiLatencyTTFT.WithLabelValues(model).Observe(seconds)
}

// RecordChaosInjection increments the injection counter for a strategy/model pair.
func (mm *MetricsManager) RecordChaosInjection(strategy, model string) {
	mm.aiChaosInjections.WithLabelValues(strategy, model).Inc()
}

// RecordInjectionSkipped increments the skip counter with a reason code.
func (mm *MetricsManager) RecordInjectionSkipped(strategyType, reason string) {
	mm.chaosInjectionSkipped.WithLabelValues(strategyType, reason).Inc()
}

// RecordErrorCode increments the structured error-code counter. strategy may
// be empty for errors not attributable to a single strategy.
func (mm *MetricsManager) RecordErrorCode(errorCode, strategy string) {
	mm.chaosErrorCodes.WithLabelValues(errorCode, strategy).Inc()
}

// Registry returns the Prometheus registry for custom metrics.
func (mm *MetricsManager) Registry() *prometheus.Registry {
	return mm.registry
}

// HTTPMiddleware returns middleware that records HTTP metrics.
func (mm *MetricsManager) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r)
			duration := time.Since(start)
			mm.RecordHTTPRequest(r.Method, r.URL.Path, http.StatusText(ww.statusCode), duration)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
