package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the Meridian gateway.
type Metrics struct {
	RequestTotal         *prometheus.CounterVec
	RequestDurationMs    *prometheus.HistogramVec
	TokensTotal          *prometheus.CounterVec
	CostUSDTotal         *prometheus.CounterVec
	CacheEventsTotal     *prometheus.CounterVec
	RateLimitDeniedTotal *prometheus.CounterVec
	AlertsTotal          *prometheus.CounterVec
	StreamChunksTotal    *prometheus.CounterVec
	ActiveStreamSessions prometheus.Gauge
}

// NewMetrics creates and registers all gateway metrics on the default
// registry.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_request_total",
			Help: "Total provider attempts processed by the gateway.",
		}, []string{"provider", "model", "outcome"}),

		RequestDurationMs: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meridian_request_duration_ms",
			Help:    "Provider attempt duration in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"provider", "model"}),

		TokensTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_tokens_total",
			Help: "Total tokens processed.",
		}, []string{"provider", "model", "direction"}),

		CostUSDTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_cost_usd_total",
			Help: "Estimated total cost in USD.",
		}, []string{"provider", "model"}),

		CacheEventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_cache_events_total",
			Help: "Response cache lookups by result.",
		}, []string{"result"}),

		RateLimitDeniedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_rate_limit_denied_total",
			Help: "Requests denied by the local per-provider rate limiter.",
		}, []string{"provider"}),

		AlertsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_alerts_total",
			Help: "Usage alerts emitted by the monitor.",
		}, []string{"type", "severity"}),

		StreamChunksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_stream_chunks_total",
			Help: "Streaming chunks delivered to callers.",
		}, []string{"provider"}),

		ActiveStreamSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "meridian_active_stream_sessions",
			Help: "Streaming sessions currently registered.",
		}),
	}
}

// RecordUsage records one tracked provider attempt.
func (m *Metrics) RecordUsage(provider, model string, success bool, promptTokens, completionTokens int, costUSD, latencyMs float64) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	m.RequestTotal.WithLabelValues(provider, model, outcome).Inc()
	m.RequestDurationMs.WithLabelValues(provider, model).Observe(latencyMs)

	if promptTokens > 0 {
		m.TokensTotal.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.TokensTotal.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
	if costUSD > 0 {
		m.CostUSDTotal.WithLabelValues(provider, model).Add(costUSD)
	}
}

func (m *Metrics) RecordCacheEvent(result string) {
	m.CacheEventsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordRateLimitDenied(provider string) {
	m.RateLimitDeniedTotal.WithLabelValues(provider).Inc()
}

func (m *Metrics) RecordAlert(alertType, severity string) {
	m.AlertsTotal.WithLabelValues(alertType, severity).Inc()
}

func (m *Metrics) RecordStreamChunk(provider string) {
	m.StreamChunksTotal.WithLabelValues(provider).Inc()
}

func (m *Metrics) StreamSessionStarted() {
	m.ActiveStreamSessions.Inc()
}

func (m *Metrics) StreamSessionEnded() {
	m.ActiveStreamSessions.Dec()
}
