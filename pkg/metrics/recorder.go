// Package metrics provides Prometheus recording and querying for LLM
// generation traffic.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder receives observations from the generation pipeline.
type Recorder interface {
	ObserveRequest(model, queryContext string, promptTokens, completionTokens int, cost float64, success bool, errorType string, duration time.Duration)
	IncThrottle(reason string)
	IncFallback(family string)
	IncValidation(rule string)
	ObserveBreakerState(service string, state int)
}

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	costsTotal      *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	throttleTotal   *prometheus.CounterVec
	fallbackTotal   *prometheus.CounterVec
	validationTotal *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
}

// NewPrometheusRecorder creates a Prometheus-backed recorder registered on
// the default registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Total number of LLM requests by model, query context, and status",
			},
			[]string{"model", "query_context", "status", "error_type"},
		),
		tokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Total number of tokens used in LLM requests",
			},
			[]string{"model", "query_context", "type"},
		),
		costsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_costs_total",
				Help: "Total cost in USD for LLM requests",
			},
			[]string{"model", "query_context"},
		),
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model", "query_context"},
		),
		throttleTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_throttle_total",
				Help: "Total number of rate-limit throttle events",
			},
			[]string{"reason"},
		),
		fallbackTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_fallback_total",
				Help: "Total number of canned fallback responses served",
			},
			[]string{"family"},
		),
		validationTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_validation_findings_total",
				Help: "Total number of validator findings by rule",
			},
			[]string{"rule"},
		),
		breakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "llm_breaker_state",
				Help: "Circuit breaker state per service (0 closed, 1 half-open, 2 open)",
			},
			[]string{"service"},
		),
	}
}

// ObserveRequest records metrics for a completed LLM request.
func (p *PrometheusRecorder) ObserveRequest(model, queryContext string, promptTokens, completionTokens int, cost float64, success bool, errorType string, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}

	p.requestsTotal.WithLabelValues(model, queryContext, status, errorType).Inc()

	if success {
		p.tokensTotal.WithLabelValues(model, queryContext, "prompt").Add(float64(promptTokens))
		p.tokensTotal.WithLabelValues(model, queryContext, "completion").Add(float64(completionTokens))
		p.costsTotal.WithLabelValues(model, queryContext).Add(cost)
	}

	p.requestDuration.WithLabelValues(model, queryContext).Observe(duration.Seconds())
}

// IncThrottle increments the throttle counter.
func (p *PrometheusRecorder) IncThrottle(reason string) {
	p.throttleTotal.WithLabelValues(reason).Inc()
}

// IncFallback increments the fallback counter for a keyword family.
func (p *PrometheusRecorder) IncFallback(family string) {
	p.fallbackTotal.WithLabelValues(family).Inc()
}

// IncValidation increments the validation findings counter for a rule.
func (p *PrometheusRecorder) IncValidation(rule string) {
	p.validationTotal.WithLabelValues(rule).Inc()
}

// ObserveBreakerState records the current circuit state for a service.
func (p *PrometheusRecorder) ObserveBreakerState(service string, state int) {
	p.breakerState.WithLabelValues(service).Set(float64(state))
}

// NopRecorder discards all observations. Used when metrics are disabled.
type NopRecorder struct{}

func (NopRecorder) ObserveRequest(string, string, int, int, float64, bool, string, time.Duration) {
}
func (NopRecorder) IncThrottle(string)             {}
func (NopRecorder) IncFallback(string)             {}
func (NopRecorder) IncValidation(string)           {}
func (NopRecorder) ObserveBreakerState(string, int) {}
