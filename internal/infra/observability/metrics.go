package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/vilaverde/lead-engine-go/internal/domain"
)

// Metrics holds all Prometheus metrics for the lead engine.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	externalErrors  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	tokensUsed      *prometheus.CounterVec
	chatsTotal      *prometheus.CounterVec
	leadsCreated    prometheus.Counter
	leadsCompleted  *prometheus.CounterVec
	sideEffects     *prometheus.CounterVec
	rateLimited     prometheus.Counter
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lqe_request_duration_seconds",
				Help:    "Duration of requests by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lqe_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lqe_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lqe_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		tokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lqe_llm_tokens_total",
				Help: "Total LLM tokens consumed.",
			},
			[]string{"type"},
		),
		chatsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lqe_chats_total",
				Help: "Total chat turns processed.",
			},
			[]string{"status"},
		),
		leadsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "lqe_leads_created_total",
				Help: "Total leads created.",
			},
		),
		leadsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lqe_leads_completed_total",
				Help: "Total completed leads by classification.",
			},
			[]string{"classification"},
		),
		sideEffects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lqe_side_effects_total",
				Help: "Total side effects dispatched.",
			},
			[]string{"effect", "outcome"},
		),
		rateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "lqe_rate_limited_total",
				Help: "Total requests rejected by the rate limiter.",
			},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordTokens records prompt and completion token usage.
func (m *Metrics) RecordTokens(prompt, completion int) {
	m.tokensUsed.WithLabelValues("prompt").Add(float64(prompt))
	m.tokensUsed.WithLabelValues("completion").Add(float64(completion))
}

// IncrChat increments the chat turn counter with a status label
// (success, error, fallback).
func (m *Metrics) IncrChat(status string) {
	m.chatsTotal.WithLabelValues(status).Inc()
}

// IncrLeadCreated increments the created leads counter.
func (m *Metrics) IncrLeadCreated() {
	m.leadsCreated.Inc()
}

// IncrLeadCompleted increments the completed leads counter for a classification.
func (m *Metrics) IncrLeadCompleted(classification string) {
	m.leadsCompleted.WithLabelValues(classification).Inc()
}

// IncrSideEffect records a dispatched side effect and its outcome.
func (m *Metrics) IncrSideEffect(effect, outcome string) {
	m.sideEffects.WithLabelValues(effect, outcome).Inc()
}

// IncrRateLimited increments the rate limiter rejection counter.
func (m *Metrics) IncrRateLimited() {
	m.rateLimited.Inc()
}

// GetEngineSnapshot returns a snapshot of engine metrics suitable for the
// GET /v1/metrics/engine endpoint.
func (m *Metrics) GetEngineSnapshot() *domain.EngineMetrics {
	// Gather current values from Prometheus counters.
	// Note: Prometheus counters expose cumulative values.
	promptTokens := getCounterValue(m.tokensUsed, "prompt")
	completionTokens := getCounterValue(m.tokensUsed, "completion")
	successChats := getCounterValue(m.chatsTotal, "success")
	errorChats := getCounterValue(m.chatsTotal, "error")
	fallbackChats := getCounterValue(m.chatsTotal, "fallback")
	totalChats := successChats + errorChats + fallbackChats
	cacheHits := getCounterValue(m.cacheHits, "form_config")
	cacheMisses := getCounterValue(m.cacheMisses, "form_config")

	hot := getCounterValue(m.leadsCompleted, string(domain.ClassificationHot))
	warm := getCounterValue(m.leadsCompleted, string(domain.ClassificationWarm))
	cold := getCounterValue(m.leadsCompleted, string(domain.ClassificationCold))

	totalTokens := promptTokens + completionTokens
	avgTokens := float64(0)
	errorRate := float64(0)
	fallbackRate := float64(0)
	cacheHitRate := float64(0)

	if totalChats > 0 {
		avgTokens = totalTokens / totalChats
		errorRate = errorChats / totalChats
		fallbackRate = fallbackChats / totalChats
	}
	if cacheHits+cacheMisses > 0 {
		cacheHitRate = cacheHits / (cacheHits + cacheMisses)
	}

	// Estimated cost: ~$0.15/1M prompt tokens, ~$0.60/1M completion tokens (gpt-4o-mini)
	estimatedCost := (promptTokens/1_000_000)*0.15 + (completionTokens/1_000_000)*0.60

	return &domain.EngineMetrics{
		TotalChats:          int64(totalChats),
		ErrorRate:           errorRate,
		FallbackRate:        fallbackRate,
		AvgTokensPerChat:    avgTokens,
		EstimatedCostUsd:    estimatedCost,
		CacheHitRate:        cacheHitRate,
		LeadsCreated:        int64(counterValue(m.leadsCreated)),
		LeadsCompleted:      int64(hot + warm + cold),
		HotLeads:            int64(hot),
		WarmLeads:           int64(warm),
		ColdLeads:           int64(cold),
		NotificationsSent:   int64(getCounterValues(m.sideEffects, "sms", "success")),
		CRMSyncFailures:     int64(getCounterValues(m.sideEffects, "crm", "failure")),
		RateLimitedRequests: int64(counterValue(m.rateLimited)),
		Period:              "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	return getCounterValues(cv, label)
}

func getCounterValues(cv *prometheus.CounterVec, labels ...string) float64 {
	counter := cv.WithLabelValues(labels...)
	return counterValue(counter)
}

func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
