package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pitwall_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pitwall_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	pipelineStageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pitwall_pipeline_stage_duration_seconds",
			Help:    "Latency of each chat pipeline stage.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage", "outcome"},
	)
	pipelineOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pitwall_pipeline_outcomes_total",
			Help: "Total number of finished pipeline invocations by terminal state.",
		},
		[]string{"state", "stage", "reason"},
	)
	guardRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pitwall_guard_rejections_total",
			Help: "Total number of candidate queries rejected by the guard.",
		},
		[]string{"reason"},
	)
	llmCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pitwall_llm_calls_total",
			Help: "Total number of language model calls.",
		},
		[]string{"provider", "purpose", "outcome"},
	)
	llmRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pitwall_llm_retries_total",
			Help: "Total number of retried language model calls.",
		},
		[]string{"provider"},
	)
	queryTruncatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pitwall_query_truncated_total",
			Help: "Total number of result sets cut at the row cap.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		pipelineStageDurationSeconds,
		pipelineOutcomesTotal,
		guardRejectionsTotal,
		llmCallsTotal,
		llmRetriesTotal,
		queryTruncatedTotal,
	)
}

func ObserveStage(stage, outcome string, elapsed time.Duration) {
	pipelineStageDurationSeconds.WithLabelValues(stage, outcome).Observe(elapsed.Seconds())
}

// ObservePipelineOutcome counts a terminal state. stage and reason are empty for completed runs.
func ObservePipelineOutcome(state, stage, reason string) {
	pipelineOutcomesTotal.WithLabelValues(state, stage, reason).Inc()
}

func IncrementGuardRejection(reason string) {
	guardRejectionsTotal.WithLabelValues(reason).Inc()
}

func ObserveLLMCall(provider, purpose, outcome string) {
	llmCallsTotal.WithLabelValues(provider, purpose, outcome).Inc()
}

func IncrementLLMRetry(provider string) {
	llmRetriesTotal.WithLabelValues(provider).Inc()
}

func IncrementQueryTruncated() {
	queryTruncatedTotal.Inc()
}
