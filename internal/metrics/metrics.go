// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	importedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "esgrecon",
		Name:      "imported_records_total",
		Help:      "Incoming records by reconciliation outcome",
	}, []string{"entity", "action"})

	matchScores = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "esgrecon",
		Name:      "best_match_similarity",
		Help:      "Similarity of the best candidate for records that matched",
		Buckets:   []float64{0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 0.99, 1},
	})

	conflictCounts = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "esgrecon",
		Name:      "conflicts_per_match",
		Help:      "Number of conflicting fields between matched records",
		Buckets:   prometheus.LinearBuckets(0, 1, 10),
	})

	llmCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "esgrecon",
		Name:      "llm_calls_total",
		Help:      "LLM requests by provider and result",
	}, []string{"provider", "result"})

	llmLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "esgrecon",
		Name:      "llm_call_duration_seconds",
		Help:      "LLM request latency",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	}, []string{"provider"})
)

func RecordImport(entity, action string) {
	importedRecords.WithLabelValues(entity, action).Inc()
}

func ObserveMatch(similarity float64, conflicts int) {
	matchScores.Observe(similarity)
	conflictCounts.Observe(float64(conflicts))
}

func ObserveLLMCall(provider string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	llmCalls.WithLabelValues(provider, result).Inc()
	llmLatency.WithLabelValues(provider).Observe(d.Seconds())
}
