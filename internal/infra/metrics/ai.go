package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		aiCallsLatencyMs,
		aiAnalysesTotal,
		aiParseFailuresTotal,
	)
}

var (
	aiCallsLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_calls_latency_ms",
			Help:    "Evaluator call latency distribution in milliseconds.",
			Buckets: []float64{50, 100, 200, 400, 800, 1600, 3000, 5000, 10000, 30000},
		},
		[]string{"provider", "model", "success"},
	)

	aiAnalysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_analyses_total",
			Help: "Analyses persisted, labeled by resulting attempt status.",
		},
		[]string{"status"}, // 'scored', 'scoring_failed'
	)

	aiParseFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_parse_failures_total",
			Help: "Evaluator replies that could not be decoded.",
		},
		[]string{"provider"},
	)
)

func ObserveEvaluatorCall(provider, model string, latencyMs int64, success bool) {
	aiCallsLatencyMs.WithLabelValues(norm(provider), norm(model), strconv.FormatBool(success)).
		Observe(float64(latencyMs))
}

func IncAnalysis(status string) {
	aiAnalysesTotal.WithLabelValues(norm(status)).Inc()
}

func IncParseFailure(provider string) {
	aiParseFailuresTotal.WithLabelValues(norm(provider)).Inc()
}
