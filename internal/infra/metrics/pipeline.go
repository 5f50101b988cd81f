package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(analysisRequestsTotal) }

var analysisRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "analysis_requests_total",
		Help: "Analysis transition requests, labeled by whether they enqueued or were deduplicated.",
	},
	[]string{"result"}, // 'enqueued', 'deduplicated'
)

func IncAnalysisRequest(result string) {
	analysisRequestsTotal.WithLabelValues(norm(result)).Inc()
}
