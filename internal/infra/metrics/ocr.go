package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(ocrRecognitionsTotal) }

var ocrRecognitionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ocr_recognitions_total",
		Help: "OCR results persisted, labeled by provider (fallback-ocr when degraded).",
	},
	[]string{"provider"},
)

func IncRecognition(provider string) {
	ocrRecognitionsTotal.WithLabelValues(norm(provider)).Inc()
}
