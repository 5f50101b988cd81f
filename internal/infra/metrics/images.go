package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(imagesGeneratedTotal) }

var imagesGeneratedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "images_generated_total",
		Help: "Generated images, labeled by the generator that produced them.",
	},
	[]string{"generator"}, // 'placeholder' when every provider failed
)

func IncImageGenerated(generator string) {
	imagesGeneratedTotal.WithLabelValues(norm(generator)).Inc()
}
