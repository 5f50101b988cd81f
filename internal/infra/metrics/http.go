package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(httpRequestsTotal, httpRateLimitedTotal) }

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "API requests by route pattern and status code.",
		},
		[]string{"method", "route", "code"},
	)

	httpRateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests rejected by the per-user rate limit.",
		},
	)
)

func IncHTTPRequest(method, route string, code int) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}

func IncRateLimited() { httpRateLimitedTotal.Inc() }
