package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ChatRequests   prometheus.Counter
	LogRequests    prometheus.Counter
	UpstreamErrors prometheus.Counter
	Unauthorized   prometheus.Counter
	RateLimited    prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			ChatRequests: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "nicorelay",
				Name:      "chat_requests_total",
				Help:      "Total chat requests accepted by the relay",
			}),
			LogRequests: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "nicorelay",
				Name:      "log_requests_total",
				Help:      "Total log-fetch requests accepted by the relay",
			}),
			UpstreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "nicorelay",
				Name:      "upstream_errors_total",
				Help:      "Total forwarded requests that failed upstream",
			}),
			Unauthorized: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "nicorelay",
				Name:      "unauthorized_total",
				Help:      "Total requests rejected for a missing credential",
			}),
			RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "nicorelay",
				Name:      "rate_limited_total",
				Help:      "Total requests rejected by the rate limiter",
			}),
		}
		prometheus.MustRegister(global.ChatRequests, global.LogRequests, global.UpstreamErrors, global.Unauthorized, global.RateLimited)
	})
	return global
}
