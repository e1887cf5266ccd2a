package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "intentlayer"

var (
	registerOnce sync.Once
	registry     = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests processed.",
		},
		[]string{"handler", "method", "code"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"handler", "method"},
	)
	intentOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "intents_total",
			Help:      "Intents that reached a status, by status and error code.",
		},
		[]string{"status", "code"},
	)
	intentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "processing_seconds",
			Help:      "Time spent compiling and executing one intent attempt.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)
	mandateEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mandate",
			Name:      "events_total",
			Help:      "Mandate registry events such as registered and revoked.",
		},
		[]string{"event"},
	)
)

// Register 把所有采集器注册到独立的 Registry，可重复调用。
func Register() {
	registerOnce.Do(func() {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			httpRequests,
			httpDuration,
			intentOutcomes,
			intentDuration,
			mandateEvents,
		)
	})
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	Register()
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveIntent 记录一次意图处理的结果，code 为空时记为 none。
func ObserveIntent(status, code string, duration time.Duration) {
	Register()
	if code == "" {
		code = "none"
	}
	intentOutcomes.WithLabelValues(status, code).Inc()
	if duration > 0 {
		intentDuration.WithLabelValues(status).Observe(duration.Seconds())
	}
}

// ObserveMandate 记录授权书事件。
func ObserveMandate(event string) {
	Register()
	mandateEvents.WithLabelValues(event).Inc()
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	Register()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
