package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "relay",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	uploads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "uploads_total",
		Help:      "Upload requests by terminal outcome.",
	}, []string{"outcome"})

	quotaDenials = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "quota_denials_total",
		Help:      "Uploads rejected by the quota ledger, by reason.",
	}, []string{"reason"})

	deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "fanout_deliveries_total",
		Help:      "Per-account schedule attempts by platform and status.",
	}, []string{"platform", "status"})

	reaperObjects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "reaper_objects_total",
		Help:      "Expired uploads processed by the reaper.",
	}, []string{"result"})

	reaperSweeps = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "reaper_sweeps_total",
		Help:      "Completed reaper sweeps.",
	})

	registerOnce sync.Once
)

// InitMetrics registers the relay collectors with the default registry. Safe to call
// more than once.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			uploads,
			quotaDenials,
			deliveries,
			reaperObjects,
			reaperSweeps,
		)
	})
}

// Register attaches the Prometheus metrics endpoint to the router.
func Register(router *gin.Engine, path string) {
	router.GET(path, gin.WrapH(promhttp.Handler()))
}

// Middleware records request counts and latency per matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// ObserveUpload counts one upload request by outcome.
func ObserveUpload(outcome string) {
	uploads.WithLabelValues(outcome).Inc()
}

// ObserveQuotaDenial counts one quota rejection.
func ObserveQuotaDenial(reason string) {
	quotaDenials.WithLabelValues(reason).Inc()
}

// ObserveDelivery counts one fan-out attempt.
func ObserveDelivery(platform, status string) {
	deliveries.WithLabelValues(platform, status).Inc()
}

// ObserveSweep records the totals of one reaper sweep.
func ObserveSweep(deleted, failed int) {
	reaperSweeps.Inc()
	reaperObjects.WithLabelValues("deleted").Add(float64(deleted))
	reaperObjects.WithLabelValues("failed").Add(float64(failed))
}
