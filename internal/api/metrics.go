package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/authgate/internal/identity"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authgate_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "authgate_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	authDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authgate_auth_decisions_total",
		Help: "Authentication gate decisions by outcome.",
	}, []string{"outcome"})

	storeProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authgate_store_probes_total",
		Help: "Storage readiness probes by result.",
	}, []string{"result"})

	profileUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authgate_profile_updates_total",
		Help: "Profile update attempts by result.",
	}, []string{"result"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			// Unmatched routes share one label to bound cardinality.
			path = "unmatched"
		}

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordAuthDecision counts one authentication outcome. It satisfies
// identity.ObserveFunc.
func RecordAuthDecision(outcome identity.Outcome) {
	authDecisionsTotal.WithLabelValues(string(outcome)).Inc()
}

// RecordStoreProbe records a storage readiness probe result.
func RecordStoreProbe(success bool) {
	if success {
		storeProbesTotal.WithLabelValues("success").Inc()
	} else {
		storeProbesTotal.WithLabelValues("failure").Inc()
	}
}

func recordProfileUpdate(result string) {
	profileUpdatesTotal.WithLabelValues(result).Inc()
}
