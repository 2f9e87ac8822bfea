package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memorylane_http_requests_total",
			Help: "Total number of HTTP requests processed by the gateway.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memorylane_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveSubscriptions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "memorylane_ws_active_subscriptions",
			Help: "Number of websocket connections subscribed to a collection view.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memorylane_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"kind", "event"},
	)
	snapshotsPushedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memorylane_snapshots_pushed_total",
			Help: "Full snapshots pushed to websocket subscribers.",
		},
		[]string{"kind"},
	)
	syncStreams = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "memorylane_sync_streams",
			Help: "Open client-side subscription streams.",
		},
		[]string{"kind"},
	)
	syncSnapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memorylane_sync_snapshots_total",
			Help: "Snapshots received by client-side subscriptions.",
		},
		[]string{"kind"},
	)
	syncErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memorylane_sync_errors_total",
			Help: "Client-side subscription errors.",
		},
		[]string{"kind"},
	)
	optimisticRollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memorylane_optimistic_rollbacks_total",
			Help: "Optimistic mutations rolled back after a failed write.",
		},
		[]string{"field"},
	)
	uploadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "memorylane_upload_bytes_total",
			Help: "Bytes uploaded to the blob store.",
		},
	)
	uploadFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "memorylane_upload_failures_total",
			Help: "Failed blob uploads.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "memorylane_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveSubscriptions,
		wsEventsTotal,
		snapshotsPushedTotal,
		syncStreams,
		syncSnapshotsTotal,
		syncErrorsTotal,
		optimisticRollbacksTotal,
		uploadBytesTotal,
		uploadFailuresTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive(kind string) {
	wsActiveSubscriptions.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveSubscriptions.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncSnapshotPushed(kind string) {
	snapshotsPushedTotal.WithLabelValues(kind).Inc()
}

func IncSyncStream(kind string) {
	syncStreams.WithLabelValues(kind).Inc()
}

func DecSyncStream(kind string) {
	syncStreams.WithLabelValues(kind).Dec()
}

func IncSnapshot(kind string) {
	syncSnapshotsTotal.WithLabelValues(kind).Inc()
}

func IncSyncError(kind string) {
	syncErrorsTotal.WithLabelValues(kind).Inc()
}

func IncOptimisticRollback(field string) {
	optimisticRollbacksTotal.WithLabelValues(field).Inc()
}

func AddUploadBytes(n int64) {
	if n > 0 {
		uploadBytesTotal.Add(float64(n))
	}
}

func IncUploadFailure() {
	uploadFailuresTotal.Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
