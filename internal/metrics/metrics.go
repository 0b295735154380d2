package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	webhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_webhook_events_total",
			Help: "Webhook events received by ingestion outcome",
		},
		[]string{"outcome"},
	)

	mailboxLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_mailbox_live",
			Help: "Live notifications currently held in the mailbox",
		},
	)

	mailboxUndelivered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_mailbox_undelivered",
			Help: "Live notifications not yet delivered to the panel",
		},
	)

	notificationsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_notifications_delivered_total",
			Help: "Notifications handed to the panel by filter mode",
		},
		[]string{"mode"},
	)

	notificationsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_notifications_expired_total",
			Help: "Notifications purged after exceeding the mailbox TTL",
		},
	)

	repliesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_replies_received_total",
			Help: "Reply identifiers accepted into the reply set",
		},
	)

	repliesDrained = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_replies_drained_total",
			Help: "Reply identifiers handed to the panel by drain calls",
		},
	)

	panelNotify = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_panel_notify_total",
			Help: "Outbound panel notifications by result",
		},
		[]string{"result"},
	)

	rateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_rate_limit_rejections_total",
			Help: "Requests rejected by the panel rate limiter",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordWebhookEvent records the classification outcome of an ingested event
func RecordWebhookEvent(outcome string) {
	webhookEvents.WithLabelValues(outcome).Inc()
}

// SetMailboxGauges updates the live and undelivered record gauges
func SetMailboxGauges(live, undelivered int) {
	mailboxLive.Set(float64(live))
	mailboxUndelivered.Set(float64(undelivered))
}

// RecordDelivered records notifications returned to the panel by a poll
func RecordDelivered(mode string, count int) {
	notificationsDelivered.WithLabelValues(mode).Add(float64(count))
}

// RecordExpired records records purged after exceeding the TTL
func RecordExpired(count int) {
	notificationsExpired.Add(float64(count))
}

// RecordReply records an accepted reply identifier
func RecordReply() {
	repliesReceived.Inc()
}

// RecordRepliesDrained records identifiers handed over by a drain call
func RecordRepliesDrained(count int) {
	repliesDrained.Add(float64(count))
}

// RecordPanelNotify records an outbound notification result (ok, error, rejected)
func RecordPanelNotify(result string) {
	panelNotify.WithLabelValues(result).Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
