package monitoring

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Inquiry metrics
	InquiriesSubmitted *prometheus.CounterVec
	InquiryTransitions *prometheus.CounterVec

	// Messaging metrics
	MessagesTotal      *prometheus.CounterVec
	FlaggedCategories  *prometheus.CounterVec
	MessagesModerated  *prometheus.CounterVec
	ReportsTotal       *prometheus.CounterVec
	FlagEvaluationErrs *prometheus.CounterVec

	// Deal metrics
	DealsCreated *prometheus.CounterVec

	// Notification metrics
	NotificationsTotal   *prometheus.CounterVec
	NotificationFailures *prometheus.CounterVec

	// Queue metrics
	QueueDepth *prometheus.GaugeVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
}

var (
	metrics  *Metrics
	initOnce sync.Once
)

// Init initializes all Prometheus metrics
func Init() *Metrics {
	initOnce.Do(func() {
		metrics = &Metrics{
			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
				},
				[]string{"method", "path"},
			),
			HTTPRequestsInFlight: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "http_requests_in_flight",
					Help: "Number of HTTP requests currently being processed",
				},
			),

			InquiriesSubmitted: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "inquiries_submitted_total",
					Help: "Total number of inquiries submitted, by routing path",
				},
				[]string{"path"},
			),
			InquiryTransitions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "inquiry_transitions_total",
					Help: "Total number of inquiry status transitions",
				},
				[]string{"from", "to"},
			),

			MessagesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "messages_total",
					Help: "Total number of messages sent, by delivery mode and status",
				},
				[]string{"mode", "status"},
			),
			FlaggedCategories: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "messages_flagged_categories_total",
					Help: "Contact-info categories found in flagged messages",
				},
				[]string{"category"},
			),
			MessagesModerated: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "messages_moderated_total",
					Help: "Admin decisions on held messages",
				},
				[]string{"decision"},
			),
			ReportsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "message_reports_total",
					Help: "Message reports by status",
				},
				[]string{"status"},
			),
			FlagEvaluationErrs: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "feature_flag_errors_total",
					Help: "Feature flag lookups that failed closed",
				},
				[]string{"flag"},
			),

			DealsCreated: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "deals_created_total",
					Help: "Total number of deals created from inquiries",
				},
				[]string{"currency", "actor"},
			),

			NotificationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "notifications_total",
					Help: "Notifications published, by kind",
				},
				[]string{"kind"},
			),
			NotificationFailures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "notification_failures_total",
					Help: "Notifications that failed to publish",
				},
				[]string{"kind"},
			),

			QueueDepth: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "moderation_queue_depth",
					Help: "Items awaiting admin action",
				},
				[]string{"queue"},
			),

			DBQueryDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "db_query_duration_seconds",
					Help:    "Database query duration in seconds",
					Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
				},
				[]string{"query_type"},
			),

			CircuitBreakerState: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "circuit_breaker_state",
					Help: "Circuit breaker state (0=closed, 1=open, 0.5=half-open)",
				},
				[]string{"name"},
			),
		}
	})
	return metrics
}

// Get returns the global metrics instance
func Get() *Metrics {
	return Init()
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// MetricsMiddleware is a Gin middleware for collecting HTTP metrics
func MetricsMiddleware() gin.HandlerFunc {
	m := Get()
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method

		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// RecordInquirySubmitted records a submission; path is "review" or "auto"
func RecordInquirySubmitted(path string) {
	Get().InquiriesSubmitted.WithLabelValues(path).Inc()
}

// RecordInquiryTransition records an inquiry status change
func RecordInquiryTransition(from, to string) {
	Get().InquiryTransitions.WithLabelValues(from, to).Inc()
}

// RecordMessage records a sent message
func RecordMessage(mode, status string) {
	Get().MessagesTotal.WithLabelValues(mode, status).Inc()
}

// RecordFlaggedCategories records the detector categories of a flagged message
func RecordFlaggedCategories(categories []string) {
	for _, category := range categories {
		Get().FlaggedCategories.WithLabelValues(category).Inc()
	}
}

// RecordModerationDecision records an admin decision on a held message
func RecordModerationDecision(decision string) {
	Get().MessagesModerated.WithLabelValues(decision).Inc()
}

// RecordReport records a report creation or resolution
func RecordReport(status string) {
	Get().ReportsTotal.WithLabelValues(status).Inc()
}

// RecordFlagError records a flag lookup that failed closed
func RecordFlagError(flagID string) {
	Get().FlagEvaluationErrs.WithLabelValues(flagID).Inc()
}

// RecordDealCreated records a deal conversion
func RecordDealCreated(currency, actor string) {
	Get().DealsCreated.WithLabelValues(currency, actor).Inc()
}

// RecordNotification records a published notification
func RecordNotification(kind string) {
	Get().NotificationsTotal.WithLabelValues(kind).Inc()
}

// RecordNotificationFailure records a notification that could not be published
func RecordNotificationFailure(kind string) {
	Get().NotificationFailures.WithLabelValues(kind).Inc()
}

// SetQueueDepth sets the size of one moderation queue
func SetQueueDepth(queue string, depth int) {
	Get().QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordDBQuery records a database query duration
func RecordDBQuery(queryType string, duration time.Duration) {
	Get().DBQueryDuration.WithLabelValues(queryType).Observe(duration.Seconds())
}

// SetCircuitBreakerState sets the circuit breaker state
// state: 0=closed, 1=open, 0.5=half-open
func SetCircuitBreakerState(name string, state float64) {
	Get().CircuitBreakerState.WithLabelValues(name).Set(state)
}
