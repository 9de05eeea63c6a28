package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "castbridge_commands_total",
			Help: "Total number of bot commands handled",
		},
		[]string{"command"},
	)

	callbackActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "castbridge_callback_actions_total",
			Help: "Total number of inline-button actions handled",
		},
		[]string{"action", "status"},
	)

	updateHandlingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "castbridge_update_handling_duration_seconds",
			Help:    "Inbound update handling duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	cursorTokensIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "castbridge_cursor_tokens_issued_total",
			Help: "Total number of pagination tokens issued",
		},
	)

	cursorTokensExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "castbridge_cursor_tokens_expired_total",
			Help: "Total number of button presses on expired pagination tokens",
		},
	)

	pollOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "castbridge_signer_poll_outcomes_total",
			Help: "Terminal outcomes of signer approval poll sequences",
		},
		[]string{"outcome"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "castbridge_sessions",
			Help: "Number of stored sessions, updated by the signer sweep",
		},
	)

	initOnce sync.Once
)

// InitMetrics initializes Prometheus metrics
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			commandsTotal,
			callbackActionsTotal,
			updateHandlingDuration,
			cursorTokensIssued,
			cursorTokensExpired,
			pollOutcomesTotal,
			activeSessions,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordCommand records a handled bot command
func RecordCommand(command string) {
	commandsTotal.WithLabelValues(command).Inc()
}

// RecordCallbackAction records a handled button press
func RecordCallbackAction(action, status string) {
	callbackActionsTotal.WithLabelValues(action, status).Inc()
}

// RecordUpdateHandling records how long one inbound update took
func RecordUpdateHandling(kind string, duration time.Duration) {
	updateHandlingDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordCursorIssued counts a freshly minted pagination token
func RecordCursorIssued() {
	cursorTokensIssued.Inc()
}

// RecordCursorExpired counts a press on a stale pagination token
func RecordCursorExpired() {
	cursorTokensExpired.Inc()
}

// RecordPollOutcome records how a signer poll sequence ended
func RecordPollOutcome(outcome string) {
	pollOutcomesTotal.WithLabelValues(outcome).Inc()
}

// SetActiveSessions sets the stored-session gauge
func SetActiveSessions(count int) {
	activeSessions.Set(float64(count))
}
