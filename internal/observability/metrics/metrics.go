package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "expensetracker_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "expensetracker_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	authEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "expensetracker_auth_events_total",
		Help: "Register, login and verify attempts by result",
	}, []string{"event", "result"})

	gatewayVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "expensetracker_gateway_verifications_total",
		Help: "Token verifications performed by the gateway, by outcome",
	}, []string{"outcome"})

	gatewayVerifyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "expensetracker_gateway_verify_duration_seconds",
		Help:    "Time spent waiting on token verification",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	verifierBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "expensetracker_gateway_verifier_breaker_state",
		Help: "Circuit breaker state of the remote verifier (0 closed, 1 open, 2 half-open)",
	})

	ocrRuns = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "expensetracker_ocr_duration_seconds",
		Help:    "Duration of extractor runs",
		Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"kind", "result"})

	notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "expensetracker_notifications_total",
		Help: "Notification envelopes by stage and result",
	}, []string{"stage", "result"})

	stagedCleanup = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "expensetracker_staged_cleanup_total",
		Help: "Count of staged upload files removed by the sweeper",
	}, []string{"result"})

	liveSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "expensetracker_live_subscribers",
		Help: "Number of connected live feed websockets",
	})
)

// ObserveHTTPRequest records an HTTP request metric
func ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// ObserveAuthEvent counts a register/login/verify attempt
func ObserveAuthEvent(event, result string) {
	authEvents.WithLabelValues(event, result).Inc()
}

// ObserveVerification records one gateway verification and how long it took.
func ObserveVerification(outcome string, duration time.Duration) {
	gatewayVerifications.WithLabelValues(outcome).Inc()
	gatewayVerifyDuration.Observe(duration.Seconds())
}

// SetBreakerState exports the remote verifier breaker state.
func SetBreakerState(state int) {
	verifierBreakerState.Set(float64(state))
}

// ObserveOCR records an extractor run
func ObserveOCR(kind, result string, duration time.Duration) {
	ocrRuns.WithLabelValues(kind, result).Observe(duration.Seconds())
}

// ObserveNotification counts envelopes at the publish or deliver stage.
func ObserveNotification(stage, result string) {
	notifications.WithLabelValues(stage, result).Inc()
}

// ObserveCleanup increments the staged upload sweeper counter.
func ObserveCleanup(result string) {
	stagedCleanup.WithLabelValues(result).Inc()
}

func IncrementLive() { liveSubscribers.Inc() }

func DecrementLive() { liveSubscribers.Dec() }
