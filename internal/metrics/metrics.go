package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	draftToggles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tutorslots",
			Name:      "draft_toggles_total",
			Help:      "Count of draft slot toggles by action.",
		},
		[]string{"action"},
	)

	draftClears = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tutorslots",
			Name:      "draft_clears_total",
			Help:      "Count of drafts removed, by reason.",
		},
		[]string{"reason"},
	)

	offerSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tutorslots",
			Name:      "offer_submissions_total",
			Help:      "Count of offer submissions by outcome.",
		},
		[]string{"outcome"},
	)

	apiDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tutorslots",
			Name:      "booking_api_request_duration_seconds",
			Help:      "Latency of booking API calls.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 5},
		},
		[]string{"endpoint", "status"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tutorslots",
			Name:      "draft_sessions",
			Help:      "Number of live draft sessions.",
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(draftToggles, draftClears, offerSubmissions, apiDuration, activeSessions)
	})
}

func IncDraftToggle(action string) {
	draftToggles.WithLabelValues(action).Inc()
}

func IncDraftCleared(reason string) {
	draftClears.WithLabelValues(reason).Inc()
}

func IncSubmission(outcome string) {
	offerSubmissions.WithLabelValues(outcome).Inc()
}

// ObserveAPI records one booking API call.
func ObserveAPI(endpoint, status string, started time.Time) {
	apiDuration.WithLabelValues(endpoint, status).Observe(time.Since(started).Seconds())
}

func SetSessions(n int) {
	activeSessions.Set(float64(n))
}
