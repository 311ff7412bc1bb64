package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for SessionsFinished.
const (
	OutcomeLinked    = "linked"
	OutcomeFailed    = "failed"
	OutcomeTimeout   = "timeout"
	OutcomeAborted   = "aborted"
	OutcomeLoggedOut = "logged_out"
)

var (
	// SessionsStarted counts linking attempts by flow (pair or qr)
	SessionsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redx_sessions_started_total",
			Help: "Total number of device-linking sessions started",
		},
		[]string{"flow"},
	)

	SessionsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redx_sessions_finished_total",
			Help: "Total number of device-linking sessions finished, by outcome",
		},
		[]string{"flow", "outcome"},
	)

	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "redx_sessions_active",
			Help: "Number of sessions currently holding a temp directory",
		},
	)

	// LinkDuration measures time from session start to credentials delivered
	LinkDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redx_link_duration_seconds",
			Help:    "Seconds between session start and credential delivery",
			Buckets: prometheus.ExponentialBuckets(5, 2, 7),
		},
		[]string{"flow"},
	)
)

func init() {
	prometheus.MustRegister(SessionsStarted, SessionsFinished, SessionsActive, LinkDuration)
}
