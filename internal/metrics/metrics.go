package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Relay metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_connections_active",
			Help: "Live websocket connections",
		},
	)

	MeetingsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_meetings_active",
			Help: "Meetings with at least one participant",
		},
	)

	PacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_packets_total",
			Help: "Inbound command packets by command name",
		},
		[]string{"command"},
	)

	ScoresRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_scores_recorded_total",
			Help: "Score reports accepted and broadcast",
		},
	)

	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_broadcasts_total",
			Help: "Side-channel notifications fanned out",
		},
		[]string{"event"},
	)

	AuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_auth_failures_total",
			Help: "Rejected authentication attempts",
		},
	)

	ThrottleRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_throttle_rejections_total",
			Help: "Logins blocked by the per-connection throttle",
		},
	)

	AccountsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_accounts_created_total",
			Help: "Accounts created through the relay",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_rate_limit_hits_total",
			Help: "HTTP requests rejected by the rate limiter",
		},
		[]string{"endpoint"},
	)
)
