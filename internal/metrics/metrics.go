package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rankvote_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rankvote_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Poll lifecycle metrics
	PollsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rankvote_polls_created_total",
			Help: "Total polls created",
		},
	)

	PollsJoined = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rankvote_polls_joined_total",
			Help: "Total join requests that minted a credential",
		},
	)

	PollsClosed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rankvote_polls_closed_total",
			Help: "Total polls closed with computed results",
		},
	)

	PollsCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rankvote_polls_cancelled_total",
			Help: "Total polls cancelled by their admin",
		},
	)

	// Realtime gateway metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rankvote_ws_connections",
			Help: "Currently bound websocket connections",
		},
	)

	WSEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rankvote_ws_events_total",
			Help: "Inbound websocket events by outcome",
		},
		[]string{"event", "outcome"}, // outcome: "ok" or an exception type
	)

	Broadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rankvote_broadcasts_total",
			Help: "Room fan-outs sent",
		},
		[]string{"event"},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rankvote_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rankvote_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rankvote_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)
)
