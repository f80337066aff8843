// README: Prometheus metrics shared by modules and the HTTP layer.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "carpool"

var (
	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "searches_total", Help: "Trip searches by pickup mode"},
		[]string{"mode"},
	)
	SearchResults = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "search_results",
		Help:      "Number of ranked trips returned per search",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
	})
	SearchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "search_latency_seconds", Help: "Search pipeline latency seconds",
	})

	TripTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "trip_transitions_total", Help: "Applied trip status transitions"},
		[]string{"to"},
	)
	TripConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "trip_conflicts_total", Help: "Trip writes lost to a concurrent writer"},
		[]string{"action"},
	)
	RoutingFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "routing_failures_total", Help: "Trips created without route data",
	})
	RetentionDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "retention_deleted_trips_total", Help: "Finished trips pruned by retention",
	})

	RatingsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "ratings_submitted_total", Help: "Ratings folded into aggregates",
	})
	RatingConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "rating_tx_conflicts_total", Help: "Rating transactions that lost a serialization race",
	})

	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "notifications_dropped_total", Help: "Lifecycle notifications dropped because the queue was full",
	})
	NotificationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notification_errors_total", Help: "Notification delivery failures by sink"},
		[]string{"sink"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
