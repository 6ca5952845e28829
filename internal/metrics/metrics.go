// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "classroll",
		Name:      "events_created_total",
		Help:      "Events created, by how they were created (open, schedule).",
	}, []string{"how"})

	EventsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "classroll",
		Name:      "events_closed_total",
		Help:      "Events auto-closed after their calendar day passed.",
	})

	EventConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "classroll",
		Name:      "event_conflicts_total",
		Help:      "Open or schedule attempts rejected because the day already had an event.",
	})

	CheckIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "classroll",
		Name:      "checkins_total",
		Help:      "Check-in attempts by outcome (created, duplicate, closed, failed).",
	}, []string{"outcome"})

	FeedPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "classroll",
		Name:      "feed_published_total",
		Help:      "Attendance records published to the live feed.",
	})

	FeedSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "classroll",
		Name:      "feed_subscribers",
		Help:      "Live dashboard connections currently streaming.",
	})
)
