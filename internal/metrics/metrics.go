// Package metrics declares the pipeline's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "timeline"

var (
	// IngestQueued counts items accepted by the inbox, by kind (add, remove).
	IngestQueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inbox",
			Name:      "queued_total",
			Help:      "Items queued into the inbox",
		},
		[]string{"kind"},
	)

	IngestDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "inbox",
		Name:      "duplicates_total",
		Help:      "Statuses dropped because the store already had them",
	})

	IngestPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "inbox",
		Name:      "persisted_total",
		Help:      "Statuses written to the store",
	})

	IngestRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "inbox",
		Name:      "removed_total",
		Help:      "Statuses deleted from the store, cascades included",
	})

	// QueueDepth samples the backlog of a stage after each drain.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Pending items per pipeline stage",
		},
		[]string{"stage"},
	)

	ItemDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "item_duration_seconds",
			Help:      "Time spent processing one item per stage",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	BroadcastPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "published_total",
			Help:      "Notifications published to subscribers",
		},
		[]string{"kind"},
	)

	BroadcastMuted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broadcast",
		Name:      "muted_total",
		Help:      "Added notifications dropped by the mute/block oracle",
	})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "broadcast",
		Name:      "subscribers",
		Help:      "Active broadcast subscriptions",
	})

	OracleRebuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "rebuilds_total",
			Help:      "Mute/block cache rebuilds",
		},
		[]string{"cache"},
	)

	TimelineTrimmed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "window",
		Name:      "trimmed_total",
		Help:      "Statuses evicted from timeline windows by auto-trim",
	})

	TimelineInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "window",
		Name:      "invalidations_total",
		Help:      "Full timeline invalidations executed",
	})

	// PipelineFailures counts items given up on, by component and operation.
	PipelineFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Items dropped after a failure",
		},
		[]string{"component", "op"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and status code",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "code"},
	)
)
