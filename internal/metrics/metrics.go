package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "motion_events_ingested_total",
		Help: "Total number of newly stored motion events.",
	})

	EventsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "motion_events_duplicate_total",
		Help: "Total number of submissions that matched an existing (sensor, timestamp) key.",
	})

	EventsInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "motion_events_invalid_total",
		Help: "Total number of submissions rejected by validation.",
	})

	FanoutEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "motion_fanout_enqueued_total",
		Help: "Total number of fan-out tasks placed on the delivery queue.",
	})

	FanoutDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "motion_fanout_dropped_total",
		Help: "Total number of fan-out tasks deferred because the queue was full.",
	})

	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "motion_deliveries_total",
		Help: "Total number of notification deliveries, labelled by channel and status.",
	}, []string{"channel", "status"})

	DeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "motion_delivery_duration_seconds",
		Help:    "Time from fan-out pickup to successful delivery, retries included.",
		Buckets: prometheus.DefBuckets,
	})

	FanoutQueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "motion_fanout_queue_utilization_ratio",
		Help: "Current fan-out queue utilization (0-1).",
	})
)
