package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AdmissionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentryflow_admission_decisions_total",
		Help: "Admission decisions by endpoint and outcome (allowed, throttled, store_error)",
	}, []string{"endpoint", "outcome"})

	PublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentryflow_publish_failures_total",
		Help: "Usage events that could not be handed to the broker",
	})

	BatchesFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentryflow_batches_flushed_total",
		Help: "Raw event batches written to the event store",
	})

	EventsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentryflow_events_consumed_total",
		Help: "Usage events drained from the message channels",
	})

	AggregationCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentryflow_aggregation_cycles_total",
		Help: "Aggregation runs per granularity and result",
	}, []string{"interval", "result"})
)
