package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	processedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "step_tracker",
		Subsystem: "ingest",
		Name:      "events_processed_total",
		Help:      "Number of device events successfully handled.",
	}, []string{"topic", "kind"})

	handlerErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "step_tracker",
		Subsystem: "ingest",
		Name:      "handler_errors_total",
		Help:      "Number of handler errors grouped by topic and kind.",
	}, []string{"topic", "kind"})

	decodeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "step_tracker",
		Subsystem: "ingest",
		Name:      "decode_errors_total",
		Help:      "Number of decode failures per topic.",
	}, []string{"topic"})

	lastEventGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "step_tracker",
		Subsystem: "ingest",
		Name:      "last_event_timestamp_seconds",
		Help:      "Unix timestamp of the most recent handled device event per kind.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(processedCounter, handlerErrorCounter, decodeErrorCounter, lastEventGauge)
}

func recordProcessed(event Event) {
	processedCounter.WithLabelValues(event.Topic, event.Kind).Inc()
	if !event.At.IsZero() {
		lastEventGauge.WithLabelValues(event.Kind).Set(float64(event.At.Unix()))
	}
}

func recordHandlerError(event Event) {
	handlerErrorCounter.WithLabelValues(event.Topic, event.Kind).Inc()
}

func recordDecodeError(topic string) {
	decodeErrorCounter.WithLabelValues(topic).Inc()
}
