package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	displayedStepsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "step_tracker",
		Subsystem: "accumulator",
		Name:      "displayed_steps",
		Help:      "Step total for the current calendar day as last displayed.",
	})
	rolloverCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "step_tracker",
		Subsystem: "accumulator",
		Name:      "day_rollovers_total",
		Help:      "Number of times the daily total was reset because the calendar date changed.",
	})
	persistCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "step_tracker",
		Subsystem: "persistence",
		Name:      "writes_total",
		Help:      "Daily record writes grouped by outcome.",
	}, []string{"outcome"})
	persistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "step_tracker",
		Subsystem: "persistence",
		Name:      "last_write_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful daily record write.",
	})
	locationCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "step_tracker",
		Subsystem: "location",
		Name:      "fixes_total",
		Help:      "Number of location fixes observed.",
	})
	droppedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "step_tracker",
		Subsystem: "broadcast",
		Name:      "dropped_total",
		Help:      "Updates dropped per sink because delivery failed or the subscriber was full.",
	}, []string{"sink"})
)

func init() {
	prometheus.MustRegister(displayedStepsGauge, rolloverCounter, persistCounter, persistGauge, locationCounter, droppedCounter)
}

// RecordDisplayedSteps updates the displayed total gauge.
func RecordDisplayedSteps(steps int) {
	displayedStepsGauge.Set(float64(steps))
}

// RecordRollover counts a calendar-date reset.
func RecordRollover() {
	rolloverCounter.Inc()
}

// RecordPersisted counts a successful write and moves the watermark.
func RecordPersisted(ts time.Time) {
	persistCounter.WithLabelValues("ok").Inc()
	if ts.IsZero() {
		return
	}
	persistGauge.Set(float64(ts.Unix()))
}

// RecordPersistFailure counts a failed write.
func RecordPersistFailure() {
	persistCounter.WithLabelValues("error").Inc()
}

// RecordLocationFix counts an observed fix.
func RecordLocationFix() {
	locationCounter.Inc()
}

// RecordDropped counts an update that a sink did not deliver.
func RecordDropped(sink string) {
	droppedCounter.WithLabelValues(sink).Inc()
}
