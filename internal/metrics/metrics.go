package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the ingestion pipeline. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	CyclesTotal          *prometheus.CounterVec
	CycleDuration        prometheus.Histogram
	CyclesSkipped        prometheus.Counter
	RecordsCollected     *prometheus.CounterVec
	AxisFailures         *prometheus.CounterVec
	ClassifierCalls      *prometheus.CounterVec
	ScoringOutcomes      *prometheus.CounterVec
	NotificationsSent    *prometheus.CounterVec
	NotificationFailures *prometheus.CounterVec
}

// New registers and returns pipeline metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bidscout_cycles_total",
			Help: "Total pipeline cycles by result.",
		}, []string{"result"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bidscout_cycle_duration_seconds",
			Help:    "Duration of pipeline cycles in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~34m
		}),
		CyclesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bidscout_cycles_skipped_total",
			Help: "Scheduler triggers skipped because a cycle was still running.",
		}),
		RecordsCollected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bidscout_records_collected_total",
			Help: "Records upserted by outcome (new or updated).",
		}, []string{"outcome"}),
		AxisFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bidscout_axis_failures_total",
			Help: "Collection axes that failed, by category code.",
		}, []string{"category"}),
		ClassifierCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bidscout_classifier_calls_total",
			Help: "External classifier calls by result.",
		}, []string{"result"}),
		ScoringOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bidscout_scoring_outcomes_total",
			Help: "Scored pairs by decision branch.",
		}, []string{"branch"}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bidscout_notifications_sent_total",
			Help: "Records delivered by channel.",
		}, []string{"channel"}),
		NotificationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bidscout_notification_failures_total",
			Help: "Failed batch deliveries by channel.",
		}, []string{"channel"}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.CyclesSkipped,
		m.RecordsCollected,
		m.AxisFailures,
		m.ClassifierCalls,
		m.ScoringOutcomes,
		m.NotificationsSent,
		m.NotificationFailures,
	)
	return m
}

func (m *Metrics) ObserveCycle(d time.Duration, failedSteps int) {
	if m == nil {
		return
	}
	result := "ok"
	if failedSteps > 0 {
		result = "partial"
	}
	m.CyclesTotal.WithLabelValues(result).Inc()
	m.CycleDuration.Observe(d.Seconds())
}

func (m *Metrics) CycleSkipped() {
	if m == nil {
		return
	}
	m.CyclesSkipped.Inc()
}

func (m *Metrics) RecordUpserted(outcome string) {
	if m == nil {
		return
	}
	m.RecordsCollected.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AxisFailed(category string) {
	if m == nil {
		return
	}
	m.AxisFailures.WithLabelValues(category).Inc()
}

func (m *Metrics) ClassifierCall(result string) {
	if m == nil {
		return
	}
	m.ClassifierCalls.WithLabelValues(result).Inc()
}

func (m *Metrics) Scored(branch string) {
	if m == nil {
		return
	}
	m.ScoringOutcomes.WithLabelValues(branch).Inc()
}

func (m *Metrics) Delivered(channel string, records int) {
	if m == nil {
		return
	}
	m.NotificationsSent.WithLabelValues(channel).Add(float64(records))
}

func (m *Metrics) DeliveryFailed(channel string) {
	if m == nil {
		return
	}
	m.NotificationFailures.WithLabelValues(channel).Inc()
}
