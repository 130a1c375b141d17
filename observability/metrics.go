package observability

import (
	gu "github.com/xraph/go-utils/metrics"
)

// Metrics holds the payrelay instruments, backed by any go-utils
// MetricFactory (fapp.Metrics() under forge, or a standalone collector).
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	EventsPublished   gu.Counter
	DeliveriesTotal   gu.Counter
	DeliveryLatency   gu.Histogram
	PendingDeliveries gu.Gauge
	PaymentsTimedOut  gu.Counter
	SweepDuration     gu.Histogram
	AdmissionRejected gu.Counter
}

// NewMetrics creates the payrelay instruments using the supplied factory.
func NewMetrics(factory gu.MetricFactory) *Metrics {
	return &Metrics{
		EventsPublished:   factory.Counter("payrelay_events_published_total"),
		DeliveriesTotal:   factory.Counter("payrelay_deliveries_total"),
		DeliveryLatency:   factory.Histogram("payrelay_delivery_latency_seconds"),
		PendingDeliveries: factory.Gauge("payrelay_pending_deliveries"),
		PaymentsTimedOut:  factory.Counter("payrelay_payments_timed_out_total"),
		SweepDuration:     factory.Histogram("payrelay_sweep_duration_seconds"),
		AdmissionRejected: factory.Counter("payrelay_admission_rejected_total"),
	}
}

// RecordPublish counts one published event.
func (m *Metrics) RecordPublish() {
	if m == nil {
		return
	}
	m.EventsPublished.Inc()
}

// RecordDelivery records one attempt outcome ("delivered", "retrying",
// "failed") and its latency.
func (m *Metrics) RecordDelivery(status string, latencySeconds float64) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabels(map[string]string{"status": status}).Inc()
	m.DeliveryLatency.Observe(latencySeconds)
}

// PendingDelta moves the pending-deliveries gauge by delta.
func (m *Metrics) PendingDelta(delta float64) {
	if m == nil {
		return
	}
	m.PendingDeliveries.Add(delta)
}

// RecordSweep records one sweep run.
func (m *Metrics) RecordSweep(timedOut int, seconds float64) {
	if m == nil {
		return
	}
	for range timedOut {
		m.PaymentsTimedOut.Inc()
	}
	m.SweepDuration.Observe(seconds)
}

// RecordRejection counts one request refused by admission control.
func (m *Metrics) RecordRejection(tier string) {
	if m == nil {
		return
	}
	m.AdmissionRejected.WithLabels(map[string]string{"tier": tier}).Inc()
}
