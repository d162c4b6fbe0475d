package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics exposes counters/histograms for booking and lifecycle flows.
type SchedulingMetrics struct {
	bookingTotal    *prometheus.CounterVec
	transitionTotal *prometheus.CounterVec
	outboxTotal     *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		bookingTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hms",
			Subsystem: "scheduling",
			Name:      "booking_operations_total",
			Help:      "Book, reschedule and cancel attempts by outcome",
		}, []string{"operation", "outcome"}),
		transitionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hms",
			Subsystem: "scheduling",
			Name:      "status_transitions_total",
			Help:      "Appointment status transition attempts by outcome",
		}, []string{"from", "to", "outcome"}),
		outboxTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hms",
			Subsystem: "events",
			Name:      "outbox_deliveries_total",
			Help:      "Outbox delivery attempts by event type",
		}, []string{"event_type", "outcome"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hms",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of API requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingTotal, m.transitionTotal, m.outboxTotal, m.requestLatency)
	return m
}

func (m *SchedulingMetrics) ObserveBooking(operation, outcome string) {
	if m == nil {
		return
	}
	m.bookingTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *SchedulingMetrics) ObserveTransition(from, to, outcome string) {
	if m == nil {
		return
	}
	m.transitionTotal.WithLabelValues(from, to, outcome).Inc()
}

func (m *SchedulingMetrics) ObserveOutboxDelivery(eventType, outcome string) {
	if m == nil {
		return
	}
	m.outboxTotal.WithLabelValues(eventType, outcome).Inc()
}

func (m *SchedulingMetrics) ObserveRequest(method string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.requestLatency.WithLabelValues(method, statusClass(status)).Observe(seconds)
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	}
	return "2xx"
}
