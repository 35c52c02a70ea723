package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BookingMetrics exposes counters/histograms for reservation flows.
type BookingMetrics struct {
	bookingsTotal       *prometheus.CounterVec
	compensationsTotal  *prometheus.CounterVec
	slotConflictsTotal  *prometheus.CounterVec
	scheduleTransitions *prometheus.CounterVec
	walletLatency       *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tutoring",
			Subsystem: "booking",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		compensationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tutoring",
			Subsystem: "booking",
			Name:      "compensations_total",
			Help:      "Booking rollbacks after a failed or unknown wallet debit",
		}, []string{"status"}),
		slotConflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tutoring",
			Subsystem: "booking",
			Name:      "slot_conflicts_total",
			Help:      "Rejected slot selections by classification",
		}, []string{"reason"}),
		scheduleTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tutoring",
			Subsystem: "schedule",
			Name:      "transitions_total",
			Help:      "Schedule state transitions",
		}, []string{"from", "to"}),
		walletLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tutoring",
			Subsystem: "wallet",
			Name:      "call_latency_seconds",
			Help:      "Latency of wallet calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.compensationsTotal, m.slotConflictsTotal, m.scheduleTransitions, m.walletLatency)
	return m
}

func (m *BookingMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveCompensation(ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.compensationsTotal.WithLabelValues(status).Inc()
}

func (m *BookingMetrics) ObserveSlotConflict(reason string) {
	if m == nil {
		return
	}
	m.slotConflictsTotal.WithLabelValues(reason).Inc()
}

func (m *BookingMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.scheduleTransitions.WithLabelValues(from, to).Inc()
}

func (m *BookingMetrics) ObserveWalletCall(op string, started time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.walletLatency.WithLabelValues(op, status).Observe(time.Since(started).Seconds())
}
