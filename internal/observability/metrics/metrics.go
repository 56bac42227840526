package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BookingMetrics exposes counters/histograms for the booking core.
type BookingMetrics struct {
	workflowTotal     *prometheus.CounterVec
	refundTotal       *prometheus.CounterVec
	gatewayLatency    *prometheus.HistogramVec
	conflictRetries   *prometheus.CounterVec
	couponValidations *prometheus.CounterVec
	holdsReleased     prometheus.Counter
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		workflowTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "practice",
			Subsystem: "booking",
			Name:      "workflow_total",
			Help:      "Booking, cancellation and reschedule outcomes",
		}, []string{"workflow", "outcome"}),
		refundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "practice",
			Subsystem: "booking",
			Name:      "refund_total",
			Help:      "Refund attempts by path and result",
		}, []string{"path", "status"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "practice",
			Subsystem: "payments",
			Name:      "gateway_latency_seconds",
			Help:      "Latency of payment gateway calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		conflictRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "practice",
			Subsystem: "booking",
			Name:      "conflict_retries_total",
			Help:      "Optimistic concurrency retries",
		}, []string{"workflow"}),
		couponValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "practice",
			Subsystem: "coupons",
			Name:      "validations_total",
			Help:      "Coupon validation results",
		}, []string{"result"}),
		holdsReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "practice",
			Subsystem: "booking",
			Name:      "reschedule_holds_released_total",
			Help:      "Unpaid reschedule holds reverted after expiry",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.workflowTotal, m.refundTotal, m.gatewayLatency, m.conflictRetries, m.couponValidations, m.holdsReleased)
	return m
}

func (m *BookingMetrics) ObserveWorkflow(workflow, outcome string) {
	if m == nil {
		return
	}
	m.workflowTotal.WithLabelValues(workflow, outcome).Inc()
}

func (m *BookingMetrics) ObserveRefund(path, status string) {
	if m == nil {
		return
	}
	m.refundTotal.WithLabelValues(path, status).Inc()
}

func (m *BookingMetrics) ObserveGatewayCall(operation string, err error, seconds float64) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.gatewayLatency.WithLabelValues(operation, status).Observe(seconds)
}

func (m *BookingMetrics) ObserveConflictRetry(workflow string) {
	if m == nil {
		return
	}
	m.conflictRetries.WithLabelValues(workflow).Inc()
}

func (m *BookingMetrics) ObserveCouponValidation(result string) {
	if m == nil {
		return
	}
	m.couponValidations.WithLabelValues(result).Inc()
}

func (m *BookingMetrics) ObserveHoldsReleased(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.holdsReleased.Add(float64(n))
}
