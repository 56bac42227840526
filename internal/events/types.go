package events

import "time"

// Lifecycle event types published to downstream consumers.
const (
	TypeAppointmentBooked      = "appointment.booked.v1"
	TypeAppointmentConfirmed   = "appointment.confirmed.v1"
	TypeAppointmentCancelled   = "appointment.cancelled.v1"
	TypeAppointmentRescheduled = "appointment.rescheduled.v1"
	TypeHoldReleased           = "appointment.hold_released.v1"
	// TypeRefundRetry is internal and never leaves the process.
	TypeRefundRetry = "refund.retry.v1"
)

type AppointmentBookedV1 struct {
	AppointmentID  string    `json:"appointment_id"`
	TenantID       string    `json:"tenant_id"`
	ProfessionalID string    `json:"professional_id"`
	PatientRef     string    `json:"patient_ref"`
	ScheduledDate  string    `json:"scheduled_date"`
	ScheduledTime  string    `json:"scheduled_time"`
	Status         string    `json:"status"`
	AmountMinor    int64     `json:"amount_minor"`
	DiscountMinor  int64     `json:"discount_minor"`
	CouponID       string    `json:"coupon_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (AppointmentBookedV1) EventType() string { return TypeAppointmentBooked }

type AppointmentConfirmedV1 struct {
	AppointmentID string    `json:"appointment_id"`
	TenantID      string    `json:"tenant_id"`
	Purpose       string    `json:"purpose"`
	Reference     string    `json:"reference,omitempty"`
	AmountMinor   int64     `json:"amount_minor"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func (AppointmentConfirmedV1) EventType() string { return TypeAppointmentConfirmed }

type AppointmentCancelledV1 struct {
	AppointmentID  string    `json:"appointment_id"`
	TenantID       string    `json:"tenant_id"`
	ProfessionalID string    `json:"professional_id"`
	ScheduledDate  string    `json:"scheduled_date"`
	ScheduledTime  string    `json:"scheduled_time"`
	RefundStatus   string    `json:"refund_status"`
	RefundedMinor  int64     `json:"refunded_minor"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (AppointmentCancelledV1) EventType() string { return TypeAppointmentCancelled }

type AppointmentRescheduledV1 struct {
	AppointmentID        string    `json:"appointment_id"`
	TenantID             string    `json:"tenant_id"`
	FromProfessionalID   string    `json:"from_professional_id"`
	FromDate             string    `json:"from_date"`
	FromTime             string    `json:"from_time"`
	ToProfessionalID     string    `json:"to_professional_id"`
	ToDate               string    `json:"to_date"`
	ToTime               string    `json:"to_time"`
	PriceDifferenceMinor int64     `json:"price_difference_minor"`
	Status               string    `json:"status"`
	RefundStatus         string    `json:"refund_status,omitempty"`
	OccurredAt           time.Time `json:"occurred_at"`
}

func (AppointmentRescheduledV1) EventType() string { return TypeAppointmentRescheduled }

type HoldReleasedV1 struct {
	AppointmentID  string    `json:"appointment_id"`
	TenantID       string    `json:"tenant_id"`
	ProfessionalID string    `json:"professional_id"`
	ScheduledDate  string    `json:"scheduled_date"`
	ScheduledTime  string    `json:"scheduled_time"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (HoldReleasedV1) EventType() string { return TypeHoldReleased }

// RefundRetryV1 carries a settlement the gateway did not finish so it can be
// replayed. References are tried newest first until AmountMinor is returned.
type RefundRetryV1 struct {
	AppointmentID string   `json:"appointment_id"`
	TenantID      string   `json:"tenant_id"`
	Version       int64    `json:"version"`
	References    []string `json:"references"`
	AmountMinor   int64    `json:"amount_minor"`
	Path          string   `json:"path"`
	Reason        string   `json:"reason"`
	// FinalPaymentStatus is applied to the appointment once the refund lands.
	FinalPaymentStatus string    `json:"final_payment_status,omitempty"`
	FailedAt           time.Time `json:"failed_at"`
}

func (RefundRetryV1) EventType() string { return TypeRefundRetry }
