// Package appointments owns appointment rows and their state transitions.
// Every mutation is a compare-and-set on the row version.
package appointments

import (
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/practice-booking/internal/pricing"
)

type Status string

const (
	StatusPending                  Status = "pending"
	StatusConfirmed                Status = "confirmed"
	StatusCancelled                Status = "cancelled"
	StatusCompleted                Status = "completed"
	StatusPendingReschedulePayment Status = "pending_reschedule_payment"
)

type PaymentStatus string

const (
	PaymentUnpaid            PaymentStatus = "unpaid"
	PaymentPending           PaymentStatus = "pending"
	PaymentPaid              PaymentStatus = "paid"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

// DateLayout and TimeLayout are the wall-clock formats stored on a row.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

var (
	ErrNotFound          = errors.New("appointments: not found")
	ErrVersionConflict   = errors.New("appointments: version conflict")
	ErrInvalidTransition = errors.New("appointments: invalid status transition")
	ErrSlotUnavailable   = errors.New("appointments: slot unavailable")
)

// Hold records the slot an upgrade reschedule moved away from, so an unpaid
// hold can be reverted once it expires.
type Hold struct {
	ExpiresAt        time.Time     `json:"expires_at"`
	ProfessionalID   string        `json:"previous_professional_id"`
	Date             string        `json:"previous_date"`
	Time             string        `json:"previous_time"`
	Amount           pricing.Money `json:"previous_amount"`
	Status           Status        `json:"previous_status"`
	PaymentStatus    PaymentStatus `json:"previous_payment_status"`
	PendingReference string        `json:"pending_reference,omitempty"`
	PriceDifference  pricing.Money `json:"price_difference"`
}

type Appointment struct {
	ID               string        `json:"id"`
	TenantID         string        `json:"tenant_id"`
	PatientRef       string        `json:"patient_ref"`
	ProfessionalID   string        `json:"professional_id"`
	ScheduledDate    string        `json:"scheduled_date"`
	ScheduledTime    string        `json:"scheduled_time"`
	Status           Status        `json:"status"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
	Amount           pricing.Money `json:"amount"`
	CouponID         string        `json:"coupon_id,omitempty"`
	GatewayReference string        `json:"gateway_reference,omitempty"`
	TopUpReferences  []string      `json:"top_up_references,omitempty"`
	Hold             *Hold         `json:"hold,omitempty"`
	Version          int64         `json:"version"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// ScheduledAt resolves the wall-clock slot in loc.
func (a *Appointment) ScheduledAt(loc *time.Location) (time.Time, error) {
	return ParseSlot(a.ScheduledDate, a.ScheduledTime, loc)
}

// Slot returns the slot the appointment currently occupies.
func (a *Appointment) Slot() Slot {
	return Slot{TenantID: a.TenantID, ProfessionalID: a.ProfessionalID, Date: a.ScheduledDate, Time: a.ScheduledTime}
}

// PaymentReferences lists every gateway reference created for the
// appointment, newest first.
func (a *Appointment) PaymentReferences() []string {
	refs := make([]string, 0, len(a.TopUpReferences)+1)
	for i := len(a.TopUpReferences) - 1; i >= 0; i-- {
		refs = append(refs, a.TopUpReferences[i])
	}
	if a.GatewayReference != "" {
		refs = append(refs, a.GatewayReference)
	}
	return refs
}

// HasCollectedPayment reports whether money was taken for this appointment
// and has not been fully returned.
func (a *Appointment) HasCollectedPayment() bool {
	switch a.PaymentStatus {
	case PaymentPaid, PaymentPartiallyRefunded:
		return true
	}
	if a.Status == StatusPendingReschedulePayment && a.Hold != nil {
		return a.Hold.PaymentStatus == PaymentPaid || a.Hold.PaymentStatus == PaymentPartiallyRefunded
	}
	return false
}

func (a *Appointment) occupies(s Slot) bool {
	if a.TenantID != s.TenantID {
		return false
	}
	switch a.Status {
	case StatusPending, StatusConfirmed:
		return a.Slot() == s
	case StatusPendingReschedulePayment:
		if a.Slot() == s {
			return true
		}
		return a.Hold != nil && a.Hold.ProfessionalID == s.ProfessionalID && a.Hold.Date == s.Date && a.Hold.Time == s.Time
	}
	return false
}

func (a *Appointment) clone() *Appointment {
	cp := *a
	cp.TopUpReferences = append([]string(nil), a.TopUpReferences...)
	if a.Hold != nil {
		h := *a.Hold
		cp.Hold = &h
	}
	return &cp
}

// Slot identifies one bookable time of one professional.
type Slot struct {
	TenantID       string
	ProfessionalID string
	Date           string
	Time           string
}

func (s Slot) Key() string {
	return fmt.Sprintf("slot:%s:%s:%s:%s", s.TenantID, s.ProfessionalID, s.Date, s.Time)
}

// ParseSlot validates and resolves a stored date and time.
func ParseSlot(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout, date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("appointments: invalid slot %q %q: %w", date, clock, err)
	}
	return t, nil
}

var transitions = map[Status][]Status{
	StatusPending:                  {StatusPending, StatusConfirmed, StatusCancelled},
	StatusConfirmed:                {StatusConfirmed, StatusCancelled, StatusPendingReschedulePayment, StatusCompleted},
	StatusPendingReschedulePayment: {StatusConfirmed, StatusCancelled},
}

// CanTransition reports whether from→to is an allowed lifecycle step.
// pending→pending and confirmed→confirmed are in-place reschedules.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
