package appointments

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/practice-booking/internal/pricing"
)

// Store is the single owner of appointment rows. Mutations take the version
// the caller read; a stale version yields ErrVersionConflict.
type Store interface {
	Create(ctx context.Context, a Appointment) (*Appointment, error)
	Get(ctx context.Context, tenantID, id string) (*Appointment, error)
	MarkConfirmed(ctx context.Context, tenantID, id string, version int64, paymentStatus PaymentStatus) (*Appointment, error)
	MarkCancelled(ctx context.Context, tenantID, id string, version int64) (*Appointment, error)
	UpdateForReschedule(ctx context.Context, u RescheduleUpdate) (*Appointment, error)
	SetPaymentStatus(ctx context.Context, tenantID, id string, version int64, status PaymentStatus) (*Appointment, error)
	AttachGatewayReference(ctx context.Context, tenantID, id string, version int64, ref string) (*Appointment, error)
	ReleaseExpiredHolds(ctx context.Context, now time.Time) ([]Appointment, error)
	SlotTaken(ctx context.Context, slot Slot, excludeID string) (bool, error)
}

// RescheduleUpdate moves an appointment to a new slot and price in one write.
// When Status is pending_reschedule_payment, HoldExpiresAt and
// PendingReference describe the unpaid top-up.
type RescheduleUpdate struct {
	TenantID         string
	ID               string
	Version          int64
	ProfessionalID   string
	Date             string
	Time             string
	Amount           pricing.Money
	Status           Status
	HoldExpiresAt    time.Time
	PendingReference string
	PriceDifference  pricing.Money
}

func (u RescheduleUpdate) slot() Slot {
	return Slot{TenantID: u.TenantID, ProfessionalID: u.ProfessionalID, Date: u.Date, Time: u.Time}
}

func checkVersion(a *Appointment, version int64) error {
	if a.Version != version {
		return fmt.Errorf("%w: have %d, want %d", ErrVersionConflict, a.Version, version)
	}
	return nil
}

func transition(a *Appointment, to Status) error {
	if !CanTransition(a.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, to)
	}
	return nil
}

func applyConfirm(a *Appointment, version int64, ps PaymentStatus, now time.Time) error {
	if err := checkVersion(a, version); err != nil {
		return err
	}
	if a.Status != StatusPending && a.Status != StatusPendingReschedulePayment {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, StatusConfirmed)
	}
	a.Status = StatusConfirmed
	a.PaymentStatus = ps
	a.Hold = nil
	a.touch(now)
	return nil
}

func applyCancel(a *Appointment, version int64, now time.Time) error {
	if err := checkVersion(a, version); err != nil {
		return err
	}
	if err := transition(a, StatusCancelled); err != nil {
		return err
	}
	if a.Status == StatusPendingReschedulePayment && a.Hold != nil {
		a.PaymentStatus = a.Hold.PaymentStatus
		a.dropReference(a.Hold.PendingReference)
	}
	a.Status = StatusCancelled
	a.Hold = nil
	a.touch(now)
	return nil
}

func applyReschedule(a *Appointment, u RescheduleUpdate, now time.Time) error {
	if err := checkVersion(a, u.Version); err != nil {
		return err
	}
	if u.Amount < 0 {
		return pricing.ErrNegativeAmount
	}
	if a.Status == StatusPendingReschedulePayment {
		return fmt.Errorf("%w: reschedule while awaiting payment", ErrInvalidTransition)
	}
	if err := transition(a, u.Status); err != nil {
		return err
	}

	if u.Status == StatusPendingReschedulePayment {
		if u.PendingReference == "" || u.HoldExpiresAt.IsZero() {
			return fmt.Errorf("appointments: hold requires a payment reference and expiry")
		}
		a.Hold = &Hold{
			ExpiresAt:        u.HoldExpiresAt.UTC(),
			ProfessionalID:   a.ProfessionalID,
			Date:             a.ScheduledDate,
			Time:             a.ScheduledTime,
			Amount:           a.Amount,
			Status:           a.Status,
			PaymentStatus:    a.PaymentStatus,
			PendingReference: u.PendingReference,
			PriceDifference:  u.PriceDifference,
		}
		a.TopUpReferences = append(a.TopUpReferences, u.PendingReference)
		a.PaymentStatus = PaymentPending
	} else {
		a.Hold = nil
	}
	a.ProfessionalID = u.ProfessionalID
	a.ScheduledDate = u.Date
	a.ScheduledTime = u.Time
	a.Amount = u.Amount
	a.Status = u.Status
	a.touch(now)
	return nil
}

func applyPaymentStatus(a *Appointment, version int64, ps PaymentStatus, now time.Time) error {
	if err := checkVersion(a, version); err != nil {
		return err
	}
	a.PaymentStatus = ps
	a.touch(now)
	return nil
}

func applyGatewayReference(a *Appointment, version int64, ref string, now time.Time) error {
	if err := checkVersion(a, version); err != nil {
		return err
	}
	if a.Status != StatusPending {
		return fmt.Errorf("%w: attach reference to %s appointment", ErrInvalidTransition, a.Status)
	}
	a.GatewayReference = ref
	if a.PaymentStatus == PaymentUnpaid {
		a.PaymentStatus = PaymentPending
	}
	a.touch(now)
	return nil
}

// applyRelease reverts an expired hold to the slot it replaced.
func applyRelease(a *Appointment, now time.Time) bool {
	if a.Status != StatusPendingReschedulePayment || a.Hold == nil || now.Before(a.Hold.ExpiresAt) {
		return false
	}
	h := a.Hold
	a.ProfessionalID = h.ProfessionalID
	a.ScheduledDate = h.Date
	a.ScheduledTime = h.Time
	a.Amount = h.Amount
	a.Status = h.Status
	a.PaymentStatus = h.PaymentStatus
	a.dropReference(h.PendingReference)
	a.Hold = nil
	a.touch(now)
	return true
}

// dropReference forgets an unpaid top-up so a late payment for it is treated
// as stale.
func (a *Appointment) dropReference(ref string) {
	if ref == "" {
		return
	}
	kept := a.TopUpReferences[:0]
	for _, r := range a.TopUpReferences {
		if r != ref {
			kept = append(kept, r)
		}
	}
	a.TopUpReferences = kept
}

// HasReference reports whether ref is a live payment reference of a.
func (a *Appointment) HasReference(ref string) bool {
	if ref == "" {
		return false
	}
	for _, r := range a.PaymentReferences() {
		if r == ref {
			return true
		}
	}
	return false
}

func (a *Appointment) touch(now time.Time) {
	a.Version++
	a.UpdatedAt = now.UTC()
}
