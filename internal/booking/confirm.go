package booking

import (
	"context"
	"errors"

	"github.com/wolfman30/practice-booking/internal/appointments"
	"github.com/wolfman30/practice-booking/internal/audit"
	"github.com/wolfman30/practice-booking/internal/events"
	"github.com/wolfman30/practice-booking/internal/payments"
)

var _ payments.Confirmer = (*Service)(nil)

// ConfirmPayment applies a completed payment reported by the gateway.
// A payment that matches what the appointment is waiting for confirms it;
// a repeat of an already applied payment is a no-op; anything else (late
// payment for a cancelled booking or an expired hold) is refunded through
// the retry outbox.
func (s *Service) ConfirmPayment(ctx context.Context, c payments.Confirmation) (err error) {
	ctx, span := startSpan(ctx, "booking.confirm_payment", c.TenantID, c.AppointmentID)
	defer span.End()
	defer func() { s.finish(span, "confirm_payment", err) }()

	if c.TenantID == "" || c.AppointmentID == "" || c.Reference == "" {
		return validationError("confirmation needs tenant, appointment and reference")
	}

	var confirmed *appointments.Appointment
	var stale *appointments.Appointment
	err = s.withConflictRetry(ctx, "confirm_payment", func() error {
		confirmed, stale = nil, nil
		a, err := s.store.Get(ctx, c.TenantID, c.AppointmentID)
		if errors.Is(err, appointments.ErrNotFound) {
			stale = &appointments.Appointment{ID: c.AppointmentID, TenantID: c.TenantID}
			return nil
		}
		if err != nil {
			return persistenceError(err)
		}

		switch paymentDisposition(a, c) {
		case dispositionApply:
			updated, err := s.store.MarkConfirmed(ctx, a.TenantID, a.ID, a.Version, appointments.PaymentPaid)
			if err != nil {
				return storeError(err)
			}
			confirmed = updated
		case dispositionDuplicate:
			s.logger.Info("payment already applied", "appointment_id", a.ID, "reference", c.Reference, "purpose", c.Purpose)
		default:
			stale = a
		}
		return nil
	})
	if err != nil {
		return err
	}

	if stale != nil {
		return s.refundStalePayment(ctx, stale, c)
	}
	if confirmed == nil {
		return nil
	}

	s.logger.Info("appointment payment confirmed",
		"appointment_id", confirmed.ID,
		"tenant_id", confirmed.TenantID,
		"purpose", c.Purpose,
		"reference", c.Reference,
		"amount", int64(c.Amount),
	)
	from := appointments.StatusPending
	if c.Purpose == payments.PurposeReschedule {
		from = appointments.StatusPendingReschedulePayment
	}
	s.record(ctx, audit.Entry{
		TenantID:      confirmed.TenantID,
		AppointmentID: confirmed.ID,
		Action:        audit.ActionConfirmed,
		Actor:         "gateway",
		FromStatus:    string(from),
		ToStatus:      string(confirmed.Status),
		ChangedFields: []string{"status", "payment_status"},
		Version:       confirmed.Version,
	}, map[string]any{"reference": c.Reference, "purpose": c.Purpose, "amount": c.Amount})
	s.publish(ctx, confirmed, events.AppointmentConfirmedV1{
		AppointmentID: confirmed.ID,
		TenantID:      confirmed.TenantID,
		Purpose:       string(c.Purpose),
		Reference:     c.Reference,
		AmountMinor:   int64(c.Amount),
		OccurredAt:    s.now().UTC(),
	})
	return nil
}

type disposition int

const (
	dispositionStale disposition = iota
	dispositionApply
	dispositionDuplicate
)

func paymentDisposition(a *appointments.Appointment, c payments.Confirmation) disposition {
	switch c.Purpose {
	case payments.PurposeReschedule:
		if a.Status == appointments.StatusPendingReschedulePayment && a.Hold != nil && a.Hold.PendingReference == c.Reference {
			return dispositionApply
		}
	default:
		if a.Status == appointments.StatusPending && a.GatewayReference == c.Reference {
			return dispositionApply
		}
	}
	if a.Status != appointments.StatusCancelled && a.HasReference(c.Reference) {
		return dispositionDuplicate
	}
	return dispositionStale
}

// refundStalePayment returns money that arrived for nothing. The refund is
// always queued so the webhook answers quickly and the gateway is asked at
// most once per attempt.
func (s *Service) refundStalePayment(ctx context.Context, a *appointments.Appointment, c payments.Confirmation) error {
	s.logger.Warn("payment does not match appointment state, refunding",
		"appointment_id", a.ID,
		"tenant_id", a.TenantID,
		"status", a.Status,
		"reference", c.Reference,
		"purpose", c.Purpose,
	)
	plan := events.RefundRetryV1{
		AppointmentID: a.ID,
		TenantID:      a.TenantID,
		Version:       a.Version,
		References:    []string{c.Reference},
		AmountMinor:   int64(c.Amount),
		Path:          refundPathStale,
		Reason:        "requested_by_customer",
		FailedAt:      s.now().UTC(),
	}
	if _, err := s.outbox.Publish(ctx, a.TenantID, "appointment:"+a.ID, plan); err != nil {
		return persistenceError(err)
	}
	s.metrics.ObserveRefund(refundPathStale, string(RefundQueued))
	s.record(ctx, audit.Entry{
		TenantID:      a.TenantID,
		AppointmentID: a.ID,
		Action:        audit.ActionStalePaymentRefunded,
		Actor:         "gateway",
		FromStatus:    string(a.Status),
		ToStatus:      string(a.Status),
		Version:       a.Version,
	}, map[string]any{"reference": c.Reference, "amount": c.Amount})
	return nil
}
