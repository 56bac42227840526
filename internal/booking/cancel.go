package booking

import (
	"context"

	"github.com/wolfman30/practice-booking/internal/appointments"
	"github.com/wolfman30/practice-booking/internal/audit"
	"github.com/wolfman30/practice-booking/internal/events"
	"github.com/wolfman30/practice-booking/internal/pricing"
)

// CancelResult is returned by Cancel.
type CancelResult struct {
	Success        bool                      `json:"success"`
	RefundStatus   RefundStatus              `json:"refund_status"`
	RefundedAmount pricing.Money             `json:"refunded_amount"`
	Appointment    *appointments.Appointment `json:"appointment"`
}

// Cancel cancels an appointment more than the cutoff ahead and refunds what
// was paid. The cancellation is persisted first; the refund outcome is
// reported but never blocks it.
func (s *Service) Cancel(ctx context.Context, tenantID, appointmentID string) (res CancelResult, err error) {
	ctx, span := startSpan(ctx, "booking.cancel", tenantID, appointmentID)
	defer span.End()
	defer func() { s.finish(span, "cancel", err) }()

	var before, cancelled *appointments.Appointment
	err = s.withConflictRetry(ctx, "cancel", func() error {
		a, err := s.store.Get(ctx, tenantID, appointmentID)
		if err != nil {
			return storeError(err)
		}
		if a.Status == appointments.StatusCancelled || a.Status == appointments.StatusCompleted {
			return newError(KindInvalidTransition, "the appointment is already "+string(a.Status), nil)
		}
		if err := s.checkCutoff(a); err != nil {
			return err
		}
		updated, err := s.store.MarkCancelled(ctx, tenantID, appointmentID, a.Version)
		if err != nil {
			return storeError(err)
		}
		before, cancelled = a, updated
		return nil
	})
	if err != nil {
		return CancelResult{}, err
	}

	status, refunded := RefundNotNeeded, pricing.Money(0)
	if before.HasCollectedPayment() {
		plan := newRefundPlan(cancelled, before.PaymentReferences(), before.Amount, refundPathCancel, appointments.PaymentRefunded, s.now())
		status, refunded = s.refund(ctx, cancelled, plan)
	}

	s.logger.Info("appointment cancelled",
		"appointment_id", cancelled.ID,
		"tenant_id", cancelled.TenantID,
		"previous_status", before.Status,
		"refund_status", status,
		"refunded", int64(refunded),
	)
	s.record(ctx, audit.Entry{
		TenantID:      cancelled.TenantID,
		AppointmentID: cancelled.ID,
		Action:        audit.ActionCancelled,
		Actor:         before.PatientRef,
		FromStatus:    string(before.Status),
		ToStatus:      string(cancelled.Status),
		ChangedFields: []string{"status"},
		Version:       cancelled.Version,
	}, map[string]any{"refund_status": status, "refunded": refunded})
	s.publish(ctx, cancelled, events.AppointmentCancelledV1{
		AppointmentID:  cancelled.ID,
		TenantID:       cancelled.TenantID,
		ProfessionalID: cancelled.ProfessionalID,
		ScheduledDate:  cancelled.ScheduledDate,
		ScheduledTime:  cancelled.ScheduledTime,
		RefundStatus:   string(status),
		RefundedMinor:  int64(refunded),
		OccurredAt:     s.now().UTC(),
	})

	if fresh, err := s.store.Get(ctx, tenantID, appointmentID); err == nil {
		cancelled = fresh
	}
	return CancelResult{Success: true, RefundStatus: status, RefundedAmount: refunded, Appointment: cancelled}, nil
}
