package booking

import (
	"context"
	"fmt"

	"github.com/wolfman30/practice-booking/internal/appointments"
	"github.com/wolfman30/practice-booking/internal/audit"
	"github.com/wolfman30/practice-booking/internal/events"
	"github.com/wolfman30/practice-booking/internal/pricing"
)

// RefundRetrier finishes refunds the workflows could not complete. It is
// registered on the outbox router for refund.retry.v1 entries; returning an
// error leaves the entry for the next delivery attempt.
type RefundRetrier struct {
	svc *Service
}

// RefundRetrier returns the delivery handler for queued refunds.
func (s *Service) RefundRetrier() *RefundRetrier {
	return &RefundRetrier{svc: s}
}

func (r *RefundRetrier) Handle(ctx context.Context, entry events.OutboxEntry) error {
	var plan events.RefundRetryV1
	if err := events.DecodePayload(entry, &plan); err != nil {
		return err
	}
	s := r.svc
	ctx, span := startSpan(ctx, "booking.refund_retry", plan.TenantID, plan.AppointmentID)
	defer span.End()

	st := s.settle(ctx, plan)
	if st.Err != nil {
		if st.Refunded == 0 {
			s.logger.Warn("refund retry failed",
				"error", st.Err,
				"appointment_id", plan.AppointmentID,
				"path", plan.Path,
				"attempts", entry.Attempts,
			)
			s.metrics.ObserveRefund(plan.Path, string(RefundFailed))
			return fmt.Errorf("booking: refund retry for %s: %w", plan.AppointmentID, st.Err)
		}
		// Partial progress: hand the rest to a fresh entry so the refunded
		// part is not walked again.
		next := plan
		next.References = append([]string(nil), st.Unsettled...)
		next.AmountMinor = int64(st.Remaining)
		next.FailedAt = s.now().UTC()
		if _, err := s.outbox.Publish(ctx, plan.TenantID, "appointment:"+plan.AppointmentID, next); err != nil {
			return fmt.Errorf("booking: requeue refund for %s: %w", plan.AppointmentID, err)
		}
		s.logger.Info("refund partially settled, remainder requeued",
			"appointment_id", plan.AppointmentID,
			"refunded", int64(st.Refunded),
			"remaining", int64(st.Remaining),
		)
	}

	if st.Refunded > 0 && st.Err == nil && plan.FinalPaymentStatus != "" {
		s.setPaymentStatus(ctx, plan.TenantID, plan.AppointmentID, appointments.PaymentStatus(plan.FinalPaymentStatus))
	}
	status := RefundNotNeeded
	if st.Refunded > 0 {
		status = RefundProcessed
	}
	s.metrics.ObserveRefund(plan.Path, string(status))
	s.recordRetry(ctx, plan, st.Refunded)
	return nil
}

func (s *Service) recordRetry(ctx context.Context, plan events.RefundRetryV1, refunded pricing.Money) {
	if refunded == 0 {
		return
	}
	s.record(ctx, audit.Entry{
		TenantID:      plan.TenantID,
		AppointmentID: plan.AppointmentID,
		Action:        audit.ActionRefundRequested,
		Actor:         "system",
		Version:       plan.Version,
	}, map[string]any{"path": plan.Path, "refunded": refunded, "retry": true})
}

// HoldReleased reports a reverted reschedule hold. It is registered as the
// hold reaper's release callback.
func (s *Service) HoldReleased(ctx context.Context, a appointments.Appointment) {
	s.record(ctx, audit.Entry{
		TenantID:      a.TenantID,
		AppointmentID: a.ID,
		Action:        audit.ActionHoldReleased,
		Actor:         "system",
		FromStatus:    string(appointments.StatusPendingReschedulePayment),
		ToStatus:      string(a.Status),
		ChangedFields: []string{"professional_id", "scheduled_date", "scheduled_time", "amount", "status", "payment_status"},
		Version:       a.Version,
	}, nil)
	s.publish(ctx, &a, events.HoldReleasedV1{
		AppointmentID:  a.ID,
		TenantID:       a.TenantID,
		ProfessionalID: a.ProfessionalID,
		ScheduledDate:  a.ScheduledDate,
		ScheduledTime:  a.ScheduledTime,
		OccurredAt:     s.now().UTC(),
	})
}
