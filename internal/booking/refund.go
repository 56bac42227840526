package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/practice-booking/internal/appointments"
	"github.com/wolfman30/practice-booking/internal/audit"
	"github.com/wolfman30/practice-booking/internal/events"
	"github.com/wolfman30/practice-booking/internal/payments"
	"github.com/wolfman30/practice-booking/internal/pricing"
)

// RefundStatus is the refund outcome reported to callers.
type RefundStatus string

const (
	RefundNotNeeded RefundStatus = "not_needed"
	RefundProcessed RefundStatus = "processed"
	RefundFailed    RefundStatus = "failed"
	// RefundQueued is only used for metrics of stale payments.
	RefundQueued RefundStatus = "queued"
)

const (
	refundPathCancel    = "cancel"
	refundPathDowngrade = "downgrade"
	refundPathStale     = "stale_payment"
)

// settlement is the result of walking a refund plan.
type settlement struct {
	Refunded  pricing.Money
	Remaining pricing.Money
	// Unsettled holds the references not yet walked when Err stopped the run.
	Unsettled []string
	Err       error
}

// refundKey is stable for one refund of one amount on one reference, so a
// replay never refunds twice.
func refundKey(appointmentID string, version int64, ref string, amount pricing.Money) string {
	return fmt.Sprintf("refund-%s-v%d-%s-%d", appointmentID, version, ref, amount)
}

// settle refunds up to plan.AmountMinor across the plan's references, newest
// first, never more than each payment still holds. A non-positive amount
// means "everything refundable".
func (s *Service) settle(ctx context.Context, plan events.RefundRetryV1) settlement {
	remaining := pricing.Money(plan.AmountMinor)
	unbounded := remaining <= 0
	var refunded pricing.Money

	for i, ref := range plan.References {
		if !unbounded && remaining <= 0 {
			break
		}
		result, err := s.gateway.FindPaymentByReference(ctx, ref)
		if err != nil {
			return settlement{Refunded: refunded, Remaining: remaining, Unsettled: plan.References[i:], Err: err}
		}
		found, ok := result.(payments.PaymentFound)
		if !ok {
			continue
		}
		amount := found.Refundable()
		if !unbounded && amount > remaining {
			amount = remaining
		}
		if amount <= 0 {
			continue
		}
		_, err = s.gateway.Refund(ctx, payments.RefundRequest{
			PaymentID:      found.PaymentID,
			Amount:         amount,
			IdempotencyKey: refundKey(plan.AppointmentID, plan.Version, ref, amount),
			Reason:         plan.Reason,
		})
		if err != nil {
			return settlement{Refunded: refunded, Remaining: remaining, Unsettled: plan.References[i:], Err: err}
		}
		refunded += amount
		if !unbounded {
			remaining -= amount
		}
		s.logger.Info("refund issued",
			"appointment_id", plan.AppointmentID,
			"reference", ref,
			"payment_id", found.PaymentID,
			"amount", int64(amount),
			"path", plan.Path,
		)
	}
	if unbounded {
		remaining = 0
	}
	return settlement{Refunded: refunded, Remaining: remaining}
}

// refund settles plan now and queues whatever the gateway did not accept.
// It never fails the calling workflow.
func (s *Service) refund(ctx context.Context, a *appointments.Appointment, plan events.RefundRetryV1) (RefundStatus, pricing.Money) {
	st := s.settle(ctx, plan)
	if st.Err == nil {
		status := RefundNotNeeded
		if st.Refunded > 0 {
			status = RefundProcessed
			if plan.FinalPaymentStatus != "" {
				s.setPaymentStatus(ctx, a.TenantID, a.ID, appointments.PaymentStatus(plan.FinalPaymentStatus))
			}
		}
		s.metrics.ObserveRefund(plan.Path, string(status))
		return status, st.Refunded
	}

	s.logger.Error("refund failed, queued for retry",
		"error", st.Err,
		"appointment_id", a.ID,
		"tenant_id", a.TenantID,
		"path", plan.Path,
		"refunded", int64(st.Refunded),
		"remaining", int64(st.Remaining),
	)
	retry := plan
	retry.References = append([]string(nil), st.Unsettled...)
	retry.AmountMinor = int64(st.Remaining)
	retry.FailedAt = s.now().UTC()
	if _, err := s.outbox.Publish(ctx, a.TenantID, "appointment:"+a.ID, retry); err != nil {
		s.logger.Error("failed to queue refund retry", "error", err, "appointment_id", a.ID, "remaining", int64(st.Remaining))
	}
	s.metrics.ObserveRefund(plan.Path, string(RefundFailed))
	s.record(ctx, audit.Entry{
		TenantID:      a.TenantID,
		AppointmentID: a.ID,
		Action:        audit.ActionRefundFailed,
		Actor:         "system",
		Version:       a.Version,
	}, map[string]any{"path": plan.Path, "remaining": st.Remaining, "refunded": st.Refunded})
	return RefundFailed, st.Refunded
}

// setPaymentStatus records a refund outcome. It re-reads on conflict and
// gives up quietly; the refund itself already happened.
func (s *Service) setPaymentStatus(ctx context.Context, tenantID, id string, ps appointments.PaymentStatus) {
	err := s.withConflictRetry(ctx, "payment_status", func() error {
		a, err := s.store.Get(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if a.PaymentStatus == ps {
			return nil
		}
		_, err = s.store.SetPaymentStatus(ctx, tenantID, id, a.Version, ps)
		return err
	})
	if err != nil {
		s.logger.Warn("failed to record payment status", "error", err, "appointment_id", id, "payment_status", ps)
	}
}

func newRefundPlan(a *appointments.Appointment, refs []string, amount pricing.Money, path string, final appointments.PaymentStatus, now time.Time) events.RefundRetryV1 {
	return events.RefundRetryV1{
		AppointmentID:      a.ID,
		TenantID:           a.TenantID,
		Version:            a.Version,
		References:         refs,
		AmountMinor:        int64(amount),
		Path:               path,
		Reason:             "requested_by_customer",
		FinalPaymentStatus: string(final),
		FailedAt:           now.UTC(),
	}
}
