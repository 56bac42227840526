package booking

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/practice-booking/internal/appointments"
	"github.com/wolfman30/practice-booking/internal/audit"
	"github.com/wolfman30/practice-booking/internal/events"
	"github.com/wolfman30/practice-booking/internal/payments"
	"github.com/wolfman30/practice-booking/internal/pricing"
)

// RescheduleRequest moves an appointment to another professional or time.
type RescheduleRequest struct {
	TenantID       string `json:"-"`
	AppointmentID  string `json:"-"`
	ProfessionalID string `json:"new_professional_id"`
	Date           string `json:"new_date"`
	Time           string `json:"new_time"`
}

// RescheduleResult is returned by Reschedule. PriceDifference is the new
// price minus the amount the appointment carried.
type RescheduleResult struct {
	Success         bool                      `json:"success"`
	PriceDifference pricing.Money             `json:"price_difference"`
	RequiresPayment bool                      `json:"requires_payment"`
	PaymentURL      string                    `json:"payment_url,omitempty"`
	RefundStatus    RefundStatus              `json:"refund_status,omitempty"`
	Appointment     *appointments.Appointment `json:"appointment"`
}

// Reschedule moves an appointment and settles the price difference. A more
// expensive slot is held until the top-up is paid; a cheaper one is
// confirmed at once and the difference refunded without blocking.
// Coupons applied at booking stay baked into the old amount and are not
// re-evaluated.
func (s *Service) Reschedule(ctx context.Context, req RescheduleRequest) (res RescheduleResult, err error) {
	ctx, span := startSpan(ctx, "booking.reschedule", req.TenantID, req.AppointmentID)
	defer span.End()
	defer func() { s.finish(span, "reschedule", err) }()

	req.ProfessionalID = strings.TrimSpace(req.ProfessionalID)
	if req.ProfessionalID == "" {
		return RescheduleResult{}, validationError("new_professional_id is required")
	}
	if _, err := appointments.ParseSlot(req.Date, req.Time, nil); err != nil {
		return RescheduleResult{}, validationError("date must be YYYY-MM-DD and time HH:MM")
	}

	var (
		before, after *appointments.Appointment
		diff          pricing.Money
		intent        payments.Intent
	)
	err = s.withConflictRetry(ctx, "reschedule", func() error {
		intent = payments.Intent{}
		a, err := s.store.Get(ctx, req.TenantID, req.AppointmentID)
		if err != nil {
			return storeError(err)
		}
		switch a.Status {
		case appointments.StatusPending, appointments.StatusConfirmed:
		case appointments.StatusPendingReschedulePayment:
			return newError(KindInvalidTransition, "a previous reschedule is still awaiting payment", nil)
		default:
			return newError(KindInvalidTransition, "the appointment is already "+string(a.Status), nil)
		}
		if err := s.checkCutoff(a); err != nil {
			return err
		}
		if _, err := parseFutureSlot(req.Date, req.Time, s.locations.For(a.TenantID), s.now()); err != nil {
			return err
		}
		pro, err := s.resolveProfessional(ctx, req.TenantID, req.ProfessionalID)
		if err != nil {
			return err
		}

		diff = pro.Price - a.Amount
		if a.Status == appointments.StatusPending && diff != 0 {
			return newError(KindInvalidTransition, "an unpaid appointment can only move to a slot with the same price", nil)
		}
		target := appointments.Slot{TenantID: a.TenantID, ProfessionalID: pro.ID, Date: req.Date, Time: req.Time}
		if target == a.Slot() {
			return validationError("the appointment is already at that time")
		}
		taken, err := s.store.SlotTaken(ctx, target, a.ID)
		if err != nil {
			return persistenceError(err)
		}
		if taken {
			return newError(KindSlotUnavailable, "the selected time is no longer available", nil)
		}

		update := appointments.RescheduleUpdate{
			TenantID:        a.TenantID,
			ID:              a.ID,
			Version:         a.Version,
			ProfessionalID:  pro.ID,
			Date:            req.Date,
			Time:            req.Time,
			Amount:          pro.Price,
			Status:          a.Status,
			PriceDifference: diff,
		}
		switch {
		case diff > 0:
			holdUntil := s.now().Add(s.holdTTL)
			intent, err = s.gateway.CreatePaymentIntent(ctx, payments.IntentRequest{
				TenantID:       a.TenantID,
				AppointmentID:  a.ID,
				Purpose:        payments.PurposeReschedule,
				Amount:         diff,
				Description:    fmt.Sprintf("Reschedule with %s to %s at %s", pro.Name, req.Date, req.Time),
				IdempotencyKey: fmt.Sprintf("reschedule-%s-v%d", a.ID, a.Version),
				ExpiresAt:      holdUntil,
			})
			if err != nil {
				return gatewayError(err)
			}
			update.Status = appointments.StatusPendingReschedulePayment
			update.HoldExpiresAt = holdUntil
			update.PendingReference = intent.ID
		case diff < 0:
			update.Status = appointments.StatusConfirmed
		}

		updated, err := s.store.UpdateForReschedule(ctx, update)
		if err != nil {
			return storeError(err)
		}
		before, after = a, updated
		return nil
	})
	if err != nil {
		return RescheduleResult{}, err
	}

	res = RescheduleResult{
		Success:         true,
		PriceDifference: diff,
		RequiresPayment: diff > 0,
		PaymentURL:      intent.PaymentURL,
		Appointment:     after,
	}
	if diff < 0 {
		res.RefundStatus = RefundNotNeeded
		if before.HasCollectedPayment() {
			plan := newRefundPlan(after, before.PaymentReferences(), -diff, refundPathDowngrade, appointments.PaymentPartiallyRefunded, s.now())
			res.RefundStatus, _ = s.refund(ctx, after, plan)
		}
		if fresh, err := s.store.Get(ctx, after.TenantID, after.ID); err == nil {
			res.Appointment = fresh
		}
	}

	s.logger.Info("appointment rescheduled",
		"appointment_id", after.ID,
		"tenant_id", after.TenantID,
		"from_professional_id", before.ProfessionalID,
		"to_professional_id", after.ProfessionalID,
		"price_difference", int64(diff),
		"status", after.Status,
		"refund_status", res.RefundStatus,
	)
	action := audit.ActionRescheduled
	if after.Status == appointments.StatusPendingReschedulePayment {
		action = audit.ActionRescheduleHeld
	}
	s.record(ctx, audit.Entry{
		TenantID:      after.TenantID,
		AppointmentID: after.ID,
		Action:        action,
		Actor:         before.PatientRef,
		FromStatus:    string(before.Status),
		ToStatus:      string(after.Status),
		ChangedFields: []string{"professional_id", "scheduled_date", "scheduled_time", "amount", "status"},
		Version:       after.Version,
	}, map[string]any{"price_difference": diff, "refund_status": res.RefundStatus, "payment_reference": intent.ID})
	s.publish(ctx, after, events.AppointmentRescheduledV1{
		AppointmentID:        after.ID,
		TenantID:             after.TenantID,
		FromProfessionalID:   before.ProfessionalID,
		FromDate:             before.ScheduledDate,
		FromTime:             before.ScheduledTime,
		ToProfessionalID:     after.ProfessionalID,
		ToDate:               after.ScheduledDate,
		ToTime:               after.ScheduledTime,
		PriceDifferenceMinor: int64(diff),
		Status:               string(after.Status),
		RefundStatus:         string(res.RefundStatus),
		OccurredAt:           s.now().UTC(),
	})
	return res, nil
}
