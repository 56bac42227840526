package booking

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/practice-booking/internal/appointments"
	"github.com/wolfman30/practice-booking/internal/audit"
	"github.com/wolfman30/practice-booking/internal/coupons"
	"github.com/wolfman30/practice-booking/internal/events"
	"github.com/wolfman30/practice-booking/internal/payments"
	"github.com/wolfman30/practice-booking/internal/pricing"
)

// BookRequest asks for a new appointment.
type BookRequest struct {
	TenantID       string `json:"-"`
	PatientRef     string `json:"patient_id"`
	ProfessionalID string `json:"professional_id"`
	Date           string `json:"date"`
	Time           string `json:"time"`
	CouponCode     string `json:"coupon_code,omitempty"`
}

// BookResult is returned by Book. PaymentURL is set when RequiresPayment.
type BookResult struct {
	Appointment     *appointments.Appointment `json:"appointment"`
	Pricing         pricing.Priced            `json:"pricing"`
	RequiresPayment bool                      `json:"requires_payment"`
	PaymentURL      string                    `json:"payment_url,omitempty"`
}

// Book validates the coupon, prices the slot and creates a pending
// appointment. Free appointments are confirmed immediately; paid ones get a
// payment intent and are confirmed by ConfirmPayment.
func (s *Service) Book(ctx context.Context, req BookRequest) (res BookResult, err error) {
	ctx, span := startSpan(ctx, "booking.book", req.TenantID, "")
	defer span.End()
	defer func() { s.finish(span, "book", err) }()

	req.PatientRef = strings.TrimSpace(req.PatientRef)
	req.ProfessionalID = strings.TrimSpace(req.ProfessionalID)
	if req.TenantID == "" || req.PatientRef == "" || req.ProfessionalID == "" {
		return BookResult{}, validationError("patient_id and professional_id are required")
	}
	if _, err := parseFutureSlot(req.Date, req.Time, s.locations.For(req.TenantID), s.now()); err != nil {
		return BookResult{}, err
	}

	pro, err := s.resolveProfessional(ctx, req.TenantID, req.ProfessionalID)
	if err != nil {
		return BookResult{}, err
	}

	priced, decision, err := s.price(ctx, req, pro.Price)
	if err != nil {
		return BookResult{}, err
	}

	created, err := s.store.Create(ctx, appointments.Appointment{
		TenantID:       req.TenantID,
		PatientRef:     req.PatientRef,
		ProfessionalID: pro.ID,
		ScheduledDate:  req.Date,
		ScheduledTime:  req.Time,
		Amount:         priced.Final,
		CouponID:       decision.CouponID,
	})
	if err != nil {
		return BookResult{}, storeError(err)
	}
	res = BookResult{Appointment: created, Pricing: priced}

	if decision.Valid {
		if err := s.coupons.CommitUsage(ctx, decision, req.TenantID, req.PatientRef, created.ID); err != nil {
			s.abandon(ctx, created, "coupon commit failed")
			if reason, ok := coupons.ReasonOf(err); ok {
				return BookResult{}, couponError(reason)
			}
			return BookResult{}, persistenceError(err)
		}
	}

	var intent payments.Intent
	if priced.Final > 0 {
		intent, err = s.gateway.CreatePaymentIntent(ctx, payments.IntentRequest{
			TenantID:       req.TenantID,
			AppointmentID:  created.ID,
			Purpose:        payments.PurposeBooking,
			Amount:         priced.Final,
			Description:    fmt.Sprintf("Appointment with %s on %s at %s", pro.Name, req.Date, req.Time),
			IdempotencyKey: "booking-" + created.ID,
		})
		if err != nil {
			s.releaseCoupon(ctx, decision, created.ID)
			s.abandon(ctx, created, "payment intent failed")
			return BookResult{}, gatewayError(err)
		}
	}

	current := created
	if priced.Final == 0 {
		current, err = s.store.MarkConfirmed(ctx, created.TenantID, created.ID, created.Version, appointments.PaymentUnpaid)
	} else {
		current, err = s.store.AttachGatewayReference(ctx, created.TenantID, created.ID, created.Version, intent.ID)
		res.RequiresPayment = true
		res.PaymentURL = intent.PaymentURL
	}
	if err != nil {
		return BookResult{}, persistenceError(err)
	}
	res.Appointment = current

	s.logger.Info("appointment booked",
		"appointment_id", current.ID,
		"tenant_id", current.TenantID,
		"professional_id", current.ProfessionalID,
		"status", current.Status,
		"amount", int64(current.Amount),
		"coupon_id", current.CouponID,
	)
	s.record(ctx, audit.Entry{
		TenantID:      current.TenantID,
		AppointmentID: current.ID,
		Action:        audit.ActionBooked,
		Actor:         req.PatientRef,
		ToStatus:      string(current.Status),
		Version:       current.Version,
	}, priced)
	s.publish(ctx, current, events.AppointmentBookedV1{
		AppointmentID:  current.ID,
		TenantID:       current.TenantID,
		ProfessionalID: current.ProfessionalID,
		PatientRef:     current.PatientRef,
		ScheduledDate:  current.ScheduledDate,
		ScheduledTime:  current.ScheduledTime,
		Status:         string(current.Status),
		AmountMinor:    int64(current.Amount),
		DiscountMinor:  int64(priced.Discount),
		CouponID:       current.CouponID,
		OccurredAt:     s.now().UTC(),
	})
	return res, nil
}

func (s *Service) price(ctx context.Context, req BookRequest, base pricing.Money) (pricing.Priced, coupons.Decision, error) {
	if strings.TrimSpace(req.CouponCode) == "" {
		priced, err := pricing.ComputePrice(base, nil)
		if err != nil {
			return pricing.Priced{}, coupons.Decision{}, persistenceError(err)
		}
		return priced, coupons.Decision{}, nil
	}
	if s.coupons == nil {
		return pricing.Priced{}, coupons.Decision{}, couponError(coupons.ReasonNotFound)
	}
	decision, err := s.coupons.Validate(ctx, coupons.Request{
		Code:           req.CouponCode,
		ProfessionalID: req.ProfessionalID,
		Amount:         base,
		TenantID:       req.TenantID,
		UserRef:        req.PatientRef,
	})
	if err != nil {
		return pricing.Priced{}, coupons.Decision{}, persistenceError(err)
	}
	if !decision.Valid {
		return pricing.Priced{}, coupons.Decision{}, couponError(decision.Reason)
	}
	return pricing.Priced{
		Original: decision.OriginalAmount,
		Discount: decision.DiscountAmount,
		Final:    decision.FinalAmount,
	}, decision, nil
}

// abandon cancels an appointment whose booking could not complete so the
// slot is released.
func (s *Service) releaseCoupon(ctx context.Context, decision coupons.Decision, appointmentID string) {
	if !decision.Valid {
		return
	}
	if err := s.coupons.ReleaseUsage(ctx, decision, appointmentID); err != nil {
		s.logger.Error("failed to release coupon usage", "error", err, "appointment_id", appointmentID, "coupon_id", decision.CouponID)
	}
}

func (s *Service) abandon(ctx context.Context, a *appointments.Appointment, why string) {
	if _, err := s.store.MarkCancelled(ctx, a.TenantID, a.ID, a.Version); err != nil {
		s.logger.Error("failed to release abandoned booking", "error", err, "appointment_id", a.ID, "reason", why)
		return
	}
	s.logger.Warn("booking abandoned", "appointment_id", a.ID, "tenant_id", a.TenantID, "reason", why)
}
