package booking

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/practice-booking/internal/appointments"
	"github.com/wolfman30/practice-booking/internal/audit"
	"github.com/wolfman30/practice-booking/internal/coupons"
	"github.com/wolfman30/practice-booking/internal/events"
	"github.com/wolfman30/practice-booking/internal/pricing"
)

func TestBookPaidAppointmentAwaitsPayment(t *testing.T) {
	h := newHarness(t)

	res := h.book(t, "09:00")

	a := res.Appointment
	assert.True(t, res.RequiresPayment)
	assert.Contains(t, res.PaymentURL, a.GatewayReference)
	assert.Equal(t, appointments.StatusPending, a.Status)
	assert.Equal(t, appointments.PaymentPending, a.PaymentStatus)
	assert.Equal(t, pricing.Money(15000), a.Amount)
	assert.Equal(t, pricing.Priced{Original: 15000, Final: 15000}, res.Pricing)
	assert.Equal(t, 1, h.gateway.Intents())
	assert.Equal(t, []audit.Action{audit.ActionBooked}, h.audit.actions(a.ID))

	booked := h.outbox.Entries(events.TypeAppointmentBooked)
	require.Len(t, booked, 1)
	var evt events.AppointmentBookedV1
	require.NoError(t, events.DecodePayload(booked[0], &evt))
	assert.Equal(t, a.ID, evt.AppointmentID)
	assert.Equal(t, int64(15000), evt.AmountMinor)
}

func TestBookAppliesCoupon(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.Book(context.Background(), BookRequest{
		TenantID: "clinic-a", PatientRef: "patient-1", ProfessionalID: "pro-1",
		Date: "2026-03-12", Time: "09:00", CouponCode: "save10",
	})
	require.NoError(t, err)
	assert.Equal(t, pricing.Priced{Original: 15000, Discount: 1500, Final: 13500}, res.Pricing)
	assert.Equal(t, pricing.Money(13500), res.Appointment.Amount)
	assert.Equal(t, "c-10", res.Appointment.CouponID)

	usages := h.coupons.Usages()
	require.Len(t, usages, 1)
	assert.Equal(t, res.Appointment.ID, usages[0].AppointmentID)

	_, err = h.svc.Book(context.Background(), BookRequest{
		TenantID: "clinic-a", PatientRef: "patient-1", ProfessionalID: "pro-1",
		Date: "2026-03-12", Time: "10:00", CouponCode: "SAVE10",
	})
	require.ErrorIs(t, err, ErrInvalidCoupon)
	var bookErr *Error
	require.True(t, errors.As(err, &bookErr))
	assert.Equal(t, coupons.ReasonUsageExceeded, bookErr.Reason)
}

func TestBookFreeAppointmentIsConfirmedWithoutGateway(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.Book(context.Background(), BookRequest{
		TenantID: "clinic-a", PatientRef: "patient-1", ProfessionalID: "pro-1",
		Date: "2026-03-12", Time: "09:00", CouponCode: "FREE",
	})
	require.NoError(t, err)
	assert.False(t, res.RequiresPayment)
	assert.Empty(t, res.PaymentURL)
	assert.Equal(t, appointments.StatusConfirmed, res.Appointment.Status)
	assert.Equal(t, appointments.PaymentUnpaid, res.Appointment.PaymentStatus)
	assert.Equal(t, pricing.Money(0), res.Appointment.Amount)
	assert.Zero(t, h.gateway.Intents())
}

func TestBookRejections(t *testing.T) {
	tests := []struct {
		name string
		req  BookRequest
		want error
	}{
		{"missing patient", BookRequest{ProfessionalID: "pro-1", Date: "2026-03-12", Time: "09:00"}, ErrValidation},
		{"bad date", BookRequest{PatientRef: "p", ProfessionalID: "pro-1", Date: "12/03/2026", Time: "09:00"}, ErrValidation},
		{"past slot", BookRequest{PatientRef: "p", ProfessionalID: "pro-1", Date: "2026-03-09", Time: "09:00"}, ErrValidation},
		{"unknown professional", BookRequest{PatientRef: "p", ProfessionalID: "nobody", Date: "2026-03-12", Time: "09:00"}, ErrProfessionalNotFound},
		{"inactive professional", BookRequest{PatientRef: "p", ProfessionalID: "pro-off", Date: "2026-03-12", Time: "09:00"}, ErrProfessionalNotFound},
		{"unknown coupon", BookRequest{PatientRef: "p", ProfessionalID: "pro-1", Date: "2026-03-12", Time: "09:00", CouponCode: "NOPE"}, ErrInvalidCoupon},
		{"expired coupon", BookRequest{PatientRef: "p", ProfessionalID: "pro-1", Date: "2026-03-12", Time: "09:00", CouponCode: "OLD"}, ErrInvalidCoupon},
		{"coupon out of scope", BookRequest{PatientRef: "p", ProfessionalID: "pro-2", Date: "2026-03-12", Time: "09:00", CouponCode: "SAVE10"}, ErrInvalidCoupon},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.req.TenantID = "clinic-a"
			_, err := h.svc.Book(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.want)
			assert.Zero(t, h.gateway.Intents())
			assert.Empty(t, h.outbox.Entries(""))
		})
	}
}

func TestBookSlotAlreadyTaken(t *testing.T) {
	h := newHarness(t)
	h.book(t, "09:00")

	_, err := h.svc.Book(context.Background(), BookRequest{
		TenantID: "clinic-a", PatientRef: "patient-2", ProfessionalID: "pro-1", Date: "2026-03-12", Time: "09:00",
	})
	require.ErrorIs(t, err, ErrSlotUnavailable)
	assert.Equal(t, 1, h.gateway.Intents())
}

func TestBookGatewayFailureReleasesSlot(t *testing.T) {
	h := newHarness(t)
	h.gateway.FailWith("create_intent", errors.New("timeout"))

	_, err := h.svc.Book(context.Background(), BookRequest{
		TenantID: "clinic-a", PatientRef: "patient-1", ProfessionalID: "pro-1",
		Date: "2026-03-12", Time: "09:00", CouponCode: "SAVE10",
	})
	require.ErrorIs(t, err, ErrGateway)
	assert.Equal(t, KindGateway, KindOf(err))
	assert.Empty(t, h.coupons.Usages(), "coupon must not be consumed by a failed booking")

	h.gateway.FailWith("create_intent", nil)
	res, err := h.svc.Book(context.Background(), BookRequest{
		TenantID: "clinic-a", PatientRef: "patient-1", ProfessionalID: "pro-1",
		Date: "2026-03-12", Time: "09:00", CouponCode: "SAVE10",
	})
	require.NoError(t, err, "released coupon can be redeemed again")
	assert.Equal(t, appointments.StatusPending, res.Appointment.Status)
	assert.Equal(t, pricing.Money(13500), res.Appointment.Amount)
	assert.Len(t, h.coupons.Usages(), 1)
}

type rejectingCoupons struct {
	couponChecker
}

func (rejectingCoupons) CommitUsage(ctx context.Context, decision coupons.Decision, tenantID, userRef, appointmentID string) error {
	return coupons.Reject(coupons.ReasonUsageExceeded)
}

func TestBookLosingCouponRaceReleasesSlot(t *testing.T) {
	h := newHarness(t)
	h.svc.coupons = rejectingCoupons{couponChecker: h.svc.coupons}

	_, err := h.svc.Book(context.Background(), BookRequest{
		TenantID: "clinic-a", PatientRef: "patient-1", ProfessionalID: "pro-1",
		Date: "2026-03-12", Time: "09:00", CouponCode: "SAVE10",
	})
	var bookErr *Error
	require.True(t, errors.As(err, &bookErr))
	assert.Equal(t, KindInvalidCoupon, bookErr.Kind)
	assert.Equal(t, coupons.ReasonUsageExceeded, bookErr.Reason)
	assert.Empty(t, h.outbox.Entries(events.TypeAppointmentBooked))
	assert.Equal(t, 0, h.gateway.Intents(), "no checkout session for a lost coupon race")

	taken, err := h.store.SlotTaken(context.Background(), appointments.Slot{
		TenantID: "clinic-a", ProfessionalID: "pro-1", Date: "2026-03-12", Time: "09:00",
	}, "")
	require.NoError(t, err)
	assert.False(t, taken)
}
