package booking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/practice-booking/internal/appointments"
	"github.com/wolfman30/practice-booking/internal/audit"
	"github.com/wolfman30/practice-booking/internal/events"
	"github.com/wolfman30/practice-booking/internal/payments"
	"github.com/wolfman30/practice-booking/internal/pricing"
)

func TestConfirmPaymentConfirmsPendingAppointment(t *testing.T) {
	h := newHarness(t)
	res := h.book(t, "09:00")

	c := h.pay(t, res.Appointment.GatewayReference)

	a, err := h.svc.Get(context.Background(), "clinic-a", res.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, appointments.StatusConfirmed, a.Status)
	assert.Equal(t, appointments.PaymentPaid, a.PaymentStatus)
	assert.Equal(t, payments.PurposeBooking, c.Purpose)
	assert.Len(t, h.outbox.Entries(events.TypeAppointmentConfirmed), 1)
	assert.Equal(t, []audit.Action{audit.ActionBooked, audit.ActionConfirmed}, h.audit.actions(a.ID))
}

func TestConfirmPaymentDuplicateIsNoop(t *testing.T) {
	h := newHarness(t)
	res := h.book(t, "09:00")
	c := h.pay(t, res.Appointment.GatewayReference)
	before, err := h.svc.Get(context.Background(), "clinic-a", res.Appointment.ID)
	require.NoError(t, err)

	require.NoError(t, h.svc.ConfirmPayment(context.Background(), c))

	after, err := h.svc.Get(context.Background(), "clinic-a", res.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Len(t, h.outbox.Entries(events.TypeAppointmentConfirmed), 1)
	assert.Empty(t, h.outbox.Entries(events.TypeRefundRetry))
}

func TestConfirmPaymentAfterCancelIsRefunded(t *testing.T) {
	h := newHarness(t)
	res := h.book(t, "09:00")
	ref := res.Appointment.GatewayReference

	cancelled, err := h.svc.Cancel(context.Background(), "clinic-a", res.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, RefundNotNeeded, cancelled.RefundStatus)

	c, err := h.gateway.Complete(context.Background(), ref)
	require.NoError(t, err)
	require.NoError(t, h.svc.ConfirmPayment(context.Background(), c))

	a, err := h.svc.Get(context.Background(), "clinic-a", res.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, appointments.StatusCancelled, a.Status)

	plans := h.refundPlans(t)
	require.Len(t, plans, 1)
	assert.Equal(t, refundPathStale, plans[0].Path)
	assert.Equal(t, []string{ref}, plans[0].References)
	assert.Contains(t, h.audit.actions(a.ID), audit.ActionStalePaymentRefunded)

	h.drainRefunds(t)
	assert.Equal(t, pricing.Money(15000), h.gateway.Refunded(ref))
}

func TestConfirmPaymentForUnknownAppointmentIsRefunded(t *testing.T) {
	h := newHarness(t)

	err := h.svc.ConfirmPayment(context.Background(), payments.Confirmation{
		TenantID: "clinic-a", AppointmentID: "missing", Purpose: payments.PurposeBooking, Reference: "fake_x", Amount: 100,
	})
	require.NoError(t, err)
	plans := h.refundPlans(t)
	require.Len(t, plans, 1)
	assert.Equal(t, "missing", plans[0].AppointmentID)
}

func TestConfirmPaymentRequiresReference(t *testing.T) {
	h := newHarness(t)
	err := h.svc.ConfirmPayment(context.Background(), payments.Confirmation{TenantID: "clinic-a", AppointmentID: "a"})
	require.ErrorIs(t, err, ErrValidation)
}
