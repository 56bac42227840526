package payments

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/practice-booking/internal/pricing"
)

func TestFakeGatewayLifecycle(t *testing.T) {
	gw := NewFakeGateway("http://localhost:8080/", nil)
	ctx := context.Background()

	intent, err := gw.CreatePaymentIntent(ctx, IntentRequest{
		TenantID: "clinic-a", AppointmentID: "appt-1", Purpose: PurposeBooking, Amount: 10000, IdempotencyKey: "book-appt-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/payments/fake/"+intent.ID, intent.PaymentURL)

	again, err := gw.CreatePaymentIntent(ctx, IntentRequest{AppointmentID: "appt-1", Amount: 10000, IdempotencyKey: "book-appt-1"})
	require.NoError(t, err)
	assert.Equal(t, intent.ID, again.ID, "idempotency key returns the same intent")
	assert.Equal(t, 1, gw.Intents())

	res, err := gw.FindPaymentByReference(ctx, intent.ID)
	require.NoError(t, err)
	assert.IsType(t, PaymentMissing{}, res, "unpaid intents have no payment")

	conf, err := gw.Complete(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, "appt-1", conf.AppointmentID)
	assert.Equal(t, PurposeBooking, conf.Purpose)

	res, err = gw.FindPaymentByReference(ctx, intent.ID)
	require.NoError(t, err)
	found := res.(PaymentFound)
	assert.Equal(t, PaymentApproved, found.Status)
	assert.Equal(t, pricing.Money(10000), found.Refundable())

	_, err = gw.Refund(ctx, RefundRequest{PaymentID: found.PaymentID, Amount: 4000, IdempotencyKey: "r1"})
	require.NoError(t, err)
	_, err = gw.Refund(ctx, RefundRequest{PaymentID: found.PaymentID, Amount: 4000, IdempotencyKey: "r1"})
	require.NoError(t, err)
	assert.Equal(t, pricing.Money(4000), gw.Refunded(intent.ID), "retried refund is not applied twice")

	_, err = gw.Refund(ctx, RefundRequest{PaymentID: found.PaymentID, Amount: 7000, IdempotencyKey: "r2"})
	assert.ErrorIs(t, err, ErrGateway)
}

func TestFakeGatewayFailures(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	gw := NewFakeGateway("http://localhost", nil).WithClock(func() time.Time { return now })
	ctx := context.Background()

	gw.FailWith("create_intent", errors.New("provider down"))
	_, err := gw.CreatePaymentIntent(ctx, IntentRequest{Amount: 100})
	assert.ErrorIs(t, err, ErrGateway)
	gw.FailWith("create_intent", nil)

	intent, err := gw.CreatePaymentIntent(ctx, IntentRequest{AppointmentID: "appt-1", Amount: 100, ExpiresAt: now.Add(-time.Minute)})
	require.NoError(t, err)
	_, err = gw.Complete(ctx, intent.ID)
	assert.ErrorIs(t, err, ErrFakeIntentExpired)

	_, err = gw.Complete(ctx, "nope")
	assert.ErrorIs(t, err, ErrFakeIntentNotFound)
}

type recordingConfirmer struct {
	got []Confirmation
	err error
}

func (r *recordingConfirmer) ConfirmPayment(ctx context.Context, c Confirmation) error {
	r.got = append(r.got, c)
	return r.err
}

func TestFakeHandlerComplete(t *testing.T) {
	gw := NewFakeGateway("http://localhost", nil)
	intent, err := gw.CreatePaymentIntent(context.Background(), IntentRequest{TenantID: "clinic-a", AppointmentID: "appt-1", Amount: 100})
	require.NoError(t, err)

	confirmer := &recordingConfirmer{}
	r := chi.NewRouter()
	r.Mount("/payments/fake", NewFakeHandler(gw, confirmer, nil).Routes())

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/fake/"+intent.ID+"/complete", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, confirmer.got, 1)
	assert.Equal(t, "clinic-a", confirmer.got[0].TenantID)
	assert.Equal(t, intent.ID, confirmer.got[0].Reference)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/fake/missing/complete", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	confirmer.err = errors.New("store down")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/fake/"+intent.ID+"/complete", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
