package payments

import (
	"context"
	"errors"
	"time"

	"github.com/wolfman30/practice-booking/internal/pricing"
)

// ErrGateway marks every failure talking to the payment provider, including
// timeouts. Callers match it with errors.Is.
var ErrGateway = errors.New("payments: gateway error")

// Purpose tells the confirmation path what a payment was for.
type Purpose string

const (
	PurposeBooking    Purpose = "booking"
	PurposeReschedule Purpose = "reschedule"
)

// Metadata keys attached to every intent.
const (
	MetaAppointmentID = "appointment_id"
	MetaTenantID      = "tenant_id"
	MetaPurpose       = "purpose"
)

// IntentRequest asks the provider for a hosted payment page.
type IntentRequest struct {
	TenantID       string
	AppointmentID  string
	Purpose        Purpose
	Amount         pricing.Money
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
	// ExpiresAt bounds how long the payment page accepts payment. Zero means
	// the provider default.
	ExpiresAt time.Time
}

func (r IntentRequest) metadata() map[string]string {
	meta := make(map[string]string, len(r.Metadata)+3)
	for k, v := range r.Metadata {
		meta[k] = v
	}
	meta[MetaAppointmentID] = r.AppointmentID
	meta[MetaTenantID] = r.TenantID
	meta[MetaPurpose] = string(r.Purpose)
	return meta
}

// Intent is a created payment page. ID is the reference later passed to
// FindPaymentByReference.
type Intent struct {
	ID         string `json:"id"`
	PaymentURL string `json:"payment_url"`
}

// PaymentState is the provider-neutral state of a captured payment.
type PaymentState string

const (
	PaymentApproved PaymentState = "approved"
	PaymentPending  PaymentState = "pending"
	PaymentRefunded PaymentState = "refunded"
	PaymentFailed   PaymentState = "failed"
)

// LookupResult is either PaymentFound or PaymentMissing.
type LookupResult interface {
	lookupResult()
}

// PaymentFound describes the payment behind a reference.
type PaymentFound struct {
	PaymentID         string
	Status            PaymentState
	TransactionAmount pricing.Money
	RefundedAmount    pricing.Money
}

// PaymentMissing means the reference exists but no payment was captured, or
// the provider does not know the reference.
type PaymentMissing struct{}

func (PaymentFound) lookupResult()   {}
func (PaymentMissing) lookupResult() {}

// Refundable is what can still be returned on this payment.
func (p PaymentFound) Refundable() pricing.Money {
	if p.Status != PaymentApproved {
		return 0
	}
	left := p.TransactionAmount - p.RefundedAmount
	if left < 0 {
		return 0
	}
	return left
}

// RefundRequest returns money on one payment. Retrying with the same
// IdempotencyKey never refunds twice.
type RefundRequest struct {
	PaymentID      string
	Amount         pricing.Money
	IdempotencyKey string
	Reason         string
}

type RefundResult struct {
	RefundID string `json:"refund_id"`
	Status   string `json:"status"`
}

// Gateway is the external payment provider.
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error)
	FindPaymentByReference(ctx context.Context, ref string) (LookupResult, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

// Confirmation is delivered to a Confirmer when a provider reports a
// completed payment.
type Confirmation struct {
	TenantID      string
	AppointmentID string
	Purpose       Purpose
	Reference     string
	Amount        pricing.Money
}

// Confirmer applies a completed payment to the appointment it was for.
type Confirmer interface {
	ConfirmPayment(ctx context.Context, c Confirmation) error
}
