package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/practice-booking/internal/pricing"
	"github.com/wolfman30/practice-booking/pkg/logging"
)

var (
	ErrFakeIntentNotFound = errors.New("payments: fake intent not found")
	ErrFakeIntentExpired  = errors.New("payments: fake intent expired")
)

// FakeGateway is an in-memory provider for development and tests. Payment
// pages are completed through FakeHandler instead of a real checkout.
//
// Never enable it in production.
type FakeGateway struct {
	mu            sync.Mutex
	publicBaseURL string
	logger        *logging.Logger
	now           func() time.Time

	intents map[string]*fakeIntent
	byKey   map[string]string
	refunds map[string]RefundResult
	failOn  map[string]error
}

type fakeIntent struct {
	req      IntentRequest
	id       string
	paid     bool
	refunded pricing.Money
}

func NewFakeGateway(publicBaseURL string, logger *logging.Logger) *FakeGateway {
	if logger == nil {
		logger = logging.Default()
	}
	return &FakeGateway{
		publicBaseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
		logger:        logger,
		now:           time.Now,
		intents:       make(map[string]*fakeIntent),
		byKey:         make(map[string]string),
		refunds:       make(map[string]RefundResult),
		failOn:        make(map[string]error),
	}
}

// WithClock overrides the time source used for intent expiry.
func (g *FakeGateway) WithClock(now func() time.Time) *FakeGateway {
	if now != nil {
		g.now = now
	}
	return g
}

// FailWith makes every call to op ("create_intent", "find_payment",
// "refund") fail with err until cleared with a nil err.
func (g *FakeGateway) FailWith(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.failOn, op)
		return
	}
	g.failOn[op] = fmt.Errorf("%w: %v", ErrGateway, err)
}

func (g *FakeGateway) CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failOn["create_intent"]; err != nil {
		return Intent{}, err
	}
	if req.Amount <= 0 {
		return Intent{}, fmt.Errorf("payments: fake intent amount must be positive, got %d", req.Amount)
	}
	if req.IdempotencyKey != "" {
		if id, ok := g.byKey[req.IdempotencyKey]; ok {
			return g.intentLocked(id), nil
		}
	}
	id := "fake_" + uuid.NewString()
	g.intents[id] = &fakeIntent{req: req, id: id}
	if req.IdempotencyKey != "" {
		g.byKey[req.IdempotencyKey] = id
	}
	g.logger.Info("fake payment intent created", "intent_id", id, "appointment_id", req.AppointmentID, "amount", req.Amount)
	return g.intentLocked(id), nil
}

func (g *FakeGateway) intentLocked(id string) Intent {
	return Intent{ID: id, PaymentURL: fmt.Sprintf("%s/payments/fake/%s", g.publicBaseURL, id)}
}

func (g *FakeGateway) FindPaymentByReference(ctx context.Context, ref string) (LookupResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failOn["find_payment"]; err != nil {
		return nil, err
	}
	in, ok := g.intents[ref]
	if !ok || !in.paid {
		return PaymentMissing{}, nil
	}
	status := PaymentApproved
	if in.refunded >= in.req.Amount {
		status = PaymentRefunded
	}
	return PaymentFound{
		PaymentID:         paymentIDFor(in.id),
		Status:            status,
		TransactionAmount: in.req.Amount,
		RefundedAmount:    in.refunded,
	}, nil
}

func (g *FakeGateway) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failOn["refund"]; err != nil {
		return RefundResult{}, err
	}
	if req.IdempotencyKey != "" {
		if prior, ok := g.refunds[req.IdempotencyKey]; ok {
			return prior, nil
		}
	}
	in, ok := g.intents[strings.TrimPrefix(req.PaymentID, "pay_")]
	if !ok || !in.paid {
		return RefundResult{}, fmt.Errorf("%w: unknown payment %s", ErrGateway, req.PaymentID)
	}
	if req.Amount <= 0 || in.refunded+req.Amount > in.req.Amount {
		return RefundResult{}, fmt.Errorf("%w: refund of %d exceeds refundable %d", ErrGateway, req.Amount, in.req.Amount-in.refunded)
	}
	in.refunded += req.Amount
	res := RefundResult{RefundID: "re_" + uuid.NewString(), Status: "succeeded"}
	if req.IdempotencyKey != "" {
		g.refunds[req.IdempotencyKey] = res
	}
	return res, nil
}

// Complete marks an intent paid and returns the confirmation to deliver.
func (g *FakeGateway) Complete(ctx context.Context, intentID string) (Confirmation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	in, ok := g.intents[intentID]
	if !ok {
		return Confirmation{}, ErrFakeIntentNotFound
	}
	if !in.req.ExpiresAt.IsZero() && g.now().After(in.req.ExpiresAt) && !in.paid {
		return Confirmation{}, ErrFakeIntentExpired
	}
	in.paid = true
	return Confirmation{
		TenantID:      in.req.TenantID,
		AppointmentID: in.req.AppointmentID,
		Purpose:       in.req.Purpose,
		Reference:     in.id,
		Amount:        in.req.Amount,
	}, nil
}

// Refunded reports the total refunded on an intent.
func (g *FakeGateway) Refunded(intentID string) pricing.Money {
	g.mu.Lock()
	defer g.mu.Unlock()
	if in, ok := g.intents[intentID]; ok {
		return in.refunded
	}
	return 0
}

// Intents returns how many intents were created.
func (g *FakeGateway) Intents() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.intents)
}

func paymentIDFor(intentID string) string {
	return "pay_" + intentID
}
