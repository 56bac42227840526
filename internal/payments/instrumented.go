package payments

import (
	"context"
	"time"

	"github.com/wolfman30/practice-booking/internal/observability/metrics"
)

// InstrumentedGateway records latency and outcome of every provider call.
type InstrumentedGateway struct {
	next    Gateway
	metrics *metrics.BookingMetrics
}

func NewInstrumentedGateway(next Gateway, m *metrics.BookingMetrics) *InstrumentedGateway {
	return &InstrumentedGateway{next: next, metrics: m}
}

func (g *InstrumentedGateway) CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	start := time.Now()
	intent, err := g.next.CreatePaymentIntent(ctx, req)
	g.metrics.ObserveGatewayCall("create_intent", err, time.Since(start).Seconds())
	return intent, err
}

func (g *InstrumentedGateway) FindPaymentByReference(ctx context.Context, ref string) (LookupResult, error) {
	start := time.Now()
	res, err := g.next.FindPaymentByReference(ctx, ref)
	g.metrics.ObserveGatewayCall("find_payment", err, time.Since(start).Seconds())
	return res, err
}

func (g *InstrumentedGateway) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	start := time.Now()
	res, err := g.next.Refund(ctx, req)
	g.metrics.ObserveGatewayCall("refund", err, time.Since(start).Seconds())
	return res, err
}
