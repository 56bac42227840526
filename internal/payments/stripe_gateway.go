package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/practice-booking/internal/pricing"
	"github.com/wolfman30/practice-booking/pkg/logging"
)

var stripeTracer = otel.Tracer("practice.internal.payments.stripe")

// Stripe rejects checkout sessions expiring sooner than 30 minutes or later
// than 24 hours after creation.
const (
	stripeMinSessionTTL = 31 * time.Minute
	stripeMaxSessionTTL = 24 * time.Hour
)

// StripeGateway talks to the Stripe REST API with form-encoded requests.
// Payment pages are Checkout Sessions; the session id is the reference.
type StripeGateway struct {
	secretKey  string
	successURL string
	cancelURL  string
	currency   string
	baseURL    string
	apiVersion string
	httpClient *http.Client
	logger     *logging.Logger
	now        func() time.Time
}

func NewStripeGateway(secretKey, successURL, cancelURL, currency string, logger *logging.Logger) *StripeGateway {
	if logger == nil {
		logger = logging.Default()
	}
	if currency == "" {
		currency = "usd"
	}
	return &StripeGateway{
		secretKey:  secretKey,
		successURL: successURL,
		cancelURL:  cancelURL,
		currency:   strings.ToLower(currency),
		baseURL:    "https://api.stripe.com",
		apiVersion: "2024-12-18.acacia",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		now:        time.Now,
	}
}

// WithBaseURL overrides the Stripe API base URL (for testing).
func (s *StripeGateway) WithBaseURL(baseURL string) *StripeGateway {
	if baseURL != "" {
		s.baseURL = strings.TrimRight(baseURL, "/")
	}
	return s
}

// WithHTTPClient replaces the HTTP client; its timeout bounds every call.
func (s *StripeGateway) WithHTTPClient(client *http.Client) *StripeGateway {
	if client != nil {
		s.httpClient = client
	}
	return s
}

func (s *StripeGateway) CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.create_checkout_session")
	defer span.End()
	span.SetAttributes(
		attribute.String("practice.tenant_id", req.TenantID),
		attribute.String("practice.appointment_id", req.AppointmentID),
		attribute.Int64("practice.amount_minor", int64(req.Amount)),
	)

	if req.Amount <= 0 {
		return Intent{}, fmt.Errorf("payments: stripe intent amount must be positive, got %d", req.Amount)
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "Appointment"
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("client_reference_id", req.AppointmentID)
	form.Set("line_items[0][price_data][currency]", s.currency)
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(int64(req.Amount), 10))
	form.Set("line_items[0][price_data][product_data][name]", description)
	form.Set("line_items[0][quantity]", "1")
	if s.successURL != "" {
		form.Set("success_url", s.successURL)
	}
	if s.cancelURL != "" {
		form.Set("cancel_url", s.cancelURL)
	}
	if !req.ExpiresAt.IsZero() {
		form.Set("expires_at", strconv.FormatInt(s.sessionExpiry(req.ExpiresAt).Unix(), 10))
	}
	for k, v := range req.metadata() {
		form.Set("metadata["+k+"]", v)
		form.Set("payment_intent_data[metadata]["+k+"]", v)
	}

	var session stripeCheckoutSession
	if err := s.do(ctx, http.MethodPost, "/v1/checkout/sessions", form, req.IdempotencyKey, &session); err != nil {
		span.RecordError(err)
		return Intent{}, err
	}
	if session.ID == "" || session.URL == "" {
		return Intent{}, fmt.Errorf("%w: stripe response missing checkout url", ErrGateway)
	}
	return Intent{ID: session.ID, PaymentURL: session.URL}, nil
}

func (s *StripeGateway) sessionExpiry(want time.Time) time.Time {
	now := s.now()
	if floor := now.Add(stripeMinSessionTTL); want.Before(floor) {
		s.logger.Debug("stripe session expiry raised to provider minimum", "requested", want, "used", floor)
		return floor
	}
	if ceiling := now.Add(stripeMaxSessionTTL); want.After(ceiling) {
		return ceiling
	}
	return want
}

func (s *StripeGateway) FindPaymentByReference(ctx context.Context, ref string) (LookupResult, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.find_payment")
	defer span.End()
	span.SetAttributes(attribute.String("stripe.session_id", ref))

	if strings.TrimSpace(ref) == "" {
		return PaymentMissing{}, nil
	}
	path := "/v1/checkout/sessions/" + url.PathEscape(ref) + "?expand[]=payment_intent.latest_charge"
	var session stripeCheckoutSession
	err := s.do(ctx, http.MethodGet, path, nil, "", &session)
	var notFound *stripeNotFoundError
	if errors.As(err, &notFound) {
		return PaymentMissing{}, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	pi := session.PaymentIntent
	if pi == nil || pi.ID == "" {
		return PaymentMissing{}, nil
	}

	found := PaymentFound{
		PaymentID:         pi.ID,
		TransactionAmount: pricing.Money(pi.AmountReceived),
	}
	if pi.LatestCharge != nil {
		found.RefundedAmount = pricing.Money(pi.LatestCharge.AmountRefunded)
	}
	switch pi.Status {
	case "succeeded":
		found.Status = PaymentApproved
		if found.TransactionAmount > 0 && found.RefundedAmount >= found.TransactionAmount {
			found.Status = PaymentRefunded
		}
	case "canceled":
		found.Status = PaymentFailed
	default:
		found.Status = PaymentPending
	}
	span.SetAttributes(attribute.String("stripe.payment_status", string(found.Status)))
	return found, nil
}

func (s *StripeGateway) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.refund")
	defer span.End()
	span.SetAttributes(
		attribute.String("stripe.payment_intent", req.PaymentID),
		attribute.Int64("practice.amount_minor", int64(req.Amount)),
	)

	if req.Amount <= 0 {
		return RefundResult{}, fmt.Errorf("payments: refund amount must be positive, got %d", req.Amount)
	}
	form := url.Values{}
	form.Set("payment_intent", req.PaymentID)
	form.Set("amount", strconv.FormatInt(int64(req.Amount), 10))
	form.Set("reason", "requested_by_customer")
	if req.Reason != "" {
		form.Set("metadata[reason]", req.Reason)
	}

	var refund struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := s.do(ctx, http.MethodPost, "/v1/refunds", form, req.IdempotencyKey, &refund); err != nil {
		span.RecordError(err)
		s.logger.Error("stripe refund failed", "error", err, "payment_intent", req.PaymentID, "amount", req.Amount)
		return RefundResult{}, err
	}
	if refund.Status == "failed" || refund.Status == "canceled" {
		return RefundResult{RefundID: refund.ID, Status: refund.Status}, fmt.Errorf("%w: refund %s ended %s", ErrGateway, refund.ID, refund.Status)
	}
	return RefundResult{RefundID: refund.ID, Status: refund.Status}, nil
}

type stripeNotFoundError struct {
	body string
}

func (e *stripeNotFoundError) Error() string {
	return "payments: stripe resource not found: " + e.body
}

func (s *StripeGateway) do(ctx context.Context, method, path string, form url.Values, idempotencyKey string, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("payments: stripe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", s.apiVersion)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: stripe http: %v", ErrGateway, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		data, _ := io.ReadAll(resp.Body)
		return &stripeNotFoundError{body: string(data)}
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		var apiErr stripeErrorResponse
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%w: stripe api status %d: %s", ErrGateway, resp.StatusCode, apiErr.Error.Message)
		}
		return fmt.Errorf("%w: stripe api status %d: %s", ErrGateway, resp.StatusCode, string(data))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: stripe decode: %v", ErrGateway, err)
	}
	return nil
}

// stripeCheckoutSession is the subset of Stripe's Checkout Session we need.
type stripeCheckoutSession struct {
	ID            string               `json:"id"`
	URL           string               `json:"url"`
	PaymentStatus string               `json:"payment_status"`
	PaymentIntent *stripePaymentIntent `json:"payment_intent"`
}

// stripePaymentIntent decodes both the expanded object and a bare id.
type stripePaymentIntent struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	AmountReceived int64  `json:"amount_received"`
	LatestCharge   *struct {
		AmountRefunded int64 `json:"amount_refunded"`
	} `json:"latest_charge"`
}

func (p *stripePaymentIntent) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		p.ID = id
		return nil
	}
	type plain stripePaymentIntent
	return json.Unmarshal(data, (*plain)(p))
}

// stripeErrorResponse represents a Stripe API error.
type stripeErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}
