package coupons

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/practice-booking/internal/observability/metrics"
	"github.com/wolfman30/practice-booking/internal/pricing"
	"github.com/wolfman30/practice-booking/internal/professionals"
	"github.com/wolfman30/practice-booking/pkg/logging"
)

var tracer = otel.Tracer("practice.internal.coupons")

// Request is the input to a coupon check.
type Request struct {
	Code           string        `json:"code"`
	ProfessionalID string        `json:"professional_id"`
	Amount         pricing.Money `json:"amount"`
	TenantID       string        `json:"tenant_id"`
	UserRef        string        `json:"user_id"`
}

// Decision is the outcome of Validate. Valid decisions carry what CommitUsage
// needs to write the ledger row.
type Decision struct {
	Valid          bool          `json:"valid"`
	CouponID       string        `json:"coupon_id,omitempty"`
	Code           string        `json:"code,omitempty"`
	OriginalAmount pricing.Money `json:"original_amount"`
	DiscountAmount pricing.Money `json:"discount_amount"`
	FinalAmount    pricing.Money `json:"final_amount"`
	Reason         Reason        `json:"reason,omitempty"`
	Message        string        `json:"message,omitempty"`

	Discount pricing.Discount `json:"-"`
	UsageCap int              `json:"-"`
}

func rejected(reason Reason, amount pricing.Money) Decision {
	return Decision{
		Reason:         reason,
		Message:        reason.Message(),
		OriginalAmount: amount,
		FinalAmount:    amount,
	}
}

// Validator decides whether a coupon applies to a prospective booking.
type Validator struct {
	repo      Repository
	directory professionals.Directory
	now       func() time.Time
	metrics   *metrics.BookingMetrics
	logger    *logging.Logger
}

// NewValidator wires a validator. directory may be nil when no coupon uses
// institution scope.
func NewValidator(repo Repository, directory professionals.Directory, logger *logging.Logger) *Validator {
	if repo == nil {
		panic("coupons: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Validator{
		repo:      repo,
		directory: directory,
		now:       time.Now,
		logger:    logger,
	}
}

// WithClock overrides the time source.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	if now != nil {
		v.now = now
	}
	return v
}

// WithMetrics attaches metrics collectors.
func (v *Validator) WithMetrics(m *metrics.BookingMetrics) *Validator {
	v.metrics = m
	return v
}

// Validate runs the checks in a fixed order and reports the first failure.
// It never writes the usage ledger; a returned error means a dependency
// failed, not that the coupon was rejected.
func (v *Validator) Validate(ctx context.Context, req Request) (Decision, error) {
	ctx, span := tracer.Start(ctx, "coupons.validate")
	defer span.End()
	span.SetAttributes(
		attribute.String("practice.tenant_id", req.TenantID),
		attribute.String("practice.professional_id", req.ProfessionalID),
	)

	decision, err := v.validate(ctx, req)
	if err != nil {
		span.RecordError(err)
		v.metrics.ObserveCouponValidation("error")
		return Decision{}, err
	}
	result := "valid"
	if !decision.Valid {
		result = string(decision.Reason)
	}
	span.SetAttributes(attribute.String("coupon.result", result))
	v.metrics.ObserveCouponValidation(result)
	return decision, nil
}

func (v *Validator) validate(ctx context.Context, req Request) (Decision, error) {
	if req.Amount < 0 {
		return Decision{}, pricing.ErrNegativeAmount
	}
	if strings.TrimSpace(req.Code) == "" {
		return rejected(ReasonNotFound, req.Amount), nil
	}

	coupon, err := v.repo.FindByCode(ctx, req.TenantID, req.Code)
	if errors.Is(err, ErrCouponNotFound) {
		return rejected(ReasonNotFound, req.Amount), nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("coupons: find %q: %w", NormalizeCode(req.Code), err)
	}
	if !coupon.Active {
		return rejected(ReasonNotFound, req.Amount), nil
	}
	if !coupon.activeAt(v.now()) {
		return rejected(ReasonExpired, req.Amount), nil
	}

	inScope, err := v.inScope(ctx, coupon, req)
	if err != nil {
		return Decision{}, err
	}
	if !inScope {
		return rejected(ReasonOutOfScope, req.Amount), nil
	}
	if req.Amount < coupon.MinPurchase {
		return rejected(ReasonBelowMinimum, req.Amount), nil
	}

	if coupon.UsageCap > 0 {
		used, err := v.repo.CountUsage(ctx, coupon.ID, req.UserRef)
		if err != nil {
			return Decision{}, fmt.Errorf("coupons: count usage: %w", err)
		}
		if used >= coupon.UsageCap {
			return rejected(ReasonUsageExceeded, req.Amount), nil
		}
	}

	priced, err := pricing.ComputePrice(req.Amount, &coupon.Discount)
	if err != nil {
		v.logger.Error("coupon has invalid discount", "coupon_id", coupon.ID, "error", err)
		return Decision{}, fmt.Errorf("coupons: price coupon %s: %w", coupon.ID, err)
	}
	return Decision{
		Valid:          true,
		CouponID:       coupon.ID,
		Code:           coupon.Code,
		OriginalAmount: priced.Original,
		DiscountAmount: priced.Discount,
		FinalAmount:    priced.Final,
		Discount:       coupon.Discount,
		UsageCap:       coupon.UsageCap,
	}, nil
}

func (v *Validator) inScope(ctx context.Context, coupon *Coupon, req Request) (bool, error) {
	if coupon.Scope != ScopeInstitution {
		return coupon.coversProfessional(req.ProfessionalID, ""), nil
	}
	if v.directory == nil {
		return false, nil
	}
	pro, err := v.directory.Get(ctx, req.TenantID, req.ProfessionalID)
	if errors.Is(err, professionals.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("coupons: resolve professional: %w", err)
	}
	return coupon.coversProfessional(pro.ID, pro.InstitutionID), nil
}

// CommitUsage writes the ledger row for an accepted decision. It is not
// idempotent: each call records one redemption. A concurrent commit that
// would exceed the cap is reported as a usage_exceeded rejection.
func (v *Validator) CommitUsage(ctx context.Context, decision Decision, tenantID, userRef, appointmentID string) error {
	ctx, span := tracer.Start(ctx, "coupons.commit_usage")
	defer span.End()
	span.SetAttributes(
		attribute.String("practice.tenant_id", tenantID),
		attribute.String("practice.appointment_id", appointmentID),
	)

	if !decision.Valid || decision.CouponID == "" {
		return errors.New("coupons: cannot commit a rejected decision")
	}
	err := v.repo.RecordUsage(ctx, Usage{
		CouponID:       decision.CouponID,
		TenantID:       tenantID,
		UserRef:        userRef,
		AppointmentID:  appointmentID,
		OriginalAmount: decision.OriginalAmount,
		DiscountAmount: decision.DiscountAmount,
		FinalAmount:    decision.FinalAmount,
		UsedAt:         v.now().UTC(),
	}, decision.UsageCap)
	if errors.Is(err, ErrUsageCapReached) {
		span.SetAttributes(attribute.Bool("coupon.cap_reached", true))
		return Reject(ReasonUsageExceeded)
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("coupons: record usage: %w", err)
	}
	return nil
}

// ReleaseUsage removes the redemption recorded for appointmentID.
func (v *Validator) ReleaseUsage(ctx context.Context, decision Decision, appointmentID string) error {
	if !decision.Valid || decision.CouponID == "" {
		return nil
	}
	return v.repo.ReleaseUsage(ctx, decision.CouponID, appointmentID)
}
