// Package booking runs the appointment workflows: booking, payment
// confirmation, cancellation and rescheduling. Workflows read the appointment
// fresh, decide, and write with a version check; conflicting writers retry.
package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/practice-booking/internal/appointments"
	"github.com/wolfman30/practice-booking/internal/audit"
	"github.com/wolfman30/practice-booking/internal/coupons"
	"github.com/wolfman30/practice-booking/internal/events"
	"github.com/wolfman30/practice-booking/internal/observability/metrics"
	"github.com/wolfman30/practice-booking/internal/payments"
	"github.com/wolfman30/practice-booking/internal/professionals"
	"github.com/wolfman30/practice-booking/internal/tenancy"
	"github.com/wolfman30/practice-booking/pkg/logging"
)

var tracer = otel.Tracer("practice.internal.booking")

const (
	// DefaultCutoff is the minimum notice for cancelling or rescheduling.
	DefaultCutoff = 24 * time.Hour
	// DefaultHoldTTL is how long an upgrade reschedule waits for payment.
	DefaultHoldTTL = 30 * time.Minute
	// DefaultConflictRetries bounds read-decide-write attempts.
	DefaultConflictRetries = 3
)

type couponChecker interface {
	Validate(ctx context.Context, req coupons.Request) (coupons.Decision, error)
	CommitUsage(ctx context.Context, decision coupons.Decision, tenantID, userRef, appointmentID string) error
	ReleaseUsage(ctx context.Context, decision coupons.Decision, appointmentID string) error
}

type notifier interface {
	Notify(ctx context.Context, evt events.CanonicalEvent)
}

// Deps are the collaborators every workflow needs. Coupons may be nil when
// the deployment has no coupons.
type Deps struct {
	Store     appointments.Store
	Directory professionals.Directory
	Gateway   payments.Gateway
	Coupons   couponChecker
	Outbox    events.Publisher
	Locations *tenancy.Locations
}

// Service implements the booking workflows.
type Service struct {
	store     appointments.Store
	directory professionals.Directory
	gateway   payments.Gateway
	coupons   couponChecker
	outbox    events.Publisher
	locations *tenancy.Locations

	audit    audit.Recorder
	notifier notifier
	metrics  *metrics.BookingMetrics
	logger   *logging.Logger

	now     func() time.Time
	cutoff  time.Duration
	holdTTL time.Duration
	retries int
}

// NewService wires the workflows. Store, Directory, Gateway and Outbox are
// required.
func NewService(deps Deps, logger *logging.Logger) *Service {
	if deps.Store == nil || deps.Directory == nil || deps.Gateway == nil || deps.Outbox == nil {
		panic("booking: store, directory, gateway and outbox are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:     deps.Store,
		directory: deps.Directory,
		gateway:   deps.Gateway,
		coupons:   deps.Coupons,
		outbox:    deps.Outbox,
		locations: deps.Locations,
		logger:    logger,
		now:       time.Now,
		cutoff:    DefaultCutoff,
		holdTTL:   DefaultHoldTTL,
		retries:   DefaultConflictRetries,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Service) WithMetrics(m *metrics.BookingMetrics) *Service {
	s.metrics = m
	return s
}

func (s *Service) WithAudit(r audit.Recorder) *Service {
	s.audit = r
	return s
}

func (s *Service) WithNotifier(n notifier) *Service {
	s.notifier = n
	return s
}

func (s *Service) WithHoldTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.holdTTL = ttl
	}
	return s
}

func (s *Service) WithConflictRetries(n int) *Service {
	if n > 0 {
		s.retries = n
	}
	return s
}

// Get returns a fresh read of an appointment.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*appointments.Appointment, error) {
	a, err := s.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, storeError(err)
	}
	return a, nil
}

// withConflictRetry re-runs fn while it loses version races.
func (s *Service) withConflictRetry(ctx context.Context, workflow string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.retries; attempt++ {
		if err = fn(); !errors.Is(err, appointments.ErrVersionConflict) {
			return err
		}
		s.metrics.ObserveConflictRetry(workflow)
		s.logger.Debug("version conflict, retrying", "workflow", workflow, "attempt", attempt)
		if ctx.Err() != nil {
			break
		}
	}
	return newError(KindConcurrencyConflict, "the appointment was changed by another request, please retry", err)
}

// checkCutoff rejects changes to appointments starting within the cutoff.
// A held appointment is judged by the earlier of its two slots.
func (s *Service) checkCutoff(a *appointments.Appointment) error {
	loc := s.locations.For(a.TenantID)
	starts, err := a.ScheduledAt(loc)
	if err != nil {
		return persistenceError(err)
	}
	if h := a.Hold; h != nil && a.Status == appointments.StatusPendingReschedulePayment {
		if prev, err := appointments.ParseSlot(h.Date, h.Time, loc); err == nil && prev.Before(starts) {
			starts = prev
		}
	}
	if starts.Sub(s.now()) < s.cutoff {
		return newError(KindCutoffViolation,
			fmt.Sprintf("appointments can only be changed more than %d hours in advance", int(s.cutoff.Hours())), nil)
	}
	return nil
}

// storeError translates store sentinels. Version conflicts pass through
// untouched so withConflictRetry can see them.
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, appointments.ErrVersionConflict):
		return err
	case errors.Is(err, appointments.ErrNotFound):
		return notFoundError(err)
	case errors.Is(err, appointments.ErrInvalidTransition):
		return newError(KindInvalidTransition, "the appointment cannot be changed in its current status", err)
	case errors.Is(err, appointments.ErrSlotUnavailable):
		return newError(KindSlotUnavailable, "the selected time is no longer available", err)
	default:
		return persistenceError(err)
	}
}

func (s *Service) resolveProfessional(ctx context.Context, tenantID, id string) (*professionals.Professional, error) {
	pro, err := s.directory.Get(ctx, tenantID, id)
	if errors.Is(err, professionals.ErrNotFound) || (err == nil && !pro.Active) {
		return nil, newError(KindProfessionalNotFound, "professional not found", err)
	}
	if err != nil {
		return nil, persistenceError(err)
	}
	return pro, nil
}

// publish appends a lifecycle event and hands it to the notifier. Failures
// are logged; the state change already happened.
// publish appends evt to the outbox, tagged with the request id when the
// workflow runs inside an HTTP request.
func (s *Service) publish(ctx context.Context, a *appointments.Appointment, evt events.CanonicalEvent) {
	var opts []events.EnvelopeOption
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		opts = append(opts, events.WithCorrelationID(reqID))
	}
	if _, err := s.outbox.Publish(ctx, a.TenantID, "appointment:"+a.ID, evt, opts...); err != nil {
		s.logger.Error("failed to publish appointment event", "error", err, "event_type", evt.EventType(), "appointment_id", a.ID)
	}
	if s.notifier != nil {
		s.notifier.Notify(ctx, evt)
	}
}

func (s *Service) record(ctx context.Context, entry audit.Entry, details any) {
	if s.audit == nil {
		return
	}
	if details != nil {
		if data, err := json.Marshal(details); err == nil {
			entry.Details = data
		}
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit entry", "error", err, "action", entry.Action, "appointment_id", entry.AppointmentID)
	}
}

func (s *Service) finish(span trace.Span, workflow string, err error) {
	outcome := "success"
	if err != nil {
		outcome = string(KindOf(err))
		span.RecordError(err)
	}
	span.SetAttributes(attribute.String("booking.outcome", outcome))
	s.metrics.ObserveWorkflow(workflow, outcome)
}

func startSpan(ctx context.Context, name, tenantID, appointmentID string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name)
	span.SetAttributes(
		attribute.String("practice.tenant_id", tenantID),
		attribute.String("practice.appointment_id", appointmentID),
	)
	return ctx, span
}

func parseFutureSlot(date, clock string, loc *time.Location, now time.Time) (time.Time, error) {
	starts, err := appointments.ParseSlot(date, clock, loc)
	if err != nil {
		return time.Time{}, validationError("date must be YYYY-MM-DD and time HH:MM")
	}
	if !starts.After(now) {
		return time.Time{}, validationError("the selected time is in the past")
	}
	return starts, nil
}
