package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/practice-booking/internal/events"
	"github.com/wolfman30/practice-booking/internal/professionals"
	"github.com/wolfman30/practice-booking/pkg/logging"
)

// sendTimeout bounds a single background delivery.
const sendTimeout = 15 * time.Second

// Service tells professionals about changes to their agenda. Delivery runs in
// the background and never affects the appointment that triggered it.
type Service struct {
	email       EmailSender
	directory   professionals.Directory
	currency    string
	senderNames map[string]string
	logger      *logging.Logger
	wg          sync.WaitGroup
}

// NewService creates a notification service.
func NewService(email EmailSender, directory professionals.Directory, currency string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:     email,
		directory: directory,
		currency:  strings.ToUpper(strings.TrimSpace(currency)),
		logger:    logger,
	}
}

// WithSenderNames sets the display name used on email for each tenant.
// Tenants without an entry keep the sender's configured name.
func (s *Service) WithSenderNames(names map[string]string) *Service {
	s.senderNames = make(map[string]string, len(names))
	for tenant, name := range names {
		s.senderNames[strings.TrimSpace(tenant)] = strings.TrimSpace(name)
	}
	return s
}

// Notify schedules delivery for a lifecycle event and returns immediately.
// Events without a template are ignored.
func (s *Service) Notify(ctx context.Context, evt events.CanonicalEvent) {
	if s == nil || s.email == nil || evt == nil {
		return
	}
	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sendCtx, cancel := context.WithTimeout(bg, sendTimeout)
		defer cancel()
		if err := s.deliver(sendCtx, evt); err != nil {
			s.logger.Warn("notify: delivery failed", "error", err, "event_type", evt.EventType())
		}
	}()
}

// Wait blocks until scheduled deliveries finish.
func (s *Service) Wait() {
	if s == nil {
		return
	}
	s.wg.Wait()
}

func (s *Service) deliver(ctx context.Context, evt events.CanonicalEvent) error {
	var (
		tenantID, professionalID string
		subject, body            string
	)
	switch e := evt.(type) {
	case events.AppointmentBookedV1:
		tenantID, professionalID = e.TenantID, e.ProfessionalID
		subject = fmt.Sprintf("New booking on %s at %s", e.ScheduledDate, e.ScheduledTime)
		body = fmt.Sprintf("A patient booked %s at %s.\nAmount: %s\nStatus: %s\nAppointment: %s",
			e.ScheduledDate, e.ScheduledTime, s.formatAmount(e.AmountMinor), e.Status, e.AppointmentID)
	case events.AppointmentCancelledV1:
		tenantID, professionalID = e.TenantID, e.ProfessionalID
		subject = fmt.Sprintf("Booking cancelled for %s at %s", e.ScheduledDate, e.ScheduledTime)
		body = fmt.Sprintf("The appointment on %s at %s was cancelled.\nAppointment: %s",
			e.ScheduledDate, e.ScheduledTime, e.AppointmentID)
	case events.AppointmentRescheduledV1:
		tenantID, professionalID = e.TenantID, e.ToProfessionalID
		subject = fmt.Sprintf("Booking moved to %s at %s", e.ToDate, e.ToTime)
		body = fmt.Sprintf("An appointment was moved from %s %s to %s %s.\nStatus: %s\nAppointment: %s",
			e.FromDate, e.FromTime, e.ToDate, e.ToTime, e.Status, e.AppointmentID)
	default:
		return nil
	}

	pro, err := s.directory.Get(ctx, tenantID, professionalID)
	if err != nil {
		return fmt.Errorf("notify: resolve professional %s: %w", professionalID, err)
	}
	if strings.TrimSpace(pro.Email) == "" {
		s.logger.Debug("notify: professional has no email", "professional_id", professionalID, "tenant_id", tenantID)
		return nil
	}
	return s.email.Send(ctx, EmailMessage{
		To:       pro.Email,
		ToName:   pro.Name,
		Subject:  subject,
		Body:     body,
		FromName: s.senderNames[tenantID],
		Tags: map[string]string{
			"tenant_id":  tenantID,
			"event_type": evt.EventType(),
		},
	})
}

func (s *Service) formatAmount(minor int64) string {
	amount := fmt.Sprintf("%d.%02d", minor/100, minor%100)
	if s.currency == "" {
		return amount
	}
	return amount + " " + s.currency
}
