package appointments

import (
	"context"
	"time"

	"github.com/wolfman30/practice-booking/internal/observability/metrics"
	"github.com/wolfman30/practice-booking/pkg/logging"
)

// HoldReaper periodically reverts unpaid reschedule holds whose payment
// window has passed. It never talks to the payment gateway.
type HoldReaper struct {
	store     Store
	logger    *logging.Logger
	metrics   *metrics.BookingMetrics
	interval  time.Duration
	now       func() time.Time
	onRelease func(ctx context.Context, a Appointment)
}

func NewHoldReaper(store Store, logger *logging.Logger) *HoldReaper {
	if logger == nil {
		logger = logging.Default()
	}
	return &HoldReaper{
		store:    store,
		logger:   logger,
		interval: time.Minute,
		now:      time.Now,
	}
}

func (r *HoldReaper) WithInterval(interval time.Duration) *HoldReaper {
	if interval > 0 {
		r.interval = interval
	}
	return r
}

func (r *HoldReaper) WithMetrics(m *metrics.BookingMetrics) *HoldReaper {
	r.metrics = m
	return r
}

func (r *HoldReaper) WithClock(now func() time.Time) *HoldReaper {
	if now != nil {
		r.now = now
	}
	return r
}

// OnRelease registers a callback invoked for each reverted appointment.
func (r *HoldReaper) OnRelease(fn func(ctx context.Context, a Appointment)) *HoldReaper {
	r.onRelease = fn
	return r
}

func (r *HoldReaper) Start(ctx context.Context) {
	if r.store == nil {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one release pass and reports how many holds were reverted.
func (r *HoldReaper) Sweep(ctx context.Context) int {
	released, err := r.store.ReleaseExpiredHolds(ctx, r.now().UTC())
	if err != nil {
		r.logger.Error("hold release failed", "error", err, "released", len(released))
	}
	for _, a := range released {
		r.logger.Info("reschedule hold expired, reverted to previous slot",
			"appointment_id", a.ID,
			"tenant_id", a.TenantID,
			"professional_id", a.ProfessionalID,
			"scheduled_date", a.ScheduledDate,
			"scheduled_time", a.ScheduledTime,
		)
		if r.onRelease != nil {
			r.onRelease(ctx, a)
		}
	}
	r.metrics.ObserveHoldsReleased(len(released))
	return len(released)
}
