package booking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wolfman30/practice-booking/internal/appointments"
	"github.com/wolfman30/practice-booking/internal/audit"
	"github.com/wolfman30/practice-booking/internal/coupons"
	"github.com/wolfman30/practice-booking/internal/events"
	"github.com/wolfman30/practice-booking/internal/payments"
	"github.com/wolfman30/practice-booking/internal/pricing"
	"github.com/wolfman30/practice-booking/internal/professionals"
	"github.com/wolfman30/practice-booking/internal/tenancy"
)

// 2026-03-10 12:00 UTC; slots on 2026-03-12 are well past the cutoff.
var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type memoryAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memoryAudit) Record(ctx context.Context, e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memoryAudit) actions(appointmentID string) []audit.Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []audit.Action
	for _, e := range m.entries {
		if e.AppointmentID == appointmentID {
			out = append(out, e.Action)
		}
	}
	return out
}

type harness struct {
	svc     *Service
	store   *appointments.InMemoryStore
	gateway *payments.FakeGateway
	outbox  *events.MemoryOutbox
	coupons *coupons.InMemoryRepository
	audit   *memoryAudit
	clock   *testClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &testClock{t: fixedNow}
	dir := professionals.NewInMemoryDirectory(
		professionals.Professional{ID: "pro-1", TenantID: "clinic-a", Name: "Dr. Lima", InstitutionID: "inst-1", Price: 15000, Active: true},
		professionals.Professional{ID: "pro-2", TenantID: "clinic-a", Name: "Dr. Souza", Price: 20000, Active: true},
		professionals.Professional{ID: "pro-3", TenantID: "clinic-a", Name: "Dr. Reis", Price: 10000, Active: true},
		professionals.Professional{ID: "pro-4", TenantID: "clinic-a", Name: "Dr. Alves", Price: 15000, Active: true},
		professionals.Professional{ID: "pro-off", TenantID: "clinic-a", Name: "Dr. Gone", Price: 15000, Active: false},
		professionals.Professional{ID: "pro-br", TenantID: "clinic-br", Name: "Dra. Costa", Price: 15000, Active: true},
	)
	repo := coupons.NewInMemoryRepository(
		coupons.Coupon{ID: "c-10", TenantID: "clinic-a", Code: "SAVE10", Scope: coupons.ScopeProfessionals,
			ProfessionalIDs: []string{"pro-1"}, Discount: pricing.Percent(10), UsageCap: 1, Active: true},
		coupons.Coupon{ID: "c-free", TenantID: "clinic-a", Code: "FREE", Scope: coupons.ScopeInstitution,
			InstitutionID: "inst-1", Discount: pricing.Percent(100), Active: true},
		coupons.Coupon{ID: "c-old", TenantID: "clinic-a", Code: "OLD", Scope: coupons.ScopeProfessionals,
			ProfessionalIDs: []string{"pro-1"}, Discount: pricing.Fixed(500), Active: true,
			ValidUntil: func() *time.Time { t := fixedNow.Add(-time.Hour); return &t }()},
	)
	locs, err := tenancy.NewLocations("UTC", map[string]string{"clinic-br": "America/Sao_Paulo"})
	require.NoError(t, err)

	h := &harness{
		store:   appointments.NewInMemoryStore().WithClock(clock.Now),
		gateway: payments.NewFakeGateway("http://localhost:8080", nil).WithClock(clock.Now),
		outbox:  events.NewMemoryOutbox(),
		coupons: repo,
		audit:   &memoryAudit{},
		clock:   clock,
	}
	h.svc = NewService(Deps{
		Store:     h.store,
		Directory: dir,
		Gateway:   h.gateway,
		Coupons:   coupons.NewValidator(repo, dir, nil).WithClock(clock.Now),
		Outbox:    h.outbox,
		Locations: locs,
	}, nil).WithClock(clock.Now).WithAudit(h.audit)
	return h
}

// book creates a pending appointment for pro-1 on 2026-03-12.
func (h *harness) book(t *testing.T, clock string) BookResult {
	t.Helper()
	res, err := h.svc.Book(context.Background(), BookRequest{
		TenantID: "clinic-a", PatientRef: "patient-1", ProfessionalID: "pro-1", Date: "2026-03-12", Time: clock,
	})
	require.NoError(t, err)
	return res
}

// pay completes the intent behind ref and delivers the confirmation.
func (h *harness) pay(t *testing.T, ref string) payments.Confirmation {
	t.Helper()
	c, err := h.gateway.Complete(context.Background(), ref)
	require.NoError(t, err)
	require.NoError(t, h.svc.ConfirmPayment(context.Background(), c))
	return c
}

// bookPaid returns a confirmed, paid appointment for pro-1.
func (h *harness) bookPaid(t *testing.T, clock string) *appointments.Appointment {
	t.Helper()
	res := h.book(t, clock)
	h.pay(t, res.Appointment.GatewayReference)
	a, err := h.svc.Get(context.Background(), "clinic-a", res.Appointment.ID)
	require.NoError(t, err)
	require.Equal(t, appointments.StatusConfirmed, a.Status)
	return a
}

// drainRefunds delivers queued refund retries through the outbox router.
func (h *harness) drainRefunds(t *testing.T) int {
	t.Helper()
	router := events.NewRouter(nil).
		Route(events.TypeRefundRetry, h.svc.RefundRetrier()).
		Fallback(events.DeliveryHandlerFunc(func(ctx context.Context, entry events.OutboxEntry) error { return nil }))
	return events.NewDeliverer(h.outbox, router, nil).Drain(context.Background())
}

func (h *harness) refundPlans(t *testing.T) []events.RefundRetryV1 {
	t.Helper()
	var plans []events.RefundRetryV1
	for _, entry := range h.outbox.Entries(events.TypeRefundRetry) {
		var plan events.RefundRetryV1
		require.NoError(t, events.DecodePayload(entry, &plan))
		plans = append(plans, plan)
	}
	return plans
}
