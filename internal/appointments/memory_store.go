package appointments

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/practice-booking/internal/pricing"
)

// InMemoryStore keeps appointments in process memory for development and
// tests. All reads return copies.
type InMemoryStore struct {
	mu   sync.Mutex
	rows map[string]*Appointment
	now  func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{rows: make(map[string]*Appointment), now: time.Now}
}

// WithClock overrides the time source used for timestamps.
func (s *InMemoryStore) WithClock(now func() time.Time) *InMemoryStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *InMemoryStore) Create(ctx context.Context, a Appointment) (*Appointment, error) {
	if a.Amount < 0 {
		return nil, pricing.ErrNegativeAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if s.slotTakenLocked(a.Slot(), "") {
		return nil, ErrSlotUnavailable
	}
	now := s.now().UTC()
	a.Status = StatusPending
	if a.PaymentStatus == "" {
		a.PaymentStatus = PaymentUnpaid
	}
	a.Hold = nil
	a.Version = 1
	a.CreatedAt = now
	a.UpdatedAt = now
	s.rows[a.ID] = a.clone()
	return a.clone(), nil
}

func (s *InMemoryStore) Get(ctx context.Context, tenantID, id string) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[id]
	if !ok || a.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return a.clone(), nil
}

func (s *InMemoryStore) MarkConfirmed(ctx context.Context, tenantID, id string, version int64, ps PaymentStatus) (*Appointment, error) {
	return s.mutate(tenantID, id, nil, func(a *Appointment, now time.Time) error {
		return applyConfirm(a, version, ps, now)
	})
}

func (s *InMemoryStore) MarkCancelled(ctx context.Context, tenantID, id string, version int64) (*Appointment, error) {
	return s.mutate(tenantID, id, nil, func(a *Appointment, now time.Time) error {
		return applyCancel(a, version, now)
	})
}

func (s *InMemoryStore) UpdateForReschedule(ctx context.Context, u RescheduleUpdate) (*Appointment, error) {
	slot := u.slot()
	return s.mutate(u.TenantID, u.ID, &slot, func(a *Appointment, now time.Time) error {
		return applyReschedule(a, u, now)
	})
}

func (s *InMemoryStore) SetPaymentStatus(ctx context.Context, tenantID, id string, version int64, ps PaymentStatus) (*Appointment, error) {
	return s.mutate(tenantID, id, nil, func(a *Appointment, now time.Time) error {
		return applyPaymentStatus(a, version, ps, now)
	})
}

func (s *InMemoryStore) AttachGatewayReference(ctx context.Context, tenantID, id string, version int64, ref string) (*Appointment, error) {
	return s.mutate(tenantID, id, nil, func(a *Appointment, now time.Time) error {
		return applyGatewayReference(a, version, ref, now)
	})
}

func (s *InMemoryStore) ReleaseExpiredHolds(ctx context.Context, now time.Time) ([]Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var released []Appointment
	for id, row := range s.rows {
		a := row.clone()
		if applyRelease(a, now) {
			s.rows[id] = a
			released = append(released, *a.clone())
		}
	}
	sort.Slice(released, func(i, j int) bool { return released[i].ID < released[j].ID })
	return released, nil
}

func (s *InMemoryStore) SlotTaken(ctx context.Context, slot Slot, excludeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slotTakenLocked(slot, excludeID), nil
}

func (s *InMemoryStore) slotTakenLocked(slot Slot, excludeID string) bool {
	for id, a := range s.rows {
		if id != excludeID && a.occupies(slot) {
			return true
		}
	}
	return false
}

// mutate applies fn to a copy of the row and stores it only on success, so a
// rejected mutation leaves the row untouched.
func (s *InMemoryStore) mutate(tenantID, id string, target *Slot, fn func(a *Appointment, now time.Time) error) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok || row.TenantID != tenantID {
		return nil, ErrNotFound
	}
	a := row.clone()
	if err := fn(a, s.now()); err != nil {
		return nil, err
	}
	if target != nil && s.slotTakenLocked(*target, id) {
		return nil, ErrSlotUnavailable
	}
	s.rows[id] = a
	return a.clone(), nil
}
