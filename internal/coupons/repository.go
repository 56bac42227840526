package coupons

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository reads coupon definitions and owns the usage ledger.
type Repository interface {
	FindByCode(ctx context.Context, tenantID, code string) (*Coupon, error)
	CountUsage(ctx context.Context, couponID, userRef string) (int, error)
	// RecordUsage appends a ledger row unless the user already holds usageCap
	// rows for the coupon. The count and the insert are atomic.
	RecordUsage(ctx context.Context, usage Usage, usageCap int) error
	// ReleaseUsage drops the ledger rows written for an appointment that was
	// never booked.
	ReleaseUsage(ctx context.Context, couponID, appointmentID string) error
}

// InMemoryRepository is a Repository for development and tests.
type InMemoryRepository struct {
	mu      sync.Mutex
	coupons map[string]Coupon
	usages  []Usage
}

// NewInMemoryRepository creates a repository seeded with coupons.
func NewInMemoryRepository(seed ...Coupon) *InMemoryRepository {
	r := &InMemoryRepository{coupons: make(map[string]Coupon)}
	for _, c := range seed {
		r.Put(c)
	}
	return r
}

// Put inserts or replaces a coupon definition.
func (r *InMemoryRepository) Put(c Coupon) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	r.mu.Lock()
	r.coupons[c.TenantID+"/"+NormalizeCode(c.Code)] = c
	r.mu.Unlock()
}

func (r *InMemoryRepository) FindByCode(ctx context.Context, tenantID, code string) (*Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coupons[tenantID+"/"+NormalizeCode(code)]
	if !ok {
		return nil, ErrCouponNotFound
	}
	return &c, nil
}

func (r *InMemoryRepository) CountUsage(ctx context.Context, couponID, userRef string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countLocked(couponID, userRef), nil
}

func (r *InMemoryRepository) RecordUsage(ctx context.Context, usage Usage, usageCap int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if usageCap > 0 && r.countLocked(usage.CouponID, usage.UserRef) >= usageCap {
		return ErrUsageCapReached
	}
	if usage.ID == uuid.Nil {
		usage.ID = uuid.New()
	}
	if usage.UsedAt.IsZero() {
		usage.UsedAt = time.Now().UTC()
	}
	r.usages = append(r.usages, usage)
	return nil
}

func (r *InMemoryRepository) ReleaseUsage(ctx context.Context, couponID, appointmentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.usages[:0]
	for _, u := range r.usages {
		if u.CouponID == couponID && u.AppointmentID == appointmentID {
			continue
		}
		kept = append(kept, u)
	}
	r.usages = kept
	return nil
}

// Usages returns a snapshot of the ledger.
func (r *InMemoryRepository) Usages() []Usage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Usage(nil), r.usages...)
}

func (r *InMemoryRepository) countLocked(couponID, userRef string) int {
	n := 0
	for _, u := range r.usages {
		if u.CouponID == couponID && u.UserRef == userRef {
			n++
		}
	}
	return n
}
