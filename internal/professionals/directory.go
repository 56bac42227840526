package professionals

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/wolfman30/practice-booking/internal/pricing"
)

// ErrNotFound is returned when a professional does not exist for the tenant.
var ErrNotFound = errors.New("professional not found")

// Professional is the bookable party of an appointment.
type Professional struct {
	ID            string        `json:"id"`
	TenantID      string        `json:"tenant_id"`
	Name          string        `json:"name"`
	Email         string        `json:"email,omitempty"`
	InstitutionID string        `json:"institution_id,omitempty"`
	Price         pricing.Money `json:"price"`
	Active        bool          `json:"active"`
}

// Directory resolves professionals and their current session price.
type Directory interface {
	Get(ctx context.Context, tenantID, id string) (*Professional, error)
}

// InMemoryDirectory is a Directory for development and tests.
type InMemoryDirectory struct {
	mu   sync.RWMutex
	pros map[string]Professional
}

// NewInMemoryDirectory creates a directory seeded with the given professionals.
func NewInMemoryDirectory(seed ...Professional) *InMemoryDirectory {
	d := &InMemoryDirectory{pros: make(map[string]Professional)}
	for _, p := range seed {
		d.Put(p)
	}
	return d
}

// Put inserts or replaces a professional.
func (d *InMemoryDirectory) Put(p Professional) {
	d.mu.Lock()
	d.pros[key(p.TenantID, p.ID)] = p
	d.mu.Unlock()
}

// Get returns a copy of the professional. Inactive professionals are not bookable
// and resolve as not found.
func (d *InMemoryDirectory) Get(ctx context.Context, tenantID, id string) (*Professional, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.pros[key(tenantID, id)]
	if !ok || !p.Active {
		return nil, ErrNotFound
	}
	return &p, nil
}

func key(tenantID, id string) string {
	return tenantID + "/" + strings.TrimSpace(id)
}
