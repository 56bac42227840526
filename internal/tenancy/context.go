package tenancy

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type ctxKey string

const orgKey ctxKey = "practice.org_id"

// WithOrgID stores the tenant id in context.
func WithOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, orgKey, orgID)
}

// OrgIDFromContext extracts the tenant id if present.
func OrgIDFromContext(ctx context.Context) (string, bool) {
	val := ctx.Value(orgKey)
	if val == nil {
		return "", false
	}
	orgID, ok := val.(string)
	return orgID, ok && orgID != ""
}

// Locations resolves the wall-clock timezone of a tenant. Appointment dates
// and times are stored as local values, so every cutoff computation goes
// through here.
type Locations struct {
	fallback *time.Location
	byTenant map[string]*time.Location
}

// NewLocations builds a resolver from IANA zone names. Unknown zone names are
// reported as errors so a typo in config fails at startup.
func NewLocations(defaultZone string, tenantZones map[string]string) (*Locations, error) {
	fallback := time.UTC
	if zone := strings.TrimSpace(defaultZone); zone != "" {
		loc, err := time.LoadLocation(zone)
		if err != nil {
			return nil, fmt.Errorf("tenancy: default timezone %q: %w", zone, err)
		}
		fallback = loc
	}
	byTenant := make(map[string]*time.Location, len(tenantZones))
	for tenant, zone := range tenantZones {
		loc, err := time.LoadLocation(zone)
		if err != nil {
			return nil, fmt.Errorf("tenancy: timezone %q for tenant %s: %w", zone, tenant, err)
		}
		byTenant[tenant] = loc
	}
	return &Locations{fallback: fallback, byTenant: byTenant}, nil
}

// For returns the tenant's location, or the default when not configured.
func (l *Locations) For(tenantID string) *time.Location {
	if l == nil {
		return time.UTC
	}
	if loc, ok := l.byTenant[tenantID]; ok {
		return loc
	}
	return l.fallback
}
