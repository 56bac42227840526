package coupons

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/practice-booking/internal/pricing"
)

// Scope controls which professionals a coupon discounts.
type Scope string

const (
	// ScopeProfessionals limits the coupon to an explicit professional list.
	ScopeProfessionals Scope = "professionals"
	// ScopeInstitution applies to every professional of one institution.
	ScopeInstitution Scope = "institution"
)

// Coupon is a tenant-scoped discount definition. Codes are unique per tenant
// and matched case-insensitively.
type Coupon struct {
	ID              string           `json:"id"`
	TenantID        string           `json:"tenant_id"`
	Code            string           `json:"code"`
	Scope           Scope            `json:"scope"`
	ProfessionalIDs []string         `json:"professional_ids,omitempty"`
	InstitutionID   string           `json:"institution_id,omitempty"`
	Discount        pricing.Discount `json:"discount"`
	MinPurchase     pricing.Money    `json:"min_purchase"`
	UsageCap        int              `json:"usage_cap"` // per user; 0 means unlimited
	ValidFrom       *time.Time       `json:"valid_from,omitempty"`
	ValidUntil      *time.Time       `json:"valid_until,omitempty"`
	Active          bool             `json:"active"`
}

// activeAt reports whether t falls inside the validity window.
func (c *Coupon) activeAt(t time.Time) bool {
	if c.ValidFrom != nil && t.Before(*c.ValidFrom) {
		return false
	}
	if c.ValidUntil != nil && t.After(*c.ValidUntil) {
		return false
	}
	return true
}

func (c *Coupon) coversProfessional(professionalID, institutionID string) bool {
	switch c.Scope {
	case ScopeProfessionals:
		for _, id := range c.ProfessionalIDs {
			if id == professionalID {
				return true
			}
		}
		return false
	case ScopeInstitution:
		return c.InstitutionID != "" && c.InstitutionID == institutionID
	default:
		return false
	}
}

// Usage is one row of the append-only redemption ledger.
type Usage struct {
	ID             uuid.UUID     `json:"id"`
	CouponID       string        `json:"coupon_id"`
	TenantID       string        `json:"tenant_id"`
	UserRef        string        `json:"user_ref"`
	AppointmentID  string        `json:"appointment_id,omitempty"`
	OriginalAmount pricing.Money `json:"original_amount"`
	DiscountAmount pricing.Money `json:"discount_amount"`
	FinalAmount    pricing.Money `json:"final_amount"`
	UsedAt         time.Time     `json:"used_at"`
}

// NormalizeCode folds a user-typed code to its lookup form.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
