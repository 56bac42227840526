// Package pricing computes payable amounts for bookings. Every call site
// (booking, coupon validation, reschedule) goes through ComputePrice so the
// rounding rule is identical everywhere.
package pricing

import (
	"errors"
	"fmt"
)

// Money is an amount in the gateway's minor currency unit (cents, centavos).
type Money int64

// DiscountKind selects how a discount value is interpreted.
type DiscountKind string

const (
	DiscountPercentage  DiscountKind = "percentage"
	DiscountFixedAmount DiscountKind = "fixed_amount"
)

// BasisPointsPerPercent converts whole percents to the stored unit.
const BasisPointsPerPercent = 100

const maxBasisPoints = 100 * BasisPointsPerPercent

var (
	ErrNegativeAmount  = errors.New("pricing: amount must not be negative")
	ErrInvalidDiscount = errors.New("pricing: invalid discount")
)

// Discount is the pricing-relevant part of an accepted coupon.
// Value is basis points for percentage discounts (1250 = 12.5%) and minor
// units for fixed discounts.
type Discount struct {
	Kind  DiscountKind
	Value int64
}

// Priced is the immutable result of a price computation.
type Priced struct {
	Original Money `json:"original_amount"`
	Discount Money `json:"discount_amount"`
	Final    Money `json:"final_amount"`
}

// Validate checks the discount definition itself, independent of any amount.
func (d Discount) Validate() error {
	switch d.Kind {
	case DiscountPercentage:
		if d.Value <= 0 || d.Value > maxBasisPoints {
			return fmt.Errorf("%w: percentage must be in (0,100], got %d bps", ErrInvalidDiscount, d.Value)
		}
	case DiscountFixedAmount:
		if d.Value <= 0 {
			return fmt.Errorf("%w: fixed amount must be positive, got %d", ErrInvalidDiscount, d.Value)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidDiscount, d.Kind)
	}
	return nil
}

// ComputePrice applies an optional discount to a base amount.
// The final amount is never negative: fixed discounts clamp to the base.
func ComputePrice(base Money, discount *Discount) (Priced, error) {
	if base < 0 {
		return Priced{}, ErrNegativeAmount
	}
	if discount == nil {
		return Priced{Original: base, Final: base}, nil
	}
	if err := discount.Validate(); err != nil {
		return Priced{}, err
	}

	var off Money
	switch discount.Kind {
	case DiscountPercentage:
		off = percentOf(base, discount.Value)
	case DiscountFixedAmount:
		off = Money(discount.Value)
	}
	if off > base {
		off = base
	}
	return Priced{Original: base, Discount: off, Final: base - off}, nil
}

// percentOf rounds half-up in integer arithmetic; base is non-negative here.
func percentOf(base Money, bps int64) Money {
	return Money((int64(base)*bps + maxBasisPoints/2) / maxBasisPoints)
}

// Percent builds a percentage discount from whole percents.
func Percent(p int64) Discount {
	return Discount{Kind: DiscountPercentage, Value: p * BasisPointsPerPercent}
}

// Fixed builds a fixed-amount discount.
func Fixed(amount Money) Discount {
	return Discount{Kind: DiscountFixedAmount, Value: int64(amount)}
}
