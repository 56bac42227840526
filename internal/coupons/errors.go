package coupons

import (
	"errors"
	"fmt"
)

// Reason is the structured rejection code surfaced verbatim to callers.
type Reason string

const (
	ReasonNotFound      Reason = "not_found"
	ReasonExpired       Reason = "expired"
	ReasonOutOfScope    Reason = "out_of_scope"
	ReasonBelowMinimum  Reason = "below_minimum"
	ReasonUsageExceeded Reason = "usage_exceeded"
)

var (
	// ErrCouponNotFound is returned by repositories when no coupon matches.
	ErrCouponNotFound = errors.New("coupon not found")
	// ErrUsageCapReached is returned when a commit would exceed the per-user cap.
	ErrUsageCapReached = errors.New("coupon usage cap reached")
)

// Message returns display text for a rejection reason.
func (r Reason) Message() string {
	switch r {
	case ReasonNotFound:
		return "This coupon code is not valid."
	case ReasonExpired:
		return "This coupon has expired or is not active yet."
	case ReasonOutOfScope:
		return "This coupon cannot be used with the selected professional."
	case ReasonBelowMinimum:
		return "The booking amount is below the coupon minimum."
	case ReasonUsageExceeded:
		return "You have already used this coupon the maximum number of times."
	default:
		return "This coupon cannot be applied."
	}
}

// RejectionError carries a rejection reason through error returns.
type RejectionError struct {
	Reason Reason
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("coupons: rejected: %s", e.Reason)
}

// Reject wraps a reason as an error.
func Reject(reason Reason) error {
	return &RejectionError{Reason: reason}
}

// ReasonOf extracts the rejection reason from err, if any.
func ReasonOf(err error) (Reason, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}
