package booking

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/wolfman30/practice-booking/internal/coupons"
)

// Kind classifies workflow failures. It is the error code returned to API
// clients.
type Kind string

const (
	KindValidation           Kind = "validation_error"
	KindNotFound             Kind = "not_found"
	KindCutoffViolation      Kind = "cutoff_violation"
	KindProfessionalNotFound Kind = "professional_not_found"
	KindInvalidCoupon        Kind = "invalid_coupon"
	KindSlotUnavailable      Kind = "slot_unavailable"
	KindInvalidTransition    Kind = "invalid_transition"
	KindGateway              Kind = "gateway_error"
	KindConcurrencyConflict  Kind = "concurrency_conflict"
	KindPersistence          Kind = "persistence_error"
)

// Error is returned by every workflow. Message is safe to show to end users.
type Error struct {
	Kind    Kind
	Message string
	// Reason is set for KindInvalidCoupon.
	Reason coupons.Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("booking: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("booking: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind, so errors.Is(err, ErrCutoffViolation) works
// regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrValidation           = &Error{Kind: KindValidation}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrCutoffViolation      = &Error{Kind: KindCutoffViolation}
	ErrProfessionalNotFound = &Error{Kind: KindProfessionalNotFound}
	ErrInvalidCoupon        = &Error{Kind: KindInvalidCoupon}
	ErrSlotUnavailable      = &Error{Kind: KindSlotUnavailable}
	ErrInvalidTransition    = &Error{Kind: KindInvalidTransition}
	ErrGateway              = &Error{Kind: KindGateway}
	ErrConcurrencyConflict  = &Error{Kind: KindConcurrencyConflict}
	ErrPersistence          = &Error{Kind: KindPersistence}
)

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func validationError(message string) *Error {
	return newError(KindValidation, message, nil)
}

func couponError(reason coupons.Reason) *Error {
	return &Error{Kind: KindInvalidCoupon, Message: reason.Message(), Reason: reason}
}

// gatewayError hides provider details from the message.
func gatewayError(err error) *Error {
	return newError(KindGateway, "payment provider error", err)
}

func persistenceError(err error) *Error {
	return newError(KindPersistence, "could not save the appointment", err)
}

func notFoundError(err error) *Error {
	return newError(KindNotFound, "appointment not found", err)
}

// KindOf returns the kind of err, or KindPersistence for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistence
}

// HTTPStatus maps a kind to its response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindCutoffViolation, KindInvalidCoupon, KindSlotUnavailable, KindInvalidTransition:
		return http.StatusBadRequest
	case KindNotFound, KindProfessionalNotFound:
		return http.StatusNotFound
	case KindGateway:
		return http.StatusBadGateway
	case KindConcurrencyConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
