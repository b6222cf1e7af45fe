package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")
	ErrValidation   = errors.New("validation failed")
	ErrPersistence  = errors.New("persistence failure")
	ErrDelivery     = errors.New("delivery failure")
	ErrUnavailable  = errors.New("temporarily unavailable")
)

// DeliveryKind classifies a failed push attempt independently of the provider SDK.
type DeliveryKind int

const (
	DeliveryOther DeliveryKind = iota
	// DeliveryInvalidToken means the provider reported the token as permanently unusable.
	DeliveryInvalidToken
	// DeliveryNoToken means the user has no active token to deliver to.
	DeliveryNoToken
	// DeliveryUnavailable covers provider outages, quota and an open circuit breaker.
	DeliveryUnavailable
	// DeliveryRejected means the provider refused the message itself (bad payload, bad topic).
	DeliveryRejected
)

func (k DeliveryKind) String() string {
	switch k {
	case DeliveryInvalidToken:
		return "invalid_token"
	case DeliveryNoToken:
		return "no_token"
	case DeliveryUnavailable:
		return "unavailable"
	case DeliveryRejected:
		return "rejected"
	default:
		return "other"
	}
}

// DeliveryError is returned by the delivery client for every failed attempt.
type DeliveryError struct {
	Kind  DeliveryKind
	Token string
	Err   error
}

func (e *DeliveryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("delivery %s", e.Kind)
	}
	return fmt.Sprintf("delivery %s: %v", e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func (e *DeliveryError) Is(target error) bool { return target == ErrDelivery }

// NewDeliveryError builds a DeliveryError of the given kind.
func NewDeliveryError(kind DeliveryKind, token string, err error) *DeliveryError {
	return &DeliveryError{Kind: kind, Token: token, Err: err}
}

// DeliveryKindOf returns the kind carried by err, or DeliveryOther when err is not a DeliveryError.
func DeliveryKindOf(err error) DeliveryKind {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Kind
	}
	return DeliveryOther
}

// IsInvalidToken reports whether err says the target token is permanently invalid.
func IsInvalidToken(err error) bool {
	return DeliveryKindOf(err) == DeliveryInvalidToken
}
