package fcm

import (
	"context"
	"errors"

	"firebase.google.com/go/v4/messaging"
	"github.com/farmacy-notify/internal/domain"
	"github.com/sony/gobreaker"
)

// providerKind recognises FCM error codes. Replaced in tests, since the SDK
// builds its typed errors in an internal package.
var providerKind = func(err error) (domain.DeliveryKind, bool) {
	switch {
	case messaging.IsUnregistered(err), messaging.IsSenderIDMismatch(err):
		return domain.DeliveryInvalidToken, true
	case messaging.IsInvalidArgument(err):
		return domain.DeliveryRejected, true
	case messaging.IsQuotaExceeded(err), messaging.IsUnavailable(err), messaging.IsInternal(err):
		return domain.DeliveryUnavailable, true
	}
	return domain.DeliveryOther, false
}

// kindOf maps a provider or transport error onto a delivery kind.
func kindOf(err error) domain.DeliveryKind {
	if err == nil {
		return domain.DeliveryOther
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) ||
		errors.Is(err, context.DeadlineExceeded) {
		return domain.DeliveryUnavailable
	}
	if k, ok := providerKind(err); ok {
		return k
	}
	return domain.DeliveryOther
}

// classify wraps err in a DeliveryError; nil stays nil.
func classify(token string, err error) error {
	if err == nil {
		return nil
	}
	return domain.NewDeliveryError(kindOf(err), token, err)
}

// providerHealthy tells the breaker which failures still prove FCM answered.
func providerHealthy(err error) bool {
	if err == nil {
		return true
	}
	switch kindOf(err) {
	case domain.DeliveryInvalidToken, domain.DeliveryRejected:
		return true
	default:
		return false
	}
}
