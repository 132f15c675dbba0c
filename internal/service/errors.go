package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shiva/rentwheels/internal/auth"
	"github.com/shiva/rentwheels/internal/handover"
	"github.com/shiva/rentwheels/internal/lifecycle"
	"github.com/shiva/rentwheels/internal/repository"
	"github.com/shiva/rentwheels/pkg/fare"
)

// ─── Errors ─────────────────────────────────────────────────
//
// Errors from the pure layers are re-exported so handlers depend on this
// package alone.

var (
	ErrInvalidInput       = fare.ErrInvalidInput
	ErrInvalidFormat      = handover.ErrInvalidFormat
	ErrTransitionRejected = lifecycle.ErrTransitionRejected
	ErrUnauthorized       = auth.ErrUnauthorized

	// ErrNotFound is returned when the booking does not exist.
	ErrNotFound = errors.New("booking not found")

	// ErrQuoteNotFound is returned for an unknown or expired quote id.
	ErrQuoteNotFound = errors.New("quote not found or expired")

	// ErrForbidden is returned when the caller is not a party to the booking.
	ErrForbidden = errors.New("not permitted for this booking")

	// ErrVerificationFailed is returned when the entered code does not match.
	ErrVerificationFailed = errors.New("handover code does not match")

	// ErrAlreadyVerified is returned when the code was consumed earlier.
	ErrAlreadyVerified = errors.New("handover code already verified")

	// ErrGateLocked is returned when the code is entered outside its window.
	ErrGateLocked = errors.New("handover code is not available yet")

	// ErrTooManyAttempts is returned while the failed-entry lockout holds.
	ErrTooManyAttempts = errors.New("too many failed handover attempts")

	// ErrVerificationInFlight is returned when the same code is being
	// verified by a concurrent request.
	ErrVerificationInFlight = errors.New("handover verification already in progress")

	// ErrStoreUnavailable is returned when PostgreSQL or Redis cannot be
	// reached. Nothing is retried automatically.
	ErrStoreUnavailable = errors.New("booking store unavailable")
)

// domainErrors pass through classify unchanged.
var domainErrors = []error{
	ErrInvalidInput, ErrInvalidFormat, ErrTransitionRejected, ErrUnauthorized,
	ErrNotFound, ErrQuoteNotFound, ErrForbidden, ErrVerificationFailed,
	ErrAlreadyVerified, ErrGateLocked, ErrTooManyAttempts, ErrVerificationInFlight,
	ErrStoreUnavailable,
}

// classify maps storage errors onto the service's sentinels. Anything it
// does not recognise is treated as the store being unreachable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
