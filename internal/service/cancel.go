package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/shiva/rentwheels/internal/auth"
	"github.com/shiva/rentwheels/internal/lifecycle"
	"github.com/shiva/rentwheels/internal/model"
	"github.com/shiva/rentwheels/internal/repository"
	"github.com/shiva/rentwheels/pkg/fare"
)

// maxCancelReason caps the free-text reason stored with a cancellation.
const maxCancelReason = 500

// Cancel cancels a booking that has not started.
//
// State transitions:
//   - PENDING   → CANCELLED
//   - CONFIRMED → CANCELLED: the issued codes stay unconsumed and their gates
//     evaluate LOCKED from now on.
//   - CANCELLED → no-op, the first reason is kept.
//   - ACTIVE, COMPLETED → ErrTransitionRejected.
func (s *BookingService) Cancel(ctx context.Context, cred auth.Credential, id int64, reason string) (*model.Booking, error) {
	if cred.IsZero() {
		return nil, ErrUnauthorized
	}
	reason = strings.TrimSpace(reason)
	if len(reason) > maxCancelReason {
		return nil, &fare.InputError{Field: "reason", Msg: "is too long"}
	}

	now := s.now()
	b, err := s.store.Mutate(ctx, id, func(l *repository.LockedBooking) (bool, error) {
		if !canAccess(cred, l.Booking) {
			return false, ErrForbidden
		}
		changed, err := lifecycle.Apply(l.Booking, lifecycle.EventCancel, now)
		if err != nil || !changed {
			return false, err
		}
		l.Booking.CancelReason = reason
		return true, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	s.log.Info("booking cancelled",
		zap.Int64("booking_id", id),
		zap.Int64("by", cred.UserID),
		zap.String("reason", b.CancelReason),
	)
	return b, nil
}
