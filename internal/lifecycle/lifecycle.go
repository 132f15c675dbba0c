// Package lifecycle owns the booking status state machine. It is the only
// code that assigns Booking.Status.
//
//	(create self-drive) → PENDING ──confirm──▶ CONFIRMED ──pickup──▶ ACTIVE ──drop──▶ COMPLETED
//	(create intercity)  ───────────────────────▲
//	PENDING / CONFIRMED ──cancel──▶ CANCELLED
//
// COMPLETED and CANCELLED are terminal.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/shiva/rentwheels/internal/model"
	"github.com/shiva/rentwheels/pkg/fare"
)

// Event is a lifecycle trigger.
type Event string

const (
	EventConfirm        Event = "confirm"
	EventPickupVerified Event = "pickup_verified"
	EventDropVerified   Event = "drop_verified"
	EventCancel         Event = "cancel"
)

// ErrTransitionRejected is matched by every RejectedError.
var ErrTransitionRejected = errors.New("transition rejected")

// RejectedError reports an event that the current status does not allow.
type RejectedError struct {
	BookingID int64
	From      model.BookingStatus
	Event     Event
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("booking %d: %s not allowed from %s", e.BookingID, e.Event, e.From)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrTransitionRejected
}

type transition struct {
	from []model.BookingStatus
	to   model.BookingStatus
}

var transitions = map[Event]transition{
	EventConfirm:        {from: []model.BookingStatus{model.StatusPending}, to: model.StatusConfirmed},
	EventPickupVerified: {from: []model.BookingStatus{model.StatusConfirmed}, to: model.StatusActive},
	EventDropVerified:   {from: []model.BookingStatus{model.StatusActive}, to: model.StatusCompleted},
	EventCancel:         {from: []model.BookingStatus{model.StatusPending, model.StatusConfirmed}, to: model.StatusCancelled},
}

// Target returns the status an event leads to.
func Target(ev Event) (model.BookingStatus, bool) {
	t, ok := transitions[ev]
	return t.to, ok
}

// CanApply reports whether ev is allowed from status, without mutating
// anything. Re-applying the event that produced the current status counts
// as allowed.
func CanApply(status model.BookingStatus, ev Event) bool {
	t, ok := transitions[ev]
	if !ok {
		return false
	}
	if status == t.to {
		return true
	}
	for _, from := range t.from {
		if status == from {
			return true
		}
	}
	return false
}

// Apply moves b through ev. It returns changed=false without error when b
// already sits in the event's target status, so duplicate confirmations and
// cancellations have no effect. Verification timestamps are not touched here.
func Apply(b *model.Booking, ev Event, now time.Time) (changed bool, err error) {
	t, ok := transitions[ev]
	if !ok {
		return false, fmt.Errorf("lifecycle: unknown event %q", ev)
	}
	if b.Status == t.to {
		return false, nil
	}
	if !CanApply(b.Status, ev) {
		return false, &RejectedError{BookingID: b.ID, From: b.Status, Event: ev}
	}

	b.Status = t.to
	b.UpdatedAt = now
	if ev == EventCancel {
		b.CancelledAt = &now
	}
	return true, nil
}

// Initial returns the creation status for a service mode. Intercity bookings
// confirm immediately because payment is due at pickup.
func Initial(mode model.ServiceMode) (model.BookingStatus, error) {
	switch mode {
	case model.ModeSelfDrive:
		return model.StatusPending, nil
	case model.ModeIntercity:
		return model.StatusConfirmed, nil
	case model.ModeBoth:
		return "", &fare.InputError{Field: "service_mode", Msg: "must resolve to SELF_DRIVE or INTERCITY"}
	default:
		return "", &fare.InputError{Field: "service_mode", Msg: fmt.Sprintf("%q is not a known mode", mode)}
	}
}

// ValidateNew checks the creation guards: fare computed, dates present,
// locations set. On success b.Status is set to the mode's initial status.
func ValidateNew(b *model.Booking) error {
	status, err := Initial(b.ServiceMode)
	if err != nil {
		return err
	}
	if b.Fare.IsZero() || b.Fare.Total <= 0 {
		return &fare.InputError{Field: "fare_breakdown", Msg: "must be computed before booking"}
	}
	switch b.ServiceMode {
	case model.ModeSelfDrive:
		if b.PickupAt == nil || b.PickupAt.IsZero() {
			return &fare.InputError{Field: "pickup_at", Msg: "is required"}
		}
		if b.DropAt == nil || b.DropAt.IsZero() {
			return &fare.InputError{Field: "drop_at", Msg: "is required"}
		}
		if b.DropAt.Before(*b.PickupAt) {
			return &fare.InputError{Field: "drop_at", Msg: "is before pickup_at"}
		}
	case model.ModeIntercity:
		if b.TripWindow == nil || b.TripWindow.StartAt.IsZero() {
			return &fare.InputError{Field: "trip_window.start_at", Msg: "is required"}
		}
	}
	if b.PickupLocation.IsZero() {
		return &fare.InputError{Field: "pickup_location", Msg: "is required"}
	}
	if b.DropLocation.IsZero() {
		return &fare.InputError{Field: "drop_location", Msg: "is required"}
	}
	b.Status = status
	return nil
}
