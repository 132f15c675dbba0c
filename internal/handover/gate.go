// Package handover decides when a pickup or drop code may be asked for and
// checks the shape of entered codes. Codes are issued and compared server-side
// only; this package never persists anything.
package handover

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/shiva/rentwheels/internal/model"
	"github.com/shiva/rentwheels/pkg/timewindow"
)

// CodeLength is the number of digits in a handover code.
const CodeLength = 6

// DefaultPickupLead is how long before pickup the PICKUP gate opens.
const DefaultPickupLead = 30 * time.Minute

// ErrInvalidFormat is returned for any entry that is not exactly six ASCII digits.
var ErrInvalidFormat = errors.New("handover code must be exactly 6 digits")

// Policy holds the gate timing rules.
type Policy struct {
	PickupLead time.Duration
}

// DefaultPolicy returns the marketplace's gate timing.
func DefaultPolicy() Policy {
	return Policy{PickupLead: DefaultPickupLead}
}

// ValidateFormat rejects anything other than exactly six ASCII digits.
func ValidateFormat(code string) error {
	if len(code) != CodeLength {
		return ErrInvalidFormat
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return ErrInvalidFormat
		}
	}
	return nil
}

// GenerateCode returns a uniformly random six-digit code from crypto/rand.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("handover: generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Match compares an entered code against the issued one in constant time.
func Match(issued, entered string) bool {
	return subtle.ConstantTimeCompare([]byte(issued), []byte(entered)) == 1
}

// VisibleFrom returns when a gate of the given kind first opens, or nil when
// the booking carries no time for it (intercity DROP).
func VisibleFrom(kind model.CodeKind, b *model.Booking, p Policy) *time.Time {
	switch kind {
	case model.CodePickup:
		start := b.HandoverStart()
		if start == nil {
			return nil
		}
		opens := start.Add(-p.PickupLead)
		return &opens
	case model.CodeDrop:
		if b.ServiceMode == model.ModeIntercity || b.DropAt == nil {
			return nil
		}
		opens := *b.DropAt
		return &opens
	}
	return nil
}

// Evaluate computes the gate state for one code kind at `now`.
//
// PICKUP is VISIBLE from pickup−lead onwards while the booking is CONFIRMED,
// including after the pickup time has passed. DROP is VISIBLE from the drop
// time onwards while the booking is CONFIRMED or ACTIVE; intercity bookings
// have no drop time and open DROP once ACTIVE.
func Evaluate(kind model.CodeKind, b *model.Booking, now time.Time, p Policy) model.GateView {
	v := model.GateView{BookingID: b.ID, Kind: kind, State: model.GateLocked}

	switch kind {
	case model.CodePickup:
		if b.PickupCodeVerifiedAt != nil {
			v.State = model.GateVerified
			return v
		}
		opens := VisibleFrom(kind, b, p)
		if opens == nil || b.Status.Terminal() {
			return v
		}
		v.OpensAt = opens
		if now.Before(*opens) {
			v.Countdown = timewindow.Format(timewindow.Countdown(now, *opens))
			return v
		}
		if b.Status != model.StatusConfirmed {
			return v
		}
		v.State = model.GateVisible
		if start := b.HandoverStart(); !now.Before(*start) {
			v.Overdue = true
			v.Countdown = "Overdue by " + timewindow.Format(timewindow.Countdown(*start, now))
		} else {
			v.Countdown = timewindow.Format(timewindow.Countdown(now, *start))
		}
		return v

	case model.CodeDrop:
		if b.DropCodeVerifiedAt != nil {
			v.State = model.GateVerified
			return v
		}
		if b.Status.Terminal() {
			return v
		}
		if b.ServiceMode == model.ModeIntercity {
			if b.Status == model.StatusActive {
				v.State = model.GateVisible
			}
			return v
		}
		opens := VisibleFrom(kind, b, p)
		if opens == nil {
			return v
		}
		v.OpensAt = opens
		if now.Before(*opens) {
			v.Countdown = timewindow.Format(timewindow.Countdown(now, *opens))
			return v
		}
		if b.Status == model.StatusActive || b.Status == model.StatusConfirmed {
			v.State = model.GateVisible
		}
		return v
	}
	return v
}
