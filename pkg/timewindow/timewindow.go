// Package timewindow converts stored UTC timestamps into the business display
// zone and renders countdowns for time-gated handovers.
//
// The display zone is always an explicit fixed offset taken from configuration.
// The host machine's local zone is never consulted.
package timewindow

import (
	"fmt"
	"time"
)

// DefaultOffset is India Standard Time (UTC+05:30).
const DefaultOffset = 5*time.Hour + 30*time.Minute

// Zone is a fixed-offset display timezone.
type Zone struct {
	loc *time.Location
}

// NewZone returns a display zone at the given UTC offset.
func NewZone(name string, offset time.Duration) Zone {
	if name == "" {
		name = formatOffset(offset)
	}
	return Zone{loc: time.FixedZone(name, int(offset/time.Second))}
}

// Location returns the underlying *time.Location.
func (z Zone) Location() *time.Location {
	if z.loc == nil {
		return time.UTC
	}
	return z.loc
}

// ToDisplay converts a stored timestamp into the display zone. The instant is
// unchanged; only the wall-clock representation moves.
func (z Zone) ToDisplay(t time.Time) time.Time {
	return t.In(z.Location())
}

// Remaining is a clamped hours/minutes countdown.
type Remaining struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
}

// IsZero reports whether the countdown has elapsed.
func (r Remaining) IsZero() bool {
	return r.Hours == 0 && r.Minutes == 0
}

// Countdown returns the whole hours and minutes from `from` until `to`,
// clamped at zero when `to` is not after `from`. Seconds are truncated.
func Countdown(from, to time.Time) Remaining {
	d := to.Sub(from)
	if d <= 0 {
		return Remaining{}
	}
	total := int(d / time.Minute)
	return Remaining{Hours: total / 60, Minutes: total % 60}
}

// Format renders "Xh Ym" when at least one hour remains, otherwise "Y mins".
func Format(r Remaining) string {
	if r.Hours >= 1 {
		return fmt.Sprintf("%dh %dm", r.Hours, r.Minutes)
	}
	return fmt.Sprintf("%d mins", r.Minutes)
}

func formatOffset(offset time.Duration) string {
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	h := int(offset / time.Hour)
	m := int((offset % time.Hour) / time.Minute)
	return fmt.Sprintf("UTC%s%02d:%02d", sign, h, m)
}
