// Package model contains domain models for the rental booking system.
// These structs map to the PostgreSQL schema in migrations/001_create_schema.up.sql.
package model

import "time"

// ─── Enums ──────────────────────────────────────────────────

type UserRole string

const (
	RoleGuest UserRole = "guest"
	RoleHost  UserRole = "host"
	RoleAdmin UserRole = "admin"
)

// ServiceMode is how the vehicle is handed over. A listing may advertise
// ModeBoth; a booking always resolves to one of the other two.
type ServiceMode string

const (
	ModeSelfDrive ServiceMode = "SELF_DRIVE"
	ModeIntercity ServiceMode = "INTERCITY"
	ModeBoth      ServiceMode = "BOTH"
)

// DropOffPolicy applies to self-drive bookings only.
type DropOffPolicy string

const (
	DropOffNotAvailable DropOffPolicy = "NOT_AVAILABLE"
	DropOffFlexible     DropOffPolicy = "FLEXIBLE" // per-km rate
	DropOffFixed        DropOffPolicy = "FIXED"    // flat fee
)

type BookingStatus string

const (
	StatusPending   BookingStatus = "PENDING"
	StatusConfirmed BookingStatus = "CONFIRMED"
	StatusActive    BookingStatus = "ACTIVE"
	StatusCompleted BookingStatus = "COMPLETED"
	StatusCancelled BookingStatus = "CANCELLED"
)

// Terminal reports whether no transition may leave s.
func (s BookingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type CodeKind string

const (
	CodePickup CodeKind = "PICKUP"
	CodeDrop   CodeKind = "DROP"
)

// Valid reports whether k is one of the two handover kinds.
func (k CodeKind) Valid() bool {
	return k == CodePickup || k == CodeDrop
}

type GateState string

const (
	GateLocked   GateState = "LOCKED"
	GateVisible  GateState = "VISIBLE"
	GateVerified GateState = "VERIFIED"
)

// ─── Location ───────────────────────────────────────────────

// Location represents a WGS-84 geographic point with an optional address line.
type Location struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Address string  `json:"address,omitempty"`
}

// IsZero reports whether no coordinates were supplied.
func (l Location) IsZero() bool {
	return l.Lat == 0 && l.Lon == 0
}

// ─── Fare ───────────────────────────────────────────────────

// FareBreakdown is the itemized, GST-inclusive price of a booking in whole
// currency units. It is computed once and persisted verbatim.
type FareBreakdown struct {
	BaseFare     int64 `json:"base_fare"`
	InsuranceFee int64 `json:"insurance_fee"`
	DriverFee    int64 `json:"driver_fee"`
	DropOffFee   int64 `json:"drop_off_fee"`
	GSTAmount    int64 `json:"gst_amount"`
	Total        int64 `json:"total"`
}

// Subtotal is the pre-tax sum of all line items.
func (f FareBreakdown) Subtotal() int64 {
	return f.BaseFare + f.InsuranceFee + f.DriverFee + f.DropOffFee
}

// IsZero reports whether the breakdown was never computed.
func (f FareBreakdown) IsZero() bool {
	return f == FareBreakdown{}
}

// ─── Domain Models ──────────────────────────────────────────

// TripWindow bounds an intercity trip. There is no return time; EstimatedEndAt
// is informational only.
type TripWindow struct {
	StartAt        time.Time  `json:"start_at"`
	EstimatedEndAt *time.Time `json:"estimated_end_at,omitempty"`
}

// Booking maps to the `bookings` table.
type Booking struct {
	ID                   int64         `json:"id"`
	ListingID            int64         `json:"listing_id"`
	GuestID              int64         `json:"guest_id"`
	HostID               int64         `json:"host_id"`
	ServiceMode          ServiceMode   `json:"service_mode"`
	Fare                 FareBreakdown `json:"fare_breakdown"`
	PickupAt             *time.Time    `json:"pickup_at,omitempty"`
	DropAt               *time.Time    `json:"drop_at,omitempty"`
	TripWindow           *TripWindow   `json:"trip_window,omitempty"`
	TripDistanceKm       float64       `json:"trip_distance_km,omitempty"`
	PickupLocation       Location      `json:"pickup_location"`
	DropLocation         Location      `json:"drop_location"`
	Status               BookingStatus `json:"status"`
	PickupCodeVerifiedAt *time.Time    `json:"pickup_code_verified_at,omitempty"`
	DropCodeVerifiedAt   *time.Time    `json:"drop_code_verified_at,omitempty"`
	CancelledAt          *time.Time    `json:"cancelled_at,omitempty"`
	CancelReason         string        `json:"cancel_reason,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// HandoverStart is the scheduled pickup instant for either mode.
func (b *Booking) HandoverStart() *time.Time {
	if b.ServiceMode == ModeIntercity && b.TripWindow != nil {
		t := b.TripWindow.StartAt
		return &t
	}
	return b.PickupAt
}

// Involves reports whether the user is the guest or host on this booking.
func (b *Booking) Involves(userID int64) bool {
	return userID != 0 && (b.GuestID == userID || b.HostID == userID)
}

// HandoverCode maps to the `handover_codes` table. One row per booking and kind.
type HandoverCode struct {
	BookingID      int64      `json:"booking_id"`
	Kind           CodeKind   `json:"kind"`
	Code           string     `json:"-"`
	VisibleFrom    *time.Time `json:"visible_from,omitempty"`
	ConsumedAt     *time.Time `json:"consumed_at,omitempty"`
	FailedAttempts int        `json:"failed_attempts"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Consumed reports whether the code has already been accepted.
func (c *HandoverCode) Consumed() bool {
	return c.ConsumedAt != nil
}

// ─── View DTOs ──────────────────────────────────────────────

// GateView is what the presentation layer renders for one handover gate.
type GateView struct {
	BookingID int64      `json:"booking_id"`
	Kind      CodeKind   `json:"kind"`
	State     GateState  `json:"state"`
	Countdown string     `json:"countdown,omitempty"`
	Overdue   bool       `json:"overdue,omitempty"`
	OpensAt   *time.Time `json:"opens_at,omitempty"`
}

// VerifiedResult is returned after a handover code is accepted.
type VerifiedResult struct {
	BookingID  int64         `json:"booking_id"`
	Kind       CodeKind      `json:"kind"`
	Verified   bool          `json:"verified"`
	NewStatus  BookingStatus `json:"new_status"`
	VerifiedAt time.Time     `json:"verified_at"`
}
