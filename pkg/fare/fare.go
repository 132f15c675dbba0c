// Package fare prices a rental under the two service modes.
//
// Every function here is pure: no I/O, no clock, no persisted state. A
// breakdown is computed once for preview and stored verbatim at confirmation.
//
// Formula:
//
//	subtotal = base + insurance + driver + dropOff
//	gst      = roundHalfUp(subtotal × GSTBasisPoints / 10000)
//	total    = subtotal + gst
package fare

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shiva/rentwheels/internal/model"
)

// ─── Errors ─────────────────────────────────────────────────

var (
	// ErrInvalidInput is matched by every InputError via errors.Is.
	ErrInvalidInput = errors.New("invalid fare input")

	// ErrFareDrift is returned by Reconcile when a stored breakdown does not
	// reproduce its own total.
	ErrFareDrift = errors.New("fare breakdown does not reproduce its total")
)

// InputError names the offending field so forms can highlight it.
type InputError struct {
	Field string
	Msg   string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid fare input: %s %s", e.Field, e.Msg)
}

func (e *InputError) Is(target error) bool {
	return target == ErrInvalidInput
}

func invalid(field, msg string) error {
	return &InputError{Field: field, Msg: msg}
}

// ─── Limits ─────────────────────────────────────────────────

// MaxMoney caps every line item and the pre-tax subtotal, in rupees. Staying
// far below the int64 range keeps the GST multiply exact.
const MaxMoney int64 = 1_000_000_000_000

// MaxGSTBasisPoints is a 100% tax rate.
const MaxGSTBasisPoints = 10_000

// ─── Rates ──────────────────────────────────────────────────

// Rates holds the tariff constants. They are injected so tests and
// deployments can vary them without touching the algorithm.
type Rates struct {
	GSTBasisPoints       int64   // 1800 = 18%.
	InsurancePerHour     int64   // Self-drive insurance, per billed hour.
	DriverPerHour        int64   // Self-drive optional driver, per billed hour.
	IntercityDriverPerKm float64 // Bundled intercity driver, per km. Zero when folded into the per-km price.
}

// DefaultRates returns the marketplace's current Indian tariff.
func DefaultRates() Rates {
	return Rates{
		GSTBasisPoints:       1800, // 18% GST
		InsurancePerHour:     20,   // ₹20 per hour
		DriverPerHour:        150,  // ₹150 per hour
		IntercityDriverPerKm: 0,    // driver bundled in per-km price
	}
}

// Validate rejects negative tariff constants.
func (r Rates) Validate() error {
	switch {
	case r.GSTBasisPoints < 0:
		return invalid("gst_basis_points", "must not be negative")
	case r.GSTBasisPoints > MaxGSTBasisPoints:
		return invalid("gst_basis_points", "must not exceed 10000")
	case r.InsurancePerHour < 0:
		return invalid("insurance_per_hour", "must not be negative")
	case r.DriverPerHour < 0:
		return invalid("driver_per_hour", "must not be negative")
	case r.IntercityDriverPerKm < 0 || math.IsNaN(r.IntercityDriverPerKm):
		return invalid("intercity_driver_per_km", "must not be negative")
	}
	return nil
}

// ─── Requests ───────────────────────────────────────────────

// DropOffTerms describes the self-drive drop-off option chosen by the guest.
// Amount is a flat fee for FIXED and a per-km rate for FLEXIBLE.
type DropOffTerms struct {
	Policy     model.DropOffPolicy `json:"policy"`
	Amount     *float64            `json:"amount,omitempty"`
	DistanceKm float64             `json:"distance_km,omitempty"`
}

// SelfDriveRequest is the input to Calculator.SelfDrive.
type SelfDriveRequest struct {
	PricePerHour int64        `json:"price_per_hour"`
	PickupAt     time.Time    `json:"pickup_at"`
	DropAt       time.Time    `json:"drop_at"`
	Insure       bool         `json:"insure"`
	Driver       bool         `json:"driver"`
	DropOff      DropOffTerms `json:"drop_off"`
}

// IntercityRequest is the input to Calculator.Intercity. DriverPerKm falls
// back to Rates.IntercityDriverPerKm when nil.
type IntercityRequest struct {
	DistanceKm     float64  `json:"distance_km"`
	PricePerKm     float64  `json:"price_per_km"`
	Insure         bool     `json:"insure"`
	InsurancePerKm float64  `json:"insurance_per_km,omitempty"`
	DriverPerKm    *float64 `json:"driver_per_km,omitempty"`
}

// ─── Calculator ─────────────────────────────────────────────

// Calculator computes fare breakdowns against a fixed set of rates.
type Calculator struct {
	rates Rates
}

// NewCalculator validates the rates and returns a calculator bound to them.
func NewCalculator(rates Rates) (Calculator, error) {
	if err := rates.Validate(); err != nil {
		return Calculator{}, err
	}
	return Calculator{rates: rates}, nil
}

// Rates returns the tariff the calculator was built with.
func (c Calculator) Rates() Rates {
	return c.rates
}

// BilledHours returns max(1, ceil((dropAt − pickupAt) / 1h)).
func BilledHours(pickupAt, dropAt time.Time) (int64, error) {
	if pickupAt.IsZero() {
		return 0, invalid("pickup_at", "is required")
	}
	if dropAt.IsZero() {
		return 0, invalid("drop_at", "is required")
	}
	d := dropAt.Sub(pickupAt)
	if d < 0 {
		return 0, invalid("drop_at", "is before pickup_at")
	}
	hours := int64(d / time.Hour)
	if d%time.Hour != 0 {
		hours++
	}
	if hours < 1 {
		hours = 1
	}
	return hours, nil
}

// SelfDrive prices a guest-driven rental billed by the hour.
func (c Calculator) SelfDrive(req SelfDriveRequest) (model.FareBreakdown, error) {
	if req.PricePerHour <= 0 {
		return model.FareBreakdown{}, invalid("price_per_hour", "must be positive")
	}
	hours, err := BilledHours(req.PickupAt, req.DropAt)
	if err != nil {
		return model.FareBreakdown{}, err
	}
	dropOff, err := dropOffFee(req.DropOff)
	if err != nil {
		return model.FareBreakdown{}, err
	}

	b := model.FareBreakdown{DropOffFee: dropOff}
	if b.BaseFare, err = perHour("price_per_hour", req.PricePerHour, hours); err != nil {
		return model.FareBreakdown{}, err
	}
	if req.Insure {
		if b.InsuranceFee, err = perHour("insurance_fee", c.rates.InsurancePerHour, hours); err != nil {
			return model.FareBreakdown{}, err
		}
	}
	if req.Driver {
		if b.DriverFee, err = perHour("driver_fee", c.rates.DriverPerHour, hours); err != nil {
			return model.FareBreakdown{}, err
		}
	}
	return c.taxed(b)
}

// Intercity prices a driver-operated one-way trip billed by the kilometre.
// The driver fee is always charged.
func (c Calculator) Intercity(req IntercityRequest) (model.FareBreakdown, error) {
	if !positive(req.DistanceKm) {
		return model.FareBreakdown{}, invalid("distance_km", "must be positive")
	}
	if !positive(req.PricePerKm) {
		return model.FareBreakdown{}, invalid("price_per_km", "must be positive")
	}
	if req.InsurancePerKm < 0 || math.IsNaN(req.InsurancePerKm) {
		return model.FareBreakdown{}, invalid("insurance_per_km", "must not be negative")
	}
	if req.Insure && req.InsurancePerKm == 0 {
		return model.FareBreakdown{}, invalid("insurance_per_km", "is required when insure is set")
	}

	driverPerKm := c.rates.IntercityDriverPerKm
	if req.DriverPerKm != nil {
		driverPerKm = *req.DriverPerKm
	}
	if driverPerKm < 0 || math.IsNaN(driverPerKm) {
		return model.FareBreakdown{}, invalid("driver_per_km", "must not be negative")
	}

	var (
		b   model.FareBreakdown
		err error
	)
	if b.BaseFare, err = money("price_per_km", req.DistanceKm*req.PricePerKm); err != nil {
		return model.FareBreakdown{}, err
	}
	if b.DriverFee, err = money("driver_per_km", req.DistanceKm*driverPerKm); err != nil {
		return model.FareBreakdown{}, err
	}
	if req.Insure {
		if b.InsuranceFee, err = money("insurance_per_km", req.DistanceKm*req.InsurancePerKm); err != nil {
			return model.FareBreakdown{}, err
		}
	}
	return c.taxed(b)
}

// Reconcile recomputes GST and total from the stored line items. A nil
// result means the breakdown is reproducible under these rates.
func (c Calculator) Reconcile(b model.FareBreakdown) error {
	for _, v := range []int64{b.BaseFare, b.InsuranceFee, b.DriverFee, b.DropOffFee} {
		if v < 0 {
			return invalid("fare_breakdown", "has a negative line item")
		}
		if v > MaxMoney {
			return invalid("fare_breakdown", "has a line item that is too large")
		}
	}
	want := c.applyGST(b)
	if want.GSTAmount != b.GSTAmount || want.Total != b.Total {
		return fmt.Errorf("%w: stored gst=%d total=%d, recomputed gst=%d total=%d",
			ErrFareDrift, b.GSTAmount, b.Total, want.GSTAmount, want.Total)
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────

// taxed bounds the subtotal and then applies GST.
func (c Calculator) taxed(b model.FareBreakdown) (model.FareBreakdown, error) {
	if b.Subtotal() > MaxMoney {
		return model.FareBreakdown{}, invalid("fare", "total is too large")
	}
	return c.applyGST(b), nil
}

// applyGST taxes the subtotal once with half-up integer rounding, so the
// result never depends on per-line rounding order.
func (c Calculator) applyGST(b model.FareBreakdown) model.FareBreakdown {
	subtotal := b.Subtotal()
	b.GSTAmount = (subtotal*c.rates.GSTBasisPoints + 5000) / 10000
	b.Total = subtotal + b.GSTAmount
	return b
}

func dropOffFee(t DropOffTerms) (int64, error) {
	switch t.Policy {
	case model.DropOffNotAvailable:
		if t.Amount != nil {
			return 0, invalid("drop_off.amount", "must be empty when drop-off is not available")
		}
		return 0, nil
	case model.DropOffFixed:
		if t.Amount == nil {
			return 0, invalid("drop_off.amount", "is required for a fixed drop-off")
		}
		if *t.Amount < 0 || math.IsNaN(*t.Amount) {
			return 0, invalid("drop_off.amount", "must not be negative")
		}
		return money("drop_off.amount", *t.Amount)
	case model.DropOffFlexible:
		if t.Amount == nil {
			return 0, invalid("drop_off.amount", "is required for a flexible drop-off")
		}
		if *t.Amount < 0 || math.IsNaN(*t.Amount) {
			return 0, invalid("drop_off.amount", "must not be negative")
		}
		if t.DistanceKm < 0 || math.IsNaN(t.DistanceKm) {
			return 0, invalid("drop_off.distance_km", "must not be negative")
		}
		return money("drop_off.amount", t.DistanceKm * *t.Amount)
	case "":
		return 0, invalid("drop_off.policy", "is required")
	default:
		return 0, invalid("drop_off.policy", fmt.Sprintf("%q is not a known policy", t.Policy))
	}
}

// money rounds a non-negative amount half-up and rejects anything above
// MaxMoney, including +Inf, before it is converted to int64.
func money(field string, x float64) (int64, error) {
	r := math.Floor(x + 0.5)
	if math.IsNaN(r) || r < 0 {
		return 0, invalid(field, "must not be negative")
	}
	if !(r <= float64(MaxMoney)) {
		return 0, invalid(field, "is too large")
	}
	return int64(r), nil
}

// perHour multiplies a per-hour rate by billed hours without overflowing.
func perHour(field string, rate, hours int64) (int64, error) {
	if rate > MaxMoney/hours {
		return 0, invalid(field, "is too large")
	}
	return rate * hours, nil
}

func positive(x float64) bool {
	return x > 0 && !math.IsInf(x, 1)
}
