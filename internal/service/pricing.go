package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shiva/rentwheels/internal/auth"
	"github.com/shiva/rentwheels/internal/model"
	"github.com/shiva/rentwheels/internal/repository"
	"github.com/shiva/rentwheels/pkg/fare"
	"github.com/shiva/rentwheels/pkg/geo"
	"github.com/shiva/rentwheels/pkg/logger"
)

// DefaultQuoteTTL is how long a previewed fare can be booked against.
const DefaultQuoteTTL = 15 * time.Minute

// Clock returns the current instant. Services take one so tests can pin time.
type Clock func() time.Time

// QuoteStore caches quotes between preview and booking.
type QuoteStore interface {
	Save(ctx context.Context, id string, v any, ttl time.Duration) error
	Load(ctx context.Context, id string, v any) error
	Delete(ctx context.Context, id string) error
}

// ─── Requests & Quotes ──────────────────────────────────────

// QuoteRequest is everything needed to price a booking. Exactly one of
// SelfDrive or Intercity is set, matching ServiceMode.
type QuoteRequest struct {
	ServiceMode    model.ServiceMode      `json:"service_mode"`
	PickupLocation model.Location         `json:"pickup_location"`
	DropLocation   model.Location         `json:"drop_location"`
	SelfDrive      *fare.SelfDriveRequest `json:"self_drive,omitempty"`
	Intercity      *fare.IntercityRequest `json:"intercity,omitempty"`
	TripStartAt    *time.Time             `json:"trip_start_at,omitempty"`
}

// Quote is a computed fare held for later booking.
type Quote struct {
	ID        string              `json:"id"`
	GuestID   int64               `json:"guest_id"`
	Request   QuoteRequest        `json:"request"`
	Fare      model.FareBreakdown `json:"fare_breakdown"`
	CreatedAt time.Time           `json:"created_at"`
	ExpiresAt time.Time           `json:"expires_at"`
}

// ─── PricingService ─────────────────────────────────────────

// PricingService previews fares and caches them as quotes.
//
// Distance fallback: when a FLEXIBLE drop-off or an intercity trip has no
// distance but both locations carry coordinates, the road distance is
// estimated from the great-circle distance (pkg/geo).
type PricingService struct {
	calc   fare.Calculator
	quotes QuoteStore
	ttl    time.Duration
	now    Clock
	log    *zap.Logger
}

// NewPricingService creates a pricing service. quotes may be nil when only
// Compute is needed (the offline CLI).
func NewPricingService(calc fare.Calculator, quotes QuoteStore, ttl time.Duration, log *zap.Logger) *PricingService {
	if ttl <= 0 {
		ttl = DefaultQuoteTTL
	}
	return &PricingService{
		calc:   calc,
		quotes: quotes,
		ttl:    ttl,
		now:    time.Now,
		log:    logger.OrNop(log).Named("pricing"),
	}
}

// Compute prices req without any I/O. The returned request carries any
// distances filled in by the geo fallback.
func (s *PricingService) Compute(req QuoteRequest) (model.FareBreakdown, QuoteRequest, error) {
	switch req.ServiceMode {
	case model.ModeSelfDrive:
		if req.SelfDrive == nil {
			return model.FareBreakdown{}, req, &fare.InputError{Field: "self_drive", Msg: "is required for SELF_DRIVE"}
		}
		sd := *req.SelfDrive
		if sd.DropOff.Policy == model.DropOffFlexible && sd.DropOff.DistanceKm == 0 {
			if !bothSet(req) {
				return model.FareBreakdown{}, req, &fare.InputError{
					Field: "drop_off.distance_km",
					Msg:   "is required for a flexible drop-off without pickup and drop coordinates",
				}
			}
			km, err := fallbackDistance(req)
			if err != nil {
				return model.FareBreakdown{}, req, err
			}
			sd.DropOff.DistanceKm = km
		}
		req.SelfDrive = &sd
		req.Intercity = nil
		b, err := s.calc.SelfDrive(sd)
		return b, req, err

	case model.ModeIntercity:
		if req.Intercity == nil {
			return model.FareBreakdown{}, req, &fare.InputError{Field: "intercity", Msg: "is required for INTERCITY"}
		}
		ic := *req.Intercity
		if ic.DistanceKm == 0 && bothSet(req) {
			km, err := fallbackDistance(req)
			if err != nil {
				return model.FareBreakdown{}, req, err
			}
			ic.DistanceKm = km
		}
		req.Intercity = &ic
		req.SelfDrive = nil
		b, err := s.calc.Intercity(ic)
		return b, req, err

	case model.ModeBoth:
		return model.FareBreakdown{}, req, &fare.InputError{Field: "service_mode", Msg: "must resolve to SELF_DRIVE or INTERCITY"}
	default:
		return model.FareBreakdown{}, req, &fare.InputError{Field: "service_mode", Msg: fmt.Sprintf("%q is not a known mode", req.ServiceMode)}
	}
}

// Preview computes the fare once and caches it as a quote the caller can
// book against until it expires.
func (s *PricingService) Preview(ctx context.Context, cred auth.Credential, req QuoteRequest) (*Quote, error) {
	if cred.IsZero() {
		return nil, ErrUnauthorized
	}
	breakdown, normalized, err := s.Compute(req)
	if err != nil {
		return nil, err
	}

	now := s.now()
	q := &Quote{
		ID:        uuid.NewString(),
		GuestID:   cred.UserID,
		Request:   normalized,
		Fare:      breakdown,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if s.quotes != nil {
		if err := s.quotes.Save(ctx, q.ID, q, s.ttl); err != nil {
			return nil, classify(err)
		}
	}

	s.log.Debug("quote issued",
		zap.String("quote_id", q.ID),
		zap.String("mode", string(normalized.ServiceMode)),
		zap.Int64("subtotal", breakdown.Subtotal()),
		zap.Int64("gst", breakdown.GSTAmount),
		zap.Int64("total", breakdown.Total),
	)
	return q, nil
}

// Quote loads a cached quote owned by the caller. Admins may read any quote.
func (s *PricingService) Quote(ctx context.Context, cred auth.Credential, id string) (*Quote, error) {
	if cred.IsZero() {
		return nil, ErrUnauthorized
	}
	if s.quotes == nil {
		return nil, ErrQuoteNotFound
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: malformed id %q", ErrQuoteNotFound, id)
	}

	var q Quote
	if err := s.quotes.Load(ctx, id, &q); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrQuoteNotFound, id)
		}
		return nil, classify(err)
	}
	if q.GuestID != cred.UserID && !cred.IsAdmin() {
		return nil, ErrForbidden
	}
	if err := s.calc.Reconcile(q.Fare); err != nil {
		s.log.Warn("cached quote does not reconcile", zap.String("quote_id", id), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrQuoteNotFound, err)
	}
	return &q, nil
}

// forget drops a consumed quote. Failure only means it lives until its TTL.
func (s *PricingService) forget(ctx context.Context, id string) {
	if s.quotes == nil || id == "" {
		return
	}
	if err := s.quotes.Delete(ctx, id); err != nil {
		s.log.Warn("quote delete failed", zap.String("quote_id", id), zap.Error(err))
	}
}

func bothSet(req QuoteRequest) bool {
	return !req.PickupLocation.IsZero() && !req.DropLocation.IsZero()
}

func fallbackDistance(req QuoteRequest) (float64, error) {
	km, err := geo.RoadDistance(req.PickupLocation, req.DropLocation)
	if err != nil {
		field := "drop_location"
		if geo.Validate(req.PickupLocation) != nil {
			field = "pickup_location"
		}
		return 0, &fare.InputError{Field: field, Msg: "coordinates out of range"}
	}
	return km, nil
}
