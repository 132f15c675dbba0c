package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/shiva/rentwheels/internal/auth"
	"github.com/shiva/rentwheels/internal/handover"
	"github.com/shiva/rentwheels/internal/lifecycle"
	"github.com/shiva/rentwheels/internal/model"
	"github.com/shiva/rentwheels/internal/repository"
	"github.com/shiva/rentwheels/pkg/fare"
	"github.com/shiva/rentwheels/pkg/logger"
)

// BookingStore is the persistence the booking and handover services need.
// repository.BookingRepository implements it against PostgreSQL.
type BookingStore interface {
	Create(ctx context.Context, b *model.Booking, codes []model.HandoverCode) error
	Get(ctx context.Context, id int64) (*model.Booking, error)
	List(ctx context.Context, f repository.ListFilter) ([]model.Booking, error)
	GetCode(ctx context.Context, bookingID int64, kind model.CodeKind) (*model.HandoverCode, error)
	Mutate(ctx context.Context, id int64, fn repository.MutateFunc) (*model.Booking, error)
	RecordFailedAttempt(ctx context.Context, bookingID int64, kind model.CodeKind) (int, error)
}

// CreateBookingRequest books against a cached quote (QuoteID) or prices the
// inline Quote request on the spot.
type CreateBookingRequest struct {
	ListingID      int64         `json:"listing_id"`
	HostID         int64         `json:"host_id"`
	QuoteID        string        `json:"quote_id,omitempty"`
	Quote          *QuoteRequest `json:"quote,omitempty"`
	EstimatedEndAt *time.Time    `json:"estimated_end_at,omitempty"`
}

// ListRequest selects which side of the caller's bookings to list.
type ListRequest struct {
	Role   model.UserRole      `json:"role,omitempty"`
	Status model.BookingStatus `json:"status,omitempty"`
	Limit  int                 `json:"limit,omitempty"`
	Offset int                 `json:"offset,omitempty"`
}

// ─── BookingService ─────────────────────────────────────────

// BookingService creates bookings and drives the confirm and cancel
// transitions. Status changes go through lifecycle.Apply inside
// BookingStore.Mutate, so each one is a locked read, a guard and one write.
type BookingService struct {
	store   BookingStore
	pricing *PricingService
	policy  handover.Policy
	now     Clock
	log     *zap.Logger
}

// NewBookingService creates a booking service.
func NewBookingService(store BookingStore, pricing *PricingService, policy handover.Policy, log *zap.Logger) *BookingService {
	return &BookingService{
		store:   store,
		pricing: pricing,
		policy:  policy,
		now:     time.Now,
		log:     logger.OrNop(log).Named("booking"),
	}
}

// Create books a listing for the calling guest.
//
// Flow:
//  1. Resolve the fare: a cached quote is used verbatim, otherwise the inline
//     request is priced now.
//  2. Validate creation guards and pick the initial status (PENDING for
//     self-drive, CONFIRMED for intercity).
//  3. Insert; a CONFIRMED booking gets its PICKUP and DROP codes in the same
//     transaction.
func (s *BookingService) Create(ctx context.Context, cred auth.Credential, req CreateBookingRequest) (*model.Booking, error) {
	if cred.IsZero() {
		return nil, ErrUnauthorized
	}
	if req.ListingID <= 0 {
		return nil, &fare.InputError{Field: "listing_id", Msg: "is required"}
	}
	if req.HostID <= 0 {
		return nil, &fare.InputError{Field: "host_id", Msg: "is required"}
	}
	if req.HostID == cred.UserID {
		return nil, &fare.InputError{Field: "host_id", Msg: "cannot book your own listing"}
	}

	// ── Step 1: Fare ────────────────────────────────────
	var (
		quoteReq  QuoteRequest
		breakdown model.FareBreakdown
	)
	switch {
	case req.QuoteID != "":
		q, err := s.pricing.Quote(ctx, cred, req.QuoteID)
		if err != nil {
			return nil, err
		}
		quoteReq, breakdown = q.Request, q.Fare
	case req.Quote != nil:
		var err error
		breakdown, quoteReq, err = s.pricing.Compute(*req.Quote)
		if err != nil {
			return nil, err
		}
	default:
		return nil, &fare.InputError{Field: "quote_id", Msg: "or an inline quote is required"}
	}

	// ── Step 2: Guards ──────────────────────────────────
	now := s.now()
	b := &model.Booking{
		ListingID:      req.ListingID,
		GuestID:        cred.UserID,
		HostID:         req.HostID,
		ServiceMode:    quoteReq.ServiceMode,
		Fare:           breakdown,
		PickupLocation: quoteReq.PickupLocation,
		DropLocation:   quoteReq.DropLocation,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	switch quoteReq.ServiceMode {
	case model.ModeSelfDrive:
		if sd := quoteReq.SelfDrive; sd != nil {
			pickup, drop := sd.PickupAt, sd.DropAt
			b.PickupAt, b.DropAt = &pickup, &drop
			b.TripDistanceKm = sd.DropOff.DistanceKm
		}
	case model.ModeIntercity:
		if quoteReq.TripStartAt != nil {
			b.TripWindow = &model.TripWindow{StartAt: *quoteReq.TripStartAt, EstimatedEndAt: req.EstimatedEndAt}
		}
		if ic := quoteReq.Intercity; ic != nil {
			b.TripDistanceKm = ic.DistanceKm
		}
	}
	if err := lifecycle.ValidateNew(b); err != nil {
		return nil, err
	}

	// ── Step 3: Insert ──────────────────────────────────
	var codes []model.HandoverCode
	if b.Status == model.StatusConfirmed {
		issued, err := s.issueCodes(b, now)
		if err != nil {
			return nil, err
		}
		for _, c := range issued {
			codes = append(codes, *c)
		}
	}
	if err := s.store.Create(ctx, b, codes); err != nil {
		return nil, classify(err)
	}
	s.pricing.forget(ctx, req.QuoteID)

	s.log.Info("booking created",
		zap.Int64("booking_id", b.ID),
		zap.String("mode", string(b.ServiceMode)),
		zap.String("status", string(b.Status)),
		zap.Int64("total", b.Fare.Total),
	)
	return b, nil
}

// Confirm moves a PENDING booking to CONFIRMED and issues its handover
// codes. Confirming an already CONFIRMED booking returns it unchanged.
func (s *BookingService) Confirm(ctx context.Context, cred auth.Credential, id int64) (*model.Booking, error) {
	if cred.IsZero() {
		return nil, ErrUnauthorized
	}
	now := s.now()
	b, err := s.store.Mutate(ctx, id, func(l *repository.LockedBooking) (bool, error) {
		if !canAccess(cred, l.Booking) {
			return false, ErrForbidden
		}
		changed, err := lifecycle.Apply(l.Booking, lifecycle.EventConfirm, now)
		if err != nil || !changed {
			return false, err
		}
		issued, err := s.issueCodes(l.Booking, now)
		if err != nil {
			return false, err
		}
		for kind, c := range issued {
			if _, exists := l.Codes[kind]; !exists {
				l.Codes[kind] = c
			}
		}
		return true, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	s.log.Info("booking confirmed", zap.Int64("booking_id", id), zap.String("status", string(b.Status)))
	return b, nil
}

// Get returns a booking the caller takes part in.
func (s *BookingService) Get(ctx context.Context, cred auth.Credential, id int64) (*model.Booking, error) {
	if cred.IsZero() {
		return nil, ErrUnauthorized
	}
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, classify(err)
	}
	if !canAccess(cred, b) {
		return nil, ErrForbidden
	}
	return b, nil
}

// List returns the caller's bookings as guest or host. Admins may list
// everything by leaving Role empty.
func (s *BookingService) List(ctx context.Context, cred auth.Credential, req ListRequest) ([]model.Booking, error) {
	if cred.IsZero() {
		return nil, ErrUnauthorized
	}
	f := repository.ListFilter{
		UserID: cred.UserID,
		Role:   req.Role,
		Status: req.Status,
		Limit:  req.Limit,
		Offset: req.Offset,
	}
	switch req.Role {
	case "":
		if cred.IsAdmin() {
			f.Role = model.RoleAdmin
		} else {
			f.Role = cred.Role
		}
	case model.RoleGuest, model.RoleHost:
	case model.RoleAdmin:
		if !cred.IsAdmin() {
			return nil, ErrForbidden
		}
	default:
		return nil, &fare.InputError{Field: "role", Msg: "must be guest or host"}
	}

	out, err := s.store.List(ctx, f)
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// ─── Private helpers ────────────────────────────────────────

// issueCodes generates the PICKUP and DROP codes for a booking.
func (s *BookingService) issueCodes(b *model.Booking, now time.Time) (map[model.CodeKind]*model.HandoverCode, error) {
	out := make(map[model.CodeKind]*model.HandoverCode, 2)
	for _, kind := range []model.CodeKind{model.CodePickup, model.CodeDrop} {
		code, err := handover.GenerateCode()
		if err != nil {
			return nil, err
		}
		out[kind] = &model.HandoverCode{
			BookingID:   b.ID,
			Kind:        kind,
			Code:        code,
			VisibleFrom: handover.VisibleFrom(kind, b, s.policy),
			CreatedAt:   now,
		}
	}
	return out, nil
}

// canAccess reports whether cred may read or act on b.
func canAccess(cred auth.Credential, b *model.Booking) bool {
	return cred.IsAdmin() || b.Involves(cred.UserID)
}
