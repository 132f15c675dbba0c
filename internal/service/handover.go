package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shiva/rentwheels/internal/auth"
	"github.com/shiva/rentwheels/internal/handover"
	"github.com/shiva/rentwheels/internal/lifecycle"
	"github.com/shiva/rentwheels/internal/model"
	"github.com/shiva/rentwheels/internal/repository"
	"github.com/shiva/rentwheels/pkg/fare"
	"github.com/shiva/rentwheels/pkg/logger"
	"github.com/shiva/rentwheels/pkg/timewindow"
)

// AttemptLimiter counts failed entries and guards against a second
// concurrent verification of the same code.
type AttemptLimiter interface {
	Failures(ctx context.Context, bookingID int64, kind model.CodeKind) (int, error)
	RecordFailure(ctx context.Context, bookingID int64, kind model.CodeKind, window time.Duration) (int, error)
	Reset(ctx context.Context, bookingID int64, kind model.CodeKind) error
	Acquire(ctx context.Context, bookingID int64, kind model.CodeKind, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, bookingID int64, kind model.CodeKind, token string) error
}

// HandoverOptions tunes the gate. MaxAttempts = 0 disables the lockout.
type HandoverOptions struct {
	Policy          handover.Policy
	Zone            timewindow.Zone
	RecheckInterval time.Duration
	MaxAttempts     int
	LockoutWindow   time.Duration
	InFlightTTL     time.Duration
}

// DefaultHandoverOptions returns the marketplace defaults: 30 minute pickup
// lead, IST display, 60 s recheck and no lockout.
func DefaultHandoverOptions() HandoverOptions {
	return HandoverOptions{
		Policy:          handover.DefaultPolicy(),
		Zone:            timewindow.NewZone("IST", timewindow.DefaultOffset),
		RecheckInterval: handover.DefaultRecheckInterval,
		LockoutWindow:   15 * time.Minute,
		InFlightTTL:     10 * time.Second,
	}
}

// errCodeMismatch aborts the verification transaction; the failure is
// recorded after rollback.
var errCodeMismatch = errors.New("code mismatch")

// ─── HandoverService ────────────────────────────────────────

// HandoverService evaluates pickup and drop gates, reveals codes to guests
// and verifies codes entered by hosts.
type HandoverService struct {
	store    BookingStore
	attempts AttemptLimiter
	opts     HandoverOptions
	now      Clock
	log      *zap.Logger

	// OnVerified runs after a code is accepted and committed, e.g. to
	// refresh whatever downstream state shows the booking.
	OnVerified func(ctx context.Context, res model.VerifiedResult)
}

// NewHandoverService creates a handover service.
func NewHandoverService(store BookingStore, attempts AttemptLimiter, opts HandoverOptions, log *zap.Logger) *HandoverService {
	if opts.Policy.PickupLead <= 0 {
		opts.Policy = handover.DefaultPolicy()
	}
	if opts.RecheckInterval <= 0 {
		opts.RecheckInterval = handover.DefaultRecheckInterval
	}
	if opts.InFlightTTL <= 0 {
		opts.InFlightTTL = 10 * time.Second
	}
	return &HandoverService{
		store:    store,
		attempts: attempts,
		opts:     opts,
		now:      time.Now,
		log:      logger.OrNop(log).Named("handover"),
	}
}

// Gate returns the current gate view for one code kind, with OpensAt in the
// display timezone.
func (s *HandoverService) Gate(ctx context.Context, cred auth.Credential, id int64, kind model.CodeKind) (model.GateView, error) {
	if !kind.Valid() {
		return model.GateView{}, invalidKind(kind)
	}
	if cred.IsZero() {
		return model.GateView{}, ErrUnauthorized
	}
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return model.GateView{}, classify(err)
	}
	if !canAccess(cred, b) {
		return model.GateView{}, ErrForbidden
	}
	return s.evaluate(kind, b), nil
}

// Code reveals the issued code to the booking's guest while the gate is
// VISIBLE. The host never sees it; they type what the guest shows them.
func (s *HandoverService) Code(ctx context.Context, cred auth.Credential, id int64, kind model.CodeKind) (string, error) {
	if !kind.Valid() {
		return "", invalidKind(kind)
	}
	if cred.IsZero() {
		return "", ErrUnauthorized
	}
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return "", classify(err)
	}
	if b.GuestID != cred.UserID {
		return "", ErrForbidden
	}

	switch v := s.evaluate(kind, b); v.State {
	case model.GateVerified:
		return "", ErrAlreadyVerified
	case model.GateLocked:
		return "", gateLocked(v)
	}

	c, err := s.store.GetCode(ctx, id, kind)
	if err != nil {
		return "", classify(err)
	}
	return c.Code, nil
}

// Verify checks a code entered by the host and, on a match, consumes it and
// advances the booking (CONFIRMED → ACTIVE for PICKUP, ACTIVE → COMPLETED
// for DROP) in a single transaction.
//
// Order of checks:
//  1. Format: exactly six ASCII digits, before any store access.
//  2. In-flight: a concurrent verification of the same code is rejected.
//  3. Lockout: rejected while failures ≥ MaxAttempts (if enabled). The count
//     is read while holding the in-flight marker, so the read and any later
//     increment are serialised per booking and kind.
//  4. Locked row: already consumed → lifecycle guard → gate VISIBLE →
//     constant-time compare.
func (s *HandoverService) Verify(ctx context.Context, cred auth.Credential, id int64, kind model.CodeKind, code string) (*model.VerifiedResult, error) {
	// ── Step 1: Format ──────────────────────────────────
	if err := handover.ValidateFormat(code); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, invalidKind(kind)
	}
	if cred.IsZero() {
		return nil, ErrUnauthorized
	}

	// ── Step 2: In-flight guard ─────────────────────────
	token, ok, err := s.attempts.Acquire(ctx, id, kind, s.opts.InFlightTTL)
	if err != nil {
		return nil, classify(err)
	}
	if !ok {
		return nil, ErrVerificationInFlight
	}
	defer func() {
		if err := s.attempts.Release(context.WithoutCancel(ctx), id, kind, token); err != nil {
			s.log.Warn("release in-flight marker", zap.Int64("booking_id", id), zap.Error(err))
		}
	}()

	// ── Step 3: Lockout ─────────────────────────────────
	if s.opts.MaxAttempts > 0 {
		n, err := s.attempts.Failures(ctx, id, kind)
		if err != nil {
			return nil, classify(err)
		}
		if n >= s.opts.MaxAttempts {
			return nil, ErrTooManyAttempts
		}
	}

	// ── Step 4: Atomic verify ───────────────────────────
	now := s.now()
	ev := lifecycle.EventPickupVerified
	if kind == model.CodeDrop {
		ev = lifecycle.EventDropVerified
	}

	b, err := s.store.Mutate(ctx, id, func(l *repository.LockedBooking) (bool, error) {
		b := l.Booking
		if b.HostID != cred.UserID && !cred.IsAdmin() {
			return false, ErrForbidden
		}

		issued := l.Codes[kind]
		if verifiedAt(b, kind) != nil || (issued != nil && issued.Consumed()) {
			return false, ErrAlreadyVerified
		}
		if !lifecycle.CanApply(b.Status, ev) {
			return false, &lifecycle.RejectedError{BookingID: b.ID, From: b.Status, Event: ev}
		}
		if issued == nil {
			return false, fmt.Errorf("%w: no %s code issued", ErrGateLocked, kind)
		}
		if v := handover.Evaluate(kind, b, now, s.opts.Policy); v.State != model.GateVisible {
			return false, gateLocked(v)
		}
		if !handover.Match(issued.Code, code) {
			return false, errCodeMismatch
		}

		issued.ConsumedAt = &now
		if kind == model.CodePickup {
			b.PickupCodeVerifiedAt = &now
		} else {
			b.DropCodeVerifiedAt = &now
		}
		if _, err := lifecycle.Apply(b, ev, now); err != nil {
			return false, err
		}
		return true, nil
	})
	if errors.Is(err, errCodeMismatch) {
		return nil, s.recordFailure(ctx, id, kind)
	}
	if err != nil {
		return nil, classify(err)
	}

	if err := s.attempts.Reset(ctx, id, kind); err != nil {
		s.log.Warn("reset failure counter", zap.Int64("booking_id", id), zap.Error(err))
	}

	res := &model.VerifiedResult{
		BookingID:  id,
		Kind:       kind,
		Verified:   true,
		NewStatus:  b.Status,
		VerifiedAt: s.opts.Zone.ToDisplay(now),
	}
	s.log.Info("handover verified",
		zap.Int64("booking_id", id),
		zap.String("kind", string(kind)),
		zap.String("status", string(b.Status)),
	)
	if s.OnVerified != nil {
		s.OnVerified(ctx, *res)
	}
	return res, nil
}

// Watch starts a watcher that re-evaluates the gate on start and every
// RecheckInterval. The caller owns the watcher and must Stop it.
func (s *HandoverService) Watch(ctx context.Context, cred auth.Credential, id int64, kind model.CodeKind, onChange func(model.GateView), onError func(error)) (*handover.Watcher, error) {
	if _, err := s.Gate(ctx, cred, id, kind); err != nil {
		return nil, err
	}
	w := handover.NewWatcher(s.opts.RecheckInterval, func(ctx context.Context) (model.GateView, error) {
		return s.Gate(ctx, cred, id, kind)
	})
	w.OnChange = onChange
	w.OnError = onError
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// ─── Private helpers ────────────────────────────────────────

func (s *HandoverService) evaluate(kind model.CodeKind, b *model.Booking) model.GateView {
	v := handover.Evaluate(kind, b, s.now(), s.opts.Policy)
	if v.OpensAt != nil {
		t := s.opts.Zone.ToDisplay(*v.OpensAt)
		v.OpensAt = &t
	}
	return v
}

// recordFailure counts a mismatch in PostgreSQL and in the lockout window.
// The caller always gets ErrVerificationFailed; counting errors are logged.
func (s *HandoverService) recordFailure(ctx context.Context, id int64, kind model.CodeKind) error {
	total, err := s.store.RecordFailedAttempt(ctx, id, kind)
	if err != nil {
		s.log.Warn("record failed attempt", zap.Int64("booking_id", id), zap.Error(err))
	}
	window, err := s.attempts.RecordFailure(ctx, id, kind, s.opts.LockoutWindow)
	if err != nil {
		s.log.Warn("count failed attempt", zap.Int64("booking_id", id), zap.Error(err))
	}
	s.log.Info("handover code rejected",
		zap.Int64("booking_id", id),
		zap.String("kind", string(kind)),
		zap.Int("failed_total", total),
		zap.Int("failed_in_window", window),
	)
	return ErrVerificationFailed
}

func verifiedAt(b *model.Booking, kind model.CodeKind) *time.Time {
	if kind == model.CodePickup {
		return b.PickupCodeVerifiedAt
	}
	return b.DropCodeVerifiedAt
}

// gateLocked wraps ErrGateLocked with the countdown when there is one.
func gateLocked(v model.GateView) error {
	if v.Countdown == "" {
		return ErrGateLocked
	}
	return fmt.Errorf("%w: opens in %s", ErrGateLocked, v.Countdown)
}

func invalidKind(kind model.CodeKind) error {
	return &fare.InputError{Field: "kind", Msg: fmt.Sprintf("%q must be PICKUP or DROP", kind)}
}
