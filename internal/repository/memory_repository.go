package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shiva/rentwheels/internal/model"
)

// MemoryBookingRepository keeps bookings in process memory. It backs
// `serve --in-memory` for local runs without PostgreSQL. Mutate holds a
// single mutex for the whole callback, which serialises writers the same
// way the row lock does.
type MemoryBookingRepository struct {
	mu       sync.Mutex
	nextID   int64
	bookings map[int64]model.Booking
	codes    map[int64]map[model.CodeKind]model.HandoverCode
}

// NewMemoryBookingRepository creates an empty in-memory repository.
func NewMemoryBookingRepository() *MemoryBookingRepository {
	return &MemoryBookingRepository{
		bookings: make(map[int64]model.Booking),
		codes:    make(map[int64]map[model.CodeKind]model.HandoverCode),
	}
}

// Create stores the booking and its codes and assigns an id.
func (r *MemoryBookingRepository) Create(_ context.Context, b *model.Booking, codes []model.HandoverCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	b.ID = r.nextID
	r.bookings[b.ID] = *b
	r.codes[b.ID] = make(map[model.CodeKind]model.HandoverCode, len(codes))
	for i := range codes {
		codes[i].BookingID = b.ID
		r.codes[b.ID][codes[i].Kind] = codes[i]
	}
	return nil
}

// Get returns a copy of one booking.
func (r *MemoryBookingRepository) Get(_ context.Context, id int64) (*model.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %d: %w", id, ErrNotFound)
	}
	return &b, nil
}

// List returns bookings matching f, newest first.
func (r *MemoryBookingRepository) List(_ context.Context, f ListFilter) ([]model.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.Booking
	for _, b := range r.bookings {
		if f.Role == model.RoleGuest && b.GuestID != f.UserID {
			continue
		}
		if f.Role == model.RoleHost && b.HostID != f.UserID {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })

	_, args := listQuery(f)
	limit, offset := args[len(args)-2].(int), args[len(args)-1].(int)
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetCode returns a copy of one issued code.
func (r *MemoryBookingRepository) GetCode(_ context.Context, bookingID int64, kind model.CodeKind) (*model.HandoverCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.codes[bookingID][kind]
	if !ok {
		return nil, fmt.Errorf("booking %d code %s: %w", bookingID, kind, ErrNotFound)
	}
	return &c, nil
}

// Mutate runs fn on copies and stores them only when fn reports a change.
func (r *MemoryBookingRepository) Mutate(_ context.Context, id int64, fn MutateFunc) (*model.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %d: lock: %w", id, ErrNotFound)
	}
	locked := &LockedBooking{Booking: &b, Codes: make(map[model.CodeKind]*model.HandoverCode, 2)}
	for kind, c := range r.codes[id] {
		c := c
		locked.Codes[kind] = &c
	}

	changed, err := fn(locked)
	if err != nil {
		return nil, err
	}
	if !changed {
		return locked.Booking, nil
	}

	r.bookings[id] = *locked.Booking
	for kind, c := range locked.Codes {
		c.BookingID = id
		r.codes[id][kind] = *c
	}
	return locked.Booking, nil
}

// RecordFailedAttempt bumps the failure count on a code.
func (r *MemoryBookingRepository) RecordFailedAttempt(_ context.Context, bookingID int64, kind model.CodeKind) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.codes[bookingID][kind]
	if !ok {
		return 0, fmt.Errorf("booking %d code %s: %w", bookingID, kind, ErrNotFound)
	}
	c.FailedAttempts++
	r.codes[bookingID][kind] = c
	return c.FailedAttempts, nil
}
