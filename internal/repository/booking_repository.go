// Package repository provides storage for the rental booking system.
//
// BookingRepository keeps bookings and handover codes in PostgreSQL and
// serialises every mutation with SELECT ... FOR UPDATE so a status change
// and its verification timestamp commit together or not at all.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiva/rentwheels/internal/model"
	"github.com/shiva/rentwheels/pkg/db"
)

// ErrNotFound is returned when the booking or code row does not exist.
var ErrNotFound = errors.New("not found")

// LockedBooking is a booking and its handover codes held under row locks for
// the duration of a Mutate callback. Codes may be added or changed in place.
type LockedBooking struct {
	Booking *model.Booking
	Codes   map[model.CodeKind]*model.HandoverCode
}

// MutateFunc applies guards and changes to a locked booking. Returning
// changed=false commits nothing; a non-nil error rolls back.
type MutateFunc func(l *LockedBooking) (changed bool, err error)

// ListFilter narrows List to the bookings a user takes part in.
type ListFilter struct {
	UserID int64
	Role   model.UserRole // guest or host; admin lists everything
	Status model.BookingStatus
	Limit  int
	Offset int
}

// BookingRepository persists bookings and handover codes.
type BookingRepository struct {
	pool *pgxpool.Pool
}

// NewBookingRepository creates a new booking repository.
func NewBookingRepository(pool *pgxpool.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

const bookingColumns = `
	id, listing_id, guest_id, host_id, service_mode,
	base_fare, insurance_fee, driver_fee, drop_off_fee, gst_amount, total,
	pickup_at, drop_at, trip_start_at, trip_estimated_end_at, trip_distance_km,
	pickup_lat, pickup_lon, pickup_address, drop_lat, drop_lon, drop_address,
	status, pickup_code_verified_at, drop_code_verified_at, cancelled_at, cancel_reason,
	created_at, updated_at`

// ─── Create ─────────────────────────────────────────────────

// Create inserts the booking and any codes issued with it in one
// transaction. b.ID, CreatedAt and UpdatedAt are set from the database.
func (r *BookingRepository) Create(ctx context.Context, b *model.Booking, codes []model.HandoverCode) error {
	var tripStart, tripEnd *time.Time
	if b.TripWindow != nil {
		s := b.TripWindow.StartAt
		tripStart = &s
		tripEnd = b.TripWindow.EstimatedEndAt
	}

	return db.InTx(ctx, r.pool, db.DefaultTxTimeout, func(ctx context.Context, tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO bookings (
				listing_id, guest_id, host_id, service_mode,
				base_fare, insurance_fee, driver_fee, drop_off_fee, gst_amount, total,
				pickup_at, drop_at, trip_start_at, trip_estimated_end_at, trip_distance_km,
				pickup_lat, pickup_lon, pickup_address, drop_lat, drop_lon, drop_address,
				status, created_at, updated_at
			) VALUES (
				$1, $2, $3, $4,
				$5, $6, $7, $8, $9, $10,
				$11, $12, $13, $14, $15,
				$16, $17, $18, $19, $20, $21,
				$22, $23, $23
			)
			RETURNING id, created_at, updated_at
		`,
			b.ListingID, b.GuestID, b.HostID, b.ServiceMode,
			b.Fare.BaseFare, b.Fare.InsuranceFee, b.Fare.DriverFee, b.Fare.DropOffFee, b.Fare.GSTAmount, b.Fare.Total,
			b.PickupAt, b.DropAt, tripStart, tripEnd, b.TripDistanceKm,
			b.PickupLocation.Lat, b.PickupLocation.Lon, b.PickupLocation.Address,
			b.DropLocation.Lat, b.DropLocation.Lon, b.DropLocation.Address,
			b.Status, b.CreatedAt,
		).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
		if err != nil {
			return fmt.Errorf("booking: insert: %w", err)
		}

		for i := range codes {
			codes[i].BookingID = b.ID
			if err := upsertCode(ctx, tx, &codes[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// ─── Reads ──────────────────────────────────────────────────

// Get returns one booking.
func (r *BookingRepository) Get(ctx context.Context, id int64) (*model.Booking, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	b, err := scanBooking(row)
	if err != nil {
		return nil, fmt.Errorf("booking %d: %w", id, err)
	}
	return b, nil
}

// List returns bookings matching f, newest first.
func (r *BookingRepository) List(ctx context.Context, f ListFilter) ([]model.Booking, error) {
	query, args := listQuery(f)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("booking: list: %w", err)
	}
	defer rows.Close()

	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("booking: list scan: %w", err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("booking: list rows: %w", err)
	}
	return out, nil
}

// GetCode returns the issued code of one kind.
func (r *BookingRepository) GetCode(ctx context.Context, bookingID int64, kind model.CodeKind) (*model.HandoverCode, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT booking_id, kind, code, visible_from, consumed_at, failed_attempts, created_at
		FROM handover_codes
		WHERE booking_id = $1 AND kind = $2
	`, bookingID, kind)
	c, err := scanCode(row)
	if err != nil {
		return nil, fmt.Errorf("booking %d code %s: %w", bookingID, kind, err)
	}
	return c, nil
}

// ─── Mutate ─────────────────────────────────────────────────

// Mutate locks the booking and its code rows, hands them to fn, and writes
// the result back in the same transaction.
//
// Concurrency: two hosts submitting the pickup code at once both reach
// SELECT ... FOR UPDATE; the second blocks until the first commits and then
// re-reads the booking as ACTIVE with the code consumed, so fn rejects it.
func (r *BookingRepository) Mutate(ctx context.Context, id int64, fn MutateFunc) (*model.Booking, error) {
	var out *model.Booking
	err := db.InTx(ctx, r.pool, db.DefaultTxTimeout, func(ctx context.Context, tx pgx.Tx) error {
		// ── Step 1: LOCK the booking row ────────────────────
		row := tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id)
		b, err := scanBooking(row)
		if err != nil {
			return fmt.Errorf("booking %d: lock: %w", id, err)
		}

		// ── Step 2: LOCK its code rows ──────────────────────
		locked := &LockedBooking{Booking: b}
		if locked.Codes, err = lockCodes(ctx, tx, id); err != nil {
			return err
		}

		// ── Step 3: Guards ──────────────────────────────────
		changed, err := fn(locked)
		if err != nil {
			return err
		}
		out = b
		if !changed {
			return nil
		}

		// ── Step 4: UPDATE ──────────────────────────────────
		_, err = tx.Exec(ctx, `
			UPDATE bookings
			SET status = $2,
			    pickup_code_verified_at = $3,
			    drop_code_verified_at = $4,
			    cancelled_at = $5,
			    cancel_reason = $6,
			    updated_at = $7
			WHERE id = $1
		`, id, b.Status, b.PickupCodeVerifiedAt, b.DropCodeVerifiedAt, b.CancelledAt, b.CancelReason, b.UpdatedAt)
		if err != nil {
			return fmt.Errorf("booking %d: update: %w", id, err)
		}
		for _, c := range locked.Codes {
			c.BookingID = id
			if err := upsertCode(ctx, tx, c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordFailedAttempt bumps the failure count on a code row outside of any
// verification transaction and returns the new count.
func (r *BookingRepository) RecordFailedAttempt(ctx context.Context, bookingID int64, kind model.CodeKind) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		UPDATE handover_codes
		SET failed_attempts = failed_attempts + 1
		WHERE booking_id = $1 AND kind = $2
		RETURNING failed_attempts
	`, bookingID, kind).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("booking %d code %s: %w", bookingID, kind, ErrNotFound)
		}
		return 0, fmt.Errorf("booking %d code %s: record failure: %w", bookingID, kind, err)
	}
	return n, nil
}

// ─── Helpers ────────────────────────────────────────────────

func lockCodes(ctx context.Context, tx pgx.Tx, id int64) (map[model.CodeKind]*model.HandoverCode, error) {
	rows, err := tx.Query(ctx, `
		SELECT booking_id, kind, code, visible_from, consumed_at, failed_attempts, created_at
		FROM handover_codes
		WHERE booking_id = $1
		FOR UPDATE
	`, id)
	if err != nil {
		return nil, fmt.Errorf("booking %d: lock codes: %w", id, err)
	}
	defer rows.Close()

	codes := make(map[model.CodeKind]*model.HandoverCode, 2)
	for rows.Next() {
		c, err := scanCode(rows)
		if err != nil {
			return nil, fmt.Errorf("booking %d: scan code: %w", id, err)
		}
		codes[c.Kind] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("booking %d: codes: %w", id, err)
	}
	return codes, nil
}

func upsertCode(ctx context.Context, tx pgx.Tx, c *model.HandoverCode) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO handover_codes (booking_id, kind, code, visible_from, consumed_at, failed_attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (booking_id, kind) DO UPDATE
		SET visible_from = EXCLUDED.visible_from,
		    consumed_at = EXCLUDED.consumed_at,
		    failed_attempts = EXCLUDED.failed_attempts
	`, c.BookingID, c.Kind, c.Code, c.VisibleFrom, c.ConsumedAt, c.FailedAttempts, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("booking %d: upsert code %s: %w", c.BookingID, c.Kind, err)
	}
	return nil
}

// listQuery builds the List statement. Admins see every booking.
func listQuery(f ListFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	switch f.Role {
	case model.RoleGuest:
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("guest_id = $%d", len(args)))
	case model.RoleHost:
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("host_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + bookingColumns + ` FROM bookings`)
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	args = append(args, limit, offset)
	fmt.Fprintf(&sb, " ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	return sb.String(), args
}

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var (
		b                  model.Booking
		tripStart, tripEnd *time.Time
	)
	err := row.Scan(
		&b.ID, &b.ListingID, &b.GuestID, &b.HostID, &b.ServiceMode,
		&b.Fare.BaseFare, &b.Fare.InsuranceFee, &b.Fare.DriverFee, &b.Fare.DropOffFee, &b.Fare.GSTAmount, &b.Fare.Total,
		&b.PickupAt, &b.DropAt, &tripStart, &tripEnd, &b.TripDistanceKm,
		&b.PickupLocation.Lat, &b.PickupLocation.Lon, &b.PickupLocation.Address,
		&b.DropLocation.Lat, &b.DropLocation.Lon, &b.DropLocation.Address,
		&b.Status, &b.PickupCodeVerifiedAt, &b.DropCodeVerifiedAt, &b.CancelledAt, &b.CancelReason,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if tripStart != nil {
		b.TripWindow = &model.TripWindow{StartAt: *tripStart, EstimatedEndAt: tripEnd}
	}
	return &b, nil
}

func scanCode(row pgx.Row) (*model.HandoverCode, error) {
	var c model.HandoverCode
	err := row.Scan(&c.BookingID, &c.Kind, &c.Code, &c.VisibleFrom, &c.ConsumedAt, &c.FailedAttempts, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}
