package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/shiva/rentwheels/internal/model"
	"github.com/shiva/rentwheels/pkg/cache"
)

// AttemptRepository tracks failed handover code entries and marks a
// verification as in flight so a double submit is rejected early.
type AttemptRepository struct {
	redis *redis.Client
}

// NewAttemptRepository creates a new attempt repository.
func NewAttemptRepository(client *redis.Client) *AttemptRepository {
	return &AttemptRepository{redis: client}
}

// Failures returns the failed-entry count inside the current window.
func (r *AttemptRepository) Failures(ctx context.Context, bookingID int64, kind model.CodeKind) (int, error) {
	n, err := r.redis.Get(ctx, cache.FailureKey(bookingID, kind)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("attempts %d/%s: get: %w", bookingID, kind, err)
	}
	return n, nil
}

// recordFailure increments the counter and starts the window on the first
// failure in one round trip.
var recordFailure = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 and tonumber(ARGV[1]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RecordFailure increments the counter. The window starts at the first
// failure and is not extended by later ones.
func (r *AttemptRepository) RecordFailure(ctx context.Context, bookingID int64, kind model.CodeKind, window time.Duration) (int, error) {
	n, err := recordFailure.Run(ctx, r.redis, []string{cache.FailureKey(bookingID, kind)}, window.Milliseconds()).Int()
	if err != nil {
		return 0, fmt.Errorf("attempts %d/%s: record failure: %w", bookingID, kind, err)
	}
	return n, nil
}

// Reset clears the counter after a successful verification.
func (r *AttemptRepository) Reset(ctx context.Context, bookingID int64, kind model.CodeKind) error {
	if err := r.redis.Del(ctx, cache.FailureKey(bookingID, kind)).Err(); err != nil {
		return fmt.Errorf("attempts %d/%s: reset: %w", bookingID, kind, err)
	}
	return nil
}

// releaseOwned deletes the marker only if it still holds the caller's token.
var releaseOwned = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Acquire sets the in-flight marker with SETNX under a fresh token. ok is
// false when another verification of the same code is already running.
func (r *AttemptRepository) Acquire(ctx context.Context, bookingID int64, kind model.CodeKind, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = r.redis.SetNX(ctx, cache.InFlightKey(bookingID, kind), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("attempts %d/%s: acquire: %w", bookingID, kind, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release removes the in-flight marker if token still owns it. A marker that
// expired and was taken by a later request is left alone.
func (r *AttemptRepository) Release(ctx context.Context, bookingID int64, kind model.CodeKind, token string) error {
	if err := releaseOwned.Run(ctx, r.redis, []string{cache.InFlightKey(bookingID, kind)}, token).Err(); err != nil {
		return fmt.Errorf("attempts %d/%s: release: %w", bookingID, kind, err)
	}
	return nil
}
