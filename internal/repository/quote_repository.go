package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shiva/rentwheels/pkg/cache"
)

// QuoteRepository caches fare quotes in Redis so the breakdown a guest saw is
// the one persisted at booking time.
type QuoteRepository struct {
	redis *redis.Client
}

// NewQuoteRepository creates a new quote repository.
func NewQuoteRepository(client *redis.Client) *QuoteRepository {
	return &QuoteRepository{redis: client}
}

// Save stores v as JSON under the quote id for ttl.
func (r *QuoteRepository) Save(ctx context.Context, id string, v any, ttl time.Duration) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("quote %s: encode: %w", id, err)
	}
	if err := r.redis.Set(ctx, cache.QuoteKey(id), payload, ttl).Err(); err != nil {
		return fmt.Errorf("quote %s: save: %w", id, err)
	}
	return nil
}

// Load decodes the cached quote into v. A missing or expired quote returns
// ErrNotFound.
func (r *QuoteRepository) Load(ctx context.Context, id string, v any) error {
	payload, err := r.redis.Get(ctx, cache.QuoteKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("quote %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("quote %s: load: %w", id, err)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("quote %s: decode: %w", id, err)
	}
	return nil
}

// Delete drops a quote once a booking has consumed it.
func (r *QuoteRepository) Delete(ctx context.Context, id string) error {
	if err := r.redis.Del(ctx, cache.QuoteKey(id)).Err(); err != nil {
		return fmt.Errorf("quote %s: delete: %w", id, err)
	}
	return nil
}
