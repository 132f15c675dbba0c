// Package cache opens the Redis client and owns the key namespace shared by
// the quote cache and the handover attempt guards.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shiva/rentwheels/config"
	"github.com/shiva/rentwheels/internal/model"
)

// ─── Keys ───────────────────────────────────────────────────

const (
	quotePrefix    = "quote:"
	failurePrefix  = "handover:fail:"
	inFlightPrefix = "handover:inflight:"
	healthKey      = "health:ping"
)

// QuoteKey holds one cached fare quote.
func QuoteKey(id string) string { return quotePrefix + id }

// FailureKey counts failed code entries inside the lockout window.
func FailureKey(bookingID int64, kind model.CodeKind) string {
	return fmt.Sprintf("%s%d:%s", failurePrefix, bookingID, kind)
}

// InFlightKey marks a verification of one code as running.
func InFlightKey(bookingID int64, kind model.CodeKind) string {
	return fmt.Sprintf("%s%d:%s", inFlightPrefix, bookingID, kind)
}

// ─── Client ─────────────────────────────────────────────────

// Options maps the config onto go-redis options. Command deadlines follow
// the caller's context, so a request timeout also bounds its Redis calls.
func Options(cfg config.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:                  cfg.Addr(),
		Password:              cfg.Password,
		DB:                    cfg.DB,
		ClientName:            "rentwheels",
		PoolSize:              cfg.PoolSize,
		MinIdleConns:          2,
		DialTimeout:           3 * time.Second,
		ReadTimeout:           time.Second,
		WriteTimeout:          time.Second,
		ContextTimeoutEnabled: true,
	}
}

// NewRedisClient opens a client and fails fast if Redis does not answer.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(Options(cfg))

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.Addr(), err)
	}
	return client, nil
}

// HealthCheck confirms Redis accepts writes. A read-only replica answers
// PING but cannot hold quotes or in-flight markers.
func HealthCheck(ctx context.Context, client *redis.Client) error {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Set(checkCtx, healthKey, time.Now().Unix(), 10*time.Second).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}
