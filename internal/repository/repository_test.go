package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiva/rentwheels/internal/model"
	"github.com/shiva/rentwheels/pkg/cache"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// ─── Quotes ─────────────────────────────────────────────────

type cachedQuote struct {
	ID   string              `json:"id"`
	Fare model.FareBreakdown `json:"fare"`
	Note string              `json:"note"`
}

func TestQuoteRepository_SaveLoad(t *testing.T) {
	mr, client := newRedis(t)
	repo := NewQuoteRepository(client)
	ctx := context.Background()

	in := cachedQuote{ID: "q1", Fare: model.FareBreakdown{BaseFare: 300, GSTAmount: 54, Total: 354}, Note: "x"}
	require.NoError(t, repo.Save(ctx, "q1", in, 15*time.Minute))
	assert.True(t, mr.Exists("quote:q1"))

	var out cachedQuote
	require.NoError(t, repo.Load(ctx, "q1", &out))
	assert.Equal(t, in, out)
}

func TestQuoteRepository_Expired(t *testing.T) {
	mr, client := newRedis(t)
	repo := NewQuoteRepository(client)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "q2", cachedQuote{ID: "q2"}, time.Minute))
	mr.FastForward(2 * time.Minute)

	var out cachedQuote
	err := repo.Load(ctx, "q2", &out)
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestQuoteRepository_Delete(t *testing.T) {
	_, client := newRedis(t)
	repo := NewQuoteRepository(client)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "q3", cachedQuote{ID: "q3"}, time.Minute))
	require.NoError(t, repo.Delete(ctx, "q3"))

	var out cachedQuote
	assert.ErrorIs(t, repo.Load(ctx, "q3", &out), ErrNotFound)
}

// ─── Attempts ───────────────────────────────────────────────

func TestAttemptRepository_Failures(t *testing.T) {
	mr, client := newRedis(t)
	repo := NewAttemptRepository(client)
	ctx := context.Background()

	n, err := repo.Failures(ctx, 7, model.CodePickup)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for want := 1; want <= 3; want++ {
		n, err = repo.RecordFailure(ctx, 7, model.CodePickup, 10*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	n, err = repo.Failures(ctx, 7, model.CodePickup)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Window starts at the first failure.
	assert.Equal(t, 10*time.Minute, mr.TTL("handover:fail:7:PICKUP"))
	mr.FastForward(11 * time.Minute)
	n, err = repo.Failures(ctx, 7, model.CodePickup)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAttemptRepository_KindsAreSeparate(t *testing.T) {
	_, client := newRedis(t)
	repo := NewAttemptRepository(client)
	ctx := context.Background()

	_, err := repo.RecordFailure(ctx, 7, model.CodePickup, time.Minute)
	require.NoError(t, err)

	n, err := repo.Failures(ctx, 7, model.CodeDrop)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, repo.Reset(ctx, 7, model.CodePickup))
	n, err = repo.Failures(ctx, 7, model.CodePickup)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAttemptRepository_InFlight(t *testing.T) {
	_, client := newRedis(t)
	repo := NewAttemptRepository(client)
	ctx := context.Background()

	token, ok, err := repo.Acquire(ctx, 9, model.CodeDrop, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, err = repo.Acquire(ctx, 9, model.CodeDrop, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while the first is in flight")

	require.NoError(t, repo.Release(ctx, 9, model.CodeDrop, token))
	_, ok, err = repo.Acquire(ctx, 9, model.CodeDrop, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAttemptRepository_ReleaseKeepsLaterOwner(t *testing.T) {
	mr, client := newRedis(t)
	repo := NewAttemptRepository(client)
	ctx := context.Background()

	slow, ok, err := repo.Acquire(ctx, 9, model.CodePickup, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// The slow verification outlives its marker and a second one takes over.
	mr.FastForward(2 * time.Second)
	next, ok, err := repo.Acquire(ctx, 9, model.CodePickup, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, repo.Release(ctx, 9, model.CodePickup, slow))
	_, ok, err = repo.Acquire(ctx, 9, model.CodePickup, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "a stale release must not drop the current marker")

	require.NoError(t, repo.Release(ctx, 9, model.CodePickup, next))
	assert.False(t, mr.Exists(cache.InFlightKey(9, model.CodePickup)))
}

func TestAttemptRepository_FailureWindowSetAtomically(t *testing.T) {
	mr, client := newRedis(t)
	repo := NewAttemptRepository(client)
	ctx := context.Background()

	_, err := repo.RecordFailure(ctx, 3, model.CodeDrop, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL(cache.FailureKey(3, model.CodeDrop)))

	_, err = repo.RecordFailure(ctx, 3, model.CodeDrop, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL(cache.FailureKey(3, model.CodeDrop)), "later failures must not extend the window")

	_, err = repo.RecordFailure(ctx, 4, model.CodeDrop, 0)
	require.NoError(t, err)
	assert.Zero(t, mr.TTL(cache.FailureKey(4, model.CodeDrop)))
}

func TestAttemptRepository_RedisDown(t *testing.T) {
	mr, client := newRedis(t)
	repo := NewAttemptRepository(client)
	mr.Close()

	_, _, err := repo.Acquire(context.Background(), 1, model.CodePickup, time.Second)
	assert.Error(t, err)
}

// ─── Bookings ───────────────────────────────────────────────

func TestListQuery(t *testing.T) {
	tests := []struct {
		name     string
		filter   ListFilter
		contains []string
		nargs    int
	}{
		{"guest", ListFilter{UserID: 4, Role: model.RoleGuest}, []string{"guest_id = $1", "LIMIT $2 OFFSET $3"}, 3},
		{"host with status", ListFilter{UserID: 4, Role: model.RoleHost, Status: model.StatusActive}, []string{"host_id = $1", "status = $2", "LIMIT $3 OFFSET $4"}, 4},
		{"admin", ListFilter{UserID: 1, Role: model.RoleAdmin}, []string{"FROM bookings ORDER BY", "LIMIT $1 OFFSET $2"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, args := listQuery(tt.filter)
			for _, s := range tt.contains {
				assert.True(t, strings.Contains(q, s), "query %q missing %q", q, s)
			}
			assert.Len(t, args, tt.nargs)
		})
	}
}

func TestListQuery_ClampsLimit(t *testing.T) {
	_, args := listQuery(ListFilter{Role: model.RoleAdmin, Limit: 1000, Offset: -3})
	require.Len(t, args, 2)
	assert.Equal(t, 50, args[0])
	assert.Equal(t, 0, args[1])
}

func TestMemoryBookingRepository_MutateRollsBackOnError(t *testing.T) {
	repo := NewMemoryBookingRepository()
	ctx := context.Background()

	b := &model.Booking{Status: model.StatusPending}
	require.NoError(t, repo.Create(ctx, b, []model.HandoverCode{{Kind: model.CodePickup, Code: "123456"}}))
	require.Equal(t, int64(1), b.ID)

	_, err := repo.Mutate(ctx, b.ID, func(l *LockedBooking) (bool, error) {
		l.Booking.Status = model.StatusConfirmed
		return false, errors.New("guard failed")
	})
	require.Error(t, err)

	got, err := repo.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)

	_, err = repo.Mutate(ctx, b.ID, func(l *LockedBooking) (bool, error) {
		l.Booking.Status = model.StatusConfirmed
		l.Codes[model.CodeDrop] = &model.HandoverCode{Kind: model.CodeDrop, Code: "654321"}
		return true, nil
	})
	require.NoError(t, err)

	got, err = repo.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, got.Status)
	c, err := repo.GetCode(ctx, b.ID, model.CodeDrop)
	require.NoError(t, err)
	assert.Equal(t, "654321", c.Code)
}

func TestMemoryBookingRepository_ListPaging(t *testing.T) {
	repo := NewMemoryBookingRepository()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(ctx, &model.Booking{GuestID: 3, Status: model.StatusPending}, nil))
	}

	page, err := repo.List(ctx, ListFilter{UserID: 3, Role: model.RoleGuest, Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(4), page[0].ID)
	assert.Equal(t, int64(3), page[1].ID)

	_, err = repo.Get(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)
}
