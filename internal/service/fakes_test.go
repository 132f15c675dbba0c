package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shiva/rentwheels/internal/model"
	"github.com/shiva/rentwheels/internal/repository"
)

var errStoreDown = errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")

// ─── memStore ───────────────────────────────────────────────

// memStore is an in-memory BookingStore. Mutate holds the mutex for the
// whole callback, the way a row lock would.
type memStore struct {
	mu       sync.Mutex
	nextID   int64
	bookings map[int64]*model.Booking
	codes    map[int64]map[model.CodeKind]*model.HandoverCode
	calls    int
	down     bool
}

func newMemStore() *memStore {
	return &memStore{
		bookings: make(map[int64]*model.Booking),
		codes:    make(map[int64]map[model.CodeKind]*model.HandoverCode),
	}
}

func (m *memStore) enter() error {
	m.calls++
	if m.down {
		return errStoreDown
	}
	return nil
}

func (m *memStore) Create(_ context.Context, b *model.Booking, codes []model.HandoverCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(); err != nil {
		return err
	}
	m.nextID++
	b.ID = m.nextID
	cp := *b
	m.bookings[b.ID] = &cp
	m.codes[b.ID] = make(map[model.CodeKind]*model.HandoverCode)
	for _, c := range codes {
		c := c
		c.BookingID = b.ID
		m.codes[b.ID][c.Kind] = &c
	}
	return nil
}

func (m *memStore) Get(_ context.Context, id int64) (*model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(); err != nil {
		return nil, err
	}
	b, ok := m.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %d: %w", id, repository.ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) List(_ context.Context, f repository.ListFilter) ([]model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(); err != nil {
		return nil, err
	}
	var out []model.Booking
	for id := int64(1); id <= m.nextID; id++ {
		b, ok := m.bookings[id]
		if !ok {
			continue
		}
		switch {
		case f.Role == model.RoleGuest && b.GuestID != f.UserID:
			continue
		case f.Role == model.RoleHost && b.HostID != f.UserID:
			continue
		case f.Status != "" && b.Status != f.Status:
			continue
		}
		out = append(out, *b)
	}
	return out, nil
}

func (m *memStore) GetCode(_ context.Context, id int64, kind model.CodeKind) (*model.HandoverCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(); err != nil {
		return nil, err
	}
	c, ok := m.codes[id][kind]
	if !ok {
		return nil, fmt.Errorf("booking %d code %s: %w", id, kind, repository.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) Mutate(_ context.Context, id int64, fn repository.MutateFunc) (*model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(); err != nil {
		return nil, err
	}
	b, ok := m.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %d: lock: %w", id, repository.ErrNotFound)
	}

	cp := *b
	locked := &repository.LockedBooking{Booking: &cp, Codes: make(map[model.CodeKind]*model.HandoverCode)}
	for k, c := range m.codes[id] {
		c := *c
		locked.Codes[k] = &c
	}

	changed, err := fn(locked)
	if err != nil {
		return nil, err
	}
	if !changed {
		return locked.Booking, nil
	}

	stored := *locked.Booking
	m.bookings[id] = &stored
	for k, c := range locked.Codes {
		c := *c
		c.BookingID = id
		m.codes[id][k] = &c
	}
	return locked.Booking, nil
}

func (m *memStore) RecordFailedAttempt(_ context.Context, id int64, kind model.CodeKind) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(); err != nil {
		return 0, err
	}
	c, ok := m.codes[id][kind]
	if !ok {
		return 0, repository.ErrNotFound
	}
	c.FailedAttempts++
	return c.FailedAttempts, nil
}

func (m *memStore) booking(id int64) model.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.bookings[id]
}

func (m *memStore) code(id int64, kind model.CodeKind) model.HandoverCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.codes[id][kind]
}

func (m *memStore) put(b model.Booking, codes ...model.HandoverCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID > m.nextID {
		m.nextID = b.ID
	}
	m.bookings[b.ID] = &b
	m.codes[b.ID] = make(map[model.CodeKind]*model.HandoverCode)
	for _, c := range codes {
		c := c
		c.BookingID = b.ID
		m.codes[b.ID][c.Kind] = &c
	}
}

// ─── memAttempts ────────────────────────────────────────────

type attemptKey struct {
	id   int64
	kind model.CodeKind
}

type memAttempts struct {
	mu        sync.Mutex
	failures  map[attemptKey]int
	inFlight  map[attemptKey]string
	calls     int
	seq       int
	onAcquire func()
}

func newMemAttempts() *memAttempts {
	return &memAttempts{failures: make(map[attemptKey]int), inFlight: make(map[attemptKey]string)}
}

func (a *memAttempts) Failures(_ context.Context, id int64, kind model.CodeKind) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.failures[attemptKey{id, kind}], nil
}

func (a *memAttempts) RecordFailure(_ context.Context, id int64, kind model.CodeKind, _ time.Duration) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	a.failures[attemptKey{id, kind}]++
	return a.failures[attemptKey{id, kind}], nil
}

func (a *memAttempts) Reset(_ context.Context, id int64, kind model.CodeKind) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	delete(a.failures, attemptKey{id, kind})
	return nil
}

func (a *memAttempts) Acquire(_ context.Context, id int64, kind model.CodeKind, _ time.Duration) (string, bool, error) {
	a.mu.Lock()
	a.calls++
	k := attemptKey{id, kind}
	if _, held := a.inFlight[k]; held {
		a.mu.Unlock()
		return "", false, nil
	}
	a.seq++
	token := fmt.Sprintf("t%d", a.seq)
	a.inFlight[k] = token
	hook := a.onAcquire
	a.mu.Unlock()
	if hook != nil {
		hook()
	}
	return token, true, nil
}

func (a *memAttempts) Release(_ context.Context, id int64, kind model.CodeKind, token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	k := attemptKey{id, kind}
	if a.inFlight[k] == token {
		delete(a.inFlight, k)
	}
	return nil
}

// ─── memQuotes ──────────────────────────────────────────────

type memQuotes struct {
	mu   sync.Mutex
	data map[string][]byte
	down bool
}

func newMemQuotes() *memQuotes {
	return &memQuotes{data: make(map[string][]byte)}
}

func (q *memQuotes) Save(_ context.Context, id string, v any, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.down {
		return errStoreDown
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	q.data[id] = payload
	return nil
}

func (q *memQuotes) Load(_ context.Context, id string, v any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.down {
		return errStoreDown
	}
	payload, ok := q.data[id]
	if !ok {
		return fmt.Errorf("quote %s: %w", id, repository.ErrNotFound)
	}
	return json.Unmarshal(payload, v)
}

func (q *memQuotes) Delete(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.data, id)
	return nil
}

func (q *memQuotes) has(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.data[id]
	return ok
}
