package store

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// memoryAdapter is a process-local Adapter used by tests and by
// single-process deployments that run without Redis. Publish delivers
// synchronously to subscribers in the same process.
type memoryAdapter struct {
	mu     sync.Mutex
	data   map[string]memoryEntry
	subs   map[string]map[int]func(payload []byte)
	nextID int
	now    func() time.Time
}

// NewMemoryAdapter creates an empty in-memory store.
func NewMemoryAdapter() Adapter {
	return &memoryAdapter{
		data: make(map[string]memoryEntry),
		subs: make(map[string]map[int]func(payload []byte)),
		now:  time.Now,
	}
}

// NewMemoryAdapterAt creates an in-memory store with an injected clock,
// so tests can step time across TTL boundaries.
func NewMemoryAdapterAt(now func() time.Time) Adapter {
	a := NewMemoryAdapter().(*memoryAdapter)
	a.now = now
	return a
}

func (a *memoryAdapter) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = a.now().Add(ttl)
	}
	a.data[key] = e
	return nil
}

func (a *memoryAdapter) Get(_ context.Context, key string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.data[key]
	if !ok || e.expired(a.now()) {
		delete(a.data, key)
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (a *memoryAdapter) Delete(_ context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.data, key)
	return nil
}

func (a *memoryAdapter) DeletePrefix(_ context.Context, prefix string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key := range a.data {
		if strings.HasPrefix(key, prefix) {
			delete(a.data, key)
		}
	}
	return nil
}

func (a *memoryAdapter) GetPrefix(_ context.Context, prefix string) (map[string][]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	out := make(map[string][]byte)
	for key, e := range a.data {
		if !strings.HasPrefix(key, prefix) || e.expired(now) {
			continue
		}
		out[key] = append([]byte(nil), e.value...)
	}
	return out, nil
}

func (a *memoryAdapter) Incr(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	e, ok := a.data[key]
	if !ok || e.expired(now) {
		a.data[key] = memoryEntry{value: []byte("1"), expiresAt: now.Add(window)}
		return 1, window, nil
	}
	count, _ := strconv.ParseInt(string(e.value), 10, 64)
	count++
	e.value = []byte(strconv.FormatInt(count, 10))
	a.data[key] = e
	return count, e.expiresAt.Sub(now), nil
}

func (a *memoryAdapter) Publish(_ context.Context, channel string, payload []byte) error {
	a.mu.Lock()
	handlers := make([]func([]byte), 0, len(a.subs[channel]))
	for _, h := range a.subs[channel] {
		handlers = append(handlers, h)
	}
	a.mu.Unlock()
	for _, h := range handlers {
		h(append([]byte(nil), payload...))
	}
	return nil
}

func (a *memoryAdapter) Subscribe(_ context.Context, channel string, handler func(payload []byte)) (func(), error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.subs[channel] == nil {
		a.subs[channel] = make(map[int]func([]byte))
	}
	id := a.nextID
	a.nextID++
	a.subs[channel][id] = handler
	stop := func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.subs[channel], id)
	}
	return stop, nil
}
