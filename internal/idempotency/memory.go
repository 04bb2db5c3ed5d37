package idempotency

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory for local runs.
type MemoryStore struct {
	mu        sync.Mutex
	records   map[string]Record
	ttlWindow time.Duration
	nowFunc   func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(ttlWindow time.Duration) *MemoryStore {
	return &MemoryStore{
		records:   map[string]Record{},
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

func (s *MemoryStore) Begin(ctx context.Context, key, requestHash string) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFunc().UTC()
	if cur, ok := s.records[key]; ok && !claimable(cur, now) {
		return &cur, false, nil
	}
	s.records[key] = newRecord(key, requestHash, now, s.ttlWindow)
	return nil, true, nil
}

func (s *MemoryStore) MarkDone(ctx context.Context, key, orderID string, status int, body string) error {
	return s.update(key, func(r *Record) {
		r.Status = StatusDone
		r.OrderID = orderID
		r.ResponseStatus = status
		r.ResponseBody = body
	})
}

func (s *MemoryStore) MarkFailed(ctx context.Context, key, note string) error {
	return s.update(key, func(r *Record) {
		r.Status = StatusFailed
		r.Note = note
	})
}

func (s *MemoryStore) update(key string, fn func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key]
	if !ok {
		return fmt.Errorf("idempotency key %s: %w", key, ErrNotFound)
	}
	fn(&r)
	r.UpdatedAt = s.nowFunc().UTC()
	s.records[key] = r
	return nil
}
