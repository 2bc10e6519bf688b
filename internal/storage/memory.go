package storage

import (
	"context"
	"strings"
	"sync"
	"time"
)

// memStore keeps state in process memory. Used when no durable driver is
// configured; the scheduler still works, but skip/remind-later state is
// rebuilt from scratch on restart.
type memStore struct {
	mu     sync.Mutex
	kv     map[string]string
	events []Event
}

func NewMemory() Store {
	return &memStore{kv: map[string]string{}}
}

func (s *memStore) Get(ctx context.Context, key string) (string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv[strings.TrimSpace(key)], nil
}

func (s *memStore) Set(ctx context.Context, key, value string) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = value
	return nil
}

func (s *memStore) AppendEvent(ctx context.Context, e Event) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *memStore) PruneEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	var pruned int64
	for _, e := range s.events {
		if e.At.Before(olderThan) {
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return pruned, nil
}

func (s *memStore) Close() error { return nil }
