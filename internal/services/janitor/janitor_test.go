package janitor

import (
	"context"
	"testing"
	"time"

	"nudgebot/internal/storage"
	"nudgebot/pkg/logx"
)

type fakeStore struct {
	events     []storage.Event
	pruneCalls int
	lastCutoff time.Time
}

func (s *fakeStore) Get(ctx context.Context, key string) (string, error) { return "", nil }
func (s *fakeStore) Set(ctx context.Context, key, value string) error    { return nil }
func (s *fakeStore) Close() error                                        { return nil }

func (s *fakeStore) AppendEvent(ctx context.Context, e storage.Event) error {
	s.events = append(s.events, e)
	return nil
}

func (s *fakeStore) PruneEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	s.pruneCalls++
	s.lastCutoff = olderThan
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

func TestRunOncePrunesOnlyAgedEvents(t *testing.T) {
	t.Parallel()
	now := time.Now()
	store := &fakeStore{events: []storage.Event{
		{At: now.Add(-48 * time.Hour), Name: "old"},
		{At: now.Add(-time.Minute), Name: "fresh"},
	}}
	svc := New(Config{Enabled: true, EventRetention: 24 * time.Hour}, store, logx.Nop())

	svc.runOnce(context.Background())

	if store.pruneCalls != 1 {
		t.Fatalf("pruneCalls = %d, want 1", store.pruneCalls)
	}
	if len(store.events) != 1 || store.events[0].Name != "fresh" {
		t.Fatalf("surviving events = %+v, want only the fresh one", store.events)
	}
	wantCutoff := now.Add(-24 * time.Hour)
	if d := store.lastCutoff.Sub(wantCutoff); d < 0 || d > time.Minute {
		t.Fatalf("cutoff = %v, want about %v", store.lastCutoff, wantCutoff)
	}
}

func TestRunOnceZeroRetentionKeepsEverything(t *testing.T) {
	t.Parallel()
	store := &fakeStore{events: []storage.Event{
		{At: time.Now().Add(-30 * 24 * time.Hour), Name: "ancient"},
	}}
	svc := New(Config{Enabled: true}, store, logx.Nop())

	svc.runOnce(context.Background())

	if store.pruneCalls != 0 {
		t.Fatalf("pruneCalls = %d, want 0 when retention is unset", store.pruneCalls)
	}
	if len(store.events) != 1 {
		t.Fatalf("events = %+v, want everything kept", store.events)
	}
}
