package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"nudgebot/pkg/logx"
)

func testLogger() logx.Logger { return logx.Nop() }

func openTestStore(t *testing.T, dir string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "store")}, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return st
}

func TestFileStoreKVRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()

	st := openTestStore(t, dir)
	if v, err := st.Get(ctx, "ces/skipSurvey"); err != nil || v != "" {
		t.Fatalf("Get missing = (%q, %v), want empty", v, err)
	}
	if err := st.Set(ctx, "ces/skipSurvey", "1.2.3"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := st.Set(ctx, "ces/remindLaterDate", "2024-05-01T12:00:00Z"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	// Overwrite wins.
	if err := st.Set(ctx, "ces/skipSurvey", "1.2.4"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Values survive a reopen (journal replay).
	st = openTestStore(t, dir)
	defer st.Close()
	if v, _ := st.Get(ctx, "ces/skipSurvey"); v != "1.2.4" {
		t.Fatalf("skip flag after reopen = %q", v)
	}
	if v, _ := st.Get(ctx, "ces/remindLaterDate"); v != "2024-05-01T12:00:00Z" {
		t.Fatalf("remind-later after reopen = %q", v)
	}
}

func TestFileStoreEventsPrune(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()
	now := time.Now()

	st := openTestStore(t, dir)
	defer st.Close()

	old := Event{At: now.Add(-48 * time.Hour), Name: "ces.survey", Props: `{"choice":"remindLater"}`}
	fresh := Event{At: now, Name: "ces.survey", Props: `{"choice":"neverShowAgain"}`}
	if err := st.AppendEvent(ctx, old); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := st.AppendEvent(ctx, fresh); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	pruned, err := st.PruneEvents(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneEvents: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("pruned = %d, want 1", pruned)
	}

	// The survivor is still appendable-after (file was swapped out).
	if err := st.AppendEvent(ctx, fresh); err != nil {
		t.Fatalf("AppendEvent after prune: %v", err)
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, testLogger())
		if err != nil {
			t.Fatalf("Open(%q): %v", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q) = %T, want nil", driver, st)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "bolt"}, testLogger()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewMemory()
	defer st.Close()

	if err := st.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, _ := st.Get(ctx, "k"); v != "v" {
		t.Fatalf("Get = %q", v)
	}
	now := time.Now()
	_ = st.AppendEvent(ctx, Event{At: now.Add(-2 * time.Hour), Name: "a"})
	_ = st.AppendEvent(ctx, Event{At: now, Name: "b"})
	pruned, err := st.PruneEvents(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("PruneEvents: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("pruned = %d, want 1", pruned)
	}
}
