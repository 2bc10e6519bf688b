package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"nudgebot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.events.jsonl      (append-only JSON Lines)
//   - <prefix>.kv.snapshot.json  (periodic snapshot)
//   - <prefix>.kv.journal.jsonl  (append-only journal)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	eventsPath string
	eventsFile *os.File

	kvSnapshotPath string
	kvJournalFile  *os.File
	kv             map[string]string

	kvWrites int
}

type kvRecord struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type eventRecord struct {
	At    string `json:"at"` // RFC3339Nano
	Name  string `json:"name"`
	Props string `json:"props,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	eventsPath := prefix + ".events.jsonl"
	snapPath := prefix + ".kv.snapshot.json"
	journalPath := prefix + ".kv.journal.jsonl"

	ef, err := os.OpenFile(eventsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	// Load kv from snapshot + journal.
	kv := map[string]string{}
	_ = loadKVSnapshot(snapPath, kv)
	_ = replayKVJournal(journalPath, kv)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = ef.Close()
		return nil, err
	}

	return &fileStore{
		log:            log,
		eventsPath:     eventsPath,
		eventsFile:     ef,
		kvSnapshotPath: snapPath,
		kvJournalFile:  jf,
		kv:             kv,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.eventsFile != nil {
		err1 = s.eventsFile.Close()
		s.eventsFile = nil
	}
	if s.kvJournalFile != nil {
		err2 = s.kvJournalFile.Close()
		s.kvJournalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) Get(ctx context.Context, key string) (string, error) {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return "", nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv[key], nil
}

func (s *fileStore) Set(ctx context.Context, key, value string) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kvJournalFile == nil {
		return errors.New("kv journal closed")
	}
	s.kv[key] = value

	enc := json.NewEncoder(s.kvJournalFile)
	if err := enc.Encode(kvRecord{Key: key, Value: value}); err != nil {
		return err
	}
	s.kvWrites++
	if s.kvWrites%100 == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("kv compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) AppendEvent(ctx context.Context, e Event) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventsFile == nil {
		return errors.New("events file closed")
	}
	enc := json.NewEncoder(s.eventsFile)
	return enc.Encode(eventRecord{
		At:    e.At.UTC().Format(time.RFC3339Nano),
		Name:  e.Name,
		Props: e.Props,
	})
}

// PruneEvents rewrites the events file keeping only entries at or after
// olderThan. Unparseable lines are dropped.
func (s *fileStore) PruneEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventsFile == nil {
		return 0, errors.New("events file closed")
	}

	in, err := os.Open(s.eventsPath)
	if err != nil {
		return 0, err
	}

	tmp := s.eventsPath + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		_ = in.Close()
		return 0, err
	}

	var pruned int64
	w := bufio.NewWriter(out)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := sc.Bytes()
		var r eventRecord
		if err := json.Unmarshal(line, &r); err != nil {
			pruned++
			continue
		}
		at, err := time.Parse(time.RFC3339Nano, r.At)
		if err != nil || at.Before(olderThan) {
			pruned++
			continue
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	scanErr := sc.Err()
	_ = in.Close()
	if err := w.Flush(); err != nil {
		_ = out.Close()
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, err
	}
	if scanErr != nil {
		return 0, scanErr
	}

	_ = s.eventsFile.Close()
	if err := os.Rename(tmp, s.eventsPath); err != nil {
		return 0, err
	}
	ef, err := os.OpenFile(s.eventsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.eventsFile = nil
		return pruned, err
	}
	s.eventsFile = ef
	return pruned, nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.kvSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.kv); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.kvSnapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.kvJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.kvJournalFile.Seek(0, 2)
	return err
}

func loadKVSnapshot(path string, out map[string]string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]string
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayKVJournal(path string, out map[string]string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r kvRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.Key == "" {
			continue
		}
		out[r.Key] = r.Value
	}
	return sc.Err()
}
