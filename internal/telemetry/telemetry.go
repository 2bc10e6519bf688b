// Package telemetry is the event sink and installation-info source.
//
// Events go to the structured log and, when storage is enabled, to the
// durable event log. Failures are swallowed: telemetry must never break
// the caller.
package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"nudgebot/internal/storage"
	"nudgebot/pkg/logx"
)

const (
	keyFirstSessionDate = "telemetry/firstSessionDate"
	keyMachineID        = "telemetry/machineId"
)

// Info identifies the installation.
type Info struct {
	FirstSessionDate string // RFC3339 UTC
	MachineID        string
}

type Service struct {
	store storage.Store // may be nil (log-only)
	log   logx.Logger
	now   func() time.Time

	mu     sync.Mutex
	cached *Info
}

func New(store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, log: log, now: time.Now}
}

// Log publishes a telemetry event. Errors are logged and dropped.
func (s *Service) Log(ctx context.Context, event string, props map[string]any) {
	if s == nil {
		return
	}
	fields := make([]logx.Field, 0, len(props)+1)
	fields = append(fields, logx.String("event", event))
	for k, v := range props {
		fields = append(fields, logx.Any(k, v))
	}
	s.log.Debug("telemetry event", fields...)

	if s.store == nil {
		return
	}
	var propsJSON string
	if len(props) > 0 {
		b, err := json.Marshal(props)
		if err != nil {
			s.log.Debug("telemetry props marshal failed", logx.Err(err))
		} else {
			propsJSON = string(b)
		}
	}
	if err := s.store.AppendEvent(ctx, storage.Event{At: s.now(), Name: event, Props: propsJSON}); err != nil {
		s.log.Debug("telemetry append failed", logx.String("event", event), logx.Err(err))
	}
}

// Info resolves the installation info, stamping first-session date and
// machine id into the store on first use. With no store the values live
// only for this process.
func (s *Service) Info(ctx context.Context) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil {
		return *s.cached, nil
	}

	first, err := s.stamp(ctx, keyFirstSessionDate, func() string {
		return s.now().UTC().Format(time.RFC3339)
	})
	if err != nil {
		return Info{}, err
	}
	machine, err := s.stamp(ctx, keyMachineID, func() string {
		return uuid.NewString()
	})
	if err != nil {
		return Info{}, err
	}

	info := Info{FirstSessionDate: first, MachineID: machine}
	s.cached = &info
	return info, nil
}

// stamp returns the persisted value for key, generating and persisting one
// if absent.
func (s *Service) stamp(ctx context.Context, key string, gen func() string) (string, error) {
	if s.store == nil {
		return gen(), nil
	}
	v, err := s.store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if v != "" {
		return v, nil
	}
	v = gen()
	if err := s.store.Set(ctx, key, v); err != nil {
		return "", err
	}
	return v, nil
}
