// Package experiments serves experiment-assignment treatments.
//
// Treatments come from static config. The service is optional: a nil
// *Service is valid and reports every treatment as absent, which callers
// must treat the same as a lookup miss.
package experiments

import (
	"context"
	"strings"
	"sync"

	"nudgebot/pkg/logx"
)

type Config struct {
	Treatments map[string]any
}

type Service struct {
	mu         sync.RWMutex
	treatments map[string]any
	log        logx.Logger
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log}
	s.Apply(cfg)
	return s
}

// Apply swaps the treatment table (config reload).
func (s *Service) Apply(cfg Config) {
	t := make(map[string]any, len(cfg.Treatments))
	for k, v := range cfg.Treatments {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		t[k] = v
	}
	s.mu.Lock()
	s.treatments = t
	s.mu.Unlock()
}

// GetTreatment returns the assigned treatment value for name.
// A nil service, an unknown name, and a nil value all report (nil, false).
func (s *Service) GetTreatment(ctx context.Context, name string) (any, bool) {
	_ = ctx
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	v, ok := s.treatments[name]
	s.mu.RUnlock()
	if !ok || v == nil {
		return nil, false
	}
	s.log.Trace("treatment resolved", logx.String("name", name), logx.Any("value", v))
	return v, true
}
