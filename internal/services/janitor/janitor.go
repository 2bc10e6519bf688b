// Package janitor runs periodic storage maintenance.
package janitor

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"nudgebot/internal/storage"
	"nudgebot/pkg/logx"
)

type Config struct {
	Enabled bool

	// Schedule is a cron spec or descriptor (e.g. "@daily", "30 3 * * *").
	Schedule string

	// EventRetention drops telemetry events older than this. 0 keeps
	// everything.
	EventRetention time.Duration
}

type Service struct {
	mu sync.Mutex

	cfg   Config
	store storage.Store
	log   logx.Logger
	c     *cron.Cron
}

func New(cfg Config, store storage.Store, log logx.Logger) *Service {
	if cfg.Schedule == "" {
		cfg.Schedule = "@daily"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, store: store, log: log}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.store == nil || s.c != nil {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(s.cfg.Schedule, func() {
		runCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.runOnce(runCtx)
	})
	if err != nil {
		return err
	}
	s.c = c
	c.Start()
	s.log.Info("janitor started", logx.String("schedule", s.cfg.Schedule))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	s.log.Info("janitor stopped")
}

func (s *Service) runOnce(ctx context.Context) {
	if s.cfg.EventRetention <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.cfg.EventRetention)
	n, err := s.store.PruneEvents(ctx, cutoff)
	if err != nil {
		s.log.Warn("event prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		s.log.Info("events pruned", logx.Int64("count", n), logx.Time("cutoff", cutoff))
	}
}
