package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"nudgebot/internal/config"
	"nudgebot/internal/experiments"
	"nudgebot/internal/services/janitor"
	"nudgebot/internal/storage"
	"nudgebot/internal/survey"
	"nudgebot/internal/telemetry"
	"nudgebot/internal/transport/telegram"
	"nudgebot/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config yaml/json")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		ChatID:      cfg.Telegram.ChatID,
		ThreadID:    cfg.Telegram.ThreadID,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return err
	}

	logs, log := logx.New(logxConfig(cfg), adapter)
	defer logs.Close()
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	store, err := openStorage(cfg, log)
	if err != nil {
		return err
	}
	if store == nil {
		log.Warn("storage disabled; survey state will not survive restarts")
		store = storage.NewMemory()
	}
	defer store.Close()

	tel := telemetry.New(store, log.With(logx.String("comp", "telemetry")))

	var exp *experiments.Service
	if cfg.Experiments != nil {
		exp = experiments.New(experiments.Config{Treatments: cfg.Experiments.Treatments}, log.With(logx.String("comp", "experiments")))
	}

	var jan *janitor.Service
	if cfg.Janitor != nil {
		retention, err := config.ParseDurationField("janitor.event_retention", cfg.Janitor.EventRetention)
		if err != nil {
			return err
		}
		jan = janitor.New(janitor.Config{
			Enabled:        cfg.Janitor.Enabled,
			Schedule:       cfg.Janitor.Schedule,
			EventRetention: retention,
		}, store, log.With(logx.String("comp", "janitor")))
		if err := jan.Start(ctx); err != nil {
			return err
		}
	}

	if err := adapter.Start(ctx); err != nil {
		return err
	}

	sched, err := buildScheduler(cfg, store, exp, tel, adapter, log)
	if err != nil {
		return err
	}
	if sched == nil {
		log.Info("survey disabled (no survey_url configured)")
	} else if err := sched.Start(ctx); err != nil {
		log.Warn("survey scheduler start failed", logx.Err(err))
	}

	go func() { _ = cfgm.Watch(ctx) }()
	go applyReloads(ctx, cfgm, logs, exp)

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	go watchdogLoop(ctx)
	log.Info("nudgebot started", logx.String("config", cfgPath))

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	sched.Stop()
	if jan != nil {
		jan.Stop(stopCtx)
	}
	_ = adapter.Stop(stopCtx)
	log.Info("nudgebot stopped")
	return nil
}

func openStorage(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	if cfg.Storage == nil {
		return nil, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	return storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "storage")))
}

func buildScheduler(cfg *config.Config, store storage.Store, exp *experiments.Service, tel *telemetry.Service, adapter *telegram.Adapter, log logx.Logger) (*survey.Scheduler, error) {
	waitToShow, err := config.ParseDurationField("survey.wait_to_show", cfg.Survey.WaitToShow)
	if err != nil {
		return nil, err
	}
	maxAge, err := config.ParseDurationField("survey.max_install_age", cfg.Survey.MaxInstallAge)
	if err != nil {
		return nil, err
	}
	remindDelay, err := config.ParseDurationField("survey.remind_later_delay", cfg.Survey.RemindLaterDelay)
	if err != nil {
		return nil, err
	}

	// A typed nil *experiments.Service must become a nil interface here,
	// so the scheduler sees "no service" rather than a broken one.
	var expDep survey.Experiments
	if exp != nil {
		expDep = exp
	}

	return survey.New(survey.Config{
		SurveyURL:        cfg.Product.SurveyURL,
		Version:          cfg.Product.Version,
		Platform:         cfg.Product.Platform,
		WaitToShow:       waitToShow,
		MaxInstallAge:    maxAge,
		RemindLaterDelay: remindDelay,
	}, survey.Deps{
		Store:       store,
		Experiments: expDep,
		Telemetry:   telemetryPort{svc: tel},
		Presenter:   adapter,
		Opener:      adapter,
		Log:         log.With(logx.String("comp", "survey")),
	}), nil
}

// applyReloads picks up config file changes for the subsystems that can be
// adjusted at runtime (log levels/sinks, treatment table).
func applyReloads(ctx context.Context, cfgm *config.Manager, logs *logx.Service, exp *experiments.Service) {
	sub := cfgm.Subscribe(1)
	defer cfgm.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub:
			if !ok || c == nil {
				return
			}
			logs.Apply(logxConfig(c))
			if exp != nil && c.Experiments != nil {
				exp.Apply(experiments.Config{Treatments: c.Experiments.Treatments})
			}
		}
	}
}

func logxConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Telegram.ChatID,
			ThreadID:   cfg.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// watchdogLoop pings the systemd watchdog at half the configured interval.
func watchdogLoop(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}

// telemetryPort adapts the telemetry service to the scheduler's view.
type telemetryPort struct{ svc *telemetry.Service }

func (p telemetryPort) Log(ctx context.Context, event string, props map[string]any) {
	p.svc.Log(ctx, event, props)
}

func (p telemetryPort) Info(ctx context.Context) (survey.InstallInfo, error) {
	i, err := p.svc.Info(ctx)
	if err != nil {
		return survey.InstallInfo{}, err
	}
	return survey.InstallInfo{FirstSessionDate: i.FirstSessionDate, MachineID: i.MachineID}, nil
}
