package survey

import (
	"context"
	"net/url"
	"runtime"
	"sync"
	"time"

	"nudgebot/internal/transport"
	"nudgebot/pkg/logx"
)

// Persisted keys, global to the installation.
const (
	KeySkip        = "ces/skipSurvey"
	KeyRemindLater = "ces/remindLaterDate"
)

// Treatment names consumed from the experiment service.
const (
	treatmentGate    = "CESSurvey"
	treatmentMessage = "CESSurveyMessage"
	treatmentButton  = "CESSurveyButton"
)

const (
	eventPrompt = "ces.survey"

	choiceRemindLater    = "remindLater"
	choiceNeverShowAgain = "neverShowAgain"

	defaultMessage = "Got a minute? Tell us how things are going so far by taking a short survey."
	defaultButton  = "Take survey"
	remindLabel    = "Remind me later"
	neverLabel     = "Don't show again"
)

// Default policy constants; overridable via Config.
const (
	DefaultWaitToShow       = time.Hour
	DefaultMaxInstallAge    = 24 * time.Hour
	DefaultRemindLaterDelay = 4 * time.Hour
)

// Store is the persisted key-value state the scheduler reads and writes.
// Get returns "" for a missing key.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// Experiments resolves treatment assignments. The collaborator is optional:
// a nil interface value behaves like a service that has no treatments.
type Experiments interface {
	GetTreatment(ctx context.Context, name string) (any, bool)
}

// InstallInfo identifies the installation for gating and the survey link.
type InstallInfo struct {
	FirstSessionDate string
	MachineID        string
}

// Telemetry publishes events and resolves installation info.
type Telemetry interface {
	Log(ctx context.Context, event string, props map[string]any)
	Info(ctx context.Context) (InstallInfo, error)
}

type Config struct {
	SurveyURL string
	Version   string
	Platform  string // defaults to runtime.GOOS

	WaitToShow       time.Duration
	MaxInstallAge    time.Duration
	RemindLaterDelay time.Duration
}

type Deps struct {
	Store       Store
	Experiments Experiments // nil when no experiment service is configured
	Telemetry   Telemetry
	Presenter   transport.Presenter
	Opener      transport.Opener
	Log         logx.Logger
}

// Scheduler owns the single armed timer for the survey prompt.
type Scheduler struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	now       func() time.Time
	afterFunc func(d time.Duration, f func()) *time.Timer

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	runCtx  context.Context
}

// New builds the scheduler. A missing survey destination is a configuration
// precondition, not an error: New returns nil and the caller runs without
// survey prompting (no state is read, no timer is ever armed).
func New(cfg Config, deps Deps) *Scheduler {
	if cfg.SurveyURL == "" {
		return nil
	}
	if cfg.Platform == "" {
		cfg.Platform = runtime.GOOS
	}
	if cfg.WaitToShow <= 0 {
		cfg.WaitToShow = DefaultWaitToShow
	}
	if cfg.MaxInstallAge <= 0 {
		cfg.MaxInstallAge = DefaultMaxInstallAge
	}
	if cfg.RemindLaterDelay <= 0 {
		cfg.RemindLaterDelay = DefaultRemindLaterDelay
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		cfg:       cfg,
		deps:      deps,
		log:       log,
		now:       time.Now,
		afterFunc: time.AfterFunc,
		runCtx:    context.Background(),
	}
}

// Start runs the initial gating pass. If a skip flag is already persisted
// the scheduler stays inert: no eligibility check, no timer.
func (s *Scheduler) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	s.runCtx = context.WithoutCancel(ctx)
	s.mu.Unlock()

	skipped, err := s.deps.Store.Get(ctx, KeySkip)
	if err != nil {
		return err
	}
	if skipped != "" {
		s.log.Debug("survey previously skipped", logx.String("version", skipped))
		return nil
	}
	return s.prepare(ctx)
}

// Stop cancels any pending armed timer. In-flight prompt choices are not
// cancelled; their side effects run to completion.
func (s *Scheduler) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// prepare is the gating and delay pass, run at startup and again after every
// remind-later choice. It either persists a permanent skip or (re-)arms the
// one-shot timer; re-arming replaces any previously scheduled firing.
func (s *Scheduler) prepare(ctx context.Context) error {
	if !s.eligible(ctx) {
		s.log.Info("survey not eligible for this installation")
		return s.skipSurvey(ctx)
	}

	d, err := s.computeWait(ctx)
	if err != nil {
		return err
	}
	if d.skip {
		s.log.Info("installation too old for survey")
		return s.skipSurvey(ctx)
	}
	s.arm(d.wait)
	return nil
}

// eligible asks the experiment service for the gating treatment. No service
// and no treatment are both a definitive negative; lookups are never retried.
func (s *Scheduler) eligible(ctx context.Context) bool {
	if s.deps.Experiments == nil {
		return false
	}
	v, ok := s.deps.Experiments.GetTreatment(ctx, treatmentGate)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func (s *Scheduler) computeWait(ctx context.Context) (decision, error) {
	raw, err := s.deps.Store.Get(ctx, KeyRemindLater)
	if err != nil {
		return decision{}, err
	}
	if raw != "" {
		return remindWait(s.now(), raw, s.cfg.RemindLaterDelay), nil
	}

	info, err := s.deps.Telemetry.Info(ctx)
	if err != nil {
		// No usable install date; treated the same as an unreadable one.
		s.log.Warn("install info unavailable", logx.Err(err))
		return decision{skip: true}, nil
	}
	return installGate(s.now(), info.FirstSessionDate, s.cfg.WaitToShow, s.cfg.MaxInstallAge), nil
}

func (s *Scheduler) arm(wait time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = s.afterFunc(wait, s.fire)
	s.log.Info("survey prompt armed", logx.Duration("wait", wait))
}

// fire presents the three-choice prompt. The prompt is sticky: it stays up
// until one choice is taken or the surface discards it.
func (s *Scheduler) fire() {
	s.mu.Lock()
	ctx := s.runCtx
	s.timer = nil
	s.mu.Unlock()

	message := defaultMessage
	button := defaultButton
	if v, ok := stringTreatment(ctx, s.deps.Experiments, treatmentMessage); ok {
		message = v
	}
	if v, ok := stringTreatment(ctx, s.deps.Experiments, treatmentButton); ok {
		button = v
	}

	p := transport.Prompt{
		Severity: transport.SeverityInfo,
		Message:  message,
		Sticky:   true,
		Choices: []transport.Choice{
			{Label: button, Run: s.accept},
			{Label: remindLabel, Run: s.remindLater},
			{Label: neverLabel, Run: s.neverShowAgain},
		},
	}
	if err := s.deps.Presenter.Prompt(ctx, p); err != nil {
		s.log.Warn("survey prompt failed", logx.Err(err))
	}
}

// accept opens the survey and forecloses future prompting. Accepting ends
// the asking, so it is recorded under the same tag as an explicit dismissal.
func (s *Scheduler) accept(ctx context.Context) {
	s.deps.Telemetry.Log(ctx, eventPrompt, map[string]any{"choice": choiceNeverShowAgain})

	info, err := s.deps.Telemetry.Info(ctx)
	if err != nil {
		s.log.Warn("install info unavailable", logx.Err(err))
	}
	link, err := s.surveyLink(info)
	if err != nil {
		s.log.Warn("bad survey url", logx.Err(err))
	} else if err := s.deps.Opener.OpenURL(ctx, link); err != nil {
		s.log.Warn("survey open failed", logx.Err(err))
	}
	if err := s.skipSurvey(ctx); err != nil {
		s.log.Warn("skip persist failed", logx.Err(err))
	}
}

func (s *Scheduler) remindLater(ctx context.Context) {
	s.deps.Telemetry.Log(ctx, eventPrompt, map[string]any{"choice": choiceRemindLater})
	stamp := s.now().UTC().Format(time.RFC3339)
	if err := s.deps.Store.Set(ctx, KeyRemindLater, stamp); err != nil {
		s.log.Warn("remind-later persist failed", logx.Err(err))
	}
	if err := s.prepare(ctx); err != nil {
		s.log.Warn("reschedule failed", logx.Err(err))
	}
}

func (s *Scheduler) neverShowAgain(ctx context.Context) {
	s.deps.Telemetry.Log(ctx, eventPrompt, map[string]any{"choice": choiceNeverShowAgain})
	if err := s.skipSurvey(ctx); err != nil {
		s.log.Warn("skip persist failed", logx.Err(err))
	}
}

// skipSurvey persists the permanent skip flag. Idempotent.
func (s *Scheduler) skipSurvey(ctx context.Context) error {
	return s.deps.Store.Set(ctx, KeySkip, s.cfg.Version)
}

// surveyLink appends the platform, version and machine id query parameters.
func (s *Scheduler) surveyLink(info InstallInfo) (string, error) {
	u, err := url.Parse(s.cfg.SurveyURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("o", s.cfg.Platform)
	q.Set("v", s.cfg.Version)
	q.Set("m", info.MachineID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func stringTreatment(ctx context.Context, exp Experiments, name string) (string, bool) {
	if exp == nil {
		return "", false
	}
	v, ok := exp.GetTreatment(ctx, name)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	if !ok || str == "" {
		return "", false
	}
	return str, true
}
