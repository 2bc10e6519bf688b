package survey

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"nudgebot/internal/transport"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// ---- fakes ----

type fakeStore struct {
	mu   sync.Mutex
	kv   map[string]string
	gets int
	sets int
}

func newFakeStore() *fakeStore { return &fakeStore{kv: map[string]string{}} }

func (f *fakeStore) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	return f.kv[key], nil
}

func (f *fakeStore) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	f.kv[key] = value
	return nil
}

func (f *fakeStore) get(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.kv[key]
}

type fakeExperiments struct {
	mu         sync.Mutex
	treatments map[string]any
	lookups    int
}

func (f *fakeExperiments) GetTreatment(ctx context.Context, name string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	v, ok := f.treatments[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

type loggedEvent struct {
	name  string
	props map[string]any
}

type fakeTelemetry struct {
	mu        sync.Mutex
	events    []loggedEvent
	info      InstallInfo
	infoErr   error
	infoCalls int
}

func (f *fakeTelemetry) Log(ctx context.Context, event string, props map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, loggedEvent{name: event, props: props})
}

func (f *fakeTelemetry) Info(ctx context.Context) (InstallInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infoCalls++
	if f.infoErr != nil {
		return InstallInfo{}, f.infoErr
	}
	return f.info, nil
}

func (f *fakeTelemetry) choices() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		c, _ := e.props["choice"].(string)
		out = append(out, c)
	}
	return out
}

type fakePresenter struct {
	mu      sync.Mutex
	prompts []transport.Prompt
}

func (f *fakePresenter) Prompt(ctx context.Context, p transport.Prompt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, p)
	return nil
}

func (f *fakePresenter) last(t *testing.T) transport.Prompt {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		t.Fatal("no prompt presented")
	}
	return f.prompts[len(f.prompts)-1]
}

type fakeOpener struct {
	mu   sync.Mutex
	urls []string
}

func (f *fakeOpener) OpenURL(ctx context.Context, rawURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, rawURL)
	return nil
}

// ---- harness ----

type harness struct {
	sched *Scheduler
	store *fakeStore
	exp   *fakeExperiments
	tel   *fakeTelemetry
	pres  *fakePresenter
	open  *fakeOpener

	mu    sync.Mutex
	armed []time.Duration
	fires []func()
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		store: newFakeStore(),
		exp:   &fakeExperiments{treatments: map[string]any{treatmentGate: true}},
		tel:   &fakeTelemetry{info: InstallInfo{FirstSessionDate: testNow.Format(time.RFC3339), MachineID: "m-1"}},
		pres:  &fakePresenter{},
		open:  &fakeOpener{},
	}
	if cfg.SurveyURL == "" {
		cfg.SurveyURL = "https://example.com/survey"
	}
	if cfg.Version == "" {
		cfg.Version = "1.4.2"
	}
	if cfg.Platform == "" {
		cfg.Platform = "linux"
	}
	s := New(cfg, Deps{
		Store:       h.store,
		Experiments: h.exp,
		Telemetry:   h.tel,
		Presenter:   h.pres,
		Opener:      h.open,
	})
	if s == nil {
		t.Fatal("New returned nil for a configured survey")
	}
	s.now = func() time.Time { return testNow }
	s.afterFunc = func(d time.Duration, f func()) *time.Timer {
		h.mu.Lock()
		h.armed = append(h.armed, d)
		h.fires = append(h.fires, f)
		h.mu.Unlock()
		tm := time.NewTimer(time.Hour)
		tm.Stop()
		return tm
	}
	h.sched = s
	return h
}

func (h *harness) armedWaits() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.armed...)
}

func (h *harness) fireLast(t *testing.T) {
	t.Helper()
	h.mu.Lock()
	if len(h.fires) == 0 {
		h.mu.Unlock()
		t.Fatal("no timer armed")
	}
	f := h.fires[len(h.fires)-1]
	h.mu.Unlock()
	f()
}

// ---- construction and gating ----

func TestNewWithoutSurveyURLIsInert(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	s := New(Config{}, Deps{Store: st})
	if s != nil {
		t.Fatal("expected nil scheduler without a survey url")
	}
	// nil receivers must be safe no-ops for callers that don't check.
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start on nil: %v", err)
	}
	s.Stop()
	if st.gets != 0 || st.sets != 0 {
		t.Fatalf("store touched: gets=%d sets=%d", st.gets, st.sets)
	}
}

func TestPersistedSkipShortCircuits(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.store.kv[KeySkip] = "1.0.0"

	if err := h.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := h.store.gets; got != 1 {
		t.Fatalf("gets = %d, want 1 (skip flag only)", got)
	}
	if h.store.sets != 0 {
		t.Fatalf("sets = %d, want 0", h.store.sets)
	}
	if h.exp.lookups != 0 {
		t.Fatalf("treatment lookups = %d, want 0", h.exp.lookups)
	}
	if len(h.armedWaits()) != 0 {
		t.Fatal("timer armed despite persisted skip")
	}
}

func TestIneligibleTreatmentSkipsWithSingleWrite(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Version: "2.0.0"})
	h.exp.treatments[treatmentGate] = false

	if err := h.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h.store.sets != 1 {
		t.Fatalf("sets = %d, want exactly 1", h.store.sets)
	}
	if got := h.store.get(KeySkip); got != "2.0.0" {
		t.Fatalf("skip flag = %q, want product version", got)
	}
	if len(h.armedWaits()) != 0 {
		t.Fatal("timer armed for ineligible installation")
	}
}

func TestAbsentExperimentServiceSkips(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.sched.deps.Experiments = nil

	if err := h.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := h.store.get(KeySkip); got == "" {
		t.Fatal("expected skip flag with no experiment service")
	}
	if len(h.armedWaits()) != 0 {
		t.Fatal("timer armed with no experiment service")
	}
}

func TestFreshInstallWaitsFullWindow(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})

	if err := h.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waits := h.armedWaits()
	if len(waits) != 1 || waits[0] != time.Hour {
		t.Fatalf("armed = %v, want [1h]", waits)
	}
	if h.store.sets != 0 {
		t.Fatalf("sets = %d, want 0", h.store.sets)
	}
}

func TestOldInstallSkips(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.tel.info.FirstSessionDate = testNow.Add(-25 * time.Hour).Format(time.RFC3339)

	if err := h.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := h.store.get(KeySkip); got == "" {
		t.Fatal("expected skip flag for old install")
	}
	if len(h.armedWaits()) != 0 {
		t.Fatal("timer armed for old install")
	}
}

func TestInstallInfoErrorSkips(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.tel.infoErr = context.DeadlineExceeded

	if err := h.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := h.store.get(KeySkip); got == "" {
		t.Fatal("expected skip flag when install info is unavailable")
	}
}

func TestRemindLaterTimestampTakesPriority(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		ago  time.Duration
		want time.Duration
	}{
		{name: "overdue", ago: 5 * time.Hour, want: 0},
		{name: "exactly due", ago: 4 * time.Hour, want: 0},
		{name: "pending", ago: time.Hour, want: 3 * time.Hour},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{})
			h.store.kv[KeyRemindLater] = testNow.Add(-tt.ago).UTC().Format(time.RFC3339)

			if err := h.sched.Start(context.Background()); err != nil {
				t.Fatalf("Start: %v", err)
			}
			waits := h.armedWaits()
			if len(waits) != 1 || waits[0] != tt.want {
				t.Fatalf("armed = %v, want [%v]", waits, tt.want)
			}
			if h.tel.infoCalls != 0 {
				t.Fatal("install-age path consulted despite remind-later timestamp")
			}
		})
	}
}

func TestUnparseableRemindLaterFiresImmediately(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.store.kv[KeyRemindLater] = "not-a-date"

	if err := h.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waits := h.armedWaits()
	if len(waits) != 1 || waits[0] != 0 {
		t.Fatalf("armed = %v, want [0]", waits)
	}
}

// ---- firing and choices ----

func startAndFire(t *testing.T, h *harness) transport.Prompt {
	t.Helper()
	if err := h.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.fireLast(t)
	return h.pres.last(t)
}

func TestPromptHasThreeChoicesAndDefaultCopy(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	p := startAndFire(t, h)

	if len(p.Choices) != 3 {
		t.Fatalf("choices = %d, want 3", len(p.Choices))
	}
	if !p.Sticky {
		t.Fatal("prompt must be sticky")
	}
	if p.Message != defaultMessage {
		t.Fatalf("message = %q, want default copy", p.Message)
	}
	if p.Choices[0].Label != defaultButton {
		t.Fatalf("button = %q, want default copy", p.Choices[0].Label)
	}
}

func TestPromptUsesTreatmentCopy(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.exp.treatments[treatmentMessage] = "How is it going?"
	h.exp.treatments[treatmentButton] = "Tell us"

	p := startAndFire(t, h)
	if p.Message != "How is it going?" {
		t.Fatalf("message = %q", p.Message)
	}
	if p.Choices[0].Label != "Tell us" {
		t.Fatalf("button = %q", p.Choices[0].Label)
	}
}

func TestAcceptOpensSurveyLinkAndSkips(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Version: "1.4 beta", Platform: "linux"})
	p := startAndFire(t, h)

	p.Choices[0].Run(context.Background())

	h.open.mu.Lock()
	urls := append([]string(nil), h.open.urls...)
	h.open.mu.Unlock()
	if len(urls) != 1 {
		t.Fatalf("opened %d urls, want 1", len(urls))
	}
	u, err := url.Parse(urls[0])
	if err != nil {
		t.Fatalf("opened url unparseable: %v", err)
	}
	q := u.Query()
	if q.Get("o") != "linux" || q.Get("v") != "1.4 beta" || q.Get("m") != "m-1" {
		t.Fatalf("query = %q", u.RawQuery)
	}
	if got := h.store.get(KeySkip); got != "1.4 beta" {
		t.Fatalf("skip flag = %q", got)
	}
	if got := h.tel.choices(); len(got) != 1 || got[0] != choiceNeverShowAgain {
		t.Fatalf("telemetry choices = %v", got)
	}
}

func TestRemindLaterPersistsAndRegatesOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	p := startAndFire(t, h)

	p.Choices[1].Run(context.Background())

	if got := h.store.get(KeyRemindLater); got != testNow.UTC().Format(time.RFC3339) {
		t.Fatalf("remind-later stamp = %q, want click instant", got)
	}
	if got := h.tel.choices(); len(got) != 1 || got[0] != choiceRemindLater {
		t.Fatalf("telemetry choices = %v", got)
	}
	// First arm from Start, second from the re-gating pass. The fresh
	// stamp means the next wait is the full remind-later delay.
	waits := h.armedWaits()
	if len(waits) != 2 {
		t.Fatalf("armed %d times, want 2", len(waits))
	}
	if waits[1] != 4*time.Hour {
		t.Fatalf("re-armed wait = %v, want 4h", waits[1])
	}
	if h.store.get(KeySkip) != "" {
		t.Fatal("remind later must not skip")
	}
}

func TestNeverShowAgainSkips(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Version: "3.1.0"})
	p := startAndFire(t, h)

	p.Choices[2].Run(context.Background())

	if got := h.store.get(KeySkip); got != "3.1.0" {
		t.Fatalf("skip flag = %q", got)
	}
	if got := h.tel.choices(); len(got) != 1 || got[0] != choiceNeverShowAgain {
		t.Fatalf("telemetry choices = %v", got)
	}
	if len(h.armedWaits()) != 1 {
		t.Fatal("never-show-again must not re-arm")
	}
}

func TestSkipIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Version: "5.0.0"})
	ctx := context.Background()
	if err := h.sched.skipSurvey(ctx); err != nil {
		t.Fatalf("skip: %v", err)
	}
	if err := h.sched.skipSurvey(ctx); err != nil {
		t.Fatalf("skip again: %v", err)
	}
	if got := h.store.get(KeySkip); got != "5.0.0" {
		t.Fatalf("skip flag = %q", got)
	}
}

func TestStopPreventsRearming(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	if err := h.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.sched.Stop()

	if err := h.sched.prepare(context.Background()); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if len(h.armedWaits()) != 1 {
		t.Fatalf("armed %d times, want 1 (no re-arm after Stop)", len(h.armedWaits()))
	}
}
