// Package telegram implements the chat transport on the Telegram Bot API.
//
// It is the delivery surface for the survey prompt: a message with one
// inline button per choice. The prompt is sticky; buttons stay attached
// until one is pressed, then the keyboard is cleared and the chosen action
// runs exactly once.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "nudgebot/internal/transport"
	"nudgebot/pkg/logx"
)

type Config struct {
	Token       string
	ChatID      int64 // the user chat prompts and links are sent to
	ThreadID    int
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	runMu   sync.Mutex
	running bool

	stopBot  func() // bot.Stop; swapped in tests
	stopOnce sync.Once
	done     chan struct{} // closed when the poll loop exits

	nextPrompt atomic.Uint64

	// pending maps callback data to the armed prompt choices. Only one
	// prompt is live at a time; a press clears the whole prompt.
	pmu     sync.Mutex
	pending map[string]pendingChoice
}

type pendingChoice struct {
	promptID uint64
	run      func(ctx context.Context)
}

const callbackPrefix = "survey:choice:"

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{
		cfg:     cfg,
		log:     log,
		bot:     b,
		pending: map[string]pendingChoice{},
		stopBot: b.Stop,
		done:    make(chan struct{}),
	}
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil {
			return nil
		}
		data := strings.TrimSpace(strings.TrimPrefix(cb.Data, "\f"))
		if !strings.HasPrefix(data, callbackPrefix) {
			return c.Respond()
		}

		a.pmu.Lock()
		choice, ok := a.pending[data]
		if ok {
			// One decision per prompt: drop every sibling choice too.
			for k, v := range a.pending {
				if v.promptID == choice.promptID {
					delete(a.pending, k)
				}
			}
		}
		a.pmu.Unlock()

		_ = c.Respond(&tele.CallbackResponse{})
		if !ok {
			return nil
		}

		// Clear the keyboard so the prompt can't be answered twice.
		if _, err := a.bot.Edit(m, m.Text, &tele.SendOptions{}); err != nil {
			a.log.Debug("prompt keyboard clear failed", logx.Err(err))
		}

		go choice.run(context.Background())
		return nil
	})
}

func (a *Adapter) Start(ctx context.Context) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.runMu.Unlock()

	go func() {
		<-ctx.Done()
		a.shutdown()
	}()
	go func() {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		close(a.done)
	}()
	return nil
}

// shutdown asks the poller to stop. bot.Stop blocks until the poller
// confirms and must run at most once, so it is guarded and detached; Stop
// observes teardown through the done channel instead.
func (a *Adapter) shutdown() {
	a.stopOnce.Do(func() { go a.stopBot() })
}

// Stop requests poller shutdown and waits for the poll loop to exit,
// bounded by ctx.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()
	if !wasRunning {
		return nil
	}
	a.shutdown()
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return kit.MessageRef{}, ctx.Err()
		default:
		}
	}
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, text, &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              to.ThreadID,
	})
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

// Prompt sends the message with one inline button per choice to the
// configured chat.
func (a *Adapter) Prompt(ctx context.Context, p kit.Prompt) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	id := a.nextPrompt.Add(1)
	rm := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(p.Choices))

	a.pmu.Lock()
	for i, ch := range p.Choices {
		data := callbackPrefix + strconv.FormatUint(id, 10) + ":" + strconv.Itoa(i)
		a.pending[data] = pendingChoice{promptID: id, run: ch.Run}
		rows = append(rows, tele.Row{tele.Btn{Text: ch.Label, Data: data}})
	}
	a.pmu.Unlock()
	rm.Inline(rows...)

	_, err := a.bot.Send(&tele.Chat{ID: a.cfg.ChatID}, severityPrefix(p.Severity)+p.Message, &tele.SendOptions{
		ThreadID:    a.cfg.ThreadID,
		ReplyMarkup: rm,
	})
	if err != nil {
		a.pmu.Lock()
		for k, v := range a.pending {
			if v.promptID == id {
				delete(a.pending, k)
			}
		}
		a.pmu.Unlock()
		return fmt.Errorf("send prompt: %w", err)
	}
	return nil
}

// OpenURL posts the link to the configured chat; tapping it opens the URL
// on the user's device.
func (a *Adapter) OpenURL(ctx context.Context, rawURL string) error {
	_, err := a.SendText(ctx, kit.ChatTarget{ChatID: a.cfg.ChatID, ThreadID: a.cfg.ThreadID}, rawURL, &kit.SendOptions{})
	return err
}

func severityPrefix(s kit.Severity) string {
	switch s {
	case kit.SeverityWarning:
		return "⚠️ "
	case kit.SeverityError:
		return "🚨 "
	default:
		return ""
	}
}
