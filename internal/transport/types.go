package transport

import "context"

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Severity classifies a prompt for the presenting surface.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// Choice is one selectable prompt option. Run is invoked at most once,
// on its own goroutine, after the user picks the choice.
type Choice struct {
	Label string
	Run   func(ctx context.Context)
}

// Prompt is a message with a fixed set of choices. A sticky prompt stays
// visible until one choice is taken or the surface discards it; it never
// times out on its own.
type Prompt struct {
	Severity Severity
	Message  string
	Choices  []Choice
	Sticky   bool
}

// Adapter is the minimal chat transport used by services (log sink, opener).
type Adapter interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Presenter delivers an interactive prompt to the configured user.
type Presenter interface {
	Prompt(ctx context.Context, p Prompt) error
}

// Opener hands a URL to the user (for chat surfaces: posts a link message).
type Opener interface {
	OpenURL(ctx context.Context, rawURL string) error
}
