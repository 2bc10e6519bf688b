package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Storage is optional; without it state lives in process memory only
	// and the skip/remind-later flags do not survive restarts.
	Storage *StorageConfig `json:"storage,omitempty"`

	Product ProductConfig `json:"product"`
	Survey  SurveyConfig  `json:"survey"`

	// Experiments is optional. When the whole section is omitted no
	// assignment service exists, which gates the survey off.
	Experiments *ExperimentsConfig `json:"experiments,omitempty"`

	Janitor *JanitorConfig `json:"janitor,omitempty"`
}

type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./nudgebot_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ProductConfig describes the installation being surveyed. An empty
// survey_url disables the survey scheduler entirely.
type ProductConfig struct {
	SurveyURL string `json:"survey_url"`
	Version   string `json:"version"`
	Platform  string `json:"platform,omitempty"` // defaults to the OS name
}

// SurveyConfig overrides the scheduling policy constants.
// All fields are Go duration strings; omitted fields keep the defaults
// (wait_to_show "1h", max_install_age "24h", remind_later_delay "4h").
type SurveyConfig struct {
	WaitToShow       string `json:"wait_to_show,omitempty"`
	MaxInstallAge    string `json:"max_install_age,omitempty"`
	RemindLaterDelay string `json:"remind_later_delay,omitempty"`
}

type ExperimentsConfig struct {
	Treatments map[string]any `json:"treatments"`
}

type JanitorConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron spec or descriptor (default "@daily").
	Schedule string `json:"schedule,omitempty"`
	// EventRetention is a Go duration string; events older than this are
	// pruned. Empty keeps everything.
	EventRetention string `json:"event_retention,omitempty"`
}
