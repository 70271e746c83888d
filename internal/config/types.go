package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("500ms", "10s", "5m"). Empty strings and zero numbers take the
// defaults applied by the app when mapping sections onto components.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	GitHub   GitHubConfig   `json:"github"`
	Polling  PollingConfig  `json:"polling"`

	// TaskEngine controls the shared worker pool all polls run on.
	TaskEngine TaskEngineConfig `json:"task_engine"`

	// Notifier is optional; when omitted the notifier runs with defaults.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  StorageConfig   `json:"storage"`
	HTTP     HTTPConfig      `json:"http"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// LogChatID receives warn+ log records when logging.telegram is enabled.
	LogChatID int64 `json:"log_chat_id,omitempty"`
	// PollTimeout is the long-poll timeout.
	PollTimeout string `json:"poll_timeout"`
	APIURL      string `json:"api_url,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	JSON     bool            `json:"json,omitempty"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// GitHubConfig configures the REST client and the seed file.
//
// Example:
//
//	"github": { "token": "", "repos_file": "./github_repos.yml" }
type GitHubConfig struct {
	Token     string `json:"token,omitempty"` // never logged
	BaseURL   string `json:"base_url,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
	// ReposFile lists repositories tracked at startup.
	ReposFile string `json:"repos_file,omitempty"`
	// ReleaseSource is "api" (default) or "atom". The atom feed does not
	// count against the rate limit but has no author or download data.
	ReleaseSource string `json:"release_source,omitempty"`
}

// PollingConfig controls how often each resource is checked.
//
// Defaults:
//   - repo_interval: "5m", commits_offset: "0s", comments_offset: "2m"
//   - package_interval: "10m", package_offset: "1m"
//   - initial_lookback: "1h"
//   - task_timeout: "60s"
//   - short_retry_after: "30s"
//   - retry_max: 3, retry_base: "2s", retry_max_delay: "30s"
type PollingConfig struct {
	RepoInterval    string `json:"repo_interval,omitempty"`
	CommitsOffset   string `json:"commits_offset,omitempty"`
	CommentsOffset  string `json:"comments_offset,omitempty"`
	PackageInterval string `json:"package_interval,omitempty"`
	PackageOffset   string `json:"package_offset,omitempty"`
	InitialLookback string `json:"initial_lookback,omitempty"`
	TaskTimeout     string `json:"task_timeout,omitempty"`
	ShortRetryAfter string `json:"short_retry_after,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	// StartupSpread caps the random delay added to each schedule's first run.
	StartupSpread string `json:"startup_spread,omitempty"`
}

// TaskEngineConfig controls the task execution engine.
//
// Enabled is a pointer so an omitted value means enabled.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 3
//   - circuit_trip_failures: 5 (negative disables the breaker)
type TaskEngineConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	Workers int   `json:"workers,omitempty"`

	QueueSize int `json:"queue_size,omitempty"`

	DefaultTimeout string `json:"default_timeout,omitempty"`

	// MaxQueueDelay drops tasks that have been queued longer than this duration.
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
	RetryMax    int `json:"retry_max,omitempty"`

	CircuitTripFailures int    `json:"circuit_trip_failures,omitempty"`
	CircuitBaseDelay    string `json:"circuit_base_delay,omitempty"`
	CircuitMaxDelay     string `json:"circuit_max_delay,omitempty"`
	CircuitResetAfter   string `json:"circuit_reset_after,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	SendTimeout   string `json:"send_timeout,omitempty"`
	HistorySize   int    `json:"history_size,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// HTTPConfig controls the operational HTTP API.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8080").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8080"
	Token         string `json:"token,omitempty"` // bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// TaskEngineEnabled reports the effective engine switch.
func (c *Config) TaskEngineEnabled() bool {
	if c == nil || c.TaskEngine.Enabled == nil {
		return true
	}
	return *c.TaskEngine.Enabled
}
