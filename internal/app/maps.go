package app

import (
	"strings"
	"time"

	"ghwatch/internal/config"
	"ghwatch/internal/github"
	"ghwatch/internal/httpapi"
	"ghwatch/internal/notifier"
	"ghwatch/internal/storage"
	"ghwatch/internal/task/engine"
	"ghwatch/internal/task/scheduler"
	kit "ghwatch/internal/transport"
	telegram "ghwatch/internal/transport/telegram/adapter"
	"ghwatch/internal/watch"
	"ghwatch/pkg/logx"
)

// durations parses a run of duration fields and keeps the first error.
type durations struct{ err error }

func (d *durations) get(path, raw string, def time.Duration) time.Duration {
	if d.err != nil {
		return def
	}
	v, err := config.ParseDurationOrDefault(path, raw, def)
	if err != nil {
		d.err = err
		return def
	}
	return v
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	var d durations
	pt := d.get("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pt,
		APIURL:      strings.TrimSpace(cfg.Telegram.APIURL),
	}, d.err
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		JSON:    l.JSON,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		Chat: logx.ChatConfig{
			// no target chat means nowhere to forward to
			Enabled:    l.Telegram.Enabled && cfg.Telegram.LogChatID != 0,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

// mapStorageConfig defaults to the file driver under ./data; the dedup
// state has to survive restarts.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "file":
		if path == "" {
			path = "./data"
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		var d durations
		busy := d.get("storage.busy_timeout", sc.BusyTimeout, time.Second)
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, d.err
	default:
		return storage.Config{Driver: driver, Path: path}, nil
	}
}

func mapGitHubConfig(cfg *config.Config) (github.Config, error) {
	var d durations
	timeout := d.get("github.timeout", cfg.GitHub.Timeout, 20*time.Second)
	return github.Config{
		Token:     strings.TrimSpace(cfg.GitHub.Token),
		BaseURL:   strings.TrimSpace(cfg.GitHub.BaseURL),
		UserAgent: strings.TrimSpace(cfg.GitHub.UserAgent),
		Timeout:   timeout,
	}, d.err
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	te := cfg.TaskEngine
	out := engine.Config{
		Enabled:             cfg.TaskEngineEnabled(),
		Workers:             te.Workers,
		QueueSize:           te.QueueSize,
		HistorySize:         te.HistorySize,
		RetryMax:            te.RetryMax,
		CircuitTripFailures: te.CircuitTripFailures,
	}
	if out.Workers <= 0 {
		out.Workers = 4
	}
	if out.QueueSize <= 0 {
		out.QueueSize = 256
	}
	if out.HistorySize <= 0 {
		out.HistorySize = 200
	}
	if out.RetryMax <= 0 {
		out.RetryMax = 3
	}

	var d durations
	out.DefaultTimeout = d.get("task_engine.default_timeout", te.DefaultTimeout, 0)
	out.MaxQueueDelay = d.get("task_engine.max_queue_delay", te.MaxQueueDelay, 0)
	out.CircuitBaseDelay = d.get("task_engine.circuit_base_delay", te.CircuitBaseDelay, 0)
	out.CircuitMaxDelay = d.get("task_engine.circuit_max_delay", te.CircuitMaxDelay, 0)
	out.CircuitResetAfter = d.get("task_engine.circuit_reset_after", te.CircuitResetAfter, 0)
	return out, d.err
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	var d durations
	spread := d.get("polling.startup_spread", cfg.Polling.StartupSpread, 30*time.Second)
	return scheduler.Config{Enabled: true, StartupSpread: spread}, d.err
}

// mapNotifierConfig treats an omitted section as enabled with defaults.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	if n == nil {
		return notifier.Config{Enabled: true}, nil
	}
	var d durations
	out := notifier.Config{
		Enabled:     n.Enabled,
		Workers:     n.Workers,
		QueueSize:   n.QueueSize,
		RatePerSec:  n.RatePerSec,
		RetryMax:    n.RetryMax,
		HistorySize: n.HistorySize,
	}
	out.RetryBase = d.get("notifier.retry_base", n.RetryBase, 0)
	out.RetryMaxDelay = d.get("notifier.retry_max_delay", n.RetryMaxDelay, 0)
	out.SendTimeout = d.get("notifier.send_timeout", n.SendTimeout, 0)
	return out, d.err
}

// mapWatchConfig leaves zero values for watch.Config to default.
func mapWatchConfig(cfg *config.Config) (watch.Config, error) {
	p := cfg.Polling
	var d durations
	out := watch.Config{
		RepoInterval:    d.get("polling.repo_interval", p.RepoInterval, 0),
		CommitsOffset:   d.get("polling.commits_offset", p.CommitsOffset, 0),
		CommentsOffset:  d.get("polling.comments_offset", p.CommentsOffset, 0),
		PackageInterval: d.get("polling.package_interval", p.PackageInterval, 0),
		PackageOffset:   d.get("polling.package_offset", p.PackageOffset, 0),
		InitialLookback: d.get("polling.initial_lookback", p.InitialLookback, 0),
		TaskTimeout:     d.get("polling.task_timeout", p.TaskTimeout, 0),
		ShortRetryAfter: d.get("polling.short_retry_after", p.ShortRetryAfter, 0),
		Retry: engine.TaskOptions{
			Overlap:       engine.OverlapSkipIfRunning,
			RetryMax:      p.RetryMax,
			RetryBase:     d.get("polling.retry_base", p.RetryBase, 2*time.Second),
			RetryMaxDelay: d.get("polling.retry_max_delay", p.RetryMaxDelay, 30*time.Second),
		},
	}
	return out, d.err
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	h := cfg.HTTP
	var d durations
	out := httpapi.Config{
		Enabled:       h.Enabled,
		Addr:          strings.TrimSpace(h.Addr),
		Token:         strings.TrimSpace(h.Token),
		AllowInsecure: h.AllowInsecure,
		Pprof:         h.Pprof,
		ReadTimeout:   d.get("http.read_timeout", h.ReadTimeout, 10*time.Second),
		WriteTimeout:  d.get("http.write_timeout", h.WriteTimeout, 30*time.Second),
		IdleTimeout:   d.get("http.idle_timeout", h.IdleTimeout, 60*time.Second),
	}
	if out.Addr == "" {
		out.Addr = httpapi.DefaultAddr
	}
	if out.Pprof && out.WriteTimeout < 40*time.Second {
		// /debug/pprof/profile streams for 30s by default.
		out.WriteTimeout = 40 * time.Second
	}
	return out, d.err
}

// seedResources turns the repos file into tracked repositories.
func seedResources(seeds []config.SeedRepo) []watch.Resource {
	out := make([]watch.Resource, 0, len(seeds))
	for _, s := range seeds {
		out = append(out, watch.Resource{
			Kind:    watch.KindRepository,
			Name:    s.FullName,
			Target:  kit.ChatTarget{ChatID: s.ChannelID},
			AddedBy: "seed",
		})
	}
	return out
}
