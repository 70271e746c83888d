package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validate checks values that cannot be fixed by defaults. It runs on
// Load and before every hot reload is committed.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	nonNeg := func(path string, v int) {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must be >= 0", path))
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, fmt.Errorf("telegram.token is required (or set %s)", EnvTelegramToken))
	}
	check("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	check("github.timeout", cfg.GitHub.Timeout)
	switch strings.ToLower(strings.TrimSpace(cfg.GitHub.ReleaseSource)) {
	case "", "api", "atom":
	default:
		errs = append(errs, fmt.Errorf("github.release_source must be api or atom, got %q", cfg.GitHub.ReleaseSource))
	}

	p := cfg.Polling
	check("polling.repo_interval", p.RepoInterval)
	check("polling.commits_offset", p.CommitsOffset)
	check("polling.comments_offset", p.CommentsOffset)
	check("polling.package_interval", p.PackageInterval)
	check("polling.package_offset", p.PackageOffset)
	check("polling.initial_lookback", p.InitialLookback)
	check("polling.task_timeout", p.TaskTimeout)
	check("polling.short_retry_after", p.ShortRetryAfter)
	check("polling.retry_base", p.RetryBase)
	check("polling.retry_max_delay", p.RetryMaxDelay)
	check("polling.startup_spread", p.StartupSpread)
	nonNeg("polling.retry_max", p.RetryMax)

	te := cfg.TaskEngine
	nonNeg("task_engine.workers", te.Workers)
	nonNeg("task_engine.queue_size", te.QueueSize)
	nonNeg("task_engine.history_size", te.HistorySize)
	nonNeg("task_engine.retry_max", te.RetryMax)
	check("task_engine.default_timeout", te.DefaultTimeout)
	check("task_engine.max_queue_delay", te.MaxQueueDelay)
	check("task_engine.circuit_base_delay", te.CircuitBaseDelay)
	check("task_engine.circuit_max_delay", te.CircuitMaxDelay)
	check("task_engine.circuit_reset_after", te.CircuitResetAfter)
	if !cfg.TaskEngineEnabled() {
		errs = append(errs, errors.New("task_engine.enabled cannot be false: every poll runs on the engine"))
	}

	if n := cfg.Notifier; n != nil {
		nonNeg("notifier.workers", n.Workers)
		nonNeg("notifier.queue_size", n.QueueSize)
		nonNeg("notifier.rate_per_sec", n.RatePerSec)
		nonNeg("notifier.retry_max", n.RetryMax)
		nonNeg("notifier.history_size", n.HistorySize)
		check("notifier.retry_base", n.RetryBase)
		check("notifier.retry_max_delay", n.RetryMaxDelay)
		check("notifier.send_timeout", n.SendTimeout)
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "", "file", "memory":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path is required when storage.driver=sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver))
	}
	check("storage.busy_timeout", cfg.Storage.BusyTimeout)

	h := cfg.HTTP
	check("http.read_timeout", h.ReadTimeout)
	check("http.write_timeout", h.WriteTimeout)
	check("http.idle_timeout", h.IdleTimeout)
	if h.Enabled {
		addr := strings.TrimSpace(h.Addr)
		if addr == "" {
			addr = DefaultHTTPAddr
		}
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			errs = append(errs, fmt.Errorf("http.addr: %w", err))
		} else if !isLoopback(host) && strings.TrimSpace(h.Token) == "" && !h.AllowInsecure {
			errs = append(errs, fmt.Errorf("http.addr %q is not loopback: set http.token or http.allow_insecure", addr))
		}
	}

	return errors.Join(errs...)
}

const DefaultHTTPAddr = "127.0.0.1:8080"

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
