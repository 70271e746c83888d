package config

import (
	"reflect"
	"sort"
	"strings"

	"ghwatch/pkg/logx"
)

// SummarizeConfigChange returns the changed section names and safe
// structured attrs for logging. Secrets are reported only as "set".
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		ot.LogChatID != nt.LogChatID ||
		ot.APIURL != nt.APIURL ||
		ot.Token != nt.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.log_chat_set", nt.LogChatID != 0),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		l := newCfg.Logging
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", l.Level),
			logx.Bool("logging.console", l.Console),
			logx.Bool("logging.json", l.JSON),
			logx.Bool("logging.file_enabled", l.File.Enabled),
			logx.Bool("logging.telegram_enabled", l.Telegram.Enabled),
		)
	}

	og, ng := oldCfg.GitHub, newCfg.GitHub
	if og.BaseURL != ng.BaseURL || og.UserAgent != ng.UserAgent || og.Timeout != ng.Timeout ||
		og.ReposFile != ng.ReposFile || og.ReleaseSource != ng.ReleaseSource || og.Token != ng.Token {
		changed = append(changed, "github")
		attrs = append(attrs,
			logx.String("github.base_url", ng.BaseURL),
			logx.String("github.timeout", ng.Timeout),
			logx.String("github.release_source", ng.ReleaseSource),
			logx.Bool("github.token_set", strings.TrimSpace(ng.Token) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Polling, newCfg.Polling) {
		p := newCfg.Polling
		changed = append(changed, "polling")
		attrs = append(attrs,
			logx.String("polling.repo_interval", p.RepoInterval),
			logx.String("polling.package_interval", p.PackageInterval),
			logx.Int("polling.retry_max", p.RetryMax),
		)
	}

	if !reflect.DeepEqual(oldCfg.TaskEngine, newCfg.TaskEngine) {
		te := newCfg.TaskEngine
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Int("task_engine.workers", te.Workers),
			logx.Int("task_engine.queue_size", te.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(te.DefaultTimeout)),
			logx.String("task_engine.max_queue_delay", strings.TrimSpace(te.MaxQueueDelay)),
			logx.Int("task_engine.retry_max", te.RetryMax),
		)
	}

	oldN, newN := oldCfg.Notifier, newCfg.Notifier
	if (oldN == nil) != (newN == nil) || (oldN != nil && *oldN != *newN) {
		changed = append(changed, "notifier")
		if newN != nil {
			attrs = append(attrs,
				logx.Bool("notifier.enabled", newN.Enabled),
				logx.Int("notifier.workers", newN.Workers),
				logx.Int("notifier.rate_per_sec", newN.RatePerSec),
				logx.Int("notifier.retry_max", newN.RetryMax),
			)
		}
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	oh, nh := oldCfg.HTTP, newCfg.HTTP
	if oh != nh {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", nh.Enabled),
			logx.String("http.addr", strings.TrimSpace(nh.Addr)),
			logx.Bool("http.token_set", strings.TrimSpace(nh.Token) != ""),
			logx.Bool("http.pprof", nh.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists settings that changed but are only read at
// startup.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Telegram.Token != newCfg.Telegram.Token || oldCfg.Telegram.APIURL != newCfg.Telegram.APIURL ||
		oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout {
		out = append(out, "telegram")
	}
	if oldCfg.GitHub != newCfg.GitHub {
		out = append(out, "github")
	}
	if oldCfg.Polling != newCfg.Polling {
		out = append(out, "polling")
	}
	if oldCfg.Storage != newCfg.Storage {
		out = append(out, "storage")
	}
	return out
}
