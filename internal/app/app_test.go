package app

import (
	"strings"
	"testing"
	"time"

	"ghwatch/internal/config"
	"ghwatch/internal/httpapi"
	"ghwatch/internal/task/engine"
	"ghwatch/internal/watch"
)

func TestMapTaskEngineDefaults(t *testing.T) {
	ec, err := mapTaskEngineConfig(&config.Config{})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if !ec.Enabled || ec.Workers != 4 || ec.QueueSize != 256 || ec.HistorySize != 200 || ec.RetryMax != 3 {
		t.Fatalf("engine = %+v", ec)
	}

	_, err = mapTaskEngineConfig(&config.Config{TaskEngine: config.TaskEngineConfig{MaxQueueDelay: "soon"}})
	if err == nil || !strings.Contains(err.Error(), "task_engine.max_queue_delay") {
		t.Fatalf("err = %v", err)
	}
}

func TestMapStorageConfig(t *testing.T) {
	sc, err := mapStorageConfig(&config.Config{})
	if err != nil || sc.Driver != "file" || sc.Path != "./data" {
		t.Fatalf("default storage = %+v err=%v", sc, err)
	}
	sc, err = mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: "SQLite3", Path: "x.db"}})
	if err != nil || sc.Driver != "sqlite" || sc.BusyTimeout != time.Second {
		t.Fatalf("sqlite storage = %+v err=%v", sc, err)
	}
}

func TestMapWatchConfig(t *testing.T) {
	wc, err := mapWatchConfig(&config.Config{Polling: config.PollingConfig{
		RepoInterval:   "3m",
		CommentsOffset: "90s",
		RetryMax:       5,
	}})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if wc.RepoInterval != 3*time.Minute || wc.CommentsOffset != 90*time.Second {
		t.Fatalf("watch = %+v", wc)
	}
	if wc.PackageInterval != 0 {
		t.Fatalf("unset interval should stay zero for watch defaults, got %s", wc.PackageInterval)
	}
	if wc.Retry.RetryMax != 5 || wc.Retry.RetryBase != 2*time.Second || wc.Retry.Overlap != engine.OverlapSkipIfRunning {
		t.Fatalf("retry = %+v", wc.Retry)
	}
}

func TestMapNotifierConfig(t *testing.T) {
	nc, err := mapNotifierConfig(&config.Config{})
	if err != nil || !nc.Enabled {
		t.Fatalf("omitted notifier = %+v err=%v", nc, err)
	}
	nc, err = mapNotifierConfig(&config.Config{Notifier: &config.NotifierConfig{Enabled: false, RetryBase: "250ms"}})
	if err != nil || nc.Enabled || nc.RetryBase != 250*time.Millisecond {
		t.Fatalf("notifier = %+v err=%v", nc, err)
	}
}

func TestMapHTTPConfig(t *testing.T) {
	hc, err := mapHTTPConfig(&config.Config{HTTP: config.HTTPConfig{Enabled: true, Pprof: true}})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if hc.Addr != httpapi.DefaultAddr {
		t.Fatalf("addr = %q", hc.Addr)
	}
	if hc.WriteTimeout < 40*time.Second {
		t.Fatalf("pprof write timeout = %s", hc.WriteTimeout)
	}
}

func TestMapLogConfigNeedsTarget(t *testing.T) {
	cfg := &config.Config{Logging: config.LoggingConfig{Telegram: config.LoggingTelegram{Enabled: true}}}
	if mapLogConfig(cfg).Chat.Enabled {
		t.Fatalf("chat sink enabled without log_chat_id")
	}
	cfg.Telegram.LogChatID = -100
	if !mapLogConfig(cfg).Chat.Enabled {
		t.Fatalf("chat sink disabled with log_chat_id")
	}
}

func TestSeedResources(t *testing.T) {
	res := seedResources([]config.SeedRepo{{FullName: "octo/hello", ChannelID: -100123}})
	if len(res) != 1 {
		t.Fatalf("res = %+v", res)
	}
	r := res[0]
	if r.Kind != watch.KindRepository || r.Name != "octo/hello" || r.Target.ChatID != -100123 || r.AddedBy != "seed" {
		t.Fatalf("seed = %+v", r)
	}
}

func TestValidateMappings(t *testing.T) {
	if err := validateMappings(&config.Config{}); err != nil {
		t.Fatalf("empty config: %v", err)
	}
	err := validateMappings(&config.Config{
		Telegram: config.TelegramConfig{PollTimeout: "x"},
		HTTP:     config.HTTPConfig{IdleTimeout: "-1s"},
	})
	if err == nil || !strings.Contains(err.Error(), "telegram.poll_timeout") || !strings.Contains(err.Error(), "http.idle_timeout") {
		t.Fatalf("err = %v", err)
	}
}
