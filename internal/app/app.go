package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"ghwatch/internal/commands"
	"ghwatch/internal/config"
	"ghwatch/internal/eventbus"
	"ghwatch/internal/github"
	"ghwatch/internal/httpapi"
	"ghwatch/internal/notifier"
	rtsup "ghwatch/internal/runtime/supervisor"
	"ghwatch/internal/storage"
	"ghwatch/internal/task/engine"
	"ghwatch/internal/task/scheduler"
	kit "ghwatch/internal/transport"
	telegram "ghwatch/internal/transport/telegram/adapter"
	"ghwatch/internal/transport/telegram/router"
	"ghwatch/internal/watch"
	"ghwatch/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	// logTarget is where the chat log sink posts; nil disables it.
	logTarget atomic.Pointer[kit.ChatTarget]

	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter
	gh      *github.Client

	engine   *engine.Service
	sched    *scheduler.Service
	notif    *notifier.Service
	registry *watch.Registry
	cmdm     *router.CommandManager
	api      *httpapi.Service

	started time.Time
	ready   atomic.Bool
	updates chan kit.Update
}

func NewApp(cfgPath string) (_ *App, err error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		bus:     eventbus.New(),
		started: time.Now(),
		updates: make(chan kit.Update, 256),
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	a.logs = logSvc
	a.log = log.With(logx.String("comp", "app"))
	a.setLogTarget(cfg)

	tcfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(tcfg, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}
	a.adapter = ad
	logSvc.SetSink(func(ctx context.Context, text string) error {
		to := a.logTarget.Load()
		if to == nil {
			return nil
		}
		_, err := ad.SendText(ctx, *to, text, nil)
		return err
	})

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.store = store
	defer func() {
		if err != nil {
			_ = store.Close()
		}
	}()

	ghc, err := mapGitHubConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.gh = github.New(ghc, log.With(logx.String("comp", "github")))
	if ghc.Token == "" {
		a.log.Warn("github.token not set; API requests are anonymous and share a much lower rate limit")
	}
	var releases github.ReleaseSource = a.gh
	if strings.EqualFold(strings.TrimSpace(cfg.GitHub.ReleaseSource), "atom") {
		releases = github.NewAtomFeed("", ghc.UserAgent, ghc.Timeout)
	}

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.engine = engine.New(engCfg, log.With(logx.String("comp", "taskengine")), a.bus)

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.sched = scheduler.New(schedCfg, a.engine, log.With(logx.String("comp", "scheduler")), a.bus)

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.notif = notifier.New(ncfg, ad, log.With(logx.String("comp", "notifier")), a.bus)

	wcfg, err := mapWatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.registry = watch.NewRegistry(wcfg, watch.Deps{
		Fetcher:  watch.NewGitHubFetcher(a.gh, releases),
		Resolver: a.gh,
		Notifier: a.notif,
		Store:    store,
		Engine:   a.engine,
		Sched:    a.sched,
		Bus:      a.bus,
		Log:      log.With(logx.String("comp", "watch")),
	})

	a.cmdm = router.NewCommandManager(log.With(logx.String("comp", "commands")), ad, router.Options{
		Owners: cfg.Telegram.OwnerUserIDs,
	})

	hcfg, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.api = httpapi.New(hcfg, httpapi.Deps{
		Registry: a.registry,
		Engine:   a.engine,
		Notifier: a.notif,
		Rate:     a.gh.Rate,
		Ready:    a.ready.Load,
		Started:  a.started,
	}, log)

	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Ready reports whether startup, including restoring tracked resources,
// has finished.
func (a *App) Ready() bool { return a.ready.Load() }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	cfg := a.cfgm.Get()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return validateMappings(c)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	a.engine.Start(a.sup.Context())
	a.sched.Start(a.sup.Context())

	a.cmdm.SetRegistry(a.sup.Context(), commands.Build(commands.Deps{
		Tracker:           a.registry,
		Engine:            a.engine,
		Notifier:          a.notif,
		Rate:              a.gh.Rate,
		RestrictMutations: len(cfg.Telegram.OwnerUserIDs) > 0,
		Started:           a.started,
	}))
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	a.api.Start(a.sup.Context())

	// Restoring loads every processed set from storage; commands already
	// answer ErrNotLoaded for resources that are still loading.
	seeds := a.loadSeeds(cfg)
	a.sup.Go("registry.restore", func(c context.Context) error {
		if err := a.registry.Restore(c, seeds); err != nil {
			if c.Err() != nil {
				return nil
			}
			return fmt.Errorf("restore tracked resources: %w", err)
		}
		a.ready.Store(true)
		a.log.Info("ready", logx.Int("seeds", len(seeds)))
		return nil
	})

	a.sup.Go0("eventbus.log", a.logEvents)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) loadSeeds(cfg *config.Config) []watch.Resource {
	path := strings.TrimSpace(cfg.GitHub.ReposFile)
	if path == "" {
		path = filepath.Join(filepath.Dir(a.cfgm.Path()), "github_repos.yml")
	}
	seeds, err := config.LoadSeeds(path)
	if err != nil {
		a.log.Warn("seed file ignored", logx.String("path", path), logx.Err(err))
		return nil
	}
	return seedResources(seeds)
}

func (a *App) setLogTarget(cfg *config.Config) {
	if cfg.Telegram.LogChatID == 0 {
		a.logTarget.Store(nil)
		return
	}
	a.logTarget.Store(&kit.ChatTarget{ChatID: cfg.Telegram.LogChatID, ThreadID: cfg.Logging.Telegram.ThreadID})
}

func (a *App) logEvents(c context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-c.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			// poll events fire every few minutes per stream
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

// reloadLoop applies every committed config to the live components.
func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.apply(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) apply(c context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if r := config.RestartRequired(prev, next); len(r) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.Strings("sections", r))
	}

	// target first so Apply does not forward into a stale chat
	a.setLogTarget(next)
	a.logs.Apply(mapLogConfig(next))

	a.cmdm.SetOwners(next.Telegram.OwnerUserIDs)
	if (len(prev.Telegram.OwnerUserIDs) > 0) != (len(next.Telegram.OwnerUserIDs) > 0) {
		// access levels are baked into the command table
		a.cmdm.SetRegistry(c, commands.Build(commands.Deps{
			Tracker:           a.registry,
			Engine:            a.engine,
			Notifier:          a.notif,
			Rate:              a.gh.Rate,
			RestrictMutations: len(next.Telegram.OwnerUserIDs) > 0,
			Started:           a.started,
		}))
	}

	if ec, err := mapTaskEngineConfig(next); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(c, ec)
	}

	if nc, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.notif.Enabled()
		a.notif.Apply(nc)
		switch {
		case wasEnabled && !nc.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !wasEnabled && nc.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(c)
		}
	}

	if hc, err := mapHTTPConfig(next); err != nil {
		a.log.Warn("invalid http config; keeping previous", logx.Err(err))
	} else {
		a.api.Reconfigure(c, hc)
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Time: time.Now(), Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// validateMappings rejects configs the component mappers cannot apply.
func validateMappings(cfg *config.Config) error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	_, err := mapTelegramConfig(cfg)
	collect(err)
	_, err = mapStorageConfig(cfg)
	collect(err)
	_, err = mapGitHubConfig(cfg)
	collect(err)
	_, err = mapTaskEngineConfig(cfg)
	collect(err)
	_, err = mapSchedulerConfig(cfg)
	collect(err)
	_, err = mapNotifierConfig(cfg)
	collect(err)
	_, err = mapWatchConfig(cfg)
	collect(err)
	_, err = mapHTTPConfig(cfg)
	collect(err)
	return errors.Join(errs...)
}
