// Package app wires configuration, storage, the Telegram adapter and the
// background loops into one process.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"appealbot/internal/bot"
	"appealbot/internal/config"
	"appealbot/internal/eventbus"
	"appealbot/internal/files"
	"appealbot/internal/httpapi"
	"appealbot/internal/metrics"
	"appealbot/internal/notifier"
	"appealbot/internal/retention"
	"appealbot/internal/runtime/lifecycle"
	rtsup "appealbot/internal/runtime/supervisor"
	"appealbot/internal/session"
	"appealbot/internal/storage"
	telegram "appealbot/internal/transport/telegram/adapter"
	"appealbot/internal/workflow"
	logx "appealbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store *storage.Store
	cache session.Cache

	adapter *telegram.Adapter
	svc     *workflow.Service
	disp    *notifier.Dispatcher
	cleaner *retention.Cleaner
	proc    *lifecycle.Process
}

// New loads the config and builds every component. Nothing runs until
// Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLogConfig(cfg))
	a := &App{cfgm: cfgm, logs: logs, log: log.Component("app"), bus: eventbus.New()}
	ok := false
	defer func() {
		if !ok {
			a.closeResources()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.store, err = storage.Open(ctx, sc, log.Component("storage"))
	if err != nil {
		return nil, err
	}

	a.cache, err = openCache(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	ttl, err := config.ParseDurationOrDefault("cache.token_ttl", cfg.Cache.TokenTTL, session.DefaultTTL)
	if err != nil {
		return nil, err
	}
	issuer := session.NewIssuer(a.cache, ttl, log.Component("session"))

	fs, err := files.New(filesDir(cfg))
	if err != nil {
		return nil, err
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	a.adapter, err = telegram.New(telegram.Config{
		Token:              cfg.Telegram.Token,
		PollTimeout:        pollTimeout,
		DropPendingUpdates: cfg.Telegram.DropPendingUpdates,
	}, log.Component("telegram"))
	if err != nil {
		return nil, err
	}
	logs.SetSender(a.adapter)

	a.svc = workflow.NewService(workflow.Options{
		Store:    a.store,
		Observer: workflow.NewObserver(log.Component("observer"), m),
		Files:    fs,
		Rules:    mapRules(cfg),
		Bus:      a.bus,
		Log:      log.Component("workflow"),
	})

	var tasks []lifecycle.Task
	dcfg, dispOn, err := mapDispatcherConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.disp = notifier.New(dcfg, a.store, a.adapter, log.Component("dispatcher"), a.bus, m)
	if dispOn {
		tasks = append(tasks, lifecycle.Task{Name: "dispatcher", Run: a.disp.Run})
	} else {
		a.log.Warn("notification dispatcher disabled")
	}

	ccfg, cleanOn := mapCleanupConfig(cfg)
	a.cleaner, err = retention.New(ccfg, a.store, log.Component("retention"), a.bus, m)
	if err != nil {
		return nil, err
	}
	if cleanOn {
		tasks = append(tasks, lifecycle.Task{Name: "retention", Run: a.cleaner.Run})
	}

	if cfg.HTTP.Enabled {
		srv := httpapi.New(httpapi.Config{
			Addr:        httpAddr(cfg),
			CORSOrigins: cfg.HTTP.CORSOrigins,
			AdminToken:  cfg.HTTP.AdminToken,
			Pprof:       cfg.HTTP.Pprof,
		}, httpapi.Deps{
			Service:  a.svc,
			Store:    a.store,
			Issuer:   issuer,
			Metrics:  m,
			Gatherer: reg,
			Health:   a.snapshot,
			Log:      log,
		})
		tasks = append(tasks, lifecycle.Task{Name: "http", Run: srv.Run})
	}

	tasks = append(tasks,
		lifecycle.Task{Name: "config.watch", Run: a.cfgm.Watch},
		lifecycle.Task{Name: "config.reload", Run: a.reloadLoop},
		lifecycle.Task{Name: "eventbus.log", Run: a.eventLoop},
	)

	receiver := bot.New(bot.Config{
		WebAppURL:      cfg.Telegram.WebAppURL,
		OperatorChatID: cfg.Telegram.OperatorChatID,
	}, bot.Deps{
		Adapter: a.adapter,
		Service: a.svc,
		Store:   a.store,
		Issuer:  issuer,
		Files:   fs,
		Log:     log,
	})
	a.proc = lifecycle.New(receiver, log.Component("lifecycle"), tasks...)

	cfgm.SetLogger(log.Component("config"))
	ok = true
	return a, nil
}

func openCache(ctx context.Context, cc config.CacheConfig) (session.Cache, error) {
	switch strings.ToLower(strings.TrimSpace(cc.Driver)) {
	case "redis":
		rc, err := session.NewRedisCache(ctx, session.RedisConfig{Addr: cc.Addr, Password: cc.Password, DB: cc.DB})
		if err != nil {
			return nil, err
		}
		return rc, nil
	default:
		return session.NewMemoryCache(), nil
	}
}

func (a *App) snapshot() []rtsup.TaskStats { return a.proc.Snapshot() }

// Start launches the background loops and then begins receiving updates.
// A receiver that cannot start is fatal.
func (a *App) Start(ctx context.Context) error {
	if err := a.proc.Start(ctx); err != nil {
		return err
	}
	a.log.Info("started")
	return nil
}

// Stop halts the receiver first, then the background loops, then closes
// storage and the cache. ctx bounds the whole shutdown.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")
	err := a.proc.Stop(ctx)
	a.closeResources()
	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

func (a *App) closeResources() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("close storage", logx.Err(err))
		}
	}
	if c, ok := a.cache.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			a.log.Warn("close cache", logx.Err(err))
		}
	}
}

// eventLoop logs bus traffic at debug level and wakes the dispatcher when
// a notification is queued.
func (a *App) eventLoop(ctx context.Context) error {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if e.Type == eventbus.TopicNotificationCreated {
				a.disp.Wake()
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

// reloadLoop applies hot-reloadable sections of a committed config.
func (a *App) reloadLoop(ctx context.Context) error {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-sub:
			if !ok {
				return nil
			}
			// keep only the newest of a burst
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.apply(last, next)
			last = next
		}
	}
}

func (a *App) apply(prev, next *config.Config) {
	ch := config.Diff(prev, next)
	if len(ch.Sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.log.Info("applying config", logx.String("changed", strings.Join(ch.Sections, ",")))
	if len(ch.Restart) > 0 {
		a.log.Warn("restart required for changes to take effect", logx.String("sections", strings.Join(ch.Restart, ",")))
	}

	a.logs.Apply(mapLogConfig(next))

	if dcfg, enabled, err := mapDispatcherConfig(next); err != nil {
		a.log.Warn("dispatcher config not applied", logx.Err(err))
	} else {
		a.disp.Apply(dcfg)
		if prevOn := prev.DispatcherOrDefault().Enabled; prevOn != enabled {
			a.log.Warn("dispatcher.enabled changed; restart required")
		}
	}

	ccfg, enabled := mapCleanupConfig(next)
	if err := a.cleaner.Apply(ccfg); err != nil {
		a.log.Warn("cleanup config not applied", logx.Err(err))
	}
	if prevOn := prev.CleanupOrDefault().Enabled; prevOn != enabled {
		a.log.Warn("cleanup.enabled changed; restart required")
	}

	a.svc.SetRules(mapRules(next))
	a.bus.Publish(eventbus.Event{Type: eventbus.TopicConfigReloaded, Time: time.Now(), Data: ch})
}

// Validate loads and checks a config file without starting anything.
func Validate(cfgPath string) error {
	cfg, err := config.NewManager(cfgPath).Parse()
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapDispatcherConfig(cfg); err != nil {
		return err
	}
	if ccfg, _ := mapCleanupConfig(cfg); ccfg.Window() <= 0 {
		return fmt.Errorf("cleanup: %w", retention.ErrEmptyWindow)
	}
	return nil
}
