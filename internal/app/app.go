// Package app wires configuration, storage, the broadcast engine and the
// Telegram front end into one supervised process.
package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"songbot/internal/bot"
	"songbot/internal/broadcast"
	"songbot/internal/catalog"
	"songbot/internal/chat"
	"songbot/internal/config"
	"songbot/internal/eventbus"
	"songbot/internal/llm"
	"songbot/internal/metrics"
	"songbot/internal/observability/ops"
	"songbot/internal/runtime/supervisor"
	"songbot/internal/scheduler"
	"songbot/internal/search"
	"songbot/internal/storage"
	"songbot/internal/subscribers"
	kit "songbot/internal/transport"
	telegram "songbot/internal/transport/telegram/adapter"
	"songbot/internal/transport/telegram/router"
	logx "songbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	reg     *prometheus.Registry
	metrics *metrics.Broadcast

	store storage.Store
	subs  *subscribers.Store

	adapter *telegram.Adapter
	router  *router.Router
	menu    []kit.BotCommand

	orch  *broadcast.Orchestrator
	sched *scheduler.Service
	bot   *bot.Bot
	ops   *ops.Service

	updates chan kit.Update
}

// New loads and validates the config, opens storage and builds every
// component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string, env config.Env) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetEnv(env)
	cfg, err := cfgm.Parse()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	cfgm.Commit(cfg)

	logSvc, log := logx.New(mapLogConfig(cfg))
	root := log
	log = log.With(logx.String("comp", "app"))

	acfg, err := mapAdapterConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(acfg, root.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	groupLog, _ := config.ParseChatID("telegram.group_log", cfg.Telegram.GroupLog)
	logSvc.SetSender(ad, groupLog)

	bus := eventbus.New()
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewBroadcast(reg)

	scfg, _ := mapStorageConfig(cfg)
	store, err := storage.Open(ctx, scfg, root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	subs, err := subscribers.Open(ctx, store, root.With(logx.String("comp", "subscribers")), subscribers.Hooks{
		OnChange: subscriberHook(bus, m),
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	m.SubscriberChange("load", 0, subs.Len())
	log.Info("storage ready", logx.String("driver", scfg.Driver), logx.Int("subscribers", subs.Len()))

	songs, err := catalog.Load(cfg.Catalog.Path, rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	bcfg, _ := mapBroadcastConfig(cfg)
	orch := broadcast.New(bcfg, subs, broadcast.NewTransportChannel(ad),
		root.With(logx.String("comp", "broadcast")),
		broadcast.WithEventBus(bus),
		broadcast.WithMetrics(m),
		broadcast.WithAudit(store),
	)

	schedCfg, _ := mapSchedulerConfig(cfg)
	sched := scheduler.New(schedCfg, store, root.With(logx.String("comp", "scheduler")),
		scheduler.WithEventBus(bus),
		scheduler.WithMetrics(m),
	)

	b := bot.New(bot.Deps{
		Subscribers: subs,
		Broadcaster: orch,
		Songs:       songs,
		Schedule:    sched,
		DailyJob:    DailyJobName,
		Audit:       store,
	}, root.With(logx.String("comp", "bot")))
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		loc, _ := time.LoadLocation(tz)
		b.SetLocation(loc)
	}

	if at, opt, enabled, _ := mapDaily(cfg); enabled {
		if err := sched.AddDaily(DailyJobName, at, opt, b.DailyJob); err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	relay, err := newChat(cfg, ad, root)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	handlerTimeout, _ := mapHandlerTimeout(cfg)
	rt := router.New(root.With(logx.String("comp", "commands")), ad, cfg.Telegram.OwnerUserIDs,
		router.WithWorkers(cfg.Telegram.Workers),
		router.WithDefaultTimeout(handlerTimeout),
	)
	menu := rt.SetRegistry(b.Commands())
	rt.SetTextHandler(relay.Handle)

	opsCfg, _ := mapOpsConfig(cfg)
	opsSvc := ops.New(opsCfg, reg, healthCheck(store), root.With(logx.String("comp", "ops")))

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		reg:     reg,
		metrics: m,
		store:   store,
		subs:    subs,
		adapter: ad,
		router:  rt,
		menu:    menu,
		orch:    orch,
		sched:   sched,
		bot:     b,
		ops:     opsSvc,
		updates: make(chan kit.Update, 256),
	}, nil
}

func newChat(cfg *config.Config, ad *telegram.Adapter, log logx.Logger) (*chat.Handler, error) {
	ccfg, err := mapChatConfig(cfg)
	if err != nil {
		return nil, err
	}
	var ai chat.Completer
	if lc, enabled, _ := mapLLMConfig(cfg); enabled {
		c, err := llm.New(lc, log.With(logx.String("comp", "llm")))
		if err != nil {
			return nil, err
		}
		ai = c
	} else {
		log.Warn("AI is not configured; chat replies with a setup hint")
	}
	var searcher chat.Searcher
	if sc, enabled, _ := mapSearchConfig(cfg); enabled {
		c, err := search.New(sc, log.With(logx.String("comp", "search")))
		if err != nil {
			return nil, err
		}
		searcher = c
	}
	return chat.New(ccfg, ai, searcher, ad, log.With(logx.String("comp", "chat"))), nil
}

func subscriberHook(bus eventbus.Bus, m *metrics.Broadcast) func(added, removed []int64, size int) {
	return func(added, removed []int64, size int) {
		now := time.Now()
		if len(added) > 0 {
			m.SubscriberChange("add", len(added), size)
			bus.Publish(eventbus.Event{Type: eventbus.TypeSubscriberAdded, Time: now, Data: eventbus.SubscriberChange{IDs: added, Size: size}})
		}
		if len(removed) > 0 {
			m.SubscriberChange("remove", len(removed), size)
			bus.Publish(eventbus.Event{Type: eventbus.TypeSubscriberRemoved, Time: now, Data: eventbus.SubscriberChange{IDs: removed, Size: size}})
		}
	}
}

// healthCheck reports the process healthy while storage answers reads.
func healthCheck(store storage.Store) ops.HealthFunc {
	return func(ctx context.Context) error {
		_, _, err := store.GetMarker(ctx, "health")
		return err
	}
}

// Done is closed when the app supervisor context is canceled (fatal error
// or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sup.Go0("telegram.menu", func(c context.Context) {
		a.router.PublishMenu(c, a.menu)
	})
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("eventbus.log", func(c context.Context) {
		eventbus.LogEvents(c, a.bus, a.log.With(logx.String("comp", "events")))
	})

	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}
	a.ops.Start(a.sup.Context())

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.String("bot", a.adapter.Username()),
		logx.Int("subscribers", a.subs.Len()),
	)
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts: keep only the latest config
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
			a.apply(ctx, last, next)
			last = next
		}
	}
}

// apply pushes a validated config into the running components. Storage,
// catalog, AI and search settings are read once at startup.
func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		switch s {
		case "storage", "catalog", "ai", "search":
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}
	if next.Telegram.Token != prev.Telegram.Token {
		a.log.Warn("telegram token changed; restart required")
	}

	groupLog, _ := config.ParseChatID("telegram.group_log", next.Telegram.GroupLog)
	a.logs.SetSender(a.adapter, groupLog)
	a.logs.Apply(mapLogConfig(next))

	a.router.SetOwners(next.Telegram.OwnerUserIDs)
	if d, err := mapHandlerTimeout(next); err == nil {
		a.router.SetDefaultTimeout(d)
	}

	if bc, err := mapBroadcastConfig(next); err == nil {
		a.orch.Apply(bc)
	}

	if err := a.applySchedule(ctx, next); err != nil {
		a.log.Warn("schedule update failed; keeping previous", logx.Err(err))
	}

	if oc, err := mapOpsConfig(next); err == nil {
		a.ops.Reconfigure(ctx, oc)
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigApplied, Time: time.Now(), Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) applySchedule(ctx context.Context, cfg *config.Config) error {
	sc, err := mapSchedulerConfig(cfg)
	if err != nil {
		return err
	}
	wasEnabled := a.sched.Enabled()
	a.sched.Apply(sc)
	if tz := sc.Timezone; tz != "" {
		loc, _ := time.LoadLocation(tz)
		a.bot.SetLocation(loc)
	}

	at, opt, enabled, err := mapDaily(cfg)
	if err != nil {
		return err
	}
	if enabled {
		if err := a.sched.AddDaily(DailyJobName, at, opt, a.bot.DailyJob); err != nil {
			return err
		}
	} else if a.sched.Remove(DailyJobName) {
		a.log.Info("daily broadcast disabled via config")
	}

	switch {
	case wasEnabled && !sc.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !wasEnabled && sc.Enabled:
		a.log.Info("scheduler enabled via config")
		a.sched.Start(ctx)
	}
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// cancel the run context first so background loops start unwinding
	a.sup.Cancel()

	var errs []error
	// step bounds one shutdown step so a stuck component cannot stall the rest
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// the scheduler owns the context of a running daily cycle; stopping it
	// lets the cycle commit its prunes before storage closes
	step("scheduler", 15*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 2*time.Second, func(c context.Context) error {
		a.subs.Close()
		return a.store.Close()
	})

	a.log.Info("stopped", logx.Uint64("events_dropped", eventbus.Dropped(a.bus)))
	_ = a.logs.Close()
	return errors.Join(errs...)
}
