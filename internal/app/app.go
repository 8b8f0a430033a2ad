package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"jobthrottle/internal/eventbus"
	"jobthrottle/internal/observability/admin"
	"jobthrottle/internal/storage"
	"jobthrottle/internal/task/limiter"
	"jobthrottle/internal/task/scheduler"
	logx "jobthrottle/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	lim   *limiter.Limiter
	sched *scheduler.Service
	admin *admin.Service

	stopMu   sync.Mutex
	stop     stopPolicy
	stopping atomic.Bool
}

func New(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.Int("max_rows", sc.MaxRows))
	}

	settings, stop, err := mapLimiterConfig(cfg)
	if err != nil {
		return nil, err
	}
	lim := limiter.New(settings,
		limiter.WithLogger(log.With(logx.String("comp", "limiter"))),
		limiter.WithBus(bus),
		limiter.WithName("main"),
	)

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(schedCfg, lim, log.With(logx.String("comp", "scheduler")), bus)
	triggers, err := mapJobs(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := sched.Replace(triggers); err != nil {
		return nil, err
	}

	adminCfg, err := mapAdminConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		lim:     lim,
		sched:   sched,
		stop:    stop,
	}
	a.admin = admin.New(adminCfg, adminBackend{a: a}, log.With(logx.String("comp", "admin")))
	return a, nil
}

// validateConfig runs every mapper so a bad reload is rejected before commit.
func validateConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if _, _, err := mapLimiterConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapJobs(cfg, logx.Nop()); err != nil {
		return err
	}
	if _, err := mapAdminConfig(cfg); err != nil {
		return err
	}
	return nil
}

func (a *App) Limiter() *limiter.Limiter      { return a.lim }
func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Bus() eventbus.Bus             { return a.bus }

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

// Reload re-reads the config file now. It reports whether a changed config
// was accepted.
func (a *App) Reload(ctx context.Context) (bool, error) {
	return a.cfgm.Reload(ctx)
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error {
		return validateConfig(cfg)
	})

	if a.store != nil {
		// Subscribed before any job can run so no outcome is missed.
		events, unsub := a.bus.Subscribe(256, outcomeEvents...)
		j := &journal{store: a.store, log: a.log.With(logx.String("comp", "journal"))}
		a.sup.Go0("journal", func(c context.Context) {
			defer unsub()
			j.run(c, events)
		})
	}

	// Limiter state changes at debug level; job-level events are too frequent.
	events, unsub := a.bus.Subscribe(64, "limiter.", eventbus.TypeTriggerFired)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}
	a.admin.Start(a.sup.Context())

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
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
				if a.stopping.Load() {
					continue
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	s := a.lim.Settings()
	a.log.Info("app started",
		logx.Int("concurrency", s.Concurrency),
		logx.Duration("min_time", s.MinTime),
		logx.Int("high_water", s.HighWater),
		logx.String("strategy", s.Strategy.String()),
		logx.Int("jobs", len(a.sched.Snapshot().Schedules)),
	)
	return nil
}

// applyConfig pushes a validated config into the running components.
func (a *App) applyConfig(c context.Context, oldCfg, newCfg *Config) {
	sections, attrs, jobsChanged := SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	if len(jobsChanged) > 0 {
		a.log.Debug("job changes detected", logx.Any("jobs", jobsChanged))
	}
	for _, s := range sections {
		if s == "storage" {
			a.log.Warn("storage config changed; restart required for changes to take effect")
			break
		}
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	if settings, stop, err := mapLimiterConfig(newCfg); err != nil {
		a.log.Warn("invalid limiter config; keeping previous", logx.Err(err))
	} else {
		if u := a.lim.Settings().Diff(settings); !u.IsZero() {
			a.lim.ChangeSettings(u)
		}
		a.stopMu.Lock()
		a.stop = stop
		a.stopMu.Unlock()
	}

	prevSchedEnabled := a.sched.Enabled()
	schedCfg, err := mapSchedulerConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		schedCfg = scheduler.Config{Enabled: prevSchedEnabled}
	} else {
		a.sched.Apply(schedCfg)
	}
	if triggers, err := mapJobs(newCfg, a.log); err != nil {
		a.log.Warn("invalid jobs config; keeping previous", logx.Err(err))
	} else if err := a.sched.Replace(triggers); err != nil {
		a.log.Warn("some jobs were not scheduled", logx.Err(err))
	}

	if prevSchedEnabled && !schedCfg.Enabled {
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	}
	if !prevSchedEnabled && schedCfg.Enabled {
		a.log.Info("scheduler enabled via config")
		a.sched.Start(c)
	}

	if ac, err := mapAdminConfig(newCfg); err != nil {
		a.log.Warn("invalid admin config; keeping previous", logx.Err(err))
	} else {
		stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
		a.admin.Reconfigure(stopCtx, ac)
		cancel()
	}

	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.stopping.Store(true)
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

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
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	a.stopMu.Lock()
	stop := a.stop
	a.stopMu.Unlock()

	// Triggers first so nothing new is submitted, then the limiter. Background
	// loops are canceled only after that so the journal sees the final drops.
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("admin", 1*time.Second, func(c context.Context) error { a.admin.Stop(c); return nil })
	step("limiter", stop.timeout, func(c context.Context) error { return a.lim.Shutdown(c, stop.wait) })
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Stop(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// History returns up to n of the newest journal outcomes for the config at
// cfgPath, oldest first. It does not start anything.
func History(ctx context.Context, cfgPath string, n int) ([]storage.Outcome, error) {
	cfg, err := NewConfigManager(cfgPath).Parse()
	if err != nil {
		return nil, err
	}
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, storage.ErrDisabled
	}
	st, err := storage.Open(sc, logx.Nop())
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return st.RecentOutcomes(ctx, n)
}
