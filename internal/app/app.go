package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pinetick/internal/api"
	"pinetick/internal/clock"
	"pinetick/internal/config"
	"pinetick/internal/eventbus"
	"pinetick/internal/notifier"
	"pinetick/internal/observability/pprof"
	rtsup "pinetick/internal/runtime/supervisor"
	"pinetick/internal/storage"
	"pinetick/internal/task/engine"
	"pinetick/internal/task/scheduler"
	logx "pinetick/pkg/logx"
)

// App wires the store, worker pool, scanner, notifier and HTTP surface.
type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	clk  clock.Clock
	bus  eventbus.Bus

	store  *storage.Store
	engine *engine.Service
	sched  *scheduler.Service
	notif  *notifier.Service
	api    *api.Server
	pprof  *pprof.Service
}

// New loads the config and builds every component. The store is opened (and
// migrated) here so functions can be registered and called before Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log)

	clk, err := clock.New(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	openCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store, err := storage.Open(openCtx, mapStorageConfig(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()
	eng := engine.New(mapEngineConfig(cfg), log.With(logx.String("comp", "engine")), clk)
	sched := scheduler.New(mapSchedulerConfig(cfg), store, eng, clk, log.With(logx.String("comp", "scheduler")), bus)

	ncfg := mapNotifierConfig(cfg)
	var sender notifier.Sender
	if ncfg.Enabled {
		tg, err := notifier.NewTelegram(ncfg.Telegram)
		if err != nil {
			// alerts are optional; keep scheduling without them
			log.Warn("telegram notifier unavailable; alerts disabled", logx.Err(err))
		} else {
			sender = tg
		}
	}
	notif := notifier.New(ncfg, sender, log, bus, clk)

	a := &App{
		cfgm:   cfgm,
		log:    log.With(logx.String("comp", "app")),
		logs:   logSvc,
		clk:    clk,
		bus:    bus,
		store:  store,
		engine: eng,
		sched:  sched,
		notif:  notif,
		pprof:  pprof.New(mapPprofConfig(cfg), log),
	}
	a.api = api.New(mapAPIConfig(cfg), store, a.status, log)
	return a, nil
}

// Scheduler is where functions are registered, before Start.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

func (a *App) Store() *storage.Store { return a.store }

// HTTPAddr is the bound listing address once started.
func (a *App) HTTPAddr() string { return a.api.Addr() }

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
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

func (a *App) status() map[string]any {
	return map[string]any{
		"timezone":  a.clk.Location().String(),
		"engine":    a.engine.Snapshot(),
		"scheduler": a.sched.Snapshot(),
		"notifier": map[string]any{
			"enabled": a.notif.Enabled(),
			"history": a.notif.History(),
		},
		"goroutines": map[string]any{
			"app":     a.sup.Snapshot(),
			"workers": a.engine.Supervisor().Snapshot(),
		},
	}
}

// Start recovers orphaned claims, then starts the worker pool, scanner,
// notifier and HTTP listener, in that order.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	if n, err := a.store.ResetOrphanedClaims(runCtx); err != nil {
		return fmt.Errorf("reset orphaned claims: %w", err)
	} else if n > 0 {
		a.log.Info("recovered orphaned claims", logx.Int64("rows", n))
	}

	a.engine.Start(runCtx)
	if err := a.sched.Start(runCtx); err != nil {
		return err
	}
	a.notif.Start(runCtx)
	if err := a.api.Start(runCtx); err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	if err := a.pprof.Start(runCtx); err != nil {
		a.log.Warn("pprof not started", logx.Err(err))
	}

	a.sup.Go("config.reload", func(c context.Context) error {
		a.reloadLoop(c)
		return nil
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		return watchdogLoop(c, a.log)
	})

	notifyReady(a.log)
	a.log.Info("app started",
		logx.String("http", a.api.Addr()),
		logx.String("timezone", a.clk.Location().String()),
		logx.String("dialect", string(a.store.Dialect())),
		logx.Any("functions", a.sched.Registry().Paths()),
	)
	return nil
}

// reloadLoop applies hot-reloadable sections: logging, HTTP rate limit and
// notifier rate/retry/dedup. Everything else is logged as needing a restart.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(sub)

	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			sections, attrs := config.SummarizeChange(last, next)
			if len(sections) == 0 {
				continue
			}

			a.logs.Apply(mapLogConfig(next))
			a.api.Apply(mapAPIConfig(next))
			a.notif.Apply(mapNotifierConfig(next))

			if restart := config.NeedsRestart(last, next); len(restart) > 0 {
				a.log.Warn("config changes need a restart to take effect", logx.String("sections", strings.Join(restart, ",")))
			}
			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config applied", fields...)
			last = next
		}
	}
}

// Stop is best-effort: each step is bounded so one component cannot stall
// shutdown. Claims left behind by an abrupt stop are recovered on next Start.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifyStopping()
	a.sup.Cancel()

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
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("http", 2*time.Second, func(c context.Context) error { a.api.Stop(c); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("engine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("notifier", time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("pprof", time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.log.Info("stopped")
	return a.close()
}

func (a *App) close() error {
	err := a.store.Close()
	if cerr := a.logs.Close(); err == nil {
		err = cerr
	}
	return err
}
