// Package app is the composition root: it builds every component from the
// config, starts them in dependency order and stops them in reverse.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/dig"
	"golang.org/x/sync/errgroup"

	"relaybot/internal/cache"
	"relaybot/internal/config"
	"relaybot/internal/distributor"
	"relaybot/internal/intake"
	"relaybot/internal/jobs"
	"relaybot/internal/mediagroup"
	"relaybot/internal/observability/httpserver"
	"relaybot/internal/ratelimit"
	rtsup "relaybot/internal/runtime/supervisor"
	"relaybot/internal/settings"
	"relaybot/internal/storage"
	"relaybot/internal/transport"
	"relaybot/internal/transport/telegram"
	"relaybot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	log  logx.Logger
	logs *logx.Service
	sup  *rtsup.Supervisor

	store    *storage.Store
	cache    *cache.Cache
	adapter  *telegram.Adapter
	limiter  *ratelimit.Limiter
	settings *settings.Service
	dist     *distributor.Distributor
	buffer   *mediagroup.Buffer
	intake   *intake.Pipeline
	jobs     *jobs.Scheduler
	http     *httpserver.Server

	updates chan transport.Update
	migrate bool
}

type Option func(*App)

// WithMigrate applies pending schema migrations during Start.
func WithMigrate(enabled bool) Option { return func(a *App) { a.migrate = enabled } }

type components struct {
	dig.In

	Store    *storage.Store
	Cache    *cache.Cache
	Adapter  *telegram.Adapter
	Limiter  *ratelimit.Limiter
	Settings *settings.Service
	Dist     *distributor.Distributor
	Buffer   *mediagroup.Buffer
	Intake   *intake.Pipeline
	Jobs     *jobs.Scheduler
	HTTP     *httpserver.Server
}

// New loads the config and builds the component graph. It connects to the
// database, the cache and the Bot API.
func New(cfgm *config.Manager, opts ...Option) (*App, error) {
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	logs, log := logx.New(mapLogging(cfg))

	c, err := buildContainer(cfg, logs, log)
	if err != nil {
		return nil, err
	}
	a := &App{
		cfgm:    cfgm,
		cfg:     cfg,
		log:     component(log, "app"),
		logs:    logs,
		updates: make(chan transport.Update, max(cfg.Relay.UpdateBuffer, 1)),
	}
	err = c.Invoke(func(in components) {
		a.store, a.cache, a.adapter = in.Store, in.Cache, in.Adapter
		a.limiter, a.settings = in.Limiter, in.Settings
		a.dist, a.buffer, a.intake = in.Dist, in.Buffer, in.Intake
		a.jobs, a.http = in.Jobs, in.HTTP
	})
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("build components: %w", dig.RootCause(err))
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Done is closed once the app's supervisor context ends, e.g. after a fatal
// error in a supervised goroutine.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Healthy is false while the database fuse is open.
func (a *App) Healthy() bool { return a.store.Healthy() }

// QueueSize is the number of deliveries waiting for a worker.
func (a *App) QueueSize() int { return a.dist.QueueSize() }

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// checkDeps pings the database and the cache in parallel.
func (a *App) checkDeps(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.store.Ping(gctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := a.cache.Ping(gctx); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	if err := a.checkDeps(ctx); err != nil {
		return err
	}
	if a.migrate {
		if err := a.store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	a.logs.SetSender(a.adapter)
	a.settings.SetBotUsername(a.adapter.Username())
	a.intake.SetBotID(a.adapter.BotID())

	a.dist.Start(run)
	a.buffer.Start(run)
	if err := a.jobs.Start(run); err != nil {
		return err
	}
	a.http.Start(run)

	workers := a.cfg.Relay.IntakeWorkers
	a.sup.Go("intake", func(c context.Context) error {
		return a.intake.Run(c, a.updates, workers)
	})
	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}

	a.cfgm.SetLogger(component(a.log, "config"))
	sub := a.cfgm.Subscribe(4)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, next)
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("relay started",
		logx.String("bot", a.adapter.Username()),
		logx.String("mode", a.cfg.Telegram.Mode),
		logx.Int("workers", a.cfg.Relay.Workers),
		logx.Int("global_rate_limit", a.limiter.GlobalLimit()),
	)
	return nil
}

// applyConfig hot-applies the sections that support it and warns about
// the rest.
func (a *App) applyConfig(ctx context.Context, next *config.Config) {
	prev := a.cfg
	a.cfg = next
	changed, attrs := config.SummarizeChange(prev, next)
	if len(changed) == 0 {
		return
	}
	for _, s := range changed {
		switch s {
		case config.SectionLogging:
			a.logs.Apply(mapLogging(next))
		case config.SectionRelay:
			a.limiter.SetGlobalLimit(next.Relay.GlobalRateLimit)
		case config.SectionHTTP:
			a.http.Reconfigure(ctx, mapHTTP(next))
		}
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	a.log.Info("config applied", fields...)
	if pending := config.NeedsRestart(changed); len(pending) > 0 {
		a.log.Warn("config sections need a restart to take effect", logx.String("sections", strings.Join(pending, ",")))
	}
}

// Stop shuts down inbound first so no new work arrives, then drains the
// pipeline, then closes connections.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		sctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		if err := fn(sctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step failed", logx.String("step", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		a.log.Debug("stop step done", logx.String("step", name), logx.Duration("took", time.Since(start)))
	}

	step("adapter", 3*time.Second, a.adapter.Stop)
	step("mediagroup", 2*time.Second, a.buffer.Stop)
	step("distributor", 10*time.Second, a.dist.Stop)
	step("auxiliary", 3*time.Second, func(c context.Context) error {
		g, gctx := errgroup.WithContext(c)
		g.Go(func() error { a.jobs.Stop(gctx); return nil })
		g.Go(func() error { a.http.Stop(gctx); return nil })
		return g.Wait()
	})
	a.sup.Cancel()
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("cache", time.Second, func(context.Context) error { return a.cache.Close() })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}
