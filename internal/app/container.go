package app

import (
	"context"
	"time"

	"go.uber.org/dig"

	"relaybot/internal/alias"
	"relaybot/internal/cache"
	"relaybot/internal/config"
	"relaybot/internal/dedup"
	"relaybot/internal/distributor"
	"relaybot/internal/entitlement"
	"relaybot/internal/intake"
	"relaybot/internal/jobs"
	"relaybot/internal/mediagroup"
	"relaybot/internal/moderation"
	"relaybot/internal/observability/httpserver"
	"relaybot/internal/observability/metrics"
	"relaybot/internal/ratelimit"
	"relaybot/internal/settings"
	"relaybot/internal/storage"
	"relaybot/internal/transport/telegram"
	"relaybot/pkg/logx"
)

const (
	aliasCacheTTL = time.Hour
	openTimeout   = 15 * time.Second
)

// component returns the logger for one component.
func component(log logx.Logger, name string) logx.Logger {
	return log.With(logx.String("comp", name))
}

// buildContainer registers every constructor. Nothing is built until the
// first Invoke, so a failing provider surfaces there.
func buildContainer(cfg *config.Config, logs *logx.Service, log logx.Logger) (*dig.Container, error) {
	c := dig.New()
	providers := []any{
		func() *config.Config { return cfg },
		func() *logx.Service { return logs },
		func() logx.Logger { return log },
		metrics.New,
		provideStore,
		provideCache,
		provideAdapter,
		provideLimiter,
		provideSettings,
		provideEntitlement,
		provideModeration,
		provideAlias,
		provideDedup,
		provideDistributor,
		provideBuffer,
		provideIntake,
		provideJobs,
		provideHTTP,
	}
	for _, p := range providers {
		if err := c.Provide(p); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func provideStore(cfg *config.Config, log logx.Logger) (*storage.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	return OpenStore(ctx, cfg, log)
}

// OpenStore connects to the configured database without migrating.
func OpenStore(ctx context.Context, cfg *config.Config, log logx.Logger) (*storage.Store, error) {
	return storage.Open(ctx, mapStorage(cfg), storage.GuardConfig{}, component(log, "storage"))
}

func provideCache(cfg *config.Config, log logx.Logger) (*cache.Cache, error) {
	return OpenCache(cfg, log)
}

// OpenCache returns the Redis cache when configured and a process-local one
// otherwise.
func OpenCache(cfg *config.Config, log logx.Logger) (*cache.Cache, error) {
	if cfg.Redis.URL == "" {
		component(log, "cache").Warn("redis url not set; using in-process cache (single replica only)")
		return cache.New(cache.NewMemory(), cfg.Redis.KeyPrefix), nil
	}
	r, err := cache.NewRedis(mapRedis(cfg))
	if err != nil {
		return nil, err
	}
	return cache.New(r, cfg.Redis.KeyPrefix), nil
}

func provideAdapter(cfg *config.Config, m *metrics.Recorder, log logx.Logger) (*telegram.Adapter, error) {
	tc := mapTelegram(cfg)
	tc.Drops = m
	return telegram.New(tc, component(log, "telegram"))
}

func provideLimiter(cfg *config.Config, c *cache.Cache, log logx.Logger) *ratelimit.Limiter {
	return ratelimit.New(mapLimiter(cfg), c, component(log, "ratelimit"))
}

func provideSettings(st *storage.Store) *settings.Service {
	return settings.New(st.Settings, settings.DefaultRefresh)
}

func provideEntitlement(cfg *config.Config, c *cache.Cache, st *storage.Store, ad *telegram.Adapter, log logx.Logger) *entitlement.Service {
	return entitlement.New(mapEntitlement(cfg), c, st.Subscriptions, ad, component(log, "entitlement"))
}

func provideModeration(c *cache.Cache, st *storage.Store, log logx.Logger) *moderation.Service {
	return moderation.New(c, st.Restrictions, moderation.DefaultCacheTTL, component(log, "moderation"))
}

func provideAlias(c *cache.Cache, st *storage.Store, log logx.Logger) *alias.Resolver {
	return alias.New(c, st.Aliases, aliasCacheTTL, component(log, "alias"))
}

func provideDedup(cfg *config.Config, c *cache.Cache) *dedup.Engine {
	return dedup.New(c, dedupWindow(cfg))
}

type distributorIn struct {
	dig.In

	Config       *config.Config
	Store        *storage.Store
	Entitlements *entitlement.Service
	Settings     *settings.Service
	Aliases      *alias.Resolver
	Limiter      *ratelimit.Limiter
	Adapter      *telegram.Adapter
	Metrics      *metrics.Recorder
	Log          logx.Logger
}

func provideDistributor(in distributorIn) *distributor.Distributor {
	return distributor.New(mapDistributor(in.Config), distributor.Deps{
		Registry:     in.Store.Chats,
		SendLog:      in.Store.SendLog,
		Entitlements: in.Entitlements,
		Settings:     in.Settings,
		Aliases:      in.Aliases,
		Limiter:      in.Limiter,
		Sender:       in.Adapter.Sender(),
		Recorder:     in.Metrics,
	}, component(in.Log, "distributor"))
}

func provideBuffer(c *cache.Cache, d *distributor.Distributor, m *metrics.Recorder, log logx.Logger) *mediagroup.Buffer {
	return mediagroup.New(mediagroup.Config{}, c, d, component(log, "mediagroup"), mediagroup.WithRecorder(m))
}

type intakeIn struct {
	dig.In

	Store       *storage.Store
	Moderation  *moderation.Service
	Dedup       *dedup.Engine
	Buffer      *mediagroup.Buffer
	Distributor *distributor.Distributor
	Settings    *settings.Service
	Adapter     *telegram.Adapter
	Metrics     *metrics.Recorder
	Log         logx.Logger
}

func provideIntake(in intakeIn) *intake.Pipeline {
	return intake.New(intake.Deps{
		Moderation:  in.Moderation,
		Chats:       in.Store.Chats,
		Dedup:       in.Dedup,
		Buffer:      in.Buffer,
		SendLog:     in.Store.SendLog,
		Distributor: in.Distributor,
		Settings:    in.Settings,
		Greeter:     in.Adapter,
		Recorder:    in.Metrics,
	}, component(in.Log, "intake"))
}

func provideJobs(cfg *config.Config, st *storage.Store, ent *entitlement.Service, m *metrics.Recorder, log logx.Logger) *jobs.Scheduler {
	return jobs.New(mapJobs(cfg), st.SendLog, ent, m, log)
}

func provideHTTP(cfg *config.Config, m *metrics.Recorder, st *storage.Store, c *cache.Cache, log logx.Logger) *httpserver.Server {
	ready := func(ctx context.Context) error {
		if err := st.Ping(ctx); err != nil {
			return err
		}
		return c.Ping(ctx)
	}
	return httpserver.New(mapHTTP(cfg), m.Handler(), ready, log)
}
