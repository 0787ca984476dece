package app

import (
	"strings"
	"time"

	"relaybot/internal/cache"
	"relaybot/internal/config"
	"relaybot/internal/dedup"
	"relaybot/internal/distributor"
	"relaybot/internal/entitlement"
	"relaybot/internal/jobs"
	"relaybot/internal/observability/httpserver"
	"relaybot/internal/ratelimit"
	"relaybot/internal/storage"
	"relaybot/internal/transport/telegram"
	"relaybot/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Operator: logx.OperatorConfig{
			Enabled:    cfg.Logging.Operator.Enabled,
			ChatID:     cfg.Logging.Operator.ChatID,
			MinLevel:   cfg.Logging.Operator.MinLevel,
			RatePerSec: cfg.Logging.Operator.RatePerSec,
		},
	}
}

func mapTelegram(cfg *config.Config) telegram.Config {
	t := cfg.Telegram
	return telegram.Config{
		Token:       t.Token,
		Mode:        t.Mode,
		PollTimeout: config.Duration(t.PollTimeout, 10*time.Second),
		APIURL:      t.APIURL,
		Webhook: telegram.WebhookConfig{
			Listen:    t.Webhook.Listen,
			PublicURL: t.Webhook.PublicURL,
			Path:      t.Webhook.Path,
			Secret:    t.Webhook.Secret,
		},
	}
}

// mapStorage also accepts driver-qualified URLs such as
// postgresql+asyncpg://, dropping the qualifier.
func mapStorage(cfg *config.Config) storage.Config {
	d := cfg.Database
	dsn := strings.TrimSpace(d.URL)
	if scheme, rest, ok := strings.Cut(dsn, "://"); ok {
		if base, _, driverSuffix := strings.Cut(scheme, "+"); driverSuffix {
			scheme = base
		}
		if scheme == "postgresql" {
			scheme = "postgres"
		}
		dsn = scheme + "://" + rest
	}
	return storage.Config{
		Driver:          d.Driver,
		DSN:             dsn,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: config.Duration(d.ConnMaxLifetime, 0),
		BusyTimeout:     config.Duration(d.BusyTimeout, 0),
	}
}

func mapRedis(cfg *config.Config) cache.RedisConfig {
	return cache.RedisConfig{URL: cfg.Redis.URL, PoolSize: cfg.Redis.PoolSize}
}

func mapLimiter(cfg *config.Config) ratelimit.Config {
	return ratelimit.Config{
		GlobalLimit:     cfg.Relay.GlobalRateLimit,
		GroupCooldown:   config.Duration(cfg.Relay.GroupCooldown, 0),
		PrivateCooldown: config.Duration(cfg.Relay.PrivateCooldown, 0),
	}
}

func mapDistributor(cfg *config.Config) distributor.Config {
	return distributor.Config{Workers: cfg.Relay.Workers}
}

func dedupWindow(cfg *config.Config) time.Duration {
	return config.Duration(cfg.Relay.DedupWindow, dedup.DefaultWindow)
}

func mapEntitlement(cfg *config.Config) entitlement.Config {
	return entitlement.Config{
		TrialDays:     cfg.Entitlement.TrialDays,
		AdminIDs:      cfg.Telegram.AdminUserIDs,
		CacheTTL:      config.Duration(cfg.Entitlement.CacheTTL, entitlement.DefaultCacheTTL),
		NudgeCooldown: config.Duration(cfg.Entitlement.NudgeCooldown, entitlement.DefaultNudgeCooldown),
	}
}

func mapJobs(cfg *config.Config) jobs.Config {
	return jobs.Config{
		Timezone:   cfg.Jobs.Timezone,
		PruneSpec:  cfg.Jobs.PruneSpec,
		RemindSpec: cfg.Jobs.RemindSpec,
		Retention:  storage.SendLogRetention,
	}
}

func mapHTTP(cfg *config.Config) httpserver.Config {
	h := cfg.HTTP
	return httpserver.Config{
		Enabled:       h.Enabled,
		Addr:          h.Addr,
		Token:         h.Token,
		AllowInsecure: h.AllowInsecure,
		Pprof:         h.Pprof,
		ReadTimeout:   config.Duration(h.ReadTimeout, 5*time.Second),
		// profile and trace stream for longer than a scrape
		WriteTimeout: config.Duration(h.WriteTimeout, 0),
		IdleTimeout:  config.Duration(h.IdleTimeout, 2*time.Minute),
	}
}
