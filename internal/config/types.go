package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config is the on-disk shape. Durations are Go duration strings ("500ms",
// "10s", "5m"); empty means the component default.
type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Database    DatabaseConfig    `json:"database"`
	Redis       RedisConfig       `json:"redis"`
	Relay       RelayConfig       `json:"relay"`
	Entitlement EntitlementConfig `json:"entitlement"`
	Logging     LoggingConfig     `json:"logging"`
	HTTP        HTTPConfig        `json:"http"`
	Jobs        JobsConfig        `json:"jobs"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// Mode is "polling" (default) or "webhook".
	Mode         string        `json:"mode,omitempty"`
	PollTimeout  string        `json:"poll_timeout,omitempty"`
	APIURL       string        `json:"api_url,omitempty"`
	AdminUserIDs []int64       `json:"admin_user_ids,omitempty"`
	Webhook      WebhookConfig `json:"webhook,omitempty"`
}

type WebhookConfig struct {
	Listen    string `json:"listen,omitempty"`
	PublicURL string `json:"public_url,omitempty"`
	Path      string `json:"path,omitempty"`
	Secret    string `json:"secret,omitempty"` // do not log
}

// DatabaseConfig selects the SQL store.
//
// Example:
//
//	"database": { "driver": "postgres", "url": "postgres://relay:pw@localhost/relay?sslmode=disable" }
type DatabaseConfig struct {
	Driver          string `json:"driver"`
	URL             string `json:"url"`
	MaxOpenConns    int    `json:"max_open_conns,omitempty"`
	MaxIdleConns    int    `json:"max_idle_conns,omitempty"`
	ConnMaxLifetime string `json:"conn_max_lifetime,omitempty"`
	BusyTimeout     string `json:"busy_timeout,omitempty"` // sqlite
}

// RedisConfig points at the shared cache. An empty URL keeps the cache in
// process memory, which is only correct for a single replica.
type RedisConfig struct {
	URL       string `json:"url,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty"`
	PoolSize  int    `json:"pool_size,omitempty"`
}

type RelayConfig struct {
	Workers         int    `json:"workers,omitempty"`
	GlobalRateLimit int    `json:"global_rate_limit,omitempty"`
	GroupCooldown   string `json:"group_cooldown,omitempty"`
	PrivateCooldown string `json:"private_cooldown,omitempty"`
	IntakeWorkers   int    `json:"intake_workers,omitempty"`
	UpdateBuffer    int    `json:"update_buffer,omitempty"`
	// DedupWindow bounds how long a fingerprint blocks re-delivery.
	DedupWindow string `json:"dedup_window,omitempty"`
}

type EntitlementConfig struct {
	TrialDays     int    `json:"trial_days,omitempty"`
	CacheTTL      string `json:"cache_ttl,omitempty"`
	NudgeCooldown string `json:"nudge_cooldown,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Operator LoggingOperator `json:"operator"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingOperator mirrors warnings and errors into a Telegram chat.
type LoggingOperator struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// HTTPConfig controls the operator endpoint (/metrics, /healthz, pprof).
//
// Security note: a non-loopback addr needs a token or allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}

type JobsConfig struct {
	Timezone   string `json:"timezone,omitempty"`
	PruneSpec  string `json:"prune_spec,omitempty"`
	RemindSpec string `json:"remind_spec,omitempty"`
}

const (
	DefaultWorkers         = 10
	DefaultGlobalRateLimit = 25
	DefaultTrialDays       = 30
	DefaultDriver          = "postgres"
)

// Default returns a config that runs with nothing but a token.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{Mode: "polling", PollTimeout: "10s"},
		Database: DatabaseConfig{Driver: DefaultDriver},
		Relay: RelayConfig{
			Workers:         DefaultWorkers,
			GlobalRateLimit: DefaultGlobalRateLimit,
			IntakeWorkers:   4,
			UpdateBuffer:    1024,
		},
		Entitlement: EntitlementConfig{TrialDays: DefaultTrialDays},
		Logging:     LoggingConfig{Level: "info", Console: true},
		HTTP:        HTTPConfig{Addr: "127.0.0.1:9090"},
	}
}

// Validate checks values the components cannot default on their own.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required (or BOT_TOKEN)"))
	}
	switch c.Telegram.Mode {
	case "", "polling":
	case "webhook":
		if c.Telegram.Webhook.Listen == "" || c.Telegram.Webhook.PublicURL == "" {
			errs = append(errs, errors.New("telegram.webhook.listen and public_url are required in webhook mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("telegram.mode: unknown mode %q", c.Telegram.Mode))
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver))
	}
	if strings.TrimSpace(c.Database.URL) == "" {
		errs = append(errs, errors.New("database.url is required (or DATABASE_URL)"))
	}
	if c.Relay.Workers < 0 || c.Relay.GlobalRateLimit < 0 || c.Entitlement.TrialDays < 0 {
		errs = append(errs, errors.New("relay.workers, relay.global_rate_limit and entitlement.trial_days must be >= 0"))
	}
	durations := map[string]string{
		"telegram.poll_timeout":      c.Telegram.PollTimeout,
		"database.conn_max_lifetime": c.Database.ConnMaxLifetime,
		"database.busy_timeout":      c.Database.BusyTimeout,
		"relay.group_cooldown":       c.Relay.GroupCooldown,
		"relay.private_cooldown":     c.Relay.PrivateCooldown,
		"relay.dedup_window":         c.Relay.DedupWindow,
		"entitlement.cache_ttl":      c.Entitlement.CacheTTL,
		"entitlement.nudge_cooldown": c.Entitlement.NudgeCooldown,
		"http.read_timeout":          c.HTTP.ReadTimeout,
		"http.write_timeout":         c.HTTP.WriteTimeout,
		"http.idle_timeout":          c.HTTP.IdleTimeout,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
