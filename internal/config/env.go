package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads KEY=VALUE files into the process environment. Variables
// already set win, and missing files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays environment variables onto cfg.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}

	str("BOT_TOKEN", &cfg.Telegram.Token)
	str("BOT_MODE", &cfg.Telegram.Mode)
	str("LOCAL_API_URL", &cfg.Telegram.APIURL)
	str("WEBHOOK_LISTEN", &cfg.Telegram.Webhook.Listen)
	str("WEBHOOK_URL", &cfg.Telegram.Webhook.PublicURL)
	str("WEBHOOK_PATH", &cfg.Telegram.Webhook.Path)
	str("WEBHOOK_SECRET", &cfg.Telegram.Webhook.Secret)
	str("DATABASE_URL", &cfg.Database.URL)
	str("DATABASE_DRIVER", &cfg.Database.Driver)
	str("REDIS_URL", &cfg.Redis.URL)
	num("GLOBAL_RATE_LIMIT", &cfg.Relay.GlobalRateLimit)
	num("WORKER_COUNT", &cfg.Relay.Workers)
	num("TRIAL_DAYS", &cfg.Entitlement.TrialDays)
	if v, ok := lookup("LOG_LEVEL"); ok && strings.TrimSpace(v) != "" {
		cfg.Logging.Level = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup("ADMIN_USER_IDS"); ok && strings.TrimSpace(v) != "" {
		ids, err := ParseIDList(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("ADMIN_USER_IDS: %w", err))
		} else {
			cfg.Telegram.AdminUserIDs = ids
		}
	}
	return errors.Join(errs...)
}

// ParseIDList parses a comma separated list of integer ids.
func ParseIDList(s string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		out = append(out, id)
	}
	return out, nil
}
