package config

import (
	"slices"

	"relaybot/pkg/logx"
)

// Section names reported by SummarizeChange.
const (
	SectionTelegram    = "telegram"
	SectionDatabase    = "database"
	SectionRedis       = "redis"
	SectionRelay       = "relay"
	SectionEntitlement = "entitlement"
	SectionLogging     = "logging"
	SectionHTTP        = "http"
	SectionJobs        = "jobs"
)

// RestartRequired lists sections that only take effect on restart.
var RestartRequired = []string{SectionTelegram, SectionDatabase, SectionRedis, SectionJobs}

// SummarizeChange lists the changed sections and log fields describing the
// new values. Secrets are reported only as set/unset.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var changed []string
	var attrs []logx.Field

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		oldCfg.Telegram.Mode != newCfg.Telegram.Mode ||
		oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout ||
		oldCfg.Telegram.APIURL != newCfg.Telegram.APIURL ||
		!slices.Equal(oldCfg.Telegram.AdminUserIDs, newCfg.Telegram.AdminUserIDs) ||
		oldCfg.Telegram.Webhook != newCfg.Telegram.Webhook {
		changed = append(changed, SectionTelegram)
		attrs = append(attrs,
			logx.String("telegram.mode", newCfg.Telegram.Mode),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.Int("telegram.admin_count", len(newCfg.Telegram.AdminUserIDs)),
		)
	}
	if oldCfg.Database != newCfg.Database {
		changed = append(changed, SectionDatabase)
		attrs = append(attrs, logx.String("database.driver", newCfg.Database.Driver))
	}
	if oldCfg.Redis != newCfg.Redis {
		changed = append(changed, SectionRedis)
		attrs = append(attrs, logx.Bool("redis.enabled", newCfg.Redis.URL != ""))
	}
	if oldCfg.Relay != newCfg.Relay {
		changed = append(changed, SectionRelay)
		attrs = append(attrs,
			logx.Int("relay.workers", newCfg.Relay.Workers),
			logx.Int("relay.global_rate_limit", newCfg.Relay.GlobalRateLimit),
		)
	}
	if oldCfg.Entitlement != newCfg.Entitlement {
		changed = append(changed, SectionEntitlement)
		attrs = append(attrs, logx.Int("entitlement.trial_days", newCfg.Entitlement.TrialDays))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, SectionLogging)
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.operator", newCfg.Logging.Operator.Enabled),
		)
	}
	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, SectionHTTP)
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.token_set", newCfg.HTTP.Token != ""),
		)
	}
	if oldCfg.Jobs != newCfg.Jobs {
		changed = append(changed, SectionJobs)
		attrs = append(attrs, logx.String("jobs.timezone", newCfg.Jobs.Timezone))
	}
	return changed, attrs
}

// NeedsRestart reports the changed sections that cannot be applied live.
func NeedsRestart(changed []string) []string {
	var out []string
	for _, c := range changed {
		if slices.Contains(RestartRequired, c) {
			out = append(out, c)
		}
	}
	return out
}
