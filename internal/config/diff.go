package config

import (
	logx "pinetick/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs and
// log-safe attributes for them. Tokens are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		attrs   []logx.Field
	)

	if oldCfg.DatabaseURL != newCfg.DatabaseURL {
		changed = append(changed, "database_url")
	}
	if oldCfg.Timezone != newCfg.Timezone {
		changed = append(changed, "timezone")
		attrs = append(attrs, logx.String("timezone", newCfg.Timezone))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
	}
	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Any("http.rate_per_sec", newCfg.HTTP.RatePerSec),
		)
	}
	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newCfg.Notifier.Enabled),
			logx.Bool("notifier.token_set", newCfg.Notifier.Telegram.Token != ""),
			logx.Any("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
	}
	if oldCfg.Pprof != newCfg.Pprof {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", newCfg.Pprof.Addr),
		)
	}
	return changed, attrs
}

// NeedsRestart reports sections that cannot be applied to a running process.
func NeedsRestart(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.DatabaseURL != newCfg.DatabaseURL || oldCfg.Storage != newCfg.Storage {
		out = append(out, "storage")
	}
	if oldCfg.Timezone != newCfg.Timezone {
		out = append(out, "timezone")
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		out = append(out, "scheduler")
	}
	if oldCfg.HTTP.Addr != newCfg.HTTP.Addr {
		out = append(out, "http.addr")
	}
	if oldCfg.Notifier.Enabled != newCfg.Notifier.Enabled || oldCfg.Notifier.Telegram != newCfg.Notifier.Telegram {
		out = append(out, "notifier.telegram")
	}
	if oldCfg.Pprof != newCfg.Pprof {
		out = append(out, "pprof")
	}
	return out
}
