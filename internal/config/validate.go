package config

import (
	"errors"
	"fmt"
	"strings"

	"pinetick/internal/clock"
	logx "pinetick/pkg/logx"
)

// Validate checks a parsed config. It does not touch the database.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		errs = append(errs, errors.New("database_url is required"))
	}
	if _, err := clock.LoadLocation(cfg.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	if !logx.ValidLevel(cfg.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if cfg.HTTP.RatePerSec < 0 {
		errs = append(errs, errors.New("http.rate_per_sec must be >= 0"))
	}
	if cfg.Scheduler.Workers < 0 || cfg.Scheduler.QueueSize < 0 || cfg.Scheduler.HistorySize < 0 {
		errs = append(errs, errors.New("scheduler: workers, queue_size and history_size must be >= 0"))
	}
	if cfg.Notifier.Enabled {
		if strings.TrimSpace(cfg.Notifier.Telegram.Token) == "" {
			errs = append(errs, errors.New("notifier.telegram.token is required when the notifier is enabled"))
		}
		if cfg.Notifier.Telegram.ChatID == 0 {
			errs = append(errs, errors.New("notifier.telegram.chat_id is required when the notifier is enabled"))
		}
	}

	durations := []struct{ path, raw string }{
		{"scheduler.scan_interval", cfg.Scheduler.ScanInterval},
		{"notifier.retry_base", cfg.Notifier.RetryBase},
		{"notifier.retry_max_delay", cfg.Notifier.RetryMaxDelay},
		{"notifier.dedup_window", cfg.Notifier.DedupWindow},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
