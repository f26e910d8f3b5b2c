package app

import (
	"time"

	"pinetick/internal/api"
	"pinetick/internal/config"
	"pinetick/internal/notifier"
	"pinetick/internal/observability/pprof"
	"pinetick/internal/storage"
	"pinetick/internal/task/engine"
	"pinetick/internal/task/scheduler"
	logx "pinetick/pkg/logx"
)

// The mappers below assume cfg passed config.Validate.

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		URL:          cfg.DatabaseURL,
		BusyTimeout:  config.MustDuration(cfg.Storage.BusyTimeout, 5*time.Second),
		MaxOpenConns: cfg.Storage.MaxOpenConns,
	}
}

func mapEngineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		Workers:     cfg.Scheduler.Workers,
		QueueSize:   cfg.Scheduler.QueueSize,
		HistorySize: cfg.Scheduler.HistorySize,
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		ScanInterval: config.MustDuration(cfg.Scheduler.ScanInterval, scheduler.DefaultScanInterval),
	}
}

func mapAPIConfig(cfg *config.Config) api.Config {
	return api.Config{
		Addr:        cfg.HTTP.Addr,
		RatePerSec:  cfg.HTTP.RatePerSec,
		Burst:       cfg.HTTP.Burst,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	n := cfg.Notifier
	return notifier.Config{
		Enabled:       n.Enabled,
		QueueSize:     n.QueueSize,
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     config.MustDuration(n.RetryBase, 500*time.Millisecond),
		RetryMaxDelay: config.MustDuration(n.RetryMaxDelay, 10*time.Second),
		DedupWindow:   config.MustDuration(n.DedupWindow, 0),
		Telegram: notifier.TelegramConfig{
			Token:    n.Telegram.Token,
			ChatID:   n.Telegram.ChatID,
			ThreadID: n.Telegram.ThreadID,
		},
	}
}

func mapPprofConfig(cfg *config.Config) pprof.Config {
	return pprof.Config{
		Enabled: cfg.Pprof.Enabled,
		Addr:    cfg.Pprof.Addr,
		Token:   cfg.Pprof.Token,
	}
}
