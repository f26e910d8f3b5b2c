package config

import "time"

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "3s", "1m").
type Config struct {
	DatabaseURL string          `json:"database_url"`
	Timezone    string          `json:"timezone"`
	Logging     LoggingConfig   `json:"logging"`
	Scheduler   SchedulerConfig `json:"scheduler"`
	HTTP        HTTPConfig      `json:"http"`
	Notifier    NotifierConfig  `json:"notifier"`
	Storage     StorageConfig   `json:"storage"`
	Pprof       PprofConfig     `json:"pprof"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the scanner tick and the worker pool.
type SchedulerConfig struct {
	ScanInterval string `json:"scan_interval"`
	Workers      int    `json:"workers"`
	QueueSize    int    `json:"queue_size"`
	HistorySize  int    `json:"history_size"`
}

// HTTPConfig controls the listing API. RatePerSec 0 disables the limiter.
type HTTPConfig struct {
	Addr       string  `json:"addr"`
	RatePerSec float64 `json:"rate_per_sec"`
	Burst      int     `json:"burst,omitempty"`
}

// NotifierConfig controls task failure alerts.
type NotifierConfig struct {
	Enabled       bool             `json:"enabled"`
	Telegram      NotifierTelegram `json:"telegram"`
	QueueSize     int              `json:"queue_size,omitempty"`
	RatePerSec    float64          `json:"rate_per_sec"`
	RetryMax      int              `json:"retry_max,omitempty"`
	RetryBase     string           `json:"retry_base,omitempty"`
	RetryMaxDelay string           `json:"retry_max_delay,omitempty"`
	DedupWindow   string           `json:"dedup_window,omitempty"`
}

type NotifierTelegram struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}

type StorageConfig struct {
	BusyTimeout  string `json:"busy_timeout"` // sqlite only
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
}

// PprofConfig controls the optional profiling listener. Binding to a
// non-loopback addr requires a token.
type PprofConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	Token   string `json:"token,omitempty"`
}

const (
	DefaultDatabaseURL  = "sqlite://./pinetick.db"
	DefaultHTTPAddr     = "0.0.0.0:8000"
	DefaultScanInterval = 3 * time.Second
)

// Default returns the configuration used for every field the file omits.
func Default() *Config {
	return &Config{
		DatabaseURL: DefaultDatabaseURL,
		Timezone:    "Local",
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			File:    LoggingFile{Path: "./pinetick.log"},
		},
		Scheduler: SchedulerConfig{
			ScanInterval: DefaultScanInterval.String(),
			Workers:      4,
			QueueSize:    256,
			HistorySize:  200,
		},
		HTTP:     HTTPConfig{Addr: DefaultHTTPAddr},
		Notifier: NotifierConfig{RatePerSec: 1, RetryMax: 2, DedupWindow: "1m"},
		Storage:  StorageConfig{BusyTimeout: "5s"},
		Pprof:    PprofConfig{Addr: "127.0.0.1:6060"},
	}
}
