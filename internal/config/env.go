package config

import (
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces environment overrides, e.g. PINETICK_DATABASE_URL.
const EnvPrefix = "PINETICK"

// envOverrides are applied on top of the file. The unprefixed names
// (DATABASE_URL, TIMEZONE, ...) are accepted as a fallback.
type envOverrides struct {
	DatabaseURL string `envconfig:"DATABASE_URL"`
	Timezone    string `envconfig:"TIMEZONE"`
	HTTPAddr    string `envconfig:"HTTP_ADDR"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
}

func applyEnv(cfg *Config) error {
	var e envOverrides
	if err := envconfig.Process(EnvPrefix, &e); err != nil {
		return err
	}
	if v := strings.TrimSpace(e.DatabaseURL); v != "" {
		cfg.DatabaseURL = v
	}
	if v := strings.TrimSpace(e.Timezone); v != "" {
		cfg.Timezone = v
	}
	if v := strings.TrimSpace(e.HTTPAddr); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := strings.TrimSpace(e.LogLevel); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}
