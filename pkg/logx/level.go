package logx

import (
	"strings"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	LevelTrace = zerolog.TraceLevel
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

var levelNames = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
}

// levelOf maps a config level name to zerolog; unknown or empty is info.
func levelOf(name string) zerolog.Level {
	if lv, ok := levelNames[strings.ToLower(strings.TrimSpace(name))]; ok {
		return lv
	}
	return zerolog.InfoLevel
}

// ValidLevel reports whether name is accepted in config. Empty means info.
func ValidLevel(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return true
	}
	_, ok := levelNames[n]
	return ok
}
