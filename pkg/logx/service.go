package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const defaultLogFile = "./pinetick.log"

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// Service owns the process sinks. Loggers it hands out read the current
// zerolog logger on every call, so Apply takes effect immediately.
type Service struct {
	mu       sync.Mutex
	cfg      Config
	file     *os.File
	filePath string

	cur atomic.Pointer[zerolog.Logger]
}

// New builds the sinks for cfg and returns the service and its root logger.
func New(cfg Config) (*Service, Logger) {
	s := &Service{}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.cur.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// Apply rebuilds the sinks. The log file stays open when its path is
// unchanged. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	path := ""
	if cfg.File.Enabled {
		if path = strings.TrimSpace(cfg.File.Path); path == "" {
			path = defaultLogFile
		}
	}
	if path != s.filePath {
		_ = s.closeFileLocked()
		if path != "" {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				fmt.Fprintf(os.Stderr, "logx: open %s: %v\n", path, err)
			} else {
				s.file, s.filePath = f, path
			}
		}
	}
	s.storeLocked()
}

func (s *Service) storeLocked() {
	var sinks []io.Writer
	if s.cfg.Console {
		sinks = append(sinks, consoleSink(os.Stdout))
	}
	if s.file != nil {
		sinks = append(sinks, zerolog.SyncWriter(s.file))
	}
	if len(sinks) == 0 {
		sinks = append(sinks, consoleSink(os.Stdout))
	}
	zl := build(zerolog.MultiLevelWriter(sinks...), s.cfg.Level)
	s.cur.Store(&zl)
}

// Close releases the log file. Later lines go to the console sink.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.closeFileLocked()
	s.storeLocked()
	return err
}

func (s *Service) closeFileLocked() error {
	f := s.file
	s.file, s.filePath = nil, ""
	if f == nil {
		return nil
	}
	return f.Close()
}

func consoleSink(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:          w,
		TimeFormat:   timeFormat,
		FormatCaller: plainCaller,
	}
}

// plainCaller prints file:line as is, without the default color.
func plainCaller(i any) string {
	s, _ := i.(string)
	return s
}
