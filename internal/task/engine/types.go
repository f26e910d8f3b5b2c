package engine

import (
	"context"
	"time"

	rtsup "pinetick/internal/runtime/supervisor"
)

// Config controls the worker pool.
//
// The scheduler decides when a job is due; the engine only bounds how many
// jobs run at once and how many may wait.
type Config struct {
	Workers     int
	QueueSize   int
	HistorySize int
}

const (
	DefaultWorkers     = 4
	DefaultQueueSize   = 256
	DefaultHistorySize = 200
)

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	return c
}

// Task is a unit of work executed by the engine.
// Run errors are logged and recorded in history; they are never retried.
type Task struct {
	ID   string
	Name string
	Run  func(ctx context.Context) error
}

type HistoryItem struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Running  bool `json:"running"`
	Workers  int  `json:"workers"`
	QueueLen int  `json:"queue_len"`
	QueueCap int  `json:"queue_cap"`
	InFlight int  `json:"in_flight"`

	Accepted  uint64 `json:"accepted"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Panics    uint64 `json:"panics"`
	Rejected  uint64 `json:"rejected"`

	Supervisor rtsup.SupervisorCounters `json:"supervisor"`
	History    []HistoryItem            `json:"history,omitempty"`
}
