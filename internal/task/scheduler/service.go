package scheduler

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"pinetick/internal/clock"
	"pinetick/internal/eventbus"
	"pinetick/internal/storage"
	"pinetick/internal/task/engine"
	logx "pinetick/pkg/logx"
)

const DefaultScanInterval = 3 * time.Second

// Config controls the scan tick.
type Config struct {
	ScanInterval time.Duration
}

// Service owns the registry, the scan lock, dispatch timers and the link to
// the worker pool. One Service per store.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	clk clock.Clock
	bus eventbus.Bus

	store    *storage.Store
	engine   *engine.Service
	registry *Registry

	c       *cron.Cron
	entryID cron.EntryID
	runCtx  context.Context
	cancel  context.CancelFunc

	// Held for the whole claim pass; TryLock makes overlapping ticks skip.
	scanMu sync.Mutex

	tmu    sync.Mutex
	timers map[int64]*time.Timer

	scans        atomic.Uint64
	scansSkipped atomic.Uint64
	claimed      atomic.Uint64
	lastScanAt   atomic.Int64

	dmu            sync.Mutex
	lastDispatchAt map[string]time.Time
}

func New(cfg Config, store *storage.Store, eng *engine.Service, clk clock.Clock, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.System()
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	return &Service{
		cfg:            cfg,
		log:            log.With(logx.String("comp", "scheduler")),
		clk:            clk,
		bus:            bus,
		store:          store,
		engine:         eng,
		registry:       NewRegistry(),
		timers:         map[int64]*time.Timer{},
		lastDispatchAt: map[string]time.Time{},
	}
}

// Registry exposes the function registry used by the executor.
func (s *Service) Registry() *Registry { return s.registry }

// Start begins the scan tick. Rows are only fired while the engine is running.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLocation(s.clk.Location()),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	// cron.Every truncates to whole seconds, minimum one second.
	id := c.Schedule(cron.Every(s.cfg.ScanInterval), cron.FuncJob(func() { s.tick(runCtx) }))

	s.tmu.Lock()
	s.runCtx = runCtx
	s.tmu.Unlock()
	s.c, s.entryID, s.cancel = c, id, cancel
	c.Start()

	s.log.Info("scheduler started",
		logx.Duration("scan_interval", s.cfg.ScanInterval),
		logx.String("tz", s.clk.Location().String()),
		logx.Int("functions", len(s.registry.Paths())),
	)
	return nil
}

// Stop halts the tick and discards pending dispatch timers. Rows whose
// timers are discarded stay claimed until ResetOrphanedClaims runs.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel, s.entryID = nil, nil, 0
	s.mu.Unlock()

	if c != nil {
		cancel()
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	s.tmu.Lock()
	dropped := len(s.timers)
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = map[int64]*time.Timer{}
	s.runCtx = nil
	s.tmu.Unlock()

	s.log.Info("scheduler stopped", logx.Int("timers_dropped", dropped), logx.Duration("took", time.Since(start)))
}

// Snapshot is a point-in-time view for health endpoints.
type Snapshot struct {
	Running       bool          `json:"running"`
	Timezone      string        `json:"timezone"`
	ScanInterval  time.Duration `json:"scan_interval"`
	Scans         uint64        `json:"scans"`
	ScansSkipped  uint64        `json:"scans_skipped"`
	Claimed       uint64        `json:"claimed"`
	PendingTimers int           `json:"pending_timers"`
	LastScanAt    time.Time     `json:"last_scan_at,omitempty"`
	NextScanAt    time.Time     `json:"next_scan_at,omitempty"`
	Functions     []string      `json:"functions"`
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	c, id := s.c, s.entryID
	s.mu.Unlock()

	snap := Snapshot{
		Running:      c != nil,
		Timezone:     s.clk.Location().String(),
		ScanInterval: s.cfg.ScanInterval,
		Scans:        s.scans.Load(),
		ScansSkipped: s.scansSkipped.Load(),
		Claimed:      s.claimed.Load(),
		Functions:    s.registry.Paths(),
	}
	if ns := s.lastScanAt.Load(); ns != 0 {
		snap.LastScanAt = time.Unix(0, ns).In(s.clk.Location())
	}
	if c != nil {
		snap.NextScanAt = c.Entry(id).Next
	}
	s.tmu.Lock()
	snap.PendingTimers = len(s.timers)
	s.tmu.Unlock()
	return snap
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	// cron reports every wake/run at info; keep those at trace.
	l.log.Trace("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok || strings.TrimSpace(k) == "" {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
