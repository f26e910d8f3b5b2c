package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"pinetick/internal/clock"
	"pinetick/internal/eventbus"
	rtsup "pinetick/internal/runtime/supervisor"
	"pinetick/internal/task/scheduler"
	logx "pinetick/pkg/logx"

	"golang.org/x/time/rate"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const historySize = 100

type job struct {
	funcPath string
	text     string
}

// Service turns task.failed events into alerts:
// subscription + queue + single sender + rate limit + retry + dedup.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender Sender
	bus    eventbus.Bus
	clk    clock.Clock

	cfg     Config
	limiter *rate.Limiter

	queue chan job
	sup   *rtsup.Supervisor
	unsub func()

	// func_path -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus, clk clock.Clock) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.System()
	}
	s := &Service{
		sender: sender,
		log:    log.With(logx.String("comp", "notifier")),
		bus:    bus,
		clk:    clk,
		dedup:  map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled && s.sender != nil
	s.mu.Unlock()
	return en
}

// Apply swaps rate, retry and dedup settings. Enabling or disabling takes
// effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}

	s.cfg = cfg
	burst := int(cfg.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
}

// Start subscribes to task failures and runs the sender loop. It is a no-op
// when disabled or already running.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.queue != nil || !s.cfg.Enabled || s.sender == nil {
		s.mu.Unlock()
		return
	}
	q := make(chan job, s.cfg.QueueSize)
	s.queue = q
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		// alerts are best-effort; never take the scheduler down.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	var events <-chan eventbus.Event
	if s.bus != nil {
		events, s.unsub = s.bus.Subscribe(64, eventbus.TypeTaskFailed)
	}
	s.mu.Unlock()

	if events != nil {
		sup.Go("events", func(c context.Context) error {
			s.eventLoop(c, events)
			return nil
		})
	}
	sup.GoRestart("sender", func(c context.Context) error {
		s.sendLoop(c, q)
		return c.Err()
	}, rtsup.WithPublishFirstError(true))

	s.log.Info("notifier started")
}

// Stop unsubscribes and waits for the loops, bounded by ctx. Queued alerts
// that have not been sent yet are dropped.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	sup := s.sup
	unsub := s.unsub
	s.sup, s.unsub, s.queue = nil, nil, nil
	s.mu.Unlock()

	if sup == nil {
		return
	}
	if unsub != nil {
		unsub()
	}
	_ = sup.Stop(ctx)
	s.log.Info("notifier stopped")
}

// Notify queues an alert text for funcPath. Repeats for the same function
// inside the dedup window are dropped silently.
func (s *Service) Notify(funcPath, text string) error {
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	q := s.queue
	window := s.cfg.DedupWindow
	s.mu.Unlock()
	if q == nil {
		return ErrStopped
	}

	if window > 0 && funcPath != "" && !s.dedupAllow(funcPath, window) {
		s.log.Debug("alert deduplicated", logx.String("func_path", funcPath))
		return nil
	}

	select {
	case q <- job{funcPath: funcPath, text: text}:
		return nil
	default:
		return ErrQueueFull
	}
}

// History returns sent alerts, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) eventLoop(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			ev, ok := e.Data.(scheduler.TaskEvent)
			if !ok {
				continue
			}
			if err := s.Notify(ev.FuncPath, FormatFailure(ev)); err != nil && !errors.Is(err, ErrStopped) {
				s.log.Warn("alert not queued", logx.String("func_path", ev.FuncPath), logx.Err(err))
			}
		}
	}
}

func (s *Service) sendLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-q:
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, j job) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	sender := s.sender
	s.mu.Unlock()

	if sender == nil || j.text == "" {
		return
	}

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := sender.Send(callCtx, j.text)
		cancel()
		if err == nil {
			s.appendHistory(HistoryItem{At: s.clk.Now(), FuncPath: j.funcPath, Text: j.text})
			return
		}
		lastErr = err
		s.log.Debug("alert send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	s.log.Warn("alert dropped", logx.String("func_path", j.funcPath), logx.Err(lastErr))
	s.appendHistory(HistoryItem{At: s.clk.Now(), FuncPath: j.funcPath, Text: j.text, Error: lastErr.Error()})
}

func (s *Service) appendHistory(item HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
}

func (s *Service) dedupAllow(key string, window time.Duration) bool {
	now := s.clk.Now()

	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	s.dedup[key] = now.Add(window)
	return true
}

// retryDelay is exponential backoff with +-20% jitter, capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase << (attempt - 1)
	if d <= 0 || d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5+1)) * 2
	return d - d/5 + jitter
}

// maxErrorRunes keeps alerts well under Telegram's 4096 character limit.
const maxErrorRunes = 3000

// FormatFailure renders the HTML alert text for a failed run.
func FormatFailure(ev scheduler.TaskEvent) string {
	var b strings.Builder
	b.WriteString("⚠️ " + bold("task failed") + " " + code(ev.FuncPath))
	fmt.Fprintf(&b, "\nid: %d", ev.ID)
	if !ev.StartAt.IsZero() {
		b.WriteString("\nscheduled: " + esc(ev.StartAt.Format(time.RFC3339)))
	}
	if !ev.EndAt.IsZero() {
		b.WriteString("\nfinished: " + esc(ev.EndAt.Format(time.RFC3339)))
	}
	if msg := strings.TrimSpace(ev.Message); msg != "" {
		b.WriteString("\n" + pre(truncRunes(msg, maxErrorRunes)))
	}
	return b.String()
}
