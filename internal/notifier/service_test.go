package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"pinetick/internal/clock"
	"pinetick/internal/eventbus"
	"pinetick/internal/task/scheduler"
	logx "pinetick/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	texts []string
	calls int
	fails int // first n calls fail
}

func (f *fakeSender) Send(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return errors.New("telegram: 502 bad gateway")
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func pollUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func startNotifier(t *testing.T, cfg Config, sender Sender) (*Service, eventbus.Bus, *clock.Manual) {
	t.Helper()
	bus := eventbus.New()
	clk := clock.NewManual(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	s := New(cfg, sender, logx.Nop(), bus, clk)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, bus, clk
}

func failedEvent(id int64, funcPath, msg string) eventbus.Event {
	return eventbus.Event{Type: eventbus.TypeTaskFailed, Data: scheduler.TaskEvent{
		ID:       id,
		FuncPath: funcPath,
		Status:   "error",
		Message:  msg,
		StartAt:  time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		EndAt:    time.Date(2024, 5, 1, 9, 0, 1, 0, time.UTC),
	}}
}

func TestFormatFailure(t *testing.T) {
	t.Parallel()

	ev := failedEvent(42, "jobs.Backup", "open <nil>: disk full").Data.(scheduler.TaskEvent)
	got := FormatFailure(ev)
	for _, want := range []string{
		"<code>jobs.Backup</code>",
		"id: 42",
		"scheduled: 2024-05-01T09:00:00Z",
		"<pre><code>open &lt;nil&gt;: disk full</code></pre>",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("FormatFailure() = %q, missing %q", got, want)
		}
	}

	ev.Message = ""
	if got := FormatFailure(ev); strings.Contains(got, "<pre>") {
		t.Fatalf("FormatFailure() = %q, want no error block", got)
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel…"},
		{"héllo wörld", 4, "héll…"},
		{"abc", 0, ""},
	}
	for _, tt := range tests {
		tt := tt
		if got := truncRunes(tt.in, tt.n); got != tt.want {
			t.Fatalf("truncRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestFailedEventSendsAlert(t *testing.T) {
	t.Parallel()

	fs := &fakeSender{}
	_, bus, _ := startNotifier(t, Config{Enabled: true, RatePerSec: 100}, fs)

	bus.Publish(failedEvent(1, "jobs.Backup", "boom"))
	// finished events are not alerts
	bus.Publish(eventbus.Event{Type: eventbus.TypeTaskFinished, Data: scheduler.TaskEvent{ID: 2, FuncPath: "jobs.Ok"}})

	pollUntil(t, 2*time.Second, func() bool { return len(fs.sent()) == 1 })
	time.Sleep(50 * time.Millisecond)
	if got := fs.sent(); len(got) != 1 || !strings.Contains(got[0], "jobs.Backup") {
		t.Fatalf("sent = %q, want one alert for jobs.Backup", got)
	}
}

func TestDedupWindowSuppressesRepeats(t *testing.T) {
	t.Parallel()

	fs := &fakeSender{}
	s, _, clk := startNotifier(t, Config{Enabled: true, RatePerSec: 100, DedupWindow: time.Minute}, fs)

	for i := 0; i < 3; i++ {
		if err := s.Notify("jobs.Backup", "x"); err != nil {
			t.Fatalf("Notify() error = %v", err)
		}
	}
	if err := s.Notify("jobs.Other", "y"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	pollUntil(t, 2*time.Second, func() bool { return len(fs.sent()) == 2 })

	clk.Advance(2 * time.Minute)
	if err := s.Notify("jobs.Backup", "z"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	pollUntil(t, 2*time.Second, func() bool { return len(fs.sent()) == 3 })
}

func TestSendRetriesThenRecordsHistory(t *testing.T) {
	t.Parallel()

	fs := &fakeSender{fails: 2}
	s, _, _ := startNotifier(t, Config{Enabled: true, RatePerSec: 100, RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}, fs)

	if err := s.Notify("jobs.Backup", "alert"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	pollUntil(t, 2*time.Second, func() bool { return len(s.History()) == 1 })

	if got := fs.callCount(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
	if h := s.History()[0]; h.Error != "" || h.FuncPath != "jobs.Backup" {
		t.Fatalf("history = %+v, want successful jobs.Backup", h)
	}
}

func TestSendGivesUpAfterRetries(t *testing.T) {
	t.Parallel()

	fs := &fakeSender{fails: 10}
	s, _, _ := startNotifier(t, Config{Enabled: true, RatePerSec: 100, RetryMax: 1, RetryBase: time.Millisecond, RetryMaxDelay: time.Millisecond}, fs)

	if err := s.Notify("jobs.Backup", "alert"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	pollUntil(t, 2*time.Second, func() bool { return len(s.History()) == 1 })
	if h := s.History()[0]; h.Error == "" {
		t.Fatalf("history = %+v, want recorded error", h)
	}
	if got := fs.callCount(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestNotifyDisabledAndStopped(t *testing.T) {
	t.Parallel()

	off := New(Config{}, &fakeSender{}, logx.Nop(), nil, nil)
	off.Start(context.Background())
	if err := off.Notify("a", "b"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Notify() error = %v, want ErrDisabled", err)
	}
	if off.Enabled() {
		t.Fatalf("Enabled() = true, want false")
	}

	on := New(Config{Enabled: true}, &fakeSender{}, logx.Nop(), nil, nil)
	if err := on.Notify("a", "b"); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify() before Start error = %v, want ErrStopped", err)
	}
	on.Start(context.Background())
	on.Stop(context.Background())
	if err := on.Notify("a", "b"); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify() after Stop error = %v, want ErrStopped", err)
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()

	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	tests := []struct {
		attempt  int
		min, max time.Duration
	}{
		{1, 80 * time.Millisecond, 120 * time.Millisecond},
		{2, 160 * time.Millisecond, 240 * time.Millisecond},
		{10, 800 * time.Millisecond, 1200 * time.Millisecond},
	}
	for _, tt := range tests {
		tt := tt
		for i := 0; i < 20; i++ {
			d := retryDelay(cfg, tt.attempt)
			if d < tt.min || d > tt.max {
				t.Fatalf("retryDelay(%d) = %v, want within [%v, %v]", tt.attempt, d, tt.min, tt.max)
			}
		}
	}
}
