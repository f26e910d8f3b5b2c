package app

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pinetick/internal/config"
	rtsup "pinetick/internal/runtime/supervisor"
	"pinetick/internal/task/scheduler"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"DATABASE_URL", "TIMEZONE", "HTTP_ADDR", "LOG_LEVEL"} {
		t.Setenv(config.EnvPrefix+"_"+k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	body = strings.ReplaceAll(body, "$DIR", filepath.ToSlash(dir))
	p := filepath.Join(dir, "pinetick.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	isolateEnv(t)

	p := writeConfig(t, "timezone: Nowhere/Special\n")
	if _, err := New(p); err == nil || !strings.Contains(err.Error(), "timezone") {
		t.Fatalf("New() error = %v, want timezone error", err)
	}
}

func TestMappersApplyDefaults(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Notifier.RetryBase = ""
	if got := mapSchedulerConfig(cfg).ScanInterval; got != 3*time.Second {
		t.Fatalf("ScanInterval = %v, want 3s", got)
	}
	if got := mapStorageConfig(cfg).BusyTimeout; got != 5*time.Second {
		t.Fatalf("BusyTimeout = %v, want 5s", got)
	}
	n := mapNotifierConfig(cfg)
	if n.RetryBase != 500*time.Millisecond || n.DedupWindow != time.Minute || n.Enabled {
		t.Fatalf("notifier = %+v", n)
	}
	if got := mapEngineConfig(cfg); got.Workers != 4 || got.QueueSize != 256 || got.HistorySize != 200 {
		t.Fatalf("engine = %+v", got)
	}
}

func TestStatusReportsGoroutines(t *testing.T) {
	isolateEnv(t)

	p := writeConfig(t, "database_url: sqlite://$DIR/pinetick.db\ntimezone: UTC\nlogging:\n  level: error\n")
	a, err := New(p)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = a.Stop(context.Background(), StopSignal) }()

	st := a.status()
	g, ok := st["goroutines"].(map[string]any)
	if !ok {
		t.Fatalf("status goroutines = %T, want map", st["goroutines"])
	}
	// not started yet: both supervisors report empty snapshots
	for _, k := range []string{"app", "workers"} {
		snap, ok := g[k].(rtsup.SupervisorSnapshot)
		if !ok {
			t.Fatalf("goroutines[%q] = %T, want SupervisorSnapshot", k, g[k])
		}
		if snap.Counters.Active != 0 || len(snap.Goroutines) != 0 {
			t.Fatalf("goroutines[%q] = %+v, want empty before Start", k, snap)
		}
	}
}

func TestAppRunsRegisteredFunction(t *testing.T) {
	if testing.Short() {
		t.Skip("runs the real scan tick")
	}
	isolateEnv(t)

	p := writeConfig(t, `
database_url: sqlite://$DIR/pinetick.db
timezone: UTC
logging:
  level: error
scheduler:
  scan_interval: 1s
  workers: 2
http:
  addr: 127.0.0.1:0
`)
	a, err := New(p)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	params, _ := scheduler.Every(1)
	h, err := a.Scheduler().Register(params, func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return "pong", nil
	}, scheduler.WithName("demo.Ping"))
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if got, err := h.Call(context.Background(), nil, nil); err != nil || got != "pong" {
		t.Fatalf("Call() = (%v, %v), want (pong, nil)", got, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = a.Stop(stopCtx, StopSignal)
	}()

	var rows []map[string]any
	deadline := time.Now().Add(8 * time.Second)
	for time.Now().Before(deadline) {
		rows = fetchRows(t, "http://"+a.HTTPAddr()+"/api/")
		if len(rows) >= 2 && rows[0]["status"] != nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if len(rows) < 2 {
		t.Fatalf("rows = %d, want >= 2", len(rows))
	}
	if rows[0]["status"] != "success" || rows[0]["message"] != "pong" {
		t.Fatalf("first row = %v, want success/pong", rows[0])
	}

	resp, err := http.Get("http://" + a.HTTPAddr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	var health map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode healthz: %v", err)
	}
	if health["status"] != "ok" || health["timezone"] != "UTC" {
		t.Fatalf("healthz = %v", health)
	}
	g, _ := health["goroutines"].(map[string]any)
	workers, _ := g["workers"].(map[string]any)
	if gs, _ := workers["goroutines"].([]any); len(gs) == 0 {
		t.Fatalf("healthz goroutines.workers = %v, want worker stats", g["workers"])
	}
}

func fetchRows(t *testing.T, url string) []map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	var rows []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rows
}
