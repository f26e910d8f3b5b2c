package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"pinetick/internal/storage"
	logx "pinetick/pkg/logx"
)

type failingLister struct{}

func (failingLister) List(context.Context) ([]storage.TaskRecord, error) {
	return nil, errors.New("database is locked")
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{URL: "sqlite://" + filepath.Join(t.TempDir(), "api.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	h.ServeHTTP(w, req)
	return w
}

func TestListEmptyIsArray(t *testing.T) {
	t.Parallel()

	srv := New(Config{}, openStore(t), nil, logx.Nop())
	w := get(t, srv.Handler(), "/api/")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Body.String(); got != "[]" {
		t.Fatalf("body = %q, want []", got)
	}
}

func TestListReturnsRecords(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	err := st.InTx(context.Background(), func(tx *storage.Tx) error {
		_, err := tx.Insert(&storage.TaskRecord{
			CreatedAt: now,
			Trigger:   storage.TriggerInterval,
			StartAt:   now.Add(10 * time.Second),
			FuncPath:  "jobs.Ping",
			Args:      []any{"a", 1},
		})
		return err
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	w := get(t, New(Config{}, st, nil, logx.Nop()).Handler(), "/api/")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var rows []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode: %v (%s)", err, w.Body.String())
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	row := rows[0]
	for _, k := range []string{"id", "created_at", "trigger", "start_at", "end_at", "func_path", "args", "kwargs", "status", "message", "is_scan"} {
		if _, ok := row[k]; !ok {
			t.Fatalf("row missing key %q: %v", k, row)
		}
	}
	if row["func_path"] != "jobs.Ping" || row["trigger"] != "interval" || row["status"] != nil || row["is_scan"] != false {
		t.Fatalf("row = %v", row)
	}
}

func TestListStorageErrorIs500(t *testing.T) {
	t.Parallel()

	w := get(t, New(Config{}, failingLister{}, nil, logx.Nop()).Handler(), "/api/")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "database is locked" {
		t.Fatalf("error = %q", body["error"])
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	status := func() map[string]any {
		return map[string]any{"engine": map[string]int{"workers": 4}, "status": "ignored"}
	}
	w := get(t, New(Config{}, failingLister{}, status, logx.Nop()).Handler(), "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status field = %v, want ok", body["status"])
	}
	if _, ok := body["engine"]; !ok {
		t.Fatalf("body = %v, want engine section", body)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	srv := New(Config{RatePerSec: 0.001, Burst: 2}, failingLister{}, nil, logx.Nop())
	h := srv.Handler()
	for i := 0; i < 2; i++ {
		if w := get(t, h, "/healthz"); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, w.Code)
		}
	}
	if w := get(t, h, "/healthz"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}

	srv.Apply(Config{})
	if w := get(t, h, "/healthz"); w.Code != http.StatusOK {
		t.Fatalf("status after disabling limiter = %d, want 200", w.Code)
	}
}

func TestStartServeStop(t *testing.T) {
	t.Parallel()

	srv := New(Config{Addr: "127.0.0.1:0"}, openStore(t), nil, logx.Nop())
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	addr := srv.Addr()

	resp, err := http.Get("http://" + addr + "/api/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	srv.Stop(ctx)

	client := &http.Client{Timeout: 500 * time.Millisecond}
	if resp, err := client.Get("http://" + addr + "/api/"); err == nil {
		_ = resp.Body.Close()
		t.Fatalf("GET after Stop succeeded")
	}
}

func TestStartBindError(t *testing.T) {
	t.Parallel()

	first := New(Config{Addr: "127.0.0.1:0"}, failingLister{}, nil, logx.Nop())
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer first.Stop(context.Background())

	second := New(Config{Addr: first.Addr()}, failingLister{}, nil, logx.Nop())
	if err := second.Start(context.Background()); err == nil {
		second.Stop(context.Background())
		t.Fatalf("Start() on a bound port error = nil")
	}
}
