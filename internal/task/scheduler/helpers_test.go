package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pinetick/internal/clock"
	"pinetick/internal/eventbus"
	"pinetick/internal/storage"
	"pinetick/internal/task/engine"
	logx "pinetick/pkg/logx"
)

type harness struct {
	svc   *Service
	store *storage.Store
	eng   *engine.Service
	clk   *clock.Manual
	bus   eventbus.Bus
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	url := "sqlite://" + filepath.Join(t.TempDir(), "tasks.db")
	st, err := storage.Open(ctx, storage.Config{URL: url, BusyTimeout: 2 * time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}

	clk := clock.NewManual(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	eng := engine.New(engine.Config{Workers: 4, QueueSize: 64}, logx.Nop(), clk)
	eng.Start(ctx)
	bus := eventbus.New()
	svc := New(Config{ScanInterval: time.Second}, st, eng, clk, logx.Nop(), bus)

	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		svc.Stop(stopCtx)
		eng.Stop(stopCtx)
		_ = st.Close()
	})
	return &harness{svc: svc, store: st, eng: eng, clk: clk, bus: bus}
}

func (h *harness) insert(t *testing.T, rec storage.TaskRecord) storage.TaskRecord {
	t.Helper()
	err := h.store.InTx(context.Background(), func(tx *storage.Tx) error {
		_, err := tx.Insert(&rec)
		return err
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	return rec
}

func (h *harness) rows(t *testing.T, funcPath string) []storage.TaskRecord {
	t.Helper()
	var out []storage.TaskRecord
	err := h.store.InTx(context.Background(), func(tx *storage.Tx) error {
		var err error
		out, err = tx.ListByFuncPath(funcPath)
		return err
	})
	if err != nil {
		t.Fatalf("ListByFuncPath: %v", err)
	}
	return out
}

func pollUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func returns(v any) Func {
	return func(ctx context.Context, args []any, kwargs map[string]any) (any, error) { return v, nil }
}

func samplePing(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	return "pong", nil
}
