package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pinetick/internal/app"
	"pinetick/internal/storage"
	"pinetick/internal/task/scheduler"
)

// registerDemo registers two sample functions and calls each once so their
// first rows exist.
func registerDemo(ctx context.Context, a *app.App) error {
	sched := a.Scheduler()

	every, err := scheduler.Every(10)
	if err != nil {
		return err
	}
	ping, err := sched.Register(every, func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return fmt.Sprintf("pong %s", time.Now().Format(time.RFC3339)), nil
	}, scheduler.WithName("demo.Ping"))
	if err != nil {
		return err
	}

	tod, err := scheduler.ParseTimeOfDay("09:00")
	if err != nil {
		return err
	}
	daily, err := scheduler.DailyAt(tod)
	if err != nil {
		return err
	}
	store := a.Store()
	report, err := sched.Register(daily, func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return summarize(ctx, store)
	}, scheduler.WithName("demo.Report"))
	if err != nil {
		return err
	}

	for _, h := range []*scheduler.Handle{ping, report} {
		// a failing demo function is fine; a failed seed is not
		_, err := h.Call(ctx, nil, nil)
		if errors.Is(err, storage.ErrStorage) || errors.Is(err, scheduler.ErrSerialization) {
			return fmt.Errorf("%s: %w", h.FuncPath(), err)
		}
	}
	return nil
}

// summarize counts rows by outcome.
func summarize(ctx context.Context, store *storage.Store) (string, error) {
	recs, err := store.List(ctx)
	if err != nil {
		return "", err
	}
	var pending, ok, failed int
	for _, r := range recs {
		switch {
		case r.Status == nil:
			pending++
		case *r.Status == storage.StatusSuccess:
			ok++
		default:
			failed++
		}
	}
	return fmt.Sprintf("rows=%d pending=%d success=%d error=%d", len(recs), pending, ok, failed), nil
}
