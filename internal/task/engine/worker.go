package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	logx "pinetick/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask) {
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt, ok := <-queue:
			if !ok {
				return
			}
			atomic.AddInt32(&s.inFlight, 1)
			s.execOne(ctx, qt)
			atomic.AddInt32(&s.inFlight, -1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, qt queuedTask) {
	begin := time.Now()
	queueDelay := begin.Sub(qt.enqueuedAt)
	if queueDelay < 0 {
		queueDelay = 0
	}
	started := s.clk.Now()

	s.log.Debug("job started", logx.String("task", qt.task.Name), logx.String("id", qt.task.ID), logx.Duration("queue_delay", queueDelay))

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddUint64(&s.panics, 1)
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("job panicked", logx.String("task", qt.task.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		err = qt.task.Run(ctx)
	}()

	dur := time.Since(begin)
	item := HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: started, QueueDelay: queueDelay, Duration: dur}
	if err != nil {
		item.Error = err.Error()
	}
	s.record(item)

	if err != nil {
		atomic.AddUint64(&s.failed, 1)
		s.log.Warn("job failed", logx.String("task", qt.task.Name), logx.Err(err), logx.Duration("dur", dur))
		return
	}
	atomic.AddUint64(&s.completed, 1)
	if dur >= 750*time.Millisecond {
		s.log.Info("job completed", logx.String("task", qt.task.Name), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
	} else {
		s.log.Debug("job completed", logx.String("task", qt.task.Name), logx.Duration("dur", dur))
	}
}
