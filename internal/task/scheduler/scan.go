package scheduler

import (
	"context"
	"errors"
	"time"

	"pinetick/internal/storage"
	"pinetick/internal/task/engine"
	logx "pinetick/pkg/logx"
)

const dispatchWarnThrottle = 5 * time.Second

func (s *Service) tick(ctx context.Context) {
	if _, err := s.ScanOnce(ctx); err != nil && !errors.Is(err, ErrScanBusy) && ctx.Err() == nil {
		s.log.Warn("scan tick abandoned", logx.Err(err))
	}
}

// ScanOnce claims every pending row in one transaction and, after commit,
// arms a timer that hands each row to the engine at its start_at.
//
// It returns the number of rows claimed. If another pass holds the scan
// lock it returns ErrScanBusy without touching storage.
func (s *Service) ScanOnce(ctx context.Context) (int, error) {
	if !s.scanMu.TryLock() {
		s.scansSkipped.Add(1)
		s.log.Debug("scan skipped: previous pass still running")
		return 0, ErrScanBusy
	}
	defer s.scanMu.Unlock()

	s.scans.Add(1)
	s.lastScanAt.Store(time.Now().UnixNano())

	var claimed []storage.TaskRecord
	err := s.store.InTx(ctx, func(tx *storage.Tx) error {
		pending, err := tx.ListPending()
		if err != nil {
			return err
		}
		claimed = claimed[:0]
		for _, rec := range pending {
			ok, err := tx.Claim(rec.ID)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			rec.IsScan = true
			claimed = append(claimed, rec)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, rec := range claimed {
		s.dispatch(rec)
	}
	if len(claimed) > 0 {
		s.claimed.Add(uint64(len(claimed)))
		s.log.Debug("scan claimed rows", logx.Int("rows", len(claimed)))
	}
	return len(claimed), nil
}

// dispatch fires rec at its start_at; a past start_at fires immediately.
func (s *Service) dispatch(rec storage.TaskRecord) {
	delay := rec.StartAt.Sub(s.clk.Now())
	if delay < 0 {
		delay = 0
	}
	id, name := rec.ID, rec.FuncPath

	s.tmu.Lock()
	defer s.tmu.Unlock()
	s.timers[id] = time.AfterFunc(delay, func() {
		s.tmu.Lock()
		delete(s.timers, id)
		ctx := s.runCtx
		s.tmu.Unlock()
		if ctx == nil {
			ctx = context.Background()
		}

		err := s.engine.Submit(ctx, engine.Task{
			Name: name,
			Run: func(ctx context.Context) error {
				return s.RunTask(ctx, id).Err()
			},
		})
		if err != nil {
			s.reportDispatchError(name, id, err)
		}
	})
}

// reportDispatchError logs a failed hand-off. The row stays claimed and is
// recovered by ResetOrphanedClaims on the next start.
func (s *Service) reportDispatchError(name string, id int64, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, engine.ErrStopping) {
		s.log.Debug("dispatch abandoned during shutdown", logx.String("func_path", name), logx.Int64("id", id))
		return
	}

	now := time.Now()
	s.dmu.Lock()
	last := s.lastDispatchAt[name]
	if !last.IsZero() && now.Sub(last) < dispatchWarnThrottle {
		s.dmu.Unlock()
		return
	}
	s.lastDispatchAt[name] = now
	s.dmu.Unlock()

	s.log.Warn("dispatch failed", logx.String("func_path", name), logx.Int64("id", id), logx.Err(err))
}
