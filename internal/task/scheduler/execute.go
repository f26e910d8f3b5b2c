package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"pinetick/internal/eventbus"
	"pinetick/internal/storage"
	logx "pinetick/pkg/logx"
)

// Result is the outcome of one execution, recorded onto the row.
type Result struct {
	Status  storage.Status
	Message *string
}

// Success records a successful run. A nil value stores no message.
func Success(value any) Result {
	r := Result{Status: storage.StatusSuccess}
	if value != nil {
		msg := fmt.Sprint(value)
		r.Message = &msg
	}
	return r
}

// Failure records a failed run with err's text as the message.
func Failure(err error) Result {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Result{Status: storage.StatusError, Message: &msg}
}

func (r Result) OK() bool { return r.Status == storage.StatusSuccess }

// Err returns the failure message as an error, or nil on success.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	if r.Message == nil {
		return ErrExecution
	}
	return errors.New(*r.Message)
}

// recordTimeout bounds the outcome write, which outlives the job context.
const recordTimeout = 10 * time.Second

// TaskEvent is the payload of task.finished and task.failed events.
type TaskEvent struct {
	ID         int64     `json:"id"`
	FuncPath   string    `json:"func_path"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
	StartAt    time.Time `json:"start_at"`
	EndAt      time.Time `json:"end_at"`
	FollowUpID int64     `json:"follow_up_id,omitempty"`
}

// RunTask executes the row with the given id and records its outcome.
//
// The function runs outside any transaction; the outcome and, on success,
// the follow-up row are written in a single transaction afterwards. Nothing
// is propagated: missing rows and storage failures are logged.
func (s *Service) RunTask(ctx context.Context, id int64) Result {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.log.Error("task row missing", logx.Int64("id", id))
		} else {
			s.log.Error("task row load failed", logx.Int64("id", id), logx.Err(err))
		}
		return Failure(err)
	}
	if rec.Completed() {
		s.log.Warn("task already completed; not running again", logx.Int64("id", id), logx.String("status", string(*rec.Status)))
		return Result{Status: *rec.Status, Message: rec.Message}
	}

	log := s.log.With(logx.Int64("id", id), logx.String("func_path", rec.FuncPath))
	begin := time.Now()
	res := s.invoke(ctx, rec)
	endAt := s.clk.Now()

	// ctx may be canceled by a stop after the function returned; the outcome
	// is still recorded.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	var (
		followUp storage.TaskRecord
		recorded bool
	)
	err = s.store.InTx(recCtx, func(tx *storage.Tx) error {
		ok, err := tx.Finish(rec.ID, res.Status, res.Message, endAt)
		if err != nil {
			return err
		}
		if !ok {
			log.Warn("task completed elsewhere; outcome discarded")
			return nil
		}
		recorded = true
		if !res.OK() {
			return nil
		}
		_, startAt := Next(*rec, endAt)
		followUp = storage.TaskRecord{
			CreatedAt: endAt,
			Trigger:   rec.Trigger,
			StartAt:   startAt,
			FuncPath:  rec.FuncPath,
			Args:      rec.Args,
			Kwargs:    rec.Kwargs,
		}
		_, err = tx.Insert(&followUp)
		return err
	})
	if err != nil {
		log.Error("recording task outcome failed", logx.String("status", string(res.Status)), logx.Err(err))
		return res
	}
	if !recorded {
		return res
	}

	ev := TaskEvent{
		ID:         rec.ID,
		FuncPath:   rec.FuncPath,
		Status:     string(res.Status),
		StartAt:    rec.StartAt,
		EndAt:      endAt,
		FollowUpID: followUp.ID,
	}
	if res.Message != nil {
		ev.Message = *res.Message
	}

	dur := time.Since(begin)
	if res.OK() {
		log.Info("task succeeded", logx.Duration("dur", dur), logx.Int64("next_id", followUp.ID), logx.Time("next_start_at", followUp.StartAt))
		s.publish(eventbus.TypeTaskFinished, ev)
	} else {
		log.Warn("task failed", logx.Duration("dur", dur), logx.String("message", ev.Message))
		s.publish(eventbus.TypeTaskFailed, ev)
	}
	return res
}

// invoke resolves and calls the row's function, converting errors and panics
// into a Failure result.
func (s *Service) invoke(ctx context.Context, rec *storage.TaskRecord) (res Result) {
	fn, err := s.registry.Resolve(rec.FuncPath)
	if err != nil {
		return Failure(err)
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task panicked", logx.Int64("id", rec.ID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			res = Failure(&ExecutionError{FuncPath: rec.FuncPath, Panic: r})
		}
	}()

	value, err := fn(ctx, rec.Args, rec.Kwargs)
	if err != nil {
		return Failure(&ExecutionError{FuncPath: rec.FuncPath, Err: err})
	}
	return Success(value)
}

func (s *Service) publish(typ string, ev TaskEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.EndAt, Data: ev})
}
