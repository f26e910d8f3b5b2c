package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"pinetick/internal/storage"
	logx "pinetick/pkg/logx"
)

// Option customizes a registration.
type Option func(*registerOptions)

type registerOptions struct {
	name string
}

// WithName sets the stored identity instead of deriving it from the function symbol.
func WithName(path string) Option {
	return func(o *registerOptions) { o.name = strings.TrimSpace(path) }
}

// Handle is what callers invoke in place of the registered function.
type Handle struct {
	svc      *Service
	funcPath string
	params   ScheduleParams
	fn       Func
}

func (h *Handle) FuncPath() string       { return h.funcPath }
func (h *Handle) Params() ScheduleParams { return h.params }

// Register validates params, binds fn in the registry and returns a handle.
// Nothing is persisted until the handle is first called.
func (s *Service) Register(params ScheduleParams, fn Func, opts ...Option) (*Handle, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, &ValidationError{Field: "fn", Reason: "function is nil"}
	}
	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}
	path := o.name
	if path == "" {
		path = FuncPath(fn)
	}
	if path == "" {
		return nil, &ValidationError{Field: "fn", Reason: "cannot derive a function path; use WithName"}
	}

	s.registry.Add(path, fn)
	s.log.Debug("function registered", logx.String("func_path", path), logx.String("schedule", params.String()))
	return &Handle{svc: s, funcPath: path, params: params, fn: fn}, nil
}

// Call seeds the first row for this function if none exists, then runs the
// function synchronously and returns its result.
//
// Scheduling problems never prevent the call: a *SerializationError or a
// storage error is joined with the function's own error.
func (h *Handle) Call(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	schedErr := h.seed(ctx, args, kwargs)
	if schedErr != nil {
		h.svc.log.Warn("seed failed", logx.String("func_path", h.funcPath), logx.Err(schedErr))
	}
	res, err := h.fn(ctx, args, kwargs)
	return res, errors.Join(err, schedErr)
}

func (h *Handle) seed(ctx context.Context, args []any, kwargs map[string]any) error {
	// Arguments must survive a JSON round trip through the task log.
	if _, err := json.Marshal(args); err != nil {
		return &SerializationError{FuncPath: h.funcPath, Err: err}
	}
	if _, err := json.Marshal(kwargs); err != nil {
		return &SerializationError{FuncPath: h.funcPath, Err: err}
	}

	return h.svc.store.InTx(ctx, func(tx *storage.Tx) error {
		exists, err := tx.ExistsFuncPath(h.funcPath)
		if err != nil || exists {
			return err
		}
		now := h.svc.clk.Now()
		trigger, startAt := Seed(h.params, now)
		rec := storage.TaskRecord{
			CreatedAt: now,
			Trigger:   trigger,
			StartAt:   startAt,
			FuncPath:  h.funcPath,
			Args:      args,
			Kwargs:    kwargs,
		}
		if _, err := tx.Insert(&rec); err != nil {
			return err
		}
		h.svc.log.Info("seed row inserted",
			logx.Int64("id", rec.ID),
			logx.String("func_path", h.funcPath),
			logx.String("trigger", string(trigger)),
			logx.Time("start_at", startAt),
		)
		return nil
	})
}
