package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	logx "pinetick/pkg/logx"
)

// Tx is a unit of work on the task log. It is only valid inside InTx.
type Tx struct {
	ctx context.Context
	tx  *sql.Tx
	q   *queries
}

// InTx runs fn in a transaction. It commits once when fn returns nil and
// rolls back otherwise. Errors returned by fn pass through unchanged.
func (s *Store) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	if s == nil || s.db == nil {
		return wrap("begin", errors.New("store is closed"))
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("begin", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	if err := fn(&Tx{ctx: ctx, tx: sqlTx, q: &s.q}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return wrap("commit", err)
	}
	committed = true
	return nil
}

// ExistsFuncPath reports whether any row, in any state, names funcPath.
func (t *Tx) ExistsFuncPath(funcPath string) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(t.ctx, t.q.exists, funcPath).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrap("exists", err)
	}
	return true, nil
}

// Insert persists rec and assigns the generated id back onto it.
func (t *Tx) Insert(rec *TaskRecord) (int64, error) {
	args, err := encodeJSON(rec.Args, len(rec.Args) == 0)
	if err != nil {
		return 0, wrap("insert", err)
	}
	kwargs, err := encodeJSON(rec.Kwargs, len(rec.Kwargs) == 0)
	if err != nil {
		return 0, wrap("insert", err)
	}

	vals := []any{
		formatTime(rec.CreatedAt),
		string(rec.Trigger),
		formatTime(rec.StartAt),
		formatTimePtr(rec.EndAt),
		rec.FuncPath,
		args,
		kwargs,
		statusValue(rec.Status),
		stringValue(rec.Message),
		rec.IsScan,
	}

	var id int64
	if t.q.insertReturnID {
		if err := t.tx.QueryRowContext(t.ctx, t.q.insert, vals...).Scan(&id); err != nil {
			return 0, wrap("insert", err)
		}
	} else {
		res, err := t.tx.ExecContext(t.ctx, t.q.insert, vals...)
		if err != nil {
			return 0, wrap("insert", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return 0, wrap("insert", err)
		}
	}
	rec.ID = id
	return id, nil
}

func (t *Tx) Get(id int64) (*TaskRecord, error) {
	rec, err := scanRecord(t.tx.QueryRowContext(t.ctx, t.q.get, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap("get", err)
	}
	return rec, nil
}

// ListPending returns unclaimed rows without a status, oldest first.
// On Postgres and MySQL the rows stay locked until the transaction ends.
func (t *Tx) ListPending() ([]TaskRecord, error) {
	return t.query("list pending", t.q.listPending, false)
}

// Claim flips is_scan on a pending row. It reports true only for the
// caller whose update actually changed the row.
func (t *Tx) Claim(id int64) (bool, error) {
	res, err := t.tx.ExecContext(t.ctx, t.q.claim, true, id, false)
	if err != nil {
		return false, wrap("claim", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("claim", err)
	}
	return n == 1, nil
}

// Finish records the outcome of a row that has no status yet.
// It reports false when the row is missing or already completed.
func (t *Tx) Finish(id int64, status Status, message *string, endAt time.Time) (bool, error) {
	res, err := t.tx.ExecContext(t.ctx, t.q.finish, string(status), stringValue(message), formatTime(endAt), id)
	if err != nil {
		return false, wrap("finish", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("finish", err)
	}
	return n == 1, nil
}

func (t *Tx) List() ([]TaskRecord, error) {
	return t.query("list", t.q.list)
}

func (t *Tx) ListByFuncPath(funcPath string) ([]TaskRecord, error) {
	return t.query("list by func path", t.q.listByFuncPath, funcPath)
}

func (t *Tx) query(op, query string, args ...any) ([]TaskRecord, error) {
	rows, err := t.tx.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	return collect(op, rows)
}

// ---- Store-level helpers ----

// ResetOrphanedClaims returns claimed-but-unfinished rows to the pending set.
// Their dispatch timers lived in a previous process, so nothing would ever run them.
func (s *Store) ResetOrphanedClaims(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q.resetOrphans, false, true)
	if err != nil {
		return 0, wrap("reset orphaned claims", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrap("reset orphaned claims", err)
	}
	if n > 0 {
		s.log.Info("orphaned claims reset", logx.Int64("rows", n))
	}
	return n, nil
}

// List returns every row ordered by id.
func (s *Store) List(ctx context.Context) ([]TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.q.list)
	if err != nil {
		return nil, wrap("list", err)
	}
	return collect("list", rows)
}

func (s *Store) Get(ctx context.Context, id int64) (*TaskRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, s.q.get, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap("get", err)
	}
	return rec, nil
}

// ---- row mapping ----

type rowScanner interface {
	Scan(dest ...any) error
}

func collect(op string, rows *sql.Rows) ([]TaskRecord, error) {
	defer rows.Close()
	out := make([]TaskRecord, 0, 8)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return out, nil
}

func scanRecord(row rowScanner) (*TaskRecord, error) {
	var (
		rec       TaskRecord
		createdAt string
		trigger   string
		startAt   string
		endAt     sql.NullString
		args      sql.NullString
		kwargs    sql.NullString
		status    sql.NullString
		message   sql.NullString
	)
	if err := row.Scan(&rec.ID, &createdAt, &trigger, &startAt, &endAt, &rec.FuncPath, &args, &kwargs, &status, &message, &rec.IsScan); err != nil {
		return nil, err
	}

	var err error
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if rec.StartAt, err = parseTime(startAt); err != nil {
		return nil, err
	}
	if endAt.Valid && endAt.String != "" {
		t, err := parseTime(endAt.String)
		if err != nil {
			return nil, err
		}
		rec.EndAt = &t
	}
	rec.Trigger = Trigger(trigger)
	if args.Valid && args.String != "" {
		if err := json.Unmarshal([]byte(args.String), &rec.Args); err != nil {
			return nil, err
		}
	}
	if kwargs.Valid && kwargs.String != "" {
		if err := json.Unmarshal([]byte(kwargs.String), &rec.Kwargs); err != nil {
			return nil, err
		}
	}
	if status.Valid {
		st := Status(status.String)
		rec.Status = &st
	}
	if message.Valid {
		m := message.String
		rec.Message = &m
	}
	return &rec, nil
}

func formatTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

func statusValue(s *Status) any {
	if s == nil {
		return nil
	}
	return string(*s)
}

func stringValue(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func encodeJSON(v any, empty bool) (any, error) {
	if empty {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
