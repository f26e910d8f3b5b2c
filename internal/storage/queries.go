package storage

import (
	"strconv"
	"strings"
	"time"
)

const defaultBusyTimeout = 5 * time.Second

// queries holds every statement, rendered once for a dialect.
type queries struct {
	insert         string
	insertReturnID bool
	get            string
	exists         string
	listPending    string
	claim          string
	finish         string
	list           string
	listByFuncPath string
	resetOrphans   string
}

func buildQueries(d Dialect) queries {
	trig := `"trigger"`
	if d == DialectMySQL {
		trig = "`trigger`"
	}
	cols := "id, created_at, " + trig + ", start_at, end_at, func_path, args, kwargs, status, message, is_scan"
	sel := "SELECT " + cols + " FROM task_log"

	lock := ""
	if d == DialectPostgres || d == DialectMySQL {
		lock = " FOR UPDATE SKIP LOCKED"
	}

	q := queries{
		insert: "INSERT INTO task_log (created_at, " + trig + ", start_at, end_at, func_path, args, kwargs, status, message, is_scan)" +
			" VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		get:            sel + " WHERE id = ?",
		exists:         "SELECT 1 FROM task_log WHERE func_path = ? LIMIT 1",
		listPending:    sel + " WHERE status IS NULL AND is_scan = ? ORDER BY id" + lock,
		claim:          "UPDATE task_log SET is_scan = ? WHERE id = ? AND is_scan = ? AND status IS NULL",
		finish:         "UPDATE task_log SET status = ?, message = ?, end_at = ? WHERE id = ? AND status IS NULL",
		list:           sel + " ORDER BY id",
		listByFuncPath: sel + " WHERE func_path = ? ORDER BY id",
		resetOrphans:   "UPDATE task_log SET is_scan = ? WHERE is_scan = ? AND status IS NULL",
	}
	if d == DialectPostgres {
		q.insert += " RETURNING id"
		q.insertReturnID = true

		q.insert = rebind(q.insert)
		q.get = rebind(q.get)
		q.exists = rebind(q.exists)
		q.listPending = rebind(q.listPending)
		q.claim = rebind(q.claim)
		q.finish = rebind(q.finish)
		q.listByFuncPath = rebind(q.listByFuncPath)
		q.resetOrphans = rebind(q.resetOrphans)
	}
	return q
}

// rebind rewrites '?' placeholders to the $1..$n form used by Postgres.
// Statements here never carry '?' inside string literals.
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
