package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logx "pinetick/pkg/logx"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Dialect identifies the SQL flavour behind a Store.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// Store is the task log backed by database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
	q       queries
	log     logx.Logger
}

// Open connects to cfg.URL, applies dialect pragmas and creates the schema.
func Open(ctx context.Context, cfg Config, log logx.Logger) (*Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	dialect, dsn, err := parseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	if dialect == DialectSQLite {
		if dir := sqliteDir(dsn); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, wrap("open", err)
	}

	switch dialect {
	case DialectSQLite:
		// SQLite prefers a single writer.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		busy := cfg.BusyTimeout
		if busy <= 0 {
			busy = defaultBusyTimeout
		}
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
		_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
		_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")
	default:
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, wrap("ping", err)
	}

	st := &Store{db: db, dialect: dialect, q: buildQueries(dialect), log: log.With(logx.String("comp", "storage"))}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	st.log.Debug("storage opened", logx.String("dialect", string(dialect)))
	return st, nil
}

// parseURL maps a database URL to a registered driver name and its DSN.
func parseURL(raw string) (Dialect, string, error) {
	u := strings.TrimSpace(raw)
	lower := strings.ToLower(u)
	switch {
	case u == "":
		return "", "", errors.New("database url is required")
	case strings.HasPrefix(lower, "sqlite://"):
		return sqliteDSN(u[len("sqlite://"):])
	case strings.HasPrefix(lower, "sqlite:"):
		return sqliteDSN(u[len("sqlite:"):])
	case strings.HasPrefix(lower, "file:"):
		return DialectSQLite, u, nil
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DialectPostgres, u, nil
	case strings.HasPrefix(lower, "mysql://"):
		dsn := u[len("mysql://"):]
		if dsn == "" {
			return "", "", errors.New("mysql dsn is empty")
		}
		return DialectMySQL, dsn, nil
	default:
		return "", "", fmt.Errorf("unsupported database url scheme: %q", u)
	}
}

func sqliteDSN(path string) (Dialect, string, error) {
	if strings.TrimSpace(path) == "" {
		return "", "", errors.New("sqlite path is required")
	}
	return DialectSQLite, path, nil
}

// sqliteDir returns the directory to create for a file-backed DSN.
func sqliteDir(dsn string) string {
	if strings.HasPrefix(dsn, "file:") || strings.Contains(dsn, ":memory:") {
		return ""
	}
	path := dsn
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return ""
	}
	return dir
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations/" + string(s.dialect) + ".sql")
	if err != nil {
		return err
	}
	for _, stmt := range splitStatements(string(b)) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return wrap("migrate", err)
		}
	}
	return nil
}

// splitStatements splits a migration file on ';' and drops "--" comment lines.
// Drivers differ on multi-statement Exec, so each statement runs on its own.
func splitStatements(src string) []string {
	var b strings.Builder
	for _, line := range strings.Split(src, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	var out []string
	for _, part := range strings.Split(b.String(), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// Dialect reports the SQL flavour in use.
func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
