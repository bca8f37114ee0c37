package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	logx "pathsched/pkg/logx"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsSQL string

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// sqlBackend keeps every collection in one table keyed by
// (collection, item_key). SQLite and PostgreSQL share the statements; only
// the placeholder style differs.
type sqlBackend struct {
	db      *sql.DB
	dialect dialect
	log     logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Backend, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	return newSQLBackend(db, dialectSQLite, log)
}

func openPostgres(cfg Config, log logx.Logger) (Backend, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return newSQLBackend(db, dialectPostgres, log)
}

func newSQLBackend(db *sql.DB, d dialect, log logx.Logger) (*sqlBackend, error) {
	s := &sqlBackend{db: db, dialect: d, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqlBackend) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migrationsSQL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// q rewrites '?' placeholders to $n for PostgreSQL.
func (s *sqlBackend) q(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
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

func (s *sqlBackend) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlBackend) Get(ctx context.Context, c Collection, key string) ([]byte, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT payload FROM pathsched_kv WHERE collection = ? AND item_key = ?`),
		string(c), key,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(payload), true, nil
}

func (s *sqlBackend) Put(ctx context.Context, c Collection, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO pathsched_kv(collection, item_key, payload, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(collection, item_key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`),
		string(c), key, string(value), time.Now().UnixMilli(),
	)
	return err
}

func (s *sqlBackend) PutIfAbsent(ctx context.Context, c Collection, key string, value []byte) (bool, error) {
	return s.exec(ctx,
		`INSERT INTO pathsched_kv(collection, item_key, payload, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(collection, item_key) DO NOTHING`,
		string(c), key, string(value), time.Now().UnixMilli(),
	)
}

func (s *sqlBackend) Replace(ctx context.Context, c Collection, key string, value []byte) (bool, error) {
	return s.exec(ctx,
		`UPDATE pathsched_kv SET payload = ?, updated_at = ? WHERE collection = ? AND item_key = ?`,
		string(value), time.Now().UnixMilli(), string(c), key,
	)
}

func (s *sqlBackend) ReplaceIf(ctx context.Context, c Collection, key string, expected, value []byte) (bool, error) {
	return s.exec(ctx,
		`UPDATE pathsched_kv SET payload = ?, updated_at = ? WHERE collection = ? AND item_key = ? AND payload = ?`,
		string(value), time.Now().UnixMilli(), string(c), key, string(expected),
	)
}

func (s *sqlBackend) Remove(ctx context.Context, c Collection, key string) (bool, error) {
	return s.exec(ctx,
		`DELETE FROM pathsched_kv WHERE collection = ? AND item_key = ?`,
		string(c), key,
	)
}

func (s *sqlBackend) RemoveIf(ctx context.Context, c Collection, key string, expected []byte) (bool, error) {
	return s.exec(ctx,
		`DELETE FROM pathsched_kv WHERE collection = ? AND item_key = ? AND payload = ?`,
		string(c), key, string(expected),
	)
}

// exec runs a single-row statement and reports whether it touched a row.
func (s *sqlBackend) exec(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqlBackend) Len(ctx context.Context, c Collection) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT COUNT(*) FROM pathsched_kv WHERE collection = ?`), string(c),
	).Scan(&n)
	return n, err
}

func (s *sqlBackend) Entries(ctx context.Context, c Collection) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT item_key, payload FROM pathsched_kv WHERE collection = ? ORDER BY item_key`), string(c),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out = append(out, Entry{Key: k, Value: []byte(v)})
	}
	return out, rows.Err()
}
