package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// SQL drivers supported by SQLKV.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// SQLKV keeps records in a single table of a SQLite or Postgres database.
type SQLKV struct {
	db     *sql.DB
	driver string
}

// OpenSQL opens the database and creates the records table.
func OpenSQL(driver, dsn string) (*SQLKV, error) {
	if driver == DriverSQLite {
		dsn = sqliteDSN(dsn)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite {
		// One connection keeps :memory: databases shared and serializes writers.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	kv := &SQLKV{db: db, driver: driver}
	if err := kv.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return kv, nil
}

func sqliteDSN(path string) string {
	if path == ":memory:" || strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func (s *SQLKV) Close() error {
	return s.db.Close()
}

func (s *SQLKV) migrate() error {
	tsType := "DATETIME"
	if s.driver == DriverPostgres {
		tsType = "TIMESTAMPTZ"
	}
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		version BIGINT NOT NULL,
		updated_at ` + tsType + ` NOT NULL
	)`
	_, err := s.db.Exec(schema)
	return err
}

// rebind rewrites ? placeholders for drivers that use $n.
func (s *SQLKV) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLKV) Get(ctx context.Context, key string) (Record, error) {
	rec := Record{Key: key}
	var value string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT value, version FROM records WHERE key = ?`), key,
	).Scan(&value, &rec.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get %s: %w", key, err)
	}
	rec.Value = []byte(value)
	return rec, nil
}

func (s *SQLKV) Put(ctx context.Context, key string, value []byte, expected int64) (int64, error) {
	now := time.Now().UTC()
	var (
		query string
		args  []any
	)
	switch {
	case expected == MustNotExist:
		query = `INSERT INTO records (key, value, version, updated_at) VALUES (?, ?, 1, ?)
			ON CONFLICT(key) DO NOTHING RETURNING version`
		args = []any{key, string(value), now}
	case expected == AnyVersion:
		query = `INSERT INTO records (key, value, version, updated_at) VALUES (?, ?, 1, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value,
				version = records.version + 1, updated_at = excluded.updated_at
			RETURNING version`
		args = []any{key, string(value), now}
	case expected > 0:
		query = `UPDATE records SET value = ?, version = version + 1, updated_at = ?
			WHERE key = ? AND version = ? RETURNING version`
		args = []any{string(value), now, key, expected}
	default:
		return 0, fmt.Errorf("put %s: invalid expected version %d", key, expected)
	}

	var version int64
	err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrConflict
	}
	if err != nil {
		return 0, fmt.Errorf("put %s: %w", key, err)
	}
	return version, nil
}

func (s *SQLKV) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM records WHERE key = ?`), key)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLKV) Scan(ctx context.Context, prefix string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT key, value, version FROM records WHERE substr(key, 1, ?) = ? ORDER BY key`),
		utf8.RuneCountInString(prefix), prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", prefix, err)
	}
	defer rows.Close()
	var records []Record
	for rows.Next() {
		var (
			rec   Record
			value string
		)
		if err := rows.Scan(&rec.Key, &value, &rec.Version); err != nil {
			return nil, err
		}
		rec.Value = []byte(value)
		records = append(records, rec)
	}
	return records, rows.Err()
}
