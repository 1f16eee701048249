package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Key namespaces.
const (
	prefixUser        = "user:"
	prefixQuestion    = "question:"
	prefixExam        = "exam:"
	prefixAttempt     = "submission:"
	prefixSession     = "session:"
	prefixAuth        = "auth:"
	prefixRevoked     = "revoked:"
	prefixMeta        = "meta:"
	prefixEmailIndex  = "idx:email:"
	prefixOpenAttempt = "idx:attempt-open:"
)

// Backends accepted by Open.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config selects and addresses a backend.
type Config struct {
	Backend string
	// DSN is a SQLite path, a Postgres connection string or a redis:// URL.
	DSN string
	// Namespace prefixes every Redis key.
	Namespace string
}

// Store exposes typed repositories over a KV backend.
type Store struct {
	kv  KV
	now func() time.Time
}

// New opens a SQLite store at dbPath. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	kv, err := OpenSQL(DriverSQLite, dbPath)
	if err != nil {
		return nil, err
	}
	return NewWithKV(kv), nil
}

// Open connects to the backend named in cfg.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	var (
		kv  KV
		err error
	)
	switch cfg.Backend {
	case BackendSQLite, "":
		kv, err = OpenSQL(DriverSQLite, cfg.DSN)
	case BackendPostgres:
		kv, err = OpenSQL(DriverPostgres, cfg.DSN)
	case BackendRedis:
		kv, err = OpenRedis(ctx, cfg.DSN, cfg.Namespace)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return NewWithKV(kv), nil
}

// NewWithKV builds a Store on an already opened backend.
func NewWithKV(kv KV) *Store {
	return &Store{kv: kv, now: time.Now}
}

// SetClock replaces the time source used for timestamps and expiry.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// KV returns the underlying record store.
func (s *Store) KV() KV { return s.kv }

func (s *Store) Close() error {
	return s.kv.Close()
}

func getJSON[T any](ctx context.Context, kv KV, key string) (T, int64, error) {
	var v T
	rec, err := kv.Get(ctx, key)
	if err != nil {
		return v, 0, err
	}
	if err := json.Unmarshal(rec.Value, &v); err != nil {
		return v, 0, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, rec.Version, nil
}

func putJSON(ctx context.Context, kv KV, key string, v any, expected int64) (int64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", key, err)
	}
	return kv.Put(ctx, key, data, expected)
}

func scanJSON[T any](ctx context.Context, kv KV, prefix string) ([]T, error) {
	records, err := kv.Scan(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(records))
	for _, rec := range records {
		var v T
		if err := json.Unmarshal(rec.Value, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", rec.Key, err)
		}
		out = append(out, v)
	}
	return out, nil
}
