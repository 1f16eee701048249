package store

import (
	"context"

	"github.com/pavelanni/examportal/internal/apperr"
)

// Version arguments for KV.Put.
const (
	// AnyVersion writes unconditionally.
	AnyVersion int64 = -1
	// MustNotExist writes only when the key is absent.
	MustNotExist int64 = 0
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = apperr.NotFound("record not found")
	// ErrConflict is returned when a conditional write loses.
	ErrConflict = apperr.Conflict("record was modified concurrently")
)

// Record is one versioned value. Version starts at 1 and grows by one on
// every successful write.
type Record struct {
	Key     string
	Value   []byte
	Version int64
}

// KV is the record store contract the repositories are built on.
type KV interface {
	Get(ctx context.Context, key string) (Record, error)
	// Put writes value when the stored version equals expected and returns
	// the new version. See AnyVersion and MustNotExist.
	Put(ctx context.Context, key string, value []byte, expected int64) (int64, error)
	Delete(ctx context.Context, key string) error
	// Scan returns all records whose key starts with prefix, ordered by key.
	Scan(ctx context.Context, prefix string) ([]Record, error)
	Close() error
}
