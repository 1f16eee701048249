package store

import (
	"context"
	"errors"
)

// Metadata keys.
const (
	MetaSeedHash = "seed_hash"
)

// SetMetadata upserts a key-value pair under the meta namespace.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.kv.Put(ctx, prefixMeta+key, []byte(value), AnyVersion)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	rec, err := s.kv.Get(ctx, prefixMeta+key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(rec.Value), nil
}
