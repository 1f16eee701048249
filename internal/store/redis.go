package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	redisVersionField = "v"
	redisDataField    = "d"
	redisPutRetries   = 3
)

// RedisKV keeps each record in a hash holding its version and data.
type RedisKV struct {
	rdb       *redis.Client
	namespace string
}

// OpenRedis connects using a redis:// URL. Keys are prefixed with namespace.
func OpenRedis(ctx context.Context, url, namespace string) (*RedisKV, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisKV(rdb, namespace), nil
}

// NewRedisKV wraps an existing client.
func NewRedisKV(rdb *redis.Client, namespace string) *RedisKV {
	return &RedisKV{rdb: rdb, namespace: namespace}
}

func (r *RedisKV) Close() error { return r.rdb.Close() }

func (r *RedisKV) key(k string) string { return r.namespace + k }

func (r *RedisKV) Get(ctx context.Context, key string) (Record, error) {
	fields, err := r.rdb.HGetAll(ctx, r.key(key)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("get %s: %w", key, err)
	}
	return decodeRedisRecord(key, fields)
}

func decodeRedisRecord(key string, fields map[string]string) (Record, error) {
	if len(fields) == 0 {
		return Record{}, ErrNotFound
	}
	version, err := strconv.ParseInt(fields[redisVersionField], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("decode %s version: %w", key, err)
	}
	return Record{Key: key, Value: []byte(fields[redisDataField]), Version: version}, nil
}

func (r *RedisKV) Put(ctx context.Context, key string, value []byte, expected int64) (int64, error) {
	if expected < AnyVersion {
		return 0, fmt.Errorf("put %s: invalid expected version %d", key, expected)
	}
	k := r.key(key)
	tries := 1
	if expected == AnyVersion {
		tries = redisPutRetries
	}
	for i := 0; i < tries; i++ {
		var version int64
		err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.HGet(ctx, k, redisVersionField).Int64()
			if errors.Is(err, redis.Nil) {
				current = 0
			} else if err != nil {
				return err
			}
			// A missing key has version 0, which is MustNotExist.
			if expected != AnyVersion && current != expected {
				return ErrConflict
			}
			version = current + 1
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.HSet(ctx, k, redisVersionField, version, redisDataField, value)
				return nil
			})
			return err
		}, k)
		switch {
		case err == nil:
			return version, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrConflict):
			return 0, ErrConflict
		default:
			return 0, fmt.Errorf("put %s: %w", key, err)
		}
	}
	return 0, ErrConflict
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	n, err := r.rdb.Del(ctx, r.key(key)).Result()
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RedisKV) Scan(ctx context.Context, prefix string) ([]Record, error) {
	pattern := escapeGlob(r.key(prefix)) + "*"
	var keys []string
	iter := r.rdb.Scan(ctx, 0, pattern, 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", prefix, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	sort.Strings(keys)

	cmds, err := r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range keys {
			p.HGetAll(ctx, k)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("scan %s: %w", prefix, err)
	}
	records := make([]Record, 0, len(keys))
	for i, cmd := range cmds {
		fields, err := cmd.(*redis.MapStringStringCmd).Result()
		if err != nil {
			return nil, err
		}
		rec, err := decodeRedisRecord(strings.TrimPrefix(keys[i], r.namespace), fields)
		if errors.Is(err, ErrNotFound) {
			// deleted between SCAN and HGETALL
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
