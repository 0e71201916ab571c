package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"keyvex/internal/tcc"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "tcc:"

// RedisMirror stores contexts as JSON strings under tcc:<jobId>.
type RedisMirror struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisMirror wraps an existing client. A zero ttl means 24 hours.
func NewRedisMirror(client redis.UniversalClient, ttl time.Duration) *RedisMirror {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisMirror{client: client, ttl: ttl}
}

func (r *RedisMirror) Name() string { return "redis" }

func (r *RedisMirror) Put(ctx context.Context, t *tcc.Context) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal tcc: %w", err)
	}
	return r.client.Set(ctx, redisKeyPrefix+t.JobID, data, r.ttl).Err()
}

func (r *RedisMirror) Load(ctx context.Context, jobID string) (*tcc.Context, error) {
	val, err := r.client.Get(ctx, redisKeyPrefix+jobID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var t tcc.Context
	if err := json.Unmarshal(val, &t); err != nil {
		return nil, fmt.Errorf("corrupt tcc in redis: %w", err)
	}
	return &t, nil
}

func (r *RedisMirror) Remove(ctx context.Context, jobID string) error {
	return r.client.Del(ctx, redisKeyPrefix+jobID).Err()
}

// JobIDs scans the keyspace for context keys.
func (r *RedisMirror) JobIDs(ctx context.Context) ([]string, error) {
	var (
		ids    []string
		cursor uint64
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, redisKeyPrefix+"*", 200).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			ids = append(ids, k[len(redisKeyPrefix):])
		}
		cursor = next
		if cursor == 0 {
			return ids, nil
		}
	}
}
