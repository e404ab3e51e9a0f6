package db

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
)

// Redis stores each record as a plain string value under prefix+key, with no TTL.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

var _ Backend = (*Redis)(nil)

func NewRedis(rdb *redis.Client, prefix string) *Redis {
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Get(ctx context.Context, key string) (json.RawMessage, error) {
	b, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

func (r *Redis) Set(ctx context.Context, key string, value json.RawMessage) error {
	return r.rdb.Set(ctx, r.prefix+key, []byte(value), 0).Err()
}

func (r *Redis) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

func (r *Redis) Close() error { return r.rdb.Close() }
