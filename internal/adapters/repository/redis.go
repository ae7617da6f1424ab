package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/casve/internal/domain/worksheet"
	"github.com/okian/casve/pkg/errs"
)

const redisKeyPrefix = "casve:session:"

// RedisStore keeps sessions as string values under casve:session:<id>.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to addr and verifies it with a PING.
func NewRedisStore(ctx context.Context, addr string, opts ...Option) (*RedisStore, error) {
	const op = "repository.redis.Open"
	if addr == "" {
		return nil, errs.Wrap(op, ErrStore, errors.New("empty redis address"))
	}
	o := buildOptions(opts)
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errs.Wrap(op, ErrStore, fmt.Errorf("ping %s: %w", addr, err))
	}
	return &RedisStore{client: client, ttl: o.ttl}, nil
}

func redisKey(id string) string { return redisKeyPrefix + id }

func (r *RedisStore) Save(ctx context.Context, s *worksheet.Session) error {
	const op = "repository.redis.Save"
	if err := validateForSave(op, s); err != nil {
		return err
	}
	data, err := worksheet.Marshal(s)
	if err != nil {
		return errs.Wrap(op, ErrStore, err)
	}
	if err := r.client.Set(ctx, redisKey(s.SessionID), data, r.ttl).Err(); err != nil {
		return errs.Wrap(op, ErrStore, err)
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context, id string) (*worksheet.Session, error) {
	const op = "repository.redis.Load"
	data, err := r.client.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errs.New(op, ErrNotFound)
	}
	if err != nil {
		return nil, errs.Wrap(op, ErrStore, err)
	}
	return worksheet.Unmarshal(data)
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	const op = "repository.redis.Delete"
	n, err := r.client.Del(ctx, redisKey(id)).Result()
	if err != nil {
		return errs.Wrap(op, ErrStore, err)
	}
	if n == 0 {
		return errs.New(op, ErrNotFound)
	}
	return nil
}

func (r *RedisStore) Count(ctx context.Context) (int, error) {
	n := 0
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, errs.Wrap("repository.redis.Count", ErrStore, err)
	}
	return n, nil
}

func (r *RedisStore) Close() error { return r.client.Close() }
