// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	xlog "github.com/opusai/opusmix/internal/log"
)

const (
	jobKeyPrefix     = "opusmix:job:"
	pendingKeySuffix = ":pending"
	opTimeout        = 3 * time.Second
	updateRetries    = 5
)

// RedisStore persists session state in Redis so the API process and worker
// processes share one view of each session.
type RedisStore struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedis connects to Redis at the given URL (redis://host:port/db) and
// verifies the connection before returning.
func NewRedis(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = opTimeout
	opts.WriteTimeout = opTimeout
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger := xlog.WithComponent("store")
	logger.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("connected to redis")
	return &RedisStore{client: client, logger: logger}, nil
}

// NewRedisFromClient wraps an existing client; used by tests with miniredis.
func NewRedisFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, logger: xlog.WithComponent("store")}
}

func jobKey(id string) string     { return jobKeyPrefix + id }
func pendingKey(id string) string { return jobKey(id) + pendingKeySuffix }

func (r *RedisStore) Get(ctx context.Context, id string) (*State, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := r.client.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", id, err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", id, err)
	}
	return &st, nil
}

func (r *RedisStore) Put(ctx context.Context, st *State) error {
	st.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state %s: %w", st.ID, err)
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := r.client.Set(ctx, jobKey(st.ID), raw, TTL).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", st.ID, err)
	}
	return nil
}

// Update applies fn under an optimistic WATCH transaction so concurrent
// segment writers cannot lose each other's updates.
func (r *RedisStore) Update(ctx context.Context, id string, fn func(*State) error) (*State, error) {
	key := jobKey(id)
	var out *State

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var st State
		if err := json.Unmarshal(raw, &st); err != nil {
			return err
		}
		if err := fn(&st); err != nil {
			return err
		}
		st.UpdatedAt = time.Now().UTC()
		encoded, err := json.Marshal(&st)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, TTL)
			return nil
		})
		if err == nil {
			out = &st
		}
		return err
	}

	for i := 0; i < updateRetries; i++ {
		err := r.client.Watch(ctx, txn, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, fmt.Errorf("redis update %s: %w", id, err)
	}
	return nil, fmt.Errorf("redis update %s: too many conflicts", id)
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := r.client.Del(ctx, jobKey(id), pendingKey(id)).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", id, err)
	}
	return nil
}

func (r *RedisStore) InitPending(ctx context.Context, id string, n int) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := r.client.Set(ctx, pendingKey(id), n, TTL).Err(); err != nil {
		return fmt.Errorf("redis init pending %s: %w", id, err)
	}
	return nil
}

// DecrementPending is a plain DECR: exactly one caller observes zero, and
// that caller schedules finalization.
func (r *RedisStore) DecrementPending(ctx context.Context, id string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	n, err := r.client.Decr(ctx, pendingKey(id)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis decr pending %s: %w", id, err)
	}
	return int(n), nil
}

func (r *RedisStore) Close() error { return r.client.Close() }

var _ Store = (*RedisStore)(nil)
