// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package queue

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
	queueKeyPrefix = "opusmix:queue:"
	popTimeout     = 2 * time.Second
)

// RedisQueue moves tasks over Redis lists (LPUSH producer, BRPOP consumer)
// so workers can run in separate processes.
type RedisQueue struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedis connects to Redis at url and verifies the connection.
func NewRedis(ctx context.Context, url string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisQueue{client: client, logger: xlog.WithComponent("queue")}, nil
}

// NewRedisFromClient wraps an existing client; used by tests with miniredis.
func NewRedisFromClient(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client, logger: xlog.WithComponent("queue")}
}

func queueKey(name string) string { return queueKeyPrefix + name }

func (q *RedisQueue) Enqueue(ctx context.Context, task Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := q.client.LPush(ctx, queueKey(task.Queue), raw).Err(); err != nil {
		return fmt.Errorf("redis lpush %s: %w", task.Queue, err)
	}
	q.logger.Debug().
		Str(xlog.FieldQueue, task.Queue).
		Str(xlog.FieldTaskKind, task.Kind).
		Str(xlog.FieldSessionID, task.SessionID).
		Msg("task enqueued")
	return nil
}

// Dequeue polls with short BRPOP timeouts so context cancellation is honored
// within popTimeout even though BRPOP itself cannot be interrupted.
func (q *RedisQueue) Dequeue(ctx context.Context, name string) (Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Task{}, err
		}
		res, err := q.client.BRPop(ctx, popTimeout, queueKey(name)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Task{}, ctx.Err()
			}
			return Task{}, fmt.Errorf("redis brpop %s: %w", name, err)
		}
		// BRPOP returns [key, value].
		var task Task
		if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
			q.logger.Warn().Err(err).Str(xlog.FieldQueue, name).Msg("dropping undecodable task")
			continue
		}
		return task, nil
	}
}

func (q *RedisQueue) Close() error { return q.client.Close() }

var _ Queue = (*RedisQueue)(nil)
