// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	xlog "github.com/opusai/opusmix/internal/log"
)

const progressChannelPrefix = "opusmix:progress:"

// RedisBus bridges progress events between processes over Redis pub/sub.
type RedisBus struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedis connects to Redis at url and verifies the connection.
func NewRedis(ctx context.Context, url string) (*RedisBus, error) {
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
	return &RedisBus{client: client, logger: xlog.WithComponent("progress")}, nil
}

// NewRedisFromClient wraps an existing client; used by tests with miniredis.
func NewRedisFromClient(client *redis.Client) *RedisBus {
	return &RedisBus{client: client, logger: xlog.WithComponent("progress")}
}

func channelName(sessionID string) string { return progressChannelPrefix + sessionID }

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.client.Publish(ctx, channelName(ev.SessionID), raw).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", ev.SessionID, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, sessionID string) (Subscriber, error) {
	ps := b.client.Subscribe(ctx, channelName(sessionID))
	// Force the subscription onto the wire before returning so callers do not
	// miss events published immediately after Subscribe.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", sessionID, err)
	}

	s := &redisSub{ps: ps, ch: make(chan Event, subscriberBuffer), logger: b.logger}
	go s.pump()
	return s, nil
}

func (b *RedisBus) Close() error { return b.client.Close() }

type redisSub struct {
	ps     *redis.PubSub
	ch     chan Event
	logger zerolog.Logger
	once   sync.Once
}

func (s *redisSub) pump() {
	defer close(s.ch)
	for msg := range s.ps.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			s.logger.Warn().Err(err).Msg("dropping undecodable progress event")
			continue
		}
		select {
		case s.ch <- ev:
		default:
		}
	}
}

func (s *redisSub) C() <-chan Event { return s.ch }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() { err = s.ps.Close() })
	return err
}

var _ Bus = (*RedisBus)(nil)
