// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package progress fans pipeline status events out to SSE subscribers. The
// in-memory bus serves single-binary runs; the Redis bus bridges separate
// API and worker processes over pub/sub.
package progress

import (
	"context"
	"time"
)

// Event is one progress update for a session.
type Event struct {
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	Phase     string    `json:"phase,omitempty"`
	Message   string    `json:"message,omitempty"`
	Segment   int       `json:"segment,omitempty"`
	Total     int       `json:"total,omitempty"`
	At        time.Time `json:"at"`
}

// Subscriber delivers events for one session until closed.
type Subscriber interface {
	C() <-chan Event
	Close() error
}

// Bus publishes session progress events to any number of subscribers.
// Publish never blocks on a slow subscriber; laggards lose events.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context, sessionID string) (Subscriber, error)
	Close() error
}
