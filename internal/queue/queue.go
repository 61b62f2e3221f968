// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package queue carries pipeline tasks between the API process and the
// workers. Two named queues exist: "brain" for planning and finalization,
// "audio" for segment rendering.
package queue

import (
	"context"
	"encoding/json"
	"errors"
)

// Queue names.
const (
	Brain = "brain"
	Audio = "audio"
)

// Task kinds.
const (
	KindPlan     = "plan"
	KindRender   = "render"
	KindFinalize = "finalize"
	KindMix      = "mix"
)

// ErrClosed is returned by Dequeue after the queue shuts down.
var ErrClosed = errors.New("queue closed")

// Task is one unit of pipeline work. Payload is kind-specific JSON.
type Task struct {
	Queue     string          `json:"queue"`
	Kind      string          `json:"kind"`
	SessionID string          `json:"session_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EncodePayload marshals v into the task payload.
func (t *Task) EncodePayload(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	t.Payload = raw
	return nil
}

// DecodePayload unmarshals the task payload into v.
func (t *Task) DecodePayload(v any) error {
	if len(t.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(t.Payload, v)
}

// Queue is a FIFO task transport. Dequeue blocks until a task arrives, the
// context is done, or the queue closes.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Dequeue(ctx context.Context, name string) (Task, error)
	Close() error
}
