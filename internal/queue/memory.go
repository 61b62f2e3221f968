// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package queue

import (
	"context"
	"sync"
)

const memoryQueueDepth = 256

// MemoryQueue moves tasks over in-process channels. Single-binary runs and
// tests use it; tasks do not survive a restart.
type MemoryQueue struct {
	mu     sync.Mutex
	chans  map[string]chan Task
	closed bool
	done   chan struct{}
}

// NewMemory returns an in-process queue.
func NewMemory() *MemoryQueue {
	return &MemoryQueue{
		chans: make(map[string]chan Task),
		done:  make(chan struct{}),
	}
}

func (q *MemoryQueue) channel(name string) (chan Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, false
	}
	ch, ok := q.chans[name]
	if !ok {
		ch = make(chan Task, memoryQueueDepth)
		q.chans[name] = ch
	}
	return ch, true
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task Task) error {
	ch, ok := q.channel(task.Queue)
	if !ok {
		return ErrClosed
	}
	select {
	case ch <- task:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context, name string) (Task, error) {
	ch, ok := q.channel(name)
	if !ok {
		return Task{}, ErrClosed
	}
	select {
	case task := <-ch:
		return task, nil
	case <-q.done:
		return Task{}, ErrClosed
	case <-ctx.Done():
		return Task{}, ctx.Err()
	}
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
