// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package progress

import (
	"context"
	"sync"
)

const subscriberBuffer = 64

// MemoryBus is an in-process pub/sub. Delivery is best-effort: events to a
// subscriber with a full buffer are dropped rather than stalling a worker.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]*memSub
}

// NewMemory returns an empty in-process bus.
func NewMemory() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*memSub)}
}

func (b *MemoryBus) Publish(_ context.Context, ev Event) error {
	b.mu.RLock()
	subs := append([]*memSub(nil), b.subs[ev.SessionID]...)
	b.mu.RUnlock()
	for _, s := range subs {
		select {
		case s.ch <- ev:
		default:
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, sessionID string) (Subscriber, error) {
	s := &memSub{b: b, sessionID: sessionID, ch: make(chan Event, subscriberBuffer)}
	b.mu.Lock()
	b.subs[sessionID] = append(b.subs[sessionID], s)
	b.mu.Unlock()
	return s, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.subs {
		for _, s := range subs {
			s.once.Do(func() { close(s.ch) })
		}
	}
	b.subs = make(map[string][]*memSub)
	return nil
}

type memSub struct {
	b         *MemoryBus
	sessionID string
	ch        chan Event
	once      sync.Once
}

func (s *memSub) C() <-chan Event { return s.ch }

func (s *memSub) Close() error {
	s.once.Do(func() {
		s.b.mu.Lock()
		defer s.b.mu.Unlock()
		lst := s.b.subs[s.sessionID]
		out := lst[:0]
		for _, c := range lst {
			if c != s {
				out = append(out, c)
			}
		}
		if len(out) == 0 {
			delete(s.b.subs, s.sessionID)
		} else {
			s.b.subs[s.sessionID] = out
		}
		close(s.ch)
	})
	return nil
}

var _ Bus = (*MemoryBus)(nil)
