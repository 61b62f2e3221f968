// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryStore keeps state in-process. Suited to single-binary runs and unit
// tests; state does not survive a restart.
type MemoryStore struct {
	mu      sync.Mutex
	states  map[string][]byte
	pending map[string]int
	expiry  map[string]time.Time
}

// NewMemory returns an empty in-process store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		states:  make(map[string][]byte),
		pending: make(map[string]int),
		expiry:  make(map[string]time.Time),
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(id)
}

func (m *MemoryStore) getLocked(id string) (*State, error) {
	raw, ok := m.states[id]
	if !ok || time.Now().After(m.expiry[id]) {
		return nil, ErrNotFound
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (m *MemoryStore) Put(_ context.Context, st *State) error {
	st.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.ID] = raw
	m.expiry[st.ID] = time.Now().Add(TTL)
	return nil
}

func (m *MemoryStore) Update(_ context.Context, id string, fn func(*State) error) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.getLocked(id)
	if err != nil {
		return nil, err
	}
	if err := fn(st); err != nil {
		return nil, err
	}
	st.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	m.states[id] = raw
	m.expiry[id] = time.Now().Add(TTL)
	return st, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, id)
	delete(m.pending, id)
	delete(m.expiry, id)
	return nil
}

func (m *MemoryStore) InitPending(_ context.Context, id string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[id] = n
	return nil
}

func (m *MemoryStore) DecrementPending(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[id]--
	return m.pending[id], nil
}

func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
