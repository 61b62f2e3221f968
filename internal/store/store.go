// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package store persists per-session pipeline state. Two backends exist: an
// in-process map for single-node runs and tests, and Redis for deployments
// where API and workers are separate processes.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/opusai/opusmix/internal/mix"
)

// ErrNotFound is returned when no state exists for a session id.
var ErrNotFound = errors.New("session state not found")

// TTL is how long session state lives after its last write. Sessions are
// disposable; an hour covers any realistic set length plus download time.
const TTL = time.Hour

// Session statuses.
const (
	StatusNew        = "new"
	StatusUploading  = "uploading"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

// Processing phases, surfaced while Status is StatusProcessing.
const (
	PhaseAnalyzing  = "analyzing"
	PhaseSequencing = "sequencing"
	PhaseRendering  = "rendering"
	PhaseFinalizing = "finalizing"
)

// State is everything the pipeline knows about one session.
type State struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Phase     string    `json:"phase,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	SessionDir string   `json:"session_dir,omitempty"`
	TrackPaths []string `json:"track_paths,omitempty"`

	Roadmap    mix.Roadmap    `json:"roadmap,omitempty"`
	Strategies []mix.Strategy `json:"strategies,omitempty"`

	// SegmentPaths is indexed by roadmap position; entries fill in as the
	// fan-out render tasks complete.
	SegmentPaths []string `json:"segment_paths,omitempty"`

	ResultPath    string `json:"result_path,omitempty"`
	TracklistPath string `json:"tracklist_path,omitempty"`
}

// Fail marks the state failed with a reason.
func (s *State) Fail(reason string) {
	s.Status = StatusFailed
	s.Phase = ""
	s.Error = reason
}

// Store is the session state backend. Update must be safe against concurrent
// writers; DecrementPending must be atomic across processes because the
// render workers race on it to elect the finalizer.
type Store interface {
	Get(ctx context.Context, id string) (*State, error)
	Put(ctx context.Context, st *State) error
	Update(ctx context.Context, id string, fn func(*State) error) (*State, error)
	Delete(ctx context.Context, id string) error

	InitPending(ctx context.Context, id string, n int) error
	DecrementPending(ctx context.Context, id string) (remaining int, err error)

	Close() error
}
