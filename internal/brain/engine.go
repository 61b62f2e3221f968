// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package brain decides one transition strategy per (A, B) pair, either
// through deterministic heuristics or an external model, and defensively
// clamps the result to the invariants the renderer relies on.
package brain

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/opusai/opusmix/internal/harmony"
	xlog "github.com/opusai/opusmix/internal/log"
	"github.com/opusai/opusmix/internal/mix"
	"github.com/opusai/opusmix/internal/samples"
)

// Request carries everything a strategy decision needs beyond the two
// analyses. Candidate lists arrive pre-filtered by the sample library.
type Request struct {
	A, B mix.SongAnalysis

	UserPrompt   string
	Intent       Intent
	SystemPrompt string
	Sensitivity  float64

	// TrackCount is the size of the whole set; a two-track set triggers the
	// cloud overlay policy.
	TrackCount int

	LocalCandidates []samples.Sample
	CloudCandidates []samples.CloudAsset

	AllowInstruments  bool
	AllowVocals       bool
	BassSwapIntensity float64
}

// HarmonicDistance is the Camelot distance between the pair's keys.
func (r Request) HarmonicDistance() int {
	return harmony.Distance(r.A.KeyCamelot, r.B.KeyCamelot)
}

// Engine routes between the model path and the heuristic path. A circuit
// breaker shields the pipeline from a flapping model endpoint: after
// repeated failures, requests go straight to the heuristic until the
// breaker half-opens.
type Engine struct {
	llm     LLM
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

// New returns an engine. llm may be nil, in which case every decision is
// heuristic.
func New(llm LLM) *Engine {
	e := &Engine{llm: llm, logger: xlog.WithComponent("brain")}
	if llm != nil {
		e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "strategy-llm",
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				e.logger.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("strategy llm breaker state change")
			},
		})
	}
	return e
}

// Decide returns a clamped strategy for the pair. Model failures of any
// kind, including open breaker, fall back to the heuristic; the pipeline
// never aborts on a strategy decision.
func (e *Engine) Decide(ctx context.Context, req Request) mix.Strategy {
	logger := xlog.WithContext(ctx, e.logger)

	if e.llm != nil {
		out, err := e.breaker.Execute(func() (any, error) {
			return e.llm.Propose(ctx, req)
		})
		if err == nil {
			logger.Debug().
				Int("harmonic_distance", req.HarmonicDistance()).
				Msg("strategy decided by llm")
			return clamp(out.(mix.Strategy), req)
		}
		logger.Warn().Err(err).Msg("llm strategy failed, falling back to heuristic")
	}

	return clamp(heuristic(req), req)
}
