// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package brain

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opusai/opusmix/internal/analysis"
	"github.com/opusai/opusmix/internal/mix"
)

func testAnalysis(bpm, dur float64, camelot string, energy float64) mix.SongAnalysis {
	starts, outro := analysis.PhraseStarts(bpm, dur)
	return mix.SongAnalysis{
		BPM:             bpm,
		KeyCamelot:      camelot,
		Energy:          energy,
		DurationSec:     dur,
		PhraseStartsSec: starts,
		OutroStartSec:   outro,
	}
}

func TestHeuristicIdenticalTracks(t *testing.T) {
	a := testAnalysis(120, 180, "8A", 0.5)
	req := Request{
		A:                 a,
		B:                 a,
		Intent:            Intent{PreferredBars: 8, Vibe: "neutral"},
		BassSwapIntensity: 0.5,
	}

	s := heuristic(req)
	assert.Equal(t, mix.TransitionBeatMatchCrossfade, s.TransitionType)
	assert.Equal(t, 8, s.TransitionLengthBars)
	assert.InDelta(t, 16.0, s.CrossfadeSec, 1e-9)
	assert.Equal(t, 1.0, s.SongBStretchRatio)
	assert.Equal(t, 0, s.HarmonicDistance)
	assert.Equal(t, mix.StyleLongAtmospheric, s.TransitionStyle)

	// end - 8 bars - half the crossfade: 180 - 16 - 8.
	assert.InDelta(t, 156.0, s.SongATransitionStartSec, 1e-9)

	// The clamp pass then lands the mix point on the last phrase start.
	s = clamp(s, req)
	assert.InDelta(t, 128.0, s.SongATransitionStartSec, 1e-9)
	assert.InDelta(t, 16.0, s.CrossfadeSec, 1e-9)
	assert.Zero(t, s.SongBTransitionStartSec)
	assert.NotEmpty(t, s.Reasoning)
	assert.NotEmpty(t, s.DJComment)
}

func TestHeuristicEnergyJumpShortensBlend(t *testing.T) {
	a := testAnalysis(128, 240, "8A", 0.9)
	b := testAnalysis(128, 240, "3A", 0.2)
	req := Request{A: a, B: b, Intent: Intent{PreferredBars: 32, Vibe: "neutral"}}

	s := heuristic(req)
	// Energy 9 vs 3 on the 1..10 scale: the jump caps the blend at 8 bars.
	assert.LessOrEqual(t, s.TransitionLengthBars, 8)
	assert.Equal(t, 5, s.HarmonicDistance)
	assert.Equal(t, mix.StyleShortRhythmic, s.TransitionStyle)
}

func TestHeuristicTempoClash(t *testing.T) {
	a := testAnalysis(120, 300, "8A", 0.5)
	b := testAnalysis(140, 300, "8A", 0.5)
	req := Request{A: a, B: b, Intent: Intent{PreferredBars: 16, Vibe: "neutral"}}

	s := heuristic(req)
	// 20 BPM apart is beyond beatmatch range.
	assert.Equal(t, mix.TransitionCrossfade, s.TransitionType)
	assert.Equal(t, 1.0, s.SongBStretchRatio)
}

func TestHeuristicStretchRatioClamped(t *testing.T) {
	a := testAnalysis(120, 300, "8A", 0.5)
	b := testAnalysis(124, 300, "8A", 0.5)
	req := Request{A: a, B: b, Intent: Intent{PreferredBars: 16, Vibe: "neutral"}}

	s := heuristic(req)
	assert.Equal(t, mix.TransitionBeatMatchCrossfade, s.TransitionType)
	assert.InDelta(t, 120.0/124.0, s.SongBStretchRatio, 1e-9)
	assert.GreaterOrEqual(t, s.SongBStretchRatio, 0.9)
	assert.LessOrEqual(t, s.SongBStretchRatio, 1.1)
}

func TestHeuristicMissingBBPM(t *testing.T) {
	a := testAnalysis(120, 300, "8A", 0.5)
	b := testAnalysis(0, 300, "", 0.5)
	req := Request{A: a, B: b, Intent: Intent{PreferredBars: 16, Vibe: "neutral"}}

	s := heuristic(req)
	assert.Equal(t, mix.TransitionCrossfade, s.TransitionType)
	// Unknown key on either side is the maximum distance.
	assert.Equal(t, 6, s.HarmonicDistance)
	assert.Equal(t, mix.StyleWashOut, s.TransitionStyle)
}

func TestHeuristicDecisiveShortensCrossfade(t *testing.T) {
	a := testAnalysis(120, 600, "8A", 0.5)
	req := Request{A: a, B: a, Intent: Intent{PreferredBars: 32, Vibe: "dynamic", Decisive: true}}

	s := heuristic(req)
	// Decisive intent caps the fade at an 8-bar duration even over 32 bars.
	assert.InDelta(t, 16.0, s.CrossfadeSec, 1e-9)
	assert.Equal(t, 32, s.TransitionLengthBars)
}

func TestHeuristicCrossfadeNeverExceedsTracks(t *testing.T) {
	a := testAnalysis(120, 30, "8A", 0.5)
	b := testAnalysis(120, 25, "8A", 0.5)
	req := Request{A: a, B: b, Intent: Intent{PreferredBars: 64, Vibe: "progressive", StartEarly: true}}

	s := heuristic(req)
	assert.LessOrEqual(t, s.CrossfadeSec, 24.0)
	assert.GreaterOrEqual(t, s.SongATransitionStartSec, 0.0)
}
