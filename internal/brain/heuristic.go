// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package brain

import (
	"fmt"
	"math"

	"github.com/opusai/opusmix/internal/analysis"
	"github.com/opusai/opusmix/internal/harmony"
	"github.com/opusai/opusmix/internal/mix"
)

// heuristic is the deterministic strategy path, used when no model is
// configured or the model call fails. It mirrors how a DJ on hardware mixes:
// beatmatch when the tempos are close, shorten the blend when the energy
// jumps, land the mix point on a phrase boundary near the outro.
func heuristic(req Request) mix.Strategy {
	a, b := req.A, req.B
	intent := req.Intent

	bpmDiff := math.Abs(a.BPM - b.BPM)
	avgBPM := (a.BPM + b.BPM) / 2
	if b.BPM <= 0 {
		bpmDiff = 999
		avgBPM = a.BPM
	}

	energyJump := a.EnergyScale() - b.EnergyScale()
	if energyJump < 0 {
		energyJump = -energyJump
	}

	bars := intent.PreferredBars
	if energyJump > 3 && bars > 8 {
		bars = 8
	}

	crossfade := analysis.BarsToSeconds(avgBPM, bars)
	if intent.Decisive {
		crossfade = math.Min(crossfade, analysis.BarsToSeconds(avgBPM, 8))
	}
	crossfade = math.Min(crossfade, math.Min(a.DurationSec-1, math.Min(b.DurationSec-1, 120)))
	crossfade = math.Max(crossfade, 0)

	transitionType := mix.TransitionCrossfade
	ratioA, ratioB := 1.0, 1.0
	if bpmDiff < 5 && b.BPM > 0 {
		transitionType = mix.TransitionBeatMatchCrossfade
		ratioB = clampFloat(a.BPM/b.BPM, 0.9, 1.1)
	}

	barsBeforeEnd := 8
	if intent.StartEarly {
		barsBeforeEnd = 16
	}
	startA := a.DurationSec - analysis.BarsToSeconds(a.BPM, barsBeforeEnd) - crossfade/2
	startA = clampFloat(startA, 0, math.Max(0, a.DurationSec-crossfade-0.5))
	startA = snapNearOutro(startA, a, 15)

	distance := harmony.Distance(a.KeyCamelot, b.KeyCamelot)

	return mix.Strategy{
		TransitionType:          transitionType,
		TransitionLengthBars:    bars,
		CrossfadeSec:            crossfade,
		BassSwapSec:             crossfade * (0.8 - 0.6*req.BassSwapIntensity),
		SongAStretchRatio:       ratioA,
		SongBStretchRatio:       ratioB,
		SongATransitionStartSec: startA,
		SongBTransitionStartSec: 0,
		HarmonicDistance:        distance,
		TransitionStyle:         styleFor(distance, bars),
		Reasoning: fmt.Sprintf("Heuristic: %s over %d bars (%.1fs), BPM diff %.1f, harmonic distance %d, energy jump %d. Vibe: %s.",
			transitionType, bars, crossfade, bpmDiff, distance, energyJump, intent.Vibe),
		DJComment: fmt.Sprintf("Phrase-aligned blend at %.1fs with the bass swap inside the crossfade. %s profile.",
			startA, styleFor(distance, bars)),
		FXChain: "Lows: swap at bass_swap_sec; Mids: smooth crossover; Highs: progressive fade",
	}
}

// styleFor derives the transition style from harmonic distance and length.
func styleFor(distance, bars int) string {
	switch {
	case distance <= 1:
		return mix.StyleLongAtmospheric
	case bars <= 8:
		return mix.StyleShortRhythmic
	default:
		return mix.StyleWashOut
	}
}

// snapNearOutro snaps t to the nearest phrase start of a that lies within
// the tolerance and no earlier than 30s before the outro.
func snapNearOutro(t float64, a mix.SongAnalysis, tolerance float64) float64 {
	best := t
	bestD := math.Inf(1)
	for _, p := range a.PhraseStartsSec {
		if p < a.OutroStartSec-30 {
			continue
		}
		if d := math.Abs(t - p); d <= tolerance && d < bestD {
			bestD = d
			best = p
		}
	}
	return best
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
