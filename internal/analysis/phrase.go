// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package analysis

import "math"

const (
	beatsPerBar   = 4
	barsPerPhrase = 32
)

// BarsToSeconds converts a bar count to seconds at the given tempo.
// Returns 0 when either input is non-positive.
func BarsToSeconds(bpm float64, bars int) float64 {
	if bpm <= 0 || bars <= 0 {
		return 0
	}
	beats := float64(bars * beatsPerBar)
	return beats / bpm * 60
}

// PhraseStarts returns the 32-bar phrase grid for a track plus the start of
// its outro zone (the last two phrases, capped at the last quarter of the
// track). Mix points must align with this grid.
//
// Degenerate inputs (non-positive BPM or duration) yield a single phrase
// start at 0 and an outro 60 seconds before the end.
func PhraseStarts(bpm, durationSec float64) (starts []float64, outroStartSec float64) {
	if bpm <= 0 || durationSec <= 0 {
		return []float64{0}, math.Max(0, durationSec-60)
	}
	barSec := beatsPerBar * 60 / bpm
	phraseSec := barsPerPhrase * barSec
	for t := 0.0; t < durationSec; t += phraseSec {
		starts = append(starts, round2(t))
	}
	if len(starts) == 0 {
		starts = []float64{0}
	}
	outro := durationSec - math.Min(2*phraseSec, durationSec*0.25)
	return starts, math.Max(0, round2(outro))
}

// NearestPhraseStart returns the phrase start closest to t, or (0, false)
// when the grid is empty.
func NearestPhraseStart(starts []float64, t float64) (float64, bool) {
	if len(starts) == 0 {
		return 0, false
	}
	best := starts[0]
	bestD := math.Abs(t - best)
	for _, s := range starts[1:] {
		if d := math.Abs(t - s); d < bestD {
			bestD = d
			best = s
		}
	}
	return best, true
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
