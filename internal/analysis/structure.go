// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package analysis

import (
	"math"

	"github.com/opusai/opusmix/internal/mix"
)

// energyProfile slices the track into one-second RMS windows and reports the
// overall energy on 0..1, the level segments, and the peak window positions.
func energyProfile(samples []float64, sampleRate int) (overall float64, segments []mix.EnergySegment, peaks []float64) {
	if len(samples) == 0 || sampleRate <= 0 {
		return 0, nil, nil
	}
	win := sampleRate
	numWin := len(samples) / win
	if numWin == 0 {
		numWin = 1
		win = len(samples)
	}
	rms := make([]float64, numWin)
	var maxRMS float64
	for i := 0; i < numWin; i++ {
		var acc float64
		for _, s := range samples[i*win : i*win+win] {
			acc += s * s
		}
		rms[i] = math.Sqrt(acc / float64(win))
		if rms[i] > maxRMS {
			maxRMS = rms[i]
		}
	}
	if maxRMS == 0 {
		return 0, []mix.EnergySegment{{StartSec: 0, EndSec: float64(len(samples)) / float64(sampleRate), Level: "low"}}, nil
	}

	var mean float64
	for i := range rms {
		rms[i] /= maxRMS
		mean += rms[i]
	}
	overall = mean / float64(numWin)

	segments = levelSegments(rms)
	peaks = peakWindows(rms)
	return round2(overall), segments, peaks
}

// levelSegments buckets windows into low/mid/high terciles of the normalised
// RMS range and merges adjacent windows of the same level.
func levelSegments(rms []float64) []mix.EnergySegment {
	level := func(v float64) string {
		switch {
		case v < 1.0/3:
			return "low"
		case v < 2.0/3:
			return "mid"
		default:
			return "high"
		}
	}
	var out []mix.EnergySegment
	for i, v := range rms {
		l := level(v)
		if len(out) > 0 && out[len(out)-1].Level == l {
			out[len(out)-1].EndSec = float64(i + 1)
			continue
		}
		out = append(out, mix.EnergySegment{StartSec: float64(i), EndSec: float64(i + 1), Level: l})
	}
	return out
}

// peakWindows returns the second offsets of local RMS maxima above 0.8.
func peakWindows(rms []float64) []float64 {
	var peaks []float64
	for i := 1; i < len(rms)-1; i++ {
		if rms[i] >= 0.8 && rms[i] >= rms[i-1] && rms[i] >= rms[i+1] {
			peaks = append(peaks, float64(i))
		}
	}
	return peaks
}
