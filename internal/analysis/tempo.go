// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package analysis

import "math"

const (
	minBPM = 60.0
	maxBPM = 200.0
)

// estimateTempo detects the dominant tempo of a mono signal and lays a beat
// grid over it. The onset envelope is half-wave rectified spectral flux; the
// tempo is the best autocorrelation lag inside the 60-200 BPM band; the beat
// phase is the offset that catches the most onset energy.
func estimateTempo(samples []float64, sampleRate int) (bpm float64, beats []float64) {
	spec := stft(samples, defaultSTFT)
	if len(spec) < 4 {
		return 0, nil
	}
	flux := onsetFlux(spec)
	frameRate := float64(sampleRate) / float64(defaultSTFT.hopSize)

	lag := bestTempoLag(flux, frameRate)
	if lag <= 0 {
		return 0, nil
	}
	bpm = 60 * frameRate / float64(lag)
	beats = beatGrid(flux, lag, frameRate)
	return round2(bpm), beats
}

// onsetFlux computes the half-wave rectified spectral flux per frame and
// subtracts a local mean so sustained energy does not register as onsets.
func onsetFlux(spec [][]float64) []float64 {
	flux := make([]float64, len(spec))
	for i := 1; i < len(spec); i++ {
		var sum float64
		for j := range spec[i] {
			if d := spec[i][j] - spec[i-1][j]; d > 0 {
				sum += d
			}
		}
		flux[i] = sum
	}

	const win = 16
	out := make([]float64, len(flux))
	for i := range flux {
		lo, hi := i-win, i+win
		if lo < 0 {
			lo = 0
		}
		if hi > len(flux) {
			hi = len(flux)
		}
		var mean float64
		for _, v := range flux[lo:hi] {
			mean += v
		}
		mean /= float64(hi - lo)
		if v := flux[i] - mean; v > 0 {
			out[i] = v
		}
	}
	return out
}

// bestTempoLag autocorrelates the onset envelope and returns the lag with the
// strongest periodicity inside the BPM band. A mild bias toward 120 BPM
// breaks octave ties the way listeners do.
func bestTempoLag(flux []float64, frameRate float64) int {
	minLag := int(60 * frameRate / maxBPM)
	maxLag := int(60 * frameRate / minBPM)
	if maxLag >= len(flux) {
		maxLag = len(flux) - 1
	}
	if minLag < 1 || minLag >= maxLag {
		return 0
	}

	bestLag, bestScore := 0, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var acc float64
		for i := lag; i < len(flux); i++ {
			acc += flux[i] * flux[i-lag]
		}
		acc /= float64(len(flux) - lag)

		candBPM := 60 * frameRate / float64(lag)
		weight := math.Exp(-0.5 * math.Pow(math.Log2(candBPM/120)/1.0, 2))
		if score := acc * weight; score > bestScore {
			bestScore = score
			bestLag = lag
		}
	}
	return bestLag
}

// beatGrid places equally spaced beats at the detected period, choosing the
// phase offset with the most onset energy under it.
func beatGrid(flux []float64, lag int, frameRate float64) []float64 {
	bestPhase, bestEnergy := 0, -1.0
	for phase := 0; phase < lag; phase++ {
		var energy float64
		for i := phase; i < len(flux); i += lag {
			energy += flux[i]
		}
		if energy > bestEnergy {
			bestEnergy = energy
			bestPhase = phase
		}
	}
	var beats []float64
	for i := bestPhase; i < len(flux); i += lag {
		beats = append(beats, round2(float64(i)/frameRate))
	}
	return beats
}
