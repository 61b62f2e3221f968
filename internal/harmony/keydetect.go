// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package harmony

import "math"

// Krumhansl-Schmuckler key profiles.
var (
	profileMajor = [12]float64{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88}
	profileMinor = [12]float64{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17}
)

// KeyFromChroma picks the best (tonic, scale) for an averaged 12-bin chroma
// vector by correlating all 24 rotations against the Krumhansl-Schmuckler
// profiles. The best correlation is normalised onto a 0..1 confidence
// (typical correlations land around 0.3-0.9).
func KeyFromChroma(chroma [12]float64) (tonic, scale string, confidence float64) {
	bestCorr := math.Inf(-1)
	bestKey := 0
	bestScale := "major"
	for shift := 0; shift < 12; shift++ {
		rotated := rotate(chroma, shift)
		corrMaj := pearson(rotated, profileMajor)
		corrMin := pearson(rotated, profileMinor)
		if !isFinite(corrMaj) {
			corrMaj = 0
		}
		if !isFinite(corrMin) {
			corrMin = 0
		}
		if corrMaj > bestCorr {
			bestCorr = corrMaj
			bestKey = shift
			bestScale = "major"
		}
		if corrMin > bestCorr {
			bestCorr = corrMin
			bestKey = shift
			bestScale = "minor"
		}
	}
	confidence = (bestCorr + 0.2) / 1.1
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return Notes[bestKey], bestScale, confidence
}

// rotate shifts the chroma vector so that the candidate tonic lands on bin 0.
func rotate(v [12]float64, shift int) [12]float64 {
	var out [12]float64
	for i := 0; i < 12; i++ {
		out[i] = v[(i+shift)%12]
	}
	return out
}

func pearson(a, b [12]float64) float64 {
	var meanA, meanB float64
	for i := 0; i < 12; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= 12
	meanB /= 12
	var cov, varA, varB float64
	for i := 0; i < 12; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
