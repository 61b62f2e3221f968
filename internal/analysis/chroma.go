// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package analysis

import "math"

// chromaFromSamples folds an STFT magnitude spectrogram into an averaged
// 12-bin chroma vector. Two weightings are blended: a plain fold of every
// bin onto its pitch class, and a log-spaced filterbank that emphasises the
// musically dense 65 Hz - 2 kHz region (a constant-Q style view). The blend
// is 0.6 filterbank / 0.4 plain.
func chromaFromSamples(samples []float64, sampleRate int) [12]float64 {
	spec := stft(samples, defaultSTFT)
	if len(spec) == 0 {
		return [12]float64{}
	}

	var plain, banked [12]float64
	for _, frame := range spec {
		for bin, mag := range frame {
			freq := binFrequency(bin, defaultSTFT.fftSize, sampleRate)
			if freq < 27.5 || freq > 4200 {
				continue
			}
			pc := pitchClass(freq)
			plain[pc] += mag
			if freq >= 65 && freq <= 2000 {
				banked[pc] += mag * logWeight(freq)
			}
		}
	}

	var out [12]float64
	normalize(&plain)
	normalize(&banked)
	for i := 0; i < 12; i++ {
		out[i] = 0.6*banked[i] + 0.4*plain[i]
	}
	return out
}

// pitchClass maps a frequency onto 0..11 with C = 0.
func pitchClass(freq float64) int {
	// MIDI note number, A4 = 440 Hz = note 69.
	note := 69 + 12*math.Log2(freq/440)
	pc := int(math.Round(note)) % 12
	if pc < 0 {
		pc += 12
	}
	return pc
}

// logWeight tapers the filterbank toward its edges so boundary bins do not
// dominate the fold.
func logWeight(freq float64) float64 {
	center := math.Sqrt(65 * 2000)
	octaves := math.Abs(math.Log2(freq / center))
	w := 1 - octaves/3
	if w < 0.1 {
		w = 0.1
	}
	return w
}

func normalize(v *[12]float64) {
	var max float64
	for _, x := range v {
		if x > max {
			max = x
		}
	}
	if max == 0 {
		return
	}
	for i := range v {
		v[i] /= max
	}
}
