// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package analysis

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// stftConfig describes the window geometry for STFT computation.
type stftConfig struct {
	fftSize int
	hopSize int
}

// defaults shared by the chroma and onset paths. 2048/512 at 22050 Hz gives
// ~10.7 Hz bin resolution and ~23 ms hops.
var defaultSTFT = stftConfig{fftSize: 2048, hopSize: 512}

// stft computes a one-sided magnitude spectrogram, [frames][bins].
func stft(samples []float64, cfg stftConfig) [][]float64 {
	if cfg.fftSize <= 0 || cfg.hopSize <= 0 {
		return nil
	}
	window := hannWindow(cfg.fftSize)
	fft := fourier.NewFFT(cfg.fftSize)

	numFrames := (len(samples) - cfg.fftSize) / cfg.hopSize
	if numFrames <= 0 {
		return nil
	}
	numBins := cfg.fftSize/2 + 1

	result := make([][]float64, numFrames)
	frame := make([]float64, cfg.fftSize)
	for i := 0; i < numFrames; i++ {
		start := i * cfg.hopSize
		for j := 0; j < cfg.fftSize; j++ {
			frame[j] = samples[start+j] * window[j]
		}
		coeffs := fft.Coefficients(nil, frame)

		// One-sided normalisation: double everything except DC and Nyquist.
		scale := 2.0 / float64(cfg.fftSize)
		result[i] = make([]float64, numBins)
		for j := 0; j < numBins; j++ {
			re := real(coeffs[j])
			im := imag(coeffs[j])
			s := scale
			if j == 0 || j == numBins-1 {
				s = 1.0 / float64(cfg.fftSize)
			}
			result[i][j] = math.Sqrt(re*re+im*im) * s
		}
	}
	return result
}

func hannWindow(size int) []float64 {
	w := make([]float64, size)
	if size == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(size-1)))
	}
	return w
}

// binFrequency returns the centre frequency of an FFT bin.
func binFrequency(bin, fftSize, sampleRate int) float64 {
	return float64(bin) * float64(sampleRate) / float64(fftSize)
}
