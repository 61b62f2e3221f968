// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package render turns one roadmap pair plus its clamped strategy into a
// single WAV segment, and concatenates segments into the final set. The
// audio processing itself sits behind the Engine interface so tests can run
// without ffmpeg installed.
package render

import "context"

// Overlay is one texture layer mixed on top of the crossfaded pair. Ratio is
// the atempo factor that brings the overlay to the set's target BPM; DelayMs
// shifts its entry to the strategy's phrase-aligned point.
type Overlay struct {
	Path    string
	Ratio   float64
	DelayMs int
}

// MixSpec describes one crossfade render. HighpassA engages the wash-out
// filter on the outgoing track; Loudnorm selects the normalization stage.
type MixSpec struct {
	PathA, PathB string
	Output       string

	CrossfadeSec float64
	HighpassA    bool
	Overlays     []Overlay
	Loudnorm     bool
}

// Engine is the narrow audio-processing contract the renderer drives.
type Engine interface {
	// Probe returns the duration of an audio file in seconds.
	Probe(ctx context.Context, path string) (float64, error)

	// Stretch time-stretches and pitch-shifts input into output. ratio is
	// duration scaling (2.0 doubles), pitch is in semitones.
	Stretch(ctx context.Context, input, output string, ratio, pitch float64) error

	// Transcode rewrites input as PCM WAV without altering time or pitch.
	Transcode(ctx context.Context, input, output string) error

	// Mix renders one crossfade per the spec. A normalization failure is
	// reported as ErrLoudnorm so the caller can retry without it.
	Mix(ctx context.Context, spec MixSpec) error

	// Concat joins WAV segments losslessly, in order, into output.
	Concat(ctx context.Context, inputs []string, output string) error
}
