// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package mix defines the shared domain types of the set compiler: the
// per-track analysis, the per-transition strategy, and the roadmap.
package mix

import "math"

// Transition types a strategy may carry.
const (
	TransitionCrossfade          = "crossfade"
	TransitionBeatMatchCrossfade = "beat_match_crossfade"
	TransitionDropSwap           = "drop_swap"
	TransitionFilterFade         = "filter_fade"
)

// Transition styles derived from harmonic distance and length.
const (
	StyleLongAtmospheric = "long_atmospheric"
	StyleShortRhythmic   = "short_rhythmic"
	StyleWashOut         = "wash_out"
)

// AllowedTransitionTypes is the closed set of valid transition types.
var AllowedTransitionTypes = map[string]bool{
	TransitionCrossfade:          true,
	TransitionBeatMatchCrossfade: true,
	TransitionDropSwap:           true,
	TransitionFilterFade:         true,
}

// AllowedTransitionBars is the closed set of valid transition lengths.
var AllowedTransitionBars = map[int]bool{4: true, 8: true, 16: true, 32: true, 64: true}

// EnergySegment labels one contiguous stretch of a track by its relative
// loudness level.
type EnergySegment struct {
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
	Level    string  `json:"level"` // low, mid, high
}

// SongAnalysis is the immutable feature set for one track.
type SongAnalysis struct {
	BPM             float64         `json:"bpm"`
	KeyTonic        string          `json:"key"`
	KeyScale        string          `json:"key_scale"`
	KeyCamelot      string          `json:"key_camelot"`
	KeyConfidence   float64         `json:"key_confidence"`
	Beats           []float64       `json:"beats"`
	Energy          float64         `json:"energy"`
	EnergySegments  []EnergySegment `json:"energy_segments,omitempty"`
	EnergyPeaksSec  []float64       `json:"energy_peaks_sec,omitempty"`
	DurationSec     float64         `json:"duration_sec"`
	PhraseStartsSec []float64       `json:"phrase_starts_sec"`
	OutroStartSec   float64         `json:"outro_start_sec"`
	Genre           string          `json:"genre,omitempty"`
	Vibe            string          `json:"vibe,omitempty"`
	Path            string          `json:"path,omitempty"`
}

// EnergyScale maps the raw 0..1 energy onto the presentation 1..10 scale.
func (a SongAnalysis) EnergyScale() int {
	v := int(math.Round(a.Energy*9 + 1))
	if v < 1 {
		return 1
	}
	if v > 10 {
		return 10
	}
	return v
}

// Strategy is the plan for one transition A -> B. After the clamp pass it
// satisfies the guarantees the renderer relies on: B starts at 0, crossfade
// fits both tracks, bass swap sits inside the crossfade, overlay references
// are resolved against the candidate list.
type Strategy struct {
	TransitionType      string  `json:"transition_type"`
	TransitionLengthBars int    `json:"transition_length_bars"`
	CrossfadeSec        float64 `json:"crossfade_sec"`
	BassSwapSec         float64 `json:"bass_swap_sec"`

	SongAStretchRatio       float64 `json:"song_a_stretch_ratio"`
	SongAPitchSemitones     float64 `json:"song_a_pitch_semitones"`
	SongATransitionStartSec float64 `json:"song_a_transition_start_sec"`
	SongBStretchRatio       float64 `json:"song_b_stretch_ratio"`
	SongBPitchSemitones     float64 `json:"song_b_pitch_semitones"`
	SongBTransitionStartSec float64 `json:"song_b_transition_start_sec"`

	StartOffsetBars  int    `json:"start_offset_bars"`
	HarmonicDistance int    `json:"harmonic_distance"`
	TransitionStyle  string `json:"transition_style,omitempty"`
	FilterType       string `json:"filter_type,omitempty"`

	OverlayInstrumentURL string  `json:"overlay_instrument_url,omitempty"`
	OverlayVocalURL      string  `json:"overlay_vocal_url,omitempty"`
	OverlayInstrumentBPM float64 `json:"overlay_instrument_bpm,omitempty"`
	OverlayVocalBPM      float64 `json:"overlay_vocal_bpm,omitempty"`

	OverlayPaths    []string  `json:"overlay_paths,omitempty"`
	OverlayBPMs     []float64 `json:"overlay_bpms,omitempty"`
	OverlayEntrySec float64   `json:"overlay_entry_sec,omitempty"`

	Reasoning string `json:"reasoning"`
	DJComment string `json:"dj_comment,omitempty"`
	FXChain   string `json:"fx_chain,omitempty"`
}

// HasOverlays reports whether the strategy carries any overlay material.
func (s Strategy) HasOverlays() bool {
	return s.OverlayInstrumentURL != "" || s.OverlayVocalURL != "" || len(s.OverlayPaths) > 0
}

// Pair is one roadmap entry: the outgoing track A and the incoming track B.
type Pair struct {
	PathA     string       `json:"path_a"`
	PathB     string       `json:"path_b"`
	AnalysisA SongAnalysis `json:"analysis_a"`
	AnalysisB SongAnalysis `json:"analysis_b"`
}

// Roadmap is the ordered list of N-1 overlapping pairs for an N-track set.
// Invariant: roadmap[i].PathB == roadmap[i+1].PathA.
type Roadmap []Pair
