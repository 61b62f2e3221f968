// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package brain

import (
	"math"

	"github.com/opusai/opusmix/internal/analysis"
	"github.com/opusai/opusmix/internal/harmony"
	"github.com/opusai/opusmix/internal/mix"
	"github.com/opusai/opusmix/internal/samples"
)

// clamp enforces the renderer's contract on a strategy regardless of which
// path produced it. Every guarantee the renderer relies on is restored here:
// bounded timings, phrase-aligned mix points, validated enums, and overlay
// references resolved against the pre-computed candidate lists.
func clamp(s mix.Strategy, req Request) mix.Strategy {
	a, b := req.A, req.B

	// Mix point in A: bounded, then snapped to a phrase start inside the
	// outro window when one exists.
	s.SongATransitionStartSec = clampFloat(s.SongATransitionStartSec, 0, math.Max(0, a.DurationSec-1))
	if p, ok := phraseInOutroWindow(a, s.SongATransitionStartSec); ok {
		s.SongATransitionStartSec = p
	}

	remainingA := math.Max(0.5, a.DurationSec-s.SongATransitionStartSec-1)
	s.CrossfadeSec = clampFloat(s.CrossfadeSec, 0.5,
		math.Min(remainingA, math.Min(b.DurationSec-0.5, 120)))

	s.SongAStretchRatio = clampFloat(defaultRatio(s.SongAStretchRatio), 0.5, 2.0)
	s.SongBStretchRatio = clampFloat(defaultRatio(s.SongBStretchRatio), 0.5, 2.0)
	s.SongAPitchSemitones = clampFloat(s.SongAPitchSemitones, -12, 12)
	s.SongBPitchSemitones = clampFloat(s.SongBPitchSemitones, -12, 12)

	s.SongBTransitionStartSec = 0

	if !mix.AllowedTransitionTypes[s.TransitionType] {
		s.TransitionType = mix.TransitionBeatMatchCrossfade
	}
	if !mix.AllowedTransitionBars[s.TransitionLengthBars] {
		s.TransitionLengthBars = 8
	}
	s.StartOffsetBars = clampInt(s.StartOffsetBars, 0, 16)

	if s.BassSwapSec <= 0 {
		s.BassSwapSec = s.CrossfadeSec * (0.8 - 0.6*req.BassSwapIntensity)
	}
	s.BassSwapSec = clampFloat(s.BassSwapSec, 0, 0.95*s.CrossfadeSec)

	s.HarmonicDistance = harmony.Distance(a.KeyCamelot, b.KeyCamelot)
	if s.TransitionStyle == "" {
		s.TransitionStyle = styleFor(s.HarmonicDistance, s.TransitionLengthBars)
	}

	s = resolveOverlays(s, req)
	s = forceTwoTrackCloudOverlays(s, req)
	s = forceLocalOverlayForSpace(s, req)

	if s.HasOverlays() {
		if s.OverlayEntrySec <= 0 {
			s.OverlayEntrySec = s.SongATransitionStartSec
		}
		if p, ok := analysis.NearestPhraseStart(a.PhraseStartsSec, s.OverlayEntrySec); ok {
			s.OverlayEntrySec = p
		}
	}

	if s.Reasoning == "" {
		s.Reasoning = "Clamped strategy with defaults."
	}
	if s.DJComment == "" {
		s.DJComment = "Standard phrase-aligned transition."
	}
	if s.FXChain == "" {
		s.FXChain = "Lows: swap at bass_swap_sec; Mids: smooth crossover; Highs: progressive fade"
	}
	return s
}

// phraseInOutroWindow returns the phrase start of a nearest to t among those
// inside [outro-30, duration-1].
func phraseInOutroWindow(a mix.SongAnalysis, t float64) (float64, bool) {
	var window []float64
	for _, p := range a.PhraseStartsSec {
		if p >= a.OutroStartSec-30 && p <= a.DurationSec-1 {
			window = append(window, p)
		}
	}
	return analysis.NearestPhraseStart(window, t)
}

// resolveOverlays drops any overlay reference that is not in the candidate
// lists: an unknown URL or filename must never reach the downloader.
func resolveOverlays(s mix.Strategy, req Request) mix.Strategy {
	if s.OverlayInstrumentURL != "" {
		if asset, ok := findCloud(req.CloudCandidates, s.OverlayInstrumentURL, "instruments"); ok {
			s.OverlayInstrumentBPM = asset.BPM
		} else {
			s.OverlayInstrumentURL = ""
			s.OverlayInstrumentBPM = 0
		}
	}
	if s.OverlayVocalURL != "" {
		if asset, ok := findCloud(req.CloudCandidates, s.OverlayVocalURL, "vocals"); ok {
			s.OverlayVocalBPM = asset.BPM
		} else {
			s.OverlayVocalURL = ""
			s.OverlayVocalBPM = 0
		}
	}

	var paths []string
	var bpms []float64
	for _, p := range s.OverlayPaths {
		if sample, ok := findLocal(req.LocalCandidates, p); ok {
			paths = append(paths, sample.Path)
			bpms = append(bpms, sample.Metadata.BPM)
		}
	}
	s.OverlayPaths = paths
	s.OverlayBPMs = bpms
	return s
}

// forceTwoTrackCloudOverlays applies the two-track policy: a two-track set
// is a live remix and must carry texture, so both an instrument and a vocal
// cloud overlay are selected when available.
func forceTwoTrackCloudOverlays(s mix.Strategy, req Request) mix.Strategy {
	if req.TrackCount != 2 || len(req.CloudCandidates) == 0 {
		return s
	}
	if s.OverlayInstrumentURL == "" {
		if asset, ok := firstCloudCategory(req.CloudCandidates, "instruments"); ok {
			s.OverlayInstrumentURL = asset.URL
			s.OverlayInstrumentBPM = asset.BPM
		}
	}
	if s.OverlayVocalURL == "" {
		if asset, ok := firstCloudCategory(req.CloudCandidates, "vocals"); ok {
			s.OverlayVocalURL = asset.URL
			s.OverlayVocalBPM = asset.BPM
		}
	}
	return s
}

// forceLocalOverlayForSpace applies the space criterion: low energy or a
// harmonic transition leaves room, so an available local overlay must be
// used when the strategy came back empty.
func forceLocalOverlayForSpace(s mix.Strategy, req Request) mix.Strategy {
	if s.HasOverlays() || len(req.LocalCandidates) == 0 {
		return s
	}
	lowEnergy := req.A.EnergyScale() <= 4 || req.B.EnergyScale() <= 4
	if !lowEnergy && s.HarmonicDistance > 1 {
		return s
	}
	for _, c := range req.LocalCandidates {
		if !categoryAllowed(c.Category, req) {
			continue
		}
		s.OverlayPaths = []string{c.Path}
		s.OverlayBPMs = []float64{c.Metadata.BPM}
		return s
	}
	return s
}

func categoryAllowed(category string, req Request) bool {
	switch category {
	case "instruments", "percussion":
		return req.AllowInstruments
	case "vocals":
		return req.AllowVocals
	default:
		return false
	}
}

func findCloud(candidates []samples.CloudAsset, url, category string) (samples.CloudAsset, bool) {
	for _, c := range candidates {
		if c.URL == url && c.Category == category {
			return c, true
		}
	}
	return samples.CloudAsset{}, false
}

func firstCloudCategory(candidates []samples.CloudAsset, category string) (samples.CloudAsset, bool) {
	for _, c := range candidates {
		if c.Category == category {
			return c, true
		}
	}
	return samples.CloudAsset{}, false
}

// findLocal matches a proposed path or bare filename against the candidate
// list.
func findLocal(candidates []samples.Sample, ref string) (samples.Sample, bool) {
	for _, c := range candidates {
		if c.Path == ref || c.Name() == ref {
			return c, true
		}
	}
	return samples.Sample{}, false
}

func defaultRatio(r float64) float64 {
	if r == 0 {
		return 1
	}
	return r
}
