// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package render

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	xlog "github.com/opusai/opusmix/internal/log"
	"github.com/opusai/opusmix/internal/mix"
)

const (
	// maxCrossfadeSec is the hard ceiling on any crossfade.
	maxCrossfadeSec = 120.0
	// crossfadeShare caps the crossfade at this share of either track. A
	// longer blend would eat more than a fifth of a track, which stops
	// sounding like a transition and starts sounding like a mashup.
	crossfadeShare = 0.2
)

// RenderSegment produces one WAV segment for a roadmap pair. Intermediate
// files live in a temp directory under workDir and are removed regardless of
// outcome; cloud overlays are fetched and verified before the engine runs
// and their temp directory is removed afterwards.
func RenderSegment(ctx context.Context, engine Engine, pair mix.Pair, strategy mix.Strategy, workDir, output string) error {
	logger := xlog.WithComponentFromContext(ctx, "render")

	tmp, err := os.MkdirTemp(workDir, "seg_work_")
	if err != nil {
		return fmt.Errorf("render workdir: %w", err)
	}
	defer os.RemoveAll(tmp)

	aProc := filepath.Join(tmp, "a_proc.wav")
	bProc := filepath.Join(tmp, "b_proc.wav")
	if err := prepareTrack(ctx, engine, pair.PathA, aProc, strategy.SongAStretchRatio, strategy.SongAPitchSemitones); err != nil {
		return err
	}
	if err := prepareTrack(ctx, engine, pair.PathB, bProc, strategy.SongBStretchRatio, strategy.SongBPitchSemitones); err != nil {
		return err
	}

	durA, err := engine.Probe(ctx, aProc)
	if err != nil {
		return err
	}
	durB, err := engine.Probe(ctx, bProc)
	if err != nil {
		return err
	}

	cross := math.Max(0.5, strategy.CrossfadeSec)
	cross = math.Min(cross, math.Min(crossfadeShare*durA, crossfadeShare*durB))
	cross = math.Min(cross, maxCrossfadeSec)

	overlays, cloudDir, err := assembleOverlays(ctx, pair, strategy)
	if err != nil {
		return err
	}
	if cloudDir != "" {
		defer os.RemoveAll(cloudDir)
	}

	spec := MixSpec{
		PathA:        aProc,
		PathB:        bProc,
		Output:       output,
		CrossfadeSec: cross,
		HighpassA:    strategy.HarmonicDistance > 1,
		Overlays:     overlays,
		Loudnorm:     true,
	}

	if err := engine.Mix(ctx, spec); err != nil {
		if !errors.Is(err, ErrLoudnorm) {
			return err
		}
		logger.Warn().Err(err).Msg("loudness normalization failed, retrying without it")
		spec.Loudnorm = false
		if err := engine.Mix(ctx, spec); err != nil {
			return err
		}
	}

	logger.Info().
		Str(xlog.FieldPath, filepath.Base(output)).
		Float64("crossfade_sec", cross).
		Bool("highpass_a", spec.HighpassA).
		Int("overlays", len(overlays)).
		Msg("segment rendered")
	return nil
}

// prepareTrack stretches or, when the ratios are identity, merely transcodes
// a source track into the working copy. Skipping rubberband on identity
// preserves fidelity.
func prepareTrack(ctx context.Context, engine Engine, input, output string, ratio, pitch float64) error {
	if identity(ratio, pitch) {
		return engine.Transcode(ctx, input, output)
	}
	return engine.Stretch(ctx, input, output, ratio, pitch)
}

func identity(ratio, pitch float64) bool {
	return math.Abs(ratio-1) < 1e-6 && math.Abs(pitch) < 1e-6
}

// assembleOverlays gathers the overlay layers: cloud URLs are fetched to a
// temp directory and take precedence over local paths. Every overlay is
// assigned the atempo ratio that brings it to the set's target BPM and the
// delay matching the strategy's entry point.
func assembleOverlays(ctx context.Context, pair mix.Pair, strategy mix.Strategy) ([]Overlay, string, error) {
	if !strategy.HasOverlays() {
		return nil, "", nil
	}

	targetBPM := (pair.AnalysisA.BPM + pair.AnalysisB.BPM) / 2
	delayMs := int(math.Round(math.Max(0, strategy.OverlayEntrySec) * 1000))

	var paths []string
	var bpms []float64
	if strategy.OverlayInstrumentURL != "" || strategy.OverlayVocalURL != "" {
		var urls []string
		for _, c := range []struct {
			url string
			bpm float64
		}{
			{strategy.OverlayInstrumentURL, strategy.OverlayInstrumentBPM},
			{strategy.OverlayVocalURL, strategy.OverlayVocalBPM},
		} {
			if c.url == "" {
				continue
			}
			urls = append(urls, c.url)
			if c.bpm > 0 {
				bpms = append(bpms, c.bpm)
			} else {
				bpms = append(bpms, 120)
			}
		}
		fetched, dir, err := FetchOverlays(ctx, urls)
		if err != nil {
			return nil, "", err
		}
		var gotPaths []string
		var gotBPMs []float64
		for i, p := range fetched {
			if p == "" {
				continue
			}
			gotPaths = append(gotPaths, p)
			gotBPMs = append(gotBPMs, bpms[i])
		}
		return buildOverlays(gotPaths, gotBPMs, targetBPM, delayMs), dir, nil
	}

	paths = strategy.OverlayPaths
	bpms = strategy.OverlayBPMs
	return buildOverlays(paths, bpms, targetBPM, delayMs), "", nil
}

func buildOverlays(paths []string, bpms []float64, targetBPM float64, delayMs int) []Overlay {
	overlays := make([]Overlay, 0, len(paths))
	for i, p := range paths {
		bpm := 120.0
		if i < len(bpms) && bpms[i] > 0 {
			bpm = bpms[i]
		}
		ratio := 1.0
		if targetBPM > 0 {
			ratio = math.Min(2.0, math.Max(0.5, targetBPM/bpm))
		}
		overlays = append(overlays, Overlay{Path: p, Ratio: ratio, DelayMs: delayMs})
	}
	return overlays
}
