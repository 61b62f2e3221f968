// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package sequencer orders a set of analyzed tracks into an energy curve
// with harmonically adjacent neighbours, and turns the order into the
// roadmap of overlapping transition pairs.
package sequencer

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/opusai/opusmix/internal/harmony"
	xlog "github.com/opusai/opusmix/internal/log"
	"github.com/opusai/opusmix/internal/mix"
)

// Analyzer is the feature extractor the sequencer runs per track.
type Analyzer interface {
	Analyze(ctx context.Context, path string) mix.SongAnalysis
}

// Track pairs a file path with its analysis.
type Track struct {
	Path     string
	Analysis mix.SongAnalysis
}

// AnalyzeTracks analyzes each path in order. Paths that do not point at a
// regular file are skipped; the set is built from whatever survives.
func AnalyzeTracks(ctx context.Context, an Analyzer, paths []string) []Track {
	logger := xlog.WithComponentFromContext(ctx, "sequencer")

	tracks := make([]Track, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			logger.Warn().Str(xlog.FieldPath, filepath.Base(p)).Msg("skipping unreadable track")
			continue
		}
		tracks = append(tracks, Track{Path: p, Analysis: an.Analyze(ctx, p)})
	}
	return tracks
}

// SortPlaylist orders tracks along the requested energy curve. The primary
// order is BPM; a greedy refinement then walks the list picking, at each
// step, the remaining track with the smallest Camelot distance to the
// last-chosen one, ties broken by the smallest BPM delta.
func SortPlaylist(tracks []Track, ascending bool) []Track {
	if len(tracks) <= 1 {
		return append([]Track(nil), tracks...)
	}

	byBPM := append([]Track(nil), tracks...)
	sort.SliceStable(byBPM, func(i, j int) bool {
		if ascending {
			return byBPM[i].Analysis.BPM < byBPM[j].Analysis.BPM
		}
		return byBPM[i].Analysis.BPM > byBPM[j].Analysis.BPM
	})

	ordered := make([]Track, 0, len(byBPM))
	ordered = append(ordered, byBPM[0])
	remaining := byBPM[1:]
	for len(remaining) > 0 {
		last := ordered[len(ordered)-1].Analysis

		bestIdx := 0
		bestDist := harmony.DistanceUnknown + 1
		bestDiff := math.Inf(1)
		for i, t := range remaining {
			dist := harmony.Distance(last.KeyCamelot, t.Analysis.KeyCamelot)
			diff := math.Abs(t.Analysis.BPM - last.BPM)
			if dist < bestDist || (dist == bestDist && diff < bestDiff) {
				bestIdx, bestDist, bestDiff = i, dist, diff
			}
		}
		ordered = append(ordered, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return ordered
}

// BuildRoadmap turns the ordered playlist into its N-1 overlapping pairs:
// track B of transition i is track A of transition i+1.
func BuildRoadmap(ordered []Track) mix.Roadmap {
	if len(ordered) < 2 {
		return nil
	}
	roadmap := make(mix.Roadmap, 0, len(ordered)-1)
	for i := 0; i < len(ordered)-1; i++ {
		roadmap = append(roadmap, mix.Pair{
			PathA:     ordered[i].Path,
			PathB:     ordered[i+1].Path,
			AnalysisA: ordered[i].Analysis,
			AnalysisB: ordered[i+1].Analysis,
		})
	}
	return roadmap
}
