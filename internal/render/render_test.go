// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package render

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opusai/opusmix/internal/mix"
)

type stubEngine struct {
	durations map[string]float64

	transcoded []string
	stretched  []string
	mixes      []MixSpec
	concats    [][]string

	mixErr       error
	loudnormOnly bool
}

func (s *stubEngine) Probe(_ context.Context, path string) (float64, error) {
	if d, ok := s.durations[filepath.Base(path)]; ok {
		return d, nil
	}
	return 200, nil
}

func (s *stubEngine) Stretch(_ context.Context, input, output string, _, _ float64) error {
	s.stretched = append(s.stretched, filepath.Base(input))
	return os.WriteFile(output, []byte("stretched"), 0o644)
}

func (s *stubEngine) Transcode(_ context.Context, input, output string) error {
	s.transcoded = append(s.transcoded, filepath.Base(input))
	return os.WriteFile(output, []byte("transcoded"), 0o644)
}

func (s *stubEngine) Mix(_ context.Context, spec MixSpec) error {
	s.mixes = append(s.mixes, spec)
	if s.mixErr != nil {
		if s.loudnormOnly && !spec.Loudnorm {
			return nil
		}
		return s.mixErr
	}
	return os.WriteFile(spec.Output, []byte("mixed"), 0o644)
}

func (s *stubEngine) Concat(_ context.Context, inputs []string, output string) error {
	s.concats = append(s.concats, inputs)
	return os.WriteFile(output, []byte("concat"), 0o644)
}

func testPair(dir string, bpmA, bpmB float64) mix.Pair {
	a := filepath.Join(dir, "a.wav")
	b := filepath.Join(dir, "b.wav")
	os.WriteFile(a, []byte("a"), 0o644)
	os.WriteFile(b, []byte("b"), 0o644)
	return mix.Pair{
		PathA:     a,
		PathB:     b,
		AnalysisA: mix.SongAnalysis{BPM: bpmA, DurationSec: 300},
		AnalysisB: mix.SongAnalysis{BPM: bpmB, DurationSec: 300},
	}
}

func TestRenderSegmentIdentitySkipsStretch(t *testing.T) {
	dir := t.TempDir()
	eng := &stubEngine{}
	pair := testPair(dir, 120, 120)
	strat := mix.Strategy{SongAStretchRatio: 1, SongBStretchRatio: 1, CrossfadeSec: 16}

	err := RenderSegment(context.Background(), eng, pair, strat, dir, filepath.Join(dir, "seg_0.wav"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.wav", "b.wav"}, eng.transcoded)
	assert.Empty(t, eng.stretched)
}

func TestRenderSegmentStretchesWhenRatioSet(t *testing.T) {
	dir := t.TempDir()
	eng := &stubEngine{}
	pair := testPair(dir, 120, 126)
	strat := mix.Strategy{SongAStretchRatio: 1, SongBStretchRatio: 0.952, CrossfadeSec: 16}

	err := RenderSegment(context.Background(), eng, pair, strat, dir, filepath.Join(dir, "seg_0.wav"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.wav"}, eng.transcoded)
	assert.Equal(t, []string{"b.wav"}, eng.stretched)
}

func TestRenderSegmentTwentyPercentRule(t *testing.T) {
	dir := t.TempDir()
	eng := &stubEngine{durations: map[string]float64{"a_proc.wav": 50, "b_proc.wav": 300}}
	pair := testPair(dir, 120, 120)
	strat := mix.Strategy{SongAStretchRatio: 1, SongBStretchRatio: 1, CrossfadeSec: 64}

	err := RenderSegment(context.Background(), eng, pair, strat, dir, filepath.Join(dir, "seg_0.wav"))
	require.NoError(t, err)
	require.Len(t, eng.mixes, 1)
	// 20% of the shorter (post-stretch) track wins over the strategy value.
	assert.InDelta(t, 10.0, eng.mixes[0].CrossfadeSec, 1e-9)
}

func TestRenderSegmentShortTracksFloorBelowHalfSecond(t *testing.T) {
	dir := t.TempDir()
	eng := &stubEngine{durations: map[string]float64{"a_proc.wav": 1, "b_proc.wav": 1}}
	pair := testPair(dir, 120, 120)
	strat := mix.Strategy{SongAStretchRatio: 1, SongBStretchRatio: 1, CrossfadeSec: 0.1}

	err := RenderSegment(context.Background(), eng, pair, strat, dir, filepath.Join(dir, "seg_0.wav"))
	require.NoError(t, err)
	// Floor raises 0.1 to 0.5, then the 20% cap takes it down to 0.2.
	assert.InDelta(t, 0.2, eng.mixes[0].CrossfadeSec, 1e-9)
}

func TestRenderSegmentHighpassOnKeyClash(t *testing.T) {
	dir := t.TempDir()
	eng := &stubEngine{}
	pair := testPair(dir, 120, 120)

	err := RenderSegment(context.Background(), eng, pair,
		mix.Strategy{SongAStretchRatio: 1, SongBStretchRatio: 1, CrossfadeSec: 16, HarmonicDistance: 3},
		dir, filepath.Join(dir, "seg_0.wav"))
	require.NoError(t, err)
	assert.True(t, eng.mixes[0].HighpassA)

	err = RenderSegment(context.Background(), eng, pair,
		mix.Strategy{SongAStretchRatio: 1, SongBStretchRatio: 1, CrossfadeSec: 16, HarmonicDistance: 1},
		dir, filepath.Join(dir, "seg_1.wav"))
	require.NoError(t, err)
	assert.False(t, eng.mixes[1].HighpassA)
}

func TestRenderSegmentLoudnormFallback(t *testing.T) {
	dir := t.TempDir()
	eng := &stubEngine{
		mixErr:       fmt.Errorf("%w: boom", ErrLoudnorm),
		loudnormOnly: true,
	}
	pair := testPair(dir, 120, 120)
	strat := mix.Strategy{SongAStretchRatio: 1, SongBStretchRatio: 1, CrossfadeSec: 16}

	err := RenderSegment(context.Background(), eng, pair, strat, dir, filepath.Join(dir, "seg_0.wav"))
	require.NoError(t, err)
	require.Len(t, eng.mixes, 2)
	assert.True(t, eng.mixes[0].Loudnorm)
	assert.False(t, eng.mixes[1].Loudnorm)
}

func TestRenderSegmentOtherMixErrorsPropagate(t *testing.T) {
	dir := t.TempDir()
	eng := &stubEngine{mixErr: errors.New("disk full")}
	pair := testPair(dir, 120, 120)
	strat := mix.Strategy{SongAStretchRatio: 1, SongBStretchRatio: 1, CrossfadeSec: 16}

	err := RenderSegment(context.Background(), eng, pair, strat, dir, filepath.Join(dir, "seg_0.wav"))
	require.Error(t, err)
	assert.Len(t, eng.mixes, 1)
}

func TestRenderSegmentLocalOverlays(t *testing.T) {
	dir := t.TempDir()
	eng := &stubEngine{}
	pair := testPair(dir, 120, 130)
	strat := mix.Strategy{
		SongAStretchRatio: 1, SongBStretchRatio: 1, CrossfadeSec: 16,
		OverlayPaths:    []string{"/samples/instruments/pad.wav"},
		OverlayBPMs:     []float64{100},
		OverlayEntrySec: 64,
	}

	err := RenderSegment(context.Background(), eng, pair, strat, dir, filepath.Join(dir, "seg_0.wav"))
	require.NoError(t, err)
	require.Len(t, eng.mixes[0].Overlays, 1)
	ov := eng.mixes[0].Overlays[0]
	assert.Equal(t, "/samples/instruments/pad.wav", ov.Path)
	// Target BPM 125 over overlay BPM 100.
	assert.InDelta(t, 1.25, ov.Ratio, 1e-9)
	assert.Equal(t, 64000, ov.DelayMs)
}

func TestRenderSegmentOverlayRatioClamped(t *testing.T) {
	overlays := buildOverlays([]string{"x.wav"}, []float64{30}, 125, 0)
	require.Len(t, overlays, 1)
	assert.Equal(t, 2.0, overlays[0].Ratio)

	overlays = buildOverlays([]string{"x.wav"}, []float64{400}, 125, 0)
	assert.Equal(t, 0.5, overlays[0].Ratio)

	// Missing BPM defaults to 120.
	overlays = buildOverlays([]string{"x.wav"}, nil, 120, 0)
	assert.InDelta(t, 1.0, overlays[0].Ratio, 1e-9)
}

func TestFetchOverlays(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "missing.wav") {
			http.NotFound(w, r)
			return
		}
		if strings.HasSuffix(r.URL.Path, "empty.wav") {
			return
		}
		w.Write([]byte("RIFFdata"))
	}))
	defer srv.Close()

	t.Run("success", func(t *testing.T) {
		paths, dir, err := FetchOverlays(context.Background(), []string{srv.URL + "/pads/dreamy.wav"})
		require.NoError(t, err)
		defer os.RemoveAll(dir)
		require.Len(t, paths, 1)
		assert.Equal(t, ".wav", filepath.Ext(paths[0]))
		info, err := os.Stat(paths[0])
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	})

	t.Run("unreachable overlay skipped", func(t *testing.T) {
		paths, dir, err := FetchOverlays(context.Background(), []string{srv.URL + "/missing.wav", srv.URL + "/pads/dreamy.wav"})
		require.NoError(t, err)
		defer os.RemoveAll(dir)
		require.Len(t, paths, 2)
		assert.Empty(t, paths[0])
		assert.NotEmpty(t, paths[1])
	})

	t.Run("empty body rejected", func(t *testing.T) {
		_, _, err := FetchOverlays(context.Background(), []string{srv.URL + "/empty.wav"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty download")
	})

	t.Run("non-http skipped", func(t *testing.T) {
		paths, dir, err := FetchOverlays(context.Background(), []string{"file:///etc/passwd"})
		require.NoError(t, err)
		defer os.RemoveAll(dir)
		require.Len(t, paths, 1)
		assert.Empty(t, paths[0])
	})
}

func TestBuildFilter(t *testing.T) {
	base := MixSpec{CrossfadeSec: 16, Loudnorm: true}
	f := buildFilter(base)
	assert.Contains(t, f, "acrossfade=d=16:curve1=hsin:curve2=hsin")
	assert.Contains(t, f, "loudnorm=I=-16[out]")
	assert.NotContains(t, f, "highpass")

	withHP := base
	withHP.HighpassA = true
	assert.Contains(t, buildFilter(withHP), "[0:a]highpass=f=80[ahp]")

	noNorm := base
	noNorm.Loudnorm = false
	assert.Contains(t, buildFilter(noNorm), "anull[out]")

	withOv := base
	withOv.Overlays = []Overlay{{Path: "x.wav", Ratio: 1.25, DelayMs: 64000}}
	f = buildFilter(withOv)
	assert.Contains(t, f, "[2:a]atempo=1.25,adelay=64000|64000[ov0]")
	assert.Contains(t, f, "amix=inputs=2:duration=first:dropout_transition=2")
}
