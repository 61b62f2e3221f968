// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarsToSeconds(t *testing.T) {
	assert.InDelta(t, 60.0, BarsToSeconds(128, 32), 1e-9)
	assert.InDelta(t, 8.0, BarsToSeconds(120, 4), 1e-9)
	assert.Equal(t, 0.0, BarsToSeconds(0, 8))
	assert.Equal(t, 0.0, BarsToSeconds(-120, 8))
	assert.Equal(t, 0.0, BarsToSeconds(120, 0))
}

func TestBarsToSecondsRoundTrip(t *testing.T) {
	for _, bpm := range []float64{90, 120, 128, 140, 174} {
		for _, bars := range []int{4, 8, 16, 32, 64} {
			sec := BarsToSeconds(bpm, bars)
			assert.InDelta(t, float64(bars), sec*bpm/240, 1e-9, "bpm=%v bars=%d", bpm, bars)
		}
	}
}

func TestPhraseStartsGrid(t *testing.T) {
	// 120 BPM: bar = 2s, phrase = 64s.
	starts, outro := PhraseStarts(120, 300)
	require.Equal(t, []float64{0, 64, 128, 192, 256}, starts)
	// Outro: 300 - min(128, 75) = 225.
	assert.InDelta(t, 225, outro, 0.01)
}

func TestPhraseStartsShortTrack(t *testing.T) {
	// A track shorter than one phrase still gets a start at 0.
	starts, outro := PhraseStarts(120, 30)
	assert.Equal(t, []float64{0}, starts)
	assert.InDelta(t, 22.5, outro, 0.01)
}

func TestPhraseStartsDegenerate(t *testing.T) {
	starts, outro := PhraseStarts(0, 200)
	assert.Equal(t, []float64{0}, starts)
	assert.InDelta(t, 140, outro, 0.01)

	starts, outro = PhraseStarts(0, 30)
	assert.Equal(t, []float64{0}, starts)
	assert.Equal(t, 0.0, outro)
}

func TestNearestPhraseStart(t *testing.T) {
	starts := []float64{0, 64, 128}
	got, ok := NearestPhraseStart(starts, 70)
	require.True(t, ok)
	assert.Equal(t, 64.0, got)

	got, ok = NearestPhraseStart(starts, 100)
	require.True(t, ok)
	assert.Equal(t, 128.0, got)

	_, ok = NearestPhraseStart(nil, 10)
	assert.False(t, ok)
}
