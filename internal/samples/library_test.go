// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package samples

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSample(t *testing.T, dir, category, name string) string {
	t.Helper()
	p := filepath.Join(dir, category, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("fake audio"), 0o644))
	return p
}

// fixedAnalyze returns canned metadata per filename.
func fixedAnalyze(meta map[string]Metadata) AnalyzeFunc {
	return func(_ context.Context, path string) Metadata {
		if m, ok := meta[filepath.Base(path)]; ok {
			return m
		}
		return fallbackMetadata()
	}
}

func TestListFiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	writeSample(t, dir, "percussion", "b.wav")
	writeSample(t, dir, "percussion", "a.mp3")
	writeSample(t, dir, "percussion", "notes.txt")

	l := NewLibrary(dir, nil, nil)
	got := l.List("percussion")
	require.Len(t, got, 2)
	assert.Equal(t, "a.mp3", filepath.Base(got[0]))
	assert.Equal(t, "b.wav", filepath.Base(got[1]))

	assert.Nil(t, l.List("drums"), "unknown category")
	assert.Nil(t, l.List("vocals"), "missing directory")
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	p := writeSample(t, dir, "vocals", "choir.wav")

	l := NewLibrary(dir, nil, nil)
	assert.Equal(t, p, l.Resolve("choir.wav"))
	// Path components are stripped to stop traversal out of the library.
	assert.Equal(t, p, l.Resolve("../../vocals/choir.wav"))
	assert.Empty(t, l.Resolve("missing.wav"))
}

func TestCompatibleFiltersBPMAndKey(t *testing.T) {
	dir := t.TempDir()
	writeSample(t, dir, "instruments", "close.wav")
	writeSample(t, dir, "instruments", "far_bpm.wav")
	writeSample(t, dir, "instruments", "far_key.wav")
	writeSample(t, dir, "vocals", "voice.wav")

	l := NewLibrary(dir, nil, fixedAnalyze(map[string]Metadata{
		"close.wav":   {BPM: 126, KeyCamelot: "8A"},
		"far_bpm.wav": {BPM: 150, KeyCamelot: "8A"},
		"far_key.wav": {BPM: 126, KeyCamelot: "3A"},
		"voice.wav":   {BPM: 124, KeyCamelot: "9A"},
	}))

	got := l.Compatible(context.Background(), 125, "8A",
		[]string{"instruments", "vocals"}, DefaultBPMTolerance, DefaultMaxCamelotDistance)
	require.Len(t, got, 2)
	assert.Equal(t, "close.wav", got[0].Name())
	assert.Equal(t, "instruments", got[0].Category)
	assert.Equal(t, "voice.wav", got[1].Name())
	assert.Equal(t, "vocals", got[1].Category)
}

func TestCompatibleIgnoresUnrequestedCategories(t *testing.T) {
	dir := t.TempDir()
	writeSample(t, dir, "percussion", "kick.wav")
	l := NewLibrary(dir, nil, fixedAnalyze(map[string]Metadata{
		"kick.wav": {BPM: 120, KeyCamelot: "8A"},
	}))
	got := l.Compatible(context.Background(), 120, "8A", []string{"vocals"}, 5, 1)
	assert.Empty(t, got)
}

func TestMetadataUsesCache(t *testing.T) {
	dir := t.TempDir()
	p := writeSample(t, dir, "instruments", "keys.wav")

	cache, err := OpenCache(filepath.Join(t.TempDir(), "samples.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	calls := 0
	l := NewLibrary(dir, cache, func(_ context.Context, _ string) Metadata {
		calls++
		return Metadata{BPM: 98.7, KeyTonic: "F", KeyScale: "minor", KeyCamelot: "4B"}
	})

	ctx := context.Background()
	first := l.Metadata(ctx, p)
	second := l.Metadata(ctx, p)
	assert.Equal(t, 1, calls, "second read must come from the cache")
	assert.Equal(t, first, second)
	assert.Equal(t, 98.7, second.BPM)
	assert.Equal(t, "4B", second.KeyCamelot)
}

func TestMetadataFallbackWithoutAnalyzer(t *testing.T) {
	dir := t.TempDir()
	p := writeSample(t, dir, "percussion", "loop.wav")
	l := NewLibrary(dir, nil, nil)
	m := l.Metadata(context.Background(), p)
	assert.Equal(t, 120.0, m.BPM)
	assert.Equal(t, "8A", m.KeyCamelot)
}

func TestCacheInvalidatesOnMtimeChange(t *testing.T) {
	cache, err := OpenCache(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "/s/a.wav", 100, Metadata{BPM: 120, KeyCamelot: "8A"}))
	_, ok, err := cache.Get(ctx, "/s/a.wav", 100)
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = cache.Get(ctx, "/s/a.wav", 200)
	require.NoError(t, err)
	assert.False(t, ok, "stale mtime must miss")
}
