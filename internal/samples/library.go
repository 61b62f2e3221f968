// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package samples manages the overlay material the strategy engine may lay
// over a transition: local files under assets/samples/{percussion,
// instruments,vocals} and a cloud index of downloadable URLs. Both are
// filtered by BPM tolerance and Camelot distance against the current mix.
package samples

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/opusai/opusmix/internal/harmony"
	xlog "github.com/opusai/opusmix/internal/log"
)

// Categories is the closed set of sample categories, in scan order.
var Categories = []string{"percussion", "instruments", "vocals"}

var audioExt = map[string]bool{
	".wav": true, ".mp3": true, ".flac": true, ".ogg": true, ".m4a": true,
}

// Defaults for compatibility filtering.
const (
	DefaultBPMTolerance       = 5.0
	DefaultMaxCamelotDistance = 1
)

// Sample is one local overlay candidate with its metadata resolved.
type Sample struct {
	Path     string   `json:"path"`
	Category string   `json:"category"`
	Metadata Metadata `json:"metadata"`
}

// Name returns the bare filename, which is how strategies reference local
// samples.
func (s Sample) Name() string { return filepath.Base(s.Path) }

// AnalyzeFunc computes metadata for a sample file on a cache miss.
type AnalyzeFunc func(ctx context.Context, path string) Metadata

// Library scans the samples directory and answers compatibility queries.
type Library struct {
	dir     string
	cache   *Cache
	analyze AnalyzeFunc
	logger  zerolog.Logger
}

// NewLibrary returns a library over dir. cache may be nil to disable
// caching; analyze may be nil, in which case unanalyzed samples get the
// fallback metadata.
func NewLibrary(dir string, cache *Cache, analyze AnalyzeFunc) *Library {
	return &Library{dir: dir, cache: cache, analyze: analyze, logger: xlog.WithComponent("samples")}
}

// fallbackMetadata is used when a sample cannot be analyzed. 8A sits in the
// middle of the wheel's popular range, so the sample stays reachable.
func fallbackMetadata() Metadata {
	return Metadata{BPM: 120, KeyTonic: "C", KeyScale: "major", KeyCamelot: "8A"}
}

// List returns the audio files in one category, sorted by name.
func (l *Library) List(category string) []string {
	if !validCategory(category) {
		return nil
	}
	entries, err := os.ReadDir(filepath.Join(l.dir, category))
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !audioExt[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		out = append(out, filepath.Join(l.dir, category, e.Name()))
	}
	sort.Strings(out)
	return out
}

// Resolve returns the absolute path of a sample referenced by bare filename,
// searching all categories. The empty string means not found.
func (l *Library) Resolve(name string) string {
	name = filepath.Base(name)
	for _, cat := range Categories {
		p := filepath.Join(l.dir, cat, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Metadata returns the BPM and key of one sample, reading the cache first
// and analyzing on a miss.
func (l *Library) Metadata(ctx context.Context, path string) Metadata {
	info, err := os.Stat(path)
	if err != nil {
		return fallbackMetadata()
	}
	mtime := info.ModTime().Unix()

	if l.cache != nil {
		if m, ok, err := l.cache.Get(ctx, path, mtime); err == nil && ok {
			return m
		}
	}

	m := fallbackMetadata()
	if l.analyze != nil {
		m = l.analyze(ctx, path)
		m.BPM = math.Round(m.BPM*10) / 10
	}
	if l.cache != nil {
		if err := l.cache.Put(ctx, path, mtime, m); err != nil {
			l.logger.Warn().Err(err).Str(xlog.FieldPath, path).Msg("sample cache write failed")
		}
	}
	return m
}

// Compatible returns the samples in the given categories whose BPM lies
// within tolerance of the mix BPM and whose key sits within maxDistance on
// the Camelot wheel. Results keep category scan order, then name order, so
// selection is deterministic.
func (l *Library) Compatible(ctx context.Context, bpm float64, keyCamelot string, categories []string, tolerance float64, maxDistance int) []Sample {
	keyCamelot = normalizeKey(keyCamelot)
	bpmMin := math.Max(1, bpm-tolerance)
	bpmMax := bpm + tolerance

	var out []Sample
	for _, cat := range Categories {
		if !contains(categories, cat) {
			continue
		}
		for _, path := range l.List(cat) {
			m := l.Metadata(ctx, path)
			if m.BPM < bpmMin || m.BPM > bpmMax {
				continue
			}
			if harmony.Distance(m.KeyCamelot, keyCamelot) > maxDistance {
				continue
			}
			out = append(out, Sample{Path: path, Category: cat, Metadata: m})
		}
	}
	return out
}

func normalizeKey(key string) string {
	key = strings.ToUpper(strings.TrimSpace(key))
	if key == "" {
		return "8A"
	}
	return key
}

func validCategory(cat string) bool { return contains(Categories, cat) }

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
