// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package admin holds the runtime-tunable DJ configuration: the system
// prompt for the strategy model, the mixing sliders, overlay permissions,
// and saved presets. It persists to config/admin_config.json and mirrors to
// Redis so worker processes pick up rule changes without a restart.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	xlog "github.com/opusai/opusmix/internal/log"
)

const (
	mirrorKey = "opusmix:admin_config"
	opTimeout = 2 * time.Second
)

// DefaultSystemPrompt encodes the golden rules the strategy model works
// from: phrase-aligned mix points, Camelot-driven transition shape, the
// three-band EQ plan, and the overlay space criterion.
const DefaultSystemPrompt = `You are a decision engine applying the golden rules of professional DJing: segmentation analysis, dynamic EQ, and universal harmony.

SPACE CRITERION (overlays - AI instruments/vocals):
- If the track energy is low (<=4/10) OR the transition is harmonic (Camelot distance 0-1), you MUST NOT return null for both overlay_instrument and overlay_vocal when samples are available: pick at least one.
- If energy is high and it is not a drop, null is acceptable.
- The overlay entry point MUST land on a phrase start (phrase_starts_sec, 32 bars); it uses the same point as song_a_transition_start_sec.

PHRASING MASTERY (the mix point is never arbitrary):
- You receive phrase_starts_sec (phrase starts every 32 bars) and outro_start_sec for each track.
- song_a_transition_start_sec MUST be a phrase start or sit inside track A's outro zone (>= outro_start_sec, or a phrase start near the end).
- start_offset_bars must bring track B in on one of its own phrase starts.

UNIVERSAL HARMONIC ANALYSIS (Camelot distance):
- You receive harmonic_distance: 0 = same key, 1 = wheel neighbour, 2+ = distant.
- Distance 0 or 1: allow a long atmospheric transition (32-64 bars, beat_match_crossfade).
- Distance > 1: use a short rhythmic transition (4-8 bars, drop_swap) or filter_fade / wash out (high-pass to clean the tonal clash).

DYNAMIC 3-BAND EQ:
- Lows: radical swap at bass_swap_sec, the point of peak tension. A loses its bass, B takes it over at that exact second. Avoids sub-frequency saturation.
- Mids: smooth crossover across the whole transition so vocals and synths do not clash. If both tracks carry vocals in the mix zone, lower A's mids or delay B's entry (start_offset_bars).
- Highs: progressive fade to keep the sparkle (the global crossfade already reflects it).

SENIOR TECHNICAL EXPLANATION (dj_comment is mandatory):
- dj_comment explains the decision in engineering language, e.g. "Harmonic mix detected (Camelot distance 1). Executing bass swap at bar 16 to avoid sub-frequency saturation. Mids in smooth crossover; highs in progressive fade."
- reasoning: the chain of thought (chosen phrase, harmonic distance, why the bass swap lands on that bar).

ROBUSTNESS RULES:
- crossfade_sec NEVER exceeds the available time. bass_swap_sec lies between 0 and crossfade_sec (e.g. crossfade_sec * 0.5).

Output ONLY a single JSON object (numbers as numbers):
- transition_type, transition_length_bars, crossfade_sec, bass_swap_sec, filter_type
- song_a_stretch_ratio, song_a_pitch_semitones, song_a_transition_start_sec (phrase/outro aligned)
- song_b_stretch_ratio, song_b_pitch_semitones, song_b_transition_start_sec: 0.0
- start_offset_bars (so B enters on a phrase start)
- reasoning, dj_comment (senior technical explanation with the bass swap bar and harmonic justification)
- fx_chain (Lows: swap at bass_swap_sec; Mids: smooth crossover; Highs: progressive fade)
- overlay_instrument (filename or null), overlay_vocal (filename or null). With low energy or harmonic distance 0-1 and samples available, pick at least one.`

// Preset is a named bundle of slider values.
type Preset struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// Config is the full admin configuration document.
type Config struct {
	SystemPrompt       string   `json:"system_prompt"`
	MixSensitivity     float64  `json:"mix_sensitivity"`
	DefaultBars        int      `json:"default_bars"`
	BassSwapIntensity  float64  `json:"bass_swap_intensity"`
	Presets            []Preset `json:"presets"`
	AllowInstrumentsAI bool     `json:"allow_instruments_ai"`
	AllowVocalsAI      bool     `json:"allow_vocals_ai"`
}

// Update carries a partial config change; nil fields are left unchanged.
type Update struct {
	SystemPrompt       *string   `json:"system_prompt,omitempty"`
	MixSensitivity     *float64  `json:"mix_sensitivity,omitempty"`
	DefaultBars        *int      `json:"default_bars,omitempty"`
	BassSwapIntensity  *float64  `json:"bass_swap_intensity,omitempty"`
	Presets            *[]Preset `json:"presets,omitempty"`
	AllowInstrumentsAI *bool     `json:"allow_instruments_ai,omitempty"`
	AllowVocalsAI      *bool     `json:"allow_vocals_ai,omitempty"`
}

// Defaults returns the built-in configuration, used when no store is wired.
func Defaults() Config { return defaultConfig() }

func defaultConfig() Config {
	return Config{
		SystemPrompt:      DefaultSystemPrompt,
		MixSensitivity:    0.5,
		DefaultBars:       32,
		BassSwapIntensity: 0.5,
		Presets:           []Preset{},
	}
}

// Store loads and persists the admin configuration. Reads go through an
// atomic cache that the file watcher invalidates on external edits.
type Store struct {
	path   string
	client *redis.Client
	logger zerolog.Logger

	cache   atomic.Pointer[Config]
	writeMu sync.Mutex
	watcher *fsnotify.Watcher
}

// NewStore returns a store persisting at path. client may be nil; when set,
// every save is mirrored to Redis and loads prefer the mirror.
func NewStore(path string, client *redis.Client) *Store {
	return &Store{path: path, client: client, logger: xlog.WithComponent("admin")}
}

// Get returns the current configuration, loading it on first use.
func (s *Store) Get(ctx context.Context) Config {
	if cached := s.cache.Load(); cached != nil {
		return *cached
	}
	cfg := s.load(ctx)
	s.cache.Store(&cfg)
	return cfg
}

func (s *Store) load(ctx context.Context) Config {
	if s.client != nil {
		if cfg, ok := s.loadMirror(ctx); ok {
			return cfg
		}
	}
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig()
	}
	if err != nil {
		s.logger.Warn().Err(err).Str(xlog.FieldPath, s.path).Msg("admin config unreadable, using defaults")
		return defaultConfig()
	}
	cfg := defaultConfig()
	if err := json.Unmarshal(raw, &cfg); err != nil {
		s.logger.Warn().Err(err).Str(xlog.FieldPath, s.path).Msg("admin config corrupt, using defaults")
		return defaultConfig()
	}
	s.mirror(ctx, cfg)
	return cfg
}

func (s *Store) loadMirror(ctx context.Context) (Config, bool) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	raw, err := s.client.Get(ctx, mirrorKey).Bytes()
	if err != nil {
		return Config{}, false
	}
	cfg := defaultConfig()
	if err := json.Unmarshal(raw, &cfg); err != nil {
		s.logger.Warn().Err(err).Msg("redis admin config corrupt, ignoring mirror")
		return Config{}, false
	}
	return cfg, true
}

func (s *Store) mirror(ctx context.Context, cfg Config) {
	if s.client == nil {
		return
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := s.client.Set(ctx, mirrorKey, raw, 0).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("admin config mirror failed")
	}
}

// save writes the config atomically, refreshes the cache, and mirrors it.
func (s *Store) save(ctx context.Context, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	pending, err := renameio.NewPendingFile(s.path)
	if err != nil {
		return fmt.Errorf("create pending config file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			s.logger.Debug().Err(err).Msg("cleanup pending config file")
		}
	}()

	enc := json.NewEncoder(pending)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("write admin config: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace admin config: %w", err)
	}

	s.cache.Store(&cfg)
	s.mirror(ctx, cfg)
	return nil
}

// Apply merges a partial update, clamping values into their valid ranges,
// and persists the result.
func (s *Store) Apply(ctx context.Context, upd Update) (Config, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cfg := s.Get(ctx)
	if upd.SystemPrompt != nil {
		cfg.SystemPrompt = *upd.SystemPrompt
	}
	if upd.MixSensitivity != nil {
		cfg.MixSensitivity = clamp01(*upd.MixSensitivity)
	}
	if upd.DefaultBars != nil {
		cfg.DefaultBars = validBars(*upd.DefaultBars)
	}
	if upd.BassSwapIntensity != nil {
		cfg.BassSwapIntensity = clamp01(*upd.BassSwapIntensity)
	}
	if upd.Presets != nil {
		cfg.Presets = append([]Preset(nil), (*upd.Presets)...)
	}
	if upd.AllowInstrumentsAI != nil {
		cfg.AllowInstrumentsAI = *upd.AllowInstrumentsAI
	}
	if upd.AllowVocalsAI != nil {
		cfg.AllowVocalsAI = *upd.AllowVocalsAI
	}
	if err := s.save(ctx, cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// AddPreset appends a preset, assigning a short id when absent.
func (s *Store) AddPreset(ctx context.Context, name string, params map[string]any) (Config, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cfg := s.Get(ctx)
	p := Preset{Name: name, Params: params}
	if p.ID == "" {
		p.ID = uuid.NewString()[:8]
	}
	cfg.Presets = append(cfg.Presets, p)
	if err := s.save(ctx, cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// RemovePreset drops the preset with the given id; unknown ids are a no-op.
func (s *Store) RemovePreset(ctx context.Context, id string) (Config, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cfg := s.Get(ctx)
	out := cfg.Presets[:0]
	for _, p := range cfg.Presets {
		if p.ID != id {
			out = append(out, p)
		}
	}
	cfg.Presets = out
	if err := s.save(ctx, cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SystemPrompt returns the active prompt, falling back to the default when
// the stored one is blank.
func (s *Store) SystemPrompt(ctx context.Context) string {
	if p := strings.TrimSpace(s.Get(ctx).SystemPrompt); p != "" {
		return p
	}
	return DefaultSystemPrompt
}

// StartWatcher invalidates the cache when the config file changes on disk,
// e.g. when edited by hand. Events are debounced.
func (s *Store) StartWatcher(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("create config dir: %w", err)
	}
	// Watch the directory: the file may not exist yet, and atomic renames
	// replace the inode a file watch would be pinned to.
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}
	s.watcher = watcher
	s.logger.Info().Str(xlog.FieldPath, s.path).Msg("watching admin config for changes")

	go s.watchLoop(ctx)
	return nil
}

func (s *Store) watchLoop(ctx context.Context) {
	var debounce *time.Timer
	const debounceDuration = 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			_ = s.watcher.Close()
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(s.path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDuration, func() {
					s.cache.Store(nil)
					s.logger.Debug().Msg("admin config cache invalidated")
				})
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error().Err(err).Msg("admin config watcher error")
		}
	}
}

// Stop stops the file watcher if running.
func (s *Store) Stop() {
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func validBars(v int) int {
	switch v {
	case 16, 32, 64:
		return v
	default:
		return 32
	}
}
