// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config loads the runtime configuration from OPUSMIX_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config holds the resolved runtime configuration for the daemon and workers.
type Config struct {
	Listen      string // HTTP listen address
	BaseDir     string // base directory for durable files (admin config)
	SessionRoot string // root directory for per-session temp directories
	SamplesDir  string // local sample library (instruments/vocals/percussion)
	CloudIndex  string // path to the cloud sample index JSON (optional)

	RedisURL string // distributed store; empty selects in-process backends

	OpenAIAPIKey  string // empty selects the deterministic heuristic path
	OpenAIBaseURL string
	DecisionModel string

	DefaultSampleRate int
	MaxUploadMB       int

	BrainWorkers int
	AudioWorkers int

	LogLevel string
}

// FromEnv resolves the configuration from the environment.
func FromEnv() Config {
	base := ParseString("OPUSMIX_BASE_DIR", ".")
	return Config{
		Listen:            ParseString("OPUSMIX_LISTEN", ":8080"),
		BaseDir:           base,
		SessionRoot:       ParseString("OPUSMIX_SESSION_ROOT", filepath.Join(os.TempDir(), "opusmix_sessions")),
		SamplesDir:        ParseString("OPUSMIX_SAMPLES_DIR", filepath.Join(base, "assets", "samples")),
		CloudIndex:        ParseString("OPUSMIX_CLOUD_INDEX", filepath.Join(base, "assets", "cloud_assets.json")),
		RedisURL:          ParseString("OPUSMIX_REDIS_URL", ""),
		OpenAIAPIKey:      ParseString("OPUSMIX_OPENAI_API_KEY", ""),
		OpenAIBaseURL:     ParseString("OPUSMIX_OPENAI_BASE_URL", "https://api.openai.com/v1"),
		DecisionModel:     ParseString("OPUSMIX_DECISION_MODEL", "gpt-4o-mini"),
		DefaultSampleRate: ParseInt("OPUSMIX_DEFAULT_SR", 44100),
		MaxUploadMB:       ParseInt("OPUSMIX_MAX_UPLOAD_MB", 100),
		BrainWorkers:      ParseInt("OPUSMIX_BRAIN_WORKERS", 2),
		AudioWorkers:      ParseInt("OPUSMIX_AUDIO_WORKERS", 4),
		LogLevel:          ParseString("OPUSMIX_LOG_LEVEL", "info"),
	}
}

// Validate checks invariants that would otherwise surface late at runtime.
func (c Config) Validate() error {
	if c.DefaultSampleRate <= 0 {
		return fmt.Errorf("default sample rate must be positive, got %d", c.DefaultSampleRate)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("max upload size must be positive, got %d MB", c.MaxUploadMB)
	}
	if c.BrainWorkers < 1 || c.AudioWorkers < 1 {
		return fmt.Errorf("worker counts must be at least 1 (brain=%d audio=%d)", c.BrainWorkers, c.AudioWorkers)
	}
	return nil
}

// MaxUploadBytes returns the upload cap in bytes.
func (c Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// AdminConfigPath returns the durable location of the admin config JSON.
func (c Config) AdminConfigPath() string {
	return filepath.Join(c.BaseDir, "config", "admin_config.json")
}
