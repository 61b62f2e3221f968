// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package session manages the per-session working directories: uploads in,
// rendered artifacts out, nothing durable. Directories are scoped by an
// opaque id so parallel sessions cannot collide.
package session

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	xlog "github.com/opusai/opusmix/internal/log"
)

// streamChunkSize is the read granularity for artifact downloads.
const streamChunkSize = 1 << 20

// ErrTooLarge is returned when an upload exceeds the configured cap.
var ErrTooLarge = errors.New("upload exceeds size limit")

// ErrNotFound is returned for artifacts or sessions that have no directory.
var ErrNotFound = errors.New("session artifact not found")

// allowedExts is the upload extension whitelist. Anything else is stored as
// .wav and left for ffmpeg to sort out.
var allowedExts = map[string]bool{
	".wav": true, ".mp3": true, ".flac": true, ".ogg": true, ".m4a": true,
}

// Manager owns the session root directory.
type Manager struct {
	root     string
	maxBytes int64
	logger   zerolog.Logger
}

// NewManager returns a manager storing sessions under root with the given
// per-file upload cap in bytes.
func NewManager(root string, maxBytes int64) *Manager {
	return &Manager{
		root:     root,
		maxBytes: maxBytes,
		logger:   xlog.WithComponent("session"),
	}
}

// Create returns a new opaque session id. No directory is created until the
// first upload arrives.
func (m *Manager) Create() string {
	return uuid.NewString()
}

// Dir returns the directory for a session id. The directory may not exist.
func (m *Manager) Dir(id string) string {
	return filepath.Join(m.root, filepath.Base(id))
}

// AcceptUpload stores one named track as song_<label>.<ext>, creating the
// session directory on first use. Reads beyond the size cap abort with
// ErrTooLarge and remove the partial file.
func (m *Manager) AcceptUpload(id, label, filename string, r io.Reader) (string, error) {
	return m.save(id, "song_"+sanitizeLabel(label)+safeExt(filename), r)
}

// SaveTrack stores one track of a folder upload as track_<i>.<ext>.
func (m *Manager) SaveTrack(id string, index int, filename string, r io.Reader) (string, error) {
	return m.save(id, fmt.Sprintf("track_%d%s", index, safeExt(filename)), r)
}

func (m *Manager) save(id, name string, r io.Reader) (string, error) {
	dir := m.Dir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("session dir: %w", err)
	}

	dest := filepath.Join(dir, name)
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("session upload: %w", err)
	}

	// Read one byte past the cap to distinguish "exactly at" from "over".
	n, err := io.Copy(f, io.LimitReader(r, m.maxBytes+1))
	closeErr := f.Close()
	if err == nil && closeErr != nil {
		err = closeErr
	}
	if err == nil && n > m.maxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(dest)
		return "", err
	}

	m.logger.Debug().
		Str(xlog.FieldSessionID, id).
		Str(xlog.FieldPath, name).
		Int64("bytes", n).
		Msg("track stored")
	return dest, nil
}

// TrackPaths lists the audio files of a session in name order.
func (m *Manager) TrackPaths(id string) ([]string, error) {
	entries, err := os.ReadDir(m.Dir(id))
	if err != nil {
		return nil, ErrNotFound
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if allowedExts[strings.ToLower(filepath.Ext(e.Name()))] {
			paths = append(paths, filepath.Join(m.Dir(id), e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// StreamArtifact copies a session artifact to w in ~1 MiB chunks. After a
// complete stream the whole session directory is deleted; after a partial
// one it is kept so the client can retry.
func (m *Manager) StreamArtifact(id, path string, w io.Writer) error {
	if !strings.HasPrefix(filepath.Clean(path), m.Dir(id)) {
		return ErrNotFound
	}
	f, err := os.Open(path)
	if err != nil {
		return ErrNotFound
	}

	buf := make([]byte, streamChunkSize)
	_, err = io.CopyBuffer(w, f, buf)
	f.Close()
	if err != nil {
		m.logger.Warn().Err(err).
			Str(xlog.FieldSessionID, id).
			Msg("artifact stream interrupted, keeping session dir")
		return err
	}

	m.Delete(id)
	return nil
}

// Delete removes the session directory and everything in it.
func (m *Manager) Delete(id string) {
	if err := os.RemoveAll(m.Dir(id)); err != nil {
		m.logger.Warn().Err(err).Str(xlog.FieldSessionID, id).Msg("session dir removal failed")
		return
	}
	m.logger.Info().Str(xlog.FieldSessionID, id).Msg("session dir removed")
}

// ReapAbandoned removes every session directory whose id the provided
// predicate no longer recognizes. Returns the ids removed.
func (m *Manager) ReapAbandoned(alive func(id string) bool) []string {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil
	}
	var removed []string
	for _, e := range entries {
		if !e.IsDir() || alive(e.Name()) {
			continue
		}
		m.Delete(e.Name())
		removed = append(removed, e.Name())
	}
	return removed
}

// safeExt returns the whitelisted extension of filename, or ".wav".
func safeExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if allowedExts[ext] {
		return ext
	}
	return ".wav"
}

// sanitizeLabel keeps labels path-safe.
func sanitizeLabel(label string) string {
	label = filepath.Base(strings.TrimSpace(label))
	if label == "" || label == "." || label == string(filepath.Separator) {
		return "x"
	}
	return label
}
