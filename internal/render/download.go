// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package render

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	xlog "github.com/opusai/opusmix/internal/log"
)

const downloadTimeout = 30 * time.Second

// FetchOverlays downloads cloud overlay URLs into a fresh temp directory.
// The result is index-aligned with urls; an unreachable overlay leaves an
// empty entry and the segment renders without it. A download that succeeds
// but arrives empty is a hard failure, since the asset index is then lying
// about the asset. The caller owns the returned directory and must remove it
// after the render.
func FetchOverlays(ctx context.Context, urls []string) (paths []string, dir string, err error) {
	logger := xlog.WithComponentFromContext(ctx, "render")

	dir, err = os.MkdirTemp("", "opusmix_cloud_")
	if err != nil {
		return nil, "", fmt.Errorf("cloud overlay temp dir: %w", err)
	}
	defer func() {
		if err != nil {
			os.RemoveAll(dir)
		}
	}()

	client := &http.Client{Timeout: downloadTimeout}
	paths = make([]string, len(urls))
	for i, raw := range urls {
		raw = strings.TrimSpace(raw)
		if !strings.HasPrefix(raw, "http") {
			continue
		}
		dest := filepath.Join(dir, fmt.Sprintf("cloud_%d%s", i, urlExt(raw)))
		if ferr := fetchOne(ctx, client, raw, dest); ferr != nil {
			logger.Warn().Err(ferr).Msg("cloud overlay unavailable, rendering without it")
			continue
		}
		info, statErr := os.Stat(dest)
		if statErr != nil || info.Size() == 0 {
			err = fmt.Errorf("cloud overlay %s: empty download", raw)
			return nil, "", err
		}
		paths[i] = dest
	}
	return paths, dir, nil
}

func fetchOne(ctx context.Context, client *http.Client, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("cloud overlay %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", "OpusAI/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("cloud overlay %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cloud overlay %s: status %d", rawURL, resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("cloud overlay %s: %w", rawURL, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return fmt.Errorf("cloud overlay %s: %w", rawURL, err)
	}
	return f.Close()
}

// urlExt extracts the audio extension from the URL path, defaulting to .wav.
func urlExt(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ".wav"
	}
	switch ext := strings.ToLower(path.Ext(u.Path)); ext {
	case ".wav", ".mp3", ".flac", ".ogg", ".m4a":
		return ext
	default:
		return ".wav"
	}
}
