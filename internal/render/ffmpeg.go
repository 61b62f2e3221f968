// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package render

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	xlog "github.com/opusai/opusmix/internal/log"
)

// ErrLoudnorm marks a mix failure attributable to the loudness normalization
// stage. The renderer retries such failures without normalization instead of
// failing the whole set.
var ErrLoudnorm = errors.New("loudnorm stage failed")

// FFmpegEngine shells out to ffmpeg, ffprobe and rubberband.
type FFmpegEngine struct {
	FFmpeg     string
	FFprobe    string
	Rubberband string
}

// NewFFmpegEngine returns an engine using the binaries from PATH.
func NewFFmpegEngine() *FFmpegEngine {
	return &FFmpegEngine{FFmpeg: "ffmpeg", FFprobe: "ffprobe", Rubberband: "rubberband"}
}

func (e *FFmpegEngine) Probe(ctx context.Context, path string) (float64, error) {
	out, err := exec.CommandContext(ctx, e.FFprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", filepath.Base(path), err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: parse duration: %w", filepath.Base(path), err)
	}
	return d, nil
}

func (e *FFmpegEngine) Stretch(ctx context.Context, input, output string, ratio, pitch float64) error {
	cmd := exec.CommandContext(ctx, e.Rubberband,
		"-t", formatFloat(ratio),
		"-p", formatFloat(pitch),
		input, output,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("rubberband %s: %w: %s", filepath.Base(input), err, truncate(stderr.String()))
	}
	return nil
}

func (e *FFmpegEngine) Transcode(ctx context.Context, input, output string) error {
	return e.runFFmpeg(ctx, "-y", "-i", input, "-acodec", "pcm_s16le", output)
}

func (e *FFmpegEngine) Mix(ctx context.Context, spec MixSpec) error {
	args := []string{"-y"}
	for _, p := range append([]string{spec.PathA, spec.PathB}, overlayPaths(spec.Overlays)...) {
		args = append(args, "-i", p)
	}
	args = append(args,
		"-filter_complex", buildFilter(spec),
		"-map", "[out]",
		"-acodec", "pcm_s16le",
		spec.Output,
	)

	err := e.runFFmpeg(ctx, args...)
	if err != nil && spec.Loudnorm && strings.Contains(err.Error(), "loudnorm") {
		return fmt.Errorf("%w: %s", ErrLoudnorm, err)
	}
	return err
}

// Concat uses the concat demuxer with stream copy: no re-encode, segments
// are byte-joined at the container level.
func (e *FFmpegEngine) Concat(ctx context.Context, inputs []string, output string) error {
	if len(inputs) == 0 {
		return errors.New("concat: no inputs")
	}
	list, err := os.CreateTemp(filepath.Dir(output), "concat_*.txt")
	if err != nil {
		return fmt.Errorf("concat list: %w", err)
	}
	defer os.Remove(list.Name())
	for _, p := range inputs {
		fmt.Fprintf(list, "file '%s'\n", strings.ReplaceAll(p, "'", `'\''`))
	}
	if err := list.Close(); err != nil {
		return fmt.Errorf("concat list: %w", err)
	}

	return e.runFFmpeg(ctx,
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", list.Name(),
		"-c", "copy",
		output,
	)
}

// DecodeMono decodes any ffmpeg-readable file to mono float samples at the
// given rate. This satisfies the analysis decoder contract for formats the
// native WAV/MP3 readers do not cover.
func (e *FFmpegEngine) DecodeMono(ctx context.Context, path string, sampleRate int) ([]float64, error) {
	cmd := exec.CommandContext(ctx, e.FFmpeg,
		"-v", "error",
		"-i", path,
		"-f", "s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg decode %s: %w: %s", filepath.Base(path), err, truncate(stderr.String()))
	}

	raw := stdout.Bytes()
	samples := make([]float64, len(raw)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(raw[2*i:]))
		samples[i] = float64(v) / math.MaxInt16
	}
	return samples, nil
}

func (e *FFmpegEngine) runFFmpeg(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, e.FFmpeg, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	logger := xlog.WithComponentFromContext(ctx, "render")
	logger.Debug().
		Strs("args", args).
		Msg("running ffmpeg")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, truncate(stderr.String()))
	}
	return nil
}

// buildFilter assembles the filter graph: highpass wash-out on A when keys
// clash, half-sine crossfade, one atempo+adelay+amix stage per overlay, and
// an optional loudnorm tail.
func buildFilter(spec MixSpec) string {
	across := fmt.Sprintf("acrossfade=d=%s:curve1=hsin:curve2=hsin", formatFloat(spec.CrossfadeSec))

	var stages []string
	if spec.HighpassA {
		stages = append(stages, "[0:a]highpass=f=80[ahp]", "[ahp][1:a]"+across+"[mix0]")
	} else {
		stages = append(stages, "[0:a][1:a]"+across+"[mix0]")
	}

	last := "mix0"
	for i, ov := range spec.Overlays {
		in := fmt.Sprintf("%d:a", i+2)
		layer := fmt.Sprintf("ov%d", i)
		next := fmt.Sprintf("mix%d", i+1)
		stages = append(stages,
			fmt.Sprintf("[%s]atempo=%s,adelay=%d|%d[%s]", in, formatFloat(ov.Ratio), ov.DelayMs, ov.DelayMs, layer),
			fmt.Sprintf("[%s][%s]amix=inputs=2:duration=first:dropout_transition=2[%s]", last, layer, next),
		)
		last = next
	}

	if spec.Loudnorm {
		stages = append(stages, fmt.Sprintf("[%s]loudnorm=I=-16[out]", last))
	} else {
		stages = append(stages, fmt.Sprintf("[%s]anull[out]", last))
	}
	return strings.Join(stages, ";")
}

func overlayPaths(overlays []Overlay) []string {
	paths := make([]string, len(overlays))
	for i, ov := range overlays {
		paths[i] = ov.Path
	}
	return paths
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(round3(v), 'f', -1, 64)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 400 {
		return s[:400] + "..."
	}
	return s
}
