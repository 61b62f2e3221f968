// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package analysis

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	mp3 "github.com/hajimehoshi/go-mp3"
)

// Decoder converts an arbitrary audio file into mono PCM at the requested
// sample rate. The render engine's ffmpeg wrapper satisfies this; WAV and MP3
// are decoded natively and never reach it.
type Decoder interface {
	DecodeMono(ctx context.Context, path string, sampleRate int) ([]float64, error)
}

// ErrUnsupportedFormat is returned when no native decoder handles the file
// extension and no external Decoder is configured.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// LoadMono decodes an audio file to mono float64 samples at targetRate.
// WAV and MP3 are handled in-process; anything else is delegated to dec.
func LoadMono(ctx context.Context, path string, targetRate int, dec Decoder) ([]float64, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		samples, rate, err := loadWAVMono(path)
		if err != nil {
			return nil, err
		}
		return Resample(samples, rate, targetRate), nil
	case ".mp3":
		samples, rate, err := loadMP3Mono(path)
		if err != nil {
			return nil, err
		}
		return Resample(samples, rate, targetRate), nil
	default:
		if dec == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
		}
		return dec.DecodeMono(ctx, path, targetRate)
	}
}

// loadWAVMono parses a PCM16 RIFF/WAVE file and downmixes to mono.
func loadWAVMono(path string) ([]float64, int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read wav: %w", err)
	}
	if len(raw) < 44 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return nil, 0, errors.New("not a RIFF/WAVE file")
	}

	var (
		channels   int
		sampleRate int
		bitDepth   int
		data       []byte
	)
	// Walk chunks; fmt and data can appear in any order and other chunks
	// (LIST, bext) may sit between them.
	off := 12
	for off+8 <= len(raw) {
		id := string(raw[off : off+4])
		size := int(binary.LittleEndian.Uint32(raw[off+4 : off+8]))
		body := off + 8
		if body+size > len(raw) {
			size = len(raw) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, errors.New("wav: short fmt chunk")
			}
			format := binary.LittleEndian.Uint16(raw[body : body+2])
			if format != 1 {
				return nil, 0, fmt.Errorf("wav: unsupported format tag %d", format)
			}
			channels = int(binary.LittleEndian.Uint16(raw[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(raw[body+4 : body+8]))
			bitDepth = int(binary.LittleEndian.Uint16(raw[body+14 : body+16]))
		case "data":
			data = raw[body : body+size]
		}
		off = body + size
		if size%2 == 1 {
			off++ // chunks are word aligned
		}
	}
	if channels == 0 || sampleRate == 0 {
		return nil, 0, errors.New("wav: missing fmt chunk")
	}
	if bitDepth != 16 {
		return nil, 0, fmt.Errorf("wav: unsupported bit depth %d", bitDepth)
	}
	if len(data) == 0 {
		return nil, 0, errors.New("wav: missing data chunk")
	}

	frameBytes := channels * 2
	numFrames := len(data) / frameBytes
	samples := make([]float64, numFrames)
	for i := 0; i < numFrames; i++ {
		base := i * frameBytes
		var sum float64
		for c := 0; c < channels; c++ {
			v := int16(binary.LittleEndian.Uint16(data[base+c*2 : base+c*2+2]))
			sum += float64(v)
		}
		samples[i] = sum / float64(channels) / 32768.0
	}
	return samples, sampleRate, nil
}

// loadMP3Mono decodes an MP3 and downmixes the 16-bit stereo stream to mono.
func loadMP3Mono(path string) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open mp3: %w", err)
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, 0, fmt.Errorf("decode mp3: %w", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, 0, fmt.Errorf("decode mp3: %w", err)
	}

	// go-mp3 always outputs 16-bit stereo interleaved.
	numFrames := len(pcm) / 4
	samples := make([]float64, numFrames)
	for i := 0; i < numFrames; i++ {
		left := int16(binary.LittleEndian.Uint16(pcm[i*4:]))
		right := int16(binary.LittleEndian.Uint16(pcm[i*4+2:]))
		samples[i] = (float64(left) + float64(right)) / 2 / 32768.0
	}
	return samples, dec.SampleRate(), nil
}

// Resample converts samples between rates with linear interpolation. Good
// enough for feature extraction; the render path never touches it.
func Resample(samples []float64, from, to int) []float64 {
	if from == to || from <= 0 || to <= 0 || len(samples) == 0 {
		return samples
	}
	ratio := float64(from) / float64(to)
	outLen := int(float64(len(samples)) / ratio)
	if outLen == 0 {
		outLen = 1
	}
	out := make([]float64, outLen)
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = samples[j]*(1-frac) + samples[j+1]*frac
	}
	return out
}
