// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package analysis

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeWAV writes a PCM16 RIFF/WAVE file from interleaved channel data.
func writeWAV(t *testing.T, path string, channels, rate int, frames [][]int16) {
	t.Helper()
	dataLen := len(frames) * channels * 2
	buf := make([]byte, 44+dataLen)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(rate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(rate*channels*2))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(channels*2))
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
	off := 44
	for _, frame := range frames {
		for c := 0; c < channels; c++ {
			binary.LittleEndian.PutUint16(buf[off:off+2], uint16(frame[c]))
			off += 2
		}
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
}

func TestLoadWAVMono(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mono.wav")
	writeWAV(t, path, 1, 8000, [][]int16{{16384}, {-16384}, {0}, {32767}})

	samples, rate, err := loadWAVMono(path)
	require.NoError(t, err)
	assert.Equal(t, 8000, rate)
	require.Len(t, samples, 4)
	assert.InDelta(t, 0.5, samples[0], 1e-4)
	assert.InDelta(t, -0.5, samples[1], 1e-4)
	assert.InDelta(t, 0.0, samples[2], 1e-4)
	assert.InDelta(t, 1.0, samples[3], 1e-3)
}

func TestLoadWAVStereoDownmix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	writeWAV(t, path, 2, 8000, [][]int16{{16384, -16384}, {8192, 8192}})

	samples, rate, err := loadWAVMono(path)
	require.NoError(t, err)
	assert.Equal(t, 8000, rate)
	require.Len(t, samples, 2)
	assert.InDelta(t, 0.0, samples[0], 1e-4)
	assert.InDelta(t, 0.25, samples[1], 1e-4)
}

func TestLoadWAVRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wav")
	require.NoError(t, os.WriteFile(path, []byte("not audio at all, way too short"), 0o644))
	_, _, err := loadWAVMono(path)
	assert.Error(t, err)
}

func TestLoadMonoResamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	rate := 8000
	frames := make([][]int16, rate) // 1s of 440 Hz
	for i := range frames {
		v := int16(10000 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
		frames[i] = []int16{v}
	}
	writeWAV(t, path, 1, rate, frames)

	samples, err := LoadMono(context.Background(), path, 4000, nil)
	require.NoError(t, err)
	assert.InDelta(t, 4000, len(samples), 2)
}

func TestLoadMonoUnsupportedWithoutDecoder(t *testing.T) {
	_, err := LoadMono(context.Background(), "/tmp/whatever.flac", analysisRate, nil)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

type fakeDecoder struct{ samples []float64 }

func (f fakeDecoder) DecodeMono(_ context.Context, _ string, _ int) ([]float64, error) {
	return f.samples, nil
}

func TestLoadMonoDelegatesUnknownFormats(t *testing.T) {
	want := []float64{0.1, 0.2, 0.3}
	got, err := LoadMono(context.Background(), "x.flac", analysisRate, fakeDecoder{samples: want})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestResample(t *testing.T) {
	in := []float64{0, 1, 0, -1}
	assert.Equal(t, in, Resample(in, 8000, 8000))

	up := Resample(in, 4000, 8000)
	assert.InDelta(t, 8, len(up), 1)
	// Interpolated midpoint between 0 and 1.
	assert.InDelta(t, 0.5, up[1], 1e-9)

	down := Resample(make([]float64, 100), 8000, 4000)
	assert.InDelta(t, 50, len(down), 1)
}
