// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package harmony

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// profileAsChroma builds a chroma vector that is the major profile rotated so
// the given pitch class is the tonic. Correlating it back should recover the
// key exactly.
func profileAsChroma(tonic int, minor bool) [12]float64 {
	src := profileMajor
	if minor {
		src = profileMinor
	}
	var out [12]float64
	for i := 0; i < 12; i++ {
		out[(i+tonic)%12] = src[i]
	}
	return out
}

func TestKeyFromChromaRecoversAllMajors(t *testing.T) {
	for tonic := 0; tonic < 12; tonic++ {
		name, scale, conf := KeyFromChroma(profileAsChroma(tonic, false))
		assert.Equal(t, Notes[tonic], name, "tonic %d", tonic)
		assert.Equal(t, "major", scale)
		assert.Greater(t, conf, 0.9, "self correlation should be near perfect")
	}
}

func TestKeyFromChromaRecoversAllMinors(t *testing.T) {
	for tonic := 0; tonic < 12; tonic++ {
		name, scale, _ := KeyFromChroma(profileAsChroma(tonic, true))
		assert.Equal(t, Notes[tonic], name, "tonic %d", tonic)
		assert.Equal(t, "minor", scale)
	}
}

func TestKeyFromChromaFlatInput(t *testing.T) {
	// A flat chroma has zero variance; confidence collapses but no panic.
	var flat [12]float64
	for i := range flat {
		flat[i] = 1
	}
	_, scale, conf := KeyFromChroma(flat)
	assert.Contains(t, []string{"major", "minor"}, scale)
	assert.GreaterOrEqual(t, conf, 0.0)
	assert.LessOrEqual(t, conf, 1.0)
}

func TestConfidenceBounds(t *testing.T) {
	_, _, conf := KeyFromChroma(profileAsChroma(0, false))
	assert.LessOrEqual(t, conf, 1.0)
}
