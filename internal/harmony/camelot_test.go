// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package harmony

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyToCamelot(t *testing.T) {
	cases := []struct {
		tonic, scale, want string
	}{
		{"C", "major", "1A"},
		{"G", "major", "2A"},
		{"D", "major", "3A"},
		{"B", "major", "12A"},
		{"A", "minor", "1B"},
		{"E", "minor", "2B"},
		{"C", "minor", "11B"},
		{"", "", "1A"},
		{"H", "major", "1A"}, // unknown tonic
	}
	for _, c := range cases {
		assert.Equal(t, c.want, KeyToCamelot(c.tonic, c.scale), "%s %s", c.tonic, c.scale)
	}
}

func TestRelativeKeysShareWheelNumber(t *testing.T) {
	// C major and A minor are relative keys.
	assert.Equal(t, 0, Distance(KeyToCamelot("C", "major"), KeyToCamelot("A", "minor")))
	// G major and E minor.
	assert.Equal(t, 0, Distance(KeyToCamelot("G", "major"), KeyToCamelot("E", "minor")))
}

func TestDistanceProperties(t *testing.T) {
	codes := []string{"1A", "3A", "5B", "8A", "8B", "12A", "12B"}
	for _, x := range codes {
		assert.Equal(t, 0, Distance(x, x), "identity for %s", x)
		for _, y := range codes {
			assert.Equal(t, Distance(x, y), Distance(y, x), "symmetry %s/%s", x, y)
			assert.LessOrEqual(t, Distance(x, y), 6)
			assert.GreaterOrEqual(t, Distance(x, y), 0)
		}
	}
}

func TestDistanceWheelWrap(t *testing.T) {
	assert.Equal(t, 1, Distance("1A", "12A"))
	assert.Equal(t, 1, Distance("1A", "2A"))
	assert.Equal(t, 5, Distance("8A", "3A"))
	assert.Equal(t, 6, Distance("1A", "7A"))
}

func TestDistanceUnknown(t *testing.T) {
	assert.Equal(t, DistanceUnknown, Distance("", "8A"))
	assert.Equal(t, DistanceUnknown, Distance("8A", ""))
	assert.Equal(t, DistanceUnknown, Distance("13A", "8A"))
	assert.Equal(t, DistanceUnknown, Distance("8C", "8A"))
	assert.Equal(t, DistanceUnknown, Distance("xx", "yy"))
}

func TestParseCamelot(t *testing.T) {
	n, l, ok := ParseCamelot(" 8a ")
	require.True(t, ok)
	assert.Equal(t, 8, n)
	assert.Equal(t, byte('A'), l)

	_, _, ok = ParseCamelot("0A")
	assert.False(t, ok)
	_, _, ok = ParseCamelot("A")
	assert.False(t, ok)
}

func TestKeyReadable(t *testing.T) {
	assert.Equal(t, "C Major", KeyReadable("C", "major"))
	assert.Equal(t, "A Minor", KeyReadable("A", "minor"))
	assert.Equal(t, "C Major", KeyReadable("", ""))
}
