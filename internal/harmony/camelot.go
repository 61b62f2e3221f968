// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package harmony implements the Camelot wheel mapping and the
// Krumhansl-Schmuckler key detection used across the sequencer, the strategy
// engine, and the sample library.
package harmony

import (
	"fmt"
	"strconv"
	"strings"
)

// Notes lists the 12 pitch classes in chromatic order starting at C.
var Notes = []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Camelot numbers indexed by pitch class. A suffix marks major keys, B minor.
// The major row follows the circle of fifths: C G D A E B F# Db Ab Eb Bb F
// map onto 1A..12A.
var (
	camelotMajor = [12]int{1, 8, 3, 10, 5, 12, 7, 2, 9, 4, 11, 6}
	camelotMinor = [12]int{11, 5, 8, 7, 2, 10, 4, 9, 6, 1, 12, 3}
)

// DistanceUnknown is returned when either key cannot be parsed: deliberately
// far on the wheel but finite, so greedy ordering still terminates.
const DistanceUnknown = 6

// KeyToCamelot maps a (tonic, scale) pair onto its Camelot code, e.g. 8A, 1B.
// Unknown tonics map to 1A.
func KeyToCamelot(tonic, scale string) string {
	tonic = strings.TrimSpace(tonic)
	if tonic == "" {
		tonic = "C"
	}
	idx := -1
	for i, n := range Notes {
		if strings.EqualFold(n, tonic) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "1A"
	}
	if strings.EqualFold(strings.TrimSpace(scale), "minor") {
		return fmt.Sprintf("%dB", camelotMinor[idx])
	}
	return fmt.Sprintf("%dA", camelotMajor[idx])
}

// KeyReadable renders a key for humans: "C Major", "A Minor".
func KeyReadable(tonic, scale string) string {
	if tonic == "" {
		tonic = "C"
	}
	s := strings.ToLower(strings.TrimSpace(scale))
	if s == "" {
		s = "major"
	}
	return tonic + " " + strings.ToUpper(s[:1]) + s[1:]
}

// ParseCamelot splits a Camelot code into its wheel number and letter.
func ParseCamelot(code string) (num int, letter byte, ok bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) < 2 {
		return 0, 0, false
	}
	letter = code[len(code)-1]
	if letter != 'A' && letter != 'B' {
		return 0, 0, false
	}
	n, err := strconv.Atoi(code[:len(code)-1])
	if err != nil || n < 1 || n > 12 {
		return 0, 0, false
	}
	return n, letter, true
}

// Distance returns the harmonic distance between two Camelot codes on the
// 12-position wheel. Same number is 0 regardless of letter (relative
// major/minor). Unparseable codes yield DistanceUnknown.
func Distance(a, b string) int {
	na, _, okA := ParseCamelot(a)
	nb, _, okB := ParseCamelot(b)
	if !okA || !okB {
		return DistanceUnknown
	}
	if na == nb {
		return 0
	}
	d := na - nb
	if d < 0 {
		d = -d
	}
	if 12-d < d {
		d = 12 - d
	}
	return d
}
