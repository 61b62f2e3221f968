// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package brain

import "strings"

// Intent is the structured reading of a free-text DJ style prompt. It
// affects transition length and timing only; no model call is involved.
type Intent struct {
	PreferredBars int
	Vibe          string
	StartEarly    bool
	Decisive      bool
}

// Keyword buckets in priority order. The first bucket with a hit wins.
var intentBuckets = []struct {
	vibe     string
	bars     int
	early    bool
	decisive bool
	words    []string
}{
	{vibe: "progressive", bars: 64, early: true, words: []string{"progressive", "long-form", "longform", "journey", "hypnotic"}},
	{vibe: "dynamic", bars: 16, decisive: true, words: []string{"dynamic", "sharp", "punchy"}},
	{vibe: "closing", bars: 8, decisive: true, words: []string{"closing", "5am", "5 am", "end of night", "last track", "finish"}},
	{vibe: "subtle", bars: 16, early: true, words: []string{"warm-up", "warm up", "warmup", "sunset", "opening", "early", "chill", "ambient"}},
	{vibe: "emotional", bars: 16, early: true, words: []string{"emotional", "nostalgic", "melancholic", "mixed-age"}},
	{vibe: "aggressive", bars: 4, decisive: true, words: []string{"peak", "energy", "club", "party", "drop", "aggressive"}},
}

// ParseIntent maps a style prompt onto an Intent. Blank prompts and prompts
// with no recognized keywords fall back to the admin default bar length with
// a neutral vibe.
func ParseIntent(prompt string, defaultBars int) Intent {
	neutral := Intent{PreferredBars: defaultBars, Vibe: "neutral"}
	text := strings.ToLower(strings.TrimSpace(prompt))
	if text == "" {
		return neutral
	}
	for _, bucket := range intentBuckets {
		for _, w := range bucket.words {
			if strings.Contains(text, w) {
				return Intent{
					PreferredBars: bucket.bars,
					Vibe:          bucket.vibe,
					StartEarly:    bucket.early,
					Decisive:      bucket.decisive,
				}
			}
		}
	}
	return neutral
}
