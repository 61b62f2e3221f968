// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package brain

import (
	"fmt"
	"strings"

	"github.com/opusai/opusmix/internal/mix"
)

// buildUserPrompt renders the per-transition context the model decides from:
// both analyses, the harmonic distance, the sensitivity hint, phrase maps,
// and the pre-filtered overlay candidates.
func buildUserPrompt(req Request) string {
	var sb strings.Builder

	sb.WriteString("Song A (outgoing): ")
	sb.WriteString(analysisToText(req.A))
	sb.WriteString("\nSong B (incoming): ")
	sb.WriteString(analysisToText(req.B))
	fmt.Fprintf(&sb, "\nharmonic_distance: %d\n", req.HarmonicDistance())
	fmt.Fprintf(&sb, "mix_sensitivity: %.2f (0 = prioritise BPM, 1 = prioritise harmony)\n", req.Sensitivity)

	fmt.Fprintf(&sb, "phrase_starts_sec A (last %d): %s\n", phrasePromptCount, floatsToText(lastN(req.A.PhraseStartsSec, phrasePromptCount)))
	fmt.Fprintf(&sb, "outro_start_sec A: %.1f\n", req.A.OutroStartSec)
	fmt.Fprintf(&sb, "phrase_starts_sec B (first %d): %s\n", phrasePromptCount, floatsToText(firstN(req.B.PhraseStartsSec, phrasePromptCount)))

	if len(req.A.EnergySegments) > 0 {
		fmt.Fprintf(&sb, "structure A (level start-end sec): %s\n", segmentsToText(req.A.EnergySegments))
	}
	if len(req.A.EnergyPeaksSec) > 0 {
		fmt.Fprintf(&sb, "energy peaks A (sec): %s\n", floatsToText(lastN(req.A.EnergyPeaksSec, phrasePromptCount)))
	}
	if len(req.B.EnergySegments) > 0 {
		fmt.Fprintf(&sb, "structure B (level start-end sec): %s\n", segmentsToText(req.B.EnergySegments))
	}

	if len(req.LocalCandidates) > 0 {
		sb.WriteString("Available local samples (filename, category, bpm, key):\n")
		for _, c := range req.LocalCandidates {
			fmt.Fprintf(&sb, "- %s | %s | %.1f | %s\n", c.Name(), c.Category, c.Metadata.BPM, c.Metadata.KeyCamelot)
		}
	} else {
		sb.WriteString("No local samples available.\n")
	}
	if len(req.CloudCandidates) > 0 {
		sb.WriteString("Available cloud samples (url, category, bpm, key):\n")
		for _, c := range req.CloudCandidates {
			fmt.Fprintf(&sb, "- %s | %s | %.1f | %s\n", c.URL, c.Category, c.BPM, c.KeyCamelot)
		}
	} else {
		sb.WriteString("No cloud samples available.\n")
	}

	if p := strings.TrimSpace(req.UserPrompt); p != "" {
		sb.WriteString("\nDJ style / context: ")
		sb.WriteString(p)
		sb.WriteString("\n")
	}
	sb.WriteString("\nOutput ONLY the JSON object, no markdown.")
	return sb.String()
}

const phrasePromptCount = 8

func analysisToText(a mix.SongAnalysis) string {
	return fmt.Sprintf("bpm=%.1f, key=%s %s (%s, confidence %.2f), duration=%.1fs, energy=%d/10",
		a.BPM, a.KeyTonic, a.KeyScale, a.KeyCamelot, a.KeyConfidence, a.DurationSec, a.EnergyScale())
}

func segmentsToText(segs []mix.EnergySegment) string {
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = fmt.Sprintf("%s %.0f-%.0f", s.Level, s.StartSec, s.EndSec)
	}
	return strings.Join(parts, ", ")
}

func floatsToText(v []float64) string {
	if len(v) == 0 {
		return "[]"
	}
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprintf("%.1f", x)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func lastN(v []float64, n int) []float64 {
	if len(v) <= n {
		return v
	}
	return v[len(v)-n:]
}

func firstN(v []float64, n int) []float64 {
	if len(v) <= n {
		return v
	}
	return v[:n]
}
