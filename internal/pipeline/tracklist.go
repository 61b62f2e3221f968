// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/opusai/opusmix/internal/mix"
)

// BuildTracklist renders the human-readable set sheet, one block per
// transition in roadmap order.
func BuildTracklist(roadmap mix.Roadmap, strategies []mix.Strategy) string {
	var sb strings.Builder
	sb.WriteString("OPUS AI — Tracklist (Set completo)\n")
	sb.WriteString(strings.Repeat("=", 60))
	sb.WriteString("\n")

	for i, pair := range roadmap {
		fmt.Fprintf(&sb, "\n#%d  A: %s  →  B: %s\n",
			i+1, filepath.Base(pair.PathA), filepath.Base(pair.PathB))
		fmt.Fprintf(&sb, "  BPM A=%.1f  B=%.1f  |  Key A=%s %s  B=%s %s\n",
			pair.AnalysisA.BPM, pair.AnalysisB.BPM,
			pair.AnalysisA.KeyTonic, pair.AnalysisA.KeyScale,
			pair.AnalysisB.KeyTonic, pair.AnalysisB.KeyScale)
		if i < len(strategies) {
			if r := strings.TrimSpace(strategies[i].Reasoning); r != "" {
				fmt.Fprintf(&sb, "  Razón: %s\n", r)
			}
			if c := strings.TrimSpace(strategies[i].DJComment); c != "" {
				fmt.Fprintf(&sb, "  DJ: %s\n", c)
			}
		}
	}
	return sb.String()
}
