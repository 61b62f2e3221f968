// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package brain

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opusai/opusmix/internal/mix"
)

func TestBuildUserPromptCarriesStructure(t *testing.T) {
	a := testAnalysis(126, 300, "8A", 0.7)
	a.EnergySegments = []mix.EnergySegment{
		{StartSec: 0, EndSec: 42, Level: "low"},
		{StartSec: 42, EndSec: 251, Level: "high"},
		{StartSec: 251, EndSec: 300, Level: "mid"},
	}
	a.EnergyPeaksSec = []float64{97, 161, 225}
	b := testAnalysis(124, 280, "9A", 0.4)
	b.EnergySegments = []mix.EnergySegment{
		{StartSec: 0, EndSec: 60, Level: "low"},
		{StartSec: 60, EndSec: 280, Level: "mid"},
	}

	p := buildUserPrompt(Request{A: a, B: b})
	assert.Contains(t, p, "structure A (level start-end sec): low 0-42, high 42-251, mid 251-300")
	assert.Contains(t, p, "energy peaks A (sec): [97.0, 161.0, 225.0]")
	assert.Contains(t, p, "structure B (level start-end sec): low 0-60, mid 60-280")
}

func TestBuildUserPromptOmitsMissingStructure(t *testing.T) {
	p := buildUserPrompt(Request{A: testAnalysis(120, 180, "8A", 0.5), B: testAnalysis(120, 180, "8A", 0.5)})
	assert.NotContains(t, p, "structure A")
	assert.NotContains(t, p, "energy peaks A")
}
