// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package samples

import (
	"encoding/json"
	"math"
	"os"
	"strings"

	"github.com/opusai/opusmix/internal/harmony"
)

// CloudAsset is one downloadable overlay sample from the cloud index.
type CloudAsset struct {
	URL        string  `json:"url"`
	Category   string  `json:"category"`
	BPM        float64 `json:"bpm"`
	Key        string  `json:"key,omitempty"`
	KeyCamelot string  `json:"key_camelot,omitempty"`
}

// camelot returns the asset's Camelot code, preferring key_camelot over key.
func (a CloudAsset) camelot() string {
	k := strings.ToUpper(strings.TrimSpace(a.KeyCamelot))
	if k == "" {
		k = strings.ToUpper(strings.TrimSpace(a.Key))
	}
	if k == "" {
		return "8A"
	}
	return k
}

// CloudIndex holds the parsed cloud sample catalogue.
type CloudIndex struct {
	assets []CloudAsset
}

// LoadCloudIndex reads the JSON index at path. A missing or corrupt index
// yields an empty catalogue rather than an error: cloud overlays are an
// enhancement, never a requirement.
func LoadCloudIndex(path string) *CloudIndex {
	raw, err := os.ReadFile(path)
	if err != nil {
		return &CloudIndex{}
	}
	var assets []CloudAsset
	if err := json.Unmarshal(raw, &assets); err != nil {
		return &CloudIndex{}
	}
	return &CloudIndex{assets: assets}
}

// NewCloudIndex wraps a fixed asset list; used by tests.
func NewCloudIndex(assets []CloudAsset) *CloudIndex {
	return &CloudIndex{assets: assets}
}

// Empty reports whether the catalogue has no assets.
func (ci *CloudIndex) Empty() bool { return len(ci.assets) == 0 }

// Compatible filters the catalogue the same way Library.Compatible filters
// local samples: BPM within tolerance, Camelot distance within maxDistance,
// category in the requested set. Assets without a URL are skipped.
func (ci *CloudIndex) Compatible(bpm float64, keyCamelot string, categories []string, tolerance float64, maxDistance int) []CloudAsset {
	keyCamelot = normalizeKey(keyCamelot)
	bpmMin := math.Max(1, bpm-tolerance)
	bpmMax := bpm + tolerance

	var out []CloudAsset
	for _, a := range ci.assets {
		cat := strings.ToLower(strings.TrimSpace(a.Category))
		if a.URL == "" || !validCategory(cat) || !contains(categories, cat) {
			continue
		}
		abpm := a.BPM
		if abpm <= 0 {
			abpm = 120
		}
		if abpm < bpmMin || abpm > bpmMax {
			continue
		}
		if harmony.Distance(a.camelot(), keyCamelot) > maxDistance {
			continue
		}
		a.Category = cat
		out = append(out, a)
	}
	return out
}
