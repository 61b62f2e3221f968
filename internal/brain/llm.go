// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package brain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/opusai/opusmix/internal/analysis"
	"github.com/opusai/opusmix/internal/mix"
)

// LLM produces a raw strategy for one transition. Implementations return
// untrusted output; the engine always runs the clamp pass afterwards.
type LLM interface {
	Propose(ctx context.Context, req Request) (mix.Strategy, error)
}

// OpenAIClient calls a chat-completions endpoint with the admin system
// prompt and the per-transition context, expecting a single JSON object.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient builds a client. baseURL is optional and supports
// OpenAI-compatible endpoints.
func NewOpenAIClient(apiKey, baseURL, model string) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIClient{client: openai.NewClient(opts...), model: model}
}

// wireStrategy is the JSON shape the model is asked to produce. Unknown
// fields are discarded; overlay references stay raw until clamp resolves
// them against the candidate lists.
type wireStrategy struct {
	TransitionType       string  `json:"transition_type"`
	TransitionLengthBars int     `json:"transition_length_bars"`
	CrossfadeSec         float64 `json:"crossfade_sec"`
	BassSwapSec          float64 `json:"bass_swap_sec"`
	FilterType           string  `json:"filter_type"`

	SongAStretchRatio       float64 `json:"song_a_stretch_ratio"`
	SongAPitchSemitones     float64 `json:"song_a_pitch_semitones"`
	SongATransitionStartSec float64 `json:"song_a_transition_start_sec"`
	SongBStretchRatio       float64 `json:"song_b_stretch_ratio"`
	SongBPitchSemitones     float64 `json:"song_b_pitch_semitones"`
	SongBTransitionStartSec float64 `json:"song_b_transition_start_sec"`

	StartOffsetBars int    `json:"start_offset_bars"`
	TransitionStyle string `json:"transition_style"`

	OverlayInstrument    string  `json:"overlay_instrument"`
	OverlayVocal         string  `json:"overlay_vocal"`
	OverlayInstrumentURL string  `json:"overlay_instrument_url"`
	OverlayVocalURL      string  `json:"overlay_vocal_url"`
	OverlayEntrySec      float64 `json:"overlay_entry_sec"`

	Reasoning string `json:"reasoning"`
	DJComment string `json:"dj_comment"`
	FXChain   string `json:"fx_chain"`
}

func (c *OpenAIClient) Propose(ctx context.Context, req Request) (mix.Strategy, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.SystemPrompt),
			openai.UserMessage(buildUserPrompt(req)),
		},
		Temperature: openai.Float(0.2),
	})
	if err != nil {
		return mix.Strategy{}, fmt.Errorf("strategy completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return mix.Strategy{}, errors.New("strategy completion: empty response")
	}
	return parseStrategyJSON(resp.Choices[0].Message.Content, req)
}

// parseStrategyJSON decodes the model output, tolerating an optional
// markdown code fence, then recomputes the fields the model routinely gets
// wrong: crossfade from the bar count, B's start point, and the harmonic
// distance.
func parseStrategyJSON(text string, req Request) (mix.Strategy, error) {
	text = stripFence(text)

	var w wireStrategy
	if err := json.Unmarshal([]byte(text), &w); err != nil {
		return mix.Strategy{}, fmt.Errorf("parse strategy json: %w", err)
	}

	s := mix.Strategy{
		TransitionType:          w.TransitionType,
		TransitionLengthBars:    w.TransitionLengthBars,
		CrossfadeSec:            w.CrossfadeSec,
		BassSwapSec:             w.BassSwapSec,
		FilterType:              w.FilterType,
		SongAStretchRatio:       w.SongAStretchRatio,
		SongAPitchSemitones:     w.SongAPitchSemitones,
		SongATransitionStartSec: w.SongATransitionStartSec,
		SongBStretchRatio:       w.SongBStretchRatio,
		SongBPitchSemitones:     w.SongBPitchSemitones,
		StartOffsetBars:         w.StartOffsetBars,
		TransitionStyle:         w.TransitionStyle,
		OverlayInstrumentURL:    w.OverlayInstrumentURL,
		OverlayVocalURL:         w.OverlayVocalURL,
		OverlayEntrySec:         w.OverlayEntrySec,
		Reasoning:               w.Reasoning,
		DJComment:               w.DJComment,
		FXChain:                 w.FXChain,
	}
	for _, name := range []string{w.OverlayInstrument, w.OverlayVocal} {
		if strings.TrimSpace(name) != "" {
			s.OverlayPaths = append(s.OverlayPaths, name)
		}
	}

	if mix.AllowedTransitionBars[s.TransitionLengthBars] {
		avgBPM := (req.A.BPM + req.B.BPM) / 2
		s.CrossfadeSec = analysis.BarsToSeconds(avgBPM, s.TransitionLengthBars)
	}
	s.SongBTransitionStartSec = 0
	return s, nil
}

// stripFence removes a surrounding markdown code fence if present.
func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
