// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package pipeline orchestrates a session from uploaded tracks to the final
// mixed WAV: plan on the brain queue, one render task per transition on the
// audio queue, and a fan-in finalize elected by the pending counter.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/opusai/opusmix/internal/admin"
	"github.com/opusai/opusmix/internal/brain"
	xlog "github.com/opusai/opusmix/internal/log"
	"github.com/opusai/opusmix/internal/metrics"
	"github.com/opusai/opusmix/internal/mix"
	"github.com/opusai/opusmix/internal/progress"
	"github.com/opusai/opusmix/internal/queue"
	"github.com/opusai/opusmix/internal/render"
	"github.com/opusai/opusmix/internal/samples"
	"github.com/opusai/opusmix/internal/sequencer"
	"github.com/opusai/opusmix/internal/session"
	"github.com/opusai/opusmix/internal/store"
)

// Artifact file names inside a session directory.
const (
	FinalMixName  = "final_mix.wav"
	TracklistName = "tracklist.txt"
)

type planPayload struct {
	UserPrompt string `json:"user_prompt,omitempty"`
}

type renderPayload struct {
	Index    int          `json:"index"`
	Total    int          `json:"total"`
	Pair     mix.Pair     `json:"pair"`
	Strategy mix.Strategy `json:"strategy"`
	Output   string       `json:"output"`
}

// Orchestrator wires the pipeline components together and processes tasks.
type Orchestrator struct {
	store    store.Store
	queue    queue.Queue
	bus      progress.Bus
	admin    *admin.Store
	analyzer sequencer.Analyzer
	brain    *brain.Engine
	library  *samples.Library
	cloud    *samples.CloudIndex
	engine   render.Engine
	sessions *session.Manager
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// Deps carries the orchestrator's collaborators. Library and Cloud may be
// nil when no sample sources are configured.
type Deps struct {
	Store    store.Store
	Queue    queue.Queue
	Bus      progress.Bus
	Admin    *admin.Store
	Analyzer sequencer.Analyzer
	Brain    *brain.Engine
	Library  *samples.Library
	Cloud    *samples.CloudIndex
	Engine   render.Engine
	Sessions *session.Manager
	Metrics  *metrics.Metrics
}

// NewOrchestrator returns an orchestrator over the given dependencies.
func NewOrchestrator(d Deps) *Orchestrator {
	m := d.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &Orchestrator{
		store:    d.Store,
		queue:    d.Queue,
		bus:      d.Bus,
		admin:    d.Admin,
		analyzer: d.Analyzer,
		brain:    d.Brain,
		library:  d.Library,
		cloud:    d.Cloud,
		engine:   d.Engine,
		sessions: d.Sessions,
		metrics:  m,
		logger:   xlog.WithComponent("pipeline"),
	}
}

// Submit moves a session into processing and enqueues its plan task.
func (o *Orchestrator) Submit(ctx context.Context, id, userPrompt string) error {
	_, err := o.store.Update(ctx, id, func(st *store.State) error {
		st.Status = store.StatusProcessing
		st.Phase = store.PhaseAnalyzing
		st.Error = ""
		return nil
	})
	if err != nil {
		return err
	}

	task := queue.Task{Queue: queue.Brain, Kind: queue.KindPlan, SessionID: id}
	if err := task.EncodePayload(planPayload{UserPrompt: userPrompt}); err != nil {
		return err
	}
	if err := o.queue.Enqueue(ctx, task); err != nil {
		return err
	}
	o.metrics.SessionsStarted.Inc()
	return nil
}

// HandleTask dispatches one dequeued task. Errors are terminal for the
// session, never for the worker.
func (o *Orchestrator) HandleTask(ctx context.Context, task queue.Task) error {
	ctx = xlog.ContextWithSessionID(ctx, task.SessionID)
	ctx = xlog.ContextWithTaskKind(ctx, task.Kind)
	logger := xlog.WithComponentFromContext(ctx, "pipeline")
	start := time.Now()

	var err error
	switch task.Kind {
	case queue.KindPlan, queue.KindMix:
		err = o.handlePlan(ctx, task)
	case queue.KindRender:
		err = o.handleRender(ctx, task)
	case queue.KindFinalize:
		err = o.handleFinalize(ctx, task)
	default:
		err = fmt.Errorf("unknown task kind %q", task.Kind)
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		logger.Error().Err(err).Msg("task failed")
	}
	o.metrics.TasksProcessed.WithLabelValues(task.Kind, outcome).Inc()
	o.metrics.TaskDuration.WithLabelValues(task.Kind).Observe(time.Since(start).Seconds())
	return err
}

// handlePlan analyzes, sequences, decides strategies, and fans out one
// render task per roadmap pair.
func (o *Orchestrator) handlePlan(ctx context.Context, task queue.Task) error {
	id := task.SessionID
	var p planPayload
	if err := task.DecodePayload(&p); err != nil {
		return o.failSession(ctx, id, "invalid plan payload")
	}

	paths, err := o.sessions.TrackPaths(id)
	if err != nil || len(paths) < 2 {
		return o.failSession(ctx, id, "session has fewer than 2 tracks")
	}

	o.publish(ctx, id, store.StatusProcessing, store.PhaseAnalyzing, "Analyzing tracks", 0, 0)
	tracks := sequencer.AnalyzeTracks(ctx, o.analyzer, paths)
	if len(tracks) < 2 {
		return o.failSession(ctx, id, "Could not analyze at least 2 tracks")
	}

	o.publish(ctx, id, store.StatusProcessing, store.PhaseSequencing, "Sequencing set", 0, 0)
	if _, err := o.store.Update(ctx, id, func(st *store.State) error {
		st.Phase = store.PhaseSequencing
		return nil
	}); err != nil {
		return err
	}

	ordered := sequencer.SortPlaylist(tracks, true)
	roadmap := sequencer.BuildRoadmap(ordered)
	if len(roadmap) == 0 {
		return o.failSession(ctx, id, "empty roadmap")
	}

	cfg := o.adminConfig(ctx)
	intent := brain.ParseIntent(p.UserPrompt, cfg.DefaultBars)

	dir := o.sessions.Dir(id)
	strategies := make([]mix.Strategy, len(roadmap))
	renderTasks := make([]queue.Task, len(roadmap))
	for i, pair := range roadmap {
		req := brain.Request{
			A:                 pair.AnalysisA,
			B:                 pair.AnalysisB,
			UserPrompt:        p.UserPrompt,
			Intent:            intent,
			SystemPrompt:      cfg.SystemPrompt,
			Sensitivity:       cfg.MixSensitivity,
			TrackCount:        len(ordered),
			LocalCandidates:   o.localCandidates(ctx, pair, cfg),
			CloudCandidates:   o.cloudCandidates(pair, cfg),
			AllowInstruments:  cfg.AllowInstrumentsAI,
			AllowVocals:       cfg.AllowVocalsAI,
			BassSwapIntensity: cfg.BassSwapIntensity,
		}
		strategies[i] = o.brain.Decide(ctx, req)

		t := queue.Task{Queue: queue.Audio, Kind: queue.KindRender, SessionID: id}
		if err := t.EncodePayload(renderPayload{
			Index:    i,
			Total:    len(roadmap),
			Pair:     pair,
			Strategy: strategies[i],
			Output:   filepath.Join(dir, fmt.Sprintf("seg_%d.wav", i)),
		}); err != nil {
			return err
		}
		renderTasks[i] = t
	}

	if _, err := o.store.Update(ctx, id, func(st *store.State) error {
		st.Phase = store.PhaseRendering
		st.SessionDir = dir
		st.TrackPaths = paths
		st.Roadmap = roadmap
		st.Strategies = strategies
		st.SegmentPaths = make([]string, len(roadmap))
		return nil
	}); err != nil {
		return err
	}
	if err := o.store.InitPending(ctx, id, len(roadmap)); err != nil {
		return err
	}

	for _, t := range renderTasks {
		if err := o.queue.Enqueue(ctx, t); err != nil {
			return o.failSession(ctx, id, "could not enqueue render tasks")
		}
	}
	o.publish(ctx, id, store.StatusProcessing, store.PhaseRendering, "Rendering transitions", 0, len(roadmap))
	return nil
}

// handleRender produces one segment. Success records the segment path;
// failure marks the session failed. Either way the pending counter is
// decremented, and whoever reaches zero enqueues finalize.
func (o *Orchestrator) handleRender(ctx context.Context, task queue.Task) error {
	id := task.SessionID
	var p renderPayload
	if err := task.DecodePayload(&p); err != nil {
		return fmt.Errorf("invalid render payload: %w", err)
	}

	o.publish(ctx, id, store.StatusProcessing, store.PhaseRendering,
		fmt.Sprintf("Rendering transition %d of %d", p.Index+1, p.Total), p.Index+1, p.Total)

	renderErr := render.RenderSegment(ctx, o.engine, p.Pair, p.Strategy, o.sessions.Dir(id), p.Output)
	if renderErr != nil {
		if _, err := o.store.Update(ctx, id, func(st *store.State) error {
			st.Fail(fmt.Sprintf("render segment %d: %v", p.Index, renderErr))
			return nil
		}); err != nil {
			o.logger.Error().Err(err).Str(xlog.FieldSessionID, id).Msg("could not record render failure")
		}
	} else {
		o.metrics.SegmentsRendered.Inc()
		if _, err := o.store.Update(ctx, id, func(st *store.State) error {
			if p.Index < len(st.SegmentPaths) {
				st.SegmentPaths[p.Index] = p.Output
			}
			return nil
		}); err != nil {
			return err
		}
	}

	remaining, err := o.store.DecrementPending(ctx, id)
	if err != nil {
		return err
	}
	if remaining == 0 {
		t := queue.Task{Queue: queue.Brain, Kind: queue.KindFinalize, SessionID: id}
		if err := o.queue.Enqueue(ctx, t); err != nil {
			return err
		}
	}
	return renderErr
}

// handleFinalize runs exactly once per session: concat on success, cleanup
// on failure, terminal progress event either way.
func (o *Orchestrator) handleFinalize(ctx context.Context, task queue.Task) error {
	id := task.SessionID
	st, err := o.store.Get(ctx, id)
	if err != nil {
		return err
	}

	if st.Status == store.StatusFailed {
		o.sessions.Delete(id)
		o.metrics.SessionsCompleted.WithLabelValues(store.StatusFailed).Inc()
		o.publish(ctx, id, store.StatusFailed, "", st.Error, 0, 0)
		return nil
	}

	o.publish(ctx, id, store.StatusProcessing, store.PhaseFinalizing, "Concatenating set", 0, 0)
	if _, err := o.store.Update(ctx, id, func(s *store.State) error {
		s.Phase = store.PhaseFinalizing
		return nil
	}); err != nil {
		return err
	}

	dir := o.sessions.Dir(id)
	finalPath := filepath.Join(dir, FinalMixName)
	if err := o.engine.Concat(ctx, st.SegmentPaths, finalPath); err != nil {
		return o.failSession(ctx, id, fmt.Sprintf("concat: %v", err))
	}

	tracklistPath := filepath.Join(dir, TracklistName)
	if err := os.WriteFile(tracklistPath, []byte(BuildTracklist(st.Roadmap, st.Strategies)), 0o644); err != nil {
		return o.failSession(ctx, id, fmt.Sprintf("tracklist: %v", err))
	}

	if _, err := o.store.Update(ctx, id, func(s *store.State) error {
		s.Status = store.StatusReady
		s.Phase = ""
		s.ResultPath = finalPath
		s.TracklistPath = tracklistPath
		return nil
	}); err != nil {
		return err
	}

	o.metrics.SessionsCompleted.WithLabelValues(store.StatusReady).Inc()
	o.publish(ctx, id, store.StatusReady, "", "Set ready", 0, 0)
	o.logger.Info().Str(xlog.FieldSessionID, id).Int("segments", len(st.SegmentPaths)).Msg("session finalized")
	return nil
}

// failSession records a failure, removes the session directory, and
// publishes the terminal event.
func (o *Orchestrator) failSession(ctx context.Context, id, reason string) error {
	if _, err := o.store.Update(ctx, id, func(st *store.State) error {
		st.Fail(reason)
		return nil
	}); err != nil {
		return err
	}
	o.sessions.Delete(id)
	o.metrics.SessionsCompleted.WithLabelValues(store.StatusFailed).Inc()
	o.publish(ctx, id, store.StatusFailed, "", reason, 0, 0)
	return fmt.Errorf("session %s failed: %s", id, reason)
}

func (o *Orchestrator) publish(ctx context.Context, id, status, phase, message string, segment, total int) {
	o.bus.Publish(ctx, progress.Event{
		SessionID: id,
		Status:    status,
		Phase:     phase,
		Message:   message,
		Segment:   segment,
		Total:     total,
		At:        time.Now().UTC(),
	})
}

// adminConfig resolves the effective admin config, falling back to defaults
// when no store is wired. A blanked-out system prompt reverts to the default
// so the strategy model never runs uninstructed.
func (o *Orchestrator) adminConfig(ctx context.Context) admin.Config {
	if o.admin == nil {
		return admin.Defaults()
	}
	cfg := o.admin.Get(ctx)
	cfg.SystemPrompt = o.admin.SystemPrompt(ctx)
	return cfg
}

// localCandidates asks the sample library for overlays compatible with the
// outgoing track, gated by the admin allow flags.
func (o *Orchestrator) localCandidates(ctx context.Context, pair mix.Pair, cfg admin.Config) []samples.Sample {
	if o.library == nil {
		return nil
	}
	categories := allowedCategories(cfg)
	if len(categories) == 0 {
		return nil
	}
	return o.library.Compatible(ctx, pair.AnalysisA.BPM, pair.AnalysisA.KeyCamelot,
		categories, samples.DefaultBPMTolerance, samples.DefaultMaxCamelotDistance)
}

func (o *Orchestrator) cloudCandidates(pair mix.Pair, cfg admin.Config) []samples.CloudAsset {
	if o.cloud == nil || o.cloud.Empty() {
		return nil
	}
	categories := allowedCategories(cfg)
	if len(categories) == 0 {
		return nil
	}
	return o.cloud.Compatible(pair.AnalysisA.BPM, pair.AnalysisA.KeyCamelot,
		categories, samples.DefaultBPMTolerance, samples.DefaultMaxCamelotDistance)
}

func allowedCategories(cfg admin.Config) []string {
	var categories []string
	if cfg.AllowInstrumentsAI {
		categories = append(categories, "instruments", "percussion")
	}
	if cfg.AllowVocalsAI {
		categories = append(categories, "vocals")
	}
	return categories
}
