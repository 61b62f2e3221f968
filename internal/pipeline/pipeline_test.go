// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opusai/opusmix/internal/analysis"
	"github.com/opusai/opusmix/internal/brain"
	"github.com/opusai/opusmix/internal/mix"
	"github.com/opusai/opusmix/internal/progress"
	"github.com/opusai/opusmix/internal/queue"
	"github.com/opusai/opusmix/internal/render"
	"github.com/opusai/opusmix/internal/session"
	"github.com/opusai/opusmix/internal/store"
)

type fakeAnalyzer struct {
	byName map[string]mix.SongAnalysis
}

func (f *fakeAnalyzer) Analyze(_ context.Context, path string) mix.SongAnalysis {
	a, ok := f.byName[filepath.Base(path)]
	if !ok {
		a = makeAnalysis(120, "8A")
	}
	a.Path = path
	return a
}

func makeAnalysis(bpm float64, camelot string) mix.SongAnalysis {
	starts, outro := analysis.PhraseStarts(bpm, 300)
	return mix.SongAnalysis{
		BPM:             bpm,
		KeyTonic:        "A",
		KeyScale:        "minor",
		KeyCamelot:      camelot,
		Energy:          0.5,
		DurationSec:     300,
		PhraseStartsSec: starts,
		OutroStartSec:   outro,
	}
}

type fakeEngine struct {
	mixErr  error
	mixes   []render.MixSpec
	concats [][]string
}

func (f *fakeEngine) Probe(context.Context, string) (float64, error) { return 300, nil }

func (f *fakeEngine) Stretch(_ context.Context, _, output string, _, _ float64) error {
	return os.WriteFile(output, []byte("s"), 0o644)
}

func (f *fakeEngine) Transcode(_ context.Context, _, output string) error {
	return os.WriteFile(output, []byte("t"), 0o644)
}

func (f *fakeEngine) Mix(_ context.Context, spec render.MixSpec) error {
	f.mixes = append(f.mixes, spec)
	if f.mixErr != nil {
		return f.mixErr
	}
	return os.WriteFile(spec.Output, []byte("mixed"), 0o644)
}

func (f *fakeEngine) Concat(_ context.Context, inputs []string, output string) error {
	f.concats = append(f.concats, inputs)
	return os.WriteFile(output, []byte("set"), 0o644)
}

type testRig struct {
	orch     *Orchestrator
	store    store.Store
	queue    queue.Queue
	bus      progress.Bus
	sessions *session.Manager
	engine   *fakeEngine
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	st := store.NewMemory()
	q := queue.NewMemory()
	bus := progress.NewMemory()
	sessions := session.NewManager(t.TempDir(), 1<<20)
	engine := &fakeEngine{}
	t.Cleanup(func() {
		st.Close()
		q.Close()
		bus.Close()
	})

	an := &fakeAnalyzer{byName: map[string]mix.SongAnalysis{
		"track_0.wav": makeAnalysis(120, "8A"),
		"track_1.wav": makeAnalysis(124, "8A"),
		"track_2.wav": makeAnalysis(128, "9A"),
	}}

	orch := NewOrchestrator(Deps{
		Store:    st,
		Queue:    q,
		Bus:      bus,
		Analyzer: an,
		Brain:    brain.New(nil),
		Engine:   engine,
		Sessions: sessions,
	})
	return &testRig{orch: orch, store: st, queue: q, bus: bus, sessions: sessions, engine: engine}
}

func (r *testRig) newSession(t *testing.T, tracks int) string {
	t.Helper()
	id := r.sessions.Create()
	for i := 0; i < tracks; i++ {
		_, err := r.sessions.SaveTrack(id, i, "track.wav", strings.NewReader("audio"))
		require.NoError(t, err)
	}
	require.NoError(t, r.store.Put(context.Background(), &store.State{
		ID:         id,
		Status:     store.StatusUploading,
		SessionDir: r.sessions.Dir(id),
	}))
	return id
}

// runToCompletion drains plan, all renders, and finalize.
func (r *testRig) runToCompletion(t *testing.T, renders int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, r.orch.DrainOne(ctx, queue.Brain))
	for i := 0; i < renders; i++ {
		r.orch.DrainOne(ctx, queue.Audio)
	}
	r.orch.DrainOne(ctx, queue.Brain)
}

func TestPipelineEndToEnd(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()
	id := rig.newSession(t, 3)

	sub, err := rig.bus.Subscribe(ctx, id)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, rig.orch.Submit(ctx, id, "progressive journey"))
	rig.runToCompletion(t, 2)

	st, err := rig.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusReady, st.Status)
	assert.Empty(t, st.Phase)

	// A 3-track set yields 2 overlapping pairs.
	require.Len(t, st.Roadmap, 2)
	assert.Equal(t, st.Roadmap[0].PathB, st.Roadmap[1].PathA)
	require.Len(t, st.Strategies, 2)
	for _, s := range st.Strategies {
		assert.Zero(t, s.SongBTransitionStartSec)
		assert.True(t, mix.AllowedTransitionBars[s.TransitionLengthBars])
	}

	require.Len(t, st.SegmentPaths, 2)
	for _, p := range st.SegmentPaths {
		assert.NotEmpty(t, p)
	}
	require.Len(t, rig.engine.concats, 1)
	assert.Equal(t, st.SegmentPaths, rig.engine.concats[0])

	data, err := os.ReadFile(st.ResultPath)
	require.NoError(t, err)
	assert.Equal(t, "set", string(data))

	tl, err := os.ReadFile(st.TracklistPath)
	require.NoError(t, err)
	assert.Contains(t, string(tl), "OPUS AI — Tracklist (Set completo)")
	assert.Contains(t, string(tl), "#1  A: track_0.wav")

	// Terminal event arrived.
	var sawReady bool
	for done := false; !done; {
		select {
		case ev := <-sub.C():
			if ev.Status == store.StatusReady {
				sawReady = true
				done = true
			}
		default:
			done = true
		}
	}
	assert.True(t, sawReady)
}

func TestPipelineOrdersSetByEnergyCurve(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()
	id := rig.newSession(t, 3)

	require.NoError(t, rig.orch.Submit(ctx, id, ""))
	rig.runToCompletion(t, 2)

	st, err := rig.store.Get(ctx, id)
	require.NoError(t, err)
	// BPMs 120, 124, 128 ascend; tracklist preserves roadmap order.
	assert.Equal(t, "track_0.wav", filepath.Base(st.Roadmap[0].PathA))
	assert.Equal(t, "track_1.wav", filepath.Base(st.Roadmap[0].PathB))
	assert.Equal(t, "track_2.wav", filepath.Base(st.Roadmap[1].PathB))
}

func TestPipelineRenderFailureFailsSession(t *testing.T) {
	rig := newRig(t)
	rig.engine.mixErr = errors.New("codec exploded")
	ctx := context.Background()
	id := rig.newSession(t, 3)

	require.NoError(t, rig.orch.Submit(ctx, id, ""))
	rig.runToCompletion(t, 2)

	st, err := rig.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, st.Status)
	assert.Contains(t, st.Error, "render segment")

	// The finalizer's cleanup branch removed the session directory.
	_, statErr := os.Stat(rig.sessions.Dir(id))
	assert.True(t, os.IsNotExist(statErr))
}

func TestPipelineTooFewTracksFails(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()
	id := rig.newSession(t, 1)

	require.NoError(t, rig.orch.Submit(ctx, id, ""))
	err := rig.orch.DrainOne(ctx, queue.Brain)
	require.Error(t, err)

	st, getErr := rig.store.Get(ctx, id)
	require.NoError(t, getErr)
	assert.Equal(t, store.StatusFailed, st.Status)
}

func TestPipelineSubmitUnknownSession(t *testing.T) {
	rig := newRig(t)
	err := rig.orch.Submit(context.Background(), "nope", "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestHandleTaskUnknownKind(t *testing.T) {
	rig := newRig(t)
	err := rig.orch.HandleTask(context.Background(), queue.Task{Kind: "bogus"})
	require.Error(t, err)
}

func TestBuildTracklistFormat(t *testing.T) {
	roadmap := mix.Roadmap{{
		PathA:     "/s/track_0.wav",
		PathB:     "/s/track_1.wav",
		AnalysisA: mix.SongAnalysis{BPM: 120, KeyTonic: "A", KeyScale: "minor"},
		AnalysisB: mix.SongAnalysis{BPM: 124, KeyTonic: "C", KeyScale: "major"},
	}}
	strategies := []mix.Strategy{{
		Reasoning: "Neighbour keys, rising energy.",
		DJComment: "Long blend into the groove.",
	}}

	tl := BuildTracklist(roadmap, strategies)
	assert.True(t, strings.HasPrefix(tl, "OPUS AI — Tracklist (Set completo)\n"))
	assert.Contains(t, tl, strings.Repeat("=", 60))
	assert.Contains(t, tl, "#1  A: track_0.wav  →  B: track_1.wav")
	assert.Contains(t, tl, "  BPM A=120.0  B=124.0  |  Key A=A minor  B=C major")
	assert.Contains(t, tl, "  Razón: Neighbour keys, rising energy.")
	assert.Contains(t, tl, "  DJ: Long blend into the groove.")
}
