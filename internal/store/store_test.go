// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"redis":  NewRedisFromClient(client),
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := &State{
				ID:         "sess-1",
				Status:     StatusProcessing,
				Phase:      PhaseAnalyzing,
				SessionDir: "/tmp/sess-1",
				TrackPaths: []string{"a.mp3", "b.mp3"},
			}
			require.NoError(t, s.Put(ctx, st))

			got, err := s.Get(ctx, "sess-1")
			require.NoError(t, err)
			assert.Equal(t, StatusProcessing, got.Status)
			assert.Equal(t, PhaseAnalyzing, got.Phase)
			assert.Equal(t, []string{"a.mp3", "b.mp3"}, got.TrackPaths)
			assert.False(t, got.UpdatedAt.IsZero())
		})
	}
}

func TestGetMissing(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), "nope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestUpdateMutates(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Put(ctx, &State{ID: "u1", Status: StatusNew}))

			got, err := s.Update(ctx, "u1", func(st *State) error {
				st.Status = StatusProcessing
				st.Phase = PhaseRendering
				st.SegmentPaths = []string{"", "", ""}
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, PhaseRendering, got.Phase)

			reread, err := s.Get(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, StatusProcessing, reread.Status)
			assert.Len(t, reread.SegmentPaths, 3)
		})
	}
}

func TestUpdateMissing(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Update(context.Background(), "nope", func(*State) error { return nil })
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestDeleteRemovesStateAndPending(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Put(ctx, &State{ID: "d1", Status: StatusReady}))
			require.NoError(t, s.InitPending(ctx, "d1", 4))
			require.NoError(t, s.Delete(ctx, "d1"))

			_, err := s.Get(ctx, "d1")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestPendingCounterElectsExactlyOneFinalizer(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const segments = 16
			require.NoError(t, s.InitPending(ctx, "p1", segments))

			var (
				wg    sync.WaitGroup
				mu    sync.Mutex
				zeros int
			)
			for i := 0; i < segments; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					n, err := s.DecrementPending(ctx, "p1")
					require.NoError(t, err)
					if n == 0 {
						mu.Lock()
						zeros++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, 1, zeros, "exactly one worker should see zero")
		})
	}
}

func TestFailHelper(t *testing.T) {
	st := &State{Status: StatusProcessing, Phase: PhaseRendering}
	st.Fail("ffmpeg exploded")
	assert.Equal(t, StatusFailed, st.Status)
	assert.Empty(t, st.Phase)
	assert.Equal(t, "ffmpeg exploded", st.Error)
}
