// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package pipeline

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	xlog "github.com/opusai/opusmix/internal/log"
	"github.com/opusai/opusmix/internal/queue"
)

// RunWorkers consumes the brain and audio queues with independent pool
// sizes until the context ends or the queue closes. Task errors are already
// terminal for their session; the pools keep running.
func (o *Orchestrator) RunWorkers(ctx context.Context, brainWorkers, audioWorkers int) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < brainWorkers; i++ {
		g.Go(func() error { return o.workerLoop(ctx, queue.Brain) })
	}
	for i := 0; i < audioWorkers; i++ {
		g.Go(func() error { return o.workerLoop(ctx, queue.Audio) })
	}
	return g.Wait()
}

func (o *Orchestrator) workerLoop(ctx context.Context, name string) error {
	logger := o.logger.With().Str(xlog.FieldQueue, name).Logger()
	for {
		task, err := o.queue.Dequeue(ctx, name)
		switch {
		case errors.Is(err, queue.ErrClosed), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		case err != nil:
			logger.Warn().Err(err).Msg("dequeue failed")
			continue
		}

		if err := o.HandleTask(ctx, task); err != nil {
			logger.Warn().
				Str(xlog.FieldSessionID, task.SessionID).
				Str(xlog.FieldTaskKind, task.Kind).
				Err(err).
				Msg("task ended in failure")
		}
	}
}

// DrainOne processes a single task from the named queue, for synchronous
// paths and tests.
func (o *Orchestrator) DrainOne(ctx context.Context, name string) error {
	task, err := o.queue.Dequeue(ctx, name)
	if err != nil {
		return err
	}
	return o.HandleTask(ctx, task)
}
