// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

// Command opusmix runs the automated DJ set compiler: the HTTP API, the
// pipeline workers, or a one-off track analysis.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/opusai/opusmix/internal/admin"
	"github.com/opusai/opusmix/internal/analysis"
	"github.com/opusai/opusmix/internal/api"
	"github.com/opusai/opusmix/internal/brain"
	"github.com/opusai/opusmix/internal/config"
	xlog "github.com/opusai/opusmix/internal/log"
	"github.com/opusai/opusmix/internal/metrics"
	"github.com/opusai/opusmix/internal/pipeline"
	"github.com/opusai/opusmix/internal/progress"
	"github.com/opusai/opusmix/internal/queue"
	"github.com/opusai/opusmix/internal/render"
	"github.com/opusai/opusmix/internal/samples"
	"github.com/opusai/opusmix/internal/session"
	"github.com/opusai/opusmix/internal/store"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "opusmix",
		Short:         "Automated DJ set compiler",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			_ = godotenv.Load()
			xlog.Configure(xlog.Config{Level: os.Getenv("OPUSMIX_LOG_LEVEL")})
		},
	}
	root.AddCommand(serveCmd(), workerCmd(), analyzeCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with in-process pipeline workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run pipeline workers only (requires OPUSMIX_REDIS_URL)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.FromEnv()
			if err := cfg.Validate(); err != nil {
				return err
			}
			if cfg.RedisURL == "" {
				return errors.New("worker mode needs OPUSMIX_REDIS_URL; without it tasks never leave the serve process")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.close()

			logger := xlog.WithComponent("main")
			logger.Info().
				Int("brain_workers", cfg.BrainWorkers).
				Int("audio_workers", cfg.AudioWorkers).
				Msg("workers started")
			return app.orch.RunWorkers(ctx, cfg.BrainWorkers, cfg.AudioWorkers)
		},
	}
}

func analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <file>...",
		Short: "Analyze tracks and print their features as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			an := analysis.New(render.NewFFmpegEngine())
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			for _, path := range args {
				if err := enc.Encode(an.Analyze(cmd.Context(), path)); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func runServe(parent context.Context) error {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.close()

	server := api.New(api.Deps{
		Orchestrator: app.orch,
		Store:        app.store,
		Bus:          app.bus,
		Admin:        app.admin,
		Sessions:     app.sessions,
		Metrics:      app.metrics,
	})
	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger := xlog.WithComponent("main")
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("listen", cfg.Listen).Msg("api listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return app.orch.RunWorkers(ctx, cfg.BrainWorkers, cfg.AudioWorkers)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// app bundles the wired components shared by serve and worker modes.
type app struct {
	store    store.Store
	queue    queue.Queue
	bus      progress.Bus
	admin    *admin.Store
	orch     *pipeline.Orchestrator
	sessions *session.Manager
	metrics  *metrics.Metrics

	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp selects backends from the configuration: Redis when a URL is
// set, in-process otherwise.
func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	logger := xlog.WithComponent("main")
	a := &app{metrics: metrics.New()}

	if cfg.RedisURL != "" {
		st, err := store.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis store: %w", err)
		}
		q, err := queue.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("redis queue: %w", err)
		}
		bus, err := progress.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			st.Close()
			q.Close()
			return nil, fmt.Errorf("redis progress bus: %w", err)
		}
		a.store, a.queue, a.bus = st, q, bus
	} else {
		logger.Warn().Msg("no redis configured, using in-process backends (single node only)")
		a.store = store.NewMemory()
		a.queue = queue.NewMemory()
		a.bus = progress.NewMemory()
	}
	a.closers = append(a.closers, func() {
		a.bus.Close()
		a.queue.Close()
		a.store.Close()
	})

	var adminClient *redis.Client
	if cfg.RedisURL != "" {
		if opts, err := redis.ParseURL(cfg.RedisURL); err == nil {
			adminClient = redis.NewClient(opts)
			a.closers = append(a.closers, func() { adminClient.Close() })
		}
	}
	a.admin = admin.NewStore(cfg.AdminConfigPath(), adminClient)
	if err := a.admin.StartWatcher(ctx); err != nil {
		logger.Warn().Err(err).Msg("admin config watcher unavailable")
	}
	a.closers = append(a.closers, a.admin.Stop)

	engine := render.NewFFmpegEngine()
	analyzer := analysis.New(engine)

	var library *samples.Library
	if cfg.SamplesDir != "" {
		cache, err := samples.OpenCache(filepath.Join(cfg.SamplesDir, "metadata.db"))
		if err != nil {
			logger.Warn().Err(err).Msg("sample metadata cache unavailable")
		} else {
			a.closers = append(a.closers, func() { cache.Close() })
		}
		library = samples.NewLibrary(cfg.SamplesDir, cache, func(ctx context.Context, path string) samples.Metadata {
			out := analyzer.Analyze(ctx, path)
			return samples.Metadata{
				BPM:        out.BPM,
				KeyTonic:   out.KeyTonic,
				KeyScale:   out.KeyScale,
				KeyCamelot: out.KeyCamelot,
			}
		})
	}

	var llm brain.LLM
	if cfg.OpenAIAPIKey != "" {
		llm = brain.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.DecisionModel)
	} else {
		logger.Info().Msg("no llm credentials, strategy decisions use the heuristic")
	}

	a.sessions = session.NewManager(cfg.SessionRoot, cfg.MaxUploadBytes())
	a.orch = pipeline.NewOrchestrator(pipeline.Deps{
		Store:    a.store,
		Queue:    a.queue,
		Bus:      a.bus,
		Admin:    a.admin,
		Analyzer: analyzer,
		Brain:    brain.New(llm),
		Library:  library,
		Cloud:    samples.LoadCloudIndex(cfg.CloudIndex),
		Engine:   engine,
		Sessions: a.sessions,
		Metrics:  a.metrics,
	})
	return a, nil
}
