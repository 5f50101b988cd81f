// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"practice-pipeline/internal/config"
	"practice-pipeline/internal/domain/model"
	"practice-pipeline/internal/infra/imageproc"
	"practice-pipeline/internal/infra/logging"
	"practice-pipeline/internal/infra/metrics"
	"practice-pipeline/internal/infra/queue"
	"practice-pipeline/internal/infra/scheduler"
	"practice-pipeline/internal/infra/storage"
	"practice-pipeline/internal/infra/web"
	"practice-pipeline/internal/infra/worker"
	"practice-pipeline/internal/usecase"
)

// devJWTSecret only signs tokens in -dev runs; validation rejects an empty
// secret everywhere else.
const devJWTSecret = "practice-pipeline-dev-secret"

// Set with -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "practice-pipeline: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "run on in-memory backends")
	role := flag.String("role", "all", "api | worker | all")
	flag.Parse()

	switch *role {
	case "api", "worker", "all":
	default:
		return fmt.Errorf("unknown role %q", *role)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(ctx, *cfgPath, *devMode)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	log.Info().Str("version", version).Str("role", *role).Bool("dev", cfg.Runtime.Dev).Msg("starting")

	if cfg.Queue.Backend == "memory" && *role != "all" {
		log.Warn().Str("role", *role).Msg("memory queue is process local; api and worker must share a process")
	}

	// ---- Backends ----
	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	store, err := storage.NewLocal(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	q := queue.New(b.broker, log,
		queue.WithClaimWait(cfg.Queue.ClaimWait),
		queue.WithJobTimeout(cfg.Queue.JobTimeout),
		queue.WithDefaults(model.JobOptions{
			Attempts: cfg.Queue.Attempts,
			Backoff:  model.Backoff{Type: model.BackoffExponential, DelayMS: cfg.Queue.BackoffDelayMS},
		}),
	)
	defer q.Close()

	// ---- Use cases ----
	attemptUC := usecase.NewAttemptUseCase(b.attempts, b.images, b.users, b.tm, q, b.locker,
		cfg.Pipeline.DedupTTL, cfg.Pipeline.PollingWindow, log)
	imageUC := usecase.NewImageUseCase(b.images, store, q, log)
	userUC := usecase.NewUserUseCase(b.users, b.tm, log)

	g, gctx := errgroup.WithContext(ctx)

	// ---- Workers ----
	if *role != "api" {
		prov, err := openProviders(ctx, cfg, log)
		if err != nil {
			return err
		}
		worker.Register(q, cfg.Queue,
			worker.NewOCRProcessor(b.attempts, store, prov.recognizer, attemptUC,
				preprocessOptions(cfg.Pipeline), cfg.Pipeline.AnalysisDelay, log),
			worker.NewAnalysisProcessor(b.attempts, prov.evaluator, b.locker,
				cfg.Pipeline.StageLockTTL, cfg.Pipeline.PromptVersion, log),
			worker.NewImageProcessor(b.images, store, prov.images, log),
		)
		g.Go(func() error { return q.Run(gctx) })

		tasks := []scheduler.Task{{Name: "queue-maintenance", Run: q.Maintain}}
		if b.poolStats != nil {
			tasks = append(tasks, scheduler.Task{Name: "db-pool-stats", Run: b.poolStats})
		}
		g.Go(func() error { return scheduler.NewScheduler(cfg.Queue.MaintainEvery, log, tasks...).Run(gctx) })
	}

	// ---- HTTP API ----
	if *role != "worker" {
		secret := cfg.HTTP.JWTSecret
		if secret == "" {
			log.Warn().Msg("http.jwt_secret not set; falling back to dev secret (INSECURE)")
			secret = devJWTSecret
		}
		srv := web.NewServer(cfg.HTTP, web.Deps{
			Attempts:      attemptUC,
			Images:        imageUC,
			Users:         userUC,
			Jobs:          q,
			Auth:          web.NewAuthManager(secret, 0),
			Limiter:       b.limiter,
			Uploads:       store.Handler(),
			UploadsPrefix: cfg.Storage.PublicPrefix,
			KeyPrefix:     cfg.Redis.Prefix,
		}, log)
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// ---- Graceful shutdown ----
	err = g.Wait()
	log.Info().Msg("shutdown complete")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func preprocessOptions(p config.PipelineConfig) imageproc.Options {
	return imageproc.Options{Binarize: p.Binarize, Cutoff: p.BinarizeCutoff}
}
