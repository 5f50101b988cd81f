package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"practice-pipeline/internal/config"
	"practice-pipeline/internal/domain/ports/adapter"
	"practice-pipeline/internal/domain/ports/repository"
	"practice-pipeline/internal/infra/adapters/ai"
	"practice-pipeline/internal/infra/adapters/imagegen"
	"practice-pipeline/internal/infra/adapters/ocr"
	pg "practice-pipeline/internal/infra/db/postgres"
	"practice-pipeline/internal/infra/memory"
	"practice-pipeline/internal/infra/metrics"
	"practice-pipeline/internal/infra/queue"
	red "practice-pipeline/internal/infra/redis"
	"practice-pipeline/internal/infra/worker"
)

// backends are the stateful dependencies shared by the API and the workers.
type backends struct {
	attempts repository.AttemptRepository
	images   repository.ImageRepository
	users    repository.UserRepository
	tm       repository.TransactionManager
	broker   queue.Broker
	locker   adapter.Locker
	limiter  adapter.RateLimiter

	poolStats func(context.Context) error
	closers   []func() error
}

func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

// openBackends picks in-memory stores in dev mode and Postgres plus Redis
// otherwise. The queue backend follows queue.backend.
func openBackends(ctx context.Context, cfg *config.Config, log *zerolog.Logger) (*backends, error) {
	b := &backends{}

	if cfg.Runtime.Dev && cfg.Database.URL == "" {
		images := memory.NewImageRepo()
		users := memory.NewUserRepo()
		b.images, b.users = images, users
		b.attempts = memory.NewAttemptRepo(images, users)
		b.tm = memory.TxManager{}
		log.Warn().Msg("using in-memory repositories; data is lost on exit")
	} else {
		pool, err := pg.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		b.closers = append(b.closers, func() error { pool.Close(); return nil })
		images := pg.NewImageRepo(pool)
		users := pg.NewUserRepo(pool)
		tm := pg.NewTxManager(pool)
		b.images, b.users, b.tm = images, users, tm
		b.attempts = pg.NewAttemptRepo(pool, tm, images, users)
		b.poolStats = poolStats(pool)
	}

	var rc *red.Client
	if cfg.Redis.URL != "" {
		c, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		rc = c
		b.closers = append(b.closers, c.Close)
		b.locker = red.NewLocker(c)
		b.limiter = red.NewRateLimiter(c)
	} else {
		b.locker = memory.NewLocker()
		b.limiter = memory.NewRateLimiter()
	}

	switch cfg.Queue.Backend {
	case "redis":
		if rc == nil {
			_ = b.Close()
			return nil, errors.New("queue.backend redis needs redis.url")
		}
		b.broker = queue.NewRedisBroker(rc.Raw(), cfg.Redis.Prefix, cfg.Queue.Lease)
	default:
		b.broker = queue.NewMemoryBroker(cfg.Queue.Lease)
	}
	log.Info().Str("queue", cfg.Queue.Backend).Bool("redis", rc != nil).Msg("backends ready")
	return b, nil
}

func poolStats(pool *pgxpool.Pool) func(context.Context) error {
	return func(context.Context) error {
		st := pool.Stat()
		metrics.SetDBPoolStats(st.TotalConns(), st.IdleConns(), st.AcquiredConns())
		return nil
	}
}

// providers are the external services the workers call, each behind a chain
// that degrades instead of failing.
type providers struct {
	evaluator  adapter.Evaluator
	recognizer adapter.Recognizer
	images     worker.ImageSource
}

func openProviders(ctx context.Context, cfg *config.Config, log *zerolog.Logger) (*providers, error) {
	var gclient *genai.Client
	if cfg.AI.GeminiKey != "" {
		c, err := ai.NewGenAIClient(ctx, cfg.AI.GeminiKey, cfg.AI.GeminiURL)
		if err != nil {
			return nil, fmt.Errorf("genai client: %w", err)
		}
		gclient = c
	}

	// ---- Evaluators ----
	var evaluators []adapter.Evaluator
	for _, name := range cfg.AI.Providers {
		switch name {
		case "gemini":
			if gclient == nil {
				log.Warn().Msg("gemini evaluator configured without ai.gemini_key; skipped")
				continue
			}
			evaluators = append(evaluators, ai.NewGeminiEvaluator(gclient, cfg.AI.GeminiModel, cfg.AI.MaxOutputTokens))
		case "openai":
			if cfg.AI.OpenAIKey == "" {
				log.Warn().Msg("openai evaluator configured without ai.openai_key; skipped")
				continue
			}
			ev, err := ai.NewOpenAIEvaluator(cfg.AI.OpenAIKey, cfg.AI.OpenAIBaseURL, cfg.AI.OpenAIModel, cfg.AI.MaxOutputTokens)
			if err != nil {
				return nil, fmt.Errorf("openai evaluator: %w", err)
			}
			evaluators = append(evaluators, ev)
		case "noop":
			evaluators = append(evaluators, ai.NewNoopEvaluator())
		default:
			return nil, fmt.Errorf("unknown ai provider %q", name)
		}
	}
	if len(evaluators) == 0 {
		if !cfg.Runtime.Dev {
			return nil, errors.New("no ai provider available: set ai.gemini_key or ai.openai_key")
		}
		log.Warn().Msg("no ai provider configured; using the noop evaluator")
		evaluators = append(evaluators, ai.NewNoopEvaluator())
	}

	// ---- Recognizers ----
	var recognizers []adapter.Recognizer
	httpClient := &http.Client{Timeout: cfg.OCR.Timeout}
	for _, name := range cfg.OCR.Providers {
		switch name {
		case "vision":
			if cfg.OCR.VisionKey == "" {
				log.Warn().Msg("vision recognizer configured without ocr.vision_key; skipped")
				continue
			}
			r, err := ocr.NewVisionRecognizer(cfg.OCR.VisionURL, cfg.OCR.VisionKey, httpClient)
			if err != nil {
				return nil, fmt.Errorf("vision recognizer: %w", err)
			}
			recognizers = append(recognizers, r)
		case "gemini":
			if gclient == nil {
				continue
			}
			recognizers = append(recognizers, ocr.NewGeminiRecognizer(gclient, cfg.OCR.GeminiModel))
		default:
			return nil, fmt.Errorf("unknown ocr provider %q", name)
		}
	}
	if len(recognizers) == 0 {
		log.Warn().Msg("no ocr provider available; every extraction uses the fallback text")
	}

	// ---- Image generators ----
	var generators []adapter.ImageGenerator
	genClient := &http.Client{Timeout: cfg.ImageGen.Timeout}
	for _, ep := range cfg.ImageGen.Endpoints {
		generators = append(generators, imagegen.NewHTTPGenerator(ep, cfg.ImageGen.APIKey, cfg.ImageGen.APIKeyName, genClient))
	}
	if cfg.ImageGen.ImagenModel != "" && gclient != nil {
		generators = append(generators, imagegen.NewImagenGenerator(gclient, cfg.ImageGen.ImagenModel))
	}

	return &providers{
		evaluator:  ai.NewLimited(ai.NewChain(log, cfg.AI.Timeout, evaluators...), cfg.AI.ConcurrentLimit),
		recognizer: ocr.NewChain(log, cfg.OCR.Timeout, recognizers...),
		images:     imagegen.NewChain(log, cfg.ImageGen.Timeout, generators...),
	}, nil
}
