package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"practice-pipeline/internal/config"
	"practice-pipeline/internal/domain/ports/adapter"
	"practice-pipeline/internal/infra/metrics"
	"practice-pipeline/internal/usecase"
)

const requestTimeout = 30 * time.Second

// Deps are the collaborators the HTTP API drives.
type Deps struct {
	Attempts usecase.AttemptUseCase
	Images   usecase.ImageUseCase
	Users    usecase.UserUseCase
	Jobs     adapter.JobInspector
	Auth     *AuthManager
	Limiter  adapter.RateLimiter // optional
	Uploads  http.Handler        // serves stored objects; optional
	// UploadsPrefix is the public path Uploads is mounted under.
	UploadsPrefix string
	// KeyPrefix namespaces rate limit counters in Redis.
	KeyPrefix string
}

type Server struct {
	attempts      usecase.AttemptUseCase
	images        usecase.ImageUseCase
	users         usecase.UserUseCase
	jobs          adapter.JobInspector
	auth          *AuthManager
	limiter       adapter.RateLimiter
	uploads       http.Handler
	uploadsPrefix string
	keyPrefix     string
	cfg           config.HTTPConfig
	log           *zerolog.Logger

	srv *http.Server
}

func NewServer(cfg config.HTTPConfig, d Deps, logger *zerolog.Logger) *Server {
	s := &Server{
		attempts:      d.Attempts,
		images:        d.Images,
		users:         d.Users,
		jobs:          d.Jobs,
		auth:          d.Auth,
		limiter:       d.Limiter,
		uploads:       d.Uploads,
		uploadsPrefix: d.UploadsPrefix,
		keyPrefix:     d.KeyPrefix,
		cfg:           cfg,
		log:           logger,
	}
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the router. Everything under /api/v1 needs a bearer token.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TraceID())
	r.Use(RequestLog(s.log))
	r.Use(Recover(s.log))

	r.Get("/healthz", s.health)
	r.Handle("/metrics", metrics.Handler())
	if s.uploads != nil && s.uploadsPrefix != "" {
		r.Handle(s.uploadsPrefix+"/*", s.uploads)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Timeout(requestTimeout))
		r.Use(s.authenticate)
		r.Use(s.rateLimit)

		r.Route("/attempts", func(r chi.Router) {
			r.Post("/", s.createAttempt)
			r.Get("/", s.listAttempts)
			r.Get("/{id}", s.getAttempt)
			r.Patch("/{id}", s.updateAttempt)
		})

		r.Route("/images", func(r chi.Router) {
			r.Post("/", s.uploadImage)
			r.Post("/generate", s.generateImage)
			r.Get("/{id}", s.getImage)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAdmin)
			r.Get("/queues/{queue}/stats", s.queueStats)
			r.Get("/queues/{queue}/failed", s.failedJobs)
			r.Post("/queues/{queue}/failed/{id}/retry", s.retryJob)
		})
	})
	return r
}

// Start blocks until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
