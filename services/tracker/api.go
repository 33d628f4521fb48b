package tracker

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"jobwatch/pkg/db"
)

const (
	defaultRateLimit      = 100
	defaultRequestTimeout = 60 * time.Second
)

// Config controls runtime behaviour for the HTTP surface.
type Config struct {
	AllowedOrigins []string
	RateLimit      int
	RequestTimeout time.Duration
}

// API wires the tracking service and its dependencies to HTTP handlers.
type API struct {
	svc    *Service
	deps   Deps
	config Config
	logger zerolog.Logger
}

// New initialises the API layer with sane defaults applied to the provided configuration.
func New(svc *Service, deps Deps, cfg Config, logger zerolog.Logger) (*API, error) {
	if svc == nil {
		return nil, errors.New("service is required")
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	return &API{svc: svc, deps: deps, config: cfg, logger: logger}, nil
}

// Routes constructs the chi router containing all endpoints.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(a.config.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.config.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         int((10 * time.Minute).Seconds()),
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", a.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/jobs", func(r chi.Router) {
		// Agents report once and never retry, so ingestion is not rate limited.
		r.Post("/", a.handleStartJob)
		r.Put("/", a.handleUpdateJobByKey)
		r.Put("/{id}", a.handleUpdateJob)

		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(a.config.RateLimit, time.Minute))
			r.Get("/", a.handleListJobs)
			r.Get("/stats", a.handleStats)
			r.Get("/{id}", a.handleGetJob)
		})
	})

	return r, nil
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.ping(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("readiness check failed")
		respondError(w, http.StatusServiceUnavailable, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (a *API) ping(ctx context.Context) error {
	if a.deps.DB != nil {
		if err := db.Ping(ctx, a.deps.DB); err != nil {
			return errors.Wrap(err, "database")
		}
	}
	if a.deps.ORM != nil {
		sqlDB, err := a.deps.ORM.DB()
		if err != nil {
			return errors.Wrap(err, "orm")
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return errors.Wrap(err, "orm")
		}
	}
	if a.deps.Bus != nil && !a.deps.Bus.IsConnected() {
		return errors.New("nats: not connected")
	}
	return nil
}
