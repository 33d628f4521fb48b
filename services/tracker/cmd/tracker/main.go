package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"jobwatch/pkg/db"
	"jobwatch/pkg/telemetry"
	"jobwatch/services/tracker"
)

func main() {
	if err := run("jobwatch-tracker"); err != nil {
		log.Fatal().Err(err).Msg("tracker exited")
	}
}

func run(serviceName string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	settings, err := tracker.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	shutdownTelemetry, middleware, logger, err := telemetry.Init(ctx, serviceName, telemetry.Options{
		Endpoint: settings.OTLPEndpoint,
		Level:    settings.LogLevel,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("telemetry shutdown")
		}
	}()

	pool, err := db.Open(ctx, settings.DBDSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	orm, err := db.OpenORM(ctx, settings.DBDSN)
	if err != nil {
		return fmt.Errorf("open orm: %w", err)
	}
	defer func() {
		if err := db.CloseORM(orm); err != nil {
			logger.Error().Err(err).Msg("close orm")
		}
	}()

	var nc *nats.Conn
	if settings.NATSURL != "" {
		nc, err = nats.Connect(settings.NATSURL, nats.Name(serviceName))
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Close()
	}

	deps := tracker.Deps{DB: pool, ORM: orm, Bus: nc}

	store, err := tracker.NewGormStore(orm)
	if err != nil {
		return err
	}
	svc, err := tracker.NewService(store,
		tracker.WithLogger(logger),
		tracker.WithPublisher(tracker.NATSPublisher(nc, logger)),
	)
	if err != nil {
		return err
	}

	api, err := tracker.New(svc, deps, settings.APIConfig(), logger)
	if err != nil {
		return err
	}
	routes, err := api.Routes()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              settings.Addr,
		Handler:           middleware(routes),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", settings.Addr).Msg("starting tracker")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	logger.Info().Msg("tracker stopped")
	return nil
}
