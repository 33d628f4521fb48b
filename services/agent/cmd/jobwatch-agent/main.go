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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"

	"jobwatch/pkg/bus"
	"jobwatch/pkg/client"
	"jobwatch/pkg/telemetry"
	"jobwatch/services/agent"
	"jobwatch/services/engine"
)

const (
	serviceName   = "jobwatch-agent"
	defaultStream = "JOBWATCH_ENGINE"
)

// settings are read from the environment and act as flag defaults.
type settings struct {
	client.Settings

	NATSURL      string `env:"NATS_URL"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	LogLevel     string `env:"LOG_LEVEL,default=info"`
}

type globalFlags struct {
	backendURL string
	natsURL    string
	scope      string
	logLevel   string
	console    bool
	otlp       string
}

func main() {
	_ = godotenv.Load()

	var env settings
	if err := envconfig.Process(context.Background(), &env); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(env).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(env settings) *cobra.Command {
	flags := &globalFlags{otlp: env.OTLPEndpoint}

	cmd := &cobra.Command{
		Use:           serviceName,
		Short:         "Report execution engine lifecycles to the jobwatch tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.backendURL, "backend-url", env.BackendURL, "Base URL of the tracking service")
	pf.StringVar(&flags.natsURL, "nats-url", env.NATSURL, "NATS server for engine events")
	pf.StringVar(&flags.scope, "scope", string(agent.ScopeJob), "What to record: job, application or both")
	pf.StringVar(&flags.logLevel, "log-level", env.LogLevel, "Log level")
	pf.BoolVar(&flags.console, "console", false, "Human-readable log output")

	cmd.AddCommand(newRunCommand(flags))
	cmd.AddCommand(newWatchCommand(flags))
	return cmd
}

// session holds what every subcommand needs: a logger, the tracker client and telemetry.
type session struct {
	logger   zerolog.Logger
	tracker  *client.Client
	scope    agent.Scope
	shutdown func(context.Context) error
}

func openSession(ctx context.Context, flags *globalFlags) (*session, error) {
	shutdown, _, logger, err := telemetry.Init(ctx, serviceName, telemetry.Options{
		Endpoint: flags.otlp,
		Level:    flags.logLevel,
		Console:  flags.console,
		Out:      os.Stderr,
	})
	if err != nil {
		return nil, err
	}

	scope, err := agent.ParseScope(flags.scope)
	if err != nil {
		return nil, err
	}
	tracker, err := client.New(flags.backendURL)
	if err != nil {
		return nil, err
	}

	logger.Info().Str("backend_url", tracker.BaseURL()).Str("scope", string(scope)).Msg("agent ready")
	return &session{logger: logger, tracker: tracker, scope: scope, shutdown: shutdown}, nil
}

// newAgent returns a fresh agent. Each monitored engine gets its own, so correlation
// state is never shared between engines.
func (s *session) newAgent(logger zerolog.Logger) (*agent.Agent, error) {
	return agent.New(s.tracker, s.scope, agent.WithLogger(logger))
}

// close flushes telemetry. Agents must be closed first.
func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("telemetry shutdown")
	}
}

func newRunCommand(flags *globalFlags) *cobra.Command {
	var subject, stream string

	cmd := &cobra.Command{
		Use:   "run PIPELINE",
		Short: "Run a YAML pipeline locally and report its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			pipeline, err := engine.LoadPipeline(args[0])
			if err != nil {
				return err
			}

			s, err := openSession(ctx, flags)
			if err != nil {
				return err
			}
			defer s.close()

			a, err := s.newAgent(s.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			var listener agent.Listener = a
			if flags.natsURL != "" {
				b, err := bus.New(flags.natsURL, nats.Name(serviceName))
				if err != nil {
					return fmt.Errorf("connect nats: %w", err)
				}
				defer b.Close()
				if stream != "" {
					if err := b.EnsureStream(stream, subject); err != nil {
						return fmt.Errorf("ensure stream: %w", err)
					}
				}
				emitter, err := engine.NewEmitter(ctx, b, subject, s.logger)
				if err != nil {
					return err
				}
				listener = agent.Tee(a, emitter)
			}

			runner, err := engine.NewRunner(listener, engine.WithRunnerLogger(s.logger))
			if err != nil {
				return err
			}

			s.logger.Info().Str("pipeline", pipeline.Name).Str("run_id", pipeline.RunID).Msg("running pipeline")
			return runner.Run(ctx, pipeline)
		},
	}

	cmd.Flags().StringVar(&subject, "emit-subject", engine.DefaultSubject, "Also publish engine events to this subject when --nats-url is set")
	cmd.Flags().StringVar(&stream, "stream", defaultStream, "Stream to create for the subject if missing; empty to skip")
	return cmd
}

func newWatchCommand(flags *globalFlags) *cobra.Command {
	var (
		subject     string
		durable     string
		stream      string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Consume engine events from NATS JetStream and report them",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if flags.natsURL == "" {
				return errors.New("--nats-url or NATS_URL is required")
			}

			s, err := openSession(ctx, flags)
			if err != nil {
				return err
			}
			defer s.close()

			b, err := bus.New(flags.natsURL, nats.Name(serviceName))
			if err != nil {
				return fmt.Errorf("connect nats: %w", err)
			}
			defer b.Close()

			if stream != "" {
				if err := b.EnsureStream(stream, subject); err != nil {
					return fmt.Errorf("ensure stream: %w", err)
				}
			}

			if metricsAddr != "" {
				srv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 10 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						s.logger.Error().Err(err).Msg("metrics server")
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			feed, err := engine.NewFeed(b, subject, durable, func(source string) (engine.Session, error) {
				s.logger.Info().Str("source", source).Msg("tracking new engine")
				return s.newAgent(s.logger.With().Str("source", source).Logger())
			}, s.logger)
			if err != nil {
				return err
			}
			return feed.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&subject, "subject", engine.DefaultSubject, "Subject engine events are published on")
	cmd.Flags().StringVar(&durable, "durable", serviceName, "Durable consumer name")
	cmd.Flags().StringVar(&stream, "stream", defaultStream, "Stream to create for the subject if missing; empty to skip")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}
