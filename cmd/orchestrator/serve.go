package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/leadpipe/orchestrator/pkg/audit"
	"github.com/leadpipe/orchestrator/pkg/channels/kafka"
	"github.com/leadpipe/orchestrator/pkg/cmd"
	"github.com/leadpipe/orchestrator/pkg/engine"
	"github.com/leadpipe/orchestrator/pkg/log"
	"github.com/leadpipe/orchestrator/pkg/metrics"
	"github.com/leadpipe/orchestrator/pkg/models"
	"github.com/leadpipe/orchestrator/pkg/orchestrator"
	"github.com/leadpipe/orchestrator/pkg/otelhelper"
	"github.com/leadpipe/orchestrator/pkg/providers"
	"github.com/leadpipe/orchestrator/pkg/recovery"
	"github.com/leadpipe/orchestrator/pkg/retention"
	"github.com/leadpipe/orchestrator/pkg/services"
	"github.com/leadpipe/orchestrator/pkg/tracker"
	"github.com/leadpipe/orchestrator/pkg/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultPort        = 9091
	defaultMetricsPort = 9092
	shutdownTimeout    = 15 * time.Second
)

func ServeCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port for the completion gateway",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.IntFlag{
			Name:    "metrics-port",
			Usage:   "Port for the Prometheus endpoint, 0 disables it",
			Value:   defaultMetricsPort,
			Sources: cli.EnvVars("METRICS_PORT"),
		},
		databaseFlag(),
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for provider selection, in-memory when empty",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "strategies-file",
			Usage:   "JSON file with recovery strategies, built-in strategies when empty",
			Sources: cli.EnvVars("RECOVERY_STRATEGIES_FILE"),
		},
		&cli.StringSliceFlag{
			Name:    "enrichment-fallback",
			Usage:   "Enrichment provider fallback order for the built-in strategies",
			Sources: cli.EnvVars("ENRICHMENT_FALLBACKS"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export OpenTelemetry traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
	}

	flags = append(flags, loggingFlags()...)
	flags = append(flags, orchestrationFlags()...)
	flags = append(flags, retentionFlags()...)

	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the completion gateway, orchestrator, recovery engine and retention sweeper",
		Flags:  flags,
		Action: serve,
	}
}

func serve(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule("orchestrator")

	cfg, err := buildConfig(command)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.InfoContext(ctx, "Initializing orchestrator")

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return fmt.Errorf("failed to open persistence: %w", err)
	}

	defer func() {
		err := store.Close(context.WithoutCancel(ctx))
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	bus, err := cmd.NewEventBus(command.String("event-bus"), kafka.ParseBrokers(command.String("kafka-brokers")), logger)
	if err != nil {
		return err
	}

	defer func() {
		err := bus.Close()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	providerStore, closeProviders, err := newProviderStore(ctx, command.String("redis-url"))
	if err != nil {
		return err
	}
	defer closeProviders()

	tracer, shutdownTracer, err := newTracer(ctx, command.Bool("tracing"))
	if err != nil {
		return err
	}

	defer func() {
		err := shutdownTracer(context.WithoutCancel(ctx))
		if err != nil {
			logger.ErrorContext(ctx, "Failed to shut down tracer", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sink := metrics.NewPrometheusSink(registry, logger)

	strategies, err := loadStrategies(command.String("strategies-file"), command.StringSlice("enrichment-fallback"))
	if err != nil {
		return err
	}

	executions := tracker.New(store.ExecutionRepository(), logger)
	auditSink := audit.Multi{
		audit.NewRepositorySink(store.ActionLogRepository(), time.Now),
		audit.NewBusSink(bus, time.Now),
	}
	reporter := recovery.NewBusReporter(bus, "orchestrator")

	orch := orchestrator.New(cfg, orchestrator.Dependencies{
		Tracker:   executions,
		Workflows: store.WorkflowRepository(),
		Leads:     store.LeadRepository(),
		Engine:    engine.NewHTTPClient(cfg.WebhookSecret, logger, engine.WithMetrics(sink)),
		Providers: providerStore,
		Audit:     auditSink,
		Logger:    logger,
	},
		orchestrator.WithPublisher(bus),
		orchestrator.WithMetrics(sink),
		orchestrator.WithTracer(tracer),
		orchestrator.WithErrorReporter(reporter),
	)

	recoveryEngine := recovery.New(store.ExecutionRepository(), providerStore, auditSink, logger,
		recovery.WithStrategies(strategies...),
		recovery.WithMetrics(sink),
	)
	recoveryEngine.SetCollaborators(orch, orch)

	err = recoveryEngine.Subscribe(bus)
	if err != nil {
		return fmt.Errorf("failed to subscribe recovery engine: %w", err)
	}

	err = bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to event bus: %w", err)
	}

	completion := services.NewCompletion(services.CompletionDependencies{
		Orchestrator: orch,
		Tracker:      executions,
		Executions:   store.ExecutionRepository(),
		Leads:        store.LeadRepository(),
		Replies:      store.ReplyRepository(),
		Bookings:     store.BookingRepository(),
		Audit:        auditSink,
		Reporter:     reporter,
		Logger:       logger,
	})

	sweeper := retention.NewSweeper(store.ExecutionRepository(), cfg.Retention.MaxAge, logger, retention.WithMetrics(sink))

	err = sweeper.Start(ctx, cfg.Retention.Schedule)
	if err != nil {
		return err
	}

	app := web.NewApp(web.NewAPIHandlers(completion, executions, recoveryEngine, store, web.NewValidator(), sink))

	metricsServer := newMetricsServer(command.Int("metrics-port"), registry)

	errs := make(chan error, 2)

	go func() {
		errs <- app.Listen(":" + strconv.Itoa(command.Int("port")))
	}()

	if metricsServer != nil {
		go func() {
			err := metricsServer.ListenAndServe()
			if !errors.Is(err, http.ErrServerClosed) {
				errs <- err
			}
		}()
	}

	logger.InfoContext(ctx, "Orchestrator started", "port", command.Int("port"), "metrics_port", command.Int("metrics-port"))

	var runErr error

	select {
	case <-ctx.Done():
	case runErr = <-errs:
		logger.ErrorContext(ctx, "Server stopped unexpectedly", "error", runErr)
	}

	shutdown(logger, app.ShutdownWithContext, metricsServer, orch, sweeper)

	return runErr
}

func shutdown(
	logger *slog.Logger,
	stopApp func(context.Context) error,
	metricsServer *http.Server,
	orch *orchestrator.Orchestrator,
	sweeper *retention.Sweeper,
) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.InfoContext(ctx, "Shutting down orchestrator")

	err := stopApp(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to stop completion gateway", "error", err)
	}

	if metricsServer != nil {
		err := metricsServer.Shutdown(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to stop metrics server", "error", err)
		}
	}

	sweeper.Stop(ctx)

	err = orch.Shutdown(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Pending work did not finish before shutdown", "error", err)
	}
}

func newProviderStore(ctx context.Context, redisURL string) (providers.Store, func(), error) {
	if redisURL == "" {
		return providers.NewMemoryStore(), func() {}, nil
	}

	store, err := providers.NewRedisStoreFromURL(ctx, redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect provider store: %w", err)
	}

	return store, func() { _ = store.Close() }, nil
}

// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func newTracer(ctx context.Context, enabled bool) (trace.Tracer, func(context.Context) error, error) {
	if !enabled {
		return otelhelper.NoopTracer(), func(context.Context) error { return nil }, nil
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, "orchestrator")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	return tracer, shutdown, nil
}

func loadStrategies(path string, enrichmentFallbacks []string) ([]models.RecoveryStrategy, error) {
	if path == "" {
		return recovery.DefaultStrategies(enrichmentFallbacks...), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategies file: %w", err)
	}

	return recovery.LoadStrategies(data)
}

func newMetricsServer(port int, registry *prometheus.Registry) *http.Server {
	if port == 0 {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	return &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
