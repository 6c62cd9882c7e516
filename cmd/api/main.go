package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/orderdesk/api/internal/di"
	"github.com/orderdesk/api/internal/handlers"
	"github.com/orderdesk/api/internal/platform/config"
	"github.com/orderdesk/api/internal/platform/events"
	pfirestore "github.com/orderdesk/api/internal/platform/firestore"
	"github.com/orderdesk/api/internal/platform/observability"
	firestoreRepo "github.com/orderdesk/api/internal/repositories/firestore"
	"github.com/orderdesk/api/internal/services"
)

const (
	batchRateLimit  = 30
	batchRateWindow = time.Minute

	envPubSubEmulatorHost = "PUBSUB_EMULATOR_HOST"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load(ctx)
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(cfg, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	containerOpts := []di.ContainerOption{
		di.WithBuildInfo(buildInfo),
		di.WithLogger(logger),
	}

	if cfg.Features.PublishEvents {
		publisher, cleanup, err := newEventPublisher(ctx, cfg)
		if err != nil {
			logger.Fatal("failed to initialise event publisher", zap.Error(err))
		}
		defer cleanup()
		containerOpts = append(containerOpts, di.WithEventPublisher(publisher))
	}

	container, err := di.NewContainer(ctx, cfg, registry, containerOpts...)
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}
	svc := container.Services

	orderHandlers := handlers.NewOrderHandlers(svc.Orders, svc.Payments, svc.Audit)
	returnHandlers := handlers.NewReturnHandlers(svc.Returns)
	issueHandlers := handlers.NewIssueHandlers(svc.Issues)
	batchHandlers := handlers.NewBatchHandlers(svc.Batch,
		handlers.WithBatchRateLimit(batchRateLimit, batchRateWindow, time.Now),
	)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthSystemService(svc.System),
		handlers.WithHealthBuildInfo(buildInfo),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	router := handlers.NewRouter(
		handlers.WithRequestTimeout(cfg.Server.RequestTimeout),
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithReturnRoutes(returnHandlers.Routes),
		handlers.WithIssueRoutes(issueHandlers.Routes),
		handlers.WithBatchRoutes(batchHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("orderdesk api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(os.Getenv("API_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("API_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

// newEventPublisher builds the Pub/Sub backed publisher along with a cleanup
// function that stops the topic and closes the client.
func newEventPublisher(ctx context.Context, cfg config.Config) (services.EventPublisher, func(), error) {
	projectID := strings.TrimSpace(cfg.PubSub.ProjectID)
	if projectID == "" {
		projectID = strings.TrimSpace(cfg.Firestore.ProjectID)
	}
	if projectID == "" {
		return nil, nil, errors.New("pubsub: project id is required")
	}

	if host := strings.TrimSpace(cfg.PubSub.EmulatorHost); host != "" {
		if os.Getenv(envPubSubEmulatorHost) == "" {
			_ = os.Setenv(envPubSubEmulatorHost, host)
		}
	}

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub: create client: %w", err)
	}

	topic := client.Topic(cfg.PubSub.Topic)
	publisher, err := events.NewPubSubPublisher(topic)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	cleanup := func() {
		topic.Stop()
		_ = client.Close()
	}
	return publisher, cleanup, nil
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firestore.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.PubSub.ProjectID)
}
