package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/orderdesk/api/internal/platform/config"
	"github.com/orderdesk/api/internal/platform/requestctx"
	"github.com/orderdesk/api/internal/repositories"
	"github.com/orderdesk/api/internal/services"
)

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     services.Fulfillment
}

// ContainerOption customises container construction.
type ContainerOption func(*containerOptions)

type containerOptions struct {
	events services.EventPublisher
	build  services.BuildInfo
	logger *zap.Logger
}

// WithEventPublisher wires the publisher used for domain events.
func WithEventPublisher(events services.EventPublisher) ContainerOption {
	return func(o *containerOptions) {
		o.events = events
	}
}

// WithBuildInfo attaches build metadata surfaced on health endpoints.
func WithBuildInfo(build services.BuildInfo) ContainerOption {
	return func(o *containerOptions) {
		o.build = build
	}
}

// WithLogger sets the base logger used for service-level events.
func WithLogger(logger *zap.Logger) ContainerOption {
	return func(o *containerOptions) {
		o.logger = logger
	}
}

// NewContainer constructs the runtime dependencies. Production wiring provides a
// Firestore-backed registry, while tests can supply the in-memory one.
func NewContainer(_ context.Context, cfg config.Config, reg repositories.Registry, opts ...ContainerOption) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	options := containerOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.build.Environment == "" {
		options.build.Environment = cfg.Environment
	}

	svc, err := buildServices(reg, cfg, options)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

// serviceLogger adapts the zap logger to the field-map logging hook services expect.
// Request-scoped loggers from context take precedence over the base logger.
func serviceLogger(base *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if base == nil {
		base = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.Logger(ctx)
		if logger == requestctx.NoopLogger() {
			logger = base
		}
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		logger.Info(event, zapFields...)
	}
}

func buildServices(reg repositories.Registry, cfg config.Config, options containerOptions) (services.Fulfillment, error) {
	var svc services.Fulfillment
	logger := serviceLogger(options.logger)

	auditSvc, err := services.NewAuditLogService(services.AuditLogServiceDeps{
		AuditLogs: reg.AuditLogs(),
		Clock:     time.Now,
	})
	if err != nil {
		return services.Fulfillment{}, fmt.Errorf("build audit log service: %w", err)
	}
	svc.Audit = auditSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:   reg.Orders(),
		Counters: reg.Counters(),
		Audit:    auditSvc,
		Clock:    time.Now,
		Events:   options.events,
		Logger:   logger,
	})
	if err != nil {
		return services.Fulfillment{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders: reg.Orders(),
		Audit:  auditSvc,
		Clock:  time.Now,
		Events: options.events,
		Logger: logger,
	})
	if err != nil {
		return services.Fulfillment{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	returnSvc, err := services.NewReturnService(services.ReturnServiceDeps{
		Returns: reg.Returns(),
		Orders:  reg.Orders(),
		Audit:   auditSvc,
		Clock:   time.Now,
		Events:  options.events,
		Logger:  logger,
	})
	if err != nil {
		return services.Fulfillment{}, fmt.Errorf("build return service: %w", err)
	}
	svc.Returns = returnSvc

	issueSvc, err := services.NewIssueService(services.IssueServiceDeps{
		Issues: reg.Issues(),
		Orders: reg.Orders(),
		Audit:  auditSvc,
		Clock:  time.Now,
		Events: options.events,
		Logger: logger,
	})
	if err != nil {
		return services.Fulfillment{}, fmt.Errorf("build issue service: %w", err)
	}
	svc.Issues = issueSvc

	batchSvc, err := services.NewBatchService(services.BatchServiceDeps{
		Orders:      orderSvc,
		Payments:    paymentSvc,
		Parallelism: cfg.Batch.Parallelism,
		MaxOrders:   cfg.Batch.MaxOrders,
		Logger:      logger,
	})
	if err != nil {
		return services.Fulfillment{}, fmt.Errorf("build batch service: %w", err)
	}
	svc.Batch = batchSvc

	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Clock:            time.Now,
		Build:            options.build,
	})
	if err != nil {
		return services.Fulfillment{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}
