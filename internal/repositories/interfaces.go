package repositories

import (
	"context"
	"time"

	domain "github.com/orderdesk/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Returns() ReturnRepository
	Issues() IssueRepository
	AuditLogs() AuditLogRepository
	Counters() CounterRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists order aggregates with optimistic version checks.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	// Update persists the order only when the stored version equals expectedVersion
	// and bumps the version on success. A stale expectedVersion yields a conflict
	// RepositoryError.
	Update(ctx context.Context, order domain.Order, expectedVersion int64) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// ReturnRepository persists return requests with optimistic version checks.
type ReturnRepository interface {
	Insert(ctx context.Context, request domain.ReturnRequest) error
	Update(ctx context.Context, request domain.ReturnRequest, expectedVersion int64) (domain.ReturnRequest, error)
	FindByID(ctx context.Context, returnID string) (domain.ReturnRequest, error)
	List(ctx context.Context, filter ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error)
}

// IssueRepository persists customer issues with optimistic version checks.
type IssueRepository interface {
	Insert(ctx context.Context, issue domain.Issue) error
	Update(ctx context.Context, issue domain.Issue, expectedVersion int64) (domain.Issue, error)
	FindByID(ctx context.Context, issueID string) (domain.Issue, error)
	List(ctx context.Context, filter IssueListFilter) (domain.CursorPage[domain.Issue], error)
}

// AuditLogRepository persists immutable audit trail entries.
type AuditLogRepository interface {
	// Append stores the entry and assigns the next per-order sequence number.
	Append(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error)
	ListByOrder(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.AuditEntry], error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	Status        []string
	PaymentStatus []string
	DateRange     domain.RangeQuery[time.Time]
	Pagination    domain.Pagination
}

type ReturnListFilter struct {
	OrderID    string
	Status     []string
	Pagination domain.Pagination
}

type IssueListFilter struct {
	OrderID    string
	Status     []string
	Priority   []string
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
