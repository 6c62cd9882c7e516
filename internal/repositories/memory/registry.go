// Package memory provides an in-memory repositories.Registry used by local
// development and tests that do not want a Firestore emulator.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/orderdesk/api/internal/domain"
	"github.com/orderdesk/api/internal/repositories"
)

type repoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repoError) Error() string       { return e.msg }
func (e *repoError) IsNotFound() bool    { return e.notFound }
func (e *repoError) IsConflict() bool    { return e.conflict }
func (e *repoError) IsUnavailable() bool { return e.unavailable }

var _ repositories.RepositoryError = (*repoError)(nil)

func notFoundError(format string, args ...any) error {
	return &repoError{msg: fmt.Sprintf(format, args...), notFound: true}
}

func conflictError(format string, args ...any) error {
	return &repoError{msg: fmt.Sprintf(format, args...), conflict: true}
}

// Registry keeps every aggregate in process-local maps guarded by one mutex.
type Registry struct {
	mu sync.Mutex

	orders   map[string]domain.Order
	returns  map[string]domain.ReturnRequest
	issues   map[string]domain.Issue
	audits   map[string][]domain.AuditEntry
	counters map[string]counterState

	clock func() time.Time
}

type counterState struct {
	current int64
	step    int64
	max     *int64
}

var _ repositories.Registry = (*Registry)(nil)

// Option customises the in-memory registry.
type Option func(*Registry)

// WithClock injects a deterministic clock for tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewRegistry constructs an empty in-memory registry.
func NewRegistry(opts ...Option) *Registry {
	registry := &Registry{
		orders:   make(map[string]domain.Order),
		returns:  make(map[string]domain.ReturnRequest),
		issues:   make(map[string]domain.Issue),
		audits:   make(map[string][]domain.AuditEntry),
		counters: make(map[string]counterState),
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(registry)
		}
	}
	return registry
}

func (r *Registry) Close(context.Context) error { return nil }

func (r *Registry) Orders() repositories.OrderRepository { return &orderRepo{registry: r} }

func (r *Registry) Returns() repositories.ReturnRepository { return &returnRepo{registry: r} }

func (r *Registry) Issues() repositories.IssueRepository { return &issueRepo{registry: r} }

func (r *Registry) AuditLogs() repositories.AuditLogRepository { return &auditRepo{registry: r} }

func (r *Registry) Counters() repositories.CounterRepository { return &counterRepo{registry: r} }

func (r *Registry) Health() repositories.HealthRepository { return &healthRepo{registry: r} }

// paginate slices an already sorted list according to an ID-based page token.
func paginate[T any](items []T, idOf func(T) string, pager domain.Pagination) domain.CursorPage[T] {
	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	start := 0
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		for i, item := range items {
			if idOf(item) == token {
				start = i + 1
				break
			}
		}
	}
	if start >= len(items) {
		return domain.CursorPage[T]{}
	}

	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	page := domain.CursorPage[T]{Items: append([]T(nil), items[start:end]...)}
	if end < len(items) {
		page.NextPageToken = idOf(items[end-1])
	}
	return page
}

func matchValue(filters []string, value string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, filter := range filters {
		if strings.TrimSpace(filter) == value {
			return true
		}
	}
	return false
}

// --- orders -----------------------------------------------------------------

type orderRepo struct {
	registry *Registry
}

func (r *orderRepo) Insert(_ context.Context, order domain.Order) error {
	r.registry.mu.Lock()
	defer r.registry.mu.Unlock()

	if _, exists := r.registry.orders[order.ID]; exists {
		return conflictError("order %s already exists", order.ID)
	}
	r.registry.orders[order.ID] = order
	return nil
}

func (r *orderRepo) Update(_ context.Context, order domain.Order, expectedVersion int64) (domain.Order, error) {
	r.registry.mu.Lock()
	defer r.registry.mu.Unlock()

	current, exists := r.registry.orders[order.ID]
	if !exists {
		return domain.Order{}, notFoundError("order %s not found", order.ID)
	}
	if current.Version != expectedVersion {
		return domain.Order{}, conflictError("order %s is at version %d, expected %d", order.ID, current.Version, expectedVersion)
	}

	order.Version = expectedVersion + 1
	r.registry.orders[order.ID] = order
	return order, nil
}

func (r *orderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.registry.mu.Lock()
	defer r.registry.mu.Unlock()

	order, exists := r.registry.orders[orderID]
	if !exists {
		return domain.Order{}, notFoundError("order %s not found", orderID)
	}
	return order, nil
}

func (r *orderRepo) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	r.registry.mu.Lock()
	defer r.registry.mu.Unlock()

	var orders []domain.Order
	for _, order := range r.registry.orders {
		if !matchValue(filter.Status, string(order.Status)) {
			continue
		}
		if !matchValue(filter.PaymentStatus, string(order.PaymentStatus)) {
			continue
		}
		if filter.DateRange.From != nil && order.CreatedAt.Before(*filter.DateRange.From) {
			continue
		}
		if filter.DateRange.To != nil && !order.CreatedAt.Before(*filter.DateRange.To) {
			continue
		}
		orders = append(orders, order)
	}

	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})

	return paginate(orders, func(o domain.Order) string { return o.ID }, filter.Pagination), nil
}

// --- returns ----------------------------------------------------------------

type returnRepo struct {
	registry *Registry
}

func (r *returnRepo) Insert(_ context.Context, request domain.ReturnRequest) error {
	r.registry.mu.Lock()
	defer r.registry.mu.Unlock()

	if _, exists := r.registry.returns[request.ID]; exists {
		return conflictError("return %s already exists", request.ID)
	}
	r.registry.returns[request.ID] = request
	return nil
}

func (r *returnRepo) Update(_ context.Context, request domain.ReturnRequest, expectedVersion int64) (domain.ReturnRequest, error) {
	r.registry.mu.Lock()
	defer r.registry.mu.Unlock()

	current, exists := r.registry.returns[request.ID]
	if !exists {
		return domain.ReturnRequest{}, notFoundError("return %s not found", request.ID)
	}
	if current.Version != expectedVersion {
		return domain.ReturnRequest{}, conflictError("return %s is at version %d, expected %d", request.ID, current.Version, expectedVersion)
	}

	request.Version = expectedVersion + 1
	r.registry.returns[request.ID] = request
	return request, nil
}

func (r *returnRepo) FindByID(_ context.Context, returnID string) (domain.ReturnRequest, error) {
	r.registry.mu.Lock()
	defer r.registry.mu.Unlock()

	request, exists := r.registry.returns[returnID]
	if !exists {
		return domain.ReturnRequest{}, notFoundError("return %s not found", returnID)
	}
	return request, nil
}

func (r *returnRepo) List(_ context.Context, filter repositories.ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error) {
	r.registry.mu.Lock()
	defer r.registry.mu.Unlock()

	orderID := strings.TrimSpace(filter.OrderID)
	var requests []domain.ReturnRequest
	for _, request := range r.registry.returns {
		if orderID != "" && request.OrderID != orderID {
			continue
		}
		if !matchValue(filter.Status, string(request.Status)) {
			continue
		}
		requests = append(requests, request)
	}

	sort.Slice(requests, func(i, j int) bool {
		if !requests[i].CreatedAt.Equal(requests[j].CreatedAt) {
			return requests[i].CreatedAt.After(requests[j].CreatedAt)
		}
		return requests[i].ID < requests[j].ID
	})

	return paginate(requests, func(req domain.ReturnRequest) string { return req.ID }, filter.Pagination), nil
}

// --- issues -----------------------------------------------------------------

type issueRepo struct {
	registry *Registry
}

func (r *issueRepo) Insert(_ context.Context, issue domain.Issue) error {
	r.registry.mu.Lock()
	defer r.registry.mu.Unlock()

	if _, exists := r.registry.issues[issue.ID]; exists {
		return conflictError("issue %s already exists", issue.ID)
	}
	r.registry.issues[issue.ID] = issue
	return nil
}

func (r *issueRepo) Update(_ context.Context, issue domain.Issue, expectedVersion int64) (domain.Issue, error) {
	r.registry.mu.Lock()
	defer r.registry.mu.Unlock()

	current, exists := r.registry.issues[issue.ID]
	if !exists {
		return domain.Issue{}, notFoundError("issue %s not found", issue.ID)
	}
	if current.Version != expectedVersion {
		return domain.Issue{}, conflictError("issue %s is at version %d, expected %d", issue.ID, current.Version, expectedVersion)
	}

	issue.Version = expectedVersion + 1
	r.registry.issues[issue.ID] = issue
	return issue, nil
}

func (r *issueRepo) FindByID(_ context.Context, issueID string) (domain.Issue, error) {
	r.registry.mu.Lock()
	defer r.registry.mu.Unlock()

	issue, exists := r.registry.issues[issueID]
	if !exists {
		return domain.Issue{}, notFoundError("issue %s not found", issueID)
	}
	return issue, nil
}

func (r *issueRepo) List(_ context.Context, filter repositories.IssueListFilter) (domain.CursorPage[domain.Issue], error) {
	r.registry.mu.Lock()
	defer r.registry.mu.Unlock()

	orderID := strings.TrimSpace(filter.OrderID)
	var issues []domain.Issue
	for _, issue := range r.registry.issues {
		if orderID != "" && issue.OrderID != orderID {
			continue
		}
		if !matchValue(filter.Status, string(issue.Status)) {
			continue
		}
		if !matchValue(filter.Priority, string(issue.Priority)) {
			continue
		}
		issues = append(issues, issue)
	}

	sort.Slice(issues, func(i, j int) bool {
		if !issues[i].CreatedAt.Equal(issues[j].CreatedAt) {
			return issues[i].CreatedAt.After(issues[j].CreatedAt)
		}
		return issues[i].ID < issues[j].ID
	})

	return paginate(issues, func(issue domain.Issue) string { return issue.ID }, filter.Pagination), nil
}

// --- audit log --------------------------------------------------------------

type auditRepo struct {
	registry *Registry
}

func (r *auditRepo) Append(_ context.Context, entry domain.AuditEntry) (domain.AuditEntry, error) {
	r.registry.mu.Lock()
	defer r.registry.mu.Unlock()

	orderID := strings.TrimSpace(entry.OrderID)
	if orderID == "" {
		return domain.AuditEntry{}, fmt.Errorf("memory audit log: order id is required")
	}

	entries := r.registry.audits[orderID]
	entry.Seq = int64(len(entries)) + 1
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = r.registry.clock().UTC()
	}
	r.registry.audits[orderID] = append(entries, entry)
	return entry, nil
}

func (r *auditRepo) ListByOrder(_ context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.AuditEntry], error) {
	r.registry.mu.Lock()
	defer r.registry.mu.Unlock()

	entries := append([]domain.AuditEntry(nil), r.registry.audits[strings.TrimSpace(orderID)]...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })

	return paginate(entries, func(entry domain.AuditEntry) string { return entry.ID }, pager), nil
}

// --- counters ---------------------------------------------------------------

type counterRepo struct {
	registry *Registry
}

func (r *counterRepo) Next(_ context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", step), nil)
	}

	r.registry.mu.Lock()
	defer r.registry.mu.Unlock()

	state := r.registry.counters[id]
	increment := step
	if increment <= 0 {
		increment = state.step
		if increment <= 0 {
			increment = 1
		}
	}

	next := state.current + increment
	if state.max != nil && next > *state.max {
		return 0, repositories.NewCounterError(repositories.CounterErrorExhausted, fmt.Sprintf("counter %s exceeded max value %d", id, *state.max), nil)
	}

	state.current = next
	state.step = increment
	r.registry.counters[id] = state
	return next, nil
}

func (r *counterRepo) Configure(_ context.Context, counterID string, cfg repositories.CounterConfig) error {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}

	r.registry.mu.Lock()
	defer r.registry.mu.Unlock()

	state := r.registry.counters[id]
	if cfg.Step > 0 {
		state.step = cfg.Step
	}
	if cfg.MaxValue != nil {
		max := *cfg.MaxValue
		state.max = &max
	}
	if cfg.InitialValue != nil {
		state.current = *cfg.InitialValue
	}
	r.registry.counters[id] = state
	return nil
}

// --- health -----------------------------------------------------------------

type healthRepo struct {
	registry *Registry
}

func (r *healthRepo) Collect(context.Context) (domain.SystemHealthReport, error) {
	now := r.registry.clock().UTC()
	return domain.SystemHealthReport{
		Status: domain.HealthStatusOK,
		Checks: map[string]domain.SystemHealthCheck{
			"memory": {Status: domain.HealthStatusOK, CheckedAt: now},
		},
		GeneratedAt: now,
	}, nil
}
