package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/orderdesk/api/internal/domain"
	"github.com/orderdesk/api/internal/repositories"
)

const auditIDPrefix = "aud_"

// AuditLogServiceDeps bundles collaborators required to construct the audit log service.
type AuditLogServiceDeps struct {
	AuditLogs   repositories.AuditLogRepository
	Clock       func() time.Time
	IDGenerator func() string
}

type auditLogService struct {
	auditLogs   repositories.AuditLogRepository
	clock       func() time.Time
	idGenerator func() string
}

// NewAuditLogService wires dependencies into a concrete AuditLogService implementation.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.AuditLogs == nil {
		return nil, errors.New("audit log service: audit log repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGenerator := deps.IDGenerator
	if idGenerator == nil {
		idGenerator = func() string { return ulid.Make().String() }
	}

	return &auditLogService{
		auditLogs:   deps.AuditLogs,
		clock:       func() time.Time { return clock().UTC() },
		idGenerator: idGenerator,
	}, nil
}

func (s *auditLogService) Record(ctx context.Context, record AuditRecord) (AuditEntry, error) {
	orderID := strings.TrimSpace(record.OrderID)
	if orderID == "" {
		return AuditEntry{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	if record.Kind == "" {
		return AuditEntry{}, fmt.Errorf("%w: audit kind is required", ErrInvalidInput)
	}

	occurredAt := record.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.clock()
	}

	entry := domain.AuditEntry{
		ID:         auditIDPrefix + s.idGenerator(),
		OrderID:    orderID,
		Actor:      strings.TrimSpace(record.Actor),
		Kind:       record.Kind,
		Note:       strings.TrimSpace(record.Note),
		OccurredAt: occurredAt.UTC(),
	}

	saved, err := s.auditLogs.Append(ctx, entry)
	if err != nil {
		return AuditEntry{}, mapRepositoryError(err)
	}
	return saved, nil
}

func (s *auditLogService) ListByOrder(ctx context.Context, orderID string, pager Pagination) (domain.CursorPage[AuditEntry], error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.CursorPage[AuditEntry]{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}

	page, err := s.auditLogs.ListByOrder(ctx, orderID, pager)
	if err != nil {
		return domain.CursorPage[AuditEntry]{}, mapRepositoryError(err)
	}
	return page, nil
}
