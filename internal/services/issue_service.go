package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/orderdesk/api/internal/domain"
	"github.com/orderdesk/api/internal/repositories"
)

const (
	issueEventReported = "issue.reported"
	issueEventUpdated  = "issue.updated"

	issueIDPrefix = "iss_"
)

var issueStatusTransitions = map[domain.IssueStatus][]domain.IssueStatus{
	domain.IssueStatusOpen:       {domain.IssueStatusInProgress, domain.IssueStatusResolved},
	domain.IssueStatusInProgress: {domain.IssueStatusResolved},
}

func canTransitionIssue(current, target domain.IssueStatus) bool {
	return slices.Contains(issueStatusTransitions[current], target)
}

var validIssuePriorities = []domain.IssuePriority{
	domain.IssuePriorityLow,
	domain.IssuePriorityMedium,
	domain.IssuePriorityHigh,
}

// IssueServiceDeps bundles collaborators required to construct the issue service.
type IssueServiceDeps struct {
	Issues      repositories.IssueRepository
	Orders      repositories.OrderRepository
	Audit       AuditLogService
	Clock       func() time.Time
	IDGenerator func() string
	Events      EventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type issueService struct {
	issues repositories.IssueRepository
	orders repositories.OrderRepository
	audit  AuditLogService
	clock  func() time.Time
	newID  func() string
	events EventPublisher
	logger func(context.Context, string, map[string]any)
}

// NewIssueService wires dependencies into a concrete IssueService implementation.
func NewIssueService(deps IssueServiceDeps) (IssueService, error) {
	if deps.Issues == nil {
		return nil, errors.New("issue service: issue repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("issue service: order repository is required")
	}
	if deps.Audit == nil {
		return nil, errors.New("issue service: audit log service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &issueService{
		issues: deps.Issues,
		orders: deps.Orders,
		audit:  deps.Audit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *issueService) Report(ctx context.Context, cmd ReportIssueCommand) (Issue, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	issueType := strings.TrimSpace(cmd.Type)
	description := strings.TrimSpace(cmd.Description)
	if orderID == "" {
		return Issue{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	if issueType == "" {
		return Issue{}, fmt.Errorf("%w: issue type is required", ErrInvalidInput)
	}
	if description == "" {
		return Issue{}, fmt.Errorf("%w: issue description is required", ErrInvalidInput)
	}

	priority := cmd.Priority
	if priority == "" {
		priority = domain.IssuePriorityMedium
	}
	if !slices.Contains(validIssuePriorities, priority) {
		return Issue{}, fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, priority)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Issue{}, mapRepositoryError(err)
	}

	actor := strings.TrimSpace(cmd.Actor)
	now := s.clock()
	issue := Issue{
		ID:          issueIDPrefix + s.newID(),
		OrderID:     order.ID,
		Type:        issueType,
		Priority:    priority,
		Status:      domain.IssueStatusOpen,
		Description: description,
		ReportedAt:  now,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.issues.Insert(ctx, issue); err != nil {
		return Issue{}, mapRepositoryError(err)
	}

	if _, err := s.audit.Record(ctx, AuditRecord{
		OrderID:    order.ID,
		Actor:      actor,
		Kind:       domain.AuditKindIssueUpdated,
		Note:       fmt.Sprintf("issue %s reported: %s", issue.ID, issueType),
		OccurredAt: now,
	}); err != nil {
		return Issue{}, fmt.Errorf("record audit: %w", err)
	}

	s.publishEvent(ctx, Event{
		Name:       issueEventReported,
		OrderID:    order.ID,
		EntityID:   issue.ID,
		Actor:      actor,
		OccurredAt: now,
		Payload: map[string]any{
			"type":     issueType,
			"priority": string(priority),
		},
	})

	return issue, nil
}

func (s *issueService) UpdateStatus(ctx context.Context, cmd UpdateIssueCommand) (Issue, error) {
	issueID := strings.TrimSpace(cmd.IssueID)
	if issueID == "" {
		return Issue{}, fmt.Errorf("%w: issue id is required", ErrInvalidInput)
	}
	if cmd.Target == "" {
		return Issue{}, fmt.Errorf("%w: target status is required", ErrInvalidInput)
	}

	issue, err := s.issues.FindByID(ctx, issueID)
	if err != nil {
		return Issue{}, mapRepositoryError(err)
	}

	if !canTransitionIssue(issue.Status, cmd.Target) {
		return Issue{}, fmt.Errorf("%w: issue is %s, cannot become %s", ErrInvalidTransition, issue.Status, cmd.Target)
	}

	resolution := strings.TrimSpace(cmd.Resolution)
	if cmd.Target == domain.IssueStatusResolved && resolution == "" {
		return Issue{}, fmt.Errorf("%w: resolving issue %s", ErrMissingResolution, issue.ID)
	}

	actor := strings.TrimSpace(cmd.Actor)
	now := s.clock()
	prevStatus := issue.Status
	prevVersion := issue.Version

	issue.Status = cmd.Target
	issue.UpdatedAt = now
	if cmd.Target == domain.IssueStatusResolved {
		issue.Resolution = resolution
		issue.ResolvedAt = &now
	}

	saved, err := s.issues.Update(ctx, issue, prevVersion)
	if err != nil {
		return Issue{}, mapRepositoryError(err)
	}

	note := fmt.Sprintf("issue %s moved from %s to %s", saved.ID, prevStatus, saved.Status)
	if resolution != "" {
		note = fmt.Sprintf("%s: %s", note, resolution)
	}
	if _, err := s.audit.Record(ctx, AuditRecord{
		OrderID:    saved.OrderID,
		Actor:      actor,
		Kind:       domain.AuditKindIssueUpdated,
		Note:       note,
		OccurredAt: now,
	}); err != nil {
		return Issue{}, fmt.Errorf("record audit: %w", err)
	}

	s.publishEvent(ctx, Event{
		Name:       issueEventUpdated,
		OrderID:    saved.OrderID,
		EntityID:   saved.ID,
		Actor:      actor,
		OccurredAt: now,
		Payload: map[string]any{
			"from": string(prevStatus),
			"to":   string(saved.Status),
		},
	})

	return saved, nil
}

func (s *issueService) GetIssue(ctx context.Context, issueID string) (Issue, error) {
	issueID = strings.TrimSpace(issueID)
	if issueID == "" {
		return Issue{}, fmt.Errorf("%w: issue id is required", ErrInvalidInput)
	}

	issue, err := s.issues.FindByID(ctx, issueID)
	if err != nil {
		return Issue{}, mapRepositoryError(err)
	}
	return issue, nil
}

func (s *issueService) ListIssues(ctx context.Context, filter IssueListFilter) (domain.CursorPage[Issue], error) {
	page, err := s.issues.List(ctx, repositories.IssueListFilter{
		OrderID:    strings.TrimSpace(filter.OrderID),
		Status:     filter.Status,
		Priority:   filter.Priority,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Issue]{}, mapRepositoryError(err)
	}
	return page, nil
}

func (s *issueService) publishEvent(ctx context.Context, event Event) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishEvent(ctx, event); err != nil {
		s.logger(ctx, "issue.event.publish.failed", map[string]any{
			"event": event.Name,
			"order": event.OrderID,
			"issue": event.EntityID,
			"error": err.Error(),
		})
	}
}
