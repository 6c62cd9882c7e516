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
	returnEventFiled     = "return.filed"
	returnEventApproved  = "return.approved"
	returnEventDenied    = "return.denied"
	returnEventCompleted = "return.completed"

	returnIDPrefix = "ret_"
)

var returnStatusTransitions = map[domain.ReturnStatus][]domain.ReturnStatus{
	domain.ReturnStatusPending:  {domain.ReturnStatusApproved, domain.ReturnStatusDenied},
	domain.ReturnStatusApproved: {domain.ReturnStatusCompleted},
}

func canTransitionReturn(current, target domain.ReturnStatus) bool {
	return slices.Contains(returnStatusTransitions[current], target)
}

// ReturnServiceDeps bundles collaborators required to construct the return service.
type ReturnServiceDeps struct {
	Returns     repositories.ReturnRepository
	Orders      repositories.OrderRepository
	Audit       AuditLogService
	Clock       func() time.Time
	IDGenerator func() string
	Events      EventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type returnService struct {
	returns repositories.ReturnRepository
	orders  repositories.OrderRepository
	audit   AuditLogService
	clock   func() time.Time
	newID   func() string
	events  EventPublisher
	logger  func(context.Context, string, map[string]any)
}

// NewReturnService wires dependencies into a concrete ReturnService implementation.
func NewReturnService(deps ReturnServiceDeps) (ReturnService, error) {
	if deps.Returns == nil {
		return nil, errors.New("return service: return repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("return service: order repository is required")
	}
	if deps.Audit == nil {
		return nil, errors.New("return service: audit log service is required")
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

	return &returnService{
		returns: deps.Returns,
		orders:  deps.Orders,
		audit:   deps.Audit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *returnService) File(ctx context.Context, cmd FileReturnCommand) (ReturnRequest, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return ReturnRequest{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return ReturnRequest{}, fmt.Errorf("%w: return must list at least one item", ErrInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return ReturnRequest{}, mapRepositoryError(err)
	}

	if order.Status == domain.OrderStatusCancelled {
		return ReturnRequest{}, fmt.Errorf("%w: cancelled orders cannot be returned", ErrNotEligible)
	}

	seen := make(map[string]bool, len(cmd.Items))
	for _, item := range cmd.Items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return ReturnRequest{}, fmt.Errorf("%w: return item product id is required", ErrInvalidInput)
		}
		if item.Quantity < 1 {
			return ReturnRequest{}, fmt.Errorf("%w: return quantity for %s must be at least 1", ErrInvalidInput, productID)
		}
		if seen[productID] {
			return ReturnRequest{}, fmt.Errorf("%w: return lists %s more than once", ErrInvalidInput, productID)
		}
		seen[productID] = true

		ordered := order.ItemQuantity(productID)
		if ordered == 0 {
			return ReturnRequest{}, fmt.Errorf("%w: order does not contain %s", ErrNotEligible, productID)
		}
		if item.Quantity > ordered {
			return ReturnRequest{}, fmt.Errorf("%w: return quantity %d exceeds ordered quantity %d for %s", ErrNotEligible, item.Quantity, ordered, productID)
		}
	}

	actor := strings.TrimSpace(cmd.Actor)
	now := s.clock()
	request := ReturnRequest{
		ID:          returnIDPrefix + s.newID(),
		OrderID:     order.ID,
		Reason:      strings.TrimSpace(cmd.Reason),
		Items:       slices.Clone(cmd.Items),
		Status:      domain.ReturnStatusPending,
		RequestedAt: now,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.returns.Insert(ctx, request); err != nil {
		return ReturnRequest{}, mapRepositoryError(err)
	}

	if _, err := s.audit.Record(ctx, AuditRecord{
		OrderID:    order.ID,
		Actor:      actor,
		Kind:       domain.AuditKindNoteAdded,
		Note:       fmt.Sprintf("return %s filed: %s", request.ID, request.Reason),
		OccurredAt: now,
	}); err != nil {
		return ReturnRequest{}, fmt.Errorf("record audit: %w", err)
	}

	s.publishEvent(ctx, Event{
		Name:       returnEventFiled,
		OrderID:    order.ID,
		EntityID:   request.ID,
		Actor:      actor,
		OccurredAt: now,
		Payload: map[string]any{
			"reason": request.Reason,
		},
	})

	return request, nil
}

func (s *returnService) Approve(ctx context.Context, cmd DecideReturnCommand) (ReturnRequest, error) {
	return s.decide(ctx, cmd, domain.ReturnStatusApproved)
}

func (s *returnService) Deny(ctx context.Context, cmd DecideReturnCommand) (ReturnRequest, error) {
	return s.decide(ctx, cmd, domain.ReturnStatusDenied)
}

func (s *returnService) decide(ctx context.Context, cmd DecideReturnCommand, target domain.ReturnStatus) (ReturnRequest, error) {
	returnID := strings.TrimSpace(cmd.ReturnID)
	if returnID == "" {
		return ReturnRequest{}, fmt.Errorf("%w: return id is required", ErrInvalidInput)
	}

	request, err := s.returns.FindByID(ctx, returnID)
	if err != nil {
		return ReturnRequest{}, mapRepositoryError(err)
	}

	if !canTransitionReturn(request.Status, target) {
		return ReturnRequest{}, fmt.Errorf("%w: return is %s, cannot become %s", ErrInvalidTransition, request.Status, target)
	}

	actor := strings.TrimSpace(cmd.Actor)
	reason := strings.TrimSpace(cmd.Reason)
	now := s.clock()
	prevVersion := request.Version

	request.Status = target
	request.UpdatedAt = now
	if target == domain.ReturnStatusDenied {
		request.ProcessedAt = &now
	}

	saved, err := s.returns.Update(ctx, request, prevVersion)
	if err != nil {
		return ReturnRequest{}, mapRepositoryError(err)
	}

	kind := domain.AuditKindReturnApproved
	eventName := returnEventApproved
	note := fmt.Sprintf("return %s approved", saved.ID)
	if target == domain.ReturnStatusDenied {
		kind = domain.AuditKindReturnDenied
		eventName = returnEventDenied
		note = fmt.Sprintf("return %s denied", saved.ID)
	}
	if reason != "" {
		note = fmt.Sprintf("%s: %s", note, reason)
	}

	if _, err := s.audit.Record(ctx, AuditRecord{
		OrderID:    saved.OrderID,
		Actor:      actor,
		Kind:       kind,
		Note:       note,
		OccurredAt: now,
	}); err != nil {
		return ReturnRequest{}, fmt.Errorf("record audit: %w", err)
	}

	s.publishEvent(ctx, Event{
		Name:       eventName,
		OrderID:    saved.OrderID,
		EntityID:   saved.ID,
		Actor:      actor,
		OccurredAt: now,
		Payload: map[string]any{
			"reason": reason,
		},
	})

	return saved, nil
}

// Complete settles an approved return. The refund ceiling is the current value
// of the returned lines on the order, priced at completion time.
func (s *returnService) Complete(ctx context.Context, cmd CompleteReturnCommand) (ReturnRequest, error) {
	returnID := strings.TrimSpace(cmd.ReturnID)
	if returnID == "" {
		return ReturnRequest{}, fmt.Errorf("%w: return id is required", ErrInvalidInput)
	}
	if cmd.RefundAmount < 0 {
		return ReturnRequest{}, fmt.Errorf("%w: refund amount cannot be negative", ErrInvalidAmount)
	}

	request, err := s.returns.FindByID(ctx, returnID)
	if err != nil {
		return ReturnRequest{}, mapRepositoryError(err)
	}

	if !canTransitionReturn(request.Status, domain.ReturnStatusCompleted) {
		return ReturnRequest{}, fmt.Errorf("%w: return is %s, only approved returns can be completed", ErrInvalidTransition, request.Status)
	}

	order, err := s.orders.FindByID(ctx, request.OrderID)
	if err != nil {
		return ReturnRequest{}, mapRepositoryError(err)
	}

	ceiling := returnedItemsSubtotal(order, request.Items)
	if cmd.RefundAmount > ceiling {
		return ReturnRequest{}, fmt.Errorf("%w: refund %d exceeds returned items subtotal %d", ErrInvalidAmount, cmd.RefundAmount, ceiling)
	}

	actor := strings.TrimSpace(cmd.Actor)
	now := s.clock()
	prevVersion := request.Version

	request.Status = domain.ReturnStatusCompleted
	request.RefundAmount = cmd.RefundAmount
	request.ProcessedAt = &now
	request.UpdatedAt = now

	// The order flip commits before the return turns terminal. A conflict here
	// leaves the return approved, so the caller can reload and retry; a retry
	// after a committed flip finds the order already refunded and skips it.
	fullRefund := cmd.RefundAmount == order.Total() && order.PaymentStatus != domain.PaymentStatusPending
	if fullRefund && order.PaymentStatus == domain.PaymentStatusPaid {
		orderVersion := order.Version
		order.PaymentStatus = domain.PaymentStatusRefunded
		order.UpdatedAt = now
		if _, err := s.orders.Update(ctx, order, orderVersion); err != nil {
			return ReturnRequest{}, mapRepositoryError(err)
		}
	}

	saved, err := s.returns.Update(ctx, request, prevVersion)
	if err != nil {
		return ReturnRequest{}, mapRepositoryError(err)
	}

	kind := domain.AuditKindNoteAdded
	note := fmt.Sprintf("partial refund of %d issued for return %s", cmd.RefundAmount, saved.ID)
	if fullRefund {
		kind = domain.AuditKindRefundIssued
		note = fmt.Sprintf("full refund of %d issued for return %s", cmd.RefundAmount, saved.ID)
	}
	if _, err := s.audit.Record(ctx, AuditRecord{
		OrderID:    saved.OrderID,
		Actor:      actor,
		Kind:       kind,
		Note:       note,
		OccurredAt: now,
	}); err != nil {
		return ReturnRequest{}, fmt.Errorf("record audit: %w", err)
	}

	s.publishEvent(ctx, Event{
		Name:       returnEventCompleted,
		OrderID:    saved.OrderID,
		EntityID:   saved.ID,
		Actor:      actor,
		OccurredAt: now,
		Payload: map[string]any{
			"refundAmount": cmd.RefundAmount,
			"fullRefund":   fullRefund,
		},
	})

	return saved, nil
}

func (s *returnService) GetReturn(ctx context.Context, returnID string) (ReturnRequest, error) {
	returnID = strings.TrimSpace(returnID)
	if returnID == "" {
		return ReturnRequest{}, fmt.Errorf("%w: return id is required", ErrInvalidInput)
	}

	request, err := s.returns.FindByID(ctx, returnID)
	if err != nil {
		return ReturnRequest{}, mapRepositoryError(err)
	}
	return request, nil
}

func (s *returnService) ListReturns(ctx context.Context, filter ReturnListFilter) (domain.CursorPage[ReturnRequest], error) {
	page, err := s.returns.List(ctx, repositories.ReturnListFilter{
		OrderID:    strings.TrimSpace(filter.OrderID),
		Status:     filter.Status,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[ReturnRequest]{}, mapRepositoryError(err)
	}
	return page, nil
}

func returnedItemsSubtotal(order Order, items []ReturnItem) int64 {
	var subtotal int64
	for _, returned := range items {
		for _, line := range order.Items {
			if line.ProductID == returned.ProductID {
				qty := returned.Quantity
				if qty > line.Quantity {
					qty = line.Quantity
				}
				subtotal += int64(qty) * line.UnitPrice
				break
			}
		}
	}
	return subtotal
}

func (s *returnService) publishEvent(ctx context.Context, event Event) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishEvent(ctx, event); err != nil {
		s.logger(ctx, "return.event.publish.failed", map[string]any{
			"event":  event.Name,
			"order":  event.OrderID,
			"return": event.EntityID,
			"error":  err.Error(),
		})
	}
}
