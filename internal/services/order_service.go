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
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventRefundIssued  = "order.refund.issued"
	orderEventNoteAdded     = "order.note.added"

	orderIDPrefix = "ord_"

	cancellationRefundNote = "cancellation refund"
)

var orderStatusTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered, domain.OrderStatusCancelled},
}

func canTransitionOrder(current, target domain.OrderStatus) bool {
	if current == target {
		return true
	}
	return slices.Contains(orderStatusTransitions[current], target)
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Counters    repositories.CounterRepository
	Audit       AuditLogService
	Clock       func() time.Time
	IDGenerator func() string
	Events      EventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	counters repositories.CounterRepository
	audit    AuditLogService
	clock    func() time.Time
	newID    func() string
	events   EventPublisher
	logger   func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Audit == nil {
		return nil, errors.New("order service: audit log service is required")
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

	return &orderService{
		orders:   deps.Orders,
		counters: deps.Counters,
		audit:    deps.Audit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if strings.TrimSpace(cmd.Customer.Name) == "" {
		return Order{}, fmt.Errorf("%w: customer name is required", ErrInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: order must contain at least one item", ErrInvalidInput)
	}
	for _, item := range cmd.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return Order{}, fmt.Errorf("%w: item product id is required", ErrInvalidInput)
		}
		if item.Quantity < 1 {
			return Order{}, fmt.Errorf("%w: item %s quantity must be at least 1", ErrInvalidInput, item.ProductID)
		}
		if item.UnitPrice < 0 {
			return Order{}, fmt.Errorf("%w: item %s unit price cannot be negative", ErrInvalidInput, item.ProductID)
		}
	}

	now := s.now()
	order := Order{
		ID:            orderIDPrefix + s.newID(),
		Customer:      cmd.Customer,
		Items:         slices.Clone(cmd.Items),
		Status:        domain.OrderStatusProcessing,
		PaymentStatus: domain.PaymentStatusPending,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return Order{}, err
	}
	order.Number = number

	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, mapRepositoryError(err)
	}

	if _, err := s.audit.Record(ctx, AuditRecord{
		OrderID:    order.ID,
		Actor:      strings.TrimSpace(cmd.Actor),
		Kind:       domain.AuditKindNoteAdded,
		Note:       "order created",
		OccurredAt: now,
	}); err != nil {
		return Order{}, fmt.Errorf("record audit: %w", err)
	}

	s.publishEvent(ctx, Event{
		Name:       orderEventCreated,
		OrderID:    order.ID,
		EntityID:   order.ID,
		Actor:      cmd.Actor,
		OccurredAt: now,
		Payload: map[string]any{
			"number": order.Number,
			"total":  order.Total(),
		},
	})

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		Status:        filter.Status,
		PaymentStatus: filter.PaymentStatus,
		DateRange:     filter.DateRange,
		Pagination:    filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepositoryError(err)
	}
	return page, nil
}

// TransitionStatus moves an order along the lifecycle graph. Requesting the
// current status is an idempotent no-op and records nothing.
func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	if cmd.Target == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	if cmd.ExpectedVersion != nil && order.Version != *cmd.ExpectedVersion {
		return Order{}, fmt.Errorf("%w: expected version %d but was %d", ErrConflict, *cmd.ExpectedVersion, order.Version)
	}

	if order.Status == cmd.Target {
		return order, nil
	}
	if !canTransitionOrder(order.Status, cmd.Target) {
		return Order{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, order.Status, cmd.Target)
	}

	actor := strings.TrimSpace(cmd.Actor)
	reason := strings.TrimSpace(cmd.Reason)
	now := s.now()
	prevStatus := order.Status
	prevVersion := order.Version
	refundIssued := false

	switch cmd.Target {
	case domain.OrderStatusShipped:
		shipment, err := buildShipment(cmd.Shipment, now)
		if err != nil {
			return Order{}, err
		}
		order.Shipment = shipment
	case domain.OrderStatusCancelled:
		order.CancelReason = reason
		if order.PaymentStatus == domain.PaymentStatusPaid {
			order.PaymentStatus = domain.PaymentStatusRefunded
			refundIssued = true
		}
	}

	order.Status = cmd.Target
	order.UpdatedAt = now

	saved, err := s.orders.Update(ctx, order, prevVersion)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	note := fmt.Sprintf("status changed from %s to %s", prevStatus, cmd.Target)
	if reason != "" {
		note = fmt.Sprintf("%s: %s", note, reason)
	}
	if _, err := s.audit.Record(ctx, AuditRecord{
		OrderID:    saved.ID,
		Actor:      actor,
		Kind:       domain.AuditKindStatusChanged,
		Note:       note,
		OccurredAt: now,
	}); err != nil {
		return Order{}, fmt.Errorf("record audit: %w", err)
	}

	if cmd.Target == domain.OrderStatusShipped && saved.Shipment != nil {
		if _, err := s.audit.Record(ctx, AuditRecord{
			OrderID:    saved.ID,
			Actor:      actor,
			Kind:       domain.AuditKindShipmentCreated,
			Note:       fmt.Sprintf("shipment via %s, tracking %s", saved.Shipment.Carrier, saved.Shipment.TrackingNumber),
			OccurredAt: now,
		}); err != nil {
			return Order{}, fmt.Errorf("record audit: %w", err)
		}
	}

	if refundIssued {
		if _, err := s.audit.Record(ctx, AuditRecord{
			OrderID:    saved.ID,
			Actor:      actor,
			Kind:       domain.AuditKindRefundIssued,
			Note:       cancellationRefundNote,
			OccurredAt: now,
		}); err != nil {
			return Order{}, fmt.Errorf("record audit: %w", err)
		}
		s.publishEvent(ctx, Event{
			Name:       orderEventRefundIssued,
			OrderID:    saved.ID,
			EntityID:   saved.ID,
			Actor:      actor,
			OccurredAt: now,
			Payload: map[string]any{
				"amount": saved.Total(),
				"reason": cancellationRefundNote,
			},
		})
	}

	s.publishEvent(ctx, Event{
		Name:       orderEventStatusChanged,
		OrderID:    saved.ID,
		EntityID:   saved.ID,
		Actor:      actor,
		OccurredAt: now,
		Payload: map[string]any{
			"from":   string(prevStatus),
			"to":     string(saved.Status),
			"reason": reason,
		},
	})

	return saved, nil
}

func (s *orderService) AddNote(ctx context.Context, cmd AddOrderNoteCommand) (AuditEntry, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	note := strings.TrimSpace(cmd.Note)
	if orderID == "" {
		return AuditEntry{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	if note == "" {
		return AuditEntry{}, fmt.Errorf("%w: note text is required", ErrInvalidInput)
	}

	// Verify the order exists before writing history for it.
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return AuditEntry{}, mapRepositoryError(err)
	}

	now := s.now()
	entry, err := s.audit.Record(ctx, AuditRecord{
		OrderID:    order.ID,
		Actor:      strings.TrimSpace(cmd.Actor),
		Kind:       domain.AuditKindNoteAdded,
		Note:       note,
		OccurredAt: now,
	})
	if err != nil {
		return AuditEntry{}, fmt.Errorf("record audit: %w", err)
	}

	s.publishEvent(ctx, Event{
		Name:       orderEventNoteAdded,
		OrderID:    order.ID,
		EntityID:   entry.ID,
		Actor:      cmd.Actor,
		OccurredAt: now,
	})

	return entry, nil
}

func buildShipment(input *ShipmentInput, now time.Time) (*domain.Shipment, error) {
	if input == nil {
		return nil, fmt.Errorf("%w: shipment details are required to ship an order", ErrInvalidInput)
	}
	carrier := strings.TrimSpace(input.Carrier)
	tracking := strings.TrimSpace(input.TrackingNumber)
	if carrier == "" {
		return nil, fmt.Errorf("%w: shipment carrier is required", ErrInvalidInput)
	}
	if tracking == "" {
		return nil, fmt.Errorf("%w: shipment tracking number is required", ErrInvalidInput)
	}
	return &domain.Shipment{
		Carrier:        carrier,
		TrackingNumber: tracking,
		TrackingURL:    strings.TrimSpace(input.TrackingURL),
		ShippedAt:      now,
	}, nil
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, "orders", 1)
	if err != nil {
		return "", mapRepositoryError(err)
	}
	return fmt.Sprintf("BO-%04d-%06d", now.Year(), seq), nil
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event Event) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"event": event.Name,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}
