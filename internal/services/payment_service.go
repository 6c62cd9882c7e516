package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/orderdesk/api/internal/domain"
	"github.com/orderdesk/api/internal/repositories"
)

const (
	paymentEventVerified = "payment.verified"
	paymentEventRefunded = "payment.refunded"
)

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	Orders repositories.OrderRepository
	Audit  AuditLogService
	Clock  func() time.Time
	Events EventPublisher
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders repositories.OrderRepository
	audit  AuditLogService
	clock  func() time.Time
	events EventPublisher
	logger func(context.Context, string, map[string]any)
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Audit == nil {
		return nil, errors.New("payment service: audit log service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentService{
		orders: deps.Orders,
		audit:  deps.Audit,
		clock: func() time.Time {
			return clock().UTC()
		},
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *paymentService) Verify(ctx context.Context, cmd VerifyPaymentCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	method := strings.TrimSpace(cmd.Method)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	if method == "" {
		return Order{}, fmt.Errorf("%w: payment method is required", ErrInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	// A cancelled order must never move to paid without a refund entry.
	if order.Status == domain.OrderStatusCancelled {
		return Order{}, fmt.Errorf("%w: order is cancelled, payment cannot be verified", ErrNotEligible)
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		return Order{}, fmt.Errorf("%w: payment is %s, only pending payments can be verified", ErrInvalidTransition, order.PaymentStatus)
	}

	actor := strings.TrimSpace(cmd.Actor)
	now := s.clock()
	prevVersion := order.Version

	order.PaymentStatus = domain.PaymentStatusPaid
	order.Payment = &domain.PaymentRecord{
		Method:     method,
		VerifiedAt: now,
		Note:       strings.TrimSpace(cmd.Note),
	}
	order.UpdatedAt = now

	saved, err := s.orders.Update(ctx, order, prevVersion)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	if _, err := s.audit.Record(ctx, AuditRecord{
		OrderID:    saved.ID,
		Actor:      actor,
		Kind:       domain.AuditKindPaymentVerified,
		Note:       fmt.Sprintf("payment verified via %s", method),
		OccurredAt: now,
	}); err != nil {
		return Order{}, fmt.Errorf("record audit: %w", err)
	}

	s.publishEvent(ctx, Event{
		Name:       paymentEventVerified,
		OrderID:    saved.ID,
		EntityID:   saved.ID,
		Actor:      actor,
		OccurredAt: now,
		Payload: map[string]any{
			"method": method,
			"amount": saved.Total(),
		},
	})

	return saved, nil
}

func (s *paymentService) Refund(ctx context.Context, cmd RefundPaymentCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	if order.PaymentStatus != domain.PaymentStatusPaid {
		return Order{}, fmt.Errorf("%w: payment is %s, only paid orders can be refunded", ErrInvalidTransition, order.PaymentStatus)
	}

	actor := strings.TrimSpace(cmd.Actor)
	note := strings.TrimSpace(cmd.Note)
	if note == "" {
		note = "refund issued"
	}
	now := s.clock()
	prevVersion := order.Version

	order.PaymentStatus = domain.PaymentStatusRefunded
	order.UpdatedAt = now

	saved, err := s.orders.Update(ctx, order, prevVersion)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	if _, err := s.audit.Record(ctx, AuditRecord{
		OrderID:    saved.ID,
		Actor:      actor,
		Kind:       domain.AuditKindRefundIssued,
		Note:       note,
		OccurredAt: now,
	}); err != nil {
		return Order{}, fmt.Errorf("record audit: %w", err)
	}

	s.publishEvent(ctx, Event{
		Name:       paymentEventRefunded,
		OrderID:    saved.ID,
		EntityID:   saved.ID,
		Actor:      actor,
		OccurredAt: now,
		Payload: map[string]any{
			"amount": saved.Total(),
		},
	})

	return saved, nil
}

func (s *paymentService) publishEvent(ctx context.Context, event Event) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishEvent(ctx, event); err != nil {
		s.logger(ctx, "payment.event.publish.failed", map[string]any{
			"event": event.Name,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}
