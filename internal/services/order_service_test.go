package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/orderdesk/api/internal/domain"
	"github.com/orderdesk/api/internal/repositories"
)

type stubOrderRepo struct {
	insertFn func(context.Context, domain.Order) error
	updateFn func(context.Context, domain.Order, int64) (domain.Order, error)
	findFn   func(context.Context, string) (domain.Order, error)
	listFn   func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) Update(ctx context.Context, order domain.Order, expectedVersion int64) (domain.Order, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, order, expectedVersion)
	}
	order.Version = expectedVersion + 1
	return order, nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

type stubCounterRepo struct {
	nextFn func(context.Context, string, int64) (int64, error)
}

func (s *stubCounterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, step)
	}
	return 1, nil
}

func (s *stubCounterRepo) Configure(context.Context, string, repositories.CounterConfig) error {
	return nil
}

type captureAuditService struct {
	recordFn func(context.Context, AuditRecord) (AuditEntry, error)
	records  []AuditRecord
}

func (c *captureAuditService) Record(ctx context.Context, record AuditRecord) (AuditEntry, error) {
	if c.recordFn != nil {
		return c.recordFn(ctx, record)
	}
	c.records = append(c.records, record)
	return AuditEntry{
		ID:         "aud_TEST",
		OrderID:    record.OrderID,
		Seq:        int64(len(c.records)),
		Actor:      record.Actor,
		Kind:       record.Kind,
		Note:       record.Note,
		OccurredAt: record.OccurredAt,
	}, nil
}

func (c *captureAuditService) ListByOrder(context.Context, string, Pagination) (domain.CursorPage[AuditEntry], error) {
	return domain.CursorPage[AuditEntry]{}, nil
}

func (c *captureAuditService) byKind(kind AuditKind) []AuditRecord {
	var out []AuditRecord
	for _, record := range c.records {
		if record.Kind == kind {
			out = append(out, record)
		}
	}
	return out
}

type captureEvents struct {
	events []Event
	err    error
}

func (c *captureEvents) PublishEvent(_ context.Context, event Event) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.events = append(c.events, event)
	return "msg-1", nil
}

func (c *captureEvents) names() []string {
	out := make([]string, 0, len(c.events))
	for _, event := range c.events {
		out = append(out, event.Name)
	}
	return out
}

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *stubRepoError) Error() string       { return "repository failure" }
func (e *stubRepoError) IsNotFound() bool    { return e.notFound }
func (e *stubRepoError) IsConflict() bool    { return e.conflict }
func (e *stubRepoError) IsUnavailable() bool { return e.unavailable }

var _ repositories.RepositoryError = (*stubRepoError)(nil)

func newOrderService(t *testing.T, deps OrderServiceDeps) OrderService {
	t.Helper()
	if deps.Counters == nil {
		deps.Counters = &stubCounterRepo{}
	}
	if deps.Audit == nil {
		deps.Audit = &captureAuditService{}
	}
	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	return svc
}

func TestOrderServiceCreateOrder(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	var inserted []domain.Order
	audit := &captureAuditService{}
	events := &captureEvents{}

	svc := newOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			insertFn: func(_ context.Context, order domain.Order) error {
				inserted = append(inserted, order)
				return nil
			},
		},
		Counters: &stubCounterRepo{
			nextFn: func(_ context.Context, counterID string, step int64) (int64, error) {
				if counterID != "orders" {
					t.Fatalf("unexpected counter id %s", counterID)
				}
				if step != 1 {
					t.Fatalf("unexpected step %d", step)
				}
				return 42, nil
			},
		},
		Audit:       audit,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "000TEST" },
		Events:      events,
	})

	order, err := svc.CreateOrder(ctx, CreateOrderCommand{
		Customer: Customer{Name: "Dana Ellis", Email: "dana@example.com"},
		Items: []OrderItem{
			{ProductID: "prod-1", Name: "Kettle", Quantity: 2, UnitPrice: 4500},
		},
		Actor: "staff-1",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if order.ID != "ord_000TEST" {
		t.Fatalf("unexpected order id %s", order.ID)
	}
	if order.Number != "BO-2026-000042" {
		t.Fatalf("unexpected order number %s", order.Number)
	}
	if order.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected status processing got %s", order.Status)
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("expected payment pending got %s", order.PaymentStatus)
	}
	if order.Version != 1 {
		t.Fatalf("expected version 1 got %d", order.Version)
	}
	if len(inserted) != 1 {
		t.Fatalf("expected 1 inserted order got %d", len(inserted))
	}
	if len(audit.records) != 1 || audit.records[0].Note != "order created" {
		t.Fatalf("unexpected audit records %+v", audit.records)
	}
	if len(events.events) != 1 || events.events[0].Name != orderEventCreated {
		t.Fatalf("unexpected events %v", events.names())
	}
}

func TestOrderServiceCreateOrderRejectsInvalidItems(t *testing.T) {
	ctx := context.Background()
	svc := newOrderService(t, OrderServiceDeps{Orders: &stubOrderRepo{}})

	_, err := svc.CreateOrder(ctx, CreateOrderCommand{
		Customer: Customer{Name: "Dana Ellis"},
		Items:    []OrderItem{{ProductID: "prod-1", Quantity: 0, UnitPrice: 100}},
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input got %v", err)
	}

	_, err = svc.CreateOrder(ctx, CreateOrderCommand{
		Customer: Customer{Name: "Dana Ellis"},
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty items got %v", err)
	}
}

func TestOrderServiceShipTransition(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 11, 14, 0, 0, 0, time.UTC)
	audit := &captureAuditService{}
	events := &captureEvents{}

	var updated domain.Order
	var updateVersion int64
	repo := &stubOrderRepo{
		findFn: func(_ context.Context, id string) (domain.Order, error) {
			return domain.Order{ID: id, Status: domain.OrderStatusProcessing, Version: 3}, nil
		},
		updateFn: func(_ context.Context, order domain.Order, expectedVersion int64) (domain.Order, error) {
			updated = order
			updateVersion = expectedVersion
			order.Version = expectedVersion + 1
			return order, nil
		},
	}

	svc := newOrderService(t, OrderServiceDeps{
		Orders: repo,
		Audit:  audit,
		Clock:  func() time.Time { return now },
		Events: events,
	})

	order, err := svc.TransitionStatus(ctx, OrderTransitionCommand{
		OrderID: "ord_1",
		Target:  domain.OrderStatusShipped,
		Shipment: &ShipmentInput{
			Carrier:        "yamato",
			TrackingNumber: "TRK-100",
		},
		Actor: "staff-2",
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}

	if order.Status != domain.OrderStatusShipped {
		t.Fatalf("expected shipped got %s", order.Status)
	}
	if updateVersion != 3 {
		t.Fatalf("expected update against version 3 got %d", updateVersion)
	}
	if updated.Shipment == nil || updated.Shipment.Carrier != "yamato" || !updated.Shipment.ShippedAt.Equal(now) {
		t.Fatalf("unexpected shipment %+v", updated.Shipment)
	}
	if len(audit.byKind(domain.AuditKindStatusChanged)) != 1 {
		t.Fatalf("expected one status_changed entry, records %+v", audit.records)
	}
	shipped := audit.byKind(domain.AuditKindShipmentCreated)
	if len(shipped) != 1 || !strings.Contains(shipped[0].Note, "TRK-100") {
		t.Fatalf("unexpected shipment audit %+v", shipped)
	}
	if len(events.events) != 1 || events.events[0].Name != orderEventStatusChanged {
		t.Fatalf("unexpected events %v", events.names())
	}
}

func TestOrderServiceShipRequiresShipmentDetails(t *testing.T) {
	ctx := context.Background()
	svc := newOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			findFn: func(_ context.Context, id string) (domain.Order, error) {
				return domain.Order{ID: id, Status: domain.OrderStatusProcessing, Version: 1}, nil
			},
		},
	})

	_, err := svc.TransitionStatus(ctx, OrderTransitionCommand{
		OrderID: "ord_1",
		Target:  domain.OrderStatusShipped,
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input got %v", err)
	}
}

func TestOrderServiceSameStatusIsNoOp(t *testing.T) {
	ctx := context.Background()
	audit := &captureAuditService{}
	events := &captureEvents{}
	updates := 0

	svc := newOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			findFn: func(_ context.Context, id string) (domain.Order, error) {
				return domain.Order{ID: id, Status: domain.OrderStatusShipped, Version: 2}, nil
			},
			updateFn: func(_ context.Context, order domain.Order, expectedVersion int64) (domain.Order, error) {
				updates++
				return order, nil
			},
		},
		Audit:  audit,
		Events: events,
	})

	order, err := svc.TransitionStatus(ctx, OrderTransitionCommand{
		OrderID: "ord_1",
		Target:  domain.OrderStatusShipped,
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if order.Version != 2 {
		t.Fatalf("expected unchanged version 2 got %d", order.Version)
	}
	if updates != 0 {
		t.Fatalf("expected no updates got %d", updates)
	}
	if len(audit.records) != 0 {
		t.Fatalf("expected no audit entries got %+v", audit.records)
	}
	if len(events.events) != 0 {
		t.Fatalf("expected no events got %v", events.names())
	}
}

func TestOrderServiceRejectsIllegalTransition(t *testing.T) {
	ctx := context.Background()
	svc := newOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			findFn: func(_ context.Context, id string) (domain.Order, error) {
				return domain.Order{ID: id, Status: domain.OrderStatusDelivered, Version: 4}, nil
			},
		},
	})

	_, err := svc.TransitionStatus(ctx, OrderTransitionCommand{
		OrderID: "ord_1",
		Target:  domain.OrderStatusShipped,
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition got %v", err)
	}
}

func TestOrderServiceCancelPaidOrderRefunds(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 12, 8, 0, 0, 0, time.UTC)
	audit := &captureAuditService{}
	events := &captureEvents{}

	var updated domain.Order
	svc := newOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			findFn: func(_ context.Context, id string) (domain.Order, error) {
				return domain.Order{
					ID:            id,
					Status:        domain.OrderStatusProcessing,
					PaymentStatus: domain.PaymentStatusPaid,
					Items:         []domain.OrderItem{{ProductID: "prod-1", Quantity: 1, UnitPrice: 8000}},
					Version:       2,
				}, nil
			},
			updateFn: func(_ context.Context, order domain.Order, expectedVersion int64) (domain.Order, error) {
				updated = order
				order.Version = expectedVersion + 1
				return order, nil
			},
		},
		Audit:  audit,
		Clock:  func() time.Time { return now },
		Events: events,
	})

	order, err := svc.TransitionStatus(ctx, OrderTransitionCommand{
		OrderID: "ord_1",
		Target:  domain.OrderStatusCancelled,
		Reason:  "customer request",
		Actor:   "staff-3",
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled got %s", order.Status)
	}
	if updated.PaymentStatus != domain.PaymentStatusRefunded {
		t.Fatalf("expected refunded payment got %s", updated.PaymentStatus)
	}
	if updated.CancelReason != "customer request" {
		t.Fatalf("unexpected cancel reason %q", updated.CancelReason)
	}

	refunds := audit.byKind(domain.AuditKindRefundIssued)
	if len(refunds) != 1 || refunds[0].Note != cancellationRefundNote {
		t.Fatalf("unexpected refund audit %+v", refunds)
	}

	names := events.names()
	if len(names) != 2 || names[0] != orderEventRefundIssued || names[1] != orderEventStatusChanged {
		t.Fatalf("unexpected events %v", names)
	}
}

func TestOrderServiceCancelUnpaidOrderSkipsRefund(t *testing.T) {
	ctx := context.Background()
	audit := &captureAuditService{}

	svc := newOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			findFn: func(_ context.Context, id string) (domain.Order, error) {
				return domain.Order{ID: id, Status: domain.OrderStatusProcessing, PaymentStatus: domain.PaymentStatusPending, Version: 1}, nil
			},
		},
		Audit: audit,
	})

	order, err := svc.TransitionStatus(ctx, OrderTransitionCommand{
		OrderID: "ord_1",
		Target:  domain.OrderStatusCancelled,
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("expected payment pending got %s", order.PaymentStatus)
	}
	if len(audit.byKind(domain.AuditKindRefundIssued)) != 0 {
		t.Fatalf("expected no refund audit, records %+v", audit.records)
	}
}

func TestOrderServiceExpectedVersionMismatch(t *testing.T) {
	ctx := context.Background()
	svc := newOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			findFn: func(_ context.Context, id string) (domain.Order, error) {
				return domain.Order{ID: id, Status: domain.OrderStatusProcessing, Version: 5}, nil
			},
		},
	})

	expected := int64(4)
	_, err := svc.TransitionStatus(ctx, OrderTransitionCommand{
		OrderID:         "ord_1",
		Target:          domain.OrderStatusCancelled,
		ExpectedVersion: &expected,
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict got %v", err)
	}
}

func TestOrderServiceConflictFromRepository(t *testing.T) {
	ctx := context.Background()
	svc := newOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			findFn: func(_ context.Context, id string) (domain.Order, error) {
				return domain.Order{ID: id, Status: domain.OrderStatusProcessing, Version: 1}, nil
			},
			updateFn: func(context.Context, domain.Order, int64) (domain.Order, error) {
				return domain.Order{}, &stubRepoError{conflict: true}
			},
		},
	})

	_, err := svc.TransitionStatus(ctx, OrderTransitionCommand{
		OrderID: "ord_1",
		Target:  domain.OrderStatusCancelled,
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict got %v", err)
	}
}

func TestOrderServiceGetOrderNotFound(t *testing.T) {
	ctx := context.Background()
	svc := newOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) {
				return domain.Order{}, &stubRepoError{notFound: true}
			},
		},
	})

	_, err := svc.GetOrder(ctx, "ord_missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found got %v", err)
	}
}

func TestOrderServiceAddNote(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 13, 12, 0, 0, 0, time.UTC)
	audit := &captureAuditService{}
	events := &captureEvents{}

	svc := newOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			findFn: func(_ context.Context, id string) (domain.Order, error) {
				return domain.Order{ID: id, Status: domain.OrderStatusProcessing, Version: 1}, nil
			},
		},
		Audit:  audit,
		Clock:  func() time.Time { return now },
		Events: events,
	})

	entry, err := svc.AddNote(ctx, AddOrderNoteCommand{
		OrderID: "ord_1",
		Note:    "  called the customer  ",
		Actor:   "staff-4",
	})
	if err != nil {
		t.Fatalf("add note: %v", err)
	}
	if entry.Kind != domain.AuditKindNoteAdded || entry.Note != "called the customer" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if len(events.events) != 1 || events.events[0].Name != orderEventNoteAdded {
		t.Fatalf("unexpected events %v", events.names())
	}
}

func TestOrderServicePublishFailureIsNonFatal(t *testing.T) {
	ctx := context.Background()
	var logged string

	svc := newOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			findFn: func(_ context.Context, id string) (domain.Order, error) {
				return domain.Order{ID: id, Status: domain.OrderStatusProcessing, Version: 1}, nil
			},
		},
		Events: &captureEvents{err: errors.New("broker down")},
		Logger: func(_ context.Context, event string, _ map[string]any) {
			logged = event
		},
	})

	_, err := svc.TransitionStatus(ctx, OrderTransitionCommand{
		OrderID: "ord_1",
		Target:  domain.OrderStatusCancelled,
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if logged != "order.event.publish.failed" {
		t.Fatalf("expected publish failure log got %q", logged)
	}
}
