package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/orderdesk/api/internal/domain"
	"github.com/orderdesk/api/internal/services"
)

type stubOrderService struct {
	createFn     func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error)
	getFn        func(ctx context.Context, orderID string) (services.Order, error)
	listFn       func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error)
	transitionFn func(ctx context.Context, cmd services.OrderTransitionCommand) (services.Order, error)
	addNoteFn    func(ctx context.Context, cmd services.AddOrderNoteCommand) (services.AuditEntry, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn == nil {
		return services.Order{}, errors.New("createFn not implemented")
	}
	return s.createFn(ctx, cmd)
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	if s.getFn == nil {
		return services.Order{}, errors.New("getFn not implemented")
	}
	return s.getFn(ctx, orderID)
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn == nil {
		return domain.CursorPage[services.Order]{}, errors.New("listFn not implemented")
	}
	return s.listFn(ctx, filter)
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderTransitionCommand) (services.Order, error) {
	if s.transitionFn == nil {
		return services.Order{}, errors.New("transitionFn not implemented")
	}
	return s.transitionFn(ctx, cmd)
}

func (s *stubOrderService) AddNote(ctx context.Context, cmd services.AddOrderNoteCommand) (services.AuditEntry, error) {
	if s.addNoteFn == nil {
		return services.AuditEntry{}, errors.New("addNoteFn not implemented")
	}
	return s.addNoteFn(ctx, cmd)
}

type stubPaymentService struct {
	verifyFn func(ctx context.Context, cmd services.VerifyPaymentCommand) (services.Order, error)
	refundFn func(ctx context.Context, cmd services.RefundPaymentCommand) (services.Order, error)
}

func (s *stubPaymentService) Verify(ctx context.Context, cmd services.VerifyPaymentCommand) (services.Order, error) {
	if s.verifyFn == nil {
		return services.Order{}, errors.New("verifyFn not implemented")
	}
	return s.verifyFn(ctx, cmd)
}

func (s *stubPaymentService) Refund(ctx context.Context, cmd services.RefundPaymentCommand) (services.Order, error) {
	if s.refundFn == nil {
		return services.Order{}, errors.New("refundFn not implemented")
	}
	return s.refundFn(ctx, cmd)
}

type stubAuditService struct {
	recordFn func(ctx context.Context, record services.AuditRecord) (services.AuditEntry, error)
	listFn   func(ctx context.Context, orderID string, pager services.Pagination) (domain.CursorPage[services.AuditEntry], error)
}

func (s *stubAuditService) Record(ctx context.Context, record services.AuditRecord) (services.AuditEntry, error) {
	if s.recordFn == nil {
		return services.AuditEntry{}, errors.New("recordFn not implemented")
	}
	return s.recordFn(ctx, record)
}

func (s *stubAuditService) ListByOrder(ctx context.Context, orderID string, pager services.Pagination) (domain.CursorPage[services.AuditEntry], error) {
	if s.listFn == nil {
		return domain.CursorPage[services.AuditEntry]{}, errors.New("listFn not implemented")
	}
	return s.listFn(ctx, orderID, pager)
}

var (
	_ services.OrderService    = (*stubOrderService)(nil)
	_ services.PaymentService  = (*stubPaymentService)(nil)
	_ services.AuditLogService = (*stubAuditService)(nil)
)

func orderRouter(orders services.OrderService, payments services.PaymentService, audit services.AuditLogService) http.Handler {
	handlers := NewOrderHandlers(orders, payments, audit)
	return NewRouter(WithOrderRoutes(handlers.Routes))
}

func sampleOrder() services.Order {
	return services.Order{
		ID:     "ord_1",
		Number: "BO-2026-000042",
		Customer: domain.Customer{
			Name:  "Aiko Tanaka",
			Email: "aiko@example.com",
		},
		Items: []domain.OrderItem{
			{ProductID: "prod_1", Name: "Mug", Quantity: 2, UnitPrice: 1200},
		},
		Status:        domain.OrderStatusProcessing,
		PaymentStatus: domain.PaymentStatusPending,
		Version:       1,
		CreatedAt:     time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestOrderHandlersCreateOrder(t *testing.T) {
	var captured services.CreateOrderCommand
	orders := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(), nil
		},
	}

	body := `{"customer":{"name":" Aiko Tanaka ","email":"aiko@example.com"},"items":[{"product_id":"prod_1","name":"Mug","quantity":2,"unit_price":1200}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/", strings.NewReader(body))
	req.Header.Set("X-Actor", "ops@example.com")
	rr := httptest.NewRecorder()

	orderRouter(orders, nil, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Actor != "ops@example.com" {
		t.Fatalf("expected actor from header, got %q", captured.Actor)
	}
	if captured.Customer.Name != "Aiko Tanaka" {
		t.Fatalf("expected trimmed customer name, got %q", captured.Customer.Name)
	}
	if len(captured.Items) != 1 || captured.Items[0].Quantity != 2 {
		t.Fatalf("unexpected items: %+v", captured.Items)
	}

	var response struct {
		Order struct {
			ID     string `json:"id"`
			Number string `json:"number"`
			Total  int64  `json:"total"`
		} `json:"order"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response.Order.ID != "ord_1" || response.Order.Number != "BO-2026-000042" {
		t.Fatalf("unexpected order payload: %+v", response.Order)
	}
	if response.Order.Total != 2400 {
		t.Fatalf("expected computed total 2400, got %d", response.Order.Total)
	}
}

func TestOrderHandlersCreateOrderRejectsEmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/", nil)
	rr := httptest.NewRecorder()

	orderRouter(&stubOrderService{}, nil, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersListForwardsFilters(t *testing.T) {
	var captured services.OrderListFilter
	orders := &stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{sampleOrder()},
				NextPageToken: "token-2",
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/?status=shipped,delivered&payment_status=paid&page_size=5&page_token=tok&created_after=2026-01-01T00:00:00Z", nil)
	rr := httptest.NewRecorder()

	orderRouter(orders, nil, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(captured.Status) != 2 || captured.Status[0] != "shipped" || captured.Status[1] != "delivered" {
		t.Fatalf("unexpected status filter: %v", captured.Status)
	}
	if len(captured.PaymentStatus) != 1 || captured.PaymentStatus[0] != "paid" {
		t.Fatalf("unexpected payment status filter: %v", captured.PaymentStatus)
	}
	if captured.Pagination.PageSize != 5 || captured.Pagination.PageToken != "tok" {
		t.Fatalf("unexpected pagination: %+v", captured.Pagination)
	}
	if captured.DateRange.From == nil || !captured.DateRange.From.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date range: %+v", captured.DateRange)
	}

	var response struct {
		Items         []map[string]any `json:"items"`
		NextPageToken string           `json:"next_page_token"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(response.Items) != 1 || response.NextPageToken != "token-2" {
		t.Fatalf("unexpected list response: %+v", response)
	}
}

func TestOrderHandlersListRejectsBadPageSize(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/?page_size=abc", nil)
	rr := httptest.NewRecorder()

	orderRouter(&stubOrderService{}, nil, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrderNotFound(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(_ context.Context, orderID string) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: order %s", services.ErrNotFound, orderID)
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord_missing", nil)
	rr := httptest.NewRecorder()

	orderRouter(orders, nil, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["error"] != "not_found" {
		t.Fatalf("expected not_found error code, got %v", body["error"])
	}
}

func TestOrderHandlersShipForwardsShipment(t *testing.T) {
	var captured services.OrderTransitionCommand
	orders := &stubOrderService{
		transitionFn: func(_ context.Context, cmd services.OrderTransitionCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusShipped
			order.Version = 2
			return order, nil
		},
	}

	body := `{"carrier":"yamato","tracking_number":"TRK-100","expected_version":1}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord_1:ship", strings.NewReader(body))
	req.Header.Set("X-Actor", "ops@example.com")
	rr := httptest.NewRecorder()

	orderRouter(orders, nil, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.Target != domain.OrderStatusShipped {
		t.Fatalf("unexpected transition command: %+v", captured)
	}
	if captured.Shipment == nil || captured.Shipment.Carrier != "yamato" || captured.Shipment.TrackingNumber != "TRK-100" {
		t.Fatalf("unexpected shipment: %+v", captured.Shipment)
	}
	if captured.ExpectedVersion == nil || *captured.ExpectedVersion != 1 {
		t.Fatalf("expected version guard 1, got %+v", captured.ExpectedVersion)
	}
}

func TestOrderHandlersCancelConflict(t *testing.T) {
	orders := &stubOrderService{
		transitionFn: func(_ context.Context, cmd services.OrderTransitionCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: version moved", services.ErrConflict)
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord_1:cancel", strings.NewReader(`{"reason":"customer request"}`))
	rr := httptest.NewRecorder()

	orderRouter(orders, nil, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestOrderHandlersCancelAllowsEmptyBody(t *testing.T) {
	var captured services.OrderTransitionCommand
	orders := &stubOrderService{
		transitionFn: func(_ context.Context, cmd services.OrderTransitionCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusCancelled
			return order, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord_1:cancel", nil)
	rr := httptest.NewRecorder()

	orderRouter(orders, nil, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Target != domain.OrderStatusCancelled || captured.Reason != "" {
		t.Fatalf("unexpected command: %+v", captured)
	}
}

func TestOrderHandlersVerifyPayment(t *testing.T) {
	var captured services.VerifyPaymentCommand
	payments := &stubPaymentService{
		verifyFn: func(_ context.Context, cmd services.VerifyPaymentCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.PaymentStatus = domain.PaymentStatusPaid
			return order, nil
		},
	}

	body := `{"method":"bank_transfer","note":"wire received"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord_1/payment:verify", strings.NewReader(body))
	req.Header.Set("X-Actor", "finance@example.com")
	rr := httptest.NewRecorder()

	orderRouter(&stubOrderService{}, payments, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.Method != "bank_transfer" || captured.Actor != "finance@example.com" {
		t.Fatalf("unexpected verify command: %+v", captured)
	}

	var response struct {
		Order struct {
			PaymentStatus string `json:"payment_status"`
		} `json:"order"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response.Order.PaymentStatus != "paid" {
		t.Fatalf("expected paid payment status, got %q", response.Order.PaymentStatus)
	}
}

func TestOrderHandlersRefundNotEligible(t *testing.T) {
	payments := &stubPaymentService{
		refundFn: func(_ context.Context, cmd services.RefundPaymentCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: payment is pending", services.ErrNotEligible)
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord_1/payment:refund", nil)
	rr := httptest.NewRecorder()

	orderRouter(&stubOrderService{}, payments, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestOrderHandlersAddNote(t *testing.T) {
	var captured services.AddOrderNoteCommand
	orders := &stubOrderService{
		addNoteFn: func(_ context.Context, cmd services.AddOrderNoteCommand) (services.AuditEntry, error) {
			captured = cmd
			return services.AuditEntry{
				ID:         "aud_1",
				OrderID:    cmd.OrderID,
				Seq:        4,
				Actor:      cmd.Actor,
				Kind:       domain.AuditKindNoteAdded,
				Note:       "call customer back",
				OccurredAt: time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC),
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord_1/notes", strings.NewReader(`{"note":"call customer back"}`))
	req.Header.Set("X-Actor", "ops@example.com")
	rr := httptest.NewRecorder()

	orderRouter(orders, nil, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.Actor != "ops@example.com" {
		t.Fatalf("unexpected note command: %+v", captured)
	}

	var response struct {
		Entry struct {
			Seq  int64  `json:"seq"`
			Kind string `json:"kind"`
		} `json:"entry"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response.Entry.Seq != 4 || response.Entry.Kind != "note_added" {
		t.Fatalf("unexpected entry payload: %+v", response.Entry)
	}
}

func TestOrderHandlersListAudit(t *testing.T) {
	audit := &stubAuditService{
		listFn: func(_ context.Context, orderID string, pager services.Pagination) (domain.CursorPage[services.AuditEntry], error) {
			if orderID != "ord_1" {
				t.Fatalf("unexpected order id %q", orderID)
			}
			return domain.CursorPage[services.AuditEntry]{
				Items: []services.AuditEntry{
					{ID: "aud_1", OrderID: orderID, Seq: 1, Kind: domain.AuditKindStatusChanged},
					{ID: "aud_2", OrderID: orderID, Seq: 2, Kind: domain.AuditKindNoteAdded},
				},
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord_1/audit", nil)
	rr := httptest.NewRecorder()

	orderRouter(&stubOrderService{}, nil, audit).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var response struct {
		Items []struct {
			Seq  int64  `json:"seq"`
			Kind string `json:"kind"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(response.Items) != 2 || response.Items[0].Seq != 1 || response.Items[1].Kind != "note_added" {
		t.Fatalf("unexpected audit payload: %+v", response.Items)
	}
}
