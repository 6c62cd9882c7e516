package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/orderdesk/api/internal/domain"
	"github.com/orderdesk/api/internal/platform/httpx"
	"github.com/orderdesk/api/internal/services"
)

// OrderHandlers exposes the back-office order endpoints.
type OrderHandlers struct {
	orders   services.OrderService
	payments services.PaymentService
	audit    services.AuditLogService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, payments services.PaymentService, audit services.AuditLogService) *OrderHandlers {
	return &OrderHandlers{
		orders:   orders,
		payments: payments,
		audit:    audit,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:ship", h.shipOrder)
	r.Post("/{orderID}:deliver", h.deliverOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.Post("/{orderID}/payment:verify", h.verifyPayment)
	r.Post("/{orderID}/payment:refund", h.refundPayment)
	r.Post("/{orderID}/notes", h.addNote)
	r.Get("/{orderID}/audit", h.listAudit)
}

type createOrderRequest struct {
	Customer struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"customer"`
	Items []struct {
		ProductID string `json:"product_id"`
		Name      string `json:"name"`
		Quantity  int    `json:"quantity"`
		UnitPrice int64  `json:"unit_price"`
	} `json:"items"`
}

type shipOrderRequest struct {
	Carrier         string `json:"carrier"`
	TrackingNumber  string `json:"tracking_number"`
	TrackingURL     string `json:"tracking_url"`
	ExpectedVersion *int64 `json:"expected_version"`
}

type transitionOrderRequest struct {
	Reason          string `json:"reason"`
	ExpectedVersion *int64 `json:"expected_version"`
}

type verifyPaymentRequest struct {
	Method string `json:"method"`
	Note   string `json:"note"`
}

type refundPaymentRequest struct {
	Note string `json:"note"`
}

type addNoteRequest struct {
	Note string `json:"note"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}

	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, domain.OrderItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Name:      strings.TrimSpace(item.Name),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		Customer: domain.Customer{
			Name:  strings.TrimSpace(req.Customer.Name),
			Email: strings.TrimSpace(req.Customer.Email),
			Phone: strings.TrimSpace(req.Customer.Phone),
		},
		Items: items,
		Actor: actorFromRequest(r),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()

	var dateRange domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.To = &ts
	}

	pagination, ok := parsePagination(w, r)
	if !ok {
		return
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		Status:        parseFilterValues(query["status"]),
		PaymentStatus: parseFilterValues(query["payment_status"]),
		DateRange:     dateRange,
		Pagination:    pagination,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) shipOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req shipOrderRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderTransitionCommand{
		OrderID: orderID,
		Target:  domain.OrderStatusShipped,
		Shipment: &services.ShipmentInput{
			Carrier:        strings.TrimSpace(req.Carrier),
			TrackingNumber: strings.TrimSpace(req.TrackingNumber),
			TrackingURL:    strings.TrimSpace(req.TrackingURL),
		},
		Actor:           actorFromRequest(r),
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) deliverOrder(w http.ResponseWriter, r *http.Request) {
	h.transitionOrder(w, r, domain.OrderStatusDelivered)
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	h.transitionOrder(w, r, domain.OrderStatusCancelled)
}

func (h *OrderHandlers) transitionOrder(w http.ResponseWriter, r *http.Request, target domain.OrderStatus) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req transitionOrderRequest
	if !decodeJSONBody(w, r, &req, true) {
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderTransitionCommand{
		OrderID:         orderID,
		Target:          target,
		Reason:          strings.TrimSpace(req.Reason),
		Actor:           actorFromRequest(r),
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req verifyPaymentRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}

	order, err := h.payments.Verify(ctx, services.VerifyPaymentCommand{
		OrderID: orderID,
		Method:  strings.TrimSpace(req.Method),
		Note:    strings.TrimSpace(req.Note),
		Actor:   actorFromRequest(r),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) refundPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req refundPaymentRequest
	if !decodeJSONBody(w, r, &req, true) {
		return
	}

	order, err := h.payments.Refund(ctx, services.RefundPaymentCommand{
		OrderID: orderID,
		Note:    strings.TrimSpace(req.Note),
		Actor:   actorFromRequest(r),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) addNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req addNoteRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}

	entry, err := h.orders.AddNote(ctx, services.AddOrderNoteCommand{
		OrderID: orderID,
		Note:    req.Note,
		Actor:   actorFromRequest(r),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, auditEntryResponse{Entry: buildAuditEntryPayload(entry)})
}

func (h *OrderHandlers) listAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.audit == nil {
		httpx.WriteError(ctx, w, httpx.NewError("audit_service_unavailable", "audit service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	pagination, ok := parsePagination(w, r)
	if !ok {
		return
	}

	page, err := h.audit.ListByOrder(ctx, orderID, pagination)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]auditEntryPayload, 0, len(page.Items))
	for _, entry := range page.Items {
		items = append(items, buildAuditEntryPayload(entry))
	}

	writeJSONResponse(w, http.StatusOK, auditListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

// Response payloads ----------------------------------------------------------

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	Number        string `json:"number"`
	CustomerName  string `json:"customer_name"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	Total         int64  `json:"total"`
	CreatedAt     string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID            string                `json:"id"`
	Number        string                `json:"number"`
	Customer      customerPayload       `json:"customer"`
	Items         []orderItemPayload    `json:"items"`
	Status        string                `json:"status"`
	PaymentStatus string                `json:"payment_status"`
	Shipment      *shipmentPayload      `json:"shipment,omitempty"`
	Payment       *paymentRecordPayload `json:"payment,omitempty"`
	CancelReason  string                `json:"cancel_reason,omitempty"`
	Total         int64                 `json:"total"`
	Version       int64                 `json:"version"`
	CreatedAt     string                `json:"created_at"`
	UpdatedAt     string                `json:"updated_at,omitempty"`
}

type customerPayload struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type orderItemPayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Subtotal  int64  `json:"subtotal"`
}

type shipmentPayload struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
	TrackingURL    string `json:"tracking_url,omitempty"`
	ShippedAt      string `json:"shipped_at,omitempty"`
}

type paymentRecordPayload struct {
	Method     string `json:"method"`
	VerifiedAt string `json:"verified_at,omitempty"`
	Note       string `json:"note,omitempty"`
}

type auditEntryResponse struct {
	Entry auditEntryPayload `json:"entry"`
}

type auditListResponse struct {
	Items         []auditEntryPayload `json:"items"`
	NextPageToken string              `json:"next_page_token,omitempty"`
}

type auditEntryPayload struct {
	ID         string `json:"id"`
	OrderID    string `json:"order_id"`
	Seq        int64  `json:"seq"`
	Actor      string `json:"actor,omitempty"`
	Kind       string `json:"kind"`
	Note       string `json:"note,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:            strings.TrimSpace(order.ID),
		Number:        strings.TrimSpace(order.Number),
		CustomerName:  strings.TrimSpace(order.Customer.Name),
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Total:         order.Total(),
		CreatedAt:     formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:     strings.TrimSpace(order.ID),
		Number: strings.TrimSpace(order.Number),
		Customer: customerPayload{
			Name:  strings.TrimSpace(order.Customer.Name),
			Email: strings.TrimSpace(order.Customer.Email),
			Phone: strings.TrimSpace(order.Customer.Phone),
		},
		Items:         make([]orderItemPayload, 0, len(order.Items)),
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		CancelReason:  strings.TrimSpace(order.CancelReason),
		Total:         order.Total(),
		Version:       order.Version,
		CreatedAt:     formatTime(order.CreatedAt),
		UpdatedAt:     formatTime(order.UpdatedAt),
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID: strings.TrimSpace(item.ProductID),
			Name:      strings.TrimSpace(item.Name),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.Subtotal(),
		})
	}

	if order.Shipment != nil {
		payload.Shipment = &shipmentPayload{
			Carrier:        strings.TrimSpace(order.Shipment.Carrier),
			TrackingNumber: strings.TrimSpace(order.Shipment.TrackingNumber),
			TrackingURL:    strings.TrimSpace(order.Shipment.TrackingURL),
			ShippedAt:      formatTime(order.Shipment.ShippedAt),
		}
	}

	if order.Payment != nil {
		payload.Payment = &paymentRecordPayload{
			Method:     strings.TrimSpace(order.Payment.Method),
			VerifiedAt: formatTime(order.Payment.VerifiedAt),
			Note:       strings.TrimSpace(order.Payment.Note),
		}
	}

	return payload
}

func buildAuditEntryPayload(entry services.AuditEntry) auditEntryPayload {
	return auditEntryPayload{
		ID:         strings.TrimSpace(entry.ID),
		OrderID:    strings.TrimSpace(entry.OrderID),
		Seq:        entry.Seq,
		Actor:      strings.TrimSpace(entry.Actor),
		Kind:       string(entry.Kind),
		Note:       strings.TrimSpace(entry.Note),
		OccurredAt: formatTime(entry.OccurredAt),
	}
}
