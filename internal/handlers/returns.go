package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/orderdesk/api/internal/domain"
	"github.com/orderdesk/api/internal/platform/httpx"
	"github.com/orderdesk/api/internal/services"
)

// ReturnHandlers exposes the return request workflow endpoints.
type ReturnHandlers struct {
	returns services.ReturnService
}

// NewReturnHandlers constructs a new ReturnHandlers instance.
func NewReturnHandlers(returns services.ReturnService) *ReturnHandlers {
	return &ReturnHandlers{returns: returns}
}

// Routes registers the /returns endpoints.
func (h *ReturnHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.fileReturn)
	r.Get("/", h.listReturns)
	r.Get("/{returnID}", h.getReturn)
	r.Post("/{returnID}:approve", h.approveReturn)
	r.Post("/{returnID}:deny", h.denyReturn)
	r.Post("/{returnID}:complete", h.completeReturn)
}

type fileReturnRequest struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
	Items   []struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	} `json:"items"`
}

type decideReturnRequest struct {
	Reason string `json:"reason"`
}

type completeReturnRequest struct {
	RefundAmount int64 `json:"refund_amount"`
}

func (h *ReturnHandlers) fileReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req fileReturnRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}

	items := make([]domain.ReturnItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, domain.ReturnItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		})
	}

	request, err := h.returns.File(ctx, services.FileReturnCommand{
		OrderID: strings.TrimSpace(req.OrderID),
		Items:   items,
		Reason:  strings.TrimSpace(req.Reason),
		Actor:   actorFromRequest(r),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, returnResponse{Return: buildReturnPayload(request)})
}

func (h *ReturnHandlers) listReturns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	pagination, ok := parsePagination(w, r)
	if !ok {
		return
	}

	page, err := h.returns.ListReturns(ctx, services.ReturnListFilter{
		OrderID:    strings.TrimSpace(query.Get("order_id")),
		Status:     parseFilterValues(query["status"]),
		Pagination: pagination,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]returnPayload, 0, len(page.Items))
	for _, request := range page.Items {
		items = append(items, buildReturnPayload(request))
	}

	writeJSONResponse(w, http.StatusOK, returnListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *ReturnHandlers) getReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	returnID := strings.TrimSpace(chi.URLParam(r, "returnID"))
	if returnID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "return id is required", http.StatusBadRequest))
		return
	}

	request, err := h.returns.GetReturn(ctx, returnID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, returnResponse{Return: buildReturnPayload(request)})
}

func (h *ReturnHandlers) approveReturn(w http.ResponseWriter, r *http.Request) {
	h.decideReturn(w, r, h.returnsApprove)
}

func (h *ReturnHandlers) denyReturn(w http.ResponseWriter, r *http.Request) {
	h.decideReturn(w, r, h.returnsDeny)
}

func (h *ReturnHandlers) returnsApprove(r *http.Request, cmd services.DecideReturnCommand) (services.ReturnRequest, error) {
	return h.returns.Approve(r.Context(), cmd)
}

func (h *ReturnHandlers) returnsDeny(r *http.Request, cmd services.DecideReturnCommand) (services.ReturnRequest, error) {
	return h.returns.Deny(r.Context(), cmd)
}

func (h *ReturnHandlers) decideReturn(w http.ResponseWriter, r *http.Request, decide func(*http.Request, services.DecideReturnCommand) (services.ReturnRequest, error)) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	returnID := strings.TrimSpace(chi.URLParam(r, "returnID"))
	if returnID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "return id is required", http.StatusBadRequest))
		return
	}

	var req decideReturnRequest
	if !decodeJSONBody(w, r, &req, true) {
		return
	}

	request, err := decide(r, services.DecideReturnCommand{
		ReturnID: returnID,
		Reason:   strings.TrimSpace(req.Reason),
		Actor:    actorFromRequest(r),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, returnResponse{Return: buildReturnPayload(request)})
}

func (h *ReturnHandlers) completeReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	returnID := strings.TrimSpace(chi.URLParam(r, "returnID"))
	if returnID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "return id is required", http.StatusBadRequest))
		return
	}

	var req completeReturnRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}

	request, err := h.returns.Complete(ctx, services.CompleteReturnCommand{
		ReturnID:     returnID,
		RefundAmount: req.RefundAmount,
		Actor:        actorFromRequest(r),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, returnResponse{Return: buildReturnPayload(request)})
}

type returnResponse struct {
	Return returnPayload `json:"return"`
}

type returnListResponse struct {
	Items         []returnPayload `json:"items"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

type returnPayload struct {
	ID           string              `json:"id"`
	OrderID      string              `json:"order_id"`
	Reason       string              `json:"reason"`
	Items        []returnItemPayload `json:"items"`
	Status       string              `json:"status"`
	RefundAmount int64               `json:"refund_amount"`
	RequestedAt  string              `json:"requested_at"`
	ProcessedAt  string              `json:"processed_at,omitempty"`
	Version      int64               `json:"version"`
	CreatedAt    string              `json:"created_at"`
	UpdatedAt    string              `json:"updated_at,omitempty"`
}

type returnItemPayload struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func buildReturnPayload(request services.ReturnRequest) returnPayload {
	payload := returnPayload{
		ID:           strings.TrimSpace(request.ID),
		OrderID:      strings.TrimSpace(request.OrderID),
		Reason:       strings.TrimSpace(request.Reason),
		Items:        make([]returnItemPayload, 0, len(request.Items)),
		Status:       string(request.Status),
		RefundAmount: request.RefundAmount,
		RequestedAt:  formatTime(request.RequestedAt),
		ProcessedAt:  formatTime(pointerTime(request.ProcessedAt)),
		Version:      request.Version,
		CreatedAt:    formatTime(request.CreatedAt),
		UpdatedAt:    formatTime(request.UpdatedAt),
	}

	for _, item := range request.Items {
		payload.Items = append(payload.Items, returnItemPayload{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		})
	}

	return payload
}
