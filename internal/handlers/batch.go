package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/orderdesk/api/internal/platform/httpx"
	"github.com/orderdesk/api/internal/services"
)

// BatchHandlers exposes the bulk order operation endpoint.
type BatchHandlers struct {
	batch   services.BatchService
	limiter rateLimiter
}

// BatchHandlerOption customises the batch handlers.
type BatchHandlerOption func(*BatchHandlers)

// WithBatchRateLimit caps batch submissions per actor within the window.
func WithBatchRateLimit(limit int, window time.Duration, clock func() time.Time) BatchHandlerOption {
	return func(h *BatchHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, clock)
	}
}

// NewBatchHandlers constructs a new BatchHandlers instance.
func NewBatchHandlers(batch services.BatchService, opts ...BatchHandlerOption) *BatchHandlers {
	handlers := &BatchHandlers{batch: batch}
	for _, opt := range opts {
		if opt != nil {
			opt(handlers)
		}
	}
	return handlers
}

// Routes registers the /batch endpoints.
func (h *BatchHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.applyBatch)
}

type batchRequest struct {
	OrderIDs  []string `json:"order_ids"`
	Operation string   `json:"operation"`
	Shipment  *struct {
		Carrier        string `json:"carrier"`
		TrackingNumber string `json:"tracking_number"`
		TrackingURL    string `json:"tracking_url"`
	} `json:"shipment"`
	Reason string `json:"reason"`
}

type batchResponse struct {
	Succeeded []string              `json:"succeeded"`
	Failed    []batchFailurePayload `json:"failed"`
}

type batchFailurePayload struct {
	OrderID string `json:"order_id"`
	Error   string `json:"error"`
}

func (h *BatchHandlers) applyBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.batch == nil {
		httpx.WriteError(ctx, w, httpx.NewError("batch_service_unavailable", "batch service unavailable", http.StatusServiceUnavailable))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(actorFromRequest(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many batch requests, retry later", http.StatusTooManyRequests))
		return
	}

	var req batchRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}

	cmd := services.BatchCommand{
		OrderIDs:  req.OrderIDs,
		Operation: services.BatchOperation(strings.TrimSpace(req.Operation)),
		Reason:    strings.TrimSpace(req.Reason),
		Actor:     actorFromRequest(r),
	}
	if req.Shipment != nil {
		cmd.Shipment = &services.ShipmentInput{
			Carrier:        strings.TrimSpace(req.Shipment.Carrier),
			TrackingNumber: strings.TrimSpace(req.Shipment.TrackingNumber),
			TrackingURL:    strings.TrimSpace(req.Shipment.TrackingURL),
		}
	}

	result, err := h.batch.Apply(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	response := batchResponse{
		Succeeded: append([]string{}, result.Succeeded...),
		Failed:    make([]batchFailurePayload, 0, len(result.Failed)),
	}
	for _, failure := range result.Failed {
		payload := batchFailurePayload{OrderID: failure.OrderID}
		if failure.Err != nil {
			payload.Error = failure.Err.Error()
		}
		response.Failed = append(response.Failed, payload)
	}

	// 207 signals per-order outcomes that must be inspected individually.
	status := http.StatusOK
	if len(response.Failed) > 0 {
		status = http.StatusMultiStatus
	}
	writeJSONResponse(w, status, response)
}
