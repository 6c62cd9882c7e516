package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/orderdesk/api/internal/domain"
	"github.com/orderdesk/api/internal/platform/httpx"
	"github.com/orderdesk/api/internal/services"
)

// IssueHandlers exposes the customer issue endpoints.
type IssueHandlers struct {
	issues services.IssueService
}

// NewIssueHandlers constructs a new IssueHandlers instance.
func NewIssueHandlers(issues services.IssueService) *IssueHandlers {
	return &IssueHandlers{issues: issues}
}

// Routes registers the /issues endpoints.
func (h *IssueHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.reportIssue)
	r.Get("/", h.listIssues)
	r.Get("/{issueID}", h.getIssue)
	r.Post("/{issueID}:status", h.updateStatus)
}

type reportIssueRequest struct {
	OrderID     string `json:"order_id"`
	Type        string `json:"type"`
	Priority    string `json:"priority"`
	Description string `json:"description"`
}

type updateIssueRequest struct {
	Status     string `json:"status"`
	Resolution string `json:"resolution"`
}

func (h *IssueHandlers) reportIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.issues == nil {
		httpx.WriteError(ctx, w, httpx.NewError("issue_service_unavailable", "issue service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req reportIssueRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}

	issue, err := h.issues.Report(ctx, services.ReportIssueCommand{
		OrderID:     strings.TrimSpace(req.OrderID),
		Type:        strings.TrimSpace(req.Type),
		Priority:    domain.IssuePriority(strings.TrimSpace(req.Priority)),
		Description: strings.TrimSpace(req.Description),
		Actor:       actorFromRequest(r),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, issueResponse{Issue: buildIssuePayload(issue)})
}

func (h *IssueHandlers) listIssues(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.issues == nil {
		httpx.WriteError(ctx, w, httpx.NewError("issue_service_unavailable", "issue service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	pagination, ok := parsePagination(w, r)
	if !ok {
		return
	}

	page, err := h.issues.ListIssues(ctx, services.IssueListFilter{
		OrderID:    strings.TrimSpace(query.Get("order_id")),
		Status:     parseFilterValues(query["status"]),
		Priority:   parseFilterValues(query["priority"]),
		Pagination: pagination,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]issuePayload, 0, len(page.Items))
	for _, issue := range page.Items {
		items = append(items, buildIssuePayload(issue))
	}

	writeJSONResponse(w, http.StatusOK, issueListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *IssueHandlers) getIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.issues == nil {
		httpx.WriteError(ctx, w, httpx.NewError("issue_service_unavailable", "issue service unavailable", http.StatusServiceUnavailable))
		return
	}

	issueID := strings.TrimSpace(chi.URLParam(r, "issueID"))
	if issueID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "issue id is required", http.StatusBadRequest))
		return
	}

	issue, err := h.issues.GetIssue(ctx, issueID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, issueResponse{Issue: buildIssuePayload(issue)})
}

func (h *IssueHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.issues == nil {
		httpx.WriteError(ctx, w, httpx.NewError("issue_service_unavailable", "issue service unavailable", http.StatusServiceUnavailable))
		return
	}

	issueID := strings.TrimSpace(chi.URLParam(r, "issueID"))
	if issueID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "issue id is required", http.StatusBadRequest))
		return
	}

	var req updateIssueRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}

	issue, err := h.issues.UpdateStatus(ctx, services.UpdateIssueCommand{
		IssueID:    issueID,
		Target:     domain.IssueStatus(strings.TrimSpace(req.Status)),
		Resolution: strings.TrimSpace(req.Resolution),
		Actor:      actorFromRequest(r),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, issueResponse{Issue: buildIssuePayload(issue)})
}

type issueResponse struct {
	Issue issuePayload `json:"issue"`
}

type issueListResponse struct {
	Items         []issuePayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type issuePayload struct {
	ID          string `json:"id"`
	OrderID     string `json:"order_id"`
	Type        string `json:"type"`
	Priority    string `json:"priority"`
	Status      string `json:"status"`
	Description string `json:"description"`
	Resolution  string `json:"resolution,omitempty"`
	ReportedAt  string `json:"reported_at"`
	ResolvedAt  string `json:"resolved_at,omitempty"`
	Version     int64  `json:"version"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

func buildIssuePayload(issue services.Issue) issuePayload {
	return issuePayload{
		ID:          strings.TrimSpace(issue.ID),
		OrderID:     strings.TrimSpace(issue.OrderID),
		Type:        strings.TrimSpace(issue.Type),
		Priority:    string(issue.Priority),
		Status:      string(issue.Status),
		Description: strings.TrimSpace(issue.Description),
		Resolution:  strings.TrimSpace(issue.Resolution),
		ReportedAt:  formatTime(issue.ReportedAt),
		ResolvedAt:  formatTime(pointerTime(issue.ResolvedAt)),
		Version:     issue.Version,
		CreatedAt:   formatTime(issue.CreatedAt),
		UpdatedAt:   formatTime(issue.UpdatedAt),
	}
}
