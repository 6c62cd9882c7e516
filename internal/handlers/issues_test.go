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

type stubIssueService struct {
	reportFn func(ctx context.Context, cmd services.ReportIssueCommand) (services.Issue, error)
	updateFn func(ctx context.Context, cmd services.UpdateIssueCommand) (services.Issue, error)
	getFn    func(ctx context.Context, issueID string) (services.Issue, error)
	listFn   func(ctx context.Context, filter services.IssueListFilter) (domain.CursorPage[services.Issue], error)
}

func (s *stubIssueService) Report(ctx context.Context, cmd services.ReportIssueCommand) (services.Issue, error) {
	if s.reportFn == nil {
		return services.Issue{}, errors.New("reportFn not implemented")
	}
	return s.reportFn(ctx, cmd)
}

func (s *stubIssueService) UpdateStatus(ctx context.Context, cmd services.UpdateIssueCommand) (services.Issue, error) {
	if s.updateFn == nil {
		return services.Issue{}, errors.New("updateFn not implemented")
	}
	return s.updateFn(ctx, cmd)
}

func (s *stubIssueService) GetIssue(ctx context.Context, issueID string) (services.Issue, error) {
	if s.getFn == nil {
		return services.Issue{}, errors.New("getFn not implemented")
	}
	return s.getFn(ctx, issueID)
}

func (s *stubIssueService) ListIssues(ctx context.Context, filter services.IssueListFilter) (domain.CursorPage[services.Issue], error) {
	if s.listFn == nil {
		return domain.CursorPage[services.Issue]{}, errors.New("listFn not implemented")
	}
	return s.listFn(ctx, filter)
}

var _ services.IssueService = (*stubIssueService)(nil)

func issueRouter(issues services.IssueService) http.Handler {
	handlers := NewIssueHandlers(issues)
	return NewRouter(WithIssueRoutes(handlers.Routes))
}

func sampleIssue() services.Issue {
	return services.Issue{
		ID:          "iss_1",
		OrderID:     "ord_1",
		Type:        "wrong_item",
		Priority:    domain.IssuePriorityMedium,
		Status:      domain.IssueStatusOpen,
		Description: "received a different color",
		ReportedAt:  time.Date(2026, 2, 5, 11, 0, 0, 0, time.UTC),
		Version:     1,
		CreatedAt:   time.Date(2026, 2, 5, 11, 0, 0, 0, time.UTC),
	}
}

func TestIssueHandlersReportIssue(t *testing.T) {
	var captured services.ReportIssueCommand
	issues := &stubIssueService{
		reportFn: func(_ context.Context, cmd services.ReportIssueCommand) (services.Issue, error) {
			captured = cmd
			return sampleIssue(), nil
		},
	}

	body := `{"order_id":"ord_1","type":"wrong_item","priority":"medium","description":"received a different color"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/issues/", strings.NewReader(body))
	req.Header.Set("X-Actor", "support@example.com")
	rr := httptest.NewRecorder()

	issueRouter(issues).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.Type != "wrong_item" || captured.Priority != domain.IssuePriorityMedium {
		t.Fatalf("unexpected report command: %+v", captured)
	}
	if captured.Actor != "support@example.com" {
		t.Fatalf("expected actor from header, got %q", captured.Actor)
	}

	var response struct {
		Issue struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"issue"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response.Issue.ID != "iss_1" || response.Issue.Status != "open" {
		t.Fatalf("unexpected issue payload: %+v", response.Issue)
	}
}

func TestIssueHandlersReportInvalidPriority(t *testing.T) {
	issues := &stubIssueService{
		reportFn: func(_ context.Context, cmd services.ReportIssueCommand) (services.Issue, error) {
			return services.Issue{}, fmt.Errorf("%w: unknown priority %q", services.ErrInvalidInput, cmd.Priority)
		},
	}

	body := `{"order_id":"ord_1","type":"wrong_item","priority":"urgent","description":"x"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/issues/", strings.NewReader(body))
	rr := httptest.NewRecorder()

	issueRouter(issues).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestIssueHandlersUpdateStatus(t *testing.T) {
	var captured services.UpdateIssueCommand
	issues := &stubIssueService{
		updateFn: func(_ context.Context, cmd services.UpdateIssueCommand) (services.Issue, error) {
			captured = cmd
			resolved := time.Date(2026, 2, 6, 9, 0, 0, 0, time.UTC)
			issue := sampleIssue()
			issue.Status = domain.IssueStatusResolved
			issue.Resolution = cmd.Resolution
			issue.ResolvedAt = &resolved
			return issue, nil
		},
	}

	body := `{"status":"resolved","resolution":"replacement shipped"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/issues/iss_1:status", strings.NewReader(body))
	rr := httptest.NewRecorder()

	issueRouter(issues).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.IssueID != "iss_1" || captured.Target != domain.IssueStatusResolved || captured.Resolution != "replacement shipped" {
		t.Fatalf("unexpected update command: %+v", captured)
	}

	var response struct {
		Issue struct {
			Status     string `json:"status"`
			Resolution string `json:"resolution"`
			ResolvedAt string `json:"resolved_at"`
		} `json:"issue"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response.Issue.Status != "resolved" || response.Issue.Resolution != "replacement shipped" || response.Issue.ResolvedAt == "" {
		t.Fatalf("unexpected issue payload: %+v", response.Issue)
	}
}

func TestIssueHandlersResolveWithoutResolution(t *testing.T) {
	issues := &stubIssueService{
		updateFn: func(_ context.Context, cmd services.UpdateIssueCommand) (services.Issue, error) {
			return services.Issue{}, fmt.Errorf("%w", services.ErrMissingResolution)
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/issues/iss_1:status", strings.NewReader(`{"status":"resolved"}`))
	rr := httptest.NewRecorder()

	issueRouter(issues).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}

	var responseBody map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &responseBody); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if responseBody["error"] != "missing_resolution" {
		t.Fatalf("expected missing_resolution error code, got %v", responseBody["error"])
	}
}

func TestIssueHandlersListForwardsFilters(t *testing.T) {
	var captured services.IssueListFilter
	issues := &stubIssueService{
		listFn: func(_ context.Context, filter services.IssueListFilter) (domain.CursorPage[services.Issue], error) {
			captured = filter
			return domain.CursorPage[services.Issue]{Items: []services.Issue{sampleIssue()}}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/issues/?order_id=ord_1&status=open&priority=high,medium", nil)
	rr := httptest.NewRecorder()

	issueRouter(issues).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || len(captured.Status) != 1 || len(captured.Priority) != 2 {
		t.Fatalf("unexpected filter: %+v", captured)
	}
}
