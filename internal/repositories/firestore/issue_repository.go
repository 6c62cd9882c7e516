package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/orderdesk/api/internal/domain"
	pfirestore "github.com/orderdesk/api/internal/platform/firestore"
	"github.com/orderdesk/api/internal/repositories"
)

const issuesCollection = "issues"

type issueDocument struct {
	OrderID     string     `firestore:"orderId"`
	Type        string     `firestore:"type"`
	Priority    string     `firestore:"priority"`
	Status      string     `firestore:"status"`
	Description string     `firestore:"description"`
	Resolution  string     `firestore:"resolution,omitempty"`
	ReportedAt  time.Time  `firestore:"reportedAt"`
	ResolvedAt  *time.Time `firestore:"resolvedAt,omitempty"`
	Version     int64      `firestore:"version"`
	CreatedAt   time.Time  `firestore:"createdAt"`
	UpdatedAt   time.Time  `firestore:"updatedAt"`
}

func issueToDocument(issue domain.Issue) issueDocument {
	doc := issueDocument{
		OrderID:     issue.OrderID,
		Type:        issue.Type,
		Priority:    string(issue.Priority),
		Status:      string(issue.Status),
		Description: issue.Description,
		Resolution:  strings.TrimSpace(issue.Resolution),
		ReportedAt:  issue.ReportedAt.UTC(),
		Version:     issue.Version,
		CreatedAt:   issue.CreatedAt.UTC(),
		UpdatedAt:   issue.UpdatedAt.UTC(),
	}
	if issue.ResolvedAt != nil {
		resolved := issue.ResolvedAt.UTC()
		doc.ResolvedAt = &resolved
	}
	return doc
}

func (d issueDocument) toDomain(id string) domain.Issue {
	issue := domain.Issue{
		ID:          id,
		OrderID:     d.OrderID,
		Type:        d.Type,
		Priority:    domain.IssuePriority(d.Priority),
		Status:      domain.IssueStatus(d.Status),
		Description: d.Description,
		Resolution:  d.Resolution,
		ReportedAt:  d.ReportedAt.UTC(),
		Version:     d.Version,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
	if d.ResolvedAt != nil {
		resolved := d.ResolvedAt.UTC()
		issue.ResolvedAt = &resolved
	}
	return issue
}

// IssueRepository persists customer issues within Firestore.
type IssueRepository struct {
	base     *pfirestore.BaseRepository[issueDocument]
	provider *pfirestore.Provider
}

var _ repositories.IssueRepository = (*IssueRepository)(nil)

// NewIssueRepository constructs a Firestore-backed issue repository.
func NewIssueRepository(provider *pfirestore.Provider) (*IssueRepository, error) {
	if provider == nil {
		return nil, errors.New("issue repository requires firestore provider")
	}
	return &IssueRepository{
		base:     pfirestore.NewBaseRepository[issueDocument](provider, issuesCollection, nil, nil),
		provider: provider,
	}, nil
}

func (r *IssueRepository) Insert(ctx context.Context, issue domain.Issue) error {
	if r == nil || r.base == nil {
		return errors.New("issue repository not initialised")
	}
	id := strings.TrimSpace(issue.ID)
	if id == "" {
		return errors.New("issue repository: issue id is required")
	}

	_, err := r.base.Create(ctx, id, issueToDocument(issue))
	return err
}

func (r *IssueRepository) Update(ctx context.Context, issue domain.Issue, expectedVersion int64) (domain.Issue, error) {
	if r == nil || r.provider == nil {
		return domain.Issue{}, errors.New("issue repository not initialised")
	}
	id := strings.TrimSpace(issue.ID)
	if id == "" {
		return domain.Issue{}, errors.New("issue repository: issue id is required")
	}

	doc := issueToDocument(issue)
	doc.Version = expectedVersion + 1

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}

		snapshot, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return pfirestore.NewNotFoundError("issues.update", fmt.Errorf("issue %s not found", id))
		}
		if err != nil {
			return err
		}

		var current issueDocument
		if err := snapshot.DataTo(&current); err != nil {
			return fmt.Errorf("firestore issues decode %s: %w", id, err)
		}
		if current.Version != expectedVersion {
			return pfirestore.NewConflictError("issues.update", fmt.Errorf("issue %s is at version %d, expected %d", id, current.Version, expectedVersion))
		}

		return tx.Set(ref, doc)
	})
	if err != nil {
		return domain.Issue{}, pfirestore.WrapError("issues.update", err)
	}

	return doc.toDomain(id), nil
}

func (r *IssueRepository) FindByID(ctx context.Context, issueID string) (domain.Issue, error) {
	if r == nil || r.base == nil {
		return domain.Issue{}, errors.New("issue repository not initialised")
	}
	id := strings.TrimSpace(issueID)
	if id == "" {
		return domain.Issue{}, errors.New("issue repository: issue id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Issue{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *IssueRepository) List(ctx context.Context, filter repositories.IssueListFilter) (domain.CursorPage[domain.Issue], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Issue]{}, errors.New("issue repository not initialised")
	}

	pageSize := clampPageSize(filter.Pagination.PageSize)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Issue]{}, pfirestore.WrapError("issues.list", err)
	}

	query := client.Collection(issuesCollection).Query
	if orderID := strings.TrimSpace(filter.OrderID); orderID != "" {
		query = query.Where("orderId", "==", orderID)
	}
	if statuses := trimmedValues(filter.Status); len(statuses) > 0 {
		query = query.Where("status", "in", statuses)
	}
	if priorities := trimmedValues(filter.Priority); len(priorities) > 0 {
		query = query.Where("priority", "in", priorities)
	}
	query = query.OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeListPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Issue]{}, pfirestore.WrapError("issues.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var issues []domain.Issue
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Issue]{}, pfirestore.WrapError("issues.list", err)
		}
		var doc issueDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Issue]{}, fmt.Errorf("decode issue %s: %w", snap.Ref.ID, err)
		}
		issues = append(issues, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(issues) > pageSize
	if hasMore {
		issues = issues[:pageSize]
	}
	var nextToken string
	if hasMore && len(issues) > 0 {
		last := issues[len(issues)-1]
		encoded, err := encodeListPageToken(listPageToken{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Issue]{}, pfirestore.WrapError("issues.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Issue]{
		Items:         issues,
		NextPageToken: nextToken,
	}, nil
}
