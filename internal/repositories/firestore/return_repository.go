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

const returnsCollection = "returns"

type returnItemDocument struct {
	ProductID string `firestore:"productId"`
	Quantity  int    `firestore:"quantity"`
}

type returnDocument struct {
	OrderID      string               `firestore:"orderId"`
	Reason       string               `firestore:"reason,omitempty"`
	Items        []returnItemDocument `firestore:"items"`
	Status       string               `firestore:"status"`
	RefundAmount int64                `firestore:"refundAmount"`
	RequestedAt  time.Time            `firestore:"requestedAt"`
	ProcessedAt  *time.Time           `firestore:"processedAt,omitempty"`
	Version      int64                `firestore:"version"`
	CreatedAt    time.Time            `firestore:"createdAt"`
	UpdatedAt    time.Time            `firestore:"updatedAt"`
}

func returnToDocument(request domain.ReturnRequest) returnDocument {
	doc := returnDocument{
		OrderID:      request.OrderID,
		Reason:       strings.TrimSpace(request.Reason),
		Items:        make([]returnItemDocument, len(request.Items)),
		Status:       string(request.Status),
		RefundAmount: request.RefundAmount,
		RequestedAt:  request.RequestedAt.UTC(),
		Version:      request.Version,
		CreatedAt:    request.CreatedAt.UTC(),
		UpdatedAt:    request.UpdatedAt.UTC(),
	}
	for i, item := range request.Items {
		doc.Items[i] = returnItemDocument{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	if request.ProcessedAt != nil {
		processed := request.ProcessedAt.UTC()
		doc.ProcessedAt = &processed
	}
	return doc
}

func (d returnDocument) toDomain(id string) domain.ReturnRequest {
	request := domain.ReturnRequest{
		ID:           id,
		OrderID:      d.OrderID,
		Reason:       d.Reason,
		Items:        make([]domain.ReturnItem, len(d.Items)),
		Status:       domain.ReturnStatus(d.Status),
		RefundAmount: d.RefundAmount,
		RequestedAt:  d.RequestedAt.UTC(),
		Version:      d.Version,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
	for i, item := range d.Items {
		request.Items[i] = domain.ReturnItem{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	if d.ProcessedAt != nil {
		processed := d.ProcessedAt.UTC()
		request.ProcessedAt = &processed
	}
	return request
}

// ReturnRepository persists return requests within Firestore.
type ReturnRepository struct {
	base     *pfirestore.BaseRepository[returnDocument]
	provider *pfirestore.Provider
}

var _ repositories.ReturnRepository = (*ReturnRepository)(nil)

// NewReturnRepository constructs a Firestore-backed return repository.
func NewReturnRepository(provider *pfirestore.Provider) (*ReturnRepository, error) {
	if provider == nil {
		return nil, errors.New("return repository requires firestore provider")
	}
	return &ReturnRepository{
		base:     pfirestore.NewBaseRepository[returnDocument](provider, returnsCollection, nil, nil),
		provider: provider,
	}, nil
}

func (r *ReturnRepository) Insert(ctx context.Context, request domain.ReturnRequest) error {
	if r == nil || r.base == nil {
		return errors.New("return repository not initialised")
	}
	id := strings.TrimSpace(request.ID)
	if id == "" {
		return errors.New("return repository: return id is required")
	}

	_, err := r.base.Create(ctx, id, returnToDocument(request))
	return err
}

func (r *ReturnRepository) Update(ctx context.Context, request domain.ReturnRequest, expectedVersion int64) (domain.ReturnRequest, error) {
	if r == nil || r.provider == nil {
		return domain.ReturnRequest{}, errors.New("return repository not initialised")
	}
	id := strings.TrimSpace(request.ID)
	if id == "" {
		return domain.ReturnRequest{}, errors.New("return repository: return id is required")
	}

	doc := returnToDocument(request)
	doc.Version = expectedVersion + 1

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}

		snapshot, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return pfirestore.NewNotFoundError("returns.update", fmt.Errorf("return %s not found", id))
		}
		if err != nil {
			return err
		}

		var current returnDocument
		if err := snapshot.DataTo(&current); err != nil {
			return fmt.Errorf("firestore returns decode %s: %w", id, err)
		}
		if current.Version != expectedVersion {
			return pfirestore.NewConflictError("returns.update", fmt.Errorf("return %s is at version %d, expected %d", id, current.Version, expectedVersion))
		}

		return tx.Set(ref, doc)
	})
	if err != nil {
		return domain.ReturnRequest{}, pfirestore.WrapError("returns.update", err)
	}

	return doc.toDomain(id), nil
}

func (r *ReturnRepository) FindByID(ctx context.Context, returnID string) (domain.ReturnRequest, error) {
	if r == nil || r.base == nil {
		return domain.ReturnRequest{}, errors.New("return repository not initialised")
	}
	id := strings.TrimSpace(returnID)
	if id == "" {
		return domain.ReturnRequest{}, errors.New("return repository: return id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.ReturnRequest{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *ReturnRepository) List(ctx context.Context, filter repositories.ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.ReturnRequest]{}, errors.New("return repository not initialised")
	}

	pageSize := clampPageSize(filter.Pagination.PageSize)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.ReturnRequest]{}, pfirestore.WrapError("returns.list", err)
	}

	query := client.Collection(returnsCollection).Query
	if orderID := strings.TrimSpace(filter.OrderID); orderID != "" {
		query = query.Where("orderId", "==", orderID)
	}
	if statuses := trimmedValues(filter.Status); len(statuses) > 0 {
		query = query.Where("status", "in", statuses)
	}
	query = query.OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeListPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.ReturnRequest]{}, pfirestore.WrapError("returns.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var requests []domain.ReturnRequest
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.ReturnRequest]{}, pfirestore.WrapError("returns.list", err)
		}
		var doc returnDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.ReturnRequest]{}, fmt.Errorf("decode return %s: %w", snap.Ref.ID, err)
		}
		requests = append(requests, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(requests) > pageSize
	if hasMore {
		requests = requests[:pageSize]
	}
	var nextToken string
	if hasMore && len(requests) > 0 {
		last := requests[len(requests)-1]
		encoded, err := encodeListPageToken(listPageToken{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.ReturnRequest]{}, pfirestore.WrapError("returns.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.ReturnRequest]{
		Items:         requests,
		NextPageToken: nextToken,
	}, nil
}
