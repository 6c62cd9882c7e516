package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
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

const (
	ordersCollection = "orders"

	defaultPageSize = 50
	maxPageSize     = 200
)

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name,omitempty"`
	Quantity  int    `firestore:"quantity"`
	UnitPrice int64  `firestore:"unitPrice"`
}

type shipmentDocument struct {
	Carrier        string    `firestore:"carrier"`
	TrackingNumber string    `firestore:"trackingNumber"`
	TrackingURL    string    `firestore:"trackingUrl,omitempty"`
	ShippedAt      time.Time `firestore:"shippedAt"`
}

type paymentRecordDocument struct {
	Method     string    `firestore:"method"`
	VerifiedAt time.Time `firestore:"verifiedAt"`
	Note       string    `firestore:"note,omitempty"`
}

type orderDocument struct {
	Number        string                 `firestore:"number"`
	CustomerName  string                 `firestore:"customerName"`
	CustomerEmail string                 `firestore:"customerEmail,omitempty"`
	CustomerPhone string                 `firestore:"customerPhone,omitempty"`
	Items         []orderItemDocument    `firestore:"items"`
	Status        string                 `firestore:"status"`
	PaymentStatus string                 `firestore:"paymentStatus"`
	Shipment      *shipmentDocument      `firestore:"shipment,omitempty"`
	Payment       *paymentRecordDocument `firestore:"payment,omitempty"`
	CancelReason  string                 `firestore:"cancelReason,omitempty"`
	Version       int64                  `firestore:"version"`
	CreatedAt     time.Time              `firestore:"createdAt"`
	UpdatedAt     time.Time              `firestore:"updatedAt"`
}

func orderToDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		Number:        order.Number,
		CustomerName:  strings.TrimSpace(order.Customer.Name),
		CustomerEmail: strings.TrimSpace(order.Customer.Email),
		CustomerPhone: strings.TrimSpace(order.Customer.Phone),
		Items:         make([]orderItemDocument, len(order.Items)),
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		CancelReason:  strings.TrimSpace(order.CancelReason),
		Version:       order.Version,
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
	}
	for i, item := range order.Items {
		doc.Items[i] = orderItemDocument{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
	}
	if order.Shipment != nil {
		doc.Shipment = &shipmentDocument{
			Carrier:        order.Shipment.Carrier,
			TrackingNumber: order.Shipment.TrackingNumber,
			TrackingURL:    order.Shipment.TrackingURL,
			ShippedAt:      order.Shipment.ShippedAt.UTC(),
		}
	}
	if order.Payment != nil {
		doc.Payment = &paymentRecordDocument{
			Method:     order.Payment.Method,
			VerifiedAt: order.Payment.VerifiedAt.UTC(),
			Note:       order.Payment.Note,
		}
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:     id,
		Number: d.Number,
		Customer: domain.Customer{
			Name:  d.CustomerName,
			Email: d.CustomerEmail,
			Phone: d.CustomerPhone,
		},
		Items:         make([]domain.OrderItem, len(d.Items)),
		Status:        domain.OrderStatus(d.Status),
		PaymentStatus: domain.PaymentStatus(d.PaymentStatus),
		CancelReason:  d.CancelReason,
		Version:       d.Version,
		CreatedAt:     d.CreatedAt.UTC(),
		UpdatedAt:     d.UpdatedAt.UTC(),
	}
	for i, item := range d.Items {
		order.Items[i] = domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
	}
	if d.Shipment != nil {
		order.Shipment = &domain.Shipment{
			Carrier:        d.Shipment.Carrier,
			TrackingNumber: d.Shipment.TrackingNumber,
			TrackingURL:    d.Shipment.TrackingURL,
			ShippedAt:      d.Shipment.ShippedAt.UTC(),
		}
	}
	if d.Payment != nil {
		order.Payment = &domain.PaymentRecord{
			Method:     d.Payment.Method,
			VerifiedAt: d.Payment.VerifiedAt.UTC(),
			Note:       d.Payment.Note,
		}
	}
	return order
}

// OrderRepository persists order aggregates within Firestore.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		base:     pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
		provider: provider,
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}

	_, err := r.base.Create(ctx, id, orderToDocument(order))
	return err
}

// Update persists the order only when the stored version matches expectedVersion.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expectedVersion int64) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc := orderToDocument(order)
	doc.Version = expectedVersion + 1

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}

		snapshot, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return pfirestore.NewNotFoundError("orders.update", fmt.Errorf("order %s not found", id))
		}
		if err != nil {
			return err
		}

		var current orderDocument
		if err := snapshot.DataTo(&current); err != nil {
			return fmt.Errorf("firestore orders decode %s: %w", id, err)
		}
		if current.Version != expectedVersion {
			return pfirestore.NewConflictError("orders.update", fmt.Errorf("order %s is at version %d, expected %d", id, current.Version, expectedVersion))
		}

		return tx.Set(ref, doc)
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.update", err)
	}

	return doc.toDomain(id), nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := clampPageSize(filter.Pagination.PageSize)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}

	query := client.Collection(ordersCollection).Query
	if statuses := trimmedValues(filter.Status); len(statuses) > 0 {
		query = query.Where("status", "in", statuses)
	}
	if payments := trimmedValues(filter.PaymentStatus); len(payments) > 0 {
		query = query.Where("paymentStatus", "in", payments)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<", filter.DateRange.To.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeListPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeListPageToken(listPageToken{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{
		Items:         orders,
		NextPageToken: nextToken,
	}, nil
}

func clampPageSize(size int) int {
	if size <= 0 {
		return defaultPageSize
	}
	if size > maxPageSize {
		return maxPageSize
	}
	return size
}

func trimmedValues(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// listPageToken is the cursor shared by the createdAt-ordered listings.
type listPageToken struct {
	CreatedAt time.Time
	ID        string
}

func encodeListPageToken(token listPageToken) (string, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(token); err != nil {
		return "", fmt.Errorf("encode page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeListPageToken(encoded string) (*listPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode page token: %w", err)
	}
	var token listPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode page token json: %w", err)
	}
	return &token, nil
}
