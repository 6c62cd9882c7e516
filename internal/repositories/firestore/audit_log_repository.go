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
	auditLogsCollection      = "auditLogs"
	auditSequencesCollection = "auditSequences"
)

type auditEntryDocument struct {
	OrderID    string    `firestore:"orderId"`
	Seq        int64     `firestore:"seq"`
	Actor      string    `firestore:"actor,omitempty"`
	Kind       string    `firestore:"kind"`
	Note       string    `firestore:"note,omitempty"`
	OccurredAt time.Time `firestore:"occurredAt"`
}

type auditSequenceDocument struct {
	LastSeq   int64     `firestore:"lastSeq"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d auditEntryDocument) toDomain(id string) domain.AuditEntry {
	return domain.AuditEntry{
		ID:         id,
		OrderID:    d.OrderID,
		Seq:        d.Seq,
		Actor:      d.Actor,
		Kind:       domain.AuditKind(d.Kind),
		Note:       d.Note,
		OccurredAt: d.OccurredAt.UTC(),
	}
}

// AuditLogRepository persists the append-only per-order audit trail.
type AuditLogRepository struct {
	provider *pfirestore.Provider
	entries  *pfirestore.BaseRepository[auditEntryDocument]
}

var _ repositories.AuditLogRepository = (*AuditLogRepository)(nil)

// NewAuditLogRepository constructs a Firestore-backed audit log repository.
func NewAuditLogRepository(provider *pfirestore.Provider) (*AuditLogRepository, error) {
	if provider == nil {
		return nil, errors.New("audit log repository requires firestore provider")
	}
	return &AuditLogRepository{
		provider: provider,
		entries:  pfirestore.NewBaseRepository[auditEntryDocument](provider, auditLogsCollection, nil, nil),
	}, nil
}

// Append stores the entry and assigns the next per-order sequence number inside
// a transaction so concurrent writers never share a seq.
func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error) {
	if r == nil || r.provider == nil {
		return domain.AuditEntry{}, errors.New("audit log repository not initialised")
	}
	entryID := strings.TrimSpace(entry.ID)
	orderID := strings.TrimSpace(entry.OrderID)
	if entryID == "" {
		return domain.AuditEntry{}, errors.New("audit log repository: entry id is required")
	}
	if orderID == "" {
		return domain.AuditEntry{}, errors.New("audit log repository: order id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.AuditEntry{}, pfirestore.WrapError("auditLogs.append", err)
	}

	now := time.Now().UTC()
	doc := auditEntryDocument{
		OrderID:    orderID,
		Actor:      strings.TrimSpace(entry.Actor),
		Kind:       string(entry.Kind),
		Note:       entry.Note,
		OccurredAt: entry.OccurredAt.UTC(),
	}
	if doc.OccurredAt.IsZero() {
		doc.OccurredAt = now
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		seqRef := client.Collection(auditSequencesCollection).Doc(orderID)

		var seq auditSequenceDocument
		snapshot, err := tx.Get(seqRef)
		switch status.Code(err) {
		case codes.NotFound:
		case codes.OK:
			if err := snapshot.DataTo(&seq); err != nil {
				return fmt.Errorf("firestore audit sequence decode %s: %w", orderID, err)
			}
		default:
			return err
		}

		seq.LastSeq++
		seq.UpdatedAt = now
		doc.Seq = seq.LastSeq

		entryRef := client.Collection(auditLogsCollection).Doc(entryID)
		if err := tx.Create(entryRef, doc); err != nil {
			return err
		}
		return tx.Set(seqRef, seq)
	})
	if err != nil {
		return domain.AuditEntry{}, pfirestore.WrapError("auditLogs.append", err)
	}

	return doc.toDomain(entryID), nil
}

func (r *AuditLogRepository) ListByOrder(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.AuditEntry], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.AuditEntry]{}, errors.New("audit log repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.CursorPage[domain.AuditEntry]{}, errors.New("audit log repository: order id is required")
	}

	pageSize := clampPageSize(pager.PageSize)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.AuditEntry]{}, pfirestore.WrapError("auditLogs.list", err)
	}

	query := client.Collection(auditLogsCollection).
		Where("orderId", "==", orderID).
		OrderBy("seq", firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(pager.PageToken); token != "" {
		afterSeq, err := decodeAuditPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.AuditEntry]{}, pfirestore.WrapError("auditLogs.list", err)
		}
		query = query.StartAfter(afterSeq)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var entries []domain.AuditEntry
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.AuditEntry]{}, pfirestore.WrapError("auditLogs.list", err)
		}
		var doc auditEntryDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.AuditEntry]{}, fmt.Errorf("decode audit entry %s: %w", snap.Ref.ID, err)
		}
		entries = append(entries, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(entries) > pageSize
	if hasMore {
		entries = entries[:pageSize]
	}
	var nextToken string
	if hasMore && len(entries) > 0 {
		encoded, err := encodeAuditPageToken(entries[len(entries)-1].Seq)
		if err != nil {
			return domain.CursorPage[domain.AuditEntry]{}, pfirestore.WrapError("auditLogs.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.AuditEntry]{
		Items:         entries,
		NextPageToken: nextToken,
	}, nil
}

type auditPageToken struct {
	Seq int64
}

func encodeAuditPageToken(seq int64) (string, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(auditPageToken{Seq: seq}); err != nil {
		return "", fmt.Errorf("encode audit page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeAuditPageToken(encoded string) (int64, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return 0, fmt.Errorf("decode audit page token: %w", err)
	}
	var token auditPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return 0, fmt.Errorf("decode audit page token json: %w", err)
	}
	return token.Seq, nil
}
