package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/mallkit/api/internal/domain"
	pfirestore "github.com/mallkit/api/internal/platform/firestore"
	"github.com/mallkit/api/internal/repositories"
)

const auditLogsCollection = "auditLogs"

// AuditLogRepository implements repositories.AuditLogRepository backed by Firestore.
// Entries are append-only; there is no update or delete path.
type AuditLogRepository struct {
	provider *pfirestore.Provider
	logs     *pfirestore.Collection[auditLogDocument]
}

// NewAuditLogRepository constructs a Firestore-backed audit log repository.
func NewAuditLogRepository(provider *pfirestore.Provider) (*AuditLogRepository, error) {
	if provider == nil {
		return nil, errors.New("audit log repository requires firestore provider")
	}
	base := pfirestore.NewCollection[auditLogDocument](provider, auditLogsCollection, nil, nil)
	return &AuditLogRepository{provider: provider, logs: base}, nil
}

// Append creates the audit entry document, failing when the ID already exists.
func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	if r == nil || r.logs == nil {
		return errors.New("audit log repository not initialised")
	}
	if strings.TrimSpace(entry.ID) == "" {
		return errors.New("audit append: id is required")
	}
	ref, err := r.logs.DocumentRef(ctx, entry.ID)
	if err != nil {
		return err
	}
	if err := createDocument(ctx, ref, newAuditLogDocument(entry)); err != nil {
		return pfirestore.WrapError("auditLogs.append", err)
	}
	return nil
}

// List returns a page of audit entries matching the filter, newest first.
func (r *AuditLogRepository) List(ctx context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, errors.New("audit log repository not initialised")
	}

	pageSize := clampPageSize(filter.Pagination.PageSize, 50, 200)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, pfirestore.WrapError("auditLogs.list", err)
	}

	query := client.Collection(auditLogsCollection).Query
	if target := strings.TrimSpace(filter.TargetRef); target != "" {
		query = query.Where("targetRef", "==", target)
	}
	if actor := strings.TrimSpace(filter.Actor); actor != "" {
		query = query.Where("actor", "==", actor)
	}
	if actorType := strings.TrimSpace(filter.ActorType); actorType != "" {
		query = query.Where("actorType", "==", actorType)
	}
	if action := strings.TrimSpace(filter.Action); action != "" {
		query = query.Where("action", "==", action)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc).Limit(pageSize + 1)

	token, err := decodePageToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, pfirestore.WrapError("auditLogs.list", err)
	}
	if token != nil {
		query = query.StartAfter(token.CreatedAt, token.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var entries []domain.AuditLogEntry
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.AuditLogEntry]{}, pfirestore.WrapError("auditLogs.list", err)
		}
		var doc auditLogDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.AuditLogEntry]{}, fmt.Errorf("decode audit entry %s: %w", snap.Ref.ID, err)
		}
		entries = append(entries, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(entries) > pageSize
	if hasMore {
		entries = entries[:pageSize]
	}
	var nextToken string
	if hasMore && len(entries) > 0 {
		last := entries[len(entries)-1]
		nextToken, err = encodePageToken(pageToken{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.AuditLogEntry]{}, pfirestore.WrapError("auditLogs.list", err)
		}
	}

	return domain.CursorPage[domain.AuditLogEntry]{Items: entries, NextPageToken: nextToken}, nil
}

// Document mapping -----------------------------------------------------------

type auditLogDocument struct {
	Actor          string                       `firestore:"actor"`
	ActorType      string                       `firestore:"actorType"`
	Action         string                       `firestore:"action"`
	TargetRef      string                       `firestore:"targetRef"`
	IdempotencyKey string                       `firestore:"idempotencyKey,omitempty"`
	Diff           map[string]auditDiffDocument `firestore:"diff,omitempty"`
	Metadata       map[string]any               `firestore:"metadata,omitempty"`
	CreatedAt      time.Time                    `firestore:"createdAt"`
}

type auditDiffDocument struct {
	Before any `firestore:"before"`
	After  any `firestore:"after"`
}

func newAuditLogDocument(entry domain.AuditLogEntry) auditLogDocument {
	doc := auditLogDocument{
		Actor:          entry.Actor,
		ActorType:      entry.ActorType,
		Action:         entry.Action,
		TargetRef:      entry.TargetRef,
		IdempotencyKey: entry.IdempotencyKey,
		Metadata:       entry.Metadata,
		CreatedAt:      entry.CreatedAt.UTC(),
	}
	if len(entry.Diff) > 0 {
		doc.Diff = make(map[string]auditDiffDocument, len(entry.Diff))
		for field, change := range entry.Diff {
			doc.Diff[field] = auditDiffDocument{Before: change.Before, After: change.After}
		}
	}
	return doc
}

func (d auditLogDocument) toDomain(id string) domain.AuditLogEntry {
	entry := domain.AuditLogEntry{
		ID:             id,
		Actor:          d.Actor,
		ActorType:      d.ActorType,
		Action:         d.Action,
		TargetRef:      d.TargetRef,
		IdempotencyKey: d.IdempotencyKey,
		Metadata:       d.Metadata,
		CreatedAt:      d.CreatedAt,
	}
	if len(d.Diff) > 0 {
		entry.Diff = make(map[string]domain.AuditLogDiff, len(d.Diff))
		for field, change := range d.Diff {
			entry.Diff[field] = domain.AuditLogDiff{Before: change.Before, After: change.After}
		}
	}
	return entry
}
