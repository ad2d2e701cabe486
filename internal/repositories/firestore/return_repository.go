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

const returnsCollection = "returnRequests"

// ReturnRepository implements repositories.ReturnRepository backed by Firestore.
type ReturnRepository struct {
	provider *pfirestore.Provider
	returns  *pfirestore.Collection[returnDocument]
}

// NewReturnRepository constructs a Firestore-backed return repository.
func NewReturnRepository(provider *pfirestore.Provider) (*ReturnRepository, error) {
	if provider == nil {
		return nil, errors.New("return repository requires firestore provider")
	}
	base := pfirestore.NewCollection[returnDocument](provider, returnsCollection, nil, nil)
	return &ReturnRepository{provider: provider, returns: base}, nil
}

// Insert creates the return case, failing when the ID already exists.
func (r *ReturnRepository) Insert(ctx context.Context, request domain.ReturnRequest) error {
	if r == nil || r.returns == nil {
		return errors.New("return repository not initialised")
	}
	if strings.TrimSpace(request.ID) == "" {
		return errors.New("return insert: id is required")
	}
	ref, err := r.returns.DocumentRef(ctx, request.ID)
	if err != nil {
		return err
	}
	if err := createDocument(ctx, ref, newReturnDocument(request)); err != nil {
		return pfirestore.WrapError("returns.insert", err)
	}
	return nil
}

// Update replaces the return case document.
func (r *ReturnRepository) Update(ctx context.Context, request domain.ReturnRequest) error {
	if r == nil || r.returns == nil {
		return errors.New("return repository not initialised")
	}
	if strings.TrimSpace(request.ID) == "" {
		return errors.New("return update: id is required")
	}
	ref, err := r.returns.DocumentRef(ctx, request.ID)
	if err != nil {
		return err
	}
	if err := setDocument(ctx, ref, newReturnDocument(request)); err != nil {
		return pfirestore.WrapError("returns.update", err)
	}
	return nil
}

// Delete removes the return case document.
func (r *ReturnRepository) Delete(ctx context.Context, returnID string) error {
	if r == nil || r.returns == nil {
		return errors.New("return repository not initialised")
	}
	returnID = strings.TrimSpace(returnID)
	if returnID == "" {
		return errors.New("return delete: id is required")
	}
	ref, err := r.returns.DocumentRef(ctx, returnID)
	if err != nil {
		return err
	}
	if err := deleteDocument(ctx, ref); err != nil {
		return pfirestore.WrapError("returns.delete", err)
	}
	return nil
}

// FindByID loads one return case.
func (r *ReturnRepository) FindByID(ctx context.Context, returnID string) (domain.ReturnRequest, error) {
	if r == nil || r.returns == nil {
		return domain.ReturnRequest{}, errors.New("return repository not initialised")
	}
	returnID = strings.TrimSpace(returnID)
	if returnID == "" {
		return domain.ReturnRequest{}, errors.New("return find: id is required")
	}
	ref, err := r.returns.DocumentRef(ctx, returnID)
	if err != nil {
		return domain.ReturnRequest{}, err
	}
	snap, err := getDocument(ctx, ref)
	if err != nil {
		return domain.ReturnRequest{}, pfirestore.WrapError("returns.find", err)
	}
	var doc returnDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.ReturnRequest{}, fmt.Errorf("decode return %s: %w", returnID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

// ListByOrder returns every return case referencing the order, newest first.
// Note: transactions cannot run queries, so this always reads outside the
// ambient transaction; callers re-derive display state from the fresh rows.
func (r *ReturnRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.ReturnRequest, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("return repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("return list: order id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, pfirestore.WrapError("returns.listByOrder", err)
	}

	query := client.Collection(returnsCollection).
		Where("orderId", "==", orderID).
		OrderBy("createdAt", firestore.Desc)

	iter := query.Documents(ctx)
	defer iter.Stop()

	var cases []domain.ReturnRequest
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("returns.listByOrder", err)
		}
		var doc returnDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode return %s: %w", snap.Ref.ID, err)
		}
		cases = append(cases, doc.toDomain(snap.Ref.ID))
	}
	return cases, nil
}

// List returns a page of return cases matching the filter, newest first.
func (r *ReturnRepository) List(ctx context.Context, filter repositories.ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.ReturnRequest]{}, errors.New("return repository not initialised")
	}

	pageSize := clampPageSize(filter.Pagination.PageSize, 50, 200)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.ReturnRequest]{}, pfirestore.WrapError("returns.list", err)
	}

	query := client.Collection(returnsCollection).Query
	if orderID := strings.TrimSpace(filter.OrderID); orderID != "" {
		query = query.Where("orderId", "==", orderID)
	}
	if len(filter.Status) > 0 {
		query = query.Where("status", "in", statusValues(filter.Status))
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
		return domain.CursorPage[domain.ReturnRequest]{}, pfirestore.WrapError("returns.list", err)
	}
	if token != nil {
		query = query.StartAfter(token.CreatedAt, token.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var cases []domain.ReturnRequest
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
		cases = append(cases, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(cases) > pageSize
	if hasMore {
		cases = cases[:pageSize]
	}
	var nextToken string
	if hasMore && len(cases) > 0 {
		last := cases[len(cases)-1]
		nextToken, err = encodePageToken(pageToken{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.ReturnRequest]{}, pfirestore.WrapError("returns.list", err)
		}
	}

	return domain.CursorPage[domain.ReturnRequest]{Items: cases, NextPageToken: nextToken}, nil
}

// Document mapping -----------------------------------------------------------

type returnDocument struct {
	OrderID         string     `firestore:"orderId"`
	OrderNumber     string     `firestore:"orderNumber"`
	Status          string     `firestore:"status"`
	Reason          string     `firestore:"reason,omitempty"`
	RejectedReason  string     `firestore:"rejectedReason,omitempty"`
	RequestedAmount int64      `firestore:"requestedAmount"`
	ApprovedAmount  *int64     `firestore:"approvedAmount,omitempty"`
	ApprovedAt      *time.Time `firestore:"approvedAt,omitempty"`
	ReceivedAt      *time.Time `firestore:"receivedAt,omitempty"`
	RefundedAt      *time.Time `firestore:"refundedAt,omitempty"`
	ClosedAt        *time.Time `firestore:"closedAt,omitempty"`
	CreatedAt       time.Time  `firestore:"createdAt"`
	UpdatedAt       time.Time  `firestore:"updatedAt"`
}

func newReturnDocument(request domain.ReturnRequest) returnDocument {
	return returnDocument{
		OrderID:         strings.TrimSpace(request.OrderID),
		OrderNumber:     strings.TrimSpace(request.OrderNumber),
		Status:          string(request.Status),
		Reason:          request.Reason,
		RejectedReason:  request.RejectedReason,
		RequestedAmount: request.RequestedAmount,
		ApprovedAmount:  request.ApprovedAmount,
		ApprovedAt:      utcPtr(request.ApprovedAt),
		ReceivedAt:      utcPtr(request.ReceivedAt),
		RefundedAt:      utcPtr(request.RefundedAt),
		ClosedAt:        utcPtr(request.ClosedAt),
		CreatedAt:       request.CreatedAt.UTC(),
		UpdatedAt:       request.UpdatedAt.UTC(),
	}
}

func (d returnDocument) toDomain(id string) domain.ReturnRequest {
	return domain.ReturnRequest{
		ID:              id,
		OrderID:         d.OrderID,
		OrderNumber:     d.OrderNumber,
		Status:          domain.ReturnStatus(d.Status),
		Reason:          d.Reason,
		RejectedReason:  d.RejectedReason,
		RequestedAmount: d.RequestedAmount,
		ApprovedAmount:  d.ApprovedAmount,
		ApprovedAt:      d.ApprovedAt,
		ReceivedAt:      d.ReceivedAt,
		RefundedAt:      d.RefundedAt,
		ClosedAt:        d.ClosedAt,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}
