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

const bankTransfersCollection = "bankTransferRequests"

// BankTransferRepository implements repositories.BankTransferRepository backed by Firestore.
type BankTransferRepository struct {
	provider  *pfirestore.Provider
	transfers *pfirestore.Collection[bankTransferDocument]
}

// NewBankTransferRepository constructs a Firestore-backed bank transfer repository.
func NewBankTransferRepository(provider *pfirestore.Provider) (*BankTransferRepository, error) {
	if provider == nil {
		return nil, errors.New("bank transfer repository requires firestore provider")
	}
	base := pfirestore.NewCollection[bankTransferDocument](provider, bankTransfersCollection, nil, nil)
	return &BankTransferRepository{provider: provider, transfers: base}, nil
}

// Insert creates the transfer claim, failing when the ID already exists.
func (r *BankTransferRepository) Insert(ctx context.Context, request domain.BankTransferRequest) error {
	if r == nil || r.transfers == nil {
		return errors.New("bank transfer repository not initialised")
	}
	if strings.TrimSpace(request.ID) == "" {
		return errors.New("bank transfer insert: id is required")
	}
	ref, err := r.transfers.DocumentRef(ctx, request.ID)
	if err != nil {
		return err
	}
	if err := createDocument(ctx, ref, newBankTransferDocument(request)); err != nil {
		return pfirestore.WrapError("bankTransfers.insert", err)
	}
	return nil
}

// Update replaces the transfer claim document.
func (r *BankTransferRepository) Update(ctx context.Context, request domain.BankTransferRequest) error {
	if r == nil || r.transfers == nil {
		return errors.New("bank transfer repository not initialised")
	}
	if strings.TrimSpace(request.ID) == "" {
		return errors.New("bank transfer update: id is required")
	}
	ref, err := r.transfers.DocumentRef(ctx, request.ID)
	if err != nil {
		return err
	}
	if err := setDocument(ctx, ref, newBankTransferDocument(request)); err != nil {
		return pfirestore.WrapError("bankTransfers.update", err)
	}
	return nil
}

// FindByID loads one transfer claim.
func (r *BankTransferRepository) FindByID(ctx context.Context, transferID string) (domain.BankTransferRequest, error) {
	if r == nil || r.transfers == nil {
		return domain.BankTransferRequest{}, errors.New("bank transfer repository not initialised")
	}
	transferID = strings.TrimSpace(transferID)
	if transferID == "" {
		return domain.BankTransferRequest{}, errors.New("bank transfer find: id is required")
	}
	ref, err := r.transfers.DocumentRef(ctx, transferID)
	if err != nil {
		return domain.BankTransferRequest{}, err
	}
	snap, err := getDocument(ctx, ref)
	if err != nil {
		return domain.BankTransferRequest{}, pfirestore.WrapError("bankTransfers.find", err)
	}
	var doc bankTransferDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.BankTransferRequest{}, fmt.Errorf("decode bank transfer %s: %w", transferID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

// List returns a page of transfer claims matching the filter, newest first.
func (r *BankTransferRepository) List(ctx context.Context, filter repositories.BankTransferListFilter) (domain.CursorPage[domain.BankTransferRequest], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.BankTransferRequest]{}, errors.New("bank transfer repository not initialised")
	}

	pageSize := clampPageSize(filter.Pagination.PageSize, 50, 200)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.BankTransferRequest]{}, pfirestore.WrapError("bankTransfers.list", err)
	}

	query := client.Collection(bankTransfersCollection).Query
	if orderID := strings.TrimSpace(filter.OrderID); orderID != "" {
		query = query.Where("orderId", "==", orderID)
	}
	if depositor := strings.TrimSpace(filter.Depositor); depositor != "" {
		query = query.Where("depositorName", "==", depositor)
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
		return domain.CursorPage[domain.BankTransferRequest]{}, pfirestore.WrapError("bankTransfers.list", err)
	}
	if token != nil {
		query = query.StartAfter(token.CreatedAt, token.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var transfers []domain.BankTransferRequest
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.BankTransferRequest]{}, pfirestore.WrapError("bankTransfers.list", err)
		}
		var doc bankTransferDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.BankTransferRequest]{}, fmt.Errorf("decode bank transfer %s: %w", snap.Ref.ID, err)
		}
		transfers = append(transfers, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(transfers) > pageSize
	if hasMore {
		transfers = transfers[:pageSize]
	}
	var nextToken string
	if hasMore && len(transfers) > 0 {
		last := transfers[len(transfers)-1]
		nextToken, err = encodePageToken(pageToken{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.BankTransferRequest]{}, pfirestore.WrapError("bankTransfers.list", err)
		}
	}

	return domain.CursorPage[domain.BankTransferRequest]{Items: transfers, NextPageToken: nextToken}, nil
}

// Document mapping -----------------------------------------------------------

type bankTransferDocument struct {
	OrderID        string              `firestore:"orderId"`
	OrderNumber    string              `firestore:"orderNumber"`
	Status         string              `firestore:"status"`
	DepositorName  string              `firestore:"depositorName"`
	TransferAmount int64               `firestore:"transferAmount"`
	BankAccount    bankAccountDocument `firestore:"bankAccount"`
	RejectedReason string              `firestore:"rejectedReason,omitempty"`
	DecidedAt      *time.Time          `firestore:"decidedAt,omitempty"`
	CreatedAt      time.Time           `firestore:"createdAt"`
	UpdatedAt      time.Time           `firestore:"updatedAt"`
}

type bankAccountDocument struct {
	BankName      string `firestore:"bankName"`
	AccountNumber string `firestore:"accountNumber"`
	Holder        string `firestore:"holder"`
}

func newBankTransferDocument(request domain.BankTransferRequest) bankTransferDocument {
	return bankTransferDocument{
		OrderID:        strings.TrimSpace(request.OrderID),
		OrderNumber:    strings.TrimSpace(request.OrderNumber),
		Status:         string(request.Status),
		DepositorName:  request.DepositorName,
		TransferAmount: request.TransferAmount,
		BankAccount: bankAccountDocument{
			BankName:      request.BankAccount.BankName,
			AccountNumber: request.BankAccount.AccountNumber,
			Holder:        request.BankAccount.Holder,
		},
		RejectedReason: request.RejectedReason,
		DecidedAt:      utcPtr(request.DecidedAt),
		CreatedAt:      request.CreatedAt.UTC(),
		UpdatedAt:      request.UpdatedAt.UTC(),
	}
}

func (d bankTransferDocument) toDomain(id string) domain.BankTransferRequest {
	return domain.BankTransferRequest{
		ID:             id,
		OrderID:        d.OrderID,
		OrderNumber:    d.OrderNumber,
		Status:         domain.TransferStatus(d.Status),
		DepositorName:  d.DepositorName,
		TransferAmount: d.TransferAmount,
		BankAccount: domain.BankAccount{
			BankName:      d.BankAccount.BankName,
			AccountNumber: d.BankAccount.AccountNumber,
			Holder:        d.BankAccount.Holder,
		},
		RejectedReason: d.RejectedReason,
		DecidedAt:      d.DecidedAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}
