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
)

const paymentTransactionsCollection = "paymentTransactions"

// PaymentTransactionRepository implements repositories.PaymentTransactionRepository backed by Firestore.
type PaymentTransactionRepository struct {
	provider     *pfirestore.Provider
	transactions *pfirestore.Collection[paymentTransactionDocument]
}

// NewPaymentTransactionRepository constructs a Firestore-backed payment transaction repository.
func NewPaymentTransactionRepository(provider *pfirestore.Provider) (*PaymentTransactionRepository, error) {
	if provider == nil {
		return nil, errors.New("payment transaction repository requires firestore provider")
	}
	base := pfirestore.NewCollection[paymentTransactionDocument](provider, paymentTransactionsCollection, nil, nil)
	return &PaymentTransactionRepository{provider: provider, transactions: base}, nil
}

// Insert appends a payment attempt record; records are never overwritten.
func (r *PaymentTransactionRepository) Insert(ctx context.Context, txn domain.PaymentTransaction) error {
	if r == nil || r.transactions == nil {
		return errors.New("payment transaction repository not initialised")
	}
	if strings.TrimSpace(txn.ID) == "" {
		return errors.New("payment transaction insert: id is required")
	}
	ref, err := r.transactions.DocumentRef(ctx, txn.ID)
	if err != nil {
		return err
	}
	if err := createDocument(ctx, ref, newPaymentTransactionDocument(txn)); err != nil {
		return pfirestore.WrapError("paymentTransactions.insert", err)
	}
	return nil
}

// Update replaces a payment attempt record, used to mark settlement outcomes.
func (r *PaymentTransactionRepository) Update(ctx context.Context, txn domain.PaymentTransaction) error {
	if r == nil || r.transactions == nil {
		return errors.New("payment transaction repository not initialised")
	}
	if strings.TrimSpace(txn.ID) == "" {
		return errors.New("payment transaction update: id is required")
	}
	ref, err := r.transactions.DocumentRef(ctx, txn.ID)
	if err != nil {
		return err
	}
	if err := setDocument(ctx, ref, newPaymentTransactionDocument(txn)); err != nil {
		return pfirestore.WrapError("paymentTransactions.update", err)
	}
	return nil
}

// ListByOrder returns every payment attempt for the order, oldest first.
func (r *PaymentTransactionRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentTransaction, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("payment transaction repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("payment transaction list: order id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, pfirestore.WrapError("paymentTransactions.list", err)
	}

	query := client.Collection(paymentTransactionsCollection).
		Where("orderId", "==", orderID).
		OrderBy("createdAt", firestore.Asc)

	iter := query.Documents(ctx)
	defer iter.Stop()

	var txns []domain.PaymentTransaction
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("paymentTransactions.list", err)
		}
		var doc paymentTransactionDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode payment transaction %s: %w", snap.Ref.ID, err)
		}
		txns = append(txns, doc.toDomain(snap.Ref.ID))
	}
	return txns, nil
}

// Document mapping -----------------------------------------------------------

type paymentTransactionDocument struct {
	OrderID    string     `firestore:"orderId"`
	Provider   string     `firestore:"provider"`
	Status     string     `firestore:"status"`
	Amount     int64      `firestore:"amount"`
	PaymentKey string     `firestore:"paymentKey,omitempty"`
	ApprovedAt *time.Time `firestore:"approvedAt,omitempty"`
	CreatedAt  time.Time  `firestore:"createdAt"`
}

func newPaymentTransactionDocument(txn domain.PaymentTransaction) paymentTransactionDocument {
	return paymentTransactionDocument{
		OrderID:    strings.TrimSpace(txn.OrderID),
		Provider:   string(txn.Provider),
		Status:     string(txn.Status),
		Amount:     txn.Amount,
		PaymentKey: strings.TrimSpace(txn.PaymentKey),
		ApprovedAt: utcPtr(txn.ApprovedAt),
		CreatedAt:  txn.CreatedAt.UTC(),
	}
}

func (d paymentTransactionDocument) toDomain(id string) domain.PaymentTransaction {
	return domain.PaymentTransaction{
		ID:         id,
		OrderID:    d.OrderID,
		Provider:   domain.PaymentProvider(d.Provider),
		Status:     domain.PaymentStatus(d.Status),
		Amount:     d.Amount,
		PaymentKey: d.PaymentKey,
		ApprovedAt: d.ApprovedAt,
		CreatedAt:  d.CreatedAt,
	}
}
