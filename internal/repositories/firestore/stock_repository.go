package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/mallkit/api/internal/domain"
	pfirestore "github.com/mallkit/api/internal/platform/firestore"
	"github.com/mallkit/api/internal/repositories"
)

const stocksCollection = "stocks"

// StockRepository implements repositories.StockRepository backed by Firestore.
type StockRepository struct {
	provider *pfirestore.Provider
	stocks   *pfirestore.Collection[stockDocument]
}

// NewStockRepository constructs a Firestore-backed stock repository.
func NewStockRepository(provider *pfirestore.Provider) (*StockRepository, error) {
	if provider == nil {
		return nil, errors.New("stock repository requires firestore provider")
	}
	base := pfirestore.NewCollection[stockDocument](provider, stocksCollection, nil, nil)
	return &StockRepository{provider: provider, stocks: base}, nil
}

// Get loads the stock record for one SKU.
func (r *StockRepository) Get(ctx context.Context, sku string) (domain.Stock, error) {
	if r == nil || r.stocks == nil {
		return domain.Stock{}, errors.New("stock repository not initialised")
	}
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return domain.Stock{}, repositories.NewStockError(repositories.StockErrorNotFound, sku, "stock get: sku is required", nil)
	}
	ref, err := r.stocks.DocumentRef(ctx, sku)
	if err != nil {
		return domain.Stock{}, err
	}
	snap, err := getDocument(ctx, ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.Stock{}, repositories.NewStockError(repositories.StockErrorNotFound, sku, fmt.Sprintf("stock %s not found", sku), err)
		}
		return domain.Stock{}, pfirestore.WrapError("stocks.get", err)
	}
	var doc stockDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Stock{}, fmt.Errorf("decode stock %s: %w", sku, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

// DeductAll removes quantities for every line atomically. Every SKU is read
// and verified before any write, so a shortfall on any line leaves all stock
// untouched. Runs inside the ambient transaction when one is active.
func (r *StockRepository) DeductAll(ctx context.Context, lines []repositories.StockDeduction, now time.Time) error {
	if r == nil || r.stocks == nil {
		return errors.New("stock repository not initialised")
	}
	if len(lines) == 0 {
		return nil
	}
	now = now.UTC()

	if tx, ok := transactionFrom(ctx); ok {
		return r.deductAllTx(ctx, tx, lines, now)
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return r.deductAllTx(ctx, tx, lines, now)
	})
}

func (r *StockRepository) deductAllTx(ctx context.Context, tx *firestore.Transaction, lines []repositories.StockDeduction, now time.Time) error {
	type pendingWrite struct {
		ref *firestore.DocumentRef
		doc stockDocument
	}

	writes := make([]pendingWrite, 0, len(lines))
	for _, line := range lines {
		sku := strings.TrimSpace(line.SKU)
		if sku == "" {
			return repositories.NewStockError(repositories.StockErrorNotFound, sku, "stock deduct: sku is required", nil)
		}
		if line.Quantity <= 0 {
			return repositories.NewStockError(repositories.StockErrorUnknown, sku, fmt.Sprintf("stock deduct: quantity for %s must be > 0", sku), nil)
		}

		ref, err := r.stocks.DocumentRef(ctx, sku)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewStockError(repositories.StockErrorNotFound, sku, fmt.Sprintf("stock %s not found", sku), err)
			}
			return err
		}
		var doc stockDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode stock %s: %w", sku, err)
		}
		if doc.OnHand-doc.Reserved < line.Quantity {
			return repositories.NewStockError(repositories.StockErrorInsufficient, sku, fmt.Sprintf("insufficient stock for %s", sku), nil)
		}

		doc.SKU = sku
		doc.OnHand -= line.Quantity
		doc.UpdatedAt = now
		writes = append(writes, pendingWrite{ref: ref, doc: doc})
	}

	for _, write := range writes {
		if err := tx.Set(write.ref, write.doc); err != nil {
			return err
		}
	}
	return nil
}

// Upsert writes the stock record for one SKU.
func (r *StockRepository) Upsert(ctx context.Context, stock domain.Stock) error {
	if r == nil || r.stocks == nil {
		return errors.New("stock repository not initialised")
	}
	sku := strings.TrimSpace(stock.SKU)
	if sku == "" {
		return repositories.NewStockError(repositories.StockErrorNotFound, sku, "stock upsert: sku is required", nil)
	}
	ref, err := r.stocks.DocumentRef(ctx, sku)
	if err != nil {
		return err
	}
	doc := stockDocument{
		SKU:       sku,
		OnHand:    stock.OnHand,
		Reserved:  stock.Reserved,
		UpdatedAt: stock.UpdatedAt.UTC(),
	}
	if err := setDocument(ctx, ref, doc); err != nil {
		return pfirestore.WrapError("stocks.upsert", err)
	}
	return nil
}

// Document mapping -----------------------------------------------------------

type stockDocument struct {
	SKU       string    `firestore:"sku"`
	OnHand    int64     `firestore:"onHand"`
	Reserved  int64     `firestore:"reserved"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d stockDocument) toDomain(id string) domain.Stock {
	return domain.Stock{
		SKU:       id,
		OnHand:    d.OnHand,
		Reserved:  d.Reserved,
		UpdatedAt: d.UpdatedAt,
	}
}
