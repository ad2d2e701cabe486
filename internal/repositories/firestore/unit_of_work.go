package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/mallkit/api/internal/platform/firestore"
)

type txContextKey struct{}

// UnitOfWork groups repository mutations into a single Firestore transaction.
// The transaction handle travels through the context so repositories on the
// same context participate in the same commit.
type UnitOfWork struct {
	provider *pfirestore.Provider
}

// NewUnitOfWork constructs a Firestore-backed unit of work.
func NewUnitOfWork(provider *pfirestore.Provider) (*UnitOfWork, error) {
	if provider == nil {
		return nil, errors.New("unit of work requires firestore provider")
	}
	return &UnitOfWork{provider: provider}, nil
}

// RunInTx executes fn inside a Firestore transaction. Nested calls reuse the
// ambient transaction instead of opening a second one.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if u == nil || u.provider == nil {
		return errors.New("unit of work not initialised")
	}
	if fn == nil {
		return errors.New("unit of work: fn is required")
	}
	if _, ok := transactionFrom(ctx); ok {
		return fn(ctx)
	}
	return u.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(context.WithValue(ctx, txContextKey{}, tx))
	})
}

func transactionFrom(ctx context.Context) (*firestore.Transaction, bool) {
	tx, ok := ctx.Value(txContextKey{}).(*firestore.Transaction)
	return tx, ok && tx != nil
}

// getDocument reads a snapshot through the ambient transaction when present.
func getDocument(ctx context.Context, ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	if tx, ok := transactionFrom(ctx); ok {
		return tx.Get(ref)
	}
	return ref.Get(ctx)
}

// createDocument writes a new document through the ambient transaction when present.
func createDocument(ctx context.Context, ref *firestore.DocumentRef, data any) error {
	if tx, ok := transactionFrom(ctx); ok {
		return tx.Create(ref, data)
	}
	_, err := ref.Create(ctx, data)
	return err
}

// setDocument upserts a document through the ambient transaction when present.
func setDocument(ctx context.Context, ref *firestore.DocumentRef, data any, opts ...firestore.SetOption) error {
	if tx, ok := transactionFrom(ctx); ok {
		return tx.Set(ref, data, opts...)
	}
	_, err := ref.Set(ctx, data, opts...)
	return err
}

// deleteDocument removes a document through the ambient transaction when present.
func deleteDocument(ctx context.Context, ref *firestore.DocumentRef) error {
	if tx, ok := transactionFrom(ctx); ok {
		return tx.Delete(ref)
	}
	_, err := ref.Delete(ctx)
	return err
}
