package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/mallkit/api/internal/platform/firestore"
	"github.com/mallkit/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry contract so the DI container can assemble services
// without knowing about providers or collection layouts.
type Registry struct {
	provider *pfirestore.Provider

	orders    *OrderRepository
	returns   *ReturnRepository
	payments  *PaymentTransactionRepository
	transfers *BankTransferRepository
	stocks    *StockRepository
	banking   *BankingSettingsRepository
	audit     *AuditLogRepository
	counters  *CounterRepository
	health    repositories.HealthRepository
	uow       *UnitOfWork
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOption customises registry construction.
type RegistryOption func(*Registry)

// WithHealthRepository attaches the readiness probe set main assembles from
// external dependency checks.
func WithHealthRepository(health repositories.HealthRepository) RegistryOption {
	return func(r *Registry) {
		r.health = health
	}
}

// NewRegistry constructs every Firestore repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	reg := &Registry{provider: provider}
	for _, opt := range opts {
		if opt != nil {
			opt(reg)
		}
	}

	var err error
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: order repository: %w", err)
	}
	if reg.returns, err = NewReturnRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: return repository: %w", err)
	}
	if reg.payments, err = NewPaymentTransactionRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: payment transaction repository: %w", err)
	}
	if reg.transfers, err = NewBankTransferRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: bank transfer repository: %w", err)
	}
	if reg.stocks, err = NewStockRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: stock repository: %w", err)
	}
	if reg.banking, err = NewBankingSettingsRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: banking settings repository: %w", err)
	}
	if reg.audit, err = NewAuditLogRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: audit log repository: %w", err)
	}
	if reg.counters, err = NewCounterRepository(provider); err != nil {
		return nil, fmt.Errorf("registry: counter repository: %w", err)
	}
	if reg.uow, err = NewUnitOfWork(provider); err != nil {
		return nil, fmt.Errorf("registry: unit of work: %w", err)
	}

	return reg, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Returns() repositories.ReturnRepository { return r.returns }

func (r *Registry) PaymentTransactions() repositories.PaymentTransactionRepository {
	return r.payments
}

func (r *Registry) BankTransfers() repositories.BankTransferRepository { return r.transfers }

func (r *Registry) Stocks() repositories.StockRepository { return r.stocks }

func (r *Registry) BankingSettings() repositories.BankingSettingsRepository { return r.banking }

func (r *Registry) AuditLogs() repositories.AuditLogRepository { return r.audit }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx delegates to the shared unit of work so services can group writes.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.uow == nil {
		return errors.New("registry: unit of work not initialised")
	}
	return r.uow.RunInTx(ctx, fn)
}
