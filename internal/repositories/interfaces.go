package repositories

import (
	"context"
	"time"

	domain "github.com/mallkit/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Returns() ReturnRepository
	PaymentTransactions() PaymentTransactionRepository
	BankTransfers() BankTransferRepository
	Stocks() StockRepository
	BankingSettings() BankingSettingsRepository
	AuditLogs() AuditLogRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order documents and provides query helpers for admins.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// ReturnRepository persists return/refund cases keyed by order.
type ReturnRepository interface {
	Insert(ctx context.Context, request domain.ReturnRequest) error
	Update(ctx context.Context, request domain.ReturnRequest) error
	Delete(ctx context.Context, returnID string) error
	FindByID(ctx context.Context, returnID string) (domain.ReturnRequest, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.ReturnRequest, error)
	List(ctx context.Context, filter ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error)
}

// PaymentTransactionRepository stores append-only payment attempt records per order.
type PaymentTransactionRepository interface {
	Insert(ctx context.Context, txn domain.PaymentTransaction) error
	Update(ctx context.Context, txn domain.PaymentTransaction) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentTransaction, error)
}

// BankTransferRepository stores manual wire claims and their review outcomes.
type BankTransferRepository interface {
	Insert(ctx context.Context, request domain.BankTransferRequest) error
	Update(ctx context.Context, request domain.BankTransferRequest) error
	FindByID(ctx context.Context, transferID string) (domain.BankTransferRequest, error)
	List(ctx context.Context, filter BankTransferListFilter) (domain.CursorPage[domain.BankTransferRequest], error)
}

// StockRepository manages per-SKU stock levels with transactional guarantees.
type StockRepository interface {
	Get(ctx context.Context, sku string) (domain.Stock, error)
	// DeductAll decrements on-hand counts for every line atomically. Implementations
	// must check every SKU before mutating any, so a shortfall leaves all stock untouched.
	DeductAll(ctx context.Context, lines []StockDeduction, now time.Time) error
	Upsert(ctx context.Context, stock domain.Stock) error
}

// StockDeduction names one SKU quantity to remove from stock.
type StockDeduction struct {
	SKU      string
	Quantity int64
}

// BankingSettingsRepository stores the mutable wire-transfer destination shown to customers.
type BankingSettingsRepository interface {
	Get(ctx context.Context) (domain.BankAccount, error)
	Put(ctx context.Context, account domain.BankAccount, now time.Time) error
}

// AuditLogRepository persists immutable audit trail entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	UserRef       string
	Status        []domain.OrderStatus
	PaymentStatus []domain.PaymentStatus
	DisplayStatus []domain.DisplayStatus
	OrderNumber   string
	DateRange     domain.RangeQuery[time.Time]
	Pagination    domain.Pagination
}

type ReturnListFilter struct {
	OrderID    string
	Status     []domain.ReturnStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type BankTransferListFilter struct {
	OrderID    string
	Status     []domain.TransferStatus
	Depositor  string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type AuditLogFilter struct {
	TargetRef  string
	Actor      string
	ActorType  string
	Action     string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
