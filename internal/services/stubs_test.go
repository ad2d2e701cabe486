package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	domain "github.com/mallkit/api/internal/domain"
	"github.com/mallkit/api/internal/repositories"
)

func ptr[T any](v T) *T { return &v }

// countingIDs returns a deterministic ID generator for tests.
func countingIDs() func() string {
	var n int
	return func() string {
		n++
		return fmt.Sprintf("id-%03d", n)
	}
}

// stubRepositoryError drives the service error taxonomy from tests.
type stubRepositoryError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *stubRepositoryError) Error() string       { return "stub repository error" }
func (e *stubRepositoryError) IsNotFound() bool    { return e.notFound }
func (e *stubRepositoryError) IsConflict() bool    { return e.conflict }
func (e *stubRepositoryError) IsUnavailable() bool { return e.unavailable }

var errStubNotFound = &stubRepositoryError{notFound: true}

type stubOrderRepository struct {
	insertFunc func(ctx context.Context, order domain.Order) error
	updateFunc func(ctx context.Context, order domain.Order) error
	findFunc   func(ctx context.Context, orderID string) (domain.Order, error)
	listFunc   func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
}

func (s *stubOrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFunc == nil {
		return errors.New("stubOrderRepository: unexpected Insert")
	}
	return s.insertFunc(ctx, order)
}

func (s *stubOrderRepository) Update(ctx context.Context, order domain.Order) error {
	if s.updateFunc == nil {
		return errors.New("stubOrderRepository: unexpected Update")
	}
	return s.updateFunc(ctx, order)
}

func (s *stubOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFunc == nil {
		return domain.Order{}, errors.New("stubOrderRepository: unexpected FindByID")
	}
	return s.findFunc(ctx, orderID)
}

func (s *stubOrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFunc == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("stubOrderRepository: unexpected List")
	}
	return s.listFunc(ctx, filter)
}

// memoryOrderRepository backs the stub with a map for multi-step scenarios.
// List only resolves exact order-number lookups.
func memoryOrderRepository(orders map[string]domain.Order) *stubOrderRepository {
	return &stubOrderRepository{
		insertFunc: func(_ context.Context, order domain.Order) error {
			orders[order.ID] = order
			return nil
		},
		updateFunc: func(_ context.Context, order domain.Order) error {
			if _, ok := orders[order.ID]; !ok {
				return errStubNotFound
			}
			orders[order.ID] = order
			return nil
		},
		findFunc: func(_ context.Context, orderID string) (domain.Order, error) {
			order, ok := orders[orderID]
			if !ok {
				return domain.Order{}, errStubNotFound
			}
			return order, nil
		},
		listFunc: func(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
			if filter.OrderNumber == "" {
				return domain.CursorPage[domain.Order]{}, nil
			}
			for _, order := range orders {
				if order.OrderNumber == filter.OrderNumber {
					return domain.CursorPage[domain.Order]{Items: []domain.Order{order}}, nil
				}
			}
			return domain.CursorPage[domain.Order]{}, nil
		},
	}
}

type stubReturnRepository struct {
	insertFunc      func(ctx context.Context, request domain.ReturnRequest) error
	updateFunc      func(ctx context.Context, request domain.ReturnRequest) error
	deleteFunc      func(ctx context.Context, returnID string) error
	findFunc        func(ctx context.Context, returnID string) (domain.ReturnRequest, error)
	listByOrderFunc func(ctx context.Context, orderID string) ([]domain.ReturnRequest, error)
	listFunc        func(ctx context.Context, filter repositories.ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error)
}

func (s *stubReturnRepository) Insert(ctx context.Context, request domain.ReturnRequest) error {
	if s.insertFunc == nil {
		return errors.New("stubReturnRepository: unexpected Insert")
	}
	return s.insertFunc(ctx, request)
}

func (s *stubReturnRepository) Update(ctx context.Context, request domain.ReturnRequest) error {
	if s.updateFunc == nil {
		return errors.New("stubReturnRepository: unexpected Update")
	}
	return s.updateFunc(ctx, request)
}

func (s *stubReturnRepository) Delete(ctx context.Context, returnID string) error {
	if s.deleteFunc == nil {
		return errors.New("stubReturnRepository: unexpected Delete")
	}
	return s.deleteFunc(ctx, returnID)
}

func (s *stubReturnRepository) FindByID(ctx context.Context, returnID string) (domain.ReturnRequest, error) {
	if s.findFunc == nil {
		return domain.ReturnRequest{}, errors.New("stubReturnRepository: unexpected FindByID")
	}
	return s.findFunc(ctx, returnID)
}

func (s *stubReturnRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.ReturnRequest, error) {
	if s.listByOrderFunc == nil {
		return nil, nil
	}
	return s.listByOrderFunc(ctx, orderID)
}

func (s *stubReturnRepository) List(ctx context.Context, filter repositories.ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error) {
	if s.listFunc == nil {
		return domain.CursorPage[domain.ReturnRequest]{}, errors.New("stubReturnRepository: unexpected List")
	}
	return s.listFunc(ctx, filter)
}

func memoryReturnRepository(returns map[string]domain.ReturnRequest) *stubReturnRepository {
	return &stubReturnRepository{
		insertFunc: func(_ context.Context, request domain.ReturnRequest) error {
			returns[request.ID] = request
			return nil
		},
		updateFunc: func(_ context.Context, request domain.ReturnRequest) error {
			if _, ok := returns[request.ID]; !ok {
				return errStubNotFound
			}
			returns[request.ID] = request
			return nil
		},
		deleteFunc: func(_ context.Context, returnID string) error {
			if _, ok := returns[returnID]; !ok {
				return errStubNotFound
			}
			delete(returns, returnID)
			return nil
		},
		findFunc: func(_ context.Context, returnID string) (domain.ReturnRequest, error) {
			request, ok := returns[returnID]
			if !ok {
				return domain.ReturnRequest{}, errStubNotFound
			}
			return request, nil
		},
		listByOrderFunc: func(_ context.Context, orderID string) ([]domain.ReturnRequest, error) {
			var out []domain.ReturnRequest
			for _, request := range returns {
				if request.OrderID == orderID {
					out = append(out, request)
				}
			}
			return out, nil
		},
	}
}

type stubPaymentTransactionRepository struct {
	insertFunc      func(ctx context.Context, txn domain.PaymentTransaction) error
	updateFunc      func(ctx context.Context, txn domain.PaymentTransaction) error
	listByOrderFunc func(ctx context.Context, orderID string) ([]domain.PaymentTransaction, error)
}

func (s *stubPaymentTransactionRepository) Insert(ctx context.Context, txn domain.PaymentTransaction) error {
	if s.insertFunc == nil {
		return errors.New("stubPaymentTransactionRepository: unexpected Insert")
	}
	return s.insertFunc(ctx, txn)
}

func (s *stubPaymentTransactionRepository) Update(ctx context.Context, txn domain.PaymentTransaction) error {
	if s.updateFunc == nil {
		return errors.New("stubPaymentTransactionRepository: unexpected Update")
	}
	return s.updateFunc(ctx, txn)
}

func (s *stubPaymentTransactionRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentTransaction, error) {
	if s.listByOrderFunc == nil {
		return nil, nil
	}
	return s.listByOrderFunc(ctx, orderID)
}

// capturePaymentRepository appends every inserted transaction to a shared slice.
func capturePaymentRepository(inserted *[]domain.PaymentTransaction) *stubPaymentTransactionRepository {
	return &stubPaymentTransactionRepository{
		insertFunc: func(_ context.Context, txn domain.PaymentTransaction) error {
			*inserted = append(*inserted, txn)
			return nil
		},
	}
}

type stubBankTransferRepository struct {
	insertFunc func(ctx context.Context, request domain.BankTransferRequest) error
	updateFunc func(ctx context.Context, request domain.BankTransferRequest) error
	findFunc   func(ctx context.Context, transferID string) (domain.BankTransferRequest, error)
	listFunc   func(ctx context.Context, filter repositories.BankTransferListFilter) (domain.CursorPage[domain.BankTransferRequest], error)
}

func (s *stubBankTransferRepository) Insert(ctx context.Context, request domain.BankTransferRequest) error {
	if s.insertFunc == nil {
		return errors.New("stubBankTransferRepository: unexpected Insert")
	}
	return s.insertFunc(ctx, request)
}

func (s *stubBankTransferRepository) Update(ctx context.Context, request domain.BankTransferRequest) error {
	if s.updateFunc == nil {
		return errors.New("stubBankTransferRepository: unexpected Update")
	}
	return s.updateFunc(ctx, request)
}

func (s *stubBankTransferRepository) FindByID(ctx context.Context, transferID string) (domain.BankTransferRequest, error) {
	if s.findFunc == nil {
		return domain.BankTransferRequest{}, errors.New("stubBankTransferRepository: unexpected FindByID")
	}
	return s.findFunc(ctx, transferID)
}

func (s *stubBankTransferRepository) List(ctx context.Context, filter repositories.BankTransferListFilter) (domain.CursorPage[domain.BankTransferRequest], error) {
	if s.listFunc == nil {
		return domain.CursorPage[domain.BankTransferRequest]{}, errors.New("stubBankTransferRepository: unexpected List")
	}
	return s.listFunc(ctx, filter)
}

func memoryBankTransferRepository(transfers map[string]domain.BankTransferRequest) *stubBankTransferRepository {
	return &stubBankTransferRepository{
		insertFunc: func(_ context.Context, request domain.BankTransferRequest) error {
			transfers[request.ID] = request
			return nil
		},
		updateFunc: func(_ context.Context, request domain.BankTransferRequest) error {
			if _, ok := transfers[request.ID]; !ok {
				return errStubNotFound
			}
			transfers[request.ID] = request
			return nil
		},
		findFunc: func(_ context.Context, transferID string) (domain.BankTransferRequest, error) {
			request, ok := transfers[transferID]
			if !ok {
				return domain.BankTransferRequest{}, errStubNotFound
			}
			return request, nil
		},
	}
}

type stubStockRepository struct {
	getFunc    func(ctx context.Context, sku string) (domain.Stock, error)
	deductFunc func(ctx context.Context, lines []repositories.StockDeduction, now time.Time) error
	upsertFunc func(ctx context.Context, stock domain.Stock) error
}

func (s *stubStockRepository) Get(ctx context.Context, sku string) (domain.Stock, error) {
	if s.getFunc == nil {
		return domain.Stock{}, errors.New("stubStockRepository: unexpected Get")
	}
	return s.getFunc(ctx, sku)
}

func (s *stubStockRepository) DeductAll(ctx context.Context, lines []repositories.StockDeduction, now time.Time) error {
	if s.deductFunc == nil {
		return errors.New("stubStockRepository: unexpected DeductAll")
	}
	return s.deductFunc(ctx, lines, now)
}

func (s *stubStockRepository) Upsert(ctx context.Context, stock domain.Stock) error {
	if s.upsertFunc == nil {
		return errors.New("stubStockRepository: unexpected Upsert")
	}
	return s.upsertFunc(ctx, stock)
}

// memoryStockRepository verifies every line before mutating any, matching the
// all-or-nothing contract of the Firestore implementation.
func memoryStockRepository(stocks map[string]domain.Stock) *stubStockRepository {
	return &stubStockRepository{
		getFunc: func(_ context.Context, sku string) (domain.Stock, error) {
			stock, ok := stocks[sku]
			if !ok {
				return domain.Stock{}, repositories.NewStockError(repositories.StockErrorNotFound, sku, "stock not found", nil)
			}
			return stock, nil
		},
		deductFunc: func(_ context.Context, lines []repositories.StockDeduction, now time.Time) error {
			for _, line := range lines {
				stock, ok := stocks[line.SKU]
				if !ok {
					return repositories.NewStockError(repositories.StockErrorNotFound, line.SKU, "stock not found", nil)
				}
				if stock.Available() < line.Quantity {
					return repositories.NewStockError(repositories.StockErrorInsufficient, line.SKU, "insufficient stock", nil)
				}
			}
			for _, line := range lines {
				stock := stocks[line.SKU]
				stock.OnHand -= line.Quantity
				stock.UpdatedAt = now
				stocks[line.SKU] = stock
			}
			return nil
		},
		upsertFunc: func(_ context.Context, stock domain.Stock) error {
			stocks[stock.SKU] = stock
			return nil
		},
	}
}

type stubBankingSettingsRepository struct {
	getFunc func(ctx context.Context) (domain.BankAccount, error)
	putFunc func(ctx context.Context, account domain.BankAccount, now time.Time) error
}

func (s *stubBankingSettingsRepository) Get(ctx context.Context) (domain.BankAccount, error) {
	if s.getFunc == nil {
		return domain.BankAccount{}, errors.New("stubBankingSettingsRepository: unexpected Get")
	}
	return s.getFunc(ctx)
}

func (s *stubBankingSettingsRepository) Put(ctx context.Context, account domain.BankAccount, now time.Time) error {
	if s.putFunc == nil {
		return errors.New("stubBankingSettingsRepository: unexpected Put")
	}
	return s.putFunc(ctx, account, now)
}

type stubCounterRepository struct {
	nextFunc      func(ctx context.Context, counterID string, step int64) (int64, error)
	configureFunc func(ctx context.Context, counterID string, cfg repositories.CounterConfig) error
}

func (s *stubCounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.nextFunc == nil {
		return 0, errors.New("stubCounterRepository: unexpected Next")
	}
	return s.nextFunc(ctx, counterID, step)
}

func (s *stubCounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	if s.configureFunc == nil {
		return errors.New("stubCounterRepository: unexpected Configure")
	}
	return s.configureFunc(ctx, counterID, cfg)
}

type stubAuditLogRepository struct {
	appendFunc func(ctx context.Context, entry domain.AuditLogEntry) error
	listFunc   func(ctx context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

func (s *stubAuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	if s.appendFunc == nil {
		return errors.New("stubAuditLogRepository: unexpected Append")
	}
	return s.appendFunc(ctx, entry)
}

func (s *stubAuditLogRepository) List(ctx context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	if s.listFunc == nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, errors.New("stubAuditLogRepository: unexpected List")
	}
	return s.listFunc(ctx, filter)
}

type stubHealthRepository struct {
	collectFunc func(ctx context.Context) (domain.SystemHealthReport, error)
}

func (s *stubHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if s.collectFunc == nil {
		return domain.SystemHealthReport{}, errors.New("stubHealthRepository: unexpected Collect")
	}
	return s.collectFunc(ctx)
}

// recordingAuditService captures audit records handed to lifecycle services.
type recordingAuditService struct {
	mu      sync.Mutex
	records []AuditLogRecord
}

func (s *recordingAuditService) Record(_ context.Context, record AuditLogRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
}

func (s *recordingAuditService) List(context.Context, AuditLogFilter) (domain.CursorPage[AuditLogEntry], error) {
	return domain.CursorPage[AuditLogEntry]{}, nil
}

func (s *recordingAuditService) all() []AuditLogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditLogRecord, len(s.records))
	copy(out, s.records)
	return out
}

// recordingPublisher captures lifecycle events, optionally failing every publish.
type recordingPublisher struct {
	events []LifecycleEvent
	err    error
}

func (p *recordingPublisher) PublishLifecycleEvent(_ context.Context, event LifecycleEvent) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.events = append(p.events, event)
	return event.EventID, nil
}

type captureWarnLogger struct {
	messages []string
}

func (l *captureWarnLogger) Warnf(format string, args ...any) {
	l.messages = append(l.messages, fmt.Sprintf(format, args...))
}
