package di

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mallkit/api/internal/platform/config"
	"github.com/mallkit/api/internal/repositories"
)

type stubRegistry struct {
	orders    repositories.OrderRepository
	returns   repositories.ReturnRepository
	payments  repositories.PaymentTransactionRepository
	transfers repositories.BankTransferRepository
	stocks    repositories.StockRepository
	banking   repositories.BankingSettingsRepository
	audit     repositories.AuditLogRepository
	counters  repositories.CounterRepository
	health    repositories.HealthRepository

	closed   bool
	closeErr error
}

func (s *stubRegistry) Close(ctx context.Context) error {
	s.closed = true
	return s.closeErr
}

func (s *stubRegistry) Orders() repositories.OrderRepository   { return s.orders }
func (s *stubRegistry) Returns() repositories.ReturnRepository { return s.returns }
func (s *stubRegistry) PaymentTransactions() repositories.PaymentTransactionRepository {
	return s.payments
}
func (s *stubRegistry) BankTransfers() repositories.BankTransferRepository { return s.transfers }
func (s *stubRegistry) Stocks() repositories.StockRepository               { return s.stocks }
func (s *stubRegistry) BankingSettings() repositories.BankingSettingsRepository {
	return s.banking
}
func (s *stubRegistry) AuditLogs() repositories.AuditLogRepository { return s.audit }
func (s *stubRegistry) Counters() repositories.CounterRepository   { return s.counters }
func (s *stubRegistry) Health() repositories.HealthRepository      { return s.health }
func (s *stubRegistry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeOrderRepo struct{ repositories.OrderRepository }
type fakeReturnRepo struct{ repositories.ReturnRepository }
type fakePaymentRepo struct {
	repositories.PaymentTransactionRepository
}
type fakeTransferRepo struct {
	repositories.BankTransferRepository
}
type fakeStockRepo struct{ repositories.StockRepository }
type fakeBankingRepo struct {
	repositories.BankingSettingsRepository
}
type fakeAuditRepo struct {
	repositories.AuditLogRepository
}
type fakeCounterRepo struct{ repositories.CounterRepository }
type fakeHealthRepo struct{ repositories.HealthRepository }

func fullRegistry() *stubRegistry {
	return &stubRegistry{
		orders:    &fakeOrderRepo{},
		returns:   &fakeReturnRepo{},
		payments:  &fakePaymentRepo{},
		transfers: &fakeTransferRepo{},
		stocks:    &fakeStockRepo{},
		banking:   &fakeBankingRepo{},
		audit:     &fakeAuditRepo{},
		counters:  &fakeCounterRepo{},
		health:    &fakeHealthRepo{},
	}
}

func TestNewContainerWiresAllServices(t *testing.T) {
	cfg := config.Config{}
	cfg.Audit.HashSalt = "salt"
	cfg.Security.Environment = "test"

	c, err := NewContainer(context.Background(), cfg, fullRegistry(), Infrastructure{
		Clock: func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewContainer returned error: %v", err)
	}

	if c.Services.Audit == nil {
		t.Error("expected audit service to be wired")
	}
	if c.Services.Orders == nil {
		t.Error("expected order service to be wired")
	}
	if c.Services.Returns == nil {
		t.Error("expected return service to be wired")
	}
	if c.Services.BankTransfers == nil {
		t.Error("expected bank transfer service to be wired")
	}
	if c.Services.Payments == nil {
		t.Error("expected payment service to be wired")
	}
	if c.Services.Banking == nil {
		t.Error("expected banking service to be wired")
	}
	if c.Services.System == nil {
		t.Error("expected system service to be wired")
	}
}

func TestNewContainerRequiresRegistry(t *testing.T) {
	if _, err := NewContainer(context.Background(), config.Config{}, nil, Infrastructure{}); err == nil {
		t.Fatal("expected error for nil registry")
	}
}

func TestNewContainerSkipsServicesWithoutRepositories(t *testing.T) {
	reg := fullRegistry()
	reg.orders = nil
	reg.health = nil

	c, err := NewContainer(context.Background(), config.Config{}, reg, Infrastructure{})
	if err != nil {
		t.Fatalf("NewContainer returned error: %v", err)
	}

	if c.Services.Orders != nil {
		t.Error("expected order service to be skipped without an order repository")
	}
	if c.Services.Returns != nil {
		t.Error("expected return service to be skipped without an order repository")
	}
	if c.Services.System != nil {
		t.Error("expected system service to be skipped without a health repository")
	}
	if c.Services.Banking == nil {
		t.Error("expected banking service to be wired independently of orders")
	}
}

func TestContainerCloseDelegatesToRegistry(t *testing.T) {
	reg := fullRegistry()
	reg.closeErr = errors.New("close failed")

	c, err := NewContainer(context.Background(), config.Config{}, reg, Infrastructure{})
	if err != nil {
		t.Fatalf("NewContainer returned error: %v", err)
	}

	if err := c.Close(context.Background()); !errors.Is(err, reg.closeErr) {
		t.Fatalf("Close error = %v, want %v", err, reg.closeErr)
	}
	if !reg.closed {
		t.Error("expected registry Close to be called")
	}

	var nilContainer *Container
	if err := nilContainer.Close(context.Background()); err != nil {
		t.Fatalf("nil container Close returned %v", err)
	}
}
