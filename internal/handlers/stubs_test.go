package handlers

import (
	"context"
	"errors"
	"net/http"

	domain "github.com/mallkit/api/internal/domain"
	"github.com/mallkit/api/internal/platform/auth"
	"github.com/mallkit/api/internal/services"
)

func ptr[T any](v T) *T {
	return &v
}

func staffIdentity(roles ...string) *auth.Identity {
	if len(roles) == 0 {
		roles = []string{auth.RoleStaff}
	}
	return &auth.Identity{
		UID:   "uid-staff-1",
		Email: "ops@mallkit.dev",
		Roles: roles,
	}
}

func requestWithIdentity(r *http.Request, identity *auth.Identity) *http.Request {
	return r.WithContext(auth.WithIdentity(r.Context(), identity))
}

type stubOrderService struct {
	createFunc func(ctx context.Context, cmd services.CreateOrderCommand) (domain.Order, error)
	getFunc    func(ctx context.Context, orderID string) (services.OrderDetail, error)
	listFunc   func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[domain.Order], error)
	patchFunc  func(ctx context.Context, cmd services.OrderPatchCommand) (domain.Order, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (domain.Order, error) {
	if s.createFunc == nil {
		return domain.Order{}, errors.New("unexpected CreateOrder call")
	}
	return s.createFunc(ctx, cmd)
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (services.OrderDetail, error) {
	if s.getFunc == nil {
		return services.OrderDetail{}, errors.New("unexpected GetOrder call")
	}
	return s.getFunc(ctx, orderID)
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFunc == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("unexpected ListOrders call")
	}
	return s.listFunc(ctx, filter)
}

func (s *stubOrderService) ApplyPatch(ctx context.Context, cmd services.OrderPatchCommand) (domain.Order, error) {
	if s.patchFunc == nil {
		return domain.Order{}, errors.New("unexpected ApplyPatch call")
	}
	return s.patchFunc(ctx, cmd)
}

type stubReturnService struct {
	createFunc func(ctx context.Context, cmd services.CreateReturnCommand) (domain.ReturnRequest, error)
	updateFunc func(ctx context.Context, cmd services.UpdateReturnCommand) (domain.ReturnRequest, error)
	deleteFunc func(ctx context.Context, cmd services.DeleteReturnCommand) error
	getFunc    func(ctx context.Context, returnID string) (domain.ReturnRequest, error)
	listFunc   func(ctx context.Context, filter services.ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error)
}

func (s *stubReturnService) Create(ctx context.Context, cmd services.CreateReturnCommand) (domain.ReturnRequest, error) {
	if s.createFunc == nil {
		return domain.ReturnRequest{}, errors.New("unexpected Create call")
	}
	return s.createFunc(ctx, cmd)
}

func (s *stubReturnService) Update(ctx context.Context, cmd services.UpdateReturnCommand) (domain.ReturnRequest, error) {
	if s.updateFunc == nil {
		return domain.ReturnRequest{}, errors.New("unexpected Update call")
	}
	return s.updateFunc(ctx, cmd)
}

func (s *stubReturnService) Delete(ctx context.Context, cmd services.DeleteReturnCommand) error {
	if s.deleteFunc == nil {
		return errors.New("unexpected Delete call")
	}
	return s.deleteFunc(ctx, cmd)
}

func (s *stubReturnService) Get(ctx context.Context, returnID string) (domain.ReturnRequest, error) {
	if s.getFunc == nil {
		return domain.ReturnRequest{}, errors.New("unexpected Get call")
	}
	return s.getFunc(ctx, returnID)
}

func (s *stubReturnService) List(ctx context.Context, filter services.ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error) {
	if s.listFunc == nil {
		return domain.CursorPage[domain.ReturnRequest]{}, errors.New("unexpected List call")
	}
	return s.listFunc(ctx, filter)
}

type stubBankTransferService struct {
	createFunc  func(ctx context.Context, cmd services.CreateBankTransferCommand) (domain.BankTransferRequest, error)
	approveFunc func(ctx context.Context, cmd services.DecideBankTransferCommand) (domain.BankTransferRequest, error)
	rejectFunc  func(ctx context.Context, cmd services.DecideBankTransferCommand) (domain.BankTransferRequest, error)
	getFunc     func(ctx context.Context, requestID string) (domain.BankTransferRequest, error)
	listFunc    func(ctx context.Context, filter services.BankTransferListFilter) (domain.CursorPage[domain.BankTransferRequest], error)
}

func (s *stubBankTransferService) Create(ctx context.Context, cmd services.CreateBankTransferCommand) (domain.BankTransferRequest, error) {
	if s.createFunc == nil {
		return domain.BankTransferRequest{}, errors.New("unexpected Create call")
	}
	return s.createFunc(ctx, cmd)
}

func (s *stubBankTransferService) Approve(ctx context.Context, cmd services.DecideBankTransferCommand) (domain.BankTransferRequest, error) {
	if s.approveFunc == nil {
		return domain.BankTransferRequest{}, errors.New("unexpected Approve call")
	}
	return s.approveFunc(ctx, cmd)
}

func (s *stubBankTransferService) Reject(ctx context.Context, cmd services.DecideBankTransferCommand) (domain.BankTransferRequest, error) {
	if s.rejectFunc == nil {
		return domain.BankTransferRequest{}, errors.New("unexpected Reject call")
	}
	return s.rejectFunc(ctx, cmd)
}

func (s *stubBankTransferService) Get(ctx context.Context, requestID string) (domain.BankTransferRequest, error) {
	if s.getFunc == nil {
		return domain.BankTransferRequest{}, errors.New("unexpected Get call")
	}
	return s.getFunc(ctx, requestID)
}

func (s *stubBankTransferService) List(ctx context.Context, filter services.BankTransferListFilter) (domain.CursorPage[domain.BankTransferRequest], error) {
	if s.listFunc == nil {
		return domain.CursorPage[domain.BankTransferRequest]{}, errors.New("unexpected List call")
	}
	return s.listFunc(ctx, filter)
}

type stubPaymentService struct {
	recordFunc func(ctx context.Context, cmd services.PaymentWebhookCommand) error
	listFunc   func(ctx context.Context, orderID string) ([]domain.PaymentTransaction, error)
}

func (s *stubPaymentService) RecordWebhookEvent(ctx context.Context, cmd services.PaymentWebhookCommand) error {
	if s.recordFunc == nil {
		return errors.New("unexpected RecordWebhookEvent call")
	}
	return s.recordFunc(ctx, cmd)
}

func (s *stubPaymentService) ListPayments(ctx context.Context, orderID string) ([]domain.PaymentTransaction, error) {
	if s.listFunc == nil {
		return nil, errors.New("unexpected ListPayments call")
	}
	return s.listFunc(ctx, orderID)
}

type stubBankingService struct {
	getFunc    func(ctx context.Context) (domain.BankAccount, error)
	updateFunc func(ctx context.Context, cmd services.UpdateBankAccountCommand) (domain.BankAccount, error)
}

func (s *stubBankingService) GetAccount(ctx context.Context) (domain.BankAccount, error) {
	if s.getFunc == nil {
		return domain.BankAccount{}, errors.New("unexpected GetAccount call")
	}
	return s.getFunc(ctx)
}

func (s *stubBankingService) UpdateAccount(ctx context.Context, cmd services.UpdateBankAccountCommand) (domain.BankAccount, error) {
	if s.updateFunc == nil {
		return domain.BankAccount{}, errors.New("unexpected UpdateAccount call")
	}
	return s.updateFunc(ctx, cmd)
}

type stubAuditLogService struct {
	recordFunc func(ctx context.Context, record services.AuditLogRecord)
	listFunc   func(ctx context.Context, filter services.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

func (s *stubAuditLogService) Record(ctx context.Context, record services.AuditLogRecord) {
	if s.recordFunc != nil {
		s.recordFunc(ctx, record)
	}
}

func (s *stubAuditLogService) List(ctx context.Context, filter services.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	if s.listFunc == nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, errors.New("unexpected List call")
	}
	return s.listFunc(ctx, filter)
}

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
	build  services.BuildInfo
}

func (s *stubSystemService) HealthReport(ctx context.Context) (services.SystemHealthReport, error) {
	if s.err != nil {
		return services.SystemHealthReport{}, s.err
	}
	return s.report, nil
}

func (s *stubSystemService) Build() services.BuildInfo {
	return s.build
}
