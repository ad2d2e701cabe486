package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/mallkit/api/internal/domain"
	"github.com/mallkit/api/internal/repositories"
)

const (
	transferEventCreated  = "banktransfer.created"
	transferEventSettled  = "banktransfer.settled"
	transferEventRejected = "banktransfer.rejected"

	transferIDPrefix = "bt_"

	transferAuditActionCreate  = "banktransfers.create"
	transferAuditActionApprove = "banktransfers.approve"
	transferAuditActionReject  = "banktransfers.reject"
)

var (
	// ErrTransferInvalidInput signals the caller provided invalid data.
	ErrTransferInvalidInput = errors.New("bank transfer: invalid input")
	// ErrTransferNotFound indicates the transfer request could not be located.
	ErrTransferNotFound = errors.New("bank transfer: not found")
	// ErrTransferConflict indicates concurrent writes or duplicates.
	ErrTransferConflict = errors.New("bank transfer: conflict")
)

// BankTransferServiceDeps bundles collaborators required to construct the bank transfer service.
type BankTransferServiceDeps struct {
	Transfers   repositories.BankTransferRepository
	Orders      repositories.OrderRepository
	Payments    repositories.PaymentTransactionRepository
	Stocks      repositories.StockRepository
	Banking     repositories.BankingSettingsRepository
	UnitOfWork  repositories.UnitOfWork
	Audit       AuditLogService
	Clock       func() time.Time
	IDGenerator func() string
	Events      LifecycleEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type bankTransferService struct {
	transfers  repositories.BankTransferRepository
	orders     repositories.OrderRepository
	payments   repositories.PaymentTransactionRepository
	stocks     repositories.StockRepository
	banking    repositories.BankingSettingsRepository
	unitOfWork repositories.UnitOfWork
	audit      AuditLogService
	clock      func() time.Time
	newID      func() string
	events     LifecycleEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewBankTransferService wires dependencies into a concrete BankTransferService implementation.
func NewBankTransferService(deps BankTransferServiceDeps) (BankTransferService, error) {
	if deps.Transfers == nil {
		return nil, errors.New("bank transfer service: transfer repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("bank transfer service: order repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("bank transfer service: payment repository is required")
	}
	if deps.Stocks == nil {
		return nil, errors.New("bank transfer service: stock repository is required")
	}
	if deps.Banking == nil {
		return nil, errors.New("bank transfer service: banking settings repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &bankTransferService{
		transfers:  deps.Transfers,
		orders:     deps.Orders,
		payments:   deps.Payments,
		stocks:     deps.Stocks,
		banking:    deps.Banking,
		unitOfWork: unit,
		audit:      deps.Audit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

// Create registers a wire claim against an order. The configured destination
// account is frozen into the request; later config edits do not change it.
// The order's payment axis moves to READY.
func (s *bankTransferService) Create(ctx context.Context, cmd CreateBankTransferCommand) (BankTransferRequest, error) {
	orderNumber := strings.TrimSpace(cmd.OrderNumber)
	if orderNumber == "" {
		return BankTransferRequest{}, fmt.Errorf("%w: order number is required", ErrTransferInvalidInput)
	}
	depositor := normalizeDepositorName(cmd.DepositorName)
	if depositor == "" {
		return BankTransferRequest{}, fmt.Errorf("%w: depositor name is required", ErrTransferInvalidInput)
	}

	order, err := s.findOrderByNumber(ctx, orderNumber)
	if err != nil {
		return BankTransferRequest{}, err
	}

	account, err := s.banking.Get(ctx)
	if err != nil {
		return BankTransferRequest{}, s.mapRepositoryError(err)
	}

	now := s.now()

	request := BankTransferRequest{
		ID:             transferIDPrefix + s.newID(),
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		Status:         domain.TransferStatusRequested,
		DepositorName:  depositor,
		TransferAmount: order.Total,
		BankAccount:    account,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// Each claim appends a READY attempt to the payment ledger; settlement
	// later appends the APPROVED record, so the trail shows both halves.
	attempt := PaymentTransaction{
		ID:         paymentIDPrefix + s.newID(),
		OrderID:    order.ID,
		Provider:   domain.PaymentProviderBankTransfer,
		Status:     domain.PaymentStatusReady,
		Amount:     order.Total,
		PaymentKey: request.ID,
		CreatedAt:  now,
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, order.ID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if current.PaymentStatus != domain.PaymentStatusReady {
			if err := domain.AssertPaymentStatusTransition(current.PaymentStatus, domain.PaymentStatusReady); err != nil {
				return err
			}
			current.PaymentStatus = domain.PaymentStatusReady
			current.UpdatedAt = now
		}
		if err := s.transfers.Insert(txCtx, request); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.orders.Update(txCtx, current); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.payments.Insert(txCtx, attempt); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return BankTransferRequest{}, err
	}

	s.recordAudit(ctx, AuditLogRecord{
		Actor:          cmd.Actor.ID,
		ActorType:      cmd.Actor.Type,
		Action:         transferAuditActionCreate,
		TargetRef:      "bankTransferRequests/" + request.ID,
		IdempotencyKey: cmd.IdempotencyKey,
		OccurredAt:     now,
		Metadata: map[string]any{
			"orderId":        request.OrderID,
			"transferAmount": request.TransferAmount,
		},
	})
	s.publishEvent(ctx, LifecycleEvent{
		EventID:        s.newID(),
		Type:           transferEventCreated,
		OrderID:        request.OrderID,
		TransferID:     request.ID,
		Actor:          cmd.Actor.ID,
		OccurredAt:     now,
		IdempotencyKey: cmd.IdempotencyKey,
	})

	return request, nil
}

// Approve confirms the wire arrived and settles the order. Settlement is
// exactly-once: an order already at PAID is never deducted again, so retried
// approvals cannot double-decrement stock.
func (s *bankTransferService) Approve(ctx context.Context, cmd DecideBankTransferCommand) (BankTransferRequest, error) {
	requestID := strings.TrimSpace(cmd.RequestID)
	if requestID == "" {
		return BankTransferRequest{}, fmt.Errorf("%w: request id is required", ErrTransferInvalidInput)
	}

	now := s.now()

	var (
		updated      BankTransferRequest
		settled      bool
		transitioned bool
	)

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		request, err := s.transfers.FindByID(txCtx, requestID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if err := domain.AssertTransferStatusTransition(request.Status, domain.TransferStatusApproved); err != nil {
			return err
		}

		result, err := settleOrderAsPaid(txCtx, settlementDeps{
			orders:   s.orders,
			stocks:   s.stocks,
			payments: s.payments,
		}, request.OrderID, domain.PaymentProviderBankTransfer, requestID, s.newID, now)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		settled = result.settled

		if request.Status != domain.TransferStatusApproved {
			transitioned = true
			request.Status = domain.TransferStatusApproved
			setOnce(&request.DecidedAt, now)
			request.UpdatedAt = now
			if err := s.transfers.Update(txCtx, request); err != nil {
				return s.mapRepositoryError(err)
			}
		}

		updated = request
		return nil
	})
	if err != nil {
		return BankTransferRequest{}, err
	}

	if !transitioned {
		return updated, nil
	}

	s.recordAudit(ctx, AuditLogRecord{
		Actor:          cmd.Actor.ID,
		ActorType:      cmd.Actor.Type,
		Action:         transferAuditActionApprove,
		TargetRef:      "bankTransferRequests/" + updated.ID,
		IdempotencyKey: cmd.IdempotencyKey,
		OccurredAt:     now,
		Diff: map[string]AuditLogDiff{
			"status": {Before: domain.TransferStatusRequested, After: domain.TransferStatusApproved},
		},
		Metadata: map[string]any{
			"orderId": updated.OrderID,
			"settled": settled,
		},
	})
	s.publishEvent(ctx, LifecycleEvent{
		EventID:        s.newID(),
		Type:           transferEventSettled,
		OrderID:        updated.OrderID,
		TransferID:     updated.ID,
		Actor:          cmd.Actor.ID,
		OccurredAt:     now,
		IdempotencyKey: cmd.IdempotencyKey,
	})

	return updated, nil
}

// Reject declines the claim. A non-empty reason is required.
func (s *bankTransferService) Reject(ctx context.Context, cmd DecideBankTransferCommand) (BankTransferRequest, error) {
	requestID := strings.TrimSpace(cmd.RequestID)
	if requestID == "" {
		return BankTransferRequest{}, fmt.Errorf("%w: request id is required", ErrTransferInvalidInput)
	}
	reason := sanitizeFreeText(cmd.Reason, 500)
	if reason == "" {
		return BankTransferRequest{}, fmt.Errorf("%w: rejection reason is required", ErrTransferInvalidInput)
	}

	now := s.now()

	var (
		updated      BankTransferRequest
		transitioned bool
	)

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		request, err := s.transfers.FindByID(txCtx, requestID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if err := domain.AssertTransferStatusTransition(request.Status, domain.TransferStatusRejected); err != nil {
			return err
		}
		if request.Status != domain.TransferStatusRejected {
			transitioned = true
			request.Status = domain.TransferStatusRejected
			request.RejectedReason = reason
			setOnce(&request.DecidedAt, now)
			request.UpdatedAt = now
			if err := s.transfers.Update(txCtx, request); err != nil {
				return s.mapRepositoryError(err)
			}
		}
		updated = request
		return nil
	})
	if err != nil {
		return BankTransferRequest{}, err
	}

	if !transitioned {
		return updated, nil
	}

	s.recordAudit(ctx, AuditLogRecord{
		Actor:          cmd.Actor.ID,
		ActorType:      cmd.Actor.Type,
		Action:         transferAuditActionReject,
		TargetRef:      "bankTransferRequests/" + updated.ID,
		IdempotencyKey: cmd.IdempotencyKey,
		OccurredAt:     now,
		Diff: map[string]AuditLogDiff{
			"status":         {Before: domain.TransferStatusRequested, After: domain.TransferStatusRejected},
			"rejectedReason": {Before: "", After: reason},
		},
		Metadata: map[string]any{
			"orderId": updated.OrderID,
		},
	})
	s.publishEvent(ctx, LifecycleEvent{
		EventID:        s.newID(),
		Type:           transferEventRejected,
		OrderID:        updated.OrderID,
		TransferID:     updated.ID,
		Actor:          cmd.Actor.ID,
		OccurredAt:     now,
		IdempotencyKey: cmd.IdempotencyKey,
	})

	return updated, nil
}

func (s *bankTransferService) Get(ctx context.Context, requestID string) (BankTransferRequest, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return BankTransferRequest{}, fmt.Errorf("%w: request id is required", ErrTransferInvalidInput)
	}
	request, err := s.transfers.FindByID(ctx, requestID)
	if err != nil {
		return BankTransferRequest{}, s.mapRepositoryError(err)
	}
	return request, nil
}

func (s *bankTransferService) List(ctx context.Context, filter BankTransferListFilter) (domain.CursorPage[BankTransferRequest], error) {
	page, err := s.transfers.List(ctx, repositories.BankTransferListFilter{
		OrderID:    strings.TrimSpace(filter.OrderID),
		Status:     filter.Status,
		Depositor:  normalizeDepositorName(filter.Depositor),
		DateRange:  filter.DateRange,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[BankTransferRequest]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *bankTransferService) findOrderByNumber(ctx context.Context, orderNumber string) (Order, error) {
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		OrderNumber: orderNumber,
		Pagination:  domain.Pagination{PageSize: 1},
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if len(page.Items) == 0 {
		return Order{}, fmt.Errorf("%w: order %s", ErrTransferNotFound, orderNumber)
	}
	return page.Items[0], nil
}

func (s *bankTransferService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrTransferNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrTransferConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("bank transfer: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *bankTransferService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *bankTransferService) now() time.Time {
	return s.clock()
}

func (s *bankTransferService) recordAudit(ctx context.Context, record AuditLogRecord) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, record)
}

func (s *bankTransferService) publishEvent(ctx context.Context, event LifecycleEvent) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishLifecycleEvent(ctx, event); err != nil {
		s.logger(ctx, "banktransfer.event.publish.failed", map[string]any{
			"type":     event.Type,
			"transfer": event.TransferID,
			"error":    err.Error(),
		})
	}
}
