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

var (
	// ErrPaymentInvalidInput signals the caller provided invalid data.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentNotFound indicates the referenced order could not be located.
	ErrPaymentNotFound = errors.New("payment: not found")
	// ErrPaymentConflict indicates concurrent writes or duplicates.
	ErrPaymentConflict = errors.New("payment: conflict")
)

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	Orders      repositories.OrderRepository
	Payments    repositories.PaymentTransactionRepository
	Stocks      repositories.StockRepository
	UnitOfWork  repositories.UnitOfWork
	Audit       AuditLogService
	Clock       func() time.Time
	IDGenerator func() string
	Events      LifecycleEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders     repositories.OrderRepository
	payments   repositories.PaymentTransactionRepository
	stocks     repositories.StockRepository
	unitOfWork repositories.UnitOfWork
	audit      AuditLogService
	clock      func() time.Time
	newID      func() string
	events     LifecycleEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("payment service: payment repository is required")
	}
	if deps.Stocks == nil {
		return nil, errors.New("payment service: stock repository is required")
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

	return &paymentService{
		orders:     deps.Orders,
		payments:   deps.Payments,
		stocks:     deps.Stocks,
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

// RecordWebhookEvent applies a gateway settlement notification. An approved
// notification runs the same exactly-once stock settlement as a bank
// transfer approval; failed and canceled notifications move the payment axis
// only and append a matching transaction record.
func (s *paymentService) RecordWebhookEvent(ctx context.Context, cmd PaymentWebhookCommand) error {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	provider := cmd.Provider
	if provider == "" {
		provider = domain.PaymentProviderGateway
	}

	now := s.now()
	occurred := cmd.OccurredAt
	if occurred.IsZero() {
		occurred = now
	} else {
		occurred = occurred.UTC()
	}

	var settled bool

	switch cmd.Status {
	case domain.PaymentStatusApproved:
		err := s.runInTx(ctx, func(txCtx context.Context) error {
			result, err := settleOrderAsPaid(txCtx, settlementDeps{
				orders:   s.orders,
				stocks:   s.stocks,
				payments: s.payments,
			}, orderID, provider, strings.TrimSpace(cmd.PaymentKey), s.newID, now)
			if err != nil {
				return s.mapRepositoryError(err)
			}
			settled = result.settled
			return nil
		})
		if err != nil {
			return err
		}

	case domain.PaymentStatusFailed, domain.PaymentStatusCanceled:
		err := s.runInTx(ctx, func(txCtx context.Context) error {
			order, err := s.orders.FindByID(txCtx, orderID)
			if err != nil {
				return s.mapRepositoryError(err)
			}
			if order.PaymentStatus != cmd.Status {
				if err := domain.AssertPaymentStatusTransition(order.PaymentStatus, cmd.Status); err != nil {
					return err
				}
				order.PaymentStatus = cmd.Status
				order.UpdatedAt = now
				if err := s.orders.Update(txCtx, order); err != nil {
					return s.mapRepositoryError(err)
				}
			}
			return s.mapRepositoryError(s.payments.Insert(txCtx, PaymentTransaction{
				ID:         paymentIDPrefix + s.newID(),
				OrderID:    order.ID,
				Provider:   provider,
				Status:     cmd.Status,
				Amount:     cmd.Amount,
				PaymentKey: strings.TrimSpace(cmd.PaymentKey),
				CreatedAt:  now,
			}))
		})
		if err != nil {
			return err
		}

	default:
		return fmt.Errorf("%w: unsupported webhook status %q", ErrPaymentInvalidInput, cmd.Status)
	}

	if settled {
		s.recordAudit(ctx, AuditLogRecord{
			Actor:      "webhook:" + string(provider),
			ActorType:  "system",
			Action:     "payments.webhook",
			TargetRef:  "orders/" + orderID,
			OccurredAt: occurred,
			Metadata: map[string]any{
				"status":     string(cmd.Status),
				"paymentKey": strings.TrimSpace(cmd.PaymentKey),
			},
		})
		s.publishEvent(ctx, LifecycleEvent{
			EventID:    s.newID(),
			Type:       orderEventPaid,
			OrderID:    orderID,
			Actor:      "webhook:" + string(provider),
			OccurredAt: occurred,
		})
	}

	return nil
}

func (s *paymentService) ListPayments(ctx context.Context, orderID string) ([]PaymentTransaction, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	payments, err := s.payments.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return payments, nil
}

func (s *paymentService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPaymentNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrPaymentConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("payment: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *paymentService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *paymentService) now() time.Time {
	return s.clock()
}

func (s *paymentService) recordAudit(ctx context.Context, record AuditLogRecord) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, record)
}

func (s *paymentService) publishEvent(ctx context.Context, event LifecycleEvent) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishLifecycleEvent(ctx, event); err != nil {
		s.logger(ctx, "payment.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}
