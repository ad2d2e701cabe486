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
	orderEventCreated = "order.created"
	orderEventUpdated = "order.updated"
	orderEventPaid    = "order.paid"

	orderIDPrefix = "ord_"

	orderAuditActionCreate = "orders.create"
	orderAuditActionPatch  = "orders.patch"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates concurrent writes or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderNoUpdateFields indicates a patch that changes nothing. A PATCH
	// that mutates nothing is a client bug worth surfacing, not a silent success.
	ErrOrderNoUpdateFields = errors.New("order: no update fields")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Returns     repositories.ReturnRepository
	Payments    repositories.PaymentTransactionRepository
	Counters    repositories.CounterRepository
	UnitOfWork  repositories.UnitOfWork
	Audit       AuditLogService
	Clock       func() time.Time
	IDGenerator func() string
	Events      LifecycleEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	returns    repositories.ReturnRepository
	payments   repositories.PaymentTransactionRepository
	counters   repositories.CounterRepository
	unitOfWork repositories.UnitOfWork
	audit      AuditLogService
	clock      func() time.Time
	newID      func() string
	events     LifecycleEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Returns == nil {
		return nil, errors.New("order service: return repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
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

	return &orderService{
		orders:     deps.Orders,
		returns:    deps.Returns,
		payments:   deps.Payments,
		counters:   deps.Counters,
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

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	userRef := strings.TrimSpace(cmd.UserRef)
	if userRef == "" {
		return Order{}, fmt.Errorf("%w: user ref is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}
	for _, item := range cmd.Items {
		if strings.TrimSpace(item.SKU) == "" {
			return Order{}, fmt.Errorf("%w: item sku is required", ErrOrderInvalidInput)
		}
		if item.Quantity <= 0 {
			return Order{}, fmt.Errorf("%w: item quantity must be positive", ErrOrderInvalidInput)
		}
	}
	if cmd.Subtotal < 0 || cmd.ShippingFee < 0 || cmd.Discount < 0 || cmd.Total < 0 {
		return Order{}, fmt.Errorf("%w: monetary fields must be non-negative", ErrOrderInvalidInput)
	}

	now := s.now()

	order := Order{
		ID:             orderIDPrefix + s.newID(),
		UserRef:        userRef,
		Status:         domain.OrderStatusPending,
		PaymentStatus:  domain.PaymentStatusUnpaid,
		ShippingStatus: domain.ShippingStatusReady,
		DisplayStatus:  domain.DisplayStatusPaymentPending,
		Subtotal:       cmd.Subtotal,
		ShippingFee:    cmd.ShippingFee,
		Discount:       cmd.Discount,
		Total:          cmd.Total,
		Items:          cloneOrderItems(cmd.Items),
		Recipient:      sanitizeFreeText(cmd.Recipient, 120),
		Address:        sanitizeFreeText(cmd.Address, 300),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		number, err := s.generateOrderNumber(txCtx, now)
		if err != nil {
			return err
		}
		order.OrderNumber = number
		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.recordAudit(ctx, AuditLogRecord{
		Actor:          cmd.Actor.ID,
		ActorType:      cmd.Actor.Type,
		Action:         orderAuditActionCreate,
		TargetRef:      "orders/" + order.ID,
		IdempotencyKey: cmd.IdempotencyKey,
		OccurredAt:     now,
		Metadata: map[string]any{
			"orderNumber": order.OrderNumber,
			"total":       order.Total,
		},
	})
	s.publishEvent(ctx, LifecycleEvent{
		EventID:        s.newID(),
		Type:           orderEventCreated,
		OrderID:        order.ID,
		Actor:          cmd.Actor.ID,
		OccurredAt:     now,
		IdempotencyKey: cmd.IdempotencyKey,
	})

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (OrderDetail, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return OrderDetail{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return OrderDetail{}, s.mapRepositoryError(err)
	}

	detail := OrderDetail{Order: order}

	returns, err := s.returns.ListByOrder(ctx, orderID)
	if err != nil {
		return OrderDetail{}, s.mapRepositoryError(err)
	}
	detail.Returns = returns

	if s.payments != nil {
		payments, err := s.payments.ListByOrder(ctx, orderID)
		if err != nil {
			return OrderDetail{}, s.mapRepositoryError(err)
		}
		detail.Payments = payments
	}

	return detail, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserRef:       strings.TrimSpace(filter.UserRef),
		Status:        filter.Status,
		PaymentStatus: filter.PaymentStatus,
		DisplayStatus: filter.DisplayStatus,
		OrderNumber:   strings.TrimSpace(filter.OrderNumber),
		DateRange:     filter.DateRange,
		Pagination:    filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// ApplyPatch validates and applies an admin patch to one order. The order is
// re-read inside the transaction so a competing mutation committed first is
// seen before any transition is validated.
func (s *orderService) ApplyPatch(ctx context.Context, cmd OrderPatchCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	now := s.now()

	// Firestore transactions cannot run queries, so the open-return flag is
	// derived from rows read just before the transaction.
	returns, err := s.returns.ListByOrder(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	hasOpenReturn := false
	for _, ret := range returns {
		if ret.IsOpen() {
			hasOpenReturn = true
			break
		}
	}

	var (
		updated Order
		diff    map[string]AuditLogDiff
	)

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		patched, patchDiff, axisChanged, err := applyOrderPatch(order, cmd, hasOpenReturn, now)
		if err != nil {
			return err
		}
		if len(patchDiff) == 0 {
			return ErrOrderNoUpdateFields
		}

		patched.UpdatedAt = now
		if err := s.orders.Update(txCtx, patched); err != nil {
			return s.mapRepositoryError(err)
		}

		updated = patched
		if axisChanged {
			diff = patchDiff
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	// Re-setting the same axis value is not an auditable event.
	if len(diff) > 0 {
		s.recordAudit(ctx, AuditLogRecord{
			Actor:          cmd.Actor.ID,
			ActorType:      cmd.Actor.Type,
			Action:         orderAuditActionPatch,
			TargetRef:      "orders/" + updated.ID,
			IdempotencyKey: cmd.IdempotencyKey,
			OccurredAt:     now,
			Diff:           diff,
		})
		s.publishEvent(ctx, LifecycleEvent{
			EventID:        s.newID(),
			Type:           orderEventUpdated,
			OrderID:        updated.ID,
			Actor:          cmd.Actor.ID,
			OccurredAt:     now,
			IdempotencyKey: cmd.IdempotencyKey,
		})
	}

	return updated, nil
}

// applyOrderPatch computes the patched order, the audit diff, and whether any
// of the three status axes actually changed value. It is pure: no clocks, no
// repositories.
func applyOrderPatch(order Order, cmd OrderPatchCommand, hasOpenReturn bool, now time.Time) (Order, map[string]AuditLogDiff, bool, error) {
	diff := map[string]AuditLogDiff{}
	axisChanged := false

	if cmd.Status != nil && *cmd.Status != order.Status {
		if err := domain.AssertOrderStatusTransition(order.Status, *cmd.Status); err != nil {
			return Order{}, nil, false, err
		}
		diff["status"] = AuditLogDiff{Before: order.Status, After: *cmd.Status}
		order.Status = *cmd.Status
		axisChanged = true
		switch order.Status {
		case domain.OrderStatusPaid:
			setOnce(&order.PaidAt, now)
		case domain.OrderStatusCanceled:
			setOnce(&order.CanceledAt, now)
		}
	}

	if cmd.PaymentStatus != nil && *cmd.PaymentStatus != order.PaymentStatus {
		if err := domain.AssertPaymentStatusTransition(order.PaymentStatus, *cmd.PaymentStatus); err != nil {
			return Order{}, nil, false, err
		}
		diff["paymentStatus"] = AuditLogDiff{Before: order.PaymentStatus, After: *cmd.PaymentStatus}
		order.PaymentStatus = *cmd.PaymentStatus
		axisChanged = true
	}

	if cmd.ShippingStatus != nil && *cmd.ShippingStatus != order.ShippingStatus {
		if err := domain.AssertShippingStatusTransition(order.ShippingStatus, *cmd.ShippingStatus); err != nil {
			return Order{}, nil, false, err
		}
		diff["shippingStatus"] = AuditLogDiff{Before: order.ShippingStatus, After: *cmd.ShippingStatus}
		order.ShippingStatus = *cmd.ShippingStatus
		axisChanged = true
		applyShippingTimestamps(&order, now)
	}

	if cmd.IssueInvoice {
		if order.InvoiceIssuedAt == nil {
			setOnce(&order.InvoiceIssuedAt, now)
			diff["invoiceIssuedAt"] = AuditLogDiff{Before: nil, After: now}
		}
		if order.ShippingStatus == domain.ShippingStatusReady || order.ShippingStatus == domain.ShippingStatusPreparing {
			if err := domain.AssertShippingStatusTransition(order.ShippingStatus, domain.ShippingStatusShipped); err != nil {
				return Order{}, nil, false, err
			}
			diff["shippingStatus"] = AuditLogDiff{Before: order.ShippingStatus, After: domain.ShippingStatusShipped}
			order.ShippingStatus = domain.ShippingStatusShipped
			axisChanged = true
			setOnce(&order.ShippedAt, now)
		}
	}

	if cmd.MarkDelivered && order.ShippingStatus != domain.ShippingStatusDelivered {
		if err := domain.AssertShippingStatusTransition(order.ShippingStatus, domain.ShippingStatusDelivered); err != nil {
			return Order{}, nil, false, err
		}
		diff["shippingStatus"] = AuditLogDiff{Before: order.ShippingStatus, After: domain.ShippingStatusDelivered}
		order.ShippingStatus = domain.ShippingStatusDelivered
		axisChanged = true
		setOnce(&order.DeliveredAt, now)
	}

	applyTextField(&order.Recipient, cmd.Recipient, "recipient", 120, diff)
	applyTextField(&order.Address, cmd.Address, "address", 300, diff)
	applyTextField(&order.Courier, cmd.Courier, "courier", 80, diff)
	applyTextField(&order.TrackingNumber, cmd.TrackingNumber, "trackingNumber", 80, diff)

	if cmd.DisplayStatus != nil {
		if *cmd.DisplayStatus != order.DisplayStatus {
			diff["displayStatus"] = AuditLogDiff{Before: order.DisplayStatus, After: *cmd.DisplayStatus}
			order.DisplayStatus = *cmd.DisplayStatus
		}
	} else if axisChanged {
		derived := domain.DeriveDisplayStatus(domain.DisplaySnapshot{
			Status:         order.Status,
			PaymentStatus:  order.PaymentStatus,
			ShippingStatus: order.ShippingStatus,
			HasOpenReturn:  hasOpenReturn,
		})
		if derived != order.DisplayStatus {
			diff["displayStatus"] = AuditLogDiff{Before: order.DisplayStatus, After: derived}
			order.DisplayStatus = derived
		}
	}

	return order, diff, axisChanged, nil
}

func applyShippingTimestamps(order *Order, now time.Time) {
	switch order.ShippingStatus {
	case domain.ShippingStatusShipped:
		setOnce(&order.ShippedAt, now)
	case domain.ShippingStatusDelivered:
		setOnce(&order.DeliveredAt, now)
	}
}

func applyTextField(field *string, value *string, name string, max int, diff map[string]AuditLogDiff) {
	if value == nil {
		return
	}
	next := sanitizeFreeText(*value, max)
	if next == *field {
		return
	}
	diff[name] = AuditLogDiff{Before: *field, After: next}
	*field = next
}

// setOnce writes the timestamp only on first entry into the state.
func setOnce(field **time.Time, now time.Time) {
	if *field == nil {
		ts := now
		*field = &ts
	}
}

func cloneOrderItems(items []OrderItem) []OrderItem {
	cloned := make([]OrderItem, len(items))
	copy(cloned, items)
	for i := range cloned {
		cloned[i].SKU = strings.TrimSpace(cloned[i].SKU)
		if cloned[i].Total == 0 {
			cloned[i].Total = cloned[i].UnitPrice * cloned[i].Quantity
		}
	}
	return cloned
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, "orders", 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("MK-%04d-%06d", now.Year(), seq), nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) recordAudit(ctx context.Context, record AuditLogRecord) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, record)
}

func (s *orderService) publishEvent(ctx context.Context, event LifecycleEvent) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishLifecycleEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
