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
	returnEventCreated = "return.created"
	returnEventUpdated = "return.updated"
	returnEventDeleted = "return.deleted"

	returnIDPrefix = "rtn_"

	returnAuditActionCreate = "returns.create"
	returnAuditActionUpdate = "returns.update"
	returnAuditActionDelete = "returns.delete"
)

var (
	// ErrReturnInvalidInput signals the caller provided invalid data.
	ErrReturnInvalidInput = errors.New("return: invalid input")
	// ErrReturnNotFound indicates the return request could not be located.
	ErrReturnNotFound = errors.New("return: not found")
	// ErrReturnConflict indicates concurrent writes or duplicates.
	ErrReturnConflict = errors.New("return: conflict")
	// ErrReturnPermissionDenied indicates the actor lacks the refund-execute
	// capability. This gate is independent of transition validity.
	ErrReturnPermissionDenied = errors.New("return: permission denied")
)

// ReturnServiceDeps bundles collaborators required to construct the return service.
type ReturnServiceDeps struct {
	Returns     repositories.ReturnRepository
	Orders      repositories.OrderRepository
	UnitOfWork  repositories.UnitOfWork
	Audit       AuditLogService
	Clock       func() time.Time
	IDGenerator func() string
	Events      LifecycleEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type returnService struct {
	returns    repositories.ReturnRepository
	orders     repositories.OrderRepository
	unitOfWork repositories.UnitOfWork
	audit      AuditLogService
	clock      func() time.Time
	newID      func() string
	events     LifecycleEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewReturnService wires dependencies into a concrete ReturnService implementation.
func NewReturnService(deps ReturnServiceDeps) (ReturnService, error) {
	if deps.Returns == nil {
		return nil, errors.New("return service: return repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("return service: order repository is required")
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

	return &returnService{
		returns:    deps.Returns,
		orders:     deps.Orders,
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

// Create opens a return case against an order looked up by its order number.
// The requested amount defaults to the order total.
func (s *returnService) Create(ctx context.Context, cmd CreateReturnCommand) (ReturnRequest, error) {
	orderNumber := strings.TrimSpace(cmd.OrderNumber)
	if orderNumber == "" {
		return ReturnRequest{}, fmt.Errorf("%w: order number is required", ErrReturnInvalidInput)
	}
	reason := sanitizeFreeText(cmd.Reason, 500)
	if reason == "" {
		return ReturnRequest{}, fmt.Errorf("%w: reason is required", ErrReturnInvalidInput)
	}
	if cmd.RequestedAmount != nil && *cmd.RequestedAmount <= 0 {
		return ReturnRequest{}, fmt.Errorf("%w: requested amount must be positive", ErrReturnInvalidInput)
	}

	order, err := s.findOrderByNumber(ctx, orderNumber)
	if err != nil {
		return ReturnRequest{}, err
	}

	now := s.now()

	request := ReturnRequest{
		ID:              returnIDPrefix + s.newID(),
		OrderID:         order.ID,
		OrderNumber:     order.OrderNumber,
		Status:          domain.ReturnStatusRequested,
		Reason:          reason,
		RequestedAmount: order.Total,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if cmd.RequestedAmount != nil {
		request.RequestedAmount = *cmd.RequestedAmount
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		// Re-read under the transaction so a concurrent cancellation is seen.
		current, err := s.orders.FindByID(txCtx, order.ID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.returns.Insert(txCtx, request); err != nil {
			return s.mapRepositoryError(err)
		}
		if current.DisplayStatus != domain.DisplayStatusReturned {
			current.DisplayStatus = domain.DeriveDisplayStatus(domain.DisplaySnapshot{
				Status:         current.Status,
				PaymentStatus:  current.PaymentStatus,
				ShippingStatus: current.ShippingStatus,
				HasOpenReturn:  true,
			})
			current.UpdatedAt = now
			if err := s.orders.Update(txCtx, current); err != nil {
				return s.mapRepositoryError(err)
			}
		}
		return nil
	})
	if err != nil {
		return ReturnRequest{}, err
	}

	s.recordAudit(ctx, AuditLogRecord{
		Actor:          cmd.Actor.ID,
		ActorType:      cmd.Actor.Type,
		Action:         returnAuditActionCreate,
		TargetRef:      "returnRequests/" + request.ID,
		IdempotencyKey: cmd.IdempotencyKey,
		OccurredAt:     now,
		Metadata: map[string]any{
			"orderId":         request.OrderID,
			"requestedAmount": request.RequestedAmount,
		},
	})
	s.publishEvent(ctx, LifecycleEvent{
		EventID:        s.newID(),
		Type:           returnEventCreated,
		OrderID:        request.OrderID,
		ReturnID:       request.ID,
		Actor:          cmd.Actor.ID,
		OccurredAt:     now,
		IdempotencyKey: cmd.IdempotencyKey,
	})

	return request, nil
}

// Update transitions a return case and applies optional field changes.
// REFUNDING and REFUNDED require the refund-execute capability regardless of
// transition validity. Reaching REFUNDED propagates the outcome into the
// owning order within the same transaction.
func (s *returnService) Update(ctx context.Context, cmd UpdateReturnCommand) (ReturnRequest, error) {
	returnID := strings.TrimSpace(cmd.ReturnID)
	if returnID == "" {
		return ReturnRequest{}, fmt.Errorf("%w: return id is required", ErrReturnInvalidInput)
	}
	if cmd.ApprovedAmount != nil && *cmd.ApprovedAmount < 0 {
		return ReturnRequest{}, fmt.Errorf("%w: approved amount must be non-negative", ErrReturnInvalidInput)
	}

	if cmd.Status != nil {
		next := *cmd.Status
		if (next == domain.ReturnStatusRefunding || next == domain.ReturnStatusRefunded) && !cmd.Actor.CanRefund {
			return ReturnRequest{}, fmt.Errorf("%w: refund execution requires elevated capability", ErrReturnPermissionDenied)
		}
	}

	now := s.now()

	var (
		updated ReturnRequest
		diff    map[string]AuditLogDiff
	)

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		request, err := s.returns.FindByID(txCtx, returnID)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		diff = map[string]AuditLogDiff{}
		becameRefunded := false
		leftOpenSet := false

		if cmd.Status != nil && *cmd.Status != request.Status {
			if err := domain.AssertReturnStatusTransition(request.Status, *cmd.Status); err != nil {
				return err
			}
			diff["status"] = AuditLogDiff{Before: request.Status, After: *cmd.Status}
			request.Status = *cmd.Status
			becameRefunded = request.Status == domain.ReturnStatusRefunded
			leftOpenSet = !request.IsOpen()
			applyReturnTimestamps(&request, now)
		}

		if cmd.Reason != nil {
			if next := sanitizeFreeText(*cmd.Reason, 500); next != request.Reason {
				diff["reason"] = AuditLogDiff{Before: request.Reason, After: next}
				request.Reason = next
			}
		}
		if cmd.RejectedReason != nil {
			if next := sanitizeFreeText(*cmd.RejectedReason, 500); next != request.RejectedReason {
				diff["rejectedReason"] = AuditLogDiff{Before: request.RejectedReason, After: next}
				request.RejectedReason = next
			}
		}
		if cmd.ApprovedAmount != nil {
			if request.ApprovedAmount == nil || *request.ApprovedAmount != *cmd.ApprovedAmount {
				var before any
				if request.ApprovedAmount != nil {
					before = *request.ApprovedAmount
				}
				diff["approvedAmount"] = AuditLogDiff{Before: before, After: *cmd.ApprovedAmount}
				amount := *cmd.ApprovedAmount
				request.ApprovedAmount = &amount
			}
		}

		// All transaction reads must precede writes, so the owning order is
		// loaded and mutated in memory before either document is written.
		var orderWrite *Order
		if becameRefunded {
			order, err := s.loadRefundedOrder(txCtx, request, now)
			if err != nil {
				return err
			}
			orderWrite = &order
		} else if leftOpenSet {
			order, changed, err := s.resettleOrderDisplay(txCtx, request, false, now)
			if err != nil {
				return err
			}
			if changed {
				orderWrite = &order
			}
		}

		request.UpdatedAt = now
		if err := s.returns.Update(txCtx, request); err != nil {
			return s.mapRepositoryError(err)
		}
		if orderWrite != nil {
			if err := s.orders.Update(txCtx, *orderWrite); err != nil {
				return s.mapRepositoryError(err)
			}
		}

		updated = request
		return nil
	})
	if err != nil {
		return ReturnRequest{}, err
	}

	if len(diff) > 0 {
		s.recordAudit(ctx, AuditLogRecord{
			Actor:          cmd.Actor.ID,
			ActorType:      cmd.Actor.Type,
			Action:         returnAuditActionUpdate,
			TargetRef:      "returnRequests/" + updated.ID,
			IdempotencyKey: cmd.IdempotencyKey,
			OccurredAt:     now,
			Diff:           diff,
		})
		s.publishEvent(ctx, LifecycleEvent{
			EventID:        s.newID(),
			Type:           returnEventUpdated,
			OrderID:        updated.OrderID,
			ReturnID:       updated.ID,
			Actor:          cmd.Actor.ID,
			OccurredAt:     now,
			IdempotencyKey: cmd.IdempotencyKey,
		})
	}

	return updated, nil
}

// loadRefundedOrder reads the owning order and applies the terminal refund
// outcome in memory. One-way: the return engine writes to the order, never
// the reverse.
func (s *returnService) loadRefundedOrder(ctx context.Context, request ReturnRequest, now time.Time) (Order, error) {
	order, err := s.orders.FindByID(ctx, request.OrderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	refunded := request.RequestedAmount
	if request.ApprovedAmount != nil {
		refunded = *request.ApprovedAmount
	}

	target := domain.OrderStatusPartialRefunded
	if refunded >= order.Total {
		target = domain.OrderStatusRefunded
	}

	if order.Status != target {
		if err := domain.AssertOrderStatusTransition(order.Status, target); err != nil {
			return Order{}, err
		}
		order.Status = target
	}
	if order.PaymentStatus != domain.PaymentStatusCanceled {
		if err := domain.AssertPaymentStatusTransition(order.PaymentStatus, domain.PaymentStatusCanceled); err != nil {
			return Order{}, err
		}
		order.PaymentStatus = domain.PaymentStatusCanceled
	}
	order.DisplayStatus = domain.DisplayStatusReturned
	order.UpdatedAt = now

	return order, nil
}

// resettleOrderDisplay re-derives the owning order's display status after a
// return case stops being open. The mutated case replaces its stored copy in
// the sibling set (or is dropped entirely when removed), so the derivation
// sees the post-write state of the collection.
func (s *returnService) resettleOrderDisplay(ctx context.Context, request ReturnRequest, removed bool, now time.Time) (Order, bool, error) {
	order, err := s.orders.FindByID(ctx, request.OrderID)
	if err != nil {
		return Order{}, false, s.mapRepositoryError(err)
	}
	siblings, err := s.returns.ListByOrder(ctx, request.OrderID)
	if err != nil {
		return Order{}, false, s.mapRepositoryError(err)
	}

	cases := make([]ReturnRequest, 0, len(siblings)+1)
	for _, sibling := range siblings {
		if sibling.ID == request.ID {
			continue
		}
		cases = append(cases, sibling)
	}
	if !removed {
		cases = append(cases, request)
	}

	next := domain.DeriveDisplayStatus(domain.DisplaySnapshotOf(order, cases))
	if next == order.DisplayStatus {
		return Order{}, false, nil
	}
	order.DisplayStatus = next
	order.UpdatedAt = now
	return order, true, nil
}

// Delete hard-deletes a return case for operator correction, capturing the
// pre-delete state in the audit trail.
func (s *returnService) Delete(ctx context.Context, cmd DeleteReturnCommand) error {
	returnID := strings.TrimSpace(cmd.ReturnID)
	if returnID == "" {
		return fmt.Errorf("%w: return id is required", ErrReturnInvalidInput)
	}

	now := s.now()

	var deleted ReturnRequest

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		request, err := s.returns.FindByID(txCtx, returnID)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		// Removing an open case can clear the RETURNED override, so the
		// owning order is re-derived before any write happens.
		var orderWrite *Order
		if request.IsOpen() {
			order, changed, err := s.resettleOrderDisplay(txCtx, request, true, now)
			if err != nil {
				return err
			}
			if changed {
				orderWrite = &order
			}
		}

		if err := s.returns.Delete(txCtx, returnID); err != nil {
			return s.mapRepositoryError(err)
		}
		if orderWrite != nil {
			if err := s.orders.Update(txCtx, *orderWrite); err != nil {
				return s.mapRepositoryError(err)
			}
		}
		deleted = request
		return nil
	})
	if err != nil {
		return err
	}

	var approved any
	if deleted.ApprovedAmount != nil {
		approved = *deleted.ApprovedAmount
	}
	s.recordAudit(ctx, AuditLogRecord{
		Actor:          cmd.Actor.ID,
		ActorType:      cmd.Actor.Type,
		Action:         returnAuditActionDelete,
		TargetRef:      "returnRequests/" + deleted.ID,
		IdempotencyKey: cmd.IdempotencyKey,
		OccurredAt:     now,
		Diff: map[string]AuditLogDiff{
			"status":          {Before: deleted.Status, After: nil},
			"reason":          {Before: deleted.Reason, After: nil},
			"requestedAmount": {Before: deleted.RequestedAmount, After: nil},
			"approvedAmount":  {Before: approved, After: nil},
		},
		Metadata: map[string]any{
			"orderId": deleted.OrderID,
		},
	})
	s.publishEvent(ctx, LifecycleEvent{
		EventID:        s.newID(),
		Type:           returnEventDeleted,
		OrderID:        deleted.OrderID,
		ReturnID:       deleted.ID,
		Actor:          cmd.Actor.ID,
		OccurredAt:     now,
		IdempotencyKey: cmd.IdempotencyKey,
	})

	return nil
}

func (s *returnService) Get(ctx context.Context, returnID string) (ReturnRequest, error) {
	returnID = strings.TrimSpace(returnID)
	if returnID == "" {
		return ReturnRequest{}, fmt.Errorf("%w: return id is required", ErrReturnInvalidInput)
	}
	request, err := s.returns.FindByID(ctx, returnID)
	if err != nil {
		return ReturnRequest{}, s.mapRepositoryError(err)
	}
	return request, nil
}

func (s *returnService) List(ctx context.Context, filter ReturnListFilter) (domain.CursorPage[ReturnRequest], error) {
	page, err := s.returns.List(ctx, repositories.ReturnListFilter{
		OrderID:    strings.TrimSpace(filter.OrderID),
		Status:     filter.Status,
		DateRange:  filter.DateRange,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[ReturnRequest]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// applyReturnTimestamps sets the per-state timestamp on first entry only; a
// later pass through the same status never overwrites it.
func applyReturnTimestamps(request *ReturnRequest, now time.Time) {
	switch request.Status {
	case domain.ReturnStatusApproved:
		setOnce(&request.ApprovedAt, now)
	case domain.ReturnStatusReceived:
		setOnce(&request.ReceivedAt, now)
	case domain.ReturnStatusRefunded:
		setOnce(&request.RefundedAt, now)
	case domain.ReturnStatusClosed:
		setOnce(&request.ClosedAt, now)
	}
}

func (s *returnService) findOrderByNumber(ctx context.Context, orderNumber string) (Order, error) {
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		OrderNumber: orderNumber,
		Pagination:  domain.Pagination{PageSize: 1},
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if len(page.Items) == 0 {
		return Order{}, fmt.Errorf("%w: order %s", ErrReturnNotFound, orderNumber)
	}
	return page.Items[0], nil
}

func (s *returnService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrReturnNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrReturnConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("return: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *returnService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *returnService) now() time.Time {
	return s.clock()
}

func (s *returnService) recordAudit(ctx context.Context, record AuditLogRecord) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, record)
}

func (s *returnService) publishEvent(ctx context.Context, event LifecycleEvent) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishLifecycleEvent(ctx, event); err != nil {
		s.logger(ctx, "return.event.publish.failed", map[string]any{
			"type":   event.Type,
			"return": event.ReturnID,
			"error":  err.Error(),
		})
	}
}
