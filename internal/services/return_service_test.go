package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/mallkit/api/internal/domain"
)

func newReturnServiceForTest(t *testing.T, orders map[string]domain.Order, returns map[string]domain.ReturnRequest, audit *recordingAuditService, publisher *recordingPublisher, clock func() time.Time) ReturnService {
	t.Helper()
	deps := ReturnServiceDeps{
		Returns:     memoryReturnRepository(returns),
		Orders:      memoryOrderRepository(orders),
		Clock:       clock,
		IDGenerator: countingIDs(),
	}
	// Assign optional collaborators only when present so a nil *recordingAuditService
	// never reaches the interface field as a typed nil.
	if audit != nil {
		deps.Audit = audit
	}
	if publisher != nil {
		deps.Events = publisher
	}
	service, err := NewReturnService(deps)
	if err != nil {
		t.Fatalf("unexpected error creating service: %v", err)
	}
	return service
}

func TestReturnServiceCreateDefaultsToOrderTotal(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)

	orders := map[string]domain.Order{
		"ord_1": {
			ID:             "ord_1",
			OrderNumber:    "MK-2024-000001",
			Status:         domain.OrderStatusPaid,
			PaymentStatus:  domain.PaymentStatusApproved,
			ShippingStatus: domain.ShippingStatusShipped,
			DisplayStatus:  domain.DisplayStatusShipping,
			Total:          23000,
		},
	}
	returns := map[string]domain.ReturnRequest{}
	audit := &recordingAuditService{}
	publisher := &recordingPublisher{}
	service := newReturnServiceForTest(t, orders, returns, audit, publisher, func() time.Time { return now })

	request, err := service.Create(ctx, CreateReturnCommand{
		OrderNumber:    "MK-2024-000001",
		Reason:         "defective stitching on the left sleeve",
		Actor:          Actor{ID: "/staff/op-1", Type: "staff"},
		IdempotencyKey: "key-return-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if request.Status != domain.ReturnStatusRequested {
		t.Fatalf("expected REQUESTED, got %s", request.Status)
	}
	if request.RequestedAmount != 23000 {
		t.Fatalf("expected requested amount to default to order total, got %d", request.RequestedAmount)
	}
	if request.OrderID != "ord_1" || request.OrderNumber != "MK-2024-000001" {
		t.Fatalf("unexpected order linkage %s / %s", request.OrderID, request.OrderNumber)
	}
	if _, ok := returns[request.ID]; !ok {
		t.Fatalf("expected return persisted")
	}
	if orders["ord_1"].DisplayStatus != domain.DisplayStatusReturned {
		t.Fatalf("expected order display RETURNED, got %s", orders["ord_1"].DisplayStatus)
	}

	records := audit.all()
	if len(records) != 1 || records[0].Action != "returns.create" {
		t.Fatalf("expected one returns.create audit record, got %#v", records)
	}
	if len(publisher.events) != 1 || publisher.events[0].Type != "return.created" {
		t.Fatalf("expected one return.created event, got %#v", publisher.events)
	}
	if publisher.events[0].ReturnID != request.ID {
		t.Fatalf("expected event return id %s, got %s", request.ID, publisher.events[0].ReturnID)
	}
}

func TestReturnServiceCreateUnknownOrderNumber(t *testing.T) {
	ctx := context.Background()
	service := newReturnServiceForTest(t, map[string]domain.Order{}, map[string]domain.ReturnRequest{}, nil, nil, nil)

	_, err := service.Create(ctx, CreateReturnCommand{
		OrderNumber: "MK-2024-999999",
		Reason:      "wrong size",
	})
	if !errors.Is(err, ErrReturnNotFound) {
		t.Fatalf("expected ErrReturnNotFound, got %v", err)
	}
}

func TestReturnServiceFullRefundWalk(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC)
	current := now

	orders := map[string]domain.Order{
		"ord_1": {
			ID:             "ord_1",
			OrderNumber:    "MK-2024-000001",
			Status:         domain.OrderStatusPaid,
			PaymentStatus:  domain.PaymentStatusApproved,
			ShippingStatus: domain.ShippingStatusDelivered,
			DisplayStatus:  domain.DisplayStatusReturned,
			Total:          23000,
		},
	}
	returns := map[string]domain.ReturnRequest{
		"rtn_1": {
			ID:              "rtn_1",
			OrderID:         "ord_1",
			OrderNumber:     "MK-2024-000001",
			Status:          domain.ReturnStatusRequested,
			Reason:          "defective stitching",
			RequestedAmount: 23000,
		},
	}
	audit := &recordingAuditService{}
	publisher := &recordingPublisher{}
	service := newReturnServiceForTest(t, orders, returns, audit, publisher, func() time.Time { return current })

	operator := Actor{ID: "/staff/op-1", Type: "staff", CanRefund: true}
	walk := []domain.ReturnStatus{
		domain.ReturnStatusApproved,
		domain.ReturnStatusPickupScheduled,
		domain.ReturnStatusReceived,
		domain.ReturnStatusRefunding,
		domain.ReturnStatusRefunded,
	}
	for i, next := range walk {
		current = now.Add(time.Duration(i) * time.Hour)
		if _, err := service.Update(ctx, UpdateReturnCommand{
			ReturnID: "rtn_1",
			Status:   ptr(next),
			Actor:    operator,
		}); err != nil {
			t.Fatalf("step %s: unexpected error: %v", next, err)
		}
	}

	final := returns["rtn_1"]
	if final.Status != domain.ReturnStatusRefunded {
		t.Fatalf("expected REFUNDED, got %s", final.Status)
	}
	if final.ApprovedAt == nil || !final.ApprovedAt.Equal(now) {
		t.Fatalf("expected approvedAt at first step, got %v", final.ApprovedAt)
	}
	if final.ReceivedAt == nil || final.RefundedAt == nil {
		t.Fatalf("expected receivedAt and refundedAt set")
	}

	order := orders["ord_1"]
	if order.Status != domain.OrderStatusRefunded {
		t.Fatalf("expected full refund to move order to REFUNDED, got %s", order.Status)
	}
	if order.PaymentStatus != domain.PaymentStatusCanceled {
		t.Fatalf("expected payment CANCELED, got %s", order.PaymentStatus)
	}
	if order.DisplayStatus != domain.DisplayStatusReturned {
		t.Fatalf("expected display RETURNED, got %s", order.DisplayStatus)
	}

	if len(audit.all()) != len(walk) {
		t.Fatalf("expected %d audit records, got %d", len(walk), len(audit.all()))
	}
	if len(publisher.events) != len(walk) {
		t.Fatalf("expected %d events, got %d", len(walk), len(publisher.events))
	}
}

func TestReturnServicePartialRefundMarksOrderPartialRefunded(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 4, 3, 15, 0, 0, 0, time.UTC)

	orders := map[string]domain.Order{
		"ord_1": {
			ID:            "ord_1",
			Status:        domain.OrderStatusPaid,
			PaymentStatus: domain.PaymentStatusApproved,
			Total:         23000,
		},
	}
	returns := map[string]domain.ReturnRequest{
		"rtn_1": {
			ID:              "rtn_1",
			OrderID:         "ord_1",
			Status:          domain.ReturnStatusRefunding,
			RequestedAmount: 23000,
		},
	}
	service := newReturnServiceForTest(t, orders, returns, nil, nil, func() time.Time { return now })

	updated, err := service.Update(ctx, UpdateReturnCommand{
		ReturnID:       "rtn_1",
		Status:         ptr(domain.ReturnStatusRefunded),
		ApprovedAmount: ptr(int64(9000)),
		Actor:          Actor{ID: "/staff/op-1", Type: "staff", CanRefund: true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.ApprovedAmount == nil || *updated.ApprovedAmount != 9000 {
		t.Fatalf("expected approved amount 9000, got %v", updated.ApprovedAmount)
	}
	if orders["ord_1"].Status != domain.OrderStatusPartialRefunded {
		t.Fatalf("expected PARTIAL_REFUNDED, got %s", orders["ord_1"].Status)
	}
	if orders["ord_1"].PaymentStatus != domain.PaymentStatusCanceled {
		t.Fatalf("expected payment CANCELED, got %s", orders["ord_1"].PaymentStatus)
	}
}

func TestReturnServiceRejectsDirectRefund(t *testing.T) {
	ctx := context.Background()

	orders := map[string]domain.Order{
		"ord_1": {ID: "ord_1", Status: domain.OrderStatusPaid, PaymentStatus: domain.PaymentStatusApproved, Total: 23000},
	}
	returns := map[string]domain.ReturnRequest{
		"rtn_1": {ID: "rtn_1", OrderID: "ord_1", Status: domain.ReturnStatusRequested, RequestedAmount: 23000},
	}
	service := newReturnServiceForTest(t, orders, returns, nil, nil, nil)

	_, err := service.Update(ctx, UpdateReturnCommand{
		ReturnID: "rtn_1",
		Status:   ptr(domain.ReturnStatusRefunded),
		Actor:    Actor{ID: "/staff/op-1", Type: "staff", CanRefund: true},
	})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if returns["rtn_1"].Status != domain.ReturnStatusRequested {
		t.Fatalf("expected return untouched, got %s", returns["rtn_1"].Status)
	}
	if orders["ord_1"].Status != domain.OrderStatusPaid {
		t.Fatalf("expected order untouched, got %s", orders["ord_1"].Status)
	}
}

func TestReturnServiceRefundRequiresCapability(t *testing.T) {
	ctx := context.Background()

	var findCalled bool
	returnRepo := &stubReturnRepository{
		findFunc: func(_ context.Context, returnID string) (domain.ReturnRequest, error) {
			findCalled = true
			return domain.ReturnRequest{ID: returnID, Status: domain.ReturnStatusReceived}, nil
		},
	}
	service, err := NewReturnService(ReturnServiceDeps{
		Returns: returnRepo,
		Orders:  &stubOrderRepository{},
	})
	if err != nil {
		t.Fatalf("unexpected error creating service: %v", err)
	}

	for _, next := range []domain.ReturnStatus{domain.ReturnStatusRefunding, domain.ReturnStatusRefunded} {
		_, err := service.Update(ctx, UpdateReturnCommand{
			ReturnID: "rtn_1",
			Status:   ptr(next),
			Actor:    Actor{ID: "/staff/op-2", Type: "staff"},
		})
		if !errors.Is(err, ErrReturnPermissionDenied) {
			t.Fatalf("%s: expected ErrReturnPermissionDenied, got %v", next, err)
		}
	}
	if findCalled {
		t.Fatalf("expected capability gate to run before any read")
	}
}

func TestReturnServiceDeleteRecordsPriorState(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 4, 5, 12, 0, 0, 0, time.UTC)

	orders := map[string]domain.Order{
		"ord_1": {
			ID:            "ord_1",
			Status:        domain.OrderStatusPaid,
			PaymentStatus: domain.PaymentStatusApproved,
			DisplayStatus: domain.DisplayStatusReturned,
			Total:         23000,
		},
	}
	returns := map[string]domain.ReturnRequest{
		"rtn_1": {
			ID:              "rtn_1",
			OrderID:         "ord_1",
			Status:          domain.ReturnStatusRequested,
			Reason:          "changed mind",
			RequestedAmount: 23000,
		},
	}
	audit := &recordingAuditService{}
	publisher := &recordingPublisher{}
	service := newReturnServiceForTest(t, orders, returns, audit, publisher, func() time.Time { return now })

	if err := service.Delete(ctx, DeleteReturnCommand{
		ReturnID: "rtn_1",
		Actor:    Actor{ID: "/staff/op-1", Type: "staff"},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := returns["rtn_1"]; ok {
		t.Fatalf("expected return removed")
	}

	records := audit.all()
	if len(records) != 1 || records[0].Action != "returns.delete" {
		t.Fatalf("expected one returns.delete audit record, got %#v", records)
	}
	statusDiff, ok := records[0].Diff["status"]
	if !ok || statusDiff.Before != domain.ReturnStatusRequested || statusDiff.After != nil {
		t.Fatalf("expected pre-delete status captured, got %#v", statusDiff)
	}
	reasonDiff := records[0].Diff["reason"]
	if reasonDiff.Before != "changed mind" {
		t.Fatalf("expected pre-delete reason captured, got %#v", reasonDiff)
	}
	if len(publisher.events) != 1 || publisher.events[0].Type != "return.deleted" {
		t.Fatalf("expected one return.deleted event, got %#v", publisher.events)
	}
}

func TestReturnServiceRejectionClearsDisplayOverride(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 4, 6, 11, 0, 0, 0, time.UTC)

	orders := map[string]domain.Order{
		"ord_1": {
			ID:             "ord_1",
			Status:         domain.OrderStatusPaid,
			PaymentStatus:  domain.PaymentStatusApproved,
			ShippingStatus: domain.ShippingStatusDelivered,
			DisplayStatus:  domain.DisplayStatusReturned,
			Total:          23000,
		},
	}
	returns := map[string]domain.ReturnRequest{
		"rtn_1": {
			ID:              "rtn_1",
			OrderID:         "ord_1",
			Status:          domain.ReturnStatusRequested,
			RequestedAmount: 23000,
		},
	}
	service := newReturnServiceForTest(t, orders, returns, nil, nil, func() time.Time { return now })

	updated, err := service.Update(ctx, UpdateReturnCommand{
		ReturnID:       "rtn_1",
		Status:         ptr(domain.ReturnStatusRejected),
		RejectedReason: ptr("outside the return window"),
		Actor:          Actor{ID: "/staff/op-1", Type: "staff"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != domain.ReturnStatusRejected {
		t.Fatalf("expected REJECTED, got %s", updated.Status)
	}

	order := orders["ord_1"]
	if order.DisplayStatus != domain.DisplayStatusDelivered {
		t.Fatalf("expected rejection to hand display back to shipping, got %s", order.DisplayStatus)
	}
	if order.Status != domain.OrderStatusPaid || order.PaymentStatus != domain.PaymentStatusApproved {
		t.Fatalf("expected order axes untouched, got %s / %s", order.Status, order.PaymentStatus)
	}
	if !order.UpdatedAt.Equal(now) {
		t.Fatalf("expected order touch timestamp %v, got %v", now, order.UpdatedAt)
	}
}

func TestReturnServiceCloseKeepsDisplayWhileSiblingOpen(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 4, 6, 14, 0, 0, 0, time.UTC)

	orders := map[string]domain.Order{
		"ord_1": {
			ID:             "ord_1",
			Status:         domain.OrderStatusPaid,
			PaymentStatus:  domain.PaymentStatusApproved,
			ShippingStatus: domain.ShippingStatusDelivered,
			DisplayStatus:  domain.DisplayStatusReturned,
			Total:          23000,
		},
	}
	returns := map[string]domain.ReturnRequest{
		"rtn_1": {ID: "rtn_1", OrderID: "ord_1", Status: domain.ReturnStatusRequested, RequestedAmount: 23000},
		"rtn_2": {ID: "rtn_2", OrderID: "ord_1", Status: domain.ReturnStatusApproved, RequestedAmount: 5000},
	}
	service := newReturnServiceForTest(t, orders, returns, nil, nil, func() time.Time { return now })

	if _, err := service.Update(ctx, UpdateReturnCommand{
		ReturnID: "rtn_1",
		Status:   ptr(domain.ReturnStatusClosed),
		Actor:    Actor{ID: "/staff/op-1", Type: "staff"},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if orders["ord_1"].DisplayStatus != domain.DisplayStatusReturned {
		t.Fatalf("expected open sibling to hold display at RETURNED, got %s", orders["ord_1"].DisplayStatus)
	}

	if _, err := service.Update(ctx, UpdateReturnCommand{
		ReturnID: "rtn_2",
		Status:   ptr(domain.ReturnStatusClosed),
		Actor:    Actor{ID: "/staff/op-1", Type: "staff"},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if orders["ord_1"].DisplayStatus != domain.DisplayStatusDelivered {
		t.Fatalf("expected last close to release display, got %s", orders["ord_1"].DisplayStatus)
	}
}

func TestReturnServiceDeleteClearsDisplayOverride(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 4, 7, 9, 0, 0, 0, time.UTC)

	orders := map[string]domain.Order{
		"ord_1": {
			ID:            "ord_1",
			Status:        domain.OrderStatusPaid,
			PaymentStatus: domain.PaymentStatusApproved,
			DisplayStatus: domain.DisplayStatusReturned,
			Total:         23000,
		},
	}
	returns := map[string]domain.ReturnRequest{
		"rtn_1": {ID: "rtn_1", OrderID: "ord_1", Status: domain.ReturnStatusRequested, RequestedAmount: 23000},
	}
	service := newReturnServiceForTest(t, orders, returns, nil, nil, func() time.Time { return now })

	if err := service.Delete(ctx, DeleteReturnCommand{
		ReturnID: "rtn_1",
		Actor:    Actor{ID: "/staff/op-1", Type: "staff"},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := returns["rtn_1"]; ok {
		t.Fatalf("expected return removed")
	}
	if orders["ord_1"].DisplayStatus != domain.DisplayStatusPaymentCompleted {
		t.Fatalf("expected display re-derived after delete, got %s", orders["ord_1"].DisplayStatus)
	}
}

func TestReturnServiceUpdateNotFound(t *testing.T) {
	ctx := context.Background()
	service := newReturnServiceForTest(t, map[string]domain.Order{}, map[string]domain.ReturnRequest{}, nil, nil, nil)

	_, err := service.Update(ctx, UpdateReturnCommand{
		ReturnID: "rtn_missing",
		Status:   ptr(domain.ReturnStatusApproved),
	})
	if !errors.Is(err, ErrReturnNotFound) {
		t.Fatalf("expected ErrReturnNotFound, got %v", err)
	}
}
