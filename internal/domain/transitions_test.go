package domain

import (
	"errors"
	"testing"
)

var allOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusPaid,
	OrderStatusFailed,
	OrderStatusCanceled,
	OrderStatusPartialRefunded,
	OrderStatusRefunded,
}

var allPaymentStatuses = []PaymentStatus{
	PaymentStatusUnpaid,
	PaymentStatusReady,
	PaymentStatusApproved,
	PaymentStatusFailed,
	PaymentStatusCanceled,
}

var allShippingStatuses = []ShippingStatus{
	ShippingStatusReady,
	ShippingStatusPreparing,
	ShippingStatusShipped,
	ShippingStatusDelivered,
}

var allReturnStatuses = []ReturnStatus{
	ReturnStatusRequested,
	ReturnStatusApproved,
	ReturnStatusPickupScheduled,
	ReturnStatusReceived,
	ReturnStatusRefunding,
	ReturnStatusRefunded,
	ReturnStatusRejected,
	ReturnStatusClosed,
}

var allTransferStatuses = []TransferStatus{
	TransferStatusRequested,
	TransferStatusApproved,
	TransferStatusRejected,
}

func contains[S comparable](values []S, target S) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func TestAssertOrderStatusTransitionExhaustive(t *testing.T) {
	allowed := map[OrderStatus][]OrderStatus{
		OrderStatusPending:         {OrderStatusPaid, OrderStatusFailed, OrderStatusCanceled},
		OrderStatusPaid:            {OrderStatusCanceled, OrderStatusPartialRefunded, OrderStatusRefunded},
		OrderStatusFailed:          {OrderStatusPending, OrderStatusCanceled},
		OrderStatusPartialRefunded: {OrderStatusRefunded},
	}

	for _, current := range allOrderStatuses {
		for _, next := range allOrderStatuses {
			err := AssertOrderStatusTransition(current, next)
			wantOK := current == next || contains(allowed[current], next)
			if wantOK && err != nil {
				t.Errorf("%s -> %s: unexpected error %v", current, next, err)
			}
			if !wantOK && err == nil {
				t.Errorf("%s -> %s: expected rejection", current, next)
			}
		}
	}
}

func TestAssertPaymentStatusTransitionExhaustive(t *testing.T) {
	allowed := map[PaymentStatus][]PaymentStatus{
		PaymentStatusUnpaid:   {PaymentStatusReady, PaymentStatusApproved, PaymentStatusFailed},
		PaymentStatusReady:    {PaymentStatusApproved, PaymentStatusFailed, PaymentStatusCanceled},
		PaymentStatusApproved: {PaymentStatusCanceled},
		PaymentStatusFailed:   {PaymentStatusReady, PaymentStatusCanceled},
	}

	for _, current := range allPaymentStatuses {
		for _, next := range allPaymentStatuses {
			err := AssertPaymentStatusTransition(current, next)
			wantOK := current == next || contains(allowed[current], next)
			if wantOK && err != nil {
				t.Errorf("%s -> %s: unexpected error %v", current, next, err)
			}
			if !wantOK && err == nil {
				t.Errorf("%s -> %s: expected rejection", current, next)
			}
		}
	}
}

func TestAssertShippingStatusTransitionExhaustive(t *testing.T) {
	allowed := map[ShippingStatus][]ShippingStatus{
		ShippingStatusReady:     {ShippingStatusPreparing, ShippingStatusShipped},
		ShippingStatusPreparing: {ShippingStatusShipped},
		ShippingStatusShipped:   {ShippingStatusDelivered},
	}

	for _, current := range allShippingStatuses {
		for _, next := range allShippingStatuses {
			err := AssertShippingStatusTransition(current, next)
			wantOK := current == next || contains(allowed[current], next)
			if wantOK && err != nil {
				t.Errorf("%s -> %s: unexpected error %v", current, next, err)
			}
			if !wantOK && err == nil {
				t.Errorf("%s -> %s: expected rejection", current, next)
			}
		}
	}
}

func TestAssertReturnStatusTransitionExhaustive(t *testing.T) {
	allowed := map[ReturnStatus][]ReturnStatus{
		ReturnStatusRequested:       {ReturnStatusApproved, ReturnStatusRejected, ReturnStatusClosed},
		ReturnStatusApproved:        {ReturnStatusPickupScheduled, ReturnStatusRejected, ReturnStatusClosed},
		ReturnStatusPickupScheduled: {ReturnStatusReceived, ReturnStatusRejected, ReturnStatusClosed},
		ReturnStatusReceived:        {ReturnStatusRefunding, ReturnStatusRejected, ReturnStatusClosed},
		ReturnStatusRefunding:       {ReturnStatusRefunded, ReturnStatusRejected, ReturnStatusClosed},
		ReturnStatusRefunded:        {ReturnStatusClosed},
		ReturnStatusRejected:        {ReturnStatusClosed},
	}

	for _, current := range allReturnStatuses {
		for _, next := range allReturnStatuses {
			err := AssertReturnStatusTransition(current, next)
			wantOK := current == next || contains(allowed[current], next)
			if wantOK && err != nil {
				t.Errorf("%s -> %s: unexpected error %v", current, next, err)
			}
			if !wantOK && err == nil {
				t.Errorf("%s -> %s: expected rejection", current, next)
			}
		}
	}
}

func TestAssertTransferStatusTransitionTerminal(t *testing.T) {
	for _, current := range []TransferStatus{TransferStatusApproved, TransferStatusRejected} {
		for _, next := range allTransferStatuses {
			err := AssertTransferStatusTransition(current, next)
			if current == next {
				if err != nil {
					t.Errorf("%s -> %s: no-op should be allowed, got %v", current, next, err)
				}
				continue
			}
			if err == nil {
				t.Errorf("%s -> %s: terminal state must not transition", current, next)
			}
		}
	}

	if err := AssertTransferStatusTransition(TransferStatusRequested, TransferStatusApproved); err != nil {
		t.Fatalf("REQUESTED -> APPROVED: unexpected error %v", err)
	}
	if err := AssertTransferStatusTransition(TransferStatusRequested, TransferStatusRejected); err != nil {
		t.Fatalf("REQUESTED -> REJECTED: unexpected error %v", err)
	}
}

func TestInvalidTransitionErrorCarriesPair(t *testing.T) {
	err := AssertReturnStatusTransition(ReturnStatusRequested, ReturnStatusRefunded)
	if err == nil {
		t.Fatal("REQUESTED -> REFUNDED must be rejected: REFUNDING has to precede REFUNDED")
	}
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected *InvalidTransitionError, got %T", err)
	}
	if ite.Label != "return.status" {
		t.Errorf("unexpected label %q", ite.Label)
	}
	if ite.Current != "REQUESTED" || ite.Next != "REFUNDED" {
		t.Errorf("unexpected pair %s -> %s", ite.Current, ite.Next)
	}
	if got, want := ite.Error(), "return.status: REQUESTED -> REFUNDED"; got != want {
		t.Errorf("message = %q, want %q", got, want)
	}
}
