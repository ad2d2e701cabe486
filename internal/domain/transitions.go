package domain

import "fmt"

// ErrInvalidTransition is the sentinel wrapped by InvalidTransitionError; use
// errors.Is against it when the label and attempted pair are not needed.
var ErrInvalidTransition = fmt.Errorf("invalid transition")

// InvalidTransitionError reports a state-machine violation together with the
// entity label and the attempted pair, so callers can render
// "current -> next" in a stable machine-readable form.
type InvalidTransitionError struct {
	Label   string
	Current string
	Next    string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", e.Label, e.Current, e.Next)
}

// Unwrap allows errors.Is(err, ErrInvalidTransition).
func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// Transition tables are pure static data. Absent keys are terminal states.

var orderStatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:         {OrderStatusPaid, OrderStatusFailed, OrderStatusCanceled},
	OrderStatusPaid:            {OrderStatusCanceled, OrderStatusPartialRefunded, OrderStatusRefunded},
	OrderStatusFailed:          {OrderStatusPending, OrderStatusCanceled},
	OrderStatusPartialRefunded: {OrderStatusRefunded},
	OrderStatusCanceled:        {},
	OrderStatusRefunded:        {},
}

var paymentStatusTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusUnpaid:   {PaymentStatusReady, PaymentStatusApproved, PaymentStatusFailed},
	PaymentStatusReady:    {PaymentStatusApproved, PaymentStatusFailed, PaymentStatusCanceled},
	PaymentStatusApproved: {PaymentStatusCanceled},
	PaymentStatusFailed:   {PaymentStatusReady, PaymentStatusCanceled},
	PaymentStatusCanceled: {},
}

var shippingStatusTransitions = map[ShippingStatus][]ShippingStatus{
	ShippingStatusReady:     {ShippingStatusPreparing, ShippingStatusShipped},
	ShippingStatusPreparing: {ShippingStatusShipped},
	ShippingStatusShipped:   {ShippingStatusDelivered},
	ShippingStatusDelivered: {},
}

var returnStatusTransitions = map[ReturnStatus][]ReturnStatus{
	ReturnStatusRequested:       {ReturnStatusApproved, ReturnStatusRejected, ReturnStatusClosed},
	ReturnStatusApproved:        {ReturnStatusPickupScheduled, ReturnStatusRejected, ReturnStatusClosed},
	ReturnStatusPickupScheduled: {ReturnStatusReceived, ReturnStatusRejected, ReturnStatusClosed},
	ReturnStatusReceived:        {ReturnStatusRefunding, ReturnStatusRejected, ReturnStatusClosed},
	ReturnStatusRefunding:       {ReturnStatusRefunded, ReturnStatusRejected, ReturnStatusClosed},
	ReturnStatusRefunded:        {ReturnStatusClosed},
	ReturnStatusRejected:        {ReturnStatusClosed},
	ReturnStatusClosed:          {},
}

var transferStatusTransitions = map[TransferStatus][]TransferStatus{
	TransferStatusRequested: {TransferStatusApproved, TransferStatusRejected},
	TransferStatusApproved:  {},
	TransferStatusRejected:  {},
}

func assertTransition[S ~string](current, next S, table map[S][]S, label string) error {
	if current == next {
		return nil
	}
	for _, allowed := range table[current] {
		if allowed == next {
			return nil
		}
	}
	return &InvalidTransitionError{
		Label:   label,
		Current: string(current),
		Next:    string(next),
	}
}

// AssertOrderStatusTransition validates an order lifecycle change.
// Re-asserting the current status is an allowed no-op.
func AssertOrderStatusTransition(current, next OrderStatus) error {
	return assertTransition(current, next, orderStatusTransitions, "order.status")
}

// AssertPaymentStatusTransition validates a payment axis change.
func AssertPaymentStatusTransition(current, next PaymentStatus) error {
	return assertTransition(current, next, paymentStatusTransitions, "order.payment_status")
}

// AssertShippingStatusTransition validates a fulfilment axis change.
func AssertShippingStatusTransition(current, next ShippingStatus) error {
	return assertTransition(current, next, shippingStatusTransitions, "order.shipping_status")
}

// AssertReturnStatusTransition validates a return case change.
func AssertReturnStatusTransition(current, next ReturnStatus) error {
	return assertTransition(current, next, returnStatusTransitions, "return.status")
}

// AssertTransferStatusTransition validates a bank transfer claim change.
func AssertTransferStatusTransition(current, next TransferStatus) error {
	return assertTransition(current, next, transferStatusTransitions, "bank_transfer.status")
}
