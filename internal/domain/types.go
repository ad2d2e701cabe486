package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus describes the business lifecycle axis of an order.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits payment settlement.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusPaid indicates payment settled and stock was deducted.
	OrderStatusPaid OrderStatus = "PAID"
	// OrderStatusFailed indicates the payment attempt failed.
	OrderStatusFailed OrderStatus = "FAILED"
	// OrderStatusCanceled indicates the order was canceled; terminal.
	OrderStatusCanceled OrderStatus = "CANCELED"
	// OrderStatusPartialRefunded indicates part of the order total was refunded.
	OrderStatusPartialRefunded OrderStatus = "PARTIAL_REFUNDED"
	// OrderStatusRefunded indicates the full order total was refunded; terminal.
	OrderStatusRefunded OrderStatus = "REFUNDED"
)

// PaymentStatus describes the payment axis of an order, independent of the
// business lifecycle axis.
type PaymentStatus string

const (
	// PaymentStatusUnpaid indicates no payment attempt has been registered.
	PaymentStatusUnpaid PaymentStatus = "UNPAID"
	// PaymentStatusReady indicates a payment attempt awaits confirmation.
	PaymentStatusReady PaymentStatus = "READY"
	// PaymentStatusApproved indicates the payment settled.
	PaymentStatusApproved PaymentStatus = "APPROVED"
	// PaymentStatusFailed indicates the payment attempt failed.
	PaymentStatusFailed PaymentStatus = "FAILED"
	// PaymentStatusCanceled indicates the payment was voided or refunded; terminal.
	PaymentStatusCanceled PaymentStatus = "CANCELED"
)

// ShippingStatus describes the fulfilment axis of an order.
type ShippingStatus string

const (
	// ShippingStatusReady indicates fulfilment has not started.
	ShippingStatusReady ShippingStatus = "READY"
	// ShippingStatusPreparing indicates the parcel is being packed.
	ShippingStatusPreparing ShippingStatus = "PREPARING"
	// ShippingStatusShipped indicates the parcel left the warehouse.
	ShippingStatusShipped ShippingStatus = "SHIPPED"
	// ShippingStatusDelivered indicates the parcel reached the recipient; terminal.
	ShippingStatusDelivered ShippingStatus = "DELIVERED"
)

// DisplayStatus is the composite, display-only status derived from the three
// independent axes plus return existence. It is never a source of truth.
type DisplayStatus string

const (
	// DisplayStatusPaymentPending is shown while payment has not settled.
	DisplayStatusPaymentPending DisplayStatus = "PAYMENT_PENDING"
	// DisplayStatusPaymentCompleted is shown once payment settled and before shipping.
	DisplayStatusPaymentCompleted DisplayStatus = "PAYMENT_COMPLETED"
	// DisplayStatusShipping is shown while the parcel is in transit.
	DisplayStatusShipping DisplayStatus = "SHIPPING"
	// DisplayStatusDelivered is shown after delivery.
	DisplayStatusDelivered DisplayStatus = "DELIVERED"
	// DisplayStatusReturned is shown while any live return case exists.
	DisplayStatusReturned DisplayStatus = "RETURNED"
	// DisplayStatusCanceled is shown for canceled orders that had settled payment.
	DisplayStatusCanceled DisplayStatus = "CANCELED"
	// DisplayStatusUnpaidCanceled is shown for orders canceled before payment.
	DisplayStatusUnpaidCanceled DisplayStatus = "UNPAID_CANCELED"
)

// ReturnStatus describes the lifecycle of a return/refund case.
type ReturnStatus string

const (
	// ReturnStatusRequested is the initial state of a return case.
	ReturnStatusRequested ReturnStatus = "REQUESTED"
	// ReturnStatusApproved indicates an operator accepted the case.
	ReturnStatusApproved ReturnStatus = "APPROVED"
	// ReturnStatusPickupScheduled indicates collection of the items was arranged.
	ReturnStatusPickupScheduled ReturnStatus = "PICKUP_SCHEDULED"
	// ReturnStatusReceived indicates the returned items arrived back.
	ReturnStatusReceived ReturnStatus = "RECEIVED"
	// ReturnStatusRefunding indicates the refund is being executed.
	ReturnStatusRefunding ReturnStatus = "REFUNDING"
	// ReturnStatusRefunded indicates the refund settled.
	ReturnStatusRefunded ReturnStatus = "REFUNDED"
	// ReturnStatusRejected indicates the case was declined.
	ReturnStatusRejected ReturnStatus = "REJECTED"
	// ReturnStatusClosed is the absorbing terminal state.
	ReturnStatusClosed ReturnStatus = "CLOSED"
)

// TransferStatus describes a bank transfer claim; APPROVED and REJECTED are terminal.
type TransferStatus string

const (
	// TransferStatusRequested indicates the claim awaits operator review.
	TransferStatusRequested TransferStatus = "REQUESTED"
	// TransferStatusApproved indicates the wire was confirmed and the order settled.
	TransferStatusApproved TransferStatus = "APPROVED"
	// TransferStatusRejected indicates the claim was declined.
	TransferStatusRejected TransferStatus = "REJECTED"
)

// PaymentProvider tags a payment transaction with its settlement path.
type PaymentProvider string

const (
	// PaymentProviderGateway marks transactions settled through the card gateway.
	PaymentProviderGateway PaymentProvider = "GATEWAY"
	// PaymentProviderBankTransfer marks transactions settled by manual wire.
	PaymentProviderBankTransfer PaymentProvider = "BANK_TRANSFER"
)

// OrderItem is one purchased line within an order.
type OrderItem struct {
	SKU        string
	ProductRef string
	OptionRef  string
	Name       string
	Quantity   int64
	UnitPrice  int64
	Total      int64
}

// Order is one purchase transaction; the aggregation root for returns,
// payment transactions, and bank transfer requests.
type Order struct {
	ID              string
	OrderNumber     string
	UserRef         string
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	ShippingStatus  ShippingStatus
	DisplayStatus   DisplayStatus
	Subtotal        int64
	ShippingFee     int64
	Discount        int64
	Total           int64
	Items           []OrderItem
	Recipient       string
	Address         string
	Courier         string
	TrackingNumber  string
	Memo            string
	InvoiceIssuedAt *time.Time
	PaidAt          *time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CanceledAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ReturnRequest is one return/refund case referencing exactly one order.
type ReturnRequest struct {
	ID              string
	OrderID         string
	OrderNumber     string
	Status          ReturnStatus
	Reason          string
	RejectedReason  string
	RequestedAmount int64
	ApprovedAmount  *int64
	ApprovedAt      *time.Time
	ReceivedAt      *time.Time
	RefundedAt      *time.Time
	ClosedAt        *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsOpen reports whether the case still overrides the order's display status.
// Rejected and closed cases no longer count as live returns.
func (r ReturnRequest) IsOpen() bool {
	return r.Status != ReturnStatusRejected && r.Status != ReturnStatusClosed
}

// PaymentTransaction is one append-only payment attempt record.
type PaymentTransaction struct {
	ID         string
	OrderID    string
	Provider   PaymentProvider
	Status     PaymentStatus
	Amount     int64
	PaymentKey string
	ApprovedAt *time.Time
	CreatedAt  time.Time
}

// BankAccount is the wire destination snapshotted into each transfer request.
type BankAccount struct {
	BankName      string
	AccountNumber string
	Holder        string
}

// BankTransferRequest is one manual wire claim against an order. The bank
// account is frozen at creation time; later config edits do not change it.
type BankTransferRequest struct {
	ID             string
	OrderID        string
	OrderNumber    string
	Status         TransferStatus
	DepositorName  string
	TransferAmount int64
	BankAccount    BankAccount
	RejectedReason string
	DecidedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Stock tracks sellable inventory for one SKU.
type Stock struct {
	SKU       string
	OnHand    int64
	Reserved  int64
	UpdatedAt time.Time
}

// Available returns the sellable quantity.
func (s Stock) Available() int64 {
	return s.OnHand - s.Reserved
}

// AuditLogDiff captures a single field change recorded in an audit entry.
type AuditLogDiff struct {
	Before any
	After  any
}

// AuditLogEntry records one privileged mutation; append-only.
type AuditLogEntry struct {
	ID             string
	Actor          string
	ActorType      string
	Action         string
	TargetRef      string
	IdempotencyKey string
	Diff           map[string]AuditLogDiff
	Metadata       map[string]any
	CreatedAt      time.Time
}
