package services

import (
	"context"
	"time"

	domain "github.com/mallkit/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination          = domain.Pagination
	Order               = domain.Order
	OrderItem           = domain.OrderItem
	OrderStatus         = domain.OrderStatus
	PaymentStatus       = domain.PaymentStatus
	ShippingStatus      = domain.ShippingStatus
	DisplayStatus       = domain.DisplayStatus
	ReturnRequest       = domain.ReturnRequest
	ReturnStatus        = domain.ReturnStatus
	PaymentTransaction  = domain.PaymentTransaction
	PaymentProvider     = domain.PaymentProvider
	BankAccount         = domain.BankAccount
	BankTransferRequest = domain.BankTransferRequest
	TransferStatus      = domain.TransferStatus
	AuditLogEntry       = domain.AuditLogEntry
	AuditLogDiff        = domain.AuditLogDiff
	SystemHealthReport  = domain.SystemHealthReport
)

// Actor identifies the principal performing a mutation for audit purposes.
type Actor struct {
	ID        string
	Type      string
	CanRefund bool
}

// LifecycleEvent is published after a lifecycle mutation commits. Empty
// fields are omitted from message attributes.
type LifecycleEvent struct {
	EventID        string         `json:"eventId"`
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId,omitempty"`
	ReturnID       string         `json:"returnId,omitempty"`
	TransferID     string         `json:"transferId,omitempty"`
	Actor          string         `json:"actor,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// LifecycleEventPublisher delivers lifecycle events to downstream consumers.
// Publish failures are logged by callers and never abort the mutation.
type LifecycleEventPublisher interface {
	PublishLifecycleEvent(ctx context.Context, event LifecycleEvent) (string, error)
}

// OrderService owns the order patch engine and order reads.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (OrderDetail, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	ApplyPatch(ctx context.Context, cmd OrderPatchCommand) (Order, error)
}

// ReturnService governs return request creation, transitions, and deletion.
type ReturnService interface {
	Create(ctx context.Context, cmd CreateReturnCommand) (ReturnRequest, error)
	Update(ctx context.Context, cmd UpdateReturnCommand) (ReturnRequest, error)
	Delete(ctx context.Context, cmd DeleteReturnCommand) error
	Get(ctx context.Context, returnID string) (ReturnRequest, error)
	List(ctx context.Context, filter ReturnListFilter) (domain.CursorPage[ReturnRequest], error)
}

// BankTransferService handles the manual wire payment path including settlement.
type BankTransferService interface {
	Create(ctx context.Context, cmd CreateBankTransferCommand) (BankTransferRequest, error)
	Approve(ctx context.Context, cmd DecideBankTransferCommand) (BankTransferRequest, error)
	Reject(ctx context.Context, cmd DecideBankTransferCommand) (BankTransferRequest, error)
	Get(ctx context.Context, requestID string) (BankTransferRequest, error)
	List(ctx context.Context, filter BankTransferListFilter) (domain.CursorPage[BankTransferRequest], error)
}

// PaymentService processes gateway settlement notifications.
type PaymentService interface {
	RecordWebhookEvent(ctx context.Context, cmd PaymentWebhookCommand) error
	ListPayments(ctx context.Context, orderID string) ([]PaymentTransaction, error)
}

// BankingService exposes the mutable wire destination account that each
// transfer request snapshots at creation.
type BankingService interface {
	GetAccount(ctx context.Context) (BankAccount, error)
	UpdateAccount(ctx context.Context, cmd UpdateBankAccountCommand) (BankAccount, error)
}

// AuditLogService centralizes immutable audit log persistence and retrieval.
type AuditLogService interface {
	Record(ctx context.Context, record AuditLogRecord)
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
}

// SystemService aggregates utility endpoints (health checks, build metadata).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	Build() BuildInfo
}

// Commands and filters --------------------------------------------------------

// CreateOrderCommand captures a manually registered order. The order number
// is generated when left empty.
type CreateOrderCommand struct {
	UserRef        string
	Items          []OrderItem
	Subtotal       int64
	ShippingFee    int64
	Discount       int64
	Total          int64
	Recipient      string
	Address        string
	Actor          Actor
	IdempotencyKey string
}

// OrderPatchCommand names the fields an admin PATCH may change. Nil pointers
// mean "not present in the patch".
type OrderPatchCommand struct {
	OrderID        string
	Status         *OrderStatus
	PaymentStatus  *PaymentStatus
	ShippingStatus *ShippingStatus
	DisplayStatus  *DisplayStatus
	Recipient      *string
	Address        *string
	Courier        *string
	TrackingNumber *string
	IssueInvoice   bool
	MarkDelivered  bool
	Actor          Actor
	IdempotencyKey string
}

// OrderDetail bundles an order with its payment and return children.
type OrderDetail struct {
	Order    Order
	Payments []PaymentTransaction
	Returns  []ReturnRequest
}

type OrderListFilter struct {
	UserRef       string
	Status        []OrderStatus
	PaymentStatus []PaymentStatus
	DisplayStatus []DisplayStatus
	OrderNumber   string
	DateRange     domain.RangeQuery[time.Time]
	Pagination    Pagination
}

type CreateReturnCommand struct {
	OrderNumber     string
	Reason          string
	RequestedAmount *int64
	Actor           Actor
	IdempotencyKey  string
}

// UpdateReturnCommand transitions a return and optionally adjusts its fields.
type UpdateReturnCommand struct {
	ReturnID       string
	Status         *ReturnStatus
	Reason         *string
	ApprovedAmount *int64
	RejectedReason *string
	Actor          Actor
	IdempotencyKey string
}

type DeleteReturnCommand struct {
	ReturnID       string
	Actor          Actor
	IdempotencyKey string
}

type ReturnListFilter struct {
	OrderID    string
	Status     []ReturnStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination Pagination
}

type CreateBankTransferCommand struct {
	OrderNumber    string
	DepositorName  string
	Actor          Actor
	IdempotencyKey string
}

// DecideBankTransferCommand approves or rejects a pending transfer request.
// Reason is required for rejection and ignored on approval.
type DecideBankTransferCommand struct {
	RequestID      string
	Reason         string
	Actor          Actor
	IdempotencyKey string
}

type BankTransferListFilter struct {
	OrderID    string
	Status     []TransferStatus
	Depositor  string
	DateRange  domain.RangeQuery[time.Time]
	Pagination Pagination
}

// PaymentWebhookCommand carries a provider-agnostic settlement notification.
type PaymentWebhookCommand struct {
	Provider   PaymentProvider
	OrderID    string
	PaymentKey string
	Amount     int64
	Status     PaymentStatus
	OccurredAt time.Time
}

type UpdateBankAccountCommand struct {
	Account        BankAccount
	Actor          Actor
	IdempotencyKey string
}

// AuditLogRecord defines the payload accepted by the audit writer service.
type AuditLogRecord struct {
	Actor                 string
	ActorType             string
	Action                string
	TargetRef             string
	IdempotencyKey        string
	OccurredAt            time.Time
	Metadata              map[string]any
	Diff                  map[string]AuditLogDiff
	SensitiveMetadataKeys []string
	SensitiveDiffKeys     []string
}

type AuditLogFilter struct {
	TargetRef  string
	Actor      string
	ActorType  string
	Action     string
	DateRange  domain.RangeQuery[time.Time]
	Pagination Pagination
}

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}
