package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/mallkit/api/internal/domain"
	"github.com/mallkit/api/internal/repositories"
)

// ErrOutOfStock indicates a settlement found insufficient stock for at least
// one order line. No deduction is persisted when this is returned.
var ErrOutOfStock = errors.New("settlement: out of stock")

const paymentIDPrefix = "pay_"

// settlementDeps carries the repositories a payment settlement touches.
type settlementDeps struct {
	orders   repositories.OrderRepository
	stocks   repositories.StockRepository
	payments repositories.PaymentTransactionRepository
}

// settlementResult reports what a settlement pass actually did.
type settlementResult struct {
	order   Order
	settled bool
	payment *PaymentTransaction
}

// settleOrderAsPaid finalizes payment for an order inside the caller's
// transaction. If the order already reached PAID the pass is a no-op apart
// from returning the current order, which keeps retried and replayed
// approvals from deducting stock twice. Otherwise every line's stock is
// verified before any deduction, the order moves to PAID/APPROVED, and an
// approved payment transaction is appended.
func settleOrderAsPaid(ctx context.Context, deps settlementDeps, orderID string, provider PaymentProvider, paymentKey string, newID func() string, now time.Time) (settlementResult, error) {
	order, err := deps.orders.FindByID(ctx, orderID)
	if err != nil {
		return settlementResult{}, err
	}

	if order.Status == domain.OrderStatusPaid {
		return settlementResult{order: order}, nil
	}

	if err := domain.AssertOrderStatusTransition(order.Status, domain.OrderStatusPaid); err != nil {
		return settlementResult{}, err
	}
	if err := domain.AssertPaymentStatusTransition(order.PaymentStatus, domain.PaymentStatusApproved); err != nil {
		return settlementResult{}, err
	}

	lines := make([]repositories.StockDeduction, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, repositories.StockDeduction{SKU: item.SKU, Quantity: item.Quantity})
	}
	if err := deps.stocks.DeductAll(ctx, lines, now); err != nil {
		var stockErr *repositories.StockError
		if errors.As(err, &stockErr) {
			return settlementResult{}, fmt.Errorf("%w: %s", ErrOutOfStock, stockErr.Message)
		}
		return settlementResult{}, err
	}

	order.Status = domain.OrderStatusPaid
	order.PaymentStatus = domain.PaymentStatusApproved
	order.DisplayStatus = domain.DeriveDisplayStatus(domain.DisplaySnapshot{
		Status:         order.Status,
		PaymentStatus:  order.PaymentStatus,
		ShippingStatus: order.ShippingStatus,
	})
	setOnce(&order.PaidAt, now)
	order.UpdatedAt = now

	if err := deps.orders.Update(ctx, order); err != nil {
		return settlementResult{}, err
	}

	approvedAt := now
	payment := PaymentTransaction{
		ID:         paymentIDPrefix + newID(),
		OrderID:    order.ID,
		Provider:   provider,
		Status:     domain.PaymentStatusApproved,
		Amount:     order.Total,
		PaymentKey: paymentKey,
		ApprovedAt: &approvedAt,
		CreatedAt:  now,
	}
	if err := deps.payments.Insert(ctx, payment); err != nil {
		return settlementResult{}, err
	}

	return settlementResult{order: order, settled: true, payment: &payment}, nil
}
