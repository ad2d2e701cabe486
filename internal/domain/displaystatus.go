package domain

// DisplaySnapshot is an immutable view of the inputs the display status is
// derived from: the three independent axes plus whether any live return
// case exists.
type DisplaySnapshot struct {
	Status         OrderStatus
	PaymentStatus  PaymentStatus
	ShippingStatus ShippingStatus
	HasOpenReturn  bool
}

// DeriveDisplayStatus computes the composite display-only status. The rules
// are order-sensitive: cancellation wins over everything, a live return wins
// over shipping, shipping wins over payment.
func DeriveDisplayStatus(snap DisplaySnapshot) DisplayStatus {
	if snap.Status == OrderStatusCanceled {
		if snap.PaymentStatus == PaymentStatusUnpaid {
			return DisplayStatusUnpaidCanceled
		}
		return DisplayStatusCanceled
	}
	if snap.HasOpenReturn {
		return DisplayStatusReturned
	}
	switch snap.ShippingStatus {
	case ShippingStatusShipped:
		return DisplayStatusShipping
	case ShippingStatusDelivered:
		return DisplayStatusDelivered
	}
	if snap.PaymentStatus == PaymentStatusApproved {
		return DisplayStatusPaymentCompleted
	}
	return DisplayStatusPaymentPending
}

// DisplaySnapshotOf builds the derivation input from an order and its
// return cases.
func DisplaySnapshotOf(order Order, returns []ReturnRequest) DisplaySnapshot {
	snap := DisplaySnapshot{
		Status:         order.Status,
		PaymentStatus:  order.PaymentStatus,
		ShippingStatus: order.ShippingStatus,
	}
	for _, ret := range returns {
		if ret.IsOpen() {
			snap.HasOpenReturn = true
			break
		}
	}
	return snap
}
