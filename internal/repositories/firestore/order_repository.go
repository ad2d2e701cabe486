package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/mallkit/api/internal/domain"
	pfirestore "github.com/mallkit/api/internal/platform/firestore"
	"github.com/mallkit/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository implements repositories.OrderRepository backed by Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewCollection[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{provider: provider, orders: base}, nil
}

// Insert creates the order document, failing when the ID already exists.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order insert: id is required")
	}
	ref, err := r.orders.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	if err := createDocument(ctx, ref, newOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update replaces the order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order update: id is required")
	}
	ref, err := r.orders.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	if err := setDocument(ctx, ref, newOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.update", err)
	}
	return nil
}

// FindByID loads one order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order find: id is required")
	}
	ref, err := r.orders.DocumentRef(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	snap, err := getDocument(ctx, ref)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.find", err)
	}
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", orderID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

// List returns a page of orders matching the filter, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := clampPageSize(filter.Pagination.PageSize, 50, 200)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}

	query := client.Collection(ordersCollection).Query
	if user := strings.TrimSpace(filter.UserRef); user != "" {
		query = query.Where("userRef", "==", user)
	}
	if number := strings.TrimSpace(filter.OrderNumber); number != "" {
		query = query.Where("orderNumber", "==", number)
	}
	if len(filter.Status) > 0 {
		query = query.Where("status", "in", statusValues(filter.Status))
	}
	if len(filter.PaymentStatus) > 0 {
		query = query.Where("paymentStatus", "in", statusValues(filter.PaymentStatus))
	}
	if len(filter.DisplayStatus) > 0 {
		query = query.Where("displayStatus", "in", statusValues(filter.DisplayStatus))
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc).Limit(pageSize + 1)

	token, err := decodePageToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}
	if token != nil {
		query = query.StartAfter(token.CreatedAt, token.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		nextToken, err = encodePageToken(pageToken{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
	}

	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

func statusValues[S ~string](values []S) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		out = append(out, string(value))
	}
	return out
}

// Document mapping -----------------------------------------------------------

type orderDocument struct {
	OrderNumber     string              `firestore:"orderNumber"`
	UserRef         string              `firestore:"userRef"`
	Status          string              `firestore:"status"`
	PaymentStatus   string              `firestore:"paymentStatus"`
	ShippingStatus  string              `firestore:"shippingStatus"`
	DisplayStatus   string              `firestore:"displayStatus"`
	Subtotal        int64               `firestore:"subtotal"`
	ShippingFee     int64               `firestore:"shippingFee"`
	Discount        int64               `firestore:"discount"`
	Total           int64               `firestore:"total"`
	Items           []orderItemDocument `firestore:"items"`
	Recipient       string              `firestore:"recipient,omitempty"`
	Address         string              `firestore:"address,omitempty"`
	Courier         string              `firestore:"courier,omitempty"`
	TrackingNumber  string              `firestore:"trackingNumber,omitempty"`
	Memo            string              `firestore:"memo,omitempty"`
	InvoiceIssuedAt *time.Time          `firestore:"invoiceIssuedAt,omitempty"`
	PaidAt          *time.Time          `firestore:"paidAt,omitempty"`
	ShippedAt       *time.Time          `firestore:"shippedAt,omitempty"`
	DeliveredAt     *time.Time          `firestore:"deliveredAt,omitempty"`
	CanceledAt      *time.Time          `firestore:"canceledAt,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
}

type orderItemDocument struct {
	SKU        string `firestore:"sku"`
	ProductRef string `firestore:"productRef,omitempty"`
	OptionRef  string `firestore:"optionRef,omitempty"`
	Name       string `firestore:"name"`
	Quantity   int64  `firestore:"qty"`
	UnitPrice  int64  `firestore:"unitPrice"`
	Total      int64  `firestore:"total"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			SKU:        strings.TrimSpace(item.SKU),
			ProductRef: strings.TrimSpace(item.ProductRef),
			OptionRef:  strings.TrimSpace(item.OptionRef),
			Name:       item.Name,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			Total:      item.Total,
		}
	}
	return orderDocument{
		OrderNumber:     strings.TrimSpace(order.OrderNumber),
		UserRef:         strings.TrimSpace(order.UserRef),
		Status:          string(order.Status),
		PaymentStatus:   string(order.PaymentStatus),
		ShippingStatus:  string(order.ShippingStatus),
		DisplayStatus:   string(order.DisplayStatus),
		Subtotal:        order.Subtotal,
		ShippingFee:     order.ShippingFee,
		Discount:        order.Discount,
		Total:           order.Total,
		Items:           items,
		Recipient:       order.Recipient,
		Address:         order.Address,
		Courier:         order.Courier,
		TrackingNumber:  order.TrackingNumber,
		Memo:            order.Memo,
		InvoiceIssuedAt: utcPtr(order.InvoiceIssuedAt),
		PaidAt:          utcPtr(order.PaidAt),
		ShippedAt:       utcPtr(order.ShippedAt),
		DeliveredAt:     utcPtr(order.DeliveredAt),
		CanceledAt:      utcPtr(order.CanceledAt),
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			SKU:        item.SKU,
			ProductRef: item.ProductRef,
			OptionRef:  item.OptionRef,
			Name:       item.Name,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			Total:      item.Total,
		}
	}
	return domain.Order{
		ID:              id,
		OrderNumber:     d.OrderNumber,
		UserRef:         d.UserRef,
		Status:          domain.OrderStatus(d.Status),
		PaymentStatus:   domain.PaymentStatus(d.PaymentStatus),
		ShippingStatus:  domain.ShippingStatus(d.ShippingStatus),
		DisplayStatus:   domain.DisplayStatus(d.DisplayStatus),
		Subtotal:        d.Subtotal,
		ShippingFee:     d.ShippingFee,
		Discount:        d.Discount,
		Total:           d.Total,
		Items:           items,
		Recipient:       d.Recipient,
		Address:         d.Address,
		Courier:         d.Courier,
		TrackingNumber:  d.TrackingNumber,
		Memo:            d.Memo,
		InvoiceIssuedAt: d.InvoiceIssuedAt,
		PaidAt:          d.PaidAt,
		ShippedAt:       d.ShippedAt,
		DeliveredAt:     d.DeliveredAt,
		CanceledAt:      d.CanceledAt,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
