package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/maplewear/api/internal/domain"
	pfirestore "github.com/maplewear/api/internal/platform/firestore"
	"github.com/maplewear/api/internal/repositories"
)

const (
	orderCollection = "orders"

	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// OrderRepository persists order documents with their embedded line items.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil)
	return &OrderRepository{provider: provider, base: base}, nil
}

// Insert creates the order document, failing on duplicate IDs.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return pfirestore.WrapError("orders.insert", errors.New("order id is required"))
	}
	ref, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// UpdateWithStatus rewrites the order inside a transaction that verifies the
// stored status first. Legacy "shipped" documents compare equal to
// out_for_delivery after normalization. A mismatch aborts with a conflict,
// which keeps transitions single-writer per order.
func (r *OrderRepository) UpdateWithStatus(ctx context.Context, order domain.Order, expected domain.OrderStatus) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return domain.Order{}, pfirestore.WrapError("orders.update", errors.New("order id is required"))
	}

	doc := newOrderDocument(order)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var current orderDocument
		if err := snap.DataTo(&current); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		stored := domain.NormalizeOrderStatus(domain.OrderStatus(current.Status))
		if stored != domain.NormalizeOrderStatus(expected) {
			return status.Error(codes.FailedPrecondition, fmt.Sprintf("order %s is %s, expected %s", orderID, stored, expected))
		}
		doc.CreatedAt = current.CreatedAt
		return tx.Set(ref, doc)
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.update", err)
	}
	return doc.toDomain(orderID), nil
}

// FindByID fetches a single order document.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, pfirestore.WrapError("orders.get", errors.New("order id is required"))
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByCode resolves an order by its human-shareable code.
func (r *OrderRepository) FindByCode(ctx context.Context, orderCode string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderCode = strings.TrimSpace(orderCode)
	if orderCode == "" {
		return domain.Order{}, pfirestore.WrapError("orders.findByCode", errors.New("order code is required"))
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderCode", "==", orderCode).Limit(2)
	})
	if err != nil {
		return domain.Order{}, err
	}
	switch len(docs) {
	case 0:
		return domain.Order{}, pfirestore.WrapError("orders.findByCode", status.Error(codes.NotFound, fmt.Sprintf("order %s not found", orderCode)))
	case 1:
		return docs[0].Data.toDomain(docs[0].ID), nil
	default:
		return domain.Order{}, pfirestore.WrapError("orders.findByCode", status.Error(codes.Aborted, fmt.Sprintf("order code %s is not unique", orderCode)))
	}
}

// List pages orders newest first, filtered by user, status and date range.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = defaultOrderPageSize
	}
	if pageSize > maxOrderPageSize {
		pageSize = maxOrderPageSize
	}

	var decodedToken *orderPageToken
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tok, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		decodedToken = tok
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if userID := strings.TrimSpace(filter.UserID); userID != "" {
			q = q.Where("userRef", "==", userID)
		}
		if len(filter.Status) > 0 {
			q = q.Where("status", "in", normaliseStatusFilter(filter.Status))
		}
		if filter.DateRange.From != nil {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Asc)
		if decodedToken != nil {
			q = q.StartAfter(decodedToken.CreatedAt, decodedToken.ID)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

// normaliseStatusFilter widens out_for_delivery filters to match legacy
// "shipped" documents still present in the collection.
func normaliseStatusFilter(statuses []string) []string {
	out := make([]string, 0, len(statuses)+1)
	seen := make(map[string]struct{}, len(statuses)+1)
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, s := range statuses {
		add(s)
		if domain.NormalizeOrderStatus(domain.OrderStatus(s)) == domain.OrderStatusOutForDelivery {
			add("shipped")
			add(string(domain.OrderStatusOutForDelivery))
		}
	}
	return out
}

// Document mapping ----------------------------------------------------------

type orderDocument struct {
	UserRef      string              `firestore:"userRef"`
	AddressRef   string              `firestore:"addressRef"`
	OrderCode    string              `firestore:"orderCode"`
	Status       string              `firestore:"status"`
	Items        []orderItemDocument `firestore:"items"`
	Subtotal     int64               `firestore:"subtotal"`
	CreatedAt    time.Time           `firestore:"createdAt"`
	UpdatedAt    time.Time           `firestore:"updatedAt"`
	DeliveredAt  *time.Time          `firestore:"deliveredAt,omitempty"`
	CanceledAt   *time.Time          `firestore:"canceledAt,omitempty"`
	CancelReason string              `firestore:"cancelReason,omitempty"`
	Metadata     map[string]any      `firestore:"metadata,omitempty"`
}

type orderItemDocument struct {
	ID               string     `firestore:"id"`
	VariantRef       string     `firestore:"variantRef"`
	ProductRef       string     `firestore:"productRef"`
	SKU              string     `firestore:"sku"`
	Name             string     `firestore:"name"`
	Quantity         int64      `firestore:"qty"`
	PriceAtOrder     int64      `firestore:"priceAtOrder"`
	OriginalPrice    int64      `firestore:"originalPrice"`
	ReturnWindowDays int        `firestore:"returnWindowDays"`
	ReturnDeadline   *time.Time `firestore:"returnDeadline,omitempty"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ID:               strings.TrimSpace(item.ID),
			VariantRef:       strings.TrimSpace(item.VariantID),
			ProductRef:       strings.TrimSpace(item.ProductID),
			SKU:              strings.TrimSpace(item.SKU),
			Name:             strings.TrimSpace(item.Name),
			Quantity:         item.Quantity,
			PriceAtOrder:     item.PriceAtOrder,
			OriginalPrice:    item.OriginalPrice,
			ReturnWindowDays: item.ReturnWindowDays,
			ReturnDeadline:   item.ReturnDeadline,
		}
	}
	return orderDocument{
		UserRef:      strings.TrimSpace(order.UserID),
		AddressRef:   strings.TrimSpace(order.AddressID),
		OrderCode:    strings.TrimSpace(order.OrderCode),
		Status:       string(domain.NormalizeOrderStatus(order.Status)),
		Items:        items,
		Subtotal:     order.Subtotal,
		CreatedAt:    order.CreatedAt.UTC(),
		UpdatedAt:    order.UpdatedAt.UTC(),
		DeliveredAt:  order.DeliveredAt,
		CanceledAt:   order.CanceledAt,
		CancelReason: strings.TrimSpace(order.CancelReason),
		Metadata:     order.Metadata,
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ID:               strings.TrimSpace(item.ID),
			OrderID:          id,
			VariantID:        strings.TrimSpace(item.VariantRef),
			ProductID:        strings.TrimSpace(item.ProductRef),
			SKU:              strings.TrimSpace(item.SKU),
			Name:             strings.TrimSpace(item.Name),
			Quantity:         item.Quantity,
			PriceAtOrder:     item.PriceAtOrder,
			OriginalPrice:    item.OriginalPrice,
			ReturnWindowDays: item.ReturnWindowDays,
			ReturnDeadline:   item.ReturnDeadline,
		}
	}
	return domain.Order{
		ID:           id,
		UserID:       strings.TrimSpace(d.UserRef),
		AddressID:    strings.TrimSpace(d.AddressRef),
		OrderCode:    strings.TrimSpace(d.OrderCode),
		Status:       domain.NormalizeOrderStatus(domain.OrderStatus(strings.TrimSpace(d.Status))),
		Items:        items,
		Subtotal:     d.Subtotal,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		DeliveredAt:  d.DeliveredAt,
		CanceledAt:   d.CanceledAt,
		CancelReason: strings.TrimSpace(d.CancelReason),
		Metadata:     d.Metadata,
	}
}

type orderPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(token); err != nil {
		return "", fmt.Errorf("encode order page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeOrderPageToken(encoded string) (*orderPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode order page token: %w", err)
	}
	var token orderPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode order page token json: %w", err)
	}
	return &token, nil
}
