package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

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

// OptionValue is one selectable setting of a product option (e.g. "M" for Size).
type OptionValue struct {
	ID    string
	Value string
}

// ProductOption is a named axis of variation shared across the catalog
// vocabulary. Values keep the order the merchandiser defined.
type ProductOption struct {
	ID     string
	Name   string
	Values []OptionValue
}

// Product describes a sellable catalog entry. Identity fields are immutable;
// descriptive fields change only through the catalog management surface.
type Product struct {
	ID               string
	Name             string
	Slug             string
	CategoryID       string
	BrandID          string
	Description      string
	Options          []ProductOption
	ReturnWindowDays int
	Metadata         map[string]any
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// OptionSelection pins one option of a product to a concrete value.
type OptionSelection struct {
	OptionID string
	ValueID  string
}

// VariantImage references an image attached to a specific variant.
type VariantImage struct {
	URL      string
	AltText  string
	Position int
}

// Variant is the purchasable unit of a product: exactly one value per
// declared option, a unique SKU, a list price in minor units and a stock
// level. Selections are kept sorted by OptionID so set equality is a plain
// element-wise comparison.
type Variant struct {
	ID         string
	ProductID  string
	SKU        string
	Price      int64
	Stock      int64
	Selections []OptionSelection
	Images     []VariantImage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SaleType enumerates supported discount mechanics.
type SaleType string

const (
	// SaleTypePercentage discounts by a whole-percent rate of the list price.
	SaleTypePercentage SaleType = "percentage"
	// SaleTypeFixed discounts by a fixed amount of minor units.
	SaleTypeFixed SaleType = "fixed"
)

// SaleStatus describes the administrative state of a sale record.
type SaleStatus string

const (
	// SaleStatusActive marks a sale eligible for price resolution.
	SaleStatusActive SaleStatus = "active"
	// SaleStatusArchived marks a sale excluded from price resolution.
	SaleStatusArchived SaleStatus = "archived"
)

// Sale is a time-windowed catalog-wide discount. A sale applies when
// StartsAt <= now < EndsAt and the record is active.
type Sale struct {
	ID        string
	Name      string
	Type      SaleType
	Value     int64
	StartsAt  time.Time
	EndsAt    time.Time
	Status    SaleStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ActiveAt reports whether the sale window covers the given instant.
func (s Sale) ActiveAt(now time.Time) bool {
	if s.Status != SaleStatusActive {
		return false
	}
	if s.StartsAt.IsZero() || s.EndsAt.IsZero() {
		return false
	}
	return !now.Before(s.StartsAt) && now.Before(s.EndsAt)
}

// CartItem is one line of a cart. Quantity is at least 1; the line never
// stores a price, pricing is derived at snapshot time.
type CartItem struct {
	VariantID string
	ProductID string
	SKU       string
	Quantity  int64
	AddedAt   time.Time
}

// Cart holds the ordered line items for one user. The document ID equals
// the user ID, so at most one cart exists per user.
type Cart struct {
	ID        string
	UserID    string
	Items     []CartItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsEmpty reports whether the cart has no lines.
func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// CartSnapshotItem carries a cart line together with its freshly evaluated
// pricing.
type CartSnapshotItem struct {
	VariantID       string
	ProductID       string
	SKU             string
	Name            string
	Quantity        int64
	UnitPrice       int64
	OriginalPrice   int64
	DiscountPercent *int
	LineTotal       int64
}

// CartSnapshot is the derived read model of a cart. Totals are recomputed
// on every read and never persisted, so they always reflect the sale state
// at evaluation time.
type CartSnapshot struct {
	UserID      string
	Items       []CartSnapshotItem
	Count       int64
	Subtotal    int64
	EvaluatedAt time.Time
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusProcessing indicates the order was placed and is being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusOutForDelivery indicates the order left the warehouse with a carrier.
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCanceled indicates the order was canceled before delivery.
	OrderStatusCanceled OrderStatus = "canceled"

	// orderStatusShippedLegacy is the historical spelling of out_for_delivery
	// still present in old documents and inbound payloads.
	orderStatusShippedLegacy OrderStatus = "shipped"
)

// NormalizeOrderStatus maps legacy status spellings onto the canonical enum.
// Unknown values pass through unchanged so callers can reject them.
func NormalizeOrderStatus(status OrderStatus) OrderStatus {
	if status == orderStatusShippedLegacy {
		return OrderStatusOutForDelivery
	}
	return status
}

// ReturnStatus enumerates the states of a return request.
type ReturnStatus string

const (
	// ReturnStatusPending indicates a return awaiting an operator decision.
	ReturnStatusPending ReturnStatus = "pending"
	// ReturnStatusRefunded indicates the return was accepted and refunded.
	ReturnStatusRefunded ReturnStatus = "refunded"
	// ReturnStatusRejected indicates the return was declined.
	ReturnStatusRejected ReturnStatus = "rejected"
)

// Terminal reports whether the status permits no further transitions.
func (s ReturnStatus) Terminal() bool {
	return s == ReturnStatusRefunded || s == ReturnStatusRejected
}

// Return is a customer request to send one order item back.
type Return struct {
	ID          string
	OrderID     string
	OrderItemID string
	UserID      string
	Reason      string
	Status      ReturnStatus
	ResolvedBy  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrderItem is a purchased line frozen at placement time. VariantID is a
// weak reference; the price and descriptive snapshots survive later catalog
// edits or deletions. ReturnDeadline stays nil until the parent order is
// delivered.
type OrderItem struct {
	ID               string
	OrderID          string
	VariantID        string
	ProductID        string
	SKU              string
	Name             string
	Quantity         int64
	PriceAtOrder     int64
	OriginalPrice    int64
	ReturnWindowDays int
	ReturnDeadline   *time.Time
	Returns          []Return
}

// ActiveReturn finds the single non-terminal return on the item, if any.
func (i OrderItem) ActiveReturn() *Return {
	for idx := range i.Returns {
		if !i.Returns[idx].Status.Terminal() {
			return &i.Returns[idx]
		}
	}
	return nil
}

// Order aggregates purchased items with lifecycle timestamps. Items are
// append-only; after placement only status, return and timestamp fields
// change.
type Order struct {
	ID           string
	UserID       string
	AddressID    string
	OrderCode    string
	Status       OrderStatus
	Items        []OrderItem
	Subtotal     int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeliveredAt  *time.Time
	CanceledAt   *time.Time
	CancelReason string
	Metadata     map[string]any
}

// Address is the minimal view of a shipping destination supplied by the
// external address book; only the reference is resolved here.
type Address struct {
	ID          string
	UserID      string
	CountryCode string
	PostalCode  string
	Line1       string
	Line2       string
	City        string
	Recipient   string
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
