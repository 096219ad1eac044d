package domain

// PriceQuote captures the effective price of a variant at a point in time.
// Amounts are minor units. DiscountPercent is re-derived from the two
// amounts rather than copied from the sale, so percentage and fixed sales
// report consistently; it is nil when no discount applies.
type PriceQuote struct {
	VariantID       string
	Price           int64
	OriginalPrice   int64
	DiscountPercent *int
	SaleID          string
}

// Discounted reports whether the quote carries an applied sale.
func (q PriceQuote) Discounted() bool {
	return q.DiscountPercent != nil && q.Price < q.OriginalPrice
}

// OrderEvent is the fire-and-forget notification emitted on order lifecycle
// changes. Delivery is best effort; the emitting operation never depends on
// it succeeding.
type OrderEvent struct {
	Type       string
	OrderID    string
	OrderCode  string
	UserID     string
	FromStatus OrderStatus
	ToStatus   OrderStatus
	OccurredAt int64
	Metadata   map[string]any
}

// ReturnEvent notifies observers about return lifecycle changes.
type ReturnEvent struct {
	Type        string
	ReturnID    string
	OrderID     string
	OrderItemID string
	UserID      string
	Status      ReturnStatus
	OccurredAt  int64
	Metadata    map[string]any
}

// StockEvent records a stock adjustment for downstream analytics and audit.
type StockEvent struct {
	Type       string
	VariantID  string
	SKU        string
	Delta      int64
	Remaining  int64
	OrderID    string
	OccurredAt int64
}
