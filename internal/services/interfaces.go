package services

import (
	"context"
	"time"

	domain "github.com/maplewear/api/internal/domain"
	"github.com/maplewear/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	SortOrder          = domain.SortOrder
	Product            = domain.Product
	ProductOption      = domain.ProductOption
	OptionValue        = domain.OptionValue
	OptionSelection    = domain.OptionSelection
	Variant            = domain.Variant
	Sale               = domain.Sale
	Cart               = domain.Cart
	CartItem           = domain.CartItem
	CartSnapshot       = domain.CartSnapshot
	CartSnapshotItem   = domain.CartSnapshotItem
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	Return             = domain.Return
	ReturnStatus       = domain.ReturnStatus
	PriceQuote         = domain.PriceQuote
	OrderEvent         = domain.OrderEvent
	ReturnEvent        = domain.ReturnEvent
	StockEvent         = domain.StockEvent
	SystemHealthReport = domain.SystemHealthReport
)

// CatalogService serves product reads and resolves option selections to variants.
type CatalogService interface {
	GetProduct(ctx context.Context, idOrSlug string) (Product, error)
	ListProducts(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[Product], error)
	ListVariants(ctx context.Context, productID string) ([]Variant, error)
	ResolveVariant(ctx context.Context, cmd ResolveVariantCommand) (Variant, error)
	ActiveSale(ctx context.Context) (*Sale, error)
}

// ResolveVariantCommand carries a product reference plus the buyer's option
// choices, keyed by option ID with one value ID per option.
type ResolveVariantCommand struct {
	ProductID  string
	Selections map[string]string
}

// PricingService computes effective prices under the sale calendar.
type PricingService interface {
	Quote(variant Variant, sale *Sale, now time.Time) PriceQuote
	QuoteVariant(ctx context.Context, variantID string) (PriceQuote, error)
}

// CartService manages mutable cart state while enforcing stock ceilings.
type CartService interface {
	GetOrCreateCart(ctx context.Context, userID string) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	Snapshot(ctx context.Context, userID string) (CartSnapshot, error)
	ClearCart(ctx context.Context, userID string) error
}

// AddCartItemCommand adds quantity for a variant to the user's cart. The
// quantity is additive on top of any existing line.
type AddCartItemCommand struct {
	UserID    string
	VariantID string
	Quantity  int64
}

// UpdateCartItemCommand replaces the quantity for a variant line. Zero or
// negative quantities remove the line.
type UpdateCartItemCommand struct {
	UserID    string
	VariantID string
	Quantity  int64
}

// RemoveCartItemCommand removes a variant line regardless of quantity.
type RemoveCartItemCommand struct {
	UserID    string
	VariantID string
}

// OrderService encapsulates checkout and the order lifecycle state machine.
type OrderService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error)
	ListOrders(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// PlaceOrderCommand converts the user's current cart into an order.
type PlaceOrderCommand struct {
	UserID    string
	AddressID string
	Metadata  map[string]any
}

// OrderReadOptions constrains order reads to the requesting actor.
type OrderReadOptions struct {
	UserID string
	Admin  bool
}

// OrderStatusTransitionCommand requests a lifecycle transition. Target
// accepts the legacy "shipped" spelling and normalizes it before evaluation.
type OrderStatusTransitionCommand struct {
	OrderID  string
	Target   OrderStatus
	ActorID  string
	Reason   string
	Metadata map[string]any
}

// CancelOrderCommand cancels an order on behalf of its owner or an operator.
type CancelOrderCommand struct {
	OrderID string
	UserID  string
	Admin   bool
	Reason  string
}

// ReturnService decides return eligibility and drives the return lifecycle.
type ReturnService interface {
	CanReturn(order Order, item OrderItem, now time.Time) error
	RequestReturn(ctx context.Context, cmd RequestReturnCommand) (Return, error)
	ResolveReturn(ctx context.Context, cmd ResolveReturnCommand) (Return, error)
	GetReturn(ctx context.Context, returnID string, opts ReturnReadOptions) (Return, error)
	ListReturnsByOrder(ctx context.Context, orderID string) ([]Return, error)
	ListReturnsByUser(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Return], error)
}

// RequestReturnCommand asks to send one delivered order item back.
type RequestReturnCommand struct {
	UserID      string
	OrderID     string
	OrderItemID string
	Reason      string
}

// ResolveReturnCommand records the operator decision on a pending return.
type ResolveReturnCommand struct {
	ReturnID string
	Outcome  ReturnStatus
	ActorID  string
}

// ReturnReadOptions constrains return reads to the requesting actor.
type ReturnReadOptions struct {
	UserID string
	Admin  bool
}

// CounterService exposes managed sequential counters for code generation.
type CounterService interface {
	Next(ctx context.Context, counterID string, count int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error
}

// SystemService aggregates platform health for monitoring endpoints.
type SystemService interface {
	Health(ctx context.Context) (SystemHealthReport, error)
}

// OrderEventPublisher emits order lifecycle events to interested consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// ReturnEventPublisher emits return lifecycle events.
type ReturnEventPublisher interface {
	PublishReturnEvent(ctx context.Context, event ReturnEvent) error
}

// StockEventPublisher emits stock adjustment events.
type StockEventPublisher interface {
	PublishStockEvent(ctx context.Context, event StockEvent) error
}
