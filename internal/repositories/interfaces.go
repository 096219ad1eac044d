package repositories

import (
	"context"
	"time"

	domain "github.com/maplewear/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Variants() VariantRepository
	Sales() SaleRepository
	Carts() CartRepository
	Orders() OrderRepository
	Returns() ReturnRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductRepository reads catalog products. Catalog writes belong to the
// seller-facing management system; this service only consumes them.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindBySlug(ctx context.Context, slug string) (domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
}

// VariantRepository reads variants and owns the transactional stock ledger.
// DecrementStock and RestoreStock each execute as a single storage
// transaction across every line in the request, so concurrent checkouts for
// the last unit resolve to exactly one winner and a failed line leaves all
// other lines untouched.
type VariantRepository interface {
	FindByID(ctx context.Context, variantID string) (domain.Variant, error)
	FindBySKU(ctx context.Context, sku string) (domain.Variant, error)
	ListByProduct(ctx context.Context, productID string) ([]domain.Variant, error)
	ListByIDs(ctx context.Context, variantIDs []string) ([]domain.Variant, error)
	DecrementStock(ctx context.Context, req StockAdjustmentRequest) (StockAdjustmentResult, error)
	RestoreStock(ctx context.Context, req StockAdjustmentRequest) (StockAdjustmentResult, error)
}

// StockLine names one variant quantity within a stock adjustment.
type StockLine struct {
	VariantID string
	SKU       string
	Quantity  int64
}

// StockAdjustmentRequest batches stock mutations belonging to one order.
type StockAdjustmentRequest struct {
	Lines    []StockLine
	OrderRef string
	Now      time.Time
}

// StockAdjustmentResult reports the remaining stock per variant after the
// transaction commits.
type StockAdjustmentResult struct {
	Remaining map[string]int64
}

// SaleRepository reads sale definitions for price resolution.
type SaleRepository interface {
	FindByID(ctx context.Context, saleID string) (domain.Sale, error)
	// ListActiveAt returns every active sale whose window covers the given
	// instant, ordered by StartsAt ascending then ID. More than one element
	// means the at-most-one-active assumption is violated upstream.
	ListActiveAt(ctx context.Context, at time.Time) ([]domain.Sale, error)
	List(ctx context.Context, filter SaleListFilter) (domain.CursorPage[domain.Sale], error)
}

// CartRepository owns cart persistence with optimistic locking guarantees.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	// UpsertCart writes the cart document. When expectedUpdatedAt is non-nil
	// the write only succeeds if the stored UpdatedAt matches, surfacing a
	// conflict RepositoryError otherwise.
	UpsertCart(ctx context.Context, cart domain.Cart, expectedUpdatedAt *time.Time) (domain.Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

// OrderRepository persists order documents and provides query helpers.
// UpdateWithStatus performs the write inside a storage transaction that
// re-reads the document and verifies its current status, keeping status
// transitions single-writer per order.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	UpdateWithStatus(ctx context.Context, order domain.Order, expected domain.OrderStatus) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByCode(ctx context.Context, orderCode string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// ReturnRepository persists return requests. Create enforces the
// single-pending-return invariant per order item inside a transaction.
type ReturnRepository interface {
	Create(ctx context.Context, ret domain.Return) (domain.Return, error)
	// Resolve moves a pending return into a terminal status; a conflict
	// RepositoryError is returned when the stored return is already terminal.
	Resolve(ctx context.Context, returnID string, status domain.ReturnStatus, resolvedBy string, now time.Time) (domain.Return, error)
	FindByID(ctx context.Context, returnID string) (domain.Return, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Return, error)
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Return], error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type ProductListFilter struct {
	CategoryID string
	BrandID    string
	Pagination domain.Pagination
}

type SaleListFilter struct {
	Status     []string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type OrderListFilter struct {
	UserID     string
	Status     []string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
