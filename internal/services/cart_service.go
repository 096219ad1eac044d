package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/maplewear/api/internal/repositories"
)

var (
	// ErrCartInvalidInput signals malformed cart commands.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartInvalidQuantity is returned when an added quantity is not positive.
	ErrCartInvalidQuantity = errors.New("cart: invalid quantity")
	// ErrCartVariantNotFound is returned when the referenced variant does not exist.
	ErrCartVariantNotFound = errors.New("cart: variant not found")
	// ErrCartItemNotFound is returned when a quantity update targets a line
	// the cart does not have. Removal of an absent line is a no-op instead.
	ErrCartItemNotFound = errors.New("cart: item not found")
	// ErrCartOutOfStock is returned when the requested quantity exceeds stock.
	ErrCartOutOfStock = errors.New("cart: out of stock")
	// ErrCartConflict is returned when a concurrent write invalidated the update.
	ErrCartConflict = errors.New("cart: concurrent modification")
)

const cartUpsertAttempts = 3

// errCartUnchanged aborts a mutateCart write while still reporting success,
// for mutations that turn out to be no-ops.
var errCartUnchanged = errors.New("cart unchanged")

type cartService struct {
	carts    repositories.CartRepository
	variants repositories.VariantRepository
	products repositories.ProductRepository
	pricing  PricingService
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type CartServiceDeps struct {
	Carts    repositories.CartRepository
	Variants repositories.VariantRepository
	Products repositories.ProductRepository
	Pricing  PricingService
	Now      func() time.Time
	Logger   func(context.Context, string, map[string]any)
}

func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Variants == nil {
		return nil, errors.New("cart service: variant repository is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("cart service: pricing service is required")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartService{
		carts:    deps.Carts,
		variants: deps.Variants,
		products: deps.Products,
		pricing:  deps.Pricing,
		now: func() time.Time {
			return now().UTC()
		},
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// userLock serializes cart mutations per user within this process. Cross
// process safety comes from the repository's compare-and-set on UpdatedAt.
func (s *cartService) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[userID] = lock
	}
	return lock
}

func (s *cartService) GetOrCreateCart(ctx context.Context, userID string) (Cart, error) {
	if strings.TrimSpace(userID) == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			now := s.now()
			return Cart{ID: userID, UserID: userID, CreatedAt: now, UpdatedAt: now}, nil
		}
		return Cart{}, fmt.Errorf("cart: load cart: %w", err)
	}
	return cart, nil
}

func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	if strings.TrimSpace(cmd.UserID) == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if strings.TrimSpace(cmd.VariantID) == "" {
		return Cart{}, fmt.Errorf("%w: variant id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return Cart{}, fmt.Errorf("%w: quantity must be positive, got %d", ErrCartInvalidQuantity, cmd.Quantity)
	}

	variant, err := s.variants.FindByID(ctx, cmd.VariantID)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, fmt.Errorf("%w: %s", ErrCartVariantNotFound, cmd.VariantID)
		}
		return Cart{}, fmt.Errorf("cart: load variant: %w", err)
	}

	lock := s.userLock(cmd.UserID)
	lock.Lock()
	defer lock.Unlock()

	return s.mutateCart(ctx, cmd.UserID, func(cart *Cart) error {
		now := s.now()
		for i := range cart.Items {
			if cart.Items[i].VariantID != cmd.VariantID {
				continue
			}
			next := cart.Items[i].Quantity + cmd.Quantity
			if next > variant.Stock {
				return fmt.Errorf("%w: %s has %d in stock, requested %d", ErrCartOutOfStock, variant.SKU, variant.Stock, next)
			}
			cart.Items[i].Quantity = next
			return nil
		}
		if cmd.Quantity > variant.Stock {
			return fmt.Errorf("%w: %s has %d in stock, requested %d", ErrCartOutOfStock, variant.SKU, variant.Stock, cmd.Quantity)
		}
		cart.Items = append(cart.Items, CartItem{
			VariantID: variant.ID,
			ProductID: variant.ProductID,
			SKU:       variant.SKU,
			Quantity:  cmd.Quantity,
			AddedAt:   now,
		})
		return nil
	})
}

func (s *cartService) UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error) {
	if strings.TrimSpace(cmd.UserID) == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if strings.TrimSpace(cmd.VariantID) == "" {
		return Cart{}, fmt.Errorf("%w: variant id is required", ErrCartInvalidInput)
	}

	if cmd.Quantity <= 0 {
		return s.RemoveItem(ctx, RemoveCartItemCommand{UserID: cmd.UserID, VariantID: cmd.VariantID})
	}

	variant, err := s.variants.FindByID(ctx, cmd.VariantID)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, fmt.Errorf("%w: %s", ErrCartVariantNotFound, cmd.VariantID)
		}
		return Cart{}, fmt.Errorf("cart: load variant: %w", err)
	}
	if cmd.Quantity > variant.Stock {
		return Cart{}, fmt.Errorf("%w: %s has %d in stock, requested %d", ErrCartOutOfStock, variant.SKU, variant.Stock, cmd.Quantity)
	}

	lock := s.userLock(cmd.UserID)
	lock.Lock()
	defer lock.Unlock()

	return s.mutateCart(ctx, cmd.UserID, func(cart *Cart) error {
		for i := range cart.Items {
			if cart.Items[i].VariantID == cmd.VariantID {
				cart.Items[i].Quantity = cmd.Quantity
				return nil
			}
		}
		return fmt.Errorf("%w: variant %s", ErrCartItemNotFound, cmd.VariantID)
	})
}

func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	if strings.TrimSpace(cmd.UserID) == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if strings.TrimSpace(cmd.VariantID) == "" {
		return Cart{}, fmt.Errorf("%w: variant id is required", ErrCartInvalidInput)
	}

	lock := s.userLock(cmd.UserID)
	lock.Lock()
	defer lock.Unlock()

	return s.mutateCart(ctx, cmd.UserID, func(cart *Cart) error {
		for i := range cart.Items {
			if cart.Items[i].VariantID == cmd.VariantID {
				cart.Items = append(cart.Items[:i], cart.Items[i+1:]...)
				return nil
			}
		}
		// Removing an absent line is a no-op, not an error.
		return errCartUnchanged
	})
}

// Snapshot evaluates the cart against current prices and the sale calendar.
// Totals are derived here and never written back to storage.
func (s *cartService) Snapshot(ctx context.Context, userID string) (CartSnapshot, error) {
	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return CartSnapshot{}, err
	}

	now := s.now()
	snapshot := CartSnapshot{UserID: userID, EvaluatedAt: now}
	if cart.IsEmpty() {
		return snapshot, nil
	}

	variantIDs := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		variantIDs = append(variantIDs, item.VariantID)
	}
	variants, err := s.variants.ListByIDs(ctx, variantIDs)
	if err != nil {
		return CartSnapshot{}, fmt.Errorf("cart: load variants: %w", err)
	}
	byID := make(map[string]Variant, len(variants))
	for _, v := range variants {
		byID[v.ID] = v
	}
	names := s.productNames(ctx, variants)

	for _, item := range cart.Items {
		variant, ok := byID[item.VariantID]
		if !ok {
			// The variant left the catalog after it entered the cart.
			// Skip the line rather than failing the whole read.
			s.logger(ctx, "cart.snapshot_variant_missing", map[string]any{
				"user_id":    userID,
				"variant_id": item.VariantID,
			})
			continue
		}
		quote, err := s.pricing.QuoteVariant(ctx, variant.ID)
		if err != nil {
			return CartSnapshot{}, fmt.Errorf("cart: quote variant %s: %w", variant.ID, err)
		}
		line := CartSnapshotItem{
			VariantID:       variant.ID,
			ProductID:       variant.ProductID,
			SKU:             variant.SKU,
			Name:            names[variant.ProductID],
			Quantity:        item.Quantity,
			UnitPrice:       quote.Price,
			OriginalPrice:   quote.OriginalPrice,
			DiscountPercent: quote.DiscountPercent,
			LineTotal:       quote.Price * item.Quantity,
		}
		snapshot.Items = append(snapshot.Items, line)
		snapshot.Count += item.Quantity
		snapshot.Subtotal += line.LineTotal
	}
	return snapshot, nil
}

func (s *cartService) ClearCart(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.carts.ClearCart(ctx, userID); err != nil {
		return fmt.Errorf("cart: clear cart: %w", err)
	}
	return nil
}

// mutateCart loads, mutates and conditionally writes the cart, retrying a
// bounded number of times when a concurrent writer invalidated the read.
func (s *cartService) mutateCart(ctx context.Context, userID string, mutate func(*Cart) error) (Cart, error) {
	var lastErr error
	for attempt := 0; attempt < cartUpsertAttempts; attempt++ {
		cart, err := s.carts.GetCart(ctx, userID)
		loaded := err == nil
		if err != nil {
			if !isRepoNotFound(err) {
				return Cart{}, fmt.Errorf("cart: load cart: %w", err)
			}
			now := s.now()
			cart = Cart{ID: userID, UserID: userID, CreatedAt: now, UpdatedAt: now}
		}
		// Every stored cart carries a write timestamp, so any loaded cart,
		// empty ones included, gets the compare-and-set precondition.
		var expected *time.Time
		if loaded {
			updatedAt := cart.UpdatedAt
			expected = &updatedAt
		}
		// Isolate the working copy from repository state so a retry after a
		// conflict re-reads and re-applies against fresh lines.
		if len(cart.Items) > 0 {
			items := make([]CartItem, len(cart.Items))
			copy(items, cart.Items)
			cart.Items = items
		}
		if cart.CreatedAt.IsZero() {
			cart.CreatedAt = s.now()
		}

		if err := mutate(&cart); err != nil {
			if errors.Is(err, errCartUnchanged) {
				return cart, nil
			}
			return Cart{}, err
		}
		cart.UpdatedAt = s.now()

		saved, err := s.carts.UpsertCart(ctx, cart, expected)
		if err != nil {
			if isRepoConflict(err) {
				lastErr = err
				s.logger(ctx, "cart.upsert_conflict_retry", map[string]any{
					"user_id": userID,
					"attempt": attempt + 1,
				})
				continue
			}
			return Cart{}, fmt.Errorf("cart: save cart: %w", err)
		}
		return saved, nil
	}
	return Cart{}, fmt.Errorf("%w: %v", ErrCartConflict, lastErr)
}

// productNames resolves display names for the products behind a variant set.
// Lookups are best effort; a missing product yields an empty name.
func (s *cartService) productNames(ctx context.Context, variants []Variant) map[string]string {
	names := make(map[string]string)
	if s.products == nil {
		return names
	}
	for _, v := range variants {
		if _, done := names[v.ProductID]; done {
			continue
		}
		product, err := s.products.FindByID(ctx, v.ProductID)
		if err != nil {
			names[v.ProductID] = ""
			continue
		}
		names[v.ProductID] = product.Name
	}
	return names
}

// isRepoConflict reports whether err is a repository conflict failure.
func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
