package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/maplewear/api/internal/domain"
	"github.com/maplewear/api/internal/repositories"
)

var (
	// ErrPricingInvalidInput signals bad quote inputs such as negative prices.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPricingVariantNotFound is returned when the quoted variant does not exist.
	ErrPricingVariantNotFound = errors.New("pricing: variant not found")
)

type pricingService struct {
	variants repositories.VariantRepository
	sales    repositories.SaleRepository
	catalog  CatalogService
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
}

type PricingServiceDeps struct {
	Variants repositories.VariantRepository
	Sales    repositories.SaleRepository
	Catalog  CatalogService
	Now      func() time.Time
	Logger   func(context.Context, string, map[string]any)
}

func NewPricingService(deps PricingServiceDeps) (PricingService, error) {
	if deps.Variants == nil {
		return nil, errors.New("pricing service: variant repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("pricing service: catalog service is required")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &pricingService{
		variants: deps.Variants,
		sales:    deps.Sales,
		catalog:  deps.Catalog,
		now: func() time.Time {
			return now().UTC()
		},
		logger: logger,
	}, nil
}

// Quote computes the effective price of a variant under an optional sale.
// Prices are minor currency units; percentage discounts round half up and
// fixed discounts floor the result at zero.
func (s *pricingService) Quote(variant Variant, sale *Sale, now time.Time) PriceQuote {
	quote := PriceQuote{
		VariantID:     variant.ID,
		Price:         variant.Price,
		OriginalPrice: variant.Price,
	}
	if variant.Price < 0 {
		quote.Price = 0
		quote.OriginalPrice = 0
		return quote
	}
	if sale == nil || !sale.ActiveAt(now) {
		return quote
	}

	effective := variant.Price
	switch sale.Type {
	case domain.SaleTypePercentage:
		if sale.Value <= 0 || sale.Value > 100 {
			return quote
		}
		effective = roundHalfUpPercent(variant.Price, 100-sale.Value)
	case domain.SaleTypeFixed:
		if sale.Value <= 0 {
			return quote
		}
		effective = variant.Price - sale.Value
	default:
		return quote
	}
	if effective < 0 {
		effective = 0
	}
	if effective >= variant.Price {
		return quote
	}

	quote.Price = effective
	quote.SaleID = sale.ID
	if percent := deriveDiscountPercent(variant.Price, effective); percent > 0 {
		quote.DiscountPercent = valuePtr(percent)
	}
	return quote
}

func (s *pricingService) QuoteVariant(ctx context.Context, variantID string) (PriceQuote, error) {
	if variantID == "" {
		return PriceQuote{}, fmt.Errorf("%w: variant id is required", ErrPricingInvalidInput)
	}

	variant, err := s.variants.FindByID(ctx, variantID)
	if err != nil {
		if isRepoNotFound(err) {
			return PriceQuote{}, fmt.Errorf("%w: %s", ErrPricingVariantNotFound, variantID)
		}
		return PriceQuote{}, fmt.Errorf("pricing: load variant: %w", err)
	}

	sale, err := s.catalog.ActiveSale(ctx)
	if err != nil {
		// A pricing read must not fail because the sale calendar is
		// unavailable. Quote at the original price and record the miss.
		s.logger(ctx, "pricing.active_sale_lookup_failed", map[string]any{
			"variant_id": variantID,
			"error":      err.Error(),
		})
		sale = nil
	}

	return s.Quote(variant, sale, s.now()), nil
}

// roundHalfUpPercent computes percent of amount in minor units, rounding
// half-up. The percentage path quotes the retained share of the list price
// so the final price itself rounds half-up, not the discount.
// Both arguments must be non-negative.
func roundHalfUpPercent(amount int64, percent int64) int64 {
	return (amount*percent + 50) / 100
}

// deriveDiscountPercent recomputes the advertised discount from the actual
// prices so a fixed-amount sale still shows a truthful percentage.
func deriveDiscountPercent(original, effective int64) int {
	if original <= 0 || effective >= original {
		return 0
	}
	saved := original - effective
	// Round half up: (saved/original*100) with integer arithmetic.
	return int((saved*200 + original) / (2 * original))
}
