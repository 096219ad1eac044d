package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/maplewear/api/internal/domain"
	"github.com/maplewear/api/internal/platform/textutil"
	"github.com/maplewear/api/internal/repositories"
)

var (
	// ErrCatalogInvalidInput signals malformed catalog queries.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogNotFound is returned when a product, option, value or the
	// resolved variant does not exist.
	ErrCatalogNotFound = errors.New("catalog: not found")
	// ErrSelectionIncomplete is returned when the buyer has not chosen a
	// value for every option the product declares.
	ErrSelectionIncomplete = errors.New("catalog: selection incomplete")
	// ErrSelectionAmbiguous is returned when more than one variant matches a
	// complete selection, which indicates corrupt catalog data.
	ErrSelectionAmbiguous = errors.New("catalog: selection ambiguous")
)

type catalogService struct {
	products repositories.ProductRepository
	variants repositories.VariantRepository
	sales    repositories.SaleRepository
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
}

type CatalogServiceDeps struct {
	Products repositories.ProductRepository
	Variants repositories.VariantRepository
	Sales    repositories.SaleRepository
	Now      func() time.Time
	Logger   func(context.Context, string, map[string]any)
}

func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	if deps.Variants == nil {
		return nil, errors.New("catalog service: variant repository is required")
	}
	if deps.Sales == nil {
		return nil, errors.New("catalog service: sale repository is required")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &catalogService{
		products: deps.Products,
		variants: deps.Variants,
		sales:    deps.Sales,
		now: func() time.Time {
			return now().UTC()
		},
		logger: logger,
	}, nil
}

func (s *catalogService) GetProduct(ctx context.Context, idOrSlug string) (Product, error) {
	key := strings.TrimSpace(idOrSlug)
	if key == "" {
		return Product{}, fmt.Errorf("%w: product identifier is required", ErrCatalogInvalidInput)
	}

	product, err := s.products.FindByID(ctx, key)
	if err == nil {
		return product, nil
	}
	if !isRepoNotFound(err) {
		return Product{}, fmt.Errorf("catalog: load product: %w", err)
	}

	product, err = s.products.FindBySlug(ctx, textutil.NormalizeSlug(key))
	if err != nil {
		if isRepoNotFound(err) {
			return Product{}, fmt.Errorf("%w: product %s", ErrCatalogNotFound, key)
		}
		return Product{}, fmt.Errorf("catalog: load product by slug: %w", err)
	}
	return product, nil
}

func (s *catalogService) ListProducts(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[Product], error) {
	page, err := s.products.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Product]{}, fmt.Errorf("catalog: list products: %w", err)
	}
	return page, nil
}

func (s *catalogService) ListVariants(ctx context.Context, productID string) ([]Variant, error) {
	if strings.TrimSpace(productID) == "" {
		return nil, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	if _, err := s.products.FindByID(ctx, productID); err != nil {
		if isRepoNotFound(err) {
			return nil, fmt.Errorf("%w: product %s", ErrCatalogNotFound, productID)
		}
		return nil, fmt.Errorf("catalog: load product: %w", err)
	}
	variants, err := s.variants.ListByProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list variants: %w", err)
	}
	return variants, nil
}

// ResolveVariant maps a complete option selection to the unique variant that
// carries it. A missing selection for any declared option is incomplete; an
// unknown option or value is not found; more than one match is ambiguous.
func (s *catalogService) ResolveVariant(ctx context.Context, cmd ResolveVariantCommand) (Variant, error) {
	if strings.TrimSpace(cmd.ProductID) == "" {
		return Variant{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	product, err := s.products.FindByID(ctx, cmd.ProductID)
	if err != nil {
		if isRepoNotFound(err) {
			return Variant{}, fmt.Errorf("%w: product %s", ErrCatalogNotFound, cmd.ProductID)
		}
		return Variant{}, fmt.Errorf("catalog: load product: %w", err)
	}

	want, err := normalizeSelections(product, cmd.Selections)
	if err != nil {
		return Variant{}, err
	}

	variants, err := s.variants.ListByProduct(ctx, product.ID)
	if err != nil {
		return Variant{}, fmt.Errorf("catalog: list variants: %w", err)
	}

	var matches []Variant
	for _, variant := range variants {
		if selectionsEqual(variant.Selections, want) {
			matches = append(matches, variant)
		}
	}
	switch len(matches) {
	case 0:
		return Variant{}, fmt.Errorf("%w: no variant for selection on product %s", ErrCatalogNotFound, product.ID)
	case 1:
		return matches[0], nil
	default:
		skus := make([]string, 0, len(matches))
		for _, m := range matches {
			skus = append(skus, m.SKU)
		}
		s.logger(ctx, "catalog.variant_resolution_ambiguous", map[string]any{
			"product_id": product.ID,
			"skus":       skus,
		})
		return Variant{}, fmt.Errorf("%w: product %s", ErrSelectionAmbiguous, product.ID)
	}
}

// ActiveSale returns the sale covering the current instant. When overlapping
// sales exist the earliest started one wins and the overlap is logged.
func (s *catalogService) ActiveSale(ctx context.Context) (*Sale, error) {
	now := s.now()
	sales, err := s.sales.ListActiveAt(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("catalog: list active sales: %w", err)
	}
	if len(sales) == 0 {
		return nil, nil
	}
	if len(sales) > 1 {
		ids := make([]string, 0, len(sales))
		for _, sale := range sales {
			ids = append(ids, sale.ID)
		}
		s.logger(ctx, "catalog.overlapping_sales", map[string]any{
			"sale_ids": ids,
			"at":       now.Format(time.RFC3339),
		})
	}
	winner := sales[0]
	return &winner, nil
}

// normalizeSelections validates the buyer's choices against the product's
// declared options and returns them sorted by option ID.
func normalizeSelections(product Product, selections map[string]string) ([]OptionSelection, error) {
	declared := make(map[string]map[string]bool, len(product.Options))
	for _, opt := range product.Options {
		values := make(map[string]bool, len(opt.Values))
		for _, v := range opt.Values {
			values[v.ID] = true
		}
		declared[opt.ID] = values
	}

	var missing []string
	for _, opt := range product.Options {
		if _, ok := selections[opt.ID]; !ok {
			missing = append(missing, opt.Name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: missing %s", ErrSelectionIncomplete, strings.Join(missing, ", "))
	}

	normalized := make([]OptionSelection, 0, len(selections))
	for optionID, valueID := range selections {
		values, ok := declared[optionID]
		if !ok {
			return nil, fmt.Errorf("%w: option %s", ErrCatalogNotFound, optionID)
		}
		if !values[valueID] {
			return nil, fmt.Errorf("%w: value %s for option %s", ErrCatalogNotFound, valueID, optionID)
		}
		normalized = append(normalized, OptionSelection{OptionID: optionID, ValueID: valueID})
	}
	sort.Slice(normalized, func(i, j int) bool {
		return normalized[i].OptionID < normalized[j].OptionID
	})
	return normalized, nil
}

// selectionsEqual compares two selection lists already sorted by option ID.
func selectionsEqual(a, b []OptionSelection) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// isRepoNotFound reports whether err is a repository not-found failure.
func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
