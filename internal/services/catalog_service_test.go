package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/maplewear/api/internal/domain"
	"github.com/maplewear/api/internal/repositories"
)

type repoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repoError) Error() string       { return e.msg }
func (e *repoError) IsNotFound() bool    { return e.notFound }
func (e *repoError) IsConflict() bool    { return e.conflict }
func (e *repoError) IsUnavailable() bool { return e.unavailable }

func notFoundErr(msg string) error { return &repoError{msg: msg, notFound: true} }
func conflictErr(msg string) error { return &repoError{msg: msg, conflict: true} }

type stubProductRepo struct {
	findFn     func(context.Context, string) (domain.Product, error)
	findSlugFn func(context.Context, string) (domain.Product, error)
	listFn     func(context.Context, repositories.ProductListFilter) (domain.CursorPage[domain.Product], error)
}

func (s *stubProductRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findFn != nil {
		return s.findFn(ctx, productID)
	}
	return domain.Product{}, notFoundErr("product not found")
}

func (s *stubProductRepo) FindBySlug(ctx context.Context, slug string) (domain.Product, error) {
	if s.findSlugFn != nil {
		return s.findSlugFn(ctx, slug)
	}
	return domain.Product{}, notFoundErr("product not found")
}

func (s *stubProductRepo) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Product]{}, nil
}

type stubVariantRepo struct {
	findFn          func(context.Context, string) (domain.Variant, error)
	findSKUFn       func(context.Context, string) (domain.Variant, error)
	listByProductFn func(context.Context, string) ([]domain.Variant, error)
	listByIDsFn     func(context.Context, []string) ([]domain.Variant, error)
	decrementFn     func(context.Context, repositories.StockAdjustmentRequest) (repositories.StockAdjustmentResult, error)
	restoreFn       func(context.Context, repositories.StockAdjustmentRequest) (repositories.StockAdjustmentResult, error)
}

func (s *stubVariantRepo) FindByID(ctx context.Context, variantID string) (domain.Variant, error) {
	if s.findFn != nil {
		return s.findFn(ctx, variantID)
	}
	return domain.Variant{}, notFoundErr("variant not found")
}

func (s *stubVariantRepo) FindBySKU(ctx context.Context, sku string) (domain.Variant, error) {
	if s.findSKUFn != nil {
		return s.findSKUFn(ctx, sku)
	}
	return domain.Variant{}, notFoundErr("variant not found")
}

func (s *stubVariantRepo) ListByProduct(ctx context.Context, productID string) ([]domain.Variant, error) {
	if s.listByProductFn != nil {
		return s.listByProductFn(ctx, productID)
	}
	return nil, nil
}

func (s *stubVariantRepo) ListByIDs(ctx context.Context, variantIDs []string) ([]domain.Variant, error) {
	if s.listByIDsFn != nil {
		return s.listByIDsFn(ctx, variantIDs)
	}
	return nil, nil
}

func (s *stubVariantRepo) DecrementStock(ctx context.Context, req repositories.StockAdjustmentRequest) (repositories.StockAdjustmentResult, error) {
	if s.decrementFn != nil {
		return s.decrementFn(ctx, req)
	}
	return repositories.StockAdjustmentResult{}, nil
}

func (s *stubVariantRepo) RestoreStock(ctx context.Context, req repositories.StockAdjustmentRequest) (repositories.StockAdjustmentResult, error) {
	if s.restoreFn != nil {
		return s.restoreFn(ctx, req)
	}
	return repositories.StockAdjustmentResult{}, nil
}

type stubSaleRepo struct {
	findFn       func(context.Context, string) (domain.Sale, error)
	listActiveFn func(context.Context, time.Time) ([]domain.Sale, error)
	listFn       func(context.Context, repositories.SaleListFilter) (domain.CursorPage[domain.Sale], error)
}

func (s *stubSaleRepo) FindByID(ctx context.Context, saleID string) (domain.Sale, error) {
	if s.findFn != nil {
		return s.findFn(ctx, saleID)
	}
	return domain.Sale{}, notFoundErr("sale not found")
}

func (s *stubSaleRepo) ListActiveAt(ctx context.Context, at time.Time) ([]domain.Sale, error) {
	if s.listActiveFn != nil {
		return s.listActiveFn(ctx, at)
	}
	return nil, nil
}

func (s *stubSaleRepo) List(ctx context.Context, filter repositories.SaleListFilter) (domain.CursorPage[domain.Sale], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Sale]{}, nil
}

func testProduct() domain.Product {
	return domain.Product{
		ID:   "prod_tee",
		Name: "Maple Tee",
		Slug: "maple-tee",
		Options: []domain.ProductOption{
			{ID: "opt_size", Name: "Size", Values: []domain.OptionValue{{ID: "val_s", Value: "S"}, {ID: "val_m", Value: "M"}}},
			{ID: "opt_color", Name: "Color", Values: []domain.OptionValue{{ID: "val_red", Value: "Red"}, {ID: "val_blue", Value: "Blue"}}},
		},
		ReturnWindowDays: 14,
	}
}

func testVariants() []domain.Variant {
	return []domain.Variant{
		{
			ID: "var_1", ProductID: "prod_tee", SKU: "TEE-S-RED", Price: 2500, Stock: 10,
			Selections: []domain.OptionSelection{{OptionID: "opt_color", ValueID: "val_red"}, {OptionID: "opt_size", ValueID: "val_s"}},
		},
		{
			ID: "var_2", ProductID: "prod_tee", SKU: "TEE-M-BLUE", Price: 2500, Stock: 3,
			Selections: []domain.OptionSelection{{OptionID: "opt_color", ValueID: "val_blue"}, {OptionID: "opt_size", ValueID: "val_m"}},
		},
	}
}

func newTestCatalogService(t *testing.T, products repositories.ProductRepository, variants repositories.VariantRepository, sales repositories.SaleRepository, now time.Time) CatalogService {
	t.Helper()
	svc, err := NewCatalogService(CatalogServiceDeps{
		Products: products,
		Variants: variants,
		Sales:    sales,
		Now:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}
	return svc
}

func TestResolveVariantMatchesUniqueVariant(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	products := &stubProductRepo{findFn: func(context.Context, string) (domain.Product, error) {
		return testProduct(), nil
	}}
	variants := &stubVariantRepo{listByProductFn: func(context.Context, string) ([]domain.Variant, error) {
		return testVariants(), nil
	}}

	svc := newTestCatalogService(t, products, variants, &stubSaleRepo{}, now)

	got, err := svc.ResolveVariant(ctx, ResolveVariantCommand{
		ProductID:  "prod_tee",
		Selections: map[string]string{"opt_size": "val_m", "opt_color": "val_blue"},
	})
	if err != nil {
		t.Fatalf("ResolveVariant: %v", err)
	}
	if got.ID != "var_2" {
		t.Fatalf("expected var_2, got %s", got.ID)
	}
}

func TestResolveVariantIncompleteSelection(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	products := &stubProductRepo{findFn: func(context.Context, string) (domain.Product, error) {
		return testProduct(), nil
	}}

	svc := newTestCatalogService(t, products, &stubVariantRepo{}, &stubSaleRepo{}, now)

	_, err := svc.ResolveVariant(ctx, ResolveVariantCommand{
		ProductID:  "prod_tee",
		Selections: map[string]string{"opt_size": "val_m"},
	})
	if !errors.Is(err, ErrSelectionIncomplete) {
		t.Fatalf("expected ErrSelectionIncomplete, got %v", err)
	}
}

func TestResolveVariantUnknownOptionAndValue(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	products := &stubProductRepo{findFn: func(context.Context, string) (domain.Product, error) {
		return testProduct(), nil
	}}

	svc := newTestCatalogService(t, products, &stubVariantRepo{}, &stubSaleRepo{}, now)

	_, err := svc.ResolveVariant(ctx, ResolveVariantCommand{
		ProductID:  "prod_tee",
		Selections: map[string]string{"opt_size": "val_m", "opt_color": "val_blue", "opt_fit": "val_slim"},
	})
	if !errors.Is(err, ErrCatalogNotFound) {
		t.Fatalf("expected ErrCatalogNotFound for unknown option, got %v", err)
	}

	_, err = svc.ResolveVariant(ctx, ResolveVariantCommand{
		ProductID:  "prod_tee",
		Selections: map[string]string{"opt_size": "val_m", "opt_color": "val_green"},
	})
	if !errors.Is(err, ErrCatalogNotFound) {
		t.Fatalf("expected ErrCatalogNotFound for unknown value, got %v", err)
	}
}

func TestResolveVariantNoMatch(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	products := &stubProductRepo{findFn: func(context.Context, string) (domain.Product, error) {
		return testProduct(), nil
	}}
	variants := &stubVariantRepo{listByProductFn: func(context.Context, string) ([]domain.Variant, error) {
		return testVariants(), nil
	}}

	svc := newTestCatalogService(t, products, variants, &stubSaleRepo{}, now)

	_, err := svc.ResolveVariant(ctx, ResolveVariantCommand{
		ProductID:  "prod_tee",
		Selections: map[string]string{"opt_size": "val_s", "opt_color": "val_blue"},
	})
	if !errors.Is(err, ErrCatalogNotFound) {
		t.Fatalf("expected ErrCatalogNotFound, got %v", err)
	}
}

func TestResolveVariantAmbiguousMatch(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	duplicated := testVariants()
	clone := duplicated[1]
	clone.ID = "var_3"
	clone.SKU = "TEE-M-BLUE-DUP"
	duplicated = append(duplicated, clone)

	products := &stubProductRepo{findFn: func(context.Context, string) (domain.Product, error) {
		return testProduct(), nil
	}}
	variants := &stubVariantRepo{listByProductFn: func(context.Context, string) ([]domain.Variant, error) {
		return duplicated, nil
	}}

	svc := newTestCatalogService(t, products, variants, &stubSaleRepo{}, now)

	_, err := svc.ResolveVariant(ctx, ResolveVariantCommand{
		ProductID:  "prod_tee",
		Selections: map[string]string{"opt_size": "val_m", "opt_color": "val_blue"},
	})
	if !errors.Is(err, ErrSelectionAmbiguous) {
		t.Fatalf("expected ErrSelectionAmbiguous, got %v", err)
	}
}

func TestGetProductFallsBackToSlug(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	products := &stubProductRepo{
		findFn: func(context.Context, string) (domain.Product, error) {
			return domain.Product{}, notFoundErr("no id")
		},
		findSlugFn: func(_ context.Context, slug string) (domain.Product, error) {
			if slug != "maple-tee" {
				return domain.Product{}, notFoundErr("no slug")
			}
			return testProduct(), nil
		},
	}

	svc := newTestCatalogService(t, products, &stubVariantRepo{}, &stubSaleRepo{}, now)

	got, err := svc.GetProduct(ctx, "maple-tee")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if got.ID != "prod_tee" {
		t.Fatalf("expected prod_tee, got %s", got.ID)
	}
}

func TestActiveSalePrefersEarliestStart(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	sales := &stubSaleRepo{listActiveFn: func(context.Context, time.Time) ([]domain.Sale, error) {
		return []domain.Sale{
			{ID: "sale_early", StartsAt: now.Add(-48 * time.Hour), EndsAt: now.Add(24 * time.Hour), Status: domain.SaleStatusActive, Type: domain.SaleTypePercentage, Value: 10},
			{ID: "sale_late", StartsAt: now.Add(-2 * time.Hour), EndsAt: now.Add(24 * time.Hour), Status: domain.SaleStatusActive, Type: domain.SaleTypePercentage, Value: 20},
		}, nil
	}}

	svc := newTestCatalogService(t, &stubProductRepo{}, &stubVariantRepo{}, sales, now)

	sale, err := svc.ActiveSale(ctx)
	if err != nil {
		t.Fatalf("ActiveSale: %v", err)
	}
	if sale == nil || sale.ID != "sale_early" {
		t.Fatalf("expected sale_early, got %+v", sale)
	}
}

func TestActiveSaleNoneActive(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	svc := newTestCatalogService(t, &stubProductRepo{}, &stubVariantRepo{}, &stubSaleRepo{}, now)

	sale, err := svc.ActiveSale(ctx)
	if err != nil {
		t.Fatalf("ActiveSale: %v", err)
	}
	if sale != nil {
		t.Fatalf("expected nil sale, got %+v", sale)
	}
}
