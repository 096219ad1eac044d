package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/maplewear/api/internal/domain"
	"github.com/maplewear/api/internal/repositories"
	"github.com/maplewear/api/internal/services"
)

type stubCatalogService struct {
	getProductFunc     func(ctx context.Context, idOrSlug string) (services.Product, error)
	listProductsFunc   func(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[services.Product], error)
	listVariantsFunc   func(ctx context.Context, productID string) ([]services.Variant, error)
	resolveVariantFunc func(ctx context.Context, cmd services.ResolveVariantCommand) (services.Variant, error)
	activeSaleFunc     func(ctx context.Context) (*services.Sale, error)
}

func (s *stubCatalogService) GetProduct(ctx context.Context, idOrSlug string) (services.Product, error) {
	if s.getProductFunc != nil {
		return s.getProductFunc(ctx, idOrSlug)
	}
	return services.Product{}, services.ErrCatalogNotFound
}

func (s *stubCatalogService) ListProducts(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[services.Product], error) {
	if s.listProductsFunc != nil {
		return s.listProductsFunc(ctx, filter)
	}
	return domain.CursorPage[services.Product]{}, nil
}

func (s *stubCatalogService) ListVariants(ctx context.Context, productID string) ([]services.Variant, error) {
	if s.listVariantsFunc != nil {
		return s.listVariantsFunc(ctx, productID)
	}
	return nil, nil
}

func (s *stubCatalogService) ResolveVariant(ctx context.Context, cmd services.ResolveVariantCommand) (services.Variant, error) {
	if s.resolveVariantFunc != nil {
		return s.resolveVariantFunc(ctx, cmd)
	}
	return services.Variant{}, services.ErrCatalogNotFound
}

func (s *stubCatalogService) ActiveSale(ctx context.Context) (*services.Sale, error) {
	if s.activeSaleFunc != nil {
		return s.activeSaleFunc(ctx)
	}
	return nil, nil
}

type stubPricingService struct {
	quoteVariantFunc func(ctx context.Context, variantID string) (services.PriceQuote, error)
}

func (s *stubPricingService) Quote(variant services.Variant, sale *services.Sale, now time.Time) services.PriceQuote {
	return services.PriceQuote{VariantID: variant.ID, Price: variant.Price, OriginalPrice: variant.Price}
}

func (s *stubPricingService) QuoteVariant(ctx context.Context, variantID string) (services.PriceQuote, error) {
	if s.quoteVariantFunc != nil {
		return s.quoteVariantFunc(ctx, variantID)
	}
	return services.PriceQuote{}, services.ErrPricingVariantNotFound
}

func newCatalogRouter(h *CatalogHandlers) chi.Router {
	router := chi.NewRouter()
	h.Routes(router)
	return router
}

func TestCatalogHandlersResolveVariantSuccess(t *testing.T) {
	catalog := &stubCatalogService{
		resolveVariantFunc: func(_ context.Context, cmd services.ResolveVariantCommand) (services.Variant, error) {
			if cmd.ProductID != "prod_tee" {
				t.Fatalf("unexpected product id %q", cmd.ProductID)
			}
			if cmd.Selections["opt_size"] != "val_m" {
				t.Fatalf("unexpected selections %v", cmd.Selections)
			}
			return services.Variant{ID: "var_2", ProductID: "prod_tee", SKU: "TEE-M-BLUE", Price: 2500, Stock: 3}, nil
		},
	}
	pricing := &stubPricingService{
		quoteVariantFunc: func(_ context.Context, variantID string) (services.PriceQuote, error) {
			discount := 20
			return services.PriceQuote{VariantID: variantID, Price: 2000, OriginalPrice: 2500, DiscountPercent: &discount, SaleID: "sale_1"}, nil
		},
	}

	router := newCatalogRouter(NewCatalogHandlers(catalog, pricing))

	body := strings.NewReader(`{"selections":{"opt_size":"val_m","opt_color":"val_blue"}}`)
	req := httptest.NewRequest(http.MethodPost, "/products/prod_tee:resolve-variant", body)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp variantResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Variant.ID != "var_2" || resp.Variant.SKU != "TEE-M-BLUE" {
		t.Fatalf("unexpected variant %+v", resp.Variant)
	}
	if resp.Price == nil || resp.Price.Price != 2000 || resp.Price.SaleID != "sale_1" {
		t.Fatalf("unexpected price %+v", resp.Price)
	}
}

func TestCatalogHandlersResolveVariantIncomplete(t *testing.T) {
	catalog := &stubCatalogService{
		resolveVariantFunc: func(context.Context, services.ResolveVariantCommand) (services.Variant, error) {
			return services.Variant{}, services.ErrSelectionIncomplete
		},
	}
	router := newCatalogRouter(NewCatalogHandlers(catalog, nil))

	req := httptest.NewRequest(http.MethodPost, "/products/prod_tee:resolve-variant", strings.NewReader(`{"selections":{}}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "incomplete_selection") {
		t.Fatalf("expected incomplete_selection code, got %s", rr.Body.String())
	}
}

func TestCatalogHandlersResolveVariantAmbiguous(t *testing.T) {
	catalog := &stubCatalogService{
		resolveVariantFunc: func(context.Context, services.ResolveVariantCommand) (services.Variant, error) {
			return services.Variant{}, services.ErrSelectionAmbiguous
		},
	}
	router := newCatalogRouter(NewCatalogHandlers(catalog, nil))

	req := httptest.NewRequest(http.MethodPost, "/products/prod_tee:resolve-variant", strings.NewReader(`{"selections":{"opt_size":"val_m"}}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "ambiguous_selection") {
		t.Fatalf("expected ambiguous_selection code, got %s", rr.Body.String())
	}
}

func TestCatalogHandlersGetProductNotFound(t *testing.T) {
	router := newCatalogRouter(NewCatalogHandlers(&stubCatalogService{}, nil))

	req := httptest.NewRequest(http.MethodGet, "/products/missing", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestCatalogHandlersActiveSaleEmpty(t *testing.T) {
	router := newCatalogRouter(NewCatalogHandlers(&stubCatalogService{}, nil))

	req := httptest.NewRequest(http.MethodGet, "/sale", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp saleResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Sale != nil {
		t.Fatalf("expected null sale, got %+v", resp.Sale)
	}
}

func TestCatalogHandlersVariantPrice(t *testing.T) {
	pricing := &stubPricingService{
		quoteVariantFunc: func(_ context.Context, variantID string) (services.PriceQuote, error) {
			return services.PriceQuote{VariantID: variantID, Price: 2500, OriginalPrice: 2500}, nil
		},
	}
	router := newCatalogRouter(NewCatalogHandlers(&stubCatalogService{}, pricing))

	req := httptest.NewRequest(http.MethodGet, "/variants/var_1/price", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp priceResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Price.VariantID != "var_1" || resp.Price.Price != 2500 {
		t.Fatalf("unexpected price %+v", resp.Price)
	}
	if resp.Price.DiscountPercent != nil {
		t.Fatalf("expected no discount, got %v", *resp.Price.DiscountPercent)
	}
}
