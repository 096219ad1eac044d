package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/maplewear/api/internal/platform/httpx"
	"github.com/maplewear/api/internal/repositories"
	"github.com/maplewear/api/internal/services"
)

const (
	defaultCatalogPageSize   = 20
	maxCatalogPageSize       = 100
	maxResolveVariantBodSize = 8 * 1024
)

// CatalogHandlers exposes the public product browsing endpoints.
type CatalogHandlers struct {
	catalog services.CatalogService
	pricing services.PricingService
}

// NewCatalogHandlers constructs a new CatalogHandlers instance.
func NewCatalogHandlers(catalog services.CatalogService, pricing services.PricingService) *CatalogHandlers {
	return &CatalogHandlers{
		catalog: catalog,
		pricing: pricing,
	}
}

// Routes registers the public catalog endpoints.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/products", h.listProducts)
	r.Get("/products/{productID}", h.getProduct)
	r.Get("/products/{productID}/variants", h.listVariants)
	r.Post("/products/{productID}:resolve-variant", h.resolveVariant)
	r.Get("/variants/{variantID}/price", h.getVariantPrice)
	r.Get("/sale", h.getActiveSale)
}

func (h *CatalogHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"), defaultCatalogPageSize, maxCatalogPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := repositories.ProductListFilter{
		CategoryID: strings.TrimSpace(query.Get("category_id")),
		BrandID:    strings.TrimSpace(query.Get("brand_id")),
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}

	page, err := h.catalog.ListProducts(ctx, filter)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]productPayload, 0, len(page.Items))
	for _, product := range page.Items {
		items = append(items, buildProductPayload(product))
	}
	writeJSONResponse(w, http.StatusOK, productListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *CatalogHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	idOrSlug := strings.TrimSpace(chi.URLParam(r, "productID"))
	if idOrSlug == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.GetProduct(ctx, idOrSlug)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *CatalogHandlers) listVariants(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	variants, err := h.catalog.ListVariants(ctx, productID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]variantPayload, 0, len(variants))
	for _, variant := range variants {
		items = append(items, buildVariantPayload(variant))
	}
	writeJSONResponse(w, http.StatusOK, variantListResponse{Items: items})
}

type resolveVariantRequest struct {
	Selections map[string]string `json:"selections"`
}

func (h *CatalogHandlers) resolveVariant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	var req resolveVariantRequest
	if err := decodeJSONBody(r, maxResolveVariantBodSize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	variant, err := h.catalog.ResolveVariant(ctx, services.ResolveVariantCommand{
		ProductID:  productID,
		Selections: req.Selections,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	payload := variantResponse{Variant: buildVariantPayload(variant)}
	if h.pricing != nil {
		if quote, err := h.pricing.QuoteVariant(ctx, variant.ID); err == nil {
			price := buildPricePayload(quote)
			payload.Price = &price
		}
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *CatalogHandlers) getVariantPrice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.pricing == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pricing_service_unavailable", "pricing service unavailable", http.StatusServiceUnavailable))
		return
	}

	variantID := strings.TrimSpace(chi.URLParam(r, "variantID"))
	if variantID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "variant id is required", http.StatusBadRequest))
		return
	}

	quote, err := h.pricing.QuoteVariant(ctx, variantID)
	if err != nil {
		writePricingError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, priceResponse{Price: buildPricePayload(quote)})
}

func (h *CatalogHandlers) getActiveSale(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	sale, err := h.catalog.ActiveSale(ctx)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	var payload *salePayload
	if sale != nil {
		built := buildSalePayload(*sale)
		payload = &built
	}
	writeJSONResponse(w, http.StatusOK, saleResponse{Sale: payload})
}

type productListResponse struct {
	Items         []productPayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type productResponse struct {
	Product productPayload `json:"product"`
}

type productPayload struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name"`
	Slug             string                 `json:"slug,omitempty"`
	CategoryID       string                 `json:"category_id,omitempty"`
	BrandID          string                 `json:"brand_id,omitempty"`
	Description      string                 `json:"description,omitempty"`
	Options          []productOptionPayload `json:"options,omitempty"`
	ReturnWindowDays int                    `json:"return_window_days,omitempty"`
	CreatedAt        string                 `json:"created_at,omitempty"`
	UpdatedAt        string                 `json:"updated_at,omitempty"`
}

type productOptionPayload struct {
	ID     string               `json:"id"`
	Name   string               `json:"name"`
	Values []optionValuePayload `json:"values"`
}

type optionValuePayload struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

type variantListResponse struct {
	Items []variantPayload `json:"items"`
}

type variantResponse struct {
	Variant variantPayload `json:"variant"`
	Price   *pricePayload  `json:"price,omitempty"`
}

type variantPayload struct {
	ID         string                    `json:"id"`
	ProductID  string                    `json:"product_id"`
	SKU        string                    `json:"sku"`
	Price      int64                     `json:"price"`
	Stock      int64                     `json:"stock"`
	Selections []variantSelectionPayload `json:"selections,omitempty"`
}

type variantSelectionPayload struct {
	OptionID string `json:"option_id"`
	ValueID  string `json:"value_id"`
}

type priceResponse struct {
	Price pricePayload `json:"price"`
}

type pricePayload struct {
	VariantID       string `json:"variant_id"`
	Price           int64  `json:"price"`
	OriginalPrice   int64  `json:"original_price"`
	DiscountPercent *int   `json:"discount_percent,omitempty"`
	SaleID          string `json:"sale_id,omitempty"`
}

type saleResponse struct {
	Sale *salePayload `json:"sale"`
}

type salePayload struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Value    int64  `json:"value"`
	StartsAt string `json:"starts_at"`
	EndsAt   string `json:"ends_at"`
}

func buildProductPayload(product services.Product) productPayload {
	payload := productPayload{
		ID:               strings.TrimSpace(product.ID),
		Name:             strings.TrimSpace(product.Name),
		Slug:             strings.TrimSpace(product.Slug),
		CategoryID:       strings.TrimSpace(product.CategoryID),
		BrandID:          strings.TrimSpace(product.BrandID),
		Description:      strings.TrimSpace(product.Description),
		ReturnWindowDays: product.ReturnWindowDays,
		CreatedAt:        formatTime(product.CreatedAt),
		UpdatedAt:        formatTime(product.UpdatedAt),
	}
	for _, option := range product.Options {
		entry := productOptionPayload{
			ID:     option.ID,
			Name:   option.Name,
			Values: make([]optionValuePayload, 0, len(option.Values)),
		}
		for _, value := range option.Values {
			entry.Values = append(entry.Values, optionValuePayload{ID: value.ID, Value: value.Value})
		}
		payload.Options = append(payload.Options, entry)
	}
	return payload
}

func buildVariantPayload(variant services.Variant) variantPayload {
	payload := variantPayload{
		ID:        strings.TrimSpace(variant.ID),
		ProductID: strings.TrimSpace(variant.ProductID),
		SKU:       strings.TrimSpace(variant.SKU),
		Price:     variant.Price,
		Stock:     variant.Stock,
	}
	for _, selection := range variant.Selections {
		payload.Selections = append(payload.Selections, variantSelectionPayload{
			OptionID: selection.OptionID,
			ValueID:  selection.ValueID,
		})
	}
	return payload
}

func buildPricePayload(quote services.PriceQuote) pricePayload {
	return pricePayload{
		VariantID:       quote.VariantID,
		Price:           quote.Price,
		OriginalPrice:   quote.OriginalPrice,
		DiscountPercent: quote.DiscountPercent,
		SaleID:          quote.SaleID,
	}
}

func buildSalePayload(sale services.Sale) salePayload {
	return salePayload{
		ID:       sale.ID,
		Name:     sale.Name,
		Type:     string(sale.Type),
		Value:    sale.Value,
		StartsAt: formatTime(sale.StartsAt),
		EndsAt:   formatTime(sale.EndsAt),
	}
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrSelectionIncomplete):
		httpx.WriteError(ctx, w, httpx.NewError("incomplete_selection", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrSelectionAmbiguous):
		httpx.WriteError(ctx, w, httpx.NewError("ambiguous_selection", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "resource not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to process catalog request", http.StatusInternalServerError))
	}
}

func writePricingError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrPricingVariantNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "variant not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPricingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("pricing_error", "failed to price variant", http.StatusInternalServerError))
	}
}
