package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/maplewear/api/internal/platform/auth"
	"github.com/maplewear/api/internal/platform/httpx"
	"github.com/maplewear/api/internal/services"
)

const maxCartBodySize = 4 * 1024

// CartHandlers exposes the authenticated cart endpoints. Every route acts on
// the caller's own cart; the cart identifier never appears in the URL.
type CartHandlers struct {
	authn *auth.Authenticator
	cart  services.CartService
}

// NewCartHandlers constructs a new CartHandlers instance.
func NewCartHandlers(authn *auth.Authenticator, cart services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		cart:  cart,
	}
}

// Routes registers the /cart endpoints.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{variantID}", h.updateItem)
	r.Delete("/items/{variantID}", h.removeItem)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cart == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	snapshot, err := h.cart.Snapshot(ctx, identity.UID)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartSnapshotPayload(snapshot))
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cart == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	if err := h.cart.ClearCart(ctx, identity.UID); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type cartItemRequest struct {
	VariantID string `json:"variant_id"`
	Quantity  int64  `json:"quantity"`
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cart == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req cartItemRequest
	if err := decodeJSONBody(r, maxCartBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	if _, err := h.cart.AddItem(ctx, services.AddCartItemCommand{
		UserID:    identity.UID,
		VariantID: strings.TrimSpace(req.VariantID),
		Quantity:  req.Quantity,
	}); err != nil {
		writeCartError(ctx, w, err)
		return
	}

	h.respondWithSnapshot(ctx, w, identity.UID)
}

type cartQuantityRequest struct {
	Quantity int64 `json:"quantity"`
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cart == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	variantID := strings.TrimSpace(chi.URLParam(r, "variantID"))
	if variantID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "variant id is required", http.StatusBadRequest))
		return
	}

	var req cartQuantityRequest
	if err := decodeJSONBody(r, maxCartBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	if _, err := h.cart.UpdateItemQuantity(ctx, services.UpdateCartItemCommand{
		UserID:    identity.UID,
		VariantID: variantID,
		Quantity:  req.Quantity,
	}); err != nil {
		writeCartError(ctx, w, err)
		return
	}

	h.respondWithSnapshot(ctx, w, identity.UID)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cart == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	variantID := strings.TrimSpace(chi.URLParam(r, "variantID"))
	if variantID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "variant id is required", http.StatusBadRequest))
		return
	}

	if _, err := h.cart.RemoveItem(ctx, services.RemoveCartItemCommand{
		UserID:    identity.UID,
		VariantID: variantID,
	}); err != nil {
		writeCartError(ctx, w, err)
		return
	}

	h.respondWithSnapshot(ctx, w, identity.UID)
}

// respondWithSnapshot re-reads the cart so mutations answer with the same
// priced view GET returns.
func (h *CartHandlers) respondWithSnapshot(ctx context.Context, w http.ResponseWriter, userID string) {
	snapshot, err := h.cart.Snapshot(ctx, userID)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartSnapshotPayload(snapshot))
}

type cartSnapshotResponse struct {
	UserID      string                    `json:"user_id"`
	Items       []cartSnapshotItemPayload `json:"items"`
	Count       int64                     `json:"count"`
	Subtotal    int64                     `json:"subtotal"`
	EvaluatedAt string                    `json:"evaluated_at"`
}

type cartSnapshotItemPayload struct {
	VariantID       string `json:"variant_id"`
	ProductID       string `json:"product_id"`
	SKU             string `json:"sku"`
	Name            string `json:"name,omitempty"`
	Quantity        int64  `json:"quantity"`
	UnitPrice       int64  `json:"unit_price"`
	OriginalPrice   int64  `json:"original_price"`
	DiscountPercent *int   `json:"discount_percent,omitempty"`
	LineTotal       int64  `json:"line_total"`
}

func buildCartSnapshotPayload(snapshot services.CartSnapshot) cartSnapshotResponse {
	response := cartSnapshotResponse{
		UserID:      snapshot.UserID,
		Items:       make([]cartSnapshotItemPayload, 0, len(snapshot.Items)),
		Count:       snapshot.Count,
		Subtotal:    snapshot.Subtotal,
		EvaluatedAt: formatTime(snapshot.EvaluatedAt),
	}
	for _, item := range snapshot.Items {
		response.Items = append(response.Items, cartSnapshotItemPayload{
			VariantID:       item.VariantID,
			ProductID:       item.ProductID,
			SKU:             item.SKU,
			Name:            item.Name,
			Quantity:        item.Quantity,
			UnitPrice:       item.UnitPrice,
			OriginalPrice:   item.OriginalPrice,
			DiscountPercent: item.DiscountPercent,
			LineTotal:       item.LineTotal,
		})
	}
	return response
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCartInvalidQuantity):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_quantity", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartVariantNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("variant_not_found", "variant not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("item_not_found", "cart item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartOutOfStock):
		httpx.WriteError(ctx, w, httpx.NewError("out_of_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", "cart was modified concurrently, retry", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to process cart request", http.StatusInternalServerError))
	}
}
