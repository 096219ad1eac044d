package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/maplewear/api/internal/platform/auth"
	"github.com/maplewear/api/internal/services"
)

type stubCartService struct {
	getOrCreateFunc func(ctx context.Context, userID string) (services.Cart, error)
	addItemFunc     func(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error)
	updateItemFunc  func(ctx context.Context, cmd services.UpdateCartItemCommand) (services.Cart, error)
	removeItemFunc  func(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error)
	snapshotFunc    func(ctx context.Context, userID string) (services.CartSnapshot, error)
	clearFunc       func(ctx context.Context, userID string) error
}

func (s *stubCartService) GetOrCreateCart(ctx context.Context, userID string) (services.Cart, error) {
	if s.getOrCreateFunc != nil {
		return s.getOrCreateFunc(ctx, userID)
	}
	return services.Cart{ID: userID, UserID: userID}, nil
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
	if s.addItemFunc != nil {
		return s.addItemFunc(ctx, cmd)
	}
	return services.Cart{}, nil
}

func (s *stubCartService) UpdateItemQuantity(ctx context.Context, cmd services.UpdateCartItemCommand) (services.Cart, error) {
	if s.updateItemFunc != nil {
		return s.updateItemFunc(ctx, cmd)
	}
	return services.Cart{}, nil
}

func (s *stubCartService) RemoveItem(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error) {
	if s.removeItemFunc != nil {
		return s.removeItemFunc(ctx, cmd)
	}
	return services.Cart{}, nil
}

func (s *stubCartService) Snapshot(ctx context.Context, userID string) (services.CartSnapshot, error) {
	if s.snapshotFunc != nil {
		return s.snapshotFunc(ctx, userID)
	}
	return services.CartSnapshot{UserID: userID}, nil
}

func (s *stubCartService) ClearCart(ctx context.Context, userID string) error {
	if s.clearFunc != nil {
		return s.clearFunc(ctx, userID)
	}
	return nil
}

func newCartRouter(h *CartHandlers) chi.Router {
	router := chi.NewRouter()
	router.Route("/cart", h.Routes)
	return router
}

func authedRequest(method, target string, body string, uid string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
}

func TestCartHandlersGetCartReturnsSnapshot(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	discount := 20
	service := &stubCartService{
		snapshotFunc: func(_ context.Context, userID string) (services.CartSnapshot, error) {
			if userID != "user_7" {
				t.Fatalf("unexpected user id %q", userID)
			}
			return services.CartSnapshot{
				UserID: "user_7",
				Items: []services.CartSnapshotItem{
					{VariantID: "var_1", ProductID: "prod_tee", SKU: "TEE-S-RED", Name: "Maple Tee", Quantity: 2, UnitPrice: 2000, OriginalPrice: 2500, DiscountPercent: &discount, LineTotal: 4000},
				},
				Count:       2,
				Subtotal:    4000,
				EvaluatedAt: now,
			}, nil
		},
	}

	router := newCartRouter(NewCartHandlers(nil, service))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/cart", "", "user_7"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp cartSnapshotResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Subtotal != 4000 || resp.Count != 2 {
		t.Fatalf("unexpected totals %+v", resp)
	}
	if len(resp.Items) != 1 || resp.Items[0].LineTotal != 4000 {
		t.Fatalf("unexpected items %+v", resp.Items)
	}
	if resp.Items[0].DiscountPercent == nil || *resp.Items[0].DiscountPercent != 20 {
		t.Fatalf("expected 20%% discount, got %v", resp.Items[0].DiscountPercent)
	}
}

func TestCartHandlersGetCartUnauthenticated(t *testing.T) {
	router := newCartRouter(NewCartHandlers(nil, &stubCartService{}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/cart", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestCartHandlersAddItemRespondsWithSnapshot(t *testing.T) {
	var captured services.AddCartItemCommand
	service := &stubCartService{
		addItemFunc: func(_ context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
			captured = cmd
			return services.Cart{ID: cmd.UserID, UserID: cmd.UserID}, nil
		},
		snapshotFunc: func(_ context.Context, userID string) (services.CartSnapshot, error) {
			return services.CartSnapshot{UserID: userID, Count: 3, Subtotal: 7500}, nil
		},
	}

	router := newCartRouter(NewCartHandlers(nil, service))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/cart/items", `{"variant_id":"var_1","quantity":3}`, "user_7"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.VariantID != "var_1" || captured.Quantity != 3 || captured.UserID != "user_7" {
		t.Fatalf("unexpected command %+v", captured)
	}

	var resp cartSnapshotResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Subtotal != 7500 {
		t.Fatalf("expected subtotal 7500, got %d", resp.Subtotal)
	}
}

func TestCartHandlersAddItemOutOfStock(t *testing.T) {
	service := &stubCartService{
		addItemFunc: func(context.Context, services.AddCartItemCommand) (services.Cart, error) {
			return services.Cart{}, fmt.Errorf("%w: sku TEE-S-RED", services.ErrCartOutOfStock)
		},
	}

	router := newCartRouter(NewCartHandlers(nil, service))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/cart/items", `{"variant_id":"var_1","quantity":99}`, "user_7"))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "out_of_stock") {
		t.Fatalf("expected out_of_stock code, got %s", rr.Body.String())
	}
}

func TestCartHandlersAddItemInvalidQuantity(t *testing.T) {
	service := &stubCartService{
		addItemFunc: func(context.Context, services.AddCartItemCommand) (services.Cart, error) {
			return services.Cart{}, services.ErrCartInvalidQuantity
		},
	}

	router := newCartRouter(NewCartHandlers(nil, service))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/cart/items", `{"variant_id":"var_1","quantity":0}`, "user_7"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "invalid_quantity") {
		t.Fatalf("expected invalid_quantity code, got %s", rr.Body.String())
	}
}

func TestCartHandlersClearCart(t *testing.T) {
	cleared := false
	service := &stubCartService{
		clearFunc: func(_ context.Context, userID string) error {
			cleared = true
			return nil
		},
	}

	router := newCartRouter(NewCartHandlers(nil, service))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodDelete, "/cart", "", "user_7"))

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if !cleared {
		t.Fatalf("expected clear to be invoked")
	}
}

var _ services.CartService = (*stubCartService)(nil)
