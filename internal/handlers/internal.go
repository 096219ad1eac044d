package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/maplewear/api/internal/domain"
	"github.com/maplewear/api/internal/platform/httpx"
	"github.com/maplewear/api/internal/services"
)

const maxInternalBodySize = 16 * 1024

// InternalHandlers exposes service-to-service endpoints consumed by the
// fulfillment pipeline. Caller authentication (OIDC or signed requests)
// happens at the router group level, so handlers here only validate input.
type InternalHandlers struct {
	orders services.OrderService
}

// NewInternalHandlers constructs a new InternalHandlers instance.
func NewInternalHandlers(orders services.OrderService) *InternalHandlers {
	return &InternalHandlers{orders: orders}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/shipping/status", h.shippingStatus)
}

type shippingStatusRequest struct {
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
}

// shippingStatus ingests carrier status callbacks and advances the order
// state machine. Carriers report "shipped" for handoff and "delivered" on
// completion; both map onto the same transitions operators use.
func (h *InternalHandlers) shippingStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req shippingStatusRequest
	if err := decodeJSONBody(r, maxInternalBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order_id is required", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is required", http.StatusBadRequest))
		return
	}

	actor := "carrier"
	if carrier := strings.TrimSpace(req.Carrier); carrier != "" {
		actor = "carrier:" + carrier
	}
	metadata := map[string]any{"source": "shipping_callback"}
	if carrier := strings.TrimSpace(req.Carrier); carrier != "" {
		metadata["carrier"] = carrier
	}
	if tracking := strings.TrimSpace(req.TrackingNumber); tracking != "" {
		metadata["tracking_number"] = tracking
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		OrderID:  strings.TrimSpace(req.OrderID),
		Target:   domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		ActorID:  actor,
		Metadata: metadata,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}
