package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/maplewear/api/internal/platform/auth"
	"github.com/maplewear/api/internal/platform/httpx"
	"github.com/maplewear/api/internal/services"
)

const (
	defaultReturnPageSize = 20
	maxReturnPageSize     = 100
	maxReturnBodySize     = 8 * 1024

	returnRequestRateLimit  = 10
	returnRequestRateWindow = time.Minute
)

// ReturnHandlers exposes return request endpoints for authenticated users.
type ReturnHandlers struct {
	authn   *auth.Authenticator
	returns services.ReturnService
	limiter rateLimiter
}

// NewReturnHandlers constructs a new ReturnHandlers instance.
func NewReturnHandlers(authn *auth.Authenticator, returns services.ReturnService) *ReturnHandlers {
	return &ReturnHandlers{
		authn:   authn,
		returns: returns,
		limiter: newSimpleRateLimiter(returnRequestRateLimit, returnRequestRateWindow, nil),
	}
}

// Routes registers the /returns endpoints.
func (h *ReturnHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.requestReturn)
	r.Get("/", h.listReturns)
	r.Get("/{returnID}", h.getReturn)
}

type requestReturnRequest struct {
	OrderID     string `json:"order_id"`
	OrderItemID string `json:"order_item_id"`
	Reason      string `json:"reason"`
}

func (h *ReturnHandlers) requestReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	if h.limiter != nil && !h.limiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many return requests, slow down", http.StatusTooManyRequests))
		return
	}

	var req requestReturnRequest
	if err := decodeJSONBody(r, maxReturnBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	ret, err := h.returns.RequestReturn(ctx, services.RequestReturnCommand{
		UserID:      identity.UID,
		OrderID:     strings.TrimSpace(req.OrderID),
		OrderItemID: strings.TrimSpace(req.OrderItemID),
		Reason:      req.Reason,
	})
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, returnResponse{Return: buildReturnPayload(ret)})
}

func (h *ReturnHandlers) listReturns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"), defaultReturnPageSize, maxReturnPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.returns.ListReturnsByUser(ctx, identity.UID, services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	})
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}

	items := make([]returnPayload, 0, len(page.Items))
	for _, ret := range page.Items {
		items = append(items, buildReturnPayload(ret))
	}
	writeJSONResponse(w, http.StatusOK, returnListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *ReturnHandlers) getReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	returnID := strings.TrimSpace(chi.URLParam(r, "returnID"))
	if returnID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "return id is required", http.StatusBadRequest))
		return
	}

	ret, err := h.returns.GetReturn(ctx, returnID, services.ReturnReadOptions{UserID: identity.UID})
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, returnResponse{Return: buildReturnPayload(ret)})
}

type returnListResponse struct {
	Items         []returnPayload `json:"items"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

type returnResponse struct {
	Return returnPayload `json:"return"`
}

type returnPayload struct {
	ID          string `json:"id"`
	OrderID     string `json:"order_id"`
	OrderItemID string `json:"order_item_id"`
	UserID      string `json:"user_id"`
	Reason      string `json:"reason,omitempty"`
	Status      string `json:"status"`
	ResolvedBy  string `json:"resolved_by,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

func buildReturnPayload(ret services.Return) returnPayload {
	return returnPayload{
		ID:          strings.TrimSpace(ret.ID),
		OrderID:     strings.TrimSpace(ret.OrderID),
		OrderItemID: strings.TrimSpace(ret.OrderItemID),
		UserID:      strings.TrimSpace(ret.UserID),
		Reason:      ret.Reason,
		Status:      string(ret.Status),
		ResolvedBy:  strings.TrimSpace(ret.ResolvedBy),
		CreatedAt:   formatTime(ret.CreatedAt),
		UpdatedAt:   formatTime(ret.UpdatedAt),
	}
}

func writeReturnError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrReturnNotEligible):
		httpx.WriteError(ctx, w, httpx.NewError("not_eligible", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrReturnAlreadyRequested):
		httpx.WriteError(ctx, w, httpx.NewError("already_requested", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrReturnAlreadyResolved):
		httpx.WriteError(ctx, w, httpx.NewError("already_resolved", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrReturnInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrReturnNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("return_not_found", "return not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("return_error", "failed to process return request", http.StatusInternalServerError))
	}
}
