package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/go_cart/storefront-cart/internal/domain"
	"github.com/fjod/go_cart/storefront-cart/internal/service"
	"github.com/go-chi/chi/v5"
)

type CartHandler struct {
	registry *service.Registry
	timeout  time.Duration
	log      *slog.Logger
}

func NewCartHandler(registry *service.Registry, timeout time.Duration, log *slog.Logger) *CartHandler {
	if log == nil {
		log = slog.Default()
	}
	return &CartHandler{
		registry: registry,
		timeout:  timeout,
		log:      log,
	}
}

type AddItemRequestDTO struct {
	ProductID int64 `json:"product_id"`
}

type UpdateAmountRequestDTO struct {
	Amount *int `json:"amount"`
}

type CartResponseDTO struct {
	Items domain.Cart `json:"items"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	m, ok := h.manager(ctx, w, r)
	if !ok {
		return
	}

	respondJSON(w, http.StatusOK, CartResponseDTO{Items: m.Products()})
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return
	}

	m, ok := h.manager(ctx, w, r)
	if !ok {
		return
	}

	h.respondResult(w, r, m.AddProduct(ctx, req.ProductID))
}

func (h *CartHandler) UpdateAmount(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}

	var req UpdateAmountRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Amount == nil {
		respondError(w, http.StatusBadRequest, "invalid_amount", "amount is required")
		return
	}

	m, ok := h.manager(ctx, w, r)
	if !ok {
		return
	}

	h.respondResult(w, r, m.UpdateProductAmount(ctx, productID, *req.Amount))
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}

	m, ok := h.manager(ctx, w, r)
	if !ok {
		return
	}

	h.respondResult(w, r, m.RemoveProduct(ctx, productID))
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	m, ok := h.manager(ctx, w, r)
	if !ok {
		return
	}

	h.respondResult(w, r, m.Clear(ctx))
}

func (h *CartHandler) manager(ctx context.Context, w http.ResponseWriter, r *http.Request) (*service.CartManager, bool) {
	m, err := h.registry.Get(ctx, getSessionID(r.Context()))
	if errors.Is(err, service.ErrInvalidSession) {
		respondError(w, http.StatusUnauthorized, "missing_session", "missing cart session")
		return nil, false
	}
	if err != nil {
		h.log.ErrorContext(ctx, "failed to load cart",
			slog.String("request_id", getRequestID(r.Context())),
			slog.Any("error", err))
		respondError(w, http.StatusServiceUnavailable, "cart_unavailable", "cart is temporarily unavailable")
		return nil, false
	}
	return m, true
}

func (h *CartHandler) respondResult(w http.ResponseWriter, r *http.Request, res service.Result) {
	if res.OK() {
		respondJSON(w, http.StatusOK, CartResponseDTO{Items: res.Cart})
		return
	}

	if res.Outcome == service.OutcomeUnavailable {
		h.log.WarnContext(r.Context(), "cart operation failed",
			slog.String("request_id", getRequestID(r.Context())),
			slog.String("outcome", res.Outcome.String()),
			slog.Any("error", res.Err))
	}

	respondError(w, statusFor(res.Outcome), string(res.Kind), res.Message)
}

func statusFor(o service.Outcome) int {
	switch o {
	case service.OutcomeUpdated, service.OutcomeUnchanged:
		return http.StatusOK
	case service.OutcomeNotFound:
		return http.StatusNotFound
	case service.OutcomeOutOfStock:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

func productIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return 0, false
	}
	return productID, true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", slog.Any("error", err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
