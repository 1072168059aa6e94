package payment

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/tallybridge/tallybridge/internal/platform/httpx"
)

// Handler exposes the gateway backend endpoints the app calls.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
	}
}

// MountRoutes registers the payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(httprate.Limit(30, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
	r.Post("/create-order", h.createOrder)
	r.Post("/verify-payment", h.verifyPayment)
}

type createOrderResponse struct {
	OK    bool          `json:"ok"`
	Order *GatewayOrder `json:"order,omitempty"`
	Error string        `json:"error,omitempty"`
}

type verifyResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.JSON(w, http.StatusBadRequest, createOrderResponse{Error: "invalid request body"})
		return
	}
	if err := h.validator.Struct(req); err != nil || !req.Amount.IsPositive() {
		httpx.JSON(w, http.StatusBadRequest, createOrderResponse{Error: "invoiceId and a positive amount are required"})
		return
	}
	order, err := h.service.CreateOrder(r.Context(), req.InvoiceID, req.Amount)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrGateway) {
			status = http.StatusBadGateway
		}
		httpx.JSON(w, status, createOrderResponse{Error: "could not create payment order"})
		return
	}
	httpx.JSON(w, http.StatusOK, createOrderResponse{OK: true, Order: &order})
}

func (h *Handler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.JSON(w, http.StatusBadRequest, verifyResponse{Error: "invalid request body"})
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.JSON(w, http.StatusBadRequest, verifyResponse{Error: "order id, payment id and signature are required"})
		return
	}
	err := h.service.VerifyPayment(r.Context(), req)
	switch {
	case err == nil:
		httpx.JSON(w, http.StatusOK, verifyResponse{OK: true})
	case errors.Is(err, ErrSignatureMismatch):
		httpx.JSON(w, http.StatusBadRequest, verifyResponse{Error: "signature mismatch"})
	default:
		h.logger.Error("verify payment", slog.Any("error", err))
		httpx.JSON(w, http.StatusInternalServerError, verifyResponse{Error: "could not record payment"})
	}
}
