// Package api exposes order placement, voucher authorization and manual sync
// over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tallybridge/tallybridge/internal/authorize"
	"github.com/tallybridge/tallybridge/internal/observability"
	"github.com/tallybridge/tallybridge/internal/orders"
	"github.com/tallybridge/tallybridge/internal/platform/httpx"
	"github.com/tallybridge/tallybridge/internal/tally"
	"github.com/tallybridge/tallybridge/internal/voucher"
	"github.com/tallybridge/tallybridge/internal/vouchersync"
)

// OrderPlacer places one order. *voucher.Service implements it.
type OrderPlacer interface {
	Place(ctx context.Context, req voucher.PlaceRequest) (voucher.PlaceResult, error)
}

// VoucherAuthorizer lists and approves optional vouchers. *authorize.Authorizer
// implements it.
type VoucherAuthorizer interface {
	Pending(ctx context.Context, company tally.Company, token string) ([]tally.PendingVoucher, error)
	FetchDetail(ctx context.Context, company tally.Company, masterID int64, token string) (tally.VoucherDetail, error)
	Approve(ctx context.Context, company tally.Company, req authorize.ApproveRequest) (tally.Outcome, error)
}

// SyncTrigger runs an immediate poll. *vouchersync.Poller implements it.
type SyncTrigger interface {
	Poll(ctx context.Context, company tally.Company) vouchersync.PollResult
}

// HandlerConfig collects the Handler dependencies. Poller and Authorizer may
// be nil, in which case their routes are not mounted.
type HandlerConfig struct {
	Logger       *slog.Logger
	Placer       OrderPlacer
	Authorizer   VoucherAuthorizer
	Poller       SyncTrigger
	Companies    tally.CompanyList
	DefaultToken string
	Metrics      *observability.Metrics
}

// Handler serves the Tally API routes.
type Handler struct {
	logger       *slog.Logger
	placer       OrderPlacer
	authorizer   VoucherAuthorizer
	poller       SyncTrigger
	companies    tally.CompanyList
	defaultToken string
	metrics      *observability.Metrics
	validator    *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:       logger.With(slog.String("component", "api")),
		placer:       cfg.Placer,
		authorizer:   cfg.Authorizer,
		poller:       cfg.Poller,
		companies:    cfg.Companies,
		defaultToken: cfg.DefaultToken,
		metrics:      cfg.Metrics,
		validator:    validator.New(),
	}
}

// MountRoutes registers the API routes.
func (h *Handler) MountRoutes(r chi.Router) {
	if h.placer != nil {
		r.Post("/orders", h.placeOrder)
	}
	if h.authorizer == nil && h.poller == nil {
		return
	}
	r.Route("/companies/{guid}", func(r chi.Router) {
		if h.authorizer != nil {
			r.Get("/vouchers/pending", h.pending)
			r.Get("/vouchers/{masterID}", h.detail)
			r.Post("/vouchers/{masterID}/approve", h.approve)
		}
		if h.poller != nil {
			r.Post("/sync", h.sync)
		}
	})
}

type outcomeResponse struct {
	Kind    string        `json:"kind"`
	Message string        `json:"message"`
	Outcome tally.Outcome `json:"outcome"`
}

type placeOrderResponse struct {
	outcomeResponse
	Result voucher.PlaceResult `json:"result"`
}

type approveRequest struct {
	Approver string `json:"approver"`
}

type syncResponse struct {
	Status    vouchersync.Status `json:"status"`
	NewCount  int                `json:"new_count"`
	Watermark int64              `json:"watermark"`
	Error     string             `json:"error,omitempty"`
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var order orders.Order
	if err := httpx.DecodeJSON(r, &order); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid request body", httpx.ErrValidation))
		return
	}
	company, err := h.resolve(order.Company.GUID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	order.Company = company
	if err := h.validator.Struct(order); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}

	result, err := h.placer.Place(r.Context(), voucher.PlaceRequest{Order: order, Token: h.token(r)})
	if err != nil {
		if errors.Is(err, voucher.ErrInvalidOrder) {
			httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
			return
		}
		h.logger.Error("place order", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.metrics.ObserveImport("order", result.Outcome.Kind.String())
	if result.Payment != nil && result.Payment.Receipt != nil {
		h.metrics.ObserveImport("receipt", result.Payment.Receipt.Kind.String())
	}
	httpx.JSON(w, outcomeStatus(result.Outcome), placeOrderResponse{
		outcomeResponse: outcomeResponse{
			Kind:    result.Outcome.Kind.String(),
			Message: result.Message(),
			Outcome: result.Outcome,
		},
		Result: result,
	})
}

func (h *Handler) pending(w http.ResponseWriter, r *http.Request) {
	company, err := h.resolve(chi.URLParam(r, "guid"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, err := h.authorizer.Pending(r.Context(), company, h.token(r))
	if err != nil {
		h.logger.Warn("list pending vouchers", slog.String("company", company.GUID), slog.Any("error", err))
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUpstream, err))
		return
	}
	if list == nil {
		list = []tally.PendingVoucher{}
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) detail(w http.ResponseWriter, r *http.Request) {
	company, masterID, err := h.voucherParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	detail, err := h.authorizer.FetchDetail(r.Context(), company, masterID, h.token(r))
	if err != nil {
		h.logger.Warn("fetch voucher detail", slog.String("company", company.GUID), slog.Int64("master_id", masterID), slog.Any("error", err))
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUpstream, err))
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	company, masterID, err := h.voucherParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var body approveRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid request body", httpx.ErrValidation))
		return
	}
	req := authorize.ApproveRequest{MasterID: masterID, Approver: body.Approver, Token: h.token(r)}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, authorize.ErrApproverRequired))
		return
	}
	out, err := h.authorizer.Approve(r.Context(), company, req)
	if err != nil {
		if errors.Is(err, authorize.ErrApproverRequired) {
			httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
			return
		}
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUpstream, err))
		return
	}
	h.metrics.ObserveImport("authorize", out.Kind.String())
	httpx.JSON(w, outcomeStatus(out), outcomeResponse{Kind: out.Kind.String(), Message: out.Message(), Outcome: out})
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	company, err := h.resolve(chi.URLParam(r, "guid"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res := h.poller.Poll(r.Context(), company)
	if res.Status == vouchersync.StatusSkipped {
		httpx.RespondError(w, fmt.Errorf("%w: poll for company %q", httpx.ErrBusy, company.GUID))
		return
	}
	resp := syncResponse{Status: res.Status, NewCount: res.NewCount, Watermark: res.Watermark}
	status := http.StatusOK
	if res.Status == vouchersync.StatusFailed {
		status = http.StatusBadGateway
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	httpx.JSON(w, status, resp)
}

func (h *Handler) resolve(guid string) (tally.Company, error) {
	if guid == "" {
		return tally.Company{}, fmt.Errorf("%w: company guid is required", httpx.ErrValidation)
	}
	company, ok := h.companies.ByGUID(guid)
	if !ok {
		return tally.Company{}, fmt.Errorf("company %q: %w", guid, httpx.ErrNotFound)
	}
	return company, nil
}

func (h *Handler) voucherParams(r *http.Request) (tally.Company, int64, error) {
	company, err := h.resolve(chi.URLParam(r, "guid"))
	if err != nil {
		return tally.Company{}, 0, err
	}
	masterID, err := strconv.ParseInt(chi.URLParam(r, "masterID"), 10, 64)
	if err != nil || masterID <= 0 {
		return tally.Company{}, 0, fmt.Errorf("%w: master id must be a positive integer", httpx.ErrValidation)
	}
	return company, masterID, nil
}

func (h *Handler) token(r *http.Request) string {
	if token := httpx.BearerToken(r); token != "" {
		return token
	}
	return h.defaultToken
}

// outcomeStatus picks the HTTP status for an import outcome.
func outcomeStatus(o tally.Outcome) int {
	switch o.Kind {
	case tally.OutcomeCreated:
		return http.StatusCreated
	case tally.OutcomeAltered:
		return http.StatusOK
	case tally.OutcomeRejected, tally.OutcomeBlocked:
		return http.StatusUnprocessableEntity
	case tally.OutcomeTimeout:
		return http.StatusGatewayTimeout
	case tally.OutcomeTransportError:
		if o.AuthRevoked() {
			return http.StatusForbidden
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
