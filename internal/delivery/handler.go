package delivery

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/timberline-erp/timberline/internal/platform/httpx"
)

// Handler wires HTTP endpoints for delivery tracking.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs delivery handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers delivery routes. All routes are scoped to a sale.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{saleID}", h.show)
	r.Get("/{saleID}/status", h.status)
	r.Get("/{saleID}/challans", h.challans)
	r.Get("/{saleID}/returns", h.returns)
	r.Post("/{saleID}/push", h.push)
	r.Post("/{saleID}/returns/receive", h.receiveReturn)
}

type pushRequest struct {
	Selections []Selection `json:"selections" validate:"required,min=1,dive"`
}

type receiveReturnRequest struct {
	ProductID    int64 `json:"product_id" validate:"required"`
	SubProductID int64 `json:"sub_product_id" validate:"gte=0"`
	Quantity     int64 `json:"quantity" validate:"gte=0"`
}

func (h *Handler) push(w http.ResponseWriter, r *http.Request) {
	saleID, err := pathSaleID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sale id")
		return
	}
	var req pushRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	d, err := h.service.Push(r.Context(), PushInput{SaleID: saleID, Selections: req.Selections})
	if err != nil {
		h.logger.Error("push delivery", slog.Int64("sale_id", saleID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) receiveReturn(w http.ResponseWriter, r *http.Request) {
	saleID, err := pathSaleID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sale id")
		return
	}
	var req receiveReturnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	ret, err := h.service.MarkReturnReceived(r.Context(), ReturnInput{
		SaleID:       saleID,
		ProductID:    req.ProductID,
		SubProductID: req.SubProductID,
		Quantity:     req.Quantity,
	})
	if err != nil {
		h.logger.Error("receive return", slog.Int64("sale_id", saleID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	saleID, err := pathSaleID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sale id")
		return
	}
	d, err := h.service.GetBySale(r.Context(), saleID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	saleID, err := pathSaleID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sale id")
		return
	}
	view, err := h.service.GetStatus(r.Context(), saleID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) challans(w http.ResponseWriter, r *http.Request) {
	saleID, err := pathSaleID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sale id")
		return
	}
	challans, err := h.service.ListChallans(r.Context(), saleID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, challans)
}

func (h *Handler) returns(w http.ResponseWriter, r *http.Request) {
	saleID, err := pathSaleID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sale id")
		return
	}
	returns, err := h.service.ListReturns(r.Context(), saleID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, returns)
}

func pathSaleID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "saleID"), 10, 64)
}
