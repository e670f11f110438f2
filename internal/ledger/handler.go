package ledger

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/timberline-erp/timberline/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the product ledger.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.show)
	r.Get("/{id}/broken-set", h.brokenSet)
	r.Post("/{id}/restock", h.restock)
	r.Post("/{id}/in-store", h.adjustInStore)
}

type subProductRequest struct {
	Name        string `json:"name" validate:"required"`
	RequiredQty int64  `json:"required_qty" validate:"required,gt=0"`
	Quantity    int64  `json:"quantity" validate:"gte=0"`
}

type createProductRequest struct {
	Code        string              `json:"code" validate:"required"`
	Name        string              `json:"name" validate:"required"`
	Kind        string              `json:"kind" validate:"required,oneof=INDIVIDUAL SET"`
	Quantity    int64               `json:"quantity" validate:"gte=0"`
	SubProducts []subProductRequest `json:"sub_products" validate:"dive"`
}

type counterRequest struct {
	SubProductID int64  `json:"sub_product_id" validate:"gte=0"`
	Qty          int64  `json:"qty" validate:"required"`
	Note         string `json:"note"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	input := CreateProductInput{
		Code:     req.Code,
		Name:     req.Name,
		Kind:     ProductKind(req.Kind),
		Quantity: req.Quantity,
	}
	for _, sub := range req.SubProducts {
		input.SubProducts = append(input.SubProducts, SubProductInput{Name: sub.Name, RequiredQty: sub.RequiredQty, Quantity: sub.Quantity})
	}
	product, err := h.service.CreateProduct(r.Context(), input)
	if err != nil {
		h.logger.Error("create product", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, product)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListProducts(r.Context())
	if err != nil {
		h.logger.Error("list products", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, products)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	product, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) brokenSet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	report, err := h.service.GetBrokenSetReport(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) restock(w http.ResponseWriter, r *http.Request) {
	h.counterOp(w, r, func(ref Ref, req counterRequest) (Unit, error) {
		return h.service.Restock(r.Context(), ref, req.Qty, MovementMeta{RefModule: "api", Note: req.Note})
	})
}

func (h *Handler) adjustInStore(w http.ResponseWriter, r *http.Request) {
	h.counterOp(w, r, func(ref Ref, req counterRequest) (Unit, error) {
		return h.service.AdjustInStore(r.Context(), ref, req.Qty, MovementMeta{RefModule: "api", Note: req.Note})
	})
}

func (h *Handler) counterOp(w http.ResponseWriter, r *http.Request, op func(Ref, counterRequest) (Unit, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	var req counterRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	unit, err := op(Ref{ProductID: id, SubProductID: req.SubProductID}, req)
	if err != nil {
		h.logger.Error("ledger counter op", slog.Int64("product_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, unit)
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}
