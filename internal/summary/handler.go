package summary

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/timberline-erp/timberline/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the daily summary.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs summary handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers summary routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/today", h.today)
	r.Get("/balances", h.balances)
	r.Get("/snapshots", h.snapshots)
	r.Get("/snapshots/{day}", h.snapshot)
}

func (h *Handler) today(w http.ResponseWriter, r *http.Request) {
	totals, err := h.service.TodayTotals(r.Context(), time.Now().UTC())
	if err != nil {
		h.logger.Error("today totals", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, totals)
}

func (h *Handler) balances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.service.ProductBalances(r.Context())
	if err != nil {
		h.logger.Error("product balances", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balances)
}

func (h *Handler) snapshots(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	out, err := h.service.ListSnapshots(r.Context(), limit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	day, err := time.Parse("2006-01-02", chi.URLParam(r, "day"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid day, want YYYY-MM-DD")
		return
	}
	snap, err := h.service.GetSnapshot(r.Context(), day)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}
