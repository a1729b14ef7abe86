package stock

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/merkato-erp/merkato/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the stock read side.
type Handler struct {
	logger   *slog.Logger
	repo     *Repository
	validate *validator.Validate
}

// NewHandler constructs stock handler.
func NewHandler(logger *slog.Logger, repo *Repository) *Handler {
	return &Handler{logger: logger, repo: repo, validate: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/stock", h.handleRegister)
	r.Get("/stock/{productTypeID}", h.handleSnapshot)
	r.Get("/stock/{productTypeID}/movements", h.handleMovements)
}

type registerRequest struct {
	ProductTypeID    int64  `json:"product_type_id" validate:"required,gt=0"`
	PricePerQuantity string `json:"price_per_quantity" validate:"required"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	price, err := decimal.NewFromString(req.PricePerQuantity)
	if err != nil || price.IsNegative() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "price_per_quantity must be a non-negative number")
		return
	}
	snap, err := h.repo.RegisterProductStock(r.Context(), req.ProductTypeID, price)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, snap)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "productTypeID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product type id")
		return
	}
	snap, err := h.repo.GetSnapshot(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "productTypeID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product type id")
		return
	}
	filter := MovementFilter{}
	q := r.URL.Query()
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	if from := q.Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid from date")
			return
		}
		filter.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid to date")
			return
		}
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	movements, page, err := h.repo.ListMovements(r.Context(), id, filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements, "pagination": page})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrStockNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		return
	}
	h.logger.Error("stock request failed", slog.Any("error", err))
	httpx.RespondError(w, err)
}
