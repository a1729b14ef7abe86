package credit

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/merkato-erp/merkato/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the credit read side.
type Handler struct {
	logger *slog.Logger
	repo   *Repository
}

// NewHandler constructs credit handler.
func NewHandler(logger *slog.Logger, repo *Repository) *Handler {
	return &Handler{logger: logger, repo: repo}
}

// MountRoutes registers credit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/credits", h.handleList)
	r.Get("/credits/{transactionID}", h.handleGet)
	r.Get("/credits/{transactionID}/repayments", h.handleHistory)
	r.Delete("/credits/{transactionID}", h.handleDeactivate)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{
		Counterparty: q.Get("counterparty"),
	}
	if side := strings.ToUpper(q.Get("side")); side != "" {
		if side != string(SideBuy) && side != string(SideSales) {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "side must be BUY or SALES")
			return
		}
		filter.Side = Side(side)
	}
	if status := strings.ToUpper(q.Get("status")); status != "" {
		switch Status(status) {
		case StatusAccepted, StatusPayed, StatusOverdue:
			filter.Status = Status(status)
		default:
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "status must be ACCEPTED, PAYED or OVERDUE")
			return
		}
	}
	if cust := q.Get("customer_id"); cust != "" {
		id, err := strconv.ParseInt(cust, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid customer id")
			return
		}
		filter.CustomerID = id
	}
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
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))

	records, page, err := h.repo.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"credits": records, "pagination": page})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.repo.GetByTransactionID(r.Context(), chi.URLParam(r, "transactionID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "transactionID")
	if _, err := h.repo.GetByTransactionID(r.Context(), transactionID); err != nil {
		h.respondError(w, err)
		return
	}
	repayments, err := h.repo.History(r.Context(), transactionID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transaction_id": transactionID, "repayments": repayments})
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Deactivate(r.Context(), chi.URLParam(r, "transactionID")); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrCreditNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		return
	}
	h.logger.Error("credit request failed", slog.Any("error", err))
	httpx.RespondError(w, err)
}
