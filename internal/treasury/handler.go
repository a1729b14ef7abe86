package treasury

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/merkato-erp/merkato/internal/platform/httpx"
)

// Handler wires HTTP endpoints for treasury reads and account management.
type Handler struct {
	logger   *slog.Logger
	repo     *Repository
	validate *validator.Validate
}

// NewHandler constructs treasury handler.
func NewHandler(logger *slog.Logger, repo *Repository) *Handler {
	return &Handler{logger: logger, repo: repo, validate: validator.New()}
}

// MountRoutes registers treasury routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/balances/cash", h.handleCashBalance)
	r.Get("/balances/cash/entries", h.handleCashEntries)
	r.Get("/balances/bank/{bankID}", h.handleBankBalance)
	r.Get("/balances/bank/{bankID}/entries", h.handleBankEntries)
	r.Get("/banks", h.handleListBanks)
	r.Post("/banks", h.handleCreateBank)
}

func (h *Handler) handleCashBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.repo.CurrentCashBalance(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bal)
}

func (h *Handler) handleBankBalance(w http.ResponseWriter, r *http.Request) {
	bankID, err := strconv.ParseInt(chi.URLParam(r, "bankID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid bank id")
		return
	}
	bal, err := h.repo.CurrentBankBalance(r.Context(), bankID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bal)
}

func (h *Handler) handleCashEntries(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	entries, pagination, err := h.repo.ListCashEntries(r.Context(), page, perPage)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries, "pagination": pagination})
}

func (h *Handler) handleBankEntries(w http.ResponseWriter, r *http.Request) {
	bankID, err := strconv.ParseInt(chi.URLParam(r, "bankID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid bank id")
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	entries, pagination, err := h.repo.ListBankEntries(r.Context(), bankID, page, perPage)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries, "pagination": pagination})
}

func (h *Handler) handleListBanks(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.repo.ListBankAccounts(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, accounts)
}

type createBankRequest struct {
	Name          string `json:"name" validate:"required"`
	AccountNumber string `json:"account_number"`
}

func (h *Handler) handleCreateBank(w http.ResponseWriter, r *http.Request) {
	var req createBankRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	account, err := h.repo.CreateBankAccount(r.Context(), req.Name, req.AccountNumber)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, account)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrBankAccountNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		return
	}
	h.logger.Error("treasury request failed", slog.Any("error", err))
	httpx.RespondError(w, err)
}
