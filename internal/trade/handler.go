package trade

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/merkato-erp/merkato/internal/credit"
	"github.com/merkato-erp/merkato/internal/platform/httpx"
	"github.com/merkato-erp/merkato/internal/shared"
	"github.com/merkato-erp/merkato/internal/stock"
	"github.com/merkato-erp/merkato/internal/treasury"
)

// Handler wires HTTP endpoints for business events.
type Handler struct {
	logger   *slog.Logger
	engine   *Engine
	repo     *Repository
	validate *validator.Validate
}

// NewHandler constructs trade handler.
func NewHandler(logger *slog.Logger, engine *Engine, repo *Repository) *Handler {
	return &Handler{logger: logger, engine: engine, repo: repo, validate: validator.New()}
}

// MountRoutes registers trade routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/buy", h.handleBuy)
	r.Post("/sell", h.handleSell)
	r.Post("/credits/buy/{transactionID}/repayments", h.handleRepay(credit.SideBuy))
	r.Post("/credits/sales/{transactionID}/repayments", h.handleRepay(credit.SideSales))
	r.Get("/transactions/{transactionID}", h.handleGetTransaction)
}

type cartItemRequest struct {
	ProductTypeID    int64           `json:"product_type_id" validate:"required,gt=0"`
	Quantity         decimal.Decimal `json:"quantity"`
	PricePerQuantity decimal.Decimal `json:"price_per_quantity"`
}

type buyRequest struct {
	SupplierName  string            `json:"supplier_name" validate:"required"`
	PaymentMethod string            `json:"payment_method" validate:"required,oneof=CASH BANK CREDIT"`
	BankID        int64             `json:"bank_id"`
	ReceiptRef    string            `json:"receipt_ref"`
	ReturnDate    string            `json:"return_date"`
	Description   string            `json:"description"`
	CartList      []cartItemRequest `json:"cart_list" validate:"required,min=1,dive"`
}

func (h *Handler) handleBuy(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "acting user required")
		return
	}
	var req buyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	payment, err := buildPayment(req.PaymentMethod, req.BankID, req.ReceiptRef, req.ReturnDate, req.Description)
	if err != nil {
		h.respondError(w, err)
		return
	}
	result, err := h.engine.Buy(r.Context(), BuyInput{
		SupplierName:   req.SupplierName,
		Payment:        payment,
		Cart:           toCart(req.CartList),
		Actor:          actor,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

type sellRequest struct {
	CustomerType  string            `json:"customer_type" validate:"required,oneof=WALKER REGULAR"`
	CustomerID    int64             `json:"customer_id"`
	PaymentMethod string            `json:"payment_method" validate:"required,oneof=CASH BANK CREDIT"`
	BankID        int64             `json:"bank_id"`
	ReceiptRef    string            `json:"receipt_ref"`
	ReturnDate    string            `json:"return_date"`
	Description   string            `json:"description"`
	CartList      []cartItemRequest `json:"cart_list" validate:"required,min=1,dive"`
}

func (h *Handler) handleSell(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "acting user required")
		return
	}
	var req sellRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	payment, err := buildPayment(req.PaymentMethod, req.BankID, req.ReceiptRef, req.ReturnDate, req.Description)
	if err != nil {
		h.respondError(w, err)
		return
	}
	result, err := h.engine.Sell(r.Context(), SellInput{
		CustomerType:   CustomerType(strings.ToUpper(req.CustomerType)),
		CustomerID:     req.CustomerID,
		Payment:        payment,
		Cart:           toCart(req.CartList),
		Actor:          actor,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

type repayRequest struct {
	AmountPayed        decimal.Decimal  `json:"amount_payed"`
	PaymentMethod      string           `json:"payment_method" validate:"required,oneof=CASH BANK"`
	OutstandingBalance *decimal.Decimal `json:"outstanding_balance"`
	BankID             int64            `json:"bank_id"`
	ReceiptRef         string           `json:"receipt_ref"`
}

func (h *Handler) handleRepay(side credit.Side) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := shared.ActorFromContext(r.Context())
		if !ok {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "acting user required")
			return
		}
		var req repayRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
			return
		}
		if err := h.validate.Struct(req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		result, err := h.engine.Repay(r.Context(), RepayInput{
			TransactionID:       chi.URLParam(r, "transactionID"),
			Side:                side,
			Amount:              req.AmountPayed,
			Method:              credit.PayMethod(strings.ToUpper(req.PaymentMethod)),
			BankID:              req.BankID,
			ReceiptRef:          req.ReceiptRef,
			ExpectedOutstanding: req.OutstandingBalance,
			Actor:               actor,
		})
		if err != nil {
			h.respondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"success": true, "repayment": result})
	}
}

func (h *Handler) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	view, err := h.repo.GetTransaction(r.Context(), chi.URLParam(r, "transactionID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func buildPayment(method string, bankID int64, receiptRef, returnDate, description string) (Payment, error) {
	switch Method(strings.ToUpper(method)) {
	case MethodCash:
		return CashPayment(), nil
	case MethodBank:
		return BankPayment(bankID, receiptRef), nil
	case MethodCredit:
		if returnDate == "" {
			return Payment{}, validationErr("return_date required for credit payment")
		}
		due, err := time.Parse("2006-01-02", returnDate)
		if err != nil {
			return Payment{}, validationErr("return_date must be YYYY-MM-DD")
		}
		return CreditPayment(due, description), nil
	default:
		return Payment{}, ErrInvalidPaymentMethod
	}
}

func toCart(items []cartItemRequest) []CartItem {
	cart := make([]CartItem, 0, len(items))
	for _, item := range items {
		cart = append(cart, CartItem{
			ProductTypeID:    item.ProductTypeID,
			Quantity:         item.Quantity,
			PricePerQuantity: item.PricePerQuantity,
		})
	}
	return cart
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var insufficientStock *stock.InsufficientError
	var insufficientBank *treasury.InsufficientBankBalanceError
	switch {
	case errors.As(err, &insufficientStock):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", insufficientStock.Error())
	case errors.As(err, &insufficientBank):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Bank Balance", insufficientBank.Error())
	case errors.Is(err, stock.ErrStockNotFound),
		errors.Is(err, treasury.ErrBankAccountNotFound),
		errors.Is(err, credit.ErrCreditNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicateLineItem),
		errors.Is(err, credit.ErrCreditSettled),
		errors.Is(err, credit.ErrOutstandingMismatch),
		errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrInvalidPaymentMethod),
		errors.Is(err, credit.ErrReceiptRequired),
		errors.Is(err, credit.ErrInvalidAmount),
		errors.Is(err, stock.ErrInvalidQuantity),
		errors.Is(err, treasury.ErrZeroAmount):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		if !errors.Is(err, shared.ErrValidation) && !errors.Is(err, shared.ErrNotFound) {
			h.logger.Error("trade request failed", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}
