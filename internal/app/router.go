package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/merkato-erp/merkato/internal/credit"
	"github.com/merkato-erp/merkato/internal/stock"
	"github.com/merkato-erp/merkato/internal/trade"
	"github.com/merkato-erp/merkato/internal/treasury"
	"github.com/merkato-erp/merkato/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	TradeHandler    *trade.Handler
	StockHandler    *stock.Handler
	TreasuryHandler *treasury.Handler
	CreditHandler   *credit.Handler
	JobHandler      *jobs.Handler
}

// NewRouter constructs the chi.Router with Merkato defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		params.TradeHandler.MountRoutes(r)
		params.StockHandler.MountRoutes(r)
		params.TreasuryHandler.MountRoutes(r)
		params.CreditHandler.MountRoutes(r)
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
