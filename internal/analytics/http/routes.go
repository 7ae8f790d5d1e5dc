// Package analytichttp exposes finance analytics, exports and COGS backfill over HTTP.
package analytichttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/odyssey-pos/internal/finexport"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// MountRoutes registers finance analytics endpoints onto the router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(h.exportLimit, time.Minute,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests), "export rate limit exceeded")
		}),
	)

	r.Route("/finance/analytics", func(ar chi.Router) {
		// Downloads authenticate with the signed token alone.
		ar.Get("/export/download/{job_id}", h.handleDownload)

		ar.Group(func(gr chi.Router) {
			gr.Use(RequireScope)
			gr.Get("/summary", h.handleSummary)
			gr.Get("/flow", h.handleFlow)
			gr.Get("/expenses", h.handleExpenses)
			gr.Get("/health", h.handleHealth)
			gr.Get("/export/status/{job_id}", h.handleExportStatus)
			gr.Post("/cogs/backfill", h.handleBackfill)
			gr.Group(func(lr chi.Router) {
				lr.Use(limiter)
				lr.Get("/export.csv", h.handleExport(finexport.TypeCSV))
				lr.Get("/export.pdf", h.handleExport(finexport.TypePDF))
				lr.Get("/export.xlsx", h.handleExport(finexport.TypeXLSX))
			})
		})
	})
}

// RequireScope rejects requests without a resolved tenant scope.
func RequireScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := shared.ScopeFromContext(r.Context()); !ok {
			httpx.RespondError(w, shared.ErrScopeMissing)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if scope, ok := shared.ScopeFromContext(r.Context()); ok && scope.UserID != "" {
		return "user:" + strconv.FormatInt(scope.TenantID, 10) + ":" + scope.UserID, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
