package httpx

import (
	"net/http"

	"github.com/ariefcatur/go-farm-market/internal/auth"
	"github.com/ariefcatur/go-farm-market/internal/orders"
	"github.com/ariefcatur/go-farm-market/internal/stats"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

type StatsHandler struct {
	Stats *stats.Service
	Log   logrus.FieldLogger
}

func (h *StatsHandler) Register(r chi.Router) {
	r.Get("/stats/seller/{id}", h.scoped(orders.ScopeSeller))
	r.Get("/stats/buyer/{id}", h.scoped(orders.ScopeBuyer))
	r.Get("/stats/platform", h.scoped(orders.ScopePlatform))
}

func (h *StatsHandler) scoped(scope orders.Scope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := auth.ActorFrom(r.Context())
		st, err := h.Stats.GetAggregateStats(r.Context(), actor, scope, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, h.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}
