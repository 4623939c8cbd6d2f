package httpx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/go-farm-market/internal/auth"
	"github.com/ariefcatur/go-farm-market/internal/inventory"
	"github.com/ariefcatur/go-farm-market/internal/orders"
	"github.com/ariefcatur/go-farm-market/internal/stats"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type LotsHandler struct {
	Inventory *inventory.Service
	Store     orders.Store
	Stats     *stats.Service
	Events    EventPublisher
	Service   string
	Log       logrus.FieldLogger
}

type CreateLotReq struct {
	OwnerID           string          `json:"owner_id" validate:"omitempty,max=64"`
	Name              string          `json:"name" validate:"required,max=200"`
	Category          string          `json:"category" validate:"required,oneof=vegetables fruits grains pulses spices dairy other"`
	Unit              string          `json:"unit" validate:"required,max=32"`
	QuantityAvailable decimal.Decimal `json:"quantity_available"`
	PricePerUnit      decimal.Decimal `json:"price_per_unit"`
	Description       string          `json:"description" validate:"max=2000"`
	Location          string          `json:"location" validate:"max=200"`
	HarvestDate       *time.Time      `json:"harvest_date"`
	ExpiryDate        *time.Time      `json:"expiry_date"`
	IsOrganic         bool            `json:"is_organic"`
}

func (h *LotsHandler) Register(r chi.Router) {
	r.Post("/lots", h.createLot)
	r.Get("/lots", h.listLots)
	r.Get("/lots/{id}", h.getLot)
	r.Patch("/lots/{id}", h.updateLot)
	r.Delete("/lots/{id}", h.deleteLot)
}

func (h *LotsHandler) events() emitter {
	return emitter{pub: h.Events, producer: h.Service, log: h.Log}
}

func (h *LotsHandler) createLot(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	var req CreateLotReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}

	lot, err := h.Inventory.CreateLot(r.Context(), actor, orders.Lot{
		OwnerID:           req.OwnerID,
		Name:              req.Name,
		Category:          orders.Category(req.Category),
		Unit:              req.Unit,
		QuantityAvailable: req.QuantityAvailable,
		PricePerUnit:      req.PricePerUnit,
		Description:       req.Description,
		Location:          req.Location,
		HarvestDate:       req.HarvestDate,
		ExpiryDate:        req.ExpiryDate,
		IsOrganic:         req.IsOrganic,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.lotChanged(r, lot, orders.LotCreated)
	writeJSON(w, http.StatusCreated, lot)
}

func (h *LotsHandler) listLots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := orders.LotFilter{
		OwnerID:  q.Get("owner_id"),
		Category: orders.Category(q.Get("category")),
		Search:   q.Get("q"),
	}
	if v := q.Get("available"); v != "" {
		ok, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, h.Log, &orders.ValidationError{Field: "available", Reason: "must be a boolean"})
			return
		}
		f.OnlyAvailable = ok
	}
	if f.Category != "" && !f.Category.Valid() {
		writeError(w, h.Log, &orders.ValidationError{Field: "category", Reason: "is not a known category"})
		return
	}

	lots, err := h.Store.ListLots(r.Context(), f)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, lots)
}

func (h *LotsHandler) getLot(w http.ResponseWriter, r *http.Request) {
	lot, err := h.Store.GetLot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, lot)
}

func (h *LotsHandler) updateLot(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	var patch orders.LotPatch
	if err := decode(w, r, &patch); err != nil {
		writeError(w, h.Log, err)
		return
	}

	lot, err := h.Inventory.UpdateLot(r.Context(), actor, chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.lotChanged(r, lot, orders.LotUpdated)
	writeJSON(w, http.StatusOK, lot)
}

func (h *LotsHandler) deleteLot(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	lot, err := h.Inventory.DeleteLot(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.lotChanged(r, lot, orders.LotDeleted)
	w.WriteHeader(http.StatusNoContent)
}

func (h *LotsHandler) lotChanged(r *http.Request, lot orders.Lot, change string) {
	evictStats(r.Context(), h.Stats, h.Log, stats.LotKeys(lot.OwnerID))
	h.events().emit(r.Context(), orders.TopicLotChanged, orders.EventLotChanged, lot.ID, orders.LotChangedPayload{
		LotID:             lot.ID,
		OwnerID:           lot.OwnerID,
		Change:            change,
		QuantityAvailable: lot.QuantityAvailable,
		IsAvailable:       lot.IsAvailable,
	})
}
