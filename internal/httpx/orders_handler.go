package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-farm-market/internal/auth"
	"github.com/ariefcatur/go-farm-market/internal/inventory"
	"github.com/ariefcatur/go-farm-market/internal/lifecycle"
	"github.com/ariefcatur/go-farm-market/internal/orders"
	"github.com/ariefcatur/go-farm-market/internal/redisx"
	"github.com/ariefcatur/go-farm-market/internal/stats"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type OrdersHandler struct {
	Inventory *inventory.Service
	Lifecycle *lifecycle.Service
	Stats     *stats.Service
	Redis     redis.Cmdable // optional fast path; the store stays the source of truth
	Events    EventPublisher
	Limiter   *RateLimiter
	Service   string
	Log       logrus.FieldLogger

	// PlaceTimeout bounds a whole placement including reserve retries.
	// Zero means defaultPlaceTimeout.
	PlaceTimeout time.Duration
}

const defaultPlaceTimeout = 10 * time.Second

type PlaceOrderReq struct {
	LotID           string          `json:"lot_id" validate:"required,max=64"`
	Quantity        decimal.Decimal `json:"quantity"`
	DeliveryAddress string          `json:"delivery_address" validate:"required,max=500"`
	Notes           string          `json:"notes" validate:"max=1000"`
	DeliveryDate    *time.Time      `json:"delivery_date"`
}

type PlaceOrderResp struct {
	Order      orders.Order `json:"order"`
	Idempotent bool         `json:"idempotent"`
}

type UpdateStatusReq struct {
	Status string `json:"status" validate:"required,oneof=pending confirmed shipped delivered cancelled"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	if h.Limiter != nil {
		r.With(h.Limiter.Middleware).Post("/orders", h.placeOrder)
	} else {
		r.Post("/orders", h.placeOrder)
	}
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Patch("/orders/{id}/status", h.updateStatus)
}

func (h *OrdersHandler) events() emitter {
	return emitter{pub: h.Events, producer: h.Service, log: h.Log}
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	if actor.Role != orders.RoleBuyer {
		writeError(w, h.Log, fmt.Errorf("%w: only buyers place orders", orders.ErrForbidden))
		return
	}
	var req PlaceOrderReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}

	budget := h.PlaceTimeout
	if budget <= 0 {
		budget = defaultPlaceTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), budget)
	defer cancel()

	// Idempotency keys are scoped to the buyer that sent them.
	var external string
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" {
		if len(key) > 128 {
			writeError(w, h.Log, &orders.ValidationError{Field: "Idempotency-Key", Reason: "must be at most 128 characters"})
			return
		}
		external = actor.ID + ":" + key
		if o, ok := h.replay(ctx, actor, external); ok {
			writeJSON(w, http.StatusOK, PlaceOrderResp{Order: o, Idempotent: true})
			return
		}
	}

	o, existed, err := h.Inventory.PlaceOrder(ctx, orders.ReserveRequest{
		LotID:           req.LotID,
		BuyerID:         actor.ID,
		Quantity:        req.Quantity,
		DeliveryAddress: req.DeliveryAddress,
		Notes:           req.Notes,
		DeliveryDate:    req.DeliveryDate,
		ExternalID:      external,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}

	if h.Redis != nil && external != "" {
		_ = h.Redis.Set(ctx, fmt.Sprintf(redisx.KeyIdemOrderPlace, external), o.ID, redisx.TTLIdempotency).Err()
	}
	h.cacheOrder(ctx, o)

	if existed {
		writeJSON(w, http.StatusOK, PlaceOrderResp{Order: o, Idempotent: true})
		return
	}
	evictStats(ctx, h.Stats, h.Log, stats.OrderKeys(o.SellerID, o.BuyerID))
	h.events().emit(ctx, orders.TopicOrderPlaced, orders.EventOrderPlaced, o.ID, orders.OrderPlacedPayload{
		OrderID:    o.ID,
		LotID:      o.LotID,
		BuyerID:    o.BuyerID,
		SellerID:   o.SellerID,
		Quantity:   o.Quantity,
		TotalPrice: o.TotalPrice,
	})
	writeJSON(w, http.StatusCreated, PlaceOrderResp{Order: o})
}

// replay answers a repeated idempotency key from Redis without touching the
// lot. A miss falls through to the store, which dedups on the same key.
func (h *OrdersHandler) replay(ctx context.Context, actor orders.Actor, external string) (orders.Order, bool) {
	if h.Redis == nil {
		return orders.Order{}, false
	}
	id, err := h.Redis.Get(ctx, fmt.Sprintf(redisx.KeyIdemOrderPlace, external)).Result()
	if err != nil || id == "" {
		return orders.Order{}, false
	}
	o, err := h.Lifecycle.GetOrder(ctx, actor, id)
	if err != nil {
		return orders.Order{}, false
	}
	return o, true
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	status := orders.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, h.Log, &orders.ValidationError{Field: "status", Reason: "is not a known status"})
		return
	}
	list, err := h.Lifecycle.ListOrders(r.Context(), actor, status)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) cache
	if o, ok := h.cachedOrder(ctx, id); ok {
		if !actor.CanViewOrder(o) {
			writeError(w, h.Log, fmt.Errorf("%w: order %s", orders.ErrForbidden, id))
			return
		}
		writeJSON(w, http.StatusOK, o)
		return
	}

	// 2) store
	o, err := h.Lifecycle.GetOrder(ctx, actor, id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.cacheOrder(ctx, o)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	var req UpdateStatusReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}

	tr, err := h.Lifecycle.UpdateStatus(r.Context(), chi.URLParam(r, "id"), orders.Status(req.Status), actor)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	o := tr.Order
	h.dropCachedOrder(r.Context(), o.ID)
	evictStats(r.Context(), h.Stats, h.Log, stats.OrderKeys(o.SellerID, o.BuyerID))
	h.events().emit(r.Context(), orders.TopicOrderStatusChanged, orders.EventOrderStatusChanged, o.ID, orders.OrderStatusChangedPayload{
		OrderID:  o.ID,
		BuyerID:  o.BuyerID,
		SellerID: o.SellerID,
		From:     tr.From,
		To:       o.Status,
		ActorID:  actor.ID,
	})
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) cachedOrder(ctx context.Context, id string) (orders.Order, bool) {
	if h.Redis == nil {
		return orders.Order{}, false
	}
	raw, err := h.Redis.Get(ctx, fmt.Sprintf(redisx.KeyOrder, id)).Bytes()
	if err != nil {
		return orders.Order{}, false
	}
	var o orders.Order
	if err := json.Unmarshal(raw, &o); err != nil {
		return orders.Order{}, false
	}
	return o, true
}

func (h *OrdersHandler) cacheOrder(ctx context.Context, o orders.Order) {
	if h.Redis == nil {
		return
	}
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	if err := h.Redis.Set(ctx, fmt.Sprintf(redisx.KeyOrder, o.ID), b, redisx.TTLOrderCache).Err(); err != nil {
		h.Log.WithError(err).WithField("order_id", o.ID).Warn("order cache write")
	}
}

// dropCachedOrder removes the cached copy after a status change. Writing the
// new copy instead could race with a slower, older write and pin it.
func (h *OrdersHandler) dropCachedOrder(ctx context.Context, id string) {
	if h.Redis == nil {
		return
	}
	if err := h.Redis.Del(ctx, fmt.Sprintf(redisx.KeyOrder, id)).Err(); err != nil {
		h.Log.WithError(err).WithField("order_id", id).Warn("order cache drop")
	}
}
