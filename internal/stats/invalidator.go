package stats

import (
	"context"
	"encoding/json"
	"fmt"

	kafkax "github.com/ariefcatur/go-farm-market/internal/kafka"
	"github.com/ariefcatur/go-farm-market/internal/orders"
	"github.com/ariefcatur/go-farm-market/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// KeysFor lists the cached aggregates an event makes stale. The API
// evicts the same keys synchronously; this path covers writers that do not.
func KeysFor(env orders.Envelope) ([]string, error) {
	switch env.EventType {
	case orders.EventOrderPlaced:
		p, err := kafkax.UnwrapPayload[orders.OrderPlacedPayload](env.Payload)
		if err != nil {
			return nil, err
		}
		return OrderKeys(p.SellerID, p.BuyerID), nil
	case orders.EventOrderStatusChanged:
		p, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
		if err != nil {
			return nil, err
		}
		return OrderKeys(p.SellerID, p.BuyerID), nil
	case orders.EventLotChanged:
		p, err := kafkax.UnwrapPayload[orders.LotChangedPayload](env.Payload)
		if err != nil {
			return nil, err
		}
		return LotKeys(p.OwnerID), nil
	}
	return nil, fmt.Errorf("unknown event type %q", env.EventType)
}

// Invalidator consumes domain events and evicts the stats they affect.
// Each event id is claimed once so redeliveries are cheap no-ops.
type Invalidator struct {
	Redis redis.Cmdable
	Stats *Service
	Name  string
	Log   logrus.FieldLogger
}

func (h *Invalidator) HandleEvent(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// poison message: log and let the offset move on
		h.Log.WithError(err).WithField("topic", m.Topic).Error("bad envelope")
		return nil
	}
	log := h.Log.WithFields(logrus.Fields{"event_id": env.EventID, "event_type": env.EventType})

	keys, err := KeysFor(env)
	if err != nil {
		log.WithError(err).Warn("event skipped")
		return nil
	}

	first, err := redisx.Claim(ctx, h.Redis, fmt.Sprintf(redisx.KeyDedup, h.Name, env.EventID), redisx.TTLDedup)
	if err != nil {
		return fmt.Errorf("dedup claim: %w", err)
	}
	if !first {
		log.Debug("duplicate event")
		return nil
	}

	if err := h.Stats.Evict(ctx, keys...); err != nil {
		// release the claim so the redelivery is not mistaken for a duplicate
		_ = h.Redis.Del(ctx, fmt.Sprintf(redisx.KeyDedup, h.Name, env.EventID)).Err()
		return fmt.Errorf("evict stats: %w", err)
	}
	log.WithField("keys", keys).Debug("stats evicted")
	return nil
}
