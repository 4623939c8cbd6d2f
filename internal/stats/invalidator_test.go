package stats

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ariefcatur/go-farm-market/internal/orders"
	"github.com/ariefcatur/go-farm-market/internal/redisx"
	"github.com/ariefcatur/go-farm-market/internal/redisx/redisxtest"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeysFor(t *testing.T) {
	placed, err := orders.NewEnvelope(orders.EventOrderPlaced, "test", "", "", orders.OrderPlacedPayload{
		OrderID: "o-1", LotID: "l-1", BuyerID: "b-1", SellerID: "f-1",
		Quantity: decimal.NewFromInt(1), TotalPrice: decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	keys, err := KeysFor(placed)
	require.NoError(t, err)
	assert.Equal(t, []string{"stats:seller:f-1", "stats:buyer:b-1", "stats:platform:all"}, keys)

	changed, err := orders.NewEnvelope(orders.EventOrderStatusChanged, "test", "", "", orders.OrderStatusChangedPayload{
		OrderID: "o-1", BuyerID: "b-1", SellerID: "f-1", From: orders.StatusShipped, To: orders.StatusDelivered,
	})
	require.NoError(t, err)
	keys, err = KeysFor(changed)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"stats:seller:f-1", "stats:buyer:b-1", "stats:platform:all"}, keys)

	lot, err := orders.NewEnvelope(orders.EventLotChanged, "test", "", "", orders.LotChangedPayload{
		LotID: "l-1", OwnerID: "f-1", Change: orders.LotDeleted,
	})
	require.NoError(t, err)
	keys, err = KeysFor(lot)
	require.NoError(t, err)
	assert.Equal(t, []string{"stats:seller:f-1", "stats:platform:all"}, keys)

	_, err = KeysFor(orders.Envelope{EventType: "Mystery"})
	assert.Error(t, err)
}

func TestHandleEventSkipsPoisonMessages(t *testing.T) {
	h := &Invalidator{Name: "stats", Log: quiet()}
	err := h.HandleEvent(context.Background(), kafkago.Message{Topic: orders.TopicOrderPlaced, Value: []byte("{")})
	assert.NoError(t, err)

	err = h.HandleEvent(context.Background(), kafkago.Message{Value: []byte(`{"event_id":"e","event_type":"Mystery"}`)})
	assert.NoError(t, err)
}

func TestEvictWithoutCacheIsNoop(t *testing.T) {
	svc := newService(orders.NewMemStore(0))
	assert.NoError(t, svc.Evict(context.Background(), "stats:platform:all"))
}

func TestHandleEventBumpsGenerationOnce(t *testing.T) {
	cache := redisxtest.NewMemory()
	svc := &Service{Store: orders.NewMemStore(0), Cache: cache, TTL: 30 * time.Second, Log: quiet()}
	h := &Invalidator{Redis: cache, Stats: svc, Name: "stats", Log: quiet()}
	ctx := context.Background()

	env, err := orders.NewEnvelope(orders.EventLotChanged, "test", "", "", orders.LotChangedPayload{
		LotID: "l-1", OwnerID: "f-1", Change: orders.LotCreated,
	})
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	m := kafkago.Message{Topic: orders.TopicLotChanged, Value: raw}

	require.NoError(t, h.HandleEvent(ctx, m))
	require.NoError(t, h.HandleEvent(ctx, m)) // redelivery

	gen, err := cache.Get(ctx, redisx.StatsGenKey("stats:seller:f-1")).Result()
	require.NoError(t, err)
	assert.Equal(t, "1", gen)
	gen, err = cache.Get(ctx, redisx.StatsGenKey("stats:platform:all")).Result()
	require.NoError(t, err)
	assert.Equal(t, "1", gen)
}
