package lifecycle

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/ariefcatur/go-farm-market/internal/orders"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	seller   = orders.Actor{ID: "farmer-1", Role: orders.RoleFarmer}
	stranger = orders.Actor{ID: "farmer-9", Role: orders.RoleFarmer}
	buyer    = orders.Actor{ID: "buyer-1", Role: orders.RoleBuyer}
	admin    = orders.Actor{ID: "root", Role: orders.RoleAdmin}
)

func setup(t *testing.T) (*Service, *orders.MemStore, orders.Order) {
	t.Helper()
	store := orders.NewMemStore(time.Second)
	lot, err := store.CreateLot(context.Background(), orders.Lot{
		OwnerID:           seller.ID,
		Name:              "Toor dal",
		Category:          orders.CategoryPulses,
		Unit:              "kg",
		QuantityAvailable: decimal.NewFromInt(50),
		PricePerUnit:      decimal.NewFromInt(120),
	})
	require.NoError(t, err)
	o, _, err := store.ReserveLot(context.Background(), orders.ReserveRequest{
		LotID: lot.ID, BuyerID: buyer.ID, Quantity: decimal.NewFromInt(10), DeliveryAddress: "Shop 3",
	})
	require.NoError(t, err)

	log := logrus.New()
	log.SetOutput(io.Discard)
	return &Service{Store: store, Log: log}, store, o
}

func TestUpdateStatusHappyPath(t *testing.T) {
	svc, _, o := setup(t)
	ctx := context.Background()

	for _, step := range []struct{ from, to orders.Status }{
		{orders.StatusPending, orders.StatusConfirmed},
		{orders.StatusConfirmed, orders.StatusShipped},
		{orders.StatusShipped, orders.StatusDelivered},
	} {
		tr, err := svc.UpdateStatus(ctx, o.ID, step.to, seller)
		require.NoError(t, err)
		assert.Equal(t, step.from, tr.From)
		assert.Equal(t, step.to, tr.Order.Status)
		assert.True(t, tr.Order.TotalPrice.Equal(o.TotalPrice))
	}
}

func TestUpdateStatusPendingToShippedIsInvalid(t *testing.T) {
	svc, store, o := setup(t)
	ctx := context.Background()

	_, err := svc.UpdateStatus(ctx, o.ID, orders.StatusShipped, seller)
	require.ErrorIs(t, err, orders.ErrInvalidTransition)

	got, err := store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, got.Status)
	assert.Equal(t, o.UpdatedAt, got.UpdatedAt)
}

func TestUpdateStatusForbidden(t *testing.T) {
	svc, _, o := setup(t)
	for _, actor := range []orders.Actor{stranger, buyer} {
		for _, to := range []orders.Status{orders.StatusConfirmed, orders.StatusCancelled, orders.StatusShipped} {
			_, err := svc.UpdateStatus(context.Background(), o.ID, to, actor)
			assert.ErrorIs(t, err, orders.ErrForbidden, "%s -> %s", actor.ID, to)
		}
	}

	tr, err := svc.UpdateStatus(context.Background(), o.ID, orders.StatusConfirmed, admin)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusConfirmed, tr.Order.Status)
}

func TestUpdateStatusNotFound(t *testing.T) {
	svc, _, _ := setup(t)
	_, err := svc.UpdateStatus(context.Background(), "nope", orders.StatusConfirmed, seller)
	require.ErrorIs(t, err, orders.ErrNotFound)
}

func TestCancelDoesNotRestock(t *testing.T) {
	svc, store, o := setup(t)
	ctx := context.Background()

	_, err := svc.UpdateStatus(ctx, o.ID, orders.StatusCancelled, seller)
	require.NoError(t, err)

	lot, err := store.GetLot(ctx, o.LotID)
	require.NoError(t, err)
	assert.True(t, lot.QuantityAvailable.Equal(decimal.NewFromInt(40)))

	_, err = svc.UpdateStatus(ctx, o.ID, orders.StatusConfirmed, seller)
	require.ErrorIs(t, err, orders.ErrInvalidTransition)
}

func TestGetAndListOrdersVisibility(t *testing.T) {
	svc, _, o := setup(t)
	ctx := context.Background()

	for _, a := range []orders.Actor{seller, buyer, admin} {
		got, err := svc.GetOrder(ctx, a, o.ID)
		require.NoError(t, err)
		assert.Equal(t, o.ID, got.ID)
	}
	_, err := svc.GetOrder(ctx, stranger, o.ID)
	require.ErrorIs(t, err, orders.ErrForbidden)

	mine, err := svc.ListOrders(ctx, buyer, "")
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	none, err := svc.ListOrders(ctx, stranger, "")
	require.NoError(t, err)
	assert.Empty(t, none)

	pending, err := svc.ListOrders(ctx, admin, orders.StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	_, err = svc.ListOrders(ctx, orders.Actor{ID: "x"}, "")
	require.ErrorIs(t, err, orders.ErrForbidden)
}
