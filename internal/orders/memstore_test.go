package orders

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func seedLot(t *testing.T, s Store, qty, price string) Lot {
	t.Helper()
	l := testLot(qty, price)
	l.ID = ""
	created, err := s.CreateLot(context.Background(), l)
	require.NoError(t, err)
	return created
}

func reqFor(lotID, buyer, qty string) ReserveRequest {
	return ReserveRequest{LotID: lotID, BuyerID: buyer, Quantity: d(qty), DeliveryAddress: "Stall 4, Azadpur"}
}

func TestMemStoreTwoBuyersRaceForTheLastUnits(t *testing.T) {
	for i := 0; i < 50; i++ {
		s := NewMemStore(time.Second)
		lot := seedLot(t, s, "10", "25")

		start := make(chan struct{})
		errs := make([]error, 2)
		var g errgroup.Group
		for j := range errs {
			g.Go(func() error {
				<-start
				_, _, errs[j] = s.ReserveLot(context.Background(), reqFor(lot.ID, "buyer", "6"))
				return nil
			})
		}
		close(start)
		require.NoError(t, g.Wait())

		ok, short := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrInsufficientStock):
				short++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, 1, short)

		got, err := s.GetLot(context.Background(), lot.ID)
		require.NoError(t, err)
		assert.True(t, got.QuantityAvailable.Equal(d("4")), "left %s", got.QuantityAvailable)

		orders, err := s.ListOrders(context.Background(), OrderFilter{SellerID: lot.OwnerID})
		require.NoError(t, err)
		assert.Len(t, orders, 1)
	}
}

func TestMemStoreManyBuyersNeverOversell(t *testing.T) {
	s := NewMemStore(5 * time.Second)
	lot := seedLot(t, s, "100", "3")

	var won atomic.Int64
	var g errgroup.Group
	for i := 0; i < 250; i++ {
		g.Go(func() error {
			_, _, err := s.ReserveLot(context.Background(), reqFor(lot.ID, "buyer", "1"))
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrUnavailable):
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 100, won.Load())

	got, err := s.GetLot(context.Background(), lot.ID)
	require.NoError(t, err)
	assert.True(t, got.QuantityAvailable.IsZero())
	assert.False(t, got.IsAvailable)

	orders, err := s.ListOrders(context.Background(), OrderFilter{})
	require.NoError(t, err)
	sum := decimal.Zero
	for _, o := range orders {
		sum = sum.Add(o.Quantity)
	}
	assert.True(t, sum.Equal(d("100")))
}

func TestMemStoreSellerEditsSerializeWithReservations(t *testing.T) {
	s := NewMemStore(5 * time.Second)
	lot := seedLot(t, s, "1000", "1")
	ctx := context.Background()

	var g errgroup.Group
	for i := 0; i < 100; i++ {
		g.Go(func() error {
			_, _, err := s.ReserveLot(ctx, reqFor(lot.ID, "buyer", "2"))
			return err
		})
		g.Go(func() error {
			_, err := s.UpdateLot(ctx, lot.ID, func(l *Lot) error {
				l.QuantityAvailable = l.QuantityAvailable.Add(decimal.NewFromInt(1))
				return nil
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	got, err := s.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	// 1000 + 100*1 - 100*2
	assert.True(t, got.QuantityAvailable.Equal(d("900")), "left %s", got.QuantityAvailable)
}

func TestMemStoreBusyWhenLotHeld(t *testing.T) {
	s := NewMemStore(20 * time.Millisecond)
	held := seedLot(t, s, "10", "1")
	other := seedLot(t, s, "10", "1")
	ctx := context.Background()

	release, err := s.acquire(ctx, "lot:"+held.ID)
	require.NoError(t, err)

	_, _, err = s.ReserveLot(ctx, reqFor(held.ID, "buyer", "1"))
	require.ErrorIs(t, err, ErrBusy)

	_, err = s.UpdateLot(ctx, held.ID, func(l *Lot) error { return nil })
	require.ErrorIs(t, err, ErrBusy)

	// other lots are not behind the same lock
	_, _, err = s.ReserveLot(ctx, reqFor(other.ID, "buyer", "1"))
	require.NoError(t, err)

	release()
	got, err := s.GetLot(ctx, held.ID)
	require.NoError(t, err)
	assert.True(t, got.QuantityAvailable.Equal(d("10")))

	_, _, err = s.ReserveLot(ctx, reqFor(held.ID, "buyer", "1"))
	require.NoError(t, err)
}

func TestMemStoreContextCancelledWhileWaiting(t *testing.T) {
	s := NewMemStore(time.Minute)
	lot := seedLot(t, s, "10", "1")
	release, err := s.acquire(context.Background(), "lot:"+lot.ID)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err = s.ReserveLot(ctx, reqFor(lot.ID, "buyer", "1"))
	require.ErrorIs(t, err, ErrBusy, "a deadline spent waiting on the lot is retryable")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	_, _, err = s.ReserveLot(ctx, reqFor(lot.ID, "buyer", "1"))
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrBusy)
}

func TestMemStoreDropsIdleLocks(t *testing.T) {
	s := NewMemStore(20 * time.Millisecond)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		lot := seedLot(t, s, "10", "1")
		o, _, err := s.ReserveLot(ctx, reqFor(lot.ID, "buyer", "1"))
		require.NoError(t, err)
		_, err = s.UpdateOrder(ctx, o.ID, func(*Order) error { return nil })
		require.NoError(t, err)
		require.NoError(t, s.DeleteLot(ctx, lot.ID, func(Lot) error { return nil }))
	}

	// a timed-out waiter must not leak its entry either
	lot := seedLot(t, s, "10", "1")
	release, err := s.acquire(ctx, "lot:"+lot.ID)
	require.NoError(t, err)
	_, _, err = s.ReserveLot(ctx, reqFor(lot.ID, "buyer", "1"))
	require.ErrorIs(t, err, ErrBusy)
	release()

	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	assert.Empty(t, s.locks)
}

func TestMemStoreIdempotentReservation(t *testing.T) {
	s := NewMemStore(time.Second)
	lot := seedLot(t, s, "10", "2")
	ctx := context.Background()

	req := reqFor(lot.ID, "buyer", "3")
	req.ExternalID = "checkout-42"

	var wg sync.WaitGroup
	results := make([]Order, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, _, err := s.ReserveLot(ctx, req)
			assert.NoError(t, err)
			results[i] = o
		}()
	}
	wg.Wait()

	for _, o := range results {
		assert.Equal(t, results[0].ID, o.ID)
	}
	got, err := s.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	assert.True(t, got.QuantityAvailable.Equal(d("7")))

	_, existed, err := s.ReserveLot(ctx, req)
	require.NoError(t, err)
	assert.True(t, existed)
}

func TestMemStoreMissingAndDeletedLots(t *testing.T) {
	s := NewMemStore(time.Second)
	ctx := context.Background()

	_, _, err := s.ReserveLot(ctx, reqFor("nope", "buyer", "1"))
	require.ErrorIs(t, err, ErrNotFound)

	lot := seedLot(t, s, "10", "2")
	denied := errors.New("denied")
	require.ErrorIs(t, s.DeleteLot(ctx, lot.ID, func(Lot) error { return denied }), denied)
	require.NoError(t, s.DeleteLot(ctx, lot.ID, func(Lot) error { return nil }))

	_, _, err = s.ReserveLot(ctx, reqFor(lot.ID, "buyer", "1"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemStoreUpdateOrderKeepsTotal(t *testing.T) {
	s := NewMemStore(time.Second)
	ctx := context.Background()
	lot := seedLot(t, s, "10", "2")
	o, _, err := s.ReserveLot(ctx, reqFor(lot.ID, "buyer", "3"))
	require.NoError(t, err)

	updated, err := s.UpdateOrder(ctx, o.ID, func(o *Order) error {
		o.Status = StatusConfirmed
		o.TotalPrice = d("1")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, updated.Status)
	assert.True(t, updated.TotalPrice.Equal(d("6")))

	_, err = s.UpdateOrder(ctx, "missing", func(*Order) error { return nil })
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemStoreListLotsFilters(t *testing.T) {
	s := NewMemStore(time.Second)
	ctx := context.Background()
	a := seedLot(t, s, "10", "2")
	b := testLot("0", "5")
	b.ID, b.Name, b.Category, b.OwnerID = "", "Basmati", CategoryGrains, "farmer-2"
	_, err := s.CreateLot(ctx, b)
	require.NoError(t, err)

	all, err := s.ListLots(ctx, LotFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	avail, err := s.ListLots(ctx, LotFilter{OnlyAvailable: true})
	require.NoError(t, err)
	require.Len(t, avail, 1)
	assert.Equal(t, a.ID, avail[0].ID)

	grains, err := s.ListLots(ctx, LotFilter{Category: CategoryGrains, Search: "basm"})
	require.NoError(t, err)
	require.Len(t, grains, 1)
	assert.Equal(t, "farmer-2", grains[0].OwnerID)
}
