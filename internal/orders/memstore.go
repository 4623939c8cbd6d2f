package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore keeps lots and orders in process. Each lot (and each order) has
// its own one-slot semaphore, so writers of different lots never wait on
// each other; mu is held only for the short copy-in/copy-out of the maps,
// which also makes a reservation's lot write and order insert visible
// together.
type MemStore struct {
	LockTimeout time.Duration

	mu       sync.RWMutex
	lots     map[string]Lot
	orders   map[string]Order
	external map[string]string
	users    map[string]Role

	locksMu sync.Mutex
	locks   map[string]*keyLock
}

// keyLock is dropped from the map once nobody holds or waits on it.
type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewMemStore(lockTimeout time.Duration) *MemStore {
	return &MemStore{
		LockTimeout: lockTimeout,
		lots:        make(map[string]Lot),
		orders:      make(map[string]Order),
		external:    make(map[string]string),
		users:       make(map[string]Role),
		locks:       make(map[string]*keyLock),
	}
}

// PutUser mirrors a profile from the identity provider for platform counts.
func (s *MemStore) PutUser(id string, role Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = role
}

func (s *MemStore) acquire(ctx context.Context, key string) (func(), error) {
	s.locksMu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		s.locks[key] = l
	}
	l.refs++
	s.locksMu.Unlock()

	timer := time.NewTimer(s.LockTimeout)
	defer timer.Stop()
	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			s.unref(key, l)
		}, nil
	case <-timer.C:
		s.unref(key, l)
		return nil, fmt.Errorf("%w: %s", ErrBusy, key)
	case <-ctx.Done():
		s.unref(key, l)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			// the caller's budget ran out while the key was held elsewhere
			return nil, fmt.Errorf("%w: %s: %w", ErrBusy, key, ctx.Err())
		}
		return nil, ctx.Err()
	}
}

func (s *MemStore) unref(key string, l *keyLock) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, key)
	}
}

func (s *MemStore) CreateLot(ctx context.Context, lot Lot) (Lot, error) {
	if lot.ID == "" {
		lot.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	lot.CreatedAt, lot.UpdatedAt = now, now
	lot.RefreshAvailability()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.lots[lot.ID]; dup {
		return Lot{}, fmt.Errorf("%w: lot %s exists", ErrConflict, lot.ID)
	}
	s.lots[lot.ID] = lot
	return lot, nil
}

func (s *MemStore) GetLot(ctx context.Context, id string) (Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.lots[id]
	if !ok {
		return Lot{}, fmt.Errorf("lot %s: %w", id, ErrNotFound)
	}
	return l, nil
}

func (s *MemStore) ListLots(ctx context.Context, f LotFilter) ([]Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]Lot, 0, len(s.lots))
	for _, l := range s.lots {
		if f.OwnerID != "" && l.OwnerID != f.OwnerID {
			continue
		}
		if f.Category != "" && l.Category != f.Category {
			continue
		}
		if f.OnlyAvailable && !l.IsAvailable {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(l.Name), search) &&
			!strings.Contains(strings.ToLower(l.Description), search) {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) UpdateLot(ctx context.Context, id string, fn func(*Lot) error) (Lot, error) {
	release, err := s.acquire(ctx, "lot:"+id)
	if err != nil {
		return Lot{}, err
	}
	defer release()

	lot, err := s.GetLot(ctx, id)
	if err != nil {
		return Lot{}, err
	}
	if err := fn(&lot); err != nil {
		return Lot{}, err
	}
	lot.RefreshAvailability()
	lot.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	s.lots[id] = lot
	s.mu.Unlock()
	return lot, nil
}

func (s *MemStore) DeleteLot(ctx context.Context, id string, fn func(Lot) error) error {
	release, err := s.acquire(ctx, "lot:"+id)
	if err != nil {
		return err
	}
	defer release()

	lot, err := s.GetLot(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(lot); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.lots, id)
	s.mu.Unlock()
	return nil
}

func (s *MemStore) ReserveLot(ctx context.Context, req ReserveRequest) (Order, bool, error) {
	if o, ok := s.byExternalID(req.ExternalID); ok {
		return o, true, nil
	}

	release, err := s.acquire(ctx, "lot:"+req.LotID)
	if err != nil {
		return Order{}, false, err
	}
	defer release()

	lot, err := s.GetLot(ctx, req.LotID)
	if err != nil {
		return Order{}, false, err
	}
	order, err := Reserve(&lot, req, time.Now().UTC())
	if err != nil {
		return Order{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// a concurrent request with the same key on another lot may have won
	if id, dup := s.external[req.ExternalID]; dup && req.ExternalID != "" {
		return s.orders[id], true, nil
	}
	s.lots[lot.ID] = lot
	s.orders[order.ID] = order
	if order.ExternalID != "" {
		s.external[order.ExternalID] = order.ID
	}
	return order, false, nil
}

func (s *MemStore) byExternalID(key string) (Order, bool) {
	if key == "" {
		return Order{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.external[key]
	if !ok {
		return Order{}, false
	}
	return s.orders[id], true
}

func (s *MemStore) GetOrder(ctx context.Context, id string) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return o, nil
}

func (s *MemStore) ListOrders(ctx context.Context, f OrderFilter) ([]Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Order, 0)
	for _, o := range s.orders {
		if f.BuyerID != "" && o.BuyerID != f.BuyerID {
			continue
		}
		if f.SellerID != "" && o.SellerID != f.SellerID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) UpdateOrder(ctx context.Context, id string, fn func(*Order) error) (Order, error) {
	release, err := s.acquire(ctx, "order:"+id)
	if err != nil {
		return Order{}, err
	}
	defer release()

	o, err := s.GetOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	total := o.TotalPrice
	if err := fn(&o); err != nil {
		return Order{}, err
	}
	o.TotalPrice = total

	s.mu.Lock()
	s.orders[id] = o
	s.mu.Unlock()
	return o, nil
}

func (s *MemStore) snapshot() ([]Lot, []Order, map[string]Role) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lots := make([]Lot, 0, len(s.lots))
	for _, l := range s.lots {
		lots = append(lots, l)
	}
	orders := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		orders = append(orders, o)
	}
	users := make(map[string]Role, len(s.users))
	for k, v := range s.users {
		users[k] = v
	}
	return lots, orders, users
}

func (s *MemStore) SellerStats(ctx context.Context, sellerID string) (Stats, error) {
	lots, orders, _ := s.snapshot()
	return SellerStatsOf(sellerID, lots, orders), nil
}

func (s *MemStore) BuyerStats(ctx context.Context, buyerID string) (Stats, error) {
	_, orders, _ := s.snapshot()
	return BuyerStatsOf(buyerID, orders), nil
}

func (s *MemStore) PlatformStats(ctx context.Context) (Stats, error) {
	lots, orders, users := s.snapshot()
	return PlatformStatsOf(users, lots, orders), nil
}
