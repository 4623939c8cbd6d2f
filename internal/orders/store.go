package orders

import "context"

// Store is the Lot Store and Order Ledger. Every method that mutates a lot
// (ReserveLot, UpdateLot, DeleteLot) goes through the same per-lot
// serialization point and gives up with ErrBusy once the configured lock
// timeout elapses. Callbacks run while that point is held and must not block.
type Store interface {
	CreateLot(ctx context.Context, lot Lot) (Lot, error)
	GetLot(ctx context.Context, id string) (Lot, error)
	ListLots(ctx context.Context, f LotFilter) ([]Lot, error)
	UpdateLot(ctx context.Context, id string, fn func(*Lot) error) (Lot, error)
	DeleteLot(ctx context.Context, id string, fn func(Lot) error) error

	// ReserveLot decrements the lot and records the order atomically.
	// existed reports that req.ExternalID matched an earlier order, which
	// is returned untouched.
	ReserveLot(ctx context.Context, req ReserveRequest) (o Order, existed bool, err error)

	GetOrder(ctx context.Context, id string) (Order, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]Order, error)
	UpdateOrder(ctx context.Context, id string, fn func(*Order) error) (Order, error)

	SellerStats(ctx context.Context, sellerID string) (Stats, error)
	BuyerStats(ctx context.Context, buyerID string) (Stats, error)
	PlatformStats(ctx context.Context) (Stats, error)
}
