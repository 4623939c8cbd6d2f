package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// begin opens a transaction whose row-lock waits are capped at LockTimeout.
func (s *PgStore) begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	ms := fmt.Sprintf("%dms", s.LockTimeout.Milliseconds())
	if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, ms); err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	return tx, nil
}

func lockLot(ctx context.Context, tx pgx.Tx, id string) (Lot, error) {
	l, err := scanLot(tx.QueryRow(ctx, `SELECT `+lotColumns+` FROM lots WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Lot{}, fmt.Errorf("lot %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Lot{}, translate(err)
	}
	return l, nil
}

// ReserveLot: lock the lot row -> check & decrement -> insert order -> commit.
// Any failure rolls back both writes.
func (s *PgStore) ReserveLot(ctx context.Context, req ReserveRequest) (Order, bool, error) {
	if req.ExternalID != "" {
		o, err := s.orderByExternalID(ctx, req.ExternalID)
		if err == nil {
			return o, true, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Order{}, false, err
		}
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return Order{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lot, err := lockLot(ctx, tx, req.LotID)
	if err != nil {
		return Order{}, false, err
	}

	// price and quantity come from the locked row, not from any earlier read
	order, err := Reserve(&lot, req, time.Now().UTC())
	if err != nil {
		return Order{}, false, err
	}

	ct, err := tx.Exec(ctx, `
		UPDATE lots SET quantity_available=$2, is_available=$3, updated_at=$4
		WHERE id=$1`, lot.ID, lot.QuantityAvailable, lot.IsAvailable, lot.UpdatedAt)
	if err != nil {
		return Order{}, false, translate(err)
	}
	if ct.RowsAffected() != 1 {
		return Order{}, false, fmt.Errorf("lot %s: %w", lot.ID, ErrNotFound)
	}

	var external any
	if order.ExternalID != "" {
		external = order.ExternalID
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, external_id, lot_id, lot_name, unit, price_per_unit, buyer_id, seller_id,
		                   quantity, total_price, status, delivery_address, notes, delivery_date,
		                   created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		order.ID, external, order.LotID, order.LotName, order.Unit, order.PricePerUnit, order.BuyerID,
		order.SellerID, order.Quantity, order.TotalPrice, string(order.Status), order.DeliveryAddress,
		order.Notes, order.DeliveryDate, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		err = translate(err)
		if errors.Is(err, ErrConflict) && order.ExternalID != "" {
			// lost an idempotency race: drop our decrement, hand back the winner
			_ = tx.Rollback(ctx)
			existing, gerr := s.orderByExternalID(ctx, order.ExternalID)
			if gerr != nil {
				return Order{}, false, gerr
			}
			return existing, true, nil
		}
		return Order{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, false, translate(err)
	}
	return order, false, nil
}

func (s *PgStore) UpdateLot(ctx context.Context, id string, fn func(*Lot) error) (Lot, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return Lot{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lot, err := lockLot(ctx, tx, id)
	if err != nil {
		return Lot{}, err
	}
	if err := fn(&lot); err != nil {
		return Lot{}, err
	}
	lot.RefreshAvailability()
	lot.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx, `
		UPDATE lots SET name=$2, category=$3, unit=$4, quantity_available=$5, price_per_unit=$6,
		       is_available=$7, is_disabled=$8, description=$9, location=$10, harvest_date=$11,
		       expiry_date=$12, is_organic=$13, updated_at=$14
		WHERE id=$1`,
		lot.ID, lot.Name, string(lot.Category), lot.Unit, lot.QuantityAvailable, lot.PricePerUnit,
		lot.IsAvailable, lot.Disabled, lot.Description, lot.Location, lot.HarvestDate,
		lot.ExpiryDate, lot.IsOrganic, lot.UpdatedAt)
	if err != nil {
		return Lot{}, translate(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Lot{}, translate(err)
	}
	return lot, nil
}

func (s *PgStore) DeleteLot(ctx context.Context, id string, fn func(Lot) error) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lot, err := lockLot(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := fn(lot); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM lots WHERE id=$1`, id); err != nil {
		return translate(err)
	}
	return translate(tx.Commit(ctx))
}

// UpdateOrder only persists status and updated_at; every other column of an
// order is fixed at placement.
func (s *PgStore) UpdateOrder(ctx context.Context, id string, fn func(*Order) error) (Order, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Order{}, translate(err)
	}
	before := o
	if err := fn(&o); err != nil {
		return Order{}, err
	}
	o.TotalPrice = before.TotalPrice
	if o.UpdatedAt.Equal(before.UpdatedAt) {
		o.UpdatedAt = time.Now().UTC()
	}

	if _, err := tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=$3 WHERE id=$1`,
		o.ID, string(o.Status), o.UpdatedAt); err != nil {
		return Order{}, translate(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, translate(err)
	}
	return o, nil
}
