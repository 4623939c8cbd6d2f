package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is the Postgres-backed Store. Row locks (SELECT ... FOR UPDATE)
// are the per-lot serialization point; LockTimeout bounds the wait for them.
type PgStore struct {
	DB          *pgxpool.Pool
	LockTimeout time.Duration
}

const lotColumns = `id, owner_id, name, category, unit, quantity_available, price_per_unit,
	is_available, is_disabled, description, location, harvest_date, expiry_date, is_organic,
	created_at, updated_at`

const orderColumns = `id, COALESCE(external_id, ''), lot_id, lot_name, unit, price_per_unit,
	buyer_id, seller_id, quantity, total_price, status, delivery_address, notes, delivery_date,
	created_at, updated_at`

func scanLot(row pgx.Row) (Lot, error) {
	var l Lot
	var cat string
	err := row.Scan(&l.ID, &l.OwnerID, &l.Name, &cat, &l.Unit, &l.QuantityAvailable, &l.PricePerUnit,
		&l.IsAvailable, &l.Disabled, &l.Description, &l.Location, &l.HarvestDate, &l.ExpiryDate,
		&l.IsOrganic, &l.CreatedAt, &l.UpdatedAt)
	l.Category = Category(cat)
	return l, err
}

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var st string
	err := row.Scan(&o.ID, &o.ExternalID, &o.LotID, &o.LotName, &o.Unit, &o.PricePerUnit,
		&o.BuyerID, &o.SellerID, &o.Quantity, &o.TotalPrice, &st, &o.DeliveryAddress, &o.Notes,
		&o.DeliveryDate, &o.CreatedAt, &o.UpdatedAt)
	o.Status = Status(st)
	return o, err
}

func (s *PgStore) CreateLot(ctx context.Context, lot Lot) (Lot, error) {
	if lot.ID == "" {
		lot.ID = uuid.NewString()
	}
	lot.RefreshAvailability()
	row := s.DB.QueryRow(ctx, `
		INSERT INTO lots(id, owner_id, name, category, unit, quantity_available, price_per_unit,
		                 is_available, is_disabled, description, location, harvest_date, expiry_date, is_organic)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING `+lotColumns,
		lot.ID, lot.OwnerID, lot.Name, string(lot.Category), lot.Unit, lot.QuantityAvailable, lot.PricePerUnit,
		lot.IsAvailable, lot.Disabled, lot.Description, lot.Location, lot.HarvestDate, lot.ExpiryDate, lot.IsOrganic)
	created, err := scanLot(row)
	if err != nil {
		return Lot{}, translate(err)
	}
	return created, nil
}

func (s *PgStore) GetLot(ctx context.Context, id string) (Lot, error) {
	l, err := scanLot(s.DB.QueryRow(ctx, `SELECT `+lotColumns+` FROM lots WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Lot{}, fmt.Errorf("lot %s: %w", id, ErrNotFound)
	}
	return l, err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern makes q match literally inside an ILIKE pattern.
func likePattern(q string) string {
	return likeEscaper.Replace(q)
}

func (s *PgStore) ListLots(ctx context.Context, f LotFilter) ([]Lot, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.OwnerID != "" {
		add("owner_id = $%d", f.OwnerID)
	}
	if f.Category != "" {
		add("category = $%d", string(f.Category))
	}
	if f.OnlyAvailable {
		where = append(where, "is_available")
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		add(`(name ILIKE $%[1]d ESCAPE '\' OR description ILIKE $%[1]d ESCAPE '\')`, "%"+likePattern(q)+"%")
	}

	sql := `SELECT ` + lotColumns + ` FROM lots`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY created_at DESC`

	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Lot{}
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *PgStore) GetOrder(ctx context.Context, id string) (Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return o, err
}

func (s *PgStore) orderByExternalID(ctx context.Context, key string) (Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE external_id=$1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, fmt.Errorf("order external_id=%s: %w", key, ErrNotFound)
	}
	return o, err
}

func (s *PgStore) ListOrders(ctx context.Context, f OrderFilter) ([]Order, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.BuyerID != "" {
		add("buyer_id = $%d", f.BuyerID)
	}
	if f.SellerID != "" {
		add("seller_id = $%d", f.SellerID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}

	sql := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY created_at DESC`

	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Each stats query is a single statement, so it reads one snapshot.

func (s *PgStore) SellerStats(ctx context.Context, sellerID string) (Stats, error) {
	st := Stats{Scope: ScopeSeller, SubjectID: sellerID}
	err := s.DB.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM lots WHERE owner_id = $1),
		       COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'pending'),
		       COALESCE(SUM(total_price), 0)
		FROM orders WHERE seller_id = $1`, sellerID).
		Scan(&st.TotalLots, &st.TotalOrders, &st.PendingOrders, &st.Revenue)
	return st, err
}

func (s *PgStore) BuyerStats(ctx context.Context, buyerID string) (Stats, error) {
	st := Stats{Scope: ScopeBuyer, SubjectID: buyerID}
	err := s.DB.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'pending'),
		       COALESCE(SUM(total_price), 0)
		FROM orders WHERE buyer_id = $1`, buyerID).
		Scan(&st.TotalOrders, &st.PendingOrders, &st.Revenue)
	return st, err
}

func (s *PgStore) PlatformStats(ctx context.Context) (Stats, error) {
	st := Stats{Scope: ScopePlatform}
	err := s.DB.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM profiles),
		       (SELECT COUNT(*) FROM profiles WHERE user_type = 'farmer'),
		       (SELECT COUNT(*) FROM profiles WHERE user_type = 'buyer'),
		       (SELECT COUNT(*) FROM lots),
		       (SELECT COUNT(*) FROM orders),
		       (SELECT COUNT(*) FROM orders WHERE status = 'pending'),
		       (SELECT COALESCE(SUM(total_price), 0) FROM orders WHERE status = 'delivered')`).
		Scan(&st.TotalUsers, &st.TotalFarmers, &st.TotalBuyers, &st.TotalLots,
			&st.TotalOrders, &st.PendingOrders, &st.Revenue)
	return st, err
}

// translate maps storage failures onto the domain taxonomy.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "55P03", "40001", "40P01": // lock_not_available, serialization_failure, deadlock_detected
		return fmt.Errorf("%w: %s", ErrBusy, pgErr.Message)
	case "23505": // unique_violation
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	case "23514": // check_violation
		return &ValidationError{Field: pgErr.ConstraintName, Reason: "violates " + pgErr.Message}
	}
	return err
}
