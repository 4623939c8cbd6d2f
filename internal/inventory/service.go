package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-farm-market/internal/orders"
	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/ariefcatur/go-farm-market/internal/inventory")

// Service is the write path for lots: buyer reservations and seller edits.
// Both go through the store's per-lot serialization point.
type Service struct {
	Store orders.Store
	Log   logrus.FieldLogger

	// MaxAttempts bounds how often a reservation that hit the lot lock
	// timeout is retried before ErrBusy reaches the caller.
	MaxAttempts  int
	RetryBackoff time.Duration
}

type placed struct {
	order   orders.Order
	existed bool
}

// PlaceOrder reserves req.Quantity from the lot and records a pending order.
// Either both happen or neither does.
func (s *Service) PlaceOrder(ctx context.Context, req orders.ReserveRequest) (orders.Order, bool, error) {
	ctx, span := tracer.Start(ctx, "inventory.PlaceOrder", trace.WithAttributes(
		attribute.String("lot.id", req.LotID),
		attribute.String("buyer.id", req.BuyerID),
	))
	defer span.End()

	log := s.Log.WithFields(logrus.Fields{"lot_id": req.LotID, "buyer_id": req.BuyerID, "quantity": req.Quantity.String()})

	if err := orders.ValidateReserve(req); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return orders.Order{}, false, err
	}

	attempt := 0
	res, err := backoff.Retry(ctx, func() (placed, error) {
		attempt++
		o, existed, err := s.Store.ReserveLot(ctx, req)
		if errors.Is(err, orders.ErrBusy) {
			log.WithField("attempt", attempt).Debug("lot busy")
			return placed{}, err
		}
		if err != nil {
			return placed{}, backoff.Permanent(err)
		}
		return placed{order: o, existed: existed}, nil
	}, backoff.WithBackOff(s.backoff()), backoff.WithMaxTries(uint(s.attempts())))

	span.SetAttributes(attribute.Int("reserve.attempts", attempt))
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, orders.ErrBusy) {
		// budget spent waiting between attempts: still retryable for the caller
		err = fmt.Errorf("%w: %w", orders.ErrBusy, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, orders.ErrBusy) {
			log.WithError(err).Warn("reservation gave up on lot lock")
		} else {
			log.WithError(err).Info("reservation rejected")
		}
		return orders.Order{}, false, err
	}

	span.SetAttributes(attribute.String("order.id", res.order.ID), attribute.Bool("order.existed", res.existed))
	log.WithFields(logrus.Fields{
		"order_id": res.order.ID,
		"total":    res.order.TotalPrice.String(),
		"existed":  res.existed,
	}).Info("order placed")
	return res.order, res.existed, nil
}

func (s *Service) attempts() int {
	if s.MaxAttempts < 1 {
		return 1
	}
	return s.MaxAttempts
}

func (s *Service) backoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.RetryBackoff
	if b.InitialInterval <= 0 {
		b.InitialInterval = 25 * time.Millisecond
	}
	b.MaxInterval = 10 * b.InitialInterval
	return b
}

func (s *Service) CreateLot(ctx context.Context, actor orders.Actor, lot orders.Lot) (orders.Lot, error) {
	ctx, span := tracer.Start(ctx, "inventory.CreateLot")
	defer span.End()

	switch {
	case actor.Role == orders.RoleFarmer:
		lot.OwnerID = actor.ID
	case actor.IsAdmin():
		if lot.OwnerID == "" {
			lot.OwnerID = actor.ID
		}
	default:
		return orders.Lot{}, fmt.Errorf("%w: only sellers list lots", orders.ErrForbidden)
	}
	lot.ID = ""
	if err := orders.ValidateLot(lot); err != nil {
		return orders.Lot{}, err
	}

	created, err := s.Store.CreateLot(ctx, lot)
	if err != nil {
		span.RecordError(err)
		return orders.Lot{}, err
	}
	s.Log.WithFields(logrus.Fields{"lot_id": created.ID, "owner_id": created.OwnerID}).Info("lot created")
	return created, nil
}

// UpdateLot applies a seller edit under the same lock reservations take, so
// a direct quantity set never loses a concurrent decrement or vice versa.
func (s *Service) UpdateLot(ctx context.Context, actor orders.Actor, id string, patch orders.LotPatch) (orders.Lot, error) {
	ctx, span := tracer.Start(ctx, "inventory.UpdateLot", trace.WithAttributes(attribute.String("lot.id", id)))
	defer span.End()

	lot, err := s.Store.UpdateLot(ctx, id, func(l *orders.Lot) error {
		if !actor.CanManageLot(*l) {
			return fmt.Errorf("%w: lot %s belongs to %s", orders.ErrForbidden, l.ID, l.OwnerID)
		}
		patch.Apply(l)
		return orders.ValidateLot(*l)
	})
	if err != nil {
		span.RecordError(err)
		return orders.Lot{}, err
	}
	s.Log.WithFields(logrus.Fields{
		"lot_id":       lot.ID,
		"actor_id":     actor.ID,
		"quantity":     lot.QuantityAvailable.String(),
		"is_available": lot.IsAvailable,
	}).Info("lot updated")
	return lot, nil
}

func (s *Service) DeleteLot(ctx context.Context, actor orders.Actor, id string) (orders.Lot, error) {
	ctx, span := tracer.Start(ctx, "inventory.DeleteLot", trace.WithAttributes(attribute.String("lot.id", id)))
	defer span.End()

	var deleted orders.Lot
	err := s.Store.DeleteLot(ctx, id, func(l orders.Lot) error {
		if !actor.CanManageLot(l) {
			return fmt.Errorf("%w: lot %s belongs to %s", orders.ErrForbidden, l.ID, l.OwnerID)
		}
		deleted = l
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return orders.Lot{}, err
	}
	s.Log.WithFields(logrus.Fields{"lot_id": id, "actor_id": actor.ID}).Info("lot deleted")
	return deleted, nil
}
