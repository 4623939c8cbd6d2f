package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-farm-market/internal/orders"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/ariefcatur/go-farm-market/internal/lifecycle")

// Service moves orders through the delivery state machine. It never
// touches lots: cancelling a pending order leaves the lot's quantity as is.
type Service struct {
	Store orders.Store
	Log   logrus.FieldLogger
}

// Transition is the outcome of a successful status change.
type Transition struct {
	Order orders.Order
	From  orders.Status
}

func (s *Service) UpdateStatus(ctx context.Context, orderID string, to orders.Status, actor orders.Actor) (Transition, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.UpdateStatus", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.status.to", string(to)),
		attribute.String("actor.id", actor.ID),
	))
	defer span.End()

	log := s.Log.WithFields(logrus.Fields{"order_id": orderID, "actor_id": actor.ID, "to": to})

	var from orders.Status
	o, err := s.Store.UpdateOrder(ctx, orderID, func(o *orders.Order) error {
		from = o.Status
		return orders.ApplyTransition(o, to, actor, time.Now().UTC())
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.WithError(err).Info("status change rejected")
		return Transition{}, err
	}

	log.WithField("from", from).Info("order status changed")
	return Transition{Order: o, From: from}, nil
}

func (s *Service) GetOrder(ctx context.Context, actor orders.Actor, id string) (orders.Order, error) {
	o, err := s.Store.GetOrder(ctx, id)
	if err != nil {
		return orders.Order{}, err
	}
	if !actor.CanViewOrder(o) {
		return orders.Order{}, fmt.Errorf("%w: order %s", orders.ErrForbidden, id)
	}
	return o, nil
}

// ListOrders scopes the listing to the actor: buyers see what they bought,
// sellers what was bought from them, admins everything.
func (s *Service) ListOrders(ctx context.Context, actor orders.Actor, status orders.Status) ([]orders.Order, error) {
	f := orders.OrderFilter{Status: status}
	switch actor.Role {
	case orders.RoleAdmin:
	case orders.RoleFarmer:
		f.SellerID = actor.ID
	case orders.RoleBuyer:
		f.BuyerID = actor.ID
	default:
		return nil, fmt.Errorf("%w: unknown role %q", orders.ErrForbidden, actor.Role)
	}
	return s.Store.ListOrders(ctx, f)
}
