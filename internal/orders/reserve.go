package orders

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func ValidateReserve(req ReserveRequest) error {
	switch {
	case strings.TrimSpace(req.LotID) == "":
		return invalid("lot_id", "is required")
	case strings.TrimSpace(req.BuyerID) == "":
		return invalid("buyer_id", "is required")
	case !req.Quantity.IsPositive():
		return invalid("quantity", "must be greater than zero")
	case strings.TrimSpace(req.DeliveryAddress) == "":
		return invalid("delivery_address", "is required")
	}
	return nil
}

func ValidateLot(l Lot) error {
	switch {
	case strings.TrimSpace(l.OwnerID) == "":
		return invalid("owner_id", "is required")
	case strings.TrimSpace(l.Name) == "":
		return invalid("name", "is required")
	case !l.Category.Valid():
		return invalid("category", "is not a known category")
	case strings.TrimSpace(l.Unit) == "":
		return invalid("unit", "is required")
	case l.QuantityAvailable.IsNegative():
		return invalid("quantity_available", "must not be negative")
	case !l.PricePerUnit.IsPositive():
		return invalid("price_per_unit", "must be greater than zero")
	case l.HarvestDate != nil && l.ExpiryDate != nil && l.ExpiryDate.Before(*l.HarvestDate):
		return invalid("expiry_date", "is before harvest_date")
	}
	return nil
}

// Reserve runs the check-and-decrement step of a reservation against a lot
// the caller already holds exclusively. On success lot is mutated in place
// and the new pending order is returned; on failure lot is untouched.
func Reserve(lot *Lot, req ReserveRequest, now time.Time) (Order, error) {
	if !lot.IsAvailable {
		return Order{}, fmt.Errorf("%w: %s", ErrUnavailable, lot.ID)
	}
	if req.Quantity.GreaterThan(lot.QuantityAvailable) {
		return Order{}, fmt.Errorf("%w: requested %s, available %s",
			ErrInsufficientStock, req.Quantity, lot.QuantityAvailable)
	}

	total := req.Quantity.Mul(lot.PricePerUnit)
	lot.QuantityAvailable = lot.QuantityAvailable.Sub(req.Quantity)
	lot.RefreshAvailability()
	lot.UpdatedAt = now

	return Order{
		ID:              uuid.NewString(),
		ExternalID:      req.ExternalID,
		LotID:           lot.ID,
		LotName:         lot.Name,
		Unit:            lot.Unit,
		PricePerUnit:    lot.PricePerUnit,
		BuyerID:         req.BuyerID,
		SellerID:        lot.OwnerID,
		Quantity:        req.Quantity,
		TotalPrice:      total,
		Status:          StatusPending,
		DeliveryAddress: strings.TrimSpace(req.DeliveryAddress),
		Notes:           req.Notes,
		DeliveryDate:    req.DeliveryDate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}
