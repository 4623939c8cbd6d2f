package orders

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Category string

const (
	CategoryVegetables Category = "vegetables"
	CategoryFruits     Category = "fruits"
	CategoryGrains     Category = "grains"
	CategoryPulses     Category = "pulses"
	CategorySpices     Category = "spices"
	CategoryDairy      Category = "dairy"
	CategoryOther      Category = "other"
)

var categories = map[Category]bool{
	CategoryVegetables: true,
	CategoryFruits:     true,
	CategoryGrains:     true,
	CategoryPulses:     true,
	CategorySpices:     true,
	CategoryDairy:      true,
	CategoryOther:      true,
}

func (c Category) Valid() bool { return categories[c] }

// Lot is a seller's listed crop. IsAvailable is stored alongside the
// quantity for cheap reads but is only ever written by RefreshAvailability.
type Lot struct {
	ID                string          `json:"id"`
	OwnerID           string          `json:"owner_id"`
	Name              string          `json:"name"`
	Category          Category        `json:"category"`
	Unit              string          `json:"unit"`
	QuantityAvailable decimal.Decimal `json:"quantity_available"`
	PricePerUnit      decimal.Decimal `json:"price_per_unit"`
	IsAvailable       bool            `json:"is_available"`
	Disabled          bool            `json:"disabled"`
	Description       string          `json:"description,omitempty"`
	Location          string          `json:"location,omitempty"`
	HarvestDate       *time.Time      `json:"harvest_date,omitempty"`
	ExpiryDate        *time.Time      `json:"expiry_date,omitempty"`
	IsOrganic         bool            `json:"is_organic"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (l *Lot) RefreshAvailability() {
	l.IsAvailable = !l.Disabled && l.QuantityAvailable.IsPositive()
}

// LotPatch is a seller edit; nil fields are left untouched.
type LotPatch struct {
	Name              *string          `json:"name,omitempty"`
	Category          *Category        `json:"category,omitempty"`
	Unit              *string          `json:"unit,omitempty"`
	QuantityAvailable *decimal.Decimal `json:"quantity_available,omitempty"`
	PricePerUnit      *decimal.Decimal `json:"price_per_unit,omitempty"`
	Disabled          *bool            `json:"disabled,omitempty"`
	Description       *string          `json:"description,omitempty"`
	Location          *string          `json:"location,omitempty"`
	HarvestDate       *time.Time       `json:"harvest_date,omitempty"`
	ExpiryDate        *time.Time       `json:"expiry_date,omitempty"`
	IsOrganic         *bool            `json:"is_organic,omitempty"`
}

func (p LotPatch) Apply(l *Lot) {
	if p.Name != nil {
		l.Name = strings.TrimSpace(*p.Name)
	}
	if p.Category != nil {
		l.Category = *p.Category
	}
	if p.Unit != nil {
		l.Unit = strings.TrimSpace(*p.Unit)
	}
	if p.QuantityAvailable != nil {
		l.QuantityAvailable = *p.QuantityAvailable
	}
	if p.PricePerUnit != nil {
		l.PricePerUnit = *p.PricePerUnit
	}
	if p.Disabled != nil {
		l.Disabled = *p.Disabled
	}
	if p.Description != nil {
		l.Description = *p.Description
	}
	if p.Location != nil {
		l.Location = *p.Location
	}
	if p.HarvestDate != nil {
		l.HarvestDate = p.HarvestDate
	}
	if p.ExpiryDate != nil {
		l.ExpiryDate = p.ExpiryDate
	}
	if p.IsOrganic != nil {
		l.IsOrganic = *p.IsOrganic
	}
	l.RefreshAvailability()
}

type Order struct {
	ID              string          `json:"id"`
	ExternalID      string          `json:"external_id,omitempty"`
	LotID           string          `json:"lot_id"`
	LotName         string          `json:"lot_name"`
	Unit            string          `json:"unit"`
	PricePerUnit    decimal.Decimal `json:"price_per_unit"`
	BuyerID         string          `json:"buyer_id"`
	SellerID        string          `json:"seller_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	Status          Status          `json:"status"`
	DeliveryAddress string          `json:"delivery_address"`
	Notes           string          `json:"notes,omitempty"`
	DeliveryDate    *time.Time      `json:"delivery_date,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ReserveRequest is the input of a reservation. ExternalID is an optional
// client idempotency key.
type ReserveRequest struct {
	LotID           string
	BuyerID         string
	Quantity        decimal.Decimal
	DeliveryAddress string
	Notes           string
	DeliveryDate    *time.Time
	ExternalID      string
}

type LotFilter struct {
	OwnerID       string
	Category      Category
	OnlyAvailable bool
	Search        string
}

type OrderFilter struct {
	BuyerID  string
	SellerID string
	Status   Status
}

type Role string

const (
	RoleFarmer Role = "farmer"
	RoleBuyer  Role = "buyer"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleFarmer || r == RoleBuyer || r == RoleAdmin
}

// Actor is the authenticated caller, resolved once per request by the
// identity layer and passed into every authorization decision.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

func (a Actor) CanManageLot(l Lot) bool { return a.IsAdmin() || a.ID == l.OwnerID }

func (a Actor) CanViewOrder(o Order) bool {
	return a.IsAdmin() || a.ID == o.BuyerID || a.ID == o.SellerID
}
