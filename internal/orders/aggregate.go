package orders

import "github.com/shopspring/decimal"

type Scope string

const (
	ScopeSeller   Scope = "seller"
	ScopeBuyer    Scope = "buyer"
	ScopePlatform Scope = "platform"
)

// Stats is the record behind every dashboard. Revenue means different
// things per scope: all of a seller's order totals, all of a buyer's spend,
// or delivered-only totals across the platform.
type Stats struct {
	Scope         Scope           `json:"scope"`
	SubjectID     string          `json:"subject_id,omitempty"`
	TotalLots     int64           `json:"total_lots"`
	TotalOrders   int64           `json:"total_orders"`
	PendingOrders int64           `json:"pending_orders"`
	Revenue       decimal.Decimal `json:"revenue"`
	TotalUsers    int64           `json:"total_users,omitempty"`
	TotalFarmers  int64           `json:"total_farmers,omitempty"`
	TotalBuyers   int64           `json:"total_buyers,omitempty"`
}

func SellerStatsOf(sellerID string, lots []Lot, orders []Order) Stats {
	st := Stats{Scope: ScopeSeller, SubjectID: sellerID, Revenue: decimal.Zero}
	for _, l := range lots {
		if l.OwnerID == sellerID {
			st.TotalLots++
		}
	}
	for _, o := range orders {
		if o.SellerID != sellerID {
			continue
		}
		st.TotalOrders++
		st.Revenue = st.Revenue.Add(o.TotalPrice)
		if o.Status == StatusPending {
			st.PendingOrders++
		}
	}
	return st
}

func BuyerStatsOf(buyerID string, orders []Order) Stats {
	st := Stats{Scope: ScopeBuyer, SubjectID: buyerID, Revenue: decimal.Zero}
	for _, o := range orders {
		if o.BuyerID != buyerID {
			continue
		}
		st.TotalOrders++
		st.Revenue = st.Revenue.Add(o.TotalPrice)
		if o.Status == StatusPending {
			st.PendingOrders++
		}
	}
	return st
}

func PlatformStatsOf(users map[string]Role, lots []Lot, orders []Order) Stats {
	st := Stats{
		Scope:      ScopePlatform,
		TotalUsers: int64(len(users)),
		TotalLots:  int64(len(lots)),
		Revenue:    decimal.Zero,
	}
	for _, r := range users {
		switch r {
		case RoleFarmer:
			st.TotalFarmers++
		case RoleBuyer:
			st.TotalBuyers++
		}
	}
	for _, o := range orders {
		st.TotalOrders++
		switch o.Status {
		case StatusPending:
			st.PendingOrders++
		case StatusDelivered:
			st.Revenue = st.Revenue.Add(o.TotalPrice)
		}
	}
	return st
}
