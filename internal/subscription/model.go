package subscription

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	CycleMonth = "month"
	CycleYear  = "year"
)

// Plan is a purchasable subscription tier. Credits and listings are the
// monthly allowances copied onto the subscription at each renewal.
type Plan struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Currency     string          `json:"currency"`
	BillingCycle string          `json:"billing_cycle"`
	Credits      int             `json:"credits"`
	Listings     int             `json:"listings"`
	CreatedAt    time.Time       `json:"created_at"`
}

type Subscription struct {
	ID                string          `json:"id"`
	UserID            string          `json:"user_id"`
	PlanID            string          `json:"plan_id"`
	BillingCycle      string          `json:"billing_cycle"`
	Price             decimal.Decimal `json:"price"`
	Currency          string          `json:"currency"`
	EndDate           time.Time       `json:"end_date"`
	AutoRenew         bool            `json:"auto_renew"`
	RemainingCredits  int             `json:"remaining_credits"`
	RemainingListings int             `json:"remaining_listings"`
	LastPaymentMethod *string         `json:"last_payment_method,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// NextEndDate extends from the current end date, not from now, so a late
// renewal does not shorten the period the user paid for.
func (s *Subscription) NextEndDate() time.Time {
	if s.BillingCycle == CycleYear {
		return s.EndDate.AddDate(1, 0, 0)
	}
	return s.EndDate.AddDate(0, 1, 0)
}
