package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ledger transaction types. A row's sign carries direction: credits are
// positive, debits negative.
const (
	TypeDepositOutgoing     = "deposit_outgoing"
	TypeDepositIncome       = "deposit_income"
	TypeBalancePayment      = "balance_payment"
	TypePlatformFee         = "platform_fee"
	TypeSubscriptionPayment = "subscription_payment"
	TypeAdminAdd            = "admin_add"
	TypeAdminDeduct         = "admin_deduct"
)

type Wallet struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Transaction struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	OrderID     *string         `json:"order_id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Posting is a requested balance mutation plus its ledger row.
type Posting struct {
	UserID      string
	OrderID     *string
	Amount      decimal.Decimal
	Type        string
	Description string
}

var validTypes = map[string]bool{
	TypeDepositOutgoing:     true,
	TypeDepositIncome:       true,
	TypeBalancePayment:      true,
	TypePlatformFee:         true,
	TypeSubscriptionPayment: true,
	TypeAdminAdd:            true,
	TypeAdminDeduct:         true,
}

func (p Posting) validate() error {
	if p.UserID == "" {
		return ErrInvalidPosting
	}
	if !validTypes[p.Type] {
		return ErrInvalidPosting
	}
	return nil
}
