package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Listing is a provider's published service offer. DepositAmount is the
// escrow portion held at booking time; TotalAmount is the full quoted price.
type Listing struct {
	ID            string          `json:"id"`
	ProviderID    string          `json:"provider_id"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Category      string          `json:"category"`
	DepositAmount decimal.Decimal `json:"deposit_amount"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}
