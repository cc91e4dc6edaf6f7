package order

import (
	"crypto/rand"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the persisted lifecycle position of an order.
type Status string

const (
	StatusCreated             Status = "created"
	StatusAuthHold            Status = "auth_hold"
	StatusCancelled           Status = "cancelled"
	StatusCancelledByProvider Status = "cancelled_by_provider"
	StatusCancelledForfeit    Status = "cancelled_forfeit"
	StatusCaptured            Status = "captured"
	StatusInProgress          Status = "in_progress"
	StatusPendingVerification Status = "pending_verification"
	StatusVerified            Status = "verified"
	StatusRework              Status = "rework"
	StatusRated               Status = "rated"
	StatusCompleted           Status = "completed"
)

// CaptureState mirrors the gateway's view of the deposit hold.
type CaptureState string

const (
	CaptureUncaptured CaptureState = "uncaptured"
	CaptureCaptured   CaptureState = "captured"
)

// transitions is the full successor set per status. Statuses absent from the
// map are terminal.
var transitions = map[Status][]Status{
	StatusCreated:             {StatusAuthHold, StatusCancelled},
	StatusAuthHold:            {StatusCancelled, StatusCancelledByProvider, StatusCaptured},
	StatusCaptured:            {StatusInProgress, StatusCancelledForfeit},
	StatusInProgress:          {StatusPendingVerification},
	StatusPendingVerification: {StatusVerified, StatusRework},
	StatusRework:              {StatusInProgress},
	StatusVerified:            {StatusRated},
	StatusRated:               {StatusCompleted},
}

// CanTransition reports whether to is in the successor set of from.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is permitted.
func Terminal(s Status) bool {
	return len(transitions[s]) == 0
}

type Order struct {
	ID              string           `json:"id"`
	OrderNo         string           `json:"order_no"`
	UserID          string           `json:"user_id"`
	ProviderID      *string          `json:"provider_id,omitempty"`
	ListingID       *string          `json:"listing_id,omitempty"`
	DepositAmount   decimal.Decimal  `json:"deposit_amount"`
	TotalAmount     decimal.Decimal  `json:"total_amount"`
	Currency        string           `json:"currency"`
	PlatformFee     *decimal.Decimal `json:"platform_fee,omitempty"`
	PaymentIntentID *string          `json:"stripe_payment_intent_id,omitempty"`
	CaptureStatus   CaptureState     `json:"stripe_capture_status"`
	Status          Status           `json:"status"`
	CancelDeadline  *time.Time       `json:"cancel_deadline,omitempty"`
	CancelReason    *string          `json:"cancel_reason,omitempty"`
	RatingScore     *int             `json:"rating_score,omitempty"`
	RatingComment   *string          `json:"rating_comment,omitempty"`
	Version         int64            `json:"version"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// NewOrderNo builds the human-facing order number: ORD + date + 6 digits.
func NewOrderNo(now time.Time) string {
	digits := make([]byte, 6)
	for i := range digits {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			// crypto/rand failing means the process is in serious trouble;
			// fall back to a time-derived digit rather than panic.
			digits[i] = byte('0' + (now.UnixNano()/int64(i+1))%10)
			continue
		}
		digits[i] = byte('0' + v.Int64())
	}
	return "ORD" + now.Format("20060102") + string(digits)
}
