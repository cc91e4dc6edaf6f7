package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Intent statuses reported back by the gateway.
const (
	StatusRequiresCapture = "requires_capture"
	StatusSucceeded       = "succeeded"
	StatusCanceled        = "canceled"
	StatusProcessing      = "processing"
)

// HoldResult is returned when an authorization hold is placed.
type HoldResult struct {
	IntentID     string
	Status       string
	ClientSecret string
}

// CaptureResult reports the outcome of converting a hold into a charge.
type CaptureResult struct {
	IntentID        string
	Status          string
	AmountCaptured  decimal.Decimal
	AlreadyCaptured bool
	CapturedAt      time.Time
}

// RefundResult reports a refund against a captured intent.
type RefundResult struct {
	RefundID string
	Status   string
	Amount   decimal.Decimal
}

// TransferResult reports a payout transfer to a provider account.
type TransferResult struct {
	TransferID string
	Amount     decimal.Decimal
}

// ChargeResult reports an immediate (non-hold) charge, used by renewals.
type ChargeResult struct {
	IntentID string
	Status   string
	Amount   decimal.Decimal
}

// PaymentGateway is the boundary between the settlement engine and the
// payment processor. Implementations must be safe for concurrent use.
type PaymentGateway interface {
	CreateHold(ctx context.Context, amount decimal.Decimal, currency, customerRef string) (HoldResult, error)
	Capture(ctx context.Context, intentID string) (CaptureResult, error)
	Cancel(ctx context.Context, intentID string) error
	Refund(ctx context.Context, intentID string, amount decimal.Decimal) (RefundResult, error)
	Transfer(ctx context.Context, payeeRef string, amount decimal.Decimal, currency string) (TransferResult, error)
	Charge(ctx context.Context, customerRef string, amount decimal.Decimal, currency string) (ChargeResult, error)
}

// Error wraps a gateway-side failure with the operation that caused it.
// Sweepers log it and retry on the next pass; direct endpoints surface it.
type Error struct {
	Op     string
	Code   string
	Detail string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway %s: %s (%s)", e.Op, e.Detail, e.Code)
	}
	return fmt.Sprintf("gateway %s: %s", e.Op, e.Detail)
}
