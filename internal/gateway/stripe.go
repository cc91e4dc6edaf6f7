package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StripeClient talks to the Stripe REST API with form-encoded requests.
type StripeClient struct {
	BaseURL    string
	secretKey  string
	HTTPClient *http.Client
}

func NewStripeClient(baseURL, secretKey string) *StripeClient {
	return &StripeClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type stripeIntent struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	AmountReceived int64  `json:"amount_received"`
	ClientSecret   string `json:"client_secret"`
	Created        int64  `json:"created"`
}

type stripeRefund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

type stripeTransfer struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
}

type stripeAPIError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateHold places a manual-capture payment intent so funds are reserved
// without being charged until the regret period lapses.
func (c *StripeClient) CreateHold(ctx context.Context, amount decimal.Decimal, currency, customerRef string) (HoldResult, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(toCents(amount), 10))
	form.Set("currency", currency)
	form.Set("customer", customerRef)
	form.Set("capture_method", "manual")
	form.Set("confirm", "true")

	var intent stripeIntent
	if err := c.do(ctx, "create_hold", "/v1/payment_intents", form, &intent); err != nil {
		return HoldResult{}, err
	}
	return HoldResult{IntentID: intent.ID, Status: intent.Status, ClientSecret: intent.ClientSecret}, nil
}

// Capture converts a hold into an actual charge. A hold that was already
// captured by an earlier attempt is reported as AlreadyCaptured rather than
// an error, so the sweeper can repair orders that lost the local write.
func (c *StripeClient) Capture(ctx context.Context, intentID string) (CaptureResult, error) {
	var intent stripeIntent
	err := c.do(ctx, "capture", "/v1/payment_intents/"+intentID+"/capture", url.Values{}, &intent)
	if err != nil {
		gerr, ok := err.(*Error)
		if !ok || gerr.Code != "payment_intent_unexpected_state" {
			return CaptureResult{}, err
		}
		// The intent is not capturable; find out whether that is because a
		// previous capture went through.
		current, getErr := c.getIntent(ctx, intentID)
		if getErr != nil {
			return CaptureResult{}, err
		}
		if current.Status != StatusSucceeded {
			return CaptureResult{}, err
		}
		intent = current
		return CaptureResult{
			IntentID:        intent.ID,
			Status:          intent.Status,
			AmountCaptured:  fromCents(intent.AmountReceived),
			AlreadyCaptured: true,
			CapturedAt:      time.Unix(intent.Created, 0),
		}, nil
	}
	return CaptureResult{
		IntentID:       intent.ID,
		Status:         intent.Status,
		AmountCaptured: fromCents(intent.AmountReceived),
		CapturedAt:     time.Now(),
	}, nil
}

// Cancel releases an uncaptured hold.
func (c *StripeClient) Cancel(ctx context.Context, intentID string) error {
	var intent stripeIntent
	return c.do(ctx, "cancel", "/v1/payment_intents/"+intentID+"/cancel", url.Values{}, &intent)
}

// Refund returns part or all of a captured amount to the payer.
func (c *StripeClient) Refund(ctx context.Context, intentID string, amount decimal.Decimal) (RefundResult, error) {
	form := url.Values{}
	form.Set("payment_intent", intentID)
	form.Set("amount", strconv.FormatInt(toCents(amount), 10))

	var refund stripeRefund
	if err := c.do(ctx, "refund", "/v1/refunds", form, &refund); err != nil {
		return RefundResult{}, err
	}
	return RefundResult{RefundID: refund.ID, Status: refund.Status, Amount: fromCents(refund.Amount)}, nil
}

// Transfer pays out to a connected provider account.
func (c *StripeClient) Transfer(ctx context.Context, payeeRef string, amount decimal.Decimal, currency string) (TransferResult, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(toCents(amount), 10))
	form.Set("currency", currency)
	form.Set("destination", payeeRef)

	var transfer stripeTransfer
	if err := c.do(ctx, "transfer", "/v1/transfers", form, &transfer); err != nil {
		return TransferResult{}, err
	}
	return TransferResult{TransferID: transfer.ID, Amount: fromCents(transfer.Amount)}, nil
}

// Charge takes payment immediately against a stored customer, used by the
// subscription renewal card fallback.
func (c *StripeClient) Charge(ctx context.Context, customerRef string, amount decimal.Decimal, currency string) (ChargeResult, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(toCents(amount), 10))
	form.Set("currency", currency)
	form.Set("customer", customerRef)
	form.Set("confirm", "true")
	form.Set("off_session", "true")

	var intent stripeIntent
	if err := c.do(ctx, "charge", "/v1/payment_intents", form, &intent); err != nil {
		return ChargeResult{}, err
	}
	if intent.Status != StatusSucceeded {
		return ChargeResult{}, &Error{Op: "charge", Code: intent.Status, Detail: "charge did not succeed"}
	}
	return ChargeResult{IntentID: intent.ID, Status: intent.Status, Amount: fromCents(intent.AmountReceived)}, nil
}

func (c *StripeClient) getIntent(ctx context.Context, intentID string) (stripeIntent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/payment_intents/"+intentID, nil)
	if err != nil {
		return stripeIntent{}, &Error{Op: "get_intent", Detail: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return stripeIntent{}, &Error{Op: "get_intent", Detail: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return stripeIntent{}, apiError("get_intent", body)
	}
	var intent stripeIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return stripeIntent{}, &Error{Op: "get_intent", Detail: "malformed response"}
	}
	return intent, nil
}

func (c *StripeClient) do(ctx context.Context, op, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return &Error{Op: op, Detail: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &Error{Op: op, Detail: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return apiError(op, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Op: op, Detail: "malformed response"}
	}
	return nil
}

func apiError(op string, body []byte) *Error {
	var apiErr stripeAPIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return &Error{Op: op, Code: apiErr.Error.Code, Detail: apiErr.Error.Message}
	}
	return &Error{Op: op, Detail: string(body)}
}

func toCents(amount decimal.Decimal) int64 {
	return amount.Round(2).Shift(2).IntPart()
}

func fromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
