package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/joelyan00/fongbeeV1-sub002/internal/fees"
	"github.com/joelyan00/fongbeeV1-sub002/internal/gateway"
	"github.com/joelyan00/fongbeeV1-sub002/internal/order"
	"github.com/joelyan00/fongbeeV1-sub002/internal/order/ordertest"
)

const testSecret = "whsec_test"

// notifyCounts tracks which lifecycle emails a handler tried to send.
type notifyCounts struct {
	booked  int
	secured int
}

func newTestHandler(repo *ordertest.Repo) (*Handler, *notifyCounts) {
	log := zap.NewNop()
	machine := order.NewMachine(repo, log)
	calc, _ := fees.NewCalculator(decimal.RequireFromString("10"))
	settlement := order.NewSettlement(repo, calc, "platform-account", log)
	h := NewHandler(repo, machine, settlement, testSecret, 24*time.Hour, log)
	counts := &notifyCounts{}
	h.notifyBooked = func(*order.Order) error { counts.booked++; return nil }
	h.notifySecured = func(*order.Order) error { counts.secured++; return nil }
	return h, counts
}

func seedIntentOrder(repo *ordertest.Repo, status order.Status, intentID string) order.Order {
	provider := "provider-1"
	listing := "listing-1"
	o := repo.Add(order.Order{
		OrderNo:       order.NewOrderNo(time.Now()),
		UserID:        "payer-1",
		ProviderID:    &provider,
		ListingID:     &listing,
		DepositAmount: decimal.RequireFromString("100.00"),
		TotalAmount:   decimal.RequireFromString("250.00"),
		Currency:      "aud",
		Status:        status,
		CaptureStatus: order.CaptureUncaptured,
	})
	_ = repo.SetPaymentIntent(nil, o.ID, intentID)
	return o
}

func eventBody(t *testing.T, eventType, intentID string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":   "evt_1",
		"type": eventType,
		"data": map[string]any{
			"object": map[string]any{"id": intentID, "status": "requires_capture"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func deliver(t *testing.T, h *Handler, body []byte, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(string(body)))
	if sign {
		req.Header.Set("Stripe-Signature", gateway.SignPayload(body, testSecret, time.Now()))
	} else {
		req.Header.Set("Stripe-Signature", gateway.SignPayload(body, "whsec_wrong", time.Now()))
	}
	rec := httptest.NewRecorder()
	if err := h.Receive(e.NewContext(req, rec)); err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestReceiveRejectsBadSignature(t *testing.T) {
	repo := ordertest.NewRepo()
	h, _ := newTestHandler(repo)
	seedIntentOrder(repo, order.StatusCreated, "pi_1")

	rec := deliver(t, h, eventBody(t, gateway.EventAmountCapturableUpdated, "pi_1"), false)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := repo.Get(seedID(repo, "pi_1")); got.Status != order.StatusCreated {
		t.Fatalf("unverified event changed state: %s", got.Status)
	}
}

func TestReceiveHoldPlacedStampsDeadline(t *testing.T) {
	repo := ordertest.NewRepo()
	h, sent := newTestHandler(repo)
	fixed := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return fixed }
	o := seedIntentOrder(repo, order.StatusCreated, "pi_1")

	body := eventBody(t, gateway.EventAmountCapturableUpdated, "pi_1")
	rec := deliver(t, h, body, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	got := repo.Get(o.ID)
	if got.Status != order.StatusAuthHold {
		t.Fatalf("status = %s, want auth_hold", got.Status)
	}
	want := fixed.Add(24 * time.Hour)
	if got.CancelDeadline == nil || !got.CancelDeadline.Equal(want) {
		t.Fatalf("cancel_deadline = %v, want %v", got.CancelDeadline, want)
	}
	if sent.booked != 1 {
		t.Fatalf("booking emails = %d, want 1", sent.booked)
	}

	// A redelivered hold event must not email the provider again.
	if rec := deliver(t, h, body, true); rec.Code != http.StatusOK {
		t.Fatalf("replay status = %d", rec.Code)
	}
	if sent.booked != 1 {
		t.Fatalf("replay re-sent booking email: %d", sent.booked)
	}
}

func TestReceiveSucceededSettlesOnce(t *testing.T) {
	repo := ordertest.NewRepo()
	h, sent := newTestHandler(repo)
	o := seedIntentOrder(repo, order.StatusAuthHold, "pi_1")

	body := eventBody(t, gateway.EventSucceeded, "pi_1")
	if rec := deliver(t, h, body, true); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	got := repo.Get(o.ID)
	if got.Status != order.StatusCaptured {
		t.Fatalf("status = %s, want captured", got.Status)
	}
	if got.CaptureStatus != order.CaptureCaptured {
		t.Fatalf("capture status = %s", got.CaptureStatus)
	}
	if len(repo.Postings()) != 2 {
		t.Fatalf("postings = %d, want 2", len(repo.Postings()))
	}

	// Redelivery of the same event acknowledges without moving money again.
	if rec := deliver(t, h, body, true); rec.Code != http.StatusOK {
		t.Fatalf("replay status = %d", rec.Code)
	}
	if len(repo.Postings()) != 2 {
		t.Fatalf("replay moved money: %d postings", len(repo.Postings()))
	}
	if sent.secured != 1 {
		t.Fatalf("deposit-secured emails = %d, want 1", sent.secured)
	}
}

func TestReceiveSucceededFromCreatedAdvances(t *testing.T) {
	repo := ordertest.NewRepo()
	h, _ := newTestHandler(repo)
	// The capturable event was lost; the first thing we hear is the capture.
	o := seedIntentOrder(repo, order.StatusCreated, "pi_1")

	if rec := deliver(t, h, eventBody(t, gateway.EventSucceeded, "pi_1"), true); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	got := repo.Get(o.ID)
	if got.Status != order.StatusCaptured {
		t.Fatalf("status = %s, want captured", got.Status)
	}
	if got.CaptureStatus != order.CaptureCaptured {
		t.Fatalf("capture status = %s", got.CaptureStatus)
	}
	if len(repo.Postings()) != 2 {
		t.Fatalf("postings = %d, want 2", len(repo.Postings()))
	}
}

func TestReceiveSucceededRepairsPartialCapture(t *testing.T) {
	repo := ordertest.NewRepo()
	h, _ := newTestHandler(repo)
	// A previous process flipped the status but died before settling.
	o := seedIntentOrder(repo, order.StatusCaptured, "pi_1")

	if rec := deliver(t, h, eventBody(t, gateway.EventSucceeded, "pi_1"), true); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := repo.Get(o.ID)
	if got.CaptureStatus != order.CaptureCaptured {
		t.Fatalf("capture status = %s", got.CaptureStatus)
	}
	if len(repo.Postings()) != 2 {
		t.Fatalf("postings = %d, want 2", len(repo.Postings()))
	}
}

func TestReceiveCanceledIsConfirmationOnly(t *testing.T) {
	repo := ordertest.NewRepo()
	h, _ := newTestHandler(repo)
	o := seedIntentOrder(repo, order.StatusCancelled, "pi_1")

	if rec := deliver(t, h, eventBody(t, gateway.EventCanceled, "pi_1"), true); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := repo.Get(o.ID); got.Status != order.StatusCancelled {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestReceivePaymentFailedCancels(t *testing.T) {
	repo := ordertest.NewRepo()
	h, _ := newTestHandler(repo)
	o := seedIntentOrder(repo, order.StatusAuthHold, "pi_1")

	if rec := deliver(t, h, eventBody(t, gateway.EventPaymentFailed, "pi_1"), true); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := repo.Get(o.ID)
	if got.Status != order.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
	if repo.CancelReason(o.ID) != "payment failed" {
		t.Fatalf("cancel reason = %q", repo.CancelReason(o.ID))
	}
}

func TestReceivePaymentFailedAfterCaptureIsIgnored(t *testing.T) {
	repo := ordertest.NewRepo()
	h, _ := newTestHandler(repo)
	o := seedIntentOrder(repo, order.StatusInProgress, "pi_1")

	if rec := deliver(t, h, eventBody(t, gateway.EventPaymentFailed, "pi_1"), true); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := repo.Get(o.ID); got.Status != order.StatusInProgress {
		t.Fatalf("late failure event changed state: %s", got.Status)
	}
}

func TestReceiveUnknownIntentAcknowledged(t *testing.T) {
	repo := ordertest.NewRepo()
	h, _ := newTestHandler(repo)

	rec := deliver(t, h, eventBody(t, gateway.EventSucceeded, "pi_missing"), true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "received") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func seedID(repo *ordertest.Repo, intentID string) string {
	o, err := repo.GetByPaymentIntent(nil, intentID)
	if err != nil {
		panic(err)
	}
	return o.ID
}
