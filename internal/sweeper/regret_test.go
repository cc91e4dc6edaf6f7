package sweeper

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/joelyan00/fongbeeV1-sub002/internal/fees"
	"github.com/joelyan00/fongbeeV1-sub002/internal/gateway"
	"github.com/joelyan00/fongbeeV1-sub002/internal/order"
	"github.com/joelyan00/fongbeeV1-sub002/internal/order/ordertest"
)

// fakeGateway scripts capture outcomes per intent id.
type fakeGateway struct {
	mu       sync.Mutex
	captured []string
	failWith map[string]error
	already  map[string]bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{failWith: map[string]error{}, already: map[string]bool{}}
}

func (g *fakeGateway) Capture(_ context.Context, intentID string) (gateway.CaptureResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err, ok := g.failWith[intentID]; ok {
		return gateway.CaptureResult{}, err
	}
	g.captured = append(g.captured, intentID)
	return gateway.CaptureResult{
		IntentID:        intentID,
		Status:          gateway.StatusSucceeded,
		AlreadyCaptured: g.already[intentID],
	}, nil
}

func (g *fakeGateway) CreateHold(context.Context, decimal.Decimal, string, string) (gateway.HoldResult, error) {
	return gateway.HoldResult{}, nil
}
func (g *fakeGateway) Cancel(context.Context, string) error { return nil }
func (g *fakeGateway) Refund(_ context.Context, intentID string, amount decimal.Decimal) (gateway.RefundResult, error) {
	return gateway.RefundResult{RefundID: "re_" + intentID, Amount: amount}, nil
}
func (g *fakeGateway) Transfer(context.Context, string, decimal.Decimal, string) (gateway.TransferResult, error) {
	return gateway.TransferResult{}, nil
}
func (g *fakeGateway) Charge(_ context.Context, ref string, amount decimal.Decimal, _ string) (gateway.ChargeResult, error) {
	return gateway.ChargeResult{IntentID: "pi_charge_" + ref, Status: gateway.StatusSucceeded, Amount: amount}, nil
}

func (g *fakeGateway) captureCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.captured)
}

func newRegretSweeper(repo *ordertest.Repo, gw gateway.PaymentGateway) *RegretSweeper {
	log := zap.NewNop()
	machine := order.NewMachine(repo, log)
	calc, _ := fees.NewCalculator(decimal.RequireFromString("10"))
	settlement := order.NewSettlement(repo, calc, "platform-account", log)
	s := NewRegretSweeper(repo, machine, settlement, gw, 50, log)
	s.notifyFailure = func(string, string, string) error { return nil }
	s.notifySecured = func(*order.Order) error { return nil }
	return s
}

func seedExpiredHold(repo *ordertest.Repo, intentID string) order.Order {
	provider := "provider-1"
	deadline := time.Now().Add(-time.Hour)
	o := repo.Add(order.Order{
		OrderNo:        order.NewOrderNo(time.Now()),
		UserID:         "payer-1",
		ProviderID:     &provider,
		DepositAmount:  decimal.RequireFromString("100.00"),
		TotalAmount:    decimal.RequireFromString("250.00"),
		Currency:       "aud",
		Status:         order.StatusAuthHold,
		CaptureStatus:  order.CaptureUncaptured,
		CancelDeadline: &deadline,
	})
	_ = repo.SetPaymentIntent(context.Background(), o.ID, intentID)
	return o
}

func TestRunOnceCapturesExpiredHolds(t *testing.T) {
	repo := ordertest.NewRepo()
	gw := newFakeGateway()
	s := newRegretSweeper(repo, gw)
	var secured int
	s.notifySecured = func(*order.Order) error { secured++; return nil }
	o := seedExpiredHold(repo, "pi_1")

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
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
	if gw.captureCount() != 1 {
		t.Fatalf("gateway captures = %d, want 1", gw.captureCount())
	}
	if secured != 1 {
		t.Fatalf("deposit-secured emails = %d, want 1", secured)
	}
}

func TestRunOnceSkipsOrdersInsideWindow(t *testing.T) {
	repo := ordertest.NewRepo()
	gw := newFakeGateway()
	s := newRegretSweeper(repo, gw)

	provider := "provider-1"
	deadline := time.Now().Add(time.Hour)
	o := repo.Add(order.Order{
		OrderNo:        order.NewOrderNo(time.Now()),
		UserID:         "payer-1",
		ProviderID:     &provider,
		DepositAmount:  decimal.RequireFromString("100.00"),
		Status:         order.StatusAuthHold,
		CaptureStatus:  order.CaptureUncaptured,
		CancelDeadline: &deadline,
	})

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if gw.captureCount() != 0 {
		t.Fatal("sweeper captured an order still inside its window")
	}
	if got := repo.Get(o.ID); got.Status != order.StatusAuthHold {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestRunOnceRecordsGatewayFailureAndContinues(t *testing.T) {
	repo := ordertest.NewRepo()
	gw := newFakeGateway()
	gw.failWith["pi_bad"] = &gateway.Error{Op: "capture", Code: "card_declined", Detail: "card was declined"}
	s := newRegretSweeper(repo, gw)

	bad := seedExpiredHold(repo, "pi_bad")
	good := seedExpiredHold(repo, "pi_good")

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	gotBad := repo.Get(bad.ID)
	if gotBad.Status != order.StatusAuthHold {
		t.Fatalf("failed order changed status: %s", gotBad.Status)
	}
	if reason := repo.CancelReason(bad.ID); !strings.HasPrefix(reason, "Auto-capture failed:") {
		t.Fatalf("cancel reason = %q", reason)
	}

	gotGood := repo.Get(good.ID)
	if gotGood.Status != order.StatusCaptured {
		t.Fatalf("healthy order not captured after earlier failure: %s", gotGood.Status)
	}
}

func TestRunOnceAbandonsRacedOrder(t *testing.T) {
	repo := ordertest.NewRepo()
	gw := newFakeGateway()
	s := newRegretSweeper(repo, gw)
	o := seedExpiredHold(repo, "pi_1")

	// A cancel lands between the sweep query and the capture write.
	machine := order.NewMachine(repo, zap.NewNop())
	current, _ := repo.GetByID(context.Background(), o.ID)
	if err := machine.Transition(context.Background(), current, order.StatusCancelled, nil, nil); err != nil {
		t.Fatal(err)
	}

	stale, _ := repo.GetByID(context.Background(), o.ID)
	stale.Status = order.StatusAuthHold // simulate the pre-race snapshot
	s.sweepOrder(context.Background(), stale)

	got := repo.Get(o.ID)
	if got.Status != order.StatusCancelled {
		t.Fatalf("sweeper overwrote a cancel: %s", got.Status)
	}
	if len(repo.Postings()) != 0 {
		t.Fatal("sweeper settled a cancelled order")
	}
}

func TestRunOnceRepairsAlreadyCapturedIntent(t *testing.T) {
	repo := ordertest.NewRepo()
	gw := newFakeGateway()
	gw.already["pi_1"] = true
	s := newRegretSweeper(repo, gw)
	o := seedExpiredHold(repo, "pi_1")

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := repo.Get(o.ID)
	if got.Status != order.StatusCaptured || got.CaptureStatus != order.CaptureCaptured {
		t.Fatalf("repair incomplete: status=%s capture=%s", got.Status, got.CaptureStatus)
	}
	if len(repo.Postings()) != 2 {
		t.Fatalf("postings = %d, want 2", len(repo.Postings()))
	}
}
