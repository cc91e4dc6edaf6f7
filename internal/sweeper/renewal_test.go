package sweeper

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/joelyan00/fongbeeV1-sub002/internal/gateway"
	"github.com/joelyan00/fongbeeV1-sub002/internal/subscription"
	"github.com/joelyan00/fongbeeV1-sub002/internal/wallet"
)

// fakeRenewals keeps subscriptions in memory with the same conditional
// renew semantics as the Postgres store.
type fakeRenewals struct {
	subs map[string]*subscription.Subscription
}

func newFakeRenewals() *fakeRenewals {
	return &fakeRenewals{subs: map[string]*subscription.Subscription{}}
}

func (f *fakeRenewals) add(s subscription.Subscription) *subscription.Subscription {
	stored := s
	f.subs[s.ID] = &stored
	return &stored
}

func (f *fakeRenewals) FindExpiring(_ context.Context, cutoff time.Time, limit int) ([]*subscription.Subscription, error) {
	var out []*subscription.Subscription
	for _, s := range f.subs {
		if s.AutoRenew && s.EndDate.Before(cutoff) {
			snapshot := *s
			out = append(out, &snapshot)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRenewals) Renew(_ context.Context, id string, expectedEnd, newEnd time.Time, method string) error {
	s, ok := f.subs[id]
	if !ok {
		return subscription.ErrNotFound
	}
	if !s.EndDate.Equal(expectedEnd) {
		return subscription.ErrRenewalStale
	}
	s.EndDate = newEnd
	s.LastPaymentMethod = &method
	return nil
}

// fakePoster tracks balances per user and rejects underflows.
type fakePoster struct {
	balances map[string]decimal.Decimal
	postings []wallet.Posting
}

func newFakePoster() *fakePoster {
	return &fakePoster{balances: map[string]decimal.Decimal{}}
}

func (f *fakePoster) Post(_ context.Context, p wallet.Posting) (*wallet.Transaction, error) {
	bal, ok := f.balances[p.UserID]
	if !ok {
		return nil, wallet.ErrWalletNotFound
	}
	next := bal.Add(p.Amount)
	if next.IsNegative() {
		return nil, wallet.ErrInsufficientFunds
	}
	f.balances[p.UserID] = next
	f.postings = append(f.postings, p)
	return &wallet.Transaction{UserID: p.UserID, Amount: p.Amount, Type: p.Type}, nil
}

type fakeDirectory struct {
	refs map[string]string
}

func (f *fakeDirectory) Email(_ context.Context, userID string) (string, error) {
	return userID + "@example.com", nil
}

func (f *fakeDirectory) CustomerRef(_ context.Context, userID string) (string, error) {
	return f.refs[userID], nil
}

// sweepNow is the pinned clock for renewal tests. Seeded subscriptions end
// five days earlier, well inside the sweep cutoff.
var sweepNow = time.Date(2026, 1, 20, 1, 0, 0, 0, time.UTC)

func newRenewalSweeper(subs Renewals, poster Poster, gw gateway.PaymentGateway, dir UserDirectory) *RenewalSweeper {
	s := NewRenewalSweeper(subs, poster, gw, dir, 50, zap.NewNop())
	s.now = func() time.Time { return sweepNow }
	s.notifyRenewed = func(string, string, string, string, string) error { return nil }
	s.notifyAdmin = func(string, string) error { return nil }
	return s
}

func renewableSub(id, userID string, price string) subscription.Subscription {
	return subscription.Subscription{
		ID:           id,
		UserID:       userID,
		PlanID:       "plan-1",
		BillingCycle: subscription.CycleMonth,
		Price:        decimal.RequireFromString(price),
		Currency:     "aud",
		EndDate:      time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		AutoRenew:    true,
	}
}

func TestRenewalChargesWalletFirst(t *testing.T) {
	subs := newFakeRenewals()
	stored := subs.add(renewableSub("sub-1", "user-1", "29.90"))
	poster := newFakePoster()
	poster.balances["user-1"] = decimal.RequireFromString("100.00")
	gw := newFakeGateway()
	s := newRenewalSweeper(subs, poster, gw, &fakeDirectory{})

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := poster.balances["user-1"]; !got.Equal(decimal.RequireFromString("70.10")) {
		t.Fatalf("balance = %s, want 70.10", got)
	}
	if stored.LastPaymentMethod == nil || *stored.LastPaymentMethod != methodWallet {
		t.Fatalf("method = %v, want wallet", stored.LastPaymentMethod)
	}
	want := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	if !stored.EndDate.Equal(want) {
		t.Fatalf("end date = %v, want %v", stored.EndDate, want)
	}
}

func TestRenewalFallsBackToCard(t *testing.T) {
	subs := newFakeRenewals()
	stored := subs.add(renewableSub("sub-1", "user-1", "29.90"))
	poster := newFakePoster()
	poster.balances["user-1"] = decimal.RequireFromString("5.00")
	gw := newFakeGateway()
	dir := &fakeDirectory{refs: map[string]string{"user-1": "cus_1"}}
	s := newRenewalSweeper(subs, poster, gw, dir)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	// The wallet balance is untouched; the card carried the charge.
	if got := poster.balances["user-1"]; !got.Equal(decimal.RequireFromString("5.00")) {
		t.Fatalf("balance = %s, want 5.00", got)
	}
	if stored.LastPaymentMethod == nil || *stored.LastPaymentMethod != methodCard {
		t.Fatalf("method = %v, want card", stored.LastPaymentMethod)
	}

	// The ledger still records the renewal, as a zero-amount row.
	if len(poster.postings) != 1 {
		t.Fatalf("postings = %d, want the card renewal record", len(poster.postings))
	}
	if !poster.postings[0].Amount.IsZero() {
		t.Fatalf("card renewal row amount = %s, want 0", poster.postings[0].Amount)
	}
	if !strings.Contains(poster.postings[0].Description, "card") {
		t.Fatalf("card renewal row description = %q", poster.postings[0].Description)
	}
}

func TestRenewalRunsBeforeLapse(t *testing.T) {
	subs := newFakeRenewals()
	soon := renewableSub("sub-soon", "user-1", "29.90")
	soon.EndDate = sweepNow.Add(24 * time.Hour)
	storedSoon := subs.add(soon)

	later := renewableSub("sub-later", "user-2", "29.90")
	later.EndDate = sweepNow.Add(96 * time.Hour)
	storedLater := subs.add(later)

	poster := newFakePoster()
	poster.balances["user-1"] = decimal.RequireFromString("100.00")
	poster.balances["user-2"] = decimal.RequireFromString("100.00")
	s := newRenewalSweeper(subs, poster, newFakeGateway(), &fakeDirectory{})

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Still a day of paid service left, and already renewed.
	want := soon.EndDate.AddDate(0, 1, 0)
	if !storedSoon.EndDate.Equal(want) {
		t.Fatalf("end date = %v, want %v", storedSoon.EndDate, want)
	}
	if got := poster.balances["user-1"]; !got.Equal(decimal.RequireFromString("70.10")) {
		t.Fatalf("balance = %s, want 70.10", got)
	}

	// Outside the window, untouched.
	if !storedLater.EndDate.Equal(later.EndDate) {
		t.Fatalf("subscription outside window renewed: %v", storedLater.EndDate)
	}
	if got := poster.balances["user-2"]; !got.Equal(decimal.RequireFromString("100.00")) {
		t.Fatalf("subscription outside window charged: %s", got)
	}
}

func TestRenewalFailsWithoutFundsOrCard(t *testing.T) {
	subs := newFakeRenewals()
	stored := subs.add(renewableSub("sub-1", "user-1", "29.90"))
	poster := newFakePoster()
	poster.balances["user-1"] = decimal.Zero
	gw := newFakeGateway()
	s := newRenewalSweeper(subs, poster, gw, &fakeDirectory{})

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	if stored.LastPaymentMethod != nil {
		t.Fatalf("method = %v, want unset", *stored.LastPaymentMethod)
	}
	if !stored.EndDate.Equal(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("end date moved despite failed payment: %v", stored.EndDate)
	}
}

func TestRenewalCompensatesLostWriteRace(t *testing.T) {
	subs := newFakeRenewals()
	stored := subs.add(renewableSub("sub-1", "user-1", "29.90"))
	poster := newFakePoster()
	poster.balances["user-1"] = decimal.RequireFromString("100.00")
	gw := newFakeGateway()
	s := newRenewalSweeper(subs, poster, gw, &fakeDirectory{})

	// A concurrent sweep renews between our read and write.
	raced, _ := subs.FindExpiring(context.Background(), sweepNow.Add(renewalHorizon), 1)
	if len(raced) != 1 {
		t.Fatal("expected one expiring subscription")
	}
	if err := subs.Renew(context.Background(), "sub-1", stored.EndDate, stored.NextEndDate(), methodCard); err != nil {
		t.Fatal(err)
	}

	if err := s.renew(context.Background(), raced[0]); err != nil {
		t.Fatal(err)
	}

	// The debit was reversed, net zero movement.
	if got := poster.balances["user-1"]; !got.Equal(decimal.RequireFromString("100.00")) {
		t.Fatalf("balance = %s, want 100.00 after compensation", got)
	}
	if len(poster.postings) != 2 {
		t.Fatalf("postings = %d, want debit plus reversal", len(poster.postings))
	}
	// The winner's renewal stands.
	if stored.LastPaymentMethod == nil || *stored.LastPaymentMethod != methodCard {
		t.Fatalf("method = %v, want card from the winning sweep", stored.LastPaymentMethod)
	}
}

func TestRenewalSkipsCancelledSubscriptions(t *testing.T) {
	subs := newFakeRenewals()
	sub := renewableSub("sub-1", "user-1", "29.90")
	sub.AutoRenew = false
	stored := subs.add(sub)
	poster := newFakePoster()
	poster.balances["user-1"] = decimal.RequireFromString("100.00")
	s := newRenewalSweeper(subs, poster, newFakeGateway(), &fakeDirectory{})

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := poster.balances["user-1"]; !got.Equal(decimal.RequireFromString("100.00")) {
		t.Fatalf("cancelled subscription was charged: %s", got)
	}
	if !stored.EndDate.Equal(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("end date moved: %v", stored.EndDate)
	}
}
