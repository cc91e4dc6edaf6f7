package order_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/joelyan00/fongbeeV1-sub002/internal/order"
	"github.com/joelyan00/fongbeeV1-sub002/internal/order/ordertest"
)

func seedOrder(repo *ordertest.Repo, status order.Status) order.Order {
	provider := "provider-1"
	listing := "listing-1"
	return repo.Add(order.Order{
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
}

func TestTransitionRejectsInvalidMove(t *testing.T) {
	repo := ordertest.NewRepo()
	m := order.NewMachine(repo, zap.NewNop())
	seeded := seedOrder(repo, order.StatusCreated)

	o, err := repo.GetByID(context.Background(), seeded.ID)
	if err != nil {
		t.Fatal(err)
	}
	err = m.Transition(context.Background(), o, order.StatusCaptured, nil, nil)
	if !errors.Is(err, order.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if got := repo.Get(seeded.ID); got.Status != order.StatusCreated {
		t.Fatalf("status changed on rejected transition: %s", got.Status)
	}
}

func TestTransitionBumpsVersion(t *testing.T) {
	repo := ordertest.NewRepo()
	m := order.NewMachine(repo, zap.NewNop())
	seeded := seedOrder(repo, order.StatusCaptured)

	o, _ := repo.GetByID(context.Background(), seeded.ID)
	if err := m.Transition(context.Background(), o, order.StatusInProgress, nil, nil); err != nil {
		t.Fatal(err)
	}
	if o.Status != order.StatusInProgress {
		t.Fatalf("in-memory order not updated: %s", o.Status)
	}
	if o.Version != seeded.Version+1 {
		t.Fatalf("version = %d, want %d", o.Version, seeded.Version+1)
	}
}

func TestTransitionStaleVersionConflicts(t *testing.T) {
	repo := ordertest.NewRepo()
	m := order.NewMachine(repo, zap.NewNop())
	seeded := seedOrder(repo, order.StatusAuthHold)

	// Two actors read the same row. The first write wins.
	first, _ := repo.GetByID(context.Background(), seeded.ID)
	second, _ := repo.GetByID(context.Background(), seeded.ID)

	if err := m.Transition(context.Background(), first, order.StatusCancelled, nil, nil); err != nil {
		t.Fatal(err)
	}
	err := m.Transition(context.Background(), second, order.StatusCaptured, nil, nil)
	if !errors.Is(err, order.ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}
	if got := repo.Get(seeded.ID); got.Status != order.StatusCancelled {
		t.Fatalf("loser overwrote winner: %s", got.Status)
	}
}

func TestTransitionEffectRunsAfterCommit(t *testing.T) {
	repo := ordertest.NewRepo()
	m := order.NewMachine(repo, zap.NewNop())
	seeded := seedOrder(repo, order.StatusInProgress)

	o, _ := repo.GetByID(context.Background(), seeded.ID)
	var statusWhenEffectRan order.Status
	err := m.Transition(context.Background(), o, order.StatusPendingVerification, nil, func(context.Context) error {
		statusWhenEffectRan = repo.Get(seeded.ID).Status
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if statusWhenEffectRan != order.StatusPendingVerification {
		t.Fatalf("effect observed status %s, want pending_verification", statusWhenEffectRan)
	}
}

func TestTransitionEffectSkippedOnConflict(t *testing.T) {
	repo := ordertest.NewRepo()
	m := order.NewMachine(repo, zap.NewNop())
	seeded := seedOrder(repo, order.StatusAuthHold)

	winner, _ := repo.GetByID(context.Background(), seeded.ID)
	loser, _ := repo.GetByID(context.Background(), seeded.ID)
	if err := m.Transition(context.Background(), winner, order.StatusCaptured, nil, nil); err != nil {
		t.Fatal(err)
	}

	ran := false
	err := m.Transition(context.Background(), loser, order.StatusCancelled, nil, func(context.Context) error {
		ran = true
		return nil
	})
	if !errors.Is(err, order.ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}
	if ran {
		t.Fatal("effect ran despite the write losing the version race")
	}
}

func TestTransitionRetryNoOpsWhenAlreadyAtTarget(t *testing.T) {
	repo := ordertest.NewRepo()
	m := order.NewMachine(repo, zap.NewNop())
	seeded := seedOrder(repo, order.StatusAuthHold)

	first, _ := repo.GetByID(context.Background(), seeded.ID)
	if err := m.Transition(context.Background(), first, order.StatusCaptured, nil, nil); err != nil {
		t.Fatal(err)
	}
	// The retry re-reads, sees the target already reached and stops
	// without another write.
	if err := m.TransitionRetry(context.Background(), seeded.ID, order.StatusCaptured, nil, nil); err != nil {
		t.Fatal(err)
	}
	got := repo.Get(seeded.ID)
	if got.Status != order.StatusCaptured {
		t.Fatalf("status = %s", got.Status)
	}
	if got.Version != seeded.Version+1 {
		t.Fatalf("no-op retry must not bump version, got %d", got.Version)
	}
}

func TestTransitionRetrySurfacesInvalidMove(t *testing.T) {
	repo := ordertest.NewRepo()
	m := order.NewMachine(repo, zap.NewNop())
	seeded := seedOrder(repo, order.StatusCompleted)

	err := m.TransitionRetry(context.Background(), seeded.ID, order.StatusInProgress, nil, nil)
	if !errors.Is(err, order.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTransitionAppliesStatusUpdate(t *testing.T) {
	repo := ordertest.NewRepo()
	m := order.NewMachine(repo, zap.NewNop())
	seeded := seedOrder(repo, order.StatusCreated)

	o, _ := repo.GetByID(context.Background(), seeded.ID)
	deadline := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	err := m.Transition(context.Background(), o, order.StatusAuthHold, &order.StatusUpdate{CancelDeadline: &deadline}, nil)
	if err != nil {
		t.Fatal(err)
	}
	got := repo.Get(seeded.ID)
	if got.CancelDeadline == nil || !got.CancelDeadline.Equal(deadline) {
		t.Fatalf("cancel deadline not persisted: %v", got.CancelDeadline)
	}
	if o.CancelDeadline == nil || !o.CancelDeadline.Equal(deadline) {
		t.Fatalf("in-memory order missing deadline: %v", o.CancelDeadline)
	}
}

func TestTransitionGraph(t *testing.T) {
	cases := []struct {
		from, to order.Status
		ok       bool
	}{
		{order.StatusCreated, order.StatusAuthHold, true},
		{order.StatusCreated, order.StatusCancelled, true},
		{order.StatusAuthHold, order.StatusCaptured, true},
		{order.StatusAuthHold, order.StatusCancelled, true},
		{order.StatusAuthHold, order.StatusCancelledByProvider, true},
		{order.StatusCaptured, order.StatusInProgress, true},
		{order.StatusCaptured, order.StatusCancelledForfeit, true},
		{order.StatusInProgress, order.StatusPendingVerification, true},
		{order.StatusPendingVerification, order.StatusVerified, true},
		{order.StatusPendingVerification, order.StatusRework, true},
		{order.StatusRework, order.StatusInProgress, true},
		{order.StatusVerified, order.StatusRated, true},
		{order.StatusRated, order.StatusCompleted, true},
		{order.StatusCreated, order.StatusCompleted, false},
		{order.StatusCaptured, order.StatusCancelled, false},
		{order.StatusVerified, order.StatusRework, false},
		{order.StatusCompleted, order.StatusRated, false},
		{order.StatusCancelled, order.StatusAuthHold, false},
	}
	for _, tc := range cases {
		if got := order.CanTransition(tc.from, tc.to); got != tc.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}

	for _, s := range []order.Status{order.StatusCancelled, order.StatusCancelledByProvider, order.StatusCancelledForfeit, order.StatusCompleted} {
		if !order.Terminal(s) {
			t.Errorf("Terminal(%s) = false, want true", s)
		}
	}
	if order.Terminal(order.StatusAuthHold) {
		t.Error("Terminal(auth_hold) = true, want false")
	}
}
