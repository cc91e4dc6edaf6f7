package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StatusUpdate carries the columns a transition may stamp alongside the
// status itself. Nil fields are left untouched.
type StatusUpdate struct {
	CancelDeadline *time.Time
	CancelReason   *string
	CaptureStatus  *CaptureState
	PlatformFee    *decimal.Decimal
	RatingScore    *int
	RatingComment  *string
}

// Repository is the storage boundary of the state machine. UpdateStatus must
// be a single conditional write: it only lands when the persisted version
// equals expectedVersion, and it increments the version in the same
// statement.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByPaymentIntent(ctx context.Context, intentID string) (*Order, error)
	UpdateStatus(ctx context.Context, id string, expectedVersion int64, to Status, set *StatusUpdate) error
	SetPaymentIntent(ctx context.Context, id, intentID string) error
	SetCancelReason(ctx context.Context, id, reason string) error
	FindCapturable(ctx context.Context, now time.Time, limit int) ([]*Order, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*Order, error)
}

const maxRetryAttempts = 3

// Machine is the only component allowed to change an order's status.
type Machine struct {
	repo Repository
	log  *zap.Logger
}

func NewMachine(repo Repository, log *zap.Logger) *Machine {
	return &Machine{repo: repo, log: log}
}

// Transition advances o to target using o.Version as the optimistic guard.
// The side effect runs only after the conditional update commits; losers of
// a version race get ErrConcurrencyConflict and must re-read.
func (m *Machine) Transition(ctx context.Context, o *Order, target Status, set *StatusUpdate, effect func(context.Context) error) error {
	if !CanTransition(o.Status, target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, target)
	}

	if err := m.repo.UpdateStatus(ctx, o.ID, o.Version, target, set); err != nil {
		return err
	}

	m.log.Info("order transitioned",
		zap.String("order_id", o.ID),
		zap.String("from", string(o.Status)),
		zap.String("to", string(target)),
		zap.Int64("version", o.Version+1))

	o.Status = target
	o.Version++
	applyUpdate(o, set)

	if effect != nil {
		if err := effect(ctx); err != nil {
			return err
		}
	}
	return nil
}

// TransitionRetry re-reads and retries on version conflicts, up to a small
// bound. An order found already at target is treated as success (another
// writer got there first).
func (m *Machine) TransitionRetry(ctx context.Context, orderID string, target Status, set *StatusUpdate, effect func(context.Context) error) error {
	for attempt := 0; attempt < maxRetryAttempts; attempt++ {
		o, err := m.repo.GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status == target {
			return nil
		}

		err = m.Transition(ctx, o, target, set, effect)
		if errors.Is(err, ErrConcurrencyConflict) {
			m.log.Warn("transition lost version race, re-reading",
				zap.String("order_id", orderID),
				zap.String("target", string(target)),
				zap.Int("attempt", attempt+1))
			continue
		}
		return err
	}
	return fmt.Errorf("transition to %s after %d attempts: %w", target, maxRetryAttempts, ErrConcurrencyConflict)
}

func applyUpdate(o *Order, set *StatusUpdate) {
	if set == nil {
		return
	}
	if set.CancelDeadline != nil {
		o.CancelDeadline = set.CancelDeadline
	}
	if set.CancelReason != nil {
		o.CancelReason = set.CancelReason
	}
	if set.CaptureStatus != nil {
		o.CaptureStatus = *set.CaptureStatus
	}
	if set.PlatformFee != nil {
		o.PlatformFee = set.PlatformFee
	}
	if set.RatingScore != nil {
		o.RatingScore = set.RatingScore
	}
	if set.RatingComment != nil {
		o.RatingComment = set.RatingComment
	}
}
