// Package sweeper runs the periodic batch jobs: regret-period auto-capture
// and subscription renewal.
package sweeper

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/joelyan00/fongbeeV1-sub002/internal/alerts"
	"github.com/joelyan00/fongbeeV1-sub002/internal/gateway"
	"github.com/joelyan00/fongbeeV1-sub002/internal/order"
)

// RegretSweeper captures deposits whose free-cancellation window has
// closed. It shares the state machine with the webhook handler; whoever
// writes first wins and the other side backs off.
type RegretSweeper struct {
	Repo       order.Repository
	Machine    *order.Machine
	Settlement *order.Settlement
	Gateway    gateway.PaymentGateway
	BatchSize  int
	Log        *zap.Logger

	now           func() time.Time
	notifyFailure func(orderID, orderNo, detail string) error
	notifySecured func(*order.Order) error
}

func NewRegretSweeper(repo order.Repository, m *order.Machine, s *order.Settlement, gw gateway.PaymentGateway, batchSize int, log *zap.Logger) *RegretSweeper {
	return &RegretSweeper{
		Repo:       repo,
		Machine:    m,
		Settlement: s,
		Gateway:    gw,
		BatchSize:  batchSize,
		Log:        log,
		now:        time.Now,

		notifyFailure: alerts.EnqueueAutoCaptureFailed,
		notifySecured: order.NotifyDepositSecured,
	}
}

// RunOnce processes one bounded batch. A failure on one order is recorded
// and the sweep moves on; the order stays eligible for the next pass.
func (s *RegretSweeper) RunOnce(ctx context.Context) error {
	batch, err := s.Repo.FindCapturable(ctx, s.now(), s.BatchSize)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	s.Log.Info("regret sweep started", zap.Int("orders", len(batch)))
	for _, o := range batch {
		s.sweepOrder(ctx, o)
	}
	return nil
}

func (s *RegretSweeper) sweepOrder(ctx context.Context, o *order.Order) {
	if o.PaymentIntentID == nil {
		s.Log.Warn("capturable order without payment intent, skipping",
			zap.String("order_id", o.ID))
		return
	}

	result, err := s.Gateway.Capture(ctx, *o.PaymentIntentID)
	if err != nil {
		detail := err.Error()
		var gwErr *gateway.Error
		if errors.As(err, &gwErr) {
			detail = gwErr.Detail
		}
		s.Log.Warn("auto-capture failed",
			zap.String("order_id", o.ID),
			zap.String("order_no", o.OrderNo),
			zap.String("detail", detail))
		// Annotate without touching status so the next sweep retries.
		if err := s.Repo.SetCancelReason(ctx, o.ID, "Auto-capture failed: "+detail); err != nil {
			s.Log.Error("failed to record capture failure", zap.String("order_id", o.ID), zap.Error(err))
		}
		_ = s.notifyFailure(o.ID, o.OrderNo, detail)
		return
	}

	if result.AlreadyCaptured {
		// The gateway captured in a previous run that died before the
		// local write. Finishing the local half repairs the order.
		s.Log.Info("gateway reports intent already captured, repairing local state",
			zap.String("order_id", o.ID))
	}

	err = s.Machine.TransitionRetry(ctx, o.ID, order.StatusCaptured, nil, nil)
	switch {
	case errors.Is(err, order.ErrInvalidTransition):
		// Another writer moved the order somewhere else (a cancel that
		// raced the deadline). Never force the write.
		s.Log.Info("order advanced by another writer, abandoning sweep entry",
			zap.String("order_id", o.ID))
		return
	case errors.Is(err, order.ErrConcurrencyConflict):
		s.Log.Warn("persistent version conflict, leaving order for next sweep",
			zap.String("order_id", o.ID))
		return
	case err != nil:
		s.Log.Error("capture transition failed", zap.String("order_id", o.ID), zap.Error(err))
		return
	}

	applied, err := s.Settlement.Settle(ctx, o)
	if err != nil {
		// The capture status gate makes the next observer settle instead.
		s.Log.Error("settlement failed", zap.String("order_id", o.ID), zap.Error(err))
		return
	}
	if applied {
		_ = s.notifySecured(o)
	}

	s.Log.Info("deposit auto-captured",
		zap.String("order_id", o.ID),
		zap.String("order_no", o.OrderNo),
		zap.String("amount", o.DepositAmount.StringFixed(2)))
}
