// Package webhook translates asynchronous gateway events into state
// machine calls. Gateways redeliver events, so every branch must be safe
// to run twice with the same payload.
package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/joelyan00/fongbeeV1-sub002/internal/gateway"
	"github.com/joelyan00/fongbeeV1-sub002/internal/order"
)

type Handler struct {
	Repo         order.Repository
	Machine      *order.Machine
	Settlement   *order.Settlement
	Secret       string
	RegretPeriod time.Duration
	Log          *zap.Logger

	// now and the notify funcs are swappable for tests.
	now           func() time.Time
	notifyBooked  func(*order.Order) error
	notifySecured func(*order.Order) error
}

func NewHandler(repo order.Repository, m *order.Machine, s *order.Settlement, secret string, regret time.Duration, log *zap.Logger) *Handler {
	return &Handler{
		Repo:          repo,
		Machine:       m,
		Settlement:    s,
		Secret:        secret,
		RegretPeriod:  regret,
		Log:           log,
		now:           time.Now,
		notifyBooked:  order.NotifyBookingPlaced,
		notifySecured: order.NotifyDepositSecured,
	}
}

// Receive is the gateway-facing endpoint. It answers 200 for everything it
// handled or chose to ignore; only a bad signature or a failed core state
// write produce an error status. Downstream notification failures are
// logged, never surfaced, to keep the gateway from retry-storming.
func (h *Handler) Receive(c echo.Context) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
	}

	event, err := gateway.VerifySignature(raw, c.Request().Header.Get("Stripe-Signature"), h.Secret)
	if err != nil {
		h.Log.Warn("webhook rejected", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid signature"})
	}

	if err := h.process(c.Request().Context(), event); err != nil {
		h.Log.Error("webhook processing failed",
			zap.String("event_type", event.Type),
			zap.String("intent_id", event.IntentID()),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "processing failed"})
	}

	return c.JSON(http.StatusOK, echo.Map{"received": true})
}

func (h *Handler) process(ctx context.Context, event gateway.Event) error {
	intentID := event.IntentID()
	if intentID == "" {
		h.Log.Info("webhook without payment intent, ignoring", zap.String("event_type", event.Type))
		return nil
	}

	o, err := h.Repo.GetByPaymentIntent(ctx, intentID)
	if errors.Is(err, order.ErrNotFound) {
		// Events for intents we never created (other environments, deleted
		// test data) are acknowledged and dropped.
		h.Log.Info("webhook for unknown intent, ignoring",
			zap.String("event_type", event.Type),
			zap.String("intent_id", intentID))
		return nil
	}
	if err != nil {
		return err
	}

	switch event.Type {
	case gateway.EventAmountCapturableUpdated:
		return h.handleHoldPlaced(ctx, o)
	case gateway.EventSucceeded:
		return h.handleCaptured(ctx, o)
	case gateway.EventCanceled:
		// Cancellation is applied by the direct cancel endpoints; the
		// webhook is confirmation only.
		h.Log.Info("cancel confirmation received",
			zap.String("order_id", o.ID),
			zap.String("status", string(o.Status)))
		return nil
	case gateway.EventPaymentFailed:
		return h.handlePaymentFailed(ctx, o)
	default:
		h.Log.Info("unhandled webhook event", zap.String("event_type", event.Type))
		return nil
	}
}

// handleHoldPlaced stamps the regret deadline and opens the cancellation
// window. A replay finds the order already in auth_hold and no-ops.
func (h *Handler) handleHoldPlaced(ctx context.Context, o *order.Order) error {
	if o.Status != order.StatusCreated {
		h.Log.Info("hold event replayed, order already advanced",
			zap.String("order_id", o.ID),
			zap.String("status", string(o.Status)))
		return nil
	}

	deadline := h.now().Add(h.RegretPeriod)
	err := h.Machine.TransitionRetry(ctx, o.ID, order.StatusAuthHold, &order.StatusUpdate{CancelDeadline: &deadline}, nil)
	if errors.Is(err, order.ErrInvalidTransition) {
		// Lost the race to a cancel; the hold will be released by the
		// cancel flow.
		return nil
	}
	if err != nil {
		return err
	}
	_ = h.notifyBooked(o)
	return nil
}

// handleCaptured settles the deposit. The settle path is gated on the
// stored capture status, so redelivery and sweeper races cannot move the
// money twice. The dedicated capture gate also repairs orders where a
// previous process captured at the gateway but died before the local
// write.
func (h *Handler) handleCaptured(ctx context.Context, o *order.Order) error {
	if o.CaptureStatus == order.CaptureCaptured {
		h.Log.Info("capture event replayed, already settled",
			zap.String("order_id", o.ID))
		return nil
	}

	if o.Status == order.StatusCreated {
		// The capturable event never arrived; the capture proves the hold
		// existed, so step through auth_hold rather than strand the order.
		h.Log.Warn("capture event for order never marked auth_hold",
			zap.String("order_id", o.ID))
		err := h.Machine.TransitionRetry(ctx, o.ID, order.StatusAuthHold, nil, nil)
		if errors.Is(err, order.ErrInvalidTransition) {
			// A cancel won the race and released the hold.
			return nil
		}
		if err != nil {
			return err
		}
		o.Status = order.StatusAuthHold
	}

	if o.Status == order.StatusAuthHold {
		err := h.Machine.TransitionRetry(ctx, o.ID, order.StatusCaptured, nil, nil)
		if err != nil && !errors.Is(err, order.ErrInvalidTransition) {
			return err
		}
	}

	applied, err := h.Settlement.Settle(ctx, o)
	if err != nil {
		return err
	}
	if applied {
		_ = h.notifySecured(o)
	}
	return nil
}

func (h *Handler) handlePaymentFailed(ctx context.Context, o *order.Order) error {
	if o.Status != order.StatusCreated && o.Status != order.StatusAuthHold {
		return nil
	}
	reason := "payment failed"
	err := h.Machine.TransitionRetry(ctx, o.ID, order.StatusCancelled, &order.StatusUpdate{CancelReason: &reason}, nil)
	if errors.Is(err, order.ErrInvalidTransition) {
		return nil
	}
	return err
}
