package order

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/joelyan00/fongbeeV1-sub002/internal/alerts"
	"github.com/joelyan00/fongbeeV1-sub002/internal/catalog"
	"github.com/joelyan00/fongbeeV1-sub002/internal/db"
	"github.com/joelyan00/fongbeeV1-sub002/internal/gateway"
	"github.com/joelyan00/fongbeeV1-sub002/internal/verification"
)

// Handler exposes the order lifecycle over HTTP. Every status change goes
// through the state machine; handlers never write status columns directly.
type Handler struct {
	Repo         Repository
	Machine      *Machine
	Settlement   *Settlement
	Gateway      gateway.PaymentGateway
	Listings     *catalog.Repository
	Verification *verification.Service
}

// Create places an order for a listing and opens the deposit hold.
func (h *Handler) Create(c echo.Context) error {
	payerID, ok := c.Get("user_id").(string)
	if !ok || payerID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var req struct {
		ListingID string `json:"listing_id"`
	}
	if err := c.Bind(&req); err != nil || req.ListingID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid listing_id"})
	}

	listing, err := h.Listings.GetByID(context.Background(), req.ListingID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "listing not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch listing"})
	}
	if listing.Status != catalog.StatusActive {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "listing is not available"})
	}
	if listing.ProviderID == payerID {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "you cannot book your own listing"})
	}

	providerID := listing.ProviderID
	listingID := listing.ID
	o := &Order{
		OrderNo:       NewOrderNo(time.Now()),
		UserID:        payerID,
		ProviderID:    &providerID,
		ListingID:     &listingID,
		DepositAmount: listing.DepositAmount,
		TotalAmount:   listing.TotalAmount,
		Currency:      listing.Currency,
		Status:        StatusCreated,
		CaptureStatus: CaptureUncaptured,
	}
	if err := h.Repo.Create(context.Background(), o); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create order"})
	}

	customerRef := stripeCustomerRef(payerID)
	hold, err := h.Gateway.CreateHold(context.Background(), o.DepositAmount, o.Currency, customerRef)
	if err != nil {
		// The order stays in created; the payer can retry payment from the
		// client, and an abandoned row never reaches the sweeper.
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "payment hold could not be opened"})
	}
	if err := h.Repo.SetPaymentIntent(context.Background(), o.ID, hold.IntentID); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to attach payment"})
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"order_id":      o.ID,
		"order_no":      o.OrderNo,
		"deposit":       o.DepositAmount.StringFixed(2),
		"client_secret": hold.ClientSecret,
		"message":       "Order placed. Complete payment to hold your deposit.",
	})
}

// Cancel lets the payer walk away inside the regret period for a full
// release of the hold.
func (h *Handler) Cancel(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	o, err := h.Repo.GetByID(context.Background(), c.Param("id"))
	if err != nil {
		return orderFetchError(c, err)
	}
	if o.UserID != userID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your order"})
	}

	switch o.Status {
	case StatusCreated:
		reason := "cancelled before payment"
		err = h.Machine.Transition(context.Background(), o, StatusCancelled, &StatusUpdate{CancelReason: &reason}, nil)
		if err != nil {
			return transitionError(c, err)
		}
		return c.JSON(http.StatusOK, echo.Map{"message": "order cancelled", "status": o.Status})
	case StatusAuthHold:
		// handled below
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "order can no longer be cancelled free of charge"})
	}

	if o.CancelDeadline != nil && time.Now().After(*o.CancelDeadline) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "the free cancellation window has closed"})
	}
	if o.PaymentIntentID == nil {
		return c.JSON(http.StatusConflict, echo.Map{"error": "order has no payment attached"})
	}

	reason := "cancelled by customer within regret period"
	err = h.Machine.Transition(context.Background(), o, StatusCancelled, &StatusUpdate{CancelReason: &reason}, func(ctx context.Context) error {
		return h.Gateway.Cancel(ctx, *o.PaymentIntentID)
	})
	if err != nil {
		var gwErr *gateway.Error
		if errors.As(err, &gwErr) {
			// Status already moved; the release failed at the processor and
			// needs operator attention rather than silent success.
			_ = alerts.EnqueueAdminAlert("critical", "hold release failed for order "+o.OrderNo+": "+gwErr.Detail)
			return c.JSON(http.StatusBadGateway, echo.Map{"error": "cancellation recorded but the hold release failed; support has been notified"})
		}
		return transitionError(c, err)
	}

	if o.ProviderID != nil {
		if email := lookupEmail(*o.ProviderID); email != "" {
			_ = alerts.EnqueueOrderCancelled(o.ID, o.OrderNo, email, reason)
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "order cancelled, deposit hold released", "status": o.Status})
}

// ProviderCancel lets the provider decline the job while the hold is open.
func (h *Handler) ProviderCancel(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	o, err := h.Repo.GetByID(context.Background(), c.Param("id"))
	if err != nil {
		return orderFetchError(c, err)
	}
	if o.ProviderID == nil || *o.ProviderID != userID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your order"})
	}
	if o.PaymentIntentID == nil {
		return c.JSON(http.StatusConflict, echo.Map{"error": "order has no payment attached"})
	}

	reason := "declined by provider"
	err = h.Machine.Transition(context.Background(), o, StatusCancelledByProvider, &StatusUpdate{CancelReason: &reason}, func(ctx context.Context) error {
		return h.Gateway.Cancel(ctx, *o.PaymentIntentID)
	})
	if err != nil {
		var gwErr *gateway.Error
		if errors.As(err, &gwErr) {
			_ = alerts.EnqueueAdminAlert("critical", "hold release failed for order "+o.OrderNo+": "+gwErr.Detail)
			return c.JSON(http.StatusBadGateway, echo.Map{"error": "cancellation recorded but the hold release failed; support has been notified"})
		}
		return transitionError(c, err)
	}

	if email := lookupEmail(o.UserID); email != "" {
		_ = alerts.EnqueueOrderCancelled(o.ID, o.OrderNo, email, reason)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "order declined, deposit hold released", "status": o.Status})
}

// Forfeit is the payer cancelling after capture. The deposit is already
// split and stays with the provider and platform; only the status moves.
func (h *Handler) Forfeit(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	o, err := h.Repo.GetByID(context.Background(), c.Param("id"))
	if err != nil {
		return orderFetchError(c, err)
	}
	if o.UserID != userID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your order"})
	}

	reason := "cancelled by customer after capture, deposit forfeited"
	if err := h.Machine.Transition(context.Background(), o, StatusCancelledForfeit, &StatusUpdate{CancelReason: &reason}, nil); err != nil {
		return transitionError(c, err)
	}

	if o.ProviderID != nil {
		if email := lookupEmail(*o.ProviderID); email != "" {
			_ = alerts.EnqueueOrderCancelled(o.ID, o.OrderNo, email, reason)
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "order cancelled, deposit forfeited", "status": o.Status})
}

// ConfirmStart moves a captured order into active work. Payer only.
func (h *Handler) ConfirmStart(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	o, err := h.Repo.GetByID(context.Background(), c.Param("id"))
	if err != nil {
		return orderFetchError(c, err)
	}
	if o.UserID != userID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your order"})
	}

	if err := h.Machine.Transition(context.Background(), o, StatusInProgress, nil, nil); err != nil {
		return transitionError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "work confirmed as started", "status": o.Status})
}

// Submit is the provider declaring the work finished. It issues the
// one-shot completion code and emails it to the payer.
func (h *Handler) Submit(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	o, err := h.Repo.GetByID(context.Background(), c.Param("id"))
	if err != nil {
		return orderFetchError(c, err)
	}
	if o.ProviderID == nil || *o.ProviderID != userID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your order"})
	}

	err = h.Machine.Transition(context.Background(), o, StatusPendingVerification, nil, func(ctx context.Context) error {
		code, err := h.Verification.Issue(ctx, o.ID, verification.KindOrderCompletion)
		if err != nil {
			return err
		}
		if email := lookupEmail(o.UserID); email != "" {
			_ = alerts.EnqueueWorkSubmitted(o.ID, o.OrderNo, o.UserID, email, code)
		}
		return nil
	})
	if err != nil {
		return transitionError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "work submitted, completion code sent to the customer", "status": o.Status})
}

// Verify consumes the completion code the payer handed to the provider.
func (h *Handler) Verify(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := c.Bind(&req); err != nil || req.Code == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "code is required"})
	}

	o, err := h.Repo.GetByID(context.Background(), c.Param("id"))
	if err != nil {
		return orderFetchError(c, err)
	}
	if o.ProviderID == nil || *o.ProviderID != userID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your order"})
	}
	if o.Status != StatusPendingVerification {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "order is not awaiting verification"})
	}

	if err := h.Verification.Verify(context.Background(), o.ID, verification.KindOrderCompletion, req.Code); err != nil {
		if errors.Is(err, verification.ErrInvalidOrExpiredCode) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid or expired code"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not verify code"})
	}

	// The code is consumed; if the write below loses a race the retry path
	// re-reads and lands the same target without needing a second code.
	if err := h.Machine.TransitionRetry(context.Background(), o.ID, StatusVerified, nil, nil); err != nil {
		return transitionError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "work verified", "status": StatusVerified})
}

// Rework sends a submitted job back to the provider. Payer only.
func (h *Handler) Rework(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	o, err := h.Repo.GetByID(context.Background(), c.Param("id"))
	if err != nil {
		return orderFetchError(c, err)
	}
	if o.UserID != userID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your order"})
	}

	if err := h.Machine.Transition(context.Background(), o, StatusRework, nil, nil); err != nil {
		return transitionError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "rework requested", "status": o.Status})
}

// Restart puts a rework order back into active work. Provider only.
func (h *Handler) Restart(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	o, err := h.Repo.GetByID(context.Background(), c.Param("id"))
	if err != nil {
		return orderFetchError(c, err)
	}
	if o.ProviderID == nil || *o.ProviderID != userID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your order"})
	}

	if err := h.Machine.Transition(context.Background(), o, StatusInProgress, nil, nil); err != nil {
		return transitionError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "work restarted", "status": o.Status})
}

// Rate records the payer's score and closes the order. Rating is the last
// required step, so the completed transition chains directly after it.
func (h *Handler) Rate(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var req struct {
		Score   int    `json:"score"`
		Comment string `json:"comment"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if req.Score < 1 || req.Score > 5 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "score must be between 1 and 5"})
	}

	o, err := h.Repo.GetByID(context.Background(), c.Param("id"))
	if err != nil {
		return orderFetchError(c, err)
	}
	if o.UserID != userID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your order"})
	}

	set := &StatusUpdate{RatingScore: &req.Score}
	if req.Comment != "" {
		set.RatingComment = &req.Comment
	}
	if err := h.Machine.Transition(context.Background(), o, StatusRated, set, nil); err != nil {
		return transitionError(c, err)
	}
	if err := h.Machine.Transition(context.Background(), o, StatusCompleted, nil, nil); err != nil {
		return transitionError(c, err)
	}

	if o.ProviderID != nil {
		if email := lookupEmail(*o.ProviderID); email != "" {
			_ = alerts.EnqueueOrderCompleted(o.ID, o.OrderNo, email, req.Score)
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "thanks for your rating", "status": o.Status})
}

// Get returns one order visible to the requester.
func (h *Handler) Get(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	o, err := h.Repo.GetByID(context.Background(), c.Param("id"))
	if err != nil {
		return orderFetchError(c, err)
	}
	if o.UserID != userID && (o.ProviderID == nil || *o.ProviderID != userID) {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your order"})
	}
	return c.JSON(http.StatusOK, o)
}

// ListMine returns orders where the requester is payer or provider.
func (h *Handler) ListMine(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	orders, err := h.Repo.ListByUser(context.Background(), userID, 50)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch orders"})
	}
	return c.JSON(http.StatusOK, echo.Map{"orders": orders})
}

func orderFetchError(c echo.Context, err error) error {
	if errors.Is(err, ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "order not found"})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch order"})
}

func transitionError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrInvalidTransition):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "order is not in the right state for that action"})
	case errors.Is(err, ErrConcurrencyConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "order changed underneath you, refresh and retry"})
	case errors.Is(err, ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "order not found"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "order update failed"})
	}
}

// lookupEmail resolves a user's email for notifications. A missing row just
// skips the email.
func lookupEmail(userID string) string {
	var email string
	err := db.Conn.QueryRow(context.Background(),
		`SELECT email FROM users WHERE id = $1`, userID).Scan(&email)
	if err != nil {
		log.Printf("email lookup failed for user %s: %v", userID, err)
		return ""
	}
	return email
}

// NotifyBookingPlaced emails the provider that a customer opened a deposit
// hold on their listing. Webhook and sweeper code call it through swappable
// fields so tests stay off redis.
func NotifyBookingPlaced(o *Order) error {
	if o.ProviderID == nil {
		return nil
	}
	email := lookupEmail(*o.ProviderID)
	if email == "" {
		return nil
	}
	return alerts.EnqueueBookingPlaced(o.ID, o.OrderNo, o.UserID, *o.ProviderID,
		email, o.DepositAmount.StringFixed(2))
}

// NotifyDepositSecured emails the provider that the deposit was captured
// into escrow.
func NotifyDepositSecured(o *Order) error {
	if o.ProviderID == nil {
		return nil
	}
	email := lookupEmail(*o.ProviderID)
	if email == "" {
		return nil
	}
	return alerts.EnqueueDepositSecured(o.ID, o.OrderNo, email, o.DepositAmount.StringFixed(2))
}

// stripeCustomerRef returns the stored gateway customer for a user, falling
// back to the bare user id for test gateways.
func stripeCustomerRef(userID string) string {
	var ref *string
	err := db.Conn.QueryRow(context.Background(),
		`SELECT stripe_customer_id FROM users WHERE id = $1`, userID).Scan(&ref)
	if err != nil || ref == nil || *ref == "" {
		return userID
	}
	return *ref
}
