package wallet

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

type AdminAdjustRequest struct {
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

// AdminAdjust credits or debits a user's wallet through the ledger. The sign
// of the amount picks the transaction type (admin_add / admin_deduct).
func (h *Handler) AdminAdjust(c echo.Context) error {
	userID := c.Param("user_id")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "user ID is required"})
	}

	var req AdminAdjustRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.IsZero() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid amount"})
	}

	txType := TypeAdminAdd
	if amount.IsNegative() {
		txType = TypeAdminDeduct
	}

	posted, err := h.Ledger.Post(context.Background(), Posting{
		UserID:      userID,
		Amount:      amount,
		Type:        txType,
		Description: req.Reason,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientFunds):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "adjustment would overdraw wallet"})
		case errors.Is(err, ErrWalletNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "wallet not found"})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to adjust wallet"})
		}
	}

	return c.JSON(http.StatusOK, echo.Map{"transaction": posted})
}

// AdminTransactions returns the full ledger for admin monitoring
func (h *Handler) AdminTransactions(c echo.Context) error {
	txs, err := h.Ledger.ListAllTransactions(context.Background(), 100)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not fetch transactions"})
	}
	return c.JSON(http.StatusOK, echo.Map{"transactions": txs})
}
