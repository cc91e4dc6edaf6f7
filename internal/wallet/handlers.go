package wallet

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	Ledger *Ledger
}

func NewHandler(ledger *Ledger) *Handler {
	return &Handler{Ledger: ledger}
}

// Balance returns the requester's wallet balance
func (h *Handler) Balance(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	balance, err := h.Ledger.Balance(context.Background(), userID)
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "wallet not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch balance"})
	}

	return c.JSON(http.StatusOK, echo.Map{"balance": balance})
}

// Transactions returns the requester's ledger history
func (h *Handler) Transactions(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	txs, err := h.Ledger.ListTransactions(context.Background(), userID, 50)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch transactions"})
	}

	return c.JSON(http.StatusOK, echo.Map{"transactions": txs})
}
