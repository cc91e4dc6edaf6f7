package subscription

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	Repo *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{Repo: repo}
}

// ListMine returns the requester's subscriptions.
func (h *Handler) ListMine(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	subs, err := h.Repo.ListByUser(context.Background(), userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch subscriptions"})
	}
	return c.JSON(http.StatusOK, echo.Map{"subscriptions": subs})
}

// Cancel turns off auto renewal. The subscription stays usable until its
// paid-for end date and simply lapses there.
func (h *Handler) Cancel(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	err := h.Repo.SetAutoRenew(context.Background(), c.Param("id"), userID, false)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "subscription not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to cancel subscription"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "auto-renew disabled; access continues until the end date"})
}
