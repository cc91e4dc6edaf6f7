package catalog

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

type Handler struct {
	Repo *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{Repo: repo}
}

// Create publishes a new listing for the authenticated provider.
func (h *Handler) Create(c echo.Context) error {
	providerID, ok := c.Get("user_id").(string)
	if !ok || providerID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var req struct {
		Title         string `json:"title"`
		Description   string `json:"description"`
		Category      string `json:"category"`
		DepositAmount string `json:"deposit_amount"`
		TotalAmount   string `json:"total_amount"`
		Currency      string `json:"currency"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if req.Title == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "title is required"})
	}

	deposit, err := decimal.NewFromString(req.DepositAmount)
	if err != nil || deposit.LessThanOrEqual(decimal.Zero) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "deposit_amount must be a positive amount"})
	}
	total, err := decimal.NewFromString(req.TotalAmount)
	if err != nil || total.LessThan(deposit) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "total_amount must be at least the deposit"})
	}
	if req.Currency == "" {
		req.Currency = "usd"
	}

	l := &Listing{
		ProviderID:    providerID,
		Title:         req.Title,
		Description:   req.Description,
		Category:      req.Category,
		DepositAmount: deposit,
		TotalAmount:   total,
		Currency:      req.Currency,
		Status:        StatusActive,
	}
	if err := h.Repo.Create(context.Background(), l); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not create listing"})
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"listing_id": l.ID,
		"message":    "listing created successfully",
	})
}

// List returns active listings with optional category filter and paging.
func (h *Handler) List(c echo.Context) error {
	limit := 20
	offset := 0
	if l := c.QueryParam("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 100 {
			limit = v
		}
	}
	if o := c.QueryParam("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			offset = v
		}
	}

	listings, err := h.Repo.ListActive(context.Background(), c.QueryParam("category"), limit, offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not fetch listings"})
	}
	return c.JSON(http.StatusOK, echo.Map{"listings": listings})
}

// Get returns a single listing by id.
func (h *Handler) Get(c echo.Context) error {
	l, err := h.Repo.GetByID(context.Background(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "listing not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not fetch listing"})
	}
	return c.JSON(http.StatusOK, l)
}

// Deactivate hides the provider's own listing from the marketplace.
func (h *Handler) Deactivate(c echo.Context) error {
	providerID, ok := c.Get("user_id").(string)
	if !ok || providerID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	err := h.Repo.SetStatus(context.Background(), c.Param("id"), providerID, StatusInactive)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "listing not found or not yours"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not update listing"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "listing deactivated"})
}
