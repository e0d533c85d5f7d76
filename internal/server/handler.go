// Package server exposes the price service over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-tracker/internal/pricing"
)

// PriceService is the subset of the service consumed by the handlers.
type PriceService interface {
	GetHourlyPrices(ctx context.Context, asset string) ([]pricing.PriceSample, error)
	SetPriceAlert(ctx context.Context, asset string, price decimal.Decimal, email string) (string, error)
	GetSwapRate(ctx context.Context, amount decimal.Decimal) (pricing.ConversionQuote, error)
	GetLatestPrice(ctx context.Context, asset string) (pricing.PriceSample, error)
}

// PriceHandler maps HTTP requests onto PriceService calls.
type PriceHandler struct {
	svc    PriceService
	logger zerolog.Logger
}

// NewPriceHandler builds the handler.
func NewPriceHandler(svc PriceService, logger zerolog.Logger) *PriceHandler {
	return &PriceHandler{svc: svc, logger: logger.With().Str("component", "http_price").Logger()}
}

// RegisterRoutes mounts the price endpoints under /price.
func (h *PriceHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/price")
	{
		api.GET("/hourly", h.GetHourlyPrices)
		api.POST("/set-alert", h.SetPriceAlert)
		api.GET("/swap-rate", h.GetSwapRate)
		api.GET("/latest", h.GetLatestPrice)
	}
}

// GetHourlyPrices serves the trailing 24h for ?chain=.
func (h *PriceHandler) GetHourlyPrices(c *gin.Context) {
	chain := c.Query("chain")
	if strings.TrimSpace(chain) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chain is required"})
		return
	}

	samples, err := h.svc.GetHourlyPrices(c.Request.Context(), chain)
	if err != nil {
		h.fail(c, "get hourly prices", err)
		return
	}
	c.JSON(http.StatusOK, samples)
}

// SetAlertRequest is the body of POST /price/set-alert.
type SetAlertRequest struct {
	Chain string          `json:"chain" binding:"required"`
	Price decimal.Decimal `json:"price"`
	Email string          `json:"email" binding:"required,email"`
}

// SetPriceAlert acknowledges an alert registration by email.
func (h *PriceHandler) SetPriceAlert(c *gin.Context) {
	var req SetAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.svc.SetPriceAlert(c.Request.Context(), req.Chain, req.Price, req.Email)
	if err != nil {
		h.fail(c, "set price alert", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// GetSwapRate quotes ?ethAmount= of the source asset.
func (h *PriceHandler) GetSwapRate(c *gin.Context) {
	raw := c.Query("ethAmount")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ethAmount is required"})
		return
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ethAmount"})
		return
	}

	quote, err := h.svc.GetSwapRate(c.Request.Context(), amount)
	if err != nil {
		h.fail(c, "get swap rate", err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

// GetLatestPrice serves the last ingested sample for ?chain=.
func (h *PriceHandler) GetLatestPrice(c *gin.Context) {
	chain := c.Query("chain")
	if strings.TrimSpace(chain) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chain is required"})
		return
	}

	sample, err := h.svc.GetLatestPrice(c.Request.Context(), chain)
	if err != nil {
		h.fail(c, "get latest price", err)
		return
	}
	c.JSON(http.StatusOK, sample)
}

func (h *PriceHandler) fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	event := h.logger.Warn()
	if status >= http.StatusInternalServerError {
		event = h.logger.Error()
	}
	event.Err(err).Str("op", op).Int("status", status).Msg("request failed")
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pricing.ErrInvalidArgument), errors.Is(err, pricing.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, pricing.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pricing.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, pricing.ErrFeedUnavailable),
		errors.Is(err, pricing.ErrInvalidResponse),
		errors.Is(err, pricing.ErrNotificationFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
