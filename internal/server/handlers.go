// Package server exposes the control-plane HTTP and WebSocket surface.
// Handlers are thin projections over the components; no business logic
// lives here.
package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"bitget-radar/internal/bitget"
	"bitget-radar/internal/broker"
	"bitget-radar/internal/health"
	"bitget-radar/internal/policy"
	"bitget-radar/internal/symbols"
)

// Handler bundles the component handles the routes project.
type Handler struct {
	policy  *policy.Manager
	health  *health.Supervisor
	symbols *symbols.Manager
	catalog *bitget.CatalogClient
	broker  *broker.Broker
	logger  *logrus.Logger
}

// NewHandler creates the control-plane handler set.
func NewHandler(pol *policy.Manager, sup *health.Supervisor, sym *symbols.Manager, catalog *bitget.CatalogClient, brk *broker.Broker, logger *logrus.Logger) *Handler {
	return &Handler{
		policy:  pol,
		health:  sup,
		symbols: sym,
		catalog: catalog,
		broker:  brk,
		logger:  logger,
	}
}

// credentialRequest is the set_bitget_api request body.
type credentialRequest struct {
	APIKey     string `json:"api_key" binding:"required,min=10"`
	SecretKey  string `json:"secret_key" binding:"required,min=10"`
	Passphrase string `json:"passphrase" binding:"required,min=3"`
}

// SetCredentials validates and applies a new credential triple.
func (h *Handler) SetCredentials(c *gin.Context) {
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	profile, err := h.policy.SetCredentials(c.Request.Context(), bitget.Credentials{
		APIKey:     req.APIKey,
		SecretKey:  req.SecretKey,
		Passphrase: req.Passphrase,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "invalid API credentials: " + err.Error(),
		})
		return
	}

	message := "API credentials updated - using public tier"
	if profile.Tier == policy.TierPrivileged {
		message = "API credentials updated - privileged features activated"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":             "success",
		"message":            message,
		"premium_features":   profile.Tier == policy.TierPrivileged,
		"capability_profile": profile,
	})
}

// ResetCredentials reverts to the public tier.
func (h *Handler) ResetCredentials(c *gin.Context) {
	profile, err := h.policy.ResetCredentials(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":             "success",
		"message":            "API configuration reset to public tier",
		"capability_profile": profile,
	})
}

// TestConnection exercises the catalog endpoints and returns the counts.
func (h *Handler) TestConnection(c *gin.Context) {
	symbolCount, tickerCount, err := h.catalog.TestConnection(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "success",
		"symbols_count": symbolCount,
		"tickers_count": tickerCount,
	})
}

// Limits returns the current capability profile.
func (h *Handler) Limits(c *gin.Context) {
	c.JSON(http.StatusOK, h.policy.Profile())
}

// Status combines tier and health snapshots.
func (h *Handler) Status(c *gin.Context) {
	profile := h.policy.Profile()
	c.JSON(http.StatusOK, gin.H{
		"api_configured": h.catalog.Credentials().Privileged(),
		"tier":           profile.Tier,
		"limits":         profile,
		"system_health":  h.health.Snapshot(),
		"active_markets": profile.Markets,
		"total_symbols":  len(h.symbols.All()),
	})
}

// AllSymbols returns the full working set.
func (h *Handler) AllSymbols(c *gin.Context) {
	c.JSON(http.StatusOK, h.symbols.All())
}

// TopSymbols returns the head of one market's working set.
func (h *Handler) TopSymbols(c *gin.Context) {
	market := c.DefaultQuery("market", bitget.MarketSpot)
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit < 1 {
		limit = 10
	}

	names := h.symbols.SymbolsFor(market)
	if len(names) > limit {
		names = names[:limit]
	}
	c.JSON(http.StatusOK, gin.H{"market": market, "symbols": names})
}

// SymbolInfo returns the metadata of one working-set symbol.
func (h *Handler) SymbolInfo(c *gin.Context) {
	symbol := c.Param("symbol")
	meta, ok := h.symbols.Meta(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "symbol not in working set"})
		return
	}
	c.JSON(http.StatusOK, meta)
}

// Health surfaces the supervisor snapshot with a matching status code.
func (h *Handler) Health(c *gin.Context) {
	report := h.health.Snapshot()
	code := http.StatusOK
	if report.Status == health.StatusCritical {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

// BrokerMetrics returns the fan-out broker counters.
func (h *Handler) BrokerMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.broker.Metrics())
}
