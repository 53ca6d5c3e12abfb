package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/paygate"
	"github.com/layer-3/paygate/ports"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig configures SetupRouter.
type RouterConfig struct {
	Attestor  ports.Attestor
	Logger    *slog.Logger
	Protected []string
	Excluded  []string
	Resolve   ResourceResolver
	// Upstream serves protected requests once they are paid for. When nil a
	// JSON summary of the receipt is returned.
	Upstream gin.HandlerFunc
}

// SetupRouter sets up the Gin router
func SetupRouter(gate paygate.Gate, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	// Create handlers
	handlers := NewPaymentHandlers(gate, cfg.Attestor, cfg.Logger)

	router.GET("/healthz", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	x402 := router.Group("/x402")
	{
		x402.POST("/pay", handlers.Pay)
		x402.GET("/status", handlers.Status)
		x402.POST("/revoke", handlers.Revoke)
		x402.GET("/receipts/:id", handlers.Receipt)
	}

	upstream := cfg.Upstream
	if upstream == nil {
		upstream = receiptSummary
	}

	// Everything else is a protected resource.
	router.NoRoute(PaymentMiddleware(gate, MiddlewareConfig{
		Routes:  NewRouteMatcher(cfg.Protected, cfg.Excluded),
		Resolve: cfg.Resolve,
		Logger:  cfg.Logger,
	}), upstream)

	return router
}

func receiptSummary(c *gin.Context) {
	receipt, ok := GetReceipt(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"resourceId": receipt.Metadata.ResourceID,
		"receiptId":  receipt.ID,
		"expiresAt":  receipt.ExpiresAt,
	})
}
