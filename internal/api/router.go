package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rumiri/dopay/internal/handlers"
	"github.com/rumiri/dopay/internal/telemetry"
)

func NewRouter(h *handlers.PaymentHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.Middleware())

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "dopay"})
	})

	// Payment routes
	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/payments", h.InitiatePayment)
		apiGroup.GET("/payments/:id/status", h.PaymentStatus)
		apiGroup.POST("/payments/:id/verify", h.VerifyName)
		apiGroup.POST("/payments/:id/download", h.RequestDownload)
	}

	// Token-gated file delivery
	r.GET("/secure-download", h.Download)

	// Admin
	r.GET("/admin/stats", h.AdminStats)

	return r
}
