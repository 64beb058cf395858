package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quizhub/delivery-be/internal/api/auth"
	"github.com/quizhub/delivery-be/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, authManager *auth.Manager) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "delivery-api-service",
		})
	})

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Initialize delivery handler
	deliveryHandler := handler.NewDeliveryHandler(deps)

	// API v1 routes (authenticated)
	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(authManager))
	{
		attempts := v1.Group("/attempts")
		{
			// POST /api/v1/attempts/:attempt_id/delivery - Enqueue a delivery job
			attempts.POST("/:attempt_id/delivery", deliveryHandler.EnqueueDelivery)

			// GET /api/v1/attempts/:attempt_id/delivery - Poll delivery status
			attempts.GET("/:attempt_id/delivery", deliveryHandler.GetDeliveryStatus)
		}
	}

	return r
}
