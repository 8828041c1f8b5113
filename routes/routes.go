package routes

import (
	"net/http"

	"checkout-service/controllers"
	"checkout-service/middleware"

	"github.com/gin-gonic/gin"
)

// Handlers bundles the controllers the router exposes.
type Handlers struct {
	Checkout *controllers.CheckoutController
	Payment  *controllers.PaymentController
	Order    *controllers.OrderController
}

// RegisterRoutes mounts the checkout, payment and order routes on r.
// callbackRatePerMinute limits the unauthenticated gateway endpoints per IP.
func RegisterRoutes(r *gin.Engine, h Handlers, jwtSecret string, callbackRatePerMinute int) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auth := middleware.AuthMiddleware(jwtSecret)

	checkout := r.Group("/checkout")
	checkout.Use(auth)
	{
		checkout.POST("/stage", h.Checkout.StageOrder)
		checkout.DELETE("/stage/:tx_id", h.Checkout.AbandonCheckout)
	}

	payments := r.Group("/payments")
	{
		payments.POST("/esewa/sign", auth, h.Checkout.SignEsewa)
		payments.POST("/khalti/initiate", auth, h.Checkout.InitiateKhalti)

		callbacks := payments.Group("")
		callbacks.Use(middleware.RateLimitMiddleware(callbackRatePerMinute, callbackRatePerMinute/2+1))
		callbacks.GET("/esewa/callback", h.Payment.EsewaCallback)
		callbacks.GET("/khalti/callback", h.Payment.KhaltiCallback)
		callbacks.POST("/verify", h.Payment.Verify)
	}

	orders := r.Group("/orders")
	orders.Use(auth)
	{
		orders.GET("", h.Order.GetOrders)
		orders.GET("/tx/:tx_id", h.Order.GetOrderByTransactionID)
	}

	admin := r.Group("/admin")
	admin.Use(auth, middleware.AdminOnly())
	{
		admin.GET("/orders", h.Order.GetAllOrders)
		admin.PATCH("/orders/:id/status", h.Order.UpdateStatus)
	}
}
