package controllers

import (
	"net/http"

	"checkout-service/apperrors"
	"checkout-service/middleware"
	"checkout-service/services"

	"github.com/gin-gonic/gin"
)

type CheckoutController struct {
	service services.CheckoutService
}

func NewCheckoutController(service services.CheckoutService) *CheckoutController {
	return &CheckoutController{service: service}
}

// StageOrder handles POST /checkout/stage
func (cc *CheckoutController) StageOrder(c *gin.Context) {
	var req services.StageOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	pending, err := cc.service.StageOrder(c.Request.Context(), buyerFrom(c), &req)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, pending)
}

// AbandonCheckout handles DELETE /checkout/stage/:tx_id
func (cc *CheckoutController) AbandonCheckout(c *gin.Context) {
	if err := cc.service.AbandonCheckout(c.Request.Context(), buyerFrom(c), c.Param("tx_id")); err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SignEsewa handles POST /payments/esewa/sign
func (cc *CheckoutController) SignEsewa(c *gin.Context) {
	var req services.SignEsewaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	signed, err := cc.service.SignEsewa(c.Request.Context(), buyerFrom(c), &req)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, signed)
}

// InitiateKhalti handles POST /payments/khalti/initiate. Khalti's answer is
// passed through with its own status code.
func (cc *CheckoutController) InitiateKhalti(c *gin.Context) {
	var body map[string]interface{}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	resp, err := cc.service.InitiateKhalti(c.Request.Context(), buyerFrom(c), body)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	if !resp.OK() {
		c.JSON(resp.StatusCode, gin.H{"error": resp.ErrorMessage(), "details": resp.Body})
		return
	}
	c.JSON(resp.StatusCode, resp.Body)
}

// buyerFrom reads the session identity AuthMiddleware placed on the context.
func buyerFrom(c *gin.Context) services.Buyer {
	email, _ := middleware.GetEmail(c)
	return services.Buyer{UserID: c.GetString(middleware.UserIDKey), Email: email}
}
