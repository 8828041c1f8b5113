package controllers

import (
	"net/http"
	"net/url"
	"strings"

	"checkout-service/apperrors"
	"checkout-service/models"
	"checkout-service/services"

	"github.com/gin-gonic/gin"
)

// PaymentController receives gateway callbacks. Browser redirects from a
// gateway get a redirect back to the storefront; the JSON endpoint serves
// clients that forward the callback parameters themselves.
type PaymentController struct {
	verifier    services.CallbackVerifier
	frontendURL string
}

func NewPaymentController(verifier services.CallbackVerifier, frontendURL string) *PaymentController {
	return &PaymentController{verifier: verifier, frontendURL: strings.TrimSuffix(frontendURL, "/")}
}

type verifyRequest struct {
	Gateway models.GatewayKind    `json:"gateway" binding:"required"`
	Params  models.CallbackParams `json:"params" binding:"required"`
}

// EsewaCallback handles GET /payments/esewa/callback?data=...
func (pc *PaymentController) EsewaCallback(c *gin.Context) {
	pc.redirect(c, pc.verifier.VerifyCallback(c.Request.Context(), models.GatewayEsewa, queryParams(c)))
}

// KhaltiCallback handles GET /payments/khalti/callback?pidx=...&purchase_order_id=...
func (pc *PaymentController) KhaltiCallback(c *gin.Context) {
	pc.redirect(c, pc.verifier.VerifyCallback(c.Request.Context(), models.GatewayKhalti, queryParams(c)))
}

// Verify handles POST /payments/verify.
func (pc *PaymentController) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	if !req.Gateway.Valid() {
		apperrors.Respond(c, apperrors.Newf(apperrors.KindMalformed, "unknown gateway %q", req.Gateway))
		return
	}

	res := pc.verifier.VerifyCallback(c.Request.Context(), req.Gateway, req.Params)
	status := http.StatusOK
	if res.State == models.StateFailed {
		status = apperrors.New(apperrors.Kind(res.Kind), res.Reason, nil).Code
	}
	c.JSON(status, res)
}

func (pc *PaymentController) redirect(c *gin.Context, res *models.ReconcileResult) {
	var target string
	if res.State == models.StateFailed {
		target = pc.frontendURL + "/checkout?payment_error=" + url.QueryEscape(res.Reason)
	} else {
		target = pc.frontendURL + "/order-confirmation?order_id=" + url.QueryEscape(res.Order.ID.String())
	}
	c.Redirect(http.StatusFound, target)
}

func queryParams(c *gin.Context) models.CallbackParams {
	params := models.CallbackParams{}
	for k, v := range c.Request.URL.Query() {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params
}
