package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"marketplace-service/middleware"
	"marketplace-service/models"
	"marketplace-service/services"
)

const idempotencyHeader = "Idempotency-Key"

type CheckoutController struct {
	checkoutService services.CheckoutService
}

func NewCheckoutController(checkoutService services.CheckoutService) *CheckoutController {
	return &CheckoutController{checkoutService: checkoutService}
}

// Checkout handles POST /checkout. A replayed Idempotency-Key answers 200 with the
// first request's invoice.
func (cc *CheckoutController) Checkout(ctx *gin.Context) {
	var req models.CheckoutRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	if len(ctx.GetHeader(idempotencyHeader)) > 128 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Idempotency-Key is too long"})
		return
	}

	resp, svcErr := cc.checkoutService.Checkout(ctx.Request.Context(), middleware.ActorFrom(ctx).UserID, req, ctx.GetHeader(idempotencyHeader))
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
	}
	ctx.JSON(status, resp)
}
