package controllers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"marketplace-service/middleware"
	"marketplace-service/models"
	"marketplace-service/services"
)

const maxWebhookBody = 1 << 20

type PaymentController struct {
	paymentService services.PaymentService
	logger         *zap.Logger
}

func NewPaymentController(paymentService services.PaymentService, logger *zap.Logger) *PaymentController {
	return &PaymentController{paymentService: paymentService, logger: logger}
}

// Callback handles GET|POST /payments/callback/:provider/:flow/:invoiceId. Whatever the
// gateway appended to the request is ignored; the status is fetched from the gateway.
// The route is public, so only the id and status are returned. The buyer reads the
// full invoice from /invoices/:invoiceId.
func (pc *PaymentController) Callback(ctx *gin.Context) {
	inv, svcErr := pc.paymentService.Confirm(ctx.Request.Context(), ctx.Param("provider"), models.Flow(ctx.Param("flow")), ctx.Param("invoiceId"))
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"invoice_id": inv.InvoiceID, "status": inv.Status})
}

// Webhook handles POST /payments/webhooks/:provider.
func (pc *PaymentController) Webhook(ctx *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(ctx, err)
		return
	}
	if svcErr := pc.paymentService.HandleWebhook(ctx.Request.Context(), ctx.Param("provider"), ctx.Request.Header, body); svcErr != nil {
		pc.logger.Warn("Webhook rejected", zap.String("provider", ctx.Param("provider")), zap.Int("status", svcErr.StatusCode), zap.String("error", svcErr.Message))
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"received": true})
}

// Confirm handles POST /invoices/:invoiceId/confirm.
func (pc *PaymentController) Confirm(ctx *gin.Context) {
	inv, svcErr := pc.paymentService.ConfirmByUser(ctx.Request.Context(), middleware.ActorFrom(ctx), ctx.Param("invoiceId"))
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"invoice": inv})
}
