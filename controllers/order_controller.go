package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"marketplace-service/middleware"
	"marketplace-service/repository"
	"marketplace-service/services"
)

// OrderController serves invoices, transactions, orders, sales and balances.
type OrderController struct {
	orderService services.OrderService
}

func NewOrderController(orderService services.OrderService) *OrderController {
	return &OrderController{orderService: orderService}
}

// GetInvoice handles GET /invoices/:invoiceId?include=transactions,products.
func (oc *OrderController) GetInvoice(ctx *gin.Context) {
	includes, ok := parseIncludes(ctx, repository.IncludeTransactions, repository.IncludeProducts)
	if !ok {
		return
	}
	inv, svcErr := oc.orderService.GetInvoice(ctx.Request.Context(), middleware.ActorFrom(ctx), ctx.Param("invoiceId"), includes)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"invoice": inv})
}

func (oc *OrderController) ListInvoices(ctx *gin.Context) {
	page, limit := parsePaginationParams(ctx)
	items, meta, svcErr := oc.orderService.ListInvoices(ctx.Request.Context(), middleware.ActorFrom(ctx), page, limit)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"invoices": items, "meta": meta})
}

func (oc *OrderController) ListTransactions(ctx *gin.Context) {
	page, limit := parsePaginationParams(ctx)
	items, meta, svcErr := oc.orderService.ListTransactions(ctx.Request.Context(), middleware.ActorFrom(ctx), page, limit)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": items, "meta": meta})
}

func (oc *OrderController) ListOrders(ctx *gin.Context) {
	page, limit := parsePaginationParams(ctx)
	items, meta, svcErr := oc.orderService.ListOrders(ctx.Request.Context(), middleware.ActorFrom(ctx), page, limit)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"orders": items, "meta": meta})
}

// ListSales handles GET /sales?salon_id=.
func (oc *OrderController) ListSales(ctx *gin.Context) {
	page, limit := parsePaginationParams(ctx)
	items, meta, svcErr := oc.orderService.ListSales(ctx.Request.Context(), middleware.ActorFrom(ctx), ctx.Query("salon_id"), page, limit)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"orders": items, "meta": meta})
}

// Balance handles GET /balance?salon_id=.
func (oc *OrderController) Balance(ctx *gin.Context) {
	balance, svcErr := oc.orderService.Balance(ctx.Request.Context(), middleware.ActorFrom(ctx), ctx.Query("salon_id"))
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"balance": balance})
}
