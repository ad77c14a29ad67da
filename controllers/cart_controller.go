package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"marketplace-service/middleware"
	"marketplace-service/models"
	"marketplace-service/services"
)

type CartController struct {
	cartService services.CartService
}

func NewCartController(cartService services.CartService) *CartController {
	return &CartController{cartService: cartService}
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity" binding:"required,min=1,max=1000"`
}

// GetCart handles GET /cart.
func (cc *CartController) GetCart(ctx *gin.Context) {
	cart, svcErr := cc.cartService.GetCart(ctx.Request.Context(), middleware.ActorFrom(ctx).UserID)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"cart": cart})
}

// AddItem handles POST /cart/items.
func (cc *CartController) AddItem(ctx *gin.Context) {
	var req models.AddCartItemRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	cart, svcErr := cc.cartService.AddItem(ctx.Request.Context(), middleware.ActorFrom(ctx).UserID, req)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"cart": cart})
}

// UpdateItem handles PUT /cart/items/:product_id.
func (cc *CartController) UpdateItem(ctx *gin.Context) {
	var req updateQuantityRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	cart, svcErr := cc.cartService.UpdateItem(ctx.Request.Context(), middleware.ActorFrom(ctx).UserID, ctx.Param("product_id"), req.Quantity)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"cart": cart})
}

// RemoveItem handles DELETE /cart/items/:product_id.
func (cc *CartController) RemoveItem(ctx *gin.Context) {
	cart, svcErr := cc.cartService.RemoveItem(ctx.Request.Context(), middleware.ActorFrom(ctx).UserID, ctx.Param("product_id"))
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"cart": cart})
}

// ApplyVoucher handles POST /cart/voucher.
func (cc *CartController) ApplyVoucher(ctx *gin.Context) {
	var req models.ApplyVoucherRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	cart, svcErr := cc.cartService.ApplyVoucher(ctx.Request.Context(), middleware.ActorFrom(ctx).UserID, req.Code)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"cart": cart})
}

// RemoveVoucher handles DELETE /cart/voucher.
func (cc *CartController) RemoveVoucher(ctx *gin.Context) {
	cart, svcErr := cc.cartService.RemoveVoucher(ctx.Request.Context(), middleware.ActorFrom(ctx).UserID)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"cart": cart})
}

// ClearCart handles DELETE /cart.
func (cc *CartController) ClearCart(ctx *gin.Context) {
	if svcErr := cc.cartService.ClearCart(ctx.Request.Context(), middleware.ActorFrom(ctx).UserID); svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "Cart cleared"})
}
