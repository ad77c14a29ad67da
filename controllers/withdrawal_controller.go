package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"marketplace-service/middleware"
	"marketplace-service/models"
	"marketplace-service/policy"
	"marketplace-service/services"
)

type WithdrawalController struct {
	withdrawalService services.WithdrawalService
}

func NewWithdrawalController(withdrawalService services.WithdrawalService) *WithdrawalController {
	return &WithdrawalController{withdrawalService: withdrawalService}
}

// Request handles POST /withdrawals.
func (wc *WithdrawalController) Request(ctx *gin.Context) {
	var req models.CreateWithdrawalRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	w, svcErr := wc.withdrawalService.Request(ctx.Request.Context(), middleware.ActorFrom(ctx), req)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"withdrawal": w})
}

func (wc *WithdrawalController) Get(ctx *gin.Context) {
	w, svcErr := wc.withdrawalService.Get(ctx.Request.Context(), middleware.ActorFrom(ctx), ctx.Param("id"))
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"withdrawal": w})
}

// List handles GET /withdrawals?status=. Admins see every request.
func (wc *WithdrawalController) List(ctx *gin.Context) {
	page, limit := parsePaginationParams(ctx)
	items, meta, svcErr := wc.withdrawalService.List(ctx.Request.Context(), middleware.ActorFrom(ctx), models.WithdrawalStatus(ctx.Query("status")), page, limit)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"withdrawals": items, "meta": meta})
}

// Approve handles PATCH /withdrawals/:id/approve (admin only).
func (wc *WithdrawalController) Approve(ctx *gin.Context) {
	wc.review(ctx, wc.withdrawalService.Approve)
}

// Reject handles PATCH /withdrawals/:id/reject (admin only).
func (wc *WithdrawalController) Reject(ctx *gin.Context) {
	wc.review(ctx, wc.withdrawalService.Reject)
}

type reviewFunc = func(ctx context.Context, actor policy.Actor, id, note string) (*models.Withdrawal, *services.ServiceError)

func (wc *WithdrawalController) review(ctx *gin.Context, fn reviewFunc) {
	var req models.ReviewWithdrawalRequest
	if ctx.Request.ContentLength != 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			badRequest(ctx, err)
			return
		}
	}
	w, svcErr := fn(ctx.Request.Context(), middleware.ActorFrom(ctx), ctx.Param("id"), req.Note)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"withdrawal": w})
}
