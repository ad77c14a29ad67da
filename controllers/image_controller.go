package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"marketplace-service/middleware"
	"marketplace-service/services"
)

type ImageController struct {
	imageService services.ImageService
}

func NewImageController(imageService services.ImageService) *ImageController {
	return &ImageController{imageService: imageService}
}

// Upload handles POST /images (multipart "file", optional "folder").
func (ic *ImageController) Upload(ctx *gin.Context) {
	fh, err := ctx.FormFile("file")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "fields": gin.H{"file": "is required"}})
		return
	}
	f, err := fh.Open()
	if err != nil {
		badRequest(ctx, err)
		return
	}
	defer f.Close()

	res, svcErr := ic.imageService.Upload(ctx.Request.Context(), middleware.ActorFrom(ctx), f, fh.Filename, fh.Size, ctx.PostForm("folder"))
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusCreated, res)
}

// Delete handles DELETE /images?public_id=.
func (ic *ImageController) Delete(ctx *gin.Context) {
	if svcErr := ic.imageService.Delete(ctx.Request.Context(), middleware.ActorFrom(ctx), ctx.Query("public_id")); svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "Image deleted"})
}
