package controllers

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"marketplace-service/middleware"
	"marketplace-service/models"
	"marketplace-service/policy"
	"marketplace-service/repository"
	"marketplace-service/services"
)

// ResourceHandler is the CRUD surface of a resource service.
type ResourceHandler[T any] interface {
	List(ctx context.Context, values url.Values) (*services.ListResult, *services.ServiceError)
	Get(ctx context.Context, id string) (*T, *services.ServiceError)
	Create(ctx context.Context, actor policy.Actor, body []byte) (*T, *services.ServiceError)
	Update(ctx context.Context, actor policy.Actor, id string, body []byte) (*T, *services.ServiceError)
	Delete(ctx context.Context, actor policy.Actor, id string) *services.ServiceError
}

// ResourceController exposes one resource kind under {"<singular>": ...} and
// {"<plural>": [...], "meta": ...} envelopes.
type ResourceController[T any] struct {
	svc      ResourceHandler[T]
	singular string
	plural   string
}

func NewResourceController[T any](svc ResourceHandler[T], singular, plural string) *ResourceController[T] {
	return &ResourceController[T]{svc: svc, singular: singular, plural: plural}
}

// List handles GET /<plural>.
func (rc *ResourceController[T]) List(ctx *gin.Context) {
	res, svcErr := rc.svc.List(ctx.Request.Context(), ctx.Request.URL.Query())
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{rc.plural: res.Items, "meta": res.Meta})
}

// Get handles GET /<plural>/:id.
func (rc *ResourceController[T]) Get(ctx *gin.Context) {
	doc, svcErr := rc.svc.Get(ctx.Request.Context(), ctx.Param("id"))
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{rc.singular: doc})
}

// Create handles POST /<plural>.
func (rc *ResourceController[T]) Create(ctx *gin.Context) {
	body, err := ctx.GetRawData()
	if err != nil {
		badRequest(ctx, err)
		return
	}
	doc, svcErr := rc.svc.Create(ctx.Request.Context(), middleware.ActorFrom(ctx), body)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{rc.singular: doc})
}

// Update handles PATCH /<plural>/:id.
func (rc *ResourceController[T]) Update(ctx *gin.Context) {
	body, err := ctx.GetRawData()
	if err != nil {
		badRequest(ctx, err)
		return
	}
	doc, svcErr := rc.svc.Update(ctx.Request.Context(), middleware.ActorFrom(ctx), ctx.Param("id"), body)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{rc.singular: doc})
}

// Delete handles DELETE /<plural>/:id.
func (rc *ResourceController[T]) Delete(ctx *gin.Context) {
	if svcErr := rc.svc.Delete(ctx.Request.Context(), middleware.ActorFrom(ctx), ctx.Param("id")); svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "Deleted"})
}

// ProductController adds ?include=categories to product reads.
type ProductController struct {
	*ResourceController[models.Product]
	products *services.ProductService
}

func NewProductController(products *services.ProductService) *ProductController {
	return &ProductController{
		ResourceController: NewResourceController[models.Product](products, "product", "products"),
		products:           products,
	}
}

// Get handles GET /products/:id.
func (pc *ProductController) Get(ctx *gin.Context) {
	includes, ok := parseIncludes(ctx, repository.IncludeCategories)
	if !ok {
		return
	}
	if len(includes) == 0 {
		pc.ResourceController.Get(ctx)
		return
	}
	view, svcErr := pc.products.GetWithIncludes(ctx.Request.Context(), ctx.Param("id"), includes)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"product": view})
}
