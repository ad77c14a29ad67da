package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"marketplace-service/query"
	"marketplace-service/repository"
	"marketplace-service/services"
)

// respondError renders a service error; validation errors carry per field messages.
func respondError(ctx *gin.Context, svcErr *services.ServiceError) {
	body := gin.H{"error": svcErr.Message}
	if len(svcErr.Fields) > 0 {
		body["fields"] = svcErr.Fields
	}
	ctx.JSON(svcErr.StatusCode, body)
}

func badRequest(ctx *gin.Context, err error) {
	ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
}

// parsePaginationParams extracts and clamps page and limit.
func parsePaginationParams(ctx *gin.Context) (int, int) {
	page, limit := query.DefaultPage, query.DefaultLimit
	if p, err := strconv.Atoi(ctx.Query("page")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(ctx.Query("limit")); err == nil && l > 0 {
		limit = min(l, query.MaxLimit)
	}
	return page, limit
}

// parseIncludes reads ?include=a,b and rejects names outside allowed.
func parseIncludes(ctx *gin.Context, allowed ...repository.Include) ([]repository.Include, bool) {
	raw := ctx.Query("include")
	if raw == "" {
		return nil, true
	}
	ok := make(map[repository.Include]bool, len(allowed))
	for _, inc := range allowed {
		ok[inc] = true
	}
	var out []repository.Include
	for _, name := range strings.Split(raw, ",") {
		inc := repository.Include(strings.TrimSpace(name))
		if !ok[inc] {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "Unknown include: " + string(inc)})
			return nil, false
		}
		out = append(out, inc)
	}
	return out, true
}
