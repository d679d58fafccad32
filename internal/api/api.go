// Package api holds the HTTP handlers. Every handler expects the *app.App
// under the "app" key and the caller id set by the identity middleware.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/cozy-creator/lineage-server/internal/api/middleware"
	"github.com/cozy-creator/lineage-server/internal/app"
	"github.com/cozy-creator/lineage-server/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"
)

func getApp(c *gin.Context) *app.App {
	return c.MustGet("app").(*app.App)
}

func respondError(c *gin.Context, err error) {
	status := types.StatusCode(err)
	response := types.ErrorResponse{Status: status, Message: err.Error()}

	var typed *types.Error
	if errors.As(err, &typed) {
		response.Kind = typed.Kind
		response.Message = typed.Message
	}

	if status >= http.StatusInternalServerError {
		getApp(c).Logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
	}

	c.JSON(status, response)
}

// bindBody accepts JSON by default and msgpack when the client asks for it.
func bindBody(c *gin.Context, target any) error {
	var err error
	switch c.ContentType() {
	case "application/msgpack", "application/x-msgpack":
		err = c.ShouldBindWith(target, binding.MsgPack)
	default:
		err = c.ShouldBindWith(target, binding.JSON)
	}
	if err != nil {
		return types.NewValidationError("failed to parse request body: %v", err)
	}

	return nil
}

func parsePagination(c *gin.Context) (types.Pagination, error) {
	p := types.Pagination{Page: 1, Limit: types.DefaultPageLimit}

	if raw := c.Query("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			return p, types.NewValidationError("page must be an integer")
		}
		p.Page = page
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return p, types.NewValidationError("limit must be an integer")
		}
		p.Limit = limit
	}

	return p.Normalize(), nil
}

func optionalInt64(c *gin.Context, key string) (*int64, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, types.NewValidationError("%s must be an integer", key)
	}

	return &v, nil
}

func userID(c *gin.Context) string {
	return middleware.GetUserID(c)
}
