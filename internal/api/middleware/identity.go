package middleware

import (
	"net/http"
	"strings"

	"github.com/cozy-creator/lineage-server/internal/app"
	"github.com/cozy-creator/lineage-server/internal/types"

	"github.com/gin-gonic/gin"
)

const (
	UserIDHeader = "X-User-ID"
	UserIDKey    = "user_id"

	// AnonymousUserID owns every request when authentication is disabled
	// and no header is sent.
	AnonymousUserID = "local"
)

// IdentityMiddleware reads the caller id an upstream gateway has already
// validated. Requests without one are rejected unless auth is disabled.
func IdentityMiddleware(ctx *gin.Context) {
	app := ctx.MustGet("app").(*app.App)

	userID := strings.TrimSpace(ctx.GetHeader(UserIDHeader))
	if userID == "" && app.Config().DisableAuth {
		userID = AnonymousUserID
	}

	if userID == "" {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, types.ErrorResponse{
			Status:  http.StatusUnauthorized,
			Kind:    types.KindUnauthorized,
			Message: "missing " + UserIDHeader + " header",
		})
		return
	}

	ctx.Set(UserIDKey, userID)
	ctx.Next()
}

func GetUserID(ctx *gin.Context) string {
	return ctx.GetString(UserIDKey)
}
