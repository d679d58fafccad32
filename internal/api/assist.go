package api

import (
	"net/http"

	"github.com/cozy-creator/lineage-server/internal/types"

	"github.com/gin-gonic/gin"
)

type assistRequest struct {
	Prompt    string `json:"prompt"`
	Operation string `json:"operation"`
}

func AssistPrompt(c *gin.Context) {
	assistant := getApp(c).Assistant
	if assistant == nil {
		c.JSON(http.StatusServiceUnavailable, types.ErrorResponse{
			Status:  http.StatusServiceUnavailable,
			Message: "prompt assist is not configured",
		})
		return
	}

	var req assistRequest
	if err := bindBody(c, &req); err != nil {
		respondError(c, err)
		return
	}

	suggestion, err := assistant.Suggest(c.Request.Context(), req.Prompt, req.Operation)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, suggestion)
}
