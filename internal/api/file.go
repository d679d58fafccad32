package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/cozy-creator/lineage-server/internal/services/filestorage"
	"github.com/cozy-creator/lineage-server/internal/types"

	"github.com/gin-gonic/gin"
)

// GetFile serves a stored blob. Local files are streamed from disk;
// remote backends answer with a redirect to their own url.
func GetFile(c *gin.Context) {
	name := strings.TrimPrefix(c.Param("filename"), "/")
	storage := getApp(c).Storage()

	if local, ok := storage.(*filestorage.LocalFileStorage); ok {
		path, err := local.ResolveFile(name)
		if err != nil {
			respondError(c, types.NewNotFoundError("file not found"))
			return
		}

		c.File(path)
		return
	}

	url, err := storage.GetFileURL(c.Request.Context(), name)
	if err != nil {
		if errors.Is(err, filestorage.ErrFileNotFound) {
			respondError(c, types.NewNotFoundError("file not found"))
			return
		}
		respondError(c, err)
		return
	}

	c.Redirect(http.StatusTemporaryRedirect, url)
}
