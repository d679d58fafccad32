package api

import (
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/cozy-creator/lineage-server/internal/services/pipeline"
	"github.com/cozy-creator/lineage-server/internal/types"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UploadImages accepts one or more "files" (or a single "file") in a
// multipart form, with optional tags, description and isPublic fields.
func UploadImages(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		respondError(c, types.NewValidationError("failed to parse multipart form: %v", err))
		return
	}

	headers := append(form.File["files"], form.File["file"]...)
	if len(headers) == 0 {
		respondError(c, types.NewValidationError("no files provided"))
		return
	}

	files, err := collectUploads(headers, readFormFile, getApp(c).Logger)
	if err != nil {
		respondError(c, err)
		return
	}

	isPublic, _ := strconv.ParseBool(c.PostForm("isPublic"))
	opts := pipeline.UploadOptions{
		Tags:        splitTags(form.Value["tags"]),
		Description: c.PostForm("description"),
		IsPublic:    isPublic,
	}

	pipelines, err := getApp(c).Pipelines.UploadMany(c.Request.Context(), userID(c), files, opts)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"images": pipelines})
}

func ListImages(c *gin.Context) {
	pagination, err := parsePagination(c)
	if err != nil {
		respondError(c, err)
		return
	}

	page, err := getApp(c).Pipelines.List(c.Request.Context(), userID(c), pagination, c.Query("filter"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

func GetImage(c *gin.Context) {
	p, err := getApp(c).Pipelines.Get(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, p)
}

func GetImageTree(c *gin.Context) {
	tree, err := getApp(c).Pipelines.Tree(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, tree)
}

func DeleteImage(c *gin.Context) {
	if err := getApp(c).Pipelines.Delete(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func DeleteVersion(c *gin.Context) {
	err := getApp(c).Pipelines.DeleteVersion(c.Request.Context(), userID(c), c.Param("id"), c.Param("versionId"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// collectUploads reads every part, skipping the unreadable ones. It fails
// only when no part could be read.
func collectUploads(headers []*multipart.FileHeader, read func(*multipart.FileHeader) ([]byte, error), logger *zap.Logger) ([]pipeline.UploadFile, error) {
	files := make([]pipeline.UploadFile, 0, len(headers))
	var firstErr error
	for _, header := range headers {
		content, err := read(header)
		if err != nil {
			logger.Warn("skipping unreadable upload part",
				zap.String("name", header.Filename),
				zap.Error(err))
			if firstErr == nil {
				firstErr = types.NewValidationError("failed to read %s: %v", header.Filename, err)
			}
			continue
		}

		files = append(files, pipeline.UploadFile{
			Name:     header.Filename,
			Content:  content,
			MimeType: header.Header.Get("Content-Type"),
		})
	}

	if len(files) == 0 {
		return nil, firstErr
	}

	return files, nil
}

func readFormFile(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

// splitTags accepts repeated fields as well as comma separated values.
func splitTags(values []string) []string {
	tags := []string{}
	for _, value := range values {
		for _, tag := range strings.Split(value, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
	}

	return tags
}
