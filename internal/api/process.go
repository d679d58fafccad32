package api

import (
	"net/http"

	"github.com/cozy-creator/lineage-server/internal/services/batch"
	"github.com/cozy-creator/lineage-server/internal/services/pipeline"
	"github.com/cozy-creator/lineage-server/internal/services/transform"
	"github.com/cozy-creator/lineage-server/internal/types"

	"github.com/gin-gonic/gin"
)

type angleFailureResponse struct {
	Angle   float64 `json:"angle"`
	Status  int     `json:"status"`
	Message string  `json:"message"`
}

type batchResponse struct {
	Versions any                    `json:"versions"`
	Failures []angleFailureResponse `json:"failures"`
}

func ProcessImage(c *gin.Context) {
	var req pipeline.ProcessRequest
	if err := bindBody(c, &req); err != nil {
		respondError(c, err)
		return
	}

	version, err := getApp(c).Pipelines.Process(c.Request.Context(), userID(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, version)
}

// ProcessImageBatch runs one transform per angle in "angles". Partial
// success answers 207 with the failures listed next to the new versions.
func ProcessImageBatch(c *gin.Context) {
	var req pipeline.ProcessRequest
	if err := bindBody(c, &req); err != nil {
		respondError(c, err)
		return
	}
	if len(req.Angles) == 0 {
		respondError(c, types.NewValidationError("at least one angle is required"))
		return
	}

	versions, err := getApp(c).Batch.ProcessAngles(c.Request.Context(), userID(c), c.Param("id"), req, req.Angles)

	failures := []angleFailureResponse{}
	for _, failure := range batch.Failures(err) {
		failures = append(failures, angleFailureResponse{
			Angle:   failure.Angle,
			Status:  types.StatusCode(failure.Err),
			Message: failure.Err.Error(),
		})
	}

	status := http.StatusCreated
	switch {
	case len(versions) == 0 && err != nil:
		respondError(c, err)
		return
	case err != nil:
		status = http.StatusMultiStatus
	}

	c.JSON(status, batchResponse{Versions: versions, Failures: failures})
}

func ListProcessedVersions(c *gin.Context) {
	pagination, err := parsePagination(c)
	if err != nil {
		respondError(c, err)
		return
	}

	filter := pipeline.VersionFilter{AIModel: c.Query("aiModel")}
	if filter.MinProcessingTimeMs, err = optionalInt64(c, "minProcessingTime"); err != nil {
		respondError(c, err)
		return
	}
	if filter.MaxProcessingTimeMs, err = optionalInt64(c, "maxProcessingTime"); err != nil {
		respondError(c, err)
		return
	}

	page, err := getApp(c).Pipelines.ListProcessedVersions(c.Request.Context(), userID(c), pagination, filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

func ListOperations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"operations": transform.Operations()})
}
