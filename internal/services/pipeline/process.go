package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/cozy-creator/lineage-server/internal/db/models"
	"github.com/cozy-creator/lineage-server/internal/events"
	"github.com/cozy-creator/lineage-server/internal/metrics"
	"github.com/cozy-creator/lineage-server/internal/services/prompt"
	"github.com/cozy-creator/lineage-server/internal/types"
	"github.com/cozy-creator/lineage-server/internal/utils/hashutil"
	"github.com/cozy-creator/lineage-server/internal/utils/imageutil"
	"github.com/cozy-creator/lineage-server/internal/utils/jsonutil"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ProcessRequest struct {
	Operation  string         `json:"operation"`
	Parameters map[string]any `json:"parameters"`
	// SourceVersionID selects a prior version as input instead of the
	// original.
	SourceVersionID string `json:"sourceVersionId"`
	// Only the first angle is used; multi-angle runs loop over Process.
	Angles       []float64 `json:"angles"`
	CustomPrompt string    `json:"customPrompt"`
}

type source struct {
	storageName string
	mimeType    string
	version     *models.Version
}

// Process runs one AI transform on the original or on a prior version and
// records the result as a new version.
func (s *Service) Process(ctx context.Context, userID, imageID string, req ProcessRequest) (*models.Version, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Operation) == "" {
		return nil, types.NewValidationError("operation is required")
	}

	pipeline, err := s.repo.Get(ctx, userID, imageID)
	if err != nil {
		return nil, processingFailed(err, "failed to load image %s", imageID)
	}
	if pipeline == nil {
		return nil, types.NewNotFoundError("image %s not found", imageID)
	}

	src, err := resolveSource(pipeline, req.SourceVersionID)
	if err != nil {
		return nil, err
	}

	content, err := s.storage.Read(ctx, src.storageName)
	if err != nil {
		return nil, processingFailed(err, "failed to read source image %s", src.storageName)
	}

	parameters := buildParameters(req)
	finalPrompt, _ := parameters["prompt"].(string)

	if s.screener != nil && strings.TrimSpace(finalPrompt) != "" {
		verdict, err := s.screener.Screen(ctx, finalPrompt)
		switch {
		case err != nil:
			s.logger.Warn("prompt screen unavailable, continuing", zap.Error(err))
		case verdict.Rejected():
			return nil, types.NewValidationError("prompt rejected: %s", verdict.Reason)
		}
	}

	mimeType := src.mimeType
	if s.maxInputSide > 0 {
		resized, resizedType, err := imageutil.FitWithin(content, mimeType, s.maxInputSide)
		if err != nil {
			s.logger.Warn("could not downscale source image", zap.String("image_id", imageID), zap.Error(err))
		} else {
			content, mimeType = resized, resizedType
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	result, err := s.transformer.Transform(callCtx, content, mimeType, req.Operation, parameters)
	elapsed := time.Since(started)
	metrics.RecordTransform(req.Operation, elapsed, err)
	if err != nil {
		s.logger.Warn("ai transform failed",
			zap.String("image_id", imageID),
			zap.String("operation", req.Operation),
			zap.Duration("took", elapsed),
			zap.Error(err))
		return nil, processingFailed(err, "failed to process image %s with %s", imageID, req.Operation)
	}

	aiModel := AIModelName(req.Operation)
	var filenameAngle *float64
	if angle, ok := prompt.ExtractAngle(parameters, finalPrompt); ok {
		filenameAngle = &angle
	}

	versionID := uuid.NewString()
	smartName := SmartFileName(pipeline.OriginalName, aiModel, filenameAngle)
	ext := imageutil.ExtensionFor(result.MimeType)
	storageName := models.VersionStorageName(imageID, versionID, smartName, ext)

	stored, err := s.storage.Save(ctx, result.Image, storageName, result.MimeType)
	if err != nil {
		return nil, processingFailed(err, "failed to store processed image")
	}

	version := &models.Version{
		ID:               versionID,
		Operation:        req.Operation,
		AIModel:          aiModel,
		Parameters:       parameters,
		StorageName:      stored.Name,
		FileName:         smartName + ext,
		URL:              stored.URL,
		MimeType:         result.MimeType,
		ByteSize:         stored.Size,
		ContentHash:      hashutil.ContentHash(result.Image),
		ProcessingTimeMs: elapsed.Milliseconds(),
		RequestID:        result.RequestID,
	}
	if src.version != nil {
		version.SourceProcessedVersionID = src.version.ID
	} else {
		version.SourceImageID = pipeline.ID
	}

	created, err := s.repo.AppendVersion(ctx, userID, imageID, version)
	if err != nil {
		s.storage.Delete(ctx, stored.Name)
		return nil, processingFailed(err, "failed to record processed version")
	}

	s.events.Publish(ctx, events.Event{
		Type:             events.VersionCreated,
		UserID:           userID,
		ImageID:          imageID,
		VersionID:        created.ID,
		ParentID:         created.ParentID(),
		Operation:        created.Operation,
		AIModel:          created.AIModel,
		ProcessingTimeMs: created.ProcessingTimeMs,
	})
	s.logger.Info("image processed",
		zap.String("image_id", imageID),
		zap.String("version_id", created.ID),
		zap.String("operation", req.Operation),
		zap.Int64("processing_time_ms", created.ProcessingTimeMs))

	return created, nil
}

func resolveSource(pipeline *models.Pipeline, versionID string) (source, error) {
	if versionID == "" || versionID == pipeline.ID {
		return source{storageName: pipeline.StorageName, mimeType: pipeline.MimeType}, nil
	}

	version := pipeline.FindVersion(versionID)
	if version == nil {
		return source{}, types.NewNotFoundError("version %s not found in image %s", versionID, pipeline.ID)
	}

	return source{storageName: version.StorageName, mimeType: version.MimeType, version: version}, nil
}

// buildParameters derives the prompt from the first angle or the custom
// prompt. With neither, the parameters go out unchanged and the operation's
// own prompt check decides.
func buildParameters(req ProcessRequest) map[string]any {
	parameters := jsonutil.Clone(req.Parameters)
	if parameters == nil {
		parameters = map[string]any{}
	}

	switch {
	case len(req.Angles) > 0:
		angle := req.Angles[0]
		parameters["prompt"] = prompt.FinalPrompt(&angle, req.CustomPrompt)
		parameters[prompt.AngleParameter] = angle
	case strings.TrimSpace(req.CustomPrompt) != "":
		parameters["prompt"] = req.CustomPrompt
	}

	return parameters
}
