// Package pipeline orchestrates uploads, AI transforms and deletions over
// the lineage repository and blob storage.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/cozy-creator/lineage-server/internal/config"
	"github.com/cozy-creator/lineage-server/internal/db/models"
	"github.com/cozy-creator/lineage-server/internal/db/repository"
	"github.com/cozy-creator/lineage-server/internal/events"
	"github.com/cozy-creator/lineage-server/internal/metrics"
	"github.com/cozy-creator/lineage-server/internal/services/ethicalfilter"
	"github.com/cozy-creator/lineage-server/internal/services/filestorage"
	"github.com/cozy-creator/lineage-server/internal/services/fileuploader"
	"github.com/cozy-creator/lineage-server/internal/services/transform"
	"github.com/cozy-creator/lineage-server/internal/types"
	"github.com/cozy-creator/lineage-server/internal/utils/hashutil"
	"github.com/cozy-creator/lineage-server/internal/utils/imageutil"
	"github.com/cozy-creator/lineage-server/internal/utils/pathutil"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Service struct {
	repo         repository.ILineageRepository
	storage      filestorage.FileStorage
	transformer  transform.Transformer
	uploader     *fileuploader.Uploader
	screener     ethicalfilter.Screener
	events       events.Publisher
	logger       *zap.Logger
	timeout      time.Duration
	maxInputSide int
}

type Option func(*Service)

func WithUploader(uploader *fileuploader.Uploader) Option {
	return func(s *Service) {
		s.uploader = uploader
	}
}

func WithScreener(screener ethicalfilter.Screener) Option {
	return func(s *Service) {
		s.screener = screener
	}
}

func WithEvents(publisher events.Publisher) Option {
	return func(s *Service) {
		s.events = publisher
	}
}

// WithTransformTimeout time-boxes a whole Process call, retries included.
func WithTransformTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		s.timeout = timeout
	}
}

// WithMaxInputSide downscales source images before they are sent out.
func WithMaxInputSide(side int) Option {
	return func(s *Service) {
		s.maxInputSide = side
	}
}

func NewService(repo repository.ILineageRepository, storage filestorage.FileStorage, transformer transform.Transformer, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		repo:        repo,
		storage:     storage,
		transformer: transformer,
		events:      events.NopPublisher{},
		logger:      logger,
		timeout:     config.DefaultTransformTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.uploader == nil {
		s.uploader = fileuploader.NewFileUploader(config.DefaultUploadWorkers)
	}

	return s
}

type UploadFile struct {
	Name     string
	Content  []byte
	MimeType string
}

type UploadOptions struct {
	Tags        []string
	Description string
	IsPublic    bool
}

func (s *Service) Upload(ctx context.Context, userID string, file UploadFile, opts UploadOptions) (*models.Pipeline, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if len(file.Content) == 0 {
		return nil, types.NewValidationError("file %q is empty", file.Name)
	}

	mimeType := detectMimeType(file.Content, file.MimeType)
	base, ext := pathutil.SplitExt(file.Name)
	if ext == "" {
		ext = imageutil.ExtensionFor(mimeType)
	}

	id := uuid.NewString()
	storageName := models.OriginalStorageName(id, SanitizeBaseName(base), strings.ToLower(ext))

	stored, err := s.storage.Save(ctx, file.Content, storageName, mimeType)
	if err != nil {
		return nil, processingFailed(err, "failed to store %s", file.Name)
	}

	width, height, err := imageutil.Dimensions(file.Content)
	if err != nil {
		s.logger.Debug("could not read image dimensions", zap.String("name", file.Name), zap.Error(err))
		width, height = 0, 0
	}

	tags := opts.Tags
	if tags == nil {
		tags = []string{}
	}

	originalName := file.Name
	if originalName == "" {
		originalName = storageName
	}

	pipeline, err := s.repo.CreateOriginal(ctx, userID, &models.Pipeline{
		ID:           id,
		OriginalName: originalName,
		StorageName:  stored.Name,
		MimeType:     mimeType,
		ByteSize:     stored.Size,
		Width:        width,
		Height:       height,
		ContentHash:  hashutil.ContentHash(file.Content),
		Tags:         tags,
		Description:  opts.Description,
		IsPublic:     opts.IsPublic,
		URL:          stored.URL,
	})
	if err != nil {
		s.storage.Delete(ctx, stored.Name)
		return nil, processingFailed(err, "failed to record upload of %s", file.Name)
	}

	metrics.UploadBytes.Observe(float64(stored.Size))
	s.events.Publish(ctx, events.Event{Type: events.PipelineCreated, UserID: userID, ImageID: id})
	s.logger.Info("image uploaded",
		zap.String("image_id", id),
		zap.String("user_id", userID),
		zap.Int64("bytes", stored.Size))

	return pipeline, nil
}

// UploadMany uploads files in parallel on the shared pool. A failing file
// is logged and skipped; only when every file fails is an error returned.
func (s *Service) UploadMany(ctx context.Context, userID string, files []UploadFile, opts UploadOptions) ([]*models.Pipeline, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, types.NewValidationError("no files to upload")
	}

	results := fileuploader.Run(ctx, s.uploader, files, func(ctx context.Context, file UploadFile) (*models.Pipeline, error) {
		return s.Upload(ctx, userID, file, opts)
	})

	pipelines := make([]*models.Pipeline, 0, len(results))
	var firstErr error
	for _, result := range results {
		if result.Err != nil {
			s.logger.Warn("skipping failed upload",
				zap.String("name", files[result.Index].Name),
				zap.Error(result.Err))
			if firstErr == nil {
				firstErr = result.Err
			}
			continue
		}
		pipelines = append(pipelines, result.Value)
	}

	if len(pipelines) == 0 {
		return nil, firstErr
	}

	return pipelines, nil
}

// Get returns the pipeline with every missing url regenerated from its
// storage name.
func (s *Service) Get(ctx context.Context, userID, imageID string) (*models.Pipeline, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}

	pipeline, err := s.repo.Get(ctx, userID, imageID)
	if err != nil {
		return nil, processingFailed(err, "failed to load image %s", imageID)
	}
	if pipeline == nil {
		return nil, types.NewNotFoundError("image %s not found", imageID)
	}

	s.resolveURLs(ctx, pipeline)
	return pipeline, nil
}

func (s *Service) Tree(ctx context.Context, userID, imageID string) (*Tree, error) {
	pipeline, err := s.Get(ctx, userID, imageID)
	if err != nil {
		return nil, err
	}

	return BuildTree(pipeline), nil
}

// Delete removes every blob of the pipeline, best effort, then the record.
func (s *Service) Delete(ctx context.Context, userID, imageID string) error {
	pipeline, err := s.Get(ctx, userID, imageID)
	if err != nil {
		return err
	}

	for _, v := range pipeline.Versions {
		s.storage.Delete(ctx, v.StorageName)
	}
	s.storage.Delete(ctx, pipeline.StorageName)

	if err := s.repo.DeletePipeline(ctx, userID, imageID); err != nil {
		return processingFailed(err, "failed to delete image %s", imageID)
	}

	s.events.Publish(ctx, events.Event{Type: events.PipelineDeleted, UserID: userID, ImageID: imageID})
	s.logger.Info("image deleted",
		zap.String("image_id", imageID),
		zap.Int("versions", len(pipeline.Versions)))

	return nil
}

func (s *Service) DeleteVersion(ctx context.Context, userID, imageID, versionID string) error {
	pipeline, err := s.Get(ctx, userID, imageID)
	if err != nil {
		return err
	}

	version := pipeline.FindVersion(versionID)
	if version == nil {
		return types.NewNotFoundError("version %s not found", versionID)
	}

	s.storage.Delete(ctx, version.StorageName)

	if err := s.repo.DeleteVersion(ctx, userID, imageID, versionID); err != nil {
		return processingFailed(err, "failed to delete version %s", versionID)
	}

	s.events.Publish(ctx, events.Event{
		Type:      events.VersionDeleted,
		UserID:    userID,
		ImageID:   imageID,
		VersionID: versionID,
		ParentID:  version.ParentID(),
	})

	return nil
}

func (s *Service) resolveURLs(ctx context.Context, pipeline *models.Pipeline) {
	if pipeline.URL == "" {
		pipeline.URL = s.fileURL(ctx, pipeline.StorageName)
	}
	for _, v := range pipeline.Versions {
		if v.URL == "" {
			v.URL = s.fileURL(ctx, v.StorageName)
		}
	}
}

func (s *Service) fileURL(ctx context.Context, name string) string {
	url, err := s.storage.GetFileURL(ctx, name)
	if err != nil {
		s.logger.Warn("could not resolve file url", zap.String("name", name), zap.Error(err))
		return ""
	}

	return url
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return types.NewUnauthorizedError("user id is required")
	}

	return nil
}

func detectMimeType(content []byte, declared string) string {
	detected := mimetype.Detect(content)
	if detected.Is("application/octet-stream") && declared != "" {
		return declared
	}

	mimeType, _, _ := strings.Cut(detected.String(), ";")
	return mimeType
}

// processingFailed keeps caller-facing errors as they are and wraps every
// other downstream failure. An upstream status is carried over.
func processingFailed(err error, format string, args ...any) error {
	switch kind, _ := types.KindOf(err); kind {
	case types.KindValidation, types.KindUnsupportedOperation, types.KindNotFound, types.KindUnauthorized, types.KindConflict:
		return err
	}

	wrapped := types.NewProcessingFailedError(err, format, args...)
	if types.IsKind(err, types.KindExternalService) {
		wrapped.Status = types.StatusCode(err)
	}

	return wrapped
}
