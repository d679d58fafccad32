package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cozy-creator/lineage-server/internal/db/models"
	"github.com/cozy-creator/lineage-server/internal/types"
	"github.com/cozy-creator/lineage-server/internal/utils/jsonutil"

	"github.com/google/uuid"
)

var _ ILineageRepository = (*MemoryLineageRepository)(nil)

// MemoryLineageRepository keeps pipelines in a process-local map keyed by
// id. Its contents do not survive a restart unless RebuildIndex is run
// against the blob store.
type MemoryLineageRepository struct {
	mu        sync.RWMutex
	pipelines map[string]*models.Pipeline
}

func NewMemoryLineageRepository() *MemoryLineageRepository {
	return &MemoryLineageRepository{pipelines: make(map[string]*models.Pipeline)}
}

func (r *MemoryLineageRepository) CreateOriginal(_ context.Context, userID string, pipeline *models.Pipeline) (*models.Pipeline, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline model is nil")
	}
	if pipeline.ID == "" {
		return nil, types.NewValidationError("pipeline id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pipelines[pipeline.ID]; ok {
		return nil, types.NewConflictError("pipeline %s already exists", pipeline.ID)
	}

	stored := copyPipeline(pipeline)
	stored.UserID = userID
	stored.ProcessedVersionCount = 0
	stored.Versions = []*models.Version{}
	if stored.UploadedAt.IsZero() {
		stored.UploadedAt = time.Now().UTC()
	}
	r.pipelines[stored.ID] = stored

	return copyPipeline(stored), nil
}

func (r *MemoryLineageRepository) AppendVersion(_ context.Context, userID, imageID string, version *models.Version) (*models.Version, error) {
	if version == nil {
		return nil, fmt.Errorf("version model is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pipeline, err := r.owned(userID, imageID)
	if err != nil {
		return nil, err
	}

	if parent := version.SourceProcessedVersionID; parent != "" && pipeline.FindVersion(parent) == nil {
		return nil, types.NewValidationError("source version %s does not belong to pipeline %s", parent, imageID)
	}

	stored := copyVersion(version)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	stored.PipelineID = imageID
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	pipeline.Versions = append(pipeline.Versions, stored)
	pipeline.ProcessedVersionCount++

	return copyVersion(stored), nil
}

func (r *MemoryLineageRepository) Get(_ context.Context, userID, imageID string) (*models.Pipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pipeline, ok := r.pipelines[imageID]
	if !ok || pipeline.UserID != userID {
		return nil, nil
	}

	return copyPipeline(pipeline), nil
}

func (r *MemoryLineageRepository) Exists(_ context.Context, imageID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.pipelines[imageID]
	return ok, nil
}

func (r *MemoryLineageRepository) ListAll(_ context.Context, userID string) ([]*models.Pipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pipelines := make([]*models.Pipeline, 0)
	for _, p := range r.pipelines {
		if p.UserID == userID {
			pipelines = append(pipelines, copyPipeline(p))
		}
	}
	sortNewestFirst(pipelines)

	return pipelines, nil
}

func (r *MemoryLineageRepository) DeleteVersion(_ context.Context, userID, imageID, versionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pipeline, err := r.owned(userID, imageID)
	if err != nil {
		return err
	}

	for i, v := range pipeline.Versions {
		if v.ID == versionID {
			pipeline.Versions = append(pipeline.Versions[:i], pipeline.Versions[i+1:]...)
			if pipeline.ProcessedVersionCount > 0 {
				pipeline.ProcessedVersionCount--
			}
			return nil
		}
	}

	return types.NewNotFoundError("version %s not found", versionID)
}

func (r *MemoryLineageRepository) DeletePipeline(_ context.Context, userID, imageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.owned(userID, imageID); err != nil {
		return err
	}

	delete(r.pipelines, imageID)
	return nil
}

// Len reports how many pipelines are indexed, across all users.
func (r *MemoryLineageRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.pipelines)
}

// owned must be called with r.mu held.
func (r *MemoryLineageRepository) owned(userID, imageID string) (*models.Pipeline, error) {
	pipeline, ok := r.pipelines[imageID]
	if !ok {
		return nil, types.NewNotFoundError("pipeline %s not found", imageID)
	}
	if pipeline.UserID != userID {
		return nil, types.NewUnauthorizedError("pipeline %s is not owned by the caller", imageID)
	}

	return pipeline, nil
}

func copyPipeline(p *models.Pipeline) *models.Pipeline {
	cp := *p
	cp.Tags = append([]string{}, p.Tags...)
	cp.Versions = make([]*models.Version, 0, len(p.Versions))
	for _, v := range p.Versions {
		cp.Versions = append(cp.Versions, copyVersion(v))
	}

	return &cp
}

func copyVersion(v *models.Version) *models.Version {
	cp := *v
	cp.Parameters = jsonutil.Clone(v.Parameters)
	return &cp
}
