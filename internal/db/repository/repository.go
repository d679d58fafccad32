package repository

import (
	"context"
	"sort"

	"github.com/cozy-creator/lineage-server/internal/db/models"
)

// ILineageRepository persists one pipeline per (user, image) pair with its
// versions. Every operation is scoped by the caller's user id.
type ILineageRepository interface {
	// CreateOriginal stores a new pipeline owned by userID. Fails with a
	// conflict error when the id is already taken.
	CreateOriginal(ctx context.Context, userID string, pipeline *models.Pipeline) (*models.Pipeline, error)
	// AppendVersion adds a version and increments the pipeline's counter.
	AppendVersion(ctx context.Context, userID, imageID string, version *models.Version) (*models.Version, error)
	// Get returns nil, nil when the pipeline is absent or owned by someone else.
	Get(ctx context.Context, userID, imageID string) (*models.Pipeline, error)
	// Exists reports whether imageID is taken by any user.
	Exists(ctx context.Context, imageID string) (bool, error)
	// ListAll returns every pipeline owned by userID, newest upload first.
	ListAll(ctx context.Context, userID string) ([]*models.Pipeline, error)
	DeleteVersion(ctx context.Context, userID, imageID, versionID string) error
	DeletePipeline(ctx context.Context, userID, imageID string) error
}

func sortNewestFirst(pipelines []*models.Pipeline) {
	sort.SliceStable(pipelines, func(i, j int) bool {
		a, b := pipelines[i], pipelines[j]
		if a.UploadedAt.Equal(b.UploadedAt) {
			return a.ID > b.ID
		}
		return a.UploadedAt.After(b.UploadedAt)
	})
}

func sortVersions(versions []*models.Version) {
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].CreatedAt.Before(versions[j].CreatedAt)
	})
}
