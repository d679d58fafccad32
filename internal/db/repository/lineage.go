package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cozy-creator/lineage-server/internal/db/models"
	"github.com/cozy-creator/lineage-server/internal/types"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

type LineageRepository struct {
	db     bun.IDB
	logger *zap.Logger
}

func NewLineageRepository(db *bun.DB, logger *zap.Logger) ILineageRepository {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &LineageRepository{db: db, logger: logger}
}

func (r *LineageRepository) WithTx(tx *bun.Tx) ILineageRepository {
	return &LineageRepository{db: tx, logger: r.logger}
}

func (r *LineageRepository) CreateOriginal(ctx context.Context, userID string, pipeline *models.Pipeline) (*models.Pipeline, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline model is nil")
	}
	if pipeline.ID == "" {
		return nil, types.NewValidationError("pipeline id is required")
	}

	pipeline.UserID = userID
	pipeline.ProcessedVersionCount = 0
	pipeline.Versions = nil
	if pipeline.UploadedAt.IsZero() {
		pipeline.UploadedAt = time.Now().UTC()
	}

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().Model((*models.Pipeline)(nil)).Where("id = ?", pipeline.ID).Exists(ctx)
		if err != nil {
			return err
		}
		if exists {
			return types.NewConflictError("pipeline %s already exists", pipeline.ID)
		}

		_, err = tx.NewInsert().Model(pipeline).Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	ensureSlices(pipeline)
	return pipeline, nil
}

func (r *LineageRepository) AppendVersion(ctx context.Context, userID, imageID string, version *models.Version) (*models.Version, error) {
	if version == nil {
		return nil, fmt.Errorf("version model is nil")
	}

	if version.ID == "" {
		version.ID = uuid.NewString()
	}
	version.PipelineID = imageID
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := checkOwner(ctx, tx, userID, imageID); err != nil {
			return err
		}

		if parent := version.SourceProcessedVersionID; parent != "" {
			exists, err := tx.NewSelect().
				Model((*models.Version)(nil)).
				Where("id = ?", parent).
				Where("pipeline_id = ?", imageID).
				Exists(ctx)
			if err != nil {
				return err
			}
			if !exists {
				return types.NewValidationError("source version %s does not belong to pipeline %s", parent, imageID)
			}
		}

		if _, err := tx.NewInsert().Model(version).Exec(ctx); err != nil {
			return err
		}

		// Counter bookkeeping is a single UPDATE so concurrent appends never
		// lose an increment.
		_, err := tx.NewUpdate().
			Model((*models.Pipeline)(nil)).
			Set("processed_version_count = processed_version_count + 1").
			Where("id = ?", imageID).
			Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	return version, nil
}

func (r *LineageRepository) Get(ctx context.Context, userID, imageID string) (*models.Pipeline, error) {
	pipeline := new(models.Pipeline)
	err := r.db.NewSelect().
		Model(pipeline).
		Relation("Versions", orderVersions).
		Where("p.id = ?", imageID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if pipeline.UserID != userID {
		return nil, nil
	}

	ensureSlices(pipeline)
	return pipeline, nil
}

func (r *LineageRepository) Exists(ctx context.Context, imageID string) (bool, error) {
	return r.db.NewSelect().
		Model((*models.Pipeline)(nil)).
		Where("p.id = ?", imageID).
		Exists(ctx)
}

func (r *LineageRepository) ListAll(ctx context.Context, userID string) ([]*models.Pipeline, error) {
	var pipelines []*models.Pipeline
	err := r.db.NewSelect().
		Model(&pipelines).
		Relation("Versions", orderVersions).
		Where("p.user_id = ?", userID).
		OrderExpr("p.uploaded_at DESC").
		Scan(ctx)
	if err != nil {
		r.logger.Warn("ordered pipeline listing failed, falling back to in-memory sort",
			zap.String("user_id", userID),
			zap.Error(err))

		pipelines, err = r.listUnordered(ctx, userID)
		if err != nil {
			return nil, err
		}
		sortNewestFirst(pipelines)
	}

	for _, p := range pipelines {
		ensureSlices(p)
	}

	return pipelines, nil
}

func (r *LineageRepository) listUnordered(ctx context.Context, userID string) ([]*models.Pipeline, error) {
	var pipelines []*models.Pipeline
	err := r.db.NewSelect().
		Model(&pipelines).
		Relation("Versions").
		Where("p.user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	for _, p := range pipelines {
		sortVersions(p.Versions)
	}

	return pipelines, nil
}

func (r *LineageRepository) DeleteVersion(ctx context.Context, userID, imageID, versionID string) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := checkOwner(ctx, tx, userID, imageID); err != nil {
			return err
		}

		result, err := tx.NewDelete().
			Model((*models.Version)(nil)).
			Where("id = ?", versionID).
			Where("pipeline_id = ?", imageID).
			Exec(ctx)
		if err != nil {
			return err
		}

		if n, err := result.RowsAffected(); err == nil && n == 0 {
			return types.NewNotFoundError("version %s not found", versionID)
		}

		_, err = tx.NewUpdate().
			Model((*models.Pipeline)(nil)).
			Set("processed_version_count = processed_version_count - 1").
			Where("id = ?", imageID).
			Where("processed_version_count > 0").
			Exec(ctx)
		return err
	})
}

func (r *LineageRepository) DeletePipeline(ctx context.Context, userID, imageID string) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := checkOwner(ctx, tx, userID, imageID); err != nil {
			return err
		}

		if _, err := tx.NewDelete().Model((*models.Version)(nil)).Where("pipeline_id = ?", imageID).Exec(ctx); err != nil {
			return err
		}

		_, err := tx.NewDelete().Model((*models.Pipeline)(nil)).Where("id = ?", imageID).Exec(ctx)
		return err
	})
}

func checkOwner(ctx context.Context, db bun.IDB, userID, imageID string) error {
	var owner string
	err := db.NewSelect().
		Model((*models.Pipeline)(nil)).
		Column("user_id").
		Where("id = ?", imageID).
		Scan(ctx, &owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.NewNotFoundError("pipeline %s not found", imageID)
		}
		return err
	}

	if owner != userID {
		return types.NewUnauthorizedError("pipeline %s is not owned by the caller", imageID)
	}

	return nil
}

func orderVersions(q *bun.SelectQuery) *bun.SelectQuery {
	return q.OrderExpr("created_at ASC")
}

// ensureSlices gives nil collections their empty form; bun reads an empty
// tag list back as NULL.
func ensureSlices(p *models.Pipeline) {
	if p.Versions == nil {
		p.Versions = []*models.Version{}
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
}
