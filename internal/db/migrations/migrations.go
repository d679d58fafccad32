package migrations

import (
	"context"
	"fmt"

	"github.com/cozy-creator/lineage-server/internal/db/models"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

var Migrations = migrate.NewMigrations()

// CreateSchema creates the lineage tables and indexes when they do not
// exist yet. Registered as the first migration and also called directly on
// startup for SQLite deployments that never run `db migration migrate`.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	tables := []interface{}{
		(*models.Pipeline)(nil),
		(*models.Version)(nil),
	}

	for _, table := range tables {
		if _, err := db.NewCreateTable().Model(table).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	if _, err := db.NewCreateIndex().
		Model((*models.Pipeline)(nil)).
		Index("pipelines_user_uploaded_idx").
		Column("user_id", "uploaded_at").
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create pipelines index: %w", err)
	}

	if _, err := db.NewCreateIndex().
		Model((*models.Version)(nil)).
		Index("versions_pipeline_idx").
		Column("pipeline_id", "created_at").
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create versions index: %w", err)
	}

	return nil
}

func DropSchema(ctx context.Context, db bun.IDB) error {
	for _, table := range []interface{}{(*models.Version)(nil), (*models.Pipeline)(nil)} {
		if _, err := db.NewDropTable().Model(table).IfExists().Exec(ctx); err != nil {
			return err
		}
	}

	return nil
}
