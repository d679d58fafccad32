package db

import (
	"context"
	"fmt"

	"github.com/cozy-creator/lineage-server/internal/config"
	"github.com/cozy-creator/lineage-server/internal/db/drivers"

	"github.com/uptrace/bun/extra/bundebug"
)

func NewConnection(ctx context.Context, config *config.Config) (drivers.Driver, error) {
	if config.DB == nil {
		return nil, fmt.Errorf("database config is not set")
	}

	var (
		driver drivers.Driver
		err    error
	)
	switch config.DB.Driver {
	case "sqlite":
		driver, err = drivers.NewSQLiteDriver(ctx, config.DB.DSN)
	case "libsql":
		driver, err = drivers.NewLibSQLDriver(ctx, config.DB.DSN)
	case "pg", "postgres":
		driver, err = drivers.NewPGDriver(ctx, config.DB.DSN)
	default:
		return nil, fmt.Errorf("invalid database driver: %s", config.DB.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", config.DB.Driver, err)
	}

	driver.GetDB().AddQueryHook(bundebug.NewQueryHook(
		bundebug.WithEnabled(config.DB.Debug),
		bundebug.FromEnv("BUNDEBUG"),
	))

	return driver, nil
}
