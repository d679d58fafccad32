package drivers

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
)

type SQLiteDriver struct {
	db *bun.DB
}

// NewSQLiteDriver opens a local SQLite file through sqliteshim, which picks
// the cgo or pure-Go driver available at build time.
func NewSQLiteDriver(ctx context.Context, dsn string) (*SQLiteDriver, error) {
	if err := ensureSQLiteDir(dsn); err != nil {
		return nil, err
	}

	return openSQLite(ctx, sqliteshim.ShimName, dsn)
}

// NewLibSQLDriver connects to a remote libSQL (Turso) database. The wire
// dialect is SQLite.
func NewLibSQLDriver(ctx context.Context, dsn string) (*SQLiteDriver, error) {
	return openSQLite(ctx, "libsql", dsn)
}

func openSQLite(ctx context.Context, name, dsn string) (*SQLiteDriver, error) {
	sqldb, err := sql.Open(name, dsn)
	if err != nil {
		return nil, err
	}

	if err := sqldb.PingContext(ctx); err != nil {
		sqldb.Close()
		return nil, err
	}

	return &SQLiteDriver{db: bun.NewDB(sqldb, sqlitedialect.New())}, nil
}

func ensureSQLiteDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || strings.Contains(path, ":memory:") {
		return nil
	}

	return os.MkdirAll(filepath.Dir(path), os.ModePerm)
}

func (d *SQLiteDriver) GetDB() *bun.DB {
	return d.db
}

func (d *SQLiteDriver) Close() error {
	return d.db.Close()
}
