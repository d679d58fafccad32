package filestorage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cozy-creator/lineage-server/internal/config"

	"go.uber.org/zap"
)

var (
	ErrFileNotFound   = errors.New("file not found")
	ErrEmptyFileName  = errors.New("file name is empty")
	ErrNoPublicURL    = errors.New("cannot infer a public url for stored files")
	ErrInvalidStorage = errors.New("invalid filesystem type")
)

// StoredFile describes a blob after it has been written.
type StoredFile struct {
	Name    string    `json:"name"`
	URL     string    `json:"url"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime,omitempty"`
}

// FileStorage is the blob store behind pipelines and versions. A name
// always resolves to the same bytes for as long as the blob exists.
type FileStorage interface {
	Save(ctx context.Context, content []byte, name, mimeType string) (*StoredFile, error)
	// Read fails with ErrFileNotFound when name does not exist.
	Read(ctx context.Context, name string) ([]byte, error)
	// Delete never fails: missing blobs are not fatal to the caller, so
	// errors are logged and swallowed.
	Delete(ctx context.Context, name string)
	Exists(ctx context.Context, name string) (bool, error)
	GetFileURL(ctx context.Context, name string) (string, error)
	// List enumerates every stored blob. URL is left empty.
	List(ctx context.Context) ([]StoredFile, error)
}

func NewFileStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (FileStorage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch strings.ToLower(cfg.Filesystem) {
	case config.FilesystemLocal, "":
		return NewLocalFileStorage(cfg.AssetsDir, localBaseURL(cfg), logger)
	case config.FilesystemS3:
		return NewS3FileStorage(ctx, cfg.S3, logger)
	case config.FilesystemGCS:
		return NewGCSFileStorage(ctx, cfg.GCS, logger)
	}

	return nil, fmt.Errorf("%w: %s", ErrInvalidStorage, cfg.Filesystem)
}

func localBaseURL(cfg *config.Config) string {
	if cfg.PublicURL != "" {
		return strings.TrimSuffix(cfg.PublicURL, "/")
	}

	return fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
}

func objectKey(folder, name string) string {
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return name
	}

	return folder + "/" + name
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyFileName
	}

	return nil
}
