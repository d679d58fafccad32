package filestorage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cozy-creator/lineage-server/internal/config"

	"cloud.google.com/go/storage"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type GCSFileStorage struct {
	client *storage.Client
	cfg    *config.GCSConfig
	logger *zap.Logger
}

func NewGCSFileStorage(ctx context.Context, cfg *config.GCSConfig, logger *zap.Logger) (*GCSFileStorage, error) {
	if cfg == nil || cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs config is not set")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	return &GCSFileStorage{client: client, cfg: cfg, logger: logger}, nil
}

func (s *GCSFileStorage) Save(ctx context.Context, content []byte, name, mimeType string) (*StoredFile, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if mimeType == "" {
		mimeType = mimetype.Detect(content).String()
	}

	objectPath := objectKey(s.cfg.Folder, name)
	writer := s.bucket().Object(objectPath).NewWriter(ctx)
	writer.ContentType = mimeType
	if s.cfg.PublicRead {
		writer.PredefinedACL = "publicRead"
	}

	if _, err := writer.Write(content); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write GCS object %s: %w", objectPath, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close GCS writer for %s: %w", objectPath, err)
	}

	fileURL, err := s.GetFileURL(ctx, name)
	if err != nil {
		return nil, err
	}

	return &StoredFile{Name: name, URL: fileURL, Size: int64(len(content)), ModTime: time.Now().UTC()}, nil
}

func (s *GCSFileStorage) Read(ctx context.Context, name string) ([]byte, error) {
	reader, err := s.bucket().Object(objectKey(s.cfg.Folder, name)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
		}
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

func (s *GCSFileStorage) Delete(ctx context.Context, name string) {
	objectPath := objectKey(s.cfg.Folder, name)
	if err := s.bucket().Object(objectPath).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			s.logger.Debug("object already deleted", zap.String("object", objectPath))
			return
		}
		s.logger.Warn("failed to delete object", zap.String("object", objectPath), zap.Error(err))
	}
}

func (s *GCSFileStorage) Exists(ctx context.Context, name string) (bool, error) {
	if _, err := s.bucket().Object(objectKey(s.cfg.Folder, name)).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

func (s *GCSFileStorage) GetFileURL(_ context.Context, name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	objectPath := objectKey(s.cfg.Folder, name)
	if s.cfg.PublicRead {
		return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.cfg.Bucket, objectPath), nil
	}

	expiry := s.cfg.SignedURLExpiry
	if expiry <= 0 {
		expiry = config.DefaultSignedURLExpiry
	}

	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(expiry),
	}
	signedURL, err := s.bucket().SignedURL(objectPath, opts)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoPublicURL, err)
	}

	return signedURL, nil
}

func (s *GCSFileStorage) List(ctx context.Context) ([]StoredFile, error) {
	prefix := ""
	if folder := strings.Trim(s.cfg.Folder, "/"); folder != "" {
		prefix = folder + "/"
	}

	var files []StoredFile
	it := s.bucket().Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}

		name := strings.TrimPrefix(attrs.Name, prefix)
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		files = append(files, StoredFile{Name: name, Size: attrs.Size, ModTime: attrs.Updated})
	}

	return files, nil
}

func (s *GCSFileStorage) Close() error {
	return s.client.Close()
}

func (s *GCSFileStorage) bucket() *storage.BucketHandle {
	return s.client.Bucket(s.cfg.Bucket)
}
