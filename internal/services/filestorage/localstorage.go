package filestorage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"

	"github.com/cozy-creator/lineage-server/internal/utils/pathutil"

	"go.uber.org/zap"
)

// LocalFilePath is the route local blobs are served from.
const LocalFilePath = "/file"

type LocalFileStorage struct {
	assetsDir string
	baseURL   string
	logger    *zap.Logger
}

func NewLocalFileStorage(assetsDir, baseURL string, logger *zap.Logger) (*LocalFileStorage, error) {
	if assetsDir == "" {
		return nil, fmt.Errorf("assets directory is not set")
	}
	if err := os.MkdirAll(assetsDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create assets directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &LocalFileStorage{
		assetsDir: assetsDir,
		baseURL:   baseURL,
		logger:    logger,
	}, nil
}

func (s *LocalFileStorage) Save(ctx context.Context, content []byte, name, mimeType string) (*StoredFile, error) {
	filedest, err := s.resolve(name)
	if err != nil {
		return nil, err
	}

	// Write to a sibling temp file first so readers never observe a
	// partially written blob.
	tmp, err := os.CreateTemp(s.assetsDir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp.Name(), filedest); err != nil {
		return nil, fmt.Errorf("failed to move file into place: %w", err)
	}

	fileURL, err := s.GetFileURL(ctx, name)
	if err != nil {
		return nil, err
	}

	return &StoredFile{Name: name, URL: fileURL, Size: int64(len(content))}, nil
}

func (s *LocalFileStorage) Read(_ context.Context, name string) ([]byte, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
		}
		return nil, err
	}

	return content, nil
}

func (s *LocalFileStorage) Delete(_ context.Context, name string) {
	path, err := s.resolve(name)
	if err != nil {
		s.logger.Warn("refusing to delete file", zap.String("name", name), zap.Error(err))
		return
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("file already deleted", zap.String("name", name))
			return
		}
		s.logger.Warn("failed to delete file", zap.String("name", name), zap.Error(err))
	}
}

func (s *LocalFileStorage) Exists(_ context.Context, name string) (bool, error) {
	path, err := s.resolve(name)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

func (s *LocalFileStorage) GetFileURL(_ context.Context, name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	return fmt.Sprintf("%s%s/%s", s.baseURL, LocalFilePath, url.PathEscape(name)), nil
}

func (s *LocalFileStorage) List(_ context.Context) ([]StoredFile, error) {
	entries, err := os.ReadDir(s.assetsDir)
	if err != nil {
		return nil, err
	}

	files := make([]StoredFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || entry.Name()[0] == '.' {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, StoredFile{Name: entry.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	return files, nil
}

// ResolveFile returns the absolute path of a stored blob, for serving it
// over HTTP.
func (s *LocalFileStorage) ResolveFile(name string) (string, error) {
	path, err := s.resolve(name)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrFileNotFound
		}
		return "", err
	}

	return path, nil
}

func (s *LocalFileStorage) resolve(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	return pathutil.SafeJoin(s.assetsDir, filepath.Base(name))
}
