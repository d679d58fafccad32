package repository

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"

	"github.com/cozy-creator/lineage-server/internal/db/models"
	"github.com/cozy-creator/lineage-server/internal/services/filestorage"
	"github.com/cozy-creator/lineage-server/internal/types"
)

// RecoveredOperation marks versions rebuilt from blob names alone.
const RecoveredOperation = "recovered"

// BlobLister is the part of the blob store the index rebuild needs.
type BlobLister interface {
	List(ctx context.Context) ([]filestorage.StoredFile, error)
	GetFileURL(ctx context.Context, name string) (string, error)
}

type RebuildOptions struct {
	// UserID owns every recovered pipeline.
	UserID string
	// DryRun parses and reports without writing.
	DryRun   bool
	Progress func(done, total int)
}

type RebuildReport struct {
	Pipelines int      `json:"pipelines"`
	Versions  int      `json:"versions"`
	Existing  int      `json:"existing"`
	Skipped   []string `json:"skipped"`
}

// RebuildIndex reconstructs pipelines from the blob names in store.
// Originals are indexed before versions so every version finds its
// pipeline. Recovered versions carry no parent pointer and hang off the
// original in the tree.
func RebuildIndex(ctx context.Context, repo ILineageRepository, store BlobLister, opts RebuildOptions) (*RebuildReport, error) {
	files, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}

	report := &RebuildReport{Skipped: []string{}}
	originals := make([]filestorage.StoredFile, 0, len(files))
	versions := make([]filestorage.StoredFile, 0, len(files))
	parsed := make(map[string]models.StorageNameParts, len(files))

	for _, file := range files {
		parts, err := models.ParseStorageName(file.Name)
		if err != nil {
			report.Skipped = append(report.Skipped, file.Name)
			continue
		}

		parsed[file.Name] = parts
		if parts.IsVersion() {
			versions = append(versions, file)
		} else {
			originals = append(originals, file)
		}
	}

	total := len(originals) + len(versions)
	done := 0
	step := func() {
		done++
		if opts.Progress != nil {
			opts.Progress(done, total)
		}
	}

	known := make(map[string]*models.Pipeline)
	for _, file := range originals {
		step()
		parts := parsed[file.Name]
		existing, err := repo.Get(ctx, opts.UserID, parts.ImageID)
		if err != nil {
			return report, err
		}
		if existing != nil {
			report.Existing++
			known[parts.ImageID] = existing
			continue
		}

		// Get hides pipelines of other users; their blobs are left alone.
		taken, err := repo.Exists(ctx, parts.ImageID)
		if err != nil {
			return report, err
		}
		if taken {
			report.Skipped = append(report.Skipped, file.Name)
			continue
		}

		if opts.DryRun {
			report.Pipelines++
			known[parts.ImageID] = &models.Pipeline{ID: parts.ImageID}
			continue
		}

		pipeline, err := repo.CreateOriginal(ctx, opts.UserID, &models.Pipeline{
			ID:           parts.ImageID,
			OriginalName: parts.Rest,
			StorageName:  file.Name,
			MimeType:     mimeFromName(file.Name),
			ByteSize:     file.Size,
			URL:          fileURL(ctx, store, file.Name),
			Tags:         []string{},
			UploadedAt:   file.ModTime,
		})
		switch {
		case types.IsKind(err, types.KindConflict):
			report.Skipped = append(report.Skipped, file.Name)
		case err != nil:
			return report, fmt.Errorf("failed to index %s: %w", file.Name, err)
		default:
			report.Pipelines++
			known[parts.ImageID] = pipeline
		}
	}

	for _, file := range versions {
		parts := parsed[file.Name]
		pipeline, ok := known[parts.ImageID]

		switch {
		case !ok:
			report.Skipped = append(report.Skipped, file.Name)
		case pipeline.FindVersion(parts.VersionID) != nil:
			report.Existing++
		case opts.DryRun:
			report.Versions++
		default:
			_, err := repo.AppendVersion(ctx, opts.UserID, parts.ImageID, &models.Version{
				ID:          parts.VersionID,
				Operation:   RecoveredOperation,
				AIModel:     RecoveredOperation,
				Parameters:  map[string]any{},
				StorageName: file.Name,
				FileName:    parts.Rest,
				URL:         fileURL(ctx, store, file.Name),
				MimeType:    mimeFromName(file.Name),
				ByteSize:    file.Size,
				CreatedAt:   file.ModTime,
			})
			if err != nil {
				return report, fmt.Errorf("failed to index %s: %w", file.Name, err)
			}
			report.Versions++
		}
		step()
	}

	return report, nil
}

func mimeFromName(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}

	return "application/octet-stream"
}

func fileURL(ctx context.Context, store BlobLister, name string) string {
	url, err := store.GetFileURL(ctx, name)
	if err != nil {
		return ""
	}

	return url
}
