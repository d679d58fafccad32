package pipeline

import (
	"context"
	"sort"
	"strings"

	"github.com/cozy-creator/lineage-server/internal/db/models"
	"github.com/cozy-creator/lineage-server/internal/types"
)

// ProcessedVersion is a version listed outside its pipeline.
type ProcessedVersion struct {
	*models.Version
	ImageID      string `json:"imageId"`
	OriginalName string `json:"originalName"`
}

type VersionFilter struct {
	AIModel             string
	MinProcessingTimeMs *int64
	MaxProcessingTimeMs *int64
}

func (f VersionFilter) matches(v *models.Version) bool {
	if f.AIModel != "" && !strings.EqualFold(f.AIModel, v.AIModel) && !strings.EqualFold(f.AIModel, v.Operation) {
		return false
	}
	if f.MinProcessingTimeMs != nil && v.ProcessingTimeMs < *f.MinProcessingTimeMs {
		return false
	}
	if f.MaxProcessingTimeMs != nil && v.ProcessingTimeMs > *f.MaxProcessingTimeMs {
		return false
	}

	return true
}

// List pages through the caller's pipelines, newest first. filter is a
// case-insensitive substring match over name and mime type.
func (s *Service) List(ctx context.Context, userID string, pagination types.Pagination, filter string) (types.Page[*models.Pipeline], error) {
	if err := requireUser(userID); err != nil {
		return types.Page[*models.Pipeline]{}, err
	}

	pipelines, err := s.repo.ListAll(ctx, userID)
	if err != nil {
		return types.Page[*models.Pipeline]{}, processingFailed(err, "failed to list images")
	}

	if filter = strings.ToLower(strings.TrimSpace(filter)); filter != "" {
		matched := pipelines[:0]
		for _, p := range pipelines {
			if strings.Contains(strings.ToLower(p.OriginalName), filter) || strings.Contains(strings.ToLower(p.MimeType), filter) {
				matched = append(matched, p)
			}
		}
		pipelines = matched
	}

	page := types.Paginate(pipelines, pagination)
	for _, p := range page.Items {
		s.resolveURLs(ctx, p)
	}

	return page, nil
}

func (s *Service) ListProcessedVersions(ctx context.Context, userID string, pagination types.Pagination, filter VersionFilter) (types.Page[ProcessedVersion], error) {
	if err := requireUser(userID); err != nil {
		return types.Page[ProcessedVersion]{}, err
	}

	pipelines, err := s.repo.ListAll(ctx, userID)
	if err != nil {
		return types.Page[ProcessedVersion]{}, processingFailed(err, "failed to list processed versions")
	}

	versions := make([]ProcessedVersion, 0)
	for _, p := range pipelines {
		for _, v := range p.Versions {
			if !filter.matches(v) {
				continue
			}
			if v.URL == "" {
				v.URL = s.fileURL(ctx, v.StorageName)
			}
			versions = append(versions, ProcessedVersion{Version: v, ImageID: p.ID, OriginalName: p.OriginalName})
		}
	}

	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].CreatedAt.After(versions[j].CreatedAt)
	})

	return types.Paginate(versions, pagination), nil
}
