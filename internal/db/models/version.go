package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Version is the output of one AI transform. Exactly one of SourceImageID
// and SourceProcessedVersionID is normally set; records written before
// parentage was tracked carry neither.
type Version struct {
	bun.BaseModel `bun:"table:versions,alias:v"`

	ID                       string         `bun:",pk" json:"id"`
	PipelineID               string         `bun:",notnull" json:"pipelineId"`
	Operation                string         `bun:",notnull" json:"operation"`
	AIModel                  string         `bun:"ai_model,notnull" json:"aiModel"`
	Parameters               map[string]any `bun:",nullzero" json:"parameters"`
	StorageName              string         `bun:",notnull" json:"storageName"`
	FileName                 string         `bun:",nullzero" json:"fileName,omitempty"`
	URL                      string         `bun:"url,nullzero" json:"url"`
	MimeType                 string         `bun:",nullzero" json:"mimeType,omitempty"`
	ByteSize                 int64          `bun:",notnull" json:"byteSize"`
	ContentHash              string         `bun:",nullzero" json:"contentHash,omitempty"`
	ProcessingTimeMs         int64          `bun:",notnull" json:"processingTimeMs"`
	RequestID                string         `bun:",nullzero" json:"requestId,omitempty"`
	SourceImageID            string         `bun:",nullzero" json:"sourceImageId,omitempty"`
	SourceProcessedVersionID string         `bun:",nullzero" json:"sourceProcessedVersionId,omitempty"`
	CreatedAt                time.Time      `bun:",nullzero,notnull,default:current_timestamp" json:"createdAt"`
}

// ParentID is the id this version names as its direct parent, or "" when
// no source pointer is recorded.
func (v *Version) ParentID() string {
	if v.SourceProcessedVersionID != "" {
		return v.SourceProcessedVersionID
	}

	return v.SourceImageID
}
