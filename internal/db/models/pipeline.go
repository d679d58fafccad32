package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Pipeline is an uploaded original image together with every version
// derived from it. It is owned by exactly one user.
type Pipeline struct {
	bun.BaseModel `bun:"table:pipelines,alias:p"`

	ID                    string     `bun:",pk" json:"id"`
	UserID                string     `bun:",notnull" json:"userId"`
	OriginalName          string     `bun:",notnull" json:"originalName"`
	StorageName           string     `bun:",notnull" json:"storageName"`
	MimeType              string     `bun:",notnull" json:"mimeType"`
	ByteSize              int64      `bun:",notnull" json:"byteSize"`
	Width                 int        `bun:",notnull" json:"width"`
	Height                int        `bun:",notnull" json:"height"`
	ContentHash           string     `bun:",nullzero" json:"contentHash,omitempty"`
	Tags                  []string   `bun:",nullzero" json:"tags"`
	Description           string     `bun:",nullzero" json:"description,omitempty"`
	IsPublic              bool       `bun:",notnull,default:false" json:"isPublic"`
	URL                   string     `bun:"url,nullzero" json:"url"`
	ProcessedVersionCount int        `bun:",notnull,default:0" json:"processedVersionCount"`
	UploadedAt            time.Time  `bun:",nullzero,notnull,default:current_timestamp" json:"uploadedAt"`
	Versions              []*Version `bun:"rel:has-many,join:id=pipeline_id" json:"versions"`
}

// FindVersion returns the version with the given id, or nil.
func (p *Pipeline) FindVersion(id string) *Version {
	for _, v := range p.Versions {
		if v.ID == id {
			return v
		}
	}

	return nil
}
