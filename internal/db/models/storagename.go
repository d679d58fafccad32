package models

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const versionNamePrefix = "v-"

var ErrMalformedStorageName = errors.New("malformed storage name")

// StorageNameParts is what can be recovered from a blob name alone.
type StorageNameParts struct {
	ImageID   string
	VersionID string
	Rest      string
}

func (p StorageNameParts) IsVersion() bool {
	return p.VersionID != ""
}

// OriginalStorageName embeds the image id before the first underscore so a
// blob can be reassociated with its pipeline without the database.
func OriginalStorageName(imageID, base, ext string) string {
	return imageID + "_" + base + ext
}

func VersionStorageName(imageID, versionID, base, ext string) string {
	return imageID + "_" + versionNamePrefix + versionID + "_" + base + ext
}

func ParseStorageName(name string) (StorageNameParts, error) {
	imageID, rest, ok := strings.Cut(name, "_")
	if !ok || imageID == "" || rest == "" || strings.ContainsAny(imageID, "./") {
		return StorageNameParts{}, ErrMalformedStorageName
	}

	parts := StorageNameParts{ImageID: imageID, Rest: rest}
	if !strings.HasPrefix(rest, versionNamePrefix) {
		return parts, nil
	}

	versionID, tail, ok := strings.Cut(strings.TrimPrefix(rest, versionNamePrefix), "_")
	if !ok || uuid.Validate(versionID) != nil {
		// An original whose sanitized name happens to start with "v-".
		return parts, nil
	}

	parts.VersionID = versionID
	parts.Rest = tail
	return parts, nil
}
