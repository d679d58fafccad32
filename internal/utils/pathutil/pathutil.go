package pathutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

var ErrPathEscapesRoot = errors.New("path escapes root directory")

// ExpandPath expands the path using the user's home directory.
// If the path starts with "~", it is replaced with the user's home directory.
func ExpandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}

		path = filepath.Join(homeDir, path[1:])
	}

	return path, nil
}

// SafeJoin joins name onto root and rejects names that would resolve
// outside of root.
func SafeJoin(root, name string) (string, error) {
	cleaned := filepath.Clean(string(filepath.Separator) + name)
	joined := filepath.Join(root, cleaned)

	rel, err := filepath.Rel(root, joined)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", ErrPathEscapesRoot
	}

	return joined, nil
}

// SplitExt splits a filename into its base name and extension (with dot).
func SplitExt(name string) (string, string) {
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext), ext
}
