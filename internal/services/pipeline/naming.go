package pipeline

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/cozy-creator/lineage-server/internal/utils/pathutil"
)

const (
	maxBaseNameLength = 50
	fallbackBaseName  = "image"
)

var aiModelNames = map[string]string{
	"nano-banana-edit": "Nano Banana",
	"qwen-image-edit":  "Qwen Image Edit",
	"seedream-edit":    "Seedream",
	"flux-kontext":     "Flux Kontext",
	"clarity-upscale":  "Clarity Upscaler",
	"esrgan-upscale":   "ESRGAN",
}

// AIModelName is the short display name for an operation key. Unknown keys
// fall back to the part before the first hyphen.
func AIModelName(operation string) string {
	if name, ok := aiModelNames[operation]; ok {
		return name
	}

	prefix, _, _ := strings.Cut(operation, "-")
	return prefix
}

// SanitizeBaseName keeps letters, digits, hyphens, underscores and spaces,
// turns runs of spaces into single hyphens and caps the result at 50
// characters.
func SanitizeBaseName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == ' ') {
			b.WriteRune(r)
		}
	}

	sanitized := strings.Join(strings.Fields(b.String()), "-")
	if len(sanitized) > maxBaseNameLength {
		sanitized = sanitized[:maxBaseNameLength]
	}
	sanitized = strings.Trim(sanitized, "-_")

	if sanitized == "" {
		return fallbackBaseName
	}

	return sanitized
}

// SmartFileName builds a readable name for a version without extension,
// e.g. "cat_Nano-Banana_90deg".
func SmartFileName(originalName, aiModel string, angle *float64) string {
	base, _ := pathutil.SplitExt(originalName)

	parts := []string{SanitizeBaseName(base)}
	if aiModel != "" {
		parts = append(parts, SanitizeBaseName(aiModel))
	}
	if angle != nil {
		parts = append(parts, fmt.Sprintf("%ddeg", int(math.Round(*angle))))
	}

	return strings.Join(parts, "_")
}
