package prompt

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// AngleParameter is the key under which the resolved angle is persisted in
// a version's parameters.
const AngleParameter = "angle"

var degreePattern = regexp.MustCompile(`(?i)(-?\d+(?:\.\d+)?)\s*(?:°|deg(?:rees?)?\b)`)

type phrase struct {
	words []string
	angle float64
}

// Checked in order; more specific phrases come first.
var anglePhrases = []phrase{
	{[]string{"rear", "three-quarter", "left"}, 225},
	{[]string{"rear", "three-quarter", "right"}, 135},
	{[]string{"three-quarter", "left"}, 315},
	{[]string{"three-quarter", "right"}, 45},
	{[]string{"left", "profile"}, 270},
	{[]string{"right", "profile"}, 90},
	{[]string{"back view"}, 180},
	{[]string{"from behind"}, 180},
	{[]string{"front view"}, 0},
}

// ExtractAngle recovers the angle a version was made with. It prefers the
// persisted parameter, then an explicit degree token in the prompt, then
// the canonical instruction text, then looser pose keywords.
func ExtractAngle(parameters map[string]any, prompt string) (float64, bool) {
	if angle, ok := angleParameter(parameters); ok {
		return angle, true
	}

	if match := degreePattern.FindStringSubmatch(prompt); match != nil {
		if angle, err := strconv.ParseFloat(match[1], 64); err == nil {
			return angle, true
		}
	}

	lower := strings.ToLower(prompt)
	if lower == "" {
		return 0, false
	}

	for _, canonical := range CanonicalAngles {
		if strings.Contains(lower, rotationPrompts[canonical]) {
			return canonical, true
		}
	}

	for _, p := range anglePhrases {
		if containsAll(lower, p.words) {
			return p.angle, true
		}
	}

	return 0, false
}

func angleParameter(parameters map[string]any) (float64, bool) {
	raw, ok := parameters[AngleParameter]
	if !ok || raw == nil {
		return 0, false
	}

	var angle float64
	switch v := raw.(type) {
	case float64:
		angle = v
	case float32:
		angle = float64(v)
	case int:
		angle = float64(v)
	case int64:
		angle = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		angle = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		angle = f
	default:
		return 0, false
	}

	if math.IsNaN(angle) || math.IsInf(angle, 0) {
		return 0, false
	}

	return angle, true
}

func containsAll(s string, words []string) bool {
	for _, w := range words {
		if !strings.Contains(s, w) {
			return false
		}
	}

	return true
}
