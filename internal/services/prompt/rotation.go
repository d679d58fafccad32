// Package prompt turns rotation angles into short edit instructions and
// recovers angles from stored parameters and prompt text.
package prompt

import (
	"math"
	"strings"
)

// CanonicalAngles are the orientations every requested angle snaps to, in
// tie-break order.
var CanonicalAngles = []float64{0, 45, 90, 135, 180, 225, 270, 315}

// Kept short: long pose prompts trip content-policy rejections upstream.
var rotationPrompts = map[float64]string{
	0:   "front view of the subject, facing the camera",
	45:  "front three-quarter view of the subject, turned slightly to the right",
	90:  "right side profile view of the subject",
	135: "rear three-quarter view of the subject, turned away to the right",
	180: "back view of the subject, facing away from the camera",
	225: "rear three-quarter view of the subject, turned away to the left",
	270: "left side profile view of the subject",
	315: "front three-quarter view of the subject, turned slightly to the left",
}

// NormalizeAngle maps any angle into [0, 360).
func NormalizeAngle(angle float64) float64 {
	normalized := math.Mod(angle, 360)
	if normalized < 0 {
		normalized += 360
	}
	if normalized >= 360 {
		normalized = 0
	}

	return normalized
}

// SnapAngle returns the canonical angle closest to angle on the circle.
// On an exact tie the earlier entry of CanonicalAngles wins.
func SnapAngle(angle float64) float64 {
	normalized := NormalizeAngle(angle)

	best := CanonicalAngles[0]
	bestDistance := circularDistance(normalized, best)
	for _, candidate := range CanonicalAngles[1:] {
		if d := circularDistance(normalized, candidate); d < bestDistance {
			best, bestDistance = candidate, d
		}
	}

	return best
}

func RotationPrompt(angle float64) string {
	return rotationPrompts[SnapAngle(angle)]
}

// FinalPrompt joins the rotation instruction for angle with the caller's
// own text. A nil angle leaves only the custom prompt.
func FinalPrompt(angle *float64, customPrompt string) string {
	parts := make([]string, 0, 2)
	if angle != nil {
		parts = append(parts, RotationPrompt(*angle))
	}
	if custom := strings.TrimSpace(customPrompt); custom != "" {
		parts = append(parts, custom)
	}

	return strings.Join(parts, ", ")
}

func circularDistance(a, b float64) float64 {
	d := math.Abs(a - b)
	return math.Min(d, 360-d)
}
