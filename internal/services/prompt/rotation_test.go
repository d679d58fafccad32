package prompt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotationPrompt_Periodic(t *testing.T) {
	for a := -720.0; a <= 720; a += 7.5 {
		expected := RotationPrompt(a)
		assert.Equal(t, expected, RotationPrompt(a+360), "angle %v", a)
		assert.Equal(t, expected, RotationPrompt(a-360), "angle %v", a)
	}
}

func TestSnapAngle_WithinHalfStep(t *testing.T) {
	for a := 0.0; a < 360; a += 0.5 {
		snapped := SnapAngle(a)
		assert.LessOrEqual(t, circularDistance(a, snapped), 22.5, "angle %v snapped to %v", a, snapped)
	}
}

func TestSnapAngle_TieBreak(t *testing.T) {
	tests := []struct {
		angle    float64
		expected float64
	}{
		{22, 0},
		{22.5, 0},
		{23, 45},
		{67.5, 45},
		{337.5, 0},
		{-22.5, 0},
		{359, 0},
		{-90, 270},
		{450, 90},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, SnapAngle(tt.angle), "angle %v", tt.angle)
	}

	assert.NotEqual(t, RotationPrompt(22), RotationPrompt(23))
}

func TestRotationPrompt_Deterministic(t *testing.T) {
	for _, a := range []float64{0, 13, 90, 181, 300} {
		first := RotationPrompt(a)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, RotationPrompt(a))
		}
		assert.NotEmpty(t, first)
	}
}

func TestFinalPrompt(t *testing.T) {
	angle := 90.0
	assert.Equal(t, "right side profile view of the subject", FinalPrompt(&angle, ""))
	assert.Equal(t, "right side profile view of the subject, studio lighting", FinalPrompt(&angle, " studio lighting "))
	assert.Equal(t, "studio lighting", FinalPrompt(nil, "studio lighting"))
	assert.Equal(t, "", FinalPrompt(nil, "   "))
}

func TestExtractAngle_RoundTrip(t *testing.T) {
	for _, canonical := range CanonicalAngles {
		params := map[string]any{AngleParameter: canonical, "prompt": FinalPrompt(&canonical, "")}

		angle, ok := ExtractAngle(params, "")
		require.True(t, ok)
		assert.Equal(t, canonical, angle)

		// The same value survives a JSON round trip through storage.
		data, err := json.Marshal(params)
		require.NoError(t, err)
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(data, &decoded))
		angle, ok = ExtractAngle(decoded, "")
		require.True(t, ok)
		assert.Equal(t, canonical, angle)

		// Without the parameter the canonical text alone identifies it.
		angle, ok = ExtractAngle(nil, FinalPrompt(&canonical, "keep colours"))
		require.True(t, ok)
		assert.Equal(t, canonical, angle)
	}
}

func TestExtractAngle_FromText(t *testing.T) {
	tests := []struct {
		prompt   string
		expected float64
		ok       bool
	}{
		{"rotate 30 degrees", 30, true},
		{"turn it 120° please", 120, true},
		{"show 45deg", 45, true},
		{"a LEFT profile shot", 270, true},
		{"photo from behind", 180, true},
		{"make it blue", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		angle, ok := ExtractAngle(nil, tt.prompt)
		assert.Equal(t, tt.ok, ok, tt.prompt)
		if tt.ok {
			assert.Equal(t, tt.expected, angle, tt.prompt)
		}
	}

	angle, ok := ExtractAngle(map[string]any{AngleParameter: "135"}, "")
	require.True(t, ok)
	assert.Equal(t, 135.0, angle)

	_, ok = ExtractAngle(map[string]any{AngleParameter: "sideways"}, "")
	assert.False(t, ok)
}
