package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeDisruption(t *testing.T) {
	clean, err := SanitizeDisruption("  Flight UA1234 <b>diverted</b> to {DEN}  ")
	require.NoError(t, err)
	assert.Equal(t, "Flight UA1234 bdiverted/b to DEN", clean)

	_, err = SanitizeDisruption("too short")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = SanitizeDisruption(strings.Repeat("x", MaxDisruptionLength+1))
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestExtractFlightNumbers(t *testing.T) {
	flights := ExtractFlightNumbers("UA1234 and QF12 misconnect with UA1234; DENVER is not a flight")
	assert.Equal(t, []string{"UA1234", "QF12"}, flights)

	assert.Empty(t, ExtractFlightNumbers("thunderstorms over the hub all evening"))
}

func TestClassifyDisruption(t *testing.T) {
	cases := []struct {
		text     string
		kind     string
		severity string
	}{
		{"Flight UA1234 diverted after hydraulic failure", "mechanical", "high"},
		{"Snow closing both runways overnight", "weather", "medium"},
		{"Captain timed out on duty limits, no reserves", "crew", "medium"},
		{"Ground stop issued for the entire terminal area", "atc", "medium"},
		{"Minor catering delay at the gate", "other", "low"},
		{"Bird strike on departure, emergency return", "other", "high"},
	}
	for _, tc := range cases {
		kind, severity := ClassifyDisruption(tc.text)
		assert.Equal(t, tc.kind, kind, tc.text)
		assert.Equal(t, tc.severity, severity, tc.text)
	}
}
