package core

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// MinDisruptionLength and MaxDisruptionLength bound the sanitized
	// disruption text.
	MinDisruptionLength = 10
	MaxDisruptionLength = 10000
)

// Characters stripped from disruption text before any use.
var disallowedChars = strings.NewReplacer("<", "", ">", "", "{", "", "}", "")

// SanitizeDisruption strips the disallowed characters and enforces the
// length bounds. Returns ErrInvalidRequest when the sanitized text is out
// of bounds.
func SanitizeDisruption(text string) (string, error) {
	clean := strings.TrimSpace(disallowedChars.Replace(text))
	if len(clean) < MinDisruptionLength {
		return "", fmt.Errorf("disruption text shorter than %d characters: %w", MinDisruptionLength, ErrInvalidRequest)
	}
	if len(clean) > MaxDisruptionLength {
		return "", fmt.Errorf("disruption text longer than %d characters: %w", MaxDisruptionLength, ErrInvalidRequest)
	}
	return clean, nil
}

// Flight designators like EY123 or QF8412. Word-bounded so ordinary
// uppercase words do not match.
var flightPattern = regexp.MustCompile(`\b([A-Z]{2}\d{2,4})\b`)

// ExtractFlightNumbers returns the distinct flight designators found in the
// disruption text, in order of first appearance. Used only to derive
// operational-data keys, not to interpret the text.
func ExtractFlightNumbers(text string) []string {
	matches := flightPattern.FindAllString(text, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// Keyword rules for the coarse disruption classification stamped onto
// checkpoints and decision records.
var disruptionKeywords = []struct {
	kind  string
	words []string
}{
	{"weather", []string{"weather", "storm", "fog", "snow", "wind", "thunder", "hurricane", "icing"}},
	{"mechanical", []string{"mechanical", "maintenance", "engine", "hydraulic", "technical", "mel", "apu"}},
	{"crew", []string{"crew", "pilot", "fdp", "duty", "sick", "fatigue"}},
	{"atc", []string{"atc", "air traffic", "slot", "airspace", "ground stop"}},
}

// ClassifyDisruption derives a coarse disruption type and severity from
// keyword rules. It exists for record tagging; the analyzers and the model
// do the real interpretation.
func ClassifyDisruption(text string) (kind, severity string) {
	lower := strings.ToLower(text)

	kind = "other"
	for _, rule := range disruptionKeywords {
		for _, w := range rule.words {
			if strings.Contains(lower, w) {
				kind = rule.kind
				break
			}
		}
		if kind != "other" {
			break
		}
	}

	severity = "medium"
	switch {
	case strings.Contains(lower, "cancel") || strings.Contains(lower, "divert") || strings.Contains(lower, "emergency"):
		severity = "high"
	case strings.Contains(lower, "minor") || strings.Contains(lower, "short delay"):
		severity = "low"
	}
	return kind, severity
}
