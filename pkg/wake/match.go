package wake

import "strings"

// NormalizePhrase trims and lower-cases a wake phrase.
func NormalizePhrase(phrase string) string {
	return strings.ToLower(strings.TrimSpace(phrase))
}

// Match reports whether the most recent result contains phrase,
// case-insensitively. Earlier results are ignored, so a phrase split across
// fragments does not match. An empty phrase never matches.
func Match(results []Result, phrase string) bool {
	phrase = NormalizePhrase(phrase)
	if phrase == "" || len(results) == 0 {
		return false
	}
	text := strings.ToLower(strings.TrimSpace(results[len(results)-1].Transcript))
	return strings.Contains(text, phrase)
}
