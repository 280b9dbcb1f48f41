package services

import "unicode/utf8"

// TruncationMarker is appended whenever an excerpt is cut to fit the
// token budget.
const TruncationMarker = "...[truncated]"

// EstimateTokens returns an approximate token count using the ~4
// chars/token heuristic. The estimate is a deterministic proxy that
// never consults the generation service, so budget guarantees hold
// regardless of the model in use.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// TruncateToTokens cuts text so its estimate fits within budget tokens,
// appending the truncation marker when anything was removed. The cut
// lands on a rune boundary. A budget too small for the marker alone
// yields an empty string.
func TruncateToTokens(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if EstimateTokens(text) <= budget {
		return text
	}

	// Largest byte length whose (len+3)/4 estimate still fits. The
	// over-budget check above guarantees keep < len(text).
	maxBytes := budget*4 - 3
	keep := maxBytes - len(TruncationMarker)
	if keep <= 0 {
		return ""
	}
	for keep > 0 && !utf8.RuneStart(text[keep]) {
		keep--
	}
	return text[:keep] + TruncationMarker
}
