package util

import "strings"

// EstimateTokens approximates token cost by whitespace word count × 1.3,
// the cheap proxy the spec allows in place of a real tokenizer. Used
// consistently across the compressor, fuser, and injector so budget
// comparisons stay coherent.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := strings.Fields(text)
	return int(float64(len(words)) * 1.3)
}

// TruncateTailToTokens trims text from the tail down to at most
// maxTokens, preserving whole lines (never cutting mid-line).
func TruncateTailToTokens(text string, maxTokens int) string {
	if EstimateTokens(text) <= maxTokens {
		return text
	}
	lines := strings.Split(text, "\n")
	for len(lines) > 0 {
		candidate := strings.Join(lines, "\n")
		if EstimateTokens(candidate) <= maxTokens {
			return candidate
		}
		lines = lines[:len(lines)-1]
	}
	return ""
}
