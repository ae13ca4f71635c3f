package policy

import (
	"strings"
)

// FilterResult is the outcome of scanning one message.
type FilterResult struct {
	Clean        bool
	MatchedTerms []string
	TraumaSafe   bool
}

// ContentFilter scans messages for blocked terms using case-insensitive
// substring matching. When trauma-safe mode is on it additionally flags
// the request so the chosen provider is asked to avoid graphic content;
// the flag is a hint, not a block.
type ContentFilter struct {
	enabled      bool
	blockedWords []string
	traumaSafe   bool
}

// NewContentFilter creates a content filter.
func NewContentFilter(enabled bool, blockedWords []string, traumaSafe bool) *ContentFilter {
	words := make([]string, 0, len(blockedWords))
	for _, w := range blockedWords {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			words = append(words, w)
		}
	}
	return &ContentFilter{
		enabled:      enabled,
		blockedWords: words,
		traumaSafe:   traumaSafe,
	}
}

// Scan checks the message against the blocked word list.
func (cf *ContentFilter) Scan(message string) *FilterResult {
	result := &FilterResult{Clean: true, TraumaSafe: cf.traumaSafe}
	if !cf.enabled || message == "" {
		return result
	}

	lower := strings.ToLower(message)
	for _, word := range cf.blockedWords {
		if strings.Contains(lower, word) {
			result.Clean = false
			result.MatchedTerms = append(result.MatchedTerms, word)
		}
	}
	return result
}
