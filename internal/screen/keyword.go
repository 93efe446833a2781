package screen

import (
	"context"
	"strings"
)

// KeywordFilter denies messages containing any blocklisted term,
// case-insensitively. An empty blocklist is valid and allows everything.
type KeywordFilter struct {
	keywords []string
}

func NewKeywordFilter(keywords []string) *KeywordFilter {
	clean := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword == "" {
			continue
		}
		clean = append(clean, keyword)
	}
	return &KeywordFilter{keywords: clean}
}

func (f *KeywordFilter) Name() string {
	return "keyword"
}

func (f *KeywordFilter) Classify(_ context.Context, message string) (bool, string) {
	lowered := strings.ToLower(message)
	for _, keyword := range f.keywords {
		if strings.Contains(lowered, keyword) {
			return false, "Message contains a term that cannot be searched."
		}
	}
	return true, ""
}
