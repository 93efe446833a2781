package screen

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// RegexFilter denies messages matching any blocklisted pattern. Patterns are
// compiled once at construction; an empty pattern list is valid.
type RegexFilter struct {
	patterns []*regexp.Regexp
}

func NewRegexFilter(patterns []string) (*RegexFilter, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile screen pattern %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return &RegexFilter{patterns: compiled}, nil
}

func (f *RegexFilter) Name() string {
	return "regex"
}

func (f *RegexFilter) Classify(_ context.Context, message string) (bool, string) {
	for _, pattern := range f.patterns {
		if pattern.MatchString(message) {
			return false, "Message matches a restricted pattern."
		}
	}
	return true, ""
}
