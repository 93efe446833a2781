package screen

import (
	"context"
	"testing"
)

func TestKeywordFilterCaseInsensitive(t *testing.T) {
	filter := NewKeywordFilter([]string{"Bitcoin", "  scam  ", ""})
	allowed, reason := filter.Classify(context.Background(), "anyone into BITCOIN mining?")
	if allowed {
		t.Fatalf("expected deny for blocklisted term")
	}
	if reason == "" {
		t.Fatalf("expected a user-facing reason")
	}
	allowed, _ = filter.Classify(context.Background(), "designers in Berlin")
	if !allowed {
		t.Fatalf("expected allow for clean message")
	}
}

func TestKeywordFilterEmptyBlocklistAllows(t *testing.T) {
	filter := NewKeywordFilter(nil)
	allowed, reason := filter.Classify(context.Background(), "anything at all")
	if !allowed || reason != "" {
		t.Fatalf("expected allow with empty reason, got allowed=%t reason=%q", allowed, reason)
	}
}

func TestRegexFilterDeniesOnMatch(t *testing.T) {
	filter, err := NewRegexFilter([]string{`(?i)\bssn\b`, ""})
	if err != nil {
		t.Fatalf("NewRegexFilter returned error: %v", err)
	}
	allowed, reason := filter.Classify(context.Background(), "find people by SSN")
	if allowed {
		t.Fatalf("expected deny on pattern match")
	}
	if reason == "" {
		t.Fatalf("expected a user-facing reason")
	}
	allowed, _ = filter.Classify(context.Background(), "find people by skill")
	if !allowed {
		t.Fatalf("expected allow when no pattern matches")
	}
}

func TestRegexFilterRejectsBadPattern(t *testing.T) {
	if _, err := NewRegexFilter([]string{"("}); err == nil {
		t.Fatalf("expected compile error for invalid pattern")
	}
}
