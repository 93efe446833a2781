package eval

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestEvaluateAllCorrect(t *testing.T) {
	corpus := []TestCase{
		{MessageText: "looking for software engineers in Austin", IsRequest: true},
		{MessageText: "hello", IsRequest: false},
	}
	screener := func(ctx context.Context, message string) (bool, string) {
		if message == "hello" {
			return false, "not a search"
		}
		return true, ""
	}

	report, err := Evaluate(context.Background(), screener, corpus, Config{}, nil)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if report.Score != 1.0 {
		t.Fatalf("expected score 1.0, got %f", report.Score)
	}
	if report.Status != StatusPass {
		t.Fatalf("expected pass status, got %s", report.Status)
	}
	if report.Stats.Correct != 2 || report.Stats.Total != 2 {
		t.Fatalf("unexpected stats: %+v", report.Stats)
	}
	if len(report.Stats.FailedIndices) != 0 {
		t.Fatalf("expected no failed indices, got %v", report.Stats.FailedIndices)
	}
}

func TestEvaluateCountsFalseNegative(t *testing.T) {
	corpus := []TestCase{
		{MessageText: "immigration lawyers in Boston", IsRequest: true},
		{MessageText: "lol ok", IsRequest: false},
	}
	denyAll := func(ctx context.Context, message string) (bool, string) {
		return false, "denied"
	}

	report, err := Evaluate(context.Background(), denyAll, corpus, Config{}, nil)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if report.Score != 0.5 {
		t.Fatalf("expected score 0.5, got %f", report.Score)
	}
	if report.Stats.FalseNegatives != 1 {
		t.Fatalf("expected 1 false negative, got %d", report.Stats.FalseNegatives)
	}
	if report.Stats.FalsePositives != 0 {
		t.Fatalf("expected 0 false positives, got %d", report.Stats.FalsePositives)
	}
	if len(report.Stats.FailedCases) != 1 {
		t.Fatalf("expected 1 failed case, got %d", len(report.Stats.FailedCases))
	}
	failed := report.Stats.FailedCases[0]
	if failed.Message != "immigration lawyers in Boston" || !failed.Expected || failed.Got {
		t.Fatalf("unexpected failed case: %+v", failed)
	}
}

func TestEvaluateStaggerLowerBound(t *testing.T) {
	const cases = 4
	const stagger = 30 * time.Millisecond
	corpus := make([]TestCase, cases)
	for i := range corpus {
		corpus[i] = TestCase{MessageText: "q", IsRequest: true}
	}
	instant := func(ctx context.Context, message string) (bool, string) {
		return true, ""
	}

	start := time.Now()
	_, err := Evaluate(context.Background(), instant, corpus, Config{Stagger: stagger}, nil)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	elapsed := time.Since(start)
	if minimum := time.Duration(cases-1) * stagger; elapsed < minimum {
		t.Fatalf("expected at least %v between first and last launch, finished in %v", minimum, elapsed)
	}
}

func TestEvaluateConcurrentAccountingInvariant(t *testing.T) {
	const total = 50
	corpus := make([]TestCase, total)
	for i := range corpus {
		// half the deny-labeled cases are classified wrong on purpose
		if i%2 == 0 {
			corpus[i] = TestCase{MessageText: "allow this", IsRequest: true}
		} else if i%4 == 1 {
			corpus[i] = TestCase{MessageText: "allow this", IsRequest: false}
		} else {
			corpus[i] = TestCase{MessageText: "deny this", IsRequest: false}
		}
	}
	screener := func(ctx context.Context, message string) (bool, string) {
		if strings.HasPrefix(message, "deny") {
			return false, "denied"
		}
		return true, ""
	}

	report, err := Evaluate(context.Background(), screener, corpus, Config{}, nil)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	stats := report.Stats
	if stats.Total != total {
		t.Fatalf("expected total %d, got %d", total, stats.Total)
	}
	if stats.Correct+stats.FalsePositives+stats.FalseNegatives != total {
		t.Fatalf("accounting does not add up: %+v", stats)
	}
	if stats.FalseNegatives != 0 {
		t.Fatalf("expected no false negatives, got %d", stats.FalseNegatives)
	}
	if stats.FalsePositives != len(stats.FailedIndices) {
		t.Fatalf("failed indices out of sync with failures: %+v", stats)
	}
}

func TestEvaluateEmptyCorpusRejected(t *testing.T) {
	screener := func(ctx context.Context, message string) (bool, string) { return true, "" }
	if _, err := Evaluate(context.Background(), screener, nil, Config{}, nil); err == nil {
		t.Fatalf("expected error for empty corpus")
	}
}

func TestEvaluateNilScreenerRejected(t *testing.T) {
	corpus := []TestCase{{MessageText: "q", IsRequest: true}}
	if _, err := Evaluate(context.Background(), nil, corpus, Config{}, nil); err == nil {
		t.Fatalf("expected error for nil screener")
	}
}

func TestEvaluateEmitsFailureEvents(t *testing.T) {
	corpus := []TestCase{
		{MessageText: "real search", IsRequest: true},
		{MessageText: "chatter", IsRequest: false},
	}
	allowAll := func(ctx context.Context, message string) (bool, string) { return true, "" }

	var mu sync.Mutex
	var failures, progress int
	onEvent := func(event Event) {
		mu.Lock()
		defer mu.Unlock()
		switch event.Stage {
		case "case_failed":
			failures++
		case "progress":
			progress++
		}
	}

	if _, err := Evaluate(context.Background(), allowAll, corpus, Config{}, onEvent); err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if failures != 1 {
		t.Fatalf("expected 1 failure event, got %d", failures)
	}
	if progress != len(corpus) {
		t.Fatalf("expected %d progress events, got %d", len(corpus), progress)
	}
}

func TestStatusForScore(t *testing.T) {
	cfg := Config{ScoreWarnThreshold: 0.9, ScoreFailThreshold: 0.75}
	if got := StatusForScore(0.95, cfg); got != StatusPass {
		t.Fatalf("expected pass, got %s", got)
	}
	if got := StatusForScore(0.9, cfg); got != StatusPass {
		t.Fatalf("expected pass at the warn threshold, got %s", got)
	}
	if got := StatusForScore(0.8, cfg); got != StatusWarn {
		t.Fatalf("expected warn, got %s", got)
	}
	if got := StatusForScore(0.5, cfg); got != StatusFail {
		t.Fatalf("expected fail, got %s", got)
	}
	// zero config falls back to defaults
	if got := StatusForScore(0.95, Config{}); got != StatusPass {
		t.Fatalf("expected pass with default thresholds, got %s", got)
	}
}

func TestAggregatorRecordsCompletionOrder(t *testing.T) {
	agg := newAggregator(3)
	agg.record(Outcome{Correct: true})
	agg.record(Outcome{Correct: false, Expected: true})
	agg.record(Outcome{Correct: false, Expected: false})

	stats := agg.snapshot()
	if stats.Correct != 1 || stats.FalseNegatives != 1 || stats.FalsePositives != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(stats.FailedIndices) != 2 || stats.FailedIndices[0] != 1 || stats.FailedIndices[1] != 2 {
		t.Fatalf("expected completion-order indices [1 2], got %v", stats.FailedIndices)
	}
}
