package eval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"screener-eval/internal/screen"
)

// Evaluate drives every corpus case through the screener. Tasks launch in
// corpus order with a fixed stagger between launches, run concurrently with
// no in-flight cap, and are joined before the report is produced. A slow or
// failing task never aborts its siblings; there is no overall deadline
// beyond what ctx carries.
func Evaluate(ctx context.Context, screener screen.Screener, corpus []TestCase, cfg Config, onEvent Observer) (Report, error) {
	if screener == nil {
		return Report{}, errors.New("screener is required")
	}
	if len(corpus) == 0 {
		return Report{}, errors.New("corpus is empty")
	}
	if onEvent == nil {
		onEvent = func(Event) {}
	}
	stagger := cfg.Stagger
	if stagger < 0 {
		stagger = 0
	}

	agg := newAggregator(len(corpus))
	start := time.Now()

	var wg sync.WaitGroup
	for i, testCase := range corpus {
		wg.Add(1)
		go func(index int, tc TestCase) {
			defer wg.Done()
			allowed, reason := screener(ctx, tc.MessageText)
			outcome := Outcome{
				CorpusIndex: index,
				Message:     tc.MessageText,
				Expected:    tc.IsRequest,
				Got:         allowed,
				Reason:      reason,
				Correct:     allowed == tc.IsRequest,
			}
			completed := agg.record(outcome)
			if !outcome.Correct {
				onEvent(Event{
					Stage:   "case_failed",
					Message: fmt.Sprintf("expected %t, got %t", outcome.Expected, outcome.Got),
					Data: map[string]any{
						"message":          outcome.Message,
						"expected":         outcome.Expected,
						"got":              outcome.Got,
						"reason":           outcome.Reason,
						"completion_index": completed - 1,
					},
				})
			}
			onEvent(Event{
				Stage:   "progress",
				Message: fmt.Sprintf("%d/%d completed", completed, len(corpus)),
				Data: map[string]any{
					"completed": completed,
					"total":     len(corpus),
				},
			})
		}(i, testCase)

		if stagger > 0 && i < len(corpus)-1 {
			time.Sleep(stagger)
		}
	}
	wg.Wait()

	stats := agg.snapshot()
	score := float64(stats.Correct) / float64(stats.Total)
	return Report{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Stats:       stats,
		Score:       score,
		Status:      StatusForScore(score, cfg),
		DurationMS:  time.Since(start).Milliseconds(),
	}, nil
}

// StatusForScore maps an accuracy score onto pass/warn/fail using the run
// thresholds, falling back to the defaults when unset.
func StatusForScore(score float64, cfg Config) Status {
	warn := cfg.ScoreWarnThreshold
	if warn <= 0 || warn > 1 {
		warn = DefaultScoreWarnThreshold
	}
	fail := cfg.ScoreFailThreshold
	if fail <= 0 || fail > 1 {
		fail = DefaultScoreFailThreshold
	}
	switch {
	case score >= warn:
		return StatusPass
	case score >= fail:
		return StatusWarn
	default:
		return StatusFail
	}
}
