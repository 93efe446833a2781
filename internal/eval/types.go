package eval

import "time"

// TestCase is one labeled corpus record: the message to classify and
// whether it should be treated as a valid request.
type TestCase struct {
	MessageText string `json:"message_text"`
	IsRequest   bool   `json:"is_request"`
}

// Outcome is the recorded result of one completed classification task.
type Outcome struct {
	CorpusIndex int    `json:"corpus_index"`
	Message     string `json:"message"`
	Expected    bool   `json:"expected"`
	Got         bool   `json:"got"`
	Reason      string `json:"reason,omitempty"`
	Correct     bool   `json:"correct"`
}

// Stats accumulates per-case outcomes. FailedIndices records completion
// order, not corpus order, so it is nondeterministic across runs.
type Stats struct {
	Total          int       `json:"total"`
	Correct        int       `json:"correct"`
	FalsePositives int       `json:"false_positives"`
	FalseNegatives int       `json:"false_negatives"`
	FailedIndices  []int     `json:"failed_indices"`
	FailedCases    []Outcome `json:"failed_cases"`
}

type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

type Report struct {
	GeneratedAt string  `json:"generated_at"`
	CorpusName  string  `json:"corpus_name,omitempty"`
	Stats       Stats   `json:"stats"`
	Score       float64 `json:"score"`
	Status      Status  `json:"status"`
	DurationMS  int64   `json:"duration_ms"`
}

// Config controls one evaluation run. Stagger is the pause between
// successive task launches; it limits the launch rate only, never the
// number of in-flight classifications.
type Config struct {
	Stagger            time.Duration
	ScoreWarnThreshold float64
	ScoreFailThreshold float64
}

const (
	DefaultStagger            = 100 * time.Millisecond
	DefaultScoreWarnThreshold = 0.9
	DefaultScoreFailThreshold = 0.75
)

// Event is a progress or failure observation emitted as cases complete.
type Event struct {
	Stage   string
	Message string
	Data    map[string]any
}

// Observer receives events from the harness. It may be invoked from
// concurrent task goroutines and must be safe for concurrent use.
type Observer func(Event)
