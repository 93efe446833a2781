package server

import (
	"time"

	"screener-eval/internal/eval"
)

type Principal struct {
	Subject  string `json:"subject"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// EvalRequest describes one queued evaluation run: which filters make up
// the screener under test and how the harness should drive the corpus.
type EvalRequest struct {
	Endpoint           string   `json:"endpoint,omitempty"`
	Model              string   `json:"model,omitempty"`
	Filters            []string `json:"filters,omitempty"`
	CorpusPath         string   `json:"corpus_path,omitempty"`
	StaggerMS          int      `json:"stagger_ms,omitempty"`
	TimeoutSec         int      `json:"timeout_sec,omitempty"`
	BudgetCapUSD       float64  `json:"budget_cap,omitempty"`
	ScoreWarnThreshold float64  `json:"score_warn_threshold,omitempty"`
	ScoreFailThreshold float64  `json:"score_fail_threshold,omitempty"`
	DryRun             bool     `json:"dry_run,omitempty"`
}

type QuickScreenRequest struct {
	Message string `json:"message"`
}

type QuickScreenResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

type RunMeta struct {
	RunID         string         `json:"run_id"`
	Status        string         `json:"status"`
	CreatorType   string         `json:"creator_type"`
	CreatorSub    string         `json:"creator_sub,omitempty"`
	Source        string         `json:"source"`
	Request       EvalRequest    `json:"request"`
	StartedAt     string         `json:"started_at,omitempty"`
	FinishedAt    string         `json:"finished_at,omitempty"`
	CreatedAt     string         `json:"created_at"`
	Error         string         `json:"error,omitempty"`
	Report        *eval.Report   `json:"report,omitempty"`
	KeyUsage      KeyUsageRecord `json:"key_usage"`
	EstimatedCost float64        `json:"estimated_cost_usd"`
}

type KeyUsageRecord struct {
	RunID            string  `json:"run_id"`
	KeyLabel         string  `json:"key_label"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
	InputTokens      int     `json:"input_tokens"`
	OutputTokens     int     `json:"output_tokens"`
	BlockedReason    string  `json:"blocked_reason,omitempty"`
}

type AuditEvent struct {
	Timestamp string `json:"timestamp"`
	RunID     string `json:"run_id,omitempty"`
	ActorType string `json:"actor_type"`
	ActorSub  string `json:"actor_sub,omitempty"`
	Action    string `json:"action"`
	Result    string `json:"result"`
	IPHash    string `json:"ip_hash,omitempty"`
	UAHash    string `json:"ua_hash,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

type RunEvent struct {
	Seq       int64          `json:"seq"`
	Timestamp string         `json:"timestamp"`
	Stage     string         `json:"stage"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

type MetricsOverview struct {
	GeneratedAt      string  `json:"generated_at"`
	TotalRuns        int     `json:"total_runs"`
	RunningRuns      int     `json:"running_runs"`
	PassRuns         int     `json:"pass_runs"`
	WarnRuns         int     `json:"warn_runs"`
	FailRuns         int     `json:"fail_runs"`
	AverageScore     float64 `json:"average_score"`
	FalsePositives   int     `json:"false_positives"`
	FalseNegatives   int     `json:"false_negatives"`
	AverageDuration  int64   `json:"average_duration_ms"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
