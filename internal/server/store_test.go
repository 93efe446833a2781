package server

import (
	"path/filepath"
	"testing"

	"screener-eval/internal/eval"
)

func TestMemoryStoreCreateAndUpdateRun(t *testing.T) {
	store, err := NewMemoryFileStore("")
	if err != nil {
		t.Fatalf("NewMemoryFileStore returned error: %v", err)
	}
	meta := RunMeta{RunID: "run_1", Status: "queued", CreatedAt: nowRFC3339()}
	if err := store.CreateRun(meta); err != nil {
		t.Fatalf("CreateRun returned error: %v", err)
	}
	if err := store.CreateRun(meta); err == nil {
		t.Fatalf("expected duplicate run to be rejected")
	}

	updated, err := store.UpdateRun("run_1", func(m *RunMeta) {
		m.Status = "running"
	})
	if err != nil {
		t.Fatalf("UpdateRun returned error: %v", err)
	}
	if updated.Status != "running" {
		t.Fatalf("expected running status, got %s", updated.Status)
	}
	if _, err := store.UpdateRun("missing", nil); err == nil {
		t.Fatalf("expected error for unknown run")
	}
}

func TestMemoryStoreRunEvents(t *testing.T) {
	store, _ := NewMemoryFileStore("")
	_ = store.CreateRun(RunMeta{RunID: "run_1", Status: "queued", CreatedAt: nowRFC3339()})

	first, err := store.AppendRunEvent("run_1", "queue", "queued", nil)
	if err != nil {
		t.Fatalf("AppendRunEvent returned error: %v", err)
	}
	second, _ := store.AppendRunEvent("run_1", "start", "started", map[string]any{"k": "v"})
	if first.Seq != 1 || second.Seq != 2 {
		t.Fatalf("expected sequential seq, got %d and %d", first.Seq, second.Seq)
	}

	events := store.ListRunEvents("run_1", 1)
	if len(events) != 1 || events[0].Stage != "start" {
		t.Fatalf("expected only events after cursor, got %+v", events)
	}
	if _, err := store.AppendRunEvent("missing", "x", "y", nil); err == nil {
		t.Fatalf("expected error for unknown run")
	}
}

func TestMemoryStoreMetricsOverview(t *testing.T) {
	store, _ := NewMemoryFileStore("")
	report := &eval.Report{
		Score:      0.95,
		Status:     eval.StatusPass,
		DurationMS: 120,
		Stats:      eval.Stats{Total: 20, Correct: 19, FalsePositives: 1},
	}
	_ = store.CreateRun(RunMeta{RunID: "run_1", Status: "pass", CreatedAt: nowRFC3339(), Report: report, EstimatedCost: 0.02})
	_ = store.CreateRun(RunMeta{RunID: "run_2", Status: "running", CreatedAt: nowRFC3339()})

	overview := store.GetMetricsOverview()
	if overview.TotalRuns != 2 || overview.PassRuns != 1 || overview.RunningRuns != 1 {
		t.Fatalf("unexpected overview counts: %+v", overview)
	}
	if overview.AverageScore != 0.95 {
		t.Fatalf("expected average score 0.95, got %f", overview.AverageScore)
	}
	if overview.FalsePositives != 1 {
		t.Fatalf("expected 1 false positive, got %d", overview.FalsePositives)
	}
	if overview.EstimatedCostUSD != 0.02 {
		t.Fatalf("expected cost 0.02, got %f", overview.EstimatedCostUSD)
	}
}

func TestMemoryStorePersistsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	store, err := NewMemoryFileStore(path)
	if err != nil {
		t.Fatalf("NewMemoryFileStore returned error: %v", err)
	}
	_ = store.CreateRun(RunMeta{RunID: "run_1", Status: "pass", CreatedAt: nowRFC3339()})
	_, _ = store.AppendRunEvent("run_1", "queue", "queued", nil)

	reloaded, err := NewMemoryFileStore(path)
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}
	if _, ok := reloaded.GetRun("run_1"); !ok {
		t.Fatalf("expected run to survive reload")
	}
	events := reloaded.ListRunEvents("run_1", 0)
	if len(events) != 1 {
		t.Fatalf("expected 1 event after reload, got %d", len(events))
	}
	next, _ := reloaded.AppendRunEvent("run_1", "start", "started", nil)
	if next.Seq != 2 {
		t.Fatalf("expected seq to continue at 2, got %d", next.Seq)
	}
}
