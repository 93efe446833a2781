package server

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"screener-eval/internal/eval"
	"screener-eval/internal/openai"
	"screener-eval/internal/screen"
)

type RunManager struct {
	cfg        ServerConfig
	store      Store
	budget     *BudgetManager
	obs        *Observability
	queue      chan queuedRun
	wg         sync.WaitGroup
	quickLimit *ipRateLimiter
}

type RunnerService interface {
	CreateAdminRun(request EvalRequest, principal Principal, source string) (RunMeta, error)
	QuickScreen(request QuickScreenRequest, ipHash, uaHash string) (QuickScreenResult, error)
}

type queuedRun struct {
	RunID       string
	Request     EvalRequest
	Creator     Principal
	CreatorType string
	Source      string
}

func NewRunManager(cfg ServerConfig, store Store, budget *BudgetManager, obs *Observability) *RunManager {
	maxParallel := cfg.Budget.MaxParallelRuns
	if maxParallel <= 0 {
		maxParallel = 2
	}
	manager := &RunManager{
		cfg:        cfg,
		store:      store,
		budget:     budget,
		obs:        obs,
		queue:      make(chan queuedRun, maxParallel*8),
		quickLimit: newIPRateLimiter(cfg.Limits.QuickScreenRPM),
	}
	for i := 0; i < maxParallel; i++ {
		manager.wg.Add(1)
		go func() {
			defer manager.wg.Done()
			manager.worker()
		}()
	}
	return manager
}

func (m *RunManager) Shutdown() {
	close(m.queue)
	m.wg.Wait()
}

func (m *RunManager) CreateAdminRun(request EvalRequest, principal Principal, source string) (RunMeta, error) {
	if strings.TrimSpace(request.Endpoint) == "" {
		request.Endpoint = m.cfg.Screen.Endpoint
	}
	if strings.TrimSpace(request.Model) == "" {
		request.Model = m.cfg.Screen.Model
	}
	if strings.TrimSpace(request.Model) == "" {
		return RunMeta{}, errors.New("model is required")
	}
	if len(request.Filters) == 0 {
		request.Filters = defaultFilterOrder()
	}
	if err := validateFilterNames(request.Filters); err != nil {
		return RunMeta{}, err
	}
	if request.StaggerMS <= 0 {
		request.StaggerMS = m.cfg.Screen.StaggerMS
	}
	if request.TimeoutSec <= 0 {
		request.TimeoutSec = m.cfg.Budget.DefaultTimeoutSec
	}
	if request.BudgetCapUSD <= 0 {
		request.BudgetCapUSD = m.cfg.Budget.DefaultRunMaxUSD
	}
	if request.ScoreWarnThreshold <= 0 || request.ScoreWarnThreshold > 1 {
		request.ScoreWarnThreshold = m.cfg.Screen.ScoreWarnThreshold
	}
	if request.ScoreFailThreshold <= 0 || request.ScoreFailThreshold > 1 {
		request.ScoreFailThreshold = m.cfg.Screen.ScoreFailThreshold
	}
	runID, err := randomID("run")
	if err != nil {
		return RunMeta{}, err
	}
	meta := RunMeta{
		RunID:       runID,
		Status:      "queued",
		Source:      source,
		CreatorType: "admin",
		CreatorSub:  principal.Subject,
		Request:     request,
		CreatedAt:   nowRFC3339(),
	}
	if err := m.store.CreateRun(meta); err != nil {
		return RunMeta{}, err
	}
	_, _ = m.store.AppendRunEvent(runID, "queue", "run queued", map[string]any{
		"source": source,
	})
	_ = m.store.AppendAudit(AuditEvent{
		Timestamp: nowRFC3339(),
		RunID:     runID,
		ActorType: "admin",
		ActorSub:  principal.Subject,
		Action:    "run.create",
		Result:    "queued",
	})
	m.queue <- queuedRun{
		RunID:       runID,
		Request:     request,
		Creator:     principal,
		CreatorType: "admin",
		Source:      source,
	}
	return meta, nil
}

// QuickScreen classifies a single message synchronously through the
// configured chain. It is rate limited per caller IP and draws on the
// key pool with the small quick-screen budget cap.
func (m *RunManager) QuickScreen(request QuickScreenRequest, ipHash, uaHash string) (QuickScreenResult, error) {
	message := strings.TrimSpace(request.Message)
	if message == "" {
		return QuickScreenResult{}, errors.New("message is required")
	}
	if !m.quickLimit.Allow(ipHash) {
		if m.obs != nil {
			m.obs.MarkBudgetBlocked(context.Background(), "quick_screen_rate_limit")
		}
		_ = m.store.AppendAudit(AuditEvent{
			Timestamp: nowRFC3339(),
			ActorType: "user",
			Action:    "quick_screen.reject",
			Result:    "rate_limited",
			IPHash:    ipHash,
			UAHash:    uaHash,
		})
		return QuickScreenResult{}, errors.New("quick screen rate limit reached")
	}
	lease, err := m.budget.Acquire(m.cfg.Budget.QuickScreenMaxUSD)
	if err != nil {
		if m.obs != nil {
			m.obs.MarkBudgetBlocked(context.Background(), "key_unavailable")
		}
		return QuickScreenResult{}, fmt.Errorf("api key unavailable: %w", err)
	}
	client := openai.NewClient(openai.Config{
		BaseURL: m.cfg.Screen.Endpoint,
		APIKey:  lease.APIKey,
		Timeout: 30 * time.Second,
	})
	chain, semantic, err := buildChain(m.cfg.Screen, defaultFilterOrder(), client, m.cfg.Screen.Model)
	if err != nil {
		m.budget.Reject(lease)
		return QuickScreenResult{}, err
	}

	ctx, cancel := withTimeout(context.Background(), 30*time.Second)
	defer cancel()
	allowed, reason := chain.Classify(ctx, message)

	usage := KeyUsageRecord{KeyLabel: lease.Label}
	if semantic != nil {
		usage = UsageFromTokens(semantic.Usage())
		usage.KeyLabel = lease.Label
		usage.EstimatedCostUSD = m.costForLease(lease, usage)
	}
	m.budget.Commit(lease, usage)

	_ = m.store.AppendAudit(AuditEvent{
		Timestamp: nowRFC3339(),
		ActorType: "user",
		Action:    "quick_screen",
		Result:    fmt.Sprintf("allowed=%t", allowed),
		IPHash:    ipHash,
		UAHash:    uaHash,
	})
	if m.obs != nil {
		m.obs.MarkQuickScreen(ctx, allowed)
	}
	return QuickScreenResult{Allowed: allowed, Reason: reason}, nil
}

func (m *RunManager) worker() {
	for queued := range m.queue {
		m.executeRun(queued)
	}
}

func (m *RunManager) executeRun(queued queuedRun) {
	startedAt := nowRFC3339()
	_, _ = m.store.UpdateRun(queued.RunID, func(meta *RunMeta) {
		meta.Status = "running"
		meta.StartedAt = startedAt
	})
	_, _ = m.store.AppendRunEvent(queued.RunID, "start", "run started", nil)

	if queued.Request.DryRun {
		m.executeDryRun(queued)
		return
	}

	lease, err := m.budget.Acquire(queued.Request.BudgetCapUSD)
	if err != nil {
		m.failRun(queued.RunID, "api key unavailable: "+err.Error(), "budget_key_unavailable")
		if m.obs != nil {
			m.obs.MarkBudgetBlocked(context.Background(), "key_unavailable")
		}
		return
	}

	timeout := time.Duration(queued.Request.TimeoutSec) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client := openai.NewClient(openai.Config{
		BaseURL: queued.Request.Endpoint,
		APIKey:  lease.APIKey,
		Timeout: time.Duration(minInt(queued.Request.TimeoutSec, 120)) * time.Second,
	})
	chain, semantic, err := buildChain(m.cfg.Screen, queued.Request.Filters, client, queued.Request.Model)
	if err != nil {
		m.budget.Reject(lease)
		m.failRun(queued.RunID, err.Error(), "")
		return
	}
	corpus, err := eval.LoadCorpus(queued.Request.CorpusPath)
	if err != nil {
		m.budget.Reject(lease)
		m.failRun(queued.RunID, "corpus load failed: "+err.Error(), "")
		return
	}

	report, err := eval.Evaluate(ctx, chain.Screener(), corpus.Cases, eval.Config{
		Stagger:            time.Duration(queued.Request.StaggerMS) * time.Millisecond,
		ScoreWarnThreshold: queued.Request.ScoreWarnThreshold,
		ScoreFailThreshold: queued.Request.ScoreFailThreshold,
	}, func(event eval.Event) {
		_, _ = m.store.AppendRunEvent(queued.RunID, event.Stage, event.Message, event.Data)
	})
	if err != nil {
		m.budget.Reject(lease)
		m.failRun(queued.RunID, err.Error(), "")
		return
	}
	report.CorpusName = corpus.Name

	usage := KeyUsageRecord{RunID: queued.RunID, KeyLabel: lease.Label}
	if semantic != nil {
		usage = UsageFromTokens(semantic.Usage())
		usage.RunID = queued.RunID
		usage.KeyLabel = lease.Label
		usage.EstimatedCostUSD = m.costForLease(lease, usage)
	}
	m.budget.Commit(lease, usage)

	status := string(report.Status)
	_, _ = m.store.UpdateRun(queued.RunID, func(meta *RunMeta) {
		meta.Status = status
		meta.FinishedAt = nowRFC3339()
		meta.Report = &report
		meta.EstimatedCost = usage.EstimatedCostUSD
		meta.KeyUsage = usage
		if status == "fail" {
			meta.Error = "accuracy below fail threshold"
		}
	})
	_, _ = m.store.AppendRunEvent(queued.RunID, "completed", "run completed", map[string]any{
		"status":         status,
		"score":          report.Score,
		"estimated_cost": usage.EstimatedCostUSD,
	})
	_ = m.store.AppendAudit(AuditEvent{
		Timestamp: nowRFC3339(),
		RunID:     queued.RunID,
		ActorType: queued.CreatorType,
		ActorSub:  queued.Creator.Subject,
		Action:    "run.completed",
		Result:    status,
		Detail:    fmt.Sprintf("score=%.4f cost=%.4f key=%s", report.Score, usage.EstimatedCostUSD, lease.Label),
	})
	if m.obs != nil {
		m.obs.MarkRun(ctx, status)
		m.obs.MarkRunDuration(ctx, report.CorpusName, report.DurationMS)
		m.obs.MarkCases(ctx, true, int64(report.Stats.Correct))
		m.obs.MarkCases(ctx, false, int64(report.Stats.Total-report.Stats.Correct))
	}
}

// executeDryRun evaluates the local filters only. No key is leased and no
// remote calls are made, so the run costs nothing.
func (m *RunManager) executeDryRun(queued queuedRun) {
	names := localOnly(queued.Request.Filters)
	chain, _, err := buildChain(m.cfg.Screen, names, nil, queued.Request.Model)
	if err != nil {
		m.failRun(queued.RunID, err.Error(), "")
		return
	}
	corpus, err := eval.LoadCorpus(queued.Request.CorpusPath)
	if err != nil {
		m.failRun(queued.RunID, "corpus load failed: "+err.Error(), "")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(queued.Request.TimeoutSec)*time.Second)
	defer cancel()
	report, err := eval.Evaluate(ctx, chain.Screener(), corpus.Cases, eval.Config{
		Stagger:            time.Duration(queued.Request.StaggerMS) * time.Millisecond,
		ScoreWarnThreshold: queued.Request.ScoreWarnThreshold,
		ScoreFailThreshold: queued.Request.ScoreFailThreshold,
	}, func(event eval.Event) {
		_, _ = m.store.AppendRunEvent(queued.RunID, event.Stage, event.Message, event.Data)
	})
	if err != nil {
		m.failRun(queued.RunID, err.Error(), "")
		return
	}
	report.CorpusName = corpus.Name
	status := string(report.Status)
	_, _ = m.store.UpdateRun(queued.RunID, func(meta *RunMeta) {
		meta.Status = status
		meta.FinishedAt = nowRFC3339()
		meta.Report = &report
		meta.EstimatedCost = 0
		meta.KeyUsage = KeyUsageRecord{RunID: queued.RunID, KeyLabel: "dry-run"}
	})
	_, _ = m.store.AppendRunEvent(queued.RunID, "completed", "dry-run completed", map[string]any{
		"status": status,
		"score":  report.Score,
	})
	if m.obs != nil {
		m.obs.MarkRun(context.Background(), status)
	}
}

func (m *RunManager) failRun(runID, errMsg, blockedReason string) {
	_, _ = m.store.UpdateRun(runID, func(meta *RunMeta) {
		meta.Status = "fail"
		meta.Error = errMsg
		meta.FinishedAt = nowRFC3339()
		if blockedReason != "" {
			meta.KeyUsage = KeyUsageRecord{
				RunID:         runID,
				BlockedReason: blockedReason,
			}
		}
	})
	_, _ = m.store.AppendRunEvent(runID, "error", errMsg, nil)
	if m.obs != nil {
		m.obs.MarkRun(context.Background(), "fail")
	}
}

func (m *RunManager) costForLease(lease KeyLease, usage KeyUsageRecord) float64 {
	for _, key := range m.cfg.Keys.APIKeys {
		if key.Label == lease.Label {
			return EstimateCostUSD(usage, key)
		}
	}
	return 0
}

// buildChain assembles the filters in the requested order. The semantic
// filter, if selected, is returned separately so the caller can read its
// accumulated token usage.
func buildChain(cfg ScreenConfig, names []string, completer screen.ChatCompleter, model string) (*screen.Chain, *screen.SemanticFilter, error) {
	filters := make([]screen.Filter, 0, len(names))
	var semantic *screen.SemanticFilter
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		switch name {
		case "keyword":
			filters = append(filters, screen.NewKeywordFilter(cfg.KeywordBlocklist))
		case "regex":
			filter, err := screen.NewRegexFilter(cfg.PatternBlocklist)
			if err != nil {
				return nil, nil, err
			}
			filters = append(filters, filter)
		case "semantic":
			if completer == nil {
				return nil, nil, errors.New("semantic filter requires a chat completions client")
			}
			semantic = screen.NewSemanticFilter(screen.SemanticConfig{
				Client:       completer,
				Model:        model,
				SystemPrompt: cfg.SystemPrompt,
			})
			filters = append(filters, semantic)
		default:
			return nil, nil, fmt.Errorf("unknown filter: %s", raw)
		}
	}
	return screen.NewChain(filters...), semantic, nil
}

func defaultFilterOrder() []string {
	return []string{"keyword", "regex", "semantic"}
}

func validateFilterNames(names []string) error {
	for _, raw := range names {
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "keyword", "regex", "semantic":
		default:
			return fmt.Errorf("unknown filter: %s", raw)
		}
	}
	return nil
}

func localOnly(names []string) []string {
	if len(names) == 0 {
		names = defaultFilterOrder()
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		if strings.ToLower(strings.TrimSpace(name)) == "semantic" {
			continue
		}
		out = append(out, name)
	}
	return out
}

func randomID(prefix string) (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + "_" + hex.EncodeToString(b), nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

type ipRateLimiter struct {
	mu      sync.Mutex
	rpm     int
	records map[string][]time.Time
}

func newIPRateLimiter(rpm int) *ipRateLimiter {
	if rpm <= 0 {
		rpm = 6
	}
	return &ipRateLimiter{
		rpm:     rpm,
		records: map[string][]time.Time{},
	}
}

func (l *ipRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if strings.TrimSpace(key) == "" {
		key = "unknown"
	}
	now := time.Now()
	cutoff := now.Add(-1 * time.Minute)
	items := l.records[key]
	items = filterRecentTime(items, cutoff)
	if len(items) >= l.rpm {
		l.records[key] = items
		return false
	}
	items = append(items, now)
	l.records[key] = items
	return true
}

func hashString(input string) string {
	sum := sha256Sum(input)
	return sum[:16]
}

func sha256Sum(input string) string {
	hash := sha256.New()
	_, _ = hash.Write([]byte(input))
	return hex.EncodeToString(hash.Sum(nil))
}
