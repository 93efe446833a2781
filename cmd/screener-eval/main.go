package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"screener-eval/internal/eval"
	"screener-eval/internal/openai"
	"screener-eval/internal/screen"
)

func main() {
	baseURL := flag.String("base-url", envOr("OPENAI_BASE_URL", "https://api.openai.com"), "OpenAI-compatible base URL")
	apiKey := flag.String("api-key", envOr("OPENAI_API_KEY", ""), "API key for endpoint")
	model := flag.String("model", envOr("OPENAI_MODEL", "gpt-4o-mini"), "Decision model ID")
	timeout := flag.Duration("timeout", 60*time.Second, "HTTP timeout per request")
	corpusPath := flag.String("corpus", "", "Path to corpus JSON (empty=embedded default)")
	filters := flag.String("filters", "keyword,regex,semantic", "Comma-separated filter order: keyword,regex,semantic")
	keywords := flag.String("keywords", "", "Comma-separated keyword blocklist")
	patterns := flag.String("patterns", "", "Comma-separated regex pattern blocklist")
	systemPromptPath := flag.String("system-prompt", "", "Path to a custom system prompt file for the semantic filter")
	stagger := flag.Duration("stagger", eval.DefaultStagger, "Pause between task launches")
	warnThreshold := flag.Float64("score-warn-threshold", eval.DefaultScoreWarnThreshold, "Warn threshold for accuracy score")
	failThreshold := flag.Float64("score-fail-threshold", eval.DefaultScoreFailThreshold, "Fail threshold for accuracy score")
	format := flag.String("format", "text", "Output format: text|json")
	outputPath := flag.String("out", "", "Write full report JSON to this file")
	baselineInPath := flag.String("baseline-in", "", "Load baseline report JSON and print score drift")
	baselineOutPath := flag.String("baseline-out", "", "Write current report as future baseline JSON")
	verbose := flag.Bool("verbose", false, "Print per-case progress while the run executes")
	strict := flag.Bool("strict", false, "Exit non-zero unless the run passes")
	flag.Parse()

	corpus, err := eval.LoadCorpus(*corpusPath)
	if err != nil {
		exitWith("failed to load corpus: " + err.Error())
	}

	selected := splitList(*filters)
	needsSemantic := false
	for _, name := range selected {
		if strings.EqualFold(name, "semantic") {
			needsSemantic = true
		}
	}
	if needsSemantic && strings.TrimSpace(*apiKey) == "" {
		exitWith("OPENAI_API_KEY or -api-key is required for the semantic filter")
	}

	systemPrompt := ""
	if strings.TrimSpace(*systemPromptPath) != "" {
		data, readErr := os.ReadFile(filepath.Clean(*systemPromptPath))
		if readErr != nil {
			exitWith("failed to read system prompt: " + readErr.Error())
		}
		systemPrompt = string(data)
	}

	client := openai.NewClient(openai.Config{
		BaseURL: *baseURL,
		APIKey:  *apiKey,
		Timeout: *timeout,
	})

	chainFilters := make([]screen.Filter, 0, len(selected))
	var semantic *screen.SemanticFilter
	for _, name := range selected {
		switch strings.ToLower(name) {
		case "keyword":
			chainFilters = append(chainFilters, screen.NewKeywordFilter(splitList(*keywords)))
		case "regex":
			filter, buildErr := screen.NewRegexFilter(splitList(*patterns))
			if buildErr != nil {
				exitWith(buildErr.Error())
			}
			chainFilters = append(chainFilters, filter)
		case "semantic":
			semantic = screen.NewSemanticFilter(screen.SemanticConfig{
				Client:       client,
				Model:        *model,
				SystemPrompt: systemPrompt,
			})
			chainFilters = append(chainFilters, semantic)
		default:
			exitWith("unknown filter: " + name)
		}
	}
	chain := screen.NewChain(chainFilters...)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout*8)
	defer cancel()

	onEvent := func(event eval.Event) {
		if !*verbose {
			return
		}
		fmt.Fprintf(os.Stderr, "[%s] %s\n", event.Stage, event.Message)
	}

	report, err := eval.Evaluate(ctx, chain.Screener(), corpus.Cases, eval.Config{
		Stagger:            *stagger,
		ScoreWarnThreshold: *warnThreshold,
		ScoreFailThreshold: *failThreshold,
	}, onEvent)
	if err != nil {
		exitWith(err.Error())
	}
	report.CorpusName = corpus.Name

	switch strings.ToLower(strings.TrimSpace(*format)) {
	case "json":
		printJSON(report)
	default:
		printText(report)
		if semantic != nil {
			usage := semantic.Usage()
			fmt.Printf("Tokens: prompt=%d completion=%d total=%d\n",
				usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens)
		}
	}

	if strings.TrimSpace(*baselineInPath) != "" {
		baseline, readErr := readReport(*baselineInPath)
		if readErr != nil {
			exitWith("failed to read baseline report: " + readErr.Error())
		}
		fmt.Printf("Baseline: score=%.4f (%s), drift=%+.4f\n",
			baseline.Score, baseline.GeneratedAt, report.Score-baseline.Score)
	}

	if strings.TrimSpace(*outputPath) != "" {
		if writeErr := writeReport(*outputPath, report); writeErr != nil {
			exitWith("failed to write report: " + writeErr.Error())
		}
	}
	if strings.TrimSpace(*baselineOutPath) != "" {
		if writeErr := writeReport(*baselineOutPath, report); writeErr != nil {
			exitWith("failed to write baseline report: " + writeErr.Error())
		}
	}

	if *strict && report.Status != eval.StatusPass {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}

func printText(report eval.Report) {
	fmt.Printf("Corpus: %s\n", report.CorpusName)
	fmt.Printf("Generated: %s\n", report.GeneratedAt)
	fmt.Printf("Duration: %dms\n\n", report.DurationMS)

	for _, failed := range report.Stats.FailedCases {
		fmt.Printf("[MISS] %q expected=%t got=%t", failed.Message, failed.Expected, failed.Got)
		if failed.Reason != "" {
			fmt.Printf(" reason=%q", failed.Reason)
		}
		fmt.Println()
	}
	if len(report.Stats.FailedCases) > 0 {
		fmt.Println()
	}

	fmt.Printf("Score: %.4f [%s]\n", report.Score, strings.ToUpper(string(report.Status)))
	fmt.Printf("Correct: %d/%d\n", report.Stats.Correct, report.Stats.Total)
	fmt.Printf("False positives: %d\n", report.Stats.FalsePositives)
	fmt.Printf("False negatives: %d\n", report.Stats.FalseNegatives)
	if len(report.Stats.FailedIndices) > 0 {
		fmt.Printf("Failed at completion indices: %v\n", report.Stats.FailedIndices)
	}
}

func printJSON(report eval.Report) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		exitWith("failed to encode report JSON: " + err.Error())
	}
	fmt.Println(string(data))
}

func writeReport(path string, report eval.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	cleanPath := filepath.Clean(path)
	return os.WriteFile(cleanPath, data, 0o644)
}

func readReport(path string) (eval.Report, error) {
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return eval.Report{}, err
	}
	var report eval.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return eval.Report{}, err
	}
	return report, nil
}

func exitWith(message string) {
	fmt.Fprintln(os.Stderr, "error:", message)
	os.Exit(2)
}
