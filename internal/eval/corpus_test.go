package eval

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCorpusEmbeddedDefault(t *testing.T) {
	corpus, err := LoadCorpus("")
	if err != nil {
		t.Fatalf("LoadCorpus returned error: %v", err)
	}
	if len(corpus.Cases) == 0 {
		t.Fatalf("expected embedded corpus to have cases")
	}
	for i, item := range corpus.Cases {
		if item.MessageText == "" {
			t.Fatalf("embedded case %d has empty message", i)
		}
	}
}

func TestParseCorpusEnvelope(t *testing.T) {
	data := []byte(`{
		"version": "1.0",
		"name": "mini",
		"cases": [
			{"message_text": "engineers in Austin", "is_request": true},
			{"message_text": "hello", "is_request": false}
		]
	}`)
	corpus, err := ParseCorpus(data, "test")
	if err != nil {
		t.Fatalf("ParseCorpus returned error: %v", err)
	}
	if corpus.Name != "mini" {
		t.Fatalf("expected envelope name, got %q", corpus.Name)
	}
	if len(corpus.Cases) != 2 {
		t.Fatalf("expected 2 cases, got %d", len(corpus.Cases))
	}
	if !corpus.Cases[0].IsRequest || corpus.Cases[1].IsRequest {
		t.Fatalf("expectations not preserved: %+v", corpus.Cases)
	}
}

func TestParseCorpusBareArray(t *testing.T) {
	data := []byte(`[{"message_text": "who do I know at Stripe?", "is_request": true}]`)
	corpus, err := ParseCorpus(data, "array.json")
	if err != nil {
		t.Fatalf("ParseCorpus returned error: %v", err)
	}
	if len(corpus.Cases) != 1 {
		t.Fatalf("expected 1 case, got %d", len(corpus.Cases))
	}
}

func TestParseCorpusRejectsMissingFields(t *testing.T) {
	cases := map[string]string{
		"missing message": `[{"is_request": true}]`,
		"empty message":   `[{"message_text": "   ", "is_request": true}]`,
		"missing label":   `[{"message_text": "engineers"}]`,
		"no cases":        `{"cases": []}`,
		"empty input":     ``,
	}
	for name, raw := range cases {
		if _, err := ParseCorpus([]byte(raw), "test"); err == nil {
			t.Fatalf("%s: expected load error", name)
		}
	}
}

func TestLoadCorpusFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.json")
	content := `[{"message_text": "founders in fintech", "is_request": true}]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp corpus: %v", err)
	}
	corpus, err := LoadCorpus(path)
	if err != nil {
		t.Fatalf("LoadCorpus returned error: %v", err)
	}
	if corpus.Name != "custom" {
		t.Fatalf("expected name derived from file, got %q", corpus.Name)
	}
	if len(corpus.Cases) != 1 {
		t.Fatalf("expected 1 case, got %d", len(corpus.Cases))
	}
}

func TestLoadCorpusMissingFile(t *testing.T) {
	if _, err := LoadCorpus(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatalf("expected error for missing corpus file")
	}
}
