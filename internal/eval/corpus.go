package eval

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const embeddedCorpusRef = "embedded:internal/eval/corpus.json"

//go:embed corpus.json
var corpusJSON []byte

// Corpus is the ordered set of labeled cases an evaluation runs over.
type Corpus struct {
	Name   string
	Source string
	Cases  []TestCase
}

type corpusEnvelope struct {
	Version string    `json:"version,omitempty"`
	Name    string    `json:"name,omitempty"`
	Source  string    `json:"source,omitempty"`
	Cases   []rawCase `json:"cases"`
}

// rawCase uses pointers so a missing field is distinguishable from a zero
// value; both are load-time errors, never per-case conditions.
type rawCase struct {
	MessageText *string `json:"message_text"`
	IsRequest   *bool   `json:"is_request"`
}

// LoadCorpus reads the corpus at path, or the embedded default corpus when
// path is empty. Both the envelope schema ({name, cases: [...]}) and a bare
// array of cases are accepted. Any malformed record fails the whole load.
func LoadCorpus(path string) (Corpus, error) {
	data := corpusJSON
	ref := embeddedCorpusRef
	requested := strings.TrimSpace(path)
	if requested != "" {
		clean := filepath.Clean(requested)
		loaded, err := os.ReadFile(clean)
		if err != nil {
			return Corpus{}, fmt.Errorf("read corpus file %q: %w", clean, err)
		}
		data = loaded
		ref = clean
	}
	return ParseCorpus(data, ref)
}

func ParseCorpus(data []byte, ref string) (Corpus, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Corpus{}, fmt.Errorf("corpus %q is empty", ref)
	}

	var raw []rawCase
	name := defaultCorpusName(ref)
	source := ref
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return Corpus{}, fmt.Errorf("parse corpus array %q: %w", ref, err)
		}
	} else {
		var envelope corpusEnvelope
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return Corpus{}, fmt.Errorf("parse corpus envelope %q: %w", ref, err)
		}
		raw = envelope.Cases
		if strings.TrimSpace(envelope.Name) != "" {
			name = strings.TrimSpace(envelope.Name)
		}
		if strings.TrimSpace(envelope.Source) != "" {
			source = strings.TrimSpace(envelope.Source)
		}
	}

	cases, err := validateCases(raw, ref)
	if err != nil {
		return Corpus{}, err
	}
	return Corpus{Name: name, Source: source, Cases: cases}, nil
}

// validateCases enforces the load contract: every record needs a non-empty
// message and an explicit expectation, and the corpus must not be empty.
func validateCases(raw []rawCase, ref string) ([]TestCase, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("corpus %q has no cases", ref)
	}
	cases := make([]TestCase, 0, len(raw))
	for i, item := range raw {
		if item.MessageText == nil || strings.TrimSpace(*item.MessageText) == "" {
			return nil, fmt.Errorf("corpus %q case %d: message_text is missing or empty", ref, i)
		}
		if item.IsRequest == nil {
			return nil, fmt.Errorf("corpus %q case %d: is_request is missing", ref, i)
		}
		cases = append(cases, TestCase{
			MessageText: *item.MessageText,
			IsRequest:   *item.IsRequest,
		})
	}
	return cases, nil
}

func defaultCorpusName(ref string) string {
	if strings.HasPrefix(ref, "embedded:") {
		return "embedded-default"
	}
	base := filepath.Base(ref)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	name = strings.TrimSpace(name)
	if name == "" || name == "." {
		return "corpus"
	}
	return strings.ToLower(name)
}
