package screen

import (
	"context"
	"errors"
	"testing"

	"screener-eval/internal/openai"
)

type stubCompleter struct {
	response *openai.ChatCompletionResponse
	err      error
	calls    int
	lastReq  openai.ChatCompletionRequest
}

func (s *stubCompleter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, *openai.RawResponse, error) {
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.response, nil, nil
}

func decisionResponse(arguments string, usage openai.Usage) *openai.ChatCompletionResponse {
	return &openai.ChatCompletionResponse{
		Choices: []openai.Choice{{
			Message: openai.ChoiceMessage{
				Role: "assistant",
				ToolCalls: []openai.ToolCall{{
					ID:   "call_1",
					Type: "function",
					Function: openai.ToolCallFunction{
						Name:      "is_valid_search",
						Arguments: arguments,
					},
				}},
			},
		}},
		Usage: usage,
	}
}

func TestSemanticFilterAllows(t *testing.T) {
	stub := &stubCompleter{response: decisionResponse(`{"is_valid_query": true, "why": ""}`, openai.Usage{})}
	filter := NewSemanticFilter(SemanticConfig{Client: stub, Model: "gpt-4o-mini"})

	allowed, reason := filter.Classify(context.Background(), "engineers in Austin")
	if !allowed {
		t.Fatalf("expected allow, got deny with %q", reason)
	}
	if stub.calls != 1 {
		t.Fatalf("expected one remote call, got %d", stub.calls)
	}
	if stub.lastReq.Model != "gpt-4o-mini" {
		t.Fatalf("expected model passed through, got %q", stub.lastReq.Model)
	}
	if len(stub.lastReq.Tools) != 1 || stub.lastReq.Tools[0].Function.Name != "is_valid_search" {
		t.Fatalf("expected the decision tool on the request")
	}
	if stub.lastReq.ToolChoice == nil {
		t.Fatalf("expected forced tool choice on the request")
	}
}

func TestSemanticFilterDeniesWithWhy(t *testing.T) {
	stub := &stubCompleter{response: decisionResponse(
		`{"is_valid_query": false, "why": "The platform searches networks for people; try naming a role or company."}`,
		openai.Usage{})}
	filter := NewSemanticFilter(SemanticConfig{Client: stub, Model: "gpt-4o-mini"})

	allowed, reason := filter.Classify(context.Background(), "hello")
	if allowed {
		t.Fatalf("expected deny")
	}
	if reason == "" {
		t.Fatalf("expected the model's explanation as the reason")
	}
}

func TestSemanticFilterFailsClosedOnTransportError(t *testing.T) {
	stub := &stubCompleter{err: errors.New("connection refused")}
	filter := NewSemanticFilter(SemanticConfig{Client: stub, Model: "gpt-4o-mini"})

	allowed, reason := filter.Classify(context.Background(), "engineers in Austin")
	if allowed {
		t.Fatalf("expected fail-closed deny on transport error")
	}
	if reason == "" {
		t.Fatalf("expected a non-empty fail-closed reason")
	}
}

func TestSemanticFilterFailsClosedOnAmbiguousResponse(t *testing.T) {
	cases := map[string]*openai.ChatCompletionResponse{
		"no choices":      {},
		"no tool calls":   {Choices: []openai.Choice{{Message: openai.ChoiceMessage{Content: "true"}}}},
		"wrong tool":      decisionResponse(`{"is_valid_query": true}`, openai.Usage{}),
		"malformed args":  decisionResponse(`{"is_valid_query":`, openai.Usage{}),
		"missing boolean": decisionResponse(`{"why": "maybe"}`, openai.Usage{}),
	}
	cases["wrong tool"].Choices[0].Message.ToolCalls[0].Function.Name = "other_tool"

	for name, response := range cases {
		stub := &stubCompleter{response: response}
		filter := NewSemanticFilter(SemanticConfig{Client: stub, Model: "gpt-4o-mini"})
		allowed, reason := filter.Classify(context.Background(), "msg")
		if allowed {
			t.Fatalf("%s: expected fail-closed deny", name)
		}
		if reason == "" {
			t.Fatalf("%s: expected non-empty fail-closed reason", name)
		}
	}
}

func TestSemanticFilterAccumulatesUsage(t *testing.T) {
	stub := &stubCompleter{response: decisionResponse(`{"is_valid_query": true}`,
		openai.Usage{PromptTokens: 100, CompletionTokens: 10, TotalTokens: 110})}
	filter := NewSemanticFilter(SemanticConfig{Client: stub, Model: "gpt-4o-mini"})

	filter.Classify(context.Background(), "one")
	filter.Classify(context.Background(), "two")

	usage := filter.Usage()
	if usage.PromptTokens != 200 || usage.CompletionTokens != 20 || usage.TotalTokens != 220 {
		t.Fatalf("unexpected accumulated usage: %+v", usage)
	}
}
