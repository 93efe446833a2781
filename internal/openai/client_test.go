package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateChatCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Fatalf("unexpected authorization header: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"message": {
					"role": "assistant",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "is_valid_search", "arguments": "{\"is_valid_query\": true}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 50, "completion_tokens": 8, "total_tokens": 58}
		}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, APIKey: "sk-test"})
	resp, raw, err := client.CreateChatCompletion(context.Background(), ChatCompletionRequest{
		Model:    "gpt-4o-mini",
		Messages: []ChatMessage{{Role: "user", Content: "engineers in Austin"}},
	})
	if err != nil {
		t.Fatalf("CreateChatCompletion returned error: %v", err)
	}
	if raw.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", raw.StatusCode)
	}
	if len(resp.Choices) != 1 {
		t.Fatalf("expected one choice, got %d", len(resp.Choices))
	}
	calls := resp.Choices[0].Message.ToolCalls
	if len(calls) != 1 || calls[0].Function.Name != "is_valid_search" {
		t.Fatalf("unexpected tool calls: %+v", calls)
	}
	if resp.Usage.TotalTokens != 58 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
}

func TestCreateChatCompletionAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "Incorrect API key provided", "type": "invalid_request_error"}}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, APIKey: "sk-bad"})
	_, raw, err := client.CreateChatCompletion(context.Background(), ChatCompletionRequest{Model: "gpt-4o-mini"})
	if err == nil {
		t.Fatalf("expected error for 401 response")
	}
	if raw == nil || raw.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected raw response with 401")
	}
	apiErr, ok := IsAPIError(err)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Envelope.Error.Type != "invalid_request_error" {
		t.Fatalf("unexpected error envelope: %+v", apiErr.Envelope)
	}
}

func TestForcedToolChoice(t *testing.T) {
	choice := ForcedToolChoice("is_valid_search")
	if choice["type"] != "function" {
		t.Fatalf("unexpected type: %v", choice["type"])
	}
	fn, ok := choice["function"].(map[string]any)
	if !ok || fn["name"] != "is_valid_search" {
		t.Fatalf("unexpected function entry: %v", choice["function"])
	}
}
