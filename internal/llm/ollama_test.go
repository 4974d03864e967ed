package llm

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseTextToolCalls(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantCount int
		wantName  string // First tool name if wantCount > 0
	}{
		{
			name:      "empty content",
			content:   "",
			wantCount: 0,
		},
		{
			name:      "whitespace only",
			content:   "   \n\t  ",
			wantCount: 0,
		},
		{
			name:      "plain text no JSON",
			content:   "You have three open tasks.",
			wantCount: 0,
		},
		{
			name:      "single tool call object",
			content:   `{"name": "list_tasks", "arguments": {"status": "open"}}`,
			wantCount: 1,
			wantName:  "list_tasks",
		},
		{
			name:      "single tool call with whitespace",
			content:   `  {"name": "get_task", "arguments": {"id": 3}}  `,
			wantCount: 1,
			wantName:  "get_task",
		},
		{
			name:      "array of tool calls",
			content:   `[{"name": "get_task", "arguments": {"id": 1}}, {"name": "list_tasks", "arguments": {}}]`,
			wantCount: 2,
			wantName:  "get_task",
		},
		{
			name:      "tagged tool call",
			content:   `<tool_call>{"name": "create_task", "arguments": {"description": "buy milk"}}</tool_call>`,
			wantCount: 1,
			wantName:  "create_task",
		},
		{
			name:      "tagged tool call without closing tag",
			content:   `<tool_call>{"name": "list_tasks", "arguments": {}}`,
			wantCount: 1,
			wantName:  "list_tasks",
		},
		{
			name:      "empty arguments",
			content:   `{"name": "list_tasks", "arguments": {}}`,
			wantCount: 1,
			wantName:  "list_tasks",
		},
		{
			name:      "nested arguments",
			content:   `{"name": "update_task", "arguments": {"id": 2, "fields": {"description": "call mom"}}}`,
			wantCount: 1,
			wantName:  "update_task",
		},
		{
			name:      "malformed JSON",
			content:   `{"name": "get_task", "arguments": {`,
			wantCount: 0,
		},
		{
			name:      "JSON without name field",
			content:   `{"foo": "bar", "arguments": {}}`,
			wantCount: 0,
		},
		{
			name:      "JSON with empty name",
			content:   `{"name": "", "arguments": {}}`,
			wantCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTextToolCalls(tt.content)

			if len(got) != tt.wantCount {
				t.Errorf("parseTextToolCalls() returned %d tools, want %d", len(got), tt.wantCount)
				return
			}

			if tt.wantCount > 0 && got[0].Function.Name != tt.wantName {
				t.Errorf("parseTextToolCalls() first tool name = %q, want %q", got[0].Function.Name, tt.wantName)
			}
		})
	}
}

func TestParseTextToolCalls_Arguments(t *testing.T) {
	content := `{"name": "create_task", "arguments": {"description": "water the plants", "user_id": "alice"}}`

	calls := parseTextToolCalls(content)
	if len(calls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(calls))
	}

	args := calls[0].Function.Arguments
	if args["description"] != "water the plants" {
		t.Errorf("description = %v, want 'water the plants'", args["description"])
	}
	if args["user_id"] != "alice" {
		t.Errorf("user_id = %v, want 'alice'", args["user_id"])
	}
}

func TestOllamaChat_NativeToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Stream {
			t.Error("expected stream=false")
		}
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Model: req.Model,
			Message: Message{
				Role: "assistant",
				ToolCalls: []ToolCall{
					{Function: ToolFunction{Name: "list_tasks", Arguments: map[string]any{}}},
				},
			},
			Done:            true,
			PromptEvalCount: 12,
			EvalCount:       7,
		})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL)
	resp, err := c.Chat(t.Context(), "qwen3:4b", []Message{{Role: "user", Content: "show my tasks"}}, nil)
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if len(resp.Message.ToolCalls) != 1 || resp.Message.ToolCalls[0].Function.Name != "list_tasks" {
		t.Fatalf("tool calls = %+v, want one list_tasks call", resp.Message.ToolCalls)
	}
	if resp.InputTokens != 12 || resp.OutputTokens != 7 {
		t.Errorf("tokens = %d/%d, want 12/7", resp.InputTokens, resp.OutputTokens)
	}
}

func TestOllamaChat_TextToolCallFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Model: "qwen3:4b",
			Message: Message{
				Role:    "assistant",
				Content: `{"name": "create_task", "arguments": {"description": "buy milk"}}`,
			},
			Done: true,
		})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL)
	resp, err := c.Chat(t.Context(), "qwen3:4b", []Message{{Role: "user", Content: "add buy milk"}}, nil)
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if len(resp.Message.ToolCalls) != 1 || resp.Message.ToolCalls[0].Function.Name != "create_task" {
		t.Fatalf("tool calls = %+v, want one create_task call", resp.Message.ToolCalls)
	}
	if resp.Message.Content != "" {
		t.Errorf("content should be cleared when parsed as tool call, got %q", resp.Message.Content)
	}
}

func TestOllamaChat_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL)
	_, err := c.Chat(t.Context(), "missing:model", []Message{{Role: "user", Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestOllamaPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL)
	if err := c.Ping(t.Context()); err != nil {
		t.Fatalf("Ping error: %v", err)
	}
}

func TestOllamaListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[{"name":"qwen3:4b"},{"name":"llama3.2:3b"}]}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL)
	models, err := c.ListModels(t.Context())
	if err != nil {
		t.Fatalf("ListModels error: %v", err)
	}
	if len(models) != 2 || models[0] != "qwen3:4b" {
		t.Errorf("models = %v, want [qwen3:4b llama3.2:3b]", models)
	}
}
