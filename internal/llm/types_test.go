package llm

import (
	"encoding/json"
	"testing"
)

// Representative Ollama /api/chat payloads captured from real interactions.

func TestOllamaWireResponse_BasicChat(t *testing.T) {
	raw := `{
		"model": "qwen3:4b",
		"created_at": "2026-02-11T15:00:00.123456789Z",
		"message": {
			"role": "assistant",
			"content": "You have two open tasks."
		},
		"done": true,
		"total_duration": 1234567890,
		"prompt_eval_count": 42,
		"eval_count": 15,
		"eval_duration": 600000000
	}`

	var wire ollamaChatResponse
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if wire.Model != "qwen3:4b" {
		t.Errorf("Model = %q, want %q", wire.Model, "qwen3:4b")
	}
	if wire.Message.Role != "assistant" {
		t.Errorf("Message.Role = %q, want %q", wire.Message.Role, "assistant")
	}
	if wire.Message.Content != "You have two open tasks." {
		t.Errorf("Message.Content = %q", wire.Message.Content)
	}
	if !wire.Done {
		t.Error("Done = false, want true")
	}
	if wire.PromptEvalCount != 42 || wire.EvalCount != 15 {
		t.Errorf("token counts = %d/%d, want 42/15", wire.PromptEvalCount, wire.EvalCount)
	}
}

func TestOllamaWireResponse_WithToolCalls(t *testing.T) {
	// Ollama sends arguments as a JSON object, not a string
	raw := `{
		"model": "qwen2.5:72b",
		"created_at": "2026-02-11T15:01:00Z",
		"message": {
			"role": "assistant",
			"content": "",
			"tool_calls": [
				{
					"function": {
						"name": "create_task",
						"arguments": {"description": "buy milk", "user_id": "alice"}
					}
				}
			]
		},
		"done": true
	}`

	var wire ollamaChatResponse
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if len(wire.Message.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(wire.Message.ToolCalls))
	}
	tc := wire.Message.ToolCalls[0]
	if tc.Function.Name != "create_task" {
		t.Errorf("name = %q, want create_task", tc.Function.Name)
	}
	if tc.Function.Arguments["description"] != "buy milk" {
		t.Errorf("arguments = %v", tc.Function.Arguments)
	}
}

func TestMessage_ToolCallIDOmittedWhenEmpty(t *testing.T) {
	data, err := json.Marshal(Message{Role: "user", Content: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"role":"user","content":"hi"}` {
		t.Errorf("marshal = %s, want empty fields omitted", data)
	}
}
