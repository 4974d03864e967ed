package catalog

import (
	"testing"
)

func TestDefault_ToolSet(t *testing.T) {
	c := Default()
	defs := c.Describe()

	want := []string{
		"create_task", "delete_task", "get_task", "list_tasks",
		"search_tasks", "toggle_task", "update_task",
	}
	if len(defs) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(defs))
	}
	for i, name := range want {
		if defs[i].Name != name {
			t.Errorf("defs[%d] = %q, want %q (stable name order)", i, defs[i].Name, name)
		}
	}
}

func TestDefault_AllOwnerScoped(t *testing.T) {
	for _, d := range Default().Describe() {
		if !d.OwnerScoped {
			t.Errorf("%s: expected owner scoped", d.Name)
		}
	}
}

func TestDefault_SideEffects(t *testing.T) {
	reads := map[string]bool{"list_tasks": true, "get_task": true, "search_tasks": true}

	for _, d := range Default().Describe() {
		want := SideEffectWrite
		if reads[d.Name] {
			want = SideEffectRead
		}
		if d.SideEffect != want {
			t.Errorf("%s: side effect = %q, want %q", d.Name, d.SideEffect, want)
		}
	}
}

func TestLookup(t *testing.T) {
	c := Default()

	d, ok := c.Lookup("create_task")
	if !ok {
		t.Fatal("create_task not found")
	}
	if d.Name != "create_task" {
		t.Errorf("name = %q", d.Name)
	}

	if _, ok := c.Lookup("drop_tables"); ok {
		t.Error("unknown tool should not resolve")
	}
}

func TestDescribe_ReturnsCopy(t *testing.T) {
	c := Default()

	defs := c.Describe()
	defs[0].Name = "mutated"

	again := c.Describe()
	if again[0].Name == "mutated" {
		t.Error("Describe must return a copy, not the backing slice")
	}
}

func TestLLMTools_WireFormat(t *testing.T) {
	tools := Default().LLMTools()
	if len(tools) != 7 {
		t.Fatalf("expected 7 tools, got %d", len(tools))
	}

	for _, tool := range tools {
		if tool["type"] != "function" {
			t.Errorf("type = %v, want function", tool["type"])
		}
		fn, ok := tool["function"].(map[string]any)
		if !ok {
			t.Fatalf("function is %T", tool["function"])
		}
		name, _ := fn["name"].(string)
		if name == "" {
			t.Error("missing tool name")
		}
		if fn["parameters"] == nil {
			t.Errorf("%s: missing parameters schema", name)
		}
	}
}

func TestDefault_ParameterSchemas(t *testing.T) {
	c := Default()

	tests := []struct {
		tool     string
		required []string
	}{
		{"create_task", []string{"description"}},
		{"get_task", []string{"id"}},
		{"update_task", []string{"id"}},
		{"toggle_task", []string{"id"}},
		{"delete_task", []string{"id"}},
		{"search_tasks", []string{"query"}},
		{"list_tasks", nil},
	}

	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			d, ok := c.Lookup(tt.tool)
			if !ok {
				t.Fatalf("%s not found", tt.tool)
			}
			if d.Parameters["type"] != "object" {
				t.Errorf("schema type = %v", d.Parameters["type"])
			}
			req, _ := d.Parameters["required"].([]string)
			if len(req) != len(tt.required) {
				t.Fatalf("required = %v, want %v", req, tt.required)
			}
			for i := range req {
				if req[i] != tt.required[i] {
					t.Errorf("required[%d] = %q, want %q", i, req[i], tt.required[i])
				}
			}
		})
	}
}
