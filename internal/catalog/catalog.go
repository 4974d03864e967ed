// Package catalog defines the fixed set of task tools offered to the
// model. The catalog is built once at process start and never changes
// afterward; the gateway validates every invocation against it.
package catalog

import "sort"

// SideEffect classifies a tool as reading or mutating task state.
type SideEffect string

const (
	SideEffectRead  SideEffect = "read"
	SideEffectWrite SideEffect = "write"
)

// Definition describes one tool: its name, model-facing description,
// JSON-schema-shaped parameters, and scoping.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	SideEffect  SideEffect     `json:"side_effect"`
	// OwnerScoped tools operate on the authenticated user's data only.
	// The gateway supplies the user id; the model never does.
	OwnerScoped bool `json:"owner_scoped"`
}

// Catalog is an immutable set of tool definitions.
type Catalog struct {
	defs   []Definition
	byName map[string]int
}

// New builds a catalog from the given definitions, ordered by name.
func New(defs []Definition) *Catalog {
	sorted := make([]Definition, len(defs))
	copy(sorted, defs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	byName := make(map[string]int, len(sorted))
	for i, d := range sorted {
		byName[d.Name] = i
	}
	return &Catalog{defs: sorted, byName: byName}
}

// Describe returns all definitions in stable (name) order.
func (c *Catalog) Describe() []Definition {
	out := make([]Definition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Lookup returns the definition for a tool name.
func (c *Catalog) Lookup(name string) (Definition, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Definition{}, false
	}
	return c.defs[i], true
}

// LLMTools returns the catalog in the wire format the llm package
// sends to providers.
func (c *Catalog) LLMTools() []map[string]any {
	var result []map[string]any
	for _, d := range c.defs {
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        d.Name,
				"description": d.Description,
				"parameters":  d.Parameters,
			},
		})
	}
	return result
}

// Default builds the task tool catalog.
func Default() *Catalog {
	idParam := func(desc string) map[string]any {
		return map[string]any{
			"type":        "integer",
			"description": desc,
		}
	}

	return New([]Definition{
		{
			Name:        "create_task",
			Description: "Create a new task for the user. The task starts out incomplete.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"description": map[string]any{
						"type":        "string",
						"description": "What the task is (e.g., 'buy milk', 'call the dentist')",
					},
				},
				"required": []string{"description"},
			},
			SideEffect:  SideEffectWrite,
			OwnerScoped: true,
		},
		{
			Name:        "list_tasks",
			Description: "List the user's tasks. Optionally filter by completion status.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"completed": map[string]any{
						"type":        "boolean",
						"description": "If set, only return completed (true) or pending (false) tasks",
					},
				},
			},
			SideEffect:  SideEffectRead,
			OwnerScoped: true,
		},
		{
			Name:        "get_task",
			Description: "Get a single task by its ID.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": idParam("The task ID"),
				},
				"required": []string{"id"},
			},
			SideEffect:  SideEffectRead,
			OwnerScoped: true,
		},
		{
			Name:        "update_task",
			Description: "Update a task's description and/or completion status. Provide at least one field to change.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": idParam("The task ID to update"),
					"description": map[string]any{
						"type":        "string",
						"description": "New task description",
					},
					"completed": map[string]any{
						"type":        "boolean",
						"description": "New completion status",
					},
				},
				"required": []string{"id"},
			},
			SideEffect:  SideEffectWrite,
			OwnerScoped: true,
		},
		{
			Name:        "toggle_task",
			Description: "Flip a task between complete and incomplete.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": idParam("The task ID to toggle"),
				},
				"required": []string{"id"},
			},
			SideEffect:  SideEffectWrite,
			OwnerScoped: true,
		},
		{
			Name:        "delete_task",
			Description: "Permanently delete a task. Always confirm with the user before calling this tool.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": idParam("The task ID to delete"),
				},
				"required": []string{"id"},
			},
			SideEffect:  SideEffectWrite,
			OwnerScoped: true,
		},
		{
			Name:        "search_tasks",
			Description: "Search the user's tasks by description text (case-insensitive substring match).",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "Text to search for",
					},
				},
				"required": []string{"query"},
			},
			SideEffect:  SideEffectRead,
			OwnerScoped: true,
		},
	})
}
