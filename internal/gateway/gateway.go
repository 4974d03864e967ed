// Package gateway is the single choke point between the model and the
// task store. Every tool invocation the model requests passes through
// Execute, which validates arguments against the catalog, enforces
// owner scoping, and converts store failures into results the model
// can read. Tool failures are data, never panics or aborted turns.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/taskherd/taskherd/internal/catalog"
	"github.com/taskherd/taskherd/internal/taskstore"
)

// Status classifies the outcome of one tool invocation.
type Status string

const (
	StatusOK               Status = "ok"
	StatusNotFound         Status = "not_found"
	StatusInvalidArguments Status = "invalid_arguments"
	StatusUnknownTool      Status = "unknown_tool"
	StatusUnavailable      Status = "unavailable"
)

// retryBackoff is the pause before the single retry of a transient
// store failure.
const retryBackoff = 250 * time.Millisecond

// Result is the outcome of one tool invocation, serialized back to
// the model as the tool-role message content.
type Result struct {
	Tool    string          `json:"tool"`
	Status  Status          `json:"status"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Err     string          `json:"error,omitempty"`
}

// Outcome collapses the status to success/failure for endpoint
// summaries and audit records.
func (r Result) Outcome() string {
	if r.Status == StatusOK {
		return "success"
	}
	return "failure"
}

// JSON renders the result for a tool-role message.
func (r Result) JSON() string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"tool":%q,"status":"unavailable","error":"encode result"}`, r.Tool)
	}
	return string(data)
}

// Gateway validates and executes tool invocations against the task store.
type Gateway struct {
	catalog *catalog.Catalog
	tasks   taskstore.Store
	logger  *slog.Logger
}

// New creates a gateway.
func New(cat *catalog.Catalog, tasks taskstore.Store, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		catalog: cat,
		tasks:   tasks,
		logger:  logger.With("component", "gateway"),
	}
}

// Execute runs one tool invocation for the authenticated user.
// The model-supplied args are untrusted: they are validated against
// the catalog schema before any store access, and any owner-like
// argument is discarded in favor of userID.
func (g *Gateway) Execute(ctx context.Context, userID, toolName string, args map[string]any) Result {
	def, ok := g.catalog.Lookup(toolName)
	if !ok {
		// The catalog is sent with every model query, so an unknown
		// name here is an anomaly worth flagging.
		g.logger.Warn("unknown tool requested", "tool", toolName, "user", userID)
		return Result{
			Tool:   toolName,
			Status: StatusUnknownTool,
			Err:    fmt.Sprintf("unknown tool %q", toolName),
		}
	}

	args = stripOwnerArgs(args)

	if err := validateArgs(def, args); err != nil {
		g.logger.Warn("invalid tool arguments",
			"tool", toolName, "user", userID, "error", err)
		return Result{
			Tool:   toolName,
			Status: StatusInvalidArguments,
			Err:    err.Error(),
		}
	}

	payload, err := g.dispatch(ctx, userID, def.Name, args)
	if err != nil {
		if errors.Is(err, taskstore.ErrNotFound) {
			return Result{
				Tool:   toolName,
				Status: StatusNotFound,
				Err:    "task not found",
			}
		}
		var ia *invalidArgsError
		if errors.As(err, &ia) {
			return Result{
				Tool:   toolName,
				Status: StatusInvalidArguments,
				Err:    ia.Error(),
			}
		}
		g.logger.Error("tool execution failed", "tool", toolName, "user", userID, "error", err)
		return Result{
			Tool:   toolName,
			Status: StatusUnavailable,
			Err:    "task store unavailable",
		}
	}

	return Result{Tool: toolName, Status: StatusOK, Payload: payload}
}

// invalidArgsError marks argument problems detected during dispatch
// (after schema validation), e.g. an empty update patch.
type invalidArgsError struct{ msg string }

func (e *invalidArgsError) Error() string { return e.msg }

// stripOwnerArgs removes any owner-identifying argument the model may
// have fabricated. The authenticated user id is the only identity the
// store ever sees.
func stripOwnerArgs(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	for _, key := range []string{"user_id", "userId", "user", "owner"} {
		delete(args, key)
	}
	return args
}

// validateArgs checks required fields and primitive types against the
// catalog schema before any store access.
func validateArgs(def catalog.Definition, args map[string]any) error {
	props, _ := def.Parameters["properties"].(map[string]any)
	required, _ := def.Parameters["required"].([]string)

	for _, name := range required {
		v, present := args[name]
		if !present {
			return fmt.Errorf("%s is required", name)
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s must not be empty", name)
		}
	}

	for name, v := range args {
		schema, known := props[name].(map[string]any)
		if !known {
			// Extra arguments are dropped rather than rejected; models
			// routinely add noise fields.
			delete(args, name)
			continue
		}
		wantType, _ := schema["type"].(string)
		if err := checkType(name, wantType, v); err != nil {
			return err
		}
	}

	return nil
}

func checkType(name, wantType string, v any) error {
	switch wantType {
	case "string":
		if _, ok := v.(string); !ok {
			return fmt.Errorf("%s must be a string", name)
		}
	case "integer":
		switch n := v.(type) {
		case float64:
			if n != math.Trunc(n) {
				return fmt.Errorf("%s must be an integer", name)
			}
		case int, int64:
		default:
			return fmt.Errorf("%s must be an integer", name)
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("%s must be a boolean", name)
		}
	}
	return nil
}

// dispatch routes a validated invocation to the task store.
func (g *Gateway) dispatch(ctx context.Context, userID, tool string, args map[string]any) (json.RawMessage, error) {
	switch tool {
	case "create_task":
		description := strings.TrimSpace(args["description"].(string))
		var task *taskstore.Task
		err := g.withRetry(ctx, func() error {
			var err error
			task, err = g.tasks.Create(ctx, userID, description)
			return err
		})
		if err != nil {
			return nil, err
		}
		return marshalPayload(task)

	case "list_tasks":
		var filter taskstore.ListFilter
		if v, ok := args["completed"].(bool); ok {
			filter.Completed = &v
		}
		var tasks []taskstore.Task
		err := g.withRetry(ctx, func() error {
			var err error
			tasks, err = g.tasks.List(ctx, userID, filter)
			return err
		})
		if err != nil {
			return nil, err
		}
		return marshalPayload(taskList(tasks))

	case "get_task":
		id := argInt64(args, "id")
		var task *taskstore.Task
		err := g.withRetry(ctx, func() error {
			var err error
			task, err = g.tasks.Get(ctx, userID, id)
			return err
		})
		if err != nil {
			return nil, err
		}
		return marshalPayload(task)

	case "update_task":
		var patch taskstore.Patch
		if v, ok := args["description"].(string); ok {
			trimmed := strings.TrimSpace(v)
			if trimmed == "" {
				return nil, &invalidArgsError{msg: "description must not be empty"}
			}
			patch.Description = &trimmed
		}
		if v, ok := args["completed"].(bool); ok {
			patch.Completed = &v
		}
		if patch.Empty() {
			return nil, &invalidArgsError{msg: "provide description and/or completed"}
		}
		id := argInt64(args, "id")
		var task *taskstore.Task
		err := g.withRetry(ctx, func() error {
			var err error
			task, err = g.tasks.Update(ctx, userID, id, patch)
			return err
		})
		if err != nil {
			return nil, err
		}
		return marshalPayload(task)

	case "toggle_task":
		id := argInt64(args, "id")
		var task *taskstore.Task
		err := g.withRetry(ctx, func() error {
			var err error
			task, err = g.tasks.Toggle(ctx, userID, id)
			return err
		})
		if err != nil {
			return nil, err
		}
		return marshalPayload(task)

	case "delete_task":
		id := argInt64(args, "id")
		err := g.withRetry(ctx, func() error {
			return g.tasks.Delete(ctx, userID, id)
		})
		if err != nil {
			return nil, err
		}
		return marshalPayload(map[string]any{"deleted": id})

	case "search_tasks":
		query := strings.TrimSpace(args["query"].(string))
		var tasks []taskstore.Task
		err := g.withRetry(ctx, func() error {
			var err error
			tasks, err = g.tasks.Search(ctx, userID, query)
			return err
		})
		if err != nil {
			return nil, err
		}
		return marshalPayload(taskList(tasks))

	default:
		// Catalog and dispatch disagree; treat as unknown.
		return nil, fmt.Errorf("no handler for tool %q", tool)
	}
}

// withRetry runs fn, retrying once after a short backoff on transient
// store errors. Not-found and argument errors are never retried.
func (g *Gateway) withRetry(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || errors.Is(err, taskstore.ErrNotFound) {
		return err
	}
	var ia *invalidArgsError
	if errors.As(err, &ia) {
		return err
	}

	g.logger.Debug("retrying store call after transient error", "error", err)
	timer := time.NewTimer(retryBackoff)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
	}

	return fn()
}

// taskList keeps empty results as [] rather than null in payloads.
func taskList(tasks []taskstore.Task) []taskstore.Task {
	if tasks == nil {
		return []taskstore.Task{}
	}
	return tasks
}

func marshalPayload(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return data, nil
}

// argInt64 reads a validated integer argument. JSON decoding yields
// float64; tests may supply native ints.
func argInt64(args map[string]any, name string) int64 {
	switch n := args[name].(type) {
	case float64:
		return int64(n)
	case int:
		return int64(n)
	case int64:
		return n
	}
	return 0
}
