// Package agent implements the conversational turn loop: take one user
// message, let the model request tools until it produces a final
// answer, and leave a durable record of everything that happened.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/taskherd/taskherd/internal/catalog"
	"github.com/taskherd/taskherd/internal/convo"
	"github.com/taskherd/taskherd/internal/gateway"
	"github.com/taskherd/taskherd/internal/llm"
	"github.com/taskherd/taskherd/internal/prompts"
)

// Config holds the loop's tunables, normally sourced from the agent
// section of the config file.
type Config struct {
	Model         string
	MaxIterations int
	HistoryLimit  int
	ModelTimeout  time.Duration
	ToolTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 6
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 40
	}
	if c.ModelTimeout <= 0 {
		c.ModelTimeout = 60 * time.Second
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 10 * time.Second
	}
	return c
}

// ToolCallSummary reports one tool invocation from a completed turn.
type ToolCallSummary struct {
	Tool    string `json:"tool"`
	Status  string `json:"status"`
	Outcome string `json:"outcome"`
}

// Result is the outcome of one completed turn.
type Result struct {
	Answer         string            `json:"answer"`
	ConversationID string            `json:"conversation_id"`
	Model          string            `json:"model"`
	ToolCalls      []ToolCallSummary `json:"tool_calls,omitempty"`

	// Truncated is set when the turn hit the iteration cap and the
	// answer is a fallback rather than a model response.
	Truncated bool `json:"truncated,omitempty"`
}

// Loop runs conversational turns. One Loop serves all users; per
// conversation turns are serialized through the busy registry.
type Loop struct {
	logger  *slog.Logger
	llm     llm.Client
	gateway *gateway.Gateway
	convo   *convo.Store
	catalog *catalog.Catalog
	cfg     Config

	mu   sync.Mutex
	busy map[string]bool
}

// NewLoop creates a turn loop.
func NewLoop(logger *slog.Logger, client llm.Client, gw *gateway.Gateway, conversations *convo.Store, cat *catalog.Catalog, cfg Config) *Loop {
	return &Loop{
		logger:  logger.With("component", "agent"),
		llm:     client,
		gateway: gw,
		convo:   conversations,
		catalog: cat,
		cfg:     cfg.withDefaults(),
		busy:    make(map[string]bool),
	}
}

// Process runs one turn: append the user message, query the model with
// the tool catalog, execute requested tools through the gateway, and
// return the final assistant answer. onEvent may be nil.
//
// The user message is persisted before the first model call, so a model
// outage never loses what the user said.
func (l *Loop) Process(ctx context.Context, userID, conversationID, text string, onEvent EventFunc) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if conversationID == "" {
		conversationID = userID
	}

	owner, err := l.convo.Owner(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("check conversation owner: %w", err)
	}
	if owner != "" && owner != userID {
		return nil, ErrNotConversationOwner
	}

	if !l.acquire(conversationID) {
		return nil, ErrConversationBusy
	}
	defer l.release(conversationID)

	started := time.Now()
	l.logger.Info("turn started",
		"user", userID,
		"conversation", conversationID,
		"model", l.cfg.Model,
	)

	history, err := l.convo.RecentHistory(ctx, conversationID, l.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	if _, err := l.convo.AppendMessage(ctx, userID, conversationID, "user", text); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: prompts.SystemPrompt(time.Now())})
	for _, m := range history {
		// Replayed tool results have no live tool_use correlation, so
		// they are reseeded as plain text instead of tool-role messages.
		if m.Role == "tool" {
			messages = append(messages, llm.Message{
				Role:    "user",
				Content: "[tool result from an earlier turn] " + m.Content,
			})
			continue
		}
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: text})

	tools := l.catalog.LLMTools()

	result := &Result{
		ConversationID: conversationID,
		Model:          l.cfg.Model,
	}
	nudged := false

	for iter := 0; iter < l.cfg.MaxIterations; iter++ {
		resp, err := l.chat(ctx, messages, tools)
		if err != nil {
			return nil, err
		}

		if len(resp.Message.ToolCalls) == 0 {
			answer := strings.TrimSpace(resp.Message.Content)
			if answer == "" {
				// Small models occasionally return a blank
				// message after heavy tool use. Prompt once for
				// a proper answer before giving up.
				if !nudged {
					nudged = true
					messages = append(messages, llm.Message{Role: "user", Content: prompts.EmptyResponseNudge})
					continue
				}
				answer = prompts.EmptyResponseFallback
			}
			return l.finish(ctx, userID, result, answer, false, started, onEvent)
		}

		messages = append(messages, resp.Message)

		for _, tc := range resp.Message.ToolCalls {
			emit(onEvent, Event{Kind: EventToolCallStart, Tool: tc.Function.Name})
			toolMsg, summary, err := l.runTool(ctx, userID, conversationID, tc)
			if err != nil {
				return nil, err
			}
			messages = append(messages, toolMsg)
			result.ToolCalls = append(result.ToolCalls, summary)
			emit(onEvent, Event{
				Kind:   EventToolCallDone,
				Tool:   summary.Tool,
				Status: summary.Status,
			})
		}
	}

	l.logger.Warn("iteration cap reached",
		"conversation", conversationID,
		"tool_calls", len(result.ToolCalls),
	)
	return l.finish(ctx, userID, result, prompts.MaxIterationsFallback, true, started, onEvent)
}

// chat calls the model under the configured deadline.
func (l *Loop) chat(ctx context.Context, messages []llm.Message, tools []map[string]any) (*llm.ChatResponse, error) {
	chatCtx, cancel := context.WithTimeout(ctx, l.cfg.ModelTimeout)
	defer cancel()

	resp, err := l.llm.Chat(chatCtx, l.cfg.Model, messages, tools)
	if err != nil {
		if errors.Is(chatCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, ErrModelTimeout
		}
		return nil, fmt.Errorf("model query: %w", err)
	}
	return resp, nil
}

// runTool executes one requested tool call through the gateway and
// records it. Tool failures come back as data for the model; only a
// conversation store failure aborts the turn.
func (l *Loop) runTool(ctx context.Context, userID, conversationID string, tc llm.ToolCall) (llm.Message, ToolCallSummary, error) {
	name := tc.Function.Name
	args := tc.Function.Arguments

	start := time.Now()

	toolCtx, cancel := context.WithTimeout(ctx, l.cfg.ToolTimeout)
	res := l.gateway.Execute(toolCtx, userID, name, args)
	cancel()
	elapsed := time.Since(start)

	resultJSON := res.JSON()

	msg, err := l.convo.AppendMessage(ctx, userID, conversationID, "tool", resultJSON)
	if err != nil {
		return llm.Message{}, ToolCallSummary{}, fmt.Errorf("append tool message: %w", err)
	}

	argsJSON, _ := json.Marshal(args)
	rec := convo.ToolCallRecord{
		ConversationID: conversationID,
		ToolName:       name,
		Arguments:      string(argsJSON),
		Result:         resultJSON,
		Status:         string(res.Status),
		DurationMs:     elapsed.Milliseconds(),
		MessageID:      msg.ID,
	}
	if err := l.convo.RecordToolCall(ctx, rec); err != nil {
		return llm.Message{}, ToolCallSummary{}, fmt.Errorf("record tool call: %w", err)
	}

	l.logger.Debug("tool executed",
		"tool", name,
		"status", res.Status,
		"duration_ms", elapsed.Milliseconds(),
	)

	return llm.Message{Role: "tool", Content: resultJSON, ToolCallID: tc.ID}, ToolCallSummary{
		Tool:    name,
		Status:  string(res.Status),
		Outcome: res.Outcome(),
	}, nil
}

// finish persists the assistant answer and closes out the turn.
func (l *Loop) finish(ctx context.Context, userID string, result *Result, answer string, truncated bool, started time.Time, onEvent EventFunc) (*Result, error) {
	if _, err := l.convo.AppendMessage(ctx, userID, result.ConversationID, "assistant", answer); err != nil {
		return nil, fmt.Errorf("append assistant message: %w", err)
	}

	result.Answer = answer
	result.Truncated = truncated

	l.logger.Info("turn completed",
		"conversation", result.ConversationID,
		"tool_calls", len(result.ToolCalls),
		"truncated", truncated,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	emit(onEvent, Event{
		Kind:    EventDone,
		Answer:  answer,
		Elapsed: time.Since(started).Milliseconds(),
	})
	return result, nil
}

func (l *Loop) acquire(conversationID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy[conversationID] {
		return false
	}
	l.busy[conversationID] = true
	return true
}

func (l *Loop) release(conversationID string) {
	l.mu.Lock()
	delete(l.busy, conversationID)
	l.mu.Unlock()
}

func emit(fn EventFunc, ev Event) {
	if fn != nil {
		fn(ev)
	}
}
