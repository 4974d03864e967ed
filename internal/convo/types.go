// Package convo persists conversation history and the tool-call audit
// trail. Messages are immutable once appended and totally ordered per
// conversation by a store-assigned sequence number.
package convo

import "time"

// Message is one entry in a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Seq            int64     `json:"seq"`
	Role           string    `json:"role"` // user, assistant, or tool
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// ToolCallRecord is the audit record for one tool invocation.
type ToolCallRecord struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id,omitempty"` // persisted tool-role message
	ToolName       string    `json:"tool_name"`
	Arguments      string    `json:"arguments"` // canonical JSON
	Result         string    `json:"result"`    // payload or error descriptor
	Status         string    `json:"status"`    // gateway status string
	ExecutedAt     time.Time `json:"executed_at"`
	DurationMs     int64     `json:"duration_ms"`
}
