package agent

// EventKind identifies a progress event emitted during a turn.
type EventKind string

const (
	EventToolCallStart EventKind = "tool_call_start"
	EventToolCallDone  EventKind = "tool_call_done"
	EventDone          EventKind = "done"
)

// Event is a progress notification emitted while a turn runs. The
// websocket handler forwards these to clients so long turns show
// activity instead of a spinner.
type Event struct {
	Kind    EventKind `json:"type"`
	Tool    string    `json:"tool,omitempty"`
	Status  string    `json:"status,omitempty"`
	Answer  string    `json:"answer,omitempty"`
	Elapsed int64     `json:"elapsed_ms,omitempty"`
}

// EventFunc receives progress events. It is called synchronously from
// the turn goroutine, so implementations must not block.
type EventFunc func(Event)
