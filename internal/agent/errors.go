package agent

import "errors"

var (
	// ErrConversationBusy means another turn is already in flight for
	// the same conversation. Callers should surface this as a retry
	// condition, not run turns concurrently.
	ErrConversationBusy = errors.New("conversation busy")

	// ErrModelTimeout means the model did not respond within the
	// configured deadline.
	ErrModelTimeout = errors.New("model timeout")

	// ErrEmptyMessage means the user message was blank after trimming.
	ErrEmptyMessage = errors.New("empty message")

	// ErrNotConversationOwner means the conversation exists but
	// belongs to a different user.
	ErrNotConversationOwner = errors.New("conversation belongs to another user")
)
