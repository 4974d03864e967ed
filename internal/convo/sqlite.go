package convo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store is a SQLite-backed conversation store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the conversation database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	store, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewStore creates a conversation store on an existing database handle,
// running migrations on first use.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate conversations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE,
		UNIQUE (conversation_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);

	CREATE TABLE IF NOT EXISTS tool_calls (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		message_id TEXT,
		tool_name TEXT NOT NULL,
		arguments TEXT NOT NULL,
		result TEXT,
		status TEXT NOT NULL,
		executed_at TIMESTAMP NOT NULL,
		duration_ms INTEGER,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_conversation ON tool_calls(conversation_id, executed_at);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_tool ON tool_calls(tool_name);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendMessage appends a message to a conversation, creating the
// conversation on first use. The sequence number is assigned inside a
// transaction so concurrent appends to different conversations never
// collide and a single conversation's order has no gaps from races.
func (s *Store) AppendMessage(ctx context.Context, userID, conversationID, role, content string) (*Message, error) {
	now := time.Now().UTC()
	msgID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversations (id, user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, conversationID, userID, now, now)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?
	`, conversationID).Scan(&seq)
	if err != nil {
		return nil, fmt.Errorf("next seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, seq, role, content, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msgID.String(), conversationID, seq, role, content, now)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at = ? WHERE id = ?
	`, now, conversationID)
	if err != nil {
		return nil, fmt.Errorf("update conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &Message{
		ID:             msgID.String(),
		ConversationID: conversationID,
		Seq:            seq,
		Role:           role,
		Content:        content,
		Timestamp:      now,
	}, nil
}

// RecentHistory returns the most recent limit messages of a
// conversation, oldest first.
func (s *Store) RecentHistory(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 40
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, seq, role, content, timestamp FROM (
			SELECT id, conversation_id, seq, role, content, timestamp
			FROM messages
			WHERE conversation_id = ?
			ORDER BY seq DESC
			LIMIT ?
		) ORDER BY seq ASC
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent history: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Owner returns the user id that owns a conversation, or "" when the
// conversation does not exist yet.
func (s *Store) Owner(ctx context.Context, conversationID string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM conversations WHERE id = ?
	`, conversationID).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("conversation owner: %w", err)
	}
	return userID, nil
}

// RecordToolCall writes one tool-call audit record. An empty ID is
// assigned a fresh uuid.
func (s *Store) RecordToolCall(ctx context.Context, rec ToolCallRecord) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("tool call id: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.ExecutedAt.IsZero() {
		rec.ExecutedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_calls (id, conversation_id, message_id, tool_name, arguments, result, status, executed_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.ConversationID, rec.MessageID, rec.ToolName, rec.Arguments, rec.Result, rec.Status, rec.ExecutedAt, rec.DurationMs)
	if err != nil {
		return fmt.Errorf("insert tool call: %w", err)
	}
	return nil
}

// ToolCalls returns the most recent tool-call records for a
// conversation, newest first.
func (s *Store) ToolCalls(ctx context.Context, conversationID string, limit int) ([]ToolCallRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, COALESCE(message_id, ''), tool_name, arguments, COALESCE(result, ''), status, executed_at, COALESCE(duration_ms, 0)
		FROM tool_calls
		WHERE conversation_id = ?
		ORDER BY executed_at DESC, id DESC
		LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list tool calls: %w", err)
	}
	defer rows.Close()

	var recs []ToolCallRecord
	for rows.Next() {
		var r ToolCallRecord
		if err := rows.Scan(&r.ID, &r.ConversationID, &r.MessageID, &r.ToolName, &r.Arguments, &r.Result, &r.Status, &r.ExecutedAt, &r.DurationMs); err != nil {
			return nil, fmt.Errorf("scan tool call: %w", err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Stats returns store statistics for introspection endpoints.
func (s *Store) Stats() map[string]any {
	var convCount, msgCount, callCount int

	_ = s.db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&convCount)
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&msgCount)
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM tool_calls`).Scan(&callCount)

	return map[string]any{
		"conversations": convCount,
		"messages":      msgCount,
		"tool_calls":    callCount,
		"storage":       "sqlite",
	}
}
