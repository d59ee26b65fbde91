// Package conversations persists chat transcripts to SQLite so sessions can
// be resumed across process restarts.
package conversations

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/aschepis/llmrelay/llm"
)

// Store handles persistence of conversation messages keyed by session ID.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store over an open database handle. The schema must
// already be migrated.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append saves one message to the transcript of the given session.
func (s *Store) Append(ctx context.Context, sessionID string, msg llm.Message) error {
	var toolCalls sql.NullString
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool calls: %w", err)
		}
		toolCalls = sql.NullString{String: string(data), Valid: true}
	}

	query := sq.Insert("messages").
		Columns("session_id", "role", "content", "tool_call_id", "tool_calls", "created_at").
		Values(sessionID, string(msg.Role), msg.Content, nullable(msg.ToolCallID), toolCalls, time.Now().Unix())

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	_, err = s.db.ExecContext(ctx, queryStr, args...)
	return err
}

// Load returns the full transcript for a session in insertion order.
func (s *Store) Load(ctx context.Context, sessionID string) ([]llm.Message, error) {
	query := sq.Select("role", "content", "tool_call_id", "tool_calls").
		From("messages").
		Where(sq.Eq{"session_id": sessionID}).
		OrderBy("id ASC")

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close() //nolint:errcheck // No remedy for rows close errors

	var messages []llm.Message
	for rows.Next() {
		var role, content string
		var toolCallID, toolCalls sql.NullString
		if err := rows.Scan(&role, &content, &toolCallID, &toolCalls); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		msg := llm.Message{
			Role:       llm.MessageRole(role),
			Content:    content,
			ToolCallID: toolCallID.String,
		}
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to decode tool calls: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Replace atomically rewrites a session's transcript. Compaction uses this
// to persist the post-compaction history.
func (s *Store) Replace(ctx context.Context, sessionID string, messages []llm.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op

	delQuery, delArgs, err := sq.Delete("messages").Where(sq.Eq{"session_id": sessionID}).ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, delQuery, delArgs...); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}

	now := time.Now().Unix()
	for _, msg := range messages {
		var toolCalls sql.NullString
		if len(msg.ToolCalls) > 0 {
			data, err := json.Marshal(msg.ToolCalls)
			if err != nil {
				return fmt.Errorf("marshal tool calls: %w", err)
			}
			toolCalls = sql.NullString{String: string(data), Valid: true}
		}

		insQuery, insArgs, err := sq.Insert("messages").
			Columns("session_id", "role", "content", "tool_call_id", "tool_calls", "created_at").
			Values(sessionID, string(msg.Role), msg.Content, nullable(msg.ToolCallID), toolCalls, now).
			ToSql()
		if err != nil {
			return fmt.Errorf("build query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insQuery, insArgs...); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	return tx.Commit()
}

// Sessions lists known session IDs, most recently updated first.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	query := sq.Select("session_id").
		From("messages").
		GroupBy("session_id").
		OrderBy("MAX(created_at) DESC")

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close() //nolint:errcheck // No remedy for rows close errors

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes a session's transcript.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	queryStr, args, err := sq.Delete("messages").Where(sq.Eq{"session_id": sessionID}).ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	_, err = s.db.ExecContext(ctx, queryStr, args...)
	return err
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
