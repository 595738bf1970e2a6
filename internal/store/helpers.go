package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

const outboxColumns = `id, sender_id, kind, body, status, attempts, next_attempt_at, locked_at, last_error, created_at, updated_at`

const conversationColumns = `sender_id, stage, data, lead_id, created_at, updated_at`

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanOutboxMessages drains rows into outbox messages and closes them.
func scanOutboxMessages(rows *sql.Rows) ([]OutboxMessage, error) {
	defer rows.Close()
	var msgs []OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		var lastError sql.NullString
		var nextAttemptAt, lockedAt sql.NullTime
		if err := rows.Scan(
			&m.ID, &m.SenderID, &m.Kind, &m.Body, &m.Status, &m.Attempts,
			&nextAttemptAt, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox message failed: %w", err)
		}
		m.LastError = lastError.String
		if nextAttemptAt.Valid {
			t := nextAttemptAt.Time
			m.NextAttemptAt = &t
		}
		if lockedAt.Valid {
			t := lockedAt.Time
			m.LockedAt = &t
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox iteration failed: %w", err)
	}
	return msgs, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanConversation decodes one conversations row. The data column holds the
// collected fields as JSON.
func scanConversation(row rowScanner) (models.Conversation, error) {
	var conv models.Conversation
	var stage, dataJSON string
	var leadID sql.NullString
	if err := row.Scan(&conv.SenderID, &stage, &dataJSON, &leadID, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return conv, err
	}
	conv.Stage = models.Stage(stage)
	conv.LeadID = leadID.String
	if dataJSON != "" {
		if err := json.Unmarshal([]byte(dataJSON), &conv.Data); err != nil {
			return conv, fmt.Errorf("decode conversation data for %s: %w", conv.SenderID, err)
		}
	}
	return conv, nil
}

// scanConversations drains rows into conversations and closes them.
func scanConversations(rows *sql.Rows) ([]models.Conversation, error) {
	defer rows.Close()
	var out []models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation failed: %w", err)
		}
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation iteration failed: %w", err)
	}
	return out, nil
}

// encodeConversationData serializes the collected fields for the data column.
func encodeConversationData(data models.ConversationData) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode conversation data: %w", err)
	}
	return string(b), nil
}
