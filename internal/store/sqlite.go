// This file implements an SQLite-backed store for histories, conversations and handoffs.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/LeadPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// A single writer connection keeps SQLite from returning SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "dsn", dsn)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) AppendMessage(senderID string, msg models.Message) error {
	_, err := s.db.Exec(
		`INSERT INTO messages (message_id, sender_id, role, body, sent_at) VALUES (?, ?, ?, ?, ?)`,
		nilIfEmpty(msg.ID), senderID, string(msg.Sender), msg.Text, msg.Timestamp,
	)
	if err != nil {
		slog.Error("SQLiteStore AppendMessage failed", "error", err, "senderID", senderID)
		return fmt.Errorf("failed to append message for %s: %w", senderID, err)
	}
	slog.Debug("SQLiteStore AppendMessage succeeded", "senderID", senderID, "role", msg.Sender)
	return nil
}

func (s *SQLiteStore) GetHistory(senderID string) ([]models.Message, error) {
	rows, err := s.db.Query(`SELECT message_id, role, body, sent_at FROM messages WHERE sender_id = ? ORDER BY id ASC`, senderID)
	if err != nil {
		slog.Error("SQLiteStore GetHistory query failed", "error", err, "senderID", senderID)
		return nil, fmt.Errorf("failed to query history for %s: %w", senderID, err)
	}
	defer rows.Close()

	history := []models.Message{}
	for rows.Next() {
		var m models.Message
		var id sql.NullString
		var role string
		if err := rows.Scan(&id, &role, &m.Text, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		m.ID = id.String
		m.Sender = models.SenderRole(role)
		history = append(history, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	return history, nil
}

func (s *SQLiteStore) HistoryCount() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(DISTINCT sender_id) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count histories: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) GetConversation(senderID string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE sender_id = ?`, senderID)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversation failed", "error", err, "senderID", senderID)
		return nil, fmt.Errorf("failed to load conversation for %s: %w", senderID, err)
	}
	return &conv, nil
}

func (s *SQLiteStore) SaveConversation(conv models.Conversation) error {
	data, err := encodeConversationData(conv.Data)
	if err != nil {
		return err
	}
	now := time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	_, err = s.db.Exec(
		`INSERT INTO conversations (sender_id, stage, data, lead_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(sender_id) DO UPDATE SET
		   stage = excluded.stage,
		   data = excluded.data,
		   lead_id = excluded.lead_id,
		   updated_at = excluded.updated_at`,
		conv.SenderID, string(conv.Stage), data, nilIfEmpty(conv.LeadID), conv.CreatedAt, now,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveConversation failed", "error", err, "senderID", conv.SenderID)
		return fmt.Errorf("failed to save conversation for %s: %w", conv.SenderID, err)
	}
	slog.Debug("SQLiteStore SaveConversation succeeded", "senderID", conv.SenderID, "stage", conv.Stage)
	return nil
}

func (s *SQLiteStore) DeleteConversation(senderID string) error {
	if _, err := s.db.Exec(`DELETE FROM conversations WHERE sender_id = ?`, senderID); err != nil {
		return fmt.Errorf("failed to delete conversation for %s: %w", senderID, err)
	}
	slog.Debug("SQLiteStore DeleteConversation succeeded", "senderID", senderID)
	return nil
}

func (s *SQLiteStore) ListConversationsByStage(stage models.Stage) ([]models.Conversation, error) {
	rows, err := s.db.Query(`SELECT `+conversationColumns+` FROM conversations WHERE stage = ? ORDER BY sender_id`, string(stage))
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return scanConversations(rows)
}

func (s *SQLiteStore) ConversationCount() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count conversations: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) IsHandoffActive(senderID string) (bool, error) {
	var active bool
	err := s.db.QueryRow(`SELECT active FROM handoffs WHERE sender_id = ?`, senderID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read handoff for %s: %w", senderID, err)
	}
	return active, nil
}

func (s *SQLiteStore) SetHandoff(senderID string, active bool) error {
	_, err := s.db.Exec(
		`INSERT INTO handoffs (sender_id, active, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(sender_id) DO UPDATE SET active = excluded.active, updated_at = excluded.updated_at`,
		senderID, active, time.Now(),
	)
	if err != nil {
		slog.Error("SQLiteStore SetHandoff failed", "error", err, "senderID", senderID)
		return fmt.Errorf("failed to set handoff for %s: %w", senderID, err)
	}
	slog.Debug("SQLiteStore SetHandoff succeeded", "senderID", senderID, "active", active)
	return nil
}

func (s *SQLiteStore) ActiveHandoffCount() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM handoffs WHERE active = 1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count handoffs: %w", err)
	}
	return n, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
