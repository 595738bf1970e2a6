// This file implements a PostgreSQL-backed store for histories, conversations and handoffs.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/LeadPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	store, err := newPostgresStoreFromDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// newPostgresStoreFromDB runs migrations on an already opened handle.
func newPostgresStoreFromDB(db *sql.DB) (*PostgresStore, error) {
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) AppendMessage(senderID string, msg models.Message) error {
	_, err := s.db.Exec(
		`INSERT INTO messages (message_id, sender_id, role, body, sent_at) VALUES ($1, $2, $3, $4, $5)`,
		nilIfEmpty(msg.ID), senderID, string(msg.Sender), msg.Text, msg.Timestamp,
	)
	if err != nil {
		slog.Error("PostgresStore AppendMessage failed", "error", err, "senderID", senderID)
		return fmt.Errorf("failed to append message for %s: %w", senderID, err)
	}
	slog.Debug("PostgresStore AppendMessage succeeded", "senderID", senderID, "role", msg.Sender)
	return nil
}

func (s *PostgresStore) GetHistory(senderID string) ([]models.Message, error) {
	rows, err := s.db.Query(`SELECT message_id, role, body, sent_at FROM messages WHERE sender_id = $1 ORDER BY id ASC`, senderID)
	if err != nil {
		slog.Error("PostgresStore GetHistory query failed", "error", err, "senderID", senderID)
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

func (s *PostgresStore) HistoryCount() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(DISTINCT sender_id) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count histories: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) GetConversation(senderID string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE sender_id = $1`, senderID)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversation failed", "error", err, "senderID", senderID)
		return nil, fmt.Errorf("failed to load conversation for %s: %w", senderID, err)
	}
	return &conv, nil
}

func (s *PostgresStore) SaveConversation(conv models.Conversation) error {
	data, err := encodeConversationData(conv.Data)
	if err != nil {
		return err
	}
	now := time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	query := `
		INSERT INTO conversations (sender_id, stage, data, lead_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sender_id)
		DO UPDATE SET
			stage = EXCLUDED.stage,
			data = EXCLUDED.data,
			lead_id = EXCLUDED.lead_id,
			updated_at = EXCLUDED.updated_at`
	_, err = s.db.Exec(query, conv.SenderID, string(conv.Stage), data, nilIfEmpty(conv.LeadID), conv.CreatedAt, now)
	if err != nil {
		slog.Error("PostgresStore SaveConversation failed", "error", err, "senderID", conv.SenderID)
		return fmt.Errorf("failed to save conversation for %s: %w", conv.SenderID, err)
	}
	slog.Debug("PostgresStore SaveConversation succeeded", "senderID", conv.SenderID, "stage", conv.Stage)
	return nil
}

func (s *PostgresStore) DeleteConversation(senderID string) error {
	if _, err := s.db.Exec(`DELETE FROM conversations WHERE sender_id = $1`, senderID); err != nil {
		return fmt.Errorf("failed to delete conversation for %s: %w", senderID, err)
	}
	slog.Debug("PostgresStore DeleteConversation succeeded", "senderID", senderID)
	return nil
}

func (s *PostgresStore) ListConversationsByStage(stage models.Stage) ([]models.Conversation, error) {
	rows, err := s.db.Query(`SELECT `+conversationColumns+` FROM conversations WHERE stage = $1 ORDER BY sender_id`, string(stage))
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return scanConversations(rows)
}

func (s *PostgresStore) ConversationCount() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count conversations: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) IsHandoffActive(senderID string) (bool, error) {
	var active bool
	err := s.db.QueryRow(`SELECT active FROM handoffs WHERE sender_id = $1`, senderID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read handoff for %s: %w", senderID, err)
	}
	return active, nil
}

func (s *PostgresStore) SetHandoff(senderID string, active bool) error {
	_, err := s.db.Exec(
		`INSERT INTO handoffs (sender_id, active, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (sender_id) DO UPDATE SET active = EXCLUDED.active, updated_at = EXCLUDED.updated_at`,
		senderID, active, time.Now(),
	)
	if err != nil {
		slog.Error("PostgresStore SetHandoff failed", "error", err, "senderID", senderID)
		return fmt.Errorf("failed to set handoff for %s: %w", senderID, err)
	}
	slog.Debug("PostgresStore SetHandoff succeeded", "senderID", senderID, "active", active)
	return nil
}

func (s *PostgresStore) ActiveHandoffCount() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM handoffs WHERE active`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count handoffs: %w", err)
	}
	return n, nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	return s.db.Close()
}
