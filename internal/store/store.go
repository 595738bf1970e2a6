// Package store provides storage backends for LeadPipe.
//
// It defines the per-sender History Ledger, Conversation repository and Handoff
// registry, and implements them in memory (the default, process-lifetime
// state) and on top of SQLite or PostgreSQL when durability is wanted.
package store

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store implementations.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" for everything else (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open returns the backend selected by dsn: in-memory when empty, otherwise
// Postgres or SQLite according to DetectDSNType.
func Open(dsn string) (Store, error) {
	if dsn == "" {
		slog.Info("store.Open: using in-memory store")
		return NewInMemoryStore(), nil
	}
	switch DetectDSNType(dsn) {
	case "postgres":
		slog.Info("store.Open: using PostgreSQL store")
		return NewPostgresStore(WithPostgresDSN(dsn))
	default:
		slog.Info("store.Open: using SQLite store", "path", dsn)
		return NewSQLiteStore(WithSQLiteDSN(dsn))
	}
}

// HistoryLedger is the append-only per-sender message log.
type HistoryLedger interface {
	// AppendMessage adds msg to the end of the sender's history.
	AppendMessage(senderID string, msg models.Message) error
	// GetHistory returns the sender's history in append order. Unknown senders
	// yield an empty slice.
	GetHistory(senderID string) ([]models.Message, error)
	// HistoryCount returns the number of senders with at least one record.
	HistoryCount() (int, error)
}

// ConversationRepo stores the per-sender dialogue state.
type ConversationRepo interface {
	GetConversation(senderID string) (*models.Conversation, error)
	SaveConversation(conv models.Conversation) error
	DeleteConversation(senderID string) error
	// ListConversationsByStage returns every conversation currently at stage.
	ListConversationsByStage(stage models.Stage) ([]models.Conversation, error)
	ConversationCount() (int, error)
}

// HandoffRegistry records which senders are owned by a human agent.
type HandoffRegistry interface {
	IsHandoffActive(senderID string) (bool, error)
	SetHandoff(senderID string, active bool) error
	ActiveHandoffCount() (int, error)
}

// Store combines every repository a LeadPipe backend provides.
type Store interface {
	HistoryLedger
	ConversationRepo
	HandoffRegistry
	DedupRepo
	OutboxRepo
	Close() error
}

// Compile-time checks that every backend implements Store.
var (
	_ Store = (*InMemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// InMemoryStore keeps all state in process memory. The mutex only protects
// the Go maps; per-sender ordering is the coordinator's job.
type InMemoryStore struct {
	mu            sync.RWMutex
	histories     map[string][]models.Message
	conversations map[string]models.Conversation
	handoffs      map[string]bool
	dedup         map[string]*DedupRecord
	outbox        map[string]*OutboxMessage
	outboxSeq     int64
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		histories:     make(map[string][]models.Message),
		conversations: make(map[string]models.Conversation),
		handoffs:      make(map[string]bool),
		dedup:         make(map[string]*DedupRecord),
		outbox:        make(map[string]*OutboxMessage),
	}
}

func (s *InMemoryStore) AppendMessage(senderID string, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories[senderID] = append(s.histories[senderID], msg)
	slog.Debug("InMemoryStore AppendMessage", "senderID", senderID, "role", msg.Sender, "count", len(s.histories[senderID]))
	return nil
}

func (s *InMemoryStore) GetHistory(senderID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.histories[senderID]
	out := make([]models.Message, len(history))
	copy(out, history)
	return out, nil
}

func (s *InMemoryStore) HistoryCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.histories), nil
}

func (s *InMemoryStore) GetConversation(senderID string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[senderID]
	if !ok {
		return nil, nil
	}
	return &conv, nil
}

func (s *InMemoryStore) SaveConversation(conv models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.SenderID] = conv
	slog.Debug("InMemoryStore SaveConversation", "senderID", conv.SenderID, "stage", conv.Stage)
	return nil
}

func (s *InMemoryStore) DeleteConversation(senderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, senderID)
	slog.Debug("InMemoryStore DeleteConversation", "senderID", senderID)
	return nil
}

func (s *InMemoryStore) ListConversationsByStage(stage models.Stage) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Conversation
	for _, conv := range s.conversations {
		if conv.Stage == stage {
			out = append(out, conv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SenderID < out[j].SenderID })
	return out, nil
}

func (s *InMemoryStore) ConversationCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations), nil
}

func (s *InMemoryStore) IsHandoffActive(senderID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handoffs[senderID], nil
}

func (s *InMemoryStore) SetHandoff(senderID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handoffs[senderID] = active
	slog.Debug("InMemoryStore SetHandoff", "senderID", senderID, "active", active)
	return nil
}

func (s *InMemoryStore) ActiveHandoffCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, active := range s.handoffs {
		if active {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) IsDuplicate(messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dedup[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(messageID, senderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = &DedupRecord{MessageID: messageID, SenderID: senderID, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.dedup[messageID]; ok {
		now := time.Now()
		rec.ProcessedAt = &now
	}
	return nil
}

func (s *InMemoryStore) ForgetInbound(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.dedup[messageID]; ok && rec.ProcessedAt == nil {
		delete(s.dedup, messageID)
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
