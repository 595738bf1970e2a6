package store

import (
	"time"
)

// OutboxStatus represents the lifecycle state of an outbox message.
type OutboxStatus string

const (
	OutboxStatusQueued  OutboxStatus = "queued"
	OutboxStatusSending OutboxStatus = "sending"
	OutboxStatusSent    OutboxStatus = "sent"
	OutboxStatusFailed  OutboxStatus = "failed"
)

// Outbox kinds name which path produced the undelivered message.
const (
	OutboxKindBotReply     = "bot_reply"
	OutboxKindAgentMessage = "agent_message"
)

// OutboxMessage is an outbound message whose first delivery attempt failed
// and which is queued for redelivery. The history record for it already exists.
type OutboxMessage struct {
	ID            string       `json:"id"`
	SenderID      string       `json:"sender_id"`
	Kind          string       `json:"kind"`
	Body          string       `json:"body"`
	Status        OutboxStatus `json:"status"`
	Attempts      int          `json:"attempts"`
	NextAttemptAt *time.Time   `json:"next_attempt_at"`
	LockedAt      *time.Time   `json:"locked_at"`
	LastError     string       `json:"last_error"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// OutboxRepo persists the redelivery queue.
type OutboxRepo interface {
	// EnqueueOutboxMessage queues body for redelivery to senderID and returns its ID.
	EnqueueOutboxMessage(senderID, kind, body, lastError string) (string, error)

	// ClaimDueOutboxMessages marks up to limit queued messages whose
	// next_attempt_at <= now (or is NULL) as sending and returns them.
	ClaimDueOutboxMessages(now time.Time, limit int) ([]OutboxMessage, error)

	// MarkOutboxMessageSent marks a message as delivered.
	MarkOutboxMessageSent(id string) error

	// FailOutboxMessage records a send failure and schedules a retry at nextAttemptAt.
	FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error

	// AbandonOutboxMessage marks a message as permanently failed.
	AbandonOutboxMessage(id string, errMsg string) error

	// RequeueStaleSendingMessages resets messages stuck in sending since before
	// staleBefore back to queued.
	RequeueStaleSendingMessages(staleBefore time.Time) (int, error)

	// PendingOutboxCount returns the number of messages not yet sent or abandoned.
	PendingOutboxCount() (int, error)
}
