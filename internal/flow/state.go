// Package flow implements the lead collection dialogue and the coordinator
// that owns every per-sender mutation.
package flow

import (
	"context"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// StateManager loads and commits per-sender conversation state.
type StateManager interface {
	// GetConversation returns the sender's conversation, or nil if none exists.
	GetConversation(ctx context.Context, senderID string) (*models.Conversation, error)

	// SaveConversation commits conv, stamping its update time.
	SaveConversation(ctx context.Context, conv models.Conversation) error

	// ResetConversation removes the sender's conversation so the next message starts fresh.
	ResetConversation(ctx context.Context, senderID string) error

	// ListCompleted returns every conversation currently in the COMPLETED stage.
	ListCompleted(ctx context.Context) ([]models.Conversation, error)

	// Count returns the number of stored conversations.
	Count(ctx context.Context) (int, error)
}

// Timer defines the interface for scheduling delayed actions.
type Timer interface {
	// ScheduleAfter schedules a function to run after a delay.
	ScheduleAfter(delay time.Duration, fn func()) (string, error)

	// ScheduleKeyed schedules fn after delay under key, replacing any pending
	// timer for the same key. fn receives the timer ID.
	ScheduleKeyed(key string, delay time.Duration, description string, fn func(id string)) (string, error)

	// CancelKey cancels the pending timer for key. It reports whether one existed.
	CancelKey(key string) bool

	// IsCurrent reports whether id is still the live timer for key.
	IsCurrent(key, id string) bool

	// Cancel cancels a scheduled function by ID.
	Cancel(id string) error

	// ListActive returns information about all pending timers.
	ListActive() []models.TimerInfo

	// Stop cancels every pending timer.
	Stop()
}

// MessageSender delivers an outbound message to a sender.
type MessageSender interface {
	SendMessage(ctx context.Context, to, body string) error
}

// LeadCreator creates a lead record in the CRM and returns its ID.
type LeadCreator interface {
	CreateLead(ctx context.Context, lead models.Lead) (string, error)
}

// RequirementSummarizer produces a short summary of a customer's requirement
// for the lead description.
type RequirementSummarizer interface {
	SummarizeRequirement(ctx context.Context, lead models.Lead) (string, error)
}
