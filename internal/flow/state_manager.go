package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// StoreBasedStateManager implements StateManager using a ConversationRepo backend.
type StoreBasedStateManager struct {
	repo store.ConversationRepo
	now  func() time.Time
}

// NewStoreBasedStateManager creates a new StateManager backed by a ConversationRepo.
func NewStoreBasedStateManager(repo store.ConversationRepo) *StoreBasedStateManager {
	slog.Debug("Creating StoreBasedStateManager")
	return &StoreBasedStateManager{repo: repo, now: time.Now}
}

// GetConversation retrieves the conversation for a sender.
func (sm *StoreBasedStateManager) GetConversation(ctx context.Context, senderID string) (*models.Conversation, error) {
	conv, err := sm.repo.GetConversation(senderID)
	if err != nil {
		slog.Error("StateManager GetConversation error", "error", err, "senderID", senderID)
		return nil, err
	}
	if conv == nil {
		slog.Debug("StateManager GetConversation not found", "senderID", senderID)
		return nil, nil
	}
	slog.Debug("StateManager GetConversation found", "senderID", senderID, "stage", conv.Stage)
	return conv, nil
}

// SaveConversation commits conv.
func (sm *StoreBasedStateManager) SaveConversation(ctx context.Context, conv models.Conversation) error {
	now := sm.now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now

	if err := sm.repo.SaveConversation(conv); err != nil {
		slog.Error("StateManager SaveConversation error", "error", err, "senderID", conv.SenderID, "stage", conv.Stage)
		return err
	}
	slog.Debug("StateManager SaveConversation succeeded", "senderID", conv.SenderID, "stage", conv.Stage)
	return nil
}

// ResetConversation removes all state for a sender.
func (sm *StoreBasedStateManager) ResetConversation(ctx context.Context, senderID string) error {
	if err := sm.repo.DeleteConversation(senderID); err != nil {
		slog.Error("StateManager ResetConversation error", "error", err, "senderID", senderID)
		return err
	}
	slog.Info("StateManager ResetConversation succeeded", "senderID", senderID)
	return nil
}

// ListCompleted returns every COMPLETED conversation.
func (sm *StoreBasedStateManager) ListCompleted(ctx context.Context) ([]models.Conversation, error) {
	return sm.repo.ListConversationsByStage(models.StageCompleted)
}

// Count returns the number of stored conversations.
func (sm *StoreBasedStateManager) Count(ctx context.Context) (int, error) {
	return sm.repo.ConversationCount()
}
