package models

import "time"

// ConversationData holds the fields collected by the lead flow. Fields are
// populated strictly in stage order.
type ConversationData struct {
	FirstName      string `json:"first_name,omitempty"`
	LastName       string `json:"last_name,omitempty"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
	Requirement    string `json:"requirement,omitempty"`
	WhatsAppNumber string `json:"whatsapp_number,omitempty"`
}

// Conversation is the per-sender dialogue state.
type Conversation struct {
	SenderID  string           `json:"sender_id"`
	Stage     Stage            `json:"stage"`
	Data      ConversationData `json:"data"`
	LeadID    string           `json:"lead_id,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// NewConversation returns a fresh conversation in the INITIAL stage.
func NewConversation(senderID string) Conversation {
	return Conversation{SenderID: senderID, Stage: StageInitial}
}
