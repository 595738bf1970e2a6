// Package models defines the core data structures for LeadPipe.
//
// It includes types for inbound messages, history records, leads and the JSON
// envelope used by the API, which are shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// Validation constants for input validation
const (
	// MaxMessageBodyLength defines the maximum allowed length for an outbound agent message
	MaxMessageBodyLength = 4096
)

// Error variables for better error handling and testability
var (
	ErrEmptyRecipient     = errors.New("recipient cannot be empty")
	ErrEmptyBody          = errors.New("body is required")
	ErrMessageBodyTooLong = errors.New("message body exceeds maximum length")
)

// SenderRole identifies who originated a history record.
type SenderRole string

const (
	// SenderCustomer marks a message received from the customer.
	SenderCustomer SenderRole = "customer"
	// SenderBot marks an automated reply produced by the lead flow.
	SenderBot SenderRole = "bot"
	// SenderSales marks a message sent by a human sales agent.
	SenderSales SenderRole = "sales"
)

// Message is one immutable entry of a sender's history.
type Message struct {
	ID        string     `json:"id,omitempty"`
	Sender    SenderRole `json:"sender"`
	Text      string     `json:"text"`
	Timestamp time.Time  `json:"timestamp"`
}

// InboundMessage is a parsed delivery from a messaging provider.
type InboundMessage struct {
	From      string `json:"from"`
	Body      string `json:"body"`
	Time      int64  `json:"time"`
	MessageID string `json:"message_id,omitempty"` // provider id used for deduplication
}

// ReceivedAt returns the delivery time, falling back to now when the provider omitted it.
func (m InboundMessage) ReceivedAt() time.Time {
	if m.Time <= 0 {
		return time.Now()
	}
	return time.Unix(m.Time, 0)
}

// Lead is the record handed to the CRM once the dialogue completes.
type Lead struct {
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Company        string `json:"company"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Requirement    string `json:"requirement"`
	WhatsAppNumber string `json:"whatsapp_number"`
	Description    string `json:"description,omitempty"`
}

// NewLead builds a lead from collected conversation data. Company is derived
// from the first and last name.
func NewLead(data ConversationData) Lead {
	return Lead{
		FirstName:      data.FirstName,
		LastName:       data.LastName,
		Company:        data.FirstName + " " + data.LastName,
		Email:          data.Email,
		Phone:          data.Phone,
		Requirement:    data.Requirement,
		WhatsAppNumber: data.WhatsAppNumber,
		Description:    data.Requirement,
	}
}

// AgentMessageRequest is the payload for a human-originated send (POST /agent/send).
type AgentMessageRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// Validate validates an AgentMessageRequest.
func (r *AgentMessageRequest) Validate() error {
	if strings.TrimSpace(r.To) == "" {
		return ErrEmptyRecipient
	}
	if strings.TrimSpace(r.Body) == "" {
		return ErrEmptyBody
	}
	if len(r.Body) > MaxMessageBodyLength {
		return ErrMessageBodyTooLong
	}
	return nil
}

// ResumeRequest is the payload for POST /agent/resume.
type ResumeRequest struct {
	To string `json:"to"`
}

// Validate validates a ResumeRequest.
func (r *ResumeRequest) Validate() error {
	if strings.TrimSpace(r.To) == "" {
		return ErrEmptyRecipient
	}
	return nil
}

// HistoryView is the read model returned for a sender's history.
type HistoryView struct {
	SenderID     string    `json:"sender_id"`
	MessageCount int       `json:"message_count"`
	Messages     []Message `json:"messages"`
}

// Stats summarizes the size of the shared per-sender state.
type Stats struct {
	ActiveConversations int `json:"active_conversations"`
	StoredHistories     int `json:"stored_histories"`
	ActiveHandoffs      int `json:"active_handoffs"`
}

// TimerInfo describes a pending scheduled action.
type TimerInfo struct {
	ID          string    `json:"id"`
	Key         string    `json:"key,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Remaining   string    `json:"remaining"`
	Description string    `json:"description,omitempty"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusRecorded indicates data was recorded but no reply was produced.
	APIStatusRecorded APIStatus = "recorded"
)

// API Response types for consistent JSON responses

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}

// RecordedWithMessage creates a recorded API response with a message and optional result data.
func RecordedWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusRecorded).
		WithMessage(message).
		WithResult(result).
		Build()
}

// MessageStatus is the delivery state reported for an outbound message.
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// Receipt is a delivery event for an outbound message.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}
