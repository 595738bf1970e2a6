package models

import "testing"

func TestNewLeadDerivesCompany(t *testing.T) {
	lead := NewLead(ConversationData{
		FirstName:      "John",
		LastName:       "Doe",
		Email:          "john@x.com",
		Phone:          "555123",
		Requirement:    "need a website",
		WhatsAppNumber: "15551234567",
	})
	if lead.Company != "John Doe" {
		t.Errorf("expected company %q, got %q", "John Doe", lead.Company)
	}
	if lead.WhatsAppNumber != "15551234567" || lead.Requirement != "need a website" {
		t.Errorf("lead fields not copied correctly: %+v", lead)
	}
}

func TestStageOrdinal(t *testing.T) {
	if StageInitial.Ordinal() >= StageAskedFirstName.Ordinal() {
		t.Error("INITIAL must precede ASKED_FIRST_NAME")
	}
	if StageAskedRequirement.Ordinal() >= StageCompleted.Ordinal() {
		t.Error("ASKED_REQUIREMENT must precede COMPLETED")
	}
	if StageHandoff.Ordinal() != -1 {
		t.Error("HANDOFF has no position in the script order")
	}
	if !StageHandoff.IsValid() || Stage("BOGUS").IsValid() {
		t.Error("IsValid returned unexpected result")
	}
}

func TestAgentMessageRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     AgentMessageRequest
		wantErr error
	}{
		{"valid", AgentMessageRequest{To: "+1555", Body: "hi"}, nil},
		{"missing recipient", AgentMessageRequest{Body: "hi"}, ErrEmptyRecipient},
		{"blank body", AgentMessageRequest{To: "+1555", Body: "   "}, ErrEmptyBody},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.req.Validate(); err != tt.wantErr {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestInboundMessageReceivedAtFallback(t *testing.T) {
	m := InboundMessage{From: "1", Body: "x"}
	if m.ReceivedAt().IsZero() {
		t.Error("expected fallback to current time")
	}
	m.Time = 100
	if m.ReceivedAt().Unix() != 100 {
		t.Errorf("expected 100, got %d", m.ReceivedAt().Unix())
	}
}
