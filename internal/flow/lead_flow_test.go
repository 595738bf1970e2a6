package flow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

func convAt(stage models.Stage, data models.ConversationData) models.Conversation {
	c := models.NewConversation("15551234567")
	c.Stage = stage
	c.Data = data
	return c
}

func TestTransitionTable(t *testing.T) {
	f := NewLeadFlow()
	partial := models.ConversationData{FirstName: "John", LastName: "Doe"}

	tests := []struct {
		name      string
		conv      models.Conversation
		input     string
		wantStage models.Stage
		wantReply string
	}{
		{"initial ignores text", convAt(models.StageInitial, models.ConversationData{}), "hello?", models.StageAskedFirstName, MsgGreeting},
		{"first name", convAt(models.StageAskedFirstName, models.ConversationData{}), "John", models.StageAskedLastName, "Nice to meet you, John! What's your last name?"},
		{"last name", convAt(models.StageAskedLastName, models.ConversationData{FirstName: "John"}), "Doe", models.StageAskedEmail, MsgAskEmail},
		{"invalid email", convAt(models.StageAskedEmail, partial), "not-an-email", models.StageAskedEmail, MsgInvalidEmail},
		{"email missing dot", convAt(models.StageAskedEmail, partial), "john@example", models.StageAskedEmail, MsgInvalidEmail},
		{"email missing at", convAt(models.StageAskedEmail, partial), "john.example.com", models.StageAskedEmail, MsgInvalidEmail},
		{"valid email", convAt(models.StageAskedEmail, partial), "john@x.com", models.StageAskedPhone, MsgAskPhone},
		{"phone", convAt(models.StageAskedPhone, partial), "555123", models.StageAskedRequirement, MsgAskRequirement},
		{"completed notice", convAt(models.StageCompleted, partial), "hello again", models.StageCompleted, MsgAlreadySubmitted},
		{"completed restart", convAt(models.StageCompleted, partial), "restart", models.StageAskedFirstName, MsgGreeting},
		{"completed start mixed case", convAt(models.StageCompleted, partial), "  StArT ", models.StageAskedFirstName, MsgGreeting},
		{"handoff silent", convAt(models.StageHandoff, partial), "anyone there?", models.StageHandoff, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.Transition(tt.conv, tt.input)
			assert.Equal(t, tt.wantStage, res.Next.Stage)
			assert.Equal(t, tt.wantReply, res.Reply)
			assert.Equal(t, EffectNone, res.Effect.Kind)
		})
	}
}

func TestTransitionIsDeterministic(t *testing.T) {
	f := NewLeadFlow()
	inputs := []string{"", "John", "restart", "john@x.com", "not-an-email", "need a website"}
	stages := []models.Stage{
		models.StageInitial, models.StageAskedFirstName, models.StageAskedLastName, models.StageAskedEmail,
		models.StageAskedPhone, models.StageAskedRequirement, models.StageCompleted, models.StageHandoff,
	}
	for _, stage := range stages {
		for _, in := range inputs {
			conv := convAt(stage, models.ConversationData{FirstName: "Jane"})
			assert.Equal(t, f.Transition(conv, in), f.Transition(conv, in), "stage %s input %q", stage, in)
		}
	}
}

func TestTransitionNeverMovesBackwardExceptRestart(t *testing.T) {
	f := NewLeadFlow()
	conv := models.NewConversation("15551234567")
	inputs := []string{"hi", "Jane", "Roe", "bad", "jane@roe.io", "555", "a shop", "what now", "still here"}

	for _, in := range inputs {
		res := f.Transition(conv, in)
		if res.Effect.Kind == EffectCreateLead {
			res = f.ResolveLead(res, "LEAD-1", nil)
		}
		require.GreaterOrEqual(t, res.Next.Stage.Ordinal(), conv.Stage.Ordinal(), "input %q moved %s -> %s", in, conv.Stage, res.Next.Stage)
		conv = res.Next
	}
	require.Equal(t, models.StageCompleted, conv.Stage)

	restarted := f.Transition(conv, "restart")
	assert.Equal(t, models.StageAskedFirstName, restarted.Next.Stage)
	assert.Equal(t, models.ConversationData{}, restarted.Next.Data)
	assert.Empty(t, restarted.Next.LeadID)
}

func TestRequirementEmitsCreateLead(t *testing.T) {
	f := NewLeadFlow()
	conv := convAt(models.StageAskedRequirement, models.ConversationData{
		FirstName: "John", LastName: "Doe", Email: "john@x.com", Phone: "555123",
	})

	res := f.Transition(conv, "need a website")
	require.Equal(t, EffectCreateLead, res.Effect.Kind)
	assert.Empty(t, res.Reply)
	assert.Equal(t, models.Lead{
		FirstName:      "John",
		LastName:       "Doe",
		Company:        "John Doe",
		Email:          "john@x.com",
		Phone:          "555123",
		Requirement:    "need a website",
		WhatsAppNumber: "15551234567",
		Description:    "need a website",
	}, res.Effect.Lead)

	ok := f.ResolveLead(res, "00Q5e000001", nil)
	assert.Equal(t, models.StageCompleted, ok.Next.Stage)
	assert.Equal(t, "00Q5e000001", ok.Next.LeadID)
	assert.Contains(t, ok.Reply, "00Q5e000001")

	failed := f.ResolveLead(res, "", errors.New("crm down"))
	assert.Equal(t, conv, failed.Next)
	assert.Equal(t, MsgLeadFailed, failed.Reply)
}

func TestResolveLeadPassesThroughWithoutEffect(t *testing.T) {
	f := NewLeadFlow()
	res := f.Transition(convAt(models.StageAskedPhone, models.ConversationData{}), "555")
	assert.Equal(t, res, f.ResolveLead(res, "ignored", nil))
}

func TestIsPlausibleEmail(t *testing.T) {
	assert.True(t, IsPlausibleEmail("a@b.c"))
	assert.True(t, IsPlausibleEmail("john@x.com"))
	assert.False(t, IsPlausibleEmail("john@x"))
	assert.False(t, IsPlausibleEmail("john.x.com"))
	assert.False(t, IsPlausibleEmail(""))
}
