package flow

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Replies sent by the lead flow.
const (
	MsgGreeting         = "Hi there! Thanks for reaching out. I'll take a few details so our sales team can help you. What's your first name?"
	MsgAskLastName      = "Nice to meet you, %s! What's your last name?"
	MsgAskEmail         = "Thanks! What's your email address?"
	MsgInvalidEmail     = "That doesn't look like a valid email address. Please send it again, for example name@example.com."
	MsgAskPhone         = "Got it. What's the best phone number to reach you on?"
	MsgAskRequirement   = "Almost done! Please briefly describe what you need help with."
	MsgLeadCreated      = "Thank you, %s! Your request has been submitted. Your reference number is %s. Our sales team will contact you shortly."
	MsgLeadFailed       = "Sorry, we couldn't submit your request right now. Please send your requirement again in a moment."
	MsgAlreadySubmitted = "Your request has already been submitted and our team will be in touch. Reply \"restart\" to start a new inquiry."
)

// EffectKind names a side effect requested by the lead flow.
type EffectKind int

const (
	// EffectNone means the transition needs no collaborator call.
	EffectNone EffectKind = iota
	// EffectCreateLead asks the caller to create Lead in the CRM and fold the
	// outcome back with ResolveLead.
	EffectCreateLead
)

// Effect is a side-effect request emitted by Transition.
type Effect struct {
	Kind EffectKind
	Lead models.Lead
	// Prior is the conversation to keep if the effect fails.
	Prior models.Conversation
}

// Result is the outcome of one transition. An empty Reply means no reply.
type Result struct {
	Next   models.Conversation
	Reply  string
	Effect Effect
}

// HasReply reports whether the result carries a reply to send.
func (r Result) HasReply() bool {
	return r.Reply != ""
}

// LeadFlow is the lead collection dialogue. Transition and ResolveLead are pure.
type LeadFlow struct{}

// NewLeadFlow creates a LeadFlow.
func NewLeadFlow() *LeadFlow {
	return &LeadFlow{}
}

// Transition computes the next conversation state, reply and effect for text.
func (f *LeadFlow) Transition(conv models.Conversation, text string) Result {
	input := strings.TrimSpace(text)
	next := conv

	switch conv.Stage {
	case models.StageAskedFirstName:
		next.Data.FirstName = input
		next.Stage = models.StageAskedLastName
		return Result{Next: next, Reply: fmt.Sprintf(MsgAskLastName, input)}

	case models.StageAskedLastName:
		next.Data.LastName = input
		next.Stage = models.StageAskedEmail
		return Result{Next: next, Reply: MsgAskEmail}

	case models.StageAskedEmail:
		if !IsPlausibleEmail(input) {
			return Result{Next: conv, Reply: MsgInvalidEmail}
		}
		next.Data.Email = input
		next.Stage = models.StageAskedPhone
		return Result{Next: next, Reply: MsgAskPhone}

	case models.StageAskedPhone:
		next.Data.Phone = input
		next.Stage = models.StageAskedRequirement
		return Result{Next: next, Reply: MsgAskRequirement}

	case models.StageAskedRequirement:
		next.Data.Requirement = input
		next.Data.WhatsAppNumber = conv.SenderID
		next.Stage = models.StageCompleted
		return Result{
			Next:   next,
			Effect: Effect{Kind: EffectCreateLead, Lead: models.NewLead(next.Data), Prior: conv},
		}

	case models.StageCompleted:
		if IsRestartCommand(input) {
			fresh := models.NewConversation(conv.SenderID)
			fresh.CreatedAt = conv.CreatedAt
			return f.Transition(fresh, text)
		}
		return Result{Next: conv, Reply: MsgAlreadySubmitted}

	case models.StageHandoff:
		return Result{Next: conv}

	default:
		// INITIAL, and any unrecognised stage, starts the script.
		next = models.NewConversation(conv.SenderID)
		next.CreatedAt = conv.CreatedAt
		next.Stage = models.StageAskedFirstName
		return Result{Next: next, Reply: MsgGreeting}
	}
}

// ResolveLead folds the outcome of an EffectCreateLead back into the pending
// result. On failure the conversation stays where it was before the requirement
// was submitted.
func (f *LeadFlow) ResolveLead(pending Result, leadID string, err error) Result {
	if pending.Effect.Kind != EffectCreateLead {
		return pending
	}
	if err != nil || leadID == "" {
		return Result{Next: pending.Effect.Prior, Reply: MsgLeadFailed}
	}
	next := pending.Next
	next.LeadID = leadID
	return Result{Next: next, Reply: fmt.Sprintf(MsgLeadCreated, next.Data.FirstName, leadID)}
}

// IsPlausibleEmail is the syntactic email check: the text must contain both
// an '@' and a '.'.
func IsPlausibleEmail(s string) bool {
	return strings.Contains(s, "@") && strings.Contains(s, ".")
}

// IsRestartCommand reports whether text asks to start a new inquiry.
func IsRestartCommand(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	return t == "restart" || t == "start"
}
