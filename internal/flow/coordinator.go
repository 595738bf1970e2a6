package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/LeadPipe/internal/metrics"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/util"
)

// DefaultCollaboratorTimeout bounds each CRM, summarizer and send call.
const DefaultCollaboratorTimeout = 15 * time.Second

var (
	// ErrMalformedInbound is returned for inbound events missing a sender or text.
	// Nothing is recorded and nothing is replied.
	ErrMalformedInbound = errors.New("malformed inbound message")
	// ErrNoLeadCreator is reported when a lead is due but no CRM client is configured.
	ErrNoLeadCreator = errors.New("no lead creator configured")
)

// InboundResult describes what HandleInbound did for one message.
type InboundResult struct {
	SenderID  string       `json:"sender_id"`
	Stage     models.Stage `json:"stage"`
	Reply     string       `json:"reply,omitempty"`
	Handoff   bool         `json:"handoff"`
	LeadID    string       `json:"lead_id,omitempty"`
	Delivered bool         `json:"delivered"`
	SendError string       `json:"send_error,omitempty"`
	Queued    bool         `json:"queued_for_retry,omitempty"`
}

// OverrideResult describes the outcome of a human agent send.
type OverrideResult struct {
	SenderID  string `json:"sender_id"`
	Delivered bool   `json:"delivered"`
	SendError string `json:"send_error,omitempty"`
	Queued    bool   `json:"queued_for_retry,omitempty"`
}

// Coordinator is the only component that mutates per-sender state. Every
// operation for a sender runs inside that sender's exclusive section; distinct
// senders never block each other.
type Coordinator struct {
	flow       *LeadFlow
	history    store.HistoryLedger
	handoffs   store.HandoffRegistry
	state      StateManager
	sender     MessageSender
	leads      LeadCreator
	summarizer RequirementSummarizer
	outbox     store.OutboxRepo
	timer      Timer
	metrics    *metrics.LeadPipeMetrics
	locks      *senderLocks

	collaboratorTimeout time.Duration
	resetAfter          time.Duration

	now   func() time.Time
	newID func() string
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCollaboratorTimeout bounds each collaborator call. Zero disables the bound.
func WithCollaboratorTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.collaboratorTimeout = d }
}

// WithResetAfter enables the timed clear of completed conversations.
func WithResetAfter(d time.Duration, timer Timer) CoordinatorOption {
	return func(c *Coordinator) {
		c.resetAfter = d
		c.timer = timer
	}
}

// WithSummarizer attaches a requirement summary to created leads.
func WithSummarizer(s RequirementSummarizer) CoordinatorOption {
	return func(c *Coordinator) { c.summarizer = s }
}

// WithOutbox queues failed sends for redelivery.
func WithOutbox(repo store.OutboxRepo) CoordinatorOption {
	return func(c *Coordinator) { c.outbox = repo }
}

// WithMetrics records coordinator activity.
func WithMetrics(m *metrics.LeadPipeMetrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator creates a Coordinator over st.
func NewCoordinator(st store.Store, sender MessageSender, leads LeadCreator, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		flow:                NewLeadFlow(),
		history:             st,
		handoffs:            st,
		state:               NewStoreBasedStateManager(st),
		sender:              sender,
		leads:               leads,
		locks:               newSenderLocks(),
		collaboratorTimeout: DefaultCollaboratorTimeout,
		now:                 time.Now,
		newID:               uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	slog.Debug("Coordinator created", "collaboratorTimeout", c.collaboratorTimeout, "resetAfter", c.resetAfter, "summarizer", c.summarizer != nil, "outbox", c.outbox != nil)
	return c
}

// Timer returns the timer driving timed clears, or nil when disabled.
func (c *Coordinator) Timer() Timer {
	return c.timer
}

// HandleInbound processes one inbound customer message.
func (c *Coordinator) HandleInbound(ctx context.Context, msg models.InboundMessage) (InboundResult, error) {
	start := c.now()
	senderID := util.NormalizePhone(msg.From)
	if senderID == "" || strings.TrimSpace(msg.Body) == "" {
		slog.Warn("Coordinator.HandleInbound: dropping malformed message", "from", msg.From, "bodyEmpty", strings.TrimSpace(msg.Body) == "")
		c.metrics.ObserveInbound(metrics.OutcomeMalformed, time.Since(start))
		return InboundResult{}, ErrMalformedInbound
	}

	unlock, err := c.locks.Lock(ctx, senderID)
	if err != nil {
		return InboundResult{}, fmt.Errorf("acquire section for %s: %w", senderID, err)
	}
	defer unlock()

	c.cancelReset(senderID)
	res, err := c.handleInboundLocked(ctx, senderID, msg)
	if err != nil {
		slog.Error("Coordinator.HandleInbound: failed", "senderID", senderID, "error", err)
		c.metrics.ObserveInbound(metrics.OutcomeError, time.Since(start))
		return res, err
	}
	if res.Stage == models.StageCompleted {
		c.armReset(senderID)
	}

	outcome := metrics.OutcomeReplied
	switch {
	case res.Handoff:
		outcome = metrics.OutcomeHandoff
	case res.Reply == "":
		outcome = metrics.OutcomeSilent
	}
	c.metrics.ObserveInbound(outcome, time.Since(start))
	return res, nil
}

func (c *Coordinator) handleInboundLocked(ctx context.Context, senderID string, msg models.InboundMessage) (InboundResult, error) {
	result := InboundResult{SenderID: senderID}

	if err := c.appendRecord(senderID, models.SenderCustomer, msg.Body, msg.ReceivedAt(), msg.MessageID); err != nil {
		return result, err
	}

	active, err := c.handoffs.IsHandoffActive(senderID)
	if err != nil {
		return result, fmt.Errorf("read handoff for %s: %w", senderID, err)
	}
	if active {
		slog.Info("Coordinator.HandleInbound: handoff active, recorded without reply", "senderID", senderID)
		result.Handoff = true
		result.Stage = models.StageHandoff
		return result, nil
	}

	conv, err := c.loadConversation(ctx, senderID)
	if err != nil {
		return result, err
	}

	res := c.flow.Transition(conv, msg.Body)
	if res.Effect.Kind == EffectCreateLead {
		leadID, leadErr := c.createLead(ctx, res.Effect.Lead)
		res = c.flow.ResolveLead(res, leadID, leadErr)
	}

	if err := c.state.SaveConversation(ctx, res.Next); err != nil {
		return result, fmt.Errorf("commit conversation for %s: %w", senderID, err)
	}
	slog.Info("Coordinator.HandleInbound: transition committed", "senderID", senderID, "from", conv.Stage, "to", res.Next.Stage)

	result.Stage = res.Next.Stage
	result.LeadID = res.Next.LeadID
	if !res.HasReply() {
		return result, nil
	}

	result.Reply = res.Reply
	if err := c.appendRecord(senderID, models.SenderBot, res.Reply, c.now(), ""); err != nil {
		return result, err
	}
	result.Delivered, result.SendError, result.Queued = c.deliver(ctx, senderID, store.OutboxKindBotReply, res.Reply)
	return result, nil
}

// HandleAgentOverride records and sends a human agent message and hands the
// conversation over to the agent. A send failure is reported in the result.
func (c *Coordinator) HandleAgentOverride(ctx context.Context, to, text string) (OverrideResult, error) {
	senderID := util.NormalizePhone(to)
	if senderID == "" {
		return OverrideResult{}, models.ErrEmptyRecipient
	}
	if strings.TrimSpace(text) == "" {
		return OverrideResult{}, models.ErrEmptyBody
	}

	unlock, err := c.locks.Lock(ctx, senderID)
	if err != nil {
		return OverrideResult{}, fmt.Errorf("acquire section for %s: %w", senderID, err)
	}
	defer unlock()

	c.cancelReset(senderID)
	result := OverrideResult{SenderID: senderID}

	if err := c.appendRecord(senderID, models.SenderSales, text, c.now(), ""); err != nil {
		return result, err
	}
	if err := c.handoffs.SetHandoff(senderID, true); err != nil {
		return result, fmt.Errorf("set handoff for %s: %w", senderID, err)
	}
	conv, err := c.loadConversation(ctx, senderID)
	if err != nil {
		return result, err
	}
	conv.Stage = models.StageHandoff
	if err := c.state.SaveConversation(ctx, conv); err != nil {
		return result, fmt.Errorf("commit handoff for %s: %w", senderID, err)
	}
	slog.Info("Coordinator.HandleAgentOverride: handoff active", "senderID", senderID)
	c.metrics.ObserveAgentAction("override")

	result.Delivered, result.SendError, result.Queued = c.deliver(ctx, senderID, store.OutboxKindAgentMessage, text)
	return result, nil
}

// ResumeBot ends a handoff. The conversation lands in COMPLETED so the
// customer can start a new inquiry with "restart".
func (c *Coordinator) ResumeBot(ctx context.Context, to string) (models.Conversation, error) {
	senderID := util.NormalizePhone(to)
	if senderID == "" {
		return models.Conversation{}, models.ErrEmptyRecipient
	}

	unlock, err := c.locks.Lock(ctx, senderID)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("acquire section for %s: %w", senderID, err)
	}
	defer unlock()

	if err := c.handoffs.SetHandoff(senderID, false); err != nil {
		return models.Conversation{}, fmt.Errorf("clear handoff for %s: %w", senderID, err)
	}
	conv, err := c.loadConversation(ctx, senderID)
	if err != nil {
		return models.Conversation{}, err
	}
	conv.Stage = models.StageCompleted
	if err := c.state.SaveConversation(ctx, conv); err != nil {
		return models.Conversation{}, fmt.Errorf("commit resume for %s: %w", senderID, err)
	}
	c.armReset(senderID)
	c.metrics.ObserveAgentAction("resume")
	slog.Info("Coordinator.ResumeBot: bot resumed", "senderID", senderID)
	return conv, nil
}

// GetHistory returns the sender's full history. Unknown senders yield an empty view.
func (c *Coordinator) GetHistory(ctx context.Context, senderID string) (models.HistoryView, error) {
	id := util.NormalizePhone(senderID)
	view := models.HistoryView{SenderID: id, Messages: []models.Message{}}
	if id == "" {
		return view, nil
	}

	unlock, err := c.locks.Lock(ctx, id)
	if err != nil {
		return view, fmt.Errorf("acquire section for %s: %w", id, err)
	}
	defer unlock()

	messages, err := c.history.GetHistory(id)
	if err != nil {
		return view, fmt.Errorf("read history for %s: %w", id, err)
	}
	view.Messages = messages
	view.MessageCount = len(messages)
	return view, nil
}

// GetConversation returns the sender's conversation, or nil if none exists.
func (c *Coordinator) GetConversation(ctx context.Context, senderID string) (*models.Conversation, error) {
	id := util.NormalizePhone(senderID)
	if id == "" {
		return nil, nil
	}
	unlock, err := c.locks.Lock(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("acquire section for %s: %w", id, err)
	}
	defer unlock()
	return c.state.GetConversation(ctx, id)
}

// Status returns the size of the shared per-sender state.
func (c *Coordinator) Status(ctx context.Context) (models.Stats, error) {
	var stats models.Stats
	var err error
	if stats.ActiveConversations, err = c.state.Count(ctx); err != nil {
		return stats, fmt.Errorf("count conversations: %w", err)
	}
	if stats.StoredHistories, err = c.history.HistoryCount(); err != nil {
		return stats, fmt.Errorf("count histories: %w", err)
	}
	if stats.ActiveHandoffs, err = c.handoffs.ActiveHandoffCount(); err != nil {
		return stats, fmt.Errorf("count handoffs: %w", err)
	}
	return stats, nil
}

// Recover arms timed clears for completed conversations loaded from a
// persistent store. Call once at startup.
func (c *Coordinator) Recover(ctx context.Context) error {
	if c.timer == nil || c.resetAfter <= 0 {
		return nil
	}
	completed, err := c.state.ListCompleted(ctx)
	if err != nil {
		return fmt.Errorf("list completed conversations: %w", err)
	}
	for _, conv := range completed {
		c.armReset(conv.SenderID)
	}
	slog.Info("Coordinator.Recover: timed clears armed", "count", len(completed))
	return nil
}

// Redeliver sends a queued outbox message inside the sender's exclusive
// section. Bot replies for senders now owned by an agent are dropped.
func (c *Coordinator) Redeliver(ctx context.Context, msg store.OutboxMessage) error {
	unlock, err := c.locks.Lock(ctx, msg.SenderID)
	if err != nil {
		return fmt.Errorf("acquire section for %s: %w", msg.SenderID, err)
	}
	defer unlock()

	if msg.Kind == store.OutboxKindBotReply {
		active, err := c.handoffs.IsHandoffActive(msg.SenderID)
		if err != nil {
			return fmt.Errorf("read handoff for %s: %w", msg.SenderID, err)
		}
		if active {
			slog.Info("Coordinator.Redeliver: dropping bot reply during handoff", "senderID", msg.SenderID, "id", msg.ID)
			return nil
		}
	}
	sctx, cancel := c.collaboratorContext(ctx)
	defer cancel()
	if err := c.sender.SendMessage(sctx, msg.SenderID, msg.Body); err != nil {
		c.metrics.ObserveOutbound("retry_failed")
		return err
	}
	c.metrics.ObserveOutbound("redelivered")
	return nil
}

func (c *Coordinator) loadConversation(ctx context.Context, senderID string) (models.Conversation, error) {
	conv, err := c.state.GetConversation(ctx, senderID)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("load conversation for %s: %w", senderID, err)
	}
	if conv == nil {
		return models.NewConversation(senderID), nil
	}
	return *conv, nil
}

func (c *Coordinator) appendRecord(senderID string, role models.SenderRole, text string, at time.Time, id string) error {
	if id == "" {
		id = c.newID()
	}
	if err := c.history.AppendMessage(senderID, models.Message{ID: id, Sender: role, Text: text, Timestamp: at}); err != nil {
		return fmt.Errorf("append %s record for %s: %w", role, senderID, err)
	}
	return nil
}

func (c *Coordinator) createLead(ctx context.Context, lead models.Lead) (string, error) {
	if c.leads == nil {
		c.metrics.ObserveLead("failed")
		return "", ErrNoLeadCreator
	}

	if c.summarizer != nil {
		sctx, cancel := c.collaboratorContext(ctx)
		summary, err := c.summarizer.SummarizeRequirement(sctx, lead)
		cancel()
		if err != nil {
			slog.Warn("Coordinator.createLead: summary unavailable", "whatsappNumber", lead.WhatsAppNumber, "error", err)
		} else if summary = strings.TrimSpace(summary); summary != "" {
			lead.Description = summary + "\n\n" + lead.Requirement
		}
	}

	cctx, cancel := c.collaboratorContext(ctx)
	defer cancel()
	leadID, err := c.leads.CreateLead(cctx, lead)
	if err != nil {
		slog.Warn("Coordinator.createLead: CRM call failed", "whatsappNumber", lead.WhatsAppNumber, "error", err)
		c.metrics.ObserveLead("failed")
		return "", err
	}
	slog.Info("Coordinator.createLead: lead created", "whatsappNumber", lead.WhatsAppNumber, "leadID", leadID)
	c.metrics.ObserveLead("created")
	return leadID, nil
}

// deliver sends body and reports (delivered, error text, queued for retry).
// Committed state is never rolled back on failure.
func (c *Coordinator) deliver(ctx context.Context, senderID, kind, body string) (bool, string, bool) {
	if c.sender == nil {
		return false, "no message sender configured", false
	}
	sctx, cancel := c.collaboratorContext(ctx)
	defer cancel()

	err := c.sender.SendMessage(sctx, senderID, body)
	if err == nil {
		c.metrics.ObserveOutbound("sent")
		return true, "", false
	}

	slog.Warn("Coordinator.deliver: send failed", "senderID", senderID, "kind", kind, "error", err)
	c.metrics.ObserveOutbound("failed")
	if c.outbox == nil {
		return false, err.Error(), false
	}
	id, qerr := c.outbox.EnqueueOutboxMessage(senderID, kind, body, err.Error())
	if qerr != nil {
		slog.Error("Coordinator.deliver: enqueue for retry failed", "senderID", senderID, "error", qerr)
		return false, err.Error(), false
	}
	slog.Info("Coordinator.deliver: queued for retry", "senderID", senderID, "outboxID", id)
	return false, err.Error(), true
}

func (c *Coordinator) collaboratorContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.collaboratorTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.collaboratorTimeout)
}

func resetKey(senderID string) string {
	return "reset:" + senderID
}

func (c *Coordinator) cancelReset(senderID string) {
	if c.timer == nil || c.resetAfter <= 0 {
		return
	}
	if c.timer.CancelKey(resetKey(senderID)) {
		slog.Debug("Coordinator: pending timed clear cancelled", "senderID", senderID)
	}
}

func (c *Coordinator) armReset(senderID string) {
	if c.timer == nil || c.resetAfter <= 0 {
		return
	}
	key := resetKey(senderID)
	_, err := c.timer.ScheduleKeyed(key, c.resetAfter, "clear completed conversation for "+senderID, func(id string) {
		c.expireConversation(senderID, key, id)
	})
	if err != nil {
		slog.Error("Coordinator: failed to schedule timed clear", "senderID", senderID, "error", err)
	}
}

// expireConversation runs when a timed clear fires. It only deletes the
// conversation if the timer is still current and the conversation is still
// COMPLETED; history is kept.
func (c *Coordinator) expireConversation(senderID, key, timerID string) {
	ctx := context.Background()
	unlock, err := c.locks.Lock(ctx, senderID)
	if err != nil {
		return
	}
	defer unlock()

	if !c.timer.IsCurrent(key, timerID) {
		slog.Debug("Coordinator.expireConversation: stale timer ignored", "senderID", senderID, "timerID", timerID)
		return
	}
	conv, err := c.state.GetConversation(ctx, senderID)
	if err != nil {
		slog.Error("Coordinator.expireConversation: load failed", "senderID", senderID, "error", err)
		return
	}
	if conv == nil || conv.Stage != models.StageCompleted {
		return
	}
	if err := c.state.ResetConversation(ctx, senderID); err != nil {
		slog.Error("Coordinator.expireConversation: reset failed", "senderID", senderID, "error", err)
		return
	}
	slog.Info("Coordinator.expireConversation: completed conversation cleared", "senderID", senderID)
}
