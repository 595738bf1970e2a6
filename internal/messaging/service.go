// Package messaging connects WhatsApp providers to the lead coordinator.
//
// A Service sends outbound text and exposes inbound messages and delivery
// receipts as channels. InboundRouter drains those channels into the
// coordinator.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/util"
)

const (
	// DefaultChannelBufferSize defines the buffer size for inbound and receipt channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an emit may block before the event is dropped
	DefaultChannelTimeout = 1 * time.Second
	// MinRecipientDigits is the shortest accepted phone number
	MinRecipientDigits = 6
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient returns the digits-only form of recipient.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., event subscriptions).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the channels.
	Stop() error

	// Receipts returns a channel of delivery events.
	Receipts() <-chan models.Receipt

	// Inbound returns a channel of messages received from customers.
	Inbound() <-chan models.InboundMessage
}

// canonicalizeRecipient normalizes a phone number and rejects implausible ones.
func canonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := util.NormalizePhone(recipient)
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < MinRecipientDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, MinRecipientDigits)
	}
	return canonical, nil
}

// eventChannels holds the channels every Service exposes. Emits after Stop
// are dropped; emits that block longer than DefaultChannelTimeout are dropped.
type eventChannels struct {
	name     string
	receipts chan models.Receipt
	inbound  chan models.InboundMessage
	mu       sync.RWMutex
	stopped  bool
}

func newEventChannels(name string) eventChannels {
	return eventChannels{
		name:     name,
		receipts: make(chan models.Receipt, DefaultChannelBufferSize),
		inbound:  make(chan models.InboundMessage, DefaultChannelBufferSize),
	}
}

// Receipts returns the delivery receipt channel.
func (e *eventChannels) Receipts() <-chan models.Receipt {
	return e.receipts
}

// Inbound returns the inbound message channel.
func (e *eventChannels) Inbound() <-chan models.InboundMessage {
	return e.inbound
}

func (e *eventChannels) isStopped() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stopped
}

func (e *eventChannels) emitReceipt(r models.Receipt) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopped {
		return
	}
	select {
	case e.receipts <- r:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(e.name+": receipts channel blocked, dropping receipt", "to", r.To, "status", r.Status)
	}
}

func (e *eventChannels) emitInbound(m models.InboundMessage) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopped {
		slog.Warn(e.name+": dropping inbound message, service stopped", "from", m.From)
		return false
	}
	select {
	case e.inbound <- m:
		slog.Debug(e.name+": inbound message emitted", "from", m.From, "messageID", m.MessageID)
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(e.name+": inbound channel blocked, dropping message", "from", m.From, "timeout", DefaultChannelTimeout)
		return false
	}
}

// close marks the channels stopped and closes them. Emitters hold the read
// lock, so no send can race the close.
func (e *eventChannels) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.stopped = true
	close(e.receipts)
	close(e.inbound)
}
