package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// LogService is a Service that logs outbound messages instead of delivering
// them. Inbound traffic is injected through Deliver, which lets the JSON
// inbound endpoint and tests drive the full pipeline without a provider.
type LogService struct {
	eventChannels
	sentMu sync.Mutex
	sent   []models.Receipt
}

// NewLogService creates a LogService.
func NewLogService() *LogService {
	return &LogService{eventChannels: newEventChannels("LogService")}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a phone number.
func (s *LogService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizeRecipient(recipient)
}

func (s *LogService) Start(ctx context.Context) error { return nil }

// Stop closes the channels.
func (s *LogService) Stop() error {
	s.close()
	return nil
}

// SendMessage logs the message and emits a sent receipt.
func (s *LogService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	slog.Info("LogService.SendMessage", "to", canonicalTo, "body", body)
	r := models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()}
	s.sentMu.Lock()
	s.sent = append(s.sent, r)
	s.sentMu.Unlock()
	s.emitReceipt(r)
	return nil
}

// Deliver injects an inbound message as if a provider had received it.
func (s *LogService) Deliver(msg models.InboundMessage) bool {
	return s.emitInbound(msg)
}

// SentCount returns how many messages were sent.
func (s *LogService) SentCount() int {
	s.sentMu.Lock()
	defer s.sentMu.Unlock()
	return len(s.sent)
}
