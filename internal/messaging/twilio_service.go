package messaging

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/twiliowhatsapp"
)

// TwilioSignatureHeader carries the webhook signature computed by Twilio.
const TwilioSignatureHeader = "X-Twilio-Signature"

// emptyTwiML acknowledges a webhook without sending a reply through Twilio.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// TwilioService implements Service using the Twilio API for WhatsApp.
// Inbound messages arrive through TwilioWebhookHandler.
type TwilioService struct {
	eventChannels
	client     twiliowhatsapp.Sender
	validator  *twiliowhatsapp.SignatureValidator
	webhookURL string
}

// TwilioServiceOption configures a TwilioService.
type TwilioServiceOption func(*TwilioService)

// WithSignatureValidation rejects webhooks whose X-Twilio-Signature does not
// match webhookURL, the public URL Twilio posts to. An empty webhookURL falls
// back to the URL reconstructed from the request.
func WithSignatureValidation(validator *twiliowhatsapp.SignatureValidator, webhookURL string) TwilioServiceOption {
	return func(s *TwilioService) {
		s.validator = validator
		s.webhookURL = webhookURL
	}
}

// NewTwilioService creates a TwilioService sending through client.
func NewTwilioService(client twiliowhatsapp.Sender, opts ...TwilioServiceOption) *TwilioService {
	s := &TwilioService{
		eventChannels: newEventChannels("TwilioService"),
		client:        client,
	}
	for _, opt := range opts {
		opt(s)
	}
	slog.Debug("TwilioService created", "signatureValidation", s.validator != nil)
	return s
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizeRecipient(recipient)
}

// Start is a no-op for Twilio; inbound traffic arrives through the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the channels.
func (s *TwilioService) Stop() error {
	s.close()
	slog.Info("TwilioService stopped")
	return nil
}

// SendMessage sends a message via Twilio and emits a sent receipt.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendMessage: invalid recipient", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		s.emitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusFailed, Time: time.Now().Unix()})
		return err
	}
	s.emitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

// TwilioWebhookHandler handles inbound Twilio webhook requests. Message
// webhooks are emitted on Inbound(); status callbacks become receipts.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService.Webhook: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if s.validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		if !s.validator.Validate(s.requestURL(r), params, r.Header.Get(TwilioSignatureHeader)) {
			slog.Warn("TwilioService.Webhook: signature mismatch", "remote", r.RemoteAddr)
			http.Error(w, "Invalid signature", http.StatusForbidden)
			return
		}
	}

	from := strings.TrimPrefix(r.FormValue("From"), "whatsapp:")
	body := r.FormValue("Body")
	status := r.FormValue("MessageStatus")

	if body == "" && status != "" {
		to := strings.TrimPrefix(r.FormValue("To"), "whatsapp:")
		if st, ok := twilioStatus(status); ok {
			s.emitReceipt(models.Receipt{To: to, Status: st, Time: time.Now().Unix()})
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if from == "" || body == "" {
		slog.Warn("TwilioService.Webhook: missing fields", "from", from, "bodyEmpty", body == "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	msg := models.InboundMessage{
		From:      from,
		Body:      body,
		Time:      time.Now().Unix(),
		MessageID: r.FormValue("MessageSid"),
	}
	slog.Info("TwilioService.Webhook: inbound message", "from", msg.From, "messageID", msg.MessageID)
	if !s.emitInbound(msg) {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(emptyTwiML))
}

func (s *TwilioService) requestURL(r *http.Request) string {
	if s.webhookURL != "" {
		return s.webhookURL
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func twilioStatus(s string) (models.MessageStatus, bool) {
	switch s {
	case "sent":
		return models.MessageStatusSent, true
	case "delivered":
		return models.MessageStatusDelivered, true
	case "read":
		return models.MessageStatusRead, true
	case "failed", "undelivered":
		return models.MessageStatusFailed, true
	default:
		return "", false
	}
}
