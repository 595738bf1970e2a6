package messaging

import (
	"context"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
)

// Ensure every service implements Service
func TestServicesImplementService(t *testing.T) {
	var _ Service = (*WhatsAppService)(nil)
	var _ Service = (*TwilioService)(nil)
	var _ Service = (*LogService)(nil)
}

func TestWhatsAppService_SendMessage_Receipt(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	if err := svc.SendMessage(context.Background(), "+1 (555) 123-4567", "hello"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	select {
	case receipt := <-svc.Receipts():
		if receipt.To != "15551234567" {
			t.Errorf("expected canonical receipt.To, got %s", receipt.To)
		}
		if receipt.Status != models.MessageStatusSent {
			t.Errorf("expected status %s, got %s", models.MessageStatusSent, receipt.Status)
		}
	default:
		t.Fatal("expected receipt, got none")
	}
	if len(mockClient.Sent) != 1 || mockClient.Sent[0] != "15551234567: hello" {
		t.Errorf("unexpected sends: %v", mockClient.Sent)
	}
}

func TestWhatsAppService_RejectsShortRecipient(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.SendMessage(context.Background(), "+123", "hello"); err == nil {
		t.Fatal("expected error for short recipient")
	}
}

func TestWhatsAppService_StartStop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	if receipt, ok := <-svc.Receipts(); ok {
		t.Errorf("expected receipts channel closed, got value %v", receipt)
	}
	if msg, ok := <-svc.Inbound(); ok {
		t.Errorf("expected inbound channel closed, got value %v", msg)
	}
	if err := svc.SendMessage(context.Background(), "15551234567", "x"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func textEvent(from, id, text string, fromMe bool) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Sender:   types.NewJID(from, types.DefaultUserServer),
				IsFromMe: fromMe,
			},
			ID:        types.MessageID(id),
			Timestamp: time.Unix(1700000000, 0),
		},
		Message: &waE2E.Message{Conversation: &text},
	}
}

func TestWhatsAppService_HandleIncomingMessage(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	svc.handleEvent(textEvent("15551234567", "3EB0ABC", "hi there", false))

	select {
	case msg := <-svc.Inbound():
		if msg.From != "15551234567" || msg.Body != "hi there" || msg.MessageID != "3EB0ABC" || msg.Time != 1700000000 {
			t.Errorf("unexpected inbound message: %+v", msg)
		}
	default:
		t.Fatal("expected inbound message")
	}

	svc.handleEvent(textEvent("15551234567", "3EB0DEF", "echo", true))
	select {
	case msg := <-svc.Inbound():
		t.Errorf("own message should be ignored, got %+v", msg)
	default:
	}
}

func TestWhatsAppService_HandleReceipt(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	svc.handleEvent(&events.Receipt{
		MessageSource: types.MessageSource{Sender: types.NewJID("15551234567", types.DefaultUserServer)},
		Type:          events.ReceiptTypeRead,
		Timestamp:     time.Now(),
	})
	select {
	case rc := <-svc.Receipts():
		if rc.Status != models.MessageStatusRead || rc.To != "15551234567" {
			t.Errorf("unexpected receipt: %+v", rc)
		}
	default:
		t.Fatal("expected read receipt")
	}
}
