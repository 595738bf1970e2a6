package messaging

import (
	"context"
	"testing"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

func TestLogService(t *testing.T) {
	svc := NewLogService()
	if err := svc.SendMessage(context.Background(), "+1 555 123 4567", "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if svc.SentCount() != 1 {
		t.Errorf("SentCount = %d, want 1", svc.SentCount())
	}
	if rc := <-svc.Receipts(); rc.To != "15551234567" {
		t.Errorf("unexpected receipt: %+v", rc)
	}

	if !svc.Deliver(models.InboundMessage{From: "15551234567", Body: "hi"}) {
		t.Fatal("Deliver returned false")
	}
	if msg := <-svc.Inbound(); msg.Body != "hi" {
		t.Errorf("unexpected inbound: %+v", msg)
	}

	svc.Stop()
	if svc.Deliver(models.InboundMessage{From: "15551234567", Body: "late"}) {
		t.Error("Deliver after Stop should be dropped")
	}
}
