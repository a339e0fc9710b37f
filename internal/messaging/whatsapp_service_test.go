package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/Enkidu/internal/models"
	"github.com/BTreeMap/Enkidu/internal/whatsapp"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

func textEvent(user, id, text string) *events.Message {
	evt := &events.Message{Message: &waE2E.Message{Conversation: &text}}
	evt.Info.ID = id
	evt.Info.Sender = types.NewJID(user, whatsapp.JIDSuffix)
	return evt
}

func TestWhatsAppService_SendMessageStripsPlus(t *testing.T) {
	client := whatsapp.NewMockClient()
	svc := NewWhatsAppService(client)

	if err := svc.SendMessage(context.Background(), "+1 (555) 123-4567", "hello"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	sent := client.Sent()
	if len(sent) != 1 || sent[0].To != "15551234567" || sent[0].Body != "hello" {
		t.Fatalf("unexpected sent messages: %+v", sent)
	}
}

func TestWhatsAppService_SendMessageError(t *testing.T) {
	client := whatsapp.NewMockClient()
	client.Err = errors.New("not connected")
	svc := NewWhatsAppService(client)

	if err := svc.SendMessage(context.Background(), "+15551234567", "hello"); !errors.Is(err, client.Err) {
		t.Fatalf("expected client error, got %v", err)
	}
}

func TestWhatsAppService_IncomingTextForwarded(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	svc.handleIncomingMessage(textEvent("15551234567", "WA1", "hello there"))

	select {
	case msg := <-svc.Inbound():
		want := models.InboundMessage{From: "+15551234567", Body: "hello there", MessageID: "WA1", Channel: models.ChannelWhatsApp}
		if msg != want {
			t.Errorf("got %+v, want %+v", msg, want)
		}
	default:
		t.Fatal("expected an inbound message")
	}
}

func TestWhatsAppService_ExtendedTextForwarded(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	text := "quoted reply"
	evt := &events.Message{Message: &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: &text}}}
	evt.Info.Sender = types.NewJID("15551234567", whatsapp.JIDSuffix)
	svc.handleIncomingMessage(evt)

	select {
	case msg := <-svc.Inbound():
		if msg.Body != text {
			t.Errorf("expected body %q, got %q", text, msg.Body)
		}
	default:
		t.Fatal("expected an inbound message")
	}
}

func TestWhatsAppService_IgnoresNonTextAndOwnMessages(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())

	nonText := &events.Message{Message: &waE2E.Message{}}
	nonText.Info.Sender = types.NewJID("15551234567", whatsapp.JIDSuffix)
	svc.handleIncomingMessage(nonText)

	own := textEvent("15550000000", "WA2", "sent by us")
	own.Info.IsFromMe = true
	svc.handleIncomingMessage(own)

	svc.handleIncomingMessage(nil)

	select {
	case msg := <-svc.Inbound():
		t.Fatalf("expected nothing forwarded, got %+v", msg)
	default:
	}
}

func TestWhatsAppService_DropsWhenBlocked(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	svc.timeout = time.Millisecond
	for i := 0; i < DefaultChannelBufferSize+1; i++ {
		svc.handleIncomingMessage(textEvent("15551234567", "", "hi"))
	}
	if got := len(svc.inbound); got != DefaultChannelBufferSize {
		t.Errorf("expected a full buffer of %d, got %d", DefaultChannelBufferSize, got)
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
	if _, ok := <-svc.Inbound(); ok {
		t.Error("expected inbound channel closed")
	}

	// events after Stop are dropped rather than sent on the closed channel
	svc.handleIncomingMessage(textEvent("15551234567", "WA3", "late"))

	if err := svc.SendMessage(context.Background(), "+15551234567", "hi"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}
