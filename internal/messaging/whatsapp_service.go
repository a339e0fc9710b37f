package messaging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/Enkidu/internal/models"
	"github.com/BTreeMap/Enkidu/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Service using the whatsmeow-based whatsapp client.
// Incoming text messages are forwarded to Inbound.
type WhatsAppService struct {
	client   Sender
	waClient *whatsapp.Client // set when events can be received
	inbound  chan models.InboundMessage
	timeout  time.Duration
	mu       sync.RWMutex
	stopped  bool
}

// NewWhatsAppService creates a WhatsAppService wrapping client.
func NewWhatsAppService(client Sender) *WhatsAppService {
	service := &WhatsAppService{
		client:  client,
		inbound: make(chan models.InboundMessage, DefaultChannelBufferSize),
		timeout: DefaultChannelTimeout,
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService.NewWhatsAppService: full client, inbound events enabled")
	} else {
		slog.Debug("WhatsAppService.NewWhatsAppService: send-only client")
	}
	return service
}

// ValidateAndCanonicalizeRecipient returns the E.164 form of recipient.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return ValidateAndCanonicalizeRecipient(recipient)
}

// Start registers the whatsmeow event handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService.Start: no live client, skipping event handling")
		return nil
	}
	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(v)
		default:
			slog.Debug("WhatsAppService.Start: ignoring event", "type", getEventType(v))
		}
	})
	slog.Info("WhatsAppService.Start: event handler registered")
	return nil
}

// Stop closes Inbound; events arriving afterwards are dropped.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.inbound)
	if s.waClient != nil && s.waClient.GetClient() != nil {
		s.waClient.GetClient().Disconnect()
	}
	slog.Info("WhatsAppService.Stop: stopped and inbound channel closed")
	return nil
}

// SendMessage sends body to the phone number to, given in any notation.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService.SendMessage: invalid recipient", "to", to, "error", err)
		return err
	}
	// whatsmeow JIDs carry the bare digits
	if err := s.client.SendMessage(ctx, strings.TrimPrefix(canonicalTo, "+"), body); err != nil {
		slog.Error("WhatsAppService.SendMessage: send failed", "to", canonicalTo, "error", err)
		return err
	}
	slog.Debug("WhatsAppService.SendMessage: sent", "to", canonicalTo, "length", len(body))
	return nil
}

// Inbound returns incoming WhatsApp text messages.
func (s *WhatsAppService) Inbound() <-chan models.InboundMessage {
	return s.inbound
}

func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt == nil || evt.Message == nil || evt.Info.IsFromMe {
		return
	}

	var text string
	if evt.Message.Conversation != nil {
		text = evt.Message.GetConversation()
	} else if evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil {
		text = evt.Message.ExtendedTextMessage.GetText()
	} else {
		slog.Debug("WhatsAppService.handleIncomingMessage: ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	from := evt.Info.Sender.User
	if !strings.HasPrefix(from, "+") {
		from = "+" + from
	}
	s.forward(models.InboundMessage{
		From:      from,
		Body:      text,
		MessageID: evt.Info.ID,
		Channel:   models.ChannelWhatsApp,
	})
}

// forward queues msg on Inbound unless the service stopped or the queue stays full past the timeout.
func (s *WhatsAppService) forward(msg models.InboundMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Debug("WhatsAppService.forward: stopped, dropping message", "from", msg.From)
		return
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case s.inbound <- msg:
		slog.Info("WhatsAppService.forward: incoming message forwarded", "from", msg.From, "messageID", msg.MessageID)
	case <-timer.C:
		slog.Warn("WhatsAppService.forward: inbound channel blocked, dropping message", "from", msg.From, "timeout", s.timeout)
	}
}

// getEventType returns a string representation of the event type for logging
func getEventType(evt interface{}) string {
	switch evt.(type) {
	case *events.Message:
		return "Message"
	case *events.Receipt:
		return "Receipt"
	case *events.Presence:
		return "Presence"
	case *events.Connected:
		return "Connected"
	case *events.Disconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}
