package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BTreeMap/Enkidu/internal/models"
)

// SMSService implements Service on top of an SMS client such as twiliosms.Client.
// Inbound SMS arrive through the /sms webhook, so Inbound never yields messages.
type SMSService struct {
	client  Sender
	inbound chan models.InboundMessage
	mu      sync.RWMutex
	stopped bool
}

// NewSMSService creates an SMSService sending through client.
func NewSMSService(client Sender) *SMSService {
	return &SMSService{
		client:  client,
		inbound: make(chan models.InboundMessage),
	}
}

// ValidateAndCanonicalizeRecipient returns the E.164 form of recipient.
func (s *SMSService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return ValidateAndCanonicalizeRecipient(recipient)
}

// Start is a no-op; SMS has no live connection.
func (s *SMSService) Start(ctx context.Context) error {
	slog.Debug("SMSService.Start: webhook-driven channel, nothing to start")
	return nil
}

// Stop makes later sends fail with ErrServiceStopped.
func (s *SMSService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.inbound)
	slog.Info("SMSService.Stop: stopped")
	return nil
}

// SendMessage canonicalizes to and sends body as a single SMS.
func (s *SMSService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("SMSService.SendMessage: invalid recipient", "to", to, "error", err)
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		return err
	}
	slog.Debug("SMSService.SendMessage: sent", "to", canonicalTo, "length", len(body))
	return nil
}

// Inbound returns a channel that is closed on Stop.
func (s *SMSService) Inbound() <-chan models.InboundMessage {
	return s.inbound
}
