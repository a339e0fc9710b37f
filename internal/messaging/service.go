// Package messaging delivers replies over the configured channel and feeds inbound channel
// messages into the conversation flow.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/BTreeMap/Enkidu/internal/models"
)

// Constants for service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for inbound message channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
	// minPhoneDigits is the shortest accepted phone number
	minPhoneDigits = 6
)

var (
	// ErrServiceStopped is returned by SendMessage after Stop.
	ErrServiceStopped = errors.New("messaging service stopped")
	// ErrDeliveryFailed is returned when a chunk could not be sent after all retries.
	ErrDeliveryFailed = errors.New("message delivery failed")
	// ErrMessageTooLong is returned for text beyond the total delivery limit.
	ErrMessageTooLong = errors.New("message exceeds maximum deliverable length")
)

var nonDigitRegex = regexp.MustCompile(`\D`)

// Sender sends one message body to a recipient.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Service is a channel that can send messages and may produce inbound messages.
type Service interface {
	Sender

	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// Start begins any background processing (e.g., listening for channel events).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Inbound returns a channel of messages received over the channel itself.
	// Webhook-driven channels never send on it.
	Inbound() <-chan models.InboundMessage
}

// ValidateAndCanonicalizeRecipient turns a phone number in any common notation into E.164
// form ("+" followed by digits). Channel prefixes such as "whatsapp:" are dropped.
func ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	trimmed := strings.TrimSpace(recipient)
	if trimmed == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	if i := strings.LastIndex(trimmed, ":"); i >= 0 {
		trimmed = trimmed[i+1:]
	}

	digits := nonDigitRegex.ReplaceAllString(trimmed, "")
	if digits == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(digits) < minPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", digits, minPhoneDigits)
	}

	canonical := "+" + digits
	if canonical != recipient {
		slog.Debug("messaging.ValidateAndCanonicalizeRecipient: canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}
