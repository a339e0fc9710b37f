package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode"
)

// Delivery defaults.
const (
	DefaultMaxMessageLength = 1600
	DefaultMaxTotalLength   = 8000
	DefaultMaxRetries       = 3
	DefaultRetryDelay       = 1 * time.Second
)

// Deliverer splits long text into ordered chunks and sends each with bounded retries.
type Deliverer struct {
	sender         Sender
	maxLength      int
	maxTotalLength int
	maxRetries     int
	retryDelay     time.Duration
}

// DelivererOption configures a Deliverer.
type DelivererOption func(*Deliverer)

// WithMaxMessageLength sets the largest chunk, in characters.
func WithMaxMessageLength(n int) DelivererOption {
	return func(d *Deliverer) { d.maxLength = n }
}

// WithMaxTotalLength sets the longest text accepted for delivery, in characters.
func WithMaxTotalLength(n int) DelivererOption {
	return func(d *Deliverer) { d.maxTotalLength = n }
}

// WithMaxRetries sets the attempts per chunk.
func WithMaxRetries(n int) DelivererOption {
	return func(d *Deliverer) { d.maxRetries = n }
}

// WithRetryDelay sets the base backoff; attempt n waits n times this delay.
func WithRetryDelay(delay time.Duration) DelivererOption {
	return func(d *Deliverer) { d.retryDelay = delay }
}

// NewDeliverer wraps sender with splitting and retries.
func NewDeliverer(sender Sender, opts ...DelivererOption) *Deliverer {
	d := &Deliverer{
		sender:         sender,
		maxLength:      DefaultMaxMessageLength,
		maxTotalLength: DefaultMaxTotalLength,
		maxRetries:     DefaultMaxRetries,
		retryDelay:     DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.maxLength <= 0 {
		d.maxLength = DefaultMaxMessageLength
	}
	if d.maxRetries <= 0 {
		d.maxRetries = 1
	}
	return d
}

// SendMessage delivers text to the recipient. It fails as soon as one chunk exhausts its retries;
// chunks sent before that are not recalled.
func (d *Deliverer) SendMessage(ctx context.Context, to, text string) error {
	if d.maxTotalLength > 0 && len([]rune(text)) > d.maxTotalLength {
		slog.Error("Deliverer.SendMessage: message too long", "to", to, "length", len([]rune(text)), "max", d.maxTotalLength)
		return fmt.Errorf("%w: %d characters", ErrMessageTooLong, len([]rune(text)))
	}

	chunks := SplitMessage(text, d.maxLength)
	slog.Debug("Deliverer.SendMessage: sending", "to", to, "chunks", len(chunks))
	for i, chunk := range chunks {
		if err := d.sendWithRetry(ctx, to, chunk); err != nil {
			return fmt.Errorf("%w: chunk %d of %d to %s: %w", ErrDeliveryFailed, i+1, len(chunks), to, err)
		}
	}
	return nil
}

func (d *Deliverer) sendWithRetry(ctx context.Context, to, body string) error {
	var lastErr error
	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		err := d.sender.SendMessage(ctx, to, body)
		if err == nil {
			return nil
		}
		lastErr = err
		slog.Warn("Deliverer.sendWithRetry: attempt failed", "to", to, "attempt", attempt, "maxRetries", d.maxRetries, "error", err)
		if attempt == d.maxRetries {
			break
		}
		if err := sleepContext(ctx, d.retryDelay*time.Duration(attempt)); err != nil {
			return errors.Join(lastErr, err)
		}
	}
	return lastErr
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SplitMessage cuts text into chunks of at most max characters, preferring to break after
// whitespace in the second half of a chunk. Concatenating the chunks gives back text.
func SplitMessage(text string, max int) []string {
	runes := []rune(text)
	if max <= 0 || len(runes) <= max {
		return []string{text}
	}

	var chunks []string
	for len(runes) > max {
		cut := max
		for i := max; i > max/2; i-- {
			if unicode.IsSpace(runes[i-1]) {
				cut = i
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
