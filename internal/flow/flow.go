// Package flow implements the per-turn conversation state machine: dimension coverage, answer
// attribution, next-question selection, bounded history with archival, derived metrics and
// sliding-window admission.
package flow

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRateLimited is returned when a turn is rejected by the rate limiter.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrClassificationExhausted is returned when the classifier never produced a known dimension.
	ErrClassificationExhausted = errors.New("dimension classification exhausted")
	// ErrDimensionNotIntroduced is returned when answers are recorded against a dimension that was never introduced.
	ErrDimensionNotIntroduced = errors.New("dimension not introduced")
)

// Classifier maps free text to one of the dimension labels.
type Classifier interface {
	ClassifyDimension(ctx context.Context, text string) (string, error)
}

// Composer authors the reply text for a turn.
type Composer interface {
	ComposeReply(ctx context.Context, prompt ReplyPrompt) (string, error)
}

// Summarizer condenses the user's turns about one dimension.
type Summarizer interface {
	Summarize(ctx context.Context, label, joinedText string) (string, error)
}

// ComposerFunc adapts a function to Composer.
type ComposerFunc func(ctx context.Context, prompt ReplyPrompt) (string, error)

// ComposeReply calls f.
func (f ComposerFunc) ComposeReply(ctx context.Context, prompt ReplyPrompt) (string, error) {
	return f(ctx, prompt)
}

// MessagingService delivers text to a user.
type MessagingService interface {
	SendMessage(ctx context.Context, to, message string) error
}

// Default conversation settings.
const (
	DefaultRecentHistoryLimit = 10
	DefaultMaxHistoryLength   = 100
	DefaultMaxRequests        = 10
	DefaultRateWindow         = 60 * time.Second
	DefaultMinDepth           = 1
	DefaultMaxDepth           = 5
	DefaultClassifyAttempts   = 3
)

// Settings holds the tunable bounds of the state machine.
type Settings struct {
	RecentHistoryLimit int           // turns kept in History before archival
	MaxHistoryLength   int           // turns kept in HistoryArchive
	MaxRequests        int           // admitted turns per RateWindow
	RateWindow         time.Duration // sliding admission window
	MinDepth           int
	MaxDepth           int
	ClassifyAttempts   int // total classifier calls per turn in free phase
}

// DefaultSettings returns the stock conversation bounds.
func DefaultSettings() Settings {
	return Settings{
		RecentHistoryLimit: DefaultRecentHistoryLimit,
		MaxHistoryLength:   DefaultMaxHistoryLength,
		MaxRequests:        DefaultMaxRequests,
		RateWindow:         DefaultRateWindow,
		MinDepth:           DefaultMinDepth,
		MaxDepth:           DefaultMaxDepth,
		ClassifyAttempts:   DefaultClassifyAttempts,
	}
}

// withDefaults replaces non-positive fields with their defaults.
func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.RecentHistoryLimit <= 0 {
		s.RecentHistoryLimit = d.RecentHistoryLimit
	}
	if s.MaxHistoryLength <= 0 {
		s.MaxHistoryLength = d.MaxHistoryLength
	}
	if s.MaxRequests <= 0 {
		s.MaxRequests = d.MaxRequests
	}
	if s.RateWindow <= 0 {
		s.RateWindow = d.RateWindow
	}
	if s.MinDepth <= 0 {
		s.MinDepth = d.MinDepth
	}
	if s.MaxDepth <= 0 {
		s.MaxDepth = d.MaxDepth
	}
	if s.MaxDepth < s.MinDepth {
		s.MaxDepth = s.MinDepth
	}
	if s.ClassifyAttempts <= 0 {
		s.ClassifyAttempts = d.ClassifyAttempts
	}
	return s
}

// clock returns the current time; tests replace it.
type clock func() time.Time
