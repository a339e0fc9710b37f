// Package config loads Enkidu's runtime configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BTreeMap/Enkidu/internal/flow"
	"github.com/BTreeMap/Enkidu/internal/messaging"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for Enkidu state data
	DefaultStateDir = "/var/lib/enkidu"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "enkidu.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow device database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// MemoryDSN selects the in-memory store
	MemoryDSN = "memory"
)

// Channel names accepted by ENKIDU_CHANNEL.
const (
	ChannelSMS      = "sms"
	ChannelWhatsApp = "whatsapp"
)

var (
	// ErrInvalidConfig wraps every validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config holds environment configuration.
type Config struct {
	StateDir    string `env:"ENKIDU_STATE_DIR" envDefault:"/var/lib/enkidu"`
	DatabaseURL string `env:"DATABASE_URL"`
	APIAddr     string `env:"API_ADDR" envDefault:":8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Channel     string `env:"ENKIDU_CHANNEL" envDefault:"sms"`

	OpenAIKey         string  `env:"OPENAI_API_KEY"`
	OpenAIModel       string  `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	OpenAITemperature float64 `env:"OPENAI_TEMPERATURE" envDefault:"0.7"`
	OpenAIMaxTokens   int     `env:"OPENAI_MAX_TOKENS" envDefault:"300"`
	GenAIDebug        bool    `env:"GENAI_DEBUG"`

	TwilioAccountSID        string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken         string `env:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber        string `env:"TWILIO_FROM_NUMBER"`
	TwilioValidateSignature bool   `env:"TWILIO_VALIDATE_SIGNATURE"`
	PublicBaseURL           string `env:"PUBLIC_BASE_URL"`

	WhatsAppDSN         string `env:"WHATSAPP_DB_DSN"`
	WhatsAppQRPath      string `env:"WHATSAPP_QR_OUTPUT"`
	WhatsAppNumericCode bool   `env:"WHATSAPP_NUMERIC_CODE"`

	Conversation ConversationConfig
	Delivery     DeliveryConfig
}

// ConversationConfig bounds the conversation state machine.
type ConversationConfig struct {
	RecentHistoryLimit int           `env:"RECENT_HISTORY_LIMIT" envDefault:"10"`
	MaxHistoryLength   int           `env:"MAX_HISTORY_LENGTH" envDefault:"100"`
	MaxRequests        int           `env:"RATE_LIMIT_MAX_REQUESTS" envDefault:"10"`
	RateWindow         time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"60s"`
	MinDepth           int           `env:"MIN_DEPTH" envDefault:"1"`
	MaxDepth           int           `env:"MAX_DEPTH" envDefault:"5"`
	ClassifyAttempts   int           `env:"CLASSIFY_MAX_ATTEMPTS" envDefault:"3"`
}

// DeliveryConfig controls reply splitting and send retries.
type DeliveryConfig struct {
	MaxMessageLength int           `env:"MAX_MESSAGE_LENGTH" envDefault:"1600"`
	MaxRetries       int           `env:"SEND_MAX_RETRIES" envDefault:"3"`
	RetryDelay       time.Duration `env:"SEND_RETRY_DELAY" envDefault:"1s"`
}

// Load reads an optional .env file and parses the environment into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("config.Load: no .env file loaded", "error", err)
	} else {
		slog.Debug("config.Load: loaded .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	slog.Debug("config.Load: environment parsed",
		"state_dir", cfg.StateDir,
		"DATABASE_URL_SET", cfg.DatabaseURL != "",
		"api_addr", cfg.APIAddr,
		"channel", cfg.Channel,
		"OPENAI_API_KEY_SET", cfg.OpenAIKey != "",
		"TWILIO_ACCOUNT_SID_SET", cfg.TwilioAccountSID != "",
		"validate_signature", cfg.TwilioValidateSignature)
	return cfg, nil
}

// Validate checks bounds and cross-field requirements.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.StateDir) == "" {
		errs = append(errs, errors.New("state directory must be set"))
	}
	if c.APIAddr == "" {
		errs = append(errs, errors.New("API address must be set"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.Channel {
	case ChannelSMS, ChannelWhatsApp:
	default:
		errs = append(errs, fmt.Errorf("unknown channel %q (want %s or %s)", c.Channel, ChannelSMS, ChannelWhatsApp))
	}
	if c.OpenAITemperature < 0 || c.OpenAITemperature > 2 {
		errs = append(errs, fmt.Errorf("OPENAI_TEMPERATURE %v out of range [0, 2]", c.OpenAITemperature))
	}
	if c.OpenAIMaxTokens <= 0 {
		errs = append(errs, errors.New("OPENAI_MAX_TOKENS must be positive"))
	}
	if c.TwilioValidateSignature {
		if c.TwilioAuthToken == "" {
			errs = append(errs, errors.New("TWILIO_VALIDATE_SIGNATURE requires TWILIO_AUTH_TOKEN"))
		}
		if c.PublicBaseURL == "" {
			errs = append(errs, errors.New("TWILIO_VALIDATE_SIGNATURE requires PUBLIC_BASE_URL"))
		}
	}

	conv := c.Conversation
	positive := map[string]int{
		"RECENT_HISTORY_LIMIT":    conv.RecentHistoryLimit,
		"MAX_HISTORY_LENGTH":      conv.MaxHistoryLength,
		"RATE_LIMIT_MAX_REQUESTS": conv.MaxRequests,
		"MIN_DEPTH":               conv.MinDepth,
		"MAX_DEPTH":               conv.MaxDepth,
		"CLASSIFY_MAX_ATTEMPTS":   conv.ClassifyAttempts,
		"MAX_MESSAGE_LENGTH":      c.Delivery.MaxMessageLength,
		"SEND_MAX_RETRIES":        c.Delivery.MaxRetries,
	}
	for _, name := range sortedKeys(positive) {
		if positive[name] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, positive[name]))
		}
	}
	if conv.RateWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW must be positive"))
	}
	if conv.MinDepth > conv.MaxDepth {
		errs = append(errs, fmt.Errorf("MIN_DEPTH %d exceeds MAX_DEPTH %d", conv.MinDepth, conv.MaxDepth))
	}
	if c.Delivery.RetryDelay < 0 {
		errs = append(errs, errors.New("SEND_RETRY_DELAY must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// StoreDSN returns the DSN for the user context store: DATABASE_URL, the in-memory store for
// "memory" (as the empty string), or a SQLite file in the state directory.
func (c *Config) StoreDSN() string {
	switch c.DatabaseURL {
	case MemoryDSN:
		return ""
	case "":
		return filepath.Join(c.StateDir, DefaultDBFileName)
	default:
		return c.DatabaseURL
	}
}

// WhatsAppStoreDSN returns the whatsmeow device database DSN. It falls back to a SQLite file
// with foreign keys enabled in the state directory.
func (c *Config) WhatsAppStoreDSN() string {
	if c.WhatsAppDSN != "" {
		return c.WhatsAppDSN
	}
	return "file:" + filepath.Join(c.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// FlowSettings converts the conversation knobs to flow.Settings.
func (c *Config) FlowSettings() flow.Settings {
	return flow.Settings{
		RecentHistoryLimit: c.Conversation.RecentHistoryLimit,
		MaxHistoryLength:   c.Conversation.MaxHistoryLength,
		MaxRequests:        c.Conversation.MaxRequests,
		RateWindow:         c.Conversation.RateWindow,
		MinDepth:           c.Conversation.MinDepth,
		MaxDepth:           c.Conversation.MaxDepth,
		ClassifyAttempts:   c.Conversation.ClassifyAttempts,
	}
}

// DelivererOptions converts the delivery knobs to messaging options.
func (c *Config) DelivererOptions() []messaging.DelivererOption {
	return []messaging.DelivererOption{
		messaging.WithMaxMessageLength(c.Delivery.MaxMessageLength),
		messaging.WithMaxRetries(c.Delivery.MaxRetries),
		messaging.WithRetryDelay(c.Delivery.RetryDelay),
	}
}

// ParseLogLevel maps a level name to slog.Level.
func ParseLogLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
	return l, nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
