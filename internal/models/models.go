// Package models defines the core data structures for Enkidu.
//
// It includes the per-user conversation context and the JSON envelopes shared by the API.
package models

import (
	"errors"
	"strings"
)

// Validation constants for input validation
const (
	// MaxInboundBodyLength bounds a single inbound message body
	MaxInboundBodyLength = 4096
	// MaxOutboundBodyLength bounds an operator check-in message body
	MaxOutboundBodyLength = 4096
)

// Error variables for better error handling and testability
var (
	ErrEmptySender = errors.New("sender cannot be empty")
	ErrEmptyBody   = errors.New("message body cannot be empty")
	ErrBodyTooLong = errors.New("message body exceeds maximum length")
	ErrEmptyUserID = errors.New("user id cannot be empty")
)

// Channel identifies the transport a message arrived on.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelVoice    Channel = "voice"
	ChannelWhatsApp Channel = "whatsapp"
)

// InboundMessage is a parsed message from a participant.
type InboundMessage struct {
	From      string  `json:"from"`
	Body      string  `json:"body"`
	MessageID string  `json:"message_id,omitempty"` // transport id used for deduplication
	Channel   Channel `json:"channel"`
}

// Validate checks the inbound message has a sender and a bounded body.
func (m InboundMessage) Validate() error {
	if strings.TrimSpace(m.From) == "" {
		return ErrEmptySender
	}
	if strings.TrimSpace(m.Body) == "" {
		return ErrEmptyBody
	}
	if len(m.Body) > MaxInboundBodyLength {
		return ErrBodyTooLong
	}
	return nil
}

// OutboundRequest is the payload of an operator check-in.
type OutboundRequest struct {
	Body string `json:"body"`
}

// Validate checks the outbound body.
func (r OutboundRequest) Validate() error {
	if strings.TrimSpace(r.Body) == "" {
		return ErrEmptyBody
	}
	if len(r.Body) > MaxOutboundBodyLength {
		return ErrBodyTooLong
	}
	return nil
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
