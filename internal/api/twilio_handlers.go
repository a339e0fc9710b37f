package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/Enkidu/internal/flow"
	"github.com/BTreeMap/Enkidu/internal/messaging"
	"github.com/BTreeMap/Enkidu/internal/models"
	"github.com/twilio/twilio-go/twiml"
)

// Spoken fallbacks for the voice channel.
const (
	voiceGreeting       = "Hi, it is good to hear from you. What is on your mind today?"
	voiceOpenInvitation = "Is there anything else you would like to talk about?"
	voiceRateLimited    = "We have talked a lot in the last minute. Let us take a short pause and pick this up again soon."
	voiceAction         = "/voice"
)

// smsHandler handles the Twilio inbound SMS webhook. It replies out of band through the
// messaging service, so a successful turn answers 200 with an empty body.
func (s *Server) smsHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.smsHandler: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	from := r.PostFormValue("From")
	body := r.PostFormValue("Body")
	if strings.TrimSpace(from) == "" || strings.TrimSpace(body) == "" {
		slog.Warn("Server.smsHandler: missing required fields", "from_set", from != "", "body_set", body != "")
		http.Error(w, "Missing From or Body", http.StatusBadRequest)
		return
	}
	userID, err := messaging.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		slog.Warn("Server.smsHandler: invalid sender", "from", from, "error", err)
		http.Error(w, "Invalid From", http.StatusBadRequest)
		return
	}

	in := models.InboundMessage{
		From:      userID,
		Body:      body,
		MessageID: r.PostFormValue("MessageSid"),
		Channel:   models.ChannelSMS,
	}
	res, err := s.conv.HandleAndDeliver(r.Context(), in)
	switch {
	case err == nil:
	case errors.Is(err, flow.ErrRateLimited):
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	case errors.Is(err, models.ErrBodyTooLong):
		http.Error(w, "Message too long", http.StatusBadRequest)
		return
	default:
		slog.Error("Server.smsHandler: turn failed", "userID", userID, "messageID", in.MessageID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	slog.Info("Server.smsHandler: turn complete", "userID", userID, "messageID", in.MessageID, "duplicate", res.Duplicate, "dimension", res.Dimension)
	w.WriteHeader(http.StatusOK)
}

// voiceHandler handles the Twilio voice webhook, keeping the call in a speech gather loop.
func (s *Server) voiceHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.voiceHandler: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	from := r.PostFormValue("From")
	userID, err := messaging.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		slog.Warn("Server.voiceHandler: invalid caller", "from", from, "error", err)
		http.Error(w, "Invalid From", http.StatusBadRequest)
		return
	}

	speech := strings.TrimSpace(r.PostFormValue("SpeechResult"))
	if speech == "" {
		slog.Debug("Server.voiceHandler: no speech yet, greeting caller", "userID", userID, "callSid", r.PostFormValue("CallSid"))
		s.renderTwiML(w, &twiml.VoiceSay{Message: voiceGreeting}, speechGather(voiceOpenInvitation))
		return
	}

	in := models.InboundMessage{From: userID, Body: speech, Channel: models.ChannelVoice}
	res, err := s.conv.HandleTurn(r.Context(), in)
	switch {
	case err == nil:
	case errors.Is(err, flow.ErrRateLimited):
		s.renderTwiML(w, &twiml.VoiceSay{Message: voiceRateLimited}, &twiml.VoiceHangup{})
		return
	default:
		slog.Error("Server.voiceHandler: turn failed", "userID", userID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	next := res.NextQuestion
	if next == "" {
		next = voiceOpenInvitation
	}
	slog.Info("Server.voiceHandler: turn complete", "userID", userID, "dimension", res.Dimension)
	s.renderTwiML(w, &twiml.VoiceSay{Message: res.Reply}, speechGather(next))
}

// speechGather collects the caller's next utterance after saying prompt.
func speechGather(prompt string) *twiml.VoiceGather {
	return &twiml.VoiceGather{
		Input:         "speech",
		Action:        voiceAction,
		SpeechTimeout: "auto",
		InnerElements: []twiml.Element{&twiml.VoiceSay{Message: prompt}},
	}
}

func (s *Server) renderTwiML(w http.ResponseWriter, verbs ...twiml.Element) {
	doc, err := twiml.Voice(verbs)
	if err != nil {
		slog.Error("Server.renderTwiML: failed to render TwiML", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeTwiML(w, doc)
}
