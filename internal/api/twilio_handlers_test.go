package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/BTreeMap/Enkidu/internal/flow"
	"github.com/BTreeMap/Enkidu/internal/models"
	"github.com/BTreeMap/Enkidu/internal/testutil"
)

// stubConversation returns canned results for error mapping tests.
type stubConversation struct {
	result flow.TurnResult
	err    error
	turn   models.Turn
	uc     *models.UserContext
	last   models.InboundMessage
}

func (s *stubConversation) HandleTurn(ctx context.Context, in models.InboundMessage) (flow.TurnResult, error) {
	s.last = in
	return s.result, s.err
}

func (s *stubConversation) HandleAndDeliver(ctx context.Context, in models.InboundMessage) (flow.TurnResult, error) {
	s.last = in
	return s.result, s.err
}

func (s *stubConversation) RecordOutbound(ctx context.Context, userID, body string) (models.Turn, error) {
	return s.turn, s.err
}

func (s *stubConversation) LookupContext(ctx context.Context, userID string) (*models.UserContext, bool, error) {
	return s.uc, s.uc != nil, s.err
}

func TestSMSHandler_Success(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(formRequest("/sms", "From", testPhone, "Body", "I had a rough day", "MessageSid", "SM1"))

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "sms success")
	if rr.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", rr.Body.String())
	}
	sent := env.sender.Sent()
	if len(sent) != 1 || sent[0].To != testPhone {
		t.Fatalf("expected one reply to %s, got %+v", testPhone, sent)
	}
	if !strings.HasPrefix(sent[0].Body, "I hear you.") {
		t.Errorf("unexpected reply %q", sent[0].Body)
	}
	if !env.store.IsProcessed("SM1") {
		t.Error("expected MessageSid to be marked processed")
	}
}

func TestSMSHandler_DuplicateMessageSid(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 2; i++ {
		rr := env.do(formRequest("/sms", "From", testPhone, "Body", "hello", "MessageSid", "SM1"))
		testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "sms delivery")
	}
	if got := len(env.sender.Sent()); got != 1 {
		t.Errorf("expected a single reply for a redelivered webhook, got %d", got)
	}
}

func TestSMSHandler_MissingFields(t *testing.T) {
	tests := []struct {
		name  string
		pairs []string
	}{
		{name: "no from", pairs: []string{"Body", "hello"}},
		{name: "no body", pairs: []string{"From", testPhone}},
		{name: "blank body", pairs: []string{"From", testPhone, "Body", "   "}},
		{name: "bad from", pairs: []string{"From", "abc", "Body", "hello"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rr := env.do(formRequest("/sms", tt.pairs...))
			testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, tt.name)
			if len(env.sender.Sent()) != 0 {
				t.Error("no reply expected")
			}
		})
	}
}

func TestSMSHandler_RateLimited(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < flow.DefaultMaxRequests; i++ {
		rr := env.do(formRequest("/sms", "From", testPhone, "Body", "message"))
		testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "admitted message")
	}
	rr := env.do(formRequest("/sms", "From", testPhone, "Body", "one too many"))
	testutil.AssertHTTPStatus(t, http.StatusTooManyRequests, rr.Code, "rate limited message")
	if got := len(env.sender.Sent()); got != flow.DefaultMaxRequests {
		t.Errorf("expected %d replies, got %d", flow.DefaultMaxRequests, got)
	}
}

func TestSMSHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "rate limited", err: flow.ErrRateLimited, want: http.StatusTooManyRequests},
		{name: "wrapped rate limit", err: errors.Join(errors.New("ctx"), flow.ErrRateLimited), want: http.StatusTooManyRequests},
		{name: "body too long", err: models.ErrBodyTooLong, want: http.StatusBadRequest},
		{name: "classification exhausted", err: flow.ErrClassificationExhausted, want: http.StatusInternalServerError},
		{name: "generic", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(&stubConversation{err: tt.err})
			rr := httptest.NewRecorder()
			s.Handler().ServeHTTP(rr, formRequest("/sms", "From", testPhone, "Body", "hello"))
			testutil.AssertHTTPStatus(t, tt.want, rr.Code, tt.name)
		})
	}
}

func TestSMSHandler_CanonicalizesSender(t *testing.T) {
	stub := &stubConversation{}
	s := NewServer(stub)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, formRequest("/sms", "From", "1 (555) 123-4567", "Body", "hello", "MessageSid", "SM9"))

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "sms")
	want := models.InboundMessage{From: testPhone, Body: "hello", MessageID: "SM9", Channel: models.ChannelSMS}
	if stub.last != want {
		t.Errorf("got %+v, want %+v", stub.last, want)
	}
}

func TestVoiceHandler_Greeting(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(formRequest("/voice", "From", testPhone, "CallSid", "CA1"))

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "voice greeting")
	if ct := rr.Header().Get("Content-Type"); ct != "text/xml" {
		t.Errorf("expected text/xml, got %q", ct)
	}
	body := rr.Body.String()
	if !containsAll(body, "<Response>", voiceGreeting, `input="speech"`, `action="/voice"`, `speechTimeout="auto"`) {
		t.Errorf("unexpected TwiML: %s", body)
	}
	if _, found, _ := env.flow.LookupContext(context.Background(), testPhone); found {
		t.Error("greeting must not create a context")
	}
}

func TestVoiceHandler_SpeechTurn(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(formRequest("/voice", "From", testPhone, "SpeechResult", "I keep thinking about my family"))

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "voice turn")
	body := rr.Body.String()
	if !containsAll(body, "<Say>I hear you.</Say>", "<Gather", "</Gather>") {
		t.Errorf("unexpected TwiML: %s", body)
	}
	if len(env.sender.Sent()) != 0 {
		t.Error("voice replies are spoken, not sent")
	}
	uc, found, err := env.flow.LookupContext(context.Background(), testPhone)
	if err != nil || !found {
		t.Fatalf("expected stored context, found=%v err=%v", found, err)
	}
	if len(uc.History) != 1 {
		t.Errorf("expected 1 history entry, got %d", len(uc.History))
	}
}

func TestVoiceHandler_ExhaustedScriptUsesInvitation(t *testing.T) {
	stub := &stubConversation{result: flow.TurnResult{Reply: "Thanks for sharing."}}
	s := NewServer(stub)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, formRequest("/voice", "From", testPhone, "SpeechResult", "hello"))

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "voice")
	if !strings.Contains(rr.Body.String(), voiceOpenInvitation) {
		t.Errorf("expected open invitation, got %s", rr.Body.String())
	}
	if stub.last.Channel != models.ChannelVoice || stub.last.MessageID != "" {
		t.Errorf("unexpected inbound %+v", stub.last)
	}
}

func TestVoiceHandler_RateLimited(t *testing.T) {
	s := NewServer(&stubConversation{err: flow.ErrRateLimited})
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, formRequest("/voice", "From", testPhone, "SpeechResult", "hello"))

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "voice rate limited")
	if !containsAll(rr.Body.String(), voiceRateLimited, "<Hangup") {
		t.Errorf("unexpected TwiML: %s", rr.Body.String())
	}
}

func TestVoiceHandler_HardFailure(t *testing.T) {
	s := NewServer(&stubConversation{err: errors.New("compose failed")})
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, formRequest("/voice", "From", testPhone, "SpeechResult", "hello"))
	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "voice failure")
}

// twilioSignature computes X-Twilio-Signature for a form POST.
func twilioSignature(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestTwilioSignatureValidation(t *testing.T) {
	const token = "secret-token"
	const base = "https://enkidu.example.com"
	form := url.Values{"From": {testPhone}, "Body": {"hello"}, "MessageSid": {"SM1"}}

	tests := []struct {
		name      string
		signature string
		want      int
	}{
		{name: "valid signature", signature: twilioSignature(token, base+"/sms", form), want: http.StatusOK},
		{name: "wrong token", signature: twilioSignature("other", base+"/sms", form), want: http.StatusForbidden},
		{name: "missing signature", signature: "", want: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, WithSignatureValidation(token, base+"/"))
			req := httptest.NewRequest(http.MethodPost, "/sms", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			if tt.signature != "" {
				req.Header.Set(twilioSignatureHeader, tt.signature)
			}
			rr := env.do(req)
			testutil.AssertHTTPStatus(t, tt.want, rr.Code, tt.name)
		})
	}
}

func TestTwilioSignatureValidation_OperatorRoutesUnaffected(t *testing.T) {
	env := newTestEnv(t, WithSignatureValidation("secret-token", "https://enkidu.example.com"))
	rr := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health without signature")
}
