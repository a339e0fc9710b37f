// Package testutil provides common test fakes and helpers for Enkidu tests.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
)

// TB is the subset of testing.TB used by the assertion helpers.
type TB interface {
	Helper()
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
		return nil
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Errorf("response missing or invalid 'status' field")
	}
	return response
}

// FormBody encodes key/value pairs as an application/x-www-form-urlencoded body.
func FormBody(pairs ...string) *strings.Reader {
	form := url.Values{}
	for i := 0; i+1 < len(pairs); i += 2 {
		form.Set(pairs[i], pairs[i+1])
	}
	return strings.NewReader(form.Encode())
}

// SentMessage is one message captured by RecordingSender.
type SentMessage struct {
	To   string
	Body string
}

// RecordingSender captures messages and optionally fails the first FailFirst sends.
type RecordingSender struct {
	mu        sync.Mutex
	FailFirst int
	Err       error
	calls     int
	sent      []SentMessage
}

// SendMessage records the message, or fails while FailFirst calls remain.
func (s *RecordingSender) SendMessage(ctx context.Context, to, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.FailFirst {
		if s.Err != nil {
			return s.Err
		}
		return fmt.Errorf("send attempt %d failed", s.calls)
	}
	s.sent = append(s.sent, SentMessage{To: to, Body: body})
	return nil
}

// Sent returns a copy of the delivered messages.
func (s *RecordingSender) Sent() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SentMessage(nil), s.sent...)
}

// Calls returns how many sends were attempted.
func (s *RecordingSender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// ScriptedClassifier returns Labels in order, then repeats the last one.
// An empty label paired with a non-nil entry in Errs returns that error.
type ScriptedClassifier struct {
	mu     sync.Mutex
	Labels []string
	Errs   []error
	calls  int
}

// ClassifyDimension returns the next scripted label.
func (c *ScriptedClassifier) ClassifyDimension(ctx context.Context, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	c.calls++
	if i < len(c.Errs) && c.Errs[i] != nil {
		return "", c.Errs[i]
	}
	if len(c.Labels) == 0 {
		return "", fmt.Errorf("no scripted labels")
	}
	if i >= len(c.Labels) {
		i = len(c.Labels) - 1
	}
	return c.Labels[i], nil
}

// Calls returns how many classifications were requested.
func (c *ScriptedClassifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// SummaryCall is one request captured by RecordingSummarizer.
type SummaryCall struct {
	Label  string
	Joined string
}

// RecordingSummarizer answers "summary of <label>" and records each request.
type RecordingSummarizer struct {
	mu    sync.Mutex
	Err   error
	calls []SummaryCall
}

// Summarize records the call and returns a deterministic summary or Err.
func (s *RecordingSummarizer) Summarize(ctx context.Context, label, joined string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, SummaryCall{Label: label, Joined: joined})
	if s.Err != nil {
		return "", s.Err
	}
	return "summary of " + label + ": " + joined, nil
}

// Calls returns a copy of the recorded requests.
func (s *RecordingSummarizer) Calls() []SummaryCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SummaryCall(nil), s.calls...)
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t TB, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
