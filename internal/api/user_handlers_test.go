package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BTreeMap/Enkidu/internal/models"
	"github.com/BTreeMap/Enkidu/internal/testutil"
)

func TestGetContextHandler_NotFound(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(httptest.NewRequest(http.MethodGet, "/users/+15550000000/context", nil))

	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown user")
	testutil.AssertJSONResponse(t, rr, string(models.APIStatusError))
}

func TestGetContextHandler_AfterTurn(t *testing.T) {
	env := newTestEnv(t)
	env.do(formRequest("/sms", "From", testPhone, "Body", "I feel stuck at work"))

	rr := env.do(httptest.NewRequest(http.MethodGet, "/users/15551234567/context", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "known user")

	var resp struct {
		Status string             `json:"status"`
		Result models.UserContext `json:"result"`
	}
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &resp)
	if resp.Result.UserID != testPhone {
		t.Errorf("expected user %s, got %s", testPhone, resp.Result.UserID)
	}
	if len(resp.Result.History) != 1 || resp.Result.History[0].Text != "I feel stuck at work" {
		t.Errorf("unexpected history %+v", resp.Result.History)
	}
	if len(resp.Result.Dimensions) != 1 {
		t.Errorf("expected one introduced dimension, got %d", len(resp.Result.Dimensions))
	}
}

func TestGetContextHandler_InvalidUserID(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(httptest.NewRequest(http.MethodGet, "/users/abc/context", nil))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "invalid user id")
}

func TestGetContextHandler_LookupError(t *testing.T) {
	s := NewServer(&stubConversation{err: errors.New("db down")})
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/users/"+testPhone+"/context", nil))
	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "lookup error")
}

func TestSendMessageHandler_Success(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/users/"+testPhone+"/messages", strings.NewReader(`{"body":"Just checking in. How are you?"}`))
	rr := env.do(req)

	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "check-in")
	testutil.AssertJSONResponse(t, rr, string(models.APIStatusOK))

	sent := env.sender.Sent()
	if len(sent) != 1 || sent[0].Body != "Just checking in. How are you?" {
		t.Fatalf("unexpected sent messages %+v", sent)
	}
	uc, found, err := env.flow.LookupContext(req.Context(), testPhone)
	if err != nil || !found {
		t.Fatalf("expected stored context, found=%v err=%v", found, err)
	}
	if len(uc.History) != 1 || uc.History[0].Sender != models.SenderAssistant {
		t.Errorf("expected one assistant turn, got %+v", uc.History)
	}
}

func TestSendMessageHandler_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{"body":`},
		{name: "empty body", body: `{"body":""}`},
		{name: "too long", body: `{"body":"` + strings.Repeat("a", models.MaxOutboundBodyLength+1) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rr := env.do(httptest.NewRequest(http.MethodPost, "/users/"+testPhone+"/messages", strings.NewReader(tt.body)))
			testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, tt.name)
			if len(env.sender.Sent()) != 0 {
				t.Error("nothing should be sent")
			}
		})
	}
}

func TestSendMessageHandler_DeliveryFailure(t *testing.T) {
	stub := &stubConversation{turn: models.Turn{ID: "turn-1"}, err: errors.New("carrier down")}
	s := NewServer(stub)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/users/"+testPhone+"/messages", strings.NewReader(`{"body":"hi"}`)))

	testutil.AssertHTTPStatus(t, http.StatusBadGateway, rr.Code, "delivery failure")
	var resp models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != string(models.APIStatusError) {
		t.Errorf("expected error status, got %q", resp.Status)
	}
}
