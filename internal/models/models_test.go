package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/Enkidu/internal/dimension"
)

func TestInboundMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     InboundMessage
		wantErr error
	}{
		{"valid", InboundMessage{From: "+15551234567", Body: "hello"}, nil},
		{"missing sender", InboundMessage{Body: "hello"}, ErrEmptySender},
		{"blank body", InboundMessage{From: "+15551234567", Body: "   "}, ErrEmptyBody},
		{"too long", InboundMessage{From: "+15551234567", Body: strings.Repeat("a", MaxInboundBodyLength+1)}, ErrBodyTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.msg.Validate(); err != tt.wantErr {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNewUserContextDefaults(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	uc := NewUserContext("+15551234567", 1, now)

	if uc.Tier != TierLow || uc.Depth != 1 || uc.Streak != 0 {
		t.Errorf("unexpected defaults: tier=%s depth=%d streak=%d", uc.Tier, uc.Depth, uc.Streak)
	}
	if uc.Dimensions == nil || uc.ThematicSummaries == nil {
		t.Fatal("maps must be initialized")
	}
	if uc.IntroducedCount() != 0 {
		t.Errorf("expected no dimensions, got %d", uc.IntroducedCount())
	}
	if _, ok := uc.LastTurn(); ok {
		t.Error("fresh context should have no turns")
	}
}

func TestUserContextVersionNotSerialized(t *testing.T) {
	uc := NewUserContext("+1555", 1, time.Now())
	uc.Version = 7
	uc.Dimensions[dimension.MentalHealth] = &DimensionState{Covered: true}

	data, err := json.Marshal(uc)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if strings.Contains(string(data), "Version") {
		t.Errorf("version leaked into JSON: %s", data)
	}

	var decoded UserContext
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.Version != 0 {
		t.Errorf("expected zero version after decode, got %d", decoded.Version)
	}
	if !decoded.Dimensions[dimension.MentalHealth].Covered {
		t.Error("dimension state lost in round trip")
	}
}

func TestRecentTurns(t *testing.T) {
	uc := NewUserContext("+1555", 1, time.Now())
	for _, text := range []string{"a", "b", "c", "d"} {
		uc.History = append(uc.History, Turn{Text: text, Sender: SenderUser})
	}

	recent := uc.RecentTurns(3)
	if len(recent) != 3 || recent[0].Text != "b" || recent[2].Text != "d" {
		t.Errorf("unexpected recent turns: %+v", recent)
	}
	if len(uc.RecentTurns(10)) != 4 {
		t.Error("RecentTurns should cap at history length")
	}
	if uc.RecentTurns(0) != nil {
		t.Error("RecentTurns(0) should be nil")
	}
}

func TestAPIEnvelopes(t *testing.T) {
	if Error("boom").Status != string(APIStatusError) {
		t.Error("Error envelope has wrong status")
	}
	resp := SuccessWithMessage("done", map[string]int{"n": 1})
	if resp.Status != string(APIStatusOK) || resp.Message != "done" {
		t.Errorf("unexpected success envelope: %+v", resp)
	}
}
