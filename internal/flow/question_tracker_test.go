package flow

import (
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/Enkidu/internal/dimension"
	"github.com/BTreeMap/Enkidu/internal/models"
)

func TestQuestionTracker_FirstTurnPushesFirstQuestion(t *testing.T) {
	qt := NewQuestionTracker()
	uc := models.NewUserContext("u", DefaultMinDepth, testEpoch)
	uc.Dimensions[dimension.KeyExperiences] = &models.DimensionState{Covered: true, Questions: []models.QuestionRecord{}}

	next, ok, err := qt.RecordAnswerAndAdvance(uc, dimension.KeyExperiences, "hi", testEpoch)
	if err != nil || !ok {
		t.Fatalf("expected a first question, got ok=%v err=%v", ok, err)
	}
	script, _ := dimension.QuestionsFor(dimension.KeyExperiences)
	if next != script[0] {
		t.Errorf("expected %q, got %q", script[0], next)
	}
	qs := uc.Dimensions[dimension.KeyExperiences].Questions
	if len(qs) != 1 || !qs[0].Pending() {
		t.Fatalf("expected one pending question, got %+v", qs)
	}
}

func TestQuestionTracker_AttributesAnswerAndExhausts(t *testing.T) {
	qt := NewQuestionTracker()
	id := dimension.CreativeDrive
	uc := models.NewUserContext("u", DefaultMinDepth, testEpoch)
	uc.Dimensions[id] = &models.DimensionState{Covered: true}
	script, _ := dimension.QuestionsFor(id)

	asked := map[string]bool{}
	for i := 0; i < len(script); i++ {
		next, ok, err := qt.RecordAnswerAndAdvance(uc, id, "answer", testEpoch.Add(time.Duration(i)*time.Minute))
		if err != nil || !ok {
			t.Fatalf("turn %d: expected question, got ok=%v err=%v", i, ok, err)
		}
		if asked[next] {
			t.Fatalf("question %q asked twice", next)
		}
		asked[next] = true
	}

	// answering the last question exhausts the script
	now := testEpoch.Add(time.Hour)
	next, ok, err := qt.RecordAnswerAndAdvance(uc, id, "final answer", now)
	if err != nil {
		t.Fatal(err)
	}
	if ok || next != "" {
		t.Fatalf("expected exhaustion, got %q", next)
	}

	qs := uc.Dimensions[id].Questions
	if len(qs) != len(script) {
		t.Fatalf("expected %d records, got %d", len(script), len(qs))
	}
	for i, q := range qs {
		if q.QuestionText != script[i] {
			t.Errorf("record %d out of canonical order: %q", i, q.QuestionText)
		}
		if q.Pending() {
			t.Errorf("record %d should be answered", i)
		}
	}
	last := qs[len(qs)-1]
	if *last.Answer != "final answer" || !last.AnsweredAt.Equal(now) {
		t.Errorf("last answer not attributed: %+v", last)
	}

	// further turns neither record nor push anything
	_, ok, _ = qt.RecordAnswerAndAdvance(uc, id, "more", now)
	if ok || len(uc.Dimensions[id].Questions) != len(script) {
		t.Errorf("exhausted dimension must stay unchanged")
	}
}

func TestQuestionTracker_AtMostOnePending(t *testing.T) {
	qt := NewQuestionTracker()
	id := dimension.FamilyConnections
	uc := models.NewUserContext("u", DefaultMinDepth, testEpoch)
	uc.Dimensions[id] = &models.DimensionState{Covered: true}

	for i := 0; i < 6; i++ {
		qt.RecordAnswerAndAdvance(uc, id, "a", testEpoch)
		pending := 0
		for _, q := range uc.Dimensions[id].Questions {
			if q.Pending() {
				pending++
			}
		}
		if pending > 1 {
			t.Fatalf("turn %d: %d pending questions", i, pending)
		}
	}
}

func TestQuestionTracker_Errors(t *testing.T) {
	qt := NewQuestionTracker()
	uc := models.NewUserContext("u", DefaultMinDepth, testEpoch)

	if _, _, err := qt.RecordAnswerAndAdvance(uc, dimension.ID("astrology"), "a", testEpoch); !errors.Is(err, dimension.ErrUnknownDimension) {
		t.Errorf("expected ErrUnknownDimension, got %v", err)
	}
	if _, _, err := qt.RecordAnswerAndAdvance(uc, dimension.MentalHealth, "a", testEpoch); !errors.Is(err, ErrDimensionNotIntroduced) {
		t.Errorf("expected ErrDimensionNotIntroduced, got %v", err)
	}
	if _, ok := uc.Dimensions[dimension.MentalHealth]; ok {
		t.Error("tracker must not introduce dimensions")
	}
}
