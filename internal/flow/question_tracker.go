package flow

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/Enkidu/internal/dimension"
	"github.com/BTreeMap/Enkidu/internal/models"
)

// QuestionTracker attributes answers to scripted questions and pushes the next one.
type QuestionTracker struct{}

// NewQuestionTracker creates a QuestionTracker.
func NewQuestionTracker() *QuestionTracker {
	return &QuestionTracker{}
}

// RecordAnswerAndAdvance fills the pending question of id with answer, then asks the next
// scripted question. ok is false once the script of id is exhausted.
func (qt *QuestionTracker) RecordAnswerAndAdvance(uc *models.UserContext, id dimension.ID, answer string, now time.Time) (next string, ok bool, err error) {
	script, err := dimension.QuestionsFor(id)
	if err != nil {
		return "", false, err
	}
	state, found := uc.Dimensions[id]
	if !found || state == nil {
		return "", false, fmt.Errorf("%w: %s", ErrDimensionNotIntroduced, id)
	}

	if n := len(state.Questions); n > 0 && state.Questions[n-1].Pending() {
		answered := now
		text := answer
		state.Questions[n-1].Answer = &text
		state.Questions[n-1].AnsweredAt = &answered
		slog.Debug("QuestionTracker.RecordAnswerAndAdvance: answer recorded", "userID", uc.UserID, "dimension", id, "question", n)
	}

	asked := len(state.Questions)
	if asked >= len(script) {
		slog.Debug("QuestionTracker.RecordAnswerAndAdvance: script exhausted", "userID", uc.UserID, "dimension", id)
		return "", false, nil
	}
	next = script[asked]
	state.Questions = append(state.Questions, models.QuestionRecord{QuestionText: next, AskedAt: now})
	return next, true, nil
}
