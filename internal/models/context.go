package models

import (
	"time"

	"github.com/BTreeMap/Enkidu/internal/dimension"
)

// Sender identifies who authored a turn.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// IsValid reports whether s is a known sender.
func (s Sender) IsValid() bool {
	return s == SenderUser || s == SenderAssistant
}

// Tier is the coarse engagement level derived from recent message importance.
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// Turn is one entry in a user's history.
type Turn struct {
	ID        string       `json:"id"`
	Text      string       `json:"text"`
	Timestamp time.Time    `json:"timestamp"`
	Sender    Sender       `json:"sender"`
	Dimension dimension.ID `json:"dimension,omitempty"` // empty when the turn is not tagged
	Important bool         `json:"important"`
}

// QuestionRecord is a scripted question asked within a dimension.
// A nil Answer marks a question that is still pending.
type QuestionRecord struct {
	QuestionText string     `json:"question"`
	Answer       *string    `json:"answer,omitempty"`
	AskedAt      time.Time  `json:"asked_at"`
	AnsweredAt   *time.Time `json:"answered_at,omitempty"`
}

// Pending reports whether the question has not been answered yet.
func (q QuestionRecord) Pending() bool {
	return q.Answer == nil
}

// DimensionState tracks coverage of one dimension.
type DimensionState struct {
	Covered   bool             `json:"covered"`
	Questions []QuestionRecord `json:"questions"`
}

// UserContext is the persisted conversation state for one user.
type UserContext struct {
	UserID            string                           `json:"user_id"`
	Dimensions        map[dimension.ID]*DimensionState `json:"dimensions"`
	History           []Turn                           `json:"history"`
	HistoryArchive    []Turn                           `json:"history_archive"`
	RequestTimestamps []time.Time                      `json:"request_timestamps"`
	Tier              Tier                             `json:"tier"`
	Depth             int                              `json:"depth"`
	Streak            int                              `json:"streak"`
	ThematicSummaries map[dimension.ID]string          `json:"thematic_summaries"`
	MetricsTurnID     string                           `json:"metrics_turn_id,omitempty"`
	CreatedAt         time.Time                        `json:"created_at"`
	UpdatedAt         time.Time                        `json:"updated_at"`

	// Version is the storage version the context was loaded at; 0 means never persisted.
	Version int64 `json:"-"`
}

// NewUserContext returns the default context for a first contact.
func NewUserContext(userID string, depth int, now time.Time) *UserContext {
	return &UserContext{
		UserID:            userID,
		Dimensions:        make(map[dimension.ID]*DimensionState),
		History:           []Turn{},
		HistoryArchive:    []Turn{},
		RequestTimestamps: []time.Time{},
		Tier:              TierLow,
		Depth:             depth,
		Streak:            0,
		ThematicSummaries: make(map[dimension.ID]string),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// LastTurn returns the newest history entry.
func (uc *UserContext) LastTurn() (Turn, bool) {
	if len(uc.History) == 0 {
		return Turn{}, false
	}
	return uc.History[len(uc.History)-1], true
}

// RecentTurns returns up to n of the newest history entries, oldest first.
func (uc *UserContext) RecentTurns(n int) []Turn {
	if n <= 0 || len(uc.History) == 0 {
		return nil
	}
	if n > len(uc.History) {
		n = len(uc.History)
	}
	return uc.History[len(uc.History)-n:]
}

// IntroducedCount returns how many dimensions have been introduced.
func (uc *UserContext) IntroducedCount() int {
	return len(uc.Dimensions)
}
