// Package dimension defines the eight conversational dimensions Enkidu covers with every user.
//
// The catalog is static: each dimension has a label used in classification prompts, a short
// explanation used the first time it is introduced, and an ordered list of scripted questions.
package dimension

import (
	"errors"
	"fmt"
	"strings"
)

// ID identifies one of the eight canonical dimensions.
type ID string

const (
	IdentityAndValues ID = "identityAndValues"
	KeyExperiences    ID = "keyExperiences"
	CreativeDrive     ID = "creativeDrive"
	FamilyConnections ID = "familyConnections"
	MentalHealth      ID = "mentalHealth"
	MotivationGrowth  ID = "motivationGrowth"
	SetbacksWins      ID = "setbacksWins"
	FaithPhilosophy   ID = "faithPhilosophy"
)

// Count is the number of canonical dimensions.
const Count = 8

// ErrUnknownDimension is returned for an identifier outside the canonical set.
var ErrUnknownDimension = errors.New("unknown dimension")

// Definition is the static catalog entry for a dimension.
type Definition struct {
	ID          ID
	Label       string
	Explanation string
	Questions   []string
}

// catalog is ordered canonically; selection in the scripted phase walks it front to back.
var catalog = [Count]Definition{
	{
		ID:          IdentityAndValues,
		Label:       "Identity and Values",
		Explanation: "Exploring your identity and values helps me connect with the beliefs and principles you live by.",
		Questions: []string{
			"What are three words you would use to describe yourself?",
			"Which value do you refuse to compromise on, even when it costs you?",
			"When do you feel most like yourself?",
			"Who taught you the most about the kind of person you want to be?",
		},
	},
	{
		ID:          KeyExperiences,
		Label:       "Key Experiences",
		Explanation: "Understanding your key experiences and career gives me insight into your journey so far.",
		Questions: []string{
			"What experience has shaped you the most?",
			"How did you end up doing the work you do today?",
			"What is a moment you wish you could live again?",
			"Which turning point changed the direction of your life?",
		},
	},
	{
		ID:          CreativeDrive,
		Label:       "Creative Drive",
		Explanation: "Creativity and legacy show me your passions and the mark you want to leave.",
		Questions: []string{
			"What do you love making or building?",
			"When was the last time you lost track of time creating something?",
			"What would you like people to remember you for?",
			"If you had a free year, what project would you start?",
		},
	},
	{
		ID:          FamilyConnections,
		Label:       "Family Connections",
		Explanation: "Family, culture and connections ground us and shape how we see the world.",
		Questions: []string{
			"Who are the people you feel closest to right now?",
			"What tradition from your family or culture matters to you?",
			"How has your family shaped the way you handle relationships?",
			"Is there someone you would like to reconnect with?",
		},
	},
	{
		ID:          MentalHealth,
		Label:       "Mental Health",
		Explanation: "Mental health and self-worth help me support you in a balanced way.",
		Questions: []string{
			"How have you been feeling lately, honestly?",
			"What helps you recharge when you are drained?",
			"What does a good day look like for you?",
			"When do you feel proud of yourself?",
		},
	},
	{
		ID:          MotivationGrowth,
		Label:       "Motivation Growth",
		Explanation: "Motivation and growth reveal your ambitions and the goals you are working toward.",
		Questions: []string{
			"What goal are you most excited about right now?",
			"What gets you out of bed on difficult mornings?",
			"Where do you want to be a year from now?",
			"Do you ever feel your standards hold you back?",
		},
	},
	{
		ID:          SetbacksWins,
		Label:       "Setbacks Wins",
		Explanation: "Setbacks and wins show how you handle the ups and downs of life.",
		Questions: []string{
			"What is a setback that taught you something important?",
			"What is a recent win you have not celebrated enough?",
			"How do you usually pick yourself up after a failure?",
			"Which challenge are you facing right now?",
		},
	},
	{
		ID:          FaithPhilosophy,
		Label:       "Faith Philosophy",
		Explanation: "Faith, philosophy and purpose guide your worldview and your sense of meaning.",
		Questions: []string{
			"What gives your life meaning?",
			"Do you hold any spiritual or philosophical beliefs that guide you?",
			"What do you think happens when we do the right thing and nobody notices?",
			"What question about life do you keep coming back to?",
		},
	},
}

var index = func() map[ID]int {
	m := make(map[ID]int, Count)
	for i, d := range catalog {
		m[d.ID] = i
	}
	return m
}()

// All returns the canonical dimension ids in order.
func All() []ID {
	ids := make([]ID, 0, Count)
	for _, d := range catalog {
		ids = append(ids, d.ID)
	}
	return ids
}

// IsValid reports whether id is one of the canonical dimensions.
func IsValid(id ID) bool {
	_, ok := index[id]
	return ok
}

// Get returns the catalog entry for id.
func Get(id ID) (Definition, error) {
	i, ok := index[id]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownDimension, id)
	}
	return catalog[i], nil
}

// QuestionsFor returns the scripted questions for id in canonical order.
// The returned slice is a copy.
func QuestionsFor(id ID) ([]string, error) {
	d, err := Get(id)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), d.Questions...), nil
}

// Label returns the human-readable label for id, or the raw id if it is unknown.
func Label(id ID) string {
	if d, err := Get(id); err == nil {
		return d.Label
	}
	return string(id)
}

// Explanation returns the introduction sentence for id.
func Explanation(id ID) string {
	if d, err := Get(id); err == nil {
		return d.Explanation
	}
	return ""
}

// Labels returns all labels in canonical order, for classification prompts.
func Labels() []string {
	labels := make([]string, 0, Count)
	for _, d := range catalog {
		labels = append(labels, d.Label)
	}
	return labels
}

// ParseLabel maps a classifier answer to a dimension id. It tolerates surrounding whitespace,
// quotes, list markers and trailing punctuation, ignores case, and accepts either the label
// ("Mental Health") or the id ("mentalHealth").
func ParseLabel(label string) (ID, bool) {
	cleaned := strings.TrimSpace(label)
	cleaned = strings.TrimLeft(cleaned, "-*• ")
	cleaned = strings.Trim(cleaned, "\"'`“”.!:; \t\r\n")
	if cleaned == "" {
		return "", false
	}
	for _, d := range catalog {
		if strings.EqualFold(cleaned, d.Label) || strings.EqualFold(cleaned, string(d.ID)) {
			return d.ID, true
		}
	}
	return "", false
}
