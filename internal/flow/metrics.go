package flow

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/BTreeMap/Enkidu/internal/models"
)

// Metric thresholds.
const (
	tierWindow          = 5
	tierHighThreshold   = 5
	tierMediumThreshold = 3
	shortMessageRunes   = 20
)

var importantKeywords = []string{
	"help", "stressed", "advice", "sad", "relationship", "confused", "excited", "job", "friend",
}

var emotionalPattern = regexp.MustCompile(`(?i)feel|think|believe|worry|hope`)

// IsImportant reports whether text contains one of the important keywords, ignoring case.
func IsImportant(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range importantKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// MetricsEngine derives tier, depth and streak from the history.
type MetricsEngine struct {
	minDepth int
	maxDepth int
}

// NewMetricsEngine creates a MetricsEngine that clamps depth to [minDepth, maxDepth].
func NewMetricsEngine(minDepth, maxDepth int) *MetricsEngine {
	return &MetricsEngine{minDepth: minDepth, maxDepth: maxDepth}
}

// UpdateTier recomputes the tier from the important turns among the last five.
func (m *MetricsEngine) UpdateTier(uc *models.UserContext) {
	important := 0
	for _, t := range uc.RecentTurns(tierWindow) {
		if t.Important {
			important++
		}
	}
	switch {
	case important >= tierHighThreshold:
		uc.Tier = models.TierHigh
	case important >= tierMediumThreshold:
		uc.Tier = models.TierMedium
	default:
		uc.Tier = models.TierLow
	}
}

// UpdateDepth raises depth for reflective questions and lowers it for short messages.
func (m *MetricsEngine) UpdateDepth(uc *models.UserContext, message string) {
	switch {
	case strings.Contains(message, "?") && emotionalPattern.MatchString(message):
		uc.Depth++
	case utf8.RuneCountInString(message) < shortMessageRunes:
		uc.Depth--
	}
	uc.Depth = clampDepth(uc.Depth, m.minDepth, m.maxDepth)
}

// UpdateStreak increments the streak when the last two turns are both from the user, else resets it.
func (m *MetricsEngine) UpdateStreak(uc *models.UserContext) {
	recent := uc.RecentTurns(2)
	if len(recent) == 2 && recent[0].Sender == models.SenderUser && recent[1].Sender == models.SenderUser {
		uc.Streak++
		return
	}
	uc.Streak = 0
}

// Apply refreshes all metrics after a turn was appended. Depth and streak are folded in once
// per turn: repeated calls for the same newest turn only recompute the tier.
func (m *MetricsEngine) Apply(uc *models.UserContext, message string) {
	m.UpdateTier(uc)

	last, ok := uc.LastTurn()
	if !ok || last.ID == uc.MetricsTurnID {
		return
	}
	if last.Sender == models.SenderUser {
		m.UpdateDepth(uc, message)
	}
	m.UpdateStreak(uc)
	uc.MetricsTurnID = last.ID
}
