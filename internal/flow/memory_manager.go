package flow

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/Enkidu/internal/dimension"
	"github.com/BTreeMap/Enkidu/internal/models"
	"github.com/google/uuid"
)

// summarySeparator joins a dimension's user turns before summarization.
const summarySeparator = "; "

// MemoryManager keeps History bounded, archives overflow and refreshes thematic summaries.
type MemoryManager struct {
	summarizer   Summarizer
	recentLimit  int
	archiveLimit int
}

// NewMemoryManager creates a MemoryManager. A nil summarizer disables summary regeneration.
func NewMemoryManager(summarizer Summarizer, recentLimit, archiveLimit int) *MemoryManager {
	return &MemoryManager{summarizer: summarizer, recentLimit: recentLimit, archiveLimit: archiveLimit}
}

// NewTurn builds a history entry with a fresh id and its importance flag.
func NewTurn(text string, sender models.Sender, dim dimension.ID, now time.Time) models.Turn {
	return models.Turn{
		ID:        uuid.NewString(),
		Text:      text,
		Timestamp: now,
		Sender:    sender,
		Dimension: dim,
		Important: IsImportant(text),
	}
}

// AppendTurn adds turn to History. When History grows past the recent limit its oldest half
// moves to the archive, which is then trimmed from the front.
func (m *MemoryManager) AppendTurn(ctx context.Context, uc *models.UserContext, turn models.Turn) {
	changed := make(map[dimension.ID]bool)
	markChanged := func(t models.Turn) {
		if t.Sender == models.SenderUser && t.Dimension != "" {
			changed[t.Dimension] = true
		}
	}

	uc.History = append(uc.History, turn)
	markChanged(turn)

	if len(uc.History) > m.recentLimit {
		n := m.recentLimit / 2
		if overflow := len(uc.History) - m.recentLimit; n < overflow {
			n = overflow
		}
		moved := uc.History[:n]
		for _, t := range moved {
			markChanged(t)
		}
		uc.HistoryArchive = append(uc.HistoryArchive, moved...)
		uc.History = append([]models.Turn(nil), uc.History[n:]...)
		slog.Debug("MemoryManager.AppendTurn: archived turns", "userID", uc.UserID, "moved", n, "archive", len(uc.HistoryArchive))
	}

	if excess := len(uc.HistoryArchive) - m.archiveLimit; excess > 0 {
		for _, t := range uc.HistoryArchive[:excess] {
			markChanged(t)
		}
		uc.HistoryArchive = append([]models.Turn(nil), uc.HistoryArchive[excess:]...)
		slog.Debug("MemoryManager.AppendTurn: evicted archived turns", "userID", uc.UserID, "evicted", excess)
	}

	// canonical order keeps summary calls deterministic
	for _, id := range dimension.All() {
		if changed[id] {
			m.regenerateSummary(ctx, uc, id)
		}
	}
}

// regenerateSummary replaces the summary of id. Failures keep the prior summary.
func (m *MemoryManager) regenerateSummary(ctx context.Context, uc *models.UserContext, id dimension.ID) {
	if m.summarizer == nil {
		return
	}
	joined := joinUserTurns(uc.History, id)
	if joined == "" {
		joined = joinUserTurns(uc.HistoryArchive, id)
	}
	if joined == "" {
		return
	}

	summary, err := m.summarizer.Summarize(ctx, dimension.Label(id), joined)
	if err != nil {
		slog.Warn("MemoryManager.regenerateSummary: summarization failed, keeping prior summary", "userID", uc.UserID, "dimension", id, "error", err)
		return
	}
	uc.ThematicSummaries[id] = strings.TrimSpace(summary)
}

func joinUserTurns(turns []models.Turn, id dimension.ID) string {
	var parts []string
	for _, t := range turns {
		if t.Dimension == id && t.Sender == models.SenderUser {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, summarySeparator)
}
