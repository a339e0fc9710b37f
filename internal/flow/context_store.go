package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/Enkidu/internal/dimension"
	"github.com/BTreeMap/Enkidu/internal/models"
	"github.com/BTreeMap/Enkidu/internal/store"
)

// contextKeyPrefix namespaces user contexts in the key/value store.
const contextKeyPrefix = "user_"

// ContextKey returns the storage key of a user's context.
func ContextKey(userID string) string {
	return contextKeyPrefix + userID
}

// ContextStore loads and persists user contexts through a versioned store.
type ContextStore struct {
	store    store.Store
	minDepth int
	maxDepth int
	now      clock
}

// NewContextStore creates a ContextStore. New contexts start at minDepth.
func NewContextStore(st store.Store, minDepth, maxDepth int) *ContextStore {
	slog.Debug("ContextStore.NewContextStore: creating context store", "minDepth", minDepth, "maxDepth", maxDepth)
	return &ContextStore{store: st, minDepth: minDepth, maxDepth: maxDepth, now: time.Now}
}

// Load returns the stored context for userID, or a fresh default context on first contact.
func (cs *ContextStore) Load(ctx context.Context, userID string) (*models.UserContext, error) {
	uc, found, err := cs.Lookup(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !found {
		slog.Debug("ContextStore.Load: first contact, using defaults", "userID", userID)
		return models.NewUserContext(userID, cs.minDepth, cs.now()), nil
	}
	return uc, nil
}

// Lookup returns the stored context for userID. found is false when none was ever saved.
func (cs *ContextStore) Lookup(ctx context.Context, userID string) (uc *models.UserContext, found bool, err error) {
	if userID == "" {
		return nil, false, models.ErrEmptyUserID
	}

	data, version, err := cs.store.Get(ctx, ContextKey(userID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		slog.Error("ContextStore.Lookup: store get failed", "userID", userID, "error", err)
		return nil, false, fmt.Errorf("failed to load context for %s: %w", userID, err)
	}

	uc = &models.UserContext{}
	if err := json.Unmarshal(data, uc); err != nil {
		slog.Error("ContextStore.Lookup: stored context is not valid JSON", "userID", userID, "error", err)
		return nil, false, fmt.Errorf("failed to decode context for %s: %w", userID, err)
	}
	uc.Version = version
	cs.normalize(uc, userID)
	slog.Debug("ContextStore.Lookup: context loaded", "userID", userID, "version", version, "dimensions", len(uc.Dimensions), "history", len(uc.History))
	return uc, true, nil
}

// normalize repairs fields a stored record may omit or carry out of range.
func (cs *ContextStore) normalize(uc *models.UserContext, userID string) {
	if uc.UserID == "" {
		uc.UserID = userID
	}
	if uc.Dimensions == nil {
		uc.Dimensions = make(map[dimension.ID]*models.DimensionState)
	}
	for id, state := range uc.Dimensions {
		if !dimension.IsValid(id) {
			slog.Warn("ContextStore.normalize: dropping unknown dimension", "userID", userID, "dimension", id)
			delete(uc.Dimensions, id)
			continue
		}
		if state == nil {
			uc.Dimensions[id] = &models.DimensionState{Covered: true, Questions: []models.QuestionRecord{}}
		} else if state.Questions == nil {
			state.Questions = []models.QuestionRecord{}
		}
	}
	if uc.ThematicSummaries == nil {
		uc.ThematicSummaries = make(map[dimension.ID]string)
	}
	if uc.History == nil {
		uc.History = []models.Turn{}
	}
	if uc.HistoryArchive == nil {
		uc.HistoryArchive = []models.Turn{}
	}
	if uc.RequestTimestamps == nil {
		uc.RequestTimestamps = []time.Time{}
	}
	switch uc.Tier {
	case models.TierLow, models.TierMedium, models.TierHigh:
	default:
		uc.Tier = models.TierLow
	}
	uc.Depth = clampDepth(uc.Depth, cs.minDepth, cs.maxDepth)
	if uc.Streak < 0 {
		uc.Streak = 0
	}
}

// Save persists uc at its loaded version and advances uc.Version.
// A concurrent writer makes Save fail with store.ErrVersionConflict.
func (cs *ContextStore) Save(ctx context.Context, uc *models.UserContext) error {
	uc.UpdatedAt = cs.now()
	data, err := json.Marshal(uc)
	if err != nil {
		return fmt.Errorf("failed to encode context for %s: %w", uc.UserID, err)
	}

	version, err := cs.store.Put(ctx, ContextKey(uc.UserID), data, uc.Version)
	if err != nil {
		slog.Error("ContextStore.Save: store put failed", "userID", uc.UserID, "version", uc.Version, "error", err)
		return fmt.Errorf("failed to save context for %s: %w", uc.UserID, err)
	}
	uc.Version = version
	slog.Debug("ContextStore.Save: context saved", "userID", uc.UserID, "version", version)
	return nil
}

func clampDepth(depth, min, max int) int {
	if depth < min {
		return min
	}
	if depth > max {
		return max
	}
	return depth
}
