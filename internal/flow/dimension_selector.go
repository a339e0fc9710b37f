package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/Enkidu/internal/dimension"
	"github.com/BTreeMap/Enkidu/internal/models"
)

// errUnrecognizedLabel marks a classifier answer that names no dimension.
var errUnrecognizedLabel = errors.New("unrecognized dimension label")

// Selection is the dimension chosen for a turn.
type Selection struct {
	Dimension  dimension.ID
	Introduced bool // true when this turn introduced the dimension
}

// DimensionSelector walks every dimension once in canonical order, then classifies.
type DimensionSelector struct {
	classifier  Classifier
	maxAttempts int
}

// NewDimensionSelector creates a selector that calls classifier at most maxAttempts times per turn.
func NewDimensionSelector(classifier Classifier, maxAttempts int) *DimensionSelector {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &DimensionSelector{classifier: classifier, maxAttempts: maxAttempts}
}

// NextDimension picks the dimension for userText and mutates uc when a dimension is introduced.
func (s *DimensionSelector) NextDimension(ctx context.Context, uc *models.UserContext, userText string) (Selection, error) {
	if len(uc.Dimensions) < dimension.Count {
		for _, id := range dimension.All() {
			if _, ok := uc.Dimensions[id]; ok {
				continue
			}
			uc.Dimensions[id] = &models.DimensionState{Covered: true, Questions: []models.QuestionRecord{}}
			slog.Debug("DimensionSelector.NextDimension: introduced dimension", "userID", uc.UserID, "dimension", id, "introduced", len(uc.Dimensions))
			return Selection{Dimension: id, Introduced: true}, nil
		}
	}

	id, err := s.classify(ctx, userText)
	if err != nil {
		return Selection{}, err
	}
	slog.Debug("DimensionSelector.NextDimension: classified", "userID", uc.UserID, "dimension", id)
	return Selection{Dimension: id}, nil
}

func (s *DimensionSelector) classify(ctx context.Context, text string) (dimension.ID, error) {
	if s.classifier == nil {
		return "", fmt.Errorf("%w: no classifier configured", ErrClassificationExhausted)
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		label, err := s.classifier.ClassifyDimension(ctx, text)
		if err != nil {
			slog.Warn("DimensionSelector.classify: classifier call failed", "attempt", attempt, "error", err)
			lastErr = err
			continue
		}
		if id, ok := dimension.ParseLabel(label); ok {
			return id, nil
		}
		slog.Warn("DimensionSelector.classify: unrecognized label", "attempt", attempt, "label", label)
		lastErr = fmt.Errorf("%w: %q", errUnrecognizedLabel, label)
	}
	return "", fmt.Errorf("%w after %d attempts: %w", ErrClassificationExhausted, s.maxAttempts, lastErr)
}
