package flow

import (
	"log/slog"
	"time"

	"github.com/BTreeMap/Enkidu/internal/models"
)

// RateLimiter admits at most maxRequests turns per sliding window.
type RateLimiter struct {
	maxRequests int
	window      time.Duration
}

// NewRateLimiter creates a sliding-window limiter.
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{maxRequests: maxRequests, window: window}
}

// Admit reports whether a turn at now is allowed. A rejected turn leaves uc untouched;
// an admitted one prunes stale timestamps and records now.
func (rl *RateLimiter) Admit(uc *models.UserContext, now time.Time) bool {
	kept := make([]time.Time, 0, len(uc.RequestTimestamps)+1)
	for _, ts := range uc.RequestTimestamps {
		if now.Sub(ts) < rl.window {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= rl.maxRequests {
		slog.Debug("RateLimiter.Admit: rejected", "userID", uc.UserID, "inWindow", len(kept), "max", rl.maxRequests)
		return false
	}
	uc.RequestTimestamps = append(kept, now)
	return true
}
