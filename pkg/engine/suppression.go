package engine

import (
	"sync"
	"time"

	"github.com/yapay-ai/usage-sentinel/pkg/model"
)

// DefaultMaxSuppression caps how long a key may be silenced.
const DefaultMaxSuppression = 24 * time.Hour

// SuppressionManager tracks which alert keys are silenced and until when.
// Expired entries never block alerts; they are purged lazily on lookup and
// in bulk by Sweep.
type SuppressionManager struct {
	mu          sync.Mutex
	entries     map[string]time.Time
	maxDuration time.Duration
}

// NewSuppressionManager creates a suppression manager. A maxDuration of zero
// or less falls back to DefaultMaxSuppression.
func NewSuppressionManager(maxDuration time.Duration) *SuppressionManager {
	if maxDuration <= 0 {
		maxDuration = DefaultMaxSuppression
	}
	return &SuppressionManager{
		entries:     make(map[string]time.Time),
		maxDuration: maxDuration,
	}
}

// Suppress silences an alert key for the given duration, clamped to the
// configured maximum. Durations of zero or less are rejected.
func (s *SuppressionManager) Suppress(alertKey string, d time.Duration) error {
	if alertKey == "" {
		return &model.ValidationError{Field: "suppression.alert_key", Reason: "must not be empty"}
	}
	if d <= 0 {
		return &model.ValidationError{Field: "suppression.duration", Reason: "must be positive"}
	}
	if d > s.maxDuration {
		d = s.maxDuration
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[alertKey] = time.Now().Add(d)
	return nil
}

// IsSuppressed reports whether the key is actively silenced.
func (s *SuppressionManager) IsSuppressed(alertKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.entries[alertKey]
	if !ok {
		return false
	}
	if !until.After(time.Now()) {
		delete(s.entries, alertKey)
		return false
	}
	return true
}

// Until returns when the key's suppression ends, if it is active.
func (s *SuppressionManager) Until(alertKey string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.entries[alertKey]
	if !ok || !until.After(time.Now()) {
		return time.Time{}, false
	}
	return until, true
}

// Clear removes the key's suppression immediately.
func (s *SuppressionManager) Clear(alertKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, alertKey)
}

// Sweep drops every expired entry and returns how many were reclaimed.
func (s *SuppressionManager) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, until := range s.entries {
		if !until.After(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}
