package engine

import (
	"sync"
	"time"

	"github.com/yapay-ai/usage-sentinel/pkg/model"
)

// EscalationState describes the breach streak for one alert key.
type EscalationState struct {
	ConsecutiveBreaches int
	LastSeverity        model.Severity
	FirstBreachAt       time.Time
}

// EscalationTracker counts consecutive breaches per alert key. State lives
// in memory only and restarts empty with the process.
type EscalationTracker struct {
	mu     sync.Mutex
	states map[string]*EscalationState
}

// NewEscalationTracker creates an empty tracker.
func NewEscalationTracker() *EscalationTracker {
	return &EscalationTracker{states: make(map[string]*EscalationState)}
}

// RecordBreach registers a breach at the given severity and returns the
// updated streak length. A breach at a different severity than the previous
// one starts a new streak.
func (t *EscalationTracker) RecordBreach(alertKey string, severity model.Severity) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[alertKey]
	if !ok || state.LastSeverity != severity {
		state = &EscalationState{LastSeverity: severity, FirstBreachAt: time.Now()}
		t.states[alertKey] = state
	}
	state.ConsecutiveBreaches++
	return state.ConsecutiveBreaches
}

// Count returns the current streak length for the key.
func (t *EscalationTracker) Count(alertKey string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if state, ok := t.states[alertKey]; ok {
		return state.ConsecutiveBreaches
	}
	return 0
}

// State returns a copy of the key's streak, if one exists.
func (t *EscalationTracker) State(alertKey string) (EscalationState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if state, ok := t.states[alertKey]; ok {
		return *state, true
	}
	return EscalationState{}, false
}

// Reset clears the key's streak, typically after the metric recovers.
func (t *EscalationTracker) Reset(alertKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, alertKey)
}
