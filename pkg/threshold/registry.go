// Package threshold holds active threshold definitions and their validation.
package threshold

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/yapay-ai/usage-sentinel/pkg/model"
)

// Registry manages threshold definitions keyed by (metric, scope).
// Reads may run concurrently; writes are serialized.
type Registry struct {
	mu         sync.RWMutex
	thresholds map[string]model.Threshold
}

// NewRegistry creates an empty threshold registry.
func NewRegistry() *Registry {
	return &Registry{
		thresholds: make(map[string]model.Threshold),
	}
}

// Configure creates or updates the threshold for a metric/scope pair and
// returns the stored definition. The threshold ID is derived from the pair,
// so configuring the same pair twice updates it in place.
func (r *Registry) Configure(metric string, scope model.Scope, mode model.ComparisonMode, warning, critical, budget float64) (model.Threshold, error) {
	if err := validate(metric, scope, mode, warning, critical, budget); err != nil {
		return model.Threshold{}, err
	}

	t := model.Threshold{
		ID:             model.ThresholdID(metric, scope),
		Metric:         metric,
		Scope:          scope,
		ComparisonMode: mode,
		WarningValue:   warning,
		CriticalValue:  critical,
		PeriodBudget:   budget,
		CreatedAt:      time.Now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.thresholds[t.ID]; ok {
		t.CreatedAt = prev.CreatedAt
	}
	r.thresholds[t.ID] = t
	return t, nil
}

// Get returns the threshold for a metric/scope pair.
func (r *Registry) Get(metric string, scope model.Scope) (model.Threshold, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.thresholds[model.ThresholdID(metric, scope)]
	return t, ok
}

// ByID returns the threshold with the given ID.
func (r *Registry) ByID(id string) (model.Threshold, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.thresholds[id]
	return t, ok
}

// ForMetric returns every threshold configured for the metric, across scopes.
func (r *Registry) ForMetric(metric string) []model.Threshold {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.Threshold
	for _, t := range r.thresholds {
		if t.Metric == metric {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// List returns all thresholds ordered by ID.
func (r *Registry) List() []model.Threshold {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Threshold, 0, len(r.thresholds))
	for _, t := range r.thresholds {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Remove deletes a threshold by ID. It reports whether one existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.thresholds[id]
	delete(r.thresholds, id)
	return ok
}

// Bounds of zero or less are treated as unset; at least one bound is required.
func validate(metric string, scope model.Scope, mode model.ComparisonMode, warning, critical, budget float64) error {
	if metric == "" {
		return &model.ValidationError{Field: "threshold.metric", Reason: "must not be empty"}
	}
	if !scope.Valid() {
		return &model.ValidationError{Field: "threshold.scope", Reason: "must be daily, weekly, or monthly"}
	}
	if !mode.Valid() {
		return &model.ValidationError{Field: "threshold.comparison_mode", Reason: "must be percentage or absolute"}
	}
	for _, v := range []float64{warning, critical, budget} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &model.ValidationError{Field: "threshold.values", Reason: "must be finite numbers"}
		}
	}
	if warning <= 0 && critical <= 0 {
		return &model.ValidationError{Field: "threshold.values", Reason: "at least one of warning or critical must be set"}
	}
	if warning > 0 && critical > 0 && warning >= critical {
		return &model.ValidationError{Field: "threshold.warning_value", Reason: "must be below critical value"}
	}
	if mode == model.ComparePercentage {
		if warning > 100 || critical > 100 {
			return &model.ValidationError{Field: "threshold.values", Reason: "percentage bounds must be within [0,100]"}
		}
		if budget <= 0 {
			return &model.ValidationError{Field: "threshold.period_budget", Reason: "percentage mode requires a positive budget"}
		}
	}
	return nil
}
