package model

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Severity indicates how serious an alert is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// Scope defines the time window a threshold applies to.
type Scope string

const (
	ScopeDaily   Scope = "daily"
	ScopeWeekly  Scope = "weekly"
	ScopeMonthly Scope = "monthly"
)

// Valid reports whether sc is a known scope.
func (sc Scope) Valid() bool {
	switch sc {
	case ScopeDaily, ScopeWeekly, ScopeMonthly:
		return true
	}
	return false
}

// ComparisonMode selects how a sample value is compared against threshold bounds.
type ComparisonMode string

const (
	// CompareAbsolute compares the raw sample value.
	CompareAbsolute ComparisonMode = "absolute"
	// ComparePercentage compares value/period-budget as a percentage.
	ComparePercentage ComparisonMode = "percentage"
)

// Valid reports whether m is a known comparison mode.
func (m ComparisonMode) Valid() bool {
	return m == CompareAbsolute || m == ComparePercentage
}

// Sample is one observation of a usage metric.
type Sample struct {
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks that the sample is well formed.
func (s Sample) Validate() error {
	if s.Metric == "" {
		return &ValidationError{Field: "sample.metric", Reason: "must not be empty"}
	}
	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return &ValidationError{Field: "sample.value", Reason: "must be a finite number"}
	}
	return nil
}

// Threshold defines warning and critical bounds for one metric and scope.
type Threshold struct {
	ID             string         `json:"id" db:"id"`
	Metric         string         `json:"metric" db:"metric"`
	Scope          Scope          `json:"scope" db:"scope"`
	ComparisonMode ComparisonMode `json:"comparison_mode" db:"comparison_mode"`
	WarningValue   float64        `json:"warning_value" db:"warning_value"`
	CriticalValue  float64        `json:"critical_value" db:"critical_value"`
	// PeriodBudget is the denominator for percentage comparisons,
	// e.g. the dollar budget for the scope period. Ignored in absolute mode.
	PeriodBudget float64   `json:"period_budget,omitempty" db:"period_budget"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// ThresholdID derives the deterministic identifier for a metric/scope pair.
// Re-registering the same pair therefore updates instead of duplicating.
func ThresholdID(metric string, scope Scope) string {
	return metric + ":" + string(scope)
}

// Alert is an immutable breach notification produced by the engine.
type Alert struct {
	ID             string         `json:"id"`
	ThresholdID    string         `json:"threshold_id"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Severity       Severity       `json:"severity"`
	Metric         string         `json:"metric"`
	CurrentValue   float64        `json:"current_value"`
	ThresholdValue float64        `json:"threshold_value"`
	Timestamp      time.Time      `json:"timestamp"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// NewAlertID returns a fresh unique alert identifier.
func NewAlertID() string {
	return uuid.New().String()
}

// HistoryRecord is the stored form of an alert.
type HistoryRecord struct {
	Alert
	Acknowledged   bool       `json:"acknowledged"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	DeliveryFailed bool       `json:"delivery_failed"`
}

// HistoryFilter narrows a history query. All set fields must match.
type HistoryFilter struct {
	Severity     Severity  `json:"severity,omitempty"`
	MetricPrefix string    `json:"metric_prefix,omitempty"`
	Since        time.Time `json:"since,omitempty"`
	Until        time.Time `json:"until,omitempty"`
}

// PeriodBounds returns the UTC start and end of the current scope period.
func PeriodBounds(scope Scope) (start, end time.Time) {
	return PeriodBoundsAt(scope, time.Now().UTC())
}

// PeriodBoundsAt returns the UTC start and end of the scope period containing t.
func PeriodBoundsAt(scope Scope, t time.Time) (start, end time.Time) {
	t = t.UTC()
	switch scope {
	case ScopeWeekly:
		weekday := int(t.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		start = time.Date(t.Year(), t.Month(), t.Day()-weekday+1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 0, 7)
	case ScopeMonthly:
		start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 1, 0)
	default:
		start = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 0, 1)
	}
	return start, end
}
