package model_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/yapay-ai/usage-sentinel/pkg/model"
)

func TestPeriodBounds_Daily(t *testing.T) {
	start, end := model.PeriodBounds(model.ScopeDaily)
	assert.False(t, start.IsZero())
	assert.False(t, end.IsZero())
	assert.Equal(t, 24*time.Hour, end.Sub(start))
	assert.Equal(t, 0, start.Hour())
	assert.Equal(t, 0, start.Minute())
}

func TestPeriodBounds_Weekly(t *testing.T) {
	start, end := model.PeriodBounds(model.ScopeWeekly)
	assert.False(t, start.IsZero())
	assert.Equal(t, 7*24*time.Hour, end.Sub(start))
}

func TestPeriodBoundsAt_WeeklyStartsMonday(t *testing.T) {
	// 2026-08-22 is a Saturday; the containing week starts Monday the 17th.
	at := time.Date(2026, 8, 22, 15, 30, 0, 0, time.UTC)
	start, end := model.PeriodBoundsAt(model.ScopeWeekly, at)
	assert.Equal(t, time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC), end)
}

func TestPeriodBounds_Monthly(t *testing.T) {
	start, end := model.PeriodBounds(model.ScopeMonthly)
	assert.False(t, start.IsZero())
	assert.Equal(t, 1, start.Day())
	assert.True(t, end.After(start))
}

func TestPeriodBounds_Default(t *testing.T) {
	start, end := model.PeriodBounds("unknown")
	assert.False(t, start.IsZero())
	assert.Equal(t, 24*time.Hour, end.Sub(start))
}

func TestThresholdID_Deterministic(t *testing.T) {
	a := model.ThresholdID("daily_cost", model.ScopeDaily)
	b := model.ThresholdID("daily_cost", model.ScopeDaily)
	assert.Equal(t, a, b)
	assert.Equal(t, "daily_cost:daily", a)
	assert.NotEqual(t, a, model.ThresholdID("daily_cost", model.ScopeWeekly))
}

func TestSample_Validate(t *testing.T) {
	tests := []struct {
		name    string
		sample  model.Sample
		wantErr bool
	}{
		{"valid", model.Sample{Metric: "daily_cost", Value: 12.5}, false},
		{"empty metric", model.Sample{Metric: "", Value: 1}, true},
		{"nan value", model.Sample{Metric: "daily_cost", Value: math.NaN()}, true},
		{"inf value", model.Sample{Metric: "daily_cost", Value: math.Inf(1)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sample.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, model.IsValidation(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSeverity_Valid(t *testing.T) {
	assert.True(t, model.SeverityWarning.Valid())
	assert.True(t, model.SeverityCritical.Valid())
	assert.True(t, model.SeverityInfo.Valid())
	assert.False(t, model.Severity("panic").Valid())
}
