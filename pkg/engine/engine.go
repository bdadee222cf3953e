package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yapay-ai/usage-sentinel/pkg/dispatch"
	"github.com/yapay-ai/usage-sentinel/pkg/history"
	"github.com/yapay-ai/usage-sentinel/pkg/model"
	"github.com/yapay-ai/usage-sentinel/pkg/threshold"
)

// Config controls suppression windows and severity escalation.
type Config struct {
	// SuppressionWindow is armed on every dispatched alert so repeat
	// breaches of the same key stay quiet for a while.
	SuppressionWindow time.Duration
	// MaxSuppression caps caller-supplied suppression durations.
	MaxSuppression time.Duration
	// EscalationEnabled elevates repeated warning breaches to critical.
	EscalationEnabled bool
	// EscalationBreaches is the streak length that triggers elevation.
	EscalationBreaches int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		SuppressionWindow:  time.Hour,
		MaxSuppression:     DefaultMaxSuppression,
		EscalationEnabled:  true,
		EscalationBreaches: 3,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.SuppressionWindow <= 0 {
		c.SuppressionWindow = def.SuppressionWindow
	}
	if c.MaxSuppression <= 0 {
		c.MaxSuppression = def.MaxSuppression
	}
	if c.EscalationBreaches <= 0 {
		c.EscalationBreaches = def.EscalationBreaches
	}
	return c
}

// Engine evaluates metric samples against registered thresholds, records
// breaches in history, and hands alerts to the dispatcher. Evaluation for a
// given alert key is serialized; different keys proceed in parallel.
type Engine struct {
	registry   *threshold.Registry
	store      history.Store
	dispatcher *dispatch.Dispatcher
	suppressor *SuppressionManager
	escalation *EscalationTracker
	cfg        Config
	logger     *slog.Logger
	metrics    *Metrics

	keys *keyLocks

	dispatchCtx    context.Context
	dispatchCancel context.CancelFunc
	dispatchWG     sync.WaitGroup
}

// NewEngine creates an alert engine with the given dependencies. metrics may
// be nil to run without instrumentation.
func NewEngine(registry *threshold.Registry, store history.Store, dispatcher *dispatch.Dispatcher, cfg Config, logger *slog.Logger, metrics *Metrics) *Engine {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		registry:       registry,
		store:          store,
		dispatcher:     dispatcher,
		suppressor:     NewSuppressionManager(cfg.MaxSuppression),
		escalation:     NewEscalationTracker(),
		cfg:            cfg,
		logger:         logger,
		metrics:        metrics,
		keys:           newKeyLocks(),
		dispatchCtx:    ctx,
		dispatchCancel: cancel,
	}
}

// Ingest evaluates one sample against every threshold registered for its
// metric. Breaches are appended to history before dispatch is scheduled, so
// a returned nil guarantees the alert is already queryable.
func (e *Engine) Ingest(ctx context.Context, sample model.Sample) error {
	if err := sample.Validate(); err != nil {
		return err
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now().UTC()
	}

	thresholds := e.registry.ForMetric(sample.Metric)
	if len(thresholds) == 0 {
		return &model.ValidationError{Field: "sample.metric", Reason: fmt.Sprintf("no threshold registered for %q", sample.Metric)}
	}

	if e.metrics != nil {
		e.metrics.SamplesTotal.WithLabelValues(sample.Metric).Inc()
	}

	for _, th := range thresholds {
		if err := e.evaluate(ctx, th, sample); err != nil {
			return err
		}
	}
	return nil
}

// IngestBatch evaluates samples in order and stops at the first failure.
func (e *Engine) IngestBatch(ctx context.Context, samples []model.Sample) error {
	for i, sample := range samples {
		if err := e.Ingest(ctx, sample); err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
	}
	return nil
}

func (e *Engine) evaluate(ctx context.Context, th model.Threshold, sample model.Sample) error {
	key := th.ID
	unlock := e.keys.lock(key)
	defer unlock()

	value := comparisonValue(th, sample.Value)
	severity, breached := classify(th, value)
	if !breached {
		if e.escalation.Count(key) > 0 {
			e.escalation.Reset(key)
			e.logger.Info("metric recovered",
				"metric", th.Metric,
				"scope", th.Scope,
				"value", value,
			)
		}
		return nil
	}

	count := e.escalation.RecordBreach(key, severity)
	reported := severity
	escalated := false
	if e.cfg.EscalationEnabled && severity == model.SeverityWarning && count >= e.cfg.EscalationBreaches {
		reported = model.SeverityCritical
		escalated = true
	}
	suppressed := e.suppressor.IsSuppressed(key)

	alert := buildAlert(th, sample, value, severity, reported, count, escalated, suppressed)
	record := &model.HistoryRecord{Alert: alert}
	if err := e.store.Append(ctx, record); err != nil {
		return err
	}

	if e.metrics != nil {
		e.metrics.BreachesTotal.WithLabelValues(th.Metric, string(reported)).Inc()
	}

	if suppressed {
		if e.metrics != nil {
			e.metrics.SuppressedTotal.Inc()
		}
		e.logger.Debug("alert suppressed",
			"alert_id", alert.ID,
			"alert_key", key,
			"severity", reported,
		)
		return nil
	}

	// Arm the window before dispatch so a burst of samples cannot race a
	// second notification out while the first is still in flight.
	if err := e.suppressor.Suppress(key, e.cfg.SuppressionWindow); err != nil {
		e.logger.Error("arm suppression window", "alert_key", key, "error", err)
	}

	e.logger.Warn("alert raised",
		"alert_id", alert.ID,
		"metric", th.Metric,
		"severity", reported,
		"value", value,
		"threshold", alert.ThresholdValue,
		"consecutive_breaches", count,
	)
	if e.metrics != nil {
		e.metrics.AlertsFiredTotal.WithLabelValues(string(reported)).Inc()
	}

	e.scheduleDispatch(alert)
	return nil
}

// comparisonValue maps a raw sample onto the threshold's comparison scale.
func comparisonValue(th model.Threshold, raw float64) float64 {
	if th.ComparisonMode == model.ComparePercentage && th.PeriodBudget > 0 {
		return raw / th.PeriodBudget * 100
	}
	return raw
}

// classify returns the breach severity for a comparison value. Bounds of
// zero or less are unset.
func classify(th model.Threshold, value float64) (model.Severity, bool) {
	switch {
	case th.CriticalValue > 0 && value >= th.CriticalValue:
		return model.SeverityCritical, true
	case th.WarningValue > 0 && value >= th.WarningValue:
		return model.SeverityWarning, true
	default:
		return "", false
	}
}

func buildAlert(th model.Threshold, sample model.Sample, value float64, breachSeverity, reported model.Severity, count int, escalated, suppressed bool) model.Alert {
	bound := th.WarningValue
	if breachSeverity == model.SeverityCritical {
		bound = th.CriticalValue
	}

	unit := ""
	if th.ComparisonMode == model.ComparePercentage {
		unit = "%"
	}
	title := fmt.Sprintf("%s %s usage %s", th.Metric, th.Scope, reported)
	message := fmt.Sprintf("%s reached %.2f%s, crossing the %s bound %.2f%s for the %s period",
		th.Metric, value, unit, breachSeverity, bound, unit, th.Scope)

	metadata := map[string]any{
		"scope":                string(th.Scope),
		"comparison_mode":      string(th.ComparisonMode),
		"consecutive_breaches": count,
	}
	if th.ComparisonMode == model.ComparePercentage {
		metadata["raw_value"] = sample.Value
		metadata["period_budget"] = th.PeriodBudget
	}
	if escalated {
		metadata["escalated"] = true
		metadata["breach_severity"] = string(breachSeverity)
	}
	if suppressed {
		metadata["suppressed"] = true
	}

	return model.Alert{
		ID:             model.NewAlertID(),
		ThresholdID:    th.ID,
		Title:          title,
		Message:        message,
		Severity:       reported,
		Metric:         th.Metric,
		CurrentValue:   value,
		ThresholdValue: bound,
		Timestamp:      sample.Timestamp,
		Metadata:       metadata,
	}
}

// scheduleDispatch hands the alert to the dispatcher on a background
// goroutine. Delivery failures are flagged in history, never returned to
// the ingestion caller.
func (e *Engine) scheduleDispatch(alert model.Alert) {
	e.dispatchWG.Add(1)
	go func() {
		defer e.dispatchWG.Done()

		report := e.dispatcher.Dispatch(e.dispatchCtx, alert)
		if e.metrics != nil {
			e.metrics.DispatchDuration.Observe(report.Elapsed.Seconds())
		}
		if report.OverallSuccess {
			e.logger.Info("alert delivered",
				"alert_id", alert.ID,
				"elapsed", report.Elapsed,
			)
			return
		}

		if e.metrics != nil {
			e.metrics.DispatchFailures.Inc()
		}
		e.logger.Error("alert delivery exhausted",
			"alert_id", alert.ID,
			"channels", len(report.PerChannel),
			"elapsed", report.Elapsed,
			"error", model.ErrDispatchExhausted,
		)

		// The dispatch context may already be shutting down; the flag
		// still has to land.
		markCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.store.MarkDeliveryFailed(markCtx, alert.ID); err != nil {
			e.logger.Error("mark delivery failed", "alert_id", alert.ID, "error", err)
		}
	}()
}

// Redispatch replays a stored alert through the dispatcher synchronously and
// returns the delivery report. The history record keeps its original
// deliveryFailed flag as a trace of the first attempt.
func (e *Engine) Redispatch(ctx context.Context, alertID string) (dispatch.DeliveryReport, error) {
	record, err := e.store.Get(ctx, alertID)
	if err != nil {
		return dispatch.DeliveryReport{}, err
	}

	report := e.dispatcher.Dispatch(ctx, record.Alert)
	if report.OverallSuccess {
		e.logger.Info("alert redispatched", "alert_id", alertID, "elapsed", report.Elapsed)
	} else {
		e.logger.Error("redispatch exhausted", "alert_id", alertID, "error", model.ErrDispatchExhausted)
	}
	return report, nil
}

// Suppress silences an alert key for the given duration, clamped to the
// configured maximum. Callers may use threshold IDs or their own keys.
func (e *Engine) Suppress(alertKey string, d time.Duration) error {
	return e.suppressor.Suppress(alertKey, d)
}

// ClearSuppression lifts a suppression immediately.
func (e *Engine) ClearSuppression(alertKey string) {
	e.suppressor.Clear(alertKey)
}

// IsSuppressed reports whether the key is actively silenced.
func (e *Engine) IsSuppressed(alertKey string) bool {
	return e.suppressor.IsSuppressed(alertKey)
}

// SweepSuppressions drops expired suppression entries.
func (e *Engine) SweepSuppressions() int {
	return e.suppressor.Sweep()
}

// ConfigureThreshold registers or updates a threshold.
func (e *Engine) ConfigureThreshold(metric string, scope model.Scope, mode model.ComparisonMode, warning, critical, budget float64) (model.Threshold, error) {
	return e.registry.Configure(metric, scope, mode, warning, critical, budget)
}

// RemoveThreshold deletes a threshold by ID.
func (e *Engine) RemoveThreshold(id string) bool {
	return e.registry.Remove(id)
}

// Thresholds lists all registered thresholds.
func (e *Engine) Thresholds() []model.Threshold {
	return e.registry.List()
}

// Query returns history records matching the filter, newest first.
func (e *Engine) Query(ctx context.Context, filter model.HistoryFilter, limit int) ([]model.HistoryRecord, error) {
	return e.store.Query(ctx, filter, limit)
}

// Alert fetches a single history record by alert ID.
func (e *Engine) Alert(ctx context.Context, alertID string) (*model.HistoryRecord, error) {
	return e.store.Get(ctx, alertID)
}

// Acknowledge marks an alert as seen by an operator.
func (e *Engine) Acknowledge(ctx context.Context, alertID string) error {
	return e.store.Acknowledge(ctx, alertID)
}

// Resolve marks an alert's underlying condition as addressed.
func (e *Engine) Resolve(ctx context.Context, alertID string) error {
	return e.store.Resolve(ctx, alertID)
}

// TestChannel sends a probe through one channel and reports its health.
func (e *Engine) TestChannel(ctx context.Context, name string) (bool, error) {
	return e.dispatcher.Test(ctx, name)
}

// Channels lists registered dispatch channels in priority order.
func (e *Engine) Channels() []dispatch.RegisteredChannel {
	return e.dispatcher.Channels()
}

// PruneHistory trims history to the retention policy.
func (e *Engine) PruneHistory(ctx context.Context, keep int, maxAge time.Duration) (int64, error) {
	return e.store.Prune(ctx, keep, maxAge)
}

// Close cancels in-flight dispatches and waits for their goroutines to
// finish recording outcomes.
func (e *Engine) Close() error {
	e.dispatchCancel()
	e.dispatchWG.Wait()
	return nil
}
