package engine_test

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yapay-ai/usage-sentinel/pkg/dispatch"
	"github.com/yapay-ai/usage-sentinel/pkg/engine"
	"github.com/yapay-ai/usage-sentinel/pkg/history"
	"github.com/yapay-ai/usage-sentinel/pkg/model"
	"github.com/yapay-ai/usage-sentinel/pkg/threshold"
)

type fakeChannel struct {
	name       string
	mu         sync.Mutex
	failAlways bool
	block      chan struct{}
	delivered  []model.Alert
	notify     chan model.Alert
}

func newFakeChannel(name string) *fakeChannel {
	return &fakeChannel{name: name, notify: make(chan model.Alert, 16)}
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Deliver(ctx context.Context, alert model.Alert) error {
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	fail := c.failAlways
	if !fail {
		c.delivered = append(c.delivered, alert)
	}
	c.mu.Unlock()

	if fail {
		return errors.New("delivery refused")
	}
	select {
	case c.notify <- alert:
	default:
	}
	return nil
}

func (c *fakeChannel) HealthCheck(ctx context.Context) bool { return true }

func (c *fakeChannel) deliveredCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.delivered)
}

func waitDelivery(t *testing.T, ch *fakeChannel) model.Alert {
	t.Helper()
	select {
	case alert := <-ch.notify:
		return alert
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return model.Alert{}
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testEnv struct {
	eng   *engine.Engine
	store *history.Memory
	ch    *fakeChannel
}

// newTestEnv wires an engine with one absolute daily_cost threshold
// (warning 70, critical 100) and a single tier-1 fake channel.
func newTestEnv(t *testing.T, cfg engine.Config) *testEnv {
	t.Helper()

	reg := threshold.NewRegistry()
	_, err := reg.Configure("daily_cost", model.ScopeDaily, model.CompareAbsolute, 70, 100, 0)
	require.NoError(t, err)

	disp := dispatch.NewDispatcher(dispatch.Config{
		MaxAttempts:    2,
		BaseDelay:      time.Millisecond,
		MaxDelay:       2 * time.Millisecond,
		AttemptTimeout: 200 * time.Millisecond,
		OverallTimeout: time.Second,
	}, testLogger())
	ch := newFakeChannel("terminal")
	require.NoError(t, disp.Register("terminal", ch, 1))

	store := history.NewMemory()
	eng := engine.NewEngine(reg, store, disp, cfg, testLogger(), nil)
	t.Cleanup(func() { _ = eng.Close() })

	return &testEnv{eng: eng, store: store, ch: ch}
}

func costSample(value float64) model.Sample {
	return model.Sample{Metric: "daily_cost", Value: value, Timestamp: time.Now().UTC()}
}

func TestEngine_WarningBreach(t *testing.T) {
	env := newTestEnv(t, engine.Config{})

	require.NoError(t, env.eng.Ingest(context.Background(), costSample(85.0)))

	alert := waitDelivery(t, env.ch)
	assert.Equal(t, model.SeverityWarning, alert.Severity)
	assert.Equal(t, 85.0, alert.CurrentValue)
	assert.Equal(t, 70.0, alert.ThresholdValue)
	assert.Equal(t, "daily_cost", alert.Metric)
	assert.Equal(t, "daily_cost:daily", alert.ThresholdID)

	records, err := env.eng.Query(context.Background(), model.HistoryFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.EqualValues(t, 1, records[0].Metadata["consecutive_breaches"])
}

func TestEngine_CriticalBreach(t *testing.T) {
	env := newTestEnv(t, engine.Config{})

	require.NoError(t, env.eng.Ingest(context.Background(), costSample(127.5)))

	alert := waitDelivery(t, env.ch)
	assert.Equal(t, model.SeverityCritical, alert.Severity)
	assert.Equal(t, 127.5, alert.CurrentValue)
	assert.Equal(t, 100.0, alert.ThresholdValue)
}

func TestEngine_BoundaryValues(t *testing.T) {
	env := newTestEnv(t, engine.Config{SuppressionWindow: time.Millisecond})

	// Exactly at the warning bound breaches.
	require.NoError(t, env.eng.Ingest(context.Background(), costSample(70.0)))
	assert.Equal(t, model.SeverityWarning, waitDelivery(t, env.ch).Severity)

	time.Sleep(10 * time.Millisecond)

	// Exactly at the critical bound is critical.
	require.NoError(t, env.eng.Ingest(context.Background(), costSample(100.0)))
	assert.Equal(t, model.SeverityCritical, waitDelivery(t, env.ch).Severity)
}

func TestEngine_BelowWarningNoAlert(t *testing.T) {
	env := newTestEnv(t, engine.Config{})

	require.NoError(t, env.eng.Ingest(context.Background(), costSample(69.99)))

	records, err := env.eng.Query(context.Background(), model.HistoryFilter{}, 0)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 0, env.ch.deliveredCount())
}

func TestEngine_SuppressionBlocksSecondDispatch(t *testing.T) {
	env := newTestEnv(t, engine.Config{})

	require.NoError(t, env.eng.Ingest(context.Background(), costSample(85.0)))
	waitDelivery(t, env.ch)

	// Second breach lands inside the default window: recorded, not sent.
	require.NoError(t, env.eng.Ingest(context.Background(), costSample(127.5)))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, env.ch.deliveredCount())

	records, err := env.eng.Query(context.Background(), model.HistoryFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, model.SeverityCritical, records[0].Severity)
	assert.Equal(t, true, records[0].Metadata["suppressed"])
	assert.NotContains(t, records[1].Metadata, "suppressed")
}

func TestEngine_SuppressionWindowElapses(t *testing.T) {
	env := newTestEnv(t, engine.Config{SuppressionWindow: 30 * time.Millisecond})

	require.NoError(t, env.eng.Ingest(context.Background(), costSample(85.0)))
	waitDelivery(t, env.ch)

	time.Sleep(60 * time.Millisecond)

	require.NoError(t, env.eng.Ingest(context.Background(), costSample(85.0)))
	waitDelivery(t, env.ch)
	assert.Equal(t, 2, env.ch.deliveredCount())
}

func TestEngine_ManualSuppressionBlocksDispatch(t *testing.T) {
	env := newTestEnv(t, engine.Config{})

	require.NoError(t, env.eng.Suppress("daily_cost:daily", time.Hour))

	require.NoError(t, env.eng.Ingest(context.Background(), costSample(85.0)))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, env.ch.deliveredCount())

	records, err := env.eng.Query(context.Background(), model.HistoryFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, true, records[0].Metadata["suppressed"])

	// Lifting the suppression lets the next breach through.
	env.eng.ClearSuppression("daily_cost:daily")
	require.NoError(t, env.eng.Ingest(context.Background(), costSample(85.0)))
	waitDelivery(t, env.ch)
}

func TestEngine_SuppressValidation(t *testing.T) {
	env := newTestEnv(t, engine.Config{})

	err := env.eng.Suppress("daily_cost:daily", 0)
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))

	err = env.eng.Suppress("", time.Minute)
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))
}

func TestEngine_CustomSuppressionKey(t *testing.T) {
	env := newTestEnv(t, engine.Config{})

	require.NoError(t, env.eng.Suppress("maintenance", 40*time.Millisecond))
	assert.True(t, env.eng.IsSuppressed("maintenance"))
	assert.False(t, env.eng.IsSuppressed("daily_cost:daily"))

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, env.eng.SweepSuppressions())
	assert.False(t, env.eng.IsSuppressed("maintenance"))
}

func TestEngine_EscalationResetOnRecovery(t *testing.T) {
	env := newTestEnv(t, engine.Config{})

	require.NoError(t, env.eng.Ingest(context.Background(), costSample(85.0)))
	require.NoError(t, env.eng.Ingest(context.Background(), costSample(85.0)))

	// Recovery resets the streak and records nothing.
	require.NoError(t, env.eng.Ingest(context.Background(), costSample(50.0)))

	require.NoError(t, env.eng.Ingest(context.Background(), costSample(85.0)))

	records, err := env.eng.Query(context.Background(), model.HistoryFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.EqualValues(t, 1, records[0].Metadata["consecutive_breaches"])
	assert.EqualValues(t, 2, records[1].Metadata["consecutive_breaches"])
	assert.EqualValues(t, 1, records[2].Metadata["consecutive_breaches"])
}

func TestEngine_EscalationElevatesRepeatedWarnings(t *testing.T) {
	env := newTestEnv(t, engine.Config{EscalationEnabled: true, EscalationBreaches: 3})

	for i := 0; i < 3; i++ {
		require.NoError(t, env.eng.Ingest(context.Background(), costSample(85.0)))
	}

	records, err := env.eng.Query(context.Background(), model.HistoryFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Newest first: the third breach was elevated to critical.
	assert.Equal(t, model.SeverityCritical, records[0].Severity)
	assert.Equal(t, true, records[0].Metadata["escalated"])
	assert.Equal(t, string(model.SeverityWarning), records[0].Metadata["breach_severity"])
	assert.Equal(t, model.SeverityWarning, records[1].Severity)
	assert.Equal(t, model.SeverityWarning, records[2].Severity)
}

func TestEngine_EscalationDisabled(t *testing.T) {
	env := newTestEnv(t, engine.Config{EscalationEnabled: false, EscalationBreaches: 3})

	for i := 0; i < 4; i++ {
		require.NoError(t, env.eng.Ingest(context.Background(), costSample(85.0)))
	}

	records, err := env.eng.Query(context.Background(), model.HistoryFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, records, 4)
	for _, rec := range records {
		assert.Equal(t, model.SeverityWarning, rec.Severity)
	}
}

func TestEngine_ThreeCriticalBreachesKeepHistory(t *testing.T) {
	env := newTestEnv(t, engine.Config{EscalationEnabled: true, EscalationBreaches: 3})

	for i := 0; i < 3; i++ {
		require.NoError(t, env.eng.Ingest(context.Background(), costSample(127.5)))
	}

	records, err := env.eng.Query(context.Background(), model.HistoryFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.EqualValues(t, 3, records[0].Metadata["consecutive_breaches"])
	assert.EqualValues(t, 2, records[1].Metadata["consecutive_breaches"])
	assert.EqualValues(t, 1, records[2].Metadata["consecutive_breaches"])
	for _, rec := range records {
		assert.Equal(t, model.SeverityCritical, rec.Severity)
		assert.NotContains(t, rec.Metadata, "escalated")
	}

	// Only the first breach was dispatched; the window held the rest.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, env.ch.deliveredCount())
}

func TestEngine_HistoryVisibleWhileDispatchInFlight(t *testing.T) {
	env := newTestEnv(t, engine.Config{})
	env.ch.block = make(chan struct{})

	require.NoError(t, env.eng.Ingest(context.Background(), costSample(85.0)))

	records, err := env.eng.Query(context.Background(), model.HistoryFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 0, env.ch.deliveredCount())

	close(env.ch.block)
	waitDelivery(t, env.ch)
}

func TestEngine_DeliveryFailureFlagsHistory(t *testing.T) {
	env := newTestEnv(t, engine.Config{})
	env.ch.failAlways = true

	require.NoError(t, env.eng.Ingest(context.Background(), costSample(85.0)))

	records, err := env.eng.Query(context.Background(), model.HistoryFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec, err := env.eng.Alert(context.Background(), records[0].ID)
		require.NoError(t, err)
		if rec.DeliveryFailed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for delivery failure flag")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEngine_Redispatch(t *testing.T) {
	env := newTestEnv(t, engine.Config{})

	require.NoError(t, env.eng.Ingest(context.Background(), costSample(85.0)))
	first := waitDelivery(t, env.ch)

	report, err := env.eng.Redispatch(context.Background(), first.ID)
	require.NoError(t, err)
	assert.True(t, report.OverallSuccess)
	assert.Equal(t, first.ID, report.AlertID)

	second := waitDelivery(t, env.ch)
	assert.Equal(t, first.ID, second.ID)
}

func TestEngine_RedispatchUnknownAlert(t *testing.T) {
	env := newTestEnv(t, engine.Config{})

	_, err := env.eng.Redispatch(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestEngine_UnknownMetricRejected(t *testing.T) {
	env := newTestEnv(t, engine.Config{})

	err := env.eng.Ingest(context.Background(), model.Sample{Metric: "weekly_tokens", Value: 5})
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))
}

func TestEngine_InvalidSampleRejected(t *testing.T) {
	env := newTestEnv(t, engine.Config{})

	err := env.eng.Ingest(context.Background(), model.Sample{Metric: "", Value: 5})
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))

	err = env.eng.Ingest(context.Background(), model.Sample{Metric: "daily_cost", Value: math.NaN()})
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))
}

func TestEngine_IngestBatchStopsAtFirstError(t *testing.T) {
	env := newTestEnv(t, engine.Config{})

	err := env.eng.IngestBatch(context.Background(), []model.Sample{
		{Metric: "daily_cost", Value: 10},
		{Metric: "nope", Value: 10},
		{Metric: "daily_cost", Value: 85},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sample 1:")

	// The failing sample aborted the batch before the breach.
	records, queryErr := env.eng.Query(context.Background(), model.HistoryFilter{}, 0)
	require.NoError(t, queryErr)
	assert.Empty(t, records)
}

type failingStore struct {
	*history.Memory
}

func (s *failingStore) Append(ctx context.Context, record *model.HistoryRecord) error {
	return &model.StorageError{Op: "append", Err: errors.New("disk full")}
}

func TestEngine_StorageErrorPropagates(t *testing.T) {
	reg := threshold.NewRegistry()
	_, err := reg.Configure("daily_cost", model.ScopeDaily, model.CompareAbsolute, 70, 100, 0)
	require.NoError(t, err)

	disp := dispatch.NewDispatcher(dispatch.Config{}, testLogger())
	ch := newFakeChannel("terminal")
	require.NoError(t, disp.Register("terminal", ch, 1))

	store := &failingStore{Memory: history.NewMemory()}
	eng := engine.NewEngine(reg, store, disp, engine.Config{}, testLogger(), nil)
	t.Cleanup(func() { _ = eng.Close() })

	err = eng.Ingest(context.Background(), costSample(85.0))
	require.Error(t, err)

	var storageErr *model.StorageError
	assert.ErrorAs(t, err, &storageErr)

	// Nothing may reach a channel when the record was never stored.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, ch.deliveredCount())
}

func TestEngine_PercentageMode(t *testing.T) {
	reg := threshold.NewRegistry()
	_, err := reg.Configure("monthly_cost", model.ScopeMonthly, model.ComparePercentage, 80, 95, 200)
	require.NoError(t, err)

	disp := dispatch.NewDispatcher(dispatch.Config{}, testLogger())
	ch := newFakeChannel("terminal")
	require.NoError(t, disp.Register("terminal", ch, 1))

	eng := engine.NewEngine(reg, history.NewMemory(), disp, engine.Config{}, testLogger(), nil)
	t.Cleanup(func() { _ = eng.Close() })

	// 170 of a 200 budget is 85 percent, inside the warning band.
	require.NoError(t, eng.Ingest(context.Background(), model.Sample{Metric: "monthly_cost", Value: 170, Timestamp: time.Now().UTC()}))

	alert := waitDelivery(t, ch)
	assert.Equal(t, model.SeverityWarning, alert.Severity)
	assert.InDelta(t, 85.0, alert.CurrentValue, 0.001)
	assert.Equal(t, 80.0, alert.ThresholdValue)
	assert.EqualValues(t, 170, alert.Metadata["raw_value"])
	assert.EqualValues(t, 200, alert.Metadata["period_budget"])
}

func TestEngine_ThresholdManagement(t *testing.T) {
	env := newTestEnv(t, engine.Config{})

	th, err := env.eng.ConfigureThreshold("weekly_tokens", model.ScopeWeekly, model.CompareAbsolute, 0, 1_000_000, 0)
	require.NoError(t, err)
	assert.Equal(t, "weekly_tokens:weekly", th.ID)

	assert.Len(t, env.eng.Thresholds(), 2)

	assert.True(t, env.eng.RemoveThreshold(th.ID))
	assert.False(t, env.eng.RemoveThreshold(th.ID))
	assert.Len(t, env.eng.Thresholds(), 1)
}

func TestEngine_AcknowledgeAndResolve(t *testing.T) {
	env := newTestEnv(t, engine.Config{})

	require.NoError(t, env.eng.Ingest(context.Background(), costSample(85.0)))
	waitDelivery(t, env.ch)

	records, err := env.eng.Query(context.Background(), model.HistoryFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	id := records[0].ID

	require.NoError(t, env.eng.Acknowledge(context.Background(), id))
	require.NoError(t, env.eng.Resolve(context.Background(), id))

	rec, err := env.eng.Alert(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, rec.Acknowledged)
	require.NotNil(t, rec.ResolvedAt)
}

func TestEngine_ChannelsAndTest(t *testing.T) {
	env := newTestEnv(t, engine.Config{})

	channels := env.eng.Channels()
	require.Len(t, channels, 1)
	assert.Equal(t, "terminal", channels[0].Name)

	ok, err := env.eng.TestChannel(context.Background(), "terminal")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = env.eng.TestChannel(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
