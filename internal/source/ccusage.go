package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/yapay-ai/usage-sentinel/internal/metrics"
	"github.com/yapay-ai/usage-sentinel/pkg/engine"
	"github.com/yapay-ai/usage-sentinel/pkg/model"
)

// Config defines how usage data is collected.
type Config struct {
	Command  string
	Args     []string
	Interval time.Duration
	Timeout  time.Duration
	Mock     bool
}

// PeriodUsage is one period block of a ccusage report.
type PeriodUsage struct {
	Cost   float64 `json:"cost"`
	Tokens float64 `json:"tokens"`
}

// Report is the JSON shape emitted by `ccusage --json`.
type Report struct {
	TotalCost   float64     `json:"total_cost"`
	TotalTokens float64     `json:"total_tokens"`
	Daily       PeriodUsage `json:"daily"`
	Weekly      PeriodUsage `json:"weekly"`
	Monthly     PeriodUsage `json:"monthly"`
}

// ParseReport decodes a ccusage JSON report.
func ParseReport(data []byte) (Report, error) {
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return Report{}, fmt.Errorf("parse usage report: %w", err)
	}
	return report, nil
}

// Collector polls the ccusage CLI on an interval and feeds the resulting
// samples to the alert engine. Metrics with no registered threshold are
// skipped quietly so operators only configure what they care about.
type Collector struct {
	cfg     Config
	engine  *engine.Engine
	logger  *slog.Logger
	metrics *metrics.SourceMetrics

	mu       sync.Mutex
	lastCost float64
	lastSeen time.Time
}

// NewCollector creates a usage collector. m may be nil to run without
// instrumentation.
func NewCollector(cfg Config, eng *engine.Engine, logger *slog.Logger, m *metrics.SourceMetrics) *Collector {
	if cfg.Command == "" {
		cfg.Command = "ccusage"
	}
	if len(cfg.Args) == 0 {
		cfg.Args = []string{"--json"}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Collector{cfg: cfg, engine: eng, logger: logger, metrics: m}
}

// Run polls until the context is cancelled. The first poll happens
// immediately so thresholds take effect without waiting a full interval.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.collect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

func (c *Collector) collect(ctx context.Context) {
	start := time.Now()
	if err := c.Poll(ctx); err != nil {
		if c.metrics != nil {
			c.metrics.PollErrors.Inc()
		}
		c.logger.Error("usage collection failed", "error", err)
	}
	if c.metrics != nil {
		c.metrics.PollsTotal.Inc()
		c.metrics.PollDuration.Observe(time.Since(start).Seconds())
	}
}

// Poll runs one collection pass: fetch the report, derive samples, and
// ingest them. Samples for metrics without thresholds are dropped.
func (c *Collector) Poll(ctx context.Context) error {
	report, err := c.fetch(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, sample := range c.buildSamples(report, now) {
		err := c.engine.Ingest(ctx, sample)
		switch {
		case err == nil:
			if c.metrics != nil {
				c.metrics.SamplesEmitted.Inc()
			}
		case model.IsValidation(err):
			c.logger.Debug("sample skipped", "metric", sample.Metric, "reason", err)
		default:
			return fmt.Errorf("ingest %s: %w", sample.Metric, err)
		}
	}
	return nil
}

func (c *Collector) fetch(ctx context.Context) (Report, error) {
	if c.cfg.Mock {
		return mockReport(), nil
	}

	execCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	out, err := exec.CommandContext(execCtx, c.cfg.Command, c.cfg.Args...).Output()
	if err != nil {
		return Report{}, fmt.Errorf("run %s: %w", c.cfg.Command, err)
	}
	return ParseReport(out)
}

func (c *Collector) buildSamples(report Report, now time.Time) []model.Sample {
	samples := []model.Sample{
		{Metric: "daily_cost", Value: report.Daily.Cost, Timestamp: now},
		{Metric: "daily_tokens", Value: report.Daily.Tokens, Timestamp: now},
		{Metric: "weekly_cost", Value: report.Weekly.Cost, Timestamp: now},
		{Metric: "weekly_tokens", Value: report.Weekly.Tokens, Timestamp: now},
		{Metric: "monthly_cost", Value: report.Monthly.Cost, Timestamp: now},
		{Metric: "monthly_tokens", Value: report.Monthly.Tokens, Timestamp: now},
	}
	if rate, ok := c.burnRate(report.TotalCost, now); ok {
		samples = append(samples, model.Sample{Metric: "burn_rate", Value: rate, Timestamp: now})
	}
	return samples
}

// burnRate derives dollars per hour from the change in total cost between
// polls. The first poll and any total reset (a new billing day) yield no
// sample.
func (c *Collector) burnRate(totalCost float64, now time.Time) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prevCost, prevSeen := c.lastCost, c.lastSeen
	c.lastCost, c.lastSeen = totalCost, now

	if prevSeen.IsZero() || !now.After(prevSeen) {
		return 0, false
	}
	delta := totalCost - prevCost
	if delta < 0 {
		return 0, false
	}
	return delta / now.Sub(prevSeen).Hours(), true
}
