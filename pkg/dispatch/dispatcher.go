// Package dispatch fans alerts out to notification channels organized in
// priority tiers, with per-channel retry, backoff, and rate limiting.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/yapay-ai/usage-sentinel/pkg/channel"
	"github.com/yapay-ai/usage-sentinel/pkg/model"
)

// Config tunes retry and timeout behavior for all channels.
type Config struct {
	// MaxAttempts bounds delivery attempts per channel.
	MaxAttempts int
	// BaseDelay is the first backoff interval; it doubles per retry.
	BaseDelay time.Duration
	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration
	// AttemptTimeout bounds a single delivery attempt.
	AttemptTimeout time.Duration
	// OverallTimeout is the hard ceiling for one dispatch across all tiers.
	OverallTimeout time.Duration
}

// DefaultConfig returns the standard dispatch tuning.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		BaseDelay:      1 * time.Second,
		MaxDelay:       8 * time.Second,
		AttemptTimeout: 5 * time.Second,
		OverallTimeout: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = d.AttemptTimeout
	}
	if c.OverallTimeout <= 0 {
		c.OverallTimeout = d.OverallTimeout
	}
	return c
}

// ChannelResult records the outcome of one channel's delivery attempts.
type ChannelResult struct {
	Attempts  int    `json:"attempts"`
	Success   bool   `json:"success"`
	LastError string `json:"last_error,omitempty"`
}

// DeliveryReport is the structured outcome of dispatching one alert.
type DeliveryReport struct {
	AlertID        string                   `json:"alert_id"`
	PerChannel     map[string]ChannelResult `json:"per_channel"`
	OverallSuccess bool                     `json:"overall_success"`
	Elapsed        time.Duration            `json:"elapsed"`
}

// RegisteredChannel describes one channel registration.
type RegisteredChannel struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
}

type registered struct {
	name     string
	ch       channel.Channel
	priority int
	limiter  *rate.Limiter
}

// Dispatcher delivers alerts across priority tiers. Tier 1 is primary;
// lower tiers are tried only when every channel above them failed.
type Dispatcher struct {
	mu       sync.RWMutex
	channels map[string]*registered
	cfg      Config
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher with the given tuning.
func NewDispatcher(cfg Config, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		channels: make(map[string]*registered),
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// Register adds a channel at the given priority tier.
func (d *Dispatcher) Register(name string, ch channel.Channel, priority int) error {
	if name == "" {
		return &model.ValidationError{Field: "channel.name", Reason: "must not be empty"}
	}
	if ch == nil {
		return &model.ValidationError{Field: "channel", Reason: "must not be nil"}
	}
	if priority < 1 {
		return &model.ValidationError{Field: "channel.priority", Reason: "must be 1 or greater"}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.channels[name]; exists {
		return fmt.Errorf("channel %q already registered", name)
	}
	d.channels[name] = &registered{name: name, ch: ch, priority: priority}
	return nil
}

// Unregister removes a channel by name. It reports whether one existed.
func (d *Dispatcher) Unregister(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.channels[name]
	delete(d.channels, name)
	return ok
}

// SetRateLimit bounds a channel to perMinute deliveries. Zero removes the limit.
func (d *Dispatcher) SetRateLimit(name string, perMinute int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	reg, ok := d.channels[name]
	if !ok {
		return fmt.Errorf("channel %q: %w", name, model.ErrNotFound)
	}
	if perMinute <= 0 {
		reg.limiter = nil
		return nil
	}
	reg.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	return nil
}

// Channels lists registrations ordered by priority, then name.
func (d *Dispatcher) Channels() []RegisteredChannel {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]RegisteredChannel, 0, len(d.channels))
	for _, reg := range d.channels {
		out = append(out, RegisteredChannel{Name: reg.name, Priority: reg.priority})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Test runs the named channel's health check.
func (d *Dispatcher) Test(ctx context.Context, name string) (bool, error) {
	d.mu.RLock()
	reg, ok := d.channels[name]
	d.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("channel %q: %w", name, model.ErrNotFound)
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
	defer cancel()
	return reg.ch.HealthCheck(ctx), nil
}

// Dispatch delivers the alert tier by tier. Channels within a tier run
// concurrently; a tier is satisfied once any of its channels succeeds.
// The report records every attempted channel, including partial tiers cut
// off by cancellation or the overall ceiling.
func (d *Dispatcher) Dispatch(ctx context.Context, alert model.Alert) DeliveryReport {
	start := time.Now()
	report := DeliveryReport{
		AlertID:    alert.ID,
		PerChannel: make(map[string]ChannelResult),
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.OverallTimeout)
	defer cancel()

	for _, tier := range d.tiers() {
		results := d.deliverTier(ctx, tier, alert)

		tierOK := false
		for name, res := range results {
			report.PerChannel[name] = res
			if res.Success {
				tierOK = true
			}
		}

		if tierOK {
			report.OverallSuccess = true
			break
		}
		if ctx.Err() != nil {
			// Ceiling hit or shutdown: keep partial results, stop here.
			break
		}
	}

	report.Elapsed = time.Since(start)
	return report
}

// tiers snapshots registered channels grouped by ascending priority.
func (d *Dispatcher) tiers() [][]*registered {
	d.mu.RLock()
	defer d.mu.RUnlock()

	byPriority := make(map[int][]*registered)
	for _, reg := range d.channels {
		byPriority[reg.priority] = append(byPriority[reg.priority], reg)
	}

	priorities := make([]int, 0, len(byPriority))
	for p := range byPriority {
		priorities = append(priorities, p)
	}
	sort.Ints(priorities)

	out := make([][]*registered, 0, len(priorities))
	for _, p := range priorities {
		out = append(out, byPriority[p])
	}
	return out
}

func (d *Dispatcher) deliverTier(ctx context.Context, tier []*registered, alert model.Alert) map[string]ChannelResult {
	var mu sync.Mutex
	results := make(map[string]ChannelResult, len(tier))

	var wg sync.WaitGroup
	for _, reg := range tier {
		wg.Add(1)
		go func(reg *registered) {
			defer wg.Done()
			res := d.sendWithRetry(ctx, reg, alert)
			mu.Lock()
			results[reg.name] = res
			mu.Unlock()
		}(reg)
	}
	wg.Wait()
	return results
}

// sendWithRetry is the bounded-attempt state machine for one channel.
func (d *Dispatcher) sendWithRetry(ctx context.Context, reg *registered, alert model.Alert) ChannelResult {
	var result ChannelResult
	backoff := d.cfg.BaseDelay

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if result.LastError == "" {
				result.LastError = err.Error()
			}
			return result
		}

		if reg.limiter != nil {
			if err := reg.limiter.Wait(ctx); err != nil {
				if result.LastError == "" {
					result.LastError = err.Error()
				}
				return result
			}
		}

		result.Attempts = attempt
		attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
		err := reg.ch.Deliver(attemptCtx, alert)
		cancel()

		if err == nil {
			result.Success = true
			return result
		}

		deliveryErr := &model.ChannelDeliveryError{Channel: reg.name, Attempt: attempt, Err: err}
		result.LastError = deliveryErr.Error()
		d.logger.Warn("channel delivery failed",
			"channel", reg.name,
			"alert_id", alert.ID,
			"attempt", attempt,
			"error", err,
		)

		if attempt == d.cfg.MaxAttempts {
			break
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return result
		}
		backoff *= 2
		if backoff > d.cfg.MaxDelay {
			backoff = d.cfg.MaxDelay
		}
	}

	return result
}
