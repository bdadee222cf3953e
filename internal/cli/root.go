package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/yapay-ai/usage-sentinel/internal/config"
	"github.com/yapay-ai/usage-sentinel/pkg/channel"
	"github.com/yapay-ai/usage-sentinel/pkg/dispatch"
	"github.com/yapay-ai/usage-sentinel/pkg/engine"
	"github.com/yapay-ai/usage-sentinel/pkg/history"
	"github.com/yapay-ai/usage-sentinel/pkg/threshold"
)

// Version is set at build time via ldflags.
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Usage Sentinel - Threshold alerting for usage metrics",
	Long: `Usage Sentinel watches numeric usage metrics such as spend and token counts,
evaluates them against warning and critical thresholds, and raises alerts
through terminal, desktop, webhook, Slack, Discord, and email channels with
suppression windows, escalation, and a queryable alert history.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.sentinel/config.yaml)")
}

// loadConfig loads the configuration.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// newLogger creates a structured logger from config.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler)
}

// initStore creates the history backend from config.
func initStore(cfg *config.Config) (history.Store, error) {
	return history.NewSQLite(cfg.Storage.Path)
}

// initDispatcher creates a dispatcher tuned from config.
func initDispatcher(cfg *config.Config, logger *slog.Logger) *dispatch.Dispatcher {
	baseDelay, _ := time.ParseDuration(cfg.Dispatch.BaseDelay)
	maxDelay, _ := time.ParseDuration(cfg.Dispatch.MaxDelay)
	attemptTimeout, _ := time.ParseDuration(cfg.Dispatch.AttemptTimeout)
	overallTimeout, _ := time.ParseDuration(cfg.Dispatch.OverallTimeout)

	return dispatch.NewDispatcher(dispatch.Config{
		MaxAttempts:    cfg.Dispatch.MaxAttempts,
		BaseDelay:      baseDelay,
		MaxDelay:       maxDelay,
		AttemptTimeout: attemptTimeout,
		OverallTimeout: overallTimeout,
	}, logger)
}

// registerChannels builds every enabled channel from config and registers it.
func registerChannels(cfg *config.Config, disp *dispatch.Dispatcher) error {
	if cfg.Channels.Terminal.Enabled {
		c := cfg.Channels.Terminal
		if err := addChannel(disp, channel.NewTerminal(), c.Priority, c.MaxPerMinute); err != nil {
			return err
		}
	}

	if cfg.Channels.Desktop.Enabled {
		c := cfg.Channels.Desktop
		if err := addChannel(disp, channel.NewDesktop(c.Command), c.Priority, c.MaxPerMinute); err != nil {
			return err
		}
	}

	if cfg.Channels.Webhook.Enabled && cfg.Channels.Webhook.URL != "" {
		c := cfg.Channels.Webhook
		if err := addChannel(disp, channel.NewWebhook(c.URL, c.Secret), c.Priority, c.MaxPerMinute); err != nil {
			return err
		}
	}

	if cfg.Channels.Slack.Enabled && cfg.Channels.Slack.WebhookURL != "" {
		c := cfg.Channels.Slack
		if err := addChannel(disp, channel.NewSlack(c.WebhookURL, c.Channel), c.Priority, c.MaxPerMinute); err != nil {
			return err
		}
	}

	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		c := cfg.Channels.Discord
		dc, err := channel.NewDiscord(c.Token, c.ChannelID)
		if err != nil {
			return fmt.Errorf("create discord channel: %w", err)
		}
		if err := addChannel(disp, dc, c.Priority, c.MaxPerMinute); err != nil {
			return err
		}
	}

	if cfg.Channels.Email.Enabled && cfg.Channels.Email.Host != "" {
		c := cfg.Channels.Email
		em := channel.NewEmail(c.Host, c.Port, c.Username, c.Password, c.From, c.To)
		if err := addChannel(disp, em, c.Priority, c.MaxPerMinute); err != nil {
			return err
		}
	}

	return nil
}

func addChannel(disp *dispatch.Dispatcher, ch channel.Channel, priority, maxPerMinute int) error {
	if err := disp.Register(ch.Name(), ch, priority); err != nil {
		return fmt.Errorf("register %s channel: %w", ch.Name(), err)
	}
	if maxPerMinute > 0 {
		if err := disp.SetRateLimit(ch.Name(), maxPerMinute); err != nil {
			return fmt.Errorf("rate limit %s channel: %w", ch.Name(), err)
		}
	}
	return nil
}

// initEngine creates a fully wired alert engine.
func initEngine(cfg *config.Config, m *engine.Metrics) (*engine.Engine, history.Store, error) {
	logger := newLogger(cfg)

	store, err := initStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	registry := threshold.NewRegistry()
	if cfg.Thresholds.File != "" {
		if _, statErr := os.Stat(cfg.Thresholds.File); statErr == nil {
			rules, err := threshold.LoadRules(cfg.Thresholds.File)
			if err != nil {
				store.Close()
				return nil, nil, fmt.Errorf("load threshold rules: %w", err)
			}
			if err := registry.ApplyRules(rules); err != nil {
				store.Close()
				return nil, nil, fmt.Errorf("apply threshold rules: %w", err)
			}
		}
	}

	disp := initDispatcher(cfg, logger)
	if err := registerChannels(cfg, disp); err != nil {
		store.Close()
		return nil, nil, err
	}

	suppressionWindow, _ := time.ParseDuration(cfg.Engine.SuppressionWindow)
	maxSuppression, _ := time.ParseDuration(cfg.Engine.MaxSuppression)

	eng := engine.NewEngine(registry, store, disp, engine.Config{
		SuppressionWindow:  suppressionWindow,
		MaxSuppression:     maxSuppression,
		EscalationEnabled:  cfg.Engine.Escalation.Enabled,
		EscalationBreaches: cfg.Engine.Escalation.Breaches,
	}, logger, m)

	return eng, store, nil
}
