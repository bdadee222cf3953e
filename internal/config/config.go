package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all Usage Sentinel configuration.
type Config struct {
	Storage    StorageConfig    `mapstructure:"storage"`
	Server     ServerConfig     `mapstructure:"server"`
	Source     SourceConfig     `mapstructure:"source"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	History    HistoryConfig    `mapstructure:"history"`
	Thresholds ThresholdsConfig `mapstructure:"thresholds"`
	Channels   ChannelsConfig   `mapstructure:"channels"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// StorageConfig defines database settings.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig defines HTTP API settings.
type ServerConfig struct {
	Listen       string `mapstructure:"listen"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// SourceConfig defines the usage metric collector.
type SourceConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Command  string   `mapstructure:"command"`
	Args     []string `mapstructure:"args"`
	Interval string   `mapstructure:"interval"`
	Timeout  string   `mapstructure:"timeout"`
	Mock     bool     `mapstructure:"mock"`
}

// EngineConfig defines suppression and escalation behavior.
type EngineConfig struct {
	SuppressionWindow string           `mapstructure:"suppression_window"`
	MaxSuppression    string           `mapstructure:"max_suppression"`
	Escalation        EscalationConfig `mapstructure:"escalation"`
}

// EscalationConfig defines warning-to-critical elevation.
type EscalationConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	Breaches int  `mapstructure:"breaches"`
}

// DispatchConfig defines retry and timeout behavior for channel delivery.
type DispatchConfig struct {
	MaxAttempts    int    `mapstructure:"max_attempts"`
	BaseDelay      string `mapstructure:"base_delay"`
	MaxDelay       string `mapstructure:"max_delay"`
	AttemptTimeout string `mapstructure:"attempt_timeout"`
	OverallTimeout string `mapstructure:"overall_timeout"`
}

// HistoryConfig defines alert retention.
type HistoryConfig struct {
	Keep          int    `mapstructure:"keep"`
	MaxAge        string `mapstructure:"max_age"`
	PruneInterval string `mapstructure:"prune_interval"`
}

// ThresholdsConfig points at the YAML rules file.
type ThresholdsConfig struct {
	File string `mapstructure:"file"`
}

// ChannelsConfig defines the notification channels.
type ChannelsConfig struct {
	Terminal TerminalChannelConfig `mapstructure:"terminal"`
	Desktop  DesktopChannelConfig  `mapstructure:"desktop"`
	Webhook  WebhookChannelConfig  `mapstructure:"webhook"`
	Slack    SlackChannelConfig    `mapstructure:"slack"`
	Discord  DiscordChannelConfig  `mapstructure:"discord"`
	Email    EmailChannelConfig    `mapstructure:"email"`
}

// TerminalChannelConfig defines stdout notification settings.
type TerminalChannelConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	Priority     int  `mapstructure:"priority"`
	MaxPerMinute int  `mapstructure:"max_per_minute"`
}

// DesktopChannelConfig defines desktop notification settings.
type DesktopChannelConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Priority     int    `mapstructure:"priority"`
	Command      string `mapstructure:"command"`
	MaxPerMinute int    `mapstructure:"max_per_minute"`
}

// WebhookChannelConfig defines generic webhook settings.
type WebhookChannelConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Priority     int    `mapstructure:"priority"`
	URL          string `mapstructure:"url"`
	Secret       string `mapstructure:"secret"`
	MaxPerMinute int    `mapstructure:"max_per_minute"`
}

// SlackChannelConfig defines Slack webhook settings.
type SlackChannelConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Priority     int    `mapstructure:"priority"`
	WebhookURL   string `mapstructure:"webhook_url"`
	Channel      string `mapstructure:"channel"`
	MaxPerMinute int    `mapstructure:"max_per_minute"`
}

// DiscordChannelConfig defines Discord bot settings.
type DiscordChannelConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Priority     int    `mapstructure:"priority"`
	Token        string `mapstructure:"token"`
	ChannelID    string `mapstructure:"channel_id"`
	MaxPerMinute int    `mapstructure:"max_per_minute"`
}

// EmailChannelConfig defines SMTP settings.
type EmailChannelConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Priority     int      `mapstructure:"priority"`
	Host         string   `mapstructure:"host"`
	Port         int      `mapstructure:"port"`
	Username     string   `mapstructure:"username"`
	Password     string   `mapstructure:"password"`
	From         string   `mapstructure:"from"`
	To           []string `mapstructure:"to"`
	MaxPerMinute int      `mapstructure:"max_per_minute"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("find home directory: %w", err)
		}

		v.AddConfigPath(filepath.Join(home, ".sentinel"))
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Defaults
	home, _ := os.UserHomeDir()
	v.SetDefault("storage.path", filepath.Join(home, ".sentinel", "sentinel.db"))
	v.SetDefault("server.listen", ":8787")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("source.enabled", true)
	v.SetDefault("source.command", "ccusage")
	v.SetDefault("source.args", []string{"--json"})
	v.SetDefault("source.interval", "30s")
	v.SetDefault("source.timeout", "10s")
	v.SetDefault("source.mock", false)
	v.SetDefault("engine.suppression_window", "1h")
	v.SetDefault("engine.max_suppression", "24h")
	v.SetDefault("engine.escalation.enabled", true)
	v.SetDefault("engine.escalation.breaches", 3)
	v.SetDefault("dispatch.max_attempts", 3)
	v.SetDefault("dispatch.base_delay", "1s")
	v.SetDefault("dispatch.max_delay", "8s")
	v.SetDefault("dispatch.attempt_timeout", "5s")
	v.SetDefault("dispatch.overall_timeout", "30s")
	v.SetDefault("history.keep", 10000)
	v.SetDefault("history.max_age", "0")
	v.SetDefault("history.prune_interval", "1h")
	v.SetDefault("thresholds.file", filepath.Join(home, ".sentinel", "thresholds.yaml"))
	v.SetDefault("channels.terminal.enabled", true)
	v.SetDefault("channels.terminal.priority", 1)
	v.SetDefault("channels.desktop.enabled", false)
	v.SetDefault("channels.desktop.priority", 1)
	v.SetDefault("channels.desktop.command", "notify-send")
	v.SetDefault("channels.webhook.enabled", false)
	v.SetDefault("channels.webhook.priority", 2)
	v.SetDefault("channels.slack.enabled", false)
	v.SetDefault("channels.slack.priority", 2)
	v.SetDefault("channels.slack.channel", "#usage-alerts")
	v.SetDefault("channels.discord.enabled", false)
	v.SetDefault("channels.discord.priority", 2)
	v.SetDefault("channels.email.enabled", false)
	v.SetDefault("channels.email.priority", 3)
	v.SetDefault("channels.email.port", 587)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Environment variables
	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
