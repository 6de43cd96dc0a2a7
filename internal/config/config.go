// Package config provides YAML-based configuration loading for Switchboard.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Switchboard configuration, loaded from switchboard.yaml.
type Config struct {
	Platform  string          `yaml:"platform"` // "discord" or "slack"
	Discord   DiscordConfig   `yaml:"discord"`
	Slack     SlackConfig     `yaml:"slack"`
	Database  DatabaseConfig  `yaml:"database"`
	Queue     QueueConfig     `yaml:"queue"`
	Watchdog  WatchdogConfig  `yaml:"watchdog"`
	Reset     ResetConfig     `yaml:"reset"`
	Policy    PolicyConfig    `yaml:"policy"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// DiscordConfig holds credentials and forum settings for the Discord gateway.
type DiscordConfig struct {
	BotToken       string            `yaml:"bot_token"`
	ForumChannelID string            `yaml:"forum_channel_id"`
	Tags           map[string]string `yaml:"tags"` // icon key -> forum tag ID
}

// SlackConfig holds credentials and channel settings for the Slack gateway.
type SlackConfig struct {
	AppToken         string            `yaml:"app_token"`
	BotToken         string            `yaml:"bot_token"`
	SupportChannelID string            `yaml:"support_channel_id"`
	Emoji            map[string]string `yaml:"emoji"` // icon key -> emoji name
}

// DatabaseConfig selects the history database.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "mysql" or "sqlite"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Path     string `yaml:"path"` // sqlite file
}

// QueueConfig tunes the scheduler and dialog registry.
type QueueConfig struct {
	DialogMax        int `yaml:"dialog_max"` // 0 = unlimited
	SchedulerTickMs  int `yaml:"scheduler_tick_ms"`
	RelayDelayMs     int `yaml:"relay_delay_ms"`
	FollowUpGraceSec int `yaml:"follow_up_grace_sec"`
}

// WatchdogConfig tunes idle dialog expiration.
type WatchdogConfig struct {
	TickSec        int  `yaml:"tick_sec"`
	WarnAfterSec   int  `yaml:"warn_after_sec"`
	CloseAfterSec  int  `yaml:"close_after_sec"`
	RepeatWarnings bool `yaml:"repeat_warnings"`
}

// ResetConfig holds the daily queue flush schedule.
type ResetConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

// PolicyConfig controls the policy-document link an asker must attach.
type PolicyConfig struct {
	LinkPrefix string `yaml:"link_prefix"`
}

// DashboardConfig controls the status HTTP server.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// DefaultResetCron fires the daily reset at 03:30 Yekaterinburg time.
const DefaultResetCron = "CRON_TZ=Asia/Yekaterinburg 30 3 * * *"

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse expands ${VAR} references, unmarshals YAML bytes and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "switchboard"
		}
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "switchboard.db"
	}
	if c.Queue.SchedulerTickMs == 0 {
		c.Queue.SchedulerTickMs = 1000
	}
	if c.Queue.RelayDelayMs == 0 {
		c.Queue.RelayDelayMs = 1000
	}
	if c.Queue.FollowUpGraceSec == 0 {
		c.Queue.FollowUpGraceSec = 5
	}
	if c.Watchdog.TickSec == 0 {
		c.Watchdog.TickSec = 30
	}
	if c.Watchdog.WarnAfterSec == 0 {
		c.Watchdog.WarnAfterSec = 120
	}
	if c.Watchdog.CloseAfterSec == 0 {
		c.Watchdog.CloseAfterSec = 180
	}
	if c.Reset.Cron == "" {
		c.Reset.Cron = DefaultResetCron
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Platform {
	case "discord":
		if c.Discord.BotToken == "" {
			errs = append(errs, "discord.bot_token is required")
		}
		if c.Discord.ForumChannelID == "" {
			errs = append(errs, "discord.forum_channel_id is required")
		}
	case "slack":
		if c.Slack.BotToken == "" {
			errs = append(errs, "slack.bot_token is required")
		}
		if c.Slack.AppToken == "" {
			errs = append(errs, "slack.app_token is required")
		}
		if c.Slack.SupportChannelID == "" {
			errs = append(errs, "slack.support_channel_id is required")
		}
	case "":
		errs = append(errs, "platform is required")
	default:
		errs = append(errs, fmt.Sprintf("unsupported platform %q", c.Platform))
	}
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("unsupported database.driver %q", c.Database.Driver))
	}
	if c.Queue.DialogMax < 0 {
		errs = append(errs, "queue.dialog_max must be >= 0")
	}
	if c.Watchdog.CloseAfterSec <= c.Watchdog.WarnAfterSec {
		errs = append(errs, "watchdog.close_after_sec must be greater than warn_after_sec")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ResetEnabled reports whether the daily reset runs. It defaults to true.
func (c *Config) ResetEnabled() bool {
	return c.Reset.Enabled == nil || *c.Reset.Enabled
}

// SchedulerTick returns the scheduler tick interval.
func (q QueueConfig) SchedulerTick() time.Duration {
	return time.Duration(q.SchedulerTickMs) * time.Millisecond
}

// RelayDelay returns the pause inserted before each relayed message.
func (q QueueConfig) RelayDelay() time.Duration {
	return time.Duration(q.RelayDelayMs) * time.Millisecond
}

// FollowUpGrace returns the delay before a closed dialog's thread is archived or deleted.
func (q QueueConfig) FollowUpGrace() time.Duration {
	return time.Duration(q.FollowUpGraceSec) * time.Second
}

// Tick returns the watchdog polling interval.
func (w WatchdogConfig) Tick() time.Duration {
	return time.Duration(w.TickSec) * time.Second
}

// WarnAfter returns the idle duration after which participants are warned.
func (w WatchdogConfig) WarnAfter() time.Duration {
	return time.Duration(w.WarnAfterSec) * time.Second
}

// CloseAfter returns the idle duration after which a dialog is force-closed.
func (w WatchdogConfig) CloseAfter() time.Duration {
	return time.Duration(w.CloseAfterSec) * time.Second
}
