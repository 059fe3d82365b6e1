// Package config loads the partyhost YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/partyhost/command"
	"github.com/hazyhaar/partyhost/command/builtin"
	"github.com/hazyhaar/partyhost/recovery"
	"github.com/hazyhaar/partyhost/uitree"
)

// Config is the top-level configuration.
type Config struct {
	Device    DeviceConfig       `yaml:"device"`
	Stream    StreamConfig       `yaml:"stream"`
	Commands  CommandsConfig     `yaml:"commands"`
	Recovery  RecoveryConfig     `yaml:"recovery"`
	Triggers  []TriggerConfig    `yaml:"triggers"`
	Host      HostConfig         `yaml:"host"`
	Admin     AdminConfig        `yaml:"admin"`
	DB        DBConfig           `yaml:"db"`
	Schedules []command.Schedule `yaml:"schedules"`
	Keywords  []command.Keyword  `yaml:"keywords"`
}

// DeviceConfig selects and tunes the automation backend.
type DeviceConfig struct {
	Driver      string        `yaml:"driver"` // rod | fake
	WaitTimeout time.Duration `yaml:"wait_timeout"`
	Rod         RodConfig     `yaml:"rod"`
	Fake        FakeConfig    `yaml:"fake"`
}

// RodConfig controls the Chrome backend.
type RodConfig struct {
	URL              string        `yaml:"url"`
	Remote           string        `yaml:"remote"`
	Mode             string        `yaml:"mode"` // headless | headful
	XvfbDisplay      string        `yaml:"xvfb_display"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	ScrollStep       int           `yaml:"scroll_step"`
	NavTimeout       time.Duration `yaml:"nav_timeout"`
	Messages         string        `yaml:"messages"`
	List             string        `yaml:"list"`
	Input            string        `yaml:"input"`
	Send             string        `yaml:"send"`
}

// FakeConfig seeds the in-memory backend used for dry runs.
type FakeConfig struct {
	History  []string `yaml:"history"`
	Viewport int      `yaml:"viewport"`
	Echo     bool     `yaml:"echo"`
}

// StreamConfig tunes the reconciler.
type StreamConfig struct {
	Capacity    int    `yaml:"capacity"`
	MaxScroll   int    `yaml:"max_scroll"`
	StableLimit int    `yaml:"stable_limit"`
	SkipBacklog *bool  `yaml:"skip_backlog"`
	Checkpoint  string `yaml:"checkpoint"`
}

// DeliverBacklog reports whether a cold start delivers the visible lines.
func (s StreamConfig) DeliverBacklog() bool {
	return s.SkipBacklog != nil && !*s.SkipBacklog
}

// CommandsConfig controls parsing, replies and the built-in commands.
type CommandsConfig struct {
	Syntax          command.Syntax       `yaml:",inline"`
	ErrorTemplate   string               `yaml:"error_template"`
	GenericError    string               `yaml:"generic_error"`
	JoinPattern     string               `yaml:"join_pattern"`
	SelfName        string               `yaml:"self_name"` // lines from this sender are never commands
	AcquireTimeout  time.Duration        `yaml:"acquire_timeout"`
	HandlerTimeout  time.Duration        `yaml:"handler_timeout"`
	QueueLimit      int                  `yaml:"queue_limit"`
	PostRate        float64              `yaml:"post_rate"`
	PostBurst       int                  `yaml:"post_burst"`
	MaxMessageLen   int                  `yaml:"max_message_len"`
	Volume          builtin.VolumeConfig `yaml:"volume"`
	WelcomeCooldown time.Duration        `yaml:"welcome_cooldown"`
}

// RecoveryConfig holds the anomaly rules.
type RecoveryConfig struct {
	recovery.Rules `yaml:",inline"`
	Cooldown       time.Duration `yaml:"cooldown"`
}

// TriggerConfig binds an element key to a built-in reaction.
type TriggerConfig struct {
	Key    uitree.Key `yaml:"key"`
	Action string     `yaml:"action"` // click
}

// HostConfig tunes the main loop.
type HostConfig struct {
	CycleInterval     time.Duration `yaml:"cycle_interval"`
	CycleTimeout      time.Duration `yaml:"cycle_timeout"`
	ErrorThreshold    int           `yaml:"error_threshold"`
	ResetBackoff      time.Duration `yaml:"reset_backoff"`
	ResetBackoffMax   time.Duration `yaml:"reset_backoff_max"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// AdminConfig controls the operator HTTP and MCP surface.
type AdminConfig struct {
	Addr string `yaml:"addr"` // empty disables
	MCP  bool   `yaml:"mcp"`
}

// DBConfig locates the SQLite database.
type DBConfig struct {
	Path          string `yaml:"path"`
	EventDays     int    `yaml:"event_days"`
	HeartbeatDays int    `yaml:"heartbeat_days"`
	MetricDays    int    `yaml:"metric_days"`
}

// LoadFile reads, defaults and validates a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Device.Driver == "" {
		c.Device.Driver = "rod"
	}
	if c.Device.WaitTimeout <= 0 {
		c.Device.WaitTimeout = 3 * time.Second
	}
	if c.Device.Rod.Mode == "" {
		c.Device.Rod.Mode = "headless"
	}
	if c.Device.Fake.Viewport <= 0 {
		c.Device.Fake.Viewport = 5
	}
	if c.Stream.Capacity <= 0 {
		c.Stream.Capacity = 3
	}
	if c.Stream.MaxScroll <= 0 {
		c.Stream.MaxScroll = 10
	}
	if c.Stream.StableLimit <= 0 {
		c.Stream.StableLimit = 3
	}
	if c.Stream.Checkpoint == "" {
		c.Stream.Checkpoint = "chat"
	}
	if len(c.Commands.Syntax.Sigils) == 0 {
		c.Commands.Syntax.Sigils = command.DefaultSyntax().Sigils
	}
	if c.Commands.Syntax.SenderSep == "" {
		c.Commands.Syntax.SenderSep = command.DefaultSyntax().SenderSep
	}
	if c.Commands.QueueLimit <= 0 {
		c.Commands.QueueLimit = 256
	}
	if c.Commands.PostRate <= 0 {
		c.Commands.PostRate = 1
	}
	if c.Commands.PostBurst <= 0 {
		c.Commands.PostBurst = 3
	}
	if c.Commands.MaxMessageLen <= 0 {
		c.Commands.MaxMessageLen = 300
	}
	if c.Commands.Volume.Wait <= 0 {
		c.Commands.Volume.Wait = c.Device.WaitTimeout
	}
	if c.Recovery.Cooldown <= 0 {
		c.Recovery.Cooldown = 5 * time.Second
	}
	for i := range c.Triggers {
		if c.Triggers[i].Action == "" {
			c.Triggers[i].Action = "click"
		}
	}
	if c.Host.CycleInterval <= 0 {
		c.Host.CycleInterval = time.Second
	}
	if c.Host.CycleTimeout <= 0 {
		c.Host.CycleTimeout = 2 * time.Minute
	}
	if c.Host.ErrorThreshold <= 0 {
		c.Host.ErrorThreshold = 5
	}
	if c.Host.ResetBackoff <= 0 {
		c.Host.ResetBackoff = time.Second
	}
	if c.Host.ResetBackoffMax <= 0 {
		c.Host.ResetBackoffMax = time.Minute
	}
	if c.Host.HeartbeatInterval <= 0 {
		c.Host.HeartbeatInterval = 15 * time.Second
	}
	if c.DB.Path == "" {
		c.DB.Path = "partyhost.db"
	}
	if c.DB.EventDays <= 0 {
		c.DB.EventDays = 30
	}
	if c.DB.HeartbeatDays <= 0 {
		c.DB.HeartbeatDays = 7
	}
	if c.DB.MetricDays <= 0 {
		c.DB.MetricDays = 14
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	switch c.Device.Driver {
	case "rod":
		if c.Device.Rod.URL == "" {
			errs = append(errs, errors.New("config: device.rod.url is required with the rod driver"))
		}
		if c.Device.Rod.Mode != "headless" && c.Device.Rod.Mode != "headful" {
			errs = append(errs, fmt.Errorf("config: device.rod.mode %q is not headless or headful", c.Device.Rod.Mode))
		}
	case "fake":
	default:
		errs = append(errs, fmt.Errorf("config: unknown device.driver %q", c.Device.Driver))
	}
	if c.Recovery.Marker.IsZero() {
		errs = append(errs, errors.New("config: recovery.marker is required"))
	}
	for i, t := range c.Triggers {
		if t.Key.IsZero() {
			errs = append(errs, fmt.Errorf("config: triggers[%d] has an empty key", i))
		}
		if t.Action != "click" {
			errs = append(errs, fmt.Errorf("config: triggers[%d]: unknown action %q", i, t.Action))
		}
	}
	for i, s := range c.Schedules {
		if s.Every <= 0 || s.Line == "" {
			errs = append(errs, fmt.Errorf("config: schedules[%d] needs every and command", i))
		}
	}
	for i, k := range c.Keywords {
		if k.Contains == "" || k.Line == "" {
			errs = append(errs, fmt.Errorf("config: keywords[%d] needs contains and command", i))
		}
	}
	return errors.Join(errs...)
}
