package config

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vango-dev/seqline/internal/errors"
	"github.com/vango-dev/seqline/pkg/protocol"
	"github.com/vango-dev/seqline/pkg/server"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "seqline.yaml"

	// DefaultListen is the default listen address.
	DefaultListen = ":4567"

	// DefaultLogLevel is the default log level.
	DefaultLogLevel = "info"

	// DefaultLogFormat is the default log format.
	DefaultLogFormat = "text"
)

// Config represents the complete seqline.yaml configuration.
type Config struct {
	// Listen is the TCP listen address.
	Listen string `yaml:"listen,omitempty"`

	// BufferSize is the number of bytes read per readiness event.
	BufferSize int `yaml:"buffer_size,omitempty"`

	// MaxEvents is the number of readiness events handled per wake.
	MaxEvents int `yaml:"max_events,omitempty"`

	// Transform names the word transform (reverse or identity).
	Transform string `yaml:"transform,omitempty"`

	// ResetToken enables parsing a second token as a counter reset.
	ResetToken *bool `yaml:"reset_token,omitempty"`

	// RetryPolicy is drop or requeue.
	RetryPolicy string `yaml:"retry_policy,omitempty"`

	// MaxRequeue caps requeues per request; 0 means unlimited.
	MaxRequeue int `yaml:"max_requeue,omitempty"`

	// Backlog configures the queue backlog watch.
	Backlog BacklogConfig `yaml:"backlog,omitempty"`

	// Admin contains the admin HTTP endpoint configuration.
	Admin AdminConfig `yaml:"admin,omitempty"`

	// Log contains logging configuration.
	Log LogConfig `yaml:"log,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// AdminConfig contains admin HTTP endpoint settings.
type AdminConfig struct {
	// Addr is the admin listen address. Empty disables the endpoint.
	Addr string `yaml:"addr,omitempty"`

	// WebSocket enables the /ws bridge on the admin endpoint.
	WebSocket bool `yaml:"websocket"`

	// TrustedProxies lists proxy IPs or CIDRs whose forwarding headers
	// are believed for bridge peers.
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`
}

// BacklogConfig contains queue backlog watch settings.
type BacklogConfig struct {
	// Threshold is the queue depth that triggers a warning. Zero disables
	// the watch.
	Threshold int `yaml:"threshold,omitempty"`

	// Interval is the sampling period, e.g. "10s".
	Interval time.Duration `yaml:"interval,omitempty"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level,omitempty"`

	// Format is text or json.
	Format string `yaml:"format,omitempty"`
}

// Default creates a new Config with default values.
func Default() *Config {
	resetToken := true
	return &Config{
		Listen:      DefaultListen,
		BufferSize:  server.DefaultReadBufferSize,
		MaxEvents:   server.DefaultMaxEvents,
		Transform:   string(protocol.TransformReverse),
		ResetToken:  &resetToken,
		RetryPolicy: string(server.RetryDrop),
		Admin: AdminConfig{
			WebSocket: true,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// Load reads configuration from the specified file path. Keys missing from
// the file keep their defaults; unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		detail := "Could not read " + path + "."
		if os.IsNotExist(err) {
			detail = "No configuration file at " + path + "."
		}
		return nil, errors.New("E111").WithDetail(detail).Wrap(err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.New("E110").
			WithLocationFromError(path, err).
			Wrap(err)
	}

	cfg.configPath = path
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromWorkingDir loads seqline.yaml from the current working directory,
// or returns the defaults when there is none.
func LoadFromWorkingDir() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	if !Exists(wd) {
		return Default(), nil
	}
	return Load(filepath.Join(wd, ConfigFileName))
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, errors.New("E110").Wrap(err)
	}
	return data, nil
}

// SaveTo writes the configuration to the specified path.
func (c *Config) SaveTo(path string) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.New("E111").Wrap(err)
	}

	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// applyDefaults fills in default values for fields set to empty strings.
func (c *Config) applyDefaults() {
	defaults := Default()
	if c.Listen == "" {
		c.Listen = defaults.Listen
	}
	if c.Transform == "" {
		c.Transform = defaults.Transform
	}
	if c.RetryPolicy == "" {
		c.RetryPolicy = defaults.RetryPolicy
	}
	if c.ResetToken == nil {
		c.ResetToken = defaults.ResetToken
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	invalid := func(detail string) error {
		err := errors.New("E110").WithDetail(detail)
		if c.configPath != "" {
			err.Location = &errors.Location{File: c.configPath}
		}
		return err
	}

	if _, port, err := splitPort(c.Listen); err != nil {
		return invalid(fmt.Sprintf("listen: %q is not a host:port address.", c.Listen))
	} else if port < 0 || port > 65535 {
		return invalid("listen: port must be between 0 and 65535.")
	}
	if c.BufferSize < 0 {
		return invalid("buffer_size must not be negative.")
	}
	if c.MaxEvents < 0 {
		return invalid("max_events must not be negative.")
	}
	if c.MaxRequeue < 0 {
		return invalid("max_requeue must not be negative.")
	}
	if c.Backlog.Threshold < 0 {
		return invalid("backlog.threshold must not be negative.")
	}
	if c.Backlog.Interval < 0 {
		return invalid("backlog.interval must not be negative.")
	}
	if _, err := protocol.ParseTransformMode(c.Transform); err != nil {
		return invalid("transform must be reverse or identity.")
	}
	if _, err := server.ParseRetryPolicy(c.RetryPolicy); err != nil {
		return invalid("retry_policy must be drop or requeue.")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level must be debug, info, warn or error.")
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		return invalid("log.format must be text or json.")
	}
	return nil
}

// ApplyTo copies the configuration onto a server configuration.
func (c *Config) ApplyTo(sc *server.ServerConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}

	mode, _ := protocol.ParseTransformMode(c.Transform)
	policy, _ := server.ParseRetryPolicy(c.RetryPolicy)

	sc.Address = c.Listen
	if c.BufferSize > 0 {
		sc.ReadBufferSize = c.BufferSize
	}
	if c.MaxEvents > 0 {
		sc.MaxEvents = c.MaxEvents
	}
	sc.Transform = mode
	sc.RetryPolicy = policy
	sc.MaxRequeue = c.MaxRequeue
	sc.BacklogThreshold = c.Backlog.Threshold
	if c.Backlog.Interval > 0 {
		sc.BacklogInterval = c.Backlog.Interval
	}
	sc.IgnoreResetToken = c.ResetToken != nil && !*c.ResetToken
	return nil
}

// SetPort replaces the port of the listen address, keeping the host.
func (c *Config) SetPort(port int) {
	host, _, err := splitPort(c.Listen)
	if err != nil {
		host = ""
	}
	c.Listen = net.JoinHostPort(host, strconv.Itoa(port))
}

// NewLogger builds the structured logger described by the log settings.
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(l.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", l.Format)
	}
}

// ParseLevel parses a log level name.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

func splitPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}
