// Package config provides configuration management for the studio agent.
// Values come from defaults, then an optional YAML file, then environment
// variables. Command-line flags are layered on top by cmd/studio.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Default values
	DefaultPort             = 8790
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
	DefaultDataDir          = ".shortstudio"
	DefaultRemoteURL        = "http://127.0.0.1:8000"
	DefaultRequestTimeout   = 5 * time.Minute
	DefaultPollInterval     = 800 * time.Millisecond
	DefaultPollMaxFailures  = 3
	DefaultPollTimeout      = 30 * time.Minute
	DefaultBatchDoneMarker  = "done"
	DefaultRemoteRatePerSec = 5

	// Poll cadence bounds. Shorter floods the backend log, longer feels stuck.
	MinPollInterval = 800 * time.Millisecond
	MaxPollInterval = 1000 * time.Millisecond

	// Environment variable names
	EnvConfigFile      = "STUDIO_CONFIG"
	EnvPort            = "STUDIO_PORT"
	EnvLogLevel        = "STUDIO_LOG_LEVEL"
	EnvLogFormat       = "STUDIO_LOG_FORMAT"
	EnvDataDir         = "STUDIO_DATA_DIR"
	EnvRemoteURL       = "STUDIO_REMOTE_URL"
	EnvRequestTimeout  = "STUDIO_REQUEST_TIMEOUT"
	EnvPollIntervalMs  = "STUDIO_POLL_INTERVAL_MS"
	EnvPollMaxFailures = "STUDIO_POLL_MAX_FAILURES"
	EnvPollTimeout     = "STUDIO_POLL_TIMEOUT"
	EnvBatchDoneMarker = "STUDIO_BATCH_DONE_MARKER"
	EnvInboxDir        = "STUDIO_INBOX_DIR"
	EnvHeadless        = "STUDIO_HEADLESS"

	// Database filename
	DBFilename = "studio.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	LogFormat() string
	DataDir() string
	DBPath() string
	AssetsDir() string
	RemoteURL() string
	RequestTimeout() time.Duration
	PollInterval() time.Duration
	PollMaxFailures() int
	PollTimeout() time.Duration
	BatchDoneMarker() string
	InboxDir() string
	Headless() bool
}

// fileConfig mirrors the optional YAML config file. Durations use Go syntax ("5m").
type fileConfig struct {
	Port            int    `yaml:"port"`
	LogLevel        string `yaml:"log_level"`
	LogFormat       string `yaml:"log_format"`
	DataDir         string `yaml:"data_dir"`
	RemoteURL       string `yaml:"remote_url"`
	RequestTimeout  string `yaml:"request_timeout"`
	PollIntervalMs  int    `yaml:"poll_interval_ms"`
	PollMaxFailures int    `yaml:"poll_max_failures"`
	PollTimeout     string `yaml:"poll_timeout"`
	BatchDoneMarker string `yaml:"batch_done_marker"`
	InboxDir        string `yaml:"inbox_dir"`
	Headless        *bool  `yaml:"headless"`
}

// EnvConfig holds the resolved configuration.
type EnvConfig struct {
	port            int
	logLevel        string
	logFormat       string
	dataDir         string
	remoteURL       string
	requestTimeout  time.Duration
	pollInterval    time.Duration
	pollMaxFailures int
	pollTimeout     time.Duration
	batchDoneMarker string
	inboxDir        string
	headless        bool
}

// New creates a config from defaults, the optional YAML file named by
// STUDIO_CONFIG, and environment variable overrides.
func New() (*EnvConfig, error) {
	cfg := Defaults()

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns a config populated with default values only.
func Defaults() *EnvConfig {
	return &EnvConfig{
		port:            DefaultPort,
		logLevel:        DefaultLogLevel,
		logFormat:       DefaultLogFormat,
		dataDir:         defaultDataDir(),
		remoteURL:       DefaultRemoteURL,
		requestTimeout:  DefaultRequestTimeout,
		pollInterval:    DefaultPollInterval,
		pollMaxFailures: DefaultPollMaxFailures,
		pollTimeout:     DefaultPollTimeout,
		batchDoneMarker: DefaultBatchDoneMarker,
	}
}

// LoadFile overlays values from a YAML file. Missing keys keep their current value.
func (c *EnvConfig) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.Port != 0 {
		c.port = fc.Port
	}
	if fc.LogLevel != "" {
		c.logLevel = fc.LogLevel
	}
	if fc.LogFormat != "" {
		c.logFormat = fc.LogFormat
	}
	if fc.DataDir != "" {
		c.dataDir = fc.DataDir
	}
	if fc.RemoteURL != "" {
		c.remoteURL = fc.RemoteURL
	}
	if fc.RequestTimeout != "" {
		d, err := time.ParseDuration(fc.RequestTimeout)
		if err != nil {
			return fmt.Errorf("invalid request_timeout: %w", err)
		}
		c.requestTimeout = d
	}
	if fc.PollIntervalMs != 0 {
		c.pollInterval = time.Duration(fc.PollIntervalMs) * time.Millisecond
	}
	if fc.PollMaxFailures != 0 {
		c.pollMaxFailures = fc.PollMaxFailures
	}
	if fc.PollTimeout != "" {
		d, err := time.ParseDuration(fc.PollTimeout)
		if err != nil {
			return fmt.Errorf("invalid poll_timeout: %w", err)
		}
		c.pollTimeout = d
	}
	if fc.BatchDoneMarker != "" {
		c.batchDoneMarker = fc.BatchDoneMarker
	}
	if fc.InboxDir != "" {
		c.inboxDir = fc.InboxDir
	}
	if fc.Headless != nil {
		c.headless = *fc.Headless
	}
	return nil
}

func (c *EnvConfig) applyEnv() error {
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		c.logLevel = ll
	}
	if lf := os.Getenv(EnvLogFormat); lf != "" {
		c.logFormat = lf
	}
	if dd := os.Getenv(EnvDataDir); dd != "" {
		c.dataDir = dd
	}
	if ru := os.Getenv(EnvRemoteURL); ru != "" {
		c.remoteURL = ru
	}

	if rt := os.Getenv(EnvRequestTimeout); rt != "" {
		d, err := time.ParseDuration(rt)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvRequestTimeout, err)
		}
		c.requestTimeout = d
	}

	if pi := os.Getenv(EnvPollIntervalMs); pi != "" {
		ms, err := strconv.Atoi(pi)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPollIntervalMs, err)
		}
		c.pollInterval = time.Duration(ms) * time.Millisecond
	}

	if pf := os.Getenv(EnvPollMaxFailures); pf != "" {
		n, err := strconv.Atoi(pf)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPollMaxFailures, err)
		}
		c.pollMaxFailures = n
	}

	if pt := os.Getenv(EnvPollTimeout); pt != "" {
		d, err := time.ParseDuration(pt)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPollTimeout, err)
		}
		c.pollTimeout = d
	}

	if m := os.Getenv(EnvBatchDoneMarker); m != "" {
		c.batchDoneMarker = m
	}
	if dir := os.Getenv(EnvInboxDir); dir != "" {
		c.inboxDir = dir
	}

	if h := os.Getenv(EnvHeadless); h != "" {
		b, err := strconv.ParseBool(h)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		c.headless = b
	}
	return nil
}

// Validate checks ranges that the rest of the agent relies on.
func (c *EnvConfig) Validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.port)
	}
	if c.pollInterval < MinPollInterval || c.pollInterval > MaxPollInterval {
		return fmt.Errorf("invalid poll interval %s: must be between %s and %s",
			c.pollInterval, MinPollInterval, MaxPollInterval)
	}
	if c.pollMaxFailures < 1 {
		return fmt.Errorf("invalid poll max failures %d: must be at least 1", c.pollMaxFailures)
	}
	if c.pollTimeout <= 0 {
		return fmt.Errorf("invalid poll timeout %s: must be positive", c.pollTimeout)
	}
	if c.requestTimeout <= 0 {
		return fmt.Errorf("invalid request timeout %s: must be positive", c.requestTimeout)
	}
	if !strings.HasPrefix(c.remoteURL, "http://") && !strings.HasPrefix(c.remoteURL, "https://") {
		return fmt.Errorf("invalid remote url %q: must be http or https", c.remoteURL)
	}
	return nil
}

// SetPort overrides the HTTP port (used by CLI flags).
func (c *EnvConfig) SetPort(port int) { c.port = port }

// SetRemoteURL overrides the remote service base URL (used by CLI flags).
func (c *EnvConfig) SetRemoteURL(u string) { c.remoteURL = strings.TrimRight(u, "/") }

// SetHeadless overrides headless mode (used by CLI flags).
func (c *EnvConfig) SetHeadless(h bool) { c.headless = h }

// SetLogLevel overrides the log level (used by CLI flags).
func (c *EnvConfig) SetLogLevel(l string) { c.logLevel = l }

// Port returns the local API port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

func (c *EnvConfig) LogFormat() string {
	return c.logFormat
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// AssetsDir is where timeline exports land when no output path is configured.
func (c *EnvConfig) AssetsDir() string {
	return filepath.Join(c.dataDir, "exports")
}

// RemoteURL returns the Remote Job Service base URL without a trailing slash
func (c *EnvConfig) RemoteURL() string {
	return strings.TrimRight(c.remoteURL, "/")
}

func (c *EnvConfig) RequestTimeout() time.Duration {
	return c.requestTimeout
}

func (c *EnvConfig) PollInterval() time.Duration {
	return c.pollInterval
}

func (c *EnvConfig) PollMaxFailures() int {
	return c.pollMaxFailures
}

func (c *EnvConfig) PollTimeout() time.Duration {
	return c.pollTimeout
}

func (c *EnvConfig) BatchDoneMarker() string {
	return c.batchDoneMarker
}

// InboxDir returns the batch inbox directory; empty disables the watcher.
func (c *EnvConfig) InboxDir() string {
	return c.inboxDir
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
