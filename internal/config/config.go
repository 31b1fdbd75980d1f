// Package config loads dfrun settings from defaults, an optional YAML or TOML
// file and DATAFORM_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/seantiz/dataform-runner/internal/dataform"
	"github.com/seantiz/dataform-runner/internal/manager"
	"github.com/seantiz/dataform-runner/internal/scheduler"
	"github.com/seantiz/dataform-runner/internal/workflow"
)

const (
	defaultListenAddr = ":8080"
	defaultDBPath     = "dfrun.db"
	defaultLogFormat  = "json"

	envProjectID      = "DATAFORM_PROJECT_ID"
	envLocation       = "DATAFORM_LOCATION"
	envRepository     = "DATAFORM_REPOSITORY"
	envGitBranch      = "DATAFORM_GIT_BRANCH"
	envEndpoint       = "DATAFORM_ENDPOINT"
	envAccessToken    = "DATAFORM_ACCESS_TOKEN"
	envInsecure       = "DATAFORM_INSECURE"
	envListenAddr     = "DATAFORM_LISTEN_ADDR"
	envDBPath         = "DATAFORM_DB_PATH"
	envAMQPURL        = "DATAFORM_AMQP_URL"
	envAMQPExchange   = "DATAFORM_AMQP_EXCHANGE"
	envLogLevel       = "DATAFORM_LOG_LEVEL"
	envLogFormat      = "DATAFORM_LOG_FORMAT"
	envMaxRetries     = "DATAFORM_MAX_RETRIES"
	envRetryDelay     = "DATAFORM_RETRY_DELAY"
	envMaxConcurrent  = "DATAFORM_MAX_CONCURRENT"
	envPollInterval   = "DATAFORM_POLL_INTERVAL"
	envRequestTimeout = "DATAFORM_REQUEST_TIMEOUT"
)

// ErrUnsupportedFormat is returned for config files that are neither YAML
// nor TOML.
var ErrUnsupportedFormat = errors.New("unsupported config file format")

// Duration is a time.Duration written as a Go duration string ("90s", "1h").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler (used by TOML).
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// Config holds all application configuration.
type Config struct {
	Dataform  DataformConfig   `yaml:"dataform" toml:"dataform"`
	Manager   ManagerConfig    `yaml:"manager" toml:"manager"`
	Server    ServerConfig     `yaml:"server" toml:"server"`
	Store     StoreConfig      `yaml:"store" toml:"store"`
	Notify    NotifyConfig     `yaml:"notify" toml:"notify"`
	Log       LogConfig        `yaml:"log" toml:"log"`
	Schedules []ScheduleConfig `yaml:"schedules" toml:"schedules"`
}

// DataformConfig identifies the repository and how to reach the API.
type DataformConfig struct {
	ProjectID      string   `yaml:"project_id" toml:"project_id"`
	Location       string   `yaml:"location" toml:"location"`
	Repository     string   `yaml:"repository" toml:"repository"`
	GitBranch      string   `yaml:"git_branch" toml:"git_branch"`
	Endpoint       string   `yaml:"endpoint" toml:"endpoint"`
	APIVersion     string   `yaml:"api_version" toml:"api_version"`
	AccessToken    string   `yaml:"access_token" toml:"access_token"`
	Insecure       bool     `yaml:"insecure" toml:"insecure"`
	RequestTimeout Duration `yaml:"request_timeout" toml:"request_timeout"`
}

// ManagerConfig tunes the workflow manager.
type ManagerConfig struct {
	MaxRetries             int      `yaml:"max_retries" toml:"max_retries"`
	RetryDelay             Duration `yaml:"retry_delay" toml:"retry_delay"`
	MaxConcurrentWorkflows int      `yaml:"max_concurrent_workflows" toml:"max_concurrent_workflows"`
	PollInterval           Duration `yaml:"poll_interval" toml:"poll_interval"`
	WaitPollInterval       Duration `yaml:"wait_poll_interval" toml:"wait_poll_interval"`
	DrainTimeout           Duration `yaml:"drain_timeout" toml:"drain_timeout"`
	DrainPollInterval      Duration `yaml:"drain_poll_interval" toml:"drain_poll_interval"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	ListenAddr  string   `yaml:"listen_addr" toml:"listen_addr"`
	CORSOrigins []string `yaml:"cors_origins" toml:"cors_origins"`
}

// StoreConfig locates the lifecycle journal.
type StoreConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// NotifyConfig enables AMQP event publishing when AMQPURL is set.
type NotifyConfig struct {
	AMQPURL  string `yaml:"amqp_url" toml:"amqp_url"`
	Exchange string `yaml:"exchange" toml:"exchange"`
}

// LogConfig selects log level and handler.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// ScheduleConfig is one cron schedule.
type ScheduleConfig struct {
	Name        string   `yaml:"name" toml:"name"`
	Cron        string   `yaml:"cron" toml:"cron"`
	FullRefresh bool     `yaml:"full_refresh" toml:"full_refresh"`
	Wait        bool     `yaml:"wait" toml:"wait"`
	Timeout     Duration `yaml:"timeout" toml:"timeout"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Dataform: DataformConfig{
			Location:   workflow.DefaultLocation,
			GitBranch:  workflow.DefaultGitBranch,
			Endpoint:   dataform.DefaultEndpoint,
			APIVersion: dataform.DefaultAPIVersion,
		},
		Manager: ManagerConfig{
			MaxRetries:             manager.DefaultMaxRetries,
			RetryDelay:             Duration{manager.DefaultRetryDelay},
			MaxConcurrentWorkflows: manager.DefaultMaxConcurrentWorkflows,
			PollInterval:           Duration{manager.DefaultPollInterval},
			WaitPollInterval:       Duration{workflow.DefaultPollInterval},
			DrainTimeout:           Duration{manager.DefaultDrainTimeout},
			DrainPollInterval:      Duration{manager.DefaultDrainPollInterval},
		},
		Server: ServerConfig{
			ListenAddr:  defaultListenAddr,
			CORSOrigins: []string{"*"},
		},
		Store: StoreConfig{Path: defaultDBPath},
		Log: LogConfig{
			Level:  "info",
			Format: defaultLogFormat,
		},
	}
}

// Load builds the configuration. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	case ".toml":
		err = toml.Unmarshal(data, c)
	default:
		return fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		envProjectID:    &c.Dataform.ProjectID,
		envLocation:     &c.Dataform.Location,
		envRepository:   &c.Dataform.Repository,
		envGitBranch:    &c.Dataform.GitBranch,
		envEndpoint:     &c.Dataform.Endpoint,
		envAccessToken:  &c.Dataform.AccessToken,
		envListenAddr:   &c.Server.ListenAddr,
		envDBPath:       &c.Store.Path,
		envAMQPURL:      &c.Notify.AMQPURL,
		envAMQPExchange: &c.Notify.Exchange,
		envLogLevel:     &c.Log.Level,
		envLogFormat:    &c.Log.Format,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		envMaxRetries:    &c.Manager.MaxRetries,
		envMaxConcurrent: &c.Manager.MaxConcurrentWorkflows,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*Duration{
		envRetryDelay:     &c.Manager.RetryDelay,
		envPollInterval:   &c.Manager.PollInterval,
		envRequestTimeout: &c.Dataform.RequestTimeout,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	}

	if v := os.Getenv(envInsecure); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envInsecure, err)
		}
		c.Dataform.Insecure = b
	}
	return nil
}

// Validate checks what every command needs: a repository, a known log
// format and well-formed schedules.
func (c *Config) Validate() error {
	if err := c.Workflow().Validate(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log format %q: want json or text", c.Log.Format)
	}
	for _, s := range c.SchedulerSchedules() {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Workflow returns the repository configuration.
func (c *Config) Workflow() workflow.Config {
	return workflow.NewConfig(c.Dataform.ProjectID, c.Dataform.Location, c.Dataform.Repository, c.Dataform.GitBranch)
}

// HTTPClient returns the REST client settings. The token source is filled in
// by the caller.
func (c *Config) HTTPClient() dataform.HTTPConfig {
	return dataform.HTTPConfig{
		Endpoint:   c.Dataform.Endpoint,
		APIVersion: c.Dataform.APIVersion,
		Timeout:    c.Dataform.RequestTimeout.Duration,
	}
}

// ManagerSettings returns manager settings without the runtime collaborators.
func (c *Config) ManagerSettings() manager.Config {
	return manager.Config{
		MaxRetries:             c.Manager.MaxRetries,
		RetryDelay:             c.Manager.RetryDelay.Duration,
		MaxConcurrentWorkflows: c.Manager.MaxConcurrentWorkflows,
		PollInterval:           c.Manager.PollInterval.Duration,
		WaitPollInterval:       c.Manager.WaitPollInterval.Duration,
		DrainTimeout:           c.Manager.DrainTimeout.Duration,
		DrainPollInterval:      c.Manager.DrainPollInterval.Duration,
	}
}

// SchedulerSchedules converts the configured schedules.
func (c *Config) SchedulerSchedules() []scheduler.Schedule {
	out := make([]scheduler.Schedule, len(c.Schedules))
	for i, s := range c.Schedules {
		out[i] = scheduler.Schedule{
			Name:        s.Name,
			Cron:        s.Cron,
			FullRefresh: s.FullRefresh,
			Wait:        s.Wait,
			Timeout:     s.Timeout.Duration,
		}
	}
	return out
}

// LogLevel parses the configured level, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	return parseLogLevel(c.Log.Level)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured logger writing to w at the given level.
// format is "json" (default) or "text".
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
