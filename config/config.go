// Package config loads tasktracker configuration.
//
// Values are merged from three layers, highest precedence first:
//
//  1. --set key=value overrides (dotted keys)
//  2. environment variables with the TASKTRACKER_ prefix, "_" separated
//  3. the defaults file (TOML)
//
// Lookups use dotted keys: Get("server.port").
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/mapstructure"
)

// EnvPrefix is the prefix of environment variables read as overrides.
const EnvPrefix = "TASKTRACKER_"

// Environments accepted for the env key.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

//go:embed defaults.toml
var defaultsTOML string

// Sentinel errors.
var (
	ErrInvalidOverride = errors.New("invalid override")
	ErrInvalidConfig   = errors.New("invalid configuration")
)

// Provider is the read side of a configuration source.
type Provider interface {
	Get(key string) any
}

// Config holds merged configuration values.
type Config struct {
	values   map[string]any
	settings Settings
	path     string
}

var _ Provider = (*Config)(nil)

// Settings is the typed view of the merged values.
type Settings struct {
	Env       string           `mapstructure:"env"`
	Server    ServerSection    `mapstructure:"server"`
	Cleanup   CleanupSection   `mapstructure:"cleanup"`
	Log       LogSection       `mapstructure:"log"`
	Telemetry TelemetrySection `mapstructure:"telemetry"`
	Events    EventsSection    `mapstructure:"events"`
	App       AppSection       `mapstructure:"app"`
	Jobs      JobsSection      `mapstructure:"jobs"`
}

// ServerSection is the [server] table.
type ServerSection struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	ShutdownTimeout int    `mapstructure:"shutdownTimeout"`
	TestMode        bool   `mapstructure:"testmode"`
}

// CleanupSection is the [cleanup] table.
type CleanupSection struct {
	Timeout        int `mapstructure:"timeout"`
	MaxConcurrency int `mapstructure:"maxConcurrency"`
}

// LogSection is the [log] table.
type LogSection struct {
	Level string `mapstructure:"level"`
}

// TelemetrySection is the [telemetry] table.
type TelemetrySection struct {
	Endpoint    string `mapstructure:"endpoint"`
	Protocol    string `mapstructure:"protocol"`
	Insecure    bool   `mapstructure:"insecure"`
	ServiceName string `mapstructure:"serviceName"`
}

// EventsSection is the [events] table.
type EventsSection struct {
	NATSURL string `mapstructure:"natsUrl"`
}

// AppSection is the [app] table.
type AppSection struct {
	RateLimit float64 `mapstructure:"rateLimit"`
	RateBurst int     `mapstructure:"rateBurst"`
}

// JobsSection is the [jobs] table.
type JobsSection struct {
	StepDelay int `mapstructure:"stepDelay"`
}

// ServerConfig is the snapshot handed to the lifecycle controller.
type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	Env             string
	TestMode        bool
}

// Option configures Load.
type Option func(*loadOptions)

type loadOptions struct {
	environ   []string
	overrides []string
}

// WithEnviron replaces os.Environ() as the source of environment overrides.
func WithEnviron(environ []string) Option {
	return func(o *loadOptions) { o.environ = environ }
}

// WithOverrides adds key=value overrides that beat every other layer.
func WithOverrides(sets ...string) Option {
	return func(o *loadOptions) { o.overrides = append(o.overrides, sets...) }
}

// Load reads the defaults file at path and applies environment and command
// line overrides. An empty path uses the built-in defaults.
func Load(path string, opts ...Option) (*Config, error) {
	o := loadOptions{environ: os.Environ()}
	for _, opt := range opts {
		opt(&o)
	}

	content := defaultsTOML
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		content = string(data)
	}

	values := make(map[string]any)
	if _, err := toml.Decode(content, &values); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", displayPath(path), err)
	}

	applyEnv(values, o.environ)

	for _, set := range o.overrides {
		key, raw, ok := strings.Cut(set, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %q (want key=value)", ErrInvalidOverride, set)
		}
		setPath(values, strings.Split(key, "."), parseValue(raw))
	}

	if _, ok := values["env"]; !ok {
		values["env"] = EnvDevelopment
	}

	c := &Config{values: values, path: path}
	if err := c.decode(); err != nil {
		return nil, err
	}
	return c, nil
}

// decode fills the typed settings and validates them.
func (c *Config) decode() error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &c.settings,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(c.values); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return c.settings.Validate()
}

// Validate checks the settings for values the process cannot run with.
func (s Settings) Validate() error {
	switch s.Env {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		return fmt.Errorf("%w: env must be development, production or test, got %q", ErrInvalidConfig, s.Env)
	}
	if s.Server.Port < 0 || s.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalidConfig, s.Server.Port)
	}
	if s.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("%w: server.shutdownTimeout must not be negative", ErrInvalidConfig)
	}
	if s.Cleanup.Timeout < 0 || s.Cleanup.MaxConcurrency < 0 {
		return fmt.Errorf("%w: cleanup values must not be negative", ErrInvalidConfig)
	}
	if s.Jobs.StepDelay < 0 {
		return fmt.Errorf("%w: jobs.stepDelay must not be negative", ErrInvalidConfig)
	}
	switch s.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		return fmt.Errorf("%w: telemetry.protocol must be grpc or http, got %q", ErrInvalidConfig, s.Telemetry.Protocol)
	}
	return nil
}

// Get returns the value at a dotted key, or nil. Tables are returned as
// map[string]any.
func (c *Config) Get(key string) any {
	var cur any = c.values
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		k, ok := lookupKey(m, part)
		if !ok {
			return nil
		}
		cur = m[k]
	}
	return cur
}

// Settings returns the typed view.
func (c *Config) Settings() Settings { return c.settings }

// Env returns the configured environment name.
func (c *Config) Env() string { return c.settings.Env }

// IsProduction reports whether env is production.
func (c *Config) IsProduction() bool { return c.settings.Env == EnvProduction }

// Path returns the file the defaults were read from, or "" for built-ins.
func (c *Config) Path() string { return c.path }

// Server returns the lifecycle controller snapshot.
func (c *Config) Server() ServerConfig {
	s := c.settings.Server
	return ServerConfig{
		Host:            s.Host,
		Port:            s.Port,
		ShutdownTimeout: Millis(s.ShutdownTimeout),
		Env:             c.settings.Env,
		TestMode:        s.TestMode,
	}
}

// WriteTOML writes the merged values as TOML.
func (c *Config) WriteTOML(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c.values)
}

// Millis converts a millisecond setting to a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// applyEnv copies TASKTRACKER_* variables into values. SERVER_PORT maps to
// server.port; segments match existing keys case-insensitively so camelCase
// keys such as shutdownTimeout stay reachable.
func applyEnv(values map[string]any, environ []string) {
	for _, kv := range environ {
		name, raw, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		rest := strings.TrimPrefix(name, EnvPrefix)
		if rest == "" {
			continue
		}
		setPath(values, strings.Split(rest, "_"), parseValue(raw))
	}
}

// setPath stores v at path, creating tables as needed.
func setPath(values map[string]any, path []string, v any) {
	m := values
	for i, part := range path {
		key, ok := lookupKey(m, part)
		if !ok {
			key = strings.ToLower(part)
		}
		if i == len(path)-1 {
			m[key] = v
			return
		}
		next, ok := m[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[key] = next
		}
		m = next
	}
}

// lookupKey finds the stored spelling of key, ignoring case.
func lookupKey(m map[string]any, key string) (string, bool) {
	if _, ok := m[key]; ok {
		return key, true
	}
	for k := range m {
		if strings.EqualFold(k, key) {
			return k, true
		}
	}
	return "", false
}

// parseValue turns override text into a bool, integer, float or string.
func parseValue(raw string) any {
	s := strings.TrimSpace(raw)
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return raw
}

func displayPath(path string) string {
	if path == "" {
		return "(built-in defaults)"
	}
	return path
}
