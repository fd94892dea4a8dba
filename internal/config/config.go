// Package config loads service configuration.
//
// Values come from three layers, each overriding the previous one:
// defaults in code, an optional YAML file and ATOMIC_* environment
// variables.
//
// Example file:
//
//	server:
//	  addr: ":8080"
//	  base_path: /api
//	store:
//	  path: atomic.db
//	schema: schema/blog.cue
//	operations:
//	  max: 50
//	  return_policy: auto
//	media_types:
//	  require_extension: true
//	  channels:
//	    - name: legacy
//	      path_prefix: /legacy/
//	      request: ["*"]
//	    - name: partner
//	      attribute: "partner-.*"
//	      response: ["application/json"]
//	  attribute_header: X-Client
//
// A channel's attribute scope matches the value of the request header named
// by media_types.attribute_header.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/roach88/jsonapi-atomic/internal/engine"
	"github.com/roach88/jsonapi-atomic/internal/ir"
	"github.com/roach88/jsonapi-atomic/internal/mediatype"
)

// Default values.
const (
	DefaultAddr            = ":8080"
	DefaultStorePath       = "atomic.db"
	DefaultSchemaPath      = "schema.cue"
	DefaultMaxBodyBytes    = 1 << 20
	DefaultReadTimeout     = 10 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Config is the complete service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Schema     string           `yaml:"schema"`
	Operations OperationsConfig `yaml:"operations"`
	Results    ResultsConfig    `yaml:"results"`
	MediaTypes MediaTypesConfig `yaml:"media_types"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr" env:"ATOMIC_ADDR"`

	// BasePath prefixes every route and is stripped from operation hrefs.
	BasePath string `yaml:"base_path" env:"ATOMIC_BASE_PATH"`

	// BaseURL, when set, makes results carry links.
	BaseURL string `yaml:"base_url" env:"ATOMIC_BASE_URL"`

	MaxBodyBytes    int64         `yaml:"max_body_bytes" env:"ATOMIC_MAX_BODY_BYTES"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"ATOMIC_READ_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"ATOMIC_SHUTDOWN_TIMEOUT"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `yaml:"path" env:"ATOMIC_DB_PATH"`
}

// OperationsConfig bounds and shapes batch processing.
type OperationsConfig struct {
	// Max is the largest accepted batch. Zero disables the bound.
	Max          int    `yaml:"max" env:"ATOMIC_MAX_OPERATIONS"`
	ReturnPolicy string `yaml:"return_policy" env:"ATOMIC_RETURN_POLICY"`
}

// ResultsConfig controls result serialization.
type ResultsConfig struct {
	ApplyRequestFields bool `yaml:"apply_request_fields" env:"ATOMIC_APPLY_REQUEST_FIELDS"`
}

// MediaTypesConfig configures content negotiation.
type MediaTypesConfig struct {
	RequireExtension bool            `yaml:"require_extension"`
	Request          []string        `yaml:"request"`
	Response         []string        `yaml:"response"`
	Channels         []ChannelConfig `yaml:"channels"`

	// AttributeHeader names the request header matched by channel
	// attribute scopes.
	AttributeHeader string `yaml:"attribute_header"`
}

// rootEnv and mediaTypesEnv hold env values for settings whose sections
// cannot be parsed whole.
type rootEnv struct {
	Schema string `env:"ATOMIC_SCHEMA"`
}

type mediaTypesEnv struct {
	RequireExtension bool     `env:"ATOMIC_REQUIRE_EXTENSION"`
	Request          []string `env:"ATOMIC_REQUEST_MEDIA_TYPES" envSeparator:","`
	Response         []string `env:"ATOMIC_RESPONSE_MEDIA_TYPES" envSeparator:","`
	AttributeHeader  string   `env:"ATOMIC_ATTRIBUTE_HEADER"`
}

// ChannelConfig is a scoped media type policy. Scope members are regular
// expressions.
type ChannelConfig struct {
	Name       string   `yaml:"name"`
	PathPrefix string   `yaml:"path_prefix"`
	Route      string   `yaml:"route"`
	Attribute  string   `yaml:"attribute"`
	Request    []string `yaml:"request"`
	Response   []string `yaml:"response"`
}

// MetricsConfig controls the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"ATOMIC_METRICS_ENABLED"`

	// Runtime adds the Go and process collectors.
	Runtime bool `yaml:"runtime" env:"ATOMIC_METRICS_RUNTIME"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level" env:"ATOMIC_LOG_LEVEL"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            DefaultAddr,
			MaxBodyBytes:    DefaultMaxBodyBytes,
			ReadTimeout:     DefaultReadTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Store:  StoreConfig{Path: DefaultStorePath},
		Schema: DefaultSchemaPath,
		Operations: OperationsConfig{
			Max:          engine.DefaultMaxOperations,
			ReturnPolicy: string(ir.ReturnAuto),
		},
		MediaTypes: MediaTypesConfig{
			RequireExtension: true,
			Request:          []string{ir.MediaType},
			Response:         []string{ir.MediaType},
		},
		Metrics: MetricsConfig{Enabled: true, Runtime: true},
		Log:     LogConfig{Level: "info"},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := Decode(data, cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Decode parses YAML into cfg, keeping values the document does not set.
// Unknown fields are rejected.
func Decode(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// applyEnv overrides cfg with the ATOMIC_* variables that are set.
func applyEnv(cfg *Config) error {
	root := rootEnv{Schema: cfg.Schema}
	media := mediaTypesEnv{
		RequireExtension: cfg.MediaTypes.RequireExtension,
		Request:          cfg.MediaTypes.Request,
		Response:         cfg.MediaTypes.Response,
		AttributeHeader:  cfg.MediaTypes.AttributeHeader,
	}

	targets := []any{
		&cfg.Server, &cfg.Store, &cfg.Operations, &cfg.Results,
		&cfg.Metrics, &cfg.Log, &root, &media,
	}
	for _, target := range targets {
		if err := env.Parse(target); err != nil {
			return fmt.Errorf("parse env: %w", err)
		}
	}

	cfg.Schema = root.Schema
	cfg.MediaTypes.RequireExtension = media.RequireExtension
	cfg.MediaTypes.Request = media.Request
	cfg.MediaTypes.Response = media.Response
	cfg.MediaTypes.AttributeHeader = media.AttributeHeader
	return nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		errs = append(errs, fmt.Errorf("server.base_path %q must start with /", c.Server.BasePath))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_bytes must be positive, got %d", c.Server.MaxBodyBytes))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if c.Schema == "" {
		errs = append(errs, errors.New("schema is required"))
	}
	if c.Operations.Max < 0 {
		errs = append(errs, fmt.Errorf("operations.max must not be negative, got %d", c.Operations.Max))
	}
	if _, err := ir.ParseReturnPolicy(c.Operations.ReturnPolicy); err != nil {
		errs = append(errs, fmt.Errorf("operations.return_policy: %w", err))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	if _, err := mediatype.NewGuard(c.GuardOptions()); err != nil {
		errs = append(errs, fmt.Errorf("media_types: %w", err))
	}
	if c.MediaTypes.AttributeHeader == "" {
		for _, ch := range c.MediaTypes.Channels {
			if ch.Attribute != "" {
				errs = append(errs, fmt.Errorf("media_types.channels %q: attribute scope needs media_types.attribute_header", ch.Name))
			}
		}
	}

	return errors.Join(errs...)
}

// ReturnPolicy returns the parsed return policy.
func (c *Config) ReturnPolicy() ir.ReturnPolicy {
	p, err := ir.ParseReturnPolicy(c.Operations.ReturnPolicy)
	if err != nil {
		return ir.ReturnAuto
	}
	return p
}

// LogLevel parses the configured log level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// GuardOptions converts the media type settings into guard options.
func (c *Config) GuardOptions() mediatype.Options {
	opts := mediatype.Options{
		RequireExtension: c.MediaTypes.RequireExtension,
		Default: mediatype.Policy{
			Request:  c.MediaTypes.Request,
			Response: c.MediaTypes.Response,
		},
	}
	for _, ch := range c.MediaTypes.Channels {
		opts.Channels = append(opts.Channels, mediatype.Channel{
			Name: ch.Name,
			Scope: mediatype.Scope{
				PathPrefix: ch.PathPrefix,
				Route:      ch.Route,
				Attribute:  ch.Attribute,
			},
			Policy: mediatype.Policy{
				Request:  ch.Request,
				Response: ch.Response,
			},
		})
	}
	return opts
}
