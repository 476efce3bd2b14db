package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/forgo/surrealembed/pkg/opt"
)

//go:embed schema.cue
var schemaSource string

// ErrSchema is returned when a config file does not match the schema.
var ErrSchema = errors.New("config does not match schema")

// Config holds all application configuration
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Token   TokenConfig   `yaml:"token"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// EngineConfig selects the engine and the session to open on it
type EngineConfig struct {
	URL       string      `yaml:"url"`
	Namespace string      `yaml:"namespace"`
	Database  string      `yaml:"database"`
	User      string      `yaml:"user"`
	Password  string      `yaml:"password"`
	Options   opt.Options `yaml:"options"`
}

// TokenConfig holds session token signing settings
type TokenConfig struct {
	PrivateKeyPath string `yaml:"private_key_path"`
	PublicKeyPath  string `yaml:"public_key_path"`
	ExpirationMins int    `yaml:"expiration_mins"`
	Issuer         string `yaml:"issuer"`
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			URL: "mem://",
		},
		Token: TokenConfig{
			ExpirationMins: 60,
			Issuer:         "surrealembed",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

// Load reads the YAML file at path, when given, over the defaults and then
// applies environment variables, which win.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(raw, cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// Parse checks raw against the schema and decodes it into cfg.
func Parse(raw []byte, cfg *Config) error {
	if err := checkSchema(raw); err != nil {
		return err
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func checkSchema(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if doc == nil {
		return nil
	}
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(doc))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Engine.URL = getEnv("SURREAL_URL", c.Engine.URL)
	c.Engine.Namespace = getEnv("SURREAL_NAMESPACE", c.Engine.Namespace)
	c.Engine.Database = getEnv("SURREAL_DATABASE", c.Engine.Database)
	c.Engine.User = getEnv("SURREAL_USER", c.Engine.User)
	c.Engine.Password = getEnv("SURREAL_PASSWORD", c.Engine.Password)
	c.Engine.Options.Strict = getBoolEnv("SURREAL_STRICT", c.Engine.Options.Strict)
	c.Engine.Options.QueryTimeout = getDurationEnv("SURREAL_QUERY_TIMEOUT", c.Engine.Options.QueryTimeout)
	c.Engine.Options.TransactionTimeout = getDurationEnv("SURREAL_TRANSACTION_TIMEOUT", c.Engine.Options.TransactionTimeout)
	if fns := getSliceEnv("SURREAL_CAPS_DENY_FUNCTIONS", nil); len(fns) > 0 {
		caps := c.capabilities()
		if caps.Functions == nil {
			caps.Functions = &opt.Targets{}
		}
		caps.Functions.Deny = opt.SomeTargets(fns...)
	}
	if v := os.Getenv("SURREAL_CAPS_GUEST_ACCESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.capabilities().GuestAccess = &b
		}
	}

	c.Token.PrivateKeyPath = getEnv("TOKEN_PRIVATE_KEY_PATH", c.Token.PrivateKeyPath)
	c.Token.PublicKeyPath = getEnv("TOKEN_PUBLIC_KEY_PATH", c.Token.PublicKeyPath)
	c.Token.ExpirationMins = getIntEnv("TOKEN_EXPIRATION_MINS", c.Token.ExpirationMins)
	c.Token.Issuer = getEnv("TOKEN_ISSUER", c.Token.Issuer)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)

	c.Metrics.Enabled = getBoolEnv("METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.Addr = getEnv("METRICS_ADDR", c.Metrics.Addr)
}

func (c *Config) capabilities() *opt.Capabilities {
	if c.Engine.Options.Capabilities == nil {
		c.Engine.Options.Capabilities = &opt.Capabilities{}
	}
	return c.Engine.Options.Capabilities
}

// LogLevel maps Logging.Level onto slog.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// TokenExpiry returns the token lifetime.
func (c *Config) TokenExpiry() time.Duration {
	return time.Duration(c.Token.ExpirationMins) * time.Minute
}

// Validate checks that all required configuration values are present and valid.
// It returns an error describing all validation failures, or nil if valid.
func (c *Config) Validate() error {
	var errs []error

	// Engine validation
	if c.Engine.URL == "" {
		errs = append(errs, errors.New("SURREAL_URL is required"))
	} else if u, err := url.Parse(c.Engine.URL); err != nil || u.Scheme == "" {
		errs = append(errs, fmt.Errorf("SURREAL_URL must be a url with a scheme, got '%s'", c.Engine.URL))
	}
	if c.Engine.Database != "" && c.Engine.Namespace == "" {
		errs = append(errs, errors.New("SURREAL_NAMESPACE is required when SURREAL_DATABASE is set"))
	}
	if (c.Engine.User == "") != (c.Engine.Password == "") {
		errs = append(errs, errors.New("SURREAL_USER and SURREAL_PASSWORD must be set together"))
	}
	if err := c.Engine.Options.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("engine options: %w", err))
	}

	// Token validation
	if c.Token.ExpirationMins <= 0 {
		errs = append(errs, errors.New("TOKEN_EXPIRATION_MINS must be positive"))
	}
	if c.Token.PublicKeyPath != "" && c.Token.PrivateKeyPath == "" {
		errs = append(errs, errors.New("TOKEN_PRIVATE_KEY_PATH is required when TOKEN_PUBLIC_KEY_PATH is set"))
	}

	// Logging validation
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be 'text' or 'json', got '%s'", c.Logging.Format))
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, errors.New("METRICS_ADDR is required when METRICS_ENABLED is true"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Helper functions for reading environment variables

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := opt.ParseTimeout(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
