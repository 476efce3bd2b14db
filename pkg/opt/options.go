// Package opt holds the configuration handed to a native engine when a
// connection is established. The adapter captures an Options value when its
// factory is built and passes it through unmodified on every connect.
package opt

import (
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Options configures a native engine instance.
type Options struct {
	// Strict requires namespaces, databases and tables to be defined before
	// they are used.
	Strict bool
	// QueryTimeout bounds each query call. Zero means no limit.
	QueryTimeout time.Duration
	// TransactionTimeout bounds explicit transactions. Zero means no limit.
	TransactionTimeout time.Duration
	// Capabilities restricts what the engine may do. Nil means defaults.
	Capabilities *Capabilities
}

// UnmarshalYAML reads timeouts either as a number of seconds or as a Go
// duration string.
func (o *Options) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Strict             bool          `yaml:"strict"`
		QueryTimeout       yaml.Node     `yaml:"query_timeout"`
		TransactionTimeout yaml.Node     `yaml:"transaction_timeout"`
		Capabilities       *Capabilities `yaml:"capabilities"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	qt, err := ParseTimeout(raw.QueryTimeout.Value)
	if err != nil {
		return fmt.Errorf("query_timeout: %w", err)
	}
	tt, err := ParseTimeout(raw.TransactionTimeout.Value)
	if err != nil {
		return fmt.Errorf("transaction_timeout: %w", err)
	}
	*o = Options{
		Strict:             raw.Strict,
		QueryTimeout:       qt,
		TransactionTimeout: tt,
		Capabilities:       raw.Capabilities,
	}
	return nil
}

// Validate checks the capability targets.
func (o Options) Validate() error {
	if o.QueryTimeout < 0 || o.TransactionTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if o.Capabilities == nil {
		return nil
	}
	return o.Capabilities.Validate()
}

// ParseTimeout parses "30" (seconds) or "1m30s". An empty string is zero.
func ParseTimeout(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}
