// Package config loads the paywatch configuration file.
//
// A YAML file is decoded strictly over Default() and the result is
// validated against an embedded CUE schema (schema.cue). Validation
// errors carry the offending field path.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSrc string

// Config is the runtime configuration.
type Config struct {
	Database              string `yaml:"database" json:"database"`
	HorizonURL            string `yaml:"horizon_url" json:"horizon_url"`
	DefaultTimeoutMinutes int    `yaml:"default_timeout_minutes" json:"default_timeout_minutes"`
	SweepIntervalSeconds  int    `yaml:"sweep_interval_seconds" json:"sweep_interval_seconds"`
	SubscribeRetrySeconds int    `yaml:"subscribe_retry_seconds" json:"subscribe_retry_seconds"`
	EventBuffer           int    `yaml:"event_buffer" json:"event_buffer"`
	LogFormat             string `yaml:"log_format" json:"log_format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database:              "paywatch.db",
		DefaultTimeoutMinutes: 30,
		SweepIntervalSeconds:  120,
		SubscribeRetrySeconds: 5,
		EventBuffer:           1024,
		LogFormat:             "text",
	}
}

// SweepInterval returns the sweep period.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// SubscribeRetry returns the delay between Subscribe attempts.
func (c Config) SubscribeRetry() time.Duration {
	return time.Duration(c.SubscribeRetrySeconds) * time.Second
}

// Load reads path over the defaults and validates the result. An
// empty path returns the validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := decode(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := decode(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ValidationError is a schema violation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks c against the embedded CUE schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSrc, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	value := ctx.Encode(c)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	return nil
}

// formatCUEError turns the first CUE error into a ValidationError
// naming the field.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	field := strings.TrimPrefix(strings.Join(first.Path(), "."), "#Config.")
	if field == "" {
		return &ValidationError{Message: first.Error()}
	}
	format, args := first.Msg()
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
