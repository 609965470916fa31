// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads manipulative's configuration from defaults, an
// optional YAML file and MANIPULATIVE_* environment variables, in that
// order of precedence (lowest first).
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/manipulative/services/manipulative/instrument"
	"github.com/AleutianAI/manipulative/services/manipulative/patch"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MANIPULATIVE"

// DefaultPort is the port the overlay expects the server on.
const DefaultPort = 3001

// ErrInvalidConfig wraps validation failures.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete configuration.
type Config struct {
	Server     ServerConfig       `mapstructure:"server" yaml:"server"`
	Instrument instrument.Options `mapstructure:"instrument" yaml:"instrument"`
	Patch      PatchConfig        `mapstructure:"patch" yaml:"patch"`
	Logging    LoggingConfig      `mapstructure:"logging" yaml:"logging"`
	Telemetry  TelemetryConfig    `mapstructure:"telemetry" yaml:"telemetry"`
}

// ServerConfig configures the commit endpoint.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`

	// CommitTimeout bounds how long a request waits for its batch. Writes
	// already under way finish after the request has timed out.
	CommitTimeout time.Duration `mapstructure:"commit_timeout" yaml:"commit_timeout" validate:"gt=0"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`

	// AllowedOrigins are the CORS origins of the running application.
	// "*" allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`

	// CommitRate is the sustained number of commits per second; zero
	// disables rate limiting.
	CommitRate  float64 `mapstructure:"commit_rate" yaml:"commit_rate" validate:"gte=0"`
	CommitBurst int     `mapstructure:"commit_burst" yaml:"commit_burst" validate:"gte=1"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// PatchConfig configures the patch engine.
type PatchConfig struct {
	AllowedRoots   []string      `mapstructure:"allowed_roots" yaml:"allowed_roots" validate:"dive,abspath"`
	MaxConcurrency int           `mapstructure:"max_concurrency" yaml:"max_concurrency" validate:"min=1,max=256"`
	StyleModule    string        `mapstructure:"style_module" yaml:"style_module" validate:"required"`
	StyleHelper    string        `mapstructure:"style_helper" yaml:"style_helper" validate:"required"`
	Formatter      string        `mapstructure:"formatter" yaml:"formatter"`
	FormatTimeout  time.Duration `mapstructure:"format_timeout" yaml:"format_timeout" validate:"gt=0"`
}

// EngineOptions converts the section to patch options sharing the hook
// definition of the instrumenter.
func (c *Config) EngineOptions() patch.Options {
	return patch.Options{
		AllowedRoots:   c.Patch.AllowedRoots,
		MaxConcurrency: c.Patch.MaxConcurrency,
		Attribute:      c.Instrument.Attribute,
		Hook:           c.Instrument.HookTarget(),
		StyleModule:    c.Patch.StyleModule,
		StyleHelper:    c.Patch.StyleHelper,
	}
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `mapstructure:"dir" yaml:"dir"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
}

// TelemetryConfig configures tracing and metrics export.
type TelemetryConfig struct {
	// Exporter is one of none, stdout, otlp.
	Exporter string `mapstructure:"exporter" yaml:"exporter" validate:"oneof=none stdout otlp"`

	// Endpoint is the OTLP gRPC endpoint, used when Exporter is otlp.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint" validate:"required_if=Exporter otlp"`

	Insecure    bool   `mapstructure:"insecure" yaml:"insecure"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name" validate:"required"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            DefaultPort,
			CommitTimeout:   30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"http://localhost:3000"},
			CommitRate:      5,
			CommitBurst:     10,
		},
		Instrument: instrument.DefaultOptions(),
		Patch: PatchConfig{
			AllowedRoots:   []string{},
			MaxConcurrency: 8,
			StyleModule:    "@emotion/react",
			StyleHelper:    "css",
			Formatter:      "none",
			FormatTimeout:  10 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "~/.manipulative/logs",
		},
		Telemetry: TelemetryConfig{
			Exporter:    "none",
			Insecure:    true,
			ServiceName: "manipulative",
		},
	}
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("abspath", func(fl validator.FieldLevel) bool {
		return filepath.IsAbs(fl.Field().String())
	})
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// SearchPaths returns the files tried, in order, when no explicit config
// file is given.
func SearchPaths() []string {
	paths := []string{"manipulative.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".manipulative", "config.yaml"))
	}
	return paths
}

// Load builds the configuration. An explicit path must exist; otherwise
// the first existing SearchPaths entry is used, if any.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// MANIPULATIVE_PORT is the short form the overlay tooling documents.
	if err := v.BindEnv("server.port", EnvPrefix+"_PORT", EnvPrefix+"_SERVER_PORT"); err != nil {
		return nil, fmt.Errorf("binding port env: %w", err)
	}

	if path == "" {
		for _, candidate := range SearchPaths() {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key of def so environment variables can
// override keys that appear in no file.
func setDefaults(v *viper.Viper, def *Config) {
	s := def.Server
	v.SetDefault("server.host", s.Host)
	v.SetDefault("server.port", s.Port)
	v.SetDefault("server.commit_timeout", s.CommitTimeout)
	v.SetDefault("server.shutdown_timeout", s.ShutdownTimeout)
	v.SetDefault("server.allowed_origins", s.AllowedOrigins)
	v.SetDefault("server.commit_rate", s.CommitRate)
	v.SetDefault("server.commit_burst", s.CommitBurst)

	in := def.Instrument
	v.SetDefault("instrument.attribute", in.Attribute)
	v.SetDefault("instrument.target_attribute", in.TargetAttribute)
	v.SetDefault("instrument.hook_module", in.HookModule)
	v.SetDefault("instrument.macro_modules", in.MacroModules)
	v.SetDefault("instrument.extra_hook_modules", []string{})
	v.SetDefault("instrument.hook_name", in.HookName)
	v.SetDefault("instrument.injected_local", in.InjectedLocal)

	p := def.Patch
	v.SetDefault("patch.allowed_roots", p.AllowedRoots)
	v.SetDefault("patch.max_concurrency", p.MaxConcurrency)
	v.SetDefault("patch.style_module", p.StyleModule)
	v.SetDefault("patch.style_helper", p.StyleHelper)
	v.SetDefault("patch.formatter", p.Formatter)
	v.SetDefault("patch.format_timeout", p.FormatTimeout)

	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.dir", def.Logging.Dir)
	v.SetDefault("logging.json", def.Logging.JSON)

	v.SetDefault("telemetry.exporter", def.Telemetry.Exporter)
	v.SetDefault("telemetry.endpoint", def.Telemetry.Endpoint)
	v.SetDefault("telemetry.insecure", def.Telemetry.Insecure)
	v.SetDefault("telemetry.service_name", def.Telemetry.ServiceName)
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}

// WriteDefault writes the default configuration to path. An existing file
// is kept unless force is set.
func WriteDefault(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file %s already exists", path)
	}
	data, err := Marshal(Default())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
