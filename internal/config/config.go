// Package config loads application settings from an optional YAML file,
// REPETITION_* environment variables, and command-line flags, in that
// order of increasing precedence.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// envPrefix namespaces the environment variables read by Load, e.g.
// REPETITION_DATA_DIR maps to the data-dir key.
const envPrefix = "REPETITION_"

// Config holds all application settings.
type Config struct {
	// DataDir is the collection directory: the card database, attachment
	// files, and backup history all live under it.
	DataDir string `koanf:"data-dir" validate:"required"`
	// Listen is the address the web interface binds to.
	Listen string `koanf:"listen" validate:"required,hostname_port"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `koanf:"log-level" validate:"omitempty,oneof=debug info warn error"`
}

// Flags returns the command-line flag set understood by Load.
func Flags() *pflag.FlagSet {
	f := pflag.NewFlagSet("repetition", pflag.ContinueOnError)
	f.String("config", "", "Path to an optional YAML config file")
	f.String("data-dir", "data", "Directory holding the card database and attachments")
	f.String("listen", "127.0.0.1:8080", "Address for the web interface")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	return f
}

// Load assembles the configuration from the config file named by the
// --config flag (if any), the environment, and the parsed flags, then
// validates the result.
func Load(flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path, _ := flags.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(key string) string {
		key = strings.TrimPrefix(key, envPrefix)
		return strings.ReplaceAll(strings.ToLower(key), "_", "-")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}
