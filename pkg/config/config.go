// Package config loads pvscan settings from a YAML file, PVSCAN_ environment
// variables and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	pv "github.com/goliatone/go-pvscan"
	"github.com/goliatone/go-pvscan/internal/hydrate"
)

// LoggingConfig configures the charmbracelet logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StateConfig selects where snapshots are persisted.
type StateConfig struct {
	// Backend is file, badger or memory.
	Backend string `mapstructure:"backend"`
	// Path is the file store root or badger directory.
	Path string `mapstructure:"path"`
	// Format is yaml or json, for the file backend.
	Format string `mapstructure:"format"`
	// Name is the configuration name used when a command does not give one.
	Name string `mapstructure:"name"`
	// Autosave is the watch-mode save interval; zero disables it.
	Autosave time.Duration `mapstructure:"autosave"`
}

// Config is the resolved pvscan configuration.
type Config struct {
	Namespace string            `mapstructure:"namespace"`
	Macros    map[string]string `mapstructure:"macros"`
	// Schemas lists extra schema documents declared after the built-in ones.
	Schemas []string `mapstructure:"schemas"`
	// Overlay is an optional site overlay file.
	Overlay string `mapstructure:"overlay"`
	// Requests lists .req files that replace the document manifest groups.
	Requests  []string      `mapstructure:"requests"`
	Evaluator string        `mapstructure:"evaluator"`
	Actor     string        `mapstructure:"actor"`
	Logging   LoggingConfig `mapstructure:"logging"`
	State     StateConfig   `mapstructure:"state"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// New returns a viper instance with pvscan defaults and environment binding.
// Callers bind command flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(ConfigDir())
	v.AddConfigPath(".")

	v.SetEnvPrefix("PVSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("namespace", DefaultNamespace)
	v.SetDefault("macros", DefaultMacros())
	v.SetDefault("schemas", []string{})
	v.SetDefault("overlay", "")
	v.SetDefault("requests", []string{})
	v.SetDefault("evaluator", DefaultEvaluator)
	v.SetDefault("actor", "")
	v.SetDefault("logging.level", DefaultLogLevel)
	v.SetDefault("logging.format", DefaultLogFormat)
	v.SetDefault("state.backend", DefaultBackend)
	v.SetDefault("state.path", "")
	v.SetDefault("state.format", DefaultFormat)
	v.SetDefault("state.name", DefaultName)
	v.SetDefault("state.autosave", DefaultAutosave)
	return v
}

// Load reads the config file (an explicit path, or config.yaml from the
// search path when file is empty), then resolves and validates the result.
// A missing file on the search path is not an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	if v == nil {
		v = New()
	}
	if file != "" {
		v.SetConfigFile(file)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolve() error {
	// Viper folds keys to lower case; macro names are upper case by
	// convention.
	macros := make(map[string]string, len(c.Macros))
	for name, value := range c.Macros {
		macros[strings.ToUpper(name)] = value
	}
	c.Macros = macros

	namespace, err := hydrate.ExpandString(c.Namespace, c.Macros)
	if err != nil {
		return fmt.Errorf("config: namespace: %w", err)
	}
	c.Namespace = namespace

	c.Evaluator = strings.ToLower(strings.TrimSpace(c.Evaluator))
	switch c.Evaluator {
	case "expr", "cel":
	case "js":
		if !pv.JSEvaluatorAvailable() {
			return fmt.Errorf("config: evaluator js requires a build with the js_eval tag")
		}
	default:
		return fmt.Errorf("config: unknown evaluator %q", c.Evaluator)
	}

	c.State.Backend = strings.ToLower(strings.TrimSpace(c.State.Backend))
	switch c.State.Backend {
	case "file", "badger", "memory":
	default:
		return fmt.Errorf("config: unknown state backend %q", c.State.Backend)
	}
	c.State.Format = strings.ToLower(strings.TrimSpace(c.State.Format))
	if c.State.Format != "yaml" && c.State.Format != "json" {
		return fmt.Errorf("config: unknown state format %q", c.State.Format)
	}
	if c.State.Path == "" {
		c.State.Path = DefaultStatePath(c.State.Backend)
	}
	c.State.Path = expandHome(c.State.Path)
	if c.State.Autosave < 0 {
		return fmt.Errorf("config: autosave interval must not be negative")
	}
	if strings.TrimSpace(c.State.Name) == "" {
		c.State.Name = DefaultName
	}

	base := ""
	if c.File != "" {
		base = filepath.Dir(c.File)
	}
	for i, path := range c.Schemas {
		c.Schemas[i] = relativeTo(base, path)
	}
	for i, path := range c.Requests {
		c.Requests[i] = relativeTo(base, path)
	}
	if c.Overlay != "" {
		c.Overlay = relativeTo(base, c.Overlay)
	}
	return nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// relativeTo resolves paths listed in a config file against its directory.
func relativeTo(base, path string) string {
	path = expandHome(path)
	if base == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
