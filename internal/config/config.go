package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment override, e.g. TSLIVE_SETTLE_DELAY.
const EnvPrefix = "TSLIVE_"

// Config holds all configurable tslive settings.
type Config struct {
	SettleDelay      Duration `json:"settle_delay,omitempty"      env:"SETTLE_DELAY"`
	KillTimeout      Duration `json:"kill_timeout,omitempty"      env:"KILL_TIMEOUT"`
	CoalesceRestarts *bool    `json:"coalesce_restarts,omitempty" env:"COALESCE_RESTARTS"`
	NodePath         string   `json:"node_path,omitempty"         env:"NODE"`        // node executable
	InstallDir       string   `json:"install_dir,omitempty"       env:"INSTALL_DIR"` // holds node_modules/tsx
	WorkspaceFolders []string `json:"workspace_folders,omitempty" env:"WORKSPACE_FOLDERS" envSeparator:","`
	IgnorePatterns   []string `json:"ignore_patterns,omitempty"   env:"IGNORE_PATTERNS"   envSeparator:","`
}

// Duration is a time.Duration written as "100ms" in JSON and env values.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Coalesce reports whether rapid file changes collapse into a single restart.
func (c Config) Coalesce() bool {
	return c.CoalesceRestarts == nil || *c.CoalesceRestarts
}

// Defaults returns sensible default configuration values.
func Defaults() Config {
	coalesce := true
	return Config{
		SettleDelay:      Duration(100 * time.Millisecond),
		KillTimeout:      Duration(3 * time.Second),
		CoalesceRestarts: &coalesce,
		NodePath:         "node",
		WorkspaceFolders: []string{},
		IgnorePatterns:   []string{},
	}
}

// LoadGlobal reads ~/.config/tslive/config.json.
// Returns defaults if the file is absent.
func LoadGlobal() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(home, ".config", "tslive", "config.json")
	return loadFile(path, true)
}

// LoadProject reads .tsliveconfig in the current working directory.
// Returns nil (no error) if the file is absent.
func LoadProject() (*Config, error) {
	return loadFile(".tsliveconfig", false)
}

// LoadEnv reads TSLIVE_* overrides. Unset variables leave fields empty.
func LoadEnv() (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// loadFile reads and parses a JSON config file at path.
// If returnDefaults is true, returns defaults when the file is absent.
// If returnDefaults is false, returns nil when the file is absent.
func loadFile(path string, returnDefaults bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if returnDefaults {
				d := Defaults()
				return &d, nil
			}
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &cfg, nil
}

// Merge layers configs over the defaults; later layers take precedence.
// Nil layers and empty fields are skipped.
func Merge(layers ...*Config) Config {
	result := Defaults()

	for _, l := range layers {
		if l == nil {
			continue
		}
		if l.SettleDelay > 0 {
			result.SettleDelay = l.SettleDelay
		}
		if l.KillTimeout > 0 {
			result.KillTimeout = l.KillTimeout
		}
		if l.CoalesceRestarts != nil {
			v := *l.CoalesceRestarts
			result.CoalesceRestarts = &v
		}
		if l.NodePath != "" {
			result.NodePath = l.NodePath
		}
		if l.InstallDir != "" {
			result.InstallDir = l.InstallDir
		}
		if len(l.WorkspaceFolders) > 0 {
			result.WorkspaceFolders = l.WorkspaceFolders
		}
		if len(l.IgnorePatterns) > 0 {
			result.IgnorePatterns = l.IgnorePatterns
		}
	}

	return result
}

// Load reads the global file, the project file and the environment, and
// merges them in that order.
func Load() (Config, error) {
	global, err := LoadGlobal()
	if err != nil {
		return Config{}, fmt.Errorf("loading global config: %w", err)
	}
	project, err := LoadProject()
	if err != nil {
		return Config{}, fmt.Errorf("loading project config: %w", err)
	}
	fromEnv, err := LoadEnv()
	if err != nil {
		return Config{}, err
	}
	return Merge(global, project, fromEnv), nil
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
