package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/benaskins/keyring/internal/keychain"
	"github.com/benaskins/keyring/internal/searchlist"
)

// ScopeAuto picks the System scope for root and User otherwise.
const ScopeAuto = "auto"

// Config holds persistent configuration loaded from ~/.keyring/config.yaml,
// with environment overrides applied on top.
type Config struct {
	KeychainDir                 string `yaml:"keychain_dir"`
	SystemKeychainDir           string `yaml:"system_keychain_dir"`
	PreferencesDir              string `yaml:"preferences_dir"`
	Scope                       string `yaml:"scope"`
	InteractionAllowed          *bool  `yaml:"interaction_allowed"`
	LogIdentityPreferenceLookup bool   `yaml:"log_identity_preference_lookup"`
	AuditLog                    bool   `yaml:"audit_log"`
	LogLevel                    string `yaml:"log_level"`

	// DynamicList is only ever injected by the environment.
	DynamicList []string `yaml:"-"`
}

// Env is the set of environment overrides.
type Env struct {
	Home          string   `env:"KEYRING_HOME"`
	Scope         string   `env:"KEYRING_SCOPE"`
	DynamicList   []string `env:"KEYRING_DYNAMIC_LIST" envSeparator:":"`
	NoInteraction bool     `env:"KEYRING_NO_INTERACTION"`
}

// DefaultPath returns the default config file path: ~/.keyring/config.yaml.
// KEYRING_HOME replaces ~/.keyring.
func DefaultPath() string {
	if home := os.Getenv("KEYRING_HOME"); home != "" {
		return filepath.Join(home, "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".keyring", "config.yaml")
}

// Load reads a YAML config file from path. If the file does not exist,
// it returns an empty Config and no error. An empty or all-comment file
// also returns an empty Config with no error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadEnv reads the file at path and applies environment overrides.
func LoadEnv(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	var e Env
	if err := env.Parse(&e); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.apply(e)
	return cfg, nil
}

func (c *Config) apply(e Env) {
	if e.Home != "" {
		if c.KeychainDir == "" {
			c.KeychainDir = filepath.Join(e.Home, "keychains")
		}
		if c.PreferencesDir == "" {
			c.PreferencesDir = filepath.Join(e.Home, "preferences")
		}
	}
	if e.Scope != "" {
		c.Scope = e.Scope
	}
	c.DynamicList = trimEntries(e.DynamicList)
	if e.NoInteraction {
		no := false
		c.InteractionAllowed = &no
	}
}

func trimEntries(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Home returns the keyring base directory.
func Home() string {
	return filepath.Dir(DefaultPath())
}

// KeychainDirs resolves the per-scope keychain directories. Unset values
// default under the keyring home.
func (c *Config) KeychainDirs() map[searchlist.Scope]string {
	user := c.KeychainDir
	if user == "" {
		user = filepath.Join(Home(), "keychains")
	}
	system := c.SystemKeychainDir
	if system == "" {
		system = filepath.Join(Home(), "system")
	}
	return map[searchlist.Scope]string{
		searchlist.User:   keychain.ExpandTilde(user),
		searchlist.System: keychain.ExpandTilde(system),
	}
}

// PreferencesPath resolves the preferences directory.
func (c *Config) PreferencesPath() string {
	if c.PreferencesDir == "" {
		return filepath.Join(Home(), "preferences")
	}
	return keychain.ExpandTilde(c.PreferencesDir)
}

// CurrentScope resolves the configured scope. Nil means auto.
func (c *Config) CurrentScope() (*searchlist.Scope, error) {
	if c.Scope == "" || c.Scope == ScopeAuto {
		return nil, nil
	}
	s, err := searchlist.ParseScope(c.Scope)
	if err != nil {
		return nil, err
	}
	if s != searchlist.User && s != searchlist.System {
		return nil, fmt.Errorf("%w: scope %q cannot be current", keychain.ErrInvalidArgument, c.Scope)
	}
	return &s, nil
}

// Interactive reports whether UI may be shown. The default is true.
func (c *Config) Interactive() bool {
	return c.InteractionAllowed == nil || *c.InteractionAllowed
}

// DynamicIDs returns the environment-injected Dynamic list. Entries are
// keychain paths.
func (c *Config) DynamicIDs() []keychain.ID {
	ids := make([]keychain.ID, 0, len(c.DynamicList))
	for _, p := range c.DynamicList {
		ids = append(ids, keychain.PathID(p))
	}
	return ids
}

// Level maps LogLevel to a slog level name understood by the CLI.
func (c *Config) Level() string {
	if c.LogLevel == "" {
		return "info"
	}
	return strings.ToLower(c.LogLevel)
}
