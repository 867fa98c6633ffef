package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	kerrors "wasmkernel/internal/errors"
)

// EnvPrivateKey is the environment variable that may carry a hex-encoded
// private key when [identity].allow_env_key is set.
const EnvPrivateKey = "KERNEL_PRIVATE_KEY"

// EnvLogLevel overrides the configured log level without editing the file.
const EnvLogLevel = "KERNEL_LOG_LEVEL"

// Config is the kernel's single top-level TOML document.
type Config struct {
	DataDir   string                  `toml:"data_dir"`
	PluginDir string                  `toml:"plugin_dir"`
	LogLevel  string                  `toml:"log_level"`
	LogFormat string                  `toml:"log_format"`
	Listen    string                  `toml:"listen"`
	Identity  IdentityConfig          `toml:"identity"`
	Plugins   map[string]PluginConfig `toml:"plugins"`
}

// IdentityConfig controls how the kernel acquires its private key.
type IdentityConfig struct {
	UseKeyring         bool   `toml:"use_keyring"`
	KeyringTimeoutSecs int    `toml:"keyring_timeout_secs"`
	PrivateKeyFile     string `toml:"private_key_file"`
	AllowEnvKey        bool   `toml:"allow_env_key"`
}

// PluginConfig is the per-plugin configuration blob passed to initialize().
type PluginConfig struct {
	Enabled bool           `toml:"enabled"`
	Config  map[string]any `toml:"config"`
}

// Load parses the TOML document at path and applies defaults for anything
// left unset.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, kerrors.New(CodeInvalid, "config path is empty")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, kerrors.Wrap(CodeNotFound, err, fmt.Sprintf("read config file %s", path))
	}

	var cfg Config
	if err := toml.Unmarshal(content, &cfg); err != nil {
		return nil, kerrors.Wrap(CodeMalformed, err, "parse config")
	}

	cfg.applyDefaults(filepath.Dir(path))
	return &cfg, nil
}

func (c *Config) applyDefaults(baseDir string) {
	if c.DataDir == "" {
		c.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.DataDir) {
		c.DataDir = filepath.Join(baseDir, c.DataDir)
	}

	if c.PluginDir == "" {
		c.PluginDir = filepath.Join(baseDir, "plugins")
	} else if !filepath.IsAbs(c.PluginDir) {
		c.PluginDir = filepath.Join(baseDir, c.PluginDir)
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.LogLevel = level
	}

	if c.LogFormat == "" {
		c.LogFormat = "json"
	}

	if c.Listen == "" {
		c.Listen = "127.0.0.1:8420"
	}

	if c.Identity.KeyringTimeoutSecs <= 0 {
		c.Identity.KeyringTimeoutSecs = 30
	}
	if c.Identity.PrivateKeyFile != "" && !filepath.IsAbs(c.Identity.PrivateKeyFile) {
		c.Identity.PrivateKeyFile = filepath.Join(baseDir, c.Identity.PrivateKeyFile)
	}
}

// DatabasePath returns the path to the embedded SQL database file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "kernel.db")
}

// IdentityFilePath returns the configured private_key_file, or the default
// on-disk identity path under DataDir when none is configured.
func (c *Config) IdentityFilePath() string {
	if c.Identity.PrivateKeyFile != "" {
		return c.Identity.PrivateKeyFile
	}
	return filepath.Join(c.DataDir, "identity.key")
}

// PluginConfigFor returns the configured blob for pluginID, or an empty,
// enabled default if the plugin has no explicit entry.
func (c *Config) PluginConfigFor(pluginID string) PluginConfig {
	if cfg, ok := c.Plugins[pluginID]; ok {
		return cfg
	}
	return PluginConfig{Enabled: true}
}

// Validate reports a ConfigError-class problem with the loaded document, if
// any.
func (c *Config) Validate() error {
	if c.Identity.UseKeyring && c.Identity.PrivateKeyFile != "" {
		// Both are harmless to set; identity acquisition reads the key
		// file only when use_keyring is false, so with the keyring enabled
		// private_key_file is ignored and this is not a conflict worth
		// rejecting.
		return nil
	}
	return nil
}
