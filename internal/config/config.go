// Package config handles Jarvis configuration loading.
//
// Three sources feed the application: config.yaml (operator settings,
// discovered via [DefaultSearchPaths]), settings.yaml (user settings
// edited from the settings panel, see [Settings]) and a snapshot of the
// process environment taken once at startup (see [Environment]).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nugget/jarvis-core/internal/paths"
)

// Model source kinds accepted in model.source.
const (
	SourceHuggingFace = "huggingface"
	SourceGitHub      = "github"
	SourceWebDAV      = "webdav"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/jarvis/config.yaml, /etc/jarvis/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "jarvis", "config.yaml"))
	}

	paths = append(paths, "/etc/jarvis/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Jarvis configuration.
type Config struct {
	Listen       ListenConfig  `yaml:"listen"`
	Model        ModelConfig   `yaml:"model"`
	Storage      StorageConfig `yaml:"storage"`
	Skills       SkillsConfig  `yaml:"skills"`
	MQTT         MQTTConfig    `yaml:"mqtt"`
	DataDir      string        `yaml:"data_dir"`
	SettingsFile string        `yaml:"settings_file"`
	LogLevel     string        `yaml:"log_level"`
	LogFormat    string        `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the local status server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: 127.0.0.1)
	Port    int    `yaml:"port"`
}

// ModelConfig describes where model weights live locally and where they
// are acquired from when missing.
type ModelConfig struct {
	// Dir is the fallback model directory used when MODEL_DIR is not
	// set. Relative values are taken relative to the installation root.
	Dir string `yaml:"dir"`

	// Source selects the fetch primitive: huggingface, github or webdav.
	Source string `yaml:"source"`

	// Repository identifies the remote collection. For huggingface and
	// github this is "owner/name"; for webdav it is a directory path on
	// the server.
	Repository string `yaml:"repository"`

	// Revision is a git revision (huggingface) or release tag (github).
	// Empty means "main" and "latest" respectively.
	Revision string `yaml:"revision"`

	// Endpoint overrides the service base URL (Hugging Face mirror,
	// GitHub Enterprise API, or the WebDAV server URL).
	Endpoint string `yaml:"endpoint"`

	Token    string `yaml:"token"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// DownloadTimeoutSec bounds a single acquisition. Zero means no
	// timeout; transfers of multi-gigabyte weights routinely take longer
	// than any sensible default.
	DownloadTimeoutSec int `yaml:"download_timeout_sec"`

	// Digests pins the expected content digest per variant key, for
	// example Q4_K_M: "sha256:...". Unpinned variants are not verified.
	Digests map[string]string `yaml:"digests"`
}

// StorageConfig holds connection details for remote history targets.
// Which target is active is a user setting (storage_mode), not an
// operator one.
type StorageConfig struct {
	WebDAV WebDAVConfig `yaml:"webdav"`
}

// WebDAVConfig defines a WebDAV server used as a history sync target.
type WebDAVConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Dir      string `yaml:"dir"`
}

// SkillsConfig controls the skills the assistant may invoke.
type SkillsConfig struct {
	// Workspace is the sandbox root for file skills. Defaults to
	// ~/jarvis_files.
	Workspace string `yaml:"workspace"`
	// AppPathsFile points at the per-OS application table used by
	// open_app. Empty uses the bundled defaults.
	AppPathsFile string `yaml:"app_paths_file"`
	// Disabled lists skill names that are not registered.
	Disabled []string `yaml:"disabled"`
}

// MQTTConfig defines the optional MQTT broker that receives a copy of
// every operational event.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // mqtt://host:1883 or mqtts://host:8883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
}

// Configured reports whether a broker has been set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := baseConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := baseConfig()
	cfg.applyDefaults()
	return cfg
}

// baseConfig holds the defaults that do not depend on other fields.
// Derived defaults (settings file under data_dir, ...) are filled in by
// applyDefaults after the YAML has been decoded.
func baseConfig() *Config {
	return &Config{
		Listen: ListenConfig{Address: "127.0.0.1", Port: 8765},
		Model: ModelConfig{
			Dir:        "models",
			Source:     SourceHuggingFace,
			Repository: "QuantFactory/Meta-Llama-3-8B-Instruct-GGUF",
		},
	}
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.DataDir = filepath.Join(home, ".jarvis-core")
		} else {
			c.DataDir = ".jarvis-core"
		}
	}
	c.DataDir = paths.ExpandHome(c.DataDir)
	if c.SettingsFile == "" {
		c.SettingsFile = filepath.Join(c.DataDir, "settings.yaml")
	}
	c.SettingsFile = paths.ExpandHome(c.SettingsFile)
	if c.Model.Source == "" {
		c.Model.Source = SourceHuggingFace
	}
	if c.Skills.Workspace == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Skills.Workspace = filepath.Join(home, "jarvis_files")
		}
	}
	c.Skills.Workspace = paths.ExpandHome(c.Skills.Workspace)
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "jarvis"
	}
}

// Validate checks enumerated fields.
func (c *Config) Validate() error {
	switch c.Model.Source {
	case SourceHuggingFace, SourceGitHub, SourceWebDAV:
	default:
		return fmt.Errorf("model.source %q is not one of %s, %s, %s",
			c.Model.Source, SourceHuggingFace, SourceGitHub, SourceWebDAV)
	}
	if c.Model.Source == SourceWebDAV && c.Model.Endpoint == "" {
		return fmt.Errorf("model.endpoint is required when model.source is %s", SourceWebDAV)
	}
	if c.Model.DownloadTimeoutSec < 0 {
		return fmt.Errorf("model.download_timeout_sec must not be negative")
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format %q is not text or json", c.LogFormat)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// InstallRoot returns the directory the running binary is installed
// under: the parent of the directory holding the executable, so that
// /opt/jarvis/bin/jarvis yields /opt/jarvis. Falls back to the working
// directory when the executable path cannot be determined.
func InstallRoot() string {
	exe, err := os.Executable()
	if err != nil {
		wd, _ := os.Getwd()
		return wd
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(filepath.Dir(exe))
}

// ModelDir returns the configured fallback model directory as an
// absolute path, resolving relative values against root.
func (c *Config) ModelDir(root string) string {
	dir := c.Model.Dir
	if dir == "" {
		dir = "models"
	}
	dir = paths.ExpandHome(dir)
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Join(root, dir)
}
