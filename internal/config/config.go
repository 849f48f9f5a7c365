// Package config manages the Aide configuration file and home directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds all supervisor configuration.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Model    ModelConfig    `toml:"model"`
	Features FeaturesConfig `toml:"features"`
	Update   UpdateConfig   `toml:"update"`
	Router   RouterConfig   `toml:"router"`
	Logging  LoggingConfig  `toml:"logging"`
	API      APIConfig      `toml:"api"`
}

// EngineConfig controls the inference engine build and discovery.
type EngineConfig struct {
	// SourceRepo is the git URL of the engine source tree.
	SourceRepo string `toml:"source_repo"`
	// SourceDir is where the engine source is cloned.
	SourceDir string `toml:"source_dir"`
	// Candidates are executable names tried in preference order.
	Candidates []string `toml:"candidates"`
	// SmokeFlag is the cheap invocation flag used to validate a binary.
	SmokeFlag string `toml:"smoke_flag"`
}

// ModelConfig selects the model artifact.
type ModelConfig struct {
	Name string `toml:"name"`
	Dir  string `toml:"dir"`
	// URL overrides the catalog download location (used by tests and
	// private registries).
	URL string `toml:"url"`
}

// FeaturesConfig controls the optional plugin feed.
type FeaturesConfig struct {
	// BaseURL is the feed root; feature scripts live at <base>/feature<N>.
	BaseURL string `toml:"base_url"`
	Dir     string `toml:"dir"`
	// TimeoutSec bounds a single feature script execution.
	TimeoutSec int `toml:"timeout_sec"`
}

// UpdateConfig controls installer self-update.
type UpdateConfig struct {
	// FeedURL is the remote installer binary location.
	FeedURL string `toml:"feed_url"`
	// VersionURL serves the remote version token.
	VersionURL string `toml:"version_url"`
	// Disabled skips the startup version check entirely.
	Disabled bool `toml:"disabled"`
}

// RouterConfig controls per-prompt request routing.
type RouterConfig struct {
	// Delegate is the script-generation collaborator executable.
	// It receives the full prompt as a single argument.
	Delegate string `toml:"delegate"`
	// MaxTokens passed to the engine per invocation. 0 = engine default.
	MaxTokens int `toml:"max_tokens"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// APIConfig controls the local status server.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	home := Home()
	return Config{
		Engine: EngineConfig{
			SourceRepo: "https://github.com/ggml-org/llama.cpp",
			SourceDir:  filepath.Join(home, "engine-src"),
			Candidates: []string{"llama-cli", "llama", "main"},
			SmokeFlag:  "--help",
		},
		Model: ModelConfig{
			Name: "tinyllama",
			Dir:  filepath.Join(home, "models"),
		},
		Features: FeaturesConfig{
			BaseURL:    "https://get.aide.sh/features",
			Dir:        filepath.Join(home, "features"),
			TimeoutSec: 120,
		},
		Update: UpdateConfig{
			FeedURL:    "https://get.aide.sh/ai",
			VersionURL: "https://get.aide.sh/version",
		},
		Router: RouterConfig{
			Delegate:  "scriptgen",
			MaxTokens: 1024,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(home, "aide.log"),
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 7437,
		},
	}
}

// LoadConfig reads config from $AIDE_HOME/config.toml, falling back to
// defaults when the file does not exist.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(Home(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config to $AIDE_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(Home(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// Home returns the Aide data directory.
func Home() string {
	if env := os.Getenv("AIDE_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".aide")
}

// BinDir returns the directory holding the engine binary and installed
// wrapper.
func BinDir() string {
	return filepath.Join(Home(), "bin")
}

// BackupDir returns the directory where installer backups and archived
// state snapshots are kept.
func BackupDir() string {
	return filepath.Join(Home(), "backups")
}
