// Package config loads TermHive's runtime configuration from defaults,
// an optional YAML file, and environment variables (in that order of
// increasing precedence).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// TERMHIVE_DATA_DIR maps to the "data_dir" key.
const EnvPrefix = "TERMHIVE_"

// MemoryDBPathEnv overrides the indexed memory store path. Kept for
// compatibility with existing deployments.
const MemoryDBPathEnv = "ITERM_MCP_MEMORY_DB_PATH"

// Config holds the orchestrator's runtime configuration.
type Config struct {
	DataDir string `koanf:"data_dir"`

	LogLevel string `koanf:"log_level"`

	// Store backends: "flat" (JSON files) or "sqlite" (embedded, indexed).
	MemoryBackend     string `koanf:"memory_backend"`
	CheckpointBackend string `koanf:"checkpoint_backend"`

	// Policy knobs. Zero means "use the default".
	FocusCooldownSeconds   int  `koanf:"focus_cooldown_seconds"`
	ExpectTimeoutSeconds   int  `koanf:"expect_timeout_seconds"`
	ExpectPollMillis       int  `koanf:"expect_poll_millis"`
	RouterDedupHistory     int  `koanf:"router_dedup_history"`
	MessageHistory         int  `koanf:"message_history"`
	AutoCheckpoint         bool `koanf:"auto_checkpoint"`
	AutoCheckpointInterval int  `koanf:"auto_checkpoint_interval"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"data_dir":                 defaultDataDir(),
		"log_level":                "info",
		"memory_backend":           "sqlite",
		"checkpoint_backend":       "sqlite",
		"focus_cooldown_seconds":   5,
		"expect_timeout_seconds":   30,
		"expect_poll_millis":       100,
		"router_dedup_history":     1024,
		"message_history":          1000,
		"auto_checkpoint":          false,
		"auto_checkpoint_interval": 10,
	}
}

// Load builds a Config from defaults, the optional YAML file at
// configPath (missing file is not an error when the path is empty),
// and TERMHIVE_* environment variables.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	err := k.Load(env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, interface{}) {
		return strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), value
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}

// Validate checks the configuration values and ensures the data
// directory exists.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	switch c.MemoryBackend {
	case "flat", "sqlite":
	default:
		return fmt.Errorf("memory_backend must be \"flat\" or \"sqlite\", got %q", c.MemoryBackend)
	}
	switch c.CheckpointBackend {
	case "flat", "sqlite":
	default:
		return fmt.Errorf("checkpoint_backend must be \"flat\" or \"sqlite\", got %q", c.CheckpointBackend)
	}

	if err := os.MkdirAll(c.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".iterm-mcp"
	}
	return filepath.Join(home, ".iterm-mcp")
}

// AgentsJournalPath returns the path to the agents journal.
func (c *Config) AgentsJournalPath() string {
	return filepath.Join(c.DataDir, "agents.jsonl")
}

// TeamsJournalPath returns the path to the teams journal.
func (c *Config) TeamsJournalPath() string {
	return filepath.Join(c.DataDir, "teams.jsonl")
}

// MessagesJournalPath returns the path to the message-history journal.
func (c *Config) MessagesJournalPath() string {
	return filepath.Join(c.DataDir, "messages.jsonl")
}

// MemoryDBPath returns the path to the indexed memory store, honoring
// the ITERM_MCP_MEMORY_DB_PATH override.
func (c *Config) MemoryDBPath() string {
	if p := os.Getenv(MemoryDBPathEnv); p != "" {
		return p
	}
	return filepath.Join(c.DataDir, "memories.db")
}

// MemoryFilePath returns the path to the flat memory store.
func (c *Config) MemoryFilePath() string {
	return filepath.Join(c.DataDir, "memories.json")
}

// CheckpointDBPath returns the path to the indexed checkpoint store.
func (c *Config) CheckpointDBPath() string {
	return filepath.Join(c.DataDir, "checkpoints.db")
}

// CheckpointDirPath returns the directory used by the flat checkpoint store.
func (c *Config) CheckpointDirPath() string {
	return filepath.Join(c.DataDir, "checkpoints")
}

// PersistentSessionsPath returns the path to the persistent session map.
func (c *Config) PersistentSessionsPath() string {
	return filepath.Join(c.DataDir, "persistent_sessions.json")
}
