package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/brettbedarf/colstore/internal/util"
	"gopkg.in/yaml.v3"
)

// Bytes per KB
const KB = 1024

// CLI verbosity values accepted by [ConfigOverride.LogLvl]
const (
	ErrorVerbose = iota + 1
	WarnVerbose
	InfoVerbose
	DebugVerbose
	TraceVerbose
)

// Default configuration constants. See [Config] for field descriptions.
const (
	DefaultLogLvl = util.InfoLevel

	// DefaultChunkSize is the size of each streamed chunk in bytes
	DefaultChunkSize = 64 * KB

	// DefaultStreamRateLimit disables per-stream throughput limiting
	DefaultStreamRateLimit = 0

	// DefaultConsumerBuffer is the number of chunks buffered per consumer stream
	DefaultConsumerBuffer = 16

	DefaultInfoFileName    = "info.json"
	DefaultOrderFileName   = "order.json"
	DefaultBodyFileName    = "request-body.txt"
	DefaultSecretsFileName = ".secrets.bin"
	DefaultDraftDirName    = ".draft"
	DefaultLockFileName    = ".lock"

	DefaultDirPerms  = 0o755
	DefaultFilePerms = 0o644

	// DefaultHTTPTimeout is the HTTP engine client timeout in seconds
	DefaultHTTPTimeout = 30.0
)

// Config contains runtime configuration values for the collection store and
// the streaming transport.
type Config struct {
	LogLvl          util.LogLevel
	ChunkSize       int // Size of each streamed chunk in bytes (Default 64KB)
	StreamRateLimit int // Max bytes per second per stream; 0 disables (Default 0)
	ConsumerBuffer  int // Chunks buffered per stream on the consumer side (Default 16)

	// NOTE: On-disk layout. Changing these makes existing collections unreadable.

	InfoFileName    string // Per node metadata sidecar (Default info.json)
	OrderFileName   string // Per parent child ordering (Default order.json)
	BodyFileName    string // Text body of a request (Default request-body.txt)
	SecretsFileName string // Encrypted secret values at the collection root (Default .secrets.bin)
	DraftDirName    string // Reserved uncommitted edits dir (Default .draft)
	LockFileName    string // Single writer lock at the collection root (Default .lock)
	DirPerms        uint32 // Default 0755
	FilePerms       uint32 // Default 0644

	HTTPTimeout float64 // HTTP engine client timeout in seconds (Default 30)
}

// ConfigOverride uses pointer fields to distinguish between unset and zero values
// when loading partial configuration. See [Config] for field descriptions.
type ConfigOverride struct {
	// LogLvl is a CLI style verbosity between 1 (error) and 5 (trace)
	LogLvl          *int     `yaml:"log_lvl,omitempty" json:"log_lvl,omitempty"`
	ChunkSize       *int     `yaml:"chunk_size,omitempty" json:"chunk_size,omitempty"`
	StreamRateLimit *int     `yaml:"stream_rate_limit,omitempty" json:"stream_rate_limit,omitempty"`
	ConsumerBuffer  *int     `yaml:"consumer_buffer,omitempty" json:"consumer_buffer,omitempty"`
	InfoFileName    *string  `yaml:"info_file_name,omitempty" json:"info_file_name,omitempty"`
	OrderFileName   *string  `yaml:"order_file_name,omitempty" json:"order_file_name,omitempty"`
	BodyFileName    *string  `yaml:"body_file_name,omitempty" json:"body_file_name,omitempty"`
	SecretsFileName *string  `yaml:"secrets_file_name,omitempty" json:"secrets_file_name,omitempty"`
	DraftDirName    *string  `yaml:"draft_dir_name,omitempty" json:"draft_dir_name,omitempty"`
	LockFileName    *string  `yaml:"lock_file_name,omitempty" json:"lock_file_name,omitempty"`
	DirPerms        *uint32  `yaml:"dir_perms,omitempty" json:"dir_perms,omitempty"`
	FilePerms       *uint32  `yaml:"file_perms,omitempty" json:"file_perms,omitempty"`
	HTTPTimeout     *float64 `yaml:"http_timeout,omitempty" json:"http_timeout,omitempty"`
}

// NewDefaultConfig creates a new Config with all default values.
func NewDefaultConfig() *Config {
	return &Config{
		LogLvl:          DefaultLogLvl,
		ChunkSize:       DefaultChunkSize,
		StreamRateLimit: DefaultStreamRateLimit,
		ConsumerBuffer:  DefaultConsumerBuffer,
		InfoFileName:    DefaultInfoFileName,
		OrderFileName:   DefaultOrderFileName,
		BodyFileName:    DefaultBodyFileName,
		SecretsFileName: DefaultSecretsFileName,
		DraftDirName:    DefaultDraftDirName,
		LockFileName:    DefaultLockFileName,
		DirPerms:        DefaultDirPerms,
		FilePerms:       DefaultFilePerms,
		HTTPTimeout:     DefaultHTTPTimeout,
	}
}

// NewConfig returns the defaults with override applied; override may be nil
func NewConfig(override *ConfigOverride) *Config {
	cfg := NewDefaultConfig()
	if override != nil {
		cfg.Merge(override)
	}
	return cfg
}

// VerbosityToLogLevel clamps v to 1..5 and maps it to a [util.LogLevel]
func VerbosityToLogLevel(v int) util.LogLevel {
	v = max(ErrorVerbose, min(v, TraceVerbose))
	lvls := [5]util.LogLevel{util.ErrorLevel, util.WarnLevel, util.InfoLevel, util.DebugLevel, util.TraceLevel}
	return lvls[v-1]
}

// Merge applies non-nil values from override onto this Config.
// This allows partial configuration updates while preserving existing values.
func (c *Config) Merge(override *ConfigOverride) {
	if override.LogLvl != nil {
		c.LogLvl = VerbosityToLogLevel(*override.LogLvl)
	}
	if override.ChunkSize != nil {
		c.ChunkSize = *override.ChunkSize
	}
	if override.StreamRateLimit != nil {
		c.StreamRateLimit = *override.StreamRateLimit
	}
	if override.ConsumerBuffer != nil {
		c.ConsumerBuffer = *override.ConsumerBuffer
	}
	if override.InfoFileName != nil {
		c.InfoFileName = *override.InfoFileName
	}
	if override.OrderFileName != nil {
		c.OrderFileName = *override.OrderFileName
	}
	if override.BodyFileName != nil {
		c.BodyFileName = *override.BodyFileName
	}
	if override.SecretsFileName != nil {
		c.SecretsFileName = *override.SecretsFileName
	}
	if override.DraftDirName != nil {
		c.DraftDirName = *override.DraftDirName
	}
	if override.LockFileName != nil {
		c.LockFileName = *override.LockFileName
	}
	if override.DirPerms != nil {
		c.DirPerms = *override.DirPerms
	}
	if override.FilePerms != nil {
		c.FilePerms = *override.FilePerms
	}
	if override.HTTPTimeout != nil {
		c.HTTPTimeout = *override.HTTPTimeout
	}
}

// LoadConfigOverrideFile loads configuration overrides from a file without merging.
// Supports both YAML (.yaml, .yml) and JSON (.json) formats.
func LoadConfigOverrideFile(path string) (*ConfigOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var override ConfigOverride

	// Determine format by file extension
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config file extension: %s", path)
	}

	return &override, nil
}

// NewConfigFromFile creates a new Config by merging file overrides with defaults.
// This is a convenience function that combines NewDefaultConfig, LoadConfigOverrideFile, and Merge.
func NewConfigFromFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	override, err := LoadConfigOverrideFile(path)
	if err != nil {
		return nil, err
	}
	cfg.Merge(override)
	return cfg, nil
}
